package runs

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwl-mcp/cwl-mcp/pkg/domain/errors"
	"github.com/cwl-mcp/cwl-mcp/pkg/domain/run"
)

func newStore(t *testing.T, max int) *BoltStore {
	t.Helper()
	s, err := NewBoltStore(filepath.Join(t.TempDir(), "nested", "runs.db"), max, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func record(id, tool string, status run.Status) run.Record {
	return run.Record{
		ID:        id,
		Tool:      tool,
		Status:    status,
		StartedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Outputs:   map[string]any{"out": "/jobs/" + id + "/out.txt"},
	}
}

func TestPutGet(t *testing.T) {
	s := newStore(t, 0)
	ctx := context.Background()

	want := record("run-1", "pdftk_cat", run.StatusSucceeded)
	require.NoError(t, s.Put(ctx, want))

	got, err := s.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, want.Tool, got.Tool)
	assert.Equal(t, want.Outputs, got.Outputs)
	assert.True(t, want.StartedAt.Equal(got.StartedAt))

	_, err = s.Get(ctx, "missing")
	assert.Equal(t, errors.CodeNotFound, errors.CodeOf(err))

	assert.Error(t, s.Put(ctx, run.Record{}))
}

func TestListNewestFirstWithFilter(t *testing.T) {
	s := newStore(t, 0)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, record("a", "sort", run.StatusSucceeded)))
	require.NoError(t, s.Put(ctx, record("b", "cat", run.StatusFailed)))
	require.NoError(t, s.Put(ctx, record("c", "sort", run.StatusFailed)))

	all, err := s.List(ctx, run.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"c", "b", "a"}, []string{all[0].ID, all[1].ID, all[2].ID})

	sorts, err := s.List(ctx, run.Filter{Tool: "sort"})
	require.NoError(t, err)
	assert.Len(t, sorts, 2)

	failed, err := s.List(ctx, run.Filter{Status: run.StatusFailed, Limit: 1})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "c", failed[0].ID)
}

func TestPutPrunesOldest(t *testing.T) {
	s := newStore(t, 3)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Put(ctx, record(fmt.Sprintf("run-%d", i), "echo", run.StatusSucceeded)))
	}

	all, err := s.List(ctx, run.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "run-4", all[0].ID)
	assert.Equal(t, "run-2", all[2].ID)
}

func TestUUIDv7KeysKeepStartOrder(t *testing.T) {
	s := newStore(t, 0)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := uuid.NewV7()
		require.NoError(t, err)
		ids = append(ids, id.String())
		require.NoError(t, s.Put(ctx, record(id.String(), "echo", run.StatusSucceeded)))
		time.Sleep(2 * time.Millisecond)
	}

	all, err := s.List(ctx, run.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, ids[2], all[0].ID)
	assert.Equal(t, ids[0], all[2].ID)
}

func TestStoreLocked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	first, err := NewBoltStore(path, 0, nil)
	require.NoError(t, err)
	defer first.Close()

	_, err = NewBoltStore(path, 0, nil)
	require.Error(t, err)
	assert.Equal(t, errors.CodeIoError, errors.CodeOf(err))
}
