// Package runs provides the BoltDB-backed run history store.
package runs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"github.com/cwl-mcp/cwl-mcp/pkg/domain/errors"
	"github.com/cwl-mcp/cwl-mcp/pkg/domain/run"
)

const (
	runsBucket = "runs"

	// DefaultMaxRecords bounds the history when no limit is configured.
	DefaultMaxRecords = 1000
)

// BoltStore implements run.Store using BoltDB. Records are keyed by their
// time-ordered (UUIDv7) id, so cursor order is start order.
type BoltStore struct {
	db         *bbolt.DB
	maxRecords int
	logger     *slog.Logger
}

// NewBoltStore opens (or creates) the run history at dbPath.
func NewBoltStore(dbPath string, maxRecords int, logger *slog.Logger) (*BoltStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if maxRecords <= 0 {
		maxRecords = DefaultMaxRecords
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.New(errors.CodeIoError, "persistence", fmt.Sprintf("failed to create directory %s", dir), err)
	}

	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		if strings.Contains(err.Error(), "timeout") {
			return nil, errors.New(errors.CodeIoError, "persistence",
				fmt.Sprintf("run store '%s' is already in use by another server. "+
					"Use CWL_MCP_STORE_PATH to choose a different file", dbPath), err)
		}
		return nil, errors.New(errors.CodeIoError, "persistence", "failed to open bolt db", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(runsBucket))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.New(errors.CodeIoError, "persistence", "failed to create runs bucket", err)
	}

	return &BoltStore{
		db:         db,
		maxRecords: maxRecords,
		logger:     logger.With("component", "run_store"),
	}, nil
}

// Close closes the BoltDB connection.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Put stores a record and drops the oldest records beyond the configured limit.
func (s *BoltStore) Put(_ context.Context, r run.Record) error {
	if r.ID == "" {
		return errors.New(errors.CodeInternalError, "persistence", "run record without id", nil)
	}
	data, err := json.Marshal(r)
	if err != nil {
		return errors.New(errors.CodeInternalError, "persistence", "failed to marshal run record", err)
	}

	var pruned int
	err = s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(runsBucket))
		if err := bucket.Put([]byte(r.ID), data); err != nil {
			return errors.New(errors.CodeIoError, "persistence", "failed to store run record", err)
		}

		c := bucket.Cursor()
		count := 0
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			count++
		}
		excess := count - s.maxRecords
		if excess <= 0 {
			return nil
		}
		var stale [][]byte
		for k, _ := c.First(); k != nil && len(stale) < excess; k, _ = c.Next() {
			stale = append(stale, append([]byte{}, k...))
		}
		for _, k := range stale {
			if err := bucket.Delete(k); err != nil {
				return err
			}
			pruned++
		}
		return nil
	})
	if err != nil {
		return err
	}
	if pruned > 0 {
		s.logger.Debug("Pruned run history", "removed", pruned)
	}
	return nil
}

// Get retrieves a record by id.
func (s *BoltStore) Get(_ context.Context, id string) (run.Record, error) {
	var r run.Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(runsBucket)).Get([]byte(id))
		if data == nil {
			return errors.New(errors.CodeNotFound, "persistence", fmt.Sprintf("run %s not found", id), nil)
		}
		return json.Unmarshal(data, &r)
	})
	if err != nil {
		return run.Record{}, err
	}
	return r, nil
}

// List returns matching records, newest first.
func (s *BoltStore) List(ctx context.Context, f run.Filter) ([]run.Record, error) {
	var records []run.Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(runsBucket)).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var r run.Record
			if err := json.Unmarshal(v, &r); err != nil {
				continue
			}
			if !f.Matches(r) {
				continue
			}
			records = append(records, r)
			if f.Limit > 0 && len(records) >= f.Limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}
