package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwl-mcp/cwl-mcp/pkg/domain/run"
	"github.com/cwl-mcp/cwl-mcp/pkg/infrastructure/persistence/runs"
)

const echoCWL = `
class: CommandLineTool
id: echo
baseCommand: echo
inputs:
  message:
    type: string
    inputBinding: {position: 1}
outputs:
  out: stdout
`

func writeCWL(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestGetVersion(t *testing.T) {
	assert.Contains(t, getVersion(), "dev")

	Version, GitCommit, BuildTime = "1.0.0", "abc123", "2024-01-01T00:00:00Z"
	t.Cleanup(func() { Version, GitCommit, BuildTime = "dev", "unknown", "unknown" })

	assert.Equal(t, "v1.0.0 (commit: abc123, built: 2024-01-01T00:00:00Z)", getVersion())

	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "v1.0.0")
}

func TestParseToolFlag(t *testing.T) {
	tests := []struct {
		arg      string
		wantPath string
		wantName string
	}{
		{"tools/echo.cwl", "tools/echo.cwl", ""},
		{"tools/echo.cwl=say", "tools/echo.cwl", "say"},
		{"dir=x/echo.cwl", "dir=x/echo.cwl", ""},
		{"echo.cwl=", "echo.cwl=", ""},
	}
	for _, tt := range tests {
		t.Run(tt.arg, func(t *testing.T) {
			entry := parseToolFlag(tt.arg)
			assert.Equal(t, tt.wantPath, entry.Path)
			assert.Equal(t, tt.wantName, entry.Name)
		})
	}
}

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()
	good := writeCWL(t, dir, "echo.cwl", echoCWL)

	out, err := execute(t, "validate", "--schema", good)
	require.NoError(t, err)
	assert.Contains(t, out, "echo")
	assert.Contains(t, out, "message:string*")
	assert.Contains(t, out, `"required"`)

	bad := writeCWL(t, dir, "bad.cwl", "class: Workflow\nsteps: []\n")
	out, err = execute(t, "validate", good, bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2")
	assert.Contains(t, out, "bad.cwl")

	// The same descriptor twice resolves to a duplicate name.
	_, err = execute(t, "validate", good, good)
	assert.Error(t, err)
}

func TestListCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	store, err := runs.NewBoltStore(path, 0, nil)
	require.NoError(t, err)
	require.NoError(t, store.Put(context.Background(), run.Record{
		ID:        "0190b6a0-0000-7000-8000-000000000001",
		Tool:      "echo",
		Status:    run.StatusFailed,
		ExitCode:  2,
		ErrorCode: "TOOL_EXECUTION_FAILED",
		StartedAt: time.Now(),
	}))
	require.NoError(t, store.Close())

	out, err := execute(t, "list", "--store-path", path)
	require.NoError(t, err)
	assert.Contains(t, out, "echo")
	assert.Contains(t, out, "TOOL_EXECUTION_FAILED")

	out, err = execute(t, "list", "--store-path", path, "--status", "succeeded", "--json")
	require.NoError(t, err)
	assert.JSONEq(t, "[]", out)

	_, err = execute(t, "list", "--store-path", filepath.Join(t.TempDir(), "missing.db"))
	assert.Error(t, err)
}

func TestServeRequiresTools(t *testing.T) {
	t.Setenv("CWL_MCP_WORKSPACE_DIR", t.TempDir())
	_, err := execute(t, "serve", "--config", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no tools to serve")
}

func TestServeFlagOverrides(t *testing.T) {
	t.Setenv("CWL_MCP_PORT", "9001")

	cmd := newServeCmd()
	flags := &serveFlags{}
	require.NoError(t, cmd.ParseFlags([]string{"--port", "9100", "--timeout", "30s", "--transport", "stdio"}))
	flags.port, _ = cmd.Flags().GetInt("port")
	flags.timeout, _ = cmd.Flags().GetString("timeout")
	flags.transport, _ = cmd.Flags().GetString("transport")
	flags.tools = []string{"echo.cwl"}

	cfg, manifest, err := loadServeConfig(cmd, flags)
	require.NoError(t, err)
	assert.Nil(t, manifest)
	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.ToolTimeout)
	assert.Equal(t, "stdio", cfg.Transport)

	require.NoError(t, cmd.ParseFlags([]string{"--timeout", "soon"}))
	flags.timeout = "soon"
	_, _, err = loadServeConfig(cmd, flags)
	assert.Error(t, err)
}

func TestRunServeStopsOnCancel(t *testing.T) {
	dir := t.TempDir()
	tool := writeCWL(t, dir, "echo.cwl", echoCWL)
	manifestPath := writeCWL(t, dir, "tools.yaml", "tools:\n  - path: echo.cwl\n    name: say\n")

	t.Setenv("CWL_MCP_WORKSPACE_DIR", filepath.Join(dir, "work"))
	t.Setenv("CWL_MCP_STORE_PATH", filepath.Join(dir, "runs.db"))
	t.Setenv("CWL_MCP_HOST", "127.0.0.1")
	t.Setenv("CWL_MCP_PORT", "0")

	cmd := newServeCmd()
	flags := &serveFlags{manifest: manifestPath, tools: []string{tool}}
	cfg, manifest, err := loadServeConfig(cmd, flags)
	require.NoError(t, err)
	require.NotNil(t, manifest)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, runServe(ctx, cfg, manifest, flags))
	assert.DirExists(t, cfg.WorkspaceDir)
	assert.FileExists(t, cfg.StorePath)
}
