package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwl-mcp/cwl-mcp/pkg/infrastructure/core/runner"
	"github.com/cwl-mcp/cwl-mcp/pkg/infrastructure/persistence/runs"
	"github.com/cwl-mcp/cwl-mcp/pkg/service/executor"
	"github.com/cwl-mcp/cwl-mcp/pkg/service/registry"
)

const echoCWL = `
class: CommandLineTool
id: echo
label: Print a message
baseCommand: echo
inputs:
  message:
    type: string
    inputBinding: {position: 1}
outputs:
  out: stdout
`

func newTestServer(t *testing.T, readOuts bool) *Server {
	t.Helper()
	reg := registry.New(nil)
	path := filepath.Join(t.TempDir(), "echo.cwl")
	require.NoError(t, os.WriteFile(path, []byte(echoCWL), 0o644))
	_, err := reg.AddTool(path, registry.WithReadOuts(readOuts))
	require.NoError(t, err)

	store, err := runs.NewBoltStore(filepath.Join(t.TempDir(), "runs.db"), 0, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	exec, err := executor.New(reg, runner.NewDefaultCommandRunner(nil), store,
		executor.Config{WorkspaceDir: t.TempDir(), BaseDir: t.TempDir()}, nil)
	require.NoError(t, err)

	return New(reg, exec, store, Options{Name: "test", Version: "1.2.3"}, nil)
}

// rpc sends one JSON-RPC message through the MCP server and decodes the result.
func rpc(t *testing.T, s *Server, id int, method string, params any) map[string]any {
	t.Helper()
	mcpServer, err := s.MCPServer()
	require.NoError(t, err)

	msg := map[string]any{"jsonrpc": "2.0", "id": id, "method": method}
	if params != nil {
		msg["params"] = params
	}
	raw, err := json.Marshal(msg)
	require.NoError(t, err)

	resp := mcpServer.HandleMessage(context.Background(), raw)
	require.NotNil(t, resp)
	out, err := json.Marshal(resp)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))
	require.Nil(t, decoded["error"], "rpc error: %s", out)
	result, ok := decoded["result"].(map[string]any)
	require.True(t, ok, "no result in %s", out)
	return result
}

func callTool(t *testing.T, s *Server, name string, args map[string]any) (text string, isError bool) {
	t.Helper()
	result := rpc(t, s, 2, "tools/call", map[string]any{"name": name, "arguments": args})
	content, ok := result["content"].([]any)
	require.True(t, ok)
	require.NotEmpty(t, content)
	text, _ = content[0].(map[string]any)["text"].(string)
	isError, _ = result["isError"].(bool)
	return text, isError
}

func TestToolsListAdvertisesRegistry(t *testing.T) {
	s := newTestServer(t, false)

	result := rpc(t, s, 1, "tools/list", nil)
	tools, ok := result["tools"].([]any)
	require.True(t, ok)

	byName := map[string]map[string]any{}
	for _, tool := range tools {
		m := tool.(map[string]any)
		byName[m["name"].(string)] = m
	}
	require.Contains(t, byName, "echo")
	assert.Contains(t, byName, statusToolName)
	assert.Contains(t, byName, listRunsToolName)

	echo := byName["echo"]
	assert.Equal(t, "Print a message", echo["description"])
	schema := echo["inputSchema"].(map[string]any)
	assert.Equal(t, []any{"message"}, schema["required"])
	assert.Contains(t, schema["properties"], "message")
}

func TestToolCallSucceeds(t *testing.T) {
	s := newTestServer(t, true)

	text, isError := callTool(t, s, "echo", map[string]any{"message": "hello"})
	require.False(t, isError, text)

	var res executor.InvocationResult
	require.NoError(t, json.Unmarshal([]byte(text), &res))
	assert.Equal(t, "succeeded", string(res.Status))
	assert.Equal(t, "hello\n", res.Outputs["out"])
}

func TestToolCallValidationError(t *testing.T) {
	s := newTestServer(t, false)

	text, isError := callTool(t, s, "echo", map[string]any{"msg": "typo"})
	require.True(t, isError)

	var payload struct {
		Error struct {
			Code   string `json:"code"`
			Fields struct {
				Violations []string `json:"violations"`
			} `json:"fields"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(text), &payload))
	assert.Equal(t, "VALIDATION_FAILED", payload.Error.Code)
	assert.Len(t, payload.Error.Fields.Violations, 2, "unknown and missing inputs are both reported")

	// The server keeps answering after a failed call.
	text, isError = callTool(t, s, "echo", map[string]any{"message": "again"})
	assert.False(t, isError, text)
}

func TestStatusAndListRuns(t *testing.T) {
	s := newTestServer(t, false)

	_, isError := callTool(t, s, "echo", map[string]any{"message": "one"})
	require.False(t, isError)

	text, isError := callTool(t, s, statusToolName, nil)
	require.False(t, isError)
	var status Status
	require.NoError(t, json.Unmarshal([]byte(text), &status))
	assert.Equal(t, "running", status.Status)
	assert.Equal(t, "1.2.3", status.Version)
	assert.Equal(t, []string{"echo"}, status.Tools)

	text, isError = callTool(t, s, listRunsToolName, map[string]any{"tool": "echo", "limit": 5})
	require.False(t, isError)
	var listed struct {
		Runs []struct {
			Tool   string `json:"tool"`
			Status string `json:"status"`
		} `json:"runs"`
	}
	require.NoError(t, json.Unmarshal([]byte(text), &listed))
	require.Len(t, listed.Runs, 1)
	assert.Equal(t, "echo", listed.Runs[0].Tool)
	assert.Equal(t, "succeeded", listed.Runs[0].Status)
}

func TestErrorResultWrapsPlainErrors(t *testing.T) {
	res := errorResult(fmt.Errorf("boom"), nil)
	require.True(t, res.IsError)
	require.Len(t, res.Content, 1)
}

func TestServeHTTPShutsDownOnCancel(t *testing.T) {
	s := newTestServer(t, false)
	mcpServer, err := s.MCPServer()
	require.NoError(t, err)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.serveListener(ctx, listener, s.httpHandler(mcpServer))
	}()

	url := fmt.Sprintf("http://%s/healthz", listener.Addr().String())
	var body []byte
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		body, _ = io.ReadAll(resp.Body)
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond)
	assert.JSONEq(t, `{"status":"ok","tools":1}`, string(body))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServeRejectsUnknownTransport(t *testing.T) {
	s := newTestServer(t, false)
	s.opts.Transport = "carrier-pigeon"
	err := s.Serve(context.Background(), "127.0.0.1", 0)
	assert.Error(t, err)
}
