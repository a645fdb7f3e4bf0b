package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/pkg/errors"

	domainerrors "github.com/cwl-mcp/cwl-mcp/pkg/domain/errors"
	"github.com/cwl-mcp/cwl-mcp/pkg/domain/run"
	"github.com/cwl-mcp/cwl-mcp/pkg/service/executor"
	"github.com/cwl-mcp/cwl-mcp/pkg/service/registry"
)

const (
	statusToolName   = "server_status"
	listRunsToolName = "list_runs"

	defaultRunLimit = 20
)

// registerTools adds one MCP tool per registry entry plus the diagnostic tools.
func (s *Server) registerTools(mcpServer *server.MCPServer) error {
	for _, tool := range s.registry.List() {
		if err := s.registerTool(mcpServer, tool); err != nil {
			return errors.Wrapf(err, "failed to register tool %s", tool.Name)
		}
	}
	s.registerDiagnosticTools(mcpServer)
	s.logger.Info("All tools registered", "count", s.registry.Len())
	return nil
}

func (s *Server) registerTool(mcpServer *server.MCPServer, tool *registry.Tool) error {
	schema := tool.Descriptor.InputSchemaJSON()
	if !json.Valid(schema) {
		return errors.Errorf("input schema of %s is not valid JSON", tool.Name)
	}
	mcpTool := mcp.NewToolWithRawSchema(tool.Name, tool.Descriptor.Description(), schema)
	mcpServer.AddTool(mcpTool, s.invokeHandler(tool.Name))

	s.logger.Debug("Registered MCP tool", slog.String("name", tool.Name))
	return nil
}

// invokeHandler answers a tool call. Failures are returned as error results so that
// a bad request never interrupts the serving loop.
func (s *Server) invokeHandler(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		result, err := s.executor.Invoke(ctx, executor.InvocationRequest{
			Tool:      name,
			Arguments: req.GetArguments(),
		})
		if err != nil {
			return errorResult(err, result), nil
		}
		return jsonResult(result), nil
	}
}

func (s *Server) registerDiagnosticTools(mcpServer *server.MCPServer) {
	if _, err := s.registry.Get(statusToolName); err == nil {
		s.logger.Warn("Diagnostic tool name taken by a registered tool", "name", statusToolName)
	} else {
		statusTool := mcp.Tool{
			Name:        statusToolName,
			Description: "Get server status and the names of the registered tools",
			InputSchema: mcp.ToolInputSchema{
				Type:       "object",
				Properties: map[string]interface{}{},
			},
		}
		mcpServer.AddTool(statusTool, s.handleStatus)
	}

	if _, err := s.registry.Get(listRunsToolName); err == nil {
		s.logger.Warn("Diagnostic tool name taken by a registered tool", "name", listRunsToolName)
	} else {
		runsTool := mcp.Tool{
			Name:        listRunsToolName,
			Description: "List recent tool invocations, newest first",
			InputSchema: mcp.ToolInputSchema{
				Type: "object",
				Properties: map[string]interface{}{
					"tool": map[string]interface{}{
						"type":        "string",
						"description": "Only list runs of this tool",
					},
					"status": map[string]interface{}{
						"type":        "string",
						"enum":        []string{string(run.StatusSucceeded), string(run.StatusFailed)},
						"description": "Only list runs with this status",
					},
					"limit": map[string]interface{}{
						"type":        "integer",
						"description": fmt.Sprintf("Maximum number of runs to return (default %d)", defaultRunLimit),
					},
				},
			},
		}
		mcpServer.AddTool(runsTool, s.handleListRuns)
	}
}

// Status is the payload of the server_status tool.
type Status struct {
	Status  string   `json:"status"`
	Name    string   `json:"name"`
	Version string   `json:"version"`
	Uptime  string   `json:"uptime"`
	Tools   []string `json:"tools"`
}

func (s *Server) handleStatus(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(Status{
		Status:  "running",
		Name:    s.opts.Name,
		Version: s.opts.Version,
		Uptime:  s.Uptime().Round(time.Second).String(),
		Tools:   s.registry.Names(),
	}), nil
}

func (s *Server) handleListRuns(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	filter := run.Filter{Limit: defaultRunLimit}
	if tool, ok := args["tool"].(string); ok {
		filter.Tool = tool
	}
	if status, ok := args["status"].(string); ok {
		filter.Status = run.Status(status)
	}
	if limit, ok := args["limit"].(float64); ok && limit > 0 {
		filter.Limit = int(limit)
	}

	records := []run.Record{}
	if s.store != nil {
		found, err := s.store.List(ctx, filter)
		if err != nil {
			return errorResult(err, nil), nil
		}
		if found != nil {
			records = found
		}
	}
	return jsonResult(map[string]any{"runs": records}), nil
}

func jsonResult(v any) *mcp.CallToolResult {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf(`{"code":%q,"message":%q}`, domainerrors.CodeInternalError, err.Error()))
	}
	return mcp.NewToolResultText(string(data))
}

// errorResult renders err as an isError result. Coded errors keep their code and
// fields; a partial invocation result is attached when the command had started.
func errorResult(err error, result *executor.InvocationResult) *mcp.CallToolResult {
	var coded *domainerrors.Error
	if !domainerrors.As(err, &coded) {
		coded = domainerrors.New(domainerrors.CodeInternalError, "server", err.Error(), nil)
	}

	payload := struct {
		Error  json.RawMessage            `json:"error"`
		Result *executor.InvocationResult `json:"result,omitempty"`
	}{
		Error:  json.RawMessage(coded.JSON()),
		Result: result,
	}
	data, marshalErr := json.Marshal(payload)
	if marshalErr != nil {
		return mcp.NewToolResultError(coded.JSON())
	}
	return mcp.NewToolResultError(string(data))
}
