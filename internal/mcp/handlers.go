package mcp

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hpungsan/lichen/internal/errors"
	"github.com/hpungsan/lichen/internal/ops"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	rt *ops.Runtime
	db *sql.DB
}

// NewHandlers creates a new Handlers instance. db may be nil, which disables
// extension_history.
func NewHandlers(rt *ops.Runtime, db *sql.DB) *Handlers {
	return &Handlers{rt: rt, db: db}
}

// HandleTool returns the handler for the registry tool name. The record is
// resolved per call, so a reset that drops the tool makes the handler fail
// with NOT_FOUND until the subscription removes it.
func (h *Handlers) HandleTool(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		input, err := decode[ToolInput](req)
		if err != nil {
			return errorResult(errors.NewInvalidRequest(err.Error())), nil
		}

		out, err := h.rt.Invoke(ctx, name, input.Input)
		if err != nil {
			return errorResult(err), nil
		}
		return mcp.NewToolResultText(out), nil
	}
}

// HandleReset handles the reset_capabilities tool call.
func (h *Handlers) HandleReset(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if _, err := decode[ResetRequest](req); err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	return successResult(h.rt.Reset(ctx))
}

// HandleHistory handles the extension_history tool call.
func (h *Handlers) HandleHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[HistoryRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if h.db == nil {
		return errorResult(errors.NewInvalidRequest("extension ledger is not available")), nil
	}

	result, err := ops.History(ctx, h.db, ops.HistoryInput{
		Name:   input.Name,
		Status: input.Status,
		Limit:  input.Limit,
		Offset: input.Offset,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Internal error details are not exposed.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	var lErr *errors.LichenError
	if stderrors.As(err, &lErr) {
		msg := lErr.Message
		if err != error(lErr) {
			msg = err.Error()
		}
		errorObj := map[string]any{
			"code":    lErr.Code,
			"message": msg,
			"status":  lErr.Status,
		}
		if lErr.Code == errors.ErrInternal {
			errorObj["message"] = "an internal error occurred"
		} else if lErr.Details != nil {
			errorObj["details"] = lErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    errors.ErrInternal,
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
