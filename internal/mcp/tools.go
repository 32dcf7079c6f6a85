// tools.go registers and implements the memd MCP tools.
//
// Design: tools mirror the HTTP surface one to one so an assistant and a
// human client observe the same semantics. Results are pretty-printed
// JSON; LLMs parse formatted output more reliably than compact JSON.

package mcp

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/jpl-au/memd/internal/filters"
	"github.com/jpl-au/memd/internal/search"
	"github.com/jpl-au/memd/internal/tags"
)

// registerTools exposes memory operations as MCP tools.
func registerTools(s *server.MCPServer, h *handlers) {
	s.AddTool(
		mcp.NewTool("memd_import_text",
			mcp.WithDescription("Store a piece of text in long-term memory. Ingestion is asynchronous; poll memd_status until ready before asking about it."),
			mcp.WithString("text", mcp.Required(), mcp.Description("Text to remember")),
			mcp.WithString("index", mcp.Description("Memory index (namespace); default index when empty")),
			mcp.WithString("document_id", mcp.Description("Stable id for later updates or deletion; derived when empty")),
			mcp.WithObject("tags", mcp.Description("Tags as {key: [values]}; used for filtered recall and deletion")),
		),
		h.importText,
	)

	s.AddTool(
		mcp.NewTool("memd_ask",
			mcp.WithDescription("Ask a question answered only from stored memories, with citations"),
			mcp.WithString("question", mcp.Required(), mcp.Description("Question to answer")),
			mcp.WithString("index", mcp.Description("Memory index to consult")),
			mcp.WithObject("filter", mcp.Description("Require tags as {key: [values]}; all pairs must match")),
		),
		h.ask,
	)

	s.AddTool(
		mcp.NewTool("memd_search",
			mcp.WithDescription("Similarity search over stored memories, returning matching chunks grouped by document"),
			mcp.WithString("query", mcp.Required(), mcp.Description("Search query")),
			mcp.WithString("index", mcp.Description("Memory index to search")),
			mcp.WithObject("filter", mcp.Description("Require tags as {key: [values]}")),
			mcp.WithNumber("limit", mcp.Description("Maximum matches to return")),
		),
		h.search,
	)

	s.AddTool(
		mcp.NewTool("memd_status",
			mcp.WithDescription("Check ingestion progress of a stored document"),
			mcp.WithString("document_id", mcp.Required(), mcp.Description("Document id returned by memd_import_text")),
			mcp.WithString("index", mcp.Description("Memory index")),
		),
		h.status,
	)

	s.AddTool(
		mcp.NewTool("memd_delete",
			mcp.WithDescription("Forget a document: remove its records and files"),
			mcp.WithString("document_id", mcp.Required(), mcp.Description("Document id to delete")),
			mcp.WithString("index", mcp.Description("Memory index")),
		),
		h.deleteDocument,
	)
}

// importText handles memd_import_text tool calls.
func (h *handlers) importText(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError("text is required"), nil //nolint:nilerr
	}

	tc := tags.New()
	for k, vs := range getTagMap(req, "tags") {
		tc.Add(k, vs...)
	}

	idx, doc, err := h.mem.ImportText(ctx,
		getString(req, "index", ""),
		getString(req, "document_id", ""),
		text, tc)

	h.log.Info("mcp import", zap.String("index", idx), zap.String("document", doc), zap.Error(err))

	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]string{
		"index":       idx,
		"document_id": doc,
		"message":     "queued for ingestion; poll memd_status",
	})
}

// ask handles memd_ask tool calls.
func (h *handlers) ask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question, err := req.RequireString("question")
	if err != nil {
		return mcp.NewToolResultError("question is required"), nil //nolint:nilerr
	}

	ans, err := h.mem.Ask(ctx, getString(req, "index", ""), question, search.Options{
		Filters: filterArg(req),
	})

	h.log.Info("mcp ask", zap.String("question", question), zap.Error(err))

	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(ans)
}

// search handles memd_search tool calls.
func (h *handlers) search(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError("query is required"), nil //nolint:nilerr
	}

	res, err := h.mem.Search(ctx, getString(req, "index", ""), query, search.Options{
		Filters: filterArg(req),
		Limit:   getInt(req, "limit", 0),
	})

	h.log.Info("mcp search", zap.String("query", query), zap.Error(err))

	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(res)
}

// status handles memd_status tool calls.
func (h *handlers) status(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	doc, err := req.RequireString("document_id")
	if err != nil {
		return mcp.NewToolResultError("document_id is required"), nil //nolint:nilerr
	}

	st, err := h.mem.Status(ctx, getString(req, "index", ""), doc)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{
		"document_id":     st.DocumentID,
		"index":           st.Index,
		"completed":       st.Complete(),
		"failed":          st.Failed(),
		"completed_steps": st.CompletedSteps,
		"remaining_steps": st.RemainingSteps,
		"terminal_error":  st.TerminalError,
	})
}

// deleteDocument handles memd_delete tool calls.
func (h *handlers) deleteDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	doc, err := req.RequireString("document_id")
	if err != nil {
		return mcp.NewToolResultError("document_id is required"), nil //nolint:nilerr
	}

	err = h.mem.DeleteDocument(ctx, getString(req, "index", ""), doc)

	h.log.Info("mcp delete", zap.String("document", doc), zap.Error(err))

	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("deletion dispatched"), nil
}

// filterArg converts the "filter" object argument to one conjunction.
func filterArg(req mcp.CallToolRequest) []*filters.Filter {
	m := getTagMap(req, "filter")
	if len(m) == 0 {
		return nil
	}
	f := filters.New()
	for k, vs := range m {
		for _, v := range vs {
			f = f.ByTag(k, v)
		}
	}
	return []*filters.Filter{f}
}

// getString extracts an optional string parameter, defaulting when the
// parameter is missing or not a string.
func getString(req mcp.CallToolRequest, name, def string) string {
	if v, err := req.RequireString(name); err == nil {
		return v
	}
	return def
}

// getInt extracts an optional integer parameter. JSON numbers decode as
// float64, so assert that and convert.
func getInt(req mcp.CallToolRequest, name string, def int) int {
	args, ok := req.Params.Arguments.(map[string]any)
	if !ok {
		return def
	}
	if v, ok := args[name].(float64); ok {
		return int(v)
	}
	return def
}

// getTagMap extracts a {key: [values]} object parameter. Scalar string
// values are accepted as single-element lists; anything else is skipped
// so malformed LLM input degrades instead of erroring.
func getTagMap(req mcp.CallToolRequest, name string) map[string][]string {
	args, ok := req.Params.Arguments.(map[string]any)
	if !ok {
		return nil
	}
	raw, ok := args[name].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string][]string, len(raw))
	for k, v := range raw {
		switch vv := v.(type) {
		case string:
			out[k] = []string{vv}
		case []any:
			for _, e := range vv {
				if s, ok := e.(string); ok {
					out[k] = append(out[k], s)
				}
			}
		}
	}
	return out
}

// jsonResult serialises a value as indented JSON in an MCP text result.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
