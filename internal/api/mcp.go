// Package api exposes ragdesk operations to agent tooling over MCP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/ragdesk/internal/backend"
	"github.com/kalambet/ragdesk/internal/studio"
)

const documentsURI = "ragdesk://documents"

// MCPQuerier answers questions and reports backend liveness.
type MCPQuerier interface {
	Query(ctx context.Context, q backend.QueryRequest) (backend.QueryResponse, error)
	HealthCheck(ctx context.Context) (string, error)
}

// MCPLibrary lists and deletes documents.
type MCPLibrary interface {
	Refresh(ctx context.Context) ([]backend.Document, error)
	Delete(ctx context.Context, id string) error
}

// MCPStudio runs content generation.
type MCPStudio interface {
	Generate(ctx context.Context, action backend.StudioAction, docID string, options map[string]any) (studio.Job, error)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Querier MCPQuerier
	Library MCPLibrary
	Studio  MCPStudio // optional; if nil, generate returns an error
	Name    string
	Version string
	// MaxSourceChars truncates each source excerpt in ask results; zero keeps them whole.
	MaxSourceChars int
}

// NewMCPServer creates an MCP server with all ragdesk tools and resources registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	name := deps.Name
	if name == "" {
		name = "ragdesk"
	}
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		name,
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("ragdesk answers questions about uploaded documents and generates study material from them."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask",
			mcp.WithDescription("Ask a question answered from the uploaded documents, with cited sources."),
			mcp.WithString("question", mcp.Description("The question to ask"), mcp.Required()),
			mcp.WithString("doc_id", mcp.Description("Restrict the answer to one document")),
			mcp.WithNumber("top_k", mcp.Description("Number of chunks to retrieve (default from config)")),
		),
		mcpAsk(deps),
	)

	s.AddTool(
		mcp.NewTool("list_documents",
			mcp.WithDescription("List the documents uploaded to the backend."),
		),
		mcpListDocuments(deps),
	)

	s.AddTool(
		mcp.NewTool("delete_document",
			mcp.WithDescription("Delete an uploaded document by id."),
			mcp.WithString("doc_id", mcp.Description("Document id"), mcp.Required()),
		),
		mcpDeleteDocument(deps),
	)

	actions := make([]string, len(backend.StudioActions))
	for i, a := range backend.StudioActions {
		actions[i] = string(a)
	}
	s.AddTool(
		mcp.NewTool("generate",
			mcp.WithDescription("Generate an audio overview, video overview, briefing, or study guide for a document."),
			mcp.WithString("action", mcp.Description("Kind of content"), mcp.Required(), mcp.Enum(actions...)),
			mcp.WithString("doc_id", mcp.Description("Document id"), mcp.Required()),
		),
		mcpGenerate(deps),
	)

	s.AddTool(
		mcp.NewTool("health",
			mcp.WithDescription("Check whether the backend is reachable."),
		),
		mcpHealth(deps),
	)

	s.AddResource(
		mcp.NewResource(
			documentsURI,
			"Documents",
			mcp.WithResourceDescription("Uploaded documents as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceDocuments(deps),
	)

	return s
}

type askSource struct {
	Page    *int     `json:"page,omitempty"`
	ChunkID string   `json:"chunk_id,omitempty"`
	Content string   `json:"content"`
	Score   *float64 `json:"score,omitempty"`
}

type askResult struct {
	Answer  string      `json:"answer"`
	Sources []askSource `json:"sources"`
}

func mcpAsk(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil || question == "" {
			return mcpError("question is required"), nil
		}

		topK := req.GetInt("top_k", 0)
		if topK < 0 {
			topK = 0
		}
		if topK > 50 {
			topK = 50
		}

		res, err := deps.Querier.Query(ctx, backend.QueryRequest{
			Query: question,
			DocID: req.GetString("doc_id", ""),
			TopK:  topK,
		})
		if err != nil {
			return mcpError(err.Error()), nil
		}

		out := askResult{Answer: res.Answer, Sources: make([]askSource, len(res.Sources))}
		for i, src := range res.Sources {
			content := src.Content
			if n := deps.MaxSourceChars; n > 0 && utf8.RuneCountInString(content) > n {
				content = string([]rune(content)[:n]) + "..."
			}
			out.Sources[i] = askSource{Page: src.Page, ChunkID: src.ChunkID, Content: content, Score: src.Score}
		}

		b, err := json.Marshal(out)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal answer: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpListDocuments(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		docs, err := deps.Library.Refresh(ctx)
		if err != nil {
			return mcpError(userMessage(err)), nil
		}
		b, err := json.Marshal(docs)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal documents: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpDeleteDocument(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("doc_id")
		if err != nil || id == "" {
			return mcpError("doc_id is required"), nil
		}
		if err := deps.Library.Delete(ctx, id); err != nil {
			return mcpError(userMessage(err)), nil
		}
		return mcpText(fmt.Sprintf("Deleted document %s", id)), nil
	}
}

func mcpGenerate(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.Studio == nil {
			return mcpError("studio is not available"), nil
		}
		action, err := req.RequireString("action")
		if err != nil {
			return mcpError("action is required"), nil
		}
		docID, err := req.RequireString("doc_id")
		if err != nil || docID == "" {
			return mcpError("doc_id is required"), nil
		}

		job, err := deps.Studio.Generate(ctx, backend.StudioAction(action), docID, nil)
		if err != nil {
			return mcpError(userMessage(err)), nil
		}
		if job.Status == studio.StatusError {
			return mcpError(job.Error), nil
		}

		out := map[string]any{
			"job_id": job.ID,
			"status": job.Status,
		}
		if job.BackendJobID != "" {
			out["backend_job_id"] = job.BackendJobID
		}
		if job.Message != "" {
			out["message"] = job.Message
		}
		if job.Result != nil {
			out["result"] = job.Result
		}
		b, err := json.Marshal(out)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal job: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpHealth(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		status, err := deps.Querier.HealthCheck(ctx)
		if err != nil {
			return mcpError(err.Error()), nil
		}
		return mcpText(status), nil
	}
}

func mcpResourceDocuments(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		docs, err := deps.Library.Refresh(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list documents: %w", err)
		}

		b, err := json.Marshal(docs)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal documents: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

// userMessage prefers the backend's own message over wrapped context.
func userMessage(err error) string {
	var apiErr *backend.Error
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return err.Error()
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
