package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/copilot/internal/conversation"
	"github.com/kalambet/copilot/internal/document"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Documents    Documents
	Conversation Conversation
	Version      string
}

// NewMCPServer creates an MCP server exposing the two conversation threads
// and the document collection.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"copilot",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("copilot answers compliance questions from uploaded documents, and from general knowledge when asked to escalate."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("ask_documents",
			mcp.WithDescription("Ask a question answered strictly from the uploaded documents in the current scope."),
			mcp.WithString("question", mcp.Description("The compliance question"), mcp.Required()),
		),
		mcpAskDocuments(deps),
	)

	s.AddTool(
		mcp.NewTool("ask_imagination",
			mcp.WithDescription("Continue the open general-knowledge thread with a follow-up question."),
			mcp.WithString("question", mcp.Description("The follow-up question"), mcp.Required()),
		),
		mcpAskImagination(deps),
	)

	s.AddTool(
		mcp.NewTool("escalate",
			mcp.WithDescription("Start a new general-knowledge thread, from a question or from the primary-thread message that could not be answered."),
			mcp.WithString("question", mcp.Description("Question to escalate")),
			mcp.WithNumber("message_id", mcp.Description("ID of a primary-thread assistant message whose question should be escalated")),
		),
		mcpEscalate(deps),
	)

	s.AddTool(
		mcp.NewTool("list_documents",
			mcp.WithDescription("List the uploaded documents."),
		),
		mcpListDocuments(deps),
	)

	s.AddTool(
		mcp.NewTool("add_document",
			mcp.WithDescription("Add a plain-text document to the collection, replacing any document with the same name."),
			mcp.WithString("name", mcp.Description("Document name"), mcp.Required()),
			mcp.WithString("content", mcp.Description("Document text"), mcp.Required()),
		),
		mcpAddDocument(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"thread://primary",
			"Primary Thread",
			mcp.WithResourceDescription("Document-grounded conversation as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceThread(deps, conversation.ThreadPrimary),
	)

	s.AddResource(
		mcp.NewResource(
			"thread://imagination",
			"Imagination Thread",
			mcp.WithResourceDescription("General-knowledge conversation as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceThread(deps, conversation.ThreadImagination),
	)

	return s
}

func mcpAskDocuments(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}
		return mcpTurn(deps.Conversation.SubmitPrimary(ctx, question))
	}
}

func mcpAskImagination(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}
		return mcpTurn(deps.Conversation.SubmitImaginationFollowup(ctx, question))
	}
}

func mcpEscalate(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question := strings.TrimSpace(req.GetString("question", ""))
		id := req.GetInt("message_id", 0)

		switch {
		case question != "" && id > 0:
			return mcpError("provide either question or message_id, not both"), nil
		case id > 0:
			return mcpTurn(deps.Conversation.EscalateFrom(ctx, int64(id)))
		case question != "":
			return mcpTurn(deps.Conversation.Escalate(ctx, question, false))
		}
		return mcpError("question or message_id is required"), nil
	}
}

func mcpListDocuments(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		docs, err := deps.Documents.List()
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list documents: %v", err)), nil
		}

		out := make([]DocumentSummary, 0, len(docs))
		for _, d := range docs {
			out = append(out, summarize(d))
		}
		b, err := json.Marshal(out)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal documents: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpAddDocument(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := req.RequireString("name")
		if err != nil {
			return mcpError("name is required"), nil
		}
		content, err := req.RequireString("content")
		if err != nil || strings.TrimSpace(content) == "" {
			return mcpError("content is required"), nil
		}

		doc := document.Document{
			Name:      name,
			Content:   content,
			Format:    "txt",
			SizeBytes: int64(len(content)),
		}
		if err := deps.Documents.Add(doc); err != nil {
			return mcpError(fmt.Sprintf("failed to add document: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Stored document %s", strings.TrimSpace(name))), nil
	}
}

func mcpResourceThread(deps MCPDeps, kind conversation.ThreadKind) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(deps.Conversation.Thread(kind))
		if err != nil {
			return nil, fmt.Errorf("failed to marshal thread: %w", err)
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

// mcpTurn reports the reply of a settled turn. Failure messages and
// refused submissions come back as tool errors.
func mcpTurn(turn conversation.Turn, err error) (*mcp.CallToolResult, error) {
	if err != nil {
		var fail *conversation.Failure
		if errors.As(err, &fail) {
			return mcpError(fail.Message), nil
		}
		return mcpError(err.Error()), nil
	}
	if turn.Reply.Failed() {
		return mcpError(turn.Reply.Content), nil
	}

	b, err := json.Marshal(turn.Reply)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal reply: %v", err)), nil
	}
	return mcpText(string(b)), nil
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
