package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/quintal/alix/internal/assistant"
	"github.com/quintal/alix/internal/profile"
	"github.com/quintal/alix/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store    *storage.Store
	Profiles *profile.Manager
	Searcher assistant.Searcher
}

// NewMCPServer creates an MCP server with all alix tools and resources registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"alix",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("alix: conversational shopping advisor with product search and per-session shopper profiles."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("search_products",
			mcp.WithDescription("Search the product catalog and return results ranked by relevance, rating and review count."),
			mcp.WithString("query", mcp.Description("What to search for"), mcp.Required()),
			mcp.WithNumber("min_price", mcp.Description("Minimum price (default 0)")),
			mcp.WithNumber("max_price", mcp.Description("Maximum price (default 1000)")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 4, max 10)")),
		),
		mcpSearchProducts(deps),
	)

	s.AddTool(
		mcp.NewTool("get_profile",
			mcp.WithDescription("Return everything learned about the shopper in a session."),
			mcp.WithString("session_id", mcp.Description("Session to read"), mcp.Required()),
		),
		mcpGetProfile(deps),
	)

	s.AddTool(
		mcp.NewTool("remember_preference",
			mcp.WithDescription("Record a shopper preference in a session profile."),
			mcp.WithString("session_id", mcp.Description("Session to update"), mcp.Required()),
			mcp.WithString("key", mcp.Description("Preference key (e.g. budget, usage, animaux)"), mcp.Required()),
			mcp.WithString("value", mcp.Description("Value to store"), mcp.Required()),
		),
		mcpRememberPreference(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"alix://sessions",
			"Recent Sessions",
			mcp.WithResourceDescription("Last 10 conversation sessions (summaries only)"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceSessions(deps),
	)

	return s
}

func mcpSearchProducts(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		minPrice := req.GetFloat("min_price", 0)
		maxPrice := req.GetFloat("max_price", 1000)

		limit := req.GetInt("limit", 4)
		if limit <= 0 {
			limit = 4
		}
		if limit > 10 {
			limit = 10
		}

		products, _, err := deps.Searcher.Search(ctx, query, minPrice, maxPrice, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}

		if len(products) == 0 {
			return mcpText("[]"), nil
		}

		b, err := json.Marshal(products)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}

		return mcpText(string(b)), nil
	}
}

func mcpGetProfile(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, err := req.RequireString("session_id")
		if err != nil {
			return mcpError("session_id is required"), nil
		}

		if _, err := deps.Store.GetSession(sessionID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return mcpError("session not found"), nil
			}
			return mcpError(fmt.Sprintf("failed to get session: %v", err)), nil
		}

		known, err := deps.Profiles.Get(sessionID)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to get profile: %v", err)), nil
		}

		b, err := json.Marshal(known)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal profile: %v", err)), nil
		}

		return mcpText(string(b)), nil
	}
}

func mcpRememberPreference(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, err := req.RequireString("session_id")
		if err != nil {
			return mcpError("session_id is required"), nil
		}
		key, err := req.RequireString("key")
		if err != nil {
			return mcpError("key is required"), nil
		}
		value, err := req.RequireString("value")
		if err != nil {
			return mcpError("value is required"), nil
		}

		if _, err := deps.Store.GetSession(sessionID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return mcpError("session not found"), nil
			}
			return mcpError(fmt.Sprintf("failed to get session: %v", err)), nil
		}

		if err := deps.Profiles.Set(sessionID, key, value); err != nil {
			return mcpError(fmt.Sprintf("failed to remember preference: %v", err)), nil
		}

		return mcpText(fmt.Sprintf("Set %s = %s", key, value)), nil
	}
}

func mcpResourceSessions(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		sessions, err := deps.Store.ListSessions(10)
		if err != nil {
			return nil, fmt.Errorf("failed to list sessions: %w", err)
		}

		type sessionSummary struct {
			ID        string `json:"id"`
			Title     string `json:"title,omitempty"`
			Turns     int    `json:"turns"`
			CreatedAt string `json:"created_at"`
			UpdatedAt string `json:"updated_at"`
		}

		summaries := make([]sessionSummary, len(sessions))
		for i, sess := range sessions {
			turns, err := deps.Store.CountTurns(sess.ID)
			if err != nil {
				return nil, fmt.Errorf("failed to count turns: %w", err)
			}
			summaries[i] = sessionSummary{
				ID:        sess.ID,
				Title:     sess.Title,
				Turns:     turns,
				CreatedAt: sess.CreatedAt.Format(time.RFC3339),
				UpdatedAt: sess.UpdatedAt.Format(time.RFC3339),
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal sessions: %w", err)
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
