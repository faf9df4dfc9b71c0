package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/phuslu/log"
)

func searchCRMTool() mcp.Tool {
	return mcp.NewTool("search_crm",
		mcp.WithDescription("Semantic search over CRM deals, contacts and leads. Activities are matched through the record they belong to."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("What to look for, in plain language"),
		),
		mcp.WithString("search_type",
			mcp.Description("all (default), deals, contacts, leads or activities"),
			mcp.Enum("all", "deals", "contacts", "leads", "activities"),
		),
		mcp.WithNumber("max_results",
			mcp.Description("Maximum results to return (default: 10, max: 100)"),
		),
		mcp.WithString("owner_id",
			mcp.Description("Owner whose records are searched; defaults to the server's owner"),
		),
	)
}

func backfillTool() mcp.Tool {
	return mcp.NewTool("backfill_embeddings",
		mcp.WithDescription("Embed every record that has no vector or an outdated one"),
		mcp.WithString("owner_id",
			mcp.Description("Owner to backfill; defaults to the server's owner"),
		),
		mcp.WithString("record_type",
			mcp.Description("Limit to deals, contacts or leads"),
		),
		mcp.WithBoolean("force",
			mcp.Description("Re-embed every record, even fresh ones"),
		),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("embedding_status",
		mcp.WithDescription("Report records still missing embeddings, queue depth and job counts"),
		mcp.WithString("owner_id",
			mcp.Description("Owner to report on; defaults to the server's owner"),
		),
	)
}

func (s *Server) handleSearchCRM(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := request.RequireString("query")
	if err != nil || query == "" {
		return errorResult("Error: query parameter is required"), nil
	}
	resp, err := s.SearchCRM(ctx, SearchCRMArgs{
		Query:      query,
		SearchType: request.GetString("search_type", ""),
		MaxResults: request.GetInt("max_results", 0),
		OwnerID:    request.GetString("owner_id", ""),
	})
	if err != nil {
		log.Warn().Err(err).Msg("search_crm failed")
		return errorResult(fmt.Sprintf("Search error: %v", err)), nil
	}
	return jsonResult(resp)
}

func (s *Server) handleBackfill(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := s.BackfillEmbeddings(ctx, BackfillArgs{
		OwnerID:    request.GetString("owner_id", ""),
		RecordType: request.GetString("record_type", ""),
		Force:      request.GetBool("force", false),
	})
	if err != nil {
		log.Warn().Err(err).Msg("backfill_embeddings failed")
		return errorResult(fmt.Sprintf("Backfill error: %v", err)), nil
	}
	return jsonResult(result)
}

func (s *Server) handleStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := s.EmbeddingStatus(ctx, StatusArgs{OwnerID: request.GetString("owner_id", "")})
	if err != nil {
		log.Warn().Err(err).Msg("embedding_status failed")
		return errorResult(fmt.Sprintf("Status error: %v", err)), nil
	}
	return jsonResult(result)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode tool result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(string(data)),
		},
	}, nil
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(msg),
		},
		IsError: true,
	}
}
