package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/server"
	"github.com/phuslu/log"

	"github.com/scrypster/crmindex/internal/engine"
	"github.com/scrypster/crmindex/internal/storage"
	"github.com/scrypster/crmindex/pkg/types"
)

// ErrOwnerRequired is returned when neither the call nor the server names an owner.
var ErrOwnerRequired = errors.New("owner_id is required")

// searcher is the subset of engine.SearchEngine used by the MCP server.
type searcher interface {
	Execute(ctx context.Context, req engine.SearchRequest) (*engine.SearchResponse, error)
}

// syncEngine is the subset of engine.SyncEngine used by the MCP server.
type syncEngine interface {
	Backfill(ctx context.Context, recordType types.RecordType, ownerID string, pageSize int) (engine.BackfillResult, error)
	BackfillAll(ctx context.Context, ownerID string, force bool) (engine.BackfillSummary, error)
	GetQueueSize() int
	Model() string
	StateCounts(ownerID string) map[types.SyncState]int
}

// statusStore provides the counters behind embedding_status.
type statusStore interface {
	CountMissing(ctx context.Context, recordType types.RecordType, ownerID, model string) (int, error)
	Invalidate(ctx context.Context, recordType types.RecordType, ownerID string) (int, error)
	CountJobs(ctx context.Context, ownerID string) (storage.JobCounts, error)
}

// Server implements the crmindex MCP tools.
type Server struct {
	searcher     searcher
	engine       syncEngine
	store        statusStore
	defaultOwner string
}

// ServerOption is a functional option for configuring a Server.
type ServerOption func(*Server)

// WithDefaultOwner sets the owner used when a tool call omits owner_id.
// An MCP server usually runs on behalf of a single user.
func WithDefaultOwner(ownerID string) ServerOption {
	return func(s *Server) {
		s.defaultOwner = ownerID
	}
}

// NewServer creates an MCP server.
func NewServer(search searcher, eng syncEngine, store statusStore, opts ...ServerOption) *Server {
	s := &Server{searcher: search, engine: eng, store: store}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SearchCRM runs a semantic search.
func (s *Server) SearchCRM(ctx context.Context, args SearchCRMArgs) (*engine.SearchResponse, error) {
	owner, err := s.owner(args.OwnerID)
	if err != nil {
		return nil, err
	}
	return s.searcher.Execute(ctx, engine.SearchRequest{
		Query:      args.Query,
		SearchType: args.SearchType,
		MaxResults: args.MaxResults,
		OwnerID:    owner,
	})
}

// BackfillEmbeddings embeds every record of the owner that lacks a fresh vector.
func (s *Server) BackfillEmbeddings(ctx context.Context, args BackfillArgs) (*BackfillResult, error) {
	owner, err := s.owner(args.OwnerID)
	if err != nil {
		return nil, err
	}

	if args.RecordType == "" {
		summary, err := s.engine.BackfillAll(ctx, owner, args.Force)
		if err != nil {
			return nil, err
		}
		return &BackfillResult{OwnerID: owner, Summary: summary}, nil
	}

	recordType, err := types.ParseRecordType(args.RecordType)
	if err != nil {
		return nil, err
	}
	if args.Force {
		if _, err := s.store.Invalidate(ctx, recordType, owner); err != nil {
			return nil, fmt.Errorf("failed to invalidate %s: %w", recordType.Plural(), err)
		}
	}
	result, err := s.engine.Backfill(ctx, recordType, owner, 0)
	if err != nil {
		return nil, err
	}
	return &BackfillResult{OwnerID: owner, RecordType: recordType.Plural(), Summary: result}, nil
}

// EmbeddingStatus reports missing vectors per type, queue depth and job counts.
func (s *Server) EmbeddingStatus(ctx context.Context, args StatusArgs) (*StatusResult, error) {
	owner, err := s.owner(args.OwnerID)
	if err != nil {
		return nil, err
	}

	result := &StatusResult{
		OwnerID:   owner,
		Model:     s.engine.Model(),
		Missing:   make(map[string]int, len(types.AllRecordTypes)),
		QueueSize: s.engine.GetQueueSize(),
		States:    s.engine.StateCounts(owner),
	}
	for _, rt := range types.AllRecordTypes {
		n, err := s.store.CountMissing(ctx, rt, owner, result.Model)
		if err != nil {
			return nil, fmt.Errorf("failed to count missing %s: %w", rt.Plural(), err)
		}
		result.Missing[rt.Plural()] = n
		result.Total += n
	}
	if result.Jobs, err = s.store.CountJobs(ctx, owner); err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	return result, nil
}

// MCPServer builds the mcp-go server with every tool registered.
func (s *Server) MCPServer(version string) *server.MCPServer {
	srv := server.NewMCPServer(
		"crmindex",
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)
	srv.AddTool(searchCRMTool(), s.handleSearchCRM)
	srv.AddTool(backfillTool(), s.handleBackfill)
	srv.AddTool(statusTool(), s.handleStatus)
	return srv
}

// ServeStdio blocks serving JSON-RPC on stdin/stdout. Logging must go to
// stderr while it runs.
func (s *Server) ServeStdio(version string) error {
	log.Info().Str("version", version).Msg("crmindex MCP server listening on stdio")
	return server.ServeStdio(s.MCPServer(version))
}

func (s *Server) owner(id string) (string, error) {
	if id != "" {
		return id, nil
	}
	if s.defaultOwner != "" {
		return s.defaultOwner, nil
	}
	return "", fmt.Errorf("%w: %w", types.ErrInvalidInput, ErrOwnerRequired)
}
