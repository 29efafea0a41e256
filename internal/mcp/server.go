// Package mcp exposes the dispatcher over the Model Context Protocol.
// Five tools make up the surface: symbol_lookup, search_code,
// get_status, list_plugins, and reindex.
package mcp

import (
	"context"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/lodeworks/lodestone/internal/dispatch"
	lserr "github.com/lodeworks/lodestone/internal/errors"
	"github.com/lodeworks/lodestone/pkg/version"
)

// Server serves the tool surface over a single stdio session.
type Server struct {
	dispatcher *dispatch.Dispatcher
	mcp        *mcp.Server
	logger     *slog.Logger
}

// NewServer creates the MCP server and registers its tools.
func NewServer(dispatcher *dispatch.Dispatcher, logger *slog.Logger) (*Server, error) {
	if dispatcher == nil {
		return nil, lserr.New(lserr.ErrCodeInternal, "dispatcher is required", nil)
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		dispatcher: dispatcher,
		logger:     logger,
	}
	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "lodestone",
			Version: version.Version,
		},
		nil,
	)
	s.registerTools()
	return s, nil
}

// Run serves the stdio transport until the context ends.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("mcp_server_started", slog.String("transport", "stdio"))
	return s.mcp.Run(ctx, &mcp.StdioTransport{})
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "symbol_lookup",
		Description: "Resolve a symbol name to its definition: file, line, signature, and documentation. Exact-name matches from the symbol index, with a full-text fallback when the symbol table has no entry.",
	}, s.handleSymbolLookup)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search_code",
		Description: "Ranked full-text code search over the project index. Tokenizes camelCase and snake_case identifiers, so partial identifier words match. Use repo to search an authorized reference repository instead.",
	}, s.handleSearchCode)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_status",
		Description: "Report index health: file and symbol counts, index freshness, loaded plugins, and cache state. Use before searching to verify the index is ready.",
	}, s.handleGetStatus)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_plugins",
		Description: "List language plugins: loaded, supported, and skipped with the load-failure reason.",
	}, s.handleListPlugins)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "reindex",
		Description: "Re-index a directory. Unchanged files are skipped by content hash unless force is set. Returns a per-language summary.",
	}, s.handleReindex)

	s.logger.Debug("mcp_tools_registered", slog.Int("count", 5))
}

func (s *Server) handleSymbolLookup(ctx context.Context, _ *mcp.CallToolRequest, input SymbolLookupInput) (
	*mcp.CallToolResult,
	SymbolLookupOutput,
	error,
) {
	if input.Symbol == "" {
		return nil, SymbolLookupOutput{}, lserr.New(lserr.ErrCodeInvalidArgument, "symbol parameter is required", nil)
	}

	result, err := s.dispatcher.Lookup(ctx, input.Symbol, input.Repo)
	if err != nil {
		return nil, SymbolLookupOutput{}, err
	}
	return nil, SymbolLookupOutput{
		Symbol:     result.Symbol,
		Found:      result.Found,
		Kind:       result.Kind,
		Language:   result.Language,
		Signature:  result.Signature,
		Doc:        result.Doc,
		DefinedIn:  result.DefinedIn,
		Line:       result.Line,
		Reason:     result.Reason,
		StaleIndex: result.Stale,
	}, nil
}

func (s *Server) handleSearchCode(ctx context.Context, _ *mcp.CallToolRequest, input SearchCodeInput) (
	*mcp.CallToolResult,
	SearchCodeOutput,
	error,
) {
	if input.Query == "" {
		return nil, SearchCodeOutput{}, lserr.New(lserr.ErrCodeInvalidQuery, "query parameter is required", nil)
	}

	resp, err := s.dispatcher.Search(ctx, input.Query, dispatch.SearchOptions{
		Semantic: input.Semantic,
		Limit:    input.Limit,
		Repo:     input.Repo,
	})
	if err != nil {
		return nil, SearchCodeOutput{}, err
	}

	output := SearchCodeOutput{
		Results:    make([]SearchResultOutput, 0, len(resp.Hits)),
		Downgraded: resp.Downgraded,
		Reason:     resp.Reason,
		StaleIndex: resp.Stale,
	}
	for _, h := range resp.Hits {
		output.Results = append(output.Results, SearchResultOutput{
			File:       h.File,
			Line:       h.Line,
			Snippet:    h.Snippet,
			Score:      h.Score,
			Repository: h.Repository,
		})
	}
	return nil, output, nil
}

func (s *Server) handleGetStatus(ctx context.Context, _ *mcp.CallToolRequest, _ GetStatusInput) (
	*mcp.CallToolResult,
	*dispatch.HealthStatus,
	error,
) {
	return nil, s.dispatcher.HealthCheck(ctx), nil
}

func (s *Server) handleListPlugins(ctx context.Context, _ *mcp.CallToolRequest, _ ListPluginsInput) (
	*mcp.CallToolResult,
	ListPluginsOutput,
	error,
) {
	status := s.dispatcher.HealthCheck(ctx)
	return nil, ListPluginsOutput{
		Loaded:    status.Languages.Loaded,
		Supported: status.Languages.Supported,
		Skipped:   status.Languages.Skipped,
	}, nil
}

func (s *Server) handleReindex(ctx context.Context, _ *mcp.CallToolRequest, input ReindexInput) (
	*mcp.CallToolResult,
	ReindexOutput,
	error,
) {
	summary, err := s.dispatcher.IndexDirectory(ctx, input.Path, input.Force)
	if err != nil {
		return nil, ReindexOutput{}, err
	}
	return nil, ReindexOutput{
		IndexedFiles: summary.IndexedFiles,
		IgnoredFiles: summary.IgnoredFiles,
		FailedFiles:  summary.FailedFiles,
		TotalFiles:   summary.TotalFiles,
		ByLanguage:   summary.ByLanguage,
	}, nil
}
