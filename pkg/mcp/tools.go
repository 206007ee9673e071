package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Sumatoshi-tech/benchtrail/pkg/bench"
	"github.com/Sumatoshi-tech/benchtrail/pkg/report"
	"github.com/Sumatoshi-tech/benchtrail/pkg/resultcache"
	"github.com/Sumatoshi-tech/benchtrail/pkg/workspace"
)

// Tool name constants.
const (
	ToolNameListBenchmarks = "list_benchmarks"
	ToolNameGetSeries      = "get_series"
	ToolNameCacheStatus    = "cache_status"
)

const (
	defaultSeriesCount = 10
	// maxSeriesCount bounds one get_series walk.
	maxSeriesCount = 1000
)

// Sentinel errors for tool input validation.
var (
	// ErrEmptyRepoPath indicates the repo_path parameter is empty.
	ErrEmptyRepoPath = errors.New("repo_path parameter is required and must not be empty")
	// ErrRepoPathNotAbsolute indicates the repo_path is not an absolute path.
	ErrRepoPathNotAbsolute = errors.New("repo_path must be an absolute path")
	// ErrRepoNotFound indicates the repository path does not exist.
	ErrRepoNotFound = errors.New("repository path does not exist")
	// ErrCountTooLarge indicates count exceeds maxSeriesCount.
	ErrCountTooLarge = errors.New("count exceeds maximum")
)

// ListBenchmarksInput is the input schema for list_benchmarks.
type ListBenchmarksInput struct {
	RepoPath string `json:"repo_path" jsonschema:"absolute path to a Git repository"`
}

// GetSeriesInput is the input schema for get_series.
type GetSeriesInput struct {
	Benchmarks []string `json:"benchmarks,omitempty" jsonschema:"optional benchmark names (default: all)"`
	Count      int      `json:"count,omitempty"      jsonschema:"number of revisions back from HEAD (default: 10)"`
	RepoPath   string   `json:"repo_path"            jsonschema:"absolute path to a Git repository"`
}

// CacheStatusInput is the input schema for cache_status.
type CacheStatusInput struct {
	RepoPath string `json:"repo_path"        jsonschema:"absolute path to a Git repository"`
	Verify   bool   `json:"verify,omitempty" jsonschema:"check every entry against the entry schema"`
}

// ToolOutput is a generic wrapper for tool results.
type ToolOutput struct {
	Data any `json:"data"`
}

// SeriesOutput is the get_series payload.
type SeriesOutput struct {
	*report.SeriesDocument

	Unknown []string `json:"unknown,omitempty"`
}

// CacheStatusOutput is the cache_status payload.
type CacheStatusOutput struct {
	*workspace.Status

	Problems []ProblemOutput `json:"problems,omitempty"`
}

// ProblemOutput is one verification finding.
type ProblemOutput struct {
	Key     string `json:"key"`
	Message string `json:"message"`
}

func (s *Server) handleListBenchmarks(
	ctx context.Context,
	_ *mcpsdk.CallToolRequest,
	input ListBenchmarksInput,
) (*mcpsdk.CallToolResult, ToolOutput, error) {
	ws, err := s.openWorkspace(ctx, input.RepoPath)
	if err != nil {
		return errorResult(err)
	}
	defer ws.Close()

	benches, err := ws.Benchmarks()
	if err != nil {
		return errorResult(err)
	}

	if benches == nil {
		benches = []bench.Benchmark{}
	}

	return jsonResult(benches)
}

func (s *Server) handleGetSeries(
	ctx context.Context,
	_ *mcpsdk.CallToolRequest,
	input GetSeriesInput,
) (*mcpsdk.CallToolResult, ToolOutput, error) {
	count := input.Count
	if count <= 0 {
		count = defaultSeriesCount
	}

	if count > maxSeriesCount {
		return errorResult(fmt.Errorf("%w: %d (max %d)", ErrCountTooLarge, count, maxSeriesCount))
	}

	ws, err := s.openWorkspace(ctx, input.RepoPath)
	if err != nil {
		return errorResult(err)
	}
	defer ws.Close()

	result, unknown, err := ws.Series(ctx, count, input.Benchmarks)
	if err != nil {
		return errorResult(err)
	}

	return jsonResult(SeriesOutput{SeriesDocument: report.NewSeriesDocument(result), Unknown: unknown})
}

func (s *Server) handleCacheStatus(
	ctx context.Context,
	_ *mcpsdk.CallToolRequest,
	input CacheStatusInput,
) (*mcpsdk.CallToolResult, ToolOutput, error) {
	ws, err := s.openWorkspace(ctx, input.RepoPath)
	if err != nil {
		return errorResult(err)
	}
	defer ws.Close()

	status, err := ws.Status(ctx)
	if err != nil {
		return errorResult(err)
	}

	out := CacheStatusOutput{Status: status}

	if input.Verify {
		problems, verifyErr := resultcache.Verify(ctx, ws.Store)
		if verifyErr != nil {
			return errorResult(verifyErr)
		}

		for _, p := range problems {
			out.Problems = append(out.Problems, ProblemOutput{Key: p.Key.String(), Message: p.Message})
		}
	}

	return jsonResult(out)
}

func (s *Server) openWorkspace(ctx context.Context, repoPath string) (*workspace.Workspace, error) {
	err := validateRepoPath(repoPath)
	if err != nil {
		return nil, err
	}

	return s.open(ctx, repoPath)
}

func validateRepoPath(repoPath string) error {
	if repoPath == "" {
		return ErrEmptyRepoPath
	}

	if !filepath.IsAbs(repoPath) {
		return ErrRepoPathNotAbsolute
	}

	info, err := os.Stat(repoPath)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrRepoNotFound, repoPath)
	}

	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrRepoNotFound, repoPath)
	}

	return nil
}

// errorResult builds a CallToolResult with isError set.
func errorResult(err error) (*mcpsdk.CallToolResult, ToolOutput, error) {
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{
			&mcpsdk.TextContent{Text: err.Error()},
		},
		IsError: true,
	}, ToolOutput{}, nil
}

// jsonResult builds a CallToolResult with JSON-encoded content.
func jsonResult(value any) (*mcpsdk.CallToolResult, ToolOutput, error) {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return errorResult(fmt.Errorf("encode result: %w", err))
	}

	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{
			&mcpsdk.TextContent{Text: string(data)},
		},
	}, ToolOutput{Data: value}, nil
}
