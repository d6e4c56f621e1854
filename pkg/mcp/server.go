// Package mcp exposes cache maintenance and usage reporting as MCP tools over
// a line-delimited JSON-RPC 2.0 stdio transport.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/pario-ai/goscli/pkg/cache"
	"github.com/pario-ai/goscli/pkg/models"
)

// maxLine bounds a single JSON-RPC message.
const maxLine = 1024 * 1024

// CacheAdmin is the cache surface the tools operate on. *cache.Tiered
// implements it.
type CacheAdmin interface {
	Stats(ctx context.Context) (models.CacheStats, error)
	Clear(ctx context.Context, level cache.Level) error
	Sweep(ctx context.Context) (cache.SweepResult, error)
}

// UsageReporter aggregates recorded usage. *tracker.SQLiteTracker
// implements it.
type UsageReporter interface {
	Summary(ctx context.Context, since time.Time) ([]models.UsageSummary, error)
}

// Server is a minimal MCP server. Either dependency may be nil, in which case
// its tools report that the feature is not configured.
type Server struct {
	cache   CacheAdmin
	usage   UsageReporter
	version string
	logger  *slog.Logger
}

// New creates a Server.
func New(c CacheAdmin, u UsageReporter, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cache:   c,
		usage:   u,
		version: version,
		logger:  logger.With("component", "mcp"),
	}
}

// Run reads requests from r line by line and writes responses to w. It
// blocks until r is exhausted or ctx is cancelled.
func (s *Server) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.write(w, failure(nil, CodeParseError, "parse error"))
			continue
		}

		if resp := s.dispatch(ctx, &req); resp != nil {
			s.write(w, resp)
		}
	}
	return scanner.Err()
}

func (s *Server) dispatch(ctx context.Context, req *Request) *Response {
	s.logger.Debug("request", "method", req.Method)
	switch req.Method {
	case "initialize":
		return result(req.ID, InitializeResult{
			ProtocolVersion: protocolVersion,
			ServerInfo:      ServerInfo{Name: "goscli", Version: s.version},
			Capabilities:    map[string]any{"tools": map[string]any{}},
		})
	case "notifications/initialized":
		return nil
	case "ping":
		return result(req.ID, map[string]any{})
	case "tools/list":
		return result(req.ID, ToolsListResult{Tools: allTools})
	case "tools/call":
		return s.call(ctx, req)
	default:
		if len(req.ID) == 0 {
			return nil
		}
		return failure(req.ID, CodeMethodNotFound, fmt.Sprintf("unknown method: %s", req.Method))
	}
}

func (s *Server) call(ctx context.Context, req *Request) *Response {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return failure(req.ID, CodeInvalidParams, "invalid params")
	}

	handler, ok := toolHandlers[params.Name]
	if !ok {
		return result(req.ID, errorResult(fmt.Sprintf("unknown tool: %s", params.Name)))
	}
	res := handler(ctx, s, params.Arguments)
	if res.IsError {
		s.logger.Warn("tool failed", "tool", params.Name, "error", res.Content[0].Text)
	}
	return result(req.ID, res)
}

func (s *Server) write(w io.Writer, resp *Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("marshal response", "error", err)
		return
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		s.logger.Error("write response", "error", err)
	}
}
