// Package mcptool exposes free slot lookup as an MCP tool so assistants can
// ask for open time in a calendar.
package mcptool

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"slotfinder/internal/availability"
	"slotfinder/internal/config"
	appLog "slotfinder/internal/log"
	"slotfinder/internal/report"
)

// ToolName is the registered MCP tool name.
const ToolName = "find_free_slots"

// Finder computes availability for one request.
type Finder interface {
	Find(ctx context.Context, req availability.Request) availability.Result
}

// Options holds the defaults applied when the caller omits an argument.
type Options struct {
	Source          string
	Days            int
	MinimumDuration time.Duration
	Location        *time.Location
	Cap             int
}

// Tool answers find_free_slots calls.
type Tool struct {
	finder Finder
	opts   Options
}

// New returns a Tool backed by finder.
func New(finder Finder, opts Options) *Tool {
	return &Tool{finder: finder, opts: opts}
}

// Definition describes the tool and its arguments.
func (t *Tool) Definition() mcp.Tool {
	return mcp.NewTool(ToolName,
		mcp.WithDescription("Find open time slots in a calendar. Returns the earliest gaps of at least the requested length between now and the end of the search horizon."),
		mcp.WithString("source",
			mcp.Description("Calendar id from the configuration, or an ICS URL when raw URLs are allowed. Default: the first configured calendar."),
		),
		mcp.WithNumber("days",
			mcp.Description(fmt.Sprintf("How many days ahead to search. Default: %d", t.defaultDays())),
		),
		mcp.WithNumber("minimum_duration_hours",
			mcp.Description("Minimum slot length in hours, fractions allowed. Default: 1"),
		),
		mcp.WithString("format",
			mcp.Description("text (default) for a short summary, json for a list of {start, end, duration_minutes}"),
			mcp.Enum("text", "json"),
		),
	)
}

func (t *Tool) defaultDays() int {
	if t.opts.Days > 0 {
		return t.opts.Days
	}
	return availability.DefaultDays
}

// Handle serves one tool call. Calendar and argument problems are reported
// as tool errors, never as protocol errors.
func (t *Tool) Handle(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]any)

	req := availability.Request{
		Source:          t.opts.Source,
		Days:            t.defaultDays(),
		MinimumDuration: t.opts.MinimumDuration,
	}
	if s, ok := args["source"].(string); ok && s != "" {
		req.Source = s
	}
	if v, ok := args["days"]; ok {
		n, ok := v.(float64)
		if !ok || n != float64(int(n)) {
			return mcp.NewToolResultError("days must be a whole number"), nil
		}
		req.Days = int(n)
	}
	if v, ok := args["minimum_duration_hours"]; ok {
		h, ok := v.(float64)
		if !ok || h <= 0 {
			return mcp.NewToolResultError("minimum_duration_hours must be a positive number"), nil
		}
		req.MinimumDuration = config.HoursToDuration(h)
	}
	format, _ := args["format"].(string)
	if format == "" {
		format = "text"
	}
	if format != "text" && format != "json" {
		return mcp.NewToolResultError("format must be text or json"), nil
	}

	res := t.finder.Find(ctx, req)
	ropts := report.Options{Location: t.opts.Location, Cap: t.opts.Cap}

	appLog.Debug("mcp: find_free_slots", "source", req.Source, "status", string(res.Status))

	switch res.Status {
	case availability.StatusFetchFailure, availability.StatusInvalidRequest:
		return mcp.NewToolResultError(report.Summary(res, ropts)), nil
	}

	if format == "json" {
		data, err := json.Marshal(report.Structured(res, ropts))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to encode slots: %v", err)), nil
		}
		return mcp.NewToolResultText(string(data)), nil
	}
	return mcp.NewToolResultText(report.Summary(res, ropts)), nil
}

// NewServer returns an MCP server with the tool registered.
func NewServer(version string, tool *Tool) *server.MCPServer {
	s := server.NewMCPServer(
		"slotfinder",
		version,
		server.WithToolCapabilities(true),
	)
	s.AddTool(tool.Definition(), tool.Handle)
	return s
}

// ServeStdio runs the server on stdin/stdout until EOF or a signal.
func ServeStdio(s *server.MCPServer) error {
	return server.ServeStdio(s)
}
