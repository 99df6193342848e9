// Package mcpserver exposes the engine's intents as MCP tools.
//
// Each tool follows the same shape:
//   - a struct holding the engine, built by a constructor
//   - Definition() returns the mcp.Tool schema
//   - Handle() validates arguments, calls one engine intent and renders the
//     result as markdown
//
// Engine errors are reported as tool errors, never as protocol errors.
package mcpserver

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/Iron-Ham/automaker/internal/errors"
	"github.com/Iron-Ham/automaker/internal/feature"
	"github.com/Iron-Ham/automaker/internal/util"
)

// maxErrorWidth bounds run errors echoed in feature listings.
const maxErrorWidth = 200

// intArg extracts an integer argument (JSON numbers are float64).
func intArg(req mcp.CallToolRequest, key string, defaultVal int) int {
	v, ok := req.GetArguments()[key].(float64)
	if !ok {
		return defaultVal
	}
	return int(v)
}

// optionalBool reports the value of key and whether it was supplied.
func optionalBool(req mcp.CallToolRequest, key string) (bool, bool) {
	v, ok := req.GetArguments()[key].(bool)
	return v, ok
}

// optionalString reports the value of key and whether it was supplied.
func optionalString(req mcp.CallToolRequest, key string) (string, bool) {
	v, ok := req.GetArguments()[key].(string)
	return v, ok
}

// stringsArg accepts either a JSON array of strings or a newline-separated
// string. Blank entries are dropped.
func stringsArg(req mcp.CallToolRequest, key string) ([]string, bool) {
	raw, ok := req.GetArguments()[key]
	if !ok || raw == nil {
		return nil, false
	}
	var out []string
	switch v := raw.(type) {
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
	case []string:
		for _, s := range v {
			if strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
	case string:
		for _, line := range strings.Split(v, "\n") {
			if strings.TrimSpace(line) != "" {
				out = append(out, strings.TrimSpace(line))
			}
		}
	default:
		return nil, false
	}
	if out == nil {
		out = []string{}
	}
	return out, true
}

func requiredID(req mcp.CallToolRequest) (string, *mcp.CallToolResult) {
	id := strings.TrimSpace(req.GetString("id", ""))
	if id == "" {
		return "", mcp.NewToolResultError("'id' is required")
	}
	return id, nil
}

// failure reports an engine error as a tool error. Transient admission
// failures say so, so the caller knows a retry may succeed.
func failure(action string, err error) *mcp.CallToolResult {
	msg := fmt.Sprintf("failed to %s: %v", action, err)
	if errors.IsRetryable(err) {
		msg += "\n\nThis is temporary; retry once running features finish."
	}
	return mcp.NewToolResultError(msg)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// featureLine renders one feature as a markdown list item.
func featureLine(f feature.Feature) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "- **%s** `%s` [%s]", f.DisplayTitle(), f.ID, f.Status)
	if f.Priority > 0 {
		fmt.Fprintf(&sb, " priority=%d", f.Priority)
	}
	if len(f.Dependencies) > 0 {
		fmt.Fprintf(&sb, " depends on %s", strings.Join(f.Dependencies, ", "))
	}
	if f.Error != "" {
		fmt.Fprintf(&sb, " error: %s", util.Truncate(f.Error, maxErrorWidth))
	}
	return sb.String()
}
