// Package agent defines the boundary to the external coding agent. The engine
// sends an Invocation and reads typed messages from a Stream until io.EOF.
package agent

import (
	"context"

	"github.com/Iron-Ham/automaker/internal/errors"
	"github.com/Iron-Ham/automaker/internal/feature"
)

// ErrAborted is returned by a Stream when the invocation was cancelled.
// Runners may wrap it; callers match with errors.Is.
var ErrAborted = errors.ErrAborted

// MessageType classifies a streamed message.
type MessageType string

const (
	MessageText    MessageType = "text"
	MessageToolUse MessageType = "tool_use"
	MessageResult  MessageType = "result"
)

// Message is one item of an agent's output stream.
type Message struct {
	Type      MessageType
	Text      string // assistant text, or the final result for MessageResult
	ToolName  string
	ToolInput string // JSON-encoded tool input
	IsError   bool   // MessageResult only
}

// Invocation describes one agent run.
type Invocation struct {
	Prompt         string
	SystemPrompt   string
	Model          string
	AllowedTools   []string
	WorkDir        string
	PermissionMode string
	MaxTurns       int
	ThinkingLevel  feature.ThinkingLevel
	// Resume is passed through untouched; how a runner continues from
	// persisted context is up to the runner.
	Resume bool
}

// Stream yields messages in emission order. Recv returns io.EOF after the
// last message and an error wrapping ErrAborted when the context passed to
// Invoke was cancelled.
type Stream interface {
	Recv() (Message, error)
	Close() error
}

// Runner starts agent invocations.
type Runner interface {
	Invoke(ctx context.Context, inv Invocation) (Stream, error)
}
