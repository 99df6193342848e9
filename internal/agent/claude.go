package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/Iron-Ham/automaker/internal/errors"
	"github.com/Iron-Ham/automaker/internal/logging"
)

// DefaultCommand is the Claude Code CLI binary.
const DefaultCommand = "claude"

// maxLineSize bounds a single stream-json line. Tool results can be large.
const maxLineSize = 16 * 1024 * 1024

// ClaudeRunner invokes the claude CLI in print mode and parses its
// stream-json output.
type ClaudeRunner struct {
	Command string
	// Env is appended to the current process environment.
	Env    []string
	Logger *logging.Logger
}

// NewClaudeRunner returns a runner for command (DefaultCommand when empty).
func NewClaudeRunner(command string, logger *logging.Logger) *ClaudeRunner {
	if command == "" {
		command = DefaultCommand
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &ClaudeRunner{Command: command, Logger: logger.WithComponent("agent")}
}

// Args builds the CLI arguments for inv. The prompt itself goes on stdin.
func Args(inv Invocation) []string {
	args := []string{"-p", "--output-format", "stream-json", "--verbose"}
	if inv.Model != "" {
		args = append(args, "--model", inv.Model)
	}
	if inv.PermissionMode != "" {
		args = append(args, "--permission-mode", inv.PermissionMode)
	}
	if len(inv.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(inv.AllowedTools, ","))
	}
	if inv.MaxTurns > 0 {
		args = append(args, "--max-turns", strconv.Itoa(inv.MaxTurns))
	}
	if inv.SystemPrompt != "" {
		args = append(args, "--append-system-prompt", inv.SystemPrompt)
	}
	return args
}

// Env returns the extra environment for inv.
func Env(inv Invocation) []string {
	if budget := inv.ThinkingLevel.TokenBudget(); budget > 0 {
		return []string{"MAX_THINKING_TOKENS=" + strconv.Itoa(budget)}
	}
	return nil
}

// Invoke starts the CLI. The process is killed when ctx is cancelled or the
// stream is closed.
func (r *ClaudeRunner) Invoke(ctx context.Context, inv Invocation) (Stream, error) {
	runCtx, cancel := context.WithCancel(ctx)

	cmd := exec.CommandContext(runCtx, r.Command, Args(inv)...)
	cmd.Dir = inv.WorkDir
	cmd.Stdin = strings.NewReader(inv.Prompt)
	cmd.Env = append(append(os.Environ(), r.Env...), Env(inv)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start %s: %w", r.Command, err)
	}
	r.Logger.Debug("agent started", "model", inv.Model, "pid", cmd.Process.Pid, "dir", inv.WorkDir)

	sc := bufio.NewScanner(stdout)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &claudeStream{
		ctx:     ctx,
		cancel:  cancel,
		cmd:     cmd,
		scanner: sc,
		stderr:  &stderr,
		logger:  r.Logger,
	}, nil
}

type claudeStream struct {
	ctx     context.Context
	cancel  context.CancelFunc
	cmd     *exec.Cmd
	scanner *bufio.Scanner
	stderr  *bytes.Buffer
	logger  *logging.Logger

	pending []Message

	waitOnce sync.Once
	waitErr  error
}

func (s *claudeStream) Recv() (Message, error) {
	for len(s.pending) == 0 {
		if s.ctx.Err() != nil {
			s.wait()
			return Message{}, fmt.Errorf("%w: %w", ErrAborted, s.ctx.Err())
		}
		if !s.scanner.Scan() {
			return Message{}, s.finish()
		}
		msgs, err := ParseLine(s.scanner.Bytes())
		if err != nil {
			s.logger.Debug("skipping unparsable line", "error", err)
			continue
		}
		s.pending = msgs
	}
	msg := s.pending[0]
	s.pending = s.pending[1:]
	return msg, nil
}

func (s *claudeStream) finish() error {
	scanErr := s.scanner.Err()
	waitErr := s.wait()
	if s.ctx.Err() != nil {
		return fmt.Errorf("%w: %w", ErrAborted, s.ctx.Err())
	}
	if scanErr != nil {
		return fmt.Errorf("read agent output: %w", scanErr)
	}
	if waitErr != nil {
		if msg := strings.TrimSpace(s.stderr.String()); msg != "" {
			return fmt.Errorf("%w: %s", waitErr, lastLine(msg))
		}
		return waitErr
	}
	return io.EOF
}

func (s *claudeStream) wait() error {
	s.waitOnce.Do(func() {
		s.waitErr = s.cmd.Wait()
	})
	return s.waitErr
}

func (s *claudeStream) Close() error {
	s.cancel()
	err := s.wait()
	if err != nil && s.ctx.Err() == nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// Killed by our own cancel.
			return nil
		}
		return err
	}
	return nil
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// streamLine is the subset of the CLI's stream-json schema automaker reads.
type streamLine struct {
	Type    string `json:"type"`
	Message *struct {
		Content []struct {
			Type  string          `json:"type"`
			Text  string          `json:"text"`
			Name  string          `json:"name"`
			Input json.RawMessage `json:"input"`
		} `json:"content"`
	} `json:"message"`
	Subtype string `json:"subtype"`
	IsError bool   `json:"is_error"`
	Result  string `json:"result"`
}

// ParseLine converts one stream-json line into zero or more messages.
// Lines of types automaker does not consume (system, user) yield nothing.
func ParseLine(line []byte) ([]Message, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, nil
	}
	var sl streamLine
	if err := json.Unmarshal(line, &sl); err != nil {
		return nil, err
	}
	switch sl.Type {
	case "assistant":
		if sl.Message == nil {
			return nil, nil
		}
		var out []Message
		for _, block := range sl.Message.Content {
			switch block.Type {
			case "text":
				if block.Text != "" {
					out = append(out, Message{Type: MessageText, Text: block.Text})
				}
			case "tool_use":
				out = append(out, Message{Type: MessageToolUse, ToolName: block.Name, ToolInput: string(block.Input)})
			}
		}
		return out, nil
	case "result":
		return []Message{{
			Type:    MessageResult,
			Text:    sl.Result,
			IsError: sl.IsError || (sl.Subtype != "" && sl.Subtype != "success"),
		}}, nil
	default:
		return nil, nil
	}
}
