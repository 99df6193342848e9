// Package agenttest provides a scripted agent.Runner for tests.
package agenttest

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/Iron-Ham/automaker/internal/agent"
)

// Step is one scripted action of a fake stream.
type Step struct {
	Msg  agent.Message
	Err  error         // returned from Recv instead of Msg
	Hold chan struct{} // when set, Recv blocks until closed or cancelled
}

// Text emits assistant text.
func Text(s string) Step { return Step{Msg: agent.Message{Type: agent.MessageText, Text: s}} }

// Tool emits a tool invocation.
func Tool(name, input string) Step {
	return Step{Msg: agent.Message{Type: agent.MessageToolUse, ToolName: name, ToolInput: input}}
}

// Result emits the terminal result message.
func Result(s string) Step { return Step{Msg: agent.Message{Type: agent.MessageResult, Text: s}} }

// Fail makes Recv return err.
func Fail(err error) Step { return Step{Err: err} }

// Hold blocks the stream until ch is closed or the invocation is cancelled.
func Hold(ch chan struct{}) Step { return Step{Hold: ch} }

// Runner replays a script per invocation. Script decides the steps from the
// invocation; when nil the stream ends immediately.
type Runner struct {
	Script    func(inv agent.Invocation) []Step
	InvokeErr error

	mu      sync.Mutex
	calls   []agent.Invocation
	invoked chan agent.Invocation
}

// New returns a runner that replays the same steps for every invocation.
func New(steps ...Step) *Runner {
	return &Runner{Script: func(agent.Invocation) []Step { return steps }}
}

// Invoked returns a channel receiving each invocation as it starts. It is
// buffered; invocations beyond the buffer are not reported.
func (r *Runner) Invoked() <-chan agent.Invocation {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.invoked == nil {
		r.invoked = make(chan agent.Invocation, 64)
	}
	return r.invoked
}

// Calls returns the invocations seen so far.
func (r *Runner) Calls() []agent.Invocation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]agent.Invocation(nil), r.calls...)
}

func (r *Runner) Invoke(ctx context.Context, inv agent.Invocation) (agent.Stream, error) {
	if r.InvokeErr != nil {
		return nil, r.InvokeErr
	}
	r.mu.Lock()
	r.calls = append(r.calls, inv)
	ch := r.invoked
	r.mu.Unlock()
	if ch != nil {
		select {
		case ch <- inv:
		default:
		}
	}

	var steps []Step
	if r.Script != nil {
		steps = r.Script(inv)
	}
	return &stream{ctx: ctx, steps: steps}, nil
}

type stream struct {
	ctx   context.Context
	steps []Step
}

func (s *stream) Recv() (agent.Message, error) {
	for len(s.steps) > 0 {
		if err := s.ctx.Err(); err != nil {
			return agent.Message{}, fmt.Errorf("%w: %w", agent.ErrAborted, err)
		}
		step := s.steps[0]
		s.steps = s.steps[1:]
		if step.Hold != nil {
			select {
			case <-step.Hold:
				continue
			case <-s.ctx.Done():
				return agent.Message{}, fmt.Errorf("%w: %w", agent.ErrAborted, s.ctx.Err())
			}
		}
		if step.Err != nil {
			return agent.Message{}, step.Err
		}
		return step.Msg, nil
	}
	if err := s.ctx.Err(); err != nil {
		return agent.Message{}, fmt.Errorf("%w: %w", agent.ErrAborted, err)
	}
	return agent.Message{}, io.EOF
}

func (s *stream) Close() error { return nil }
