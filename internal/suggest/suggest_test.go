package suggest

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/automaker/internal/agent"
	"github.com/Iron-Ham/automaker/internal/agent/agenttest"
	"github.com/Iron-Ham/automaker/internal/errors"
	"github.com/Iron-Ham/automaker/internal/event"
)

func seqIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("suggestion-%d", n)
	}
}

func raw(t *testing.T, s string) []json.RawMessage {
	t.Helper()
	var items []json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(s), &items))
	return items
}

func TestNormalize_Defaults(t *testing.T) {
	got := Normalize(raw(t, `[{"title":"X"}]`), seqIDs())
	require.Len(t, got, 1)
	assert.Equal(t, Suggestion{
		ID:          "suggestion-1",
		Category:    "Uncategorized",
		Description: "X",
		Steps:       []string{},
		Priority:    1,
		Reasoning:   "",
	}, got[0])
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		check func(t *testing.T, got []Suggestion)
	}{
		{
			name:  "fallback description",
			input: `[{}]`,
			check: func(t *testing.T, got []Suggestion) {
				assert.Equal(t, "No description", got[0].Description)
			},
		},
		{
			name:  "description wins over title",
			input: `[{"title":"T","description":"D"}]`,
			check: func(t *testing.T, got []Suggestion) {
				assert.Equal(t, "D", got[0].Description)
			},
		},
		{
			name:  "non numeric priority uses position",
			input: `[{"description":"a","priority":"high"},{"description":"b","priority":null}]`,
			check: func(t *testing.T, got []Suggestion) {
				assert.Equal(t, []float64{1, 2}, []float64{got[0].Priority, got[1].Priority})
			},
		},
		{
			name:  "sorted by priority, stable",
			input: `[{"description":"a","priority":3},{"description":"b"},{"description":"c","priority":2},{"description":"d","priority":2}]`,
			check: func(t *testing.T, got []Suggestion) {
				var order []string
				for _, s := range got {
					order = append(order, s.Description)
				}
				// b defaults to position 2 and ties with c and d.
				assert.Equal(t, []string{"b", "c", "d", "a"}, order)
			},
		},
		{
			name:  "non objects dropped",
			input: `[1, "x", null, {"description":"a"}]`,
			check: func(t *testing.T, got []Suggestion) {
				require.Len(t, got, 1)
				assert.Equal(t, float64(1), got[0].Priority)
			},
		},
		{
			name:  "steps coerced",
			input: `[{"description":"a","steps":"not a list"},{"description":"b","steps":["one",2,"three"]}]`,
			check: func(t *testing.T, got []Suggestion) {
				assert.Equal(t, []string{}, got[0].Steps)
				assert.Equal(t, []string{"one", "three"}, got[1].Steps)
			},
		},
		{
			name:  "schema fields kept",
			input: `[{"category":"Perf","description":"cache","steps":["add"],"priority":1,"reasoning":"faster"}]`,
			check: func(t *testing.T, got []Suggestion) {
				assert.Equal(t, "Perf", got[0].Category)
				assert.Equal(t, "faster", got[0].Reasoning)
				assert.Equal(t, []string{"add"}, got[0].Steps)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, Normalize(raw(t, tt.input), seqIDs()))
		})
	}
}

func TestParseSuggestions(t *testing.T) {
	got, err := ParseSuggestions("Analysis...\n```json\n[{\"description\":\"a\",\"priority\":2},{\"description\":\"b\",\"priority\":1}]\n```", seqIDs())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].Description)

	_, err = ParseSuggestions("nothing structured", seqIDs())
	assert.ErrorIs(t, err, errors.ErrParse)
}

func TestGenerate(t *testing.T) {
	runner := agenttest.New(
		agenttest.Text("Exploring.\n"),
		agenttest.Tool("Glob", `{"pattern":"**/*.go"}`),
		agenttest.Text("```json\n[{\"title\":\"Dark mode\"}]\n```"),
		agenttest.Result("ok"),
	)
	bus := event.NewBus()
	progress, _ := bus.SubscribeChan(event.TypeSuggestionsProgress, 8)
	tools, _ := bus.SubscribeChan(event.TypeSuggestionsToolUse, 8)
	complete, _ := bus.SubscribeChan(event.TypeSuggestionsComplete, 1)

	g := New(runner, bus, Config{WorkDir: "/proj"}, nil)
	res, err := g.Generate(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Aborted)
	require.Len(t, res.Suggestions, 1)
	assert.Equal(t, "Dark mode", res.Suggestions[0].Description)
	assert.Regexp(t, `^suggestion-[0-9a-f-]{36}$`, res.Suggestions[0].ID)

	call := runner.Calls()[0]
	assert.Equal(t, DefaultModel, call.Model)
	assert.Equal(t, DefaultMaxTurns, call.MaxTurns)
	assert.Equal(t, DefaultTools, call.AllowedTools)
	assert.Equal(t, "acceptEdits", call.PermissionMode)
	assert.Equal(t, "/proj", call.WorkDir)

	assert.Len(t, progress, 3) // starting notice plus two text blocks
	assert.Len(t, tools, 1)
	ce := (<-complete).(event.SuggestionsCompleteEvent)
	assert.Equal(t, 1, ce.Count)
	assert.False(t, g.Running())
}

func TestGenerate_UnparseableIsEmpty(t *testing.T) {
	g := New(agenttest.New(agenttest.Text("I have no ideas.")), nil, Config{}, nil)
	res, err := g.Generate(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, res.Suggestions)
	assert.Empty(t, res.Suggestions)
}

func TestGenerate_AgentFailure(t *testing.T) {
	g := New(agenttest.New(agenttest.Fail(errors.New("overloaded"))), nil, Config{}, nil)
	_, err := g.Generate(context.Background())
	assert.ErrorContains(t, err, "overloaded")

	g = New(agenttest.New(agenttest.Step{Msg: agent.Message{Type: agent.MessageResult, IsError: true, Text: "max turns"}}), nil, Config{}, nil)
	_, err = g.Generate(context.Background())
	assert.ErrorContains(t, err, "max turns")
}

func TestStop(t *testing.T) {
	hold := make(chan struct{})
	runner := agenttest.New(agenttest.Text("thinking"), agenttest.Hold(hold))
	bus := event.NewBus()
	complete, _ := bus.SubscribeChan(event.TypeSuggestionsComplete, 1)
	g := New(runner, bus, Config{}, nil)

	invoked := runner.Invoked()
	type outcome struct {
		res Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := g.Generate(context.Background())
		done <- outcome{res, err}
	}()
	<-invoked

	g.Stop()
	select {
	case o := <-done:
		require.NoError(t, o.err)
		assert.True(t, o.res.Aborted)
	case <-time.After(3 * time.Second):
		t.Fatal("Generate did not return after Stop")
	}
	assert.True(t, (<-complete).(event.SuggestionsCompleteEvent).Aborted)

	assert.NotPanics(t, g.Stop)
}

func TestGenerate_ReplacesRunningAnalysis(t *testing.T) {
	hold := make(chan struct{})
	first := true
	runner := &agenttest.Runner{Script: func(agent.Invocation) []agenttest.Step {
		if first {
			first = false
			return []agenttest.Step{agenttest.Hold(hold)}
		}
		return []agenttest.Step{agenttest.Text(`[{"description":"x"}]`)}
	}}
	g := New(runner, nil, Config{}, nil)
	invoked := runner.Invoked()

	firstDone := make(chan Result, 1)
	go func() {
		res, _ := g.Generate(context.Background())
		firstDone <- res
	}()
	<-invoked

	res, err := g.Generate(context.Background())
	require.NoError(t, err)
	assert.Len(t, res.Suggestions, 1)

	select {
	case r := <-firstDone:
		assert.True(t, r.Aborted)
	case <-time.After(3 * time.Second):
		t.Fatal("first analysis was not stopped")
	}
}
