package prompt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/automaker/internal/depgraph"
	"github.com/Iron-Ham/automaker/internal/feature"
)

func TestFeatureBuilder_Build(t *testing.T) {
	base := feature.Feature{
		ID:          "f-1",
		Category:    "Auth",
		Description: "Add login form",
		Steps:       []string{"Create form", "Wire submit"},
	}

	tests := []struct {
		name        string
		ctx         *Context
		contains    []string
		notContains []string
	}{
		{
			name: "fresh run",
			ctx:  &Context{Feature: base},
			contains: []string{
				"# Feature: Task (f-1)",
				"**Category:** Auth",
				"## Description\n\nAdd login form",
				"1. Create form\n2. Wire submit",
				"## Guidelines",
				"Add or update tests",
				SummaryOpen,
			},
			notContains: []string{"## Ancestor Context", "## Previous Work", "## Follow-up Instructions", "## Planning Mode"},
		},
		{
			name: "ancestors",
			ctx: &Context{Feature: base, Ancestors: []depgraph.Ancestor{
				{ID: "a", Title: "Session store", Description: "Persist sessions", Depth: 0},
			}},
			contains: []string{"## Ancestor Context", "### Session store", "**Description:** Persist sessions"},
		},
		{
			name:     "resume includes prior output",
			ctx:      &Context{Feature: base, Resume: true, PriorContext: "created form.tsx\n"},
			contains: []string{"## Previous Work", "interrupted", "created form.tsx"},
		},
		{
			name:        "prior output ignored on fresh run",
			ctx:         &Context{Feature: base, PriorContext: "stale"},
			notContains: []string{"stale", "## Previous Work"},
		},
		{
			name:        "follow-up",
			ctx:         &Context{Feature: base, FollowUp: "Also add remember-me", PriorContext: "done"},
			contains:    []string{"## Follow-up Instructions\n\nAlso add remember-me", "## Previous Work"},
			notContains: []string{"interrupted"},
		},
		{
			name:        "planning",
			ctx:         &Context{Feature: base, Planning: true},
			contains:    []string{"## Planning Mode", "Do NOT modify any files", "complete plan wrapped in <summary>"},
			notContains: []string{"## Guidelines"},
		},
		{
			name: "approved plan",
			ctx: &Context{Feature: func() feature.Feature {
				f := base.Clone()
				f.PlanSpec = &feature.PlanSpec{Status: feature.PlanApproved, Content: "1. edit login.tsx"}
				return f
			}()},
			contains: []string{"## Approved Plan", "1. edit login.tsx"},
		},
		{
			name: "skip tests",
			ctx: &Context{Feature: func() feature.Feature {
				f := base.Clone()
				f.SkipTests = true
				return f
			}()},
			contains:    []string{"verified manually"},
			notContains: []string{"Add or update tests"},
		},
	}

	b := NewFeatureBuilder()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := b.Build(tt.ctx)
			require.NoError(t, err)
			for _, s := range tt.contains {
				assert.Contains(t, got, s)
			}
			for _, s := range tt.notContains {
				assert.NotContains(t, got, s)
			}
		})
	}
}

func TestFeatureBuilder_Errors(t *testing.T) {
	b := NewFeatureBuilder()

	_, err := b.Build(nil)
	assert.ErrorIs(t, err, ErrNilContext)

	_, err = b.Build(&Context{Feature: feature.Feature{ID: "x"}})
	assert.ErrorIs(t, err, ErrEmptyFeature)

	got, err := b.Build(&Context{Feature: feature.Feature{ID: "x", Title: "Only a title"}})
	require.NoError(t, err)
	assert.Contains(t, got, "## Description\n\nOnly a title")
}

func TestSystemPrompt(t *testing.T) {
	assert.Contains(t, SystemPrompt(true), "make no changes")
	assert.NotEqual(t, SystemPrompt(true), SystemPrompt(false))
}
