// Package prompt builds the prompts sent to the coding agent for feature
// runs and project analysis.
package prompt

import (
	"fmt"
	"strings"

	"github.com/Iron-Ham/automaker/internal/depgraph"
	"github.com/Iron-Ham/automaker/internal/errors"
	"github.com/Iron-Ham/automaker/internal/feature"
)

// SummaryOpen and SummaryClose delimit the run summary the agent is asked
// to emit at the end of its response.
const (
	SummaryOpen  = "<summary>"
	SummaryClose = "</summary>"
)

var (
	// ErrNilContext is returned when Build is called without a context.
	ErrNilContext = errors.New("prompt context is nil")
	// ErrEmptyFeature is returned when the feature has nothing to work from.
	ErrEmptyFeature = errors.New("feature has no id or description")
)

// Context carries everything a feature prompt can include.
type Context struct {
	Feature   feature.Feature
	Ancestors []depgraph.Ancestor
	// PriorContext is the persisted output of earlier runs, included on
	// resume and follow-up.
	PriorContext string
	// FollowUp holds additional instructions for a follow-up run.
	FollowUp string
	Resume   bool
	// Planning asks for a plan instead of an implementation.
	Planning bool
}

// FeatureBuilder builds the user prompt for a feature run.
type FeatureBuilder struct{}

// NewFeatureBuilder creates a new FeatureBuilder.
func NewFeatureBuilder() *FeatureBuilder {
	return &FeatureBuilder{}
}

// Build generates the prompt for ctx.
func (b *FeatureBuilder) Build(ctx *Context) (string, error) {
	if ctx == nil {
		return "", ErrNilContext
	}
	f := ctx.Feature
	if f.ID == "" || (strings.TrimSpace(f.Description) == "" && strings.TrimSpace(f.Title) == "") {
		return "", ErrEmptyFeature
	}

	var sb strings.Builder

	fmt.Fprintf(&sb, "# Feature: %s\n\n", f.DisplayTitle())
	if f.Category != "" {
		fmt.Fprintf(&sb, "**Category:** %s\n\n", f.Category)
	}

	sb.WriteString("## Description\n\n")
	if f.Description != "" {
		sb.WriteString(f.Description)
	} else {
		sb.WriteString(f.Title)
	}
	sb.WriteString("\n\n")

	if len(f.Steps) > 0 {
		sb.WriteString("## Steps\n\n")
		for i, step := range f.Steps {
			fmt.Fprintf(&sb, "%d. %s\n", i+1, step)
		}
		sb.WriteString("\n")
	}

	if ac := depgraph.FormatAncestorContext(ctx.Ancestors); ac != "" {
		sb.WriteString(ac)
		sb.WriteString("\n\n")
		sb.WriteString("The features above are dependencies of this one and are already implemented. Build on their work.\n\n")
	}

	if f.PlanSpec != nil && f.PlanSpec.Status == feature.PlanApproved && !ctx.Planning {
		sb.WriteString("## Approved Plan\n\n")
		sb.WriteString(f.PlanSpec.Content)
		sb.WriteString("\n\nImplement the feature following this plan.\n\n")
	}

	if ctx.PriorContext != "" && (ctx.Resume || ctx.FollowUp != "") {
		sb.WriteString("## Previous Work\n\n")
		if ctx.Resume {
			sb.WriteString("A previous run of this feature was interrupted. Its output is below. ")
			sb.WriteString("Review what was already done and continue from where it stopped instead of starting over.\n\n")
		}
		sb.WriteString("```\n")
		sb.WriteString(strings.TrimRight(ctx.PriorContext, "\n"))
		sb.WriteString("\n```\n\n")
	}

	if ctx.FollowUp != "" {
		sb.WriteString("## Follow-up Instructions\n\n")
		sb.WriteString(ctx.FollowUp)
		sb.WriteString("\n\n")
	}

	if ctx.Planning {
		b.writePlanningInstructions(&sb)
	} else {
		b.writeImplementationInstructions(&sb, f)
	}
	b.writeSummaryProtocol(&sb, ctx.Planning)

	return sb.String(), nil
}

func (b *FeatureBuilder) writePlanningInstructions(sb *strings.Builder) {
	sb.WriteString("## Planning Mode\n\n")
	sb.WriteString("Do NOT modify any files. Explore the codebase and write a concrete implementation plan: ")
	sb.WriteString("the files to change, the approach for each, and how the result will be verified. ")
	sb.WriteString("The plan will be reviewed and approved before implementation starts.\n\n")
}

func (b *FeatureBuilder) writeImplementationInstructions(sb *strings.Builder, f feature.Feature) {
	sb.WriteString("## Guidelines\n\n")
	sb.WriteString("- Follow the existing code style and patterns of the project\n")
	sb.WriteString("- Keep changes focused on this feature\n")
	if f.SkipTests {
		sb.WriteString("- Automated tests are not required for this feature; it will be verified manually\n")
	} else {
		sb.WriteString("- Add or update tests and make sure they pass before finishing\n")
	}
	sb.WriteString("\n")
}

func (b *FeatureBuilder) writeSummaryProtocol(sb *strings.Builder, planning bool) {
	sb.WriteString("## Summary\n\n")
	if planning {
		fmt.Fprintf(sb, "End your response with the complete plan wrapped in %s%s tags.\n", SummaryOpen, SummaryClose)
		return
	}
	fmt.Fprintf(sb, "When you are done, end your response with a short summary of what you changed wrapped in %s%s tags.\n", SummaryOpen, SummaryClose)
}

// SystemPrompt returns the system prompt appended for feature runs.
func SystemPrompt(planning bool) string {
	if planning {
		return "You are an expert software engineer planning a feature in an existing codebase. " +
			"Read and search freely but make no changes."
	}
	return "You are an expert software engineer implementing a feature in an existing codebase. " +
		"Work autonomously, verify your changes, and finish with a summary."
}
