package feature

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus(t *testing.T) {
	for _, s := range Statuses() {
		assert.True(t, s.Valid(), s)
	}
	assert.False(t, Status("blocked").Valid())

	assert.True(t, StatusVerified.SatisfiesDependency())
	assert.True(t, StatusCompleted.SatisfiesDependency())
	assert.False(t, StatusWaitingApproval.SatisfiesDependency())
	assert.False(t, StatusBacklog.SatisfiesDependency())
}

func TestThinkingLevel(t *testing.T) {
	assert.True(t, ThinkingLevel("").Valid())
	assert.True(t, ThinkingUltrathink.Valid())
	assert.False(t, ThinkingLevel("extreme").Valid())

	assert.Equal(t, 0, ThinkingNone.TokenBudget())
	assert.Equal(t, 1024, ThinkingLow.TokenBudget())
	assert.Equal(t, 10000, ThinkingMedium.TokenBudget())
	assert.Equal(t, 16000, ThinkingHigh.TokenBudget())
	assert.Equal(t, 32000, ThinkingUltrathink.TokenBudget())
}

func TestClone_IsDeep(t *testing.T) {
	now := time.Now()
	orig := Feature{
		ID:           "a",
		Steps:        []string{"one"},
		Dependencies: []string{"b"},
		StartedAt:    &now,
		PlanSpec:     &PlanSpec{Status: PlanGenerated, Content: "plan", GeneratedAt: &now},
	}

	c := orig.Clone()
	c.Steps[0] = "changed"
	c.Dependencies[0] = "z"
	*c.StartedAt = now.Add(time.Hour)
	c.PlanSpec.Content = "other"
	*c.PlanSpec.GeneratedAt = now.Add(time.Hour)

	assert.Equal(t, "one", orig.Steps[0])
	assert.Equal(t, "b", orig.Dependencies[0])
	assert.Equal(t, now, *orig.StartedAt)
	assert.Equal(t, "plan", orig.PlanSpec.Content)
	assert.Equal(t, now, *orig.PlanSpec.GeneratedAt)
}

func TestNormalize(t *testing.T) {
	f := Feature{ID: "a", Dependencies: []string{"b", "a", "", "c", "b"}}
	f.Normalize()
	assert.Equal(t, []string{"b", "c"}, f.Dependencies)
	assert.NotNil(t, f.Steps)
	assert.Empty(t, f.Steps)

	g := Feature{ID: "a", Dependencies: []string{"a"}}
	g.Normalize()
	assert.Nil(t, g.Dependencies)
}

func TestIsJustFinished(t *testing.T) {
	now := time.Now()
	recent := now.Add(-time.Minute)
	old := now.Add(-3 * time.Minute)

	tests := []struct {
		name string
		f    Feature
		want bool
	}{
		{"recent", Feature{Status: StatusWaitingApproval, JustFinishedAt: &recent}, true},
		{"old", Feature{Status: StatusWaitingApproval, JustFinishedAt: &old}, false},
		{"with error", Feature{Status: StatusWaitingApproval, JustFinishedAt: &recent, Error: "x"}, false},
		{"verified", Feature{Status: StatusVerified, JustFinishedAt: &recent}, false},
		{"never finished", Feature{Status: StatusWaitingApproval}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.f.IsJustFinished(now))
		})
	}
}

func TestDisplayTitle(t *testing.T) {
	assert.Equal(t, "Login", Feature{ID: "0123456789", Title: "Login"}.DisplayTitle())
	assert.Equal(t, "Task (01234567)", Feature{ID: "0123456789"}.DisplayTitle())
	assert.Equal(t, "Task (ab)", Feature{ID: "ab"}.DisplayTitle())
}

func TestFeatureJSON(t *testing.T) {
	raw := `{"id":"f1","category":"Core","description":"Do it","steps":["a"],"status":"backlog",
		"dependencies":["f0"],"skipTests":true,"thinkingLevel":"high",
		"planSpec":{"status":"generated","content":"p"},"createdAt":"2024-01-02T03:04:05Z"}`

	var f Feature
	require.NoError(t, json.Unmarshal([]byte(raw), &f))
	assert.Equal(t, StatusBacklog, f.Status)
	assert.Equal(t, []string{"f0"}, f.Dependencies)
	assert.True(t, f.SkipTests)
	assert.Equal(t, ThinkingHigh, f.ThinkingLevel)
	require.NotNil(t, f.PlanSpec)
	assert.Equal(t, PlanGenerated, f.PlanSpec.Status)

	out, err := json.Marshal(Feature{ID: "x", Status: StatusBacklog})
	require.NoError(t, err)
	assert.NotContains(t, string(out), "startedAt")
	assert.NotContains(t, string(out), "planSpec")
}

func TestFindAndIndex(t *testing.T) {
	fs := []Feature{{ID: "a"}, {ID: "b"}}
	f, ok := Find(fs, "b")
	assert.True(t, ok)
	assert.Equal(t, "b", f.ID)
	_, ok = Find(fs, "c")
	assert.False(t, ok)
	assert.Len(t, Index(fs), 2)
}

func TestNeedsPlan(t *testing.T) {
	assert.False(t, Feature{}.NeedsPlan())
	assert.True(t, Feature{RequirePlanApproval: true}.NeedsPlan())
	assert.True(t, Feature{RequirePlanApproval: true, PlanSpec: &PlanSpec{Status: PlanGenerated}}.NeedsPlan())
	assert.False(t, Feature{RequirePlanApproval: true, PlanSpec: &PlanSpec{Status: PlanApproved}}.NeedsPlan())
}
