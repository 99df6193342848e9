// Package depgraph implements the pure dependency-graph operations over a
// snapshot of features: cycle prevention, blocking checks and ancestor
// traversal.
//
// An edge "B depends on A" is recorded as A's id in B.Dependencies. All
// functions treat their input as read-only and terminate on any input,
// including graphs that are already cyclic.
package depgraph

import (
	"sort"
	"strings"

	"github.com/Iron-Ham/automaker/internal/feature"
)

// DefaultAncestorDepth bounds Ancestors when callers pass a non-positive depth.
const DefaultAncestorDepth = 10

// WouldCreateCycle reports whether recording "targetID depends on sourceID"
// would close a cycle, which is the case iff sourceID already reaches
// targetID through existing dependency edges.
func WouldCreateCycle(features []feature.Feature, sourceID, targetID string) bool {
	deps := adjacency(features)
	visited := make(map[string]bool, len(deps))
	stack := []string{sourceID}

	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id == targetID {
			return true
		}
		if visited[id] {
			continue
		}
		visited[id] = true
		// Push in reverse so the first dependency is explored first.
		next := deps[id]
		for i := len(next) - 1; i >= 0; i-- {
			if !visited[next[i]] {
				stack = append(stack, next[i])
			}
		}
	}
	return false
}

// DependencyExists reports whether targetID directly depends on sourceID.
func DependencyExists(features []feature.Feature, sourceID, targetID string) bool {
	target, ok := feature.Find(features, targetID)
	if !ok {
		return false
	}
	return target.DependsOn(sourceID)
}

// BlockingDependencies returns, in declaration order, the dependencies of f
// that are neither verified nor completed. Unknown ids are not blocking:
// a prerequisite that no longer exists cannot be waited on.
func BlockingDependencies(f feature.Feature, features []feature.Feature) []string {
	if len(f.Dependencies) == 0 {
		return []string{}
	}
	byID := feature.Index(features)
	blocking := []string{}
	for _, id := range f.Dependencies {
		dep, ok := byID[id]
		if ok && !dep.Status.SatisfiesDependency() {
			blocking = append(blocking, id)
		}
	}
	return blocking
}

// IsBlocked reports whether f is a backlog feature waiting on dependencies.
// With enforcement off nothing is blocked.
func IsBlocked(f feature.Feature, features []feature.Feature, enforce bool) bool {
	if !enforce || f.Status != feature.StatusBacklog {
		return false
	}
	return len(BlockingDependencies(f, features)) > 0
}

// Dependents returns the ids of features that directly depend on id, in
// collection order.
func Dependents(features []feature.Feature, id string) []string {
	var out []string
	for _, f := range features {
		if f.DependsOn(id) {
			out = append(out, f.ID)
		}
	}
	return out
}

// Ancestor is one transitive prerequisite of a feature. Depth 0 is a direct
// dependency, 1 a dependency of a dependency, and so on.
type Ancestor struct {
	ID          string
	Title       string
	Description string
	Spec        string
	Summary     string
	Depth       int
}

// Ancestors walks f's dependencies depth-first up to maxDepth hops and
// returns each reachable ancestor once, at the depth it was first seen,
// sorted closest first.
func Ancestors(f feature.Feature, features []feature.Feature, maxDepth int) []Ancestor {
	if maxDepth <= 0 {
		maxDepth = DefaultAncestorDepth
	}
	byID := feature.Index(features)
	seen := map[string]bool{f.ID: true}
	var out []Ancestor

	var walk func(id string, depth int)
	walk = func(id string, depth int) {
		if depth >= maxDepth {
			return
		}
		cur, ok := byID[id]
		if !ok {
			return
		}
		for _, depID := range cur.Dependencies {
			dep, ok := byID[depID]
			if !ok || seen[depID] {
				continue
			}
			seen[depID] = true
			a := Ancestor{
				ID:          dep.ID,
				Title:       dep.DisplayTitle(),
				Description: dep.Description,
				Summary:     dep.Summary,
				Depth:       depth,
			}
			if dep.PlanSpec != nil {
				a.Spec = dep.PlanSpec.Content
			}
			out = append(out, a)
			walk(depID, depth+1)
		}
	}
	walk(f.ID, 0)

	sort.SliceStable(out, func(i, j int) bool { return out[i].Depth < out[j].Depth })
	return out
}

// FormatAncestorContext renders ancestors as a markdown section for an
// agent prompt. It returns "" when there are none.
func FormatAncestorContext(ancestors []Ancestor) string {
	if len(ancestors) == 0 {
		return ""
	}
	sections := make([]string, 0, len(ancestors))
	for _, a := range ancestors {
		parts := []string{"### " + a.Title}
		if a.Description != "" {
			parts = append(parts, "**Description:** "+a.Description)
		}
		if a.Spec != "" {
			parts = append(parts, "**Specification:**\n"+a.Spec)
		}
		if a.Summary != "" {
			parts = append(parts, "**Summary:** "+a.Summary)
		}
		sections = append(sections, strings.Join(parts, "\n\n"))
	}
	return "## Ancestor Context\n\n" + strings.Join(sections, "\n\n---\n\n")
}

// CycleMembers returns the ids that sit on or behind a dependency cycle,
// in collection order, using Kahn's algorithm. A valid graph yields nil.
// Edges to unknown ids are ignored.
func CycleMembers(features []feature.Feature) []string {
	inDegree := make(map[string]int, len(features))
	dependents := make(map[string][]string, len(features))
	for _, f := range features {
		inDegree[f.ID] += 0
	}
	for _, f := range features {
		for _, dep := range f.Dependencies {
			if _, ok := inDegree[dep]; ok {
				inDegree[f.ID]++
				dependents[dep] = append(dependents[dep], f.ID)
			}
		}
	}

	var queue []string
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, d := range dependents[id] {
			inDegree[d]--
			if inDegree[d] == 0 {
				queue = append(queue, d)
			}
		}
	}

	var stuck []string
	for _, f := range features {
		if inDegree[f.ID] > 0 {
			stuck = append(stuck, f.ID)
		}
	}
	return stuck
}

func adjacency(features []feature.Feature) map[string][]string {
	m := make(map[string][]string, len(features))
	for _, f := range features {
		m[f.ID] = f.Dependencies
	}
	return m
}
