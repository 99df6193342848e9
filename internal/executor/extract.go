package executor

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/Iron-Ham/automaker/internal/errors"
	"github.com/Iron-Ham/automaker/internal/prompt"
)

var (
	summaryRe   = regexp.MustCompile(`(?s)` + regexp.QuoteMeta(prompt.SummaryOpen) + `(.*?)` + regexp.QuoteMeta(prompt.SummaryClose))
	jsonFenceRe = regexp.MustCompile("(?s)```json\\s*(.*?)```")
	bareArrayRe = regexp.MustCompile(`(?s)\[\s*\{.*\}\s*\]`)
)

// ExtractSummary returns the contents of the last summary block in text,
// or "" when there is none.
func ExtractSummary(text string) string {
	matches := summaryRe.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return ""
	}
	return strings.TrimSpace(matches[len(matches)-1][1])
}

// ExtractJSONArray finds a JSON array of objects in free-form agent output.
// A ```json fenced block is tried first, then the widest bare [ { ... } ]
// span. The returned error wraps errors.ErrParse.
func ExtractJSONArray(text string) ([]json.RawMessage, error) {
	if m := jsonFenceRe.FindStringSubmatch(text); m != nil {
		var items []json.RawMessage
		if err := json.Unmarshal([]byte(strings.TrimSpace(m[1])), &items); err == nil {
			return items, nil
		}
	}
	if m := bareArrayRe.FindString(text); m != "" {
		var items []json.RawMessage
		if err := json.Unmarshal([]byte(m), &items); err != nil {
			return nil, errors.Wrapf(errors.ErrParse, "bare array: %v", err)
		}
		return items, nil
	}
	return nil, errors.Wrap(errors.ErrParse, "no JSON array found")
}
