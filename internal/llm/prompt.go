package llm

import (
	"strconv"
	"strings"

	"github.com/yangchao228/ScoutX/internal/models"
)

// RenderPrompt fills the {title}, {url}, {description} and {comments} placeholders.
func RenderPrompt(tmpl string, item models.Item) string {
	return strings.NewReplacer(
		"{title}", item.Title,
		"{url}", item.URL,
		"{description}", item.Description,
		"{comments}", strings.Join(item.Comments, "\n"),
	).Replace(tmpl)
}

// ParseVerdict reads a pass/fail signal and score from free text. "FALSE"
// without any "TRUE" fails; otherwise the item passes when "TRUE" appears.
// The score is the first token that parses as a number once "/" is treated as
// a separator, so "8/10" scores 8.
func ParseVerdict(text string) models.Verdict {
	normalized := strings.TrimSpace(text)
	upper := strings.ToUpper(normalized)

	var passed bool
	if strings.Contains(upper, "FALSE") && !strings.Contains(upper, "TRUE") {
		passed = false
	} else {
		passed = strings.Contains(upper, "TRUE")
	}

	var score float64
	for _, token := range strings.Fields(strings.ReplaceAll(normalized, "/", " ")) {
		if v, err := strconv.ParseFloat(token, 64); err == nil {
			score = v
			break
		}
	}

	return models.Verdict{Passed: passed, Score: score, Rationale: normalized}
}

// SplitSegments splits text on blank lines, dropping empty segments.
func SplitSegments(text string) models.Summary {
	var out models.Summary
	for _, seg := range strings.Split(strings.TrimSpace(text), "\n\n") {
		if seg = strings.TrimSpace(seg); seg != "" {
			out = append(out, seg)
		}
	}
	return out
}

// FallbackSummary is the single-segment summary used when generation is disabled.
func FallbackSummary(item models.Item) models.Summary {
	return models.Summary{strings.TrimSpace(item.Title + "\n" + item.URL + "\n\n" + item.Description)}
}
