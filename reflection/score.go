package reflection

import (
	"strconv"
	"strings"
)

const (
	// CompletionSentinel marks an output that declares the goal achieved.
	CompletionSentinel = "[[GOAL_COMPLETE]]"

	// DefaultScore is used when an evaluation carries no parsable score.
	DefaultScore = 0.5

	scoreLabel     = "SCORE:"
	rationaleLabel = "RATIONALE:"
)

// IsComplete reports whether text contains the completion sentinel.
func IsComplete(text string) bool {
	return strings.Contains(text, CompletionSentinel)
}

// ParseScore reads the SCORE:/RATIONALE: convention. Scores are clamped to
// [0,1]; a "n/d" fraction such as 8/10 is normalised. Text without a
// parsable score yields DefaultScore and the full trimmed text.
func ParseScore(text string) (float64, string) {
	trimmed := strings.TrimSpace(text)

	idx := indexFold(trimmed, scoreLabel)
	if idx < 0 {
		return DefaultScore, trimmed
	}

	score, ok := parseNumber(trimmed[idx+len(scoreLabel):])
	if !ok {
		score = DefaultScore
	}

	rationale := ""
	if r := indexFold(trimmed, rationaleLabel); r >= 0 {
		rationale = strings.TrimSpace(strings.TrimLeft(trimmed[r+len(rationaleLabel):], "* \t"))
	} else {
		rationale = strings.TrimSpace(removeLine(trimmed, idx))
	}
	if rationale == "" {
		rationale = trimmed
	}

	return clamp(score), rationale
}

func parseNumber(s string) (float64, bool) {
	s = strings.TrimLeft(s, " \t*")
	start := 0
	if len(s) > 0 && (s[0] == '-' || s[0] == '+') {
		start = 1
	}
	end := start
	for end < len(s) && (s[end] >= '0' && s[end] <= '9' || s[end] == '.') {
		end++
	}
	if end == start {
		return 0, false
	}
	v, err := strconv.ParseFloat(s[:end], 64)
	if err != nil {
		return 0, false
	}

	rest := strings.TrimLeft(s[end:], " ")
	if strings.HasPrefix(rest, "/") {
		if d, ok := parseNumber(rest[1:]); ok && d > 0 {
			return v / d, true
		}
	}
	return v, true
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func indexFold(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if strings.EqualFold(s[i:i+len(substr)], substr) {
			return i
		}
	}
	return -1
}

func removeLine(s string, at int) string {
	start := strings.LastIndexByte(s[:at], '\n') + 1
	end := strings.IndexByte(s[at:], '\n')
	if end < 0 {
		return s[:start]
	}
	return s[:start] + s[at+end+1:]
}
