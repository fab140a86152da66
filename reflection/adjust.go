package reflection

import (
	"fmt"
	"strings"
)

var costOptimizedMarkers = []string{"mini", "haiku", "flash", "nano"}

// IsCostOptimized reports whether model names a small, cheap model tier.
func IsCostOptimized(model string) bool {
	lower := strings.ToLower(model)
	for _, m := range costOptimizedMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// WorkerOutcome is the result of one delegated task as seen by the
// adjustment rules.
type WorkerOutcome struct {
	Worker   string
	Task     string
	Model    string
	Response string
	Success  bool
	Err      error
}

// Adjust derives advisory notes from one iteration: failed workers are
// queued for reassignment, short successful replies from cost-optimized
// models suggest an upgrade, and a score drop of at least the configured
// delta flags degradation. prev is ignored unless hasPrev is set.
func Adjust(cfg Config, outcomes []WorkerOutcome, score, prev float64, hasPrev bool) []string {
	var notes []string

	for _, o := range outcomes {
		switch {
		case !o.Success:
			reason := "no response"
			if o.Err != nil {
				reason = o.Err.Error()
			}
			notes = append(notes, fmt.Sprintf("Reassign: %s failed (%s); retry its task: %s", o.Worker, reason, truncate(o.Task, 160)))
		case len(strings.TrimSpace(o.Response)) < cfg.ShortResponseChars && IsCostOptimized(o.Model):
			notes = append(notes, fmt.Sprintf("Upgrade: %s answered in %d characters on %s; consider a more capable model.",
				o.Worker, len(strings.TrimSpace(o.Response)), o.Model))
		}
	}

	if hasPrev && prev-score >= cfg.DegradationDelta-1e-9 {
		notes = append(notes, fmt.Sprintf("Degradation: score dropped from %.2f to %.2f; revisit what changed since the previous iteration.", prev, score))
	}

	return notes
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
