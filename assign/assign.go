package assign

import "strings"

// Separator joins multiple tasks merged into one assignment.
const Separator = "\n\n---\n\n"

// Assignment is a unit of work delegated to a worker.
type Assignment struct {
	Worker string
	Task   string
}

// Parse extracts assignments from text in source order. Worker names are
// resolved against workers and blocks with empty bodies or unresolvable
// names are dropped.
func Parse(text string, workers []string) []Assignment {
	var (
		out  []Assignment
		open bool
		name string
		body strings.Builder
	)

	emit := func() {
		if !open {
			return
		}
		open = false
		task := strings.TrimSpace(body.String())
		body.Reset()
		if task == "" {
			return
		}
		if w, ok := Resolve(name, workers); ok {
			out = append(out, Assignment{Worker: w, Task: task})
		}
	}

	for _, tok := range Tokenize(text) {
		switch tok.Kind {
		case TokenMarker:
			emit()
			open = true
			name = tok.Text
		case TokenText:
			if open {
				body.WriteString(tok.Text)
			}
		case TokenEnd:
			emit()
		}
	}
	emit()

	return out
}

// Resolve maps a raw name to one of workers. An exact case-insensitive
// match wins; otherwise the first worker whose name contains, or is
// contained in, the raw name is returned.
func Resolve(name string, workers []string) (string, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", false
	}

	for _, w := range workers {
		if strings.EqualFold(w, name) {
			return w, true
		}
	}

	lower := strings.ToLower(name)
	for _, w := range workers {
		lw := strings.ToLower(w)
		if lw == "" {
			continue
		}
		if strings.Contains(lw, lower) || strings.Contains(lower, lw) {
			return w, true
		}
	}

	return "", false
}

// Merge groups assignments by worker, case-insensitively, joining their
// tasks with Separator. Workers keep their first-seen order.
func Merge(assignments []Assignment) []Assignment {
	var (
		out   []Assignment
		index = make(map[string]int, len(assignments))
	)

	for _, a := range assignments {
		key := strings.ToLower(a.Worker)
		if i, ok := index[key]; ok {
			out[i].Task += Separator + a.Task
			continue
		}
		index[key] = len(out)
		out = append(out, a)
	}

	return out
}

// ParseAndMerge parses text and merges assignments per worker.
func ParseAndMerge(text string, workers []string) []Assignment {
	return Merge(Parse(text, workers))
}
