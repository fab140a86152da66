package dispatch

import (
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/agentsquad/group"
	"github.com/hupe1980/agentsquad/reflection"
)

// memberModel returns the live model of a member, falling back to its
// preference when the session is unknown.
func (d *Dispatcher) memberModel(m group.Member) string {
	if model, err := d.sessions.Model(m.Session); err == nil && model != "" {
		return model
	}
	if m.PreferredModel != "" {
		return m.PreferredModel
	}
	return "unknown"
}

// contextPrefix tells a recipient who it is and who its peers are.
func (d *Dispatcher) contextPrefix(g group.Group, members []group.Member, self group.Member) string {
	var b strings.Builder

	fmt.Fprintf(&b, "[Group %q]\n", g.Name)
	fmt.Fprintf(&b, "You are %s (%s), running on %s.\n", self.Session, self.Role, d.memberModel(self))

	var peers []group.Member
	for _, m := range members {
		if m.Session != self.Session {
			peers = append(peers, m)
		}
	}
	if len(peers) > 0 {
		b.WriteString("Other members:\n")
		for _, p := range peers {
			fmt.Fprintf(&b, "- %s (%s, %s)\n", p.Session, p.Role, d.memberModel(p))
		}
	}
	if g.SharedContext != "" {
		fmt.Fprintf(&b, "Shared context: %s\n", g.SharedContext)
	}
	b.WriteString("\n")

	return b.String()
}

func planningPrompt(g group.Group, workers []group.Member, request string) string {
	var b strings.Builder

	b.WriteString("You are the orchestrator of a team of agents. Break the request below into tasks and delegate them.\n\n")
	b.WriteString("Workers:\n")
	for _, w := range workers {
		if w.Specialization != "" {
			fmt.Fprintf(&b, "- %s: %s\n", w.Session, w.Specialization)
		} else {
			fmt.Fprintf(&b, "- %s\n", w.Session)
		}
	}
	if g.RoutingContext != "" {
		fmt.Fprintf(&b, "\nRouting notes:\n%s\n", g.RoutingContext)
	}
	if g.SharedContext != "" {
		fmt.Fprintf(&b, "\nShared context:\n%s\n", g.SharedContext)
	}

	b.WriteString("\nDelegate each task with a block of the form:\n\n")
	b.WriteString("@worker:<name>\n<task description>\n@end\n\n")
	b.WriteString("Only use the worker names listed above. If the request needs no delegation, answer it directly without any @worker blocks.\n\n")
	fmt.Fprintf(&b, "Request:\n%s\n", request)

	return b.String()
}

func replanPrompt(g group.Group, workers []group.Member, request string, cycle *reflection.Cycle, iteration int) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Iteration %d of %d toward the goal: %s\n\n", iteration, cycle.Config().MaxIterations, cycle.Goal())
	if feedback := cycle.LastEvaluation(); feedback != "" {
		fmt.Fprintf(&b, "Evaluation of the previous iteration:\n%s\n\n", feedback)
	}
	if notes := cycle.Adjustments(); len(notes) > 0 {
		b.WriteString("Adjustments:\n")
		for _, n := range notes {
			fmt.Fprintf(&b, "- %s\n", n)
		}
		b.WriteString("\n")
	}
	b.WriteString("Plan the next round of work that closes the remaining gaps. ")
	b.WriteString("If nothing is left to delegate, reply without any @worker blocks.\n\n")
	b.WriteString(planningPrompt(g, workers, request))

	return b.String()
}

// workerPrompt follows the context prefix, which already names the worker
// and carries the shared context.
func workerPrompt(w group.Member, request, task string) string {
	var b strings.Builder

	if w.SystemPrompt != "" {
		b.WriteString(w.SystemPrompt)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "Original request:\n%s\n\n", request)
	fmt.Fprintf(&b, "Your task:\n%s\n", task)

	return b.String()
}

func writeResults(b *strings.Builder, results []WorkerResult) {
	for _, r := range results {
		if r.Success {
			fmt.Fprintf(b, "### %s (completed in %s)\n%s\n\n", r.Worker, r.Duration.Round(time.Millisecond), strings.TrimSpace(r.Response))
		} else {
			fmt.Fprintf(b, "### %s (failed: %v)\nTask was: %s\n\n", r.Worker, r.Err, r.Task)
		}
	}
}

func synthesisPrompt(request string, results []WorkerResult) string {
	var b strings.Builder

	b.WriteString("Your workers have finished. Combine their results into one final answer for the user.\n\n")
	fmt.Fprintf(&b, "Original request:\n%s\n\n", request)
	b.WriteString("Results:\n\n")
	writeResults(&b, results)
	b.WriteString("Point out any task that failed.\n")

	return b.String()
}

// selfEvaluationPrompt combines synthesis with a completion decision.
func selfEvaluationPrompt(goal, request string, results []WorkerResult) string {
	var b strings.Builder

	b.WriteString(synthesisPrompt(request, results))
	fmt.Fprintf(&b, "\nThen judge whether the goal is fully achieved: %s\n", goal)
	b.WriteString("End your reply with a line \"SCORE: <0.0-1.0>\" and a line \"RATIONALE: <what is missing>\".\n")
	fmt.Fprintf(&b, "If and only if the goal is fully achieved, include %s.\n", reflection.CompletionSentinel)

	return b.String()
}

// decisionPrompt asks the orchestrator to judge a synthesis it already
// produced. Used when the dedicated evaluator is unavailable.
func decisionPrompt(goal, synthesis string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Judge whether this answer fully achieves the goal: %s\n\n", goal)
	fmt.Fprintf(&b, "Answer:\n%s\n\n", synthesis)
	b.WriteString("Reply with a line \"SCORE: <0.0-1.0>\" and a line \"RATIONALE: <what is missing>\".\n")
	fmt.Fprintf(&b, "If and only if the goal is fully achieved, include %s.\n", reflection.CompletionSentinel)

	return b.String()
}

const evaluatorSystemPrompt = "You are an independent reviewer. You score answers strictly and never do the work yourself."

func evaluatorPrompt(goal, request, synthesis string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Goal:\n%s\n\n", goal)
	fmt.Fprintf(&b, "Original request:\n%s\n\n", request)
	fmt.Fprintf(&b, "Candidate answer:\n%s\n\n", synthesis)
	b.WriteString("Score the answer from 0.0 to 1.0 across correctness, completeness and clarity.\n")
	b.WriteString("Reply exactly in this format:\nSCORE: <number>\nRATIONALE: <one paragraph naming the remaining gaps>\n")
	fmt.Fprintf(&b, "Include %s only if nothing is missing.\n", reflection.CompletionSentinel)

	return b.String()
}
