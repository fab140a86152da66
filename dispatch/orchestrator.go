package dispatch

import (
	"context"
	"fmt"

	"github.com/hupe1980/agentsquad/assign"
	"github.com/hupe1980/agentsquad/core"
	"github.com/hupe1980/agentsquad/group"
	"github.com/hupe1980/agentsquad/reflection"
)

// orchestrate runs one plan, delegate and synthesize round. Groups without
// an orchestrator fall back to broadcast.
func (d *Dispatcher) orchestrate(ctx context.Context, g group.Group, prompt string) *Report {
	orch, ok := d.groups.Orchestrator(g.ID)
	if !ok {
		d.logger.Info("group has no orchestrator, broadcasting", "group", g.ID)
		return d.broadcast(ctx, g, prompt)
	}

	rep := &Report{GroupID: g.ID, Mode: group.ModeOrchestrator}
	members, _ := d.groups.Members(g.ID)
	workers := d.groups.Workers(g.ID)

	d.phase(g.ID, core.PhasePlanning, orch.Session)

	plan, err := d.ask(ctx, orch, d.contextPrefix(g, members, orch)+planningPrompt(g, workers, prompt))
	if err != nil {
		rep.Err = fmt.Errorf("planning: %w", err)
		d.notice(g.ID, orch.Session, fmt.Sprintf("Planning failed: %v", err), err)
		d.phase(g.ID, core.PhaseComplete, "planning failed")
		return rep
	}
	rep.Plan = plan

	rep.Assignments = assign.ParseAndMerge(plan, sessionNames(workers))
	if len(rep.Assignments) == 0 {
		rep.HandledDirectly = true
		rep.Synthesis = plan
		d.notice(g.ID, orch.Session, "The orchestrator handled the request directly.", nil)
		d.phase(g.ID, core.PhaseComplete, "handled directly")
		return rep
	}

	rep.Results = d.runWorkers(ctx, g, members, workers, prompt, rep.Assignments)

	d.phase(g.ID, core.PhaseSynthesizing, orch.Session)

	synthesis, err := d.ask(ctx, orch, synthesisPrompt(prompt, rep.Results))
	if err != nil {
		rep.Err = fmt.Errorf("synthesis: %w", err)
		d.notice(g.ID, orch.Session, fmt.Sprintf("Synthesis failed: %v", err), err)
	}
	rep.Synthesis = synthesis

	d.phase(g.ID, core.PhaseComplete, "")
	return rep
}

// runWorkers executes one turn per assignment concurrently and waits for
// all of them. A failing worker never affects its siblings.
func (d *Dispatcher) runWorkers(ctx context.Context, g group.Group, members, workers []group.Member, request string, assignments []assign.Assignment) []WorkerResult {
	byName := make(map[string]group.Member, len(workers))
	for _, w := range workers {
		byName[w.Session] = w
	}

	d.phase(g.ID, core.PhaseDispatching, fmt.Sprintf("%d tasks", len(assignments)))

	results := make([]WorkerResult, len(assignments))
	t := d.track(g.ID, len(assignments))

	done := make(chan struct{})
	go func() {
		defer close(done)
		d.fanOut(len(assignments), func(i int) {
			t.begin()
			defer t.end()
			a := assignments[i]
			results[i] = d.runWorker(ctx, g, members, byName[a.Worker], request, a)
		})
	}()

	d.phase(g.ID, core.PhaseWaitingForWorkers, "")
	<-done

	return results
}

func (d *Dispatcher) runWorker(ctx context.Context, g group.Group, members []group.Member, w group.Member, request string, a assign.Assignment) (res WorkerResult) {
	res = WorkerResult{Worker: a.Worker, Task: a.Task}
	start := d.now()

	defer func() {
		if r := recover(); r != nil {
			res.Success = false
			res.Err = fmt.Errorf("worker %s panicked: %v", a.Worker, r)
			d.logger.Error("worker panicked", "session", a.Worker, "panic", r)
		}
		res.Duration = d.now().Sub(start)
	}()

	if w.Session == "" {
		w = group.Member{Session: a.Worker, GroupID: g.ID, Role: group.RoleWorker}
	}

	text, err := d.ask(ctx, w, d.contextPrefix(g, members, w)+workerPrompt(w, request, a.Task))
	res.Model = d.memberModel(w)
	res.Response = text
	if err != nil {
		res.Err = err
		d.logger.Warn("worker failed", "group", g.ID, "session", a.Worker, "error", err)
		d.notice(g.ID, a.Worker, fmt.Sprintf("Task failed: %v", err), err)
		return res
	}
	res.Success = true
	return res
}

func sessionNames(members []group.Member) []string {
	out := make([]string, len(members))
	for i, m := range members {
		out[i] = m.Session
	}
	return out
}

func outcomes(results []WorkerResult) []reflection.WorkerOutcome {
	out := make([]reflection.WorkerOutcome, len(results))
	for i, r := range results {
		out[i] = reflection.WorkerOutcome{
			Worker:   r.Worker,
			Task:     r.Task,
			Model:    r.Model,
			Response: r.Response,
			Success:  r.Success,
			Err:      r.Err,
		}
	}
	return out
}
