package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hupe1980/agentsquad/assign"
	"github.com/hupe1980/agentsquad/core"
	"github.com/hupe1980/agentsquad/group"
	"github.com/hupe1980/agentsquad/logging"
	"github.com/hupe1980/agentsquad/notify"
	"github.com/hupe1980/agentsquad/reflection"
)

// verdict is the evaluation of one reflection iteration.
type verdict struct {
	synthesis string
	score     float64
	rationale string
	model     string
	complete  bool
}

// reflect drives the group's reflection cycle until it reaches an outcome.
func (d *Dispatcher) reflect(ctx context.Context, g group.Group, prompt string) *Report {
	orch, ok := d.groups.Orchestrator(g.ID)
	if !ok {
		d.logger.Info("reflect group has no orchestrator, broadcasting", "group", g.ID)
		return d.broadcast(ctx, g, prompt)
	}

	cycle := g.Reflection
	rep := &Report{GroupID: g.ID, Mode: group.ModeOrchestratorReflect}
	members, _ := d.groups.Members(g.ID)
	workers := d.groups.Workers(g.ID)
	workerNames := sessionNames(workers)

	evaluator := d.startEvaluator(ctx, g, cycle)
	if evaluator != "" {
		defer d.stopEvaluator(g, cycle, evaluator)
	}

	var lastErr error

	for {
		if err := ctx.Err(); err != nil {
			cycle.Cancel("dispatch cancelled")
			break
		}

		iteration, ok := cycle.Next()
		if !ok {
			break
		}

		d.logger.Info("reflection iteration started", "group", g.ID, "iteration", iteration)
		d.phase(g.ID, core.PhasePlanning, fmt.Sprintf("iteration %d", iteration))

		planPrompt := planningPrompt(g, workers, prompt)
		if iteration > 1 {
			planPrompt = replanPrompt(g, workers, prompt, cycle, iteration)
		}

		plan, err := d.ask(ctx, orch, d.contextPrefix(g, members, orch)+planPrompt)
		if err != nil {
			lastErr = fmt.Errorf("iteration %d planning: %w", iteration, err)
			if d.iterationFailed(g, orch, cycle, lastErr) {
				break
			}
			continue
		}
		rep.Plan = plan

		assignments := assign.ParseAndMerge(plan, workerNames)
		if len(assignments) == 0 {
			if iteration == 1 {
				lastErr = fmt.Errorf("iteration 1: %w", core.ErrParseEmpty)
				if d.iterationFailed(g, orch, cycle, lastErr) {
					break
				}
				continue
			}
			rep.Synthesis = plan
			cycle.MarkGoalMet("orchestrator found nothing left to delegate")
			break
		}
		rep.Assignments = assignments

		rep.Results = d.runWorkers(ctx, g, members, workers, prompt, assignments)

		v, err := d.evaluate(ctx, g, orch, evaluator, cycle, prompt, rep.Results)
		if err != nil {
			lastErr = fmt.Errorf("iteration %d evaluation: %w", iteration, err)
			if d.iterationFailed(g, orch, cycle, lastErr) {
				break
			}
			continue
		}
		rep.Synthesis = v.synthesis
		lastErr = nil

		cycle.RecordEvaluation(v.score, v.rationale, v.model)

		prev, hasPrev := cycle.PreviousScore()
		notes := reflection.Adjust(cycle.Config(), outcomes(rep.Results), v.score, prev, hasPrev)
		cycle.SetAdjustments(notes)
		if len(notes) > 0 {
			d.notice(g.ID, orch.Session, "Adjustments for the next iteration:\n- "+strings.Join(notes, "\n- "), nil)
		}

		if v.complete {
			cycle.MarkGoalMet(fmt.Sprintf("goal met at iteration %d with score %.2f", iteration, v.score))
			d.publishProgress(g.ID, cycle, v.score, false)
			break
		}

		similarity, flagged, terminal := cycle.CheckStall(v.synthesis)
		if flagged && !terminal {
			d.notice(g.ID, orch.Session, fmt.Sprintf("Warning: output is %.0f%% similar to the previous iteration.", similarity*100), nil)
		}

		d.publishProgress(g.ID, cycle, v.score, false)

		if l, ok := d.logger.(logging.ReflectionLogger); ok {
			l.LogReflection(g.ID, iteration, v.score, similarity, len(notes))
		}

		if terminal {
			d.notice(g.ID, orch.Session, "Reflection stopped: the output stopped changing between iterations.", nil)
			break
		}
	}

	outcome := cycle.Finish()
	state := cycle.Snapshot()
	rep.Reflection = &state

	if outcome == reflection.OutcomeStalled && state.ConsecutiveErrors >= cycle.Config().ErrorLimit {
		rep.Err = fmt.Errorf("%w: %v", core.ErrConsecutiveFailureLimit, lastErr)
	}

	d.logger.Info("reflection finished", "group", g.ID, "outcome", string(outcome), "iterations", state.Iteration, "reason", state.Reason)
	d.publishProgress(g.ID, cycle, lastScore(state), true)
	d.groups.Touch(g.ID)
	d.phase(g.ID, core.PhaseComplete, string(outcome))

	return rep
}

// iterationFailed records an iteration error and reports whether the cycle
// ended because of it.
func (d *Dispatcher) iterationFailed(g group.Group, orch group.Member, cycle *reflection.Cycle, err error) bool {
	d.logger.Warn("reflection iteration failed", "group", g.ID, "error", err)
	if cycle.RecordError(err.Error()) {
		d.notice(g.ID, orch.Session, fmt.Sprintf("Reflection stopped after repeated failures: %v", err), err)
		return true
	}
	d.notice(g.ID, orch.Session, fmt.Sprintf("Iteration failed, retrying: %v", err), err)
	return false
}

// evaluate synthesizes the iteration's results and scores them, either
// with the dedicated evaluator or by orchestrator self-evaluation.
func (d *Dispatcher) evaluate(ctx context.Context, g group.Group, orch group.Member, evaluator string, cycle *reflection.Cycle, request string, results []WorkerResult) (verdict, error) {
	d.phase(g.ID, core.PhaseSynthesizing, orch.Session)

	if evaluator == "" {
		text, err := d.ask(ctx, orch, selfEvaluationPrompt(cycle.Goal(), request, results))
		if err != nil {
			return verdict{}, err
		}
		d.phase(g.ID, core.PhaseEvaluating, orch.Session)
		return d.selfVerdict(cycle, text, text, d.memberModel(orch)), nil
	}

	synthesis, err := d.ask(ctx, orch, synthesisPrompt(request, results))
	if err != nil {
		return verdict{}, err
	}

	d.phase(g.ID, core.PhaseEvaluating, evaluator)

	v, err := d.independentVerdict(ctx, evaluator, cycle, request, synthesis)
	if err == nil {
		return v, nil
	}

	d.logger.Warn("evaluator unavailable, falling back to self-evaluation", "group", g.ID, "evaluator", evaluator, "error", err)
	d.bus.Publish(notify.ErrorNotice{GroupID: g.ID, Session: evaluator, Message: "evaluator unavailable", Err: err, At: d.now()})

	text, err := d.ask(ctx, orch, decisionPrompt(cycle.Goal(), synthesis))
	if err != nil {
		return verdict{}, err
	}
	return d.selfVerdict(cycle, synthesis, text, d.memberModel(orch)), nil
}

// selfVerdict scores an orchestrator judgement. Without an explicit score
// the sentinel decides between the goal score and the default.
func (d *Dispatcher) selfVerdict(cycle *reflection.Cycle, synthesis, judgement, model string) verdict {
	complete := reflection.IsComplete(judgement)
	score, rationale := reflection.ParseScore(judgement)
	if !strings.Contains(strings.ToUpper(judgement), "SCORE:") && complete {
		score = cycle.Config().GoalScore
	}
	return verdict{
		synthesis: stripSentinel(synthesis),
		score:     score,
		rationale: stripSentinel(rationale),
		model:     model,
		complete:  complete,
	}
}

func (d *Dispatcher) independentVerdict(ctx context.Context, evaluator string, cycle *reflection.Cycle, request, synthesis string) (verdict, error) {
	ectx := ctx
	if d.config.EvaluatorTimeout > 0 {
		var cancel context.CancelFunc
		ectx, cancel = context.WithTimeout(ctx, d.config.EvaluatorTimeout)
		defer cancel()
	}

	res, err := d.sessions.SendAndWait(ectx, evaluator, evaluatorPrompt(cycle.Goal(), request, synthesis))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			if aerr := d.sessions.Abort(context.WithoutCancel(ctx), evaluator); aerr != nil {
				d.logger.Warn("evaluator abort failed", "session", evaluator, "error", aerr)
			}
			return verdict{}, fmt.Errorf("%w: %v", core.ErrEvaluatorTimeout, err)
		}
		return verdict{}, fmt.Errorf("%w: %v", core.ErrEvaluatorFault, err)
	}

	score, rationale := reflection.ParseScore(res.Text)
	model, _ := d.sessions.Model(evaluator)

	return verdict{
		synthesis: stripSentinel(synthesis),
		score:     score,
		rationale: stripSentinel(rationale),
		model:     model,
		complete:  score >= cycle.Config().GoalScore || reflection.IsComplete(res.Text),
	}, nil
}

// startEvaluator creates the dedicated evaluator session when the cycle
// asks for one. It returns "" when evaluation stays with the orchestrator.
func (d *Dispatcher) startEvaluator(ctx context.Context, g group.Group, cycle *reflection.Cycle) string {
	if name := cycle.EvaluatorSession(); name != "" {
		return name
	}

	model := cycle.EvaluatorModel()
	if model == "" {
		return ""
	}

	base := g.Name
	if base == "" {
		base = g.ID
	}
	name := base + "-evaluator"

	_, err := d.sessions.Create(ctx, core.SessionSpec{Name: name, Model: model, SystemPrompt: evaluatorSystemPrompt})
	if err != nil && !errors.Is(err, core.ErrSessionExists) {
		d.logger.Warn("evaluator session unavailable, using self-evaluation", "group", g.ID, "error", err)
		return ""
	}

	cycle.SetEvaluatorSession(name)
	d.logger.Info("evaluator session started", "group", g.ID, "session", name, "model", model)
	return name
}

// stopEvaluator tears the evaluator down once the cycle is terminal.
func (d *Dispatcher) stopEvaluator(g group.Group, cycle *reflection.Cycle, name string) {
	if !cycle.IsTerminal() {
		return
	}
	if err := d.sessions.Close(context.Background(), name); err != nil {
		d.logger.Warn("evaluator close failed", "group", g.ID, "session", name, "error", err)
	}
}

func (d *Dispatcher) publishProgress(groupID string, cycle *reflection.Cycle, score float64, terminal bool) {
	s := cycle.Snapshot()
	d.bus.Publish(notify.ReflectionProgress{
		GroupID:       groupID,
		Iteration:     s.Iteration,
		MaxIterations: s.MaxIterations,
		Score:         score,
		Similarity:    s.LastSimilarity,
		Adjustments:   s.Adjustments,
		Terminal:      terminal,
		Outcome:       string(s.Outcome()),
		At:            d.now(),
	})
}

func lastScore(s reflection.State) float64 {
	if n := len(s.Evaluations); n > 0 {
		return s.Evaluations[n-1].Score
	}
	return 0
}

func stripSentinel(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, reflection.CompletionSentinel, ""))
}
