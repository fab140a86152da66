package reflection

import (
	"sync"
	"time"
)

// Config tunes a reflection cycle.
type Config struct {
	// MaxIterations bounds the loop.
	MaxIterations int

	// GoalScore is the evaluator score that ends the cycle as met.
	GoalScore float64

	// StallThreshold is the similarity at or above which two consecutive
	// outputs are flagged as a stall.
	StallThreshold float64

	// StallLimit is the number of consecutive stall-flagged iterations
	// that ends the cycle.
	StallLimit int

	// ErrorLimit is the number of consecutive failed attempts at the same
	// iteration that ends the cycle.
	ErrorLimit int

	// DegradationDelta is the score drop that is flagged as degradation.
	DegradationDelta float64

	// ShortResponseChars is the reply length under which cost-optimized
	// workers get an upgrade suggestion.
	ShortResponseChars int

	// Similarity compares consecutive outputs. Defaults to Jaccard.
	Similarity Similarity
}

// DefaultConfig provides the standard reflection parameters.
var DefaultConfig = Config{
	MaxIterations:      5,
	GoalScore:          0.9,
	StallThreshold:     0.9,
	StallLimit:         2,
	ErrorLimit:         3,
	DegradationDelta:   0.15,
	ShortResponseChars: 100,
	Similarity:         Jaccard,
}

// Outcome is the terminal result of a cycle.
type Outcome string

const (
	OutcomeNone      Outcome = ""
	OutcomeGoalMet   Outcome = "goal_met"
	OutcomeStalled   Outcome = "stalled"
	OutcomeCancelled Outcome = "cancelled"
)

// Evaluation is one scored iteration.
type Evaluation struct {
	Iteration      int       `json:"iteration" yaml:"iteration"`
	Score          float64   `json:"score" yaml:"score"`
	Rationale      string    `json:"rationale" yaml:"rationale"`
	EvaluatorModel string    `json:"evaluator_model,omitempty" yaml:"evaluator_model,omitempty"`
	At             time.Time `json:"at" yaml:"at"`
}

// State is a point-in-time copy of a cycle.
type State struct {
	Goal              string       `json:"goal" yaml:"goal"`
	MaxIterations     int          `json:"max_iterations" yaml:"max_iterations"`
	Iteration         int          `json:"iteration" yaml:"iteration"`
	InIteration       bool         `json:"in_iteration,omitempty" yaml:"in_iteration,omitempty"`
	GoalMet           bool         `json:"goal_met" yaml:"goal_met"`
	IsStalled         bool         `json:"is_stalled" yaml:"is_stalled"`
	IsCancelled       bool         `json:"is_cancelled" yaml:"is_cancelled"`
	Active            bool         `json:"active" yaml:"active"`
	ConsecutiveStalls int          `json:"consecutive_stalls" yaml:"consecutive_stalls"`
	ConsecutiveErrors int          `json:"consecutive_errors" yaml:"consecutive_errors"`
	LastEvaluation    string       `json:"last_evaluation,omitempty" yaml:"last_evaluation,omitempty"`
	Evaluations       []Evaluation `json:"evaluations,omitempty" yaml:"evaluations,omitempty"`
	EvaluatorSession  string       `json:"evaluator_session,omitempty" yaml:"evaluator_session,omitempty"`
	EvaluatorModel    string       `json:"evaluator_model,omitempty" yaml:"evaluator_model,omitempty"`
	Adjustments       []string     `json:"adjustments,omitempty" yaml:"adjustments,omitempty"`
	LastOutput        string       `json:"last_output,omitempty" yaml:"last_output,omitempty"`
	LastSimilarity    float64      `json:"last_similarity" yaml:"last_similarity"`
	Reason            string       `json:"reason,omitempty" yaml:"reason,omitempty"`
	StartedAt         time.Time    `json:"started_at" yaml:"started_at"`
	EndedAt           time.Time    `json:"ended_at,omitempty" yaml:"ended_at,omitempty"`
}

// Outcome derives the terminal outcome of the state.
func (s State) Outcome() Outcome {
	switch {
	case s.GoalMet:
		return OutcomeGoalMet
	case s.IsStalled:
		return OutcomeStalled
	case s.IsCancelled:
		return OutcomeCancelled
	default:
		return OutcomeNone
	}
}

// Options configures a Cycle.
type Options struct {
	Config Config

	// EvaluatorModel requests a dedicated evaluator session.
	EvaluatorModel string

	Now func() time.Time
}

// Cycle is the state of one reflection loop. It is safe for concurrent
// reads; mutation is expected from a single driver.
type Cycle struct {
	mu     sync.Mutex
	config Config
	now    func() time.Time
	state  State
}

// New starts a cycle for goal.
func New(goal string, optFns ...func(o *Options)) *Cycle {
	opts := Options{
		Config: DefaultConfig,
		Now:    time.Now,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Config.Similarity == nil {
		opts.Config.Similarity = Jaccard
	}
	if opts.Config.MaxIterations <= 0 {
		opts.Config.MaxIterations = DefaultConfig.MaxIterations
	}
	if opts.Config.StallLimit <= 0 {
		opts.Config.StallLimit = DefaultConfig.StallLimit
	}
	if opts.Config.ErrorLimit <= 0 {
		opts.Config.ErrorLimit = DefaultConfig.ErrorLimit
	}

	return &Cycle{
		config: opts.Config,
		now:    opts.Now,
		state: State{
			Goal:           goal,
			MaxIterations:  opts.Config.MaxIterations,
			EvaluatorModel: opts.EvaluatorModel,
			StartedAt:      opts.Now(),
		},
	}
}

// Restore rebuilds a cycle from a snapshot.
func Restore(s State, optFns ...func(o *Options)) *Cycle {
	c := New(s.Goal, optFns...)
	c.state = s
	c.state.Evaluations = append([]Evaluation(nil), s.Evaluations...)
	c.state.Adjustments = append([]string(nil), s.Adjustments...)
	if s.MaxIterations > 0 {
		c.config.MaxIterations = s.MaxIterations
	}
	return c
}

// Config returns the cycle's parameters.
func (c *Cycle) Config() Config { return c.config }

// Goal returns the goal text.
func (c *Cycle) Goal() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Goal
}

// Iteration returns the current iteration number.
func (c *Cycle) Iteration() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Iteration
}

// IsActive reports whether the cycle is not terminal and either has budget
// left or is still running its current iteration.
func (c *Cycle) IsActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeLocked()
}

func (c *Cycle) activeLocked() bool {
	if c.state.Outcome() != OutcomeNone {
		return false
	}
	return c.state.InIteration || c.state.Iteration < c.state.MaxIterations
}

// IsTerminal reports whether an outcome was recorded.
func (c *Cycle) IsTerminal() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Outcome() != OutcomeNone
}

// Outcome returns the terminal outcome, or OutcomeNone.
func (c *Cycle) Outcome() Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Outcome()
}

// Next completes the running iteration and advances to the next one. It
// returns false when the cycle is terminal or the budget is spent; in the
// latter case the cycle ends cancelled before Next returns.
func (c *Cycle) Next() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.InIteration = false
	if c.state.Outcome() != OutcomeNone {
		return c.state.Iteration, false
	}
	if c.state.Iteration >= c.state.MaxIterations {
		c.terminateLocked(OutcomeCancelled, "ran out of iterations")
		return c.state.Iteration, false
	}
	c.state.Iteration++
	c.state.InIteration = true
	return c.state.Iteration, true
}

// RecordError rolls the iteration back so it is retried. Once ErrorLimit
// consecutive failures accumulate the cycle ends stalled; the return value
// reports that.
func (c *Cycle) RecordError(reason string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state.ConsecutiveErrors++
	if c.state.InIteration && c.state.Iteration > 0 {
		c.state.Iteration--
	}
	c.state.InIteration = false
	if c.state.ConsecutiveErrors >= c.config.ErrorLimit {
		c.terminateLocked(OutcomeStalled, "consecutive failure limit reached: "+reason)
		return true
	}
	return false
}

// RecordEvaluation appends a scored evaluation and resets the error count.
func (c *Cycle) RecordEvaluation(score float64, rationale, evaluatorModel string) Evaluation {
	c.mu.Lock()
	defer c.mu.Unlock()

	ev := Evaluation{
		Iteration:      c.state.Iteration,
		Score:          clamp(score),
		Rationale:      rationale,
		EvaluatorModel: evaluatorModel,
		At:             c.now(),
	}
	c.state.Evaluations = append(c.state.Evaluations, ev)
	c.state.LastEvaluation = rationale
	c.state.ConsecutiveErrors = 0
	return ev
}

// PreviousScore returns the score recorded before the latest evaluation.
func (c *Cycle) PreviousScore() (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.state.Evaluations)
	if n < 2 {
		return 0, false
	}
	return c.state.Evaluations[n-2].Score, true
}

// LastEvaluation returns the rationale of the latest evaluation.
func (c *Cycle) LastEvaluation() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.LastEvaluation
}

// CheckStall compares output with the previous iteration's output. The
// first flagged iteration only warns; StallLimit consecutive flags end the
// cycle stalled.
func (c *Cycle) CheckStall(output string) (similarity float64, flagged, terminal bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.state.LastOutput
	c.state.LastOutput = output

	if prev == "" {
		c.state.LastSimilarity = 0
		c.state.ConsecutiveStalls = 0
		return 0, false, false
	}

	similarity = c.config.Similarity(prev, output)
	c.state.LastSimilarity = similarity
	flagged = similarity >= c.config.StallThreshold

	if !flagged {
		c.state.ConsecutiveStalls = 0
		return similarity, false, false
	}

	c.state.ConsecutiveStalls++
	if c.state.ConsecutiveStalls >= c.config.StallLimit {
		c.terminateLocked(OutcomeStalled, "output stopped changing between iterations")
		return similarity, true, true
	}
	return similarity, true, false
}

// SetAdjustments replaces the pending adjustment notes.
func (c *Cycle) SetAdjustments(notes []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Adjustments = append([]string(nil), notes...)
}

// Adjustments returns the pending adjustment notes.
func (c *Cycle) Adjustments() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.state.Adjustments...)
}

// SetEvaluatorSession records the dedicated evaluator session name.
func (c *Cycle) SetEvaluatorSession(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.EvaluatorSession = name
}

// EvaluatorSession returns the dedicated evaluator session, if any.
func (c *Cycle) EvaluatorSession() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.EvaluatorSession
}

// EvaluatorModel returns the model requested for the evaluator.
func (c *Cycle) EvaluatorModel() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.EvaluatorModel
}

// MarkGoalMet ends the cycle successfully.
func (c *Cycle) MarkGoalMet(reason string) bool {
	return c.terminate(OutcomeGoalMet, reason)
}

// MarkStalled ends the cycle as stalled.
func (c *Cycle) MarkStalled(reason string) bool {
	return c.terminate(OutcomeStalled, reason)
}

// Cancel ends the cycle as cancelled.
func (c *Cycle) Cancel(reason string) bool {
	return c.terminate(OutcomeCancelled, reason)
}

// Finish closes a cycle whose loop exited without an outcome, which means
// the iteration budget ran out.
func (c *Cycle) Finish() Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Outcome() == OutcomeNone {
		c.terminateLocked(OutcomeCancelled, "ran out of iterations")
	}
	return c.state.Outcome()
}

func (c *Cycle) terminate(o Outcome, reason string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.terminateLocked(o, reason)
}

// terminateLocked records o unless an outcome already exists.
func (c *Cycle) terminateLocked(o Outcome, reason string) bool {
	if c.state.Outcome() != OutcomeNone {
		return false
	}
	switch o {
	case OutcomeGoalMet:
		c.state.GoalMet = true
	case OutcomeStalled:
		c.state.IsStalled = true
	case OutcomeCancelled:
		c.state.IsCancelled = true
	default:
		return false
	}
	c.state.InIteration = false
	c.state.Reason = reason
	c.state.EndedAt = c.now()
	return true
}

// Snapshot returns a copy of the cycle state.
func (c *Cycle) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.state
	s.Active = c.activeLocked()
	s.Evaluations = append([]Evaluation(nil), c.state.Evaluations...)
	s.Adjustments = append([]string(nil), c.state.Adjustments...)
	return s
}
