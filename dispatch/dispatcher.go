package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/agentsquad/assign"
	"github.com/hupe1980/agentsquad/core"
	"github.com/hupe1980/agentsquad/group"
	"github.com/hupe1980/agentsquad/logging"
	"github.com/hupe1980/agentsquad/notify"
	"github.com/hupe1980/agentsquad/reflection"
	"github.com/hupe1980/agentsquad/session"
)

// Sessions is the session capability the dispatcher drives. It is
// satisfied by *session.Manager.
type Sessions interface {
	Create(ctx context.Context, spec core.SessionSpec) (*core.Session, error)
	Close(ctx context.Context, name string) error
	Abort(ctx context.Context, name string) error
	Model(name string) (string, error)
	EnsureModel(ctx context.Context, name, preferred string) (bool, error)
	SendOrQueue(ctx context.Context, name, prompt string) (session.Outcome, *session.Turn, error)
	SendAndWait(ctx context.Context, name, prompt string) (session.Result, error)
	AddNotice(name, text string) error
}

var _ Sessions = (*session.Manager)(nil)

// Config tunes dispatch rounds.
type Config struct {
	// MaxParallel caps concurrent sends per fan-out. 0 means unlimited.
	MaxParallel int

	// EvaluatorTimeout bounds a dedicated evaluator's answer.
	EvaluatorTimeout time.Duration

	// WaitForSequential makes Sequential mode wait for each begun turn to
	// finish before moving on to the next member.
	WaitForSequential bool
}

// DefaultConfig provides the standard dispatch parameters.
var DefaultConfig = Config{
	MaxParallel:       0,
	EvaluatorTimeout:  5 * time.Minute,
	WaitForSequential: true,
}

// Options configures a Dispatcher.
type Options struct {
	Config Config
	Bus    *notify.Bus
	Logger logging.Logger
	Now    func() time.Time
}

// Status is the delivery result for one broadcast or sequential recipient.
type Status string

const (
	StatusBegun   Status = "begun"
	StatusQueued  Status = "queued"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// MemberOutcome records how a prompt reached one member.
type MemberOutcome struct {
	Session       string
	Status        Status
	ModelSwitched bool
	Err           error
}

// WorkerResult is the outcome of one delegated task.
type WorkerResult struct {
	Worker   string
	Task     string
	Model    string
	Response string
	Success  bool
	Err      error
	Duration time.Duration
}

// Report summarises a dispatch round. Failures inside the round are
// recorded here instead of being returned.
type Report struct {
	GroupID         string
	Mode            group.Mode
	Members         []MemberOutcome
	Plan            string
	Assignments     []assign.Assignment
	Results         []WorkerResult
	Synthesis       string
	HandledDirectly bool
	Reflection      *reflection.State
	Err             error
	Duration        time.Duration
}

// Counts returns the number of member outcomes with each status.
func (r *Report) Counts() map[Status]int {
	out := make(map[Status]int)
	for _, m := range r.Members {
		out[m.Status]++
	}
	return out
}

// Dispatcher routes prompts sent to a group to its members according to
// the group's mode.
type Dispatcher struct {
	sessions Sessions
	groups   *group.Registry
	bus      *notify.Bus
	logger   logging.Logger
	config   Config
	now      func() time.Time

	mu       sync.Mutex
	progress map[string]*tracker
}

// New creates a Dispatcher.
func New(sessions Sessions, groups *group.Registry, optFns ...func(o *Options)) *Dispatcher {
	opts := Options{
		Config: DefaultConfig,
		Logger: logging.NoOpLogger{},
		Now:    time.Now,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Dispatcher{
		sessions: sessions,
		groups:   groups,
		bus:      opts.Bus,
		logger:   opts.Logger,
		config:   opts.Config,
		now:      opts.Now,
		progress: make(map[string]*tracker),
	}
}

// Dispatch sends prompt to the group identified by groupID. Only an unknown
// group is reported as an error.
func (d *Dispatcher) Dispatch(ctx context.Context, groupID, prompt string) (*Report, error) {
	g, err := d.groups.Get(groupID)
	if err != nil {
		return nil, fmt.Errorf("dispatch: %w", err)
	}

	start := d.now()

	var rep *Report
	switch g.Mode {
	case group.ModeSequential:
		rep = d.sequential(ctx, g, prompt)
	case group.ModeOrchestrator:
		rep = d.orchestrate(ctx, g, prompt)
	case group.ModeOrchestratorReflect:
		if g.Reflection != nil && g.Reflection.IsActive() {
			rep = d.reflect(ctx, g, prompt)
		} else {
			rep = d.orchestrate(ctx, g, prompt)
		}
	default:
		rep = d.broadcast(ctx, g, prompt)
	}

	rep.Duration = d.now().Sub(start)

	if l, ok := d.logger.(logging.DispatchLogger); ok {
		l.LogDispatch(g.ID, string(rep.Mode), len(rep.Members)+len(rep.Results), rep.Duration, rep.Err)
	} else {
		d.logger.Info("dispatch completed", "group", g.ID, "mode", string(rep.Mode), "duration", rep.Duration.String())
	}

	return rep, nil
}

// Progress returns the progress of the group's current or last round.
func (d *Dispatcher) Progress(groupID string) core.Progress {
	d.mu.Lock()
	t, ok := d.progress[groupID]
	d.mu.Unlock()
	if !ok {
		return core.Progress{}
	}
	return t.snapshot()
}

// fanOut runs fn for every index with the configured parallelism. fn must
// not fail; per-recipient failures are recorded by fn itself.
func (d *Dispatcher) fanOut(n int, fn func(i int)) {
	var eg errgroup.Group
	if d.config.MaxParallel > 0 {
		eg.SetLimit(d.config.MaxParallel)
	}
	for i := 0; i < n; i++ {
		eg.Go(func() error {
			fn(i)
			return nil
		})
	}
	_ = eg.Wait()
}

func (d *Dispatcher) phase(groupID string, p core.Phase, detail string) {
	d.logger.Debug("dispatch phase", "group", groupID, "phase", string(p), "detail", detail)
	d.bus.Publish(notify.PhaseChanged{GroupID: groupID, Phase: p, Detail: detail, At: d.now()})
}

// notice appends a user-visible notice to a session and publishes the
// structured error when err is set.
func (d *Dispatcher) notice(groupID, sess, text string, err error) {
	if nerr := d.sessions.AddNotice(sess, text); nerr != nil {
		d.logger.Warn("failed to add notice", "session", sess, "error", nerr)
	}
	if err != nil {
		d.bus.Publish(notify.ErrorNotice{Session: sess, GroupID: groupID, Message: text, Err: err, At: d.now()})
	}
}

// ensureModel applies the member's preferred model. Failures are logged and
// the send proceeds on the current model.
func (d *Dispatcher) ensureModel(ctx context.Context, m group.Member) bool {
	switched, err := d.sessions.EnsureModel(ctx, m.Session, m.PreferredModel)
	if err != nil {
		d.logger.Warn("model switch failed", "session", m.Session, "model", m.PreferredModel, "error", err)
		return false
	}
	return switched
}

// ask sends prompt to a member and waits for the full reply.
func (d *Dispatcher) ask(ctx context.Context, m group.Member, prompt string) (string, error) {
	d.ensureModel(ctx, m)
	res, err := d.sessions.SendAndWait(ctx, m.Session, prompt)
	if err != nil {
		return res.Text, err
	}
	return res.Text, nil
}
