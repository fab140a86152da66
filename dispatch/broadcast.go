package dispatch

import (
	"context"
	"fmt"

	"github.com/hupe1980/agentsquad/group"
	"github.com/hupe1980/agentsquad/session"
)

// broadcast delivers prompt to every member concurrently.
func (d *Dispatcher) broadcast(ctx context.Context, g group.Group, prompt string) *Report {
	rep := &Report{GroupID: g.ID, Mode: group.ModeBroadcast}

	members, _ := d.groups.Members(g.ID)
	rep.Members = make([]MemberOutcome, len(members))
	t := d.track(g.ID, len(members))

	d.fanOut(len(members), func(i int) {
		t.begin()
		defer t.end()
		rep.Members[i] = d.deliver(ctx, g, members, members[i], prompt)
	})

	return rep
}

// sequential delivers prompt to one member at a time in membership order.
// Cancellation is honoured between members.
func (d *Dispatcher) sequential(ctx context.Context, g group.Group, prompt string) *Report {
	rep := &Report{GroupID: g.ID, Mode: group.ModeSequential}

	members, _ := d.groups.Members(g.ID)
	t := d.track(g.ID, len(members))

	for i, m := range members {
		if err := ctx.Err(); err != nil {
			for _, rest := range members[i:] {
				rep.Members = append(rep.Members, MemberOutcome{Session: rest.Session, Status: StatusSkipped, Err: err})
			}
			d.logger.Info("sequential dispatch cancelled", "group", g.ID, "remaining", len(members)-i)
			break
		}

		t.begin()
		out, turn := d.deliverTurn(ctx, g, members, m, prompt)
		if turn != nil && d.config.WaitForSequential {
			if _, err := turn.Wait(ctx); err != nil {
				d.logger.Debug("sequential member finished with error", "session", m.Session, "error", err)
			}
		}
		t.end()

		rep.Members = append(rep.Members, out)
	}

	return rep
}

func (d *Dispatcher) deliver(ctx context.Context, g group.Group, members []group.Member, m group.Member, prompt string) MemberOutcome {
	out, _ := d.deliverTurn(ctx, g, members, m, prompt)
	return out
}

// deliverTurn applies the member's model preference and begins or queues
// the prompt. Failures are isolated into the returned outcome.
func (d *Dispatcher) deliverTurn(ctx context.Context, g group.Group, members []group.Member, m group.Member, prompt string) (out MemberOutcome, turn *session.Turn) {
	out = MemberOutcome{Session: m.Session}

	defer func() {
		if r := recover(); r != nil {
			out.Status = StatusFailed
			out.Err = fmt.Errorf("deliver to %s panicked: %v", m.Session, r)
			turn = nil
			d.logger.Error("deliver panicked", "session", m.Session, "panic", r)
		}
	}()

	out.ModelSwitched = d.ensureModel(ctx, m)

	outcome, t, err := d.sessions.SendOrQueue(ctx, m.Session, d.contextPrefix(g, members, m)+prompt)
	if err != nil {
		out.Status = StatusFailed
		out.Err = err
		d.notice(g.ID, m.Session, fmt.Sprintf("Message could not be delivered: %v", err), err)
		return out, nil
	}

	switch outcome {
	case session.OutcomeQueued:
		out.Status = StatusQueued
	default:
		out.Status = StatusBegun
	}
	return out, t
}
