package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/agentsquad/config"
	"github.com/hupe1980/agentsquad/core"
	"github.com/hupe1980/agentsquad/dispatch"
	"github.com/hupe1980/agentsquad/group"
	"github.com/hupe1980/agentsquad/session"
)

const idlePoll = 50 * time.Millisecond

func newRunCmd(load loader) *cobra.Command {
	var (
		groupName string
		reflect   bool
		timeout   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run [--group name] [--reflect] <prompt>",
		Short: "Create a configured group and dispatch a prompt to it",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("run requires a prompt")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}

			gc, err := pickGroup(cfg, groupName)
			if err != nil {
				return err
			}

			app, err := wireApp(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = app.close() }()

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			g, err := app.squad.CreateGroup(ctx, groupSpec(cfg, gc))
			if err != nil {
				return err
			}

			prompt := strings.Join(args, " ")

			var rep *dispatch.Report
			if reflect {
				rep, err = app.squad.Reflect(ctx, g.ID, prompt)
			} else {
				rep, err = app.squad.Dispatch(ctx, g.ID, prompt)
			}
			if err != nil {
				return err
			}

			if rep.Mode == group.ModeBroadcast || rep.Mode == group.ModeSequential {
				if err := waitIdle(ctx, app.squad.Sessions(), g.Members); err != nil {
					return err
				}
			}

			return printReport(cmd.OutOrStdout(), app.squad.Sessions(), g, rep)
		},
	}

	cmd.Flags().StringVarP(&groupName, "group", "g", "", "configured group to use (default: the first one)")
	cmd.Flags().BoolVar(&reflect, "reflect", false, "treat the prompt as a goal and run a reflection cycle")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "abort the run after this duration")

	return cmd
}

func pickGroup(cfg *config.Config, name string) (config.GroupConfig, error) {
	if len(cfg.Groups) == 0 {
		return config.GroupConfig{}, fmt.Errorf("no groups configured")
	}
	if name == "" {
		return cfg.Groups[0], nil
	}
	gc, ok := cfg.Group(name)
	if !ok {
		return config.GroupConfig{}, fmt.Errorf("group %q is not configured", name)
	}
	return gc, nil
}

// waitIdle blocks until every session has no turn in flight and an empty
// queue.
func waitIdle(ctx context.Context, sessions *session.Manager, names []string) error {
	ticker := time.NewTicker(idlePoll)
	defer ticker.Stop()

	for {
		busy := false
		for _, n := range names {
			st, err := sessions.Status(n)
			if err != nil {
				continue
			}
			if st.Processing() || sessions.QueueLen(n) > 0 {
				busy = true
				break
			}
		}
		if !busy {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func printReport(w io.Writer, sessions *session.Manager, g group.Group, rep *dispatch.Report) error {
	var b strings.Builder

	fmt.Fprintf(&b, "group %s (%s) in %s\n", g.Name, rep.Mode, rep.Duration.Round(time.Millisecond))

	switch rep.Mode {
	case group.ModeBroadcast, group.ModeSequential:
		for _, m := range rep.Members {
			fmt.Fprintf(&b, "\n== %s [%s]\n", m.Session, m.Status)
			if m.Err != nil {
				fmt.Fprintf(&b, "error: %v\n", m.Err)
				continue
			}
			if text := lastReply(sessions, m.Session); text != "" {
				fmt.Fprintf(&b, "%s\n", text)
			}
		}
	default:
		for _, r := range rep.Results {
			status := "ok"
			if !r.Success {
				status = fmt.Sprintf("failed: %v", r.Err)
			}
			fmt.Fprintf(&b, "\n-- %s (%s): %s\n", r.Worker, status, firstLine(r.Task))
		}
		if rep.Reflection != nil {
			fmt.Fprintf(&b, "\nreflection: %s after %d iteration(s)", rep.Reflection.Outcome(), rep.Reflection.Iteration)
			if rep.Reflection.Reason != "" {
				fmt.Fprintf(&b, " (%s)", rep.Reflection.Reason)
			}
			b.WriteString("\n")
		}
		if rep.Synthesis != "" {
			fmt.Fprintf(&b, "\n%s\n", rep.Synthesis)
		}
	}

	if rep.Err != nil {
		fmt.Fprintf(&b, "\nerror: %v\n", rep.Err)
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func lastReply(sessions *session.Manager, name string) string {
	history, err := sessions.History(name)
	if err != nil {
		return ""
	}
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == core.RoleAssistant {
			return history[i].Text
		}
	}
	return ""
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
