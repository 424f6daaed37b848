package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/g960059/brigadeboard/internal/session"
	"github.com/g960059/brigadeboard/internal/timer"
)

func (r *Runner) timerCommand(g *globals) *cobra.Command {
	tc := &cobra.Command{
		Use:   "timer",
		Short: "Manage per-unit countdown timers",
	}

	var label string
	var incident int64
	start := &cobra.Command{
		Use:   "start <unit> <minutes>",
		Short: "Start a countdown, replacing any existing one",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			minutes, err := strconv.ParseFloat(strings.TrimSpace(args[1]), 64)
			if err != nil || minutes <= 0 {
				return usageError{err: fmt.Errorf("invalid minutes %q", args[1])}
			}
			d := time.Duration(minutes * float64(time.Minute))
			return r.withTimers(cmd, g, func(ctx context.Context, s *session.Session) error {
				t, err := s.Timers.Start(ctx, args[0], d, label, incident)
				if err != nil {
					return err
				}
				r.printf("timer %s for %s ends %s\n", t.Label, t.UnitID, t.EndTime.Local().Format(time.Kitchen))
				return nil
			})
		},
	}
	start.Flags().StringVar(&label, "label", "", "timer label")
	start.Flags().Int64Var(&incident, "incident", 0, "incident that receives the timer remarks")

	tc.AddCommand(start,
		r.timerAction(g, "pause", "Freeze the remaining time", func(ctx context.Context, s *session.Session, u string) error {
			_, err := s.Timers.Pause(ctx, u)
			return err
		}),
		r.timerAction(g, "resume", "Continue a paused timer", func(ctx context.Context, s *session.Session, u string) error {
			_, err := s.Timers.Resume(ctx, u)
			return err
		}),
		r.timerAction(g, "reset", "Restart from the full duration", func(ctx context.Context, s *session.Session, u string) error {
			_, err := s.Timers.Reset(ctx, u)
			return err
		}),
		r.timerAction(g, "stop", "Remove the timer", func(ctx context.Context, s *session.Session, u string) error {
			return s.Timers.Stop(ctx, u)
		}),
		&cobra.Command{
			Use:   "list",
			Short: "List timers",
			Args:  exactArgs(0),
			RunE: func(cmd *cobra.Command, _ []string) error {
				return r.withTimers(cmd, g, func(_ context.Context, s *session.Session) error {
					timers := s.Timers.Timers()
					if g.jsonOut {
						return r.printJSON(timers)
					}
					now := time.Now()
					for _, t := range timers {
						state := "running"
						if t.Paused {
							state = "paused"
						}
						r.printf("%-8s %-16s %8s %s\n", t.UnitID, t.Label, t.Remaining(now).Round(time.Second), state)
					}
					return nil
				})
			},
		},
	)
	return tc
}

func (r *Runner) timerAction(g *globals, name, short string, fn func(ctx context.Context, s *session.Session, unitID string) error) *cobra.Command {
	return &cobra.Command{
		Use:   name + " <unit>",
		Short: short,
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.withTimers(cmd, g, func(ctx context.Context, s *session.Session) error {
				if err := fn(ctx, s, args[0]); err != nil {
					return err
				}
				r.printf("timer %s %s\n", name, args[0])
				return nil
			})
		},
	}
}

// withTimers loads the persisted timers before fn runs.
func (r *Runner) withTimers(cmd *cobra.Command, g *globals, fn func(ctx context.Context, s *session.Session) error) error {
	return r.withSession(cmd, g, func(ctx context.Context, s *session.Session) error {
		if err := s.Timers.Restore(ctx); err != nil {
			return err
		}
		return fn(ctx, s)
	})
}

func (r *Runner) flashCommand(g *globals) *cobra.Command {
	fc := &cobra.Command{
		Use:   "flash",
		Short: "Inspect and acknowledge timer alerts",
	}
	fc.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List flashing incidents",
			Args:  exactArgs(0),
			RunE: func(cmd *cobra.Command, _ []string) error {
				return r.withTimers(cmd, g, func(_ context.Context, s *session.Session) error {
					list := s.Flash.List()
					if g.jsonOut {
						return r.printJSON(list)
					}
					for _, f := range list {
						r.printf("%d %s %s since %s\n", f.IncidentID, f.UnitID, f.Reason, f.StartedAt.Local().Format(time.Kitchen))
					}
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "click <incident>",
			Short: "Click an incident row: acknowledges a flash, otherwise opens it",
			Args:  exactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				incidentID, err := parseIncidentID(args[0])
				if err != nil {
					return err
				}
				return r.withTimers(cmd, g, func(ctx context.Context, s *session.Session) error {
					if s.Flash.ClickRow(ctx, incidentID) == timer.ClickAcknowledged {
						r.printf("acknowledged %d\n", incidentID)
					}
					return nil
				})
			},
		},
	)
	return fc
}
