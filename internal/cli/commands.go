package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/g960059/brigadeboard/internal/api"
	"github.com/g960059/brigadeboard/internal/model"
	"github.com/g960059/brigadeboard/internal/session"
	"github.com/g960059/brigadeboard/internal/unit"
)

func (r *Runner) dispatchCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "dispatch <incident> <unit>...",
		Short: "Dispatch available units to an incident",
		Args:  minArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			incidentID, err := parseIncidentID(args[0])
			if err != nil {
				return err
			}
			return r.withSession(cmd, g, func(ctx context.Context, s *session.Session) error {
				var errs []error
				for _, u := range args[1:] {
					if err := s.Units.Dispatch(ctx, u, incidentID); err != nil {
						errs = append(errs, fmt.Errorf("%s: %w", u, err))
						continue
					}
					r.printf("dispatched %s to %d\n", u, incidentID)
				}
				return errors.Join(errs...)
			})
		},
	}
}

func (r *Runner) transferCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "transfer <unit> <incident>",
		Short: "Move a committed unit onto another incident",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			incidentID, err := parseIncidentID(args[1])
			if err != nil {
				return err
			}
			return r.withSession(cmd, g, func(ctx context.Context, s *session.Session) error {
				if err := s.Units.Transfer(ctx, args[0], incidentID); err != nil {
					return err
				}
				r.printf("transferred %s to %d\n", args[0], incidentID)
				return nil
			})
		},
	}
}

func (r *Runner) advanceCommand(g *globals) *cobra.Command {
	var incident int64
	cmd := &cobra.Command{
		Use:   "advance <unit> <phase>",
		Short: "Advance a unit to ENROUTE, ARRIVED, TRANSPORTING or AT_MEDICAL",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			phase := model.CanonicalStatus(args[1])
			return r.withSession(cmd, g, func(ctx context.Context, s *session.Session) error {
				if err := s.Units.Advance(ctx, args[0], incident, phase); err != nil {
					return err
				}
				r.printf("%s %s\n", args[0], phase)
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&incident, "incident", 0, "incident the operator expects the unit to be on")
	return cmd
}

func (r *Runner) clearCommand(g *globals) *cobra.Command {
	var (
		incident    int64
		disposition string
		comment     string
	)
	cmd := &cobra.Command{
		Use:   "clear <unit>",
		Short: "Clear a unit from its incident",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.withSession(cmd, g, func(ctx context.Context, s *session.Session) error {
				incidentID := incident
				if incidentID <= 0 {
					uc, err := s.Units.Context(ctx, args[0])
					if err != nil {
						return err
					}
					if !uc.OnIncident() {
						return fmt.Errorf("unit %s has no active incident", args[0])
					}
					incidentID = uc.ActiveIncidentID
				}
				res, err := s.Units.Clear(ctx, unit.ClearRequest{
					UnitID:      args[0],
					IncidentID:  incidentID,
					Disposition: model.DispositionCode(disposition),
					Comment:     comment,
				})
				if err != nil {
					return err
				}
				if res.Held {
					r.printf("incident %d held\n", incidentID)
					return nil
				}
				r.printf("cleared %s from %d (%d unit(s) remaining)\n", args[0], incidentID, res.RemainingUnits)
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&incident, "incident", 0, "incident id (default: the unit's active incident)")
	cmd.Flags().StringVar(&disposition, "disposition", "", "unit disposition code")
	cmd.Flags().StringVar(&comment, "comment", "", "disposition comment")
	return cmd
}

func (r *Runner) clearAllCommand(g *globals) *cobra.Command {
	var disposition, comment string
	cmd := &cobra.Command{
		Use:   "clear-all <incident>",
		Short: "Clear every unit on an incident, closing it when a disposition is given",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			incidentID, err := parseIncidentID(args[0])
			if err != nil {
				return err
			}
			return r.withSession(cmd, g, func(ctx context.Context, s *session.Session) error {
				var n int
				if disposition != "" {
					n, err = s.Units.ClearAllAndClose(ctx, model.DispositionRequest{
						IncidentID: incidentID,
						Code:       model.DispositionCode(disposition),
						Comment:    comment,
					})
				} else {
					n, err = s.Units.ClearAll(ctx, incidentID)
				}
				if err != nil {
					return err
				}
				r.printf("cleared %d unit(s) from %d\n", n, incidentID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&disposition, "disposition", "", "incident disposition code; closes the incident")
	cmd.Flags().StringVar(&comment, "comment", "", "disposition comment")
	return cmd
}

func (r *Runner) closeCommand(g *globals) *cobra.Command {
	var disposition, comment string
	cmd := &cobra.Command{
		Use:   "close <incident>",
		Short: "Close an incident with a disposition",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			incidentID, err := parseIncidentID(args[0])
			if err != nil {
				return err
			}
			return r.withSession(cmd, g, func(ctx context.Context, s *session.Session) error {
				err := s.Units.CloseIncident(ctx, model.DispositionRequest{
					IncidentID: incidentID,
					Code:       model.DispositionCode(disposition),
					Comment:    comment,
				})
				if err != nil {
					return err
				}
				r.printf("closed %d\n", incidentID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&disposition, "disposition", "", "incident disposition code ("+codeList(model.IncidentCloseDispositions)+")")
	cmd.Flags().StringVar(&comment, "comment", "", "disposition comment")
	return cmd
}

func (r *Runner) holdCommand(g *globals) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "hold <incident>",
		Short: "Put an incident on hold",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			incidentID, err := parseIncidentID(args[0])
			if err != nil {
				return err
			}
			return r.withSession(cmd, g, func(ctx context.Context, s *session.Session) error {
				if err := s.Units.Hold(ctx, incidentID, reason); err != nil {
					return err
				}
				r.printf("held %d\n", incidentID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "hold reason (required)")
	return cmd
}

func (r *Runner) forceClearCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "force-clear <incident>",
		Short: "Remove every unit assignment on an incident (admin)",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			incidentID, err := parseIncidentID(args[0])
			if err != nil {
				return err
			}
			return r.withSession(cmd, g, func(ctx context.Context, s *session.Session) error {
				resp, err := s.Units.ForceClear(ctx, incidentID)
				if err != nil {
					return err
				}
				if g.jsonOut {
					return r.printJSON(resp)
				}
				r.printf("force cleared %d unit(s) from %d\n", resp.ClearedCount, incidentID)
				return nil
			})
		},
	}
}

func (r *Runner) crewCommand(g *globals) *cobra.Command {
	crew := &cobra.Command{
		Use:   "crew",
		Short: "Assign personnel to apparatus",
	}
	var role, shift string
	assign := &cobra.Command{
		Use:   "assign <apparatus> <personnel>",
		Short: "Put a person on an apparatus, moving them if needed",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.withSession(cmd, g, func(ctx context.Context, s *session.Session) error {
				err := s.Units.AssignCrew(ctx, unit.CrewAssignment{
					ApparatusID: args[0],
					PersonnelID: args[1],
					Role:        role,
					Shift:       shift,
				})
				if err != nil {
					return err
				}
				r.printf("%s assigned to %s\n", args[1], args[0])
				return nil
			})
		},
	}
	assign.Flags().StringVar(&role, "role", "", "crew role")
	assign.Flags().StringVar(&shift, "shift", "", "shift")

	var apparatus string
	unassign := &cobra.Command{
		Use:   "unassign <personnel>",
		Short: "Take a person off their apparatus",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.withSession(cmd, g, func(ctx context.Context, s *session.Session) error {
				if err := s.Units.UnassignCrew(ctx, args[0], apparatus); err != nil {
					return err
				}
				r.printf("%s unassigned\n", args[0])
				return nil
			})
		},
	}
	unassign.Flags().StringVar(&apparatus, "apparatus", "", "apparatus the person is on")

	crew.AddCommand(assign, unassign)
	return crew
}

func (r *Runner) transferCommandCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "transfer-command <incident> <from-unit>",
		Short: "Hand incident command to another unit on scene",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			incidentID, err := parseIncidentID(args[0])
			if err != nil {
				return err
			}
			return r.withSession(cmd, g, func(ctx context.Context, s *session.Session) error {
				to, err := s.Units.TransferCommand(ctx, incidentID, args[1])
				if err != nil {
					return err
				}
				r.printf("command on %d: %s\n", incidentID, to)
				return nil
			})
		},
	}
}

func (r *Runner) selfInitCommand(g *globals) *cobra.Command {
	var (
		fields      api.IncidentFields
		extra       []string
		disposition string
		comment     string
	)
	cmd := &cobra.Command{
		Use:   "self-init <unit>",
		Short: "Create an incident for a unit that found it in the field",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.withSession(cmd, g, func(ctx context.Context, s *session.Session) error {
				res, err := s.Units.SelfInitiated(ctx, unit.SelfInitRequest{
					UnitID:      args[0],
					Fields:      fields,
					ExtraUnits:  extra,
					Disposition: model.DispositionCode(disposition),
					Comment:     comment,
				})
				var partial *unit.PartialFailureError
				if errors.As(err, &partial) {
					r.printf("incident %d created; %s failed\n", partial.IncidentID, partial.Step)
				}
				if err != nil {
					return err
				}
				if g.jsonOut {
					return r.printJSON(res)
				}
				r.printf("incident %d: dispatched %s", res.IncidentID, strings.Join(res.Dispatched, ", "))
				if res.Closed {
					r.printf(" (closed)")
				}
				r.printf("\n")
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&fields.Type, "type", "", "incident type")
	f.StringVar(&fields.Location, "location", "", "location")
	f.StringVar(&fields.Narrative, "narrative", "", "narrative")
	f.StringVar(&fields.Caller, "caller", "", "caller")
	f.StringVar(&fields.Priority, "priority", "", "priority")
	f.StringSliceVar(&extra, "extra", nil, "additional units to dispatch")
	f.StringVar(&disposition, "disposition", "", "closes a daily-log incident with this code")
	f.StringVar(&comment, "comment", "", "disposition comment")
	return cmd
}

func (r *Runner) unitCommand(g *globals) *cobra.Command {
	u := &cobra.Command{
		Use:   "unit",
		Short: "Change unit status overlays",
	}
	u.AddCommand(
		&cobra.Command{
			Use:   "status <unit> <status>",
			Short: "Set a unit status",
			Args:  exactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				status := model.CanonicalStatus(args[1])
				return r.withSession(cmd, g, func(ctx context.Context, s *session.Session) error {
					if err := s.Units.SetStatus(ctx, args[0], status); err != nil {
						return err
					}
					r.printf("%s %s\n", args[0], status)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "misc <unit> [text]",
			Short: "Set or clear the free-text misc status",
			Args:  minArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				text := strings.Join(args[1:], " ")
				return r.withSession(cmd, g, func(ctx context.Context, s *session.Session) error {
					return s.Units.SetMisc(ctx, args[0], text)
				})
			},
		},
		&cobra.Command{
			Use:   "coverage <unit>",
			Short: "Toggle the coverage flag",
			Args:  exactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return r.withSession(cmd, g, func(ctx context.Context, s *session.Session) error {
					on, err := s.Units.ToggleCoverage(ctx, args[0])
					if err != nil {
						return err
					}
					r.printf("%s coverage %t\n", args[0], on)
					return nil
				})
			},
		},
	)

	var reason string
	var back bool
	oos := &cobra.Command{
		Use:   "oos <unit>",
		Short: "Put a unit out of service, or back with --back",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.withSession(cmd, g, func(ctx context.Context, s *session.Session) error {
				return s.Units.SetOOS(ctx, args[0], !back, reason)
			})
		},
	}
	oos.Flags().StringVar(&reason, "reason", "", "out-of-service reason")
	oos.Flags().BoolVar(&back, "back", false, "return the unit to service")
	u.AddCommand(oos)
	return u
}

func (r *Runner) statusCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "status <unit>",
		Short: "Show a unit's current context",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.withSession(cmd, g, func(ctx context.Context, s *session.Session) error {
				uc, err := s.Units.Context(ctx, args[0])
				if err != nil {
					return err
				}
				if g.jsonOut {
					return r.printJSON(uc)
				}
				r.printf("unit:     %s\n", uc.UnitID)
				r.printf("status:   %s\n", uc.Status)
				if uc.OnIncident() {
					r.printf("incident: %d\n", uc.ActiveIncidentID)
				}
				if uc.MiscStatus != "" {
					r.printf("misc:     %s\n", uc.MiscStatus)
				}
				if uc.Coverage {
					r.printf("coverage: yes\n")
				}
				if uc.ParentApparatusID != "" {
					r.printf("on:       %s\n", uc.ParentApparatusID)
				}
				for _, c := range uc.Crew {
					r.printf("crew:     %s %s\n", c.UnitID, c.Role)
				}
				return nil
			})
		},
	}
}

func codeList(set model.DispositionSet) string {
	codes := set.Codes()
	out := make([]string, len(codes))
	for i, c := range codes {
		out[i] = string(c)
	}
	return strings.Join(out, ",")
}
