package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/g960059/brigadeboard/internal/model"
	"github.com/g960059/brigadeboard/internal/panel"
	"github.com/g960059/brigadeboard/internal/session"
)

type panelLoad struct {
	Panel     model.Panel `json:"panel"`
	Bytes     int         `json:"bytes"`
	AppliedAt time.Time   `json:"applied_at"`
}

func (r *Runner) panelCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "panel [active|open|units]...",
		Short: "Fetch board panels now and print them",
		RunE: func(cmd *cobra.Command, args []string) error {
			panels := model.AllPanels
			if len(args) > 0 {
				panels = make([]model.Panel, 0, len(args))
				for _, a := range args {
					p, ok := model.CanonicalPanel(a)
					if !ok {
						return usageError{err: fmt.Errorf("unknown panel %q", a)}
					}
					panels = append(panels, p)
				}
			}

			sizes := map[model.Panel]int{}
			sink := panel.SinkFunc(func(p model.Panel, body []byte) {
				sizes[p] = len(body)
				if !g.jsonOut {
					r.printf("== %s ==\n%s\n", p, body)
				}
			})
			ctx := cmd.Context()
			s, err := r.openSession(ctx, g, nil, session.Ports{Sink: sink})
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			loads := make([]panelLoad, 0, len(panels))
			for _, p := range panels {
				at, err := s.ReloadPanel(ctx, p)
				if err != nil {
					return fmt.Errorf("reload %s: %w", p, err)
				}
				loads = append(loads, panelLoad{Panel: p, Bytes: sizes[p], AppliedAt: at})
			}
			if g.jsonOut {
				return r.printJSON(loads)
			}
			return nil
		},
	}
}
