package cli

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/g960059/brigadeboard/internal/api"
	"github.com/g960059/brigadeboard/internal/metrics"
	"github.com/g960059/brigadeboard/internal/model"
	"github.com/g960059/brigadeboard/internal/session"
)

func (r *Runner) runCommand(g *globals) *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Keep a live board session open until interrupted",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return r.runSession(cmd.Context(), g, metricsAddr)
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics", "", "serve Prometheus metrics on this address")
	return cmd
}

func (r *Runner) runSession(ctx context.Context, g *globals, metricsAddr string) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	w := &lineWriter{out: r.out}
	s, err := r.openSession(ctx, g, m, session.Ports{
		Sink: panelPrinter{w: w},
		Messages: func(env api.Envelope) {
			w.printf("message %s %s\n", env.Type, string(env.Data))
		},
		Status: func(st model.ConnectionState) {
			if st.Phase == model.PhaseReconnecting {
				w.printf("connection %s (attempt %d, retry in %s)\n", st.Phase, st.Attempt, st.NextDelay)
				return
			}
			w.printf("connection %s\n", st.Phase)
		},
		Alerter: terminalAlerter{w: w},
	})
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	if metricsAddr == "" {
		cfg, _ := g.config()
		metricsAddr = cfg.MetricsAddr
	}
	if metricsAddr != "" {
		stop, err := serveMetrics(metricsAddr, reg)
		if err != nil {
			return err
		}
		defer stop()
	}

	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

func serveMetrics(addr string, reg *prometheus.Registry) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listen %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = srv.Serve(ln) }()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

// lineWriter serialises output from the reader, fetch and timer goroutines.
type lineWriter struct {
	mu  sync.Mutex
	out io.Writer
}

func (w *lineWriter) printf(format string, args ...any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, _ = fmt.Fprintf(w.out, format, args...)
}

type panelPrinter struct {
	w *lineWriter
}

func (p panelPrinter) ApplyPanel(panel model.Panel, body []byte) {
	p.w.printf("panel %s updated (%d bytes)\n", panel, len(body))
}

type terminalAlerter struct {
	w *lineWriter
}

func (a terminalAlerter) TimerExpired(_ context.Context, t model.UnitTimer) {
	a.w.printf("\aTIMER EXPIRED %s for %s\n", t.Label, t.UnitID)
}
