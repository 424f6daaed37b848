package panel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/g960059/brigadeboard/internal/logging"
	"github.com/g960059/brigadeboard/internal/metrics"
	"github.com/g960059/brigadeboard/internal/model"
)

// Source returns the rendered body of one panel.
type Source interface {
	Panel(ctx context.Context, panel model.Panel) ([]byte, error)
}

// Sink receives a panel body that is still current.
type Sink interface {
	ApplyPanel(panel model.Panel, body []byte)
}

type SinkFunc func(panel model.Panel, body []byte)

func (f SinkFunc) ApplyPanel(panel model.Panel, body []byte) { f(panel, body) }

// Loader fetches panels and hands results to the sink only if no newer
// fetch of the same panel started in the meantime.
type Loader struct {
	src  Source
	sink Sink
	log  *slog.Logger
	m    *metrics.Metrics

	mu   sync.Mutex
	gens map[model.Panel]uint64
	last map[model.Panel]time.Time
}

func NewLoader(src Source, sink Sink, logger *slog.Logger, m *metrics.Metrics) *Loader {
	return &Loader{
		src:  src,
		sink: sink,
		log:  logging.OrDefault(logger).With("component", "panel"),
		m:    m,
		gens: map[model.Panel]uint64{},
		last: map[model.Panel]time.Time{},
	}
}

// FetchPanels loads every panel concurrently. One failing panel does not
// stop the others; the first error is returned.
func (l *Loader) FetchPanels(ctx context.Context, panels []model.Panel) error {
	var g errgroup.Group
	for _, p := range panels {
		p := p
		gen := l.begin(p)
		g.Go(func() error {
			return l.load(ctx, p, gen)
		})
	}
	return g.Wait()
}

// Load fetches a single panel, superseding any fetch of it still running.
func (l *Loader) Load(ctx context.Context, p model.Panel) error {
	return l.load(ctx, p, l.begin(p))
}

// Invalidate discards whatever fetch of p is in flight.
func (l *Loader) Invalidate(p model.Panel) {
	l.begin(p)
}

// LastApplied reports when p was last handed to the sink.
func (l *Loader) LastApplied(p model.Panel) (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.last[p]
	return t, ok
}

func (l *Loader) load(ctx context.Context, p model.Panel, gen uint64) error {
	start := time.Now()
	body, err := l.src.Panel(ctx, p)
	l.m.PanelFetch(string(p), time.Since(start), err)
	if err != nil {
		return fmt.Errorf("panel %s: %w", p, err)
	}
	l.mu.Lock()
	current := l.gens[p] == gen
	if current {
		l.last[p] = time.Now()
	}
	l.mu.Unlock()
	if !current {
		l.log.Debug("discarding superseded panel body", "panel", p)
		return nil
	}
	if l.sink != nil {
		l.sink.ApplyPanel(p, body)
	}
	return nil
}

func (l *Loader) begin(p model.Panel) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.gens[p]++
	return l.gens[p]
}
