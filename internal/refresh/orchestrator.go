package refresh

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/g960059/brigadeboard/internal/logging"
	"github.com/g960059/brigadeboard/internal/metrics"
	"github.com/g960059/brigadeboard/internal/model"
)

// Fetcher reloads the given panels. Errors are logged; a failed cycle is
// not retried until the next request.
type Fetcher interface {
	FetchPanels(ctx context.Context, panels []model.Panel) error
}

type FetchFunc func(ctx context.Context, panels []model.Panel) error

func (f FetchFunc) FetchPanels(ctx context.Context, panels []model.Panel) error {
	return f(ctx, panels)
}

type Options struct {
	Settle    time.Duration
	Cooldown  time.Duration
	DragDefer time.Duration
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
}

func DefaultOptions() Options {
	return Options{
		Settle:    50 * time.Millisecond,
		Cooldown:  400 * time.Millisecond,
		DragDefer: 250 * time.Millisecond,
	}
}

// Orchestrator coalesces refresh requests: at most one cycle runs, and any
// number of requests made while it runs collapse into one trailing cycle.
type Orchestrator struct {
	fetch Fetcher
	opts  Options
	log   *slog.Logger
	m     *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	inFlight   bool
	queued     bool
	pending    map[model.Panel]struct{}
	dragging   bool
	deferTimer *time.Timer
	deferred   map[model.Panel]struct{}
	busy       int
	idle       chan struct{}
	closed     bool
	cycles     int
}

func New(fetch Fetcher, opts Options) *Orchestrator {
	def := DefaultOptions()
	if opts.Settle < 0 {
		opts.Settle = def.Settle
	}
	if opts.Cooldown < 0 {
		opts.Cooldown = def.Cooldown
	}
	if opts.DragDefer <= 0 {
		opts.DragDefer = def.DragDefer
	}
	ctx, cancel := context.WithCancel(context.Background())
	idle := make(chan struct{})
	close(idle)
	return &Orchestrator{
		fetch:    fetch,
		opts:     opts,
		log:      logging.OrDefault(opts.Logger).With("component", "refresh"),
		m:        opts.Metrics,
		ctx:      ctx,
		cancel:   cancel,
		pending:  map[model.Panel]struct{}{},
		deferred: map[model.Panel]struct{}{},
		idle:     idle,
	}
}

// RequestRefresh asks for the given panels, or all panels when none are
// named. It never blocks. While a drag is in progress the request is held
// back by the drag-defer delay.
func (o *Orchestrator) RequestRefresh(panels ...model.Panel) {
	set := panelSet(panels)
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	if o.dragging {
		for p := range set {
			o.deferred[p] = struct{}{}
		}
		o.m.RefreshDeferred()
		if o.deferTimer == nil {
			o.addBusyLocked()
			o.deferTimer = time.AfterFunc(o.opts.DragDefer, o.onDeferElapsed)
		}
		return
	}
	o.requestLocked(set)
}

// ForceRefresh ignores any drag in progress.
func (o *Orchestrator) ForceRefresh(panels ...model.Panel) {
	set := panelSet(panels)
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.requestLocked(set)
}

func (o *Orchestrator) DragStart() {
	o.mu.Lock()
	o.dragging = true
	o.mu.Unlock()
}

func (o *Orchestrator) DragEnd() {
	o.mu.Lock()
	o.dragging = false
	o.mu.Unlock()
}

// Drop ends the gesture the same way DragEnd does.
func (o *Orchestrator) Drop() {
	o.DragEnd()
}

func (o *Orchestrator) Dragging() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dragging
}

// Cycles is the number of completed refresh cycles.
func (o *Orchestrator) Cycles() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cycles
}

// Wait blocks until no cycle is running and no deferred request is pending.
func (o *Orchestrator) Wait(ctx context.Context) error {
	o.mu.Lock()
	idle := o.idle
	o.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drops pending work and cancels the running fetch, if any.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	if o.deferTimer != nil && o.deferTimer.Stop() {
		o.deferTimer = nil
		o.doneBusyLocked()
	}
	o.queued = false
	o.pending = map[model.Panel]struct{}{}
	o.mu.Unlock()
	o.cancel()
}

func (o *Orchestrator) requestLocked(set map[model.Panel]struct{}) {
	if o.inFlight {
		o.queued = true
		for p := range set {
			o.pending[p] = struct{}{}
		}
		o.m.RefreshCoalesced()
		return
	}
	o.inFlight = true
	o.addBusyLocked()
	go o.run(set)
}

func (o *Orchestrator) run(set map[model.Panel]struct{}) {
	for {
		o.cycle(set)

		o.mu.Lock()
		o.cycles++
		if o.queued && !o.closed {
			set = o.pending
			o.pending = map[model.Panel]struct{}{}
			o.queued = false
			o.mu.Unlock()
			continue
		}
		o.inFlight = false
		o.doneBusyLocked()
		o.mu.Unlock()
		return
	}
}

func (o *Orchestrator) cycle(set map[model.Panel]struct{}) {
	o.m.RefreshCycle()
	if !sleepWithContext(o.ctx, o.opts.Settle) {
		return
	}
	panels := sortedPanels(set)
	if err := o.fetch.FetchPanels(o.ctx, panels); err != nil && o.ctx.Err() == nil {
		o.log.Warn("panel refresh failed", "panels", panels, "error", err)
	}
	sleepWithContext(o.ctx, o.opts.Cooldown)
}

func (o *Orchestrator) onDeferElapsed() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		o.deferTimer = nil
		o.doneBusyLocked()
		return
	}
	if o.dragging {
		o.deferTimer.Reset(o.opts.DragDefer)
		return
	}
	o.deferTimer = nil
	set := o.deferred
	o.deferred = map[model.Panel]struct{}{}
	o.requestLocked(set)
	o.doneBusyLocked()
}

func (o *Orchestrator) addBusyLocked() {
	if o.busy == 0 {
		o.idle = make(chan struct{})
	}
	o.busy++
}

func (o *Orchestrator) doneBusyLocked() {
	o.busy--
	if o.busy == 0 {
		close(o.idle)
	}
}

func panelSet(panels []model.Panel) map[model.Panel]struct{} {
	if len(panels) == 0 {
		panels = model.AllPanels
	}
	set := make(map[model.Panel]struct{}, len(panels))
	for _, p := range panels {
		if p == "" {
			continue
		}
		set[p] = struct{}{}
	}
	return set
}

func sortedPanels(set map[model.Panel]struct{}) []model.Panel {
	out := make([]model.Panel, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
