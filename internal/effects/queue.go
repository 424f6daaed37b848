package effects

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/g960059/brigadeboard/internal/logging"
	"github.com/g960059/brigadeboard/internal/metrics"
	"github.com/g960059/brigadeboard/internal/security"
)

// Queue runs best-effort side calls (status echoes, audit remarks, sounds)
// off the caller's path. A failing effect is recorded and logged; it never
// reaches the result of the operation that enqueued it.
type Queue struct {
	ch      chan effect
	limiter *rate.Limiter
	timeout time.Duration
	log     *slog.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	pending  int
	idle     chan struct{}
	failures []Failure
	closed   bool
	started  bool
	done     chan struct{}
}

type Options struct {
	Size      int
	PerSecond float64
	Burst     int
	Timeout   time.Duration
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
}

type Failure struct {
	ID   string
	Name string
	Err  error
	At   time.Time
}

type effect struct {
	id   string
	name string
	run  func(context.Context) error
}

const maxRecordedFailures = 64

func New(opts Options) *Queue {
	size := opts.Size
	if size <= 0 {
		size = 256
	}
	limit := rate.Inf
	if opts.PerSecond > 0 {
		limit = rate.Limit(opts.PerSecond)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	idle := make(chan struct{})
	close(idle)
	return &Queue{
		ch:      make(chan effect, size),
		limiter: rate.NewLimiter(limit, burst),
		timeout: timeout,
		log:     logging.OrDefault(opts.Logger),
		metrics: opts.Metrics,
		idle:    idle,
		done:    make(chan struct{}),
	}
}

// Start launches the worker. It returns immediately; the worker exits when
// ctx is done or Close is called.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.mu.Unlock()
	go q.loop(ctx)
}

// Enqueue schedules fn and returns its id, or "" when the effect was dropped
// because the queue is full or closed. It never blocks.
func (q *Queue) Enqueue(name string, fn func(context.Context) error) string {
	if fn == nil {
		return ""
	}
	e := effect{id: uuid.NewString(), name: name, run: fn}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.metrics.Effect(name, "dropped")
		return ""
	}
	select {
	case q.ch <- e:
		if q.pending == 0 {
			q.idle = make(chan struct{})
		}
		q.pending++
		q.mu.Unlock()
		return e.id
	default:
		q.mu.Unlock()
		q.log.Warn("effects queue full, dropping effect", "effect", name)
		q.metrics.Effect(name, "dropped")
		return ""
	}
}

// Flush blocks until every enqueued effect has run or ctx ends.
func (q *Queue) Flush(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) Failures() []Failure {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Failure, len(q.failures))
	copy(out, q.failures)
	return out
}

// Close stops accepting effects. Already queued effects still run if the
// worker is alive.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

func (q *Queue) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			q.drain(ctx.Err())
			return
		case e := <-q.ch:
			q.run(ctx, e)
		case <-q.done:
			for {
				select {
				case e := <-q.ch:
					q.run(ctx, e)
				default:
					return
				}
			}
		}
	}
}

func (q *Queue) run(ctx context.Context, e effect) {
	defer q.finish()
	if err := q.limiter.Wait(ctx); err != nil {
		q.record(e, fmt.Errorf("rate wait: %w", err))
		return
	}
	runCtx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()
	err := safeRun(runCtx, e.run)
	if err != nil {
		q.record(e, err)
		return
	}
	q.metrics.Effect(e.name, "ok")
}

func (q *Queue) drain(cause error) {
	for {
		select {
		case e := <-q.ch:
			q.record(e, fmt.Errorf("queue stopped: %w", cause))
			q.finish()
		default:
			return
		}
	}
}

func (q *Queue) record(e effect, err error) {
	q.log.Warn("best-effort effect failed", "effect", e.name, "effect_id", e.id, "error", security.RedactError(err))
	q.metrics.Effect(e.name, "error")
	q.mu.Lock()
	defer q.mu.Unlock()
	q.failures = append(q.failures, Failure{ID: e.id, Name: e.name, Err: err, At: time.Now().UTC()})
	if len(q.failures) > maxRecordedFailures {
		q.failures = q.failures[len(q.failures)-maxRecordedFailures:]
	}
}

func (q *Queue) finish() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending--
	if q.pending == 0 {
		close(q.idle)
	}
}

func safeRun(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("effect panicked: %v", r)
		}
	}()
	return fn(ctx)
}
