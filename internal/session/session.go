package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/g960059/brigadeboard/internal/api"
	"github.com/g960059/brigadeboard/internal/config"
	"github.com/g960059/brigadeboard/internal/conn"
	"github.com/g960059/brigadeboard/internal/effects"
	"github.com/g960059/brigadeboard/internal/gateway"
	"github.com/g960059/brigadeboard/internal/logging"
	"github.com/g960059/brigadeboard/internal/metrics"
	"github.com/g960059/brigadeboard/internal/model"
	"github.com/g960059/brigadeboard/internal/panel"
	"github.com/g960059/brigadeboard/internal/refresh"
	"github.com/g960059/brigadeboard/internal/security"
	"github.com/g960059/brigadeboard/internal/store"
	"github.com/g960059/brigadeboard/internal/timer"
	"github.com/g960059/brigadeboard/internal/unit"
)

const clientIDHeader = "X-Client-Id"

// MessageObserver receives the messaging-family pushes. It runs on the
// connection reader and must not block.
type MessageObserver func(api.Envelope)

// Ports are the presentation hooks a session drives. Every field is
// optional.
type Ports struct {
	Sink        panel.Sink
	Prompter    unit.Prompter
	Disposition unit.DispositionFlow
	Sounder     unit.Sounder
	Alerter     timer.Alerter
	Opener      timer.Opener
	Messages    MessageObserver
	Status      func(model.ConnectionState)
}

type Options struct {
	// Store overrides the SQLite store opened from Config.StoragePath. A
	// supplied store is not closed by the session.
	Store      *store.Store
	HTTPClient *http.Client
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
	// Dialer overrides the websocket dialer built from Config.SocketURL.
	Dialer conn.SocketDialer
}

// Session is one operator's live board: push channel, refresh pipeline,
// unit commands and timers, all scoped to a single backend.
type Session struct {
	ID string

	cfg config.Config
	log *slog.Logger
	m   *metrics.Metrics

	Gateway *gateway.Client
	Conn    *conn.Manager
	Refresh *refresh.Orchestrator
	Panels  *panel.Loader
	Effects *effects.Queue
	Units   *unit.Engine
	Timers  *timer.Manager
	Flash   *timer.FlashSet

	store     *store.Store
	ownsStore bool
	messages  MessageObserver

	mu          sync.Mutex
	started     bool
	closed      bool
	cancel      context.CancelFunc
	group       *errgroup.Group
	unsubscribe func()
}

// New builds every component from cfg. Nothing touches the network until
// Start.
func New(ctx context.Context, cfg config.Config, ports Ports, opts Options) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("session config: %w", err)
	}
	log := logging.OrDefault(opts.Logger)
	id := uuid.NewString()
	log = log.With("session", id)

	st := opts.Store
	owns := false
	if st == nil {
		var err error
		st, err = store.OpenMigrated(ctx, cfg.StoragePath)
		if err != nil {
			return nil, err
		}
		owns = true
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	gw := gateway.New(cfg.BackendURL, httpClient).WithUnaryTimeout(cfg.UnaryTimeout)

	s := &Session{
		ID:        id,
		cfg:       cfg,
		log:       log,
		m:         opts.Metrics,
		Gateway:   gw,
		store:     st,
		ownsStore: owns,
		messages:  ports.Messages,
	}

	s.Effects = effects.New(effects.Options{
		Size:      cfg.EffectsQueueSize,
		PerSecond: cfg.EffectsPerSecond,
		Burst:     cfg.EffectsBurst,
		Timeout:   cfg.UnaryTimeout,
		Logger:    log,
		Metrics:   opts.Metrics,
	})

	sink := ports.Sink
	if sink == nil {
		sink = panel.SinkFunc(func(p model.Panel, body []byte) {
			log.Debug("panel applied", "panel", p, "bytes", len(body))
		})
	}
	s.Panels = panel.NewLoader(gw, sink, log, opts.Metrics)
	s.Refresh = refresh.New(s.Panels, refresh.Options{
		Settle:    cfg.RefreshSettle,
		Cooldown:  cfg.RefreshCooldown,
		DragDefer: cfg.DragDefer,
		Logger:    log,
		Metrics:   opts.Metrics,
	})

	s.Units = unit.NewEngine(gw, unit.Options{
		Admin:       cfg.Admin,
		Actor:       cfg.Actor,
		Refresher:   s.Refresh,
		Effects:     s.Effects,
		Prompter:    ports.Prompter,
		Disposition: ports.Disposition,
		Sounder:     ports.Sounder,
		Logger:      log,
		Metrics:     opts.Metrics,
	})

	s.Flash = timer.NewFlashSet(st, ports.Opener, log)
	alerter := ports.Alerter
	if alerter == nil {
		alerter = logAlerter{log: log}
	}
	s.Timers = timer.NewManager(timer.Options{
		Store:    st,
		Flash:    s.Flash,
		Remarks:  gw,
		Resolver: gw,
		Alerter:  refreshingAlerter{next: alerter, refresh: s.Refresh},
		Effects:  s.Effects,
		Logger:   log,
		Metrics:  opts.Metrics,
	})

	dialer := opts.Dialer
	if dialer == nil && cfg.SocketURL != "" {
		header := http.Header{}
		header.Set(clientIDHeader, id)
		dialer = conn.NewWebsocketDialer(cfg.SocketURL, header)
	}
	s.Conn = conn.NewManager(dialer, &conn.HTTPStream{URL: cfg.StreamURL(), Client: httpClient}, conn.Options{
		HeartbeatInterval: cfg.HeartbeatInterval,
		ReconnectBase:     cfg.ReconnectBase,
		ReconnectCeiling:  cfg.ReconnectCeiling,
		StreamRetry:       cfg.StreamRetry,
		Logger:            log,
		Metrics:           opts.Metrics,
	})
	if ports.Status != nil {
		s.Conn.OnStateChange(ports.Status)
	}
	return s, nil
}

// Start restores timers, opens the push channel and starts the background
// loops. The first board load is requested immediately.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("session already started")
	}
	s.started = true
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	group, gctx := errgroup.WithContext(runCtx)
	s.group = group
	s.mu.Unlock()

	s.Effects.Start(gctx)
	if err := s.Timers.Restore(ctx); err != nil {
		s.log.Warn("restore timers failed", "error", err)
	}

	s.unsubscribe = s.Conn.Subscribe(s.handlePush)
	s.Conn.Connect(gctx)

	sweep := s.cfg.TimerSweep
	if sweep <= 0 {
		sweep = time.Second
	}
	group.Go(func() error {
		if err := s.Timers.Run(gctx, sweep); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	s.Refresh.RequestRefresh()
	s.log.Info("session started", "backend", security.RedactURL(s.cfg.BackendURL), "socket", security.RedactURL(s.cfg.SocketURL))
	return nil
}

// Wait blocks until the background loops stop.
func (s *Session) Wait() error {
	s.mu.Lock()
	group := s.group
	s.mu.Unlock()
	if group == nil {
		return nil
	}
	return group.Wait()
}

// Close tears everything down: push channel, refresh pipeline, pending
// effects and the store when the session opened it.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancel := s.cancel
	unsubscribe := s.unsubscribe
	s.cancel = nil
	s.unsubscribe = nil
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	s.Conn.Close()
	s.Refresh.Close()
	for _, p := range model.AllPanels {
		s.Panels.Invalidate(p)
	}

	flushCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
	if err := s.Effects.Flush(flushCtx); err != nil {
		s.log.Debug("effects not drained before close", "error", err)
	}
	done()
	s.Effects.Close()

	if cancel != nil {
		cancel()
	}
	_ = s.Wait()
	if s.ownsStore {
		return s.store.Close()
	}
	return nil
}

// ReloadPanel fetches p immediately, bypassing the settle and cooldown of
// the refresh pipeline, and reports when the sink received it. A fetch of p
// already in flight is superseded.
func (s *Session) ReloadPanel(ctx context.Context, p model.Panel) (time.Time, error) {
	if err := s.Panels.Load(ctx, p); err != nil {
		return time.Time{}, err
	}
	at, ok := s.Panels.LastApplied(p)
	if !ok {
		return time.Time{}, fmt.Errorf("panel %s was superseded before it was applied", p)
	}
	return at, nil
}

func (s *Session) handlePush(env api.Envelope) {
	switch {
	case env.Type == api.PushEventStream:
		s.handleBoardEvent(env.Data)
	case env.Type == api.PushConnected:
		// Pushes sent while we were away are lost; resync the whole board.
		s.Refresh.RequestRefresh()
	case api.IsMessagePush(env.Type):
		if s.messages != nil {
			s.messages(env)
		}
	}
}

func (s *Session) handleBoardEvent(raw json.RawMessage) {
	var ev api.BoardEvent
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &ev); err != nil {
			s.log.Debug("malformed board event, refreshing everything", "error", err)
		}
	}
	if ev.Kind == timerExpiredKind && ev.IncidentID > 0 {
		err := s.Flash.Flash(context.Background(), model.FlashingIncident{
			IncidentID: ev.IncidentID,
			UnitID:     ev.UnitID,
			Reason:     ev.Reason,
		})
		if err != nil {
			s.log.Warn("flash incident failed", "incident", ev.IncidentID, "error", err)
		}
	}
	s.Refresh.RequestRefresh(eventPanels(ev.Panels)...)
}

const timerExpiredKind = "timer_expired"

// eventPanels maps the pushed panel names. Unknown names are skipped; when
// none are recognised the caller refreshes everything.
func eventPanels(names []string) []model.Panel {
	out := make([]model.Panel, 0, len(names))
	for _, name := range names {
		if p, ok := model.CanonicalPanel(name); ok {
			out = append(out, p)
		}
	}
	return out
}

type logAlerter struct {
	log *slog.Logger
}

func (a logAlerter) TimerExpired(_ context.Context, t model.UnitTimer) {
	a.log.Info("timer expired", "unit", t.UnitID, "label", t.Label, "incident", t.IncidentID)
}

// refreshingAlerter redraws the unit board after an expiry so the timer
// column disappears.
type refreshingAlerter struct {
	next    timer.Alerter
	refresh *refresh.Orchestrator
}

func (a refreshingAlerter) TimerExpired(ctx context.Context, t model.UnitTimer) {
	a.next.TimerExpired(ctx, t)
	a.refresh.RequestRefresh(model.PanelUnits)
}
