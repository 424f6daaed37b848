package conn

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/g960059/brigadeboard/internal/api"
	"github.com/g960059/brigadeboard/internal/logging"
	"github.com/g960059/brigadeboard/internal/metrics"
	"github.com/g960059/brigadeboard/internal/model"
	"github.com/g960059/brigadeboard/internal/security"
)

// Handler receives every recognised inbound push. Handlers run on the
// reader goroutine and must not block.
type Handler func(env api.Envelope)

type StateObserver func(model.ConnectionState)

type Options struct {
	HeartbeatInterval time.Duration
	ReconnectBase     time.Duration
	ReconnectCeiling  int
	StreamRetry       time.Duration
	SendBuffer        int
	Logger            *slog.Logger
	Metrics           *metrics.Metrics
	// AfterFunc schedules reconnect attempts. Defaults to time.AfterFunc.
	AfterFunc func(d time.Duration, f func()) (stop func() bool)
}

func DefaultOptions() Options {
	return Options{
		HeartbeatInterval: 30 * time.Second,
		ReconnectBase:     time.Second,
		ReconnectCeiling:  5,
		StreamRetry:       3 * time.Second,
		SendBuffer:        64,
	}
}

// Manager owns the single live push channel of a session: socket first,
// one-way stream after the socket has failed too often.
type Manager struct {
	dialer SocketDialer
	stream StreamOpener
	opts   Options
	log    *slog.Logger
	m      *metrics.Metrics

	mu        sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	state     model.ConnectionState
	gen       uint64
	link      *link
	stopRetry func() bool
	lastPong  time.Time
	subs      map[int]Handler
	nextSub   int
	observers []StateObserver
	streamWG  sync.WaitGroup
}

type link struct {
	gen  uint64
	sock Socket
	out  chan []byte
	stop chan struct{}
	once sync.Once
}

func (l *link) shutdown() {
	l.once.Do(func() {
		close(l.stop)
		_ = l.sock.Close()
	})
}

var allPhases = []string{
	string(model.PhaseConnecting),
	string(model.PhaseOpen),
	string(model.PhaseReconnecting),
	string(model.PhaseFallback),
	string(model.PhaseClosed),
}

// NewManager accepts a nil dialer; the manager then goes straight to the
// fallback stream on Connect.
func NewManager(dialer SocketDialer, stream StreamOpener, opts Options) *Manager {
	def := DefaultOptions()
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = def.HeartbeatInterval
	}
	if opts.ReconnectBase <= 0 {
		opts.ReconnectBase = def.ReconnectBase
	}
	if opts.ReconnectCeiling <= 0 {
		opts.ReconnectCeiling = def.ReconnectCeiling
	}
	if opts.StreamRetry <= 0 {
		opts.StreamRetry = def.StreamRetry
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = def.SendBuffer
	}
	if opts.AfterFunc == nil {
		opts.AfterFunc = func(d time.Duration, f func()) func() bool {
			return time.AfterFunc(d, f).Stop
		}
	}
	return &Manager{
		dialer: dialer,
		stream: stream,
		opts:   opts,
		log:    logging.OrDefault(opts.Logger).With("component", "conn"),
		m:      opts.Metrics,
		state:  model.ConnectionState{Phase: model.PhaseClosed},
		subs:   map[int]Handler{},
	}
}

// Connect starts the channel. It returns immediately; progress is reported
// through state observers.
func (m *Manager) Connect(ctx context.Context) {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return
	}
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.gen++
	gen := m.gen
	if m.dialer == nil {
		st := m.enterFallbackLocked()
		m.mu.Unlock()
		m.log.Warn("no live socket configured, using event stream")
		m.notify(st)
		return
	}
	st := m.setStateLocked(model.ConnectionState{Phase: model.PhaseConnecting})
	m.mu.Unlock()
	m.notify(st)
	go m.dial(gen)
}

func (m *Manager) Close() {
	m.mu.Lock()
	if m.state.Phase == model.PhaseClosed && m.cancel == nil {
		m.mu.Unlock()
		return
	}
	m.gen++
	if m.stopRetry != nil {
		m.stopRetry()
		m.stopRetry = nil
	}
	l := m.link
	m.link = nil
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	st := m.setStateLocked(model.ConnectionState{Phase: model.PhaseClosed})
	m.mu.Unlock()
	if l != nil {
		l.shutdown()
	}
	m.streamWG.Wait()
	m.notify(st)
}

func (m *Manager) State() model.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) IsOpen() bool {
	return m.State().Phase == model.PhaseOpen
}

// LastPong is the receive time of the latest heartbeat reply.
func (m *Manager) LastPong() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastPong
}

// Subscribe registers h and returns its removal func.
func (m *Manager) Subscribe(h Handler) func() {
	if h == nil {
		return func() {}
	}
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = h
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

func (m *Manager) OnStateChange(fn StateObserver) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.observers = append(m.observers, fn)
	m.mu.Unlock()
}

// Send writes msg on the socket when it is open. Anything else, including
// a full write buffer, drops the message and returns false.
func (m *Manager) Send(msg any) bool {
	var data []byte
	switch v := msg.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			m.log.Debug("drop unencodable outbound message", "error", err)
			return false
		}
		data = b
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Phase != model.PhaseOpen || m.link == nil {
		return false
	}
	select {
	case <-m.link.stop:
		return false
	case m.link.out <- data:
		return true
	default:
		m.log.Debug("outbound buffer full, dropping message")
		return false
	}
}

func (m *Manager) dial(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.ctx == nil {
		m.mu.Unlock()
		return
	}
	ctx := m.ctx
	m.mu.Unlock()

	sock, err := m.dialer.DialSocket(ctx)
	if err != nil {
		if errors.Is(err, ErrChannelUnavailable) {
			m.fallback(gen, err)
			return
		}
		m.fail(gen, &TransportError{Op: "dial", Err: err})
		return
	}

	m.mu.Lock()
	if gen != m.gen || m.state.Phase == model.PhaseClosed {
		m.mu.Unlock()
		_ = sock.Close()
		return
	}
	l := &link{gen: gen, sock: sock, out: make(chan []byte, m.opts.SendBuffer), stop: make(chan struct{})}
	m.link = l
	st := m.setStateLocked(model.ConnectionState{Phase: model.PhaseOpen})
	m.mu.Unlock()

	m.log.Info("live socket open")
	m.notify(st)
	go m.writeLoop(l)
	go m.heartbeatLoop(l)
	go m.readLoop(l)
}

// fail tears down the current link and schedules the next attempt, or
// switches to the stream once the ceiling is exceeded.
func (m *Manager) fail(gen uint64, cause error) {
	m.mu.Lock()
	if gen != m.gen || m.state.Phase == model.PhaseClosed || m.state.Phase == model.PhaseFallback {
		m.mu.Unlock()
		return
	}
	l := m.link
	m.link = nil
	m.gen++
	next := m.gen
	attempt := m.state.Attempt + 1
	if attempt > m.opts.ReconnectCeiling {
		st := m.enterFallbackLocked()
		m.mu.Unlock()
		if l != nil {
			l.shutdown()
		}
		m.log.Warn("live socket gave up, switching to event stream", "attempts", attempt-1, "error", security.RedactError(cause))
		m.notify(st)
		return
	}
	delay := m.opts.ReconnectBase << (attempt - 1)
	st := m.setStateLocked(model.ConnectionState{Phase: model.PhaseReconnecting, Attempt: attempt, NextDelay: delay})
	m.stopRetry = m.opts.AfterFunc(delay, func() { m.dial(next) })
	m.mu.Unlock()

	if l != nil {
		l.shutdown()
	}
	m.m.Reconnect()
	m.log.Warn("live socket lost", "attempt", attempt, "retry_in", delay, "error", security.RedactError(cause))
	m.notify(st)
}

func (m *Manager) fallback(gen uint64, cause error) {
	m.mu.Lock()
	if gen != m.gen || m.state.Phase == model.PhaseClosed || m.state.Phase == model.PhaseFallback {
		m.mu.Unlock()
		return
	}
	l := m.link
	m.link = nil
	m.gen++
	st := m.enterFallbackLocked()
	m.mu.Unlock()
	if l != nil {
		l.shutdown()
	}
	m.log.Warn("live socket unavailable, using event stream", "error", security.RedactError(cause))
	m.notify(st)
}

func (m *Manager) enterFallbackLocked() model.ConnectionState {
	st := m.setStateLocked(model.ConnectionState{Phase: model.PhaseFallback})
	m.m.Fallback()
	if m.stream == nil {
		m.log.Error("no event stream configured, board will not receive pushes")
		return st
	}
	ctx := m.ctx
	m.streamWG.Add(1)
	go func() {
		defer m.streamWG.Done()
		m.runStream(ctx)
	}()
	return st
}

func (m *Manager) setStateLocked(st model.ConnectionState) model.ConnectionState {
	m.state = st
	m.m.SetPhase(string(st.Phase), allPhases)
	return st
}

func (m *Manager) notify(st model.ConnectionState) {
	m.mu.Lock()
	obs := make([]StateObserver, len(m.observers))
	copy(obs, m.observers)
	m.mu.Unlock()
	for _, fn := range obs {
		fn(st)
	}
}

func (m *Manager) readLoop(l *link) {
	for {
		data, err := l.sock.ReadMessage()
		if err != nil {
			select {
			case <-l.stop:
				return
			default:
			}
			m.fail(l.gen, &TransportError{Op: "read", Err: err})
			return
		}
		m.dispatch(data)
	}
}

func (m *Manager) writeLoop(l *link) {
	for {
		select {
		case <-l.stop:
			return
		case data := <-l.out:
			if err := l.sock.WriteMessage(data); err != nil {
				m.fail(l.gen, &TransportError{Op: "write", Err: err})
				return
			}
		}
	}
}

func (m *Manager) heartbeatLoop(l *link) {
	ticker := time.NewTicker(m.opts.HeartbeatInterval)
	defer ticker.Stop()
	ping := []byte(`{"type":"` + api.PushPing + `"}`)
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			m.Send(ping)
		}
	}
}

// runStream keeps the fallback stream open until the session context ends,
// reopening after StreamRetry whenever it drops.
func (m *Manager) runStream(ctx context.Context) {
	for {
		body, err := m.stream.OpenStream(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.log.Warn("event stream open failed", "error", security.RedactError(&TransportError{Op: "stream", Err: err}))
		} else {
			m.log.Info("event stream open")
			err = m.readStream(ctx, body)
			_ = body.Close()
			if ctx.Err() != nil {
				return
			}
			m.log.Warn("event stream dropped", "error", security.RedactError(err))
		}
		if !sleepWithContext(ctx, m.opts.StreamRetry) {
			return
		}
	}
}

// readStream accepts server-sent-event framing and newline-delimited JSON.
func (m *Manager) readStream(ctx context.Context, r io.Reader) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var data []string
	flush := func() {
		if len(data) == 0 {
			return
		}
		m.dispatch([]byte(strings.Join(data, "\n")))
		data = data[:0]
	}
	for sc.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := strings.TrimRight(sc.Text(), "\r")
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		case strings.HasPrefix(line, "event:"), strings.HasPrefix(line, "id:"), strings.HasPrefix(line, "retry:"):
		default:
			flush()
			m.dispatch([]byte(line))
		}
	}
	flush()
	if err := sc.Err(); err != nil {
		return err
	}
	return io.EOF
}

func (m *Manager) dispatch(raw []byte) {
	var env api.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		m.log.Debug("ignoring malformed push", "error", err)
		return
	}
	env.Type = strings.TrimSpace(env.Type)
	if !api.IsKnownPushType(env.Type) {
		m.log.Debug("ignoring unknown push type", "type", env.Type)
		return
	}
	m.m.Inbound(env.Type)
	switch env.Type {
	case api.PushPong:
		m.mu.Lock()
		m.lastPong = time.Now()
		m.mu.Unlock()
	case api.PushConnected:
		var d api.ConnectedData
		_ = json.Unmarshal(env.Data, &d)
		m.log.Info("server acknowledged connection", "client_id", d.ClientID)
	}

	m.mu.Lock()
	hs := make([]Handler, 0, len(m.subs))
	for _, h := range m.subs {
		hs = append(hs, h)
	}
	m.mu.Unlock()
	for _, h := range hs {
		h(env)
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
