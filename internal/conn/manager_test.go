package conn

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/g960059/brigadeboard/internal/api"
	"github.com/g960059/brigadeboard/internal/logging"
	"github.com/g960059/brigadeboard/internal/model"
)

type scriptedDialer struct {
	mu      sync.Mutex
	calls   int
	results []func() (Socket, error)
}

func (d *scriptedDialer) DialSocket(context.Context) (Socket, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	i := d.calls
	d.calls++
	if i < len(d.results) {
		return d.results[i]()
	}
	return nil, errors.New("connection refused")
}

func (d *scriptedDialer) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

type recordingScheduler struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordingScheduler) after(d time.Duration, f func()) func() bool {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	go f()
	return func() bool { return false }
}

func (s *recordingScheduler) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

type fakeStream struct {
	body   string
	opened atomic.Int32
}

func (s *fakeStream) OpenStream(context.Context) (io.ReadCloser, error) {
	s.opened.Add(1)
	return io.NopCloser(strings.NewReader(s.body)), nil
}

type fakeSocket struct {
	in      chan []byte
	written chan []byte
	closed  chan struct{}
	once    sync.Once
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{in: make(chan []byte, 16), written: make(chan []byte, 16), closed: make(chan struct{})}
}

func (s *fakeSocket) ReadMessage() ([]byte, error) {
	select {
	case b := <-s.in:
		return b, nil
	case <-s.closed:
		return nil, errors.New("socket closed")
	}
}

func (s *fakeSocket) WriteMessage(b []byte) error {
	select {
	case s.written <- b:
		return nil
	case <-s.closed:
		return errors.New("socket closed")
	}
}

func (s *fakeSocket) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func testOptions(sched *recordingScheduler) Options {
	opts := DefaultOptions()
	opts.StreamRetry = time.Hour
	opts.Logger = logging.Discard()
	if sched != nil {
		opts.AfterFunc = sched.after
	}
	return opts
}

func collect(m *Manager) func() []string {
	var mu sync.Mutex
	var seen []string
	m.Subscribe(func(env api.Envelope) {
		mu.Lock()
		seen = append(seen, env.Type)
		mu.Unlock()
	})
	return func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), seen...)
	}
}

func TestBackoffDoublesThenFallsBackOnSixthFailure(t *testing.T) {
	dialer := &scriptedDialer{}
	stream := &fakeStream{}
	sched := &recordingScheduler{}
	m := NewManager(dialer, stream, testOptions(sched))
	t.Cleanup(m.Close)

	m.Connect(context.Background())

	require.Eventually(t, func() bool { return m.State().Phase == model.PhaseFallback }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second}, sched.Delays())
	assert.Equal(t, 6, dialer.Calls())
	require.Eventually(t, func() bool { return stream.opened.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestUnconstructibleSocketFallsBackImmediately(t *testing.T) {
	sched := &recordingScheduler{}
	stream := &fakeStream{}
	m := NewManager(NewWebsocketDialer("not a socket url", nil), stream, testOptions(sched))
	t.Cleanup(m.Close)

	m.Connect(context.Background())

	require.Eventually(t, func() bool { return m.State().Phase == model.PhaseFallback }, time.Second, 5*time.Millisecond)
	assert.Empty(t, sched.Delays())
}

func TestNilDialerUsesStream(t *testing.T) {
	m := NewManager(nil, &fakeStream{}, testOptions(nil))
	t.Cleanup(m.Close)

	var phases []model.ConnectionPhase
	var mu sync.Mutex
	m.OnStateChange(func(st model.ConnectionState) {
		mu.Lock()
		phases = append(phases, st.Phase)
		mu.Unlock()
	})
	m.Connect(context.Background())

	assert.Equal(t, model.PhaseFallback, m.State().Phase)
	assert.False(t, m.Send(map[string]string{"type": "ping"}))
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []model.ConnectionPhase{model.PhaseFallback}, phases)
}

func TestOpenResetsAttemptAndRoutesKnownTypes(t *testing.T) {
	sock := newFakeSocket()
	dialer := &scriptedDialer{results: []func() (Socket, error){
		func() (Socket, error) { return nil, errors.New("refused") },
		func() (Socket, error) { return sock, nil },
	}}
	sched := &recordingScheduler{}
	m := NewManager(dialer, &fakeStream{}, testOptions(sched))
	t.Cleanup(m.Close)
	seen := collect(m)

	m.Connect(context.Background())
	require.Eventually(t, m.IsOpen, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, m.State().Attempt)
	assert.Equal(t, []time.Duration{time.Second}, sched.Delays())

	sock.in <- []byte(`{"type":"bogus","data":{}}`)
	sock.in <- []byte(`not json`)
	sock.in <- []byte(`{"type":"event_stream","data":{"panels":["units"]}}`)
	sock.in <- []byte(`{"type":"pong"}`)

	require.Eventually(t, func() bool { return len(seen()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{api.PushEventStream, api.PushPong}, seen())
	assert.False(t, m.LastPong().IsZero())

	require.True(t, m.Send(map[string]any{"type": "subscribe"}))
	select {
	case b := <-sock.written:
		assert.JSONEq(t, `{"type":"subscribe"}`, string(b))
	case <-time.After(time.Second):
		t.Fatal("message not written")
	}
}

func TestHeartbeatSendsPing(t *testing.T) {
	sock := newFakeSocket()
	dialer := &scriptedDialer{results: []func() (Socket, error){
		func() (Socket, error) { return sock, nil },
	}}
	opts := testOptions(nil)
	opts.HeartbeatInterval = 10 * time.Millisecond
	m := NewManager(dialer, nil, opts)
	t.Cleanup(m.Close)

	m.Connect(context.Background())
	select {
	case b := <-sock.written:
		assert.JSONEq(t, `{"type":"ping"}`, string(b))
	case <-time.After(time.Second):
		t.Fatal("no heartbeat")
	}
}

func TestReadErrorSchedulesReconnect(t *testing.T) {
	first := newFakeSocket()
	second := newFakeSocket()
	dialer := &scriptedDialer{results: []func() (Socket, error){
		func() (Socket, error) { return first, nil },
		func() (Socket, error) { return second, nil },
	}}
	sched := &recordingScheduler{}
	m := NewManager(dialer, nil, testOptions(sched))
	t.Cleanup(m.Close)

	m.Connect(context.Background())
	require.Eventually(t, m.IsOpen, time.Second, 5*time.Millisecond)

	_ = first.Close()
	require.Eventually(t, func() bool { return dialer.Calls() == 2 && m.IsOpen() }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []time.Duration{time.Second}, sched.Delays())
}

func TestStreamAcceptsEventAndLineFraming(t *testing.T) {
	body := strings.Join([]string{
		": keepalive",
		"event: message",
		`data: {"type":"event_stream","data":{"panels":["units"]}}`,
		"",
		`{"type":"new_message","data":{}}`,
		`{"type":"bogus"}`,
		"not json",
		`data: {"type":"typing",`,
		`data: "data":{}}`,
		"",
	}, "\n")
	m := NewManager(nil, &fakeStream{body: body}, testOptions(nil))
	t.Cleanup(m.Close)
	seen := collect(m)

	m.Connect(context.Background())

	require.Eventually(t, func() bool { return len(seen()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{api.PushEventStream, api.PushNewMessage, api.PushTyping}, seen())
}

func TestHTTPStreamAgainstServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("Accept"), "text/event-stream")
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: {\"type\":\"connected\",\"data\":{\"client_id\":\"c1\"}}\n\n")
	}))
	t.Cleanup(srv.Close)

	m := NewManager(nil, &HTTPStream{URL: srv.URL, Client: srv.Client()}, testOptions(nil))
	t.Cleanup(m.Close)
	seen := collect(m)
	m.Connect(context.Background())

	require.Eventually(t, func() bool { return len(seen()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, api.PushConnected, seen()[0])
}

func TestWebsocketRoundTrip(t *testing.T) {
	upgrader := websocket.Upgrader{}
	received := make(chan string, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer c.Close()
		_ = c.WriteMessage(websocket.TextMessage, []byte(`{"type":"connected","data":{"client_id":"abc"}}`))
		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				return
			}
			received <- string(msg)
		}
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	m := NewManager(NewWebsocketDialer(url, nil), nil, testOptions(nil))
	t.Cleanup(m.Close)
	seen := collect(m)

	m.Connect(context.Background())
	require.Eventually(t, func() bool { return len(seen()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{api.PushConnected}, seen())

	require.True(t, m.Send(`{"type":"hello"}`))
	select {
	case msg := <-received:
		assert.JSONEq(t, `{"type":"hello"}`, msg)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive message")
	}
}

func TestSendBeforeConnectIsDropped(t *testing.T) {
	m := NewManager(&scriptedDialer{}, nil, testOptions(nil))
	assert.False(t, m.Send("anything"))
	assert.Equal(t, model.PhaseClosed, m.State().Phase)
}

func TestTransportErrorUnwraps(t *testing.T) {
	cause := errors.New("boom")
	err := &TransportError{Op: "read", Err: cause}
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "transport read: boom", err.Error())
}
