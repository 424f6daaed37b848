package conn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ErrChannelUnavailable marks a socket that could not even be constructed
// (no URL, bad scheme). The manager falls back without trying to reconnect.
var ErrChannelUnavailable = errors.New("live channel unavailable")

// TransportError wraps a socket or stream failure. It drives reconnection
// and fallback; it is never surfaced to the operator directly.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Socket is one bidirectional live channel.
type Socket interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

type SocketDialer interface {
	DialSocket(ctx context.Context) (Socket, error)
}

// StreamOpener opens the one-way fallback push stream.
type StreamOpener interface {
	OpenStream(ctx context.Context) (io.ReadCloser, error)
}

type WebsocketDialer struct {
	url    string
	dialer *websocket.Dialer
	header http.Header
}

const (
	writeWait       = 10 * time.Second
	readIdleTimeout = 90 * time.Second
)

// NewWebsocketDialer validates rawURL up front; an unusable URL yields a
// dialer whose every dial reports ErrChannelUnavailable.
func NewWebsocketDialer(rawURL string, header http.Header) *WebsocketDialer {
	d := &WebsocketDialer{
		url: strings.TrimSpace(rawURL),
		dialer: &websocket.Dialer{
			HandshakeTimeout: 15 * time.Second,
			Proxy:            http.ProxyFromEnvironment,
		},
		header: header.Clone(),
	}
	if d.header == nil {
		d.header = http.Header{}
	}
	if d.header.Get("X-Client-Id") == "" {
		d.header.Set("X-Client-Id", uuid.NewString())
	}
	return d
}

func (d *WebsocketDialer) DialSocket(ctx context.Context) (Socket, error) {
	if d == nil || d.url == "" {
		return nil, ErrChannelUnavailable
	}
	u, err := url.Parse(d.url)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return nil, fmt.Errorf("%w: socket url %q", ErrChannelUnavailable, d.url)
	}
	c, resp, err := d.dialer.DialContext(ctx, d.url, d.header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: status %d: %w", d.url, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial %s: %w", d.url, err)
	}
	c.SetPongHandler(func(string) error {
		return c.SetReadDeadline(time.Now().Add(readIdleTimeout))
	})
	return &wsSocket{conn: c}, nil
}

type wsSocket struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (s *wsSocket) ReadMessage() ([]byte, error) {
	_ = s.conn.SetReadDeadline(time.Now().Add(readIdleTimeout))
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (s *wsSocket) WriteMessage(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *wsSocket) Close() error {
	s.writeMu.Lock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	s.writeMu.Unlock()
	return s.conn.Close()
}

// HTTPStream opens the fallback event stream with a long-lived GET.
type HTTPStream struct {
	URL    string
	Client *http.Client
}

func (h *HTTPStream) OpenStream(ctx context.Context) (io.ReadCloser, error) {
	if h == nil || strings.TrimSpace(h.URL) == "" {
		return nil, ErrChannelUnavailable
	}
	client := h.Client
	if client == nil {
		client = &http.Client{}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream, application/x-ndjson")
	req.Header.Set("Cache-Control", "no-cache")
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("open stream: http %d", resp.StatusCode)
	}
	return resp.Body, nil
}
