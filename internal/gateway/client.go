package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/g960059/brigadeboard/internal/security"
)

type Client struct {
	baseURL      string
	client       *http.Client
	unaryTimeout time.Duration
}

const defaultUnaryTimeout = 10 * time.Second

func New(baseURL string, client *http.Client) *Client {
	if client == nil {
		client = &http.Client{}
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		client:       client,
		unaryTimeout: defaultUnaryTimeout,
	}
}

func (c *Client) WithUnaryTimeout(timeout time.Duration) *Client {
	if c == nil {
		return nil
	}
	clone := *c
	clone.unaryTimeout = timeout
	return &clone
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// RejectedError is returned when the backend answers with a non-2xx status or
// with a body whose ok field is explicitly false. Message carries the
// backend-supplied text when there is one.
type RejectedError struct {
	StatusCode int
	Message    string
	Body       json.RawMessage
}

var ErrEmptyPath = errors.New("request path is required")

func (e *RejectedError) Error() string {
	if e == nil {
		return ""
	}
	message := strings.TrimSpace(e.Message)
	switch {
	case message != "" && e.StatusCode >= 300:
		return fmt.Sprintf("http %d: %s", e.StatusCode, message)
	case message != "":
		return message
	case e.StatusCode > 0:
		return fmt.Sprintf("http %d", e.StatusCode)
	default:
		return "command rejected"
	}
}

// IsRejected reports whether err is a backend rejection and returns it.
func IsRejected(err error) (*RejectedError, bool) {
	var rej *RejectedError
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}

func (c *Client) Get(ctx context.Context, path string) (json.RawMessage, error) {
	return c.request(ctx, http.MethodGet, path, nil)
}

func (c *Client) Post(ctx context.Context, path string, body any) (json.RawMessage, error) {
	return c.request(ctx, http.MethodPost, path, body)
}

// Decode is Get/Post followed by unmarshalling into T.
func Decode[T any](raw json.RawMessage, err error) (T, error) {
	var out T
	if err != nil {
		return out, err
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode response: %w", err)
	}
	return out, nil
}

func (c *Client) request(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	if strings.TrimSpace(path) == "" {
		return nil, ErrEmptyPath
	}
	u := c.baseURL + "/" + strings.TrimLeft(path, "/")
	reqCtx := ctx
	if c.unaryTimeout > 0 {
		if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > c.unaryTimeout {
			var cancel context.CancelFunc
			reqCtx, cancel = context.WithTimeout(ctx, c.unaryTimeout)
			defer cancel()
		}
	}
	var reqBody io.Reader
	if body != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reqBody = buf
	} else if method == http.MethodPost {
		reqBody = strings.NewReader("{}")
	}
	req, err := http.NewRequestWithContext(reqCtx, method, u, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		message := extractMessage(payload)
		if message == "" {
			message = strings.TrimSpace(string(payload))
		}
		return nil, &RejectedError{
			StatusCode: resp.StatusCode,
			Message:    security.RedactText(message),
			Body:       json.RawMessage(payload),
		}
	}
	if explicitlyNotOK(payload) {
		return nil, &RejectedError{
			StatusCode: resp.StatusCode,
			Message:    security.RedactText(extractMessage(payload)),
			Body:       json.RawMessage(payload),
		}
	}
	return json.RawMessage(payload), nil
}

type okEnvelope struct {
	OK      *bool           `json:"ok"`
	Error   json.RawMessage `json:"error"`
	Message string          `json:"message"`
}

func explicitlyNotOK(payload []byte) bool {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return false
	}
	var body okEnvelope
	if err := json.Unmarshal(trimmed, &body); err != nil {
		return false
	}
	return body.OK != nil && !*body.OK
}

// extractMessage pulls the user-facing text from an error body. The error
// field may be a string or an object carrying a message.
func extractMessage(payload []byte) string {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return ""
	}
	var body okEnvelope
	if err := json.Unmarshal(trimmed, &body); err != nil {
		return ""
	}
	if len(body.Error) > 0 {
		var s string
		if err := json.Unmarshal(body.Error, &s); err == nil && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
		var obj struct {
			Message string `json:"message"`
			Code    string `json:"code"`
		}
		if err := json.Unmarshal(body.Error, &obj); err == nil {
			if strings.TrimSpace(obj.Message) != "" {
				return strings.TrimSpace(obj.Message)
			}
			if strings.TrimSpace(obj.Code) != "" {
				return strings.TrimSpace(obj.Code)
			}
		}
	}
	return strings.TrimSpace(body.Message)
}

func escape(segment string) string {
	return url.PathEscape(strings.TrimSpace(segment))
}
