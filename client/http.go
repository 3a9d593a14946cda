package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"

	"bashbook/domain"
)

const (
	guestsPath  = "/api/todos"
	sessionPath = "/api/session"

	defaultTimeout   = 10 * time.Second
	defaultAttempts  = 4
	defaultBaseDelay = 100 * time.Millisecond
	defaultMaxDelay  = 2 * time.Second
	maxErrorBody     = 4 << 10
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server responded %d", e.Code)
	}
	return fmt.Sprintf("server responded %d: %s", e.Code, e.Message)
}

// HTTP talks to a BashBook server. It implements Persister and Sessions.
type HTTP struct {
	baseURL   string
	client    *http.Client
	timeout   time.Duration
	attempts  int
	baseDelay time.Duration
	maxDelay  time.Duration

	mu    sync.RWMutex
	token string
}

type Option func(*HTTP)

// WithHTTPClient replaces the default client. The client is used as given;
// the per-attempt timeout is applied through the request context.
func WithHTTPClient(c *http.Client) Option {
	return func(h *HTTP) { h.client = c }
}

// WithTimeout bounds each attempt, including reading the body. Zero or less
// leaves attempts bounded only by the caller's context.
func WithTimeout(d time.Duration) Option {
	return func(h *HTTP) { h.timeout = d }
}

// WithRetry sets how many attempts a request gets and the backoff bounds
// between them.
func WithRetry(attempts int, base, ceiling time.Duration) Option {
	return func(h *HTTP) {
		if attempts < 1 {
			attempts = 1
		}
		h.attempts = attempts
		h.baseDelay = base
		h.maxDelay = ceiling
	}
}

func NewHTTP(baseURL string, opts ...Option) *HTTP {
	h := &HTTP{
		baseURL:   strings.TrimRight(baseURL, "/"),
		client:    &http.Client{},
		timeout:   defaultTimeout,
		attempts:  defaultAttempts,
		baseDelay: defaultBaseDelay,
		maxDelay:  defaultMaxDelay,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *HTTP) SetToken(token string) {
	h.mu.Lock()
	h.token = token
	h.mu.Unlock()
}

// Close releases idle connections.
func (h *HTTP) Close() {
	h.client.CloseIdleConnections()
}

func (h *HTTP) Load(ctx context.Context) ([]domain.Guest, error) {
	var guests []domain.Guest
	if err := h.do(ctx, http.MethodGet, guestsPath, nil, &guests); err != nil {
		return nil, err
	}
	return domain.Clone(guests), nil
}

func (h *HTTP) Replace(ctx context.Context, guests []domain.Guest) error {
	body := struct {
		Todos []domain.Guest `json:"todos"`
	}{Todos: domain.Clone(guests)}
	return h.do(ctx, http.MethodPost, guestsPath, body, nil)
}

func (h *HTTP) Delete(ctx context.Context, id string) error {
	body := struct {
		ID string `json:"id"`
	}{ID: id}
	return h.do(ctx, http.MethodDelete, guestsPath, body, nil)
}

// OpenSession exchanges password for a session token. An empty token with
// a nil error means the server has no password.
func (h *HTTP) OpenSession(ctx context.Context, password string) (string, error) {
	body := struct {
		Password string `json:"password"`
	}{Password: password}
	var resp struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expiresAt"`
	}
	err := h.do(ctx, http.MethodPost, sessionPath, body, &resp)
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.Code == http.StatusUnauthorized {
		return "", ErrWrongPassword
	}
	if err != nil {
		return "", err
	}
	return resp.Token, nil
}

func (h *HTTP) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = sonic.Marshal(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt < h.attempts; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, h.backoff(attempt)); err != nil {
				return errors.Join(lastErr, err)
			}
		}
		retry, err := h.once(ctx, method, path, payload, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry || ctx.Err() != nil {
			return err
		}
	}
	return lastErr
}

// once performs a single request and reports whether a failure is worth
// retrying.
func (h *HTTP) once(ctx context.Context, method, path string, payload []byte, out any) (bool, error) {
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, h.baseURL+path, reader)
	if err != nil {
		return false, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	h.mu.RLock()
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}
	h.mu.RUnlock()

	resp, err := h.client.Do(req)
	if err != nil {
		return true, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		statusErr := &StatusError{Code: resp.StatusCode, Message: errorMessage(data)}
		return resp.StatusCode >= http.StatusInternalServerError, statusErr
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return false, nil
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return true, fmt.Errorf("%s %s: read body: %w", method, path, err)
	}
	if err := sonic.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("%s %s: decode body: %w", method, path, err)
	}
	return false, nil
}

func (h *HTTP) backoff(attempt int) time.Duration {
	d := h.baseDelay << (attempt - 1)
	if d <= 0 || d > h.maxDelay {
		d = h.maxDelay
	}
	return d
}

func errorMessage(data []byte) string {
	var msg struct {
		Message string `json:"message"`
	}
	if err := sonic.Unmarshal(data, &msg); err == nil && msg.Message != "" {
		return msg.Message
	}
	return strings.TrimSpace(string(data))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
