package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultTimeout = 10 * time.Second

// Error wraps any transport or provider failure so callers can tell gateway
// trouble apart from domain rejections. Timeouts and 5xx responses both land
// here; the payment row is left untouched for a later verify pass.
type Error struct {
	Provider string
	Op       string
	Status   int
	Err      error
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("gateway %s: %s: status %d: %v", e.Provider, e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("gateway %s: %s: %v", e.Provider, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

var errUnexpectedStatus = errors.New("unexpected response status")

type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

func newClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

// doJSON posts/gets JSON against a provider endpoint and decodes the reply
// into out. Bodies are capped to guard against a misbehaving provider.
func doJSON(ctx context.Context, client httpDoer, provider, op, method, url, bearer string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return &Error{Provider: provider, Op: op, Err: err}
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return &Error{Provider: provider, Op: op, Err: err}
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := client.Do(req)
	if err != nil {
		return &Error{Provider: provider, Op: op, Err: err}
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &Error{Provider: provider, Op: op, Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &Error{Provider: provider, Op: op, Status: resp.StatusCode, Err: fmt.Errorf("%w: %s", errUnexpectedStatus, truncate(raw, 256))}
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return &Error{Provider: provider, Op: op, Status: resp.StatusCode, Err: err}
		}
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
