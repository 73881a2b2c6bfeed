package isolation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

const (
	// HTTPTimeout is the per-request timeout for control API calls.
	HTTPTimeout = 30 * time.Second
	// MaxRetries is the number of retry attempts for transient API errors.
	MaxRetries = 3
	// BaseBackoff is the initial backoff duration; doubled on each retry.
	BaseBackoff = 100 * time.Millisecond
)

// APIError carries the HTTP status code from a control API response.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string { return e.Message }

// NewSocketHTTPClient creates an HTTP client that dials a Unix domain socket.
func NewSocketHTTPClient(socketPath string) *http.Client {
	return &http.Client{
		Timeout: HTTPTimeout,
		Transport: &http.Transport{
			// One client per call; pooled connections would outlive it.
			DisableKeepAlives: true,
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", socketPath)
			},
		},
	}
}

// DoPUT sends a PUT request over a Unix socket and expects 204 No Content.
// Returns an *APIError for non-204 responses.
func DoPUT(ctx context.Context, socketPath, path string, body []byte) error {
	resp, err := do(ctx, socketPath, http.MethodPut, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusNoContent {
		return newAPIError(http.MethodPut, path, resp)
	}
	return nil
}

// DoGET sends a GET request over a Unix socket, expects 200 OK and decodes the JSON body into out.
func DoGET(ctx context.Context, socketPath, path string, out any) error {
	resp, err := do(ctx, socketPath, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		return newAPIError(http.MethodGet, path, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func do(ctx context.Context, socketPath, method, path string, body []byte) (*http.Response, error) {
	hc := NewSocketHTTPClient(socketPath)
	var reqBody io.Reader
	if body != nil {
		reqBody = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, "http://localhost"+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("build request %s: %w", path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}

func newAPIError(method, path string, resp *http.Response) *APIError {
	rb, _ := io.ReadAll(resp.Body)
	return &APIError{
		Code:    resp.StatusCode,
		Message: fmt.Sprintf("%s %s -> %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(rb)),
	}
}

// CheckSocket verifies that a Unix domain socket is connectable.
func CheckSocket(socketPath string) error {
	conn, err := net.DialTimeout("unix", socketPath, 2*time.Second)
	if err != nil {
		return err
	}
	return conn.Close()
}

// DoWithRetry retries fn up to MaxRetries times with exponential backoff
// for transient errors (connection failures, HTTP 5xx, 429).
func DoWithRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for i := 0; i <= MaxRetries; i++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) {
			return lastErr
		}
		if i < MaxRetries {
			backoff := BaseBackoff * time.Duration(1<<i)
			select {
			case <-ctx.Done():
				return lastErr
			case <-time.After(backoff):
			}
		}
	}
	return lastErr
}

// IsRetryable returns true for transient errors worth retrying:
// connection-level failures and HTTP 5xx/429 responses.
func IsRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.Code >= 500 || ae.Code == http.StatusTooManyRequests
	}
	// Non-APIError = connection-level failure, always retry.
	return true
}
