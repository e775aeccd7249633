package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
	"unicode/utf8"
)

// TransientError wraps an error that is likely temporary and safe to retry.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err (or any error in its chain) is a
// TransientError, meaning the caller should retry after a backoff.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

const (
	// maxRedirects is the maximum number of HTTP redirects to follow
	// before giving up, matching the default net/http limit.
	maxRedirects = 10

	// httpClientTimeout is the timeout for the default HTTP client used
	// when no custom client is provided.
	httpClientTimeout = 30 * time.Second

	// maxAPIResponseBytes caps response body reads to prevent a
	// misbehaving server from consuming unbounded memory.
	maxAPIResponseBytes = 1024 * 1024
)

// APIClient talks to the notification REST API. It implements
// NotificationAPI.
type APIClient struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

var _ NotificationAPI = (*APIClient)(nil)

// sameHostRedirectPolicy follows redirects only when the target host
// matches the original request host. This prevents the bearer token from
// leaking to third-party domains.
func sameHostRedirectPolicy(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return errors.New("stopped after 10 redirects")
	}

	if len(via) > 0 {
		origHost := via[0].URL.Host
		if req.URL.Host != origHost {
			return fmt.Errorf("redirect to different host blocked: %s -> %s", origHost, req.URL.Host)
		}
	}

	return nil
}

// NewAPIClient creates a notification API client for baseURL,
// authenticating with token. If httpClient is nil, a client with a
// 30-second timeout and same-host redirect policy is created.
func NewAPIClient(baseURL, token string, httpClient *http.Client) *APIClient {
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:       httpClientTimeout,
			CheckRedirect: sameHostRedirectPolicy,
		}
	}

	return &APIClient{
		httpClient: httpClient,
		baseURL:    baseURL,
		token:      token,
	}
}

// apiError is the error envelope the notification API uses on failures.
type apiError struct {
	Error string `json:"error"`
}

// do sends one request and decodes a JSON response into result when
// result is non-nil. Network failures and 429/5xx responses come back
// wrapped in TransientError.
func (c *APIClient) do(ctx context.Context, method, endpoint string, result any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		wrapped := fmt.Errorf("sending request to %s: %w", endpoint, err)
		// Network errors (timeouts, connection refused, DNS failures)
		// are transient by nature.
		return &TransientError{Err: wrapped}
	}
	defer resp.Body.Close()

	// Cap response reads at 1MB. API responses are small JSON payloads.
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxAPIResponseBytes))
	if err != nil {
		return fmt.Errorf("reading response from %s: %w", endpoint, err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		var ae apiError
		if json.Unmarshal(respBody, &ae) == nil && ae.Error != "" {
			err := fmt.Errorf("API %s (%d): %s", endpoint, resp.StatusCode, ae.Error)
			if isTransientStatus(resp.StatusCode) {
				return &TransientError{Err: err}
			}

			return err
		}

		err := fmt.Errorf("API %s returned status %d: %s", endpoint, resp.StatusCode, sanitizeResponseBody(respBody))
		if isTransientStatus(resp.StatusCode) {
			return &TransientError{Err: err}
		}

		return err
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decoding response from %s: %w", endpoint, err)
		}
	}

	return nil
}

// List fetches the user's notifications, newest first.
func (c *APIClient) List(ctx context.Context) ([]Notification, error) {
	var out []Notification
	if err := c.do(ctx, http.MethodGet, "/notifications", &out); err != nil {
		return nil, err
	}

	return out, nil
}

// UnreadCount fetches the authoritative unread counter.
func (c *APIClient) UnreadCount(ctx context.Context) (int, error) {
	var resp struct {
		Count int `json:"count"`
	}
	if err := c.do(ctx, http.MethodGet, "/notifications/count", &resp); err != nil {
		return 0, err
	}

	return resp.Count, nil
}

// MarkRead marks one notification read.
func (c *APIClient) MarkRead(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPut, "/notifications/"+url.PathEscape(id)+"/read", nil)
}

// MarkAllRead marks every notification read.
func (c *APIClient) MarkAllRead(ctx context.Context) error {
	return c.do(ctx, http.MethodPut, "/notifications/read-all", nil)
}

// Delete removes one notification.
func (c *APIClient) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/notifications/"+url.PathEscape(id), nil)
}

// DeleteAll removes every notification.
func (c *APIClient) DeleteAll(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/notifications", nil)
}

func isTransientStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}

	return false
}

// sanitizeResponseBody truncates and sanitizes a response body for
// inclusion in error messages. Limits to 256 bytes and replaces
// non-printable characters to prevent log injection.
func sanitizeResponseBody(body []byte) string {
	const maxLen = 256
	if len(body) > maxLen {
		body = body[:maxLen]
	}

	var clean []byte
	for len(body) > 0 {
		r, size := utf8.DecodeRune(body)
		if r == utf8.RuneError && size <= 1 {
			clean = append(clean, '?')
			body = body[1:]

			continue
		}

		if r < 0x20 && r != '\n' && r != '\r' && r != '\t' {
			clean = append(clean, '?')
		} else {
			clean = append(clean, body[:size]...)
		}

		body = body[size:]
	}

	return string(clean)
}
