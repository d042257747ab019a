package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Throttling headers some platforms send instead of, or in addition to, 429.
const (
	HeaderRetryAfter         = "Retry-After"
	HeaderRateLimitRemaining = "X-Rate-Limit-Remaining"
	HeaderRateLimitReset     = "X-Rate-Limit-Reset"
)

// HTTPOption configures an HTTPClient.
type HTTPOption func(*HTTPClient)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTPClient) { h.client = c }
}

// WithRequestTimeout sets the per-request timeout of the default client.
func WithRequestTimeout(d time.Duration) HTTPOption {
	return func(h *HTTPClient) { h.client.Timeout = d }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) HTTPOption {
	return func(h *HTTPClient) { h.userAgent = ua }
}

// WithHTTPClock overrides the time source used to resolve HTTP-date and
// reset-epoch retry hints.
func WithHTTPClock(now func() time.Time) HTTPOption {
	return func(h *HTTPClient) { h.now = now }
}

// HTTPClient publishes posts with a JSON POST to Endpoint.
type HTTPClient struct {
	endpoint  string
	client    *http.Client
	userAgent string
	now       func() time.Time
}

var _ Publisher = (*HTTPClient)(nil)

// NewHTTPClient creates an HTTPClient posting to endpoint.
func NewHTTPClient(endpoint string, opts ...HTTPOption) *HTTPClient {
	h := &HTTPClient{
		endpoint:  endpoint,
		client:    &http.Client{Timeout: 30 * time.Second},
		userAgent: "courier/1",
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Publish implements Publisher.
func (h *HTTPClient) Publish(ctx context.Context, accessToken string, post Post) (Response, error) {
	body, err := json.Marshal(post)
	if err != nil {
		return Response{}, Permanent(fmt.Errorf("marshal post: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return Response{}, Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("User-Agent", h.userAgent)

	resp, err := h.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return Response{}, &Error{Class: ClassTimeout, Err: err}
		}
		return Response{}, Transient(err)
	}
	defer resp.Body.Close()

	success := resp.StatusCode >= 200 && resp.StatusCode < 300
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		if success {
			return Response{}, unconfirmed(resp.StatusCode, fmt.Errorf("read response: %w", err))
		}
		return Response{}, Transient(fmt.Errorf("read response: %w", err))
	}

	if success {
		var out Response
		if err := json.Unmarshal(raw, &out); err != nil {
			return Response{}, unconfirmed(resp.StatusCode, fmt.Errorf("decode response: %w", err))
		}
		if out.RemoteID == "" {
			return Response{}, unconfirmed(resp.StatusCode, errors.New("response carried no post id"))
		}
		out.RetryAfter = h.retryAfter(resp.Header)
		return out, nil
	}

	return Response{}, h.classify(resp, raw)
}

// unconfirmed reports a success response that cannot be read. The post
// may exist, so another attempt could publish it twice.
func unconfirmed(status int, cause error) *Error {
	return &Error{
		Class:      ClassPermanent,
		StatusCode: status,
		Err:        fmt.Errorf("%w: %w", ErrUnconfirmedPublish, cause),
	}
}

func (h *HTTPClient) classify(resp *http.Response, raw []byte) *Error {
	msg := strings.TrimSpace(string(raw))
	var eb errorBody
	if json.Unmarshal(raw, &eb) == nil {
		if eb.Message != "" {
			msg = eb.Message
		} else if eb.Error != "" {
			msg = eb.Error
		}
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	err := errors.New(msg)

	throttled := resp.StatusCode == http.StatusTooManyRequests ||
		resp.Header.Get(HeaderRateLimitRemaining) == "0"
	switch {
	case throttled:
		return &Error{Class: ClassRateLimited, StatusCode: resp.StatusCode, RetryAfter: h.retryAfter(resp.Header), Err: err}
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusGatewayTimeout:
		return &Error{Class: ClassTimeout, StatusCode: resp.StatusCode, Err: err}
	case resp.StatusCode >= 500:
		return &Error{Class: ClassTransient, StatusCode: resp.StatusCode, Err: err}
	default:
		return &Error{Class: ClassPermanent, StatusCode: resp.StatusCode, Err: err}
	}
}

func (h *HTTPClient) retryAfter(header http.Header) time.Duration {
	if d, ok := ParseRetryAfter(header.Get(HeaderRetryAfter), h.now()); ok {
		return d
	}
	if v := header.Get(HeaderRateLimitReset); v != "" {
		if epoch, err := strconv.ParseInt(v, 10, 64); err == nil {
			if d := time.Unix(epoch, 0).Sub(h.now()); d > 0 {
				return d
			}
		}
	}
	return 0
}

// maxRetryAfter caps a platform's Retry-After hint.
const maxRetryAfter = 24 * time.Hour

// ParseRetryAfter parses a Retry-After header value given either as
// delta-seconds or as an HTTP date. Values beyond a day are clamped.
func ParseRetryAfter(v string, now time.Time) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
		if secs < 0 {
			return 0, false
		}
		if secs > int64(maxRetryAfter/time.Second) {
			return maxRetryAfter, true
		}
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(v); err == nil {
		d := at.Sub(now)
		if d < 0 {
			d = 0
		}
		return min(d, maxRetryAfter), true
	}
	return 0, false
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}
