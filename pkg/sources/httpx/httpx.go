package httpx

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
	"golang.org/x/time/rate"

	"equityfeed/pkg/market"
	"equityfeed/pkg/retry"
)

const (
	defaultHTTPTimeout = 10 * time.Second
	defaultUserAgent   = "Mozilla/5.0 (compatible; equityfeed/1.0)"
	maxBodyBytes       = 32 << 20
)

// StatusError reports a non-2xx upstream response.
type StatusError struct {
	URL    string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http status %d from %s: %s", e.Status, e.URL, e.Body)
}

// Transient classifies timeouts, rate limiting and server errors as retryable.
func (e *StatusError) Transient() bool {
	return e.Status == http.StatusRequestTimeout ||
		e.Status == http.StatusTooManyRequests ||
		e.Status >= 500
}

// Client wraps http.Client with a User-Agent, default headers, an optional per-call
// timeout and an optional token-bucket limiter.
type Client struct {
	HTTP      *http.Client
	UserAgent string
	Headers   map[string]string
	Timeout   time.Duration
	limiter   *rate.Limiter
}

// New builds a client with a tuned transport.
func New(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 3 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		ForceAttemptHTTP2:     true,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   3 * time.Second,
		ExpectContinueTimeout: time.Second,
		ResponseHeaderTimeout: timeout,
	}
	return &Client{HTTP: &http.Client{Timeout: timeout, Transport: transport}, UserAgent: defaultUserAgent}
}

// FromConfig builds a client from a source's configuration.
func FromConfig(cfg *market.SourceConfig) *Client {
	c := New(cfg.HTTPTimeout)
	c.Timeout = cfg.Timeout
	if len(cfg.Headers) > 0 {
		c.Headers = make(map[string]string, len(cfg.Headers))
		for k, v := range cfg.Headers {
			c.Headers[k] = v
		}
	}
	c.SetRateLimit(cfg.RateLimit, cfg.Burst)
	return c
}

// SetRateLimit enables limiting at rps requests per second; rps <= 0 disables it.
func (c *Client) SetRateLimit(rps float64, burst int) {
	if rps <= 0 {
		c.limiter = nil
		return
	}
	if burst <= 0 {
		burst = 1
	}
	c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
}

// Do sends req after waiting for the limiter.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	if c.UserAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	for k, v := range c.Headers {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}
	return c.HTTP.Do(req.WithContext(ctx))
}

// Get fetches rawURL with query parameters and returns the body decoded to UTF-8.
// Network failures are wrapped as transient; non-2xx answers become *StatusError.
func (c *Client) Get(ctx context.Context, rawURL string, query url.Values, headers map[string]string) ([]byte, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	if len(query) > 0 {
		sep := "?"
		if strings.Contains(rawURL, "?") {
			sep = "&"
		}
		rawURL += sep + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.Do(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, retry.Transient("GET "+redact(rawURL), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, retry.Transient("read "+redact(rawURL), err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{URL: redact(rawURL), Status: resp.StatusCode, Body: truncate(string(body), 256)}
	}
	if isGBK(resp.Header.Get("Content-Type")) || !utf8.Valid(body) {
		return DecodeGBK(body)
	}
	return body, nil
}

// DecodeGBK converts GBK/GB18030 text to UTF-8.
func DecodeGBK(body []byte) ([]byte, error) {
	out, err := io.ReadAll(transform.NewReader(bytes.NewReader(body), simplifiedchinese.GB18030.NewDecoder()))
	if err != nil {
		return nil, fmt.Errorf("decode gbk: %w", err)
	}
	return out, nil
}

func isGBK(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "gbk") || strings.Contains(ct, "gb2312") || strings.Contains(ct, "gb18030")
}

// redact drops query strings, which may carry API keys.
func redact(rawURL string) string {
	if i := strings.IndexByte(rawURL, '?'); i >= 0 {
		return rawURL[:i]
	}
	return rawURL
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
