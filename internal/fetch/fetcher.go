// Package fetch retrieves stored assets over HTTP and classifies failures.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// DefaultTimeout applies when the configured timeout is not positive.
const DefaultTimeout = 30 * time.Second

// DefaultMaxBytes bounds a response body when no limit is configured.
const DefaultMaxBytes int64 = 50 << 20

// ProviderErrorHeader carries the storage provider's reason for a rejected delivery.
const ProviderErrorHeader = "X-Cld-Error"

// Kind classifies a failed fetch.
type Kind int

const (
	// KindTransport covers socket, DNS, TLS, scheme and body-size failures.
	KindTransport Kind = iota
	// KindAuthRequired means the asset needs authenticated delivery.
	KindAuthRequired
	// KindNotOK is any other non-2xx response.
	KindNotOK
	// KindTimeout means no complete response arrived within the timeout.
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindAuthRequired:
		return "auth_required"
	case KindNotOK:
		return "not_ok"
	case KindTimeout:
		return "timeout"
	default:
		return "transport"
	}
}

// Error describes a failed fetch.
type Error struct {
	Kind       Kind
	URL        string
	StatusCode int
	Status     string
	Err        error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindAuthRequired, KindNotOK:
		return fmt.Sprintf("fetch %s: %s: status %d %s", e.URL, e.Kind, e.StatusCode, e.Status)
	default:
		if e.Err != nil {
			return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
		}
		return fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// IsAuth reports whether err is a fetch failure that calls for authenticated delivery.
func IsAuth(err error) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Kind == KindAuthRequired
}

// KindOf returns the classification of err, or KindTransport for foreign errors.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindTransport
}

// authHints are matched case-insensitively against status text and the provider error header.
var authHints = []string{"unauthorized", "forbidden", "untrusted", "denied"}

// Fetcher performs bounded GET requests. It is safe for concurrent use.
type Fetcher struct {
	client   *http.Client
	timeout  time.Duration
	maxBytes int64
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithClient replaces the HTTP client. The client's transport is used as-is.
func WithClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(f *Fetcher) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// WithMaxBytes caps the accepted body size.
func WithMaxBytes(n int64) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxBytes = n
		}
	}
}

// New returns a Fetcher whose default client is traced with otelhttp.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		client:   &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		timeout:  DefaultTimeout,
		maxBytes: DefaultMaxBytes,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch GETs rawURL and returns the full body.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &Error{Kind: KindTransport, URL: rawURL, Err: err}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, &Error{Kind: KindTransport, URL: rawURL, Err: fmt.Errorf("unsupported scheme %q", u.Scheme)}
	}
	if u.Host == "" {
		return nil, &Error{Kind: KindTransport, URL: rawURL, Err: errors.New("missing host")}
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &Error{Kind: KindTransport, URL: rawURL, Err: err}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, f.transportErr(ctx, rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, classifyStatus(rawURL, resp)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, f.transportErr(ctx, rawURL, err)
	}
	if int64(len(body)) > f.maxBytes {
		return nil, &Error{Kind: KindTransport, URL: rawURL, Err: fmt.Errorf("body exceeds %d bytes", f.maxBytes)}
	}
	return body, nil
}

func (f *Fetcher) transportErr(ctx context.Context, rawURL string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, URL: rawURL, Err: err}
	}
	return &Error{Kind: KindTransport, URL: rawURL, Err: err}
}

func classifyStatus(rawURL string, resp *http.Response) *Error {
	e := &Error{
		Kind:       KindNotOK,
		URL:        rawURL,
		StatusCode: resp.StatusCode,
		Status:     statusText(resp),
	}
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		e.Kind = KindAuthRequired
	default:
		if hasAuthHint(e.Status) || hasAuthHint(resp.Header.Get(ProviderErrorHeader)) {
			e.Kind = KindAuthRequired
		}
	}
	return e
}

// statusText strips the numeric code from resp.Status.
func statusText(resp *http.Response) string {
	s := strings.TrimSpace(strings.TrimPrefix(resp.Status, fmt.Sprintf("%d", resp.StatusCode)))
	if s == "" {
		s = http.StatusText(resp.StatusCode)
	}
	return s
}

func hasAuthHint(s string) bool {
	s = strings.ToLower(s)
	for _, h := range authHints {
		if strings.Contains(s, h) {
			return true
		}
	}
	return false
}
