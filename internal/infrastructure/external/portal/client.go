// Package portal implements the school portal client: authenticated page
// fetches over a rotating cookie jar and the schedule page parser.
// The portal has no API. Everything is scraped from HTML.
package portal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/studyhub/schedule-sync/internal/domain/session"
	"github.com/studyhub/schedule-sync/internal/domain/shared"
	"github.com/studyhub/schedule-sync/pkg/circuitbreaker"
	"github.com/studyhub/schedule-sync/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

const (
	// DefaultBaseURL is the public portal host.
	DefaultBaseURL = "https://www.lectio.dk"

	// DefaultMaxRedirects caps manual redirect hops.
	DefaultMaxRedirects = 5

	defaultUserAgent    = "schedule-sync/1.0"
	defaultMaxBodyBytes = 8 << 20
)

// ClientConfig contains configuration for the portal client.
type ClientConfig struct {
	// BaseURL is the portal origin, e.g. https://www.lectio.dk
	BaseURL string

	UserAgent string

	// Timeout bounds a single HTTP round trip, not the whole redirect chain.
	Timeout time.Duration

	// MaxRedirects is the number of redirect hops followed before the last
	// response is returned as is.
	MaxRedirects int

	// MaxBodyBytes limits how much of a response body is read.
	MaxBodyBytes int64

	RateLimiterConfig RateLimiterConfig

	// HTTPClient overrides the transport. Its redirect policy is replaced.
	HTTPClient *http.Client

	Logger *slog.Logger

	// Now is the clock used for cookie expiry. Defaults to time.Now.
	Now func() time.Time
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig(baseURL string) ClientConfig {
	return ClientConfig{
		BaseURL:           baseURL,
		UserAgent:         defaultUserAgent,
		Timeout:           20 * time.Second,
		MaxRedirects:      DefaultMaxRedirects,
		MaxBodyBytes:      defaultMaxBodyBytes,
		RateLimiterConfig: DefaultRateLimiterConfig(),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// RESULT & ERRORS
// ══════════════════════════════════════════════════════════════════════════════

// FetchResult is the outcome of an authenticated fetch.
type FetchResult struct {
	HTML []byte

	// UpdatedCookies contains only cookies whose value differs from the jar
	// that was sent. Empty means nothing needs to be persisted.
	UpdatedCookies session.CookieJar

	FinalURL   string
	StatusCode int
	Redirects  int
}

// HTTPError is a non-2xx final response without a robot marker.
type HTTPError struct {
	StatusCode int
	URL        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("portal responded %d for %s", e.StatusCode, e.URL)
}

// Is makes errors.Is(err, shared.ErrHTTP) hold.
func (e *HTTPError) Is(target error) bool {
	return target == shared.ErrHTTP
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client fetches portal pages with a student's cookie jar.
// It holds no per-student state and is safe for concurrent use.
type Client struct {
	config      ClientConfig
	base        *url.URL
	httpClient  *http.Client
	logger      *slog.Logger
	rateLimiter *RateLimiter
	breaker     *circuitbreaker.CircuitBreaker
	now         func() time.Time
}

// NewClient creates a new portal client.
func NewClient(config ClientConfig) (*Client, error) {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	base, err := url.Parse(config.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid portal base url %q", config.BaseURL)
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.UserAgent == "" {
		config.UserAgent = defaultUserAgent
	}
	if config.MaxRedirects < 0 {
		config.MaxRedirects = 0
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = defaultMaxBodyBytes
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	httpClient := &http.Client{Timeout: config.Timeout}
	if config.HTTPClient != nil {
		clone := *config.HTTPClient
		httpClient = &clone
	}
	// Redirects are followed by hand so cookies of every hop are seen.
	httpClient.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	httpClient.Jar = nil

	log := config.Logger.With(logger.Component("portal"))

	return &Client{
		config:      config,
		base:        base,
		httpClient:  httpClient,
		logger:      log,
		rateLimiter: NewRateLimiter(config.RateLimiterConfig),
		breaker: circuitbreaker.PortalBreaker(isTransportFailure, func(name string, from, to circuitbreaker.State) {
			log.Warn("circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		}),
		now: config.Now,
	}, nil
}

// isTransportFailure decides what trips the breaker. Dead sessions and 4xx
// are per-student problems and do not count.
func isTransportFailure(err error) bool {
	if errors.Is(err, shared.ErrNetwork) {
		return true
	}
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode >= 500
}

// Fetch requests path with every cookie of jar, following redirects up to
// the configured cap. It fails with an error matching shared.ErrSessionInvalid,
// shared.ErrNetwork or shared.ErrHTTP.
func (c *Client) Fetch(ctx context.Context, schoolID, path string, jar session.CookieJar) (*FetchResult, error) {
	var result *FetchResult
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		result, err = c.fetch(ctx, path, jar)
		return err
	})
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
		return nil, shared.WrapError("portal", "Fetch", shared.ErrNetwork, "portal unavailable", err)
	}
	if err != nil {
		c.logger.Debug("fetch failed",
			logger.SchoolID(schoolID),
			slog.String("path", path),
			logger.Err(err),
		)
		return nil, err
	}
	return result, nil
}

func (c *Client) fetch(ctx context.Context, path string, jar session.CookieJar) (*FetchResult, error) {
	target, err := c.base.Parse(path)
	if err != nil {
		return nil, shared.WrapError("portal", "Fetch", shared.ErrValidation, "invalid path", err)
	}

	current := jar.Clone()
	received := make(session.CookieJar)

	for hop := 0; ; hop++ {
		if err := c.rateLimiter.Allow(ctx); err != nil {
			return nil, shared.WrapError("portal", "Fetch", shared.ErrNetwork, "rate limiter", err)
		}

		resp, body, err := c.roundTrip(ctx, target, current)
		if err != nil {
			return nil, shared.WrapError("portal", "Fetch", shared.ErrNetwork, "request "+target.Redacted(), err)
		}

		// Cookies of a portal hop apply to the next one. Other hosts never
		// get the jar and may not write into it either.
		if target.Host == c.base.Host {
			now := c.now()
			for _, ck := range ParseSetCookies(resp.Header.Values("Set-Cookie"), now) {
				current.Set(ck)
				received.Set(ck)
			}
		}

		if next, ok := c.nextHop(resp, target); ok && hop < c.config.MaxRedirects {
			target = next
			continue
		}

		if marker, found := DetectRobotMarker(body); found {
			return nil, shared.NewDomainError("portal", "Fetch", shared.ErrSessionInvalid,
				fmt.Sprintf("verification page detected (%q)", marker))
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
			c.rateLimiter.RecordRateLimitHit(retryAfter(resp.Header.Get("Retry-After")))
		}

		// Past the redirect cap the last 3xx is surfaced as the result.
		if resp.StatusCode < 200 || resp.StatusCode >= 400 {
			return nil, &HTTPError{StatusCode: resp.StatusCode, URL: target.Redacted()}
		}

		return &FetchResult{
			HTML:           body,
			UpdatedCookies: received.Changed(jar),
			FinalURL:       target.String(),
			StatusCode:     resp.StatusCode,
			Redirects:      hop,
		}, nil
	}
}

// roundTrip performs one request and reads the (bounded) body.
func (c *Client) roundTrip(ctx context.Context, target *url.URL, jar session.CookieJar) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("Accept-Language", "da-DK,da;q=0.9,en;q=0.8")
	// Session cookies never leave the portal host.
	if target.Host == c.base.Host {
		if header := jar.Header(c.now()); header != "" {
			req.Header.Set("Cookie", header)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.config.MaxBodyBytes))
	if err != nil {
		return nil, nil, fmt.Errorf("read response: %w", err)
	}
	return resp, body, nil
}

// nextHop resolves the Location of a redirect response.
func (c *Client) nextHop(resp *http.Response, current *url.URL) (*url.URL, bool) {
	switch resp.StatusCode {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
	default:
		return nil, false
	}
	loc := resp.Header.Get("Location")
	if loc == "" {
		return nil, false
	}
	next, err := current.Parse(loc)
	if err != nil {
		c.logger.Warn("unparsable redirect location", slog.String("location", loc), logger.Err(err))
		return nil, false
	}
	return next, true
}

// retryAfter parses a Retry-After header in seconds.
func retryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
