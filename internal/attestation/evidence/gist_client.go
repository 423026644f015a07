package evidence

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/drewstone/edgeware-watcher/internal/platform/metrics"
	id "github.com/drewstone/edgeware-watcher/pkg/domain"
	"github.com/drewstone/edgeware-watcher/pkg/platform/circuit"
)

const (
	// DefaultGistBaseURL is the public GitHub REST API.
	DefaultGistBaseURL = "https://api.github.com"

	maxBodyBytes     = 1 << 20
	defaultUserAgent = "edgeware-identity-oracle"
)

// GistClient retrieves gist documents from a GitHub-compatible REST API.
type GistClient struct {
	baseURL   string
	http      *http.Client
	token     string
	userAgent string
	limiter   *rate.Limiter
	breaker   *circuit.Breaker
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

type GistOption func(*GistClient)

func WithHTTPClient(c *http.Client) GistOption {
	return func(g *GistClient) {
		if c != nil {
			g.http = c
		}
	}
}

// WithToken authenticates requests, raising the host's rate limit.
func WithToken(token string) GistOption {
	return func(g *GistClient) {
		g.token = token
	}
}

func WithUserAgent(ua string) GistOption {
	return func(g *GistClient) {
		if ua != "" {
			g.userAgent = ua
		}
	}
}

// WithRateLimit throttles outgoing requests. A non-positive rps disables throttling.
func WithRateLimit(rps float64, burst int) GistOption {
	return func(g *GistClient) {
		if rps <= 0 {
			g.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

func WithBreaker(b *circuit.Breaker) GistOption {
	return func(g *GistClient) {
		g.breaker = b
	}
}

func WithGistLogger(logger *slog.Logger) GistOption {
	return func(g *GistClient) {
		g.logger = logger
	}
}

func WithGistMetrics(m *metrics.Metrics) GistOption {
	return func(g *GistClient) {
		g.metrics = m
	}
}

func NewGistClient(baseURL string, opts ...GistOption) *GistClient {
	if baseURL == "" {
		baseURL = DefaultGistBaseURL
	}
	g := &GistClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		http:      &http.Client{},
		userAgent: defaultUserAgent,
		limiter:   rate.NewLimiter(rate.Limit(5), 5),
		breaker:   circuit.New("gist-api"),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Get performs GET {baseURL}/gists/{ref} and returns the body of a 200 response.
func (g *GistClient) Get(ctx context.Context, ref id.EvidenceReference) ([]byte, error) {
	if g.breaker != nil && !g.breaker.Allow() {
		g.logger.ErrorContext(ctx, "evidence fetch refused, circuit open",
			"breaker", g.breaker.Name(),
			"reference", ref.String(),
		)
		return nil, NewFetchError(CategoryOutage, ref, "evidence host circuit open", nil)
	}
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, NewFetchError(CategoryTimeout, ref, "throttled past deadline", err)
		}
	}

	u := fmt.Sprintf("%s/gists/%s", g.baseURL, url.PathEscape(ref.String()))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, NewFetchError(CategoryBadStatus, ref, "build request", err)
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", g.userAgent)
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.http.Do(req)
	if err != nil {
		category := CategoryOutage
		if errors.Is(err, context.DeadlineExceeded) {
			category = CategoryTimeout
		}
		g.recordFailure(ctx)
		return nil, NewFetchError(category, ref, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fetchErr := classifyStatus(ref, resp)
		switch {
		case fetchErr.Category == CategoryRateLimited:
			// quota exhaustion says nothing about host health; the limiter handles it
		case fetchErr.Retryable:
			g.recordFailure(ctx)
		default:
			g.recordSuccess(ctx)
		}
		return nil, fetchErr
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		category := CategoryBadBody
		if errors.Is(err, context.DeadlineExceeded) {
			category = CategoryTimeout
		}
		g.recordFailure(ctx)
		return nil, NewFetchError(category, ref, "read response body", err)
	}
	g.recordSuccess(ctx)
	if len(body) > maxBodyBytes {
		return nil, NewFetchError(CategoryBadBody, ref, "response body exceeds size limit", nil)
	}
	return body, nil
}

func classifyStatus(ref id.EvidenceReference, resp *http.Response) *Error {
	msg := fmt.Sprintf("unexpected status %d", resp.StatusCode)
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return NewFetchError(CategoryNotFound, ref, "gist not found", nil)
	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0":
		if wait := retryAfter(resp); wait > 0 {
			msg = fmt.Sprintf("%s, retry after %s", msg, wait)
		}
		return NewFetchError(CategoryRateLimited, ref, msg, nil)
	case resp.StatusCode >= 500:
		return NewFetchError(CategoryOutage, ref, msg, nil)
	default:
		return NewFetchError(CategoryBadStatus, ref, msg, nil)
	}
}

func (g *GistClient) recordFailure(ctx context.Context) {
	if g.breaker == nil {
		return
	}
	if _, change := g.breaker.RecordFailure(); change.Opened {
		g.metrics.SetEvidenceCircuitState(true)
		g.logger.WarnContext(ctx, "evidence host circuit opened", "breaker", g.breaker.Name())
	}
}

func (g *GistClient) recordSuccess(ctx context.Context) {
	if g.breaker == nil {
		return
	}
	if _, change := g.breaker.RecordSuccess(); change.Closed {
		g.metrics.SetEvidenceCircuitState(false)
		g.logger.InfoContext(ctx, "evidence host circuit closed", "breaker", g.breaker.Name())
	}
}

var _ RawSource = (*GistClient)(nil)

func retryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if d, err := time.ParseDuration(v + "s"); err == nil {
			return d
		}
	}
	return 0
}
