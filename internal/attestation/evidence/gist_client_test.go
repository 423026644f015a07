package evidence_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drewstone/edgeware-watcher/internal/attestation/evidence"
	"github.com/drewstone/edgeware-watcher/pkg/platform/circuit"
)

func newGistServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestGistClientGet(t *testing.T) {
	var gotPath, gotAccept, gotAuth, gotUA string
	srv := newGistServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAccept = r.Header.Get("Accept")
		gotAuth = r.Header.Get("Authorization")
		gotUA = r.Header.Get("User-Agent")
		_, _ = w.Write([]byte(validGist))
	})

	client := evidence.NewGistClient(srv.URL+"/",
		evidence.WithToken("ghp_test"),
		evidence.WithUserAgent("oracle-test"),
		evidence.WithRateLimit(0, 0),
	)
	body, err := client.Get(context.Background(), gistID)
	require.NoError(t, err)

	assert.JSONEq(t, validGist, string(body))
	assert.Equal(t, "/gists/aa5a315d61ae9438b18d", gotPath)
	assert.Equal(t, "application/vnd.github.v3+json", gotAccept)
	assert.Equal(t, "Bearer ghp_test", gotAuth)
	assert.Equal(t, "oracle-test", gotUA)
}

func TestGistClientOmitsAuthorizationWithoutToken(t *testing.T) {
	srv := newGistServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(validGist))
	})

	_, err := evidence.NewGistClient(srv.URL, evidence.WithRateLimit(0, 0)).Get(context.Background(), gistID)
	assert.NoError(t, err)
}

func TestGistClientStatusMapping(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		headers   map[string]string
		category  evidence.Category
		retryable bool
		message   string
	}{
		{name: "not found", status: http.StatusNotFound, category: evidence.CategoryNotFound},
		{name: "too many requests", status: http.StatusTooManyRequests, headers: map[string]string{"Retry-After": "30"},
			category: evidence.CategoryRateLimited, retryable: true, message: "retry after 30s"},
		{name: "exhausted quota", status: http.StatusForbidden, headers: map[string]string{"X-RateLimit-Remaining": "0"},
			category: evidence.CategoryRateLimited, retryable: true},
		{name: "plain forbidden", status: http.StatusForbidden, category: evidence.CategoryBadStatus},
		{name: "server error", status: http.StatusBadGateway, category: evidence.CategoryOutage, retryable: true},
		{name: "unexpected redirect", status: http.StatusNotModified, category: evidence.CategoryBadStatus},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newGistServer(t, func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tt.headers {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tt.status)
			})

			_, err := evidence.NewGistClient(srv.URL, evidence.WithRateLimit(0, 0)).Get(context.Background(), gistID)
			var ee *evidence.Error
			require.ErrorAs(t, err, &ee)
			assert.Equal(t, evidence.KindFetch, ee.Kind)
			assert.Equal(t, tt.category, ee.Category)
			assert.Equal(t, tt.retryable, ee.Retryable)
			if tt.message != "" {
				assert.Contains(t, ee.Message, tt.message)
			}
		})
	}
}

func TestGistClientRejectsOversizedBody(t *testing.T) {
	srv := newGistServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("a", (1<<20)+10)))
	})

	_, err := evidence.NewGistClient(srv.URL, evidence.WithRateLimit(0, 0)).Get(context.Background(), gistID)
	var ee *evidence.Error
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, evidence.CategoryBadBody, ee.Category)
}

func TestGistClientCircuitOpensOnOutage(t *testing.T) {
	var hits atomic.Int32
	srv := newGistServer(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	breaker := circuit.New("gist-api", circuit.WithFailureThreshold(2), circuit.WithCooldown(time.Hour))
	client := evidence.NewGistClient(srv.URL, evidence.WithRateLimit(0, 0), evidence.WithBreaker(breaker))

	for i := 0; i < 2; i++ {
		_, err := client.Get(context.Background(), gistID)
		require.Error(t, err)
	}
	assert.True(t, breaker.IsOpen())

	_, err := client.Get(context.Background(), gistID)
	var ee *evidence.Error
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, evidence.CategoryOutage, ee.Category)
	assert.Contains(t, ee.Message, "circuit open")
	assert.Equal(t, int32(2), hits.Load(), "open circuit must not reach the host")
}

func TestGistClientNotFoundDoesNotTripCircuit(t *testing.T) {
	srv := newGistServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	breaker := circuit.New("gist-api", circuit.WithFailureThreshold(1))
	client := evidence.NewGistClient(srv.URL, evidence.WithRateLimit(0, 0), evidence.WithBreaker(breaker))

	_, err := client.Get(context.Background(), gistID)
	require.Error(t, err)
	assert.False(t, breaker.IsOpen())
}

func TestGistClientRateLimitDoesNotTripCircuit(t *testing.T) {
	var hits atomic.Int32
	srv := newGistServer(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if hits.Load()%2 == 0 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.WriteHeader(http.StatusForbidden)
	})

	breaker := circuit.New("gist-api", circuit.WithFailureThreshold(1), circuit.WithCooldown(time.Hour))
	client := evidence.NewGistClient(srv.URL, evidence.WithRateLimit(0, 0), evidence.WithBreaker(breaker))

	for i := 0; i < 4; i++ {
		_, err := client.Get(context.Background(), gistID)
		var ee *evidence.Error
		require.ErrorAs(t, err, &ee)
		assert.Equal(t, evidence.CategoryRateLimited, ee.Category)
	}
	assert.False(t, breaker.IsOpen())
	assert.Equal(t, int32(4), hits.Load(), "every fetch must reach the host")
}

func TestGistClientThrottleRespectsDeadline(t *testing.T) {
	srv := newGistServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(validGist))
	})

	client := evidence.NewGistClient(srv.URL, evidence.WithRateLimit(0.001, 1))
	_, err := client.Get(context.Background(), gistID)
	require.NoError(t, err, "first request uses the burst")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = client.Get(ctx, gistID)
	var ee *evidence.Error
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, evidence.CategoryTimeout, ee.Category)
}

func TestGistClientNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := evidence.NewGistClient(url, evidence.WithRateLimit(0, 0)).Get(context.Background(), gistID)
	var ee *evidence.Error
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, evidence.CategoryOutage, ee.Category, fmt.Sprintf("got %v", err))
}
