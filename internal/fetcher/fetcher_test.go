package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/canary-data/docharvester/internal/harvest"
)

func newTestFetcher(t *testing.T, cfg Config) *Fetcher {
	t.Helper()
	return New(cfg, zap.NewNop())
}

func TestFetch_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.4 test"))
	}))
	defer srv.Close()

	f := newTestFetcher(t, Config{RespectRobots: true})
	res, err := f.Fetch(context.Background(), srv.URL+"/doc.pdf")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, []byte("%PDF-1.4 test"), res.Body)
	require.Equal(t, "application/pdf", res.Headers.Get("Content-Type"))
}

func TestFetch_RobotsDisallowBlocksWithoutFetching(t *testing.T) {
	t.Parallel()

	var docRequests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			_, _ = w.Write([]byte("User-agent: *\nDisallow: /private/\n"))
			return
		}
		docRequests.Add(1)
		_, _ = w.Write([]byte("should not be reached"))
	}))
	defer srv.Close()

	f := newTestFetcher(t, Config{RespectRobots: true})
	_, err := f.Fetch(context.Background(), srv.URL+"/private/doc.pdf")

	var fe *harvest.FetchError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, harvest.FetchDisallowed, fe.Kind)
	require.Equal(t, int32(0), docRequests.Load())
	require.False(t, fe.Transient())
}

func TestFetch_RobotsFetchedOncePerHost(t *testing.T) {
	t.Parallel()

	var robotsRequests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			robotsRequests.Add(1)
			_, _ = w.Write([]byte("User-agent: *\nAllow: /\n"))
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := newTestFetcher(t, Config{RespectRobots: true})
	for range 3 {
		_, err := f.Fetch(context.Background(), srv.URL+"/page")
		require.NoError(t, err)
	}
	require.Equal(t, int32(1), robotsRequests.Load())
}

func TestFetch_HTTPErrorClassified(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	f := newTestFetcher(t, Config{})
	_, err := f.Fetch(context.Background(), srv.URL+"/missing.pdf")

	var fe *harvest.FetchError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, harvest.FetchHTTPError, fe.Kind)
	require.Equal(t, http.StatusNotFound, fe.StatusCode)
	require.False(t, fe.Transient())
}

func TestFetch_ServerErrorIsTransient(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f := newTestFetcher(t, Config{})
	_, err := f.Fetch(context.Background(), srv.URL+"/doc.pdf")

	var fe *harvest.FetchError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, harvest.FetchHTTPError, fe.Kind)
	require.True(t, fe.Transient())
}

func TestFetch_InvalidURLIsParseError(t *testing.T) {
	t.Parallel()

	f := newTestFetcher(t, Config{})
	_, err := f.Fetch(context.Background(), "http://bad url with spaces")

	var pe *harvest.ParseError
	require.ErrorAs(t, err, &pe)
}

func TestFetch_MaxBodyBytesEnforced(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, 4096))
	}))
	defer srv.Close()

	f := newTestFetcher(t, Config{MaxBodyBytes: 1024})
	_, err := f.Fetch(context.Background(), srv.URL+"/big.pdf")
	require.Error(t, err)
	require.Contains(t, err.Error(), "exceeds max")
}

func TestAgentPool_NeverRepeatsPreviousAgentPerHost(t *testing.T) {
	t.Parallel()

	pool := newAgentPool([]string{"agent-a", "agent-b", "agent-c"})
	prev := pool.Next("www.tenerife.es")
	for range 50 {
		ua := pool.Next("www.tenerife.es")
		require.NotEqual(t, prev, ua)
		prev = ua
	}
}

func TestAgentPool_SingleAgentRepeats(t *testing.T) {
	t.Parallel()

	pool := newAgentPool([]string{"only-agent"})
	require.Equal(t, "only-agent", pool.Next("host"))
	require.Equal(t, "only-agent", pool.Next("host"))
}

func TestAgentPool_EmptyUsesDefault(t *testing.T) {
	t.Parallel()

	pool := newAgentPool(nil)
	require.Equal(t, defaultUserAgent, pool.Next("host"))
}

func TestHostLimiter_SpacesConsecutiveRequests(t *testing.T) {
	t.Parallel()

	l := newHostLimiter(50*time.Millisecond, nil)
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "www.gobiernodecanarias.org"))
	require.NoError(t, l.Wait(ctx, "www.gobiernodecanarias.org"))
	require.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestHostLimiter_IndependentHosts(t *testing.T) {
	t.Parallel()

	l := newHostLimiter(200*time.Millisecond, nil)
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "host-a"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "host-b"))
	require.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestHostLimiter_CancelledContext(t *testing.T) {
	t.Parallel()

	l := newHostLimiter(time.Hour, nil)
	ctx := context.Background()
	require.NoError(t, l.Wait(ctx, "slow-host"))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	require.Error(t, l.Wait(cancelled, "slow-host"))
}

func TestRobotsCache_FailureAllowsAndCaches(t *testing.T) {
	t.Parallel()

	cache := newRobotsCache("test-agent", zap.NewNop())
	u, err := url.Parse("http://127.0.0.1:1/doc.pdf")
	require.NoError(t, err)

	require.True(t, cache.Allowed(context.Background(), u, "test-agent"))
	// Second call hits the cached failure entry.
	require.True(t, cache.Allowed(context.Background(), u, "test-agent"))
}

func TestFetch_RobotsEvaluatedAgainstRequestAgent(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			_, _ = w.Write([]byte("User-agent: agent-b\nDisallow: /\n\nUser-agent: *\nAllow: /\n"))
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	// The pool alternates agents, so the second request carries agent-b and
	// must be refused by its dedicated robots group.
	f := newTestFetcher(t, Config{RespectRobots: true, UserAgents: []string{"agent-a", "agent-b"}})

	_, err := f.Fetch(context.Background(), srv.URL+"/page")
	require.NoError(t, err)

	_, err = f.Fetch(context.Background(), srv.URL+"/page")
	var fe *harvest.FetchError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, harvest.FetchDisallowed, fe.Kind)
}

func TestHostLimiter_PerHostOverride(t *testing.T) {
	t.Parallel()

	l := newHostLimiter(0, map[string]time.Duration{"slow-host": 60 * time.Millisecond})
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "slow-host"))
	require.NoError(t, l.Wait(ctx, "slow-host"))
	require.GreaterOrEqual(t, time.Since(start), 48*time.Millisecond)

	start = time.Now()
	require.NoError(t, l.Wait(ctx, "default-host"))
	require.NoError(t, l.Wait(ctx, "default-host"))
	require.Less(t, time.Since(start), 20*time.Millisecond)
}
