package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
)

// robotsCache enforces robots.txt directives per host. The ruleset for a
// host is fetched at most once per run and cached for the run's lifetime;
// group lookup happens per request against the agent the request will use.
type robotsCache struct {
	client     *http.Client
	cache      sync.Map
	fetchAgent string
	logger     *zap.Logger
}

func newRobotsCache(fetchAgent string, logger *zap.Logger) *robotsCache {
	return &robotsCache{
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		fetchAgent: fetchAgent,
		logger:     logger,
	}
}

// Allowed reports whether the given agent may fetch the URL. A host whose
// robots.txt cannot be fetched or parsed is treated as allowing everything.
func (r *robotsCache) Allowed(ctx context.Context, parsed *url.URL, agent string) bool {
	data, err := r.load(ctx, parsed)
	if err != nil {
		r.logger.Warn("robots fetch failed; allowing access", zap.String("host", parsed.Host), zap.Error(err))
		return true
	}
	if data == nil {
		return true
	}
	group := data.FindGroup(agent)
	if group == nil {
		return true
	}
	return group.Test(parsed.Path)
}

func (r *robotsCache) load(ctx context.Context, parsed *url.URL) (*robotstxt.RobotsData, error) {
	hostKey := strings.ToLower(parsed.Host)
	if cached, ok := r.cache.Load(hostKey); ok {
		data, assertOK := cached.(*robotstxt.RobotsData)
		if !assertOK {
			return nil, fmt.Errorf("robots cache type mismatch: %T", cached)
		}
		return data, nil
	}

	robotsURL := *parsed
	robotsURL.Path = path.Join("/", "robots.txt")
	robotsURL.RawQuery = ""
	robotsURL.Fragment = ""
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("new robots request: %w", err)
	}
	req.Header.Set("User-Agent", r.fetchAgent)
	resp, err := r.client.Do(req)
	if err != nil {
		// Cache the failure so the host is probed only once per run.
		r.cache.Store(hostKey, (*robotstxt.RobotsData)(nil))
		return nil, fmt.Errorf("fetch robots: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			r.logger.Debug("Failed to close robots response body", zap.Error(cerr))
		}
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read robots body: %w", err)
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil, fmt.Errorf("parse robots: %w", err)
	}
	r.cache.Store(hostKey, data)
	return data, nil
}
