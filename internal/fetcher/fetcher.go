// Package fetcher implements the polite HTTP fetcher using gocolly.
//
// Every fetch consults the per-host robots.txt cache, waits for the host's
// politeness slot, and picks a user-agent from the rotating pool before the
// request goes out. Failures come back as classified harvest.FetchErrors.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"syscall"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/canary-data/docharvester/internal/harvest"
)

// Config controls fetch behavior.
type Config struct {
	UserAgents    []string
	Timeout       time.Duration
	Delay         time.Duration
	RespectRobots bool
	MaxBodyBytes  int64
	Headers       map[string]string
	// HostDelays overrides Delay per host (lowercase host, port included).
	HostDelays map[string]time.Duration
}

// DefaultHeaders are sent with every request.
var DefaultHeaders = map[string]string{
	"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,application/pdf,*/*;q=0.8",
	"Accept-Language": "es-ES,es;q=0.9,en;q=0.8",
}

// Fetcher implements harvest.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	agents        *agentPool
	robots        *robotsCache
	limiter       *hostLimiter
	logger        *zap.Logger
}

// New builds a Fetcher.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Headers == nil {
		cfg.Headers = DefaultHeaders
	}
	agents := newAgentPool(cfg.UserAgents)

	c := colly.NewCollector(colly.Async(false))
	// Robots enforcement happens before the request is issued; colly's own
	// check would fetch robots.txt a second time.
	c.IgnoreRobotsTxt = true
	// Retries refetch the same URL, so the visited-URL guard must be off.
	c.AllowURLRevisit = true
	c.WithTransport(newHTTPTransport())

	var robots *robotsCache
	if cfg.RespectRobots {
		// robots.txt itself is fetched with the first pooled agent; rule
		// evaluation uses the per-request agent.
		robots = newRobotsCache(agents.agents[0], logger)
	}

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
		agents:        agents,
		robots:        robots,
		limiter:       newHostLimiter(cfg.Delay, cfg.HostDelays),
		logger:        logger,
	}
}

// Fetch executes a single HTTP GET.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (harvest.FetchResult, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return harvest.FetchResult{}, &harvest.ParseError{URL: rawURL, Reason: "invalid url"}
	}

	// The agent is chosen before the robots check so the rules are evaluated
	// against the value the request will actually carry.
	userAgent := f.agents.Next(parsed.Host)

	if f.robots != nil && !f.robots.Allowed(ctx, parsed, userAgent) {
		return harvest.FetchResult{}, &harvest.FetchError{Kind: harvest.FetchDisallowed, URL: rawURL}
	}

	if err := f.limiter.Wait(ctx, parsed.Host); err != nil {
		return harvest.FetchResult{}, err
	}

	var (
		result     harvest.FetchResult
		fetchErr   error
		statusCode int
	)

	collector := f.baseCollector.Clone()
	collector.UserAgent = userAgent
	collector.SetRequestTimeout(f.cfg.Timeout)

	collector.OnRequest(func(r *colly.Request) {
		for key, value := range f.cfg.Headers {
			r.Headers.Set(key, value)
		}
	})

	collector.OnResponse(func(r *colly.Response) {
		result = harvest.FetchResult{
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
			FinalURL:   r.Request.URL.String(),
			Headers:    r.Headers.Clone(),
		}
	})

	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			statusCode = r.StatusCode
		}
		fetchErr = err
	})

	if err := f.runCollector(ctx, collector, rawURL); err != nil {
		return harvest.FetchResult{}, f.classify(rawURL, statusCode, err)
	}
	if fetchErr != nil {
		return harvest.FetchResult{}, f.classify(rawURL, statusCode, fetchErr)
	}
	if f.cfg.MaxBodyBytes > 0 && int64(len(result.Body)) > f.cfg.MaxBodyBytes {
		return harvest.FetchResult{}, fmt.Errorf("fetch %s: body size %d exceeds max %d", rawURL, len(result.Body), f.cfg.MaxBodyBytes)
	}
	return result, nil
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, rawURL string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// classify maps a transport failure onto the fetch error taxonomy.
func (f *Fetcher) classify(rawURL string, statusCode int, err error) error {
	if statusCode >= 400 {
		return &harvest.FetchError{
			Kind:       harvest.FetchHTTPError,
			StatusCode: statusCode,
			URL:        rawURL,
			Err:        err,
		}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &harvest.FetchError{Kind: harvest.FetchTimeout, URL: rawURL, Err: err}
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return &harvest.FetchError{Kind: harvest.FetchConnectionRefused, URL: rawURL, Err: err}
	}
	return fmt.Errorf("fetch %s: %w", rawURL, err)
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
