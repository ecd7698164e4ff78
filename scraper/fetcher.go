// Package scraper fetches dashboard pages and assets over HTTP.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aluiziolira/go-scrape-syzbot/config"
	"github.com/aluiziolira/go-scrape-syzbot/models"
	"github.com/aluiziolira/go-scrape-syzbot/ratelimit"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

// fetchOperation keys the debouncer: every fetch shares one interval
// regardless of host.
const fetchOperation = "fetch"

const (
	ctxStart    = "start"
	ctxResponse = "response"
)

var errNoResponse = errors.New("no response received")

// Fetcher wraps a synchronous colly collector behind a rate limiter.
type Fetcher struct {
	cfg       *config.Config
	origin    *url.URL
	collector *colly.Collector
	limiter   *ratelimit.Debouncer
	logger    *zap.Logger
	Metrics   *Metrics
}

// NewFetcher builds a fetcher configured from cfg.
func NewFetcher(cfg *config.Config, logger *zap.Logger) (*Fetcher, error) {
	origin, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if origin.Host == "" {
		return nil, fmt.Errorf("base url must include a host")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	collector := colly.NewCollector(
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
		colly.ParseHTTPErrorResponse(),
		colly.MaxBodySize(cfg.MaxBodySize),
	)
	collector.SetRequestTimeout(cfg.Timeout)

	metrics := NewMetrics()
	limiter, err := ratelimit.New(cfg.Interval, ratelimit.WithWaitObserver(metrics.ObserveRateLimitWait))
	if err != nil {
		return nil, fmt.Errorf("configure rate limit: %w", err)
	}

	f := &Fetcher{
		cfg:       cfg,
		origin:    origin,
		collector: collector,
		limiter:   limiter,
		logger:    logger.Named("fetcher"),
		Metrics:   metrics,
	}
	f.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})
	f.configureHandlers()
	return f, nil
}

// WithTransport replaces the HTTP transport used for every request. Bodies
// come back exactly as the server sent them.
func (f *Fetcher) WithTransport(rt http.RoundTripper) {
	f.collector.WithTransport(&rawBodyTransport{next: rt})
}

// Origin is the dashboard origin used for site-relative links.
func (f *Fetcher) Origin() string {
	return strings.TrimRight(f.origin.String(), "/")
}

// Fetch performs a rate-limited GET. Transport failures and error statuses
// come back as typed errors; a nil error always carries a response, even
// when its body is empty.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*models.Response, error) {
	target, err := f.resolve(rawURL)
	if err != nil {
		return nil, err
	}
	if err := f.limiter.Wait(ctx, fetchOperation); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("fetch %s: %w", target, err)
	}

	reqCtx := colly.NewContext()
	err = f.collector.Request(http.MethodGet, target, nil, reqCtx, nil)
	resp, _ := reqCtx.GetAny(ctxResponse).(*colly.Response)

	statusCode := 0
	if resp != nil {
		statusCode = resp.StatusCode
	}
	if err == nil && resp == nil {
		err = errNoResponse
	}
	if classified := classifyError(err, statusCode); classified != nil {
		category := errorTypeLabel(classified)
		f.Metrics.IncRequest("failed")
		f.Metrics.IncError(category)
		f.logger.Error("request failed",
			zap.String("url", target),
			zap.Int("status", statusCode),
			zap.String("category", category),
			zap.Error(classified),
		)
		return nil, fmt.Errorf("fetch %s: %w", target, classified)
	}

	f.Metrics.IncRequest("succeeded")
	header := http.Header{}
	if resp.Headers != nil {
		header = resp.Headers.Clone()
	}
	restoreContentType(header)
	f.logger.Debug("request succeeded",
		zap.String("url", target),
		zap.Int("status", statusCode),
		zap.Int("bytes", len(resp.Body)),
	)
	return &models.Response{
		URL:        target,
		StatusCode: statusCode,
		Header:     header,
		Body:       resp.Body,
	}, nil
}

func (f *Fetcher) configureHandlers() {
	f.collector.OnRequest(func(r *colly.Request) {
		r.Ctx.Put(ctxStart, time.Now())
		f.Metrics.IncRequest("started")
	})

	f.collector.OnResponse(func(r *colly.Response) {
		r.Ctx.Put(ctxResponse, r)
		if start, ok := r.Ctx.GetAny(ctxStart).(time.Time); ok {
			f.Metrics.ObserveDuration(time.Since(start))
		}
	})
}

func (f *Fetcher) resolve(rawURL string) (string, error) {
	ref, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	return f.origin.ResolveReference(ref).String(), nil
}
