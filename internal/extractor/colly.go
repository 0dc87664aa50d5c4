// Package extractor implements the same-site content extractor using Colly.
package extractor

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"sitechat/internal/rag"
)

// Config controls fetch behavior for the extractor.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	Delay     time.Duration
}

// Colly extracts pages from a single site, following same-site links up to
// the run's depth and page limits.
type Colly struct {
	cfg    Config
	logger *zap.Logger
}

// New constructs a Colly extractor.
func New(cfg Config, logger *zap.Logger) *Colly {
	if cfg.UserAgent == "" {
		cfg.UserAgent = "sitechat-bot/0.1"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Colly{cfg: cfg, logger: logger}
}

// Pages starts the crawl and returns a channel of page results. The channel
// is closed when the crawl finishes; fetch failures are emitted as results
// with Err set so callers can record and skip them.
func (e *Colly) Pages(ctx context.Context, params rag.RunParams) (<-chan rag.PageResult, error) {
	start, err := url.Parse(params.StartURL)
	if err != nil || start.Host == "" {
		return nil, fmt.Errorf("parse start url: %w", err)
	}

	// Colly counts the start page as depth 1; the run model counts it as 0.
	// AllowedDomains matches on the hostname without the port.
	collector := colly.NewCollector(
		colly.AllowedDomains(allowedHosts(start.Hostname())...),
		colly.MaxDepth(params.MaxDepth+1),
		colly.UserAgent(e.cfg.UserAgent),
	)
	collector.AllowURLRevisit = false
	collector.SetRequestTimeout(e.cfg.Timeout)
	if e.cfg.Delay > 0 {
		if err := collector.Limit(&colly.LimitRule{DomainGlob: "*", Delay: e.cfg.Delay}); err != nil {
			return nil, fmt.Errorf("set collector limits: %w", err)
		}
	}

	out := make(chan rag.PageResult, 16)
	emitted := 0

	collector.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil || emitted >= params.MaxPages {
			r.Abort()
		}
	})

	collector.OnHTML("a[href]", func(el *colly.HTMLElement) {
		if err := el.Request.Visit(el.Attr("href")); err != nil {
			// Revisits and filtered URLs are expected; nothing to emit.
			e.logger.Debug("link not followed",
				zap.String("href", el.Attr("href")),
				zap.Error(err),
			)
		}
	})

	collector.OnHTML("html", func(el *colly.HTMLElement) {
		if emitted >= params.MaxPages {
			return
		}
		page := rag.Page{
			URL:   el.Request.URL.String(),
			Title: extractTitle(el.DOM),
			Text:  extractContent(el.DOM),
			Depth: el.Request.Depth - 1,
		}
		emitted++
		select {
		case out <- rag.PageResult{Page: page}:
		case <-ctx.Done():
		}
	})

	collector.OnError(func(r *colly.Response, fetchErr error) {
		select {
		case out <- rag.PageResult{
			Page: rag.Page{URL: r.Request.URL.String(), Depth: r.Request.Depth - 1},
			Err:  fmt.Errorf("fetch %s: %w", r.Request.URL, fetchErr),
		}:
		case <-ctx.Done():
		}
	})

	go func() {
		defer close(out)
		if err := collector.Visit(start.String()); err != nil {
			select {
			case out <- rag.PageResult{
				Page: rag.Page{URL: start.String()},
				Err:  fmt.Errorf("visit start url: %w", err),
			}:
			case <-ctx.Done():
			}
			return
		}
		collector.Wait()
	}()

	return out, nil
}

// allowedHosts keeps the crawl on the start site, treating the bare domain
// and its www. form as the same site.
func allowedHosts(host string) []string {
	if trimmed, ok := strings.CutPrefix(host, "www."); ok {
		return []string{host, trimmed}
	}
	return []string{host, "www." + host}
}
