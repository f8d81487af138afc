// Package adaptive reconciles a lightweight fetch with an optional heavy render.
package adaptive

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/scrapekit/internal/cache"
	"github.com/JakeFAU/scrapekit/internal/crawler"
	"github.com/JakeFAU/scrapekit/internal/headless/detector"
	"github.com/JakeFAU/scrapekit/internal/metrics"
)

// minRenderGain is the factor by which rendered HTML must exceed the
// lightweight HTML before it replaces it.
const minRenderGain = 1.1

// Fetcher implements crawler.ContentFetcher.
type Fetcher struct {
	light      crawler.Fetcher
	heavy      crawler.Renderer
	classifier detector.Classifier
	logger     *zap.Logger
	decisions  *cache.TTL[string, bool]
	decisionTT time.Duration
	timeout    time.Duration
}

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(f *Fetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithDecisionCache memoizes detector decisions by URL and body length.
func WithDecisionCache(c *cache.TTL[string, bool], ttl time.Duration) Option {
	return func(f *Fetcher) {
		f.decisions = c
		f.decisionTT = ttl
	}
}

// WithDefaultTimeout sets the per-request timeout used when FetchOptions has none.
func WithDefaultTimeout(d time.Duration) Option {
	return func(f *Fetcher) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// New wires the lightweight fetcher, renderer, and classifier. A nil renderer
// disables escalation.
func New(light crawler.Fetcher, heavy crawler.Renderer, classifier detector.Classifier, opts ...Option) *Fetcher {
	f := &Fetcher{
		light:      light,
		heavy:      heavy,
		classifier: classifier,
		logger:     zap.NewNop(),
		timeout:    crawler.DefaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch returns the best available content for rawURL. It fails only when the
// lightweight fetch and the last-resort render both fail, in which case the
// lightweight error is returned.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, opts crawler.FetchOptions) (crawler.FetchedContent, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = f.timeout
	}
	logger := f.logger.With(zap.String("url", rawURL))
	hint := detector.HintUnknown
	if f.classifier != nil {
		hint = f.classifier.DomainHint(rawURL)
	}

	lightResp, lightErr := f.light.Fetch(ctx, crawler.FetchRequest{
		URL:           rawURL,
		Headers:       opts.Headers,
		RespectRobots: opts.RespectRobots,
		Timeout:       opts.Timeout,
	})
	if lightErr != nil {
		if hint == detector.HintStatic || f.heavy == nil || ctx.Err() != nil {
			return crawler.FetchedContent{}, asFetchError(rawURL, lightErr)
		}
		logger.Debug("lightweight fetch failed, trying renderer", zap.Error(lightErr))
		rendered, err := f.render(ctx, rawURL, nil, opts)
		if err == nil && rendered.StatusCode >= http.StatusBadRequest {
			err = fmt.Errorf("render returned status %d", rendered.StatusCode)
		}
		if err != nil {
			metrics.ObserveRender(metrics.RenderFailed)
			logger.Debug("last-resort render failed", zap.Error(err))
			return crawler.FetchedContent{}, asFetchError(rawURL, lightErr)
		}
		metrics.ObserveRender(metrics.RenderFallback)
		return fromResponse(rawURL, rendered, true), nil
	}

	light := fromResponse(rawURL, lightResp, false)
	if f.heavy == nil || !f.needsRendering(hint, lightResp, rawURL) {
		return light, nil
	}

	rendered, err := f.render(ctx, rawURL, lightResp.Body, opts)
	if err != nil {
		metrics.ObserveRender(metrics.RenderFailed)
		logger.Debug("render degraded to lightweight content", zap.Error(err))
		return light, nil
	}
	if !substantiallyLarger(len(rendered.Body), len(lightResp.Body)) {
		metrics.ObserveRender(metrics.RenderRejected)
		logger.Debug("rendered content not larger, keeping lightweight content",
			zap.Int("light_bytes", len(lightResp.Body)),
			zap.Int("rendered_bytes", len(rendered.Body)),
		)
		return light, nil
	}
	metrics.ObserveRender(metrics.RenderAccepted)
	out := light
	out.HTML = string(rendered.Body)
	out.RenderedWithHeavyEngine = true
	return out, nil
}

func (f *Fetcher) needsRendering(hint detector.Hint, resp crawler.FetchResponse, rawURL string) bool {
	switch hint {
	case detector.HintStatic:
		return false
	case detector.HintHeavy:
		return true
	}
	if f.classifier == nil {
		return false
	}
	key := rawURL + "|" + strconv.Itoa(len(resp.Body))
	if f.decisions != nil {
		if decision, ok := f.decisions.Get(key); ok {
			return decision
		}
	}
	analysis := f.classifier.Classify(resp.Body, rawURL)
	metrics.ObserveDetector(hint.String(), analysis.RequiresRendering)
	if f.decisions != nil {
		f.decisions.Set(key, analysis.RequiresRendering, f.decisionTT)
	}
	return analysis.RequiresRendering
}

func (f *Fetcher) render(ctx context.Context, rawURL string, seed []byte, opts crawler.FetchOptions) (crawler.FetchResponse, error) {
	return f.heavy.Render(ctx, crawler.RenderRequest{
		URL:     rawURL,
		HTML:    seed,
		Headers: opts.Headers,
		Timeout: opts.Timeout,
	})
}

func substantiallyLarger(rendered, light int) bool {
	return float64(rendered) > float64(light)*minRenderGain
}

func fromResponse(rawURL string, resp crawler.FetchResponse, rendered bool) crawler.FetchedContent {
	if resp.URL == "" {
		resp.URL = rawURL
	}
	return crawler.FetchedContent{
		URL:                     resp.URL,
		HTML:                    string(resp.Body),
		StatusCode:              resp.StatusCode,
		Headers:                 resp.Headers,
		RenderedWithHeavyEngine: rendered,
	}
}

func asFetchError(rawURL string, err error) error {
	var fe *crawler.FetchError
	if errors.As(err, &fe) {
		return fe
	}
	return &crawler.FetchError{URL: rawURL, Err: err}
}
