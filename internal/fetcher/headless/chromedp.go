// Package headless contains renderers that execute page JavaScript in Chrome.
package headless

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/scrapekit/internal/crawler"
)

const (
	defaultNavigationTimeout = 30 * time.Second
	defaultSettleDelay       = 500 * time.Millisecond
	maxLoadWait              = 8 * time.Second
	readyPollInterval        = 100 * time.Millisecond
	consoleLogLimit          = 10
)

// Config controls the behavior of the chromedp renderer.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	SettleDelay       time.Duration
	ExecPath          string
	NoHeadless        bool
}

// Renderer implements crawler.Renderer using chromedp and headless Chrome.
// A single browser process is shared; each render runs in its own tab.
type Renderer struct {
	cfg         Config
	logger      *zap.Logger
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc

	mu            sync.Mutex
	browser       context.Context
	browserCancel context.CancelFunc
	closed        bool
}

// NewChromedp creates a renderer. Chrome is launched lazily on first use.
func NewChromedp(cfg Config, logger *zap.Logger) (*Renderer, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = 0
	} else if cfg.SettleDelay == 0 {
		cfg.SettleDelay = defaultSettleDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.NoHeadless {
		opts = append(opts, chromedp.Flag("headless", false))
	} else {
		opts = append(opts, chromedp.Flag("headless", "new"))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Renderer{
		cfg:         cfg,
		logger:      logger,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close shuts down the browser and the allocator.
func (r *Renderer) Close() {
	r.mu.Lock()
	r.closed = true
	if r.browserCancel != nil {
		r.browserCancel()
		r.browser, r.browserCancel = nil, nil
	}
	r.mu.Unlock()
	r.allocCancel()
}

// Render executes scripts for the page and returns the serialized DOM. When
// request.HTML is set the tab is seeded with it and the URL is not loaded
// over the network. A closed renderer returns crawler.ErrRendererDisabled.
func (r *Renderer) Render(ctx context.Context, request crawler.RenderRequest) (crawler.FetchResponse, error) {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return crawler.FetchResponse{}, crawler.ErrRendererDisabled
	}
	if err := r.acquire(ctx); err != nil {
		return crawler.FetchResponse{}, err
	}
	defer r.release()

	browserCtx, err := r.browserContext()
	if err != nil {
		return crawler.FetchResponse{}, err
	}
	tabCtx, tabCancel := chromedp.NewContext(browserCtx)
	defer tabCancel()

	timeout := r.timeout(request.Timeout)
	runCtx, cancel := context.WithTimeout(tabCtx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	meta := newResponseMeta()
	console := newConsoleGuard(r.logger, request.URL, consoleLogLimit)
	chromedp.ListenTarget(runCtx, func(ev any) {
		meta.captureEvent(ev)
		console.captureEvent(ev)
	})

	start := time.Now()
	html, finalURL, err := r.run(runCtx, request, loadWait(timeout))
	if err != nil {
		return crawler.FetchResponse{}, err
	}

	resp := crawler.FetchResponse{
		URL:           request.URL,
		StatusCode:    http.StatusOK,
		Headers:       http.Header{},
		Body:          []byte(html),
		Duration:      time.Since(start),
		UsedHeadless:  true,
		ConsoleErrors: console.Count(),
	}
	if len(request.HTML) == 0 {
		status, headers, responseURL := meta.snapshotWithFallbacks(request.URL, finalURL)
		resp.StatusCode, resp.URL = status, responseURL
		if headers != nil {
			resp.Headers = headers
		}
	}
	return resp, nil
}

func (r *Renderer) run(ctx context.Context, request crawler.RenderRequest, wait time.Duration) (string, string, error) {
	var (
		html     string
		finalURL string
	)
	actions := []chromedp.Action{
		runtime.Enable(),
		r.networkSetupAction(request.Headers),
	}
	if len(request.HTML) > 0 {
		seed, err := withBaseHref(request.HTML, request.URL)
		if err != nil {
			return "", "", err
		}
		actions = append(actions,
			chromedp.Navigate("about:blank"),
			setDocumentContent(seed),
		)
	} else {
		actions = append(actions,
			chromedp.Navigate(request.URL),
			chromedp.Location(&finalURL),
		)
	}
	actions = append(actions, waitForLoad(wait))
	if r.cfg.SettleDelay > 0 {
		actions = append(actions, chromedp.Sleep(r.cfg.SettleDelay))
	}
	actions = append(actions, chromedp.OuterHTML("html", &html, chromedp.ByQuery))

	if err := chromedp.Run(ctx, actions...); err != nil {
		return "", "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, finalURL, nil
}

func (r *Renderer) networkSetupAction(headers http.Header) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if r.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(r.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(headers) > 0 {
			if err := network.SetExtraHTTPHeaders(toNetworkHeaders(headers)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

func setDocumentContent(html string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		tree, err := page.GetFrameTree().Do(ctx)
		if err != nil {
			return fmt.Errorf("get frame tree: %w", err)
		}
		if err := page.SetDocumentContent(tree.Frame.ID, html).Do(ctx); err != nil {
			return fmt.Errorf("set document content: %w", err)
		}
		return nil
	})
}

// waitForLoad polls document.readyState until it is complete or max elapses.
// Hitting max is not an error; the DOM is serialized as it stands.
func waitForLoad(maxWait time.Duration) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		waitCtx, cancel := context.WithTimeout(ctx, maxWait)
		defer cancel()
		ticker := time.NewTicker(readyPollInterval)
		defer ticker.Stop()
		for {
			var state string
			if err := chromedp.Evaluate(`document.readyState`, &state).Do(waitCtx); err == nil && state == "complete" {
				return nil
			}
			select {
			case <-ctx.Done():
				return fmt.Errorf("wait for load: %w", ctx.Err())
			case <-waitCtx.Done():
				return nil
			case <-ticker.C:
			}
		}
	})
}

func loadWait(timeout time.Duration) time.Duration {
	wait := timeout * 8 / 10
	if wait > maxLoadWait {
		wait = maxLoadWait
	}
	return wait
}

func (r *Renderer) timeout(requested time.Duration) time.Duration {
	if requested > 0 {
		return requested
	}
	if r.cfg.NavigationTimeout > 0 {
		return r.cfg.NavigationTimeout
	}
	return defaultNavigationTimeout
}

func (r *Renderer) browserContext() (context.Context, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.browser != nil && r.browser.Err() == nil {
		return r.browser, nil
	}
	if r.allocator.Err() != nil {
		return nil, errors.New("renderer closed")
	}
	browserCtx, cancel := chromedp.NewContext(r.allocator)
	if err := chromedp.Run(browserCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	r.browser, r.browserCancel = browserCtx, cancel
	return browserCtx, nil
}

func (r *Renderer) acquire(ctx context.Context) error {
	if r.limiter == nil {
		return nil
	}
	select {
	case r.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("render slot wait canceled: %w", ctx.Err())
	}
}

func (r *Renderer) release() {
	if r.limiter == nil {
		return
	}
	select {
	case <-r.limiter:
	default:
	}
}

// withBaseHref makes relative scripts and assets in seeded HTML resolve against pageURL.
func withBaseHref(html []byte, pageURL string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parse seed html: %w", err)
	}
	if doc.Find("head base[href]").Length() == 0 && pageURL != "" {
		base := fmt.Sprintf(`<base href="%s">`, strings.ReplaceAll(pageURL, `"`, "%22"))
		doc.Find("head").PrependHtml(base)
	}
	out, err := doc.Html()
	if err != nil {
		return "", fmt.Errorf("serialize seed html: %w", err)
	}
	return out, nil
}

type responseMeta struct {
	mu      sync.RWMutex
	status  int
	headers http.Header
	url     string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{
		headers: http.Header{},
	}
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	headers := http.Header{}
	for key, value := range event.Response.Headers {
		switch v := value.(type) {
		case string:
			headers.Add(key, v)
		case []string:
			for _, entry := range v {
				headers.Add(key, entry)
			}
		case []any:
			for _, entry := range v {
				headers.Add(key, fmt.Sprint(entry))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	m.mu.Lock()
	m.status = int(event.Response.Status)
	m.headers = headers
	m.url = event.Response.URL
	m.mu.Unlock()
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, http.Header, string) {
	m.mu.RLock()
	status, headers, url := m.status, m.headers.Clone(), m.url
	m.mu.RUnlock()
	switch {
	case url != "":
	case finalURL != "":
		url = finalURL
	default:
		url = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	return status, headers, url
}

func toNetworkHeaders(h http.Header) network.Headers {
	headers := network.Headers{}
	for key, values := range h {
		if len(values) == 0 {
			continue
		}
		if len(values) == 1 {
			headers[key] = values[0]
		} else {
			headers[key] = append([]string(nil), values...)
		}
	}
	return headers
}
