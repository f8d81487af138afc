// Package processor converts fetched HTML into the page formats callers request.
package processor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/JakeFAU/scrapekit/internal/crawler"
	"github.com/JakeFAU/scrapekit/internal/metrics"
)

// minMarkdownLength is how much markdown a degraded page needs to still count as a success.
const minMarkdownLength = 100

// Processor implements crawler.PageProcessor.
type Processor struct {
	fetcher   crawler.ContentFetcher
	extractor crawler.Extractor
	conv      *converter.Converter
	logger    *zap.Logger
}

// Option customizes a Processor.
type Option func(*Processor)

// WithExtractor enables the extract format.
func WithExtractor(e crawler.Extractor) Option {
	return func(p *Processor) {
		p.extractor = e
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New builds a Processor on top of a content fetcher.
func New(fetcher crawler.ContentFetcher, opts ...Option) *Processor {
	p := &Processor{
		fetcher: fetcher,
		logger:  zap.NewNop(),
		conv: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process fetches rawURL and produces the requested formats. Failures are
// reported in the result, never as a panic or error return.
func (p *Processor) Process(ctx context.Context, rawURL string, req crawler.FormatRequest) crawler.PageResult {
	content, err := p.fetcher.Fetch(ctx, rawURL, crawler.FetchOptions{
		Timeout:       req.Timeout,
		Headers:       req.Headers,
		RespectRobots: req.RespectRobots,
	})
	if err != nil {
		metrics.ObservePage(rawURL, false, 0)
		return crawler.Failed(rawURL, err)
	}

	result := crawler.PageResult{
		Success: true,
		URL:     rawURL,
		RawHTML: content.HTML,
		Metadata: &crawler.Metadata{
			SourceURL:               rawURL,
			StatusCode:              content.StatusCode,
			ContentType:             content.Headers.Get("Content-Type"),
			RenderedWithHeavyEngine: content.RenderedWithHeavyEngine,
		},
	}

	result, ok := p.applyHook(ctx, "pre-process", req.PreProcess, result)
	if !ok {
		metrics.ObservePage(rawURL, false, len(content.HTML))
		return result
	}

	result = p.transform(ctx, content, req, result)

	result, ok = p.applyHook(ctx, "post-process", req.PostProcess, result)
	metrics.ObservePage(rawURL, ok && result.Success, len(content.HTML))
	if !ok {
		return result
	}
	return prune(result, req)
}

func (p *Processor) transform(
	ctx context.Context,
	content crawler.FetchedContent,
	req crawler.FormatRequest,
	result crawler.PageResult,
) crawler.PageResult {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(result.RawHTML))
	if err != nil {
		result.Success = false
		result.Error = fmt.Sprintf("parse html: %v", err)
		return result
	}

	pageURL := content.URL
	if pageURL == "" {
		pageURL = result.URL
	}
	base := documentBase(doc, pageURL)
	fillMetadata(doc, base, result.Metadata)
	result.Links = extractLinks(doc, base)

	var notes []string
	cleaned, err := cleanHTML(doc, base, req)
	if err != nil {
		notes = append(notes, err.Error())
	} else {
		result.HTML = cleaned
		md, err := p.markdown(cleaned)
		if err != nil {
			notes = append(notes, err.Error())
		} else {
			result.Markdown = md
		}
	}

	if req.Wants(crawler.FormatExtract) {
		extracted, err := p.extract(ctx, req, result.Markdown)
		if err != nil {
			notes = append(notes, err.Error())
		} else {
			result.Extract = extracted
		}
	}

	if len(notes) > 0 {
		result.Error = strings.Join(notes, "; ")
		result.Success = hasEnoughContent(result)
		p.logger.Debug("page processed with errors",
			zap.String("url", result.URL),
			zap.Bool("success", result.Success),
			zap.String("error", result.Error),
		)
	}
	return result
}

func (p *Processor) markdown(cleaned string) (string, error) {
	node, err := html.Parse(strings.NewReader(cleaned))
	if err != nil {
		return "", fmt.Errorf("parse cleaned html: %w", err)
	}
	out, err := p.conv.ConvertNode(node)
	if err != nil {
		return "", fmt.Errorf("convert markdown: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

func (p *Processor) extract(ctx context.Context, req crawler.FormatRequest, markdown string) (any, error) {
	if p.extractor == nil {
		return nil, errors.New("extract: no extractor configured")
	}
	extractReq := crawler.ExtractRequest{Mode: crawler.ExtractModeExtract}
	if req.Extract != nil {
		extractReq = *req.Extract
	}
	out, err := p.extractor.Extract(ctx, extractReq, markdown)
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}
	return out, nil
}

// applyHook runs hook when set. It reports false when processing must stop.
func (p *Processor) applyHook(
	ctx context.Context,
	stage string,
	hook crawler.Hook,
	result crawler.PageResult,
) (crawler.PageResult, bool) {
	if hook == nil {
		return result, true
	}
	out, err := hook.Apply(ctx, result)
	if err != nil {
		result.Success = false
		result.Error = fmt.Sprintf("%s hook: %v", stage, err)
		return result, false
	}
	if !out.Success {
		if out.Error == "" {
			out.Error = stage + " hook rejected page"
		}
		return out, false
	}
	return out, true
}

func hasEnoughContent(r crawler.PageResult) bool {
	if len(r.Markdown) > minMarkdownLength || len(r.Links) > 0 {
		return true
	}
	return r.Metadata != nil && (r.Metadata.Title != "" || r.Metadata.Description != "")
}

// prune drops representations the caller did not ask for.
func prune(r crawler.PageResult, req crawler.FormatRequest) crawler.PageResult {
	if !req.Wants(crawler.FormatMarkdown) {
		r.Markdown = ""
	}
	if !req.Wants(crawler.FormatHTML) {
		r.HTML = ""
	}
	if !req.Wants(crawler.FormatRawHTML) {
		r.RawHTML = ""
	}
	if !req.Wants(crawler.FormatLinks) {
		r.Links = nil
	}
	return r
}
