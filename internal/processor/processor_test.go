package processor

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/scrapekit/internal/crawler"
)

const articlePage = `<!doctype html>
<html lang="en">
<head>
  <title>Release Notes</title>
  <meta name="description" content="What changed this week.">
  <meta property="og:image" content="https://cdn.example.com/og.png">
  <link rel="canonical" href="/notes">
  <script>window.tracking = true;</script>
</head>
<body>
  <nav><a href="/">Home</a> <a href="/about">About</a></nav>
  <main>
    <h1>Release Notes</h1>
    <p>The scheduler now honors per-domain delays between requests and reports partial results.</p>
    <p>See the <a href="guide#install">install guide</a> and <a href="https://other.org/x">upstream</a>.</p>
    <img src="img/diagram.png" alt="diagram">
  </main>
  <footer><a href="mailto:team@example.com">Contact</a></footer>
</body>
</html>`

type fakeContent struct {
	content crawler.FetchedContent
	err     error
	opts    crawler.FetchOptions
}

func (f *fakeContent) Fetch(_ context.Context, url string, opts crawler.FetchOptions) (crawler.FetchedContent, error) {
	f.opts = opts
	if f.err != nil {
		return crawler.FetchedContent{}, f.err
	}
	out := f.content
	if out.URL == "" {
		out.URL = url
	}
	return out, nil
}

func pageContent(body string) *fakeContent {
	return &fakeContent{content: crawler.FetchedContent{
		HTML:       body,
		StatusCode: http.StatusOK,
		Headers:    http.Header{"Content-Type": {"text/html"}},
	}}
}

type fakeExtractor struct {
	out any
	err error
	req crawler.ExtractRequest
}

func (f *fakeExtractor) Extract(_ context.Context, req crawler.ExtractRequest, _ string) (any, error) {
	f.req = req
	return f.out, f.err
}

func TestProcessAllFormats(t *testing.T) {
	t.Parallel()

	p := New(pageContent(articlePage))
	res := p.Process(context.Background(), "https://example.com/blog/notes", crawler.FormatRequest{
		Formats: []crawler.Format{crawler.FormatMarkdown, crawler.FormatHTML, crawler.FormatRawHTML, crawler.FormatLinks},
	})

	require.True(t, res.Success, res.Error)
	require.Empty(t, res.Error)
	require.Contains(t, res.Markdown, "# Release Notes")
	require.Contains(t, res.Markdown, "[install guide](https://example.com/blog/guide#install)")
	require.NotContains(t, res.HTML, "window.tracking")
	require.Contains(t, res.HTML, `src="https://example.com/blog/img/diagram.png"`)
	require.Contains(t, res.RawHTML, "window.tracking")
	require.Equal(t, []string{
		"https://example.com/",
		"https://example.com/about",
		"https://example.com/blog/guide",
		"https://other.org/x",
	}, res.Links)

	require.NotNil(t, res.Metadata)
	require.Equal(t, "Release Notes", res.Metadata.Title)
	require.Equal(t, "What changed this week.", res.Metadata.Description)
	require.Equal(t, "en", res.Metadata.Language)
	require.Equal(t, "https://example.com/notes", res.Metadata.Canonical)
	require.Equal(t, "https://cdn.example.com/og.png", res.Metadata.OGImage)
	require.Equal(t, http.StatusOK, res.Metadata.StatusCode)
	require.Equal(t, "text/html", res.Metadata.ContentType)
}

func TestProcessOnlyRequestedFormats(t *testing.T) {
	t.Parallel()

	p := New(pageContent(articlePage))
	res := p.Process(context.Background(), "https://example.com/", crawler.FormatRequest{
		Formats: []crawler.Format{crawler.FormatMarkdown},
	})
	require.True(t, res.Success)
	require.NotEmpty(t, res.Markdown)
	require.Empty(t, res.HTML)
	require.Empty(t, res.RawHTML)
	require.Nil(t, res.Links)
}

func TestProcessOnlyMainContent(t *testing.T) {
	t.Parallel()

	p := New(pageContent(articlePage))
	res := p.Process(context.Background(), "https://example.com/", crawler.FormatRequest{
		Formats:         []crawler.Format{crawler.FormatMarkdown},
		OnlyMainContent: true,
	})
	require.True(t, res.Success)
	require.NotContains(t, res.Markdown, "Home")
	require.NotContains(t, res.Markdown, "Contact")
	require.Contains(t, res.Markdown, "per-domain delays")
}

func TestProcessIncludeAndExcludeTags(t *testing.T) {
	t.Parallel()

	p := New(pageContent(articlePage))
	res := p.Process(context.Background(), "https://example.com/", crawler.FormatRequest{
		Formats:     []crawler.Format{crawler.FormatHTML},
		IncludeTags: []string{"h1", "p"},
		ExcludeTags: []string{"a"},
	})
	require.True(t, res.Success)
	require.True(t, strings.HasPrefix(res.HTML, "<h1>Release Notes</h1>"))
	require.NotContains(t, res.HTML, "<a ")
	require.NotContains(t, res.HTML, "<img")
}

func TestProcessFetchFailure(t *testing.T) {
	t.Parallel()

	fetcher := &fakeContent{err: &crawler.FetchError{URL: "https://example.com/", StatusCode: 500, Err: errors.New("Internal Server Error")}}
	res := New(fetcher).Process(context.Background(), "https://example.com/", crawler.FormatRequest{})
	require.False(t, res.Success)
	require.Contains(t, res.Error, "status 500")
	require.Equal(t, "https://example.com/", res.URL)
}

func TestProcessPassesFetchOptions(t *testing.T) {
	t.Parallel()

	fetcher := pageContent(articlePage)
	New(fetcher).Process(context.Background(), "https://example.com/", crawler.FormatRequest{
		Headers:       http.Header{"Authorization": {"x"}},
		RespectRobots: true,
	})
	require.Equal(t, "x", fetcher.opts.Headers.Get("Authorization"))
	require.True(t, fetcher.opts.RespectRobots)
}

func TestProcessRenderedFlag(t *testing.T) {
	t.Parallel()

	fetcher := pageContent(articlePage)
	fetcher.content.RenderedWithHeavyEngine = true
	res := New(fetcher).Process(context.Background(), "https://example.com/", crawler.FormatRequest{})
	require.True(t, res.Metadata.RenderedWithHeavyEngine)
}

func TestProcessExtract(t *testing.T) {
	t.Parallel()

	ex := &fakeExtractor{out: map[string]any{"version": "1.2"}}
	p := New(pageContent(articlePage), WithExtractor(ex))
	res := p.Process(context.Background(), "https://example.com/", crawler.FormatRequest{
		Formats: []crawler.Format{crawler.FormatExtract},
		Extract: &crawler.ExtractRequest{Mode: crawler.ExtractModeSummarize, Prompt: "summarize"},
	})
	require.True(t, res.Success)
	require.Equal(t, map[string]any{"version": "1.2"}, res.Extract)
	require.Equal(t, crawler.ExtractModeSummarize, ex.req.Mode)
}

func TestProcessPartialSuccess(t *testing.T) {
	t.Parallel()

	ex := &fakeExtractor{err: errors.New("model unavailable")}

	rich := New(pageContent(articlePage), WithExtractor(ex)).Process(context.Background(), "https://example.com/",
		crawler.FormatRequest{Formats: []crawler.Format{crawler.FormatMarkdown, crawler.FormatExtract}})
	require.True(t, rich.Success, "enough content survives the extract failure")
	require.Contains(t, rich.Error, "model unavailable")

	bare := New(pageContent(`<html><body><div>tiny</div></body></html>`), WithExtractor(ex)).Process(
		context.Background(), "https://example.com/",
		crawler.FormatRequest{Formats: []crawler.Format{crawler.FormatExtract}})
	require.False(t, bare.Success)
	require.Contains(t, bare.Error, "model unavailable")

	titled := New(pageContent(`<html><head><title>T</title></head><body>x</body></html>`)).Process(
		context.Background(), "https://example.com/",
		crawler.FormatRequest{Formats: []crawler.Format{crawler.FormatExtract}})
	require.True(t, titled.Success, "a title is enough")
	require.Contains(t, titled.Error, "no extractor configured")
}

func TestProcessHooks(t *testing.T) {
	t.Parallel()

	t.Run("pre hook modifies raw html", func(t *testing.T) {
		t.Parallel()
		pre := crawler.HookFunc(func(_ context.Context, r crawler.PageResult) (crawler.PageResult, error) {
			r.RawHTML = strings.ReplaceAll(r.RawHTML, "Release Notes", "Changelog")
			return r, nil
		})
		res := New(pageContent(articlePage)).Process(context.Background(), "https://example.com/", crawler.FormatRequest{
			Formats:    []crawler.Format{crawler.FormatMarkdown},
			PreProcess: pre,
		})
		require.True(t, res.Success)
		require.Contains(t, res.Markdown, "# Changelog")
	})

	t.Run("pre hook rejection short-circuits", func(t *testing.T) {
		t.Parallel()
		post := false
		res := New(pageContent(articlePage)).Process(context.Background(), "https://example.com/", crawler.FormatRequest{
			Formats: []crawler.Format{crawler.FormatMarkdown},
			PreProcess: crawler.HookFunc(func(_ context.Context, r crawler.PageResult) (crawler.PageResult, error) {
				r.Success = false
				return r, nil
			}),
			PostProcess: crawler.HookFunc(func(_ context.Context, r crawler.PageResult) (crawler.PageResult, error) {
				post = true
				return r, nil
			}),
		})
		require.False(t, res.Success)
		require.Empty(t, res.Markdown)
		require.Equal(t, "pre-process hook rejected page", res.Error)
		require.False(t, post)
	})

	t.Run("post hook error fails page", func(t *testing.T) {
		t.Parallel()
		res := New(pageContent(articlePage)).Process(context.Background(), "https://example.com/", crawler.FormatRequest{
			PostProcess: crawler.HookFunc(func(_ context.Context, r crawler.PageResult) (crawler.PageResult, error) {
				return r, errors.New("duplicate content")
			}),
		})
		require.False(t, res.Success)
		require.Equal(t, "post-process hook: duplicate content", res.Error)
	})

	t.Run("post hook sees transformed content", func(t *testing.T) {
		t.Parallel()
		var seen string
		New(pageContent(articlePage)).Process(context.Background(), "https://example.com/", crawler.FormatRequest{
			PostProcess: crawler.HookFunc(func(_ context.Context, r crawler.PageResult) (crawler.PageResult, error) {
				seen = r.Markdown
				return r, nil
			}),
		})
		require.Contains(t, seen, "Release Notes")
	})
}

func TestExtractLinksHonorsBaseElement(t *testing.T) {
	t.Parallel()

	res := New(pageContent(`<html><head><base href="https://static.example.com/docs/"></head>
		<body><a href="intro">Intro</a><a href="tel:123">Call</a><a href="intro#top">Top</a></body></html>`)).Process(
		context.Background(), "https://example.com/", crawler.FormatRequest{Formats: []crawler.Format{crawler.FormatLinks}})
	require.Equal(t, []string{"https://static.example.com/docs/intro"}, res.Links)
}
