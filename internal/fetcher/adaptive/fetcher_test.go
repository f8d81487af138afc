package adaptive

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/scrapekit/internal/cache"
	"github.com/JakeFAU/scrapekit/internal/crawler"
	"github.com/JakeFAU/scrapekit/internal/headless/detector"
)

type fakeFetcher struct {
	body string
	err  error
	hits int
}

func (f *fakeFetcher) Fetch(_ context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	f.hits++
	if f.err != nil {
		return crawler.FetchResponse{}, f.err
	}
	return crawler.FetchResponse{URL: req.URL, StatusCode: http.StatusOK, Body: []byte(f.body)}, nil
}

type fakeRenderer struct {
	mu     sync.Mutex
	body   string
	status int
	err    error
	calls  []crawler.RenderRequest
}

func (r *fakeRenderer) Render(_ context.Context, req crawler.RenderRequest) (crawler.FetchResponse, error) {
	r.mu.Lock()
	r.calls = append(r.calls, req)
	r.mu.Unlock()
	if r.err != nil {
		return crawler.FetchResponse{}, r.err
	}
	status := r.status
	if status == 0 {
		status = http.StatusOK
	}
	return crawler.FetchResponse{URL: req.URL, StatusCode: status, Body: []byte(r.body), UsedHeadless: true}, nil
}

type fakeClassifier struct {
	hint      detector.Hint
	render    bool
	classifed int
}

func (c *fakeClassifier) DomainHint(string) detector.Hint { return c.hint }

func (c *fakeClassifier) Classify([]byte, string) detector.Analysis {
	c.classifed++
	return detector.Analysis{RequiresRendering: c.render}
}

func TestFetchNoRenderingNeeded(t *testing.T) {
	t.Parallel()

	light := &fakeFetcher{body: "<p>static</p>"}
	heavy := &fakeRenderer{body: strings.Repeat("x", 1000)}
	f := New(light, heavy, &fakeClassifier{})

	got, err := f.Fetch(context.Background(), "https://example.com/", crawler.FetchOptions{})
	require.NoError(t, err)
	require.Equal(t, "<p>static</p>", got.HTML)
	require.False(t, got.RenderedWithHeavyEngine)
	require.Empty(t, heavy.calls)
}

func TestFetchRenderAcceptedWhenSubstantiallyLarger(t *testing.T) {
	t.Parallel()

	light := &fakeFetcher{body: strings.Repeat("a", 100)}
	heavy := &fakeRenderer{body: strings.Repeat("b", 111)}
	f := New(light, heavy, &fakeClassifier{render: true})

	got, err := f.Fetch(context.Background(), "https://spa.test/", crawler.FetchOptions{Timeout: time.Second})
	require.NoError(t, err)
	require.True(t, got.RenderedWithHeavyEngine)
	require.Equal(t, strings.Repeat("b", 111), got.HTML)

	require.Len(t, heavy.calls, 1)
	require.Equal(t, light.body, string(heavy.calls[0].HTML), "renderer must be seeded with fetched HTML")
	require.Equal(t, time.Second, heavy.calls[0].Timeout)
}

func TestFetchRenderRejectedWithinTenPercent(t *testing.T) {
	t.Parallel()

	for _, size := range []int{50, 100, 110} {
		light := &fakeFetcher{body: strings.Repeat("a", 100)}
		heavy := &fakeRenderer{body: strings.Repeat("b", size)}
		f := New(light, heavy, &fakeClassifier{render: true})

		got, err := f.Fetch(context.Background(), "https://spa.test/", crawler.FetchOptions{})
		require.NoError(t, err)
		require.False(t, got.RenderedWithHeavyEngine, "size %d", size)
		require.Equal(t, light.body, got.HTML, "size %d", size)
	}
}

func TestFetchRenderFailureIsSilent(t *testing.T) {
	t.Parallel()

	light := &fakeFetcher{body: "<div id=app></div>"}
	heavy := &fakeRenderer{err: context.DeadlineExceeded}
	f := New(light, heavy, &fakeClassifier{render: true})

	got, err := f.Fetch(context.Background(), "https://spa.test/", crawler.FetchOptions{})
	require.NoError(t, err)
	require.Equal(t, light.body, got.HTML)
	require.False(t, got.RenderedWithHeavyEngine)
}

func TestFetchStaticHostSkipsRenderer(t *testing.T) {
	t.Parallel()

	light := &fakeFetcher{body: "<p>wiki</p>"}
	heavy := &fakeRenderer{body: strings.Repeat("x", 1000)}
	classifier := &fakeClassifier{hint: detector.HintStatic, render: true}
	f := New(light, heavy, classifier)

	got, err := f.Fetch(context.Background(), "https://en.wikipedia.org/", crawler.FetchOptions{})
	require.NoError(t, err)
	require.False(t, got.RenderedWithHeavyEngine)
	require.Empty(t, heavy.calls)
	require.Zero(t, classifier.classifed)

	light.err = &crawler.FetchError{URL: "https://en.wikipedia.org/", StatusCode: 503, Err: errors.New("unavailable")}
	_, err = f.Fetch(context.Background(), "https://en.wikipedia.org/", crawler.FetchOptions{})
	require.Error(t, err)
	require.Equal(t, 503, crawler.StatusCodeOf(err))
	require.Empty(t, heavy.calls)
}

func TestFetchHeavyHostAlwaysRenders(t *testing.T) {
	t.Parallel()

	light := &fakeFetcher{body: strings.Repeat("a", 100)}
	heavy := &fakeRenderer{body: strings.Repeat("b", 500)}
	classifier := &fakeClassifier{hint: detector.HintHeavy}
	f := New(light, heavy, classifier)

	got, err := f.Fetch(context.Background(), "https://x.com/", crawler.FetchOptions{})
	require.NoError(t, err)
	require.True(t, got.RenderedWithHeavyEngine)
	require.Equal(t, 1, light.hits)
	require.Zero(t, classifier.classifed)
}

func TestFetchLightFailureFallsBackToRender(t *testing.T) {
	t.Parallel()

	lightErr := &crawler.FetchError{URL: "https://spa.test/", Err: errors.New("read: connection reset by peer")}
	light := &fakeFetcher{err: lightErr}
	heavy := &fakeRenderer{body: "<html>rendered</html>"}
	f := New(light, heavy, &fakeClassifier{})

	got, err := f.Fetch(context.Background(), "https://spa.test/", crawler.FetchOptions{})
	require.NoError(t, err)
	require.True(t, got.RenderedWithHeavyEngine)
	require.Equal(t, "<html>rendered</html>", got.HTML)
	require.Len(t, heavy.calls, 1)
	require.Empty(t, heavy.calls[0].HTML, "last resort navigates instead of seeding")
}

func TestFetchBothFailSurfacesLightError(t *testing.T) {
	t.Parallel()

	lightErr := &crawler.FetchError{URL: "https://down.test/", StatusCode: 500, Err: errors.New("Internal Server Error")}
	f := New(&fakeFetcher{err: lightErr}, &fakeRenderer{err: errors.New("chrome missing")}, &fakeClassifier{})

	_, err := f.Fetch(context.Background(), "https://down.test/", crawler.FetchOptions{})
	require.Error(t, err)
	require.Equal(t, 500, crawler.StatusCodeOf(err))
	require.NotContains(t, err.Error(), "chrome missing")
}

func TestFetchLastResortRejectsErrorStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
	}{
		{name: "server error", status: http.StatusInternalServerError},
		{name: "forbidden", status: http.StatusForbidden},
		{name: "not found", status: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			lightErr := &crawler.FetchError{URL: "https://down.test/", StatusCode: tt.status, Err: errors.New(http.StatusText(tt.status))}
			heavy := &fakeRenderer{body: "<html><body>error page</body></html>", status: tt.status}
			f := New(&fakeFetcher{err: lightErr}, heavy, &fakeClassifier{})

			_, err := f.Fetch(context.Background(), "https://down.test/", crawler.FetchOptions{})
			require.Error(t, err)
			require.Equal(t, tt.status, crawler.StatusCodeOf(err))
			require.Len(t, heavy.calls, 1)
		})
	}
}

func TestFetchWrapsPlainErrors(t *testing.T) {
	t.Parallel()

	f := New(&fakeFetcher{err: errors.New("dial tcp: refused")}, nil, nil)
	_, err := f.Fetch(context.Background(), "https://down.test/", crawler.FetchOptions{})
	var fe *crawler.FetchError
	require.True(t, errors.As(err, &fe))
	require.Equal(t, "https://down.test/", fe.URL)
}

func TestFetchMemoizesDecisions(t *testing.T) {
	t.Parallel()

	decisions := cache.New[string, bool](cache.WithSweepInterval(0))
	defer decisions.Close()

	classifier := &fakeClassifier{}
	f := New(&fakeFetcher{body: "<p>same</p>"}, &fakeRenderer{}, classifier, WithDecisionCache(decisions, time.Minute))

	for i := 0; i < 3; i++ {
		_, err := f.Fetch(context.Background(), "https://example.com/", crawler.FetchOptions{})
		require.NoError(t, err)
	}
	require.Equal(t, 1, classifier.classifed)
	require.True(t, decisions.Has("https://example.com/|11"))
}
