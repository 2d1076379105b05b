package crawler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fyrsmithlabs/indexd/internal/crawler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPage = `<!DOCTYPE html>
<html>
<head><title>Install Guide</title><style>p{color:red}</style></head>
<body>
<nav><h2>Site Menu</h2>Home | Docs | About</nav>
<main>
<h1>Installation</h1>
<p>Install with the package manager.</p>
<h2>From Source</h2>
<pre>make install</pre>
<p>Build takes a minute.</p>
</main>
<footer><pre>trackVisit()</pre>Copyright</footer>
</body>
</html>`

func newRenderServer(t *testing.T, fail *bool) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if *fail {
			http.Error(w, "render timeout", http.StatusBadGateway)
			return
		}
		require.Equal(t, "/render", r.URL.Path)
		var req struct {
			URL string `json:"url"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		resp := map[string]any{
			"title":    "Install Guide",
			"markdown": "# Installation\n\nInstall with the package manager.",
			"headings": []map[string]any{
				{"level": 1, "text": "Installation"},
			},
			"code_blocks": []string{"make install"},
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func newStaticServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(testPage))
	}))
}

func testConfig(renderURL string) crawler.Config {
	return crawler.Config{
		RenderURL: renderURL,
		Timeout:   5 * time.Second,
		MinDelay:  time.Millisecond,
	}
}

func TestCrawlUsesRenderBackend(t *testing.T) {
	fail := false
	render := newRenderServer(t, &fail)
	defer render.Close()

	c := crawler.New(testConfig(render.URL), nil)

	result, err := c.Crawl(context.Background(), "https://docs.example.com/install")
	require.NoError(t, err)

	assert.Equal(t, crawler.BackendRender, result.Backend)
	assert.Equal(t, "Install Guide", result.Title)
	assert.Contains(t, result.Content, "package manager")
	assert.Equal(t, []string{"make install"}, result.CodeBlocks)
	assert.False(t, c.Degraded())
}

func TestCrawlDegradesAfterConsecutiveFailures(t *testing.T) {
	fail := true
	render := newRenderServer(t, &fail)
	defer render.Close()
	static := newStaticServer(t)
	defer static.Close()

	c := crawler.New(testConfig(render.URL), nil)

	// Two consecutive primary failures flip the crawler permanently.
	_, err := c.Crawl(context.Background(), static.URL)
	assert.ErrorIs(t, err, crawler.ErrCrawlFailed)
	assert.False(t, c.Degraded())

	_, err = c.Crawl(context.Background(), static.URL)
	assert.ErrorIs(t, err, crawler.ErrCrawlFailed)
	assert.True(t, c.Degraded())

	// Primary comes back, but the crawler must not retry it this run.
	fail = false
	result, err := c.Crawl(context.Background(), static.URL)
	require.NoError(t, err)
	assert.Equal(t, crawler.BackendStatic, result.Backend)
	assert.True(t, c.Degraded())
}

func TestCrawlSuccessResetsFailureCount(t *testing.T) {
	fail := true
	render := newRenderServer(t, &fail)
	defer render.Close()

	c := crawler.New(testConfig(render.URL), nil)

	// fail, succeed, fail: never two consecutive, so still primary.
	_, err := c.Crawl(context.Background(), "https://docs.example.com/a")
	assert.Error(t, err)

	fail = false
	_, err = c.Crawl(context.Background(), "https://docs.example.com/b")
	require.NoError(t, err)

	fail = true
	_, err = c.Crawl(context.Background(), "https://docs.example.com/c")
	assert.Error(t, err)
	assert.False(t, c.Degraded())
}

func TestStaticBackendExtraction(t *testing.T) {
	static := newStaticServer(t)
	defer static.Close()

	// No render URL: starts degraded, uses static backend directly.
	c := crawler.New(testConfig(""), nil)
	assert.True(t, c.Degraded())

	result, err := c.Crawl(context.Background(), static.URL)
	require.NoError(t, err)

	assert.Equal(t, crawler.BackendStatic, result.Backend)
	assert.Equal(t, "Install Guide", result.Title)

	// Headings and code inside nav/footer chrome are not indexed.
	require.Len(t, result.Headings, 2)
	assert.Equal(t, crawler.Heading{Level: 1, Text: "Installation"}, result.Headings[0])
	assert.Equal(t, crawler.Heading{Level: 2, Text: "From Source"}, result.Headings[1])
	assert.Equal(t, []string{"make install"}, result.CodeBlocks)

	// Main-content heuristic drops nav and footer chrome.
	assert.Contains(t, result.Content, "Install with the package manager.")
	assert.NotContains(t, result.Content, "Home | Docs | About")
	assert.NotContains(t, result.Content, "Copyright")
	assert.NotContains(t, result.Content, "color:red")
}

func TestCrawlBadURLDoesNotAbort(t *testing.T) {
	c := crawler.New(testConfig(""), nil)

	_, err := c.Crawl(context.Background(), "ftp://example.com/file")
	assert.ErrorIs(t, err, crawler.ErrCrawlFailed)

	// Crawler still works for the next URL.
	static := newStaticServer(t)
	defer static.Close()
	_, err = c.Crawl(context.Background(), static.URL)
	assert.NoError(t, err)
}

func TestCrawlStaticHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := crawler.New(testConfig(""), nil)
	_, err := c.Crawl(context.Background(), srv.URL)
	assert.ErrorIs(t, err, crawler.ErrCrawlFailed)
}
