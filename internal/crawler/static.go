package crawler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/time/rate"
)

// skipElements are structural elements excluded from content text.
var skipElements = map[string]bool{
	"script":   true,
	"style":    true,
	"nav":      true,
	"header":   true,
	"footer":   true,
	"aside":    true,
	"noscript": true,
}

// headingLevels maps heading element names to their level.
var headingLevels = map[string]int{
	"h1": 1, "h2": 2, "h3": 3, "h4": 4, "h5": 5, "h6": 6,
}

// staticClient fetches pages directly and extracts content from the
// markup. Outbound requests are rate-limited with a minimum
// inter-request delay.
type staticClient struct {
	client       *http.Client
	limiter      *rate.Limiter
	maxBodyBytes int64
}

func newStaticClient(cfg Config) *staticClient {
	return &staticClient{
		client:       &http.Client{Timeout: cfg.Timeout},
		limiter:      rate.NewLimiter(rate.Every(cfg.MinDelay), 1),
		maxBodyBytes: cfg.MaxBodyBytes,
	}
}

// Fetch retrieves one URL and extracts title, headings, code blocks,
// and a best-effort main-content text.
func (s *staticClient) Fetch(ctx context.Context, rawURL string) (*Result, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("invalid url: %s", rawURL)
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetching %s: status %d", rawURL, resp.StatusCode)
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, s.maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", rawURL, err)
	}

	result := extractPage(doc)
	result.URL = rawURL
	result.Backend = BackendStatic

	if result.Content == "" {
		return nil, fmt.Errorf("no extractable content at %s", rawURL)
	}
	return result, nil
}

// extractPage walks the parsed document, pulling title, headings,
// code blocks, and main-content text.
func extractPage(doc *html.Node) *Result {
	result := &Result{}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if skipElements[n.Data] {
				return
			}
			switch {
			case n.Data == "title" && result.Title == "":
				result.Title = strings.TrimSpace(textContent(n))
				return
			case headingLevels[n.Data] > 0:
				text := strings.TrimSpace(textContent(n))
				if text != "" {
					result.Headings = append(result.Headings, Heading{
						Level: headingLevels[n.Data],
						Text:  text,
					})
				}
				return
			case n.Data == "pre":
				code := strings.TrimSpace(textContent(n))
				if code != "" {
					result.CodeBlocks = append(result.CodeBlocks, code)
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	result.Content = extractMainText(doc)
	return result
}

// extractMainText prefers <main> or <article> over the whole body.
func extractMainText(doc *html.Node) string {
	if main := findElement(doc, "main"); main != nil {
		return collectText(main)
	}
	if article := findElement(doc, "article"); article != nil {
		return collectText(article)
	}
	if body := findElement(doc, "body"); body != nil {
		return collectText(body)
	}
	return collectText(doc)
}

func findElement(n *html.Node, name string) *html.Node {
	if n.Type == html.ElementNode && n.Data == name {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, name); found != nil {
			return found
		}
	}
	return nil
}

// collectText joins visible text nodes, skipping structural chrome.
func collectText(n *html.Node) string {
	var parts []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && skipElements[n.Data] {
			return
		}
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				parts = append(parts, t)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(parts, " ")
}

// textContent returns the concatenated text of a single subtree.
func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}
