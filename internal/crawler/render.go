package crawler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// renderClient talks to the rendering service. The service executes
// page scripts and returns clean structured markdown with headings and
// code blocks already extracted.
type renderClient struct {
	baseURL      string
	client       *http.Client
	maxBodyBytes int64
}

func newRenderClient(cfg Config) *renderClient {
	return &renderClient{
		baseURL:      cfg.RenderURL,
		client:       &http.Client{Timeout: cfg.Timeout},
		maxBodyBytes: cfg.MaxBodyBytes,
	}
}

// renderRequest is the request body for the render endpoint.
type renderRequest struct {
	URL string `json:"url"`
}

// renderResponse is the rendering service's structured page payload.
type renderResponse struct {
	Title      string    `json:"title"`
	Markdown   string    `json:"markdown"`
	Headings   []Heading `json:"headings"`
	CodeBlocks []string  `json:"code_blocks"`
}

// Fetch renders one URL. A non-2xx status, transport error, or empty
// payload is a failure for this URL.
func (r *renderClient) Fetch(ctx context.Context, url string) (*Result, error) {
	body, err := json.Marshal(renderRequest{URL: url})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/render", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rendering %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("render service status %d: %s", resp.StatusCode, string(respBody))
	}

	var page renderResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, r.maxBodyBytes)).Decode(&page); err != nil {
		return nil, fmt.Errorf("decoding render response: %w", err)
	}

	if page.Markdown == "" {
		return nil, fmt.Errorf("render service returned empty content for %s", url)
	}

	return &Result{
		URL:        url,
		Title:      page.Title,
		Content:    page.Markdown,
		Headings:   page.Headings,
		CodeBlocks: page.CodeBlocks,
		Backend:    BackendRender,
	}, nil
}
