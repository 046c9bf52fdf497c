package search

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
)

// Previewer fetches a page and extracts a plain-text preview via
// readability. The preview feeds the relevance classifier, which only needs
// the opening of the article, so output is clamped to MaxChars.
type Previewer struct {
	Client   *http.Client
	MaxChars int
}

func NewPreviewer(timeout time.Duration, maxChars int) *Previewer {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if maxChars <= 0 {
		maxChars = 2000
	}
	return &Previewer{
		Client:   &http.Client{Timeout: timeout},
		MaxChars: maxChars,
	}
}

// Preview returns readable text from rawURL, truncated to MaxChars. On any
// fetch or parse failure it returns fallback so the pipeline can still
// classify on the search snippet alone.
func (p *Previewer) Preview(ctx context.Context, rawURL, fallback string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fallback
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fallback
	}
	req.Header.Set("User-Agent", "covera-research/1.0")
	resp, err := p.Client.Do(req)
	if err != nil {
		return fallback
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fallback
	}

	article, err := readability.FromReader(resp.Body, u)
	if err != nil {
		return fallback
	}
	text := strings.TrimSpace(article.TextContent)
	if text == "" {
		return fallback
	}
	if len(text) > p.MaxChars {
		text = text[:p.MaxChars]
	}
	if fallback != "" {
		return fmt.Sprintf("%s\n\n%s", fallback, text)
	}
	return text
}
