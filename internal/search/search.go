package search

import (
	"context"
	"fmt"
)

// Result is a single web search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Searcher runs a web search and returns up to k results.
type Searcher interface {
	Search(ctx context.Context, q string, k int) ([]Result, error)
}

// Provider names a supported search backend.
type Provider string

const (
	SerperProvider Provider = "serper"
	BraveProvider  Provider = "brave"
)

// NewSearcher constructs the configured search backend.
func NewSearcher(provider Provider, apiKey string) (Searcher, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("search provider %q: missing api key", provider)
	}
	switch provider {
	case SerperProvider:
		return Serper{APIKey: apiKey}, nil
	case BraveProvider:
		return Brave{APIKey: apiKey}, nil
	default:
		return nil, fmt.Errorf("unsupported search provider %q", provider)
	}
}
