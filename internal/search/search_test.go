package search

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNewSearcher(t *testing.T) {
	if _, err := NewSearcher(SerperProvider, ""); err == nil {
		t.Fatal("expected error for missing api key")
	}
	if _, err := NewSearcher(Provider("duckduckgo"), "key"); err == nil {
		t.Fatal("expected error for unsupported provider")
	}
	s, err := NewSearcher(BraveProvider, "key")
	if err != nil {
		t.Fatalf("NewSearcher: %v", err)
	}
	if _, ok := s.(Brave); !ok {
		t.Fatalf("expected Brave searcher, got %T", s)
	}
}

func TestPreviewExtractsArticleText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head><title>Term insurance basics</title></head><body>
			<article><h1>Term insurance basics</h1>
			<p>Term life insurance covers a fixed period and pays out only if the insured dies within it.</p>
			<p>Premiums are generally lower than whole-life products for the same coverage amount.</p>
			</article></body></html>`))
	}))
	defer srv.Close()

	p := NewPreviewer(5*time.Second, 500)
	got := p.Preview(context.Background(), srv.URL, "fallback snippet")
	if !strings.Contains(got, "fixed period") {
		t.Fatalf("preview missing article text: %q", got)
	}
	if !strings.Contains(got, "fallback snippet") {
		t.Fatalf("preview dropped the search snippet: %q", got)
	}

	clamped := NewPreviewer(5*time.Second, 40)
	if got := clamped.Preview(context.Background(), srv.URL, ""); len(got) > 40 {
		t.Fatalf("preview not clamped: %d chars", len(got))
	}
}

func TestPreviewFallsBackOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := NewPreviewer(time.Second, 500)
	if got := p.Preview(context.Background(), srv.URL, "fallback snippet"); !strings.Contains(got, "fallback snippet") {
		t.Fatalf("expected fallback, got %q", got)
	}
	if got := p.Preview(context.Background(), "://not-a-url", "fallback snippet"); !strings.Contains(got, "fallback snippet") {
		t.Fatalf("expected fallback for bad url, got %q", got)
	}
}
