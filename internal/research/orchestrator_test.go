package research

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/covera-ai/covera/config"
	"github.com/covera-ai/covera/internal/search"
)

// fakeSearcher serves canned results keyed by query.
type fakeSearcher struct {
	results map[string][]search.Result
	err     error
	calls   []string
}

func (f *fakeSearcher) Search(_ context.Context, q string, k int) ([]search.Result, error) {
	f.calls = append(f.calls, q)
	if f.err != nil {
		return nil, f.err
	}
	out := f.results[q]
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// fakeLLM answers by prompt shape, mimicking the strict-JSON contract each
// pipeline stage expects.
type fakeLLM struct {
	queries        []string
	confidence     float64
	extractCalls   int
	classifyCalls  int
	recommendErr   error
	relevantByTurn func(call int) bool
}

func (f *fakeLLM) GenerateWithTokens(_ context.Context, prompt, _ string, _ map[string]interface{}) (string, int64, int64, error) {
	switch {
	case strings.Contains(prompt, "Propose exactly"):
		quoted := make([]string, len(f.queries))
		for i, q := range f.queries {
			quoted[i] = fmt.Sprintf("%q", q)
		}
		return fmt.Sprintf(`{"queries": [%s]}`, strings.Join(quoted, ",")), 10, 10, nil
	case strings.Contains(prompt, "Is this page relevant"):
		f.classifyCalls++
		relevant := true
		if f.relevantByTurn != nil {
			relevant = f.relevantByTurn(f.classifyCalls)
		}
		return fmt.Sprintf(`{"relevant": %v}`, relevant), 5, 5, nil
	case strings.Contains(prompt, "most useful insight"):
		f.extractCalls++
		return fmt.Sprintf(`{"insight": "insight %d", "followUpQuestions": ["follow-up %d-a", "follow-up %d-b"], "confidence": %v}`,
			f.extractCalls, f.extractCalls, f.extractCalls, f.confidence), 5, 5, nil
	case strings.Contains(prompt, "actionable recommendations"):
		if f.recommendErr != nil {
			return "", 0, 0, f.recommendErr
		}
		return `{"recommendations": ["buy term insurance", "compare riders", "review annually"]}`, 5, 5, nil
	case strings.Contains(prompt, "pick the best report format"):
		return `{"format": "ranked_list"}`, 5, 5, nil
	case strings.Contains(prompt, "final research report"):
		return "# Findings\n1. Term insurance wins.", 5, 5, nil
	}
	return "", 0, 0, fmt.Errorf("unexpected prompt: %s", prompt)
}

func testOrchestrator(t *testing.T, fs *fakeSearcher, fl *fakeLLM) (*Orchestrator, *MemoryRepository) {
	t.Helper()
	repo := NewMemoryRepository(IdleTTL, CompletedTTL)
	logger := log.New(os.Stderr, "[RESEARCH] ", 0)
	o := NewOrchestrator(repo, fs, fl, nil, config.ResearchConfig{
		DefaultBreadth:   2,
		ReconResults:     2,
		Level1Results:    3,
		Level2Results:    2,
		InsightThreshold: 0.7,
	}, logger)
	return o, repo
}

func results(urls ...string) []search.Result {
	out := make([]search.Result, 0, len(urls))
	for _, u := range urls {
		out = append(out, search.Result{Title: "page " + u, URL: u, Snippet: "about " + u})
	}
	return out
}

func TestFullResearchPipeline(t *testing.T) {
	fs := &fakeSearcher{results: map[string][]search.Result{
		"best term insurance": results("https://a.example", "https://b.example"),
		"q1":                  results("https://a.example", "https://c.example"), // a.example repeats from recon
		"q2":                  results("https://d.example"),
		"follow-up 1-a":       results("https://e.example"),
		"follow-up 1-b":       results("https://c.example"), // repeats from level 1
	}}
	fl := &fakeLLM{queries: []string{"q1", "q2"}, confidence: 0.9}
	o, _ := testOrchestrator(t, fs, fl)

	s, reconCtx, err := o.Init(context.Background(), "best term insurance", 0)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if s.Phase != PhaseLevel1 {
		t.Fatalf("expected phase level1 after init, got %s", s.Phase)
	}
	if len(s.Level1Queries) != 2 {
		t.Fatalf("expected 2 level-1 queries, got %v", s.Level1Queries)
	}
	if !strings.Contains(reconCtx, "page https://a.example") {
		t.Fatalf("recon context missing results: %q", reconCtx)
	}

	s, err = o.Level1(context.Background(), s.ID)
	if err != nil {
		t.Fatalf("Level1: %v", err)
	}
	if s.Phase != PhaseLevel2 {
		t.Fatalf("expected phase level2, got %s", s.Phase)
	}
	// recon marked a+b visited, so level 1 evaluates only c and d
	if fl.classifyCalls != 2 {
		t.Fatalf("expected 2 relevance evaluations at level 1, got %d", fl.classifyCalls)
	}
	if len(s.Level2Queries) != 2 {
		t.Fatalf("expected level-2 queries truncated to breadth 2, got %v", s.Level2Queries)
	}
	if len(s.KeyInsights) != 2 {
		t.Fatalf("expected 2 promoted insights, got %d", len(s.KeyInsights))
	}

	s, err = o.Level2(context.Background(), s.ID)
	if err != nil {
		t.Fatalf("Level2: %v", err)
	}
	if s.Phase != PhaseSynthesis {
		t.Fatalf("expected phase synthesis, got %s", s.Phase)
	}
	// level 2: e.example is new, c.example was already evaluated
	if fl.classifyCalls != 3 {
		t.Fatalf("URL evaluated twice: %d total evaluations", fl.classifyCalls)
	}

	rep, err := o.Synthesize(context.Background(), s.ID)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if rep.Report == "" || len(rep.Recommendations) != 3 {
		t.Fatalf("incomplete report: %+v", rep)
	}
	if rep.TotalSearches != 5 {
		t.Fatalf("expected 5 searches, got %d", rep.TotalSearches)
	}
	if len(rep.Sources) == 0 || len(rep.Sources) > 10 {
		t.Fatalf("unexpected source count: %d", len(rep.Sources))
	}
	if len(rep.ResearchPath) != 5 { // original + 2 level-1 nodes + 2 level-2 nodes
		t.Fatalf("unexpected research path: %+v", rep.ResearchPath)
	}

	final, err := o.repo.Get(context.Background(), s.ID)
	if err != nil {
		t.Fatalf("get after synthesis: %v", err)
	}
	if final.Phase != PhaseCompleted {
		t.Fatalf("expected completed, got %s", final.Phase)
	}
}

func TestPhaseOrderEnforced(t *testing.T) {
	fs := &fakeSearcher{results: map[string][]search.Result{"q": results("https://a.example")}}
	fl := &fakeLLM{queries: []string{"x", "y"}, confidence: 0.9}
	o, repo := testOrchestrator(t, fs, fl)

	s := &Session{ID: "sess-1", Phase: PhaseLevel1, OriginalQuery: "q", Breadth: 2, LastUpdated: time.Now()}
	if err := repo.Put(context.Background(), s); err != nil {
		t.Fatalf("put: %v", err)
	}

	_, err := o.Level2(context.Background(), "sess-1")
	var poe *PhaseOrderError
	if !errors.As(err, &poe) {
		t.Fatalf("expected PhaseOrderError, got %v", err)
	}
	if poe.Expected != PhaseLevel2 || poe.Actual != PhaseLevel1 {
		t.Fatalf("unexpected phases in error: %+v", poe)
	}

	if _, err := o.Synthesize(context.Background(), "sess-1"); !errors.As(err, &poe) {
		t.Fatalf("expected PhaseOrderError from synthesize, got %v", err)
	}
}

func TestUnknownSession(t *testing.T) {
	o, _ := testOrchestrator(t, &fakeSearcher{}, &fakeLLM{})
	if _, err := o.Level1(context.Background(), "nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestLowConfidenceInsightsNotPromoted(t *testing.T) {
	fs := &fakeSearcher{results: map[string][]search.Result{
		"seed": results("https://a.example"),
		"q1":   results("https://b.example"),
		"q2":   results("https://c.example"),
	}}
	fl := &fakeLLM{queries: []string{"q1", "q2"}, confidence: 0.5}
	o, _ := testOrchestrator(t, fs, fl)

	s, _, err := o.Init(context.Background(), "seed", 2)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	s, err = o.Level1(context.Background(), s.ID)
	if err != nil {
		t.Fatalf("Level1: %v", err)
	}
	if len(s.KeyInsights) != 0 {
		t.Fatalf("confidence 0.5 insights must not be promoted, got %d", len(s.KeyInsights))
	}
	// the learnings themselves are still kept on the nodes
	total := 0
	for _, n := range s.Nodes {
		total += len(n.Learnings)
	}
	if total != 2 {
		t.Fatalf("expected 2 node learnings, got %d", total)
	}
}

func TestLevelFailurePreservesPartialState(t *testing.T) {
	fs := &fakeSearcher{results: map[string][]search.Result{
		"seed": results("https://a.example"),
		"q1":   results("https://b.example"),
	}}
	fl := &fakeLLM{queries: []string{"q1", "q2"}, confidence: 0.9}
	o, repo := testOrchestrator(t, fs, fl)

	s, _, err := o.Init(context.Background(), "seed", 2)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	fs.err = errors.New("search provider down")
	if _, err := o.Level1(context.Background(), s.ID); err == nil {
		t.Fatal("expected search failure")
	}

	kept, err := repo.Get(context.Background(), s.ID)
	if err != nil {
		t.Fatalf("session discarded on failure: %v", err)
	}
	if kept.Phase != PhaseLevel1 {
		t.Fatalf("failed level must not advance phase, got %s", kept.Phase)
	}
	if kept.SearchCount != 1 {
		t.Fatalf("partial progress lost: searchCount=%d", kept.SearchCount)
	}
}

func TestSynthesisFailureReturnsPartialFindings(t *testing.T) {
	fs := &fakeSearcher{}
	fl := &fakeLLM{recommendErr: errors.New("model overloaded")}
	o, repo := testOrchestrator(t, fs, fl)

	s := &Session{
		ID:            "sess-2",
		Phase:         PhaseSynthesis,
		OriginalQuery: "q",
		Breadth:       2,
		KeyInsights:   []Insight{{Text: "found earlier", SourceURL: "https://a.example", Confidence: 0.9}},
		SearchCount:   4,
		StartedAt:     time.Now().Add(-time.Minute),
		LastUpdated:   time.Now(),
	}
	if err := repo.Put(context.Background(), s); err != nil {
		t.Fatalf("put: %v", err)
	}

	rep, err := o.Synthesize(context.Background(), "sess-2")
	if err == nil {
		t.Fatal("expected synthesis failure")
	}
	if rep == nil {
		t.Fatal("partial report discarded on failure")
	}
	if len(rep.KeyInsights) != 1 || rep.TotalSearches != 4 {
		t.Fatalf("partial findings missing: %+v", rep)
	}
	if rep.Error == "" {
		t.Fatal("partial report must carry the error text")
	}
}

func TestInitRejectsBadBreadth(t *testing.T) {
	o, _ := testOrchestrator(t, &fakeSearcher{}, &fakeLLM{})
	if _, _, err := o.Init(context.Background(), "q", 7); err == nil {
		t.Fatal("expected breadth validation error")
	}
	if _, _, err := o.Init(context.Background(), "   ", 2); err == nil {
		t.Fatal("expected empty query error")
	}
}
