package tools

import (
	"context"
	"strings"
	"testing"

	"github.com/covera-ai/covera/internal/research"
)

type fakeResearcher struct {
	session *research.Session
	report  *research.Report
	err     error
}

func (f *fakeResearcher) Init(context.Context, string, int) (*research.Session, string, error) {
	return f.session, "recon context", f.err
}
func (f *fakeResearcher) Level1(context.Context, string) (*research.Session, error) {
	return f.session, f.err
}
func (f *fakeResearcher) Level2(context.Context, string) (*research.Session, error) {
	return f.session, f.err
}
func (f *fakeResearcher) Synthesize(context.Context, string) (*research.Report, error) {
	return f.report, f.err
}

func newResearchRegistry(fr *fakeResearcher) *Registry {
	r := NewRegistry(nil, nil)
	RegisterResearchTools(r, &ResearchTools{Orchestrator: fr})
	return r
}

func TestDeepResearchInitPayload(t *testing.T) {
	fr := &fakeResearcher{session: &research.Session{
		ID:            "sess-1",
		Phase:         research.PhaseLevel1,
		Level1Queries: []string{"q1", "q2", "q3"},
	}}
	out := dispatch(t, newResearchRegistry(fr), "deepResearchInit", `{"query":"best term plan","breadth":3}`)

	if out["success"] != true || out["sessionId"] != "sess-1" {
		t.Fatalf("unexpected payload: %v", out)
	}
	if out["reconContext"] != "recon context" {
		t.Fatalf("missing recon context: %v", out)
	}
	progress := out["progress"].(map[string]any)
	if progress["phase"] != "level1" {
		t.Fatalf("unexpected progress: %v", progress)
	}
}

func TestDeepResearchPhaseOrderErrorIsExplained(t *testing.T) {
	fr := &fakeResearcher{err: &research.PhaseOrderError{
		SessionID: "sess-1", Expected: research.PhaseLevel2, Actual: research.PhaseLevel1,
	}}
	out := dispatch(t, newResearchRegistry(fr), "deepResearchLevel2", `{"sessionId":"sess-1"}`)

	if out["success"] != false {
		t.Fatalf("expected failure, got %v", out)
	}
	msg := out["error"].(string)
	if !strings.Contains(msg, "deepResearchInit") {
		t.Fatalf("error should steer to a fresh session: %q", msg)
	}
}

func TestDeepResearchSynthesizePartialOnFailure(t *testing.T) {
	fr := &fakeResearcher{
		report: &research.Report{
			Query:         "q",
			TotalSearches: 5,
			KeyInsights:   []research.Insight{{Text: "partial", Confidence: 0.9}},
			Error:         "report generation failed: model overloaded",
		},
		err: context.DeadlineExceeded,
	}
	out := dispatch(t, newResearchRegistry(fr), "deepResearchSynthesize", `{"sessionId":"sess-1"}`)

	if out["success"] != false {
		t.Fatalf("expected failure payload, got %v", out)
	}
	findings := out["findings"].(map[string]any)
	insights := findings["keyInsights"].([]any)
	if len(insights) != 1 {
		t.Fatalf("partial insights dropped: %v", findings)
	}
	if out["error"] == nil {
		t.Fatalf("missing error text: %v", out)
	}
}

func TestDeepResearchSessionIDRequired(t *testing.T) {
	fr := &fakeResearcher{}
	out := dispatch(t, newResearchRegistry(fr), "deepResearchLevel1", `{}`)
	if out["success"] != false {
		t.Fatalf("expected failure for missing sessionId, got %v", out)
	}
}
