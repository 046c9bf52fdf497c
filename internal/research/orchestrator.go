package research

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/blevesearch/bleve"
	"github.com/google/uuid"

	"github.com/covera-ai/covera/config"
	"github.com/covera-ai/covera/internal/llm"
	"github.com/covera-ai/covera/internal/search"
)

// PhaseOrderError reports a phase operation invoked out of sequence. It is
// fatal for the session; the caller must start a new one.
type PhaseOrderError struct {
	SessionID string
	Expected  Phase
	Actual    Phase
}

func (e *PhaseOrderError) Error() string {
	return fmt.Sprintf("session %s: expected phase %s, got %s", e.SessionID, e.Expected, e.Actual)
}

// LLM is the slice of the model provider the orchestrator needs.
type LLM interface {
	GenerateWithTokens(ctx context.Context, prompt string, model string, options map[string]interface{}) (string, int64, int64, error)
}

// Previewer fetches readable page content for the relevance classifier.
type Previewer interface {
	Preview(ctx context.Context, url, fallback string) string
}

// Orchestrator drives a session through reconnaissance, two research levels,
// and synthesis. All work within one session is sequential: later queries
// depend on earlier results and the visited-URL set must be consulted in
// order.
type Orchestrator struct {
	repo      Repository
	searcher  search.Searcher
	llmp      LLM
	previewer Previewer
	cfg       config.ResearchConfig
	logger    *log.Logger

	// model names for the two call classes
	AnalysisModel  string
	SynthesisModel string

	now   func() time.Time
	newID func() string
}

func NewOrchestrator(repo Repository, searcher search.Searcher, llmp LLM, previewer Previewer, cfg config.ResearchConfig, logger *log.Logger) *Orchestrator {
	if cfg.ReconResults <= 0 {
		cfg.ReconResults = 5
	}
	if cfg.Level1Results <= 0 {
		cfg.Level1Results = 8
	}
	if cfg.Level2Results <= 0 {
		cfg.Level2Results = 4
	}
	if cfg.InsightThreshold <= 0 {
		cfg.InsightThreshold = 0.7
	}
	if cfg.DefaultBreadth < 2 || cfg.DefaultBreadth > 4 {
		cfg.DefaultBreadth = 3
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[RESEARCH] ", log.LstdFlags)
	}
	return &Orchestrator{
		repo:      repo,
		searcher:  searcher,
		llmp:      llmp,
		previewer: previewer,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// Init creates a session, runs the reconnaissance search, derives the
// level-1 queries, and leaves the session ready for Level1. Returns the
// session and a short context string summarizing what reconnaissance found.
func (o *Orchestrator) Init(ctx context.Context, query string, breadth int) (*Session, string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, "", fmt.Errorf("research query is required")
	}
	if breadth == 0 {
		breadth = o.cfg.DefaultBreadth
	}
	if breadth < 2 || breadth > 4 {
		return nil, "", fmt.Errorf("breadth must be between 2 and 4, got %d", breadth)
	}

	s := &Session{
		ID:            o.newID(),
		Phase:         PhaseReconnaissance,
		OriginalQuery: query,
		Breadth:       breadth,
		Visited:       make(map[string]bool),
		StartedAt:     o.now(),
		LastUpdated:   o.now(),
	}

	o.logger.Printf("session %s: reconnaissance for %q (breadth=%d)", s.ID, query, breadth)
	results, err := o.searcher.Search(ctx, query, o.cfg.ReconResults)
	if err != nil {
		return nil, "", fmt.Errorf("reconnaissance search: %w", err)
	}
	s.SearchCount++
	s.ReconResults = results
	for _, r := range results {
		s.MarkVisited(r.URL)
	}

	queries, err := o.deriveQueries(ctx, query, results, breadth)
	if err != nil {
		return nil, "", fmt.Errorf("derive level-1 queries: %w", err)
	}
	s.Level1Queries = queries
	s.Phase = PhaseLevel1
	s.LastUpdated = o.now()

	if err := o.repo.Put(ctx, s); err != nil {
		return nil, "", err
	}
	return s, reconContext(results), nil
}

// Level1 runs the first research level over the queries derived at init and
// prepares the level-2 queries from accumulated follow-up questions.
func (o *Orchestrator) Level1(ctx context.Context, sessionID string) (*Session, error) {
	s, err := o.loadForPhase(ctx, sessionID, PhaseLevel1)
	if err != nil {
		return s, err
	}

	followUps, err := o.runLevel(ctx, s, s.Level1Queries, 1, o.cfg.Level1Results)
	if err != nil {
		// partial progress is kept so a failure report can include it
		s.LastUpdated = o.now()
		_ = o.repo.Put(ctx, s)
		return s, err
	}

	s.Level2Queries = truncate(dedupeFold(followUps), s.Breadth)
	s.Phase = PhaseLevel2
	s.LastUpdated = o.now()
	if err := o.repo.Put(ctx, s); err != nil {
		return s, err
	}
	return s, nil
}

// Level2 runs the second research level with a smaller per-query result
// count and advances the session to synthesis.
func (o *Orchestrator) Level2(ctx context.Context, sessionID string) (*Session, error) {
	s, err := o.loadForPhase(ctx, sessionID, PhaseLevel2)
	if err != nil {
		return s, err
	}

	if _, err := o.runLevel(ctx, s, s.Level2Queries, 2, o.cfg.Level2Results); err != nil {
		s.LastUpdated = o.now()
		_ = o.repo.Put(ctx, s)
		return s, err
	}

	s.Phase = PhaseSynthesis
	s.LastUpdated = o.now()
	if err := o.repo.Put(ctx, s); err != nil {
		return s, err
	}
	return s, nil
}

// PathStep is one hop of the research trail included in the final report.
type PathStep struct {
	Level int    `json:"level"`
	Query string `json:"query"`
}

// Report is the synthesis output. On synthesis failure the partial findings
// gathered so far are still populated and Error carries the failure text.
type Report struct {
	SessionID       string     `json:"sessionId"`
	Query           string     `json:"query"`
	TotalSearches   int        `json:"totalSearches"`
	Duration        string     `json:"duration"`
	KeyInsights     []Insight  `json:"keyInsights"`
	Recommendations []string   `json:"recommendations"`
	Sources         []Source   `json:"sources"`
	Report          string     `json:"report"`
	ResearchPath    []PathStep `json:"researchPath"`
	Error           string     `json:"error,omitempty"`
}

// Synthesize produces recommendations, picks a report format from the
// original query's phrasing, generates the final report, and ranks the
// top-10 sources. The session is marked completed and becomes eligible for
// eviction shortly after.
func (o *Orchestrator) Synthesize(ctx context.Context, sessionID string) (*Report, error) {
	s, err := o.loadForPhase(ctx, sessionID, PhaseSynthesis)
	if err != nil {
		return nil, err
	}

	rep := &Report{
		SessionID:       s.ID,
		Query:           s.OriginalQuery,
		TotalSearches:   s.SearchCount,
		Duration:        o.now().Sub(s.StartedAt).Round(time.Second).String(),
		KeyInsights:     s.KeyInsights,
		Recommendations: s.Recommendations,
		Sources:         o.rankSources(s),
		ResearchPath:    researchPath(s),
	}

	fail := func(stage string, err error) (*Report, error) {
		rep.Error = fmt.Sprintf("%s failed: %v (returning partial findings from %d searches)", stage, err, s.SearchCount)
		s.LastUpdated = o.now()
		_ = o.repo.Put(ctx, s)
		return rep, fmt.Errorf("%s: %w", stage, err)
	}

	recs, err := o.recommend(ctx, s)
	if err != nil {
		return fail("recommendations", err)
	}
	s.Recommendations = recs
	rep.Recommendations = recs

	format, err := o.chooseFormat(ctx, s.OriginalQuery)
	if err != nil {
		format = "prose"
	}
	text, err := o.writeReport(ctx, s, format)
	if err != nil {
		return fail("report generation", err)
	}
	rep.Report = text

	s.Phase = PhaseCompleted
	s.LastUpdated = o.now()
	if err := o.repo.Put(ctx, s); err != nil {
		return rep, err
	}
	o.logger.Printf("session %s: completed after %d searches in %s", s.ID, s.SearchCount, rep.Duration)
	return rep, nil
}

func (o *Orchestrator) loadForPhase(ctx context.Context, sessionID string, expected Phase) (*Session, error) {
	s, err := o.repo.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.Phase != expected {
		return s, &PhaseOrderError{SessionID: sessionID, Expected: expected, Actual: s.Phase}
	}
	return s, nil
}

// runLevel processes queries sequentially: search, then per-result relevance
// classification and insight extraction. Every evaluated URL is recorded in
// the visited set, relevant or not, so no URL is evaluated twice in one
// session. Returns the follow-up questions accumulated across all nodes.
func (o *Orchestrator) runLevel(ctx context.Context, s *Session, queries []string, level, perQuery int) ([]string, error) {
	var followUps []string
	for _, q := range queries {
		node := Node{Query: q, Level: level, Status: NodeSearching}
		o.logger.Printf("session %s: level %d search %q", s.ID, level, q)

		results, err := o.searcher.Search(ctx, q, perQuery)
		if err != nil {
			node.Status = NodePending
			s.Nodes = append(s.Nodes, node)
			return followUps, fmt.Errorf("level %d search %q: %w", level, q, err)
		}
		s.SearchCount++
		node.Results = results
		node.Status = NodeAnalyzing

		for _, r := range results {
			if !s.MarkVisited(r.URL) {
				continue
			}
			preview := r.Snippet
			if o.previewer != nil {
				preview = o.previewer.Preview(ctx, r.URL, r.Snippet)
			}
			relevant, err := o.classify(ctx, q, r.Title, preview)
			if err != nil {
				s.Nodes = append(s.Nodes, node)
				return followUps, fmt.Errorf("relevance check for %s: %w", r.URL, err)
			}
			if !relevant {
				continue
			}
			ins, qs, err := o.extract(ctx, q, r, preview)
			if err != nil {
				s.Nodes = append(s.Nodes, node)
				return followUps, fmt.Errorf("insight extraction for %s: %w", r.URL, err)
			}
			node.Learnings = append(node.Learnings, ins)
			node.FollowUps = append(node.FollowUps, qs...)
			followUps = append(followUps, qs...)
			if ins.Confidence > o.cfg.InsightThreshold {
				s.KeyInsights = append(s.KeyInsights, ins)
			}
		}

		node.Status = NodeCompleted
		s.Nodes = append(s.Nodes, node)
		s.LastUpdated = o.now()
	}
	return followUps, nil
}

// deriveQueries asks the model for breadth follow-up search queries based on
// the reconnaissance snippets.
func (o *Orchestrator) deriveQueries(ctx context.Context, query string, results []search.Result, breadth int) ([]string, error) {
	var b strings.Builder
	for _, r := range results {
		fmt.Fprintf(&b, "- %s: %s\n", r.Title, r.Snippet)
	}
	prompt := fmt.Sprintf(`You are planning research on: %q

Initial findings:
%s
Propose exactly %d focused web search queries that would deepen this research, as JSON:
{"queries": ["...", "..."]}`, query, b.String(), breadth)

	raw, _, _, err := o.llmp.GenerateWithTokens(ctx, prompt, o.AnalysisModel, map[string]interface{}{"temperature": 0.3})
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Queries []string `json:"queries"`
	}
	if err := json.Unmarshal([]byte(llm.ExtractFirstJSON(raw)), &parsed); err != nil {
		return nil, fmt.Errorf("parse queries: %w", err)
	}
	queries := truncate(dedupeFold(parsed.Queries), breadth)
	if len(queries) == 0 {
		return nil, fmt.Errorf("model returned no queries")
	}
	return queries, nil
}

// classify asks the model whether content is relevant to the query.
func (o *Orchestrator) classify(ctx context.Context, query, title, preview string) (bool, error) {
	prompt := fmt.Sprintf(`Research query: %q
Page title: %q
Page content preview:
%s

Is this page relevant to the research query? Answer as JSON: {"relevant": true|false}`, query, title, clamp(preview, 1500))

	raw, _, _, err := o.llmp.GenerateWithTokens(ctx, prompt, o.AnalysisModel, map[string]interface{}{"temperature": 0.0})
	if err != nil {
		return false, err
	}
	var parsed struct {
		Relevant bool `json:"relevant"`
	}
	if err := json.Unmarshal([]byte(llm.ExtractFirstJSON(raw)), &parsed); err != nil {
		return false, fmt.Errorf("parse relevance: %w", err)
	}
	return parsed.Relevant, nil
}

// extract pulls one insight, follow-up questions, and a confidence score
// from a relevant result.
func (o *Orchestrator) extract(ctx context.Context, query string, r search.Result, preview string) (Insight, []string, error) {
	prompt := fmt.Sprintf(`Research query: %q
Source: %s (%s)
Content:
%s

Extract the single most useful insight for the research query, 2-3 follow-up questions it raises, and your confidence (0.0-1.0) that the insight is accurate and on-topic. Answer as JSON:
{"insight": "...", "followUpQuestions": ["...", "..."], "confidence": 0.0}`, query, r.Title, r.URL, clamp(preview, 2500))

	raw, _, _, err := o.llmp.GenerateWithTokens(ctx, prompt, o.AnalysisModel, map[string]interface{}{"temperature": 0.2})
	if err != nil {
		return Insight{}, nil, err
	}
	var parsed struct {
		Insight           string   `json:"insight"`
		FollowUpQuestions []string `json:"followUpQuestions"`
		Confidence        float64  `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(llm.ExtractFirstJSON(raw)), &parsed); err != nil {
		return Insight{}, nil, fmt.Errorf("parse extraction: %w", err)
	}
	ins := Insight{Text: parsed.Insight, SourceURL: r.URL, Confidence: parsed.Confidence}
	return ins, parsed.FollowUpQuestions, nil
}

// recommend generates 3-5 recommendations over the accumulated key insights.
func (o *Orchestrator) recommend(ctx context.Context, s *Session) ([]string, error) {
	var b strings.Builder
	for _, ins := range s.KeyInsights {
		fmt.Fprintf(&b, "- %s (source: %s)\n", ins.Text, ins.SourceURL)
	}
	prompt := fmt.Sprintf(`Research query: %q

Key insights:
%s
Produce 3-5 actionable recommendations grounded in these insights, as JSON:
{"recommendations": ["...", "..."]}`, s.OriginalQuery, b.String())

	raw, _, _, err := o.llmp.GenerateWithTokens(ctx, prompt, o.SynthesisModel, map[string]interface{}{"temperature": 0.4})
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Recommendations []string `json:"recommendations"`
	}
	if err := json.Unmarshal([]byte(llm.ExtractFirstJSON(raw)), &parsed); err != nil {
		return nil, fmt.Errorf("parse recommendations: %w", err)
	}
	return parsed.Recommendations, nil
}

// chooseFormat lets the model pick a report layout from the phrasing of the
// original query.
func (o *Orchestrator) chooseFormat(ctx context.Context, query string) (string, error) {
	prompt := fmt.Sprintf(`Given the research question %q, pick the best report format: "comparison_table" for X-vs-Y questions, "ranked_list" for best-of questions, "step_by_step" for how-to questions, "prose" otherwise. Answer as JSON: {"format": "..."}`, query)

	raw, _, _, err := o.llmp.GenerateWithTokens(ctx, prompt, o.AnalysisModel, map[string]interface{}{"temperature": 0.0})
	if err != nil {
		return "", err
	}
	var parsed struct {
		Format string `json:"format"`
	}
	if err := json.Unmarshal([]byte(llm.ExtractFirstJSON(raw)), &parsed); err != nil {
		return "", err
	}
	switch parsed.Format {
	case "comparison_table", "ranked_list", "step_by_step", "prose":
		return parsed.Format, nil
	}
	return "prose", nil
}

func (o *Orchestrator) writeReport(ctx context.Context, s *Session, format string) (string, error) {
	var b strings.Builder
	for _, ins := range s.KeyInsights {
		fmt.Fprintf(&b, "- %s (source: %s)\n", ins.Text, ins.SourceURL)
	}
	var r strings.Builder
	for _, rec := range s.Recommendations {
		fmt.Fprintf(&r, "- %s\n", rec)
	}
	prompt := fmt.Sprintf(`Write the final research report for the question %q in %s format, using markdown.

Key insights:
%s
Recommendations:
%s`, s.OriginalQuery, format, b.String(), r.String())

	text, _, _, err := o.llmp.GenerateWithTokens(ctx, prompt, o.SynthesisModel, map[string]interface{}{"temperature": 0.5})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// rankSources scores every distinct result against the original query with
// an in-memory full-text index and returns the top 10. The index is rebuilt
// from the session on each call, so it works regardless of which repository
// the session came from.
func (o *Orchestrator) rankSources(s *Session) []Source {
	type doc struct {
		Title   string `json:"title"`
		Snippet string `json:"snippet"`
	}
	byURL := make(map[string]search.Result)
	for _, r := range s.ReconResults {
		byURL[r.URL] = r
	}
	for _, n := range s.Nodes {
		for _, r := range n.Results {
			byURL[r.URL] = r
		}
	}

	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return fallbackSources(byURL)
	}
	defer idx.Close()
	for url, r := range byURL {
		if err := idx.Index(url, doc{Title: r.Title, Snippet: r.Snippet}); err != nil {
			return fallbackSources(byURL)
		}
	}

	req := bleve.NewSearchRequestOptions(bleve.NewMatchQuery(s.OriginalQuery), 10, 0, false)
	res, err := idx.Search(req)
	if err != nil || len(res.Hits) == 0 {
		return fallbackSources(byURL)
	}
	out := make([]Source, 0, len(res.Hits))
	for _, hit := range res.Hits {
		r := byURL[hit.ID]
		out = append(out, Source{Title: r.Title, URL: hit.ID, Score: hit.Score})
	}
	return out
}

func fallbackSources(byURL map[string]search.Result) []Source {
	out := make([]Source, 0, 10)
	for url, r := range byURL {
		if len(out) >= 10 {
			break
		}
		out = append(out, Source{Title: r.Title, URL: url})
	}
	return out
}

func researchPath(s *Session) []PathStep {
	out := make([]PathStep, 0, len(s.Nodes)+1)
	out = append(out, PathStep{Level: 0, Query: s.OriginalQuery})
	for _, n := range s.Nodes {
		out = append(out, PathStep{Level: n.Level, Query: n.Query})
	}
	return out
}

func reconContext(results []search.Result) string {
	var b strings.Builder
	for _, r := range results {
		fmt.Fprintf(&b, "- %s: %s\n", r.Title, r.Snippet)
	}
	return b.String()
}

func dedupeFold(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		key := strings.ToLower(s)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return out
}

func truncate(in []string, n int) []string {
	if len(in) <= n {
		return in
	}
	return in[:n]
}

func clamp(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
