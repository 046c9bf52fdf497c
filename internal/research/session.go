package research

import (
	"time"

	"github.com/covera-ai/covera/internal/search"
)

// Phase is the research session state. Transitions are strictly forward.
type Phase string

const (
	PhaseReconnaissance Phase = "reconnaissance"
	PhaseLevel1         Phase = "level1"
	PhaseLevel2         Phase = "level2"
	PhaseSynthesis      Phase = "synthesis"
	PhaseCompleted      Phase = "completed"
)

// NodeStatus tracks a research node through its pipeline.
type NodeStatus string

const (
	NodePending   NodeStatus = "pending"
	NodeSearching NodeStatus = "searching"
	NodeAnalyzing NodeStatus = "analyzing"
	NodeCompleted NodeStatus = "completed"
)

// Insight is one finding extracted from a relevant source.
type Insight struct {
	Text       string  `json:"text"`
	SourceURL  string  `json:"sourceUrl"`
	Confidence float64 `json:"confidence"`
}

// Node is the accumulator for one query at one level.
type Node struct {
	Query     string          `json:"query"`
	Level     int             `json:"level"` // 1 or 2
	Status    NodeStatus      `json:"status"`
	Results   []search.Result `json:"results"`
	Learnings []Insight       `json:"learnings"`
	FollowUps []string        `json:"followUps"`
}

// Source is a ranked reference emitted by synthesis.
type Source struct {
	Title string  `json:"title"`
	URL   string  `json:"url"`
	Score float64 `json:"score"`
}

// Session accumulates the whole research run. It is serialized as JSON when
// stored externally, so every field the pipeline needs must be tagged.
type Session struct {
	ID              string          `json:"id"`
	Phase           Phase           `json:"phase"`
	OriginalQuery   string          `json:"originalQuery"`
	Breadth         int             `json:"breadth"`
	ReconResults    []search.Result `json:"reconResults"`
	Level1Queries   []string        `json:"level1Queries"`
	Level2Queries   []string        `json:"level2Queries"`
	Nodes           []Node          `json:"nodes"`
	Visited         map[string]bool `json:"visited"`
	KeyInsights     []Insight       `json:"keyInsights"`
	Recommendations []string        `json:"recommendations"`
	SearchCount     int             `json:"searchCount"`
	StartedAt       time.Time       `json:"startedAt"`
	LastUpdated     time.Time       `json:"lastUpdated"`
}

// MarkVisited records a URL as evaluated and reports whether it was new.
// A URL is evaluated at most once per session regardless of which phase
// surfaced it.
func (s *Session) MarkVisited(url string) bool {
	if s.Visited == nil {
		s.Visited = make(map[string]bool)
	}
	if s.Visited[url] {
		return false
	}
	s.Visited[url] = true
	return true
}

// Progress summarizes where the session is for the orchestrating model.
type Progress struct {
	Phase        Phase `json:"phase"`
	SearchCount  int   `json:"searchCount"`
	VisitedURLs  int   `json:"visitedUrls"`
	InsightCount int   `json:"insightCount"`
	PendingNodes int   `json:"pendingNodes"`
}

func (s *Session) Progress() Progress {
	pending := 0
	for _, n := range s.Nodes {
		if n.Status != NodeCompleted {
			pending++
		}
	}
	return Progress{
		Phase:        s.Phase,
		SearchCount:  s.SearchCount,
		VisitedURLs:  len(s.Visited),
		InsightCount: len(s.KeyInsights),
		PendingNodes: pending,
	}
}
