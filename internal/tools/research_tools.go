package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/covera-ai/covera/internal/research"
	"github.com/covera-ai/covera/internal/telemetry"
)

// Researcher is the orchestrator surface the research tools call.
type Researcher interface {
	Init(ctx context.Context, query string, breadth int) (*research.Session, string, error)
	Level1(ctx context.Context, sessionID string) (*research.Session, error)
	Level2(ctx context.Context, sessionID string) (*research.Session, error)
	Synthesize(ctx context.Context, sessionID string) (*research.Report, error)
}

// ResearchTools exposes the four-phase deep-research pipeline. The model
// must call the phases in order: init, level1, level2, synthesize.
type ResearchTools struct {
	Orchestrator Researcher
	Telemetry    *telemetry.Telemetry
}

func RegisterResearchTools(r *Registry, rt *ResearchTools) {
	sessionParams := json.RawMessage(`{"type":"object","properties":{
		"sessionId":{"type":"string"}
	},"required":["sessionId"],"additionalProperties":false}`)

	r.Register(Tool{
		Name:        "deepResearchInit",
		Description: "Start a deep-research session: runs a broad reconnaissance search and plans focused follow-up queries. Returns the sessionId needed by the later phases.",
		Parameters: json.RawMessage(`{"type":"object","properties":{
			"query":{"type":"string"},
			"breadth":{"type":"integer","minimum":2,"maximum":4,"description":"queries per level, default 3"}
		},"required":["query"],"additionalProperties":false}`),
		Handler: rt.initSession,
	})
	r.Register(Tool{
		Name:        "deepResearchLevel1",
		Description: "Run the first research level over the planned queries. Call after deepResearchInit.",
		Parameters:  sessionParams,
		Handler:     rt.level1,
	})
	r.Register(Tool{
		Name:        "deepResearchLevel2",
		Description: "Run the second, deeper research level over follow-up questions. Call after deepResearchLevel1.",
		Parameters:  sessionParams,
		Handler:     rt.level2,
	})
	r.Register(Tool{
		Name:        "deepResearchSynthesize",
		Description: "Produce the final research report with insights, recommendations, and sources. Call after deepResearchLevel2.",
		Parameters:  sessionParams,
		Handler:     rt.synthesize,
	})
}

func (rt *ResearchTools) record(phase string, err error) {
	if rt.Telemetry != nil {
		rt.Telemetry.RecordResearchPhase(phase, err == nil)
	}
}

func (rt *ResearchTools) initSession(ctx context.Context, call Call) (any, error) {
	var args struct {
		Query   string `json:"query"`
		Breadth int    `json:"breadth"`
	}
	if err := json.Unmarshal(call.Args, &args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	s, reconCtx, err := rt.Orchestrator.Init(ctx, args.Query, args.Breadth)
	rt.record("reconnaissance", err)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"success":      true,
		"sessionId":    s.ID,
		"progress":     s.Progress(),
		"message":      fmt.Sprintf("Reconnaissance complete; planned %d level-1 queries. Call deepResearchLevel1 next.", len(s.Level1Queries)),
		"reconContext": reconCtx,
	}, nil
}

func (rt *ResearchTools) level1(ctx context.Context, call Call) (any, error) {
	id, err := sessionID(call)
	if err != nil {
		return nil, err
	}
	s, err := rt.Orchestrator.Level1(ctx, id)
	rt.record("level1", err)
	if err != nil {
		return nil, phaseError(err)
	}
	return map[string]any{
		"success":   true,
		"sessionId": s.ID,
		"progress":  s.Progress(),
		"message":   fmt.Sprintf("Level 1 complete; %d key insights so far. Call deepResearchLevel2 next.", len(s.KeyInsights)),
	}, nil
}

func (rt *ResearchTools) level2(ctx context.Context, call Call) (any, error) {
	id, err := sessionID(call)
	if err != nil {
		return nil, err
	}
	s, err := rt.Orchestrator.Level2(ctx, id)
	rt.record("level2", err)
	if err != nil {
		return nil, phaseError(err)
	}
	return map[string]any{
		"success":   true,
		"sessionId": s.ID,
		"progress":  s.Progress(),
		"message":   fmt.Sprintf("Level 2 complete; %d key insights gathered. Call deepResearchSynthesize to finish.", len(s.KeyInsights)),
	}, nil
}

func (rt *ResearchTools) synthesize(ctx context.Context, call Call) (any, error) {
	id, err := sessionID(call)
	if err != nil {
		return nil, err
	}
	rep, err := rt.Orchestrator.Synthesize(ctx, id)
	rt.record("synthesis", err)
	if err != nil {
		if rep == nil {
			return nil, phaseError(err)
		}
		// partial findings survive a synthesis failure
		return map[string]any{
			"success":       false,
			"query":         rep.Query,
			"totalSearches": rep.TotalSearches,
			"duration":      rep.Duration,
			"findings": map[string]any{
				"keyInsights":     rep.KeyInsights,
				"recommendations": rep.Recommendations,
				"sources":         rep.Sources,
			},
			"researchPath": rep.ResearchPath,
			"error":        rep.Error,
		}, nil
	}
	return map[string]any{
		"success":       true,
		"query":         rep.Query,
		"totalSearches": rep.TotalSearches,
		"duration":      rep.Duration,
		"findings": map[string]any{
			"keyInsights":     rep.KeyInsights,
			"recommendations": rep.Recommendations,
			"sources":         rep.Sources,
		},
		"report":       rep.Report,
		"researchPath": rep.ResearchPath,
	}, nil
}

func sessionID(call Call) (string, error) {
	var args struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(call.Args, &args); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	if args.SessionID == "" {
		return "", fmt.Errorf("sessionId is required")
	}
	return args.SessionID, nil
}

func phaseError(err error) error {
	var poe *research.PhaseOrderError
	if errors.As(err, &poe) {
		return fmt.Errorf("research phases must run in order: %s was expected but the session is in %s; start a new session with deepResearchInit", poe.Expected, poe.Actual)
	}
	if errors.Is(err, research.ErrSessionNotFound) {
		return fmt.Errorf("research session not found or expired; start a new one with deepResearchInit")
	}
	return err
}
