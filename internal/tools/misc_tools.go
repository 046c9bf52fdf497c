package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/covera-ai/covera/internal/search"
)

// MiscTools hosts the supporting tools: web search, calculator, and the
// deterministic quote generator.
type MiscTools struct {
	Searcher   search.Searcher
	Profiles   ProfileReader
	MaxResults int
	Now        func() time.Time
}

func RegisterMiscTools(r *Registry, mt *MiscTools) {
	if mt.MaxResults <= 0 {
		mt.MaxResults = 10
	}
	if mt.Now == nil {
		mt.Now = time.Now
	}
	r.Register(Tool{
		Name:        "webSearch",
		Description: "Run a single web search and return titles, URLs, and snippets. For multi-step investigation use the deepResearch tools instead.",
		Parameters: json.RawMessage(`{"type":"object","properties":{
			"query":{"type":"string"},
			"numResults":{"type":"integer","minimum":1,"maximum":10}
		},"required":["query"],"additionalProperties":false}`),
		Handler: mt.webSearch,
	})
	r.Register(Tool{
		Name:        "calculator",
		Description: "Evaluate an arithmetic expression with + - * / % ^ and parentheses.",
		Parameters: json.RawMessage(`{"type":"object","properties":{
			"expression":{"type":"string"}
		},"required":["expression"],"additionalProperties":false}`),
		Handler: mt.calculate,
	})
	r.Register(Tool{
		Name:        "generateQuote",
		Description: "Generate an indicative annual term-life premium from the stored profile. Requires dob and coverageAmount on the profile; policyTerm defaults to 20 years.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{},"additionalProperties":false}`),
		Handler:     mt.generateQuote,
	})
}

func (mt *MiscTools) webSearch(ctx context.Context, call Call) (any, error) {
	var args struct {
		Query      string `json:"query"`
		NumResults int    `json:"numResults"`
	}
	if err := json.Unmarshal(call.Args, &args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if args.Query == "" {
		return nil, fmt.Errorf("query is required")
	}
	k := args.NumResults
	if k <= 0 || k > mt.MaxResults {
		k = mt.MaxResults
	}
	results, err := mt.Searcher.Search(ctx, args.Query, k)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	return map[string]any{"success": true, "results": results}, nil
}

func (mt *MiscTools) calculate(_ context.Context, call Call) (any, error) {
	var args struct {
		Expression string `json:"expression"`
	}
	if err := json.Unmarshal(call.Args, &args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	val, err := Evaluate(args.Expression)
	if err != nil {
		return nil, fmt.Errorf("cannot evaluate %q: %w", args.Expression, err)
	}
	return map[string]any{"success": true, "expression": args.Expression, "result": val}, nil
}

// generateQuote prices a term-life policy with a fixed actuarial-style
// formula: a per-mille base rate that doubles every decade of age, a smoker
// multiplier, a health-issue load, and a small term load.
func (mt *MiscTools) generateQuote(ctx context.Context, call Call) (any, error) {
	p, err := mt.Profiles.GetProfile(ctx, call.UserID)
	if err != nil {
		return nil, err
	}
	age, ok := p.Age(mt.Now())
	if !ok {
		return nil, fmt.Errorf("date of birth is required for a quote; ask the user for it first")
	}
	if p.CoverageAmount == nil || *p.CoverageAmount <= 0 {
		return nil, fmt.Errorf("coverage amount is required for a quote; ask the user how much cover they want")
	}
	term := 20
	if p.PolicyTerm != nil {
		term = *p.PolicyTerm
	}

	premium := Premium(age, *p.CoverageAmount, term, boolOr(p.SmokingStatus), p.HasIssues)
	return map[string]any{
		"success":        true,
		"annualPremium":  premium,
		"monthlyPremium": math.Round(premium/12*100) / 100,
		"coverageAmount": *p.CoverageAmount,
		"policyTerm":     term,
		"assumptions": map[string]any{
			"age":       age,
			"smoker":    boolOr(p.SmokingStatus),
			"hasIssues": p.HasIssues,
		},
	}, nil
}

// Premium is the indicative annual premium in base currency units.
func Premium(age int, coverage float64, termYears int, smoker, hasIssues bool) float64 {
	// 0.5 per mille at age 25, doubling every 10 years
	base := 0.0005 * math.Pow(2, float64(age-25)/10)
	rate := base
	if smoker {
		rate *= 1.5
	}
	if hasIssues {
		rate *= 1.25
	}
	rate *= 1 + 0.005*float64(termYears-10)
	return math.Round(coverage*rate*100) / 100
}

func boolOr(b *bool) bool { return b != nil && *b }
