package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/covera-ai/covera/internal/profile"
	"github.com/covera-ai/covera/internal/store"
)

// Gate stages or applies a proposed profile update.
type Gate interface {
	ProposeUpdate(ctx context.Context, userID, conversationID string, u profile.Update) (profile.Outcome, error)
}

// Resolver consumes a staged confirmation.
type Resolver interface {
	Resolve(ctx context.Context, userID, conversationID string, confirmed bool) (*profile.Resolution, error)
}

// IssueMutator mutates the health-issue list.
type IssueMutator interface {
	Mutate(ctx context.Context, userID string, op profile.IssueOp, issue string) ([]string, error)
}

// ProfileReader loads profiles and the owning user.
type ProfileReader interface {
	GetProfile(ctx context.Context, userID string) (*profile.Profile, error)
	GetUserByID(ctx context.Context, id string) (*store.User, error)
}

// ProfileTools implements the profile-facing tool contract.
type ProfileTools struct {
	Reader   ProfileReader
	Gate     Gate
	Resolver Resolver
	Issues   IssueMutator
	Now      func() time.Time
}

// RegisterProfileTools wires the four profile tools into the registry.
func RegisterProfileTools(r *Registry, pt *ProfileTools) {
	if pt.Now == nil {
		pt.Now = time.Now
	}
	r.Register(Tool{
		Name:        "getUserProfile",
		Description: "Fetch the user's stored insurance profile: identity, demographics, health issues, and financial details. Call before advising.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{},"additionalProperties":false}`),
		Handler:     pt.getUserProfile,
	})
	r.Register(Tool{
		Name:        "updateUserProfile",
		Description: "Update profile fields the user has stated. For age, ask for date of birth instead and send dob (YYYY-MM-DD). May require confirmation when a field already has a different value.",
		Parameters: json.RawMessage(`{"type":"object","properties":{
			"dob":{"type":"string","description":"date of birth, YYYY-MM-DD, must be in the past"},
			"gender":{"type":"string"},
			"isMarried":{"type":"boolean"},
			"annualIncome":{"type":"number","description":"base currency units, never lakhs or crores"},
			"city":{"type":"string"},
			"occupation":{"type":"string"},
			"smokingStatus":{"type":"boolean"},
			"coverageAmount":{"type":"number"},
			"policyTerm":{"type":"integer","minimum":5,"maximum":40}
		},"additionalProperties":false}`),
		Handler: pt.updateUserProfile,
	})
	r.Register(Tool{
		Name:        "manageUserIssues",
		Description: "Add, remove, or clear entries in the user's health-issue list. Matching is case-insensitive.",
		Parameters: json.RawMessage(`{"type":"object","properties":{
			"operation":{"type":"string","enum":["add","remove","clear"]},
			"issue":{"type":"string"}
		},"required":["operation"],"additionalProperties":false}`),
		Handler: pt.manageUserIssues,
	})
	r.Register(Tool{
		Name:        "handleConfirmationResponse",
		Description: "Resolve a pending profile-update confirmation after the user answered yes or no.",
		Parameters: json.RawMessage(`{"type":"object","properties":{
			"confirmed":{"type":"boolean"},
			"confirmationData":{"type":"object"}
		},"required":["confirmed"],"additionalProperties":true}`),
		Handler: pt.handleConfirmationResponse,
	})
}

func (pt *ProfileTools) getUserProfile(ctx context.Context, call Call) (any, error) {
	p, err := pt.Reader.GetProfile(ctx, call.UserID)
	if err != nil {
		if errors.Is(err, profile.ErrProfileNotFound) {
			return nil, fmt.Errorf("no profile found for this user; treat them as new and begin onboarding")
		}
		return nil, err
	}
	u, err := pt.Reader.GetUserByID(ctx, call.UserID)
	if err != nil {
		return nil, err
	}

	data := map[string]any{
		"firstName":     u.FirstName,
		"lastName":      u.LastName,
		"gender":        nil,
		"dob":           nil,
		"age":           nil,
		"isMarried":     nil,
		"hasIssues":     p.HasIssues,
		"issues":        p.Issues,
		"annualIncome":  nil,
		"city":          nil,
		"smokingStatus": nil,
		"occupation":    nil,
	}
	if p.DOB != nil {
		data["dob"] = p.DOB.Format("2006-01-02")
		if age, ok := p.Age(pt.Now()); ok {
			data["age"] = age
		}
	}
	if p.Gender != nil {
		data["gender"] = *p.Gender
	}
	if p.IsMarried != nil {
		data["isMarried"] = *p.IsMarried
	}
	if p.AnnualIncome != nil {
		data["annualIncome"] = *p.AnnualIncome
	}
	if p.City != nil {
		data["city"] = *p.City
	}
	if p.SmokingStatus != nil {
		data["smokingStatus"] = *p.SmokingStatus
	}
	if p.Occupation != nil {
		data["occupation"] = *p.Occupation
	}
	return map[string]any{"success": true, "data": data}, nil
}

// updateArgs is the wire shape of updateUserProfile. dob arrives as a
// YYYY-MM-DD string; age is accepted in the schema-free sense but never
// stored (dob is the sole source of truth).
type updateArgs struct {
	DOB            *string  `json:"dob"`
	Gender         *string  `json:"gender"`
	IsMarried      *bool    `json:"isMarried"`
	AnnualIncome   *float64 `json:"annualIncome"`
	City           *string  `json:"city"`
	Occupation     *string  `json:"occupation"`
	SmokingStatus  *bool    `json:"smokingStatus"`
	CoverageAmount *float64 `json:"coverageAmount"`
	PolicyTerm     *int     `json:"policyTerm"`
	Age            *int     `json:"age"`
}

func (a updateArgs) toUpdate() (profile.Update, error) {
	u := profile.Update{
		Gender:         a.Gender,
		IsMarried:      a.IsMarried,
		AnnualIncome:   a.AnnualIncome,
		City:           a.City,
		Occupation:     a.Occupation,
		SmokingStatus:  a.SmokingStatus,
		CoverageAmount: a.CoverageAmount,
		PolicyTerm:     a.PolicyTerm,
	}
	if a.DOB != nil {
		d, err := parseDate(*a.DOB)
		if err != nil {
			return u, &profile.ValidationError{Field: "dob", Reason: "must be a valid date in YYYY-MM-DD format"}
		}
		u.DOB = &d
	}
	return u, nil
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", s)
}

func (pt *ProfileTools) updateUserProfile(ctx context.Context, call Call) (any, error) {
	var args updateArgs
	if err := json.Unmarshal(call.Args, &args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	u, err := args.toUpdate()
	if err != nil {
		return nil, err
	}
	// dob is the only stored representation of age: an age-only payload is
	// dropped with guidance, and when both appear dob wins.
	if u.IsEmpty() {
		if args.Age != nil {
			return nil, fmt.Errorf("age is not stored directly; ask the user for their date of birth and send it as dob")
		}
		return nil, fmt.Errorf("no updatable fields provided")
	}

	out, err := pt.Gate.ProposeUpdate(ctx, call.UserID, call.ConversationID, u)
	if err != nil {
		return nil, err
	}
	switch o := out.(type) {
	case profile.Applied:
		return map[string]any{
			"success":       true,
			"message":       "Profile updated: " + strings.Join(labels(o.Fields), ", "),
			"updatedFields": o.Fields,
		}, nil
	case profile.NeedsConfirmation:
		return map[string]any{
			"success":              false,
			"requiresConfirmation": true,
			"confirmationData":     o.Staged,
			"conflictingFields":    o.Conflicts,
			"autoConfirmationPrompt": o.Message,
		}, nil
	default:
		return nil, fmt.Errorf("unexpected gate outcome %T", out)
	}
}

func labels(fields []string) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = profile.FieldLabel(f)
	}
	return out
}

func (pt *ProfileTools) manageUserIssues(ctx context.Context, call Call) (any, error) {
	var args struct {
		Operation string `json:"operation"`
		Issue     string `json:"issue"`
	}
	if err := json.Unmarshal(call.Args, &args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	issues, err := pt.Issues.Mutate(ctx, call.UserID, profile.IssueOp(args.Operation), args.Issue)
	if err != nil {
		return nil, err
	}
	msg := fmt.Sprintf("Health issues updated; %d on record.", len(issues))
	return map[string]any{"success": true, "message": msg, "issues": issues}, nil
}

func (pt *ProfileTools) handleConfirmationResponse(ctx context.Context, call Call) (any, error) {
	var args struct {
		Confirmed bool `json:"confirmed"`
	}
	if err := json.Unmarshal(call.Args, &args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	res, err := pt.Resolver.Resolve(ctx, call.UserID, call.ConversationID, args.Confirmed)
	if err != nil {
		switch {
		case errors.Is(err, profile.ErrNoPending):
			return nil, fmt.Errorf("there is no pending confirmation to resolve")
		case errors.Is(err, profile.ErrConfirmationExpired):
			return nil, fmt.Errorf("the confirmation expired; ask the user to state the change again")
		}
		return nil, err
	}
	out := map[string]any{"success": true, "action": res.Action}
	if res.Action == "updated" {
		out["message"] = "Confirmed and updated: " + strings.Join(labels(res.UpdatedFields), ", ")
		out["updatedFields"] = res.UpdatedFields
	} else {
		out["message"] = "No problem, I've kept your profile as it was."
	}
	return out, nil
}
