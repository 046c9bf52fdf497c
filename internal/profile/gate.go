package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Store is the storage surface the confirmation gate and resolver need.
type Store interface {
	GetProfile(ctx context.Context, userID string) (*Profile, error)
	ApplyProfileUpdate(ctx context.Context, userID string, u Update) error
	SetPendingConfirmation(ctx context.Context, conversationID string, data []byte, createdAt time.Time) error
	GetPendingConfirmation(ctx context.Context, conversationID string) ([]byte, time.Time, error)
	ClearPendingConfirmation(ctx context.Context, conversationID string) error
}

// Conflict describes one field whose proposed value differs from a stored
// non-null value.
type Conflict struct {
	Field        string `json:"field"`
	DisplayName  string `json:"displayName"`
	CurrentValue any    `json:"currentValue"`
	NewValue     any    `json:"newValue"`

	currentText  string
	proposedText string
}

// Outcome is the result of proposing a profile update: either the update was
// applied, or it was staged pending user confirmation. Failures are returned
// as errors alongside a nil Outcome.
type Outcome interface {
	outcome()
}

// Applied reports an update that was written immediately.
type Applied struct {
	Fields []string
}

// NeedsConfirmation reports an update that was staged instead of applied
// because at least one field conflicted with a stored value.
type NeedsConfirmation struct {
	Conflicts []Conflict
	Message   string
	Staged    Update
}

func (Applied) outcome()           {}
func (NeedsConfirmation) outcome() {}

// Gate decides whether a proposed profile update applies immediately or must
// be confirmed by the user first.
type Gate struct {
	store Store
	now   func() time.Time
}

func NewGate(store Store) *Gate {
	return &Gate{store: store, now: time.Now}
}

// PendingTTL is how long a staged confirmation stays resolvable.
const PendingTTL = 5 * time.Minute

// ProposeUpdate validates u, compares each present field against the stored
// profile, and either applies the whole update or stages the whole update as
// the conversation's pending confirmation. Staging overwrites any earlier
// unconsumed confirmation for the conversation.
func (g *Gate) ProposeUpdate(ctx context.Context, userID, conversationID string, u Update) (Outcome, error) {
	if u.IsEmpty() {
		return nil, &ValidationError{Reason: "update contains no recognized fields"}
	}
	if err := validateUpdate(u, g.now()); err != nil {
		return nil, err
	}

	p, err := g.store.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}

	var conflicts []Conflict
	for _, f := range fieldSpecs {
		if !f.present(u) {
			continue
		}
		currentText, set := f.stored(p)
		if !set || f.equal(p, u) {
			continue
		}
		conflicts = append(conflicts, Conflict{
			Field:        f.name,
			DisplayName:  f.label,
			CurrentValue: f.storedVal(p),
			NewValue:     f.proposedVal(u),
			currentText:  currentText,
			proposedText: f.proposed(u),
		})
	}

	if len(conflicts) == 0 {
		if err := g.store.ApplyProfileUpdate(ctx, userID, u); err != nil {
			return nil, err
		}
		return Applied{Fields: u.Fields()}, nil
	}

	raw, err := json.Marshal(u)
	if err != nil {
		return nil, err
	}
	if err := g.store.SetPendingConfirmation(ctx, conversationID, raw, g.now()); err != nil {
		return nil, err
	}
	return NeedsConfirmation{
		Conflicts: conflicts,
		Message:   confirmationMessage(conflicts),
		Staged:    u,
	}, nil
}

func confirmationMessage(conflicts []Conflict) string {
	if len(conflicts) == 1 {
		c := conflicts[0]
		return fmt.Sprintf("I see your %s is currently recorded as %s. You want to change it to %s.",
			c.DisplayName, c.currentText, c.proposedText)
	}
	parts := make([]string, 0, len(conflicts))
	for _, c := range conflicts {
		parts = append(parts, fmt.Sprintf("%s from %s to %s", c.DisplayName, c.currentText, c.proposedText))
	}
	return fmt.Sprintf("You want to change your %s. Is that correct?", strings.Join(parts, ", "))
}

// validateUpdate enforces field-level rules before any mutation or staging.
func validateUpdate(u Update, now time.Time) error {
	if u.DOB != nil && !u.DOB.Before(now) {
		return &ValidationError{Field: "dob", Reason: "date of birth must be in the past"}
	}
	if u.AnnualIncome != nil && *u.AnnualIncome < 0 {
		return &ValidationError{Field: "annualIncome", Reason: "must be non-negative"}
	}
	if u.CoverageAmount != nil && *u.CoverageAmount < 0 {
		return &ValidationError{Field: "coverageAmount", Reason: "must be non-negative"}
	}
	if u.PolicyTerm != nil && (*u.PolicyTerm < 5 || *u.PolicyTerm > 40) {
		return &ValidationError{Field: "policyTerm", Reason: "must be between 5 and 40 years"}
	}
	return nil
}
