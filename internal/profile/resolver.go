package profile

import (
	"context"
	"encoding/json"
	"time"
)

// Resolution is the outcome of resolving a staged confirmation.
type Resolution struct {
	Action        string   `json:"action"` // updated or cancelled
	UpdatedFields []string `json:"updatedFields,omitempty"`
}

// Resolver consumes a conversation's staged confirmation: applying it on a
// yes, discarding it on a no, and expiring it lazily after PendingTTL.
type Resolver struct {
	store Store
	now   func() time.Time
}

func NewResolver(store Store) *Resolver {
	return &Resolver{store: store, now: time.Now}
}

// Resolve fetches the conversation's pending confirmation and acts on the
// user's answer. Expiry is checked at read time; an expired confirmation is
// cleared and reported regardless of the answer. The staged data is cleared
// only after a successful apply so a failed write stays retryable.
func (r *Resolver) Resolve(ctx context.Context, userID, conversationID string, confirmed bool) (*Resolution, error) {
	raw, createdAt, err := r.store.GetPendingConfirmation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	if r.now().Sub(createdAt) > PendingTTL {
		if err := r.store.ClearPendingConfirmation(ctx, conversationID); err != nil {
			return nil, err
		}
		return nil, ErrConfirmationExpired
	}

	if !confirmed {
		if err := r.store.ClearPendingConfirmation(ctx, conversationID); err != nil {
			return nil, err
		}
		return &Resolution{Action: "cancelled"}, nil
	}

	var u Update
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, err
	}
	if err := validateUpdate(u, r.now()); err != nil {
		return nil, err
	}
	if err := r.store.ApplyProfileUpdate(ctx, userID, u); err != nil {
		return nil, err
	}
	if err := r.store.ClearPendingConfirmation(ctx, conversationID); err != nil {
		return nil, err
	}
	return &Resolution{Action: "updated", UpdatedFields: u.Fields()}, nil
}
