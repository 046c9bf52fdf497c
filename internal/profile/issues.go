package profile

import (
	"context"
	"fmt"
	"strings"
)

// IssueOp enumerates the supported issue-list mutations.
type IssueOp string

const (
	IssueAdd    IssueOp = "add"
	IssueRemove IssueOp = "remove"
	IssueClear  IssueOp = "clear"
)

// IssueStore is the slice of storage the issue manager needs.
type IssueStore interface {
	GetProfile(ctx context.Context, userID string) (*Profile, error)
	SetIssues(ctx context.Context, userID string, issues []string, hasIssues bool) error
}

// IssueManager applies set-like mutations to a user's health-issue list.
// Matching is case-insensitive and mutations are idempotent.
type IssueManager struct {
	store IssueStore
}

func NewIssueManager(store IssueStore) *IssueManager {
	return &IssueManager{store: store}
}

// Mutate applies op to the user's issue list and returns the resulting list.
// hasIssues is recomputed and persisted together with the list.
func (m *IssueManager) Mutate(ctx context.Context, userID string, op IssueOp, issue string) ([]string, error) {
	issue = strings.TrimSpace(issue)
	switch op {
	case IssueAdd, IssueRemove:
		if issue == "" {
			return nil, &ValidationError{Field: "issue", Reason: fmt.Sprintf("required for operation %q", op)}
		}
	case IssueClear:
		issue = ""
	default:
		return nil, &ValidationError{Field: "operation", Reason: fmt.Sprintf("unsupported operation %q", op)}
	}

	p, err := m.store.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}

	issues := p.Issues
	switch op {
	case IssueAdd:
		if !containsFold(issues, issue) {
			issues = append(issues, issue)
		}
	case IssueRemove:
		issues = removeFold(issues, issue)
	case IssueClear:
		issues = []string{}
	}
	if issues == nil {
		issues = []string{}
	}

	if err := m.store.SetIssues(ctx, userID, issues, len(issues) > 0); err != nil {
		return nil, err
	}
	return issues, nil
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

func removeFold(list []string, s string) []string {
	out := make([]string, 0, len(list))
	for _, v := range list {
		if !strings.EqualFold(v, s) {
			out = append(out, v)
		}
	}
	return out
}
