package store

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/covera-ai/covera/internal/profile"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return &Store{DB: db}, mock
}

func TestGetProfile(t *testing.T) {
	s, mock := newMockStore(t)

	dob := time.Date(1990, 4, 2, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT user_id, dob, gender, is_married, annual_income, city, occupation`).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"user_id", "dob", "gender", "is_married", "annual_income", "city", "occupation",
			"smoking_status", "coverage_amount", "policy_term", "issues", "has_issues", "updated_at",
		}).AddRow("user-1", dob, "female", nil, 800000.0, "Pune", nil,
			nil, nil, nil, []byte(`["Asthma"]`), true, time.Now()))

	p, err := s.GetProfile(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if p.DOB == nil || !p.DOB.Equal(dob) {
		t.Fatalf("dob not loaded: %v", p.DOB)
	}
	if p.Gender == nil || *p.Gender != "female" {
		t.Fatalf("gender not loaded: %v", p.Gender)
	}
	if p.IsMarried != nil {
		t.Fatal("null is_married should stay nil")
	}
	if len(p.Issues) != 1 || p.Issues[0] != "Asthma" || !p.HasIssues {
		t.Fatalf("issues not loaded: %v hasIssues=%v", p.Issues, p.HasIssues)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetProfileNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT user_id, dob`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}))

	_, err := s.GetProfile(context.Background(), "missing")
	if !errors.Is(err, profile.ErrProfileNotFound) {
		t.Fatalf("expected ErrProfileNotFound, got %v", err)
	}
}

func TestApplyProfileUpdateBuildsSetClause(t *testing.T) {
	s, mock := newMockStore(t)

	city := "Mumbai"
	income := 900000.0
	mock.ExpectExec(`UPDATE user_profiles SET annual_income=\$1, city=\$2, updated_at=now\(\) WHERE user_id=\$3`).
		WithArgs(900000.0, "Mumbai", "user-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.ApplyProfileUpdate(context.Background(), "user-1", profile.Update{
		City:         &city,
		AnnualIncome: &income,
	})
	if err != nil {
		t.Fatalf("ApplyProfileUpdate: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestApplyProfileUpdateMissingRow(t *testing.T) {
	s, mock := newMockStore(t)

	city := "Mumbai"
	mock.ExpectExec(`UPDATE user_profiles SET city=\$1`).
		WithArgs("Mumbai", "ghost").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.ApplyProfileUpdate(context.Background(), "ghost", profile.Update{City: &city})
	if !errors.Is(err, profile.ErrProfileNotFound) {
		t.Fatalf("expected ErrProfileNotFound, got %v", err)
	}
}

func TestSetIssuesPersistsListAndFlagTogether(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE user_profiles SET issues=\$1, has_issues=\$2, updated_at=now\(\) WHERE user_id=\$3`).
		WithArgs([]byte(`["Diabetes"]`), true, "user-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.SetIssues(context.Background(), "user-1", []string{"Diabetes"}, true); err != nil {
		t.Fatalf("SetIssues: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPendingConfirmationRoundTrip(t *testing.T) {
	s, mock := newMockStore(t)

	staged := []byte(`{"city":"Mumbai"}`)
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectExec(`UPDATE conversations SET pending_confirmation=\$1, pending_confirmation_created_at=\$2 WHERE id=\$3`).
		WithArgs(staged, at, "conv-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT pending_confirmation, pending_confirmation_created_at FROM conversations WHERE id=\$1`).
		WithArgs("conv-1").
		WillReturnRows(sqlmock.NewRows([]string{"pending_confirmation", "pending_confirmation_created_at"}).
			AddRow(staged, at))

	if err := s.SetPendingConfirmation(context.Background(), "conv-1", staged, at); err != nil {
		t.Fatalf("SetPendingConfirmation: %v", err)
	}
	data, createdAt, err := s.GetPendingConfirmation(context.Background(), "conv-1")
	if err != nil {
		t.Fatalf("GetPendingConfirmation: %v", err)
	}
	if string(data) != string(staged) || !createdAt.Equal(at) {
		t.Fatalf("round trip mismatch: %s %v", data, createdAt)
	}
}

func TestGetPendingConfirmationEmptySlot(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT pending_confirmation, pending_confirmation_created_at`).
		WithArgs("conv-1").
		WillReturnRows(sqlmock.NewRows([]string{"pending_confirmation", "pending_confirmation_created_at"}).
			AddRow(nil, nil))

	_, _, err := s.GetPendingConfirmation(context.Background(), "conv-1")
	if !errors.Is(err, profile.ErrNoPending) {
		t.Fatalf("expected ErrNoPending, got %v", err)
	}
}

func TestAddTokens(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`UPDATE conversations SET token_count = token_count \+ \$1`).
		WithArgs(int64(1200), "conv-1").
		WillReturnRows(sqlmock.NewRows([]string{"token_count"}).AddRow(int64(5400)))

	total, err := s.AddTokens(context.Background(), "conv-1", 1200)
	if err != nil {
		t.Fatalf("AddTokens: %v", err)
	}
	if total != 5400 {
		t.Fatalf("expected running total 5400, got %d", total)
	}
}

func TestListConversations(t *testing.T) {
	s, mock := newMockStore(t)

	now := time.Now()
	mock.ExpectQuery(`SELECT id, user_id, title, token_count, created_at, updated_at`).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "title", "token_count", "created_at", "updated_at"}).
			AddRow("c2", "user-1", "Term plan", int64(100), now, now).
			AddRow("c1", "user-1", "", int64(0), now, now))

	out, err := s.ListConversations(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if len(out) != 2 || out[0].ID != "c2" {
		t.Fatalf("unexpected conversations: %+v", out)
	}
}
