package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/labstack/echo/v4"

	"github.com/covera-ai/covera/config"
	"github.com/covera-ai/covera/internal/profile"
	"github.com/covera-ai/covera/internal/store"
)

func newTestEcho() *echo.Echo {
	e := echo.New()
	e.Validator = NewValidator()
	return e
}

func newMockStore(t *testing.T) (*store.Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return &store.Store{DB: db}, mock
}

func TestSignJWTRoundTrip(t *testing.T) {
	secret := []byte("test-secret")
	tok, err := SignJWT("user-1", secret, time.Hour)
	if err != nil {
		t.Fatalf("SignJWT: %v", err)
	}

	e := newTestEcho()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	called := false
	h := withAuth(secret)(func(c echo.Context) error {
		called = true
		if got := userID(c); got != "user-1" {
			t.Fatalf("user_id = %q, want user-1", got)
		}
		return c.NoContent(http.StatusOK)
	})
	if err := h(c); err != nil {
		t.Fatalf("middleware: %v", err)
	}
	if !called {
		t.Fatal("handler not invoked")
	}
}

func TestWithAuthRejectsMissingAndBadTokens(t *testing.T) {
	e := newTestEcho()
	next := func(c echo.Context) error { return c.NoContent(http.StatusOK) }
	h := withAuth([]byte("test-secret"))(next)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	c := e.NewContext(req, httptest.NewRecorder())
	if err := h(c); err == nil {
		t.Fatal("expected error for missing token")
	} else if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}

	// token signed with a different secret
	bad, _ := SignJWT("user-1", []byte("other-secret"), time.Hour)
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+bad)
	c = e.NewContext(req, httptest.NewRecorder())
	if err := h(c); err == nil {
		t.Fatal("expected error for forged token")
	} else if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}

func TestWithAuthAcceptsCookie(t *testing.T) {
	secret := []byte("test-secret")
	tok, _ := SignJWT("user-2", secret, time.Hour)

	e := newTestEcho()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "auth", Value: tok})
	c := e.NewContext(req, httptest.NewRecorder())

	h := withAuth(secret)(func(c echo.Context) error {
		if got := userID(c); got != "user-2" {
			t.Fatalf("user_id = %q, want user-2", got)
		}
		return c.NoContent(http.StatusOK)
	})
	if err := h(c); err != nil {
		t.Fatalf("middleware: %v", err)
	}
}

func TestListConversationsEndpoint(t *testing.T) {
	st, mock := newMockStore(t)
	now := time.Now()
	mock.ExpectQuery(`SELECT id, user_id, title, token_count, created_at, updated_at`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "title", "token_count", "created_at", "updated_at"}).
			AddRow("c1", "u1", "Coverage questions", int64(4200), now, now))

	e := newTestEcho()
	req := httptest.NewRequest(http.MethodGet, "/api/conversations", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("user_id", "u1")

	h := &ConversationsHandler{Store: st}
	if err := h.list(c); err != nil {
		t.Fatalf("list: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var out []ConversationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 1 || out[0].ID != "c1" || out[0].TokenCount != 4200 {
		t.Fatalf("unexpected payload: %+v", out)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetConversationNotFound(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT id, user_id, title, token_count, created_at, updated_at`).
		WithArgs("missing", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "title", "token_count", "created_at", "updated_at"}))

	e := newTestEcho()
	req := httptest.NewRequest(http.MethodGet, "/api/conversations/missing", nil)
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("missing")
	c.Set("user_id", "u1")

	h := &ConversationsHandler{Store: st}
	err := h.get(c)
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
}

func TestChatRejectsConversationOverTokenLimit(t *testing.T) {
	st, mock := newMockStore(t)
	now := time.Now()
	mock.ExpectQuery(`SELECT id, user_id, title, token_count, created_at, updated_at`).
		WithArgs("c1", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "title", "token_count", "created_at", "updated_at"}).
			AddRow("c1", "u1", "Long chat", int64(120000), now, now))

	e := newTestEcho()
	body := strings.NewReader(`{"message":"one more question"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/conversations/c1/chat", body)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("c1")
	c.Set("user_id", "u1")

	h := &ChatHandler{
		Store: st,
		Chat:  config.ChatConfig{TokenLimit: 120000, MaxToolSteps: 15, HistoryLimit: 60},
	}
	if err := h.chat(c); err != nil {
		t.Fatalf("chat: %v", err)
	}
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["error"] != "token_limit_reached" {
		t.Fatalf("error = %v", out["error"])
	}
	if !strings.Contains(out["message"].(string), "Token limit reached") {
		t.Fatalf("message = %v", out["message"])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestChatRejectsEmptyMessage(t *testing.T) {
	e := newTestEcho()
	req := httptest.NewRequest(http.MethodPost, "/api/conversations/c1/chat", strings.NewReader(`{}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("c1")
	c.Set("user_id", "u1")

	h := &ChatHandler{Chat: config.ChatConfig{TokenLimit: 120000}}
	err := h.chat(c)
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestSystemPromptIncludesProfileSnapshot(t *testing.T) {
	dob := time.Date(1990, 6, 15, 0, 0, 0, 0, time.UTC)
	smoker := false
	income := 950000.0
	prof := &profile.Profile{
		UserID:        "u1",
		DOB:           &dob,
		AnnualIncome:  &income,
		SmokingStatus: &smoker,
	}
	got := systemPrompt(prof, time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC))
	for _, want := range []string{"1990-06-15", "age 36", "annual income: 950000", "smoker: false"} {
		if !strings.Contains(got, want) {
			t.Fatalf("system prompt missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "city") {
		t.Fatalf("system prompt lists unset field:\n%s", got)
	}
}

func TestSystemPromptWithoutProfile(t *testing.T) {
	got := systemPrompt(nil, time.Now())
	if !strings.Contains(got, "no profile yet") {
		t.Fatalf("system prompt missing onboarding hint:\n%s", got)
	}
}
