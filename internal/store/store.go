package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/covera-ai/covera/internal/profile"
)

// Store wraps the Postgres connection and exposes typed accessors for users,
// profiles, conversations, and messages.
type Store struct {
	DB *sql.DB
}

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// New constructs the Store from DATABASE_URL or the POSTGRES_* env vars.
func New(ctx context.Context) (*Store, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		host := getenvDefault("POSTGRES_HOST", "localhost")
		port := getenvDefault("POSTGRES_PORT", "5432")
		user := os.Getenv("POSTGRES_USER")
		pass := os.Getenv("POSTGRES_PASSWORD")
		db := os.Getenv("POSTGRES_DB")
		ssl := getenvDefault("POSTGRES_SSLMODE", "disable")
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, db, ssl)
	}
	return NewWithDSN(ctx, dsn)
}

// NewWithDSN constructs the Store using an explicit Postgres DSN.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

func getenvDefault(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

// User operations

type User struct {
	ID        string
	Email     string
	FirstName string
	LastName  string
	CreatedAt time.Time
}

func (s *Store) CreateUser(ctx context.Context, id, email, hash, firstName, lastName string) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, first_name, last_name) VALUES ($1,$2,$3,$4,$5)`,
		id, email, hash, firstName, lastName)
	return err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (id string, hash string, err error) {
	err = s.DB.QueryRowContext(ctx, `SELECT id, password_hash FROM users WHERE email=$1`, email).Scan(&id, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		err = ErrNotFound
	}
	return
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*User, error) {
	var u User
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, email, first_name, last_name, created_at FROM users WHERE id=$1`, id).
		Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Profile operations

func (s *Store) CreateProfile(ctx context.Context, userID string) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO user_profiles (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, userID)
	return err
}

// GetProfile loads the full profile row. Missing rows map to
// profile.ErrProfileNotFound so callers can start onboarding.
func (s *Store) GetProfile(ctx context.Context, userID string) (*profile.Profile, error) {
	var (
		p         profile.Profile
		dob       sql.NullTime
		gender    sql.NullString
		married   sql.NullBool
		income    sql.NullFloat64
		city      sql.NullString
		occ       sql.NullString
		smoking   sql.NullBool
		coverage  sql.NullFloat64
		term      sql.NullInt64
		rawIssues []byte
	)
	err := s.DB.QueryRowContext(ctx,
		`SELECT user_id, dob, gender, is_married, annual_income, city, occupation,
		        smoking_status, coverage_amount, policy_term, issues, has_issues, updated_at
		 FROM user_profiles WHERE user_id=$1`, userID).
		Scan(&p.UserID, &dob, &gender, &married, &income, &city, &occ,
			&smoking, &coverage, &term, &rawIssues, &p.HasIssues, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, profile.ErrProfileNotFound
	}
	if err != nil {
		return nil, err
	}

	if dob.Valid {
		d := dob.Time
		p.DOB = &d
	}
	if gender.Valid {
		v := gender.String
		p.Gender = &v
	}
	if married.Valid {
		v := married.Bool
		p.IsMarried = &v
	}
	if income.Valid {
		v := income.Float64
		p.AnnualIncome = &v
	}
	if city.Valid {
		v := city.String
		p.City = &v
	}
	if occ.Valid {
		v := occ.String
		p.Occupation = &v
	}
	if smoking.Valid {
		v := smoking.Bool
		p.SmokingStatus = &v
	}
	if coverage.Valid {
		v := coverage.Float64
		p.CoverageAmount = &v
	}
	if term.Valid {
		v := int(term.Int64)
		p.PolicyTerm = &v
	}
	p.Issues = []string{}
	if len(rawIssues) > 0 {
		if err := json.Unmarshal(rawIssues, &p.Issues); err != nil {
			return nil, fmt.Errorf("decode issues: %w", err)
		}
	}
	return &p, nil
}

// ApplyProfileUpdate writes the update's present fields in one UPDATE. The
// SET clause is built from the update so absent fields stay untouched.
func (s *Store) ApplyProfileUpdate(ctx context.Context, userID string, u profile.Update) error {
	cols := u.Columns()
	if len(cols) == 0 {
		return nil
	}
	sets := make([]string, 0, len(cols)+1)
	args := make([]any, 0, len(cols)+1)
	for i, c := range cols {
		sets = append(sets, fmt.Sprintf("%s=$%d", c.Name, i+1))
		args = append(args, c.Value)
	}
	sets = append(sets, "updated_at=now()")
	args = append(args, userID)

	res, err := s.DB.ExecContext(ctx,
		fmt.Sprintf(`UPDATE user_profiles SET %s WHERE user_id=$%d`, strings.Join(sets, ", "), len(args)),
		args...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return profile.ErrProfileNotFound
	}
	return nil
}

// SetIssues persists the issue list and the derived flag in a single UPDATE
// so the two can never drift apart.
func (s *Store) SetIssues(ctx context.Context, userID string, issues []string, hasIssues bool) error {
	raw, err := json.Marshal(issues)
	if err != nil {
		return err
	}
	res, err := s.DB.ExecContext(ctx,
		`UPDATE user_profiles SET issues=$1, has_issues=$2, updated_at=now() WHERE user_id=$3`,
		raw, hasIssues, userID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return profile.ErrProfileNotFound
	}
	return nil
}

// Conversation operations

type Conversation struct {
	ID         string
	UserID     string
	Title      string
	TokenCount int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (s *Store) CreateConversation(ctx context.Context, id, userID, title string) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO conversations (id, user_id, title) VALUES ($1,$2,$3)`, id, userID, title)
	return err
}

func (s *Store) GetConversation(ctx context.Context, id, userID string) (*Conversation, error) {
	var c Conversation
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, user_id, title, token_count, created_at, updated_at
		 FROM conversations WHERE id=$1 AND user_id=$2`, id, userID).
		Scan(&c.ID, &c.UserID, &c.Title, &c.TokenCount, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) ListConversations(ctx context.Context, userID string) ([]Conversation, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, user_id, title, token_count, created_at, updated_at
		 FROM conversations WHERE user_id=$1 ORDER BY updated_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.UserID, &c.Title, &c.TokenCount, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) RenameConversation(ctx context.Context, id, userID, title string) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE conversations SET title=$1, updated_at=now() WHERE id=$2 AND user_id=$3`, title, id, userID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) DeleteConversation(ctx context.Context, id, userID string) error {
	res, err := s.DB.ExecContext(ctx,
		`DELETE FROM conversations WHERE id=$1 AND user_id=$2`, id, userID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// AddTokens bumps the conversation token counter and returns the new total.
func (s *Store) AddTokens(ctx context.Context, id string, tokens int64) (int64, error) {
	var total int64
	err := s.DB.QueryRowContext(ctx,
		`UPDATE conversations SET token_count = token_count + $1, updated_at=now()
		 WHERE id=$2 RETURNING token_count`, tokens, id).Scan(&total)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return total, err
}

func (s *Store) GetTokenCount(ctx context.Context, id string) (int64, error) {
	var total int64
	err := s.DB.QueryRowContext(ctx,
		`SELECT token_count FROM conversations WHERE id=$1`, id).Scan(&total)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return total, err
}

// Pending confirmation slot

func (s *Store) SetPendingConfirmation(ctx context.Context, conversationID string, data []byte, createdAt time.Time) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE conversations SET pending_confirmation=$1, pending_confirmation_created_at=$2 WHERE id=$3`,
		data, createdAt, conversationID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) GetPendingConfirmation(ctx context.Context, conversationID string) ([]byte, time.Time, error) {
	var (
		data      []byte
		createdAt sql.NullTime
	)
	err := s.DB.QueryRowContext(ctx,
		`SELECT pending_confirmation, pending_confirmation_created_at FROM conversations WHERE id=$1`,
		conversationID).Scan(&data, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, ErrNotFound
	}
	if err != nil {
		return nil, time.Time{}, err
	}
	if len(data) == 0 || !createdAt.Valid {
		return nil, time.Time{}, profile.ErrNoPending
	}
	return data, createdAt.Time, nil
}

func (s *Store) ClearPendingConfirmation(ctx context.Context, conversationID string) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE conversations SET pending_confirmation=NULL, pending_confirmation_created_at=NULL WHERE id=$1`,
		conversationID)
	return err
}

// Message operations

type Message struct {
	ID             string
	ConversationID string
	Role           string
	Content        string
	ToolCalls      []byte
	ToolCallID     string
	CreatedAt      time.Time
}

func (s *Store) InsertMessage(ctx context.Context, m Message) error {
	var toolCalls any
	if len(m.ToolCalls) > 0 {
		toolCalls = m.ToolCalls
	}
	var toolCallID any
	if m.ToolCallID != "" {
		toolCallID = m.ToolCallID
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, tool_calls, tool_call_id)
		 VALUES ($1,$2,$3,$4,$5,$6)`,
		m.ID, m.ConversationID, m.Role, m.Content, toolCalls, toolCallID)
	return err
}

// ListMessages returns the most recent messages in chronological order.
// limit <= 0 returns everything.
func (s *Store) ListMessages(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	q := `SELECT id, conversation_id, role, content, COALESCE(tool_calls,'[]'), COALESCE(tool_call_id,''), created_at
	      FROM messages WHERE conversation_id=$1 ORDER BY created_at`
	args := []any{conversationID}
	if limit > 0 {
		q = `SELECT id, conversation_id, role, content, tool_calls, tool_call_id, created_at FROM (
		        SELECT id, conversation_id, role, content, COALESCE(tool_calls,'[]') AS tool_calls,
		               COALESCE(tool_call_id,'') AS tool_call_id, created_at
		        FROM messages WHERE conversation_id=$1 ORDER BY created_at DESC LIMIT $2
		     ) t ORDER BY created_at`
		args = append(args, limit)
	}
	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.ToolCalls, &m.ToolCallID, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
