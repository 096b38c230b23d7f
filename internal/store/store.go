package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // Postgres driver
	_ "github.com/mattn/go-sqlite3"    // SQLite driver
)

// ErrNotFound is returned by writes that target a row that does not exist.
var ErrNotFound = errors.New("store: not found")

// Dialect names the database/sql driver backing the store.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite3"
	DialectPostgres Dialect = "pgx"
)

func (d Dialect) migrationDir() string {
	if d == DialectPostgres {
		return "postgres"
	}
	return "sqlite3"
}

// SQLStore is the durable Transcript Store. It speaks SQLite or Postgres.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

func NewSQLStore(dialect Dialect, dataSourceName string) (*SQLStore, error) {
	if dialect == "" {
		dialect = DialectSQLite
	}
	if dialect != DialectSQLite && dialect != DialectPostgres {
		return nil, fmt.Errorf("unsupported database driver %q", dialect)
	}

	db, err := sql.Open(string(dialect), dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dialect == DialectSQLite && strings.Contains(dataSourceName, ":memory:") {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err = migrateUp(db, dialect, dataSourceName); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLStore{db: db, dialect: dialect, now: time.Now}, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders into $n for Postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) exec(ctx context.Context, q execer, query string, args ...any) (sql.Result, error) {
	return q.ExecContext(ctx, s.rebind(query), args...)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// User methods
func (s *SQLStore) CreateUser(ctx context.Context, username, passwordHash string) (*User, error) {
	user := &User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    s.now().UTC(),
	}
	_, err := s.exec(ctx, s.db, "INSERT INTO users (id, username, password_hash, created_at) VALUES (?, ?, ?, ?)",
		user.ID, user.Username, user.PasswordHash, user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	return user, nil
}

func (s *SQLStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	return s.getUser(ctx, "SELECT id, username, password_hash, created_at FROM users WHERE username = ?", username)
}

func (s *SQLStore) GetUserByID(ctx context.Context, id string) (*User, error) {
	return s.getUser(ctx, "SELECT id, username, password_hash, created_at FROM users WHERE id = ?", id)
}

func (s *SQLStore) getUser(ctx context.Context, query string, arg string) (*User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, s.rebind(query), arg).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // User not found
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &user, nil
}

// Session methods
func (s *SQLStore) CreateSession(ctx context.Context, userID string, roleType RoleType, jobDescription *string) (*Session, error) {
	session := &Session{
		ID:             uuid.NewString(),
		RoleType:       roleType,
		JobDescription: jobDescription,
		Status:         StatusActive,
		StartedAt:      s.now().UTC(),
	}
	if userID != "" {
		session.UserID = &userID
	}

	_, err := s.exec(ctx, s.db,
		"INSERT INTO sessions (id, user_id, role_type, job_description, status, started_at) VALUES (?, ?, ?, ?, ?, ?)",
		session.ID, session.UserID, string(session.RoleType), session.JobDescription, string(session.Status), session.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to execute session insert: %w", err)
	}
	return session, nil
}

// SetStatus updates a session's status. Completing a session without an
// end time stamps it now; reactivating clears the end time.
func (s *SQLStore) SetStatus(ctx context.Context, sessionID string, status Status, endedAt *time.Time) error {
	if !status.Valid() {
		return fmt.Errorf("invalid session status %q", status)
	}
	var ended *time.Time
	if status == StatusCompleted {
		t := s.now().UTC()
		if endedAt != nil {
			t = endedAt.UTC()
		}
		ended = &t
	}

	res, err := s.exec(ctx, s.db, "UPDATE sessions SET status = ?, ended_at = ? WHERE id = ?", string(status), ended, sessionID)
	if err != nil {
		return fmt.Errorf("failed to execute session status update: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) getSessionRow(ctx context.Context, sessionID, userID string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(
		"SELECT id, user_id, role_type, job_description, status, started_at, ended_at FROM sessions WHERE id = ? AND user_id = ?"),
		sessionID, userID)
	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return session, nil
}

// GetSession returns the session with its transcript and feedback. A session
// owned by someone else is reported exactly like a missing one: (nil, nil).
func (s *SQLStore) GetSession(ctx context.Context, sessionID, userID string) (*SessionDetails, error) {
	if userID == "" {
		return nil, nil
	}
	session, err := s.getSessionRow(ctx, sessionID, userID)
	if err != nil || session == nil {
		return nil, err
	}

	messages, err := s.getMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	feedback, err := s.getFeedback(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &SessionDetails{Session: *session, Messages: messages, Feedback: feedback}, nil
}

func (s *SQLStore) ListSessions(ctx context.Context, userID string) ([]SessionSummary, error) {
	query := `
        SELECT s.id, s.user_id, s.role_type, s.job_description, s.status, s.started_at, s.ended_at,
               (SELECT COUNT(*) FROM messages m WHERE m.session_id = s.id),
               f.overall_score
        FROM sessions s
        LEFT JOIN feedback f ON f.session_id = s.id
        WHERE s.user_id = ?
        ORDER BY s.started_at DESC
    `
	rows, err := s.db.QueryContext(ctx, s.rebind(query), userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	summaries := []SessionSummary{}
	for rows.Next() {
		var (
			summary SessionSummary
			userRef sql.NullString
			jobDesc sql.NullString
			ended   sql.NullTime
			score   sql.NullFloat64
			role    string
			status  string
		)
		if err := rows.Scan(&summary.ID, &userRef, &role, &jobDesc, &status, &summary.StartedAt, &ended,
			&summary.MessageCount, &score); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		summary.RoleType = RoleType(role)
		summary.Status = Status(status)
		if userRef.Valid {
			summary.UserID = &userRef.String
		}
		if jobDesc.Valid {
			summary.JobDescription = &jobDesc.String
		}
		if ended.Valid {
			summary.EndedAt = &ended.Time
		}
		if score.Valid {
			summary.OverallScore = &score.Float64
		}
		summaries = append(summaries, summary)
	}
	return summaries, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var (
		session Session
		userRef sql.NullString
		jobDesc sql.NullString
		ended   sql.NullTime
		role    string
		status  string
	)
	if err := row.Scan(&session.ID, &userRef, &role, &jobDesc, &status, &session.StartedAt, &ended); err != nil {
		return nil, err
	}
	session.RoleType = RoleType(role)
	session.Status = Status(status)
	if userRef.Valid {
		session.UserID = &userRef.String
	}
	if jobDesc.Valid {
		session.JobDescription = &jobDesc.String
	}
	if ended.Valid {
		session.EndedAt = &ended.Time
	}
	return &session, nil
}

// Message methods

// AppendMessages inserts messages after the session's existing transcript, in
// the given order. Messages are never updated once written.
func (s *SQLStore) AppendMessages(ctx context.Context, sessionID string, msgs []Message) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin message append: %w", err)
	}
	defer tx.Rollback()

	var last int64
	if err := tx.QueryRowContext(ctx, s.rebind("SELECT COALESCE(MAX(seq), 0) FROM messages WHERE session_id = ?"), sessionID).Scan(&last); err != nil {
		return fmt.Errorf("failed to read message sequence: %w", err)
	}

	for i := range msgs {
		msg := &msgs[i]
		if msg.ID == "" {
			msg.ID = uuid.NewString()
		}
		if msg.Timestamp.IsZero() {
			msg.Timestamp = s.now()
		}
		msg.SessionID = sessionID
		_, err := s.exec(ctx, tx, "INSERT INTO messages (id, session_id, seq, role, content, timestamp) VALUES (?, ?, ?, ?, ?, ?)",
			msg.ID, sessionID, last+int64(i)+1, msg.Role, msg.Content, msg.Timestamp.UTC())
		if err != nil {
			return fmt.Errorf("failed to execute message insert: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLStore) getMessages(ctx context.Context, sessionID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		"SELECT id, session_id, role, content, timestamp FROM messages WHERE session_id = ? ORDER BY seq ASC"), sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Content, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// Feedback methods

// AttachFeedback stores feedback for a session, replacing any earlier record
// as a whole.
func (s *SQLStore) AttachFeedback(ctx context.Context, sessionID string, feedback *Feedback) error {
	strengths, err := json.Marshal(nonNilStrings(feedback.Strengths))
	if err != nil {
		return fmt.Errorf("failed to marshal strengths: %w", err)
	}
	areas, err := json.Marshal(nonNilStrings(feedback.AreasToImprove))
	if err != nil {
		return fmt.Errorf("failed to marshal areas to improve: %w", err)
	}
	questions := feedback.QuestionFeedback
	if questions == nil {
		questions = []QuestionFeedback{}
	}
	questionJSON, err := json.Marshal(questions)
	if err != nil {
		return fmt.Errorf("failed to marshal question feedback: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin feedback write: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, s.rebind("SELECT COUNT(*) FROM sessions WHERE id = ?"), sessionID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to verify session: %w", err)
	}
	if exists == 0 {
		return ErrNotFound
	}

	if _, err := s.exec(ctx, tx, "DELETE FROM feedback WHERE session_id = ?", sessionID); err != nil {
		return fmt.Errorf("failed to clear previous feedback: %w", err)
	}

	id := uuid.NewString()
	createdAt := s.now().UTC()
	_, err = s.exec(ctx, tx,
		"INSERT INTO feedback (id, session_id, overall_score, strengths, areas_to_improve, question_feedback, summary, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		id, sessionID, feedback.OverallScore, string(strengths), string(areas), string(questionJSON), feedback.Summary, createdAt)
	if err != nil {
		return fmt.Errorf("failed to execute feedback insert: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit feedback: %w", err)
	}

	feedback.ID = id
	feedback.SessionID = sessionID
	feedback.CreatedAt = &createdAt
	return nil
}

func (s *SQLStore) getFeedback(ctx context.Context, sessionID string) (*Feedback, error) {
	var (
		feedback                    Feedback
		strengths, areas, questions string
		createdAt                   time.Time
	)
	err := s.db.QueryRowContext(ctx, s.rebind(
		"SELECT id, session_id, overall_score, strengths, areas_to_improve, question_feedback, summary, created_at FROM feedback WHERE session_id = ?"),
		sessionID).Scan(&feedback.ID, &feedback.SessionID, &feedback.OverallScore, &strengths, &areas, &questions, &feedback.Summary, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get feedback: %w", err)
	}
	feedback.CreatedAt = &createdAt

	// Corrupt list columns make the feedback unreadable, not the session.
	if err := json.Unmarshal([]byte(strengths), &feedback.Strengths); err != nil {
		log.Printf("Warning: failed to decode strengths for feedback %s: %v. Treating feedback as absent.", feedback.ID, err)
		return nil, nil
	}
	if err := json.Unmarshal([]byte(areas), &feedback.AreasToImprove); err != nil {
		log.Printf("Warning: failed to decode areas to improve for feedback %s: %v. Treating feedback as absent.", feedback.ID, err)
		return nil, nil
	}
	if err := json.Unmarshal([]byte(questions), &feedback.QuestionFeedback); err != nil {
		log.Printf("Warning: failed to decode question feedback for feedback %s: %v. Treating feedback as absent.", feedback.ID, err)
		return nil, nil
	}
	feedback.Strengths = nonNilStrings(feedback.Strengths)
	feedback.AreasToImprove = nonNilStrings(feedback.AreasToImprove)
	if feedback.QuestionFeedback == nil {
		feedback.QuestionFeedback = []QuestionFeedback{}
	}
	return &feedback, nil
}

func nonNilStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
