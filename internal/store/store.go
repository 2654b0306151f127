// Package store provides PostgreSQL-backed persistence for feedback and
// block records.
//
// The schema matches existing deployments: feedback(id, user_id, partner_id,
// feedback, timestamp) and blocked_users(user_id, reason, timestamp), with
// timestamps stored as ISO-8601 text. Rows written by the earlier bot keep
// the pressed button text in feedback and a zone-less timestamp; both are
// still read.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq"

	"github.com/whisper/pairbot/internal/moderation"
)

// LegacyComplaint is the complaint token stored by the earlier bot: the
// label of its complaint button.
const LegacyComplaint = "🚨 Пожаловаться"

// legacyTimeLayout parses naive UTC timestamps such as
// 2024-01-02T03:04:05.123456, with or without the fraction.
const legacyTimeLayout = "2006-01-02T15:04:05.999999"

// PersistenceError wraps a failed database operation.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Store manages feedback and blocks in PostgreSQL. It implements
// moderation.Persistence.
type Store struct {
	db *sql.DB
}

var _ moderation.Persistence = (*Store)(nil)

// Open connects to the database at url and verifies the connection.
func Open(ctx context.Context, url string) (*Store, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, &PersistenceError{Op: "open", Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, &PersistenceError{Op: "ping", Err: err}
	}
	return &Store{db: db}, nil
}

// New creates a store backed by the given database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// InsertFeedback appends a feedback record. A zero target is stored as NULL.
func (s *Store) InsertFeedback(ctx context.Context, rec moderation.FeedbackRecord) error {
	const query = `
		INSERT INTO feedback (user_id, partner_id, feedback, "timestamp")
		VALUES ($1, $2, $3, $4)`

	partner := sql.NullInt64{Int64: rec.Target, Valid: rec.Target != 0}
	_, err := s.db.ExecContext(ctx, query, rec.Author, partner, string(rec.Kind), formatTime(rec.At))
	if err != nil {
		return &PersistenceError{Op: "insert feedback", Err: err}
	}
	return nil
}

// CountComplaints returns the number of complaints filed against targetID,
// legacy rows included.
func (s *Store) CountComplaints(ctx context.Context, targetID int64) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM feedback
		WHERE partner_id = $1
		  AND feedback IN ($2, $3)`

	var count int
	err := s.db.QueryRowContext(ctx, query, targetID, string(moderation.KindComplaint), LegacyComplaint).Scan(&count)
	if err != nil {
		return 0, &PersistenceError{Op: "count complaints", Err: err}
	}
	return count, nil
}

// InsertBlock blocks userID unless a block already exists, and reports
// whether a new record was created.
func (s *Store) InsertBlock(ctx context.Context, userID int64, reason string) (bool, error) {
	const query = `
		INSERT INTO blocked_users (user_id, reason, "timestamp")
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO NOTHING`

	res, err := s.db.ExecContext(ctx, query, userID, reason, formatTime(time.Now()))
	if err != nil {
		return false, &PersistenceError{Op: "insert block", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, &PersistenceError{Op: "insert block", Err: err}
	}
	return n == 1, nil
}

// IsBlocked reports whether userID has a block record.
func (s *Store) IsBlocked(ctx context.Context, userID int64) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM blocked_users WHERE user_id = $1)`

	var blocked bool
	if err := s.db.QueryRowContext(ctx, query, userID).Scan(&blocked); err != nil {
		return false, &PersistenceError{Op: "is blocked", Err: err}
	}
	return blocked, nil
}

// DeleteBlock removes userID's block and reports whether one existed.
func (s *Store) DeleteBlock(ctx context.Context, userID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM blocked_users WHERE user_id = $1`, userID)
	if err != nil {
		return false, &PersistenceError{Op: "delete block", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, &PersistenceError{Op: "delete block", Err: err}
	}
	return n > 0, nil
}

// Blocks lists all block records, oldest first.
func (s *Store) Blocks(ctx context.Context) ([]moderation.BlockRecord, error) {
	const query = `SELECT user_id, reason, "timestamp" FROM blocked_users ORDER BY "timestamp", user_id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, &PersistenceError{Op: "list blocks", Err: err}
	}
	defer rows.Close()

	var out []moderation.BlockRecord
	for rows.Next() {
		var (
			rec moderation.BlockRecord
			ts  string
		)
		if err := rows.Scan(&rec.UserID, &rec.Reason, &ts); err != nil {
			return nil, &PersistenceError{Op: "list blocks", Err: err}
		}
		at, err := parseTime(ts)
		if err != nil {
			log.Printf("[store] block of %d: %v", rec.UserID, err)
		}
		rec.At = at
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &PersistenceError{Op: "list blocks", Err: err}
	}
	return out, nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// parseTime reads a stored timestamp, falling back to the legacy zone-less
// layout, which is taken as UTC.
func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(legacyTimeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("store: unrecognized timestamp %q", s)
	}
	return t, nil
}
