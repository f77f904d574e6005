// Package ledger persists daily wish counters and the decision audit log in
// sqlite.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// DefaultDailyCap is the default number of wishes per conversation per day.
const DefaultDailyCap = 2

// ErrDailyCapReached is returned by Record when the cap is already used up.
var ErrDailyCapReached = errors.New("daily wish cap reached")

// DailyRecord is a conversation's wish state for one logical day.
type DailyRecord struct {
	ConversationID string   `json:"conversationId"`
	Date           string   `json:"date"`
	Count          int      `json:"count"`
	Names          []string `json:"names"`
}

// Store is the sqlite-backed ledger. Read-modify-write cycles are
// serialized by mu and run inside a transaction.
type Store struct {
	db    *sql.DB
	mu    sync.Mutex
	cap   int
	clock DayClock
}

func Open(dbPath string, dailyCap int, clock DayClock) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if dailyCap <= 0 {
		dailyCap = DefaultDailyCap
	}
	s := &Store{db: db, cap: dailyCap, clock: clock}
	if err := s.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}
	return nil
}

func (s *Store) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS daily_wishes (
			conversation_id TEXT PRIMARY KEY,
			wish_date TEXT NOT NULL,
			wish_count INTEGER NOT NULL DEFAULT 0,
			wished_names TEXT NOT NULL DEFAULT '[]',
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE TABLE IF NOT EXISTS decisions (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			sender_id TEXT NOT NULL DEFAULT '',
			message_id TEXT NOT NULL DEFAULT '',
			message_text TEXT NOT NULL DEFAULT '',
			day TEXT NOT NULL,
			is_birthday INTEGER NOT NULL DEFAULT 0,
			is_initial_wish INTEGER NOT NULL DEFAULT 0,
			person_name TEXT NOT NULL DEFAULT '',
			confidence REAL NOT NULL DEFAULT 0,
			action TEXT NOT NULL,
			reply_text TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_created ON decisions(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_day ON decisions(day, action)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Cap returns the configured daily cap.
func (s *Store) Cap() int { return s.cap }

// Clock returns the store's day clock.
func (s *Store) Clock() DayClock { return s.clock }

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// load returns today's record; a row from an earlier day reads as empty.
func (s *Store) load(ctx context.Context, q rowQuerier, conversationID string) (DailyRecord, error) {
	today := s.clock.Today()
	rec := DailyRecord{ConversationID: conversationID, Date: today, Names: []string{}}

	var date, names string
	var count int
	err := q.QueryRowContext(ctx,
		`SELECT wish_date, wish_count, wished_names FROM daily_wishes WHERE conversation_id = ?`,
		conversationID,
	).Scan(&date, &count, &names)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, nil
	}
	if err != nil {
		return rec, fmt.Errorf("load daily record: %w", err)
	}
	if date != today {
		return rec, nil
	}

	rec.Count = count
	if err := json.Unmarshal([]byte(names), &rec.Names); err != nil {
		return rec, fmt.Errorf("decode wished names: %w", err)
	}
	return rec, nil
}

// Today returns the conversation's record for the current logical day.
func (s *Store) Today(ctx context.Context, conversationID string) (DailyRecord, error) {
	return s.load(ctx, s.db, conversationID)
}

// Count returns today's wish count; a stale day counts as zero.
func (s *Store) Count(ctx context.Context, conversationID string) (int, error) {
	rec, err := s.Today(ctx, conversationID)
	if err != nil {
		return 0, err
	}
	return rec.Count, nil
}

// CanSend reports whether another wish fits under today's cap.
func (s *Store) CanSend(ctx context.Context, conversationID string) (bool, error) {
	n, err := s.Count(ctx, conversationID)
	if err != nil {
		return false, err
	}
	return n < s.cap, nil
}

// Record counts one more wish for name. It resets a stale day instead of
// accumulating onto it, and never exceeds the cap.
func (s *Store) Record(ctx context.Context, conversationID, name string) (DailyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return DailyRecord{}, fmt.Errorf("begin record: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rec, err := s.load(ctx, tx, conversationID)
	if err != nil {
		return DailyRecord{}, err
	}
	if rec.Count >= s.cap {
		return rec, ErrDailyCapReached
	}

	rec.Count++
	rec.Names = append(rec.Names, name)
	names, err := json.Marshal(rec.Names)
	if err != nil {
		return DailyRecord{}, fmt.Errorf("encode wished names: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO daily_wishes (conversation_id, wish_date, wish_count, wished_names, updated_at)
		VALUES (?, ?, ?, ?, datetime('now'))
		ON CONFLICT(conversation_id) DO UPDATE SET
			wish_date = excluded.wish_date,
			wish_count = excluded.wish_count,
			wished_names = excluded.wished_names,
			updated_at = excluded.updated_at
	`, conversationID, rec.Date, rec.Count, string(names))
	if err != nil {
		return DailyRecord{}, fmt.Errorf("save daily record: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return DailyRecord{}, fmt.Errorf("commit record: %w", err)
	}
	return rec, nil
}

// PruneWishes deletes day records older than cutoffDate (YYYY-MM-DD).
func (s *Store) PruneWishes(ctx context.Context, cutoffDate string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM daily_wishes WHERE wish_date < ?`, cutoffDate)
	if err != nil {
		return 0, fmt.Errorf("prune wishes: %w", err)
	}
	return res.RowsAffected()
}

// CutoffDate returns the logical date retentionDays before today.
func (s *Store) CutoffDate(retentionDays int) string {
	t, err := time.ParseInLocation(dateLayout, s.clock.Today(), time.UTC)
	if err != nil {
		return s.clock.Today()
	}
	return t.AddDate(0, 0, -retentionDays).Format(dateLayout)
}
