package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const timeLayout = "2006-01-02T15:04:05.000Z"

// Decision is one audited orchestration outcome.
type Decision struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId,omitempty"`
	MessageID      string    `json:"messageId,omitempty"`
	Text           string    `json:"text"`
	Day            string    `json:"day"`
	IsBirthday     bool      `json:"isBirthday"`
	IsInitialWish  bool      `json:"isInitialWish"`
	PersonName     string    `json:"personName,omitempty"`
	Confidence     float64   `json:"confidence"`
	Action         string    `json:"action"`
	Reply          string    `json:"reply,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// DaySummary counts actions for one conversation on one logical day.
type DaySummary struct {
	ConversationID string         `json:"conversationId"`
	Day            string         `json:"day"`
	Actions        map[string]int `json:"actions"`
}

// LogDecision appends d to the audit log, filling ID, Day and CreatedAt
// when unset.
func (s *Store) LogDecision(ctx context.Context, d Decision) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = s.clock.now()
	}
	if d.Day == "" {
		d.Day = s.clock.DateOf(d.CreatedAt)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO decisions (id, conversation_id, sender_id, message_id, message_text, day,
			is_birthday, is_initial_wish, person_name, confidence, action, reply_text, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, d.ID, d.ConversationID, d.SenderID, d.MessageID, d.Text, d.Day,
		boolToInt(d.IsBirthday), boolToInt(d.IsInitialWish), d.PersonName, d.Confidence,
		d.Action, d.Reply, d.CreatedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("log decision: %w", err)
	}
	return nil
}

// RecentDecisions returns up to limit decisions, newest first. An empty
// conversationID matches every conversation.
func (s *Store) RecentDecisions(ctx context.Context, conversationID string, limit int) ([]Decision, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT id, conversation_id, sender_id, message_id, message_text, day,
		is_birthday, is_initial_wish, person_name, confidence, action, reply_text, created_at
		FROM decisions`
	args := []any{}
	if conversationID != "" {
		query += ` WHERE conversation_id = ?`
		args = append(args, conversationID)
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()

	var out []Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func scanDecision(rows *sql.Rows) (Decision, error) {
	var d Decision
	var isBirthday, isInitial int
	var created string
	err := rows.Scan(&d.ID, &d.ConversationID, &d.SenderID, &d.MessageID, &d.Text, &d.Day,
		&isBirthday, &isInitial, &d.PersonName, &d.Confidence, &d.Action, &d.Reply, &created)
	if err != nil {
		return d, fmt.Errorf("scan decision: %w", err)
	}
	d.IsBirthday = isBirthday != 0
	d.IsInitialWish = isInitial != 0
	if t, err := time.Parse(timeLayout, created); err == nil {
		d.CreatedAt = t
	}
	return d, nil
}

// PruneDecisions deletes audit rows created before cutoff.
func (s *Store) PruneDecisions(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM decisions WHERE created_at < ?`,
		cutoff.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("prune decisions: %w", err)
	}
	return res.RowsAffected()
}

// SummaryFor groups the audit log of day by conversation and action.
func (s *Store) SummaryFor(ctx context.Context, day string) ([]DaySummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT conversation_id, action, COUNT(*) FROM decisions
		WHERE day = ? GROUP BY conversation_id, action ORDER BY conversation_id
	`, day)
	if err != nil {
		return nil, fmt.Errorf("summarize day: %w", err)
	}
	defer rows.Close()

	var out []DaySummary
	index := map[string]int{}
	for rows.Next() {
		var conv, action string
		var n int
		if err := rows.Scan(&conv, &action, &n); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		i, ok := index[conv]
		if !ok {
			i = len(out)
			index[conv] = i
			out = append(out, DaySummary{ConversationID: conv, Day: day, Actions: map[string]int{}})
		}
		out[i].Actions[action] = n
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
