package cron

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/stellarlinkco/birthdaybot/internal/ledger"
)

// Names of the built-in maintenance jobs.
const (
	JobPrune   = "prune-audit"
	JobSummary = "daily-summary"
)

// MaintenanceStore is the part of the ledger the maintenance jobs touch.
type MaintenanceStore interface {
	PruneDecisions(ctx context.Context, cutoff time.Time) (int64, error)
	PruneWishes(ctx context.Context, cutoffDate string) (int64, error)
	CutoffDate(retentionDays int) string
	SummaryFor(ctx context.Context, day string) ([]ledger.DaySummary, error)
	Clock() ledger.DayClock
}

// BoundarySchedule returns an expression firing minute minutes past the
// day boundary hour.
func BoundarySchedule(boundaryHour, minute int) string {
	return fmt.Sprintf("0 %d %d * * *", minute, boundaryHour)
}

// PruneJob deletes audit rows and day records older than retentionDays.
func PruneJob(store MaintenanceStore, retentionDays int, now func() time.Time) Handler {
	if now == nil {
		now = time.Now
	}
	return func(ctx context.Context) (string, error) {
		if retentionDays <= 0 {
			return "retention disabled", nil
		}
		decisions, err := store.PruneDecisions(ctx, now().AddDate(0, 0, -retentionDays))
		if err != nil {
			return "", err
		}
		wishes, err := store.PruneWishes(ctx, store.CutoffDate(retentionDays))
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("pruned %d decisions, %d day records", decisions, wishes), nil
	}
}

// SummaryJob logs the previous logical day's decisions per conversation.
func SummaryJob(store MaintenanceStore, log zerolog.Logger, now func() time.Time) Handler {
	if now == nil {
		now = time.Now
	}
	return func(ctx context.Context) (string, error) {
		day := store.Clock().DateOf(now().Add(-24 * time.Hour))
		summaries, err := store.SummaryFor(ctx, day)
		if err != nil {
			return "", err
		}
		for _, s := range summaries {
			ev := log.Info().Str("conversation", s.ConversationID).Str("day", day)
			for action, n := range s.Actions {
				ev = ev.Int(action, n)
			}
			ev.Msg("daily summary")
		}
		return formatSummary(day, summaries), nil
	}
}

func formatSummary(day string, summaries []ledger.DaySummary) string {
	if len(summaries) == 0 {
		return day + ": no activity"
	}
	var b strings.Builder
	b.WriteString(day)
	b.WriteString(":")
	for _, s := range summaries {
		actions := make([]string, 0, len(s.Actions))
		for a := range s.Actions {
			actions = append(actions, a)
		}
		sort.Strings(actions)
		b.WriteString(" ")
		b.WriteString(s.ConversationID)
		b.WriteString("[")
		for i, a := range actions {
			if i > 0 {
				b.WriteString(" ")
			}
			fmt.Fprintf(&b, "%s=%d", a, s.Actions[a])
		}
		b.WriteString("]")
	}
	return b.String()
}

// RegisterMaintenance registers the prune and summary jobs at the day
// boundary.
func RegisterMaintenance(s *Service, store MaintenanceStore, retentionDays int, log zerolog.Logger) error {
	hour := store.Clock().BoundaryHour
	if err := s.Register(JobSummary, BoundarySchedule(hour, 0), SummaryJob(store, log, nil)); err != nil {
		return err
	}
	return s.Register(JobPrune, BoundarySchedule(hour, 5), PruneJob(store, retentionDays, nil))
}
