package hipaa

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// rowQuerier is the subset of pgxpool.Pool the audit logger needs.
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// AuditLogger persists crisis alert events to the crisis_alert_event table.
// Retention of those rows is owned by the records team, not this service.
type AuditLogger struct {
	db rowQuerier
}

// NewAuditLogger creates a new AuditLogger backed by the given connection pool.
func NewAuditLogger(pool *pgxpool.Pool) *AuditLogger {
	return &AuditLogger{db: pool}
}

func (a *AuditLogger) Name() string { return "postgres" }

// Emit inserts event without modifying it; other sinks may be reading it
// concurrently. A duplicate event id is ignored so that a retried
// delivery never writes the same alert twice.
func (a *AuditLogger) Emit(ctx context.Context, event *CrisisAlertEvent) error {
	occurredAt := event.Timestamp
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	const query = `
		INSERT INTO crisis_alert_event (
			event_id, event_type, user_id, request_id,
			severity, categories, confidence_score, recommended_action,
			keyword_count, false_positive_likelihood, text_length,
			registry_version, occurred_at
		) VALUES (
			$1,$2,NULLIF($3,''),NULLIF($4,''),$5,$6,$7,$8,$9,$10,$11,NULLIF($12,''),$13
		)
		ON CONFLICT (event_id) DO NOTHING
		RETURNING recorded_at`

	args := []any{
		event.ID, event.EventType, event.UserID, event.RequestID,
		event.Severity, event.Categories, event.ConfidenceScore, event.RecommendedAction,
		event.KeywordCount, event.FalsePositiveLikelihood, event.TextLength,
		event.RegistryVersion, occurredAt,
	}

	var recordedAt time.Time
	err := a.db.QueryRow(ctx, query, args...).Scan(&recordedAt)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("hipaa audit: insert crisis alert: %w", err)
	}
	return nil
}
