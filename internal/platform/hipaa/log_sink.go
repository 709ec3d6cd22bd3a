package hipaa

import (
	"context"

	"github.com/rs/zerolog"
)

// LogSink writes crisis alerts to the structured application log. It is
// always configured so an alert is recorded even when every external sink
// is down.
type LogSink struct {
	logger zerolog.Logger
}

func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger.With().Str("audit", "crisis_alert").Logger()}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Emit(ctx context.Context, event *CrisisAlertEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.logger.Warn().
		Str("event_id", event.ID.String()).
		Str("event_type", event.EventType).
		Str("user_id", event.UserID).
		Str("request_id", event.RequestID).
		Str("severity", event.Severity).
		Strs("categories", event.Categories).
		Float64("confidence_score", event.ConfidenceScore).
		Str("recommended_action", event.RecommendedAction).
		Int("keyword_count", event.KeywordCount).
		Float64("false_positive_likelihood", event.FalsePositiveLikelihood).
		Int("text_length", event.TextLength).
		Str("registry_version", event.RegistryVersion).
		Time("timestamp", event.Timestamp).
		Msg("crisis alert")
	return nil
}
