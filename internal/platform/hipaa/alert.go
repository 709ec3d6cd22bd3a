package hipaa

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventTypeCrisisAlert is the event type of every alert raised by crisis
// text detection.
const EventTypeCrisisAlert = "CRISIS_ALERT"

// CrisisAlertEvent is the metadata-only record emitted when crisis text is
// detected. It never carries the analyzed text itself, only its length.
type CrisisAlertEvent struct {
	ID                      uuid.UUID `json:"event_id"`
	EventType               string    `json:"event_type"`
	UserID                  string    `json:"user_id,omitempty"`
	RequestID               string    `json:"request_id,omitempty"`
	Severity                string    `json:"severity"`
	Categories              []string  `json:"categories"`
	ConfidenceScore         float64   `json:"confidence_score"`
	RecommendedAction       string    `json:"recommended_action"`
	KeywordCount            int       `json:"keyword_count"`
	FalsePositiveLikelihood float64   `json:"false_positive_likelihood"`
	TextLength              int       `json:"text_length"`
	RegistryVersion         string    `json:"registry_version,omitempty"`
	Timestamp               time.Time `json:"timestamp"`
}

// NewCrisisAlertEvent returns an event with its id, type and timestamp set.
func NewCrisisAlertEvent(now time.Time) *CrisisAlertEvent {
	return &CrisisAlertEvent{
		ID:        uuid.New(),
		EventType: EventTypeCrisisAlert,
		Timestamp: now.UTC(),
	}
}

// AlertSink receives crisis alert events. Implementations must honour ctx
// cancellation; the dispatcher gives every emission its own deadline.
type AlertSink interface {
	Name() string
	Emit(ctx context.Context, event *CrisisAlertEvent) error
}

// AuditSinkError records a failed emission. It is logged and counted by the
// dispatcher and never reaches the caller that triggered the alert.
type AuditSinkError struct {
	Sink    string
	EventID uuid.UUID
	Err     error
}

func (e *AuditSinkError) Error() string {
	return fmt.Sprintf("hipaa alert sink %s: event %s: %v", e.Sink, e.EventID, e.Err)
}

func (e *AuditSinkError) Unwrap() error { return e.Err }

type requestIDKey struct{}

// WithRequestID attaches the inbound request id so alerts raised while
// serving the request can be correlated with the access log.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the request id set by WithRequestID, if any.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
