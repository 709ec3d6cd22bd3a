// Package broker publishes crisis alerts to NATS so downstream care
// coordination services can subscribe without polling the audit table.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/ehr/crisis/internal/platform/hipaa"
)

// DefaultSubject is the subject prefix alerts are published under. The
// lowercased severity is appended, e.g. "crisis.alerts.critical".
const DefaultSubject = "crisis.alerts"

// DefaultFlushTimeout bounds the flush when the caller's context has no
// deadline of its own.
const DefaultFlushTimeout = 2 * time.Second

// HeaderMsgID carries the event id so a JetStream consumer can deduplicate.
const HeaderMsgID = "Nats-Msg-Id"

// Connect dials url with reconnect settings suited to a long-running server.
func Connect(url string, logger zerolog.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("crisis-server"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	return nc, nil
}

// NATSSink publishes each crisis alert as JSON. It implements hipaa.AlertSink.
type NATSSink struct {
	nc      *nats.Conn
	subject string
}

// NewNATSSink returns a sink publishing under subject, or DefaultSubject
// when subject is empty. The caller owns nc.
func NewNATSSink(nc *nats.Conn, subject string) *NATSSink {
	subject = strings.TrimSuffix(strings.TrimSpace(subject), ".")
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSSink{nc: nc, subject: subject}
}

func (s *NATSSink) Name() string { return "nats" }

// Subject returns the subject event is published on.
func (s *NATSSink) Subject(event *hipaa.CrisisAlertEvent) string {
	severity := strings.ToLower(event.Severity)
	if severity == "" {
		severity = "unknown"
	}
	return s.subject + "." + severity
}

// Emit publishes event and flushes so a delivery error surfaces here
// rather than being lost in the client's write buffer.
func (s *NATSSink) Emit(ctx context.Context, event *hipaa.CrisisAlertEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal crisis alert: %w", err)
	}
	msg := nats.NewMsg(s.Subject(event))
	msg.Data = data
	msg.Header.Set(HeaderMsgID, event.ID.String())

	if err := s.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish crisis alert: %w", err)
	}
	if err := s.flush(ctx); err != nil {
		return fmt.Errorf("flush crisis alert: %w", err)
	}
	return nil
}

// flush waits for the server to acknowledge the publish. FlushWithContext
// refuses contexts without a deadline, so those get DefaultFlushTimeout.
func (s *NATSSink) flush(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		if err := ctx.Err(); err != nil {
			return err
		}
		return s.nc.FlushTimeout(DefaultFlushTimeout)
	}
	return s.nc.FlushWithContext(ctx)
}
