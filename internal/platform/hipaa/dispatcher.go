package hipaa

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultAlertTimeout     = 2 * time.Second
	DefaultAlertMaxInFlight = 64
)

// AlertDispatcher delivers crisis alerts to every configured sink in the
// background. Dispatch never blocks: when the in-flight limit is reached or
// the dispatcher is closed the event is dropped and logged.
type AlertDispatcher struct {
	sinks       []AlertSink
	timeout     time.Duration
	maxInFlight int64
	sem         *semaphore.Weighted
	logger      zerolog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// DispatcherOption configures an AlertDispatcher.
type DispatcherOption func(*AlertDispatcher)

// WithSinks appends sinks to the fan-out list.
func WithSinks(sinks ...AlertSink) DispatcherOption {
	return func(d *AlertDispatcher) {
		for _, s := range sinks {
			if s != nil {
				d.sinks = append(d.sinks, s)
			}
		}
	}
}

// WithAlertTimeout bounds each emission, across all sinks.
func WithAlertTimeout(timeout time.Duration) DispatcherOption {
	return func(d *AlertDispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// WithMaxInFlight bounds the number of events being delivered at once.
func WithMaxInFlight(n int) DispatcherOption {
	return func(d *AlertDispatcher) {
		if n > 0 {
			d.maxInFlight = int64(n)
		}
	}
}

// NewAlertDispatcher creates a dispatcher. Sinks are added with WithSinks.
func NewAlertDispatcher(logger zerolog.Logger, opts ...DispatcherOption) *AlertDispatcher {
	d := &AlertDispatcher{
		timeout:     DefaultAlertTimeout,
		maxInFlight: DefaultAlertMaxInFlight,
		logger:      logger.With().Str("component", "alert_dispatcher").Logger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.sem = semaphore.NewWeighted(d.maxInFlight)
	return d
}

// Sinks returns the names of the configured sinks.
func (d *AlertDispatcher) Sinks() []string {
	names := make([]string, len(d.sinks))
	for i, s := range d.sinks {
		names[i] = s.Name()
	}
	return names
}

// Dispatch hands event to the background workers and reports whether it
// was accepted. The caller must not modify event afterwards.
func (d *AlertDispatcher) Dispatch(event *CrisisAlertEvent) bool {
	if event == nil {
		return false
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		alertsDropped.WithLabelValues("closed").Inc()
		d.logger.Warn().Str("event_id", event.ID.String()).Msg("alert dropped: dispatcher closed")
		return false
	}
	if !d.sem.TryAcquire(1) {
		d.mu.Unlock()
		alertsDropped.WithLabelValues("saturated").Inc()
		d.logger.Error().
			Str("event_id", event.ID.String()).
			Str("severity", event.Severity).
			Int64("max_in_flight", d.maxInFlight).
			Msg("alert dropped: too many alerts in flight")
		return false
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		defer d.sem.Release(1)
		d.deliver(event)
	}()
	return true
}

func (d *AlertDispatcher) deliver(event *CrisisAlertEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	var wg sync.WaitGroup
	for _, sink := range d.sinks {
		wg.Add(1)
		go func(sink AlertSink) {
			defer wg.Done()
			start := time.Now()
			err := d.emit(ctx, sink, event)
			alertDeliveryDuration.WithLabelValues(sink.Name()).Observe(time.Since(start).Seconds())
			if err != nil {
				alertsDelivered.WithLabelValues(sink.Name(), "error").Inc()
				d.logger.Error().Err(err).
					Str("sink", sink.Name()).
					Str("event_id", event.ID.String()).
					Msg("alert delivery failed")
				return
			}
			alertsDelivered.WithLabelValues(sink.Name(), "ok").Inc()
		}(sink)
	}
	wg.Wait()
}

// emit shields the dispatcher from panicking sinks.
func (d *AlertDispatcher) emit(ctx context.Context, sink AlertSink, event *CrisisAlertEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &AuditSinkError{Sink: sink.Name(), EventID: event.ID, Err: panicError{value: r}}
		}
	}()
	if err := sink.Emit(ctx, event); err != nil {
		return &AuditSinkError{Sink: sink.Name(), EventID: event.ID, Err: err}
	}
	return nil
}

// Close stops accepting events and waits for in-flight deliveries or ctx.
func (d *AlertDispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type panicError struct{ value any }

func (p panicError) Error() string { return fmt.Sprintf("sink panicked: %v", p.value) }
