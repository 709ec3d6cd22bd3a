package crisis

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/ehr/crisis/internal/platform/hipaa"
)

// DefaultMaxInputLength is the longest text, in characters, AnalyzeText
// accepts unless configured otherwise.
const DefaultMaxInputLength = 10000

// Alerter accepts crisis alerts for background delivery. Dispatch must not
// block; *hipaa.AlertDispatcher satisfies it.
type Alerter interface {
	Dispatch(event *hipaa.CrisisAlertEvent) bool
}

// Engine classifies free text against an immutable keyword registry. It
// keeps no per-call state and is safe for concurrent use.
type Engine struct {
	registry       *Registry
	matcher        *Matcher
	alerter        Alerter
	maxInputLength int
	logger         zerolog.Logger
	now            func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithAlerter sets where alerts for detected crises are sent.
func WithAlerter(a Alerter) EngineOption {
	return func(e *Engine) { e.alerter = a }
}

// WithMaxInputLength overrides DefaultMaxInputLength. Zero or less disables
// the check.
func WithMaxInputLength(n int) EngineOption {
	return func(e *Engine) { e.maxInputLength = n }
}

func WithLogger(logger zerolog.Logger) EngineOption {
	return func(e *Engine) { e.logger = logger }
}

func withClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// NewEngine compiles the matcher for reg. It fails only when the registry
// cannot be compiled, which is a startup-time configuration problem.
func NewEngine(reg *Registry, opts ...EngineOption) (*Engine, error) {
	m, err := NewMatcher(reg)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		registry:       reg,
		matcher:        m,
		maxInputLength: DefaultMaxInputLength,
		logger:         zerolog.Nop(),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With().Str("component", "crisis_engine").Logger()
	return e, nil
}

func (e *Engine) Registry() *Registry { return e.registry }

func (e *Engine) MaxInputLength() int { return e.maxInputLength }

// AnalyzeText classifies text and returns a fresh result owned by the
// caller. The only error is *InputTooLargeError; any text within the limit,
// including empty text, yields a result. userID and pc are optional. When a
// crisis is detected one metadata-only alert is handed to the alerter
// without waiting for delivery.
func (e *Engine) AnalyzeText(ctx context.Context, text, userID string, pc *PatientContext) (*DetectionResult, error) {
	length := utf8.RuneCountInString(text)
	if e.maxInputLength > 0 && length > e.maxInputLength {
		analysesTotal.WithLabelValues("rejected").Inc()
		return nil, &InputTooLargeError{Length: length, Limit: e.maxInputLength}
	}

	start := time.Now()
	matches := e.matcher.Match(Normalize(text))

	var survivors []Candidate
	suppressed := 0
	if len(matches) > 0 {
		lowered := strings.ToLower(text)
		survivors = make([]Candidate, 0, len(matches))
		for _, m := range matches {
			confidence := adjustLowered(lowered, m)
			if confidence <= AcceptanceThreshold {
				suppressed++
				continue
			}
			survivors = append(survivors, Candidate{Entry: m, Confidence: confidence})
		}
	}

	res := Aggregate(survivors, pc)
	analysisDuration.Observe(time.Since(start).Seconds())
	candidatesSuppressed.Add(float64(suppressed))

	if !res.Detected {
		analysesTotal.WithLabelValues("not_detected").Inc()
		if suppressed > 0 {
			e.logger.Debug().
				Int("text_length", length).
				Int("suppressed", suppressed).
				Interface("contexts", MatchedContexts(text)).
				Msg("all keyword matches suppressed")
		}
		return res, nil
	}

	analysesTotal.WithLabelValues("detected").Inc()
	detectionsBySeverity.WithLabelValues(res.Severity.String(), string(res.RecommendedAction)).Inc()
	e.logger.Info().
		Str("severity", res.Severity.String()).
		Str("action", string(res.RecommendedAction)).
		Int("keywords", len(res.TriggeredKeywords)).
		Int("suppressed", suppressed).
		Int("text_length", length).
		Msg("crisis indicators detected")

	e.raiseAlert(ctx, res, userID, length)
	return res, nil
}

func (e *Engine) raiseAlert(ctx context.Context, res *DetectionResult, userID string, textLength int) {
	if e.alerter == nil {
		return
	}
	event := hipaa.NewCrisisAlertEvent(e.now())
	event.UserID = userID
	event.RequestID = hipaa.RequestIDFromContext(ctx)
	event.Severity = res.Severity.String()
	event.Categories = make([]string, len(res.Categories))
	for i, c := range res.Categories {
		event.Categories[i] = string(c)
	}
	event.ConfidenceScore = res.ConfidenceScore
	event.RecommendedAction = string(res.RecommendedAction)
	event.KeywordCount = len(res.TriggeredKeywords)
	event.FalsePositiveLikelihood = res.FalsePositiveLikelihood
	event.TextLength = textLength
	event.RegistryVersion = e.registry.Version()

	if !e.alerter.Dispatch(event) {
		e.logger.Warn().Str("event_id", event.ID.String()).Msg("crisis alert not accepted for delivery")
	}
}
