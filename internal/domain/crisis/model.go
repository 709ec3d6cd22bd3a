package crisis

import (
	"fmt"
	"strings"
)

// Category is the clinical domain a keyword maps to.
type Category string

const (
	CategorySuicidalIdeation Category = "SUICIDAL_IDEATION"
	CategorySelfHarm         Category = "SELF_HARM"
	CategorySubstanceAbuse   Category = "SUBSTANCE_ABUSE"
	CategoryViolence         Category = "VIOLENCE"
	CategorySevereDepression Category = "SEVERE_DEPRESSION"
	CategoryPsychosis        Category = "PSYCHOSIS"
	CategoryPanicAttack      Category = "PANIC_ATTACK"
	CategoryEatingDisorder   Category = "EATING_DISORDER"
)

// Categories lists every category in declaration order.
var Categories = []Category{
	CategorySuicidalIdeation,
	CategorySelfHarm,
	CategorySubstanceAbuse,
	CategoryViolence,
	CategorySevereDepression,
	CategoryPsychosis,
	CategoryPanicAttack,
	CategoryEatingDisorder,
}

func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

func (c *Category) UnmarshalText(b []byte) error {
	v := Category(strings.ToUpper(strings.TrimSpace(string(b))))
	if !v.Valid() {
		return fmt.Errorf("unknown crisis category %q", string(b))
	}
	*c = v
	return nil
}

// Severity is an ordinal risk level from LOW (1) to IMMINENT (5).
type Severity int

const (
	SeverityLow Severity = iota + 1
	SeverityModerate
	SeverityHigh
	SeverityCritical
	SeverityImminent
)

var severityNames = map[Severity]string{
	SeverityLow:      "LOW",
	SeverityModerate: "MODERATE",
	SeverityHigh:     "HIGH",
	SeverityCritical: "CRITICAL",
	SeverityImminent: "IMMINENT",
}

func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Severity(%d)", int(s))
}

func (s Severity) Valid() bool {
	_, ok := severityNames[s]
	return ok
}

// ParseSeverity resolves a severity name such as "CRITICAL".
func ParseSeverity(name string) (Severity, error) {
	name = strings.ToUpper(strings.TrimSpace(name))
	for s, n := range severityNames {
		if n == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown severity %q", name)
}

func (s Severity) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid severity %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(b []byte) error {
	v, err := ParseSeverity(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ContextType describes the linguistic context a keyword usually appears in.
type ContextType string

const (
	ContextDirectStatement ContextType = "DIRECT_STATEMENT"
	ContextMetaphorical    ContextType = "METAPHORICAL"
	ContextPlanning        ContextType = "PLANNING"
	ContextPastReference   ContextType = "PAST_REFERENCE"
	ContextHypothetical    ContextType = "HYPOTHETICAL"
	ContextLiteratureMedia ContextType = "LITERATURE_MEDIA"
)

var contextTypes = []ContextType{
	ContextDirectStatement,
	ContextMetaphorical,
	ContextPlanning,
	ContextPastReference,
	ContextHypothetical,
	ContextLiteratureMedia,
}

func (c ContextType) Valid() bool {
	for _, known := range contextTypes {
		if c == known {
			return true
		}
	}
	return false
}

func (c *ContextType) UnmarshalText(b []byte) error {
	v := ContextType(strings.ToUpper(strings.TrimSpace(string(b))))
	if !v.Valid() {
		return fmt.Errorf("unknown context type %q", string(b))
	}
	*c = v
	return nil
}

// RecommendedAction is the escalation tier suggested to the clinical workflow.
type RecommendedAction string

const (
	ActionImmediateIntervention RecommendedAction = "IMMEDIATE_INTERVENTION"
	ActionUrgentFollowup        RecommendedAction = "URGENT_FOLLOWUP"
	ActionClinicalReview        RecommendedAction = "CLINICAL_REVIEW"
	ActionMonitorClosely        RecommendedAction = "MONITOR_CLOSELY"
	ActionStandardCare          RecommendedAction = "STANDARD_CARE"
)

// RequiresCrisisWorkflow reports whether the hosting application must start
// its human-facing crisis workflow for this action.
func (a RecommendedAction) RequiresCrisisWorkflow() bool {
	return a == ActionImmediateIntervention || a == ActionUrgentFollowup
}

// SupportSystem rates the strength of a patient's support network.
type SupportSystem string

const (
	SupportStrong   SupportSystem = "strong"
	SupportModerate SupportSystem = "moderate"
	SupportWeak     SupportSystem = "weak"
	SupportNone     SupportSystem = "none"
)

func (s SupportSystem) Valid() bool {
	switch s {
	case SupportStrong, SupportModerate, SupportWeak, SupportNone:
		return true
	}
	return false
}

func (s *SupportSystem) UnmarshalText(b []byte) error {
	v := SupportSystem(strings.ToLower(strings.TrimSpace(string(b))))
	if v == "" {
		*s = ""
		return nil
	}
	if !v.Valid() {
		return fmt.Errorf("unknown support system %q", string(b))
	}
	*s = v
	return nil
}

// KeywordEntry is one clinically sourced crisis indicator. Entries are
// immutable once the registry that owns them has loaded.
type KeywordEntry struct {
	ID                        string      `json:"id"`
	Term                      string      `json:"term"`
	Category                  Category    `json:"category"`
	Severity                  Severity    `json:"severity"`
	Context                   ContextType `json:"context"`
	ClinicalEvidence          string      `json:"clinical_evidence"`
	FalsePositiveRate         float64     `json:"false_positive_rate"`
	Variations                []string    `json:"variations,omitempty"`
	RequiresImmediateResponse bool        `json:"requires_immediate_response"`
	BaselineConfidence        float64     `json:"baseline_confidence"`
}

func (e KeywordEntry) clone() KeywordEntry {
	if e.Variations != nil {
		e.Variations = append([]string(nil), e.Variations...)
	}
	return e
}

// PatientContext is optional caller-supplied history. The engine reads it
// and never mutates or stores it.
type PatientContext struct {
	RiskFactors        []string      `json:"risk_factors,omitempty"`
	PreviousCrises     bool          `json:"previous_crises"`
	CurrentMedications []string      `json:"current_medications,omitempty"`
	TherapyHistory     bool          `json:"therapy_history"`
	SupportSystem      SupportSystem `json:"support_system,omitempty"`
}

// TriggeredKeyword pairs a registry entry with the confidence it resolved to
// for one call. It is the only per-match state the engine produces.
type TriggeredKeyword struct {
	EntryID            string  `json:"entry_id"`
	ResolvedConfidence float64 `json:"resolved_confidence"`
}

// DetectionResult is the structured risk assessment for one piece of text.
type DetectionResult struct {
	Detected                bool               `json:"detected"`
	Severity                Severity           `json:"severity"`
	Categories              []Category         `json:"categories"`
	TriggeredKeywords       []TriggeredKeyword `json:"triggered_keywords"`
	ConfidenceScore         float64            `json:"confidence_score"`
	RecommendedAction       RecommendedAction  `json:"recommended_action"`
	ClinicalNotes           []string           `json:"clinical_notes"`
	FalsePositiveLikelihood float64            `json:"false_positive_likelihood"`
}

// HasCategory reports whether c is among the detected categories.
func (r *DetectionResult) HasCategory(c Category) bool {
	for _, have := range r.Categories {
		if have == c {
			return true
		}
	}
	return false
}
