package crisis

import (
	"math"
	"strings"
)

// AcceptanceThreshold is the adjusted confidence a candidate must exceed to
// reach aggregation. Candidates at or below it are dropped.
const AcceptanceThreshold = 0.3

// confidenceScale fixes resolved confidences to nine decimal places so a
// product that equals the threshold in decimal, such as 0.75 * 0.4, compares
// as equal rather than a float64 ulp above it.
const confidenceScale = 1e9

// ConfidenceRule scales a candidate's confidence when any of its indicators
// occurs in the original text.
type ConfidenceRule struct {
	Context    ContextType `json:"context"`
	Indicators []string    `json:"indicators"`
	Multiplier float64     `json:"multiplier"`
}

// confidenceRules is applied top to bottom; every matching rule applies.
// The multipliers are clinically tuned and must not change without review.
var confidenceRules = []ConfidenceRule{
	{
		Context:    ContextPastReference,
		Indicators: []string{"used to", "before", "last time", "previously", "in the past"},
		Multiplier: 0.6,
	},
	{
		Context:    ContextHypothetical,
		Indicators: []string{"if i", "what if", "imagine", "suppose", "hypothetically"},
		Multiplier: 0.4,
	},
	{
		Context:    ContextLiteratureMedia,
		Indicators: []string{"in the book", "the movie", "the show", "character", "story"},
		Multiplier: 0.3,
	},
	{
		Context:    ContextPlanning,
		Indicators: []string{"plan to", "going to", "will", "decided to", "ready to"},
		Multiplier: 1.3,
	},
}

// ConfidenceRules returns a copy of the ordered rule table.
func ConfidenceRules() []ConfidenceRule {
	out := make([]ConfidenceRule, len(confidenceRules))
	for i, r := range confidenceRules {
		r.Indicators = append([]string(nil), r.Indicators...)
		out[i] = r
	}
	return out
}

// AdjustConfidence resolves entry's confidence for one piece of original,
// un-normalized text. The entry itself is never modified.
func AdjustConfidence(original string, entry KeywordEntry) float64 {
	return adjustLowered(strings.ToLower(original), entry)
}

func adjustLowered(lowered string, entry KeywordEntry) float64 {
	confidence := entry.BaselineConfidence
	for _, rule := range confidenceRules {
		if containsAny(lowered, rule.Indicators) {
			confidence *= rule.Multiplier
		}
	}
	if confidence > 1.0 {
		return 1.0
	}
	return math.Round(confidence*confidenceScale) / confidenceScale
}

// MatchedContexts lists the contexts whose indicators occur in original, in
// rule order.
func MatchedContexts(original string) []ContextType {
	lowered := strings.ToLower(original)
	var out []ContextType
	for _, rule := range confidenceRules {
		if containsAny(lowered, rule.Indicators) {
			out = append(out, rule.Context)
		}
	}
	return out
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
