package crisis

import (
	"fmt"
	"math"
	"strings"
)

// Candidate is a matched entry together with the confidence it resolved to
// for the current call.
type Candidate struct {
	Entry      KeywordEntry
	Confidence float64
}

// Risk factors that raise confidence when present in the patient context.
var weightedRiskFactors = map[string]struct{}{
	"previous_attempt": {},
	"family_history":   {},
	"recent_loss":      {},
	"substance_use":    {},
}

const (
	riskFactorWeight     = 0.1
	maxContextAdjustment = 1.5
)

// actionRule maps an aggregated severity and confidence to an action.
type actionRule struct {
	when   func(s Severity, confidence float64) bool
	action RecommendedAction
}

// actionRules is evaluated top to bottom; the first match wins. The last
// rule always matches.
var actionRules = []actionRule{
	{
		when:   func(s Severity, c float64) bool { return s == SeverityImminent && c > 0.8 },
		action: ActionImmediateIntervention,
	},
	{
		when:   func(s Severity, c float64) bool { return s == SeverityCritical && c > 0.7 },
		action: ActionImmediateIntervention,
	},
	{
		when:   func(s Severity, c float64) bool { return s == SeverityHigh && c > 0.6 },
		action: ActionUrgentFollowup,
	},
	{
		when:   func(s Severity, c float64) bool { return s == SeverityModerate || c > 0.5 },
		action: ActionClinicalReview,
	},
	{
		when:   func(Severity, float64) bool { return true },
		action: ActionMonitorClosely,
	},
}

func recommendAction(s Severity, confidence float64) RecommendedAction {
	for _, r := range actionRules {
		if r.when(s, confidence) {
			return r.action
		}
	}
	return ActionMonitorClosely
}

// ContextAdjustment returns the multiplier derived from the patient's
// weighted risk factors. Each recognised factor counts once.
func ContextAdjustment(pc *PatientContext) float64 {
	if pc == nil {
		return 1.0
	}
	seen := make(map[string]struct{}, len(pc.RiskFactors))
	for _, f := range pc.RiskFactors {
		f = strings.ToLower(strings.TrimSpace(f))
		if _, ok := weightedRiskFactors[f]; ok {
			seen[f] = struct{}{}
		}
	}
	adj := 1.0 + riskFactorWeight*float64(len(seen))
	return math.Min(adj, maxContextAdjustment)
}

// Aggregate combines the surviving candidates into one result.
func Aggregate(survivors []Candidate, pc *PatientContext) *DetectionResult {
	if len(survivors) == 0 {
		return notDetected()
	}

	res := &DetectionResult{
		Detected:          true,
		Severity:          SeverityLow,
		Categories:        make([]Category, 0, len(survivors)),
		TriggeredKeywords: make([]TriggeredKeyword, 0, len(survivors)),
		ClinicalNotes:     make([]string, 0, len(survivors)+1),
	}

	var sumConfidence, sumFalsePositive float64
	seenCategory := make(map[Category]bool, len(survivors))
	for _, c := range survivors {
		if c.Entry.Severity > res.Severity {
			res.Severity = c.Entry.Severity
		}
		if !seenCategory[c.Entry.Category] {
			seenCategory[c.Entry.Category] = true
			res.Categories = append(res.Categories, c.Entry.Category)
		}
		sumConfidence += c.Confidence
		sumFalsePositive += c.Entry.FalsePositiveRate
		res.TriggeredKeywords = append(res.TriggeredKeywords, TriggeredKeyword{
			EntryID:            c.Entry.ID,
			ResolvedConfidence: c.Confidence,
		})
		res.ClinicalNotes = append(res.ClinicalNotes,
			fmt.Sprintf("%s (Confidence: %d%%)", c.Entry.ClinicalEvidence, int(math.Round(c.Confidence*100))))
	}

	n := float64(len(survivors))
	avg := sumConfidence / n
	res.ConfidenceScore = math.Min(avg*ContextAdjustment(pc), 1.0)
	res.FalsePositiveLikelihood = sumFalsePositive / n
	res.RecommendedAction = recommendAction(res.Severity, res.ConfidenceScore)

	if note := riskFactorNote(pc); note != "" {
		res.ClinicalNotes = append(res.ClinicalNotes, note)
	}
	return res
}

// riskFactorNote names every distinct risk factor the caller supplied, in
// the order given.
func riskFactorNote(pc *PatientContext) string {
	if pc == nil {
		return ""
	}
	seen := make(map[string]bool, len(pc.RiskFactors))
	var factors []string
	for _, f := range pc.RiskFactors {
		f = strings.ToLower(strings.TrimSpace(f))
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		factors = append(factors, f)
	}
	if len(factors) == 0 {
		return ""
	}
	return "Patient risk factors present: " + strings.Join(factors, ", ")
}

func notDetected() *DetectionResult {
	return &DetectionResult{
		Detected:          false,
		Severity:          SeverityLow,
		Categories:        []Category{},
		TriggeredKeywords: []TriggeredKeyword{},
		ConfidenceScore:   0,
		RecommendedAction: ActionStandardCare,
		ClinicalNotes:     []string{},
	}
}
