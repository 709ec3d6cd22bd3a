package crisis

import "testing"

func candidate(id string, cat Category, sev Severity, confidence, fpRate float64, evidence string) Candidate {
	return Candidate{
		Entry: KeywordEntry{
			ID:                id,
			Category:          cat,
			Severity:          sev,
			ClinicalEvidence:  evidence,
			FalsePositiveRate: fpRate,
		},
		Confidence: confidence,
	}
}

func TestAggregate_Empty(t *testing.T) {
	res := Aggregate(nil, &PatientContext{RiskFactors: []string{"previous_attempt"}})

	if res.Detected {
		t.Error("expected detected=false")
	}
	if res.Severity != SeverityLow {
		t.Errorf("expected LOW, got %v", res.Severity)
	}
	if res.RecommendedAction != ActionStandardCare {
		t.Errorf("expected STANDARD_CARE, got %s", res.RecommendedAction)
	}
	if res.ConfidenceScore != 0 || res.FalsePositiveLikelihood != 0 {
		t.Errorf("expected zero scores, got %v / %v", res.ConfidenceScore, res.FalsePositiveLikelihood)
	}
	if res.Categories == nil || len(res.Categories) != 0 {
		t.Errorf("expected empty non-nil categories, got %#v", res.Categories)
	}
	if res.TriggeredKeywords == nil || len(res.TriggeredKeywords) != 0 {
		t.Errorf("expected empty non-nil keywords, got %#v", res.TriggeredKeywords)
	}
	if res.ClinicalNotes == nil || len(res.ClinicalNotes) != 0 {
		t.Errorf("expected empty non-nil notes, got %#v", res.ClinicalNotes)
	}
}

func TestAggregate_CombinesSurvivors(t *testing.T) {
	survivors := []Candidate{
		candidate("a", CategorySubstanceAbuse, SeverityModerate, 0.5, 0.35, "Evidence A"),
		candidate("b", CategorySevereDepression, SeverityHigh, 0.7, 0.3, "Evidence B"),
		candidate("c", CategorySubstanceAbuse, SeverityModerate, 0.45, 0.25, "Evidence C"),
	}
	res := Aggregate(survivors, nil)

	if !res.Detected {
		t.Fatal("expected detected=true")
	}
	if res.Severity != SeverityHigh {
		t.Errorf("expected HIGH, got %v", res.Severity)
	}
	if len(res.Categories) != 2 ||
		res.Categories[0] != CategorySubstanceAbuse || res.Categories[1] != CategorySevereDepression {
		t.Errorf("expected deduplicated categories in first-seen order, got %v", res.Categories)
	}
	if !approxEqual(res.ConfidenceScore, 0.55) {
		t.Errorf("expected mean confidence 0.55, got %v", res.ConfidenceScore)
	}
	if !approxEqual(res.FalsePositiveLikelihood, 0.3) {
		t.Errorf("expected mean false positive rate 0.3, got %v", res.FalsePositiveLikelihood)
	}
	if len(res.TriggeredKeywords) != 3 || res.TriggeredKeywords[1].EntryID != "b" ||
		res.TriggeredKeywords[1].ResolvedConfidence != 0.7 {
		t.Errorf("unexpected triggered keywords: %+v", res.TriggeredKeywords)
	}
	// HIGH below 0.6 falls through to the confidence rule.
	if res.RecommendedAction != ActionClinicalReview {
		t.Errorf("expected CLINICAL_REVIEW, got %s", res.RecommendedAction)
	}

	wantNotes := []string{
		"Evidence A (Confidence: 50%)",
		"Evidence B (Confidence: 70%)",
		"Evidence C (Confidence: 45%)",
	}
	if len(res.ClinicalNotes) != len(wantNotes) {
		t.Fatalf("expected %d notes, got %v", len(wantNotes), res.ClinicalNotes)
	}
	for i, w := range wantNotes {
		if res.ClinicalNotes[i] != w {
			t.Errorf("note %d = %q, want %q", i, res.ClinicalNotes[i], w)
		}
	}
}

func TestAggregate_NoteRoundsConfidence(t *testing.T) {
	res := Aggregate([]Candidate{candidate("a", CategoryPsychosis, SeverityModerate, 0.666, 0.2, "PANSS")}, nil)
	if res.ClinicalNotes[0] != "PANSS (Confidence: 67%)" {
		t.Errorf("unexpected note %q", res.ClinicalNotes[0])
	}
}

func TestContextAdjustment(t *testing.T) {
	tests := []struct {
		name string
		pc   *PatientContext
		want float64
	}{
		{"nil context", nil, 1.0},
		{"no factors", &PatientContext{}, 1.0},
		{"unrecognised factor", &PatientContext{RiskFactors: []string{"insomnia"}}, 1.0},
		{"one factor", &PatientContext{RiskFactors: []string{"recent_loss"}}, 1.1},
		{"two factors", &PatientContext{RiskFactors: []string{"previous_attempt", "family_history"}}, 1.2},
		{"duplicates count once", &PatientContext{RiskFactors: []string{"recent_loss", " Recent_Loss ", "RECENT_LOSS"}}, 1.1},
		{"all four", &PatientContext{RiskFactors: []string{"previous_attempt", "family_history", "recent_loss", "substance_use", "insomnia"}}, 1.4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ContextAdjustment(tt.pc)
			if !approxEqual(got, tt.want) {
				t.Errorf("ContextAdjustment() = %v, want %v", got, tt.want)
			}
			if got > 1.5 {
				t.Errorf("adjustment %v exceeds cap", got)
			}
		})
	}
}

func TestAggregate_PatientContextScalesAndClamps(t *testing.T) {
	pc := &PatientContext{RiskFactors: []string{"previous_attempt", "recent_loss"}}

	res := Aggregate([]Candidate{candidate("a", CategorySevereDepression, SeverityHigh, 0.5, 0.3, "BHS")}, pc)
	if !approxEqual(res.ConfidenceScore, 0.6) {
		t.Errorf("expected 0.5 x 1.2 = 0.6, got %v", res.ConfidenceScore)
	}

	res = Aggregate([]Candidate{candidate("a", CategorySuicidalIdeation, SeverityCritical, 0.9, 0.1, "C-SSRS")}, pc)
	if res.ConfidenceScore != 1.0 {
		t.Errorf("expected final confidence clamped to 1.0, got %v", res.ConfidenceScore)
	}
}

func TestAggregate_RiskFactorNote(t *testing.T) {
	survivors := []Candidate{candidate("a", CategorySevereDepression, SeverityHigh, 0.7, 0.3, "BHS")}

	res := Aggregate(survivors, &PatientContext{RiskFactors: []string{"Recent_Loss", "insomnia", "recent_loss", " "}})
	last := res.ClinicalNotes[len(res.ClinicalNotes)-1]
	if last != "Patient risk factors present: recent_loss, insomnia" {
		t.Errorf("unexpected risk factor note %q", last)
	}

	for _, pc := range []*PatientContext{nil, {}, {RiskFactors: []string{""}}} {
		res := Aggregate(survivors, pc)
		if len(res.ClinicalNotes) != 1 {
			t.Errorf("expected no risk factor note for %+v, got %v", pc, res.ClinicalNotes)
		}
	}
}

func TestRecommendAction(t *testing.T) {
	tests := []struct {
		severity   Severity
		confidence float64
		want       RecommendedAction
	}{
		{SeverityImminent, 0.81, ActionImmediateIntervention},
		{SeverityImminent, 0.8, ActionClinicalReview},
		{SeverityImminent, 0.4, ActionMonitorClosely},
		{SeverityCritical, 0.71, ActionImmediateIntervention},
		{SeverityCritical, 0.7, ActionClinicalReview},
		{SeverityHigh, 0.61, ActionUrgentFollowup},
		{SeverityHigh, 0.6, ActionClinicalReview},
		{SeverityHigh, 0.5, ActionMonitorClosely},
		{SeverityModerate, 0.31, ActionClinicalReview},
		{SeverityModerate, 0.95, ActionClinicalReview},
		{SeverityLow, 0.55, ActionClinicalReview},
		{SeverityLow, 0.4, ActionMonitorClosely},
	}
	for _, tt := range tests {
		if got := recommendAction(tt.severity, tt.confidence); got != tt.want {
			t.Errorf("recommendAction(%v, %v) = %s, want %s", tt.severity, tt.confidence, got, tt.want)
		}
	}
}
