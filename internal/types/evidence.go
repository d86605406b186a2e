package types

import "strings"

// EvidenceType is the closed set of evidence categories.
type EvidenceType string

const (
	EvidenceUserQuote             EvidenceType = "user_quote"
	EvidenceBehavioralObservation EvidenceType = "behavioral_observation"
	EvidenceSupportTicket         EvidenceType = "support_ticket"
	EvidenceAnalyticsData         EvidenceType = "analytics_data"
	EvidenceStakeholderInput      EvidenceType = "stakeholder_input"
	EvidenceCompetitorIntel       EvidenceType = "competitor_intel"
	EvidenceMarketResearch        EvidenceType = "market_research"
	// EvidenceUnknown marks provider output outside the closed set.
	EvidenceUnknown EvidenceType = "unknown"
)

// EvidenceTypes lists the valid evidence types in display order.
var EvidenceTypes = []EvidenceType{
	EvidenceUserQuote,
	EvidenceBehavioralObservation,
	EvidenceSupportTicket,
	EvidenceAnalyticsData,
	EvidenceStakeholderInput,
	EvidenceCompetitorIntel,
	EvidenceMarketResearch,
}

// Valid reports whether t is one of the closed set.
func (t EvidenceType) Valid() bool {
	for _, v := range EvidenceTypes {
		if t == v {
			return true
		}
	}
	return false
}

// ParseEvidenceType normalizes case and separators; anything else is unknown.
func ParseEvidenceType(s string) EvidenceType {
	t := EvidenceType(normalizeTag(s))
	if t.Valid() {
		return t
	}
	return EvidenceUnknown
}

// Strength is the evidentiary weight of a chunk.
type Strength string

const (
	StrengthStrong   Strength = "strong"
	StrengthModerate Strength = "moderate"
	StrengthWeak     Strength = "weak"
	StrengthUnknown  Strength = "unknown"
)

// ParseStrength maps free text onto the strength scale.
func ParseStrength(s string) Strength {
	switch Strength(normalizeTag(s)) {
	case StrengthStrong:
		return StrengthStrong
	case StrengthModerate:
		return StrengthModerate
	case StrengthWeak:
		return StrengthWeak
	default:
		return StrengthUnknown
	}
}

// Verdict is the ordered outcome of testing a hypothesis.
type Verdict string

const (
	VerdictRefuted            Verdict = "REFUTED"
	VerdictNotSupported       Verdict = "NOT_SUPPORTED"
	VerdictInconclusive       Verdict = "INCONCLUSIVE"
	VerdictPartiallySupported Verdict = "PARTIALLY_SUPPORTED"
	VerdictSupported          Verdict = "SUPPORTED"
)

var verdictRank = map[Verdict]int{
	VerdictRefuted:            0,
	VerdictNotSupported:       1,
	VerdictInconclusive:       2,
	VerdictPartiallySupported: 3,
	VerdictSupported:          4,
}

// Rank orders verdicts from REFUTED (0) to SUPPORTED (4); -1 when invalid.
func (v Verdict) Rank() int {
	if r, ok := verdictRank[v]; ok {
		return r
	}
	return -1
}

// Valid reports whether v is on the five-value scale.
func (v Verdict) Valid() bool { return v.Rank() >= 0 }

// ParseVerdict accepts "Partially Supported", "partially-supported" and
// similar spellings. ok is false for anything off the scale.
func ParseVerdict(s string) (Verdict, bool) {
	v := Verdict(strings.ToUpper(normalizeTag(s)))
	return v, v.Valid()
}

// ConfidenceLevel is the four-step confidence scale used by analysis.
type ConfidenceLevel string

const (
	ConfidenceInsufficient ConfidenceLevel = "insufficient"
	ConfidenceLow          ConfidenceLevel = "low"
	ConfidenceMedium       ConfidenceLevel = "medium"
	ConfidenceHigh         ConfidenceLevel = "high"
)

var confidenceRank = map[ConfidenceLevel]int{
	ConfidenceInsufficient: 0,
	ConfidenceLow:          1,
	ConfidenceMedium:       2,
	ConfidenceHigh:         3,
}

// Rank orders confidence levels; -1 when invalid.
func (c ConfidenceLevel) Rank() int {
	if r, ok := confidenceRank[c]; ok {
		return r
	}
	return -1
}

// ParseConfidence maps free text onto the scale; ok is false when off it.
func ParseConfidence(s string) (ConfidenceLevel, bool) {
	c := ConfidenceLevel(normalizeTag(s))
	return c, c.Rank() >= 0
}

// Intent is the closed category a user turn is routed to.
type Intent string

const (
	IntentExtraction           Intent = "extraction"
	IntentHypothesisTest       Intent = "hypothesis_test"
	IntentFindPatterns         Intent = "find_patterns"
	IntentStakeholderSummary   Intent = "stakeholder_summary"
	IntentCounterEvidence      Intent = "counter_evidence"
	IntentConfidenceAssessment Intent = "confidence_assessment"
	IntentGeneralQuestion      Intent = "general_question"
)

// Intents lists the closed intent set.
var Intents = []Intent{
	IntentExtraction,
	IntentHypothesisTest,
	IntentFindPatterns,
	IntentStakeholderSummary,
	IntentCounterEvidence,
	IntentConfidenceAssessment,
	IntentGeneralQuestion,
}

// ParseIntent normalizes s; ok is false for anything outside the set.
func ParseIntent(s string) (Intent, bool) {
	in := Intent(normalizeTag(s))
	for _, v := range Intents {
		if in == v {
			return in, true
		}
	}
	return in, false
}

// RequiresEvidence reports whether the intent analyzes existing evidence.
func (i Intent) RequiresEvidence() bool {
	switch i {
	case IntentExtraction, IntentGeneralQuestion:
		return false
	default:
		return true
	}
}

func normalizeTag(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(s)
}
