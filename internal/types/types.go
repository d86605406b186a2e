// Package types holds the evidence-session data model shared by every layer.
package types

import "time"

// SessionStatus is the lifecycle state of a Session.
type SessionStatus string

const (
	SessionActive   SessionStatus = "active"
	SessionArchived SessionStatus = "archived"
)

// Session groups one line of research: its evidence, outputs and conversation.
type Session struct {
	ID                   int64         `json:"id"`
	Title                string        `json:"title"`
	OpportunityStatement string        `json:"opportunity_statement"`
	Status               SessionStatus `json:"status"`
	CreatedAt            time.Time     `json:"created_at"`
	UpdatedAt            time.Time     `json:"updated_at"`
}

// EvidenceChunk is one atomic, attributed unit of research evidence.
// Only SupportsHypothesis and HypothesisRelevance may change after creation.
type EvidenceChunk struct {
	ID                  int64        `json:"id"`
	SessionID           int64        `json:"session_id"`
	Content             string       `json:"content"`
	EvidenceType        EvidenceType `json:"evidence_type"`
	Source              string       `json:"source"`
	SourceRaw           string       `json:"source_raw"`
	Tags                []string     `json:"tags"`
	Strength            Strength     `json:"strength"`
	SupportsHypothesis  *bool        `json:"supports_hypothesis"`
	HypothesisRelevance string       `json:"hypothesis_relevance"`
	ExtractionReasoning string       `json:"extraction_reasoning"`
	CreatedAt           time.Time    `json:"created_at"`
}

// ChunkInput is the write shape for a new chunk.
type ChunkInput struct {
	Content             string       `json:"content"`
	EvidenceType        EvidenceType `json:"evidence_type"`
	Source              string       `json:"source"`
	SourceRaw           string       `json:"source_raw"`
	Tags                []string     `json:"tags"`
	Strength            Strength     `json:"strength"`
	ExtractionReasoning string       `json:"extraction_reasoning"`
}

// Input converts a stored chunk back to its write shape.
func (c EvidenceChunk) Input() ChunkInput {
	return ChunkInput{
		Content:             c.Content,
		EvidenceType:        c.EvidenceType,
		Source:              c.Source,
		SourceRaw:           c.SourceRaw,
		Tags:                c.Tags,
		Strength:            c.Strength,
		ExtractionReasoning: c.ExtractionReasoning,
	}
}

// OutputType tags a persisted analytical artifact.
type OutputType string

const (
	OutputHypothesisTest       OutputType = "hypothesis_test"
	OutputPatternSynthesis     OutputType = "pattern_synthesis"
	OutputStakeholderSummary   OutputType = "stakeholder_summary"
	OutputCounterEvidence      OutputType = "counter_evidence"
	OutputConfidenceAssessment OutputType = "confidence_assessment"
	OutputResearchGaps         OutputType = "research_gaps"
	OutputPersuasionGuide      OutputType = "persuasion_guide"
)

// Output is an append-only analytical artifact. Content is the serialized
// result payload.
type Output struct {
	ID                  int64      `json:"id"`
	SessionID           int64      `json:"session_id"`
	OutputType          OutputType `json:"output_type"`
	Title               string     `json:"title"`
	Content             string     `json:"content"`
	ReasoningTrace      []string   `json:"reasoning_trace"`
	EvidenceUsed        []int64    `json:"evidence_used"`
	EvidenceExcluded    []int64    `json:"evidence_excluded"`
	ConfidenceLevel     string     `json:"confidence_level"`
	ConfidenceReasoning string     `json:"confidence_reasoning"`
	GapsIdentified      []string   `json:"gaps_identified"`
	Caveats             []string   `json:"caveats"`
	SuggestedResearch   []string   `json:"suggested_research"`
	CreatedAt           time.Time  `json:"created_at"`
}

// Role identifies the speaker of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one append-only conversational turn.
type Message struct {
	ID         int64     `json:"id"`
	SessionID  int64     `json:"session_id"`
	Role       Role      `json:"role"`
	Content    string    `json:"content"`
	ActionType string    `json:"action_type,omitempty"`
	Reasoning  []string  `json:"reasoning,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// SessionView is a fully denormalized snapshot handed to presentation.
// It holds values only, never references into the store.
type SessionView struct {
	ID                   int64           `json:"id"`
	Title                string          `json:"title"`
	OpportunityStatement string          `json:"opportunity_statement"`
	Status               SessionStatus   `json:"status"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
	EvidenceChunks       []EvidenceChunk `json:"evidence_chunks"`
	Outputs              []Output        `json:"outputs"`
	Messages             []Message       `json:"messages"`
}

// HasEvidence reports whether the view carries any evidence chunks.
func (v *SessionView) HasEvidence() bool {
	return v != nil && len(v.EvidenceChunks) > 0
}
