package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"evidencelab/internal/analysis"
	"evidencelab/internal/articulation"
	"evidencelab/internal/extraction"
	"evidencelab/internal/logging"
	"evidencelab/internal/perception"
	"evidencelab/internal/types"
)

// Commands run outside intent routing: the CLI calls them directly. Each one
// is still a turn, so it is serialized and recorded like HandleTurn.

// ErrNothingToRefine is returned when the session holds no extraction yet.
var ErrNothingToRefine = errors.New("no extraction to refine")

// ErrNoHypothesis is returned when a challenge has no prior hypothesis test.
var ErrNoHypothesis = errors.New("no hypothesis test to challenge")

// ErrNoSummary is returned when there is no stakeholder summary to export.
var ErrNoSummary = errors.New("no stakeholder summary in this session")

// forced builds a handler for a fixed intent, skipping classification.
func forced(intent types.Intent, rationale string, h handler) handler {
	return func(ctx context.Context, t *turn) (*outcome, error) {
		t.result.Classification = perception.Classification{
			Intent:     intent,
			Confidence: "high",
			Rationale:  rationale,
			Parameters: map[string]string{},
		}
		return h(ctx, t)
	}
}

// =============================================================================
// EXTRACTION
// =============================================================================

// IngestText runs an extraction turn for text read from a file.
func (e *Engine) IngestText(ctx context.Context, name, text string) (*TurnResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%s: nothing to ingest", name)
	}
	logging.Ingest("ingesting %s (%d bytes)", name, len(text))
	return e.runTurn(ctx, text, forced(types.IntentExtraction, "ingested from "+name,
		func(ctx context.Context, t *turn) (*outcome, error) {
			return e.extract(ctx, t.view, text)
		}))
}

// Refine re-extracts the most recent source text with feedback. Chunks whose
// content is already stored for that source are not added again.
func (e *Engine) Refine(ctx context.Context, feedback string) (*TurnResult, error) {
	return e.runTurn(ctx, feedback, forced(types.IntentExtraction, "refinement requested",
		func(ctx context.Context, t *turn) (*outcome, error) {
			raw, previous := lastExtraction(t.view)
			if previous == nil {
				return nil, ErrNothingToRefine
			}
			res, err := e.pipeline.Refine(ctx, raw, previous, feedback)
			if err != nil {
				return nil, err
			}
			if res.Degraded != nil {
				return &outcome{
					reply:      renderDegraded("refinement", res.CallID),
					actionType: "extraction_refinement",
					reasoning:  res.ReasoningTrace,
				}, nil
			}

			seen := make(map[string]bool, len(previous.Chunks))
			for _, c := range previous.Chunks {
				seen[c.Content] = true
			}
			keep, dropped := withContent(res.Chunks)
			var fresh []types.ChunkInput
			for _, c := range keep {
				if !seen[c.Content] {
					fresh = append(fresh, c)
				}
			}
			if _, err := e.store.BulkAddEvidenceChunks(ctx, t.view.ID, fresh); err != nil {
				return nil, err
			}
			logging.Session("refinement added %d of %d chunks to session %d", len(fresh), len(res.Chunks), t.view.ID)

			reply := renderExtraction(res, e.pipeline.Validate(res.Chunks), dropped)
			if len(res.ChangesMade) > 0 {
				var b strings.Builder
				b.WriteString("**Changes made:**\n")
				for _, c := range res.ChangesMade {
					fmt.Fprintf(&b, "- %s\n", c)
				}
				reply = b.String() + "\n" + reply
			}
			return &outcome{reply: reply, actionType: "extraction_refinement", reasoning: res.ReasoningTrace}, nil
		}))
}

// lastExtraction rebuilds the previous extraction from the newest chunk's
// source text and every chunk sharing it.
func lastExtraction(view *types.SessionView) (string, *extraction.ExtractionResult) {
	if len(view.EvidenceChunks) == 0 {
		return "", nil
	}
	raw := view.EvidenceChunks[len(view.EvidenceChunks)-1].SourceRaw
	prev := &extraction.ExtractionResult{Concerns: []string{}, Skipped: []string{}}
	for _, c := range view.EvidenceChunks {
		if c.SourceRaw == raw {
			prev.Chunks = append(prev.Chunks, c.Input())
		}
	}
	return raw, prev
}

// =============================================================================
// ANALYSIS
// =============================================================================

// Challenge pushes back on the most recent hypothesis test.
func (e *Engine) Challenge(ctx context.Context, challenge string) (*TurnResult, error) {
	return e.runTurn(ctx, challenge, forced(types.IntentHypothesisTest, "hypothesis challenge",
		func(ctx context.Context, t *turn) (*outcome, error) {
			last := lastOutput(t.view, types.OutputHypothesisTest)
			if last == nil {
				return nil, ErrNoHypothesis
			}
			previous, err := decodeOutput[analysis.HypothesisResult](*last)
			if err != nil {
				return nil, err
			}
			res, err := e.analysis.ChallengeHypothesis(ctx, previous, challenge, t.view.EvidenceChunks)
			if err != nil {
				return nil, err
			}
			if res.Degraded != nil {
				return &outcome{
					reply:      renderDegraded("challenge", res.CallID),
					actionType: "hypothesis_challenge",
					reasoning:  res.ReasoningTrace,
				}, nil
			}
			out, err := e.persist(ctx, t.view.ID, types.Output{
				OutputType:          types.OutputHypothesisTest,
				Title:               "Challenge: " + truncate(challenge, 100),
				ReasoningTrace:      res.ReasoningTrace,
				EvidenceUsed:        last.EvidenceUsed,
				ConfidenceLevel:     string(res.Confidence),
				ConfidenceReasoning: res.Explanation,
				Caveats:             res.Changes,
			}, res)
			if err != nil {
				return nil, err
			}
			return &outcome{
				reply:      renderChallenge(res),
				actionType: "hypothesis_challenge",
				reasoning:  res.ReasoningTrace,
				output:     out,
			}, nil
		}))
}

// Cluster groups the session's evidence. Clusters are not persisted.
func (e *Engine) Cluster(ctx context.Context) (*TurnResult, error) {
	return e.runTurn(ctx, "/clusters", forced(types.IntentFindPatterns, "clustering requested",
		func(ctx context.Context, t *turn) (*outcome, error) {
			if !t.view.HasEvidence() {
				return &outcome{reply: noEvidenceReply(types.IntentFindPatterns)}, nil
			}
			res, err := e.analysis.ClusterEvidence(ctx, t.view.EvidenceChunks)
			if err != nil {
				return nil, err
			}
			if res.Degraded != nil {
				return &outcome{reply: renderDegraded("clustering", res.CallID), actionType: "clustering", reasoning: res.ReasoningTrace}, nil
			}
			return &outcome{reply: renderClusters(res), actionType: "clustering", reasoning: res.ReasoningTrace}, nil
		}))
}

// =============================================================================
// NARRATIVE
// =============================================================================

// ResearchGaps lists what research is missing for the session's topic.
func (e *Engine) ResearchGaps(ctx context.Context, decisions string) (*TurnResult, error) {
	return e.runTurn(ctx, "/gaps "+decisions, forced(types.IntentConfidenceAssessment, "research gaps requested",
		func(ctx context.Context, t *turn) (*outcome, error) {
			if !t.view.HasEvidence() {
				return &outcome{reply: noEvidenceReply(types.IntentConfidenceAssessment)}, nil
			}
			topic := orDefault(t.view.OpportunityStatement, t.view.Title)
			res, err := e.narrative.ResearchGaps(ctx, topic, t.view.EvidenceChunks, decisions)
			if err != nil {
				return nil, err
			}
			if res.Degraded != nil {
				return &outcome{reply: renderDegraded("research gaps", res.CallID), actionType: "research_gaps", reasoning: res.ReasoningTrace}, nil
			}
			out, err := e.persist(ctx, t.view.ID, types.Output{
				OutputType:        types.OutputResearchGaps,
				Title:             "Research gaps: " + truncate(topic, 100),
				ReasoningTrace:    res.ReasoningTrace,
				GapsIdentified:    res.GapDescriptions(),
				SuggestedResearch: res.SuggestedResearch(),
			}, res)
			if err != nil {
				return nil, err
			}
			return &outcome{reply: renderGaps(res), actionType: "research_gaps", reasoning: res.ReasoningTrace, output: out}, nil
		}))
}

// PersuasionGuide prepares responses to expected stakeholder objections.
func (e *Engine) PersuasionGuide(ctx context.Context, recommendation string, objections []string) (*TurnResult, error) {
	return e.runTurn(ctx, "/guide "+recommendation, forced(types.IntentStakeholderSummary, "persuasion guide requested",
		func(ctx context.Context, t *turn) (*outcome, error) {
			if !t.view.HasEvidence() {
				return &outcome{reply: noEvidenceReply(types.IntentStakeholderSummary)}, nil
			}
			res, err := e.narrative.PersuasionGuide(ctx, recommendation, t.view.EvidenceChunks, objections, t.view.OpportunityStatement)
			if err != nil {
				return nil, err
			}
			if res.Degraded != nil {
				return &outcome{reply: renderDegraded("persuasion guide", res.CallID), actionType: "persuasion_guide", reasoning: res.ReasoningTrace}, nil
			}
			out, err := e.persist(ctx, t.view.ID, types.Output{
				OutputType:     types.OutputPersuasionGuide,
				Title:          "Persuasion guide: " + truncate(recommendation, 100),
				ReasoningTrace: res.ReasoningTrace,
				Caveats:        res.AreasOfUncertainty,
			}, res)
			if err != nil {
				return nil, err
			}
			return &outcome{reply: renderGuide(res), actionType: "persuasion_guide", reasoning: res.ReasoningTrace, output: out}, nil
		}))
}

// ExportSummary formats the newest stakeholder summary of the current session.
func (e *Engine) ExportSummary(ctx context.Context, format articulation.ExportFormat) (string, error) {
	id, err := e.EnsureSession(ctx)
	if err != nil {
		return "", err
	}
	outputs, err := e.store.GetOutputs(ctx, id, types.OutputStakeholderSummary)
	if err != nil {
		return "", err
	}
	if len(outputs) == 0 {
		return "", ErrNoSummary
	}
	summary, err := decodeOutput[articulation.StakeholderSummary](outputs[len(outputs)-1])
	if err != nil {
		return "", err
	}
	return articulation.FormatForExport(summary, format)
}

func lastOutput(view *types.SessionView, kind types.OutputType) *types.Output {
	for i := len(view.Outputs) - 1; i >= 0; i-- {
		if view.Outputs[i].OutputType == kind {
			o := view.Outputs[i]
			return &o
		}
	}
	return nil
}

// =============================================================================
// EXPORT / IMPORT
// =============================================================================

// ExportSession returns the session view as indented JSON.
func (e *Engine) ExportSession(ctx context.Context, id int64) ([]byte, error) {
	view, err := e.store.SessionView(ctx, id)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(view, "", "  ")
}

// ExportChunks returns only the session's evidence chunks as a JSON array.
func (e *Engine) ExportChunks(ctx context.Context, id int64) ([]byte, error) {
	chunks, err := e.store.GetEvidenceChunks(ctx, id)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(chunks, "", "  ")
}

// Import bulk-adds chunks from either export shape into the current session.
// Identity, timestamps and hypothesis annotations are not carried over.
func (e *Engine) Import(ctx context.Context, data []byte) ([]types.EvidenceChunk, error) {
	inputs, err := decodeImport(data)
	if err != nil {
		return nil, err
	}
	id, err := e.EnsureSession(ctx)
	if err != nil {
		return nil, err
	}
	sem := e.lockFor(id)
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer sem.Release(1)

	chunks, err := e.store.BulkAddEvidenceChunks(ctx, id, inputs)
	if err != nil {
		return nil, fmt.Errorf("failed to import evidence: %w", err)
	}
	logging.Session("imported %d chunks into session %d", len(chunks), id)
	return chunks, nil
}

func decodeImport(data []byte) ([]types.ChunkInput, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("import data is empty")
	}

	var chunks []types.EvidenceChunk
	if data[0] == '[' {
		if err := json.Unmarshal(data, &chunks); err != nil {
			return nil, fmt.Errorf("failed to decode chunk array: %w", err)
		}
	} else {
		var view types.SessionView
		if err := json.Unmarshal(data, &view); err != nil {
			return nil, fmt.Errorf("failed to decode session export: %w", err)
		}
		chunks = view.EvidenceChunks
	}

	inputs := make([]types.ChunkInput, 0, len(chunks))
	for _, c := range chunks {
		in := c.Input()
		in.EvidenceType = types.ParseEvidenceType(string(in.EvidenceType))
		in.Strength = types.ParseStrength(string(in.Strength))
		inputs = append(inputs, in)
	}
	return inputs, nil
}
