package analysis

const hypothesisSystemPrompt = `You test product hypotheses against research evidence.

Be adversarial: look for counter-evidence as hard as for confirmation. Show all
relevant evidence, quantify ("3 of 5 users"), separate direct statements from
inferred signals, and trace every conclusion to evidence IDs. Stakeholder
opinion is not more valid than user evidence.

Confidence levels:
- high: several evidence types, consistent pattern, no significant counter-evidence
- medium: clear pattern but few evidence types, or some counter-evidence
- low: thin evidence, contradictory signals or significant gaps
- insufficient: too little or the wrong kind of evidence to judge

When unsure, choose the lower confidence.`

const hypothesisPromptTemplate = `## Hypothesis to test
%s

## Available evidence
%s

Restate the hypothesis and note any assumptions. Sort every evidence chunk into
supporting, counter or neutral. Identify gaps: what evidence would exist if the
hypothesis were true or false? Then render a verdict:
SUPPORTED, PARTIALLY_SUPPORTED, INCONCLUSIVE, NOT_SUPPORTED or REFUTED.

Respond with JSON:
{"hypothesis_restated": "...", "assumptions_made": ["..."],
 "supporting_evidence": [{"evidence_id": "...", "content_summary": "...", "relevance": "direct|indirect|weak", "reasoning": "..."}],
 "counter_evidence": [{"evidence_id": "...", "content_summary": "...", "severity": "major|minor|edge_case", "reasoning": "..."}],
 "neutral_evidence": [{"evidence_id": "...", "content_summary": "...", "reasoning": "..."}],
 "evidence_gaps": [{"gap": "...", "importance": "critical|important|nice_to_have", "how_to_fill": "..."}],
 "verdict": "...", "confidence": "high|medium|low|insufficient", "confidence_reasoning": "...",
 "reasoning_trace": ["Step 1: ..."], "verdict_summary": "2-3 sentences"}`

const challengePromptTemplate = `The PM challenges your hypothesis analysis.

## Challenge
%s

## Previous analysis
%s

Take the challenge seriously; the PM may have context you lack. Re-examine the
evidence and either revise the analysis or explain why it stands.

Respond with JSON:
{"verdict_changed": true|false, "verdict": "...", "confidence": "high|medium|low|insufficient",
 "explanation": "...", "changes": ["..."], "reasoning_trace": ["..."]}`

const synthesisSystemPrompt = `You synthesize product research without introducing bias.

Let patterns emerge rather than forcing categories. Count carefully ("5 of 8
users"). Not every mention is a pattern. Contradictions are valuable. Every
pattern cites evidence IDs. Say "may indicate", not "proves".

Pattern strength:
- strong: 60%+ of evidence points the same way from multiple sources
- moderate: 40-60% consistency, or a strong signal from few sources
- weak: under 40% or a single source type; flag for validation`

const patternPromptTemplate = `## Evidence
%s

## Context
%s

Read all evidence before naming patterns. For each pattern count the supporting
chunks against the total, list counter-examples and rate its strength. Call out
contradictions, surprises and notable gaps.

Respond with JSON:
{"patterns": [{"theme": "...", "description": "...",
   "evidence_support": [{"evidence_id": "...", "how_it_supports": "..."}],
   "counter_evidence": ["..."], "evidence_count": "X of Y relevant chunks",
   "confidence": "strong|moderate|weak", "confidence_reasoning": "..."}],
 "contradictions": [{"description": "...", "evidence_a": "...", "evidence_b": "...", "possible_explanations": ["..."]}],
 "gaps": [{"description": "...", "why_notable": "...", "how_to_fill": "..."}],
 "surprises": [{"finding": "...", "evidence": "...", "implications": "..."}],
 "synthesis_summary": "3-5 sentences", "reasoning_trace": ["..."]}`

const clusterPromptTemplate = `## Evidence to cluster
%s

Group chunks that concern the same underlying issue and name each cluster.
Chunks may belong to several clusters or to none; say so.

Respond with JSON:
{"clusters": [{"name": "...", "description": "...", "evidence_ids": ["..."], "unifying_theme": "...",
   "strength": "strong|moderate|weak", "internal_contradictions": ["..."], "outliers": ["..."]}],
 "unclustered": [{"evidence_id": "...", "reason": "..."}],
 "cross_cluster_connections": [{"clusters": ["...", "..."], "relationship": "..."}],
 "reasoning_trace": ["..."]}`

const confidencePromptTemplate = `## Problem or opportunity
%s

## Available evidence
%s

Rate the evidence behind this problem on five dimensions and explain each:
quantity, diversity (source types), consistency, quality (direct vs inferred,
strong vs weak) and gaps. Then give an overall confidence.

Respond with JSON:
{"problem_evaluated": "...",
 "dimensions": {
   "quantity": {"score": "high|medium|low", "reasoning": "..."},
   "diversity": {"score": "high|medium|low", "source_types": ["..."], "reasoning": "..."},
   "consistency": {"score": "high|medium|low", "reasoning": "..."},
   "quality": {"score": "high|medium|low", "reasoning": "..."},
   "gaps": {"severity": "critical|moderate|minor", "key_gaps": ["..."], "reasoning": "..."}},
 "overall_confidence": "high|medium|low|insufficient", "overall_reasoning": "...",
 "what_would_increase_confidence": ["..."], "what_would_decrease_confidence": ["..."],
 "recommendation": "Proceed|Gather more evidence|Pivot"}`

const noPatternContext = "No specific context provided."
