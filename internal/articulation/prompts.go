package articulation

const stakeholderSystemPrompt = `You help product managers turn research into clear, defensible summaries
for stakeholders.

Lead with insight, not process. Trace every claim to evidence. Do not oversell
weak evidence; when confidence is low, say so plainly. Keep it short.
Anticipate pushback and separate findings from recommendations.

Stakeholders have little time, want the "so what", will challenge conclusions
and need to justify decisions to their own stakeholders. Never overstate
evidence strength, always note significant gaps, and show both sides of mixed
evidence.`

const summaryPromptTemplate = `## Research topic
%s

## Evidence analyzed
%s

## Key patterns
%s

## Target stakeholder
%s

Write a stakeholder summary: a one-sentence headline, the evidence base, 3-5
key findings each traceable to evidence with its implication, a confidence
level with explanation, 2-3 caveats, 2-3 next steps, and a reasoning trace for
the PM.

Respond with JSON:
{"headline": "...", "evidence_base": "...",
 "key_findings": [{"finding": "...", "evidence_reference": "...", "implication": "..."}],
 "confidence": {"level": "high|medium|low", "explanation": "..."},
 "caveats": ["..."], "next_steps": [{"action": "...", "rationale": "..."}],
 "reasoning_trace": ["..."], "full_evidence_used": ["evidence ids"],
 "stakeholder_ready_text": "plain text ready to paste"}`

const counterPromptTemplate = `## The PM's assumption
%s

## Available evidence
%s

This is a debiasing exercise. Assume the PM is prone to confirmation bias.
Search for evidence that contradicts the assumption, offer alternative
explanations for the evidence that seems to support it, and state what would
disprove it.

Respond with JSON:
{"assumption_tested": "...",
 "counter_evidence": [{"evidence_id": "...", "content": "...", "how_it_contradicts": "...", "strength_of_contradiction": "strong|moderate|weak"}],
 "alternative_explanations": [{"for_evidence": "...", "alternative": "..."}],
 "what_would_disprove": ["..."],
 "devil_advocate_summary": "the strongest case against the assumption",
 "honest_assessment": "how confident the PM should be after this",
 "reasoning_trace": ["..."]}`

const persuasionPromptTemplate = `## The PM's recommendation
%s

## Supporting evidence
%s

## Likely objections
%s

## Additional context
%s

Help the PM persuade a skeptical stakeholder. Acknowledge the stakeholder's
view, answer each objection with specific evidence, be honest where an
objection has merit and suggest a fallback position.

Respond with JSON:
{"recommendation_summary": "...",
 "objection_responses": [{"objection": "...", "response": "...", "evidence_cited": ["..."],
   "merit_acknowledged": "...", "confidence_in_response": "high|medium|low"}],
 "areas_of_uncertainty": ["..."], "suggested_framing": "...",
 "fallback_position": "...", "suggested_script": "..."}`

const gapsPromptTemplate = `## Research topic
%s

## Evidence we have
%s

## Decisions this research must inform
%s

Find the unanswered questions and prioritize them by impact on the decision,
feasibility and risk of proceeding without the answer. Suggest how to fill each.

Respond with JSON:
{"topic_evaluated": "...", "current_evidence_summary": "...",
 "critical_gaps": [{"gap": "...", "why_critical": "...", "risk_if_unfilled": "...", "how_to_fill": "...",
   "effort_estimate": "low|medium|high", "suggested_timeline": "..."}],
 "important_gaps": [], "nice_to_have_gaps": [],
 "sufficient_evidence_areas": ["..."],
 "recommendation": "proceed or research more first?", "reasoning_trace": ["..."]}`
