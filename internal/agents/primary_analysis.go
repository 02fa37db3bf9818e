package agents

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Kocoro-lab/callcenter-orchestrator/internal/llm"
)

// LLMAnalysis is the structured judgment requested from the model.
type LLMAnalysis struct {
	Intent                string   `json:"intent"`
	Emotion               string   `json:"emotion"`
	Confidence            float64  `json:"confidence"`
	EmotionConfidence     *float64 `json:"emotion_confidence,omitempty"`
	Response              string   `json:"response"`
	Reasoning             []string `json:"reasoning"`
	RequiresClarification bool     `json:"requires_clarification"`
	SuggestedActions      []string `json:"suggested_actions"`
}

// AnalysisError explains why an LLM analysis could not be used.
type AnalysisError struct {
	// Cause is a short metric-safe label: the llm status, "invalid_json" or "schema".
	Cause string
	Err   error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("llm analysis failed (%s): %v", e.Cause, e.Err)
}

func (e *AnalysisError) Unwrap() error { return e.Err }

// analysisCause returns the label of an analysis failure.
func analysisCause(err error) string {
	var ae *AnalysisError
	if errors.As(err, &ae) {
		return ae.Cause
	}
	return "error"
}

var primaryAnalysisSchema = llm.MustCompileSchema("primary_analysis", `{
  "type": "object",
  "required": ["intent", "emotion", "confidence", "response"],
  "properties": {
    "intent": {"type": "string", "minLength": 1},
    "emotion": {"type": "string", "minLength": 1},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "emotion_confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "response": {"type": "string"},
    "reasoning": {"type": "array", "items": {"type": "string"}},
    "requires_clarification": {"type": "boolean"},
    "suggested_actions": {"type": "array", "items": {"type": "string"}}
  }
}`)

const primarySystemPrompt = `You are the first-line customer service agent of a call center.
Classify the customer's intent and emotion and draft a short, empathetic reply.
Never promise outcomes, never give legal advice, never use absolute words such as "guarantee" or "always".
Respond with a single JSON object and nothing else.`

func buildPrimaryPrompt(in AgentInput, knowledge string) string {
	var b strings.Builder
	b.WriteString("Customer message:\n")
	b.WriteString(in.Content)
	b.WriteString("\n\nConversation context:\n")
	b.WriteString(in.Context.Summary())
	if knowledge != "" {
		b.WriteString("\n\nRelevant knowledge:\n")
		b.WriteString(knowledge)
	}
	if in.SuggestedIntent != "" || in.SuggestedEmotion != "" {
		fmt.Fprintf(&b, "\n\nUpstream hints: intent=%s emotion=%s", in.SuggestedIntent, in.SuggestedEmotion)
	}
	b.WriteString("\n\nAllowed intents: ")
	b.WriteString(joinLabels(AllIntents))
	b.WriteString("\nAllowed emotions: ")
	b.WriteString(joinLabels(AllEmotions))
	b.WriteString(`

Return JSON with fields: intent, emotion, confidence (0-1), emotion_confidence (0-1),
response, reasoning (array of strings), requires_clarification (bool), suggested_actions (array of strings).`)
	return b.String()
}

func joinLabels[T ~string](vals []T) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = string(v)
	}
	return strings.Join(parts, ", ")
}

// analyze asks the model for an analysis. Every failure mode is an *AnalysisError.
func (a *PrimaryAgent) analyze(ctx context.Context, in AgentInput, knowledge string) (LLMAnalysis, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.LLMTimeout)
	defer cancel()

	resp := a.llm.Complete(ctx, llm.Request{
		Prompt:       buildPrimaryPrompt(in, knowledge),
		SystemPrompt: primarySystemPrompt,
		Config: llm.GenerationConfig{
			Temperature: a.cfg.Temperature,
			MaxTokens:   a.cfg.MaxTokens,
			JSONMode:    true,
		},
		Caller: string(AgentPrimary),
	})
	if !resp.OK() {
		msg := resp.Error
		if msg == "" {
			msg = "empty completion"
		}
		return LLMAnalysis{}, &AnalysisError{Cause: string(resp.Status), Err: errors.New(msg)}
	}

	var out LLMAnalysis
	if err := primaryAnalysisSchema.Decode(resp.Content, &out); err != nil {
		cause := "schema"
		if errors.Is(err, llm.ErrNoJSON) {
			cause = "invalid_json"
		}
		return LLMAnalysis{}, &AnalysisError{Cause: cause, Err: err}
	}
	return out, nil
}

// intentMatch is the keyword classifier's verdict.
type intentMatch struct {
	intent     Intent
	confidence float64
	keywords   []string
}

func detectIntent(text string) intentMatch {
	best := intentMatch{intent: IntentUnknown, confidence: 0.30}
	for _, intent := range AllIntents {
		matched := matchTerms(text, intentKeywords[intent])
		if len(matched) > len(best.keywords) {
			best = intentMatch{intent: intent, keywords: matched}
		}
	}
	if best.intent != IntentUnknown {
		best.confidence = round3(min(0.95, 0.5+0.12*float64(len(best.keywords))))
	}
	return best
}

// emotionMatch is the keyword emotion detector's verdict.
type emotionMatch struct {
	emotion    EmotionalState
	confidence float64
	closing    bool
	factor     string
}

func detectEmotion(text string) emotionMatch {
	if p, ok := firstTerm(text, closingPhrases); ok {
		return emotionMatch{emotion: EmotionSatisfied, confidence: 0.92, closing: true, factor: p}
	}
	if p, ok := firstTerm(text, unresolvedPhrases); ok {
		return emotionMatch{emotion: EmotionFrustrated, confidence: 0.85, factor: p}
	}

	best := emotionMatch{emotion: EmotionNeutral, confidence: 0.60}
	bestWeight := 0.0
	for _, table := range emotionTables {
		weight := 0.0
		var hits []string
		for _, wt := range table.terms {
			if matchTerm(text, wt.term) {
				weight += wt.weight
				hits = append(hits, wt.term)
			}
		}
		if weight > bestWeight {
			bestWeight = weight
			best = emotionMatch{
				emotion:    table.emotion,
				confidence: round3(min(table.cap, 0.5+0.15*weight)),
				factor:     strings.Join(hits, ", "),
			}
		}
	}
	return best
}

func firstTerm(text string, terms []string) (string, bool) {
	for _, t := range terms {
		if matchTerm(text, t) {
			return t, true
		}
	}
	return "", false
}

// draftResponse renders the template reply with an empathy prefix.
func draftResponse(intent Intent, emotion EmotionalState, closing bool) string {
	if closing {
		return closingTemplate
	}
	tmpl, ok := responseTemplates[intent]
	if !ok {
		tmpl = responseTemplates[IntentUnknown]
	}
	return empathyPrefixes[emotion] + tmpl
}
