// Package agents implements the three-stage decision pipeline: the primary
// agent drafts a reply, the supervisor reviews it and the escalation agent
// decides whether a human takes over.
package agents

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/callcenter-orchestrator/internal/knowledge"
	"github.com/Kocoro-lab/callcenter-orchestrator/internal/llm"
	"github.com/Kocoro-lab/callcenter-orchestrator/internal/metrics"
)

// ErrEmptyContent is returned for an input with no message text.
var ErrEmptyContent = errors.New("message content is empty")

// ErrMissingUpstream is returned when a downstream agent runs without the stage it reviews.
var ErrMissingUpstream = errors.New("upstream agent output missing")

// Agent is one stage of the pipeline.
type Agent interface {
	Type() AgentType
	Process(ctx context.Context, in AgentInput) (*AgentOutput, error)
	AssessConfidence(sig ConfidenceSignals) ConfidenceReport
}

// Config tunes the LLM calls an agent makes.
type Config struct {
	LLMTimeout  time.Duration `mapstructure:"llm_timeout"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
}

// DefaultConfig returns the settings used when none are configured.
func DefaultConfig() Config {
	return Config{LLMTimeout: 15 * time.Second, Temperature: 0.2, MaxTokens: 600}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.LLMTimeout <= 0 {
		c.LLMTimeout = d.LLMTimeout
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = d.MaxTokens
	}
	return c
}

const fallbackPenalty = 0.15

// PrimaryAgent classifies the customer message and drafts the reply.
type PrimaryAgent struct {
	llm       llm.Client
	knowledge knowledge.Lookup
	cfg       Config
	logger    *zap.Logger
}

// NewPrimaryAgent builds the primary agent. A nil client disables the LLM path.
func NewPrimaryAgent(client llm.Client, kb knowledge.Lookup, cfg Config, logger *zap.Logger) *PrimaryAgent {
	if client == nil {
		client = llm.Disabled{}
	}
	if kb == nil {
		kb = knowledge.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PrimaryAgent{llm: client, knowledge: kb, cfg: cfg.withDefaults(), logger: logger}
}

func (a *PrimaryAgent) Type() AgentType { return AgentPrimary }

// AssessConfidence applies the primary routing bands.
func (a *PrimaryAgent) AssessConfidence(sig ConfidenceSignals) ConfidenceReport {
	return NewConfidenceReport(sig, PrimaryThresholds)
}

// Process analyzes one customer message. LLM failures fall back to the
// keyword path and are never returned.
func (a *PrimaryAgent) Process(ctx context.Context, in AgentInput) (*AgentOutput, error) {
	start := time.Now()
	if strings.TrimSpace(in.Content) == "" {
		return nil, ErrEmptyContent
	}
	text := normalize(in.Content)
	intentHit := detectIntent(text)
	emotionHit := detectEmotion(text)

	var (
		intent       = intentHit.intent
		intentConf   = intentHit.confidence
		emotion      = emotionHit.emotion
		emotionConf  = emotionHit.confidence
		response     string
		method       = MethodFallback
		llmReasoning []string
		llmActions   []string
		clarify      bool
	)

	kb := a.knowledge.BuildContextForQuery(ctx, in.Content, in.CustomerID)
	analysis, err := a.analyze(ctx, in, kb)
	if err == nil {
		method = MethodLLM
		intent = ParseIntent(analysis.Intent)
		emotion = ParseEmotion(analysis.Emotion)
		intentConf = clamp01(analysis.Confidence)
		emotionConf = intentConf
		if analysis.EmotionConfidence != nil {
			emotionConf = clamp01(*analysis.EmotionConfidence)
		}
		response = strings.TrimSpace(analysis.Response)
		llmReasoning = analysis.Reasoning
		llmActions = analysis.SuggestedActions
		clarify = analysis.RequiresClarification
	} else {
		cause := analysisCause(err)
		metrics.AnalysisFallbacks.WithLabelValues(string(AgentPrimary), cause).Inc()
		a.logger.Warn("Primary analysis falling back to keywords",
			zap.String("interaction_id", in.InteractionID),
			zap.String("cause", cause),
			zap.Error(err),
		)
	}
	if response == "" {
		response = draftResponse(intent, emotion, emotionHit.closing)
	}

	decision := decisionFor(intent)
	ctxConf := contextConfidence(in.Context)
	overall := primaryScore(intentConf, emotionConf, ctxConf, emotion, method == MethodFallback)
	report := a.AssessConfidence(ConfidenceSignals{
		Overall:           overall,
		IntentConfidence:  intentConf,
		EmotionConfidence: emotionConf,
		ContextConfidence: ctxConf,
		Factors:           primaryFactors(intentConf, emotionConf, in.Context),
		Concerns:          primaryConcerns(intent, emotion, method, in.Context),
	})

	reasoning := []string{fmt.Sprintf("Analysis method: %s", method)}
	reasoning = append(reasoning,
		fmt.Sprintf("Detected intent: %s (%.2f)", intent, intentConf),
		fmt.Sprintf("Detected emotion: %s (%.2f)", emotion, emotionConf),
	)
	if method == MethodLLM {
		if len(llmReasoning) > 0 {
			reasoning = append(reasoning, "LLM reasoning: "+truncate(strings.Join(llmReasoning, " "), 200))
		}
	} else {
		factors := append([]string(nil), intentHit.keywords...)
		if emotionHit.factor != "" {
			factors = append(factors, emotionHit.factor)
		}
		if len(factors) > 0 {
			reasoning = append(reasoning, "Keyword factors: "+strings.Join(factors, ", "))
		} else {
			reasoning = append(reasoning, "Keyword factors: none")
		}
	}
	reasoning = append(reasoning, fmt.Sprintf("Decision: %s", decision))

	updates := primaryContextUpdates(intent, intentHit.keywords, in, emotionHit.closing)
	out := &AgentOutput{
		DecisionID:         uuid.New().String(),
		InteractionID:      in.InteractionID,
		AgentType:          AgentPrimary,
		DecisionType:       decision,
		DecisionSummary:    fmt.Sprintf("%s %s request (customer %s)", decision, intent, emotion),
		ResponseContent:    response,
		DetectedIntent:     intent,
		DetectedEmotion:    emotion,
		Confidence:         report,
		Reasoning:          reasoning,
		RequiresFollowup:   decision != DecisionRespond || clarify || len(updates.UnresolvedIssues) > 0,
		RecommendedActions: lo.Uniq(append(append([]string(nil), intentActions[intent]...), llmActions...)),
		ContextUpdates:     updates,
		AnalysisMethod:     method,
		ProcessedAt:        time.Now().UTC(),
	}
	if report.RequiresEscalation {
		out.EscalationTarget = AgentEscalation
	}
	out.ProcessingDurationMs = time.Since(start).Milliseconds()

	metrics.RecordAgentDecision(string(AgentPrimary), string(decision), string(method), report.OverallScore)
	metrics.DetectedIntents.WithLabelValues(string(intent)).Inc()
	metrics.DetectedEmotions.WithLabelValues(string(emotion)).Inc()
	a.logger.Debug("Primary decision",
		zap.String("interaction_id", in.InteractionID),
		zap.String("decision_id", out.DecisionID),
		zap.String("intent", string(intent)),
		zap.String("emotion", string(emotion)),
		zap.Float64("confidence", report.OverallScore),
		zap.String("method", string(method)),
	)
	return out, nil
}

func decisionFor(intent Intent) DecisionType {
	switch intent {
	case IntentUnknown:
		return DecisionClarify
	case IntentComplaint:
		return DecisionDefer
	default:
		return DecisionRespond
	}
}

// contextConfidence scores how much conversation history backs the analysis.
func contextConfidence(c *ShortTermContext) float64 {
	if c == nil {
		return 0.4
	}
	score := 0.5 + min(0.2, 0.05*float64(c.TurnCount))
	if len(c.KeyTopics) > 0 {
		score += 0.1
	}
	if len(c.IntentHistory) > 0 {
		score += 0.1
	}
	return round3(min(0.9, score))
}

// primaryScore combines the component confidences.
func primaryScore(intentConf, emotionConf, ctxConf float64, emotion EmotionalState, fallback bool) float64 {
	overall := 0.4*intentConf + 0.3*emotionConf + 0.3*ctxConf
	if fallback {
		overall -= fallbackPenalty
	}
	if emotion == EmotionSatisfied || emotionConf >= 0.85 {
		overall = min(0.95, overall+0.15)
	}
	if emotion == EmotionFrustrated {
		// Floor at 0.35 only stops the penalty; lower scores are not raised.
		overall = max(overall-0.10, min(overall, 0.35))
	}
	return round3(clamp01(overall))
}

func primaryFactors(intentConf, emotionConf float64, c *ShortTermContext) []string {
	var f []string
	if intentConf >= 0.7 {
		f = append(f, "strong intent signal")
	}
	if emotionConf >= 0.85 {
		f = append(f, "clear emotional signal")
	}
	if c != nil && c.TurnCount > 1 {
		f = append(f, "conversation history available")
	}
	return f
}

func primaryConcerns(intent Intent, emotion EmotionalState, method AnalysisMethod, c *ShortTermContext) []string {
	var out []string
	if method == MethodFallback {
		out = append(out, "keyword fallback used")
	}
	if intent == IntentUnknown {
		out = append(out, "intent unclear")
	}
	if emotion.HighAttention() {
		out = append(out, "customer is "+string(emotion))
	}
	if c == nil {
		out = append(out, "no conversation context")
	}
	return out
}

func primaryContextUpdates(intent Intent, keywords []string, in AgentInput, closing bool) ContextUpdates {
	var u ContextUpdates
	if intent != IntentUnknown {
		u.Topics = append(u.Topics, string(intent))
	}
	for i, k := range keywords {
		if i == 3 {
			break
		}
		u.Topics = append(u.Topics, strings.TrimSuffix(k, "*"))
	}
	u.Topics = lo.Uniq(u.Topics)
	if issueIntents[intent] {
		u.UnresolvedIssues = []string{fmt.Sprintf("%s: %s", intent, truncate(strings.TrimSpace(in.Content), 80))}
	}
	if closing && in.Context != nil && len(in.Context.UnresolvedIssues) > 0 {
		u.ResolvedIssues = append([]string(nil), in.Context.UnresolvedIssues...)
	}
	return u
}
