package agents

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/callcenter-orchestrator/internal/llm"
)

type staticLookup string

func (s staticLookup) BuildContextForQuery(context.Context, string, string) string { return string(s) }

func newTestPrimary(t *testing.T, client llm.Client) *PrimaryAgent {
	t.Helper()
	return NewPrimaryAgent(client, nil, Config{LLMTimeout: time.Second}, zaptest.NewLogger(t))
}

func input(content string, c *ShortTermContext) AgentInput {
	return AgentInput{
		InteractionID: "int-1",
		MessageID:     "msg-1",
		Content:       content,
		ContentType:   "text",
		Context:       c,
		Timestamp:     time.Now(),
	}
}

func TestPrimary_ComplaintFallback(t *testing.T) {
	out, err := newTestPrimary(t, nil).Process(context.Background(), input("This is the worst service ever, I want to sue!", nil))
	require.NoError(t, err)

	assert.Equal(t, IntentComplaint, out.DetectedIntent)
	assert.Equal(t, EmotionAngry, out.DetectedEmotion)
	assert.Equal(t, DecisionDefer, out.DecisionType)
	assert.Equal(t, MethodFallback, out.AnalysisMethod)
	assert.InDelta(t, 0.74, out.Confidence.IntentConfidence, 1e-9)
	assert.InDelta(t, 0.90, out.Confidence.EmotionConfidence, 1e-9)
	assert.InDelta(t, 0.40, out.Confidence.ContextConfidence, 1e-9)
	assert.InDelta(t, 0.686, out.Confidence.OverallScore, 1e-9)
	assert.Equal(t, LevelMedium, out.Confidence.Level)
	assert.True(t, out.Confidence.RequiresSupervision)
	assert.True(t, strings.HasPrefix(out.ResponseContent, empathyPrefixes[EmotionAngry]))
	assert.Contains(t, out.ContextUpdates.Topics, "complaint")
	require.Len(t, out.ContextUpdates.UnresolvedIssues, 1)
	assert.True(t, strings.HasPrefix(out.ContextUpdates.UnresolvedIssues[0], "complaint: "))
	assert.True(t, out.RequiresFollowup)

	require.Len(t, out.Reasoning, 5)
	assert.Equal(t, "Analysis method: fallback", out.Reasoning[0])
	assert.Contains(t, out.Reasoning[3], "worst")
	assert.Equal(t, "Decision: defer", out.Reasoning[4])
}

func TestPrimary_ClosingBoostsConfidence(t *testing.T) {
	c := &ShortTermContext{InteractionID: "int-1", TurnCount: 1, UnresolvedIssues: []string{"billing: refund"}}
	out, err := newTestPrimary(t, nil).Process(context.Background(), input("Thanks so much, that's all I needed!", c))
	require.NoError(t, err)

	assert.Equal(t, IntentFeedback, out.DetectedIntent)
	assert.Equal(t, EmotionSatisfied, out.DetectedEmotion)
	assert.InDelta(t, 0.92, out.Confidence.EmotionConfidence, 1e-9)
	assert.InDelta(t, 0.55, out.Confidence.ContextConfidence, 1e-9)
	assert.InDelta(t, 0.689, out.Confidence.OverallScore, 1e-9)
	assert.Equal(t, DecisionRespond, out.DecisionType)
	assert.Equal(t, closingTemplate, out.ResponseContent)
	assert.Equal(t, []string{"billing: refund"}, out.ContextUpdates.ResolvedIssues)
}

func TestPrimary_DecisionTypes(t *testing.T) {
	agent := newTestPrimary(t, nil)
	cases := map[string]DecisionType{
		"hello there":                      DecisionClarify,
		"this is unacceptable":             DecisionDefer,
		"where is my package":              DecisionRespond,
		"I want to cancel my subscription": DecisionRespond,
	}
	for msg, want := range cases {
		out, err := agent.Process(context.Background(), input(msg, nil))
		require.NoError(t, err)
		assert.Equal(t, want, out.DecisionType, msg)
	}
}

func TestPrimary_EmptyContent(t *testing.T) {
	_, err := newTestPrimary(t, nil).Process(context.Background(), input("   ", nil))
	assert.ErrorIs(t, err, ErrEmptyContent)
}

func TestPrimary_FallbackIsIdempotent(t *testing.T) {
	agent := newTestPrimary(t, nil)
	c := &ShortTermContext{TurnCount: 3, KeyTopics: []string{"billing"}, IntentHistory: []Intent{IntentBilling}}
	in := input("My internet is still not working, this is so frustrating", c)

	first, err := agent.Process(context.Background(), in)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := agent.Process(context.Background(), in)
		require.NoError(t, err)
		assert.Equal(t, first.Confidence, again.Confidence)
		assert.Equal(t, first.DecisionType, again.DecisionType)
		assert.Equal(t, first.ResponseContent, again.ResponseContent)
	}
}

func TestPrimary_LLMPath(t *testing.T) {
	var (
		mu   sync.Mutex
		seen llm.Request
	)
	client := llm.ClientFunc(func(_ context.Context, req llm.Request) llm.Response {
		mu.Lock()
		seen = req
		mu.Unlock()
		return llm.Response{Status: llm.StatusSuccess, Content: "```json\n" + `{
			"intent": "billing",
			"emotion": "neutral",
			"confidence": 0.9,
			"emotion_confidence": 0.7,
			"response": "I can see the duplicate charge and will start a review of it now.",
			"reasoning": ["customer mentions a duplicate charge"],
			"requires_clarification": false,
			"suggested_actions": ["open_billing_review", "review_account_charges"]
		}` + "\n```"}
	})
	agent := NewPrimaryAgent(client, staticLookup("[Refund policy] Refunds take 5 days."), Config{}, zaptest.NewLogger(t))

	out, err := agent.Process(context.Background(), input("Why was I charged twice?", nil))
	require.NoError(t, err)

	assert.Equal(t, MethodLLM, out.AnalysisMethod)
	assert.Equal(t, IntentBilling, out.DetectedIntent)
	assert.Equal(t, EmotionNeutral, out.DetectedEmotion)
	assert.InDelta(t, 0.69, out.Confidence.OverallScore, 1e-9)
	assert.Equal(t, "I can see the duplicate charge and will start a review of it now.", out.ResponseContent)
	assert.Equal(t, []string{"review_account_charges", "explain_billing_statement", "open_billing_review"}, out.RecommendedActions)
	assert.Contains(t, out.Reasoning[3], "duplicate charge")

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, seen.Config.JSONMode)
	assert.Equal(t, "primary", seen.Caller)
	assert.Contains(t, seen.Prompt, "Refund policy")
	assert.Contains(t, seen.Prompt, "Why was I charged twice?")
}

func TestPrimary_LLMFailuresFallBack(t *testing.T) {
	responses := map[string]llm.Response{
		"status":  {Status: llm.StatusRateLimited, Error: "429"},
		"no json": {Status: llm.StatusSuccess, Content: "I think this is billing"},
		"schema":  {Status: llm.StatusSuccess, Content: `{"intent": "billing"}`},
		"range":   {Status: llm.StatusSuccess, Content: `{"intent":"billing","emotion":"neutral","confidence":7,"response":"x"}`},
	}
	for name, resp := range responses {
		resp := resp
		t.Run(name, func(t *testing.T) {
			client := llm.ClientFunc(func(context.Context, llm.Request) llm.Response { return resp })
			out, err := newTestPrimary(t, client).Process(context.Background(), input("I was overcharged on my bill", nil))
			require.NoError(t, err)
			assert.Equal(t, MethodFallback, out.AnalysisMethod)
			assert.Equal(t, IntentBilling, out.DetectedIntent)
		})
	}
}

func TestPrimary_LLMTimeoutIsBounded(t *testing.T) {
	client := llm.ClientFunc(func(ctx context.Context, _ llm.Request) llm.Response {
		<-ctx.Done()
		return llm.Response{Status: llm.StatusTimeout, Error: ctx.Err().Error()}
	})
	agent := NewPrimaryAgent(client, nil, Config{LLMTimeout: 20 * time.Millisecond}, zaptest.NewLogger(t))

	start := time.Now()
	out, err := agent.Process(context.Background(), input("where is my order", nil))
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, MethodFallback, out.AnalysisMethod)
	assert.Equal(t, IntentOrderStatus, out.DetectedIntent)
}

func TestContextConfidence(t *testing.T) {
	assert.InDelta(t, 0.4, contextConfidence(nil), 1e-9)
	assert.InDelta(t, 0.5, contextConfidence(&ShortTermContext{}), 1e-9)
	assert.InDelta(t, 0.9, contextConfidence(&ShortTermContext{
		TurnCount:     10,
		KeyTopics:     []string{"billing"},
		IntentHistory: []Intent{IntentBilling},
	}), 1e-9)
	assert.InDelta(t, 0.75, contextConfidence(&ShortTermContext{TurnCount: 3, KeyTopics: []string{"x"}}), 1e-9)
}

func TestPrimaryScore(t *testing.T) {
	// Frustrated with a strong signal gets both the boost and the penalty.
	got := primaryScore(0.62, 0.85, 0.5, EmotionFrustrated, true)
	assert.InDelta(t, 0.553, got, 1e-9)

	// The penalty stops at the floor.
	got = primaryScore(0.4, 0.5, 0.4, EmotionFrustrated, false)
	assert.InDelta(t, 0.35, got, 1e-9)

	// The penalty never lifts a score below its floor.
	got = primaryScore(0.3, 0.6, 0.4, EmotionFrustrated, true)
	assert.InDelta(t, 0.27, got, 1e-9)

	got = primaryScore(0.95, 0.92, 0.9, EmotionSatisfied, false)
	assert.InDelta(t, 0.95, got, 1e-9)
}

func TestConfidenceReportBands(t *testing.T) {
	for _, score := range []float64{-1, 0, 0.39, 0.4, 0.5, 0.59, 0.6, 0.7, 0.79, 0.8, 1, 2} {
		r := NewConfidenceReport(ConfidenceSignals{Overall: score}, PrimaryThresholds)
		assert.GreaterOrEqual(t, r.OverallScore, 0.0)
		assert.LessOrEqual(t, r.OverallScore, 1.0)
		assert.Equal(t, LevelFor(r.OverallScore), r.Level)
		assert.Equal(t, r.OverallScore >= 0.7, r.MeetsAutonomousThreshold)
		assert.Equal(t, r.OverallScore >= 0.5 && r.OverallScore < 0.7, r.RequiresSupervision)
		assert.Equal(t, r.OverallScore < 0.5, r.RequiresEscalation)
	}
}
