package agents

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/callcenter-orchestrator/internal/llm"
)

func llmReturning(content string) llm.Client {
	return llm.ClientFunc(func(context.Context, llm.Request) llm.Response {
		return llm.Response{Status: llm.StatusSuccess, Content: content}
	})
}

const lenientReview = `{"quality_score": 0.95, "tone_appropriate": true, "compliance_status": "compliant", "risk_level": "none", "flags": [], "reasoning": ["looks fine"]}`

func primaryOutput(intent Intent, emotion EmotionalState, confidence float64, response string) *AgentOutput {
	return &AgentOutput{
		DecisionID:      "dec-1",
		InteractionID:   "int-1",
		AgentType:       AgentPrimary,
		DecisionType:    decisionFor(intent),
		ResponseContent: response,
		DetectedIntent:  intent,
		DetectedEmotion: emotion,
		Confidence:      NewConfidenceReport(ConfidenceSignals{Overall: confidence}, PrimaryThresholds),
		Reasoning:       []string{"Analysis method: fallback", "Decision: respond"},
	}
}

func TestSupervisor_ProhibitedPhraseIsViolation(t *testing.T) {
	// A lenient LLM verdict must not soften the deterministic rule.
	sup := NewSupervisorAgent(llmReturning(lenientReview), Config{}, zaptest.NewLogger(t))
	out := primaryOutput(IntentBilling, EmotionNeutral, 0.85, "Your refund is guaranteed to arrive tomorrow.")

	r, err := sup.ReviewDecision(context.Background(), out, input("where is my refund", nil))
	require.NoError(t, err)

	assert.Equal(t, ComplianceViolation, r.ComplianceStatus)
	assert.LessOrEqual(t, r.QualityScore, 0.4)
	assert.True(t, r.Flags.Has(FlagPolicyConcern))
	assert.LessOrEqual(t, r.AdjustedConfidence, 0.3)
	assert.False(t, r.Approved)
	assert.Equal(t, MethodLLM, r.AnalysisMethod)
}

func TestSupervisor_SensitiveTopicForcesHighRisk(t *testing.T) {
	sup := NewSupervisorAgent(llmReturning(lenientReview), Config{}, zaptest.NewLogger(t))
	out := primaryOutput(IntentBilling, EmotionNeutral, 0.85, "Let me review the charges on your account and walk you through them.")

	r, err := sup.ReviewDecision(context.Background(), out, input("I'm filing a lawsuit over this bill", nil))
	require.NoError(t, err)

	assert.True(t, r.Flags.Has(FlagSensitiveTopic))
	assert.True(t, r.RiskLevel.AtLeast(RiskHigh))
	assert.True(t, r.Flags.Has(FlagEscalationRecommended))
	assert.LessOrEqual(t, r.AdjustedConfidence, 0.5)
	assert.False(t, r.Approved)
	assert.True(t, r.RequiresEscalationReview)
}

func TestSupervisor_SensitiveTopicScan(t *testing.T) {
	cases := []struct {
		msg   string
		topic string
	}{
		{"I am filing lawsuits against your company", "legal"},
		{"This is a lawsuit", "legal"},
		{"Your company sues customers all the time", "legal"},
		{"I was sued over this charge", "legal"},
		{"My lawyers will hear about this", "legal"},
		{"Someone is harassing me on your platform", "harassment"},
		{"This looks like a scammer took my money", "fraud"},
		{"I was hospitalized last week and missed the payment", "medical"},
		{"There is an issue with my router", ""},
		{"Please pursue the tissue order", ""},
	}
	sup := NewSupervisorAgent(nil, Config{}, zaptest.NewLogger(t))
	for _, c := range cases {
		t.Run(c.msg, func(t *testing.T) {
			out := primaryOutput(IntentGeneralInquiry, EmotionNeutral, 0.8, "Let me find the right information for you.")
			r, err := sup.ReviewDecision(context.Background(), out, input(c.msg, nil))
			require.NoError(t, err)
			if c.topic == "" {
				assert.False(t, r.Flags.Has(FlagSensitiveTopic))
				return
			}
			assert.True(t, r.Flags.Has(FlagSensitiveTopic))
			assert.True(t, r.RiskLevel.AtLeast(RiskHigh))
			assert.Contains(t, r.Recommendations, "Route to a specialist trained for: "+c.topic)
		})
	}
}

func TestSupervisor_FallbackRiskIsDeterministicLevel(t *testing.T) {
	sup := NewSupervisorAgent(nil, Config{}, zaptest.NewLogger(t))
	out := primaryOutput(IntentFeedback, EmotionSatisfied, 0.689, closingTemplate)

	r, err := sup.ReviewDecision(context.Background(), out, input("Thanks so much, that's all I needed!", nil))
	require.NoError(t, err)

	assert.Equal(t, MethodFallback, r.AnalysisMethod)
	assert.Equal(t, RiskNone, r.RiskLevel)
	assert.Equal(t, ComplianceCompliant, r.ComplianceStatus)
	assert.InDelta(t, 0.7, r.QualityScore, 1e-9)
	assert.Empty(t, r.Flags)
	assert.InDelta(t, 0.689, r.AdjustedConfidence, 1e-9)
	assert.True(t, r.Approved)
}

func TestSupervisor_LLMMissingRiskDefaultsMedium(t *testing.T) {
	sup := NewSupervisorAgent(llmReturning(`{"quality_score": 0.9, "tone_appropriate": true, "compliance_status": "compliant"}`), Config{}, zaptest.NewLogger(t))
	out := primaryOutput(IntentOrderStatus, EmotionNeutral, 0.85, "Let me look up your order and check the latest delivery status for you.")

	r, err := sup.ReviewDecision(context.Background(), out, input("where is my order", nil))
	require.NoError(t, err)

	assert.Equal(t, RiskMedium, r.RiskLevel)
	assert.InDelta(t, 0.65, r.AdjustedConfidence, 1e-9)
	assert.Equal(t, "medium risk", r.AdjustmentReason)
	assert.True(t, r.Approved)
}

func TestSupervisor_UnknownComplianceFromLLMIsWarning(t *testing.T) {
	sup := NewSupervisorAgent(llmReturning(`{"quality_score": 0.9, "tone_appropriate": true, "compliance_status": "probably ok", "risk_level": "low"}`), Config{}, zaptest.NewLogger(t))
	out := primaryOutput(IntentOrderStatus, EmotionNeutral, 0.85, "Let me look up your order and check the latest delivery status for you.")

	r, err := sup.ReviewDecision(context.Background(), out, input("where is my order", nil))
	require.NoError(t, err)
	assert.Equal(t, ComplianceWarning, r.ComplianceStatus)
	assert.InDelta(t, 0.65, r.AdjustedConfidence, 1e-9)
}

func TestSupervisor_EmotionUnaddressed(t *testing.T) {
	sup := NewSupervisorAgent(nil, Config{}, zaptest.NewLogger(t))
	out := primaryOutput(IntentBilling, EmotionAngry, 0.8, "Your bill is attached to your account page.")

	r, err := sup.ReviewDecision(context.Background(), out, input("I am furious about this bill", nil))
	require.NoError(t, err)

	assert.True(t, r.Flags.Has(FlagEmotionUnaddressed))
	assert.True(t, r.Flags.Has(FlagToneIssue))
	assert.False(t, r.ToneAppropriate)
}

func TestSupervisor_LLMFlagsAreMerged(t *testing.T) {
	sup := NewSupervisorAgent(llmReturning(`{"quality_score": 0.8, "tone_appropriate": true, "compliance_status": "compliant", "risk_level": "low", "flags": ["FACTUAL_CONCERN", "made_up_flag"]}`), Config{}, zaptest.NewLogger(t))
	out := primaryOutput(IntentOrderStatus, EmotionNeutral, 0.8, "Let me look up your order and check the latest delivery status for you.")

	r, err := sup.ReviewDecision(context.Background(), out, input("where is my order", nil))
	require.NoError(t, err)
	assert.Equal(t, FlagSet{FlagFactualConcern}, r.Flags)
}

func TestAdjustConfidence(t *testing.T) {
	adj, reason := adjustConfidence(0.55, RiskNone, ComplianceCompliant, 0.7, nil, IntentBilling)
	assert.InDelta(t, 0.7, adj, 1e-9)
	assert.Equal(t, "clean review raised confidence", reason)

	adj, _ = adjustConfidence(0.55, RiskNone, ComplianceCompliant, 0.7, nil, IntentUnknown)
	assert.InDelta(t, 0.55, adj, 1e-9)

	// Later branches overwrite the reason.
	adj, reason = adjustConfidence(0.9, RiskCritical, ComplianceViolation, 0.3, FlagSet{FlagEmotionUnaddressed}, IntentComplaint)
	assert.InDelta(t, 0.3, adj, 1e-9)
	assert.Equal(t, "low quality score", reason)

	adj, reason = adjustConfidence(0.8, RiskLow, ComplianceCompliant, 0.8, FlagSet{FlagEmotionUnaddressed}, IntentBilling)
	assert.InDelta(t, 0.6, adj, 1e-9)
	assert.Equal(t, "customer emotion not addressed", reason)

	adj, reason = adjustConfidence(0.8, RiskLow, ComplianceCompliant, 0.8, nil, IntentBilling)
	assert.InDelta(t, 0.8, adj, 1e-9)
	assert.Empty(t, reason)
}

func TestApproveNeverOnBlockingConditions(t *testing.T) {
	risks := []RiskLevel{RiskNone, RiskLow, RiskMedium, RiskHigh, RiskCritical}
	compliances := []ComplianceStatus{ComplianceCompliant, ComplianceWarning, ComplianceViolation}
	scores := []float64{0.1, 0.39, 0.4, 0.55, 0.65, 0.9}
	for _, risk := range risks {
		for _, comp := range compliances {
			for _, q := range scores {
				for _, adj := range scores {
					for _, tone := range []bool{true, false} {
						ok := approve(comp, risk, q, adj, tone, nil)
						if comp == ComplianceViolation || risk == RiskCritical || q < 0.4 || adj < 0.4 {
							assert.False(t, ok, "risk=%s compliance=%s q=%.2f adj=%.2f", risk, comp, q, adj)
						}
					}
				}
			}
		}
	}
	assert.False(t, approve(ComplianceCompliant, RiskLow, 0.9, 0.9, true, FlagSet{FlagPolicyConcern}))
	assert.False(t, approve(ComplianceCompliant, RiskHigh, 0.9, 0.55, true, nil))
	assert.False(t, approve(ComplianceCompliant, RiskLow, 0.9, 0.9, true, FlagSet{FlagSensitiveTopic, FlagEmotionUnaddressed}))
	assert.False(t, approve(ComplianceCompliant, RiskLow, 0.55, 0.9, false, nil))
	assert.True(t, approve(ComplianceCompliant, RiskLow, 0.55, 0.9, true, nil))
}

func TestSupervisor_ProcessRequiresPrimary(t *testing.T) {
	sup := NewSupervisorAgent(nil, Config{}, zaptest.NewLogger(t))
	_, err := sup.Process(context.Background(), input("hello", nil))
	assert.ErrorIs(t, err, ErrMissingUpstream)

	in := input("where is my order", nil)
	in.Upstream = &Upstream{Primary: primaryOutput(IntentOrderStatus, EmotionNeutral, 0.8, "Let me look up your order and check the latest delivery status for you.")}
	out, err := sup.Process(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, AgentSupervisor, out.AgentType)
	assert.Equal(t, DecisionRespond, out.DecisionType)
	assert.Equal(t, SupervisorThresholds.Autonomous <= out.Confidence.OverallScore, out.Confidence.MeetsAutonomousThreshold)
}
