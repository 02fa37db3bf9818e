package agents

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type pipeline struct {
	primary    *PrimaryAgent
	supervisor *SupervisorAgent
	escalation *EscalationAgent
}

func newPipeline(t *testing.T) pipeline {
	logger := zaptest.NewLogger(t)
	return pipeline{
		primary:    NewPrimaryAgent(nil, nil, Config{}, logger),
		supervisor: NewSupervisorAgent(nil, Config{}, logger),
		escalation: NewEscalationAgent(logger),
	}
}

func (p pipeline) run(t *testing.T, in AgentInput, history []EscalationOutcome) (*AgentOutput, *SupervisorReview, *EscalationDecision) {
	t.Helper()
	out, err := p.primary.Process(context.Background(), in)
	require.NoError(t, err)
	review, err := p.supervisor.ReviewDecision(context.Background(), out, in)
	require.NoError(t, err)
	return out, review, p.escalation.EvaluateForEscalation(out, review, in, history)
}

func TestPipeline_LegalThreatGoesToHumanImmediately(t *testing.T) {
	out, review, d := newPipeline(t).run(t, input("This is the worst service ever, I want to sue!", nil), nil)

	assert.Equal(t, IntentComplaint, out.DetectedIntent)
	assert.Equal(t, EmotionAngry, out.DetectedEmotion)
	assert.True(t, review.Flags.Has(FlagSensitiveTopic))
	assert.Equal(t, RiskCritical, review.RiskLevel)
	assert.LessOrEqual(t, review.AdjustedConfidence, 0.3)
	assert.False(t, review.Approved)

	assert.True(t, d.ShouldEscalate)
	assert.Equal(t, EscalationHumanImmediate, d.EscalationType)
	assert.Equal(t, ReasonSafetyConcern, d.EscalationReason)
	assert.Equal(t, 1, d.Priority)
	assert.Equal(t, AgentHuman, d.TargetAgent)
	assert.Equal(t, "immediate", d.RecommendedResponseTime)
	assert.True(t, strings.HasPrefix(d.ContextSummary, "Intent: complaint | Emotion: angry | Risk: critical | Factors: "))
	assert.Contains(t, d.ContextSummary, "Message: This is the worst service ever, I want to sue!")
	assert.Contains(t, d.KeyIssues, string(FlagSensitiveTopic))
}

func TestPipeline_InflectedLegalTermsGoToHumanImmediately(t *testing.T) {
	for _, msg := range []string{
		"I am filing lawsuits against your company",
		"Your company sues customers, I read about it",
	} {
		_, review, d := newPipeline(t).run(t, input(msg, nil), nil)
		assert.True(t, review.Flags.Has(FlagSensitiveTopic), msg)
		assert.True(t, review.RiskLevel.AtLeast(RiskHigh), msg)
		assert.Equal(t, EscalationHumanImmediate, d.EscalationType, msg)
		assert.Equal(t, ReasonSafetyConcern, d.EscalationReason, msg)
		assert.Equal(t, 1, d.Priority, msg)
	}
}

func TestPipeline_SatisfiedCustomerIsNotEscalated(t *testing.T) {
	c := &ShortTermContext{InteractionID: "int-1", TurnCount: 1}
	out, review, d := newPipeline(t).run(t, input("Thanks so much, that's all I needed!", c), nil)

	assert.Equal(t, EmotionSatisfied, out.DetectedEmotion)
	assert.InDelta(t, 0.92, out.Confidence.EmotionConfidence, 1e-9)
	assert.Equal(t, IntentFeedback, out.DetectedIntent)
	assert.True(t, review.Approved)
	assert.Equal(t, RiskNone, review.RiskLevel)

	assert.False(t, d.ShouldEscalate)
	assert.Equal(t, EscalationNone, d.EscalationType)
	assert.Empty(t, d.EscalationReason)
	assert.Empty(t, d.TargetAgent)
	assert.Empty(t, d.RecommendedResponseTime)
	assert.Equal(t, 5, d.Priority)
}

func lowConfidenceReview(approved bool) *SupervisorReview {
	return &SupervisorReview{
		ReviewID:           "rev-1",
		DecisionID:         "dec-1",
		InteractionID:      "int-1",
		Approved:           approved,
		QualityScore:       0.6,
		ToneAppropriate:    true,
		ComplianceStatus:   ComplianceCompliant,
		RiskLevel:          RiskMedium,
		OriginalConfidence: 0.45,
		AdjustedConfidence: 0.45,
		Flags:              FlagSet{FlagEscalationRecommended},
	}
}

func returned(n int) []EscalationOutcome {
	var h []EscalationOutcome
	for i := 0; i < n; i++ {
		h = append(h, EscalationOutcome{
			EscalationID:   "esc",
			EscalationType: EscalationRetryPrimary,
			EscalatedAt:    time.Now(),
			ReturnedToAI:   true,
		})
	}
	return h
}

func TestEscalation_RetryExhaustionOpensTicket(t *testing.T) {
	agent := NewEscalationAgent(zaptest.NewLogger(t))
	primary := primaryOutput(IntentBilling, EmotionNeutral, 0.45, "Let me review the charges on your account.")
	in := input("my bill is wrong again", nil)

	d := agent.EvaluateForEscalation(primary, lowConfidenceReview(false), in, returned(2))
	assert.True(t, d.ShouldEscalate)
	assert.Equal(t, EscalationTicketCreate, d.EscalationType)
	assert.Equal(t, ReasonRepeatedFailure, d.EscalationReason)
	assert.Equal(t, AgentHuman, d.TargetAgent)
	assert.Contains(t, d.AttemptedResolutions, "retry_primary (returned to AI)")

	d = agent.EvaluateForEscalation(primary, lowConfidenceReview(false), in, returned(1))
	assert.Equal(t, EscalationRetryPrimary, d.EscalationType)
	assert.Equal(t, ReasonLowConfidence, d.EscalationReason)
	assert.Equal(t, AgentPrimary, d.TargetAgent)
	assert.Equal(t, "within 15 minutes", d.RecommendedResponseTime)
}

func TestEscalation_RetryExhaustionAloneEscalates(t *testing.T) {
	agent := NewEscalationAgent(zaptest.NewLogger(t))
	primary := primaryOutput(IntentBilling, EmotionNeutral, 0.8, "Let me review the charges on your account.")
	review := &SupervisorReview{
		Approved:           true,
		QualityScore:       0.8,
		ToneAppropriate:    true,
		ComplianceStatus:   ComplianceCompliant,
		RiskLevel:          RiskLow,
		AdjustedConfidence: 0.8,
	}
	d := agent.EvaluateForEscalation(primary, review, input("my bill", nil), returned(2))
	assert.True(t, d.ShouldEscalate)
	assert.Equal(t, EscalationTicketCreate, d.EscalationType)
	assert.Equal(t, ReasonRepeatedFailure, d.EscalationReason)
}

func TestEscalation_RejectedReviewAlwaysEscalates(t *testing.T) {
	agent := NewEscalationAgent(zaptest.NewLogger(t))
	primary := primaryOutput(IntentBilling, EmotionNeutral, 0.8, "Let me review the charges on your account.")
	review := &SupervisorReview{
		Approved:           false,
		QualityScore:       0.55,
		ComplianceStatus:   ComplianceCompliant,
		RiskLevel:          RiskLow,
		AdjustedConfidence: 0.8,
	}
	d := agent.EvaluateForEscalation(primary, review, input("my bill", nil), nil)
	assert.True(t, d.ShouldEscalate)
	assert.Equal(t, EscalationSupervisorOverride, d.EscalationType)
	assert.Equal(t, ReasonLowConfidence, d.EscalationReason)
	assert.Equal(t, AgentSupervisor, d.TargetAgent)
	assert.Equal(t, "within 1 hour", d.RecommendedResponseTime)
}

func TestEscalation_RouteSelection(t *testing.T) {
	agent := NewEscalationAgent(zaptest.NewLogger(t))
	base := func() *SupervisorReview {
		return &SupervisorReview{Approved: true, ComplianceStatus: ComplianceCompliant, RiskLevel: RiskLow, AdjustedConfidence: 0.8, QualityScore: 0.8}
	}

	policy := base()
	policy.Flags = FlagSet{FlagPolicyConcern}
	policy.Approved = false
	d := agent.EvaluateForEscalation(primaryOutput(IntentBilling, EmotionNeutral, 0.8, "x"), policy, input("bill", nil), nil)
	assert.Equal(t, EscalationHumanImmediate, d.EscalationType)
	assert.Equal(t, ReasonPolicyViolation, d.EscalationReason)
	assert.Equal(t, 1, d.Priority)

	violation := base()
	violation.ComplianceStatus = ComplianceViolation
	d = agent.EvaluateForEscalation(primaryOutput(IntentBilling, EmotionNeutral, 0.8, "x"), violation, input("bill", nil), nil)
	assert.Equal(t, EscalationHumanImmediate, d.EscalationType)
	assert.Equal(t, ReasonComplexIssue, d.EscalationReason)

	anxious := base()
	d = agent.EvaluateForEscalation(primaryOutput(IntentBilling, EmotionAnxious, 0.8, "x"), anxious, input("bill", nil), nil)
	assert.Equal(t, EscalationHumanQueue, d.EscalationType)
	assert.Equal(t, ReasonEmotionalDistress, d.EscalationReason)
	assert.Equal(t, 3, d.Priority)

	high := base()
	high.RiskLevel = RiskHigh
	d = agent.EvaluateForEscalation(primaryOutput(IntentBilling, EmotionNeutral, 0.8, "x"), high, input("bill", nil), nil)
	assert.Equal(t, EscalationHumanQueue, d.EscalationType)
	assert.Equal(t, ReasonComplexIssue, d.EscalationReason)
	assert.Equal(t, 2, d.Priority)
	assert.Equal(t, "within 5 minutes", d.RecommendedResponseTime)

	angry := base()
	angry.Flags = FlagSet{FlagEmotionUnaddressed}
	d = agent.EvaluateForEscalation(primaryOutput(IntentBilling, EmotionAngry, 0.8, "x"), angry, input("bill", nil), nil)
	assert.Equal(t, EscalationHumanQueue, d.EscalationType)
	assert.Equal(t, ReasonEmotionalDistress, d.EscalationReason)
	assert.Equal(t, 2, d.Priority)
}

func TestEscalation_KeyIssuesIncludeUnresolved(t *testing.T) {
	agent := NewEscalationAgent(zaptest.NewLogger(t))
	c := &ShortTermContext{UnresolvedIssues: []string{"billing: double charge"}}
	d := agent.EvaluateForEscalation(
		primaryOutput(IntentBilling, EmotionNeutral, 0.45, "x"),
		lowConfidenceReview(false),
		input("bill", c),
		nil,
	)
	assert.Equal(t, []string{"escalation_recommended", "billing: double charge"}, d.KeyIssues)
}

func TestEscalation_ProcessUsesUpstream(t *testing.T) {
	agent := NewEscalationAgent(zaptest.NewLogger(t))
	_, err := agent.Process(context.Background(), input("bill", nil))
	assert.ErrorIs(t, err, ErrMissingUpstream)

	in := input("bill", nil)
	in.Upstream = &Upstream{
		Primary:           primaryOutput(IntentBilling, EmotionNeutral, 0.45, "x"),
		Review:            lowConfidenceReview(false),
		EscalationHistory: returned(2),
	}
	out, err := agent.Process(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, DecisionEscalate, out.DecisionType)
	assert.Equal(t, AgentHuman, out.EscalationTarget)
	assert.Equal(t, AgentEscalation, out.AgentType)
}

func TestResponseTimes(t *testing.T) {
	assert.Equal(t, "immediate", responseTimeFor(EscalationHumanQueue, 1))
	assert.Equal(t, "immediate", responseTimeFor(EscalationHumanImmediate, 4))
	assert.Equal(t, "within 24 hours", responseTimeFor(EscalationTicketCreate, 5))
}
