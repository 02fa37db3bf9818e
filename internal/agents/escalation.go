package agents

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/callcenter-orchestrator/internal/metrics"
)

// retryLimit is how many hand-backs to the AI are tolerated before a ticket is opened.
const retryLimit = 2

var riskPriority = map[RiskLevel]int{
	RiskCritical: 1,
	RiskHigh:     2,
	RiskMedium:   3,
	RiskLow:      4,
	RiskNone:     5,
}

// EscalationAgent routes turns the pipeline should not handle alone. It is
// fully deterministic.
type EscalationAgent struct {
	logger *zap.Logger
}

func NewEscalationAgent(logger *zap.Logger) *EscalationAgent {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EscalationAgent{logger: logger}
}

func (e *EscalationAgent) Type() AgentType { return AgentEscalation }

func (e *EscalationAgent) AssessConfidence(sig ConfidenceSignals) ConfidenceReport {
	return NewConfidenceReport(sig, EscalationThresholds)
}

// Process evaluates in.Upstream and reports the routing as an AgentOutput.
func (e *EscalationAgent) Process(_ context.Context, in AgentInput) (*AgentOutput, error) {
	start := time.Now()
	if in.Upstream == nil || in.Upstream.Primary == nil || in.Upstream.Review == nil {
		return nil, ErrMissingUpstream
	}
	d := e.EvaluateForEscalation(in.Upstream.Primary, in.Upstream.Review, in, in.Upstream.EscalationHistory)

	overall := EscalationConfidence(d, in.Upstream.Review)
	decision := DecisionRespond
	if d.ShouldEscalate {
		decision = DecisionEscalate
	}
	out := &AgentOutput{
		DecisionID:      d.DecisionID,
		InteractionID:   in.InteractionID,
		AgentType:       AgentEscalation,
		DecisionType:    decision,
		DecisionSummary: fmt.Sprintf("escalation %s (priority %d)", d.EscalationType, d.Priority),
		DetectedIntent:  in.Upstream.Primary.DetectedIntent,
		DetectedEmotion: in.Upstream.Primary.DetectedEmotion,
		Confidence: e.AssessConfidence(ConfidenceSignals{
			Overall:  overall,
			Concerns: d.KeyIssues,
		}),
		Reasoning:        d.Reasoning,
		RequiresFollowup: d.ShouldEscalate,
		EscalationTarget: d.TargetAgent,
		AnalysisMethod:   MethodFallback,
		ProcessedAt:      d.DecidedAt,
	}
	out.ProcessingDurationMs = time.Since(start).Milliseconds()
	return out, nil
}

// EscalationConfidence scores a routing decision. Escalating on hard triggers
// is a confident call; otherwise it inherits the supervisor's view of the turn.
func EscalationConfidence(d *EscalationDecision, review *SupervisorReview) float64 {
	if d.ShouldEscalate {
		if d.EscalationType == EscalationHumanImmediate {
			return 0.9
		}
		return 0.7
	}
	if review == nil {
		return 0
	}
	return review.AdjustedConfidence
}

type triggers struct {
	mandatory  bool
	risk       bool
	confidence bool
	emotional  bool
	retries    bool
	reasons    []string
}

func (t triggers) any() bool {
	return t.mandatory || t.risk || t.confidence || t.emotional || t.retries
}

func evaluateTriggers(primary *AgentOutput, review *SupervisorReview, history []EscalationOutcome) triggers {
	var t triggers
	if review.Flags.Has(FlagPolicyConcern) || review.Flags.Has(FlagSensitiveTopic) || review.ComplianceStatus == ComplianceViolation {
		t.mandatory = true
		t.reasons = append(t.reasons, "mandatory escalation: policy, sensitive topic or compliance violation")
	}
	if review.RiskLevel == RiskCritical || review.RiskLevel == RiskHigh {
		t.risk = true
		t.reasons = append(t.reasons, fmt.Sprintf("risk level %s", review.RiskLevel))
	}
	if review.AdjustedConfidence < 0.4 || (review.AdjustedConfidence < 0.5 && review.Flags.Has(FlagEscalationRecommended)) {
		t.confidence = true
		t.reasons = append(t.reasons, fmt.Sprintf("adjusted confidence %.2f too low", review.AdjustedConfidence))
	}
	if (primary.DetectedEmotion == EmotionAngry && review.Flags.Has(FlagEmotionUnaddressed)) ||
		(primary.DetectedEmotion == EmotionAnxious && review.RiskLevel != RiskNone) {
		t.emotional = true
		t.reasons = append(t.reasons, fmt.Sprintf("emotional distress (%s)", primary.DetectedEmotion))
	}
	returned := lo.CountBy(history, func(o EscalationOutcome) bool { return o.ReturnedToAI })
	if returned >= retryLimit {
		t.retries = true
		t.reasons = append(t.reasons, fmt.Sprintf("returned to AI %d times", returned))
	}
	return t
}

// selectRoute picks the escalation type and reason. The first matching rule wins.
func selectRoute(t triggers, review *SupervisorReview) (EscalationType, EscalationReason) {
	switch {
	case t.mandatory || review.RiskLevel == RiskCritical:
		switch {
		case review.Flags.Has(FlagPolicyConcern):
			return EscalationHumanImmediate, ReasonPolicyViolation
		case review.Flags.Has(FlagSensitiveTopic):
			return EscalationHumanImmediate, ReasonSafetyConcern
		default:
			return EscalationHumanImmediate, ReasonComplexIssue
		}
	case t.emotional:
		return EscalationHumanQueue, ReasonEmotionalDistress
	case t.confidence && !review.Approved:
		if t.retries {
			return EscalationTicketCreate, ReasonRepeatedFailure
		}
		return EscalationRetryPrimary, ReasonLowConfidence
	case t.risk:
		return EscalationHumanQueue, ReasonComplexIssue
	case !review.Approved:
		return EscalationSupervisorOverride, ReasonLowConfidence
	case t.retries:
		return EscalationTicketCreate, ReasonRepeatedFailure
	default:
		return EscalationHumanQueue, ReasonComplexIssue
	}
}

func priorityFor(t triggers, review *SupervisorReview, emotion EmotionalState) int {
	p, ok := riskPriority[review.RiskLevel]
	if !ok {
		p = 3
	}
	if t.mandatory {
		p = 1
	}
	switch emotion {
	case EmotionAngry:
		p = min(p, 2)
	case EmotionAnxious:
		p = min(p, 3)
	}
	return p
}

func targetFor(et EscalationType) AgentType {
	switch et {
	case EscalationHumanImmediate, EscalationHumanQueue, EscalationTicketCreate:
		return AgentHuman
	case EscalationRetryPrimary:
		return AgentPrimary
	case EscalationSupervisorOverride:
		return AgentSupervisor
	default:
		return ""
	}
}

func responseTimeFor(et EscalationType, priority int) string {
	switch {
	case priority == 1 || et == EscalationHumanImmediate:
		return "immediate"
	case priority == 2:
		return "within 5 minutes"
	case priority == 3:
		return "within 15 minutes"
	case priority == 4:
		return "within 1 hour"
	default:
		return "within 24 hours"
	}
}

func contextSummary(primary *AgentOutput, review *SupervisorReview, factors []string, content string) string {
	if len(factors) > 3 {
		factors = factors[:3]
	}
	parts := []string{
		"Intent: " + string(primary.DetectedIntent),
		"Emotion: " + string(primary.DetectedEmotion),
		"Risk: " + string(review.RiskLevel),
	}
	if len(factors) > 0 {
		parts = append(parts, "Factors: "+strings.Join(factors, "; "))
	}
	parts = append(parts, "Message: "+truncate(strings.TrimSpace(content), 100))
	return strings.Join(parts, " | ")
}

// EvaluateForEscalation applies the escalation rules to one reviewed turn.
func (e *EscalationAgent) EvaluateForEscalation(primary *AgentOutput, review *SupervisorReview, in AgentInput, history []EscalationOutcome) *EscalationDecision {
	t := evaluateTriggers(primary, review, history)
	should := t.any() || !review.Approved
	if !review.Approved {
		t.reasons = append(t.reasons, "supervisor did not approve the response")
	}

	d := &EscalationDecision{
		DecisionID:     uuid.New().String(),
		InteractionID:  primary.InteractionID,
		ShouldEscalate: should,
		EscalationType: EscalationNone,
		Priority:       priorityFor(t, review, primary.DetectedEmotion),
		DecidedAt:      time.Now().UTC(),
	}
	if d.InteractionID == "" {
		d.InteractionID = in.InteractionID
	}

	factors := t.reasons
	if len(factors) == 0 {
		factors = primary.Confidence.Concerns
	}
	d.ContextSummary = contextSummary(primary, review, factors, in.Content)

	keyIssues := lo.Map(review.Flags, func(f ReviewFlag, _ int) string { return string(f) })
	if in.Context != nil {
		keyIssues = append(keyIssues, in.Context.UnresolvedIssues...)
	}
	d.KeyIssues = lo.Uniq(keyIssues)

	attempted := lo.Map(history, func(o EscalationOutcome, _ int) string {
		if o.ReturnedToAI {
			return string(o.EscalationType) + " (returned to AI)"
		}
		return string(o.EscalationType)
	})
	d.AttemptedResolutions = append(attempted, primary.RecommendedActions...)

	d.Reasoning = append(d.Reasoning, t.reasons...)
	if should {
		d.EscalationType, d.EscalationReason = selectRoute(t, review)
		d.TargetAgent = targetFor(d.EscalationType)
		d.RecommendedResponseTime = responseTimeFor(d.EscalationType, d.Priority)
		d.Reasoning = append(d.Reasoning,
			fmt.Sprintf("Route: %s (%s)", d.EscalationType, d.EscalationReason),
			fmt.Sprintf("Priority: %d", d.Priority),
		)
		metrics.Escalations.WithLabelValues(string(d.EscalationType), string(d.EscalationReason), fmt.Sprint(d.Priority)).Inc()
	} else {
		d.Reasoning = append(d.Reasoning, "No escalation needed")
	}
	metrics.RecordAgentDecision(string(AgentEscalation), string(d.EscalationType), string(MethodFallback), review.AdjustedConfidence)

	e.logger.Debug("Escalation decision",
		zap.String("interaction_id", d.InteractionID),
		zap.String("decision_id", d.DecisionID),
		zap.Bool("should_escalate", d.ShouldEscalate),
		zap.String("escalation_type", string(d.EscalationType)),
		zap.String("reason", string(d.EscalationReason)),
		zap.Int("priority", d.Priority),
	)
	return d
}
