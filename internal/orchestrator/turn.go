package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/callcenter-orchestrator/internal/agents"
	"github.com/Kocoro-lab/callcenter-orchestrator/internal/memory"
	"github.com/Kocoro-lab/callcenter-orchestrator/internal/metrics"
	"github.com/Kocoro-lab/callcenter-orchestrator/internal/streaming"
	"github.com/Kocoro-lab/callcenter-orchestrator/internal/tracing"
)

// Metadata keys a caller can set on a customer message.
const (
	MetaContentType      = "content_type"
	MetaSuggestedIntent  = "suggested_intent"
	MetaSuggestedEmotion = "suggested_emotion"
)

// turnRun carries one turn through the pipeline.
type turnRun struct {
	slot          *slot
	interactionID string
	customerID    string
	turn          int
	phase         Phase
	result        *OrchestrationResult
}

func (t *turnRun) enter(p Phase) {
	t.phase = p
	t.slot.update(func(st *InteractionState) { st.CurrentPhase = p })
}

// ProcessMessage runs one customer message through the agents. Errors are
// returned only for blank content and for interactions that are unknown,
// ended or busy; a failure inside the pipeline yields a failed result that
// asks for escalation.
func (o *Orchestrator) ProcessMessage(ctx context.Context, interactionID, content string, metadata map[string]string) (*OrchestrationResult, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}
	s, err := o.enter(ctx, interactionID)
	if err != nil {
		return nil, err
	}
	defer s.release()

	st := s.snapshot()
	t := &turnRun{
		slot:          s,
		interactionID: interactionID,
		customerID:    st.Interaction.CustomerID,
		turn:          st.TurnCount + 1,
		phase:         PhaseInitialized,
		result: &OrchestrationResult{
			InteractionID: interactionID,
			TurnNumber:    st.TurnCount + 1,
		},
	}
	o.runTurn(ctx, t, content, metadata)
	return t.result, nil
}

func (o *Orchestrator) runTurn(ctx context.Context, t *turnRun, content string, metadata map[string]string) {
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, "callcenter.turn")
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("Recovered panic in turn",
				zap.String("interaction_id", t.interactionID),
				zap.Int("turn", t.turn),
				zap.String("phase", string(t.phase)),
				zap.Any("panic", r),
				zap.Stack("stack"))
			err := fmt.Errorf("panic during %s: %v", t.phase, r)
			tracing.RecordError(span, err)
			o.fail(ctx, t, err)
		}
		t.result.ProcessingTimeMs = time.Since(start).Milliseconds()
		metrics.RecordTurn(string(t.result.FinalPhase), string(t.result.FinalAction), time.Since(start).Seconds())
	}()

	turnCtx := ctx
	if o.cfg.TurnTimeout > 0 {
		var cancel context.CancelFunc
		turnCtx, cancel = context.WithTimeout(ctx, o.cfg.TurnTimeout)
		defer cancel()
	}

	if err := o.executeTurn(turnCtx, t, content, metadata); err != nil {
		tracing.RecordError(span, err)
		o.fail(ctx, t, err)
	}
}

// stage runs one pipeline step inside its own span.
func (o *Orchestrator) stage(ctx context.Context, t *turnRun, phase Phase, fn func(context.Context) error) error {
	t.enter(phase)
	ctx, span := tracing.StartStageSpan(ctx, string(phase), t.interactionID, t.turn)
	defer span.End()
	start := time.Now()
	err := fn(ctx)
	metrics.StageDuration.WithLabelValues(string(phase)).Observe(time.Since(start).Seconds())
	if err != nil {
		tracing.RecordError(span, err)
	}
	return err
}

func (o *Orchestrator) executeTurn(ctx context.Context, t *turnRun, content string, metadata map[string]string) error {
	id := t.interactionID
	now := time.Now().UTC()
	messageID := uuid.New().String()

	if err := o.memory.AppendMessage(id, memory.Message{
		ID:        messageID,
		Role:      memory.RoleCustomer,
		Content:   content,
		Timestamp: now,
		Metadata:  metadata,
	}); err != nil {
		return fmt.Errorf("failed to store customer message: %w", err)
	}
	o.persistMessage(ctx, id, messageID, memory.RoleCustomer, content, "", "", now, metadata)

	shortTerm, err := o.memory.GetShortTermContext(id)
	if err != nil {
		return fmt.Errorf("failed to load context: %w", err)
	}
	in := buildInput(id, messageID, t.customerID, content, shortTerm, metadata, now)

	var primary *agents.AgentOutput
	err = o.stage(ctx, t, PhasePrimaryProcessing, func(ctx context.Context) error {
		out, err := o.deps.Primary.Process(ctx, in)
		if err != nil {
			return fmt.Errorf("primary agent failed: %w", err)
		}
		if out == nil {
			return errors.New("primary agent returned no output")
		}
		primary = out
		return nil
	})
	if err != nil {
		return err
	}
	t.result.PrimaryOutput = primary
	t.slot.update(func(st *InteractionState) {
		st.PrimaryOutputs = append(st.PrimaryOutputs, primary)
		st.CurrentIntent = primary.DetectedIntent
		st.CurrentEmotion = primary.DetectedEmotion
	})
	o.recordDecision(ctx, t, agents.ContextDecision{
		DecisionID:   primary.DecisionID,
		AgentType:    agents.AgentPrimary,
		DecisionType: primary.DecisionType,
		Confidence:   primary.Confidence.OverallScore,
		Summary:      primary.DecisionSummary,
		Timestamp:    primary.ProcessedAt,
	}, primary.AnalysisMethod, primary)
	if o.deps.Audit != nil {
		o.deps.Audit.LogPrimaryDecision(ctx, primary)
	}
	o.publish(ctx, streaming.Event{
		InteractionID: id,
		Type:          streaming.EventPrimaryDecision,
		Agent:         string(agents.AgentPrimary),
		Message:       primary.DecisionSummary,
		Data: map[string]interface{}{
			"turn":       t.turn,
			"intent":     string(primary.DetectedIntent),
			"emotion":    string(primary.DetectedEmotion),
			"confidence": primary.Confidence.OverallScore,
			"method":     string(primary.AnalysisMethod),
		},
	})

	in.Upstream = &agents.Upstream{Primary: primary}
	var review *agents.SupervisorReview
	err = o.stage(ctx, t, PhaseSupervisorReview, func(ctx context.Context) error {
		r, err := o.deps.Supervisor.ReviewDecision(ctx, primary, in)
		if err != nil {
			return fmt.Errorf("supervisor review failed: %w", err)
		}
		if r == nil {
			return errors.New("supervisor returned no review")
		}
		review = r
		return nil
	})
	if err != nil {
		return err
	}
	t.result.SupervisorReview = review
	t.slot.update(func(st *InteractionState) {
		st.SupervisorReviews = append(st.SupervisorReviews, review)
	})
	verdict := agents.DecisionRespond
	if !review.Approved {
		verdict = agents.DecisionEscalate
	}
	o.recordDecision(ctx, t, agents.ContextDecision{
		DecisionID:   review.ReviewID,
		AgentType:    agents.AgentSupervisor,
		DecisionType: verdict,
		Confidence:   review.AdjustedConfidence,
		Summary:      reviewSummary(review),
		Timestamp:    review.ReviewedAt,
	}, review.AnalysisMethod, review)
	if o.deps.Audit != nil {
		o.deps.Audit.LogSupervisorReview(ctx, review)
	}
	if o.deps.Analytics != nil {
		if err := o.deps.Analytics.RecordTurn(id, primary, review); err != nil {
			o.logger.Debug("Failed to record turn analytics", zap.String("interaction_id", id), zap.Error(err))
		}
	}
	if review.Flags.Has(agents.FlagSensitiveTopic) {
		if err := o.memory.MarkSensitive(id); err != nil {
			return fmt.Errorf("failed to flag sensitive topic: %w", err)
		}
	}
	o.publish(ctx, streaming.Event{
		InteractionID: id,
		Type:          streaming.EventSupervisorReview,
		Agent:         string(agents.AgentSupervisor),
		Message:       reviewSummary(review),
		Data: map[string]interface{}{
			"turn":                t.turn,
			"approved":            review.Approved,
			"adjusted_confidence": review.AdjustedConfidence,
			"risk_level":          string(review.RiskLevel),
			"compliance":          string(review.ComplianceStatus),
		},
	})

	history := t.slot.snapshot().EscalationHistory
	in.Upstream = &agents.Upstream{Primary: primary, Review: review, EscalationHistory: history}
	var decision *agents.EscalationDecision
	err = o.stage(ctx, t, PhaseEscalationEvaluation, func(context.Context) error {
		decision = o.deps.Escalation.EvaluateForEscalation(primary, review, in, history)
		if decision == nil {
			return errors.New("escalation agent returned no decision")
		}
		return nil
	})
	if err != nil {
		return err
	}
	t.result.EscalationDecision = decision
	t.slot.update(func(st *InteractionState) {
		st.EscalationDecisions = append(st.EscalationDecisions, decision)
	})
	routing := agents.DecisionRespond
	if decision.ShouldEscalate {
		routing = agents.DecisionEscalate
	}
	o.recordDecision(ctx, t, agents.ContextDecision{
		DecisionID:   decision.DecisionID,
		AgentType:    agents.AgentEscalation,
		DecisionType: routing,
		Confidence:   agents.EscalationConfidence(decision, review),
		Summary:      fmt.Sprintf("escalation %s (priority %d)", decision.EscalationType, decision.Priority),
		Timestamp:    decision.DecidedAt,
	}, agents.MethodFallback, decision)
	if o.deps.Audit != nil {
		o.deps.Audit.LogEscalationDecision(ctx, decision)
	}
	if o.deps.Analytics != nil {
		if err := o.deps.Analytics.RecordEscalation(id, decision); err != nil {
			o.logger.Debug("Failed to record escalation analytics", zap.String("interaction_id", id), zap.Error(err))
		}
	}
	o.publish(ctx, streaming.Event{
		InteractionID: id,
		Type:          streaming.EventEscalationDecision,
		Agent:         string(agents.AgentEscalation),
		Message:       decision.ContextSummary,
		Data: map[string]interface{}{
			"turn":            t.turn,
			"should_escalate": decision.ShouldEscalate,
			"escalation_type": string(decision.EscalationType),
			"priority":        decision.Priority,
		},
	})

	shouldEscalate := decision.ShouldEscalate
	shouldRespond := review.Approved && !shouldEscalate && primary.ResponseContent != ""
	t.result.ShouldEscalate = shouldEscalate
	t.result.ShouldRespond = shouldRespond

	switch {
	case shouldRespond:
		err = o.stage(ctx, t, PhaseResponseDelivery, func(ctx context.Context) error {
			return o.deliver(ctx, t, primary, primary.ResponseContent, streaming.EventResponseDelivered)
		})
		t.result.FinalAction = ActionRespond
		t.result.ResponseContent = primary.ResponseContent
	case shouldEscalate:
		err = o.stage(ctx, t, PhaseEscalationHandoff, func(ctx context.Context) error {
			return o.handoff(ctx, t, primary, decision)
		})
		t.result.FinalAction = ActionEscalate
		t.result.HandoffMessage = o.cfg.HandoffMessage
	default:
		t.result.FinalAction = ActionNone
	}
	if err != nil {
		return err
	}

	if err := o.memory.ApplyUpdates(id, primary.ContextUpdates); err != nil {
		return fmt.Errorf("failed to update context: %w", err)
	}
	conv, err := o.memory.Conversation(id)
	if err != nil {
		return fmt.Errorf("failed to read context: %w", err)
	}

	t.enter(PhaseCompleted)
	t.result.FinalPhase = PhaseCompleted
	var snap *InteractionState
	t.slot.update(func(st *InteractionState) {
		st.TurnCount = t.turn
		st.LastError = ""
		if shouldRespond {
			st.IsCompleted = len(conv.UnresolvedIssues) == 0
		} else {
			st.IsCompleted = false
		}
		switch {
		case shouldEscalate:
			st.Interaction.Status = StatusEscalated
		case st.IsEscalated:
			// a human still holds the conversation
		default:
			st.Interaction.Status = StatusInProgress
		}
		snap = st.clone()
	})
	o.updateStatus(ctx, snap)

	o.logger.Info("Turn processed",
		zap.String("interaction_id", id),
		zap.Int("turn", t.turn),
		zap.String("action", string(t.result.FinalAction)),
		zap.String("intent", string(primary.DetectedIntent)),
		zap.Float64("confidence", review.AdjustedConfidence),
		zap.Bool("approved", review.Approved),
		zap.String("escalation_type", string(decision.EscalationType)),
	)
	return nil
}

func buildInput(interactionID, messageID, customerID, content string, shortTerm *agents.ShortTermContext, metadata map[string]string, now time.Time) agents.AgentInput {
	in := agents.AgentInput{
		InteractionID: interactionID,
		MessageID:     messageID,
		CustomerID:    customerID,
		Content:       content,
		ContentType:   "text",
		Context:       shortTerm,
		Timestamp:     now,
		Metadata:      metadata,
	}
	if v := metadata[MetaContentType]; v != "" {
		in.ContentType = v
	}
	if v := metadata[MetaSuggestedIntent]; v != "" {
		in.SuggestedIntent = agents.ParseIntent(v)
	}
	if v := metadata[MetaSuggestedEmotion]; v != "" {
		in.SuggestedEmotion = agents.ParseEmotion(v)
	}
	return in
}

func reviewSummary(r *agents.SupervisorReview) string {
	if r.Approved {
		return fmt.Sprintf("approved (quality %.2f)", r.QualityScore)
	}
	if len(r.Flags) == 0 {
		return fmt.Sprintf("rejected (risk %s)", r.RiskLevel)
	}
	flags := make([]string, len(r.Flags))
	for i, f := range r.Flags {
		flags[i] = string(f)
	}
	return fmt.Sprintf("rejected (risk %s): %s", r.RiskLevel, strings.Join(flags, ", "))
}

// recordDecision appends a decision to the interaction's memory and persists it.
func (o *Orchestrator) recordDecision(ctx context.Context, t *turnRun, d agents.ContextDecision, method agents.AnalysisMethod, payload interface{}) {
	if err := o.memory.AppendDecision(t.interactionID, d); err != nil {
		o.logger.Warn("Failed to store decision in memory",
			zap.String("interaction_id", t.interactionID),
			zap.String("agent_type", string(d.AgentType)),
			zap.Error(err))
	}
	o.persistDecision(ctx, t.interactionID, t.turn, d, method, payload)
}

// deliver stores an agent message tagged with the turn's intent and emotion.
func (o *Orchestrator) deliver(ctx context.Context, t *turnRun, primary *agents.AgentOutput, content, eventType string) error {
	now := time.Now().UTC()
	messageID := uuid.New().String()
	if err := o.memory.AppendMessage(t.interactionID, memory.Message{
		ID:        messageID,
		Role:      memory.RoleAgent,
		Content:   content,
		Intent:    primary.DetectedIntent,
		Emotion:   primary.DetectedEmotion,
		Timestamp: now,
	}); err != nil {
		return fmt.Errorf("failed to store agent message: %w", err)
	}
	o.persistMessage(ctx, t.interactionID, messageID, memory.RoleAgent, content, primary.DetectedIntent, primary.DetectedEmotion, now, nil)
	o.publish(ctx, streaming.Event{
		InteractionID: t.interactionID,
		Type:          eventType,
		Agent:         string(agents.AgentPrimary),
		Message:       content,
		Data:          map[string]interface{}{"turn": t.turn},
		Timestamp:     now,
	})
	return nil
}

// handoff delivers the handoff message and records the escalation. Retries
// go back to the AI at once; human-bound escalations wait for ReturnToAI.
func (o *Orchestrator) handoff(ctx context.Context, t *turnRun, primary *agents.AgentOutput, d *agents.EscalationDecision) error {
	if err := o.deliver(ctx, t, primary, o.cfg.HandoffMessage, streaming.EventResponseDelivered); err != nil {
		return err
	}

	outcome := agents.EscalationOutcome{
		EscalationID:   uuid.New().String(),
		DecisionID:     d.DecisionID,
		EscalationType: d.EscalationType,
		Reason:         d.EscalationReason,
		EscalatedAt:    d.DecidedAt,
		ReturnedToAI:   d.EscalationType == agents.EscalationRetryPrimary,
	}
	human := d.EscalationType.HumanBound()
	t.slot.update(func(st *InteractionState) {
		st.EscalationHistory = append(st.EscalationHistory, outcome)
		if human {
			st.IsEscalated = true
			st.RequiresHuman = true
		}
	})
	if !human {
		return nil
	}

	if err := o.memory.MarkRequiresHumanReview(t.interactionID); err != nil {
		return fmt.Errorf("failed to flag human review: %w", err)
	}
	if o.deps.Events == nil {
		return nil
	}
	ticket := streaming.HandoffTicket{
		InteractionID:  t.interactionID,
		CustomerID:     t.customerID,
		DecisionID:     d.DecisionID,
		EscalationType: string(d.EscalationType),
		Reason:         string(d.EscalationReason),
		Priority:       d.Priority,
		TargetAgent:    string(d.TargetAgent),
		ResponseTime:   d.RecommendedResponseTime,
		ContextSummary: d.ContextSummary,
		KeyIssues:      d.KeyIssues,
		CreatedAt:      d.DecidedAt,
	}
	if err := o.deps.Events.PublishHandoff(ctx, ticket); err != nil {
		o.logger.Warn("Failed to queue handoff for human desk",
			zap.String("interaction_id", t.interactionID),
			zap.String("decision_id", d.DecisionID),
			zap.Error(err))
	}
	return nil
}

// fail marks the turn failed. A failed turn always asks for escalation.
func (o *Orchestrator) fail(ctx context.Context, t *turnRun, err error) {
	failedPhase := t.phase
	r := t.result
	r.FinalPhase = PhaseFailed
	r.FailedPhase = failedPhase
	r.FinalAction = ActionEscalate
	r.ShouldEscalate = true
	r.ShouldRespond = false
	r.ResponseContent = ""
	r.Error = err.Error()

	t.phase = PhaseFailed
	t.slot.update(func(st *InteractionState) {
		st.CurrentPhase = PhaseFailed
		st.TurnCount = t.turn
		st.LastError = err.Error()
	})

	// The supervisor stage records the turn; failures before it never got there.
	if o.deps.Analytics != nil && r.SupervisorReview == nil {
		if aerr := o.deps.Analytics.RecordTurn(t.interactionID, r.PrimaryOutput, nil); aerr != nil {
			o.logger.Debug("Failed to record failed turn", zap.String("interaction_id", t.interactionID), zap.Error(aerr))
		}
	}
	o.publish(ctx, streaming.Event{
		InteractionID: t.interactionID,
		Type:          streaming.EventTurnFailed,
		Message:       err.Error(),
		Data: map[string]interface{}{
			"turn":         t.turn,
			"failed_phase": string(failedPhase),
		},
	})
	o.logger.Error("Turn failed",
		zap.String("interaction_id", t.interactionID),
		zap.Int("turn", t.turn),
		zap.String("phase", string(failedPhase)),
		zap.Error(err))
}
