// Package audit records every agent decision of an interaction on a
// dedicated logger and, when a sink is configured, as audit_logs rows.
package audit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/callcenter-orchestrator/internal/agents"
	"github.com/Kocoro-lab/callcenter-orchestrator/internal/db"
)

// Event types
const (
	EventInteractionStart   = "interaction_start"
	EventInteractionEnd     = "interaction_end"
	EventPrimaryDecision    = "primary_decision"
	EventSupervisorReview   = "supervisor_review"
	EventEscalationDecision = "escalation_decision"
	EventReturnedToAI       = "returned_to_ai"
)

// Sink persists audit rows.
type Sink interface {
	SaveAuditLog(ctx context.Context, rec *db.AuditLog) error
}

// Logger writes the audit trail. Failures are logged and never returned.
type Logger struct {
	logger *zap.Logger
	sink   Sink
}

// NewLogger creates an audit logger. sink may be nil.
func NewLogger(logger *zap.Logger, sink Sink) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{logger: logger.Named("audit"), sink: sink}
}

// LogInteractionStart records a new interaction.
func (l *Logger) LogInteractionStart(ctx context.Context, interactionID, customerID, channel string) {
	l.logger.Info("Interaction started",
		zap.String("interaction_id", interactionID),
		zap.String("customer_id", customerID),
		zap.String("channel", channel),
	)
	l.forward(ctx, interactionID, EventInteractionStart, "orchestrator", db.JSONB{
		"customer_id": customerID,
		"channel":     channel,
	})
}

// LogInteractionEnd records how an interaction finished.
func (l *Logger) LogInteractionEnd(ctx context.Context, interactionID, resolution string, turns int, duration time.Duration) {
	l.logger.Info("Interaction ended",
		zap.String("interaction_id", interactionID),
		zap.String("resolution", resolution),
		zap.Int("turns", turns),
		zap.Duration("duration", duration),
	)
	l.forward(ctx, interactionID, EventInteractionEnd, "orchestrator", db.JSONB{
		"resolution":  resolution,
		"turns":       turns,
		"duration_ms": duration.Milliseconds(),
	})
}

// LogPrimaryDecision records the primary agent's output for a turn.
func (l *Logger) LogPrimaryDecision(ctx context.Context, out *agents.AgentOutput) {
	if out == nil {
		return
	}
	l.logger.Info("Primary decision",
		zap.String("interaction_id", out.InteractionID),
		zap.String("decision_id", out.DecisionID),
		zap.String("decision_type", string(out.DecisionType)),
		zap.String("intent", string(out.DetectedIntent)),
		zap.String("emotion", string(out.DetectedEmotion)),
		zap.Float64("confidence", out.Confidence.OverallScore),
		zap.String("analysis_method", string(out.AnalysisMethod)),
	)
	l.forward(ctx, out.InteractionID, EventPrimaryDecision, string(agents.AgentPrimary), db.JSONB{
		"decision_id":     out.DecisionID,
		"decision_type":   string(out.DecisionType),
		"intent":          string(out.DetectedIntent),
		"emotion":         string(out.DetectedEmotion),
		"confidence":      out.Confidence.OverallScore,
		"analysis_method": string(out.AnalysisMethod),
		"reasoning":       out.Reasoning,
	})
}

// LogSupervisorReview records the supervisor verdict for a turn.
func (l *Logger) LogSupervisorReview(ctx context.Context, review *agents.SupervisorReview) {
	if review == nil {
		return
	}
	flags := make([]string, 0, len(review.Flags))
	for _, f := range review.Flags {
		flags = append(flags, string(f))
	}
	l.logger.Info("Supervisor review",
		zap.String("interaction_id", review.InteractionID),
		zap.String("decision_id", review.DecisionID),
		zap.Bool("approved", review.Approved),
		zap.String("risk_level", string(review.RiskLevel)),
		zap.String("compliance", string(review.ComplianceStatus)),
		zap.Float64("adjusted_confidence", review.AdjustedConfidence),
		zap.Strings("flags", flags),
	)
	l.forward(ctx, review.InteractionID, EventSupervisorReview, string(agents.AgentSupervisor), db.JSONB{
		"review_id":           review.ReviewID,
		"decision_id":         review.DecisionID,
		"approved":            review.Approved,
		"risk_level":          string(review.RiskLevel),
		"compliance_status":   string(review.ComplianceStatus),
		"quality_score":       review.QualityScore,
		"original_confidence": review.OriginalConfidence,
		"adjusted_confidence": review.AdjustedConfidence,
		"adjustment_reason":   review.AdjustmentReason,
		"flags":               flags,
	})
}

// LogEscalationDecision records the routing verdict for a turn.
func (l *Logger) LogEscalationDecision(ctx context.Context, d *agents.EscalationDecision) {
	if d == nil {
		return
	}
	level := zap.InfoLevel
	if d.ShouldEscalate {
		level = zap.WarnLevel
	}
	l.logger.Check(level, "Escalation decision").Write(
		zap.String("interaction_id", d.InteractionID),
		zap.String("decision_id", d.DecisionID),
		zap.Bool("should_escalate", d.ShouldEscalate),
		zap.String("escalation_type", string(d.EscalationType)),
		zap.String("reason", string(d.EscalationReason)),
		zap.Int("priority", d.Priority),
	)
	l.forward(ctx, d.InteractionID, EventEscalationDecision, string(agents.AgentEscalation), db.JSONB{
		"decision_id":     d.DecisionID,
		"should_escalate": d.ShouldEscalate,
		"escalation_type": string(d.EscalationType),
		"reason":          string(d.EscalationReason),
		"priority":        d.Priority,
		"target_agent":    string(d.TargetAgent),
		"context_summary": d.ContextSummary,
	})
}

// LogReturnedToAI records a human handing the conversation back.
func (l *Logger) LogReturnedToAI(ctx context.Context, interactionID, humanAgentID, notes string) {
	l.logger.Info("Interaction returned to AI",
		zap.String("interaction_id", interactionID),
		zap.String("human_agent_id", humanAgentID),
	)
	l.forward(ctx, interactionID, EventReturnedToAI, humanAgentID, db.JSONB{"notes": notes})
}

func (l *Logger) forward(ctx context.Context, interactionID, eventType, actor string, details db.JSONB) {
	if l.sink == nil {
		return
	}
	err := l.sink.SaveAuditLog(ctx, &db.AuditLog{
		InteractionID: interactionID,
		EventType:     eventType,
		Actor:         actor,
		Details:       details,
	})
	if err != nil {
		l.logger.Warn("Failed to log audit event",
			zap.String("event_type", eventType),
			zap.String("interaction_id", interactionID),
			zap.Error(err))
	}
}
