package orchestrator

import (
	"context"
	"time"

	"github.com/Kocoro-lab/callcenter-orchestrator/internal/agents"
	"github.com/Kocoro-lab/callcenter-orchestrator/internal/analytics"
	"github.com/Kocoro-lab/callcenter-orchestrator/internal/db"
	"github.com/Kocoro-lab/callcenter-orchestrator/internal/memory"
	"github.com/Kocoro-lab/callcenter-orchestrator/internal/streaming"
)

// Responder produces the first draft of a turn.
type Responder interface {
	Process(ctx context.Context, in agents.AgentInput) (*agents.AgentOutput, error)
}

// Reviewer judges a draft before it reaches the customer.
type Reviewer interface {
	ReviewDecision(ctx context.Context, out *agents.AgentOutput, in agents.AgentInput) (*agents.SupervisorReview, error)
}

// Router decides whether a reviewed turn leaves autonomous handling.
type Router interface {
	EvaluateForEscalation(primary *agents.AgentOutput, review *agents.SupervisorReview, in agents.AgentInput, history []agents.EscalationOutcome) *agents.EscalationDecision
}

// Store persists interactions, transcripts and decisions.
type Store interface {
	SaveInteraction(ctx context.Context, rec *db.InteractionRecord) error
	UpdateInteractionStatus(ctx context.Context, upd *db.StatusUpdate) error
	SaveMessage(ctx context.Context, rec *db.MessageRecord) error
	SaveAgentDecision(ctx context.Context, rec *db.AgentDecisionRecord) error
}

// AuditLogger records the audit trail of an interaction.
type AuditLogger interface {
	LogInteractionStart(ctx context.Context, interactionID, customerID, channel string)
	LogInteractionEnd(ctx context.Context, interactionID, resolution string, turns int, duration time.Duration)
	LogPrimaryDecision(ctx context.Context, out *agents.AgentOutput)
	LogSupervisorReview(ctx context.Context, review *agents.SupervisorReview)
	LogEscalationDecision(ctx context.Context, d *agents.EscalationDecision)
	LogReturnedToAI(ctx context.Context, interactionID, humanAgentID, notes string)
}

// Analytics aggregates per-interaction quality figures.
type Analytics interface {
	StartInteraction(interactionID, channel string, startedAt time.Time)
	RecordTurn(interactionID string, primary *agents.AgentOutput, review *agents.SupervisorReview) error
	RecordEscalation(interactionID string, d *agents.EscalationDecision) error
	EndInteraction(interactionID, resolution string) (*analytics.InteractionSummary, error)
}

// EventPublisher fans interaction events out to observers and human desks.
type EventPublisher interface {
	Publish(ctx context.Context, evt streaming.Event) streaming.Event
	PublishHandoff(ctx context.Context, t streaming.HandoffTicket) error
	Forget(interactionID string)
}

// Archiver keeps ended interactions for returning customers.
type Archiver interface {
	Save(ctx context.Context, archive *memory.Archive) error
	LoadLatest(ctx context.Context, customerID string) (*memory.Archive, error)
}

// Dependencies wires the orchestrator. The three agents are required; a nil
// Memory gets a default store and every other collaborator is optional.
type Dependencies struct {
	Primary    Responder
	Supervisor Reviewer
	Escalation Router
	Memory     *memory.Store

	Store     Store
	Audit     AuditLogger
	Analytics Analytics
	Events    EventPublisher
	Archiver  Archiver
}
