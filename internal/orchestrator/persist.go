package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/callcenter-orchestrator/internal/agents"
	"github.com/Kocoro-lab/callcenter-orchestrator/internal/db"
)

// Persistence is best effort: the conversation goes on when the store is
// unavailable, so failures are only logged.

func (o *Orchestrator) saveInteraction(ctx context.Context, st *InteractionState) {
	if o.deps.Store == nil {
		return
	}
	meta := db.JSONB{}
	for k, v := range st.Interaction.Metadata {
		meta[k] = v
	}
	rec := &db.InteractionRecord{
		ID:         st.InteractionID,
		CustomerID: st.Interaction.CustomerID,
		Channel:    string(st.Interaction.Channel),
		Status:     string(st.Interaction.Status),
		Resolution: st.Interaction.Resolution,
		TurnCount:  st.TurnCount,
		StartedAt:  st.StartedAt,
		EndedAt:    st.Interaction.EndedAt,
		UpdatedAt:  st.UpdatedAt,
		Metadata:   meta,
	}
	if err := o.deps.Store.SaveInteraction(ctx, rec); err != nil {
		o.logger.Warn("Failed to persist interaction",
			zap.String("interaction_id", st.InteractionID),
			zap.Error(err))
	}
}

func (o *Orchestrator) updateStatus(ctx context.Context, st *InteractionState) {
	if o.deps.Store == nil {
		return
	}
	upd := &db.StatusUpdate{
		InteractionID: st.InteractionID,
		Status:        string(st.Interaction.Status),
		Resolution:    st.Interaction.Resolution,
		TurnCount:     st.TurnCount,
		EndedAt:       st.Interaction.EndedAt,
	}
	if err := o.deps.Store.UpdateInteractionStatus(ctx, upd); err != nil {
		o.logger.Warn("Failed to persist interaction status",
			zap.String("interaction_id", st.InteractionID),
			zap.String("status", upd.Status),
			zap.Error(err))
	}
}

func (o *Orchestrator) persistMessage(ctx context.Context, interactionID, messageID, role, content string, intent agents.Intent, emotion agents.EmotionalState, at time.Time, metadata map[string]string) {
	if o.deps.Store == nil {
		return
	}
	id, err := uuid.Parse(messageID)
	if err != nil {
		id = uuid.New()
	}
	meta := db.JSONB{}
	for k, v := range metadata {
		meta[k] = v
	}
	rec := &db.MessageRecord{
		ID:            id,
		InteractionID: interactionID,
		Role:          role,
		Content:       content,
		Intent:        string(intent),
		Emotion:       string(emotion),
		CreatedAt:     at,
		Metadata:      meta,
	}
	if err := o.deps.Store.SaveMessage(ctx, rec); err != nil {
		o.logger.Warn("Failed to persist message",
			zap.String("interaction_id", interactionID),
			zap.String("role", role),
			zap.Error(err))
	}
}

func (o *Orchestrator) persistDecision(ctx context.Context, interactionID string, turn int, d agents.ContextDecision, method agents.AnalysisMethod, payload interface{}) {
	if o.deps.Store == nil {
		return
	}
	body, err := db.ToJSONB(payload)
	if err != nil {
		o.logger.Warn("Failed to encode agent decision",
			zap.String("interaction_id", interactionID),
			zap.String("decision_id", d.DecisionID),
			zap.Error(err))
		body = nil
	}
	rec := &db.AgentDecisionRecord{
		ID:             d.DecisionID,
		InteractionID:  interactionID,
		TurnNumber:     turn,
		AgentType:      string(d.AgentType),
		DecisionType:   string(d.DecisionType),
		Confidence:     d.Confidence,
		AnalysisMethod: string(method),
		Summary:        d.Summary,
		Payload:        body,
		CreatedAt:      d.Timestamp,
	}
	if err := o.deps.Store.SaveAgentDecision(ctx, rec); err != nil {
		o.logger.Warn("Failed to persist agent decision",
			zap.String("interaction_id", interactionID),
			zap.String("agent_type", rec.AgentType),
			zap.Error(err))
	}
}
