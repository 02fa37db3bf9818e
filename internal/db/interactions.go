package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// SaveInteraction queues an interaction upsert.
func (c *Client) SaveInteraction(ctx context.Context, rec *InteractionRecord) error {
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now().UTC()
	}
	rec.UpdatedAt = time.Now().UTC()
	return c.QueueWrite(WriteTypeInteraction, rec, nil)
}

// UpdateInteractionStatus queues a status change.
func (c *Client) UpdateInteractionStatus(ctx context.Context, upd *StatusUpdate) error {
	return c.QueueWrite(WriteTypeInteractionStatus, upd, nil)
}

// SaveMessage queues a transcript message.
func (c *Client) SaveMessage(ctx context.Context, rec *MessageRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	return c.QueueWrite(WriteTypeMessage, rec, nil)
}

// SaveAgentDecision queues an agent decision.
func (c *Client) SaveAgentDecision(ctx context.Context, rec *AgentDecisionRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	return c.QueueWrite(WriteTypeAgentDecision, rec, nil)
}

// SaveAuditLog queues an audit event.
func (c *Client) SaveAuditLog(ctx context.Context, rec *AuditLog) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	return c.QueueWrite(WriteTypeAuditLog, rec, nil)
}

func (c *Client) writeInteraction(ctx context.Context, rec *InteractionRecord) error {
	query := c.rebind(`
		INSERT INTO interactions (
			id, customer_id, channel, status, resolution, turn_count,
			started_at, ended_at, updated_at, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			resolution = excluded.resolution,
			turn_count = excluded.turn_count,
			ended_at = excluded.ended_at,
			updated_at = excluded.updated_at,
			metadata = excluded.metadata`)
	_, err := c.db.ExecContext(ctx, query,
		rec.ID, rec.CustomerID, rec.Channel, rec.Status, rec.Resolution, rec.TurnCount,
		rec.StartedAt, rec.EndedAt, rec.UpdatedAt, rec.Metadata,
	)
	if err != nil {
		return fmt.Errorf("failed to save interaction %s: %w", rec.ID, err)
	}
	return nil
}

func (c *Client) writeInteractionStatus(ctx context.Context, upd *StatusUpdate) error {
	query := c.rebind(`
		UPDATE interactions
		SET status = ?, resolution = ?, turn_count = ?, ended_at = ?, updated_at = ?
		WHERE id = ?`)
	res, err := c.db.ExecContext(ctx, query,
		upd.Status, upd.Resolution, upd.TurnCount, upd.EndedAt, time.Now().UTC(), upd.InteractionID,
	)
	if err != nil {
		return fmt.Errorf("failed to update interaction %s: %w", upd.InteractionID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("interaction %s: %w", upd.InteractionID, ErrNotFound)
	}
	return nil
}

func (c *Client) writeMessage(ctx context.Context, rec *MessageRecord) error {
	query := c.rebind(`
		INSERT INTO interaction_messages (
			id, interaction_id, role, content, intent, emotion, created_at, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`)
	_, err := c.db.ExecContext(ctx, query,
		rec.ID, rec.InteractionID, rec.Role, rec.Content, rec.Intent, rec.Emotion, rec.CreatedAt, rec.Metadata,
	)
	if err != nil {
		return fmt.Errorf("failed to save message for %s: %w", rec.InteractionID, err)
	}
	return nil
}

func (c *Client) writeAgentDecision(ctx context.Context, rec *AgentDecisionRecord) error {
	query := c.rebind(`
		INSERT INTO agent_decisions (
			id, interaction_id, turn_number, agent_type, decision_type,
			confidence, analysis_method, summary, payload, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`)
	_, err := c.db.ExecContext(ctx, query,
		rec.ID, rec.InteractionID, rec.TurnNumber, rec.AgentType, rec.DecisionType,
		rec.Confidence, rec.AnalysisMethod, rec.Summary, rec.Payload, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save %s decision for %s: %w", rec.AgentType, rec.InteractionID, err)
	}
	return nil
}

func (c *Client) writeAuditLog(ctx context.Context, rec *AuditLog) error {
	query := c.rebind(`
		INSERT INTO audit_logs (id, interaction_id, event_type, actor, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	_, err := c.db.ExecContext(ctx, query,
		rec.ID, rec.InteractionID, rec.EventType, rec.Actor, rec.Details, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save audit event %s: %w", rec.EventType, err)
	}
	return nil
}

// GetInteraction loads one interaction.
func (c *Client) GetInteraction(ctx context.Context, id string) (*InteractionRecord, error) {
	rows, err := c.db.QueryContext(ctx, c.rebind(`
		SELECT id, customer_id, channel, status, resolution, turn_count,
			started_at, ended_at, updated_at, metadata
		FROM interactions WHERE id = ?`), id)
	if err != nil {
		return nil, fmt.Errorf("failed to query interaction %s: %w", id, err)
	}
	defer rows.Close()

	var out []InteractionRecord
	if err := sqlx.StructScan(rows, &out); err != nil {
		return nil, fmt.Errorf("failed to scan interaction %s: %w", id, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("interaction %s: %w", id, ErrNotFound)
	}
	return &out[0], nil
}

// ListMessages returns the transcript of an interaction in order.
func (c *Client) ListMessages(ctx context.Context, interactionID string) ([]MessageRecord, error) {
	rows, err := c.db.QueryContext(ctx, c.rebind(`
		SELECT id, interaction_id, role, content, intent, emotion, created_at, metadata
		FROM interaction_messages WHERE interaction_id = ?
		ORDER BY created_at ASC`), interactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages for %s: %w", interactionID, err)
	}
	defer rows.Close()

	var out []MessageRecord
	if err := sqlx.StructScan(rows, &out); err != nil {
		return nil, fmt.Errorf("failed to scan messages for %s: %w", interactionID, err)
	}
	return out, nil
}

// ListAgentDecisions returns every decision of an interaction ordered by turn.
func (c *Client) ListAgentDecisions(ctx context.Context, interactionID string) ([]AgentDecisionRecord, error) {
	rows, err := c.db.QueryContext(ctx, c.rebind(`
		SELECT id, interaction_id, turn_number, agent_type, decision_type,
			confidence, analysis_method, summary, payload, created_at
		FROM agent_decisions WHERE interaction_id = ?
		ORDER BY turn_number ASC, created_at ASC`), interactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query decisions for %s: %w", interactionID, err)
	}
	defer rows.Close()

	var out []AgentDecisionRecord
	if err := sqlx.StructScan(rows, &out); err != nil {
		return nil, fmt.Errorf("failed to scan decisions for %s: %w", interactionID, err)
	}
	return out, nil
}
