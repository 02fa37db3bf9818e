package db

import (
	"context"
	"fmt"
)

// The schema sticks to types both Postgres and SQLite accept. JSON documents
// are stored as text.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS interactions (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		channel TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		resolution TEXT NOT NULL DEFAULT '',
		turn_count INTEGER NOT NULL DEFAULT 0,
		started_at TIMESTAMP NOT NULL,
		ended_at TIMESTAMP NULL,
		updated_at TIMESTAMP NOT NULL,
		metadata TEXT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_interactions_customer ON interactions (customer_id, started_at)`,
	`CREATE TABLE IF NOT EXISTS interaction_messages (
		id TEXT PRIMARY KEY,
		interaction_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		intent TEXT NOT NULL DEFAULT '',
		emotion TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		metadata TEXT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_interaction ON interaction_messages (interaction_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS agent_decisions (
		id TEXT PRIMARY KEY,
		interaction_id TEXT NOT NULL,
		turn_number INTEGER NOT NULL,
		agent_type TEXT NOT NULL,
		decision_type TEXT NOT NULL,
		confidence DOUBLE PRECISION NOT NULL,
		analysis_method TEXT NOT NULL DEFAULT '',
		summary TEXT NOT NULL DEFAULT '',
		payload TEXT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_decisions_interaction ON agent_decisions (interaction_id, turn_number)`,
	`CREATE TABLE IF NOT EXISTS audit_logs (
		id TEXT PRIMARY KEY,
		interaction_id TEXT NOT NULL DEFAULT '',
		event_type TEXT NOT NULL,
		actor TEXT NOT NULL DEFAULT '',
		details TEXT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_interaction ON audit_logs (interaction_id, created_at)`,
}

// Migrate creates the tables if they do not exist.
func (c *Client) Migrate(ctx context.Context) error {
	for i, stmt := range schemaStatements {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i, err)
		}
	}
	return nil
}
