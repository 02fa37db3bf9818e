package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JSONB is a JSON document column. Postgres stores it as jsonb, SQLite as text.
type JSONB map[string]interface{}

// Value implements the driver.Valuer interface
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	raw, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

// Scan implements the sql.Scanner interface
func (j *JSONB) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*j = nil
		return nil
	case []byte:
		return json.Unmarshal(v, j)
	case string:
		return json.Unmarshal([]byte(v), j)
	default:
		return fmt.Errorf("cannot scan %T into JSONB", value)
	}
}

// Interaction statuses
const (
	StatusInitiated  = "initiated"
	StatusInProgress = "in_progress"
	StatusEscalated  = "escalated"
	StatusCompleted  = "completed"
	StatusAbandoned  = "abandoned"
)

// InteractionRecord is one customer interaction.
type InteractionRecord struct {
	ID         string     `db:"id"`
	CustomerID string     `db:"customer_id"`
	Channel    string     `db:"channel"`
	Status     string     `db:"status"`
	Resolution string     `db:"resolution"`
	TurnCount  int        `db:"turn_count"`
	StartedAt  time.Time  `db:"started_at"`
	EndedAt    *time.Time `db:"ended_at"`
	UpdatedAt  time.Time  `db:"updated_at"`
	Metadata   JSONB      `db:"metadata"`
}

// StatusUpdate changes the status of an existing interaction.
type StatusUpdate struct {
	InteractionID string
	Status        string
	Resolution    string
	TurnCount     int
	EndedAt       *time.Time
}

// MessageRecord is one message of an interaction transcript.
type MessageRecord struct {
	ID            uuid.UUID `db:"id"`
	InteractionID string    `db:"interaction_id"`
	Role          string    `db:"role"`
	Content       string    `db:"content"`
	Intent        string    `db:"intent"`
	Emotion       string    `db:"emotion"`
	CreatedAt     time.Time `db:"created_at"`
	Metadata      JSONB     `db:"metadata"`
}

// AgentDecisionRecord is one agent decision within a turn.
type AgentDecisionRecord struct {
	ID             string    `db:"id"`
	InteractionID  string    `db:"interaction_id"`
	TurnNumber     int       `db:"turn_number"`
	AgentType      string    `db:"agent_type"`
	DecisionType   string    `db:"decision_type"`
	Confidence     float64   `db:"confidence"`
	AnalysisMethod string    `db:"analysis_method"`
	Summary        string    `db:"summary"`
	Payload        JSONB     `db:"payload"`
	CreatedAt      time.Time `db:"created_at"`
}

// AuditLog is one audit trail event.
type AuditLog struct {
	ID            uuid.UUID `db:"id"`
	InteractionID string    `db:"interaction_id"`
	EventType     string    `db:"event_type"`
	Actor         string    `db:"actor"`
	Details       JSONB     `db:"details"`
	CreatedAt     time.Time `db:"created_at"`
}

// ToJSONB converts any JSON-serializable value into a JSONB document.
func ToJSONB(v interface{}) (JSONB, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out JSONB
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
