// Package memory keeps per-interaction conversation history and derives the
// short-term context the agents read.
package memory

import (
	"errors"
	"time"

	"github.com/Kocoro-lab/callcenter-orchestrator/internal/agents"
)

var (
	// ErrInteractionNotFound is returned for unknown or already ended interactions
	ErrInteractionNotFound = errors.New("interaction not found")

	// ErrInteractionExists is returned when an interaction ID is reused
	ErrInteractionExists = errors.New("interaction already exists")
)

// Message roles.
const (
	RoleCustomer = "customer"
	RoleAgent    = "agent"
	RoleSystem   = "system"
)

// Message is one message in an interaction's history
type Message struct {
	ID        string                `json:"id"`
	Role      string                `json:"role"`
	Content   string                `json:"content"`
	Intent    agents.Intent         `json:"intent,omitempty"`
	Emotion   agents.EmotionalState `json:"emotion,omitempty"`
	Timestamp time.Time             `json:"timestamp"`
	Metadata  map[string]string     `json:"metadata,omitempty"`
}

// ConversationContext is the signal accumulated over an interaction. It only
// grows; an issue leaves UnresolvedIssues only by moving to ResolvedIssues.
type ConversationContext struct {
	TurnCount              int                     `json:"turn_count"`
	IntentHistory          []agents.Intent         `json:"intent_history"`
	EmotionHistory         []agents.EmotionalState `json:"emotion_history"`
	KeyTopics              []string                `json:"key_topics"`
	UnresolvedIssues       []string                `json:"unresolved_issues"`
	ResolvedIssues         []string                `json:"resolved_issues"`
	SensitiveTopicDetected bool                    `json:"sensitive_topic_detected"`
	RequiresHumanReview    bool                    `json:"requires_human_review"`
}

func (c ConversationContext) clone() ConversationContext {
	c.IntentHistory = append([]agents.Intent(nil), c.IntentHistory...)
	c.EmotionHistory = append([]agents.EmotionalState(nil), c.EmotionHistory...)
	c.KeyTopics = append([]string(nil), c.KeyTopics...)
	c.UnresolvedIssues = append([]string(nil), c.UnresolvedIssues...)
	c.ResolvedIssues = append([]string(nil), c.ResolvedIssues...)
	return c
}

// Archive is everything the store held for an interaction when it ended.
type Archive struct {
	InteractionID string                   `json:"interaction_id"`
	CustomerID    string                   `json:"customer_id,omitempty"`
	StartedAt     time.Time                `json:"started_at"`
	EndedAt       time.Time                `json:"ended_at"`
	Messages      []Message                `json:"messages"`
	Decisions     []agents.ContextDecision `json:"decisions"`
	Context       ConversationContext      `json:"context"`
}

// Window bounds the short-term view.
type Window struct {
	Messages  int `mapstructure:"window_messages"`
	Decisions int `mapstructure:"window_decisions"`
}

// DefaultWindow is used for zero or negative window sizes.
var DefaultWindow = Window{Messages: 10, Decisions: 5}
