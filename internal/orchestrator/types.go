package orchestrator

import (
	"errors"
	"time"

	"github.com/Kocoro-lab/callcenter-orchestrator/internal/agents"
	"github.com/Kocoro-lab/callcenter-orchestrator/internal/db"
	"github.com/Kocoro-lab/callcenter-orchestrator/internal/memory"
)

var (
	// ErrInteractionNotFound is returned for unknown or ended interactions.
	ErrInteractionNotFound = memory.ErrInteractionNotFound
	// ErrInteractionExists is returned when an interaction ID is reused.
	ErrInteractionExists = memory.ErrInteractionExists
	// ErrInteractionBusy is returned when a turn cannot acquire the interaction in time.
	ErrInteractionBusy = errors.New("interaction is busy")
	// ErrInteractionClosed is returned when an interaction ended while a caller waited on it.
	ErrInteractionClosed = errors.New("interaction is closed")
	// ErrEmptyContent is returned for blank customer messages.
	ErrEmptyContent = agents.ErrEmptyContent
	// ErrInvalidChannel is returned for channels other than voice, chat and email.
	ErrInvalidChannel = errors.New("invalid channel")
	// ErrNotEscalated is returned when handing back an interaction no human holds.
	ErrNotEscalated = errors.New("interaction is not escalated")
)

// Phase is a step of the turn pipeline.
type Phase string

const (
	PhaseInitialized          Phase = "initialized"
	PhasePrimaryProcessing    Phase = "primary_processing"
	PhaseSupervisorReview     Phase = "supervisor_review"
	PhaseEscalationEvaluation Phase = "escalation_evaluation"
	PhaseResponseDelivery     Phase = "response_delivery"
	PhaseEscalationHandoff    Phase = "escalation_handoff"
	PhaseCompleted            Phase = "completed"
	PhaseFailed               Phase = "failed"
)

// Action is what a turn ended up doing for the customer.
type Action string

const (
	ActionRespond  Action = "respond"
	ActionEscalate Action = "escalate"
	ActionNone     Action = "none"
)

// Channel is how the customer reached the call center.
type Channel string

const (
	ChannelVoice Channel = "voice"
	ChannelChat  Channel = "chat"
	ChannelEmail Channel = "email"
)

func (c Channel) valid() bool {
	return c == ChannelVoice || c == ChannelChat || c == ChannelEmail
}

// Status is the lifecycle status of an interaction.
type Status string

const (
	StatusInitiated  Status = db.StatusInitiated
	StatusInProgress Status = db.StatusInProgress
	StatusEscalated  Status = db.StatusEscalated
	StatusCompleted  Status = db.StatusCompleted
	StatusAbandoned  Status = db.StatusAbandoned
)

// Resolutions inferred when an interaction ends without an explicit one.
const (
	ResolutionAIResolved     = "ai_resolved"
	ResolutionHumanEscalated = "human_escalated"
	ResolutionAbandoned      = "abandoned"
)

// Interaction describes one customer conversation.
type Interaction struct {
	ID         string            `json:"id"`
	CustomerID string            `json:"customer_id,omitempty"`
	Channel    Channel           `json:"channel"`
	Status     Status            `json:"status"`
	StartedAt  time.Time         `json:"started_at"`
	EndedAt    *time.Time        `json:"ended_at,omitempty"`
	Resolution string            `json:"resolution,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// InteractionState is everything the orchestrator tracks for a live interaction.
type InteractionState struct {
	InteractionID       string                       `json:"interaction_id"`
	Interaction         Interaction                  `json:"interaction"`
	CurrentPhase        Phase                        `json:"current_phase"`
	TurnCount           int                          `json:"turn_count"`
	PrimaryOutputs      []*agents.AgentOutput        `json:"primary_outputs"`
	SupervisorReviews   []*agents.SupervisorReview   `json:"supervisor_reviews"`
	EscalationDecisions []*agents.EscalationDecision `json:"escalation_decisions"`
	EscalationHistory   []agents.EscalationOutcome   `json:"escalation_history"`
	CurrentIntent       agents.Intent                `json:"current_intent,omitempty"`
	CurrentEmotion      agents.EmotionalState        `json:"current_emotion,omitempty"`
	IsEscalated         bool                         `json:"is_escalated"`
	IsCompleted         bool                         `json:"is_completed"`
	RequiresHuman       bool                         `json:"requires_human"`
	StartedAt           time.Time                    `json:"started_at"`
	UpdatedAt           time.Time                    `json:"updated_at"`
	LastError           string                       `json:"last_error,omitempty"`
}

// clone copies the slices and maps a caller could mutate. Agent outputs are
// never modified after creation, so the pointers are shared.
func (s *InteractionState) clone() *InteractionState {
	c := *s
	c.PrimaryOutputs = append([]*agents.AgentOutput(nil), s.PrimaryOutputs...)
	c.SupervisorReviews = append([]*agents.SupervisorReview(nil), s.SupervisorReviews...)
	c.EscalationDecisions = append([]*agents.EscalationDecision(nil), s.EscalationDecisions...)
	c.EscalationHistory = append([]agents.EscalationOutcome(nil), s.EscalationHistory...)
	if s.Interaction.Metadata != nil {
		c.Interaction.Metadata = make(map[string]string, len(s.Interaction.Metadata))
		for k, v := range s.Interaction.Metadata {
			c.Interaction.Metadata[k] = v
		}
	}
	if s.Interaction.EndedAt != nil {
		t := *s.Interaction.EndedAt
		c.Interaction.EndedAt = &t
	}
	return &c
}

// OrchestrationResult is the outcome of one turn.
type OrchestrationResult struct {
	InteractionID      string                     `json:"interaction_id"`
	TurnNumber         int                        `json:"turn_number"`
	FinalPhase         Phase                      `json:"final_phase"`
	FinalAction        Action                     `json:"final_action"`
	PrimaryOutput      *agents.AgentOutput        `json:"primary_output,omitempty"`
	SupervisorReview   *agents.SupervisorReview   `json:"supervisor_review,omitempty"`
	EscalationDecision *agents.EscalationDecision `json:"escalation_decision,omitempty"`
	ShouldRespond      bool                       `json:"should_respond"`
	ShouldEscalate     bool                       `json:"should_escalate"`
	ResponseContent    string                     `json:"response_content,omitempty"`
	HandoffMessage     string                     `json:"handoff_message,omitempty"`
	Error              string                     `json:"error,omitempty"`
	FailedPhase        Phase                      `json:"failed_phase,omitempty"`
	ProcessingTimeMs   int64                      `json:"processing_time_ms"`
}

// Config tunes turn execution.
type Config struct {
	TurnLockTimeout time.Duration `mapstructure:"turn_lock_timeout"`
	TurnTimeout     time.Duration `mapstructure:"turn_timeout"`
	HandoffMessage  string        `mapstructure:"handoff_message"`
}

// DefaultHandoffMessage is sent to the customer when a turn escalates.
const DefaultHandoffMessage = "I'm connecting you with a member of our team who can help you further. Please stay with us for a moment."

func (c Config) withDefaults() Config {
	if c.TurnLockTimeout <= 0 {
		c.TurnLockTimeout = 30 * time.Second
	}
	if c.HandoffMessage == "" {
		c.HandoffMessage = DefaultHandoffMessage
	}
	return c
}
