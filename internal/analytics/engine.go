// Package analytics aggregates per-interaction quality metrics and mirrors
// them into Prometheus.
package analytics

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/callcenter-orchestrator/internal/agents"
	"github.com/Kocoro-lab/callcenter-orchestrator/internal/metrics"
)

// ErrUnknownInteraction is returned for interactions the engine is not tracking.
var ErrUnknownInteraction = errors.New("interaction not tracked")

// InteractionSummary is the analytics view of one interaction.
type InteractionSummary struct {
	InteractionID      string                  `json:"interaction_id"`
	Channel            string                  `json:"channel"`
	Turns              int                     `json:"turns"`
	AverageConfidence  float64                 `json:"average_confidence"`
	MinConfidence      float64                 `json:"min_confidence"`
	IntentDistribution map[agents.Intent]int   `json:"intent_distribution"`
	EmotionTrajectory  []agents.EmotionalState `json:"emotion_trajectory"`
	Escalations        int                     `json:"escalations"`
	EscalationTypes    []agents.EscalationType `json:"escalation_types"`
	ApprovalRate       float64                 `json:"approval_rate"`
	FallbackRatio      float64                 `json:"fallback_ratio"`
	FailedTurns        int                     `json:"failed_turns"`
	Resolution         string                  `json:"resolution,omitempty"`
	StartedAt          time.Time               `json:"started_at"`
	EndedAt            *time.Time              `json:"ended_at,omitempty"`
	Duration           time.Duration           `json:"duration"`
}

type tracker struct {
	channel     string
	startedAt   time.Time
	turns       int
	confidences []float64
	intents     map[agents.Intent]int
	emotions    []agents.EmotionalState
	escalations []agents.EscalationType
	approved    int
	reviewed    int
	fallbacks   int
	analyses    int
	failed      int
}

// Engine tracks live interactions.
type Engine struct {
	mu     sync.Mutex
	active map[string]*tracker
	logger *zap.Logger
}

// NewEngine creates an empty engine.
func NewEngine(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{active: make(map[string]*tracker), logger: logger}
}

// StartInteraction begins tracking. Restarting a tracked interaction resets it.
func (e *Engine) StartInteraction(interactionID, channel string, startedAt time.Time) {
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}
	e.mu.Lock()
	e.active[interactionID] = &tracker{
		channel:   channel,
		startedAt: startedAt,
		intents:   make(map[agents.Intent]int),
	}
	e.mu.Unlock()
	metrics.InteractionsStarted.WithLabelValues(channel).Inc()
}

// RecordTurn folds one finished turn into the interaction's aggregates. Any
// stage output may be nil when the turn failed before producing it.
func (e *Engine) RecordTurn(interactionID string, primary *agents.AgentOutput, review *agents.SupervisorReview) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.active[interactionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownInteraction, interactionID)
	}

	t.turns++
	if primary == nil {
		t.failed++
		return nil
	}
	t.analyses++
	if primary.AnalysisMethod == agents.MethodFallback {
		t.fallbacks++
	}
	t.intents[primary.DetectedIntent]++
	if primary.DetectedEmotion != "" {
		t.emotions = append(t.emotions, primary.DetectedEmotion)
	}

	confidence := primary.Confidence.OverallScore
	if review != nil {
		t.reviewed++
		t.analyses++
		if review.Approved {
			t.approved++
		}
		if review.AnalysisMethod == agents.MethodFallback {
			t.fallbacks++
		}
		confidence = review.AdjustedConfidence
	} else {
		t.failed++
	}
	t.confidences = append(t.confidences, confidence)
	return nil
}

// RecordEscalation counts an escalation that left autonomous handling.
func (e *Engine) RecordEscalation(interactionID string, d *agents.EscalationDecision) error {
	if d == nil || !d.ShouldEscalate {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.active[interactionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownInteraction, interactionID)
	}
	t.escalations = append(t.escalations, d.EscalationType)
	return nil
}

// Summary returns the current aggregates without ending the interaction.
func (e *Engine) Summary(interactionID string) (*InteractionSummary, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.active[interactionID]
	if !ok {
		return nil, false
	}
	return t.summarize(interactionID, time.Now().UTC()), true
}

// EndInteraction stops tracking and returns the final summary.
func (e *Engine) EndInteraction(interactionID, resolution string) (*InteractionSummary, error) {
	e.mu.Lock()
	t, ok := e.active[interactionID]
	if ok {
		delete(e.active, interactionID)
	}
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownInteraction, interactionID)
	}

	now := time.Now().UTC()
	s := t.summarize(interactionID, now)
	s.Resolution = resolution
	s.EndedAt = &now

	metrics.InteractionsEnded.WithLabelValues(resolution).Inc()
	metrics.InteractionTurns.Observe(float64(s.Turns))
	e.logger.Debug("Interaction summary",
		zap.String("interaction_id", interactionID),
		zap.Int("turns", s.Turns),
		zap.Float64("average_confidence", s.AverageConfidence),
		zap.Int("escalations", s.Escalations),
		zap.String("resolution", resolution),
	)
	return s, nil
}

// Len returns the number of tracked interactions.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}

func (t *tracker) summarize(interactionID string, now time.Time) *InteractionSummary {
	s := &InteractionSummary{
		InteractionID:      interactionID,
		Channel:            t.channel,
		Turns:              t.turns,
		IntentDistribution: make(map[agents.Intent]int, len(t.intents)),
		EmotionTrajectory:  append([]agents.EmotionalState(nil), t.emotions...),
		Escalations:        len(t.escalations),
		EscalationTypes:    lo.Uniq(t.escalations),
		FailedTurns:        t.failed,
		StartedAt:          t.startedAt,
		Duration:           now.Sub(t.startedAt),
	}
	for k, v := range t.intents {
		s.IntentDistribution[k] = v
	}
	if len(t.confidences) > 0 {
		s.AverageConfidence = round3(lo.Sum(t.confidences) / float64(len(t.confidences)))
		s.MinConfidence = lo.Min(t.confidences)
	}
	if t.reviewed > 0 {
		s.ApprovalRate = round3(float64(t.approved) / float64(t.reviewed))
	}
	if t.analyses > 0 {
		s.FallbackRatio = round3(float64(t.fallbacks) / float64(t.analyses))
	}
	return s
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
