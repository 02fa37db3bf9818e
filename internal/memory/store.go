package memory

import (
	"fmt"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/callcenter-orchestrator/internal/agents"
)

// Store holds the live interactions. The registry lock only guards the map;
// each interaction has its own lock for its history.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	window  Window
	logger  *zap.Logger
}

type entry struct {
	mu         sync.Mutex
	id         string
	customerID string
	startedAt  time.Time
	messages   []Message
	decisions  []agents.ContextDecision
	conv       ConversationContext
	removed    bool
}

// NewStore creates an empty store.
func NewStore(window Window, logger *zap.Logger) *Store {
	if window.Messages <= 0 {
		window.Messages = DefaultWindow.Messages
	}
	if window.Decisions <= 0 {
		window.Decisions = DefaultWindow.Decisions
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{entries: make(map[string]*entry), window: window, logger: logger}
}

// CreateInteraction registers a new interaction.
func (s *Store) CreateInteraction(interactionID, customerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[interactionID]; ok {
		return fmt.Errorf("%w: %s", ErrInteractionExists, interactionID)
	}
	s.entries[interactionID] = &entry{
		id:         interactionID,
		customerID: customerID,
		startedAt:  time.Now().UTC(),
	}
	return nil
}

// with runs fn under the interaction's lock.
func (s *Store) with(interactionID string, fn func(e *entry)) error {
	s.mu.RLock()
	e, ok := s.entries[interactionID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrInteractionNotFound, interactionID)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return fmt.Errorf("%w: %s", ErrInteractionNotFound, interactionID)
	}
	fn(e)
	return nil
}

// AppendMessage adds a message. Customer messages count as turns; a detected
// intent or emotion extends the histories.
func (s *Store) AppendMessage(interactionID string, msg Message) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	return s.with(interactionID, func(e *entry) {
		e.messages = append(e.messages, msg)
		if msg.Role == RoleCustomer {
			e.conv.TurnCount++
		}
		if msg.Intent != "" {
			e.conv.IntentHistory = append(e.conv.IntentHistory, msg.Intent)
		}
		if msg.Emotion != "" {
			e.conv.EmotionHistory = append(e.conv.EmotionHistory, msg.Emotion)
		}
	})
}

// AppendDecision records an agent decision.
func (s *Store) AppendDecision(interactionID string, d agents.ContextDecision) error {
	if d.Timestamp.IsZero() {
		d.Timestamp = time.Now().UTC()
	}
	return s.with(interactionID, func(e *entry) {
		e.decisions = append(e.decisions, d)
	})
}

// AddTopic records a topic once.
func (s *Store) AddTopic(interactionID, topic string) error {
	return s.with(interactionID, func(e *entry) {
		e.conv.KeyTopics = appendUnique(e.conv.KeyTopics, topic)
	})
}

// AddUnresolvedIssue records an open issue once.
func (s *Store) AddUnresolvedIssue(interactionID, issue string) error {
	return s.with(interactionID, func(e *entry) {
		e.conv.UnresolvedIssues = appendUnique(e.conv.UnresolvedIssues, issue)
	})
}

// ResolveIssue moves an issue to the resolved list.
func (s *Store) ResolveIssue(interactionID, issue string) error {
	return s.with(interactionID, func(e *entry) { e.resolve(issue) })
}

// ApplyUpdates applies a turn's context updates atomically.
func (s *Store) ApplyUpdates(interactionID string, u agents.ContextUpdates) error {
	return s.with(interactionID, func(e *entry) {
		for _, t := range u.Topics {
			e.conv.KeyTopics = appendUnique(e.conv.KeyTopics, t)
		}
		for _, i := range u.UnresolvedIssues {
			if !lo.Contains(e.conv.ResolvedIssues, i) {
				e.conv.UnresolvedIssues = appendUnique(e.conv.UnresolvedIssues, i)
			}
		}
		for _, i := range u.ResolvedIssues {
			e.resolve(i)
		}
	})
}

// MarkSensitive flags that a sensitive topic came up.
func (s *Store) MarkSensitive(interactionID string) error {
	return s.with(interactionID, func(e *entry) { e.conv.SensitiveTopicDetected = true })
}

// MarkRequiresHumanReview flags the interaction for human follow-up.
func (s *Store) MarkRequiresHumanReview(interactionID string) error {
	return s.with(interactionID, func(e *entry) { e.conv.RequiresHumanReview = true })
}

// CarryOver seeds a new interaction with the open issues and topics of a
// customer's previous interaction.
func (s *Store) CarryOver(interactionID string, prior *Archive) error {
	if prior == nil {
		return nil
	}
	return s.with(interactionID, func(e *entry) {
		for _, t := range prior.Context.KeyTopics {
			e.conv.KeyTopics = appendUnique(e.conv.KeyTopics, t)
		}
		for _, i := range prior.Context.UnresolvedIssues {
			e.conv.UnresolvedIssues = appendUnique(e.conv.UnresolvedIssues, i)
		}
	})
}

// GetShortTermContext builds the bounded view agents read.
func (s *Store) GetShortTermContext(interactionID string) (*agents.ShortTermContext, error) {
	var out *agents.ShortTermContext
	err := s.with(interactionID, func(e *entry) {
		conv := e.conv.clone()
		out = &agents.ShortTermContext{
			InteractionID:          e.id,
			TurnCount:              conv.TurnCount,
			IntentHistory:          conv.IntentHistory,
			EmotionHistory:         conv.EmotionHistory,
			KeyTopics:              conv.KeyTopics,
			UnresolvedIssues:       conv.UnresolvedIssues,
			ResolvedIssues:         conv.ResolvedIssues,
			SensitiveTopicDetected: conv.SensitiveTopicDetected,
			RequiresHumanReview:    conv.RequiresHumanReview,
			SentimentTrend:         sentimentTrend(conv.EmotionHistory),
		}
		if n := len(conv.IntentHistory); n > 0 {
			out.CurrentIntent = conv.IntentHistory[n-1]
		}
		if n := len(conv.EmotionHistory); n > 0 {
			out.CurrentEmotion = conv.EmotionHistory[n-1]
		}
		for _, m := range lastN(e.messages, s.window.Messages) {
			out.RecentMessages = append(out.RecentMessages, agents.ContextMessage{
				Role:      m.Role,
				Content:   m.Content,
				Intent:    m.Intent,
				Emotion:   m.Emotion,
				Timestamp: m.Timestamp,
			})
		}
		out.RecentDecisions = append(out.RecentDecisions, lastN(e.decisions, s.window.Decisions)...)
		for _, d := range e.decisions {
			if d.AgentType == agents.AgentPrimary {
				out.ConfidenceTrend = append(out.ConfidenceTrend, d.Confidence)
			}
			if d.AgentType == agents.AgentEscalation && d.DecisionType == agents.DecisionEscalate {
				out.HasEscalationHistory = true
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Conversation returns a copy of the accumulated context.
func (s *Store) Conversation(interactionID string) (ConversationContext, error) {
	var out ConversationContext
	err := s.with(interactionID, func(e *entry) { out = e.conv.clone() })
	return out, err
}

// EndInteraction removes the interaction and returns its archive.
func (s *Store) EndInteraction(interactionID string) (*Archive, error) {
	s.mu.Lock()
	e, ok := s.entries[interactionID]
	if ok {
		delete(s.entries, interactionID)
	}
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInteractionNotFound, interactionID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.removed = true
	a := &Archive{
		InteractionID: e.id,
		CustomerID:    e.customerID,
		StartedAt:     e.startedAt,
		EndedAt:       time.Now().UTC(),
		Messages:      e.messages,
		Decisions:     e.decisions,
		Context:       e.conv,
	}
	s.logger.Debug("Interaction removed from memory",
		zap.String("interaction_id", interactionID),
		zap.Int("messages", len(a.Messages)),
		zap.Int("decisions", len(a.Decisions)),
	)
	return a, nil
}

// Has reports whether the interaction is live.
func (s *Store) Has(interactionID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[interactionID]
	return ok
}

// Len returns the number of live interactions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (e *entry) resolve(issue string) {
	if lo.Contains(e.conv.UnresolvedIssues, issue) {
		e.conv.UnresolvedIssues = lo.Without(e.conv.UnresolvedIssues, issue)
	}
	e.conv.ResolvedIssues = appendUnique(e.conv.ResolvedIssues, issue)
}

func appendUnique(list []string, v string) []string {
	if v == "" || lo.Contains(list, v) {
		return list
	}
	return append(list, v)
}

func lastN[T any](s []T, n int) []T {
	if len(s) > n {
		s = s[len(s)-n:]
	}
	return append([]T(nil), s...)
}

var emotionValence = map[agents.EmotionalState]float64{
	agents.EmotionSatisfied:  1,
	agents.EmotionNeutral:    0,
	agents.EmotionConfused:   -0.5,
	agents.EmotionAnxious:    -1,
	agents.EmotionFrustrated: -1,
	agents.EmotionAngry:      -2,
}

// sentimentTrend compares the oldest and newest of the last three emotions.
func sentimentTrend(history []agents.EmotionalState) string {
	recent := lastN(history, 3)
	if len(recent) < 2 {
		return agents.TrendUnknown
	}
	delta := emotionValence[recent[len(recent)-1]] - emotionValence[recent[0]]
	switch {
	case delta > 0:
		return agents.TrendImproving
	case delta < 0:
		return agents.TrendDeclining
	default:
		return agents.TrendStable
	}
}
