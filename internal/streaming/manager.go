// Package streaming publishes interaction events to in-process subscribers
// and mirrors them, together with human handoffs, to Redis Streams.
package streaming

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/callcenter-orchestrator/internal/metrics"
)

// Event types
const (
	EventInteractionStarted = "interaction_started"
	EventPrimaryDecision    = "primary_decision"
	EventSupervisorReview   = "supervisor_review"
	EventEscalationDecision = "escalation_decision"
	EventResponseDelivered  = "response_delivered"
	EventHandoff            = "handoff"
	EventTurnFailed         = "turn_failed"
	EventReturnedToAI       = "returned_to_ai"
	EventInteractionEnded   = "interaction_ended"
)

// Event is one step of an interaction as seen by observers.
type Event struct {
	InteractionID string                 `json:"interaction_id"`
	Type          string                 `json:"type"`
	Agent         string                 `json:"agent,omitempty"`
	Message       string                 `json:"message,omitempty"`
	Data          map[string]interface{} `json:"data,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
	Seq           uint64                 `json:"seq"`
}

// Marshal returns JSON for event payloads in logs and stream entries.
func (e Event) Marshal() []byte {
	b, _ := json.Marshal(e)
	return b
}

// Config configures the manager.
type Config struct {
	Capacity      int           `mapstructure:"capacity"`
	StreamPrefix  string        `mapstructure:"stream_prefix"`
	HandoffStream string        `mapstructure:"handoff_stream"`
	StreamMaxLen  int64         `mapstructure:"stream_max_len"`
	MirrorTimeout time.Duration `mapstructure:"mirror_timeout"`
	MirrorEvents  bool          `mapstructure:"mirror_events"`
}

func (c *Config) applyDefaults() {
	if c.Capacity <= 0 {
		c.Capacity = 256
	}
	if c.StreamPrefix == "" {
		c.StreamPrefix = "callcenter:events:"
	}
	if c.HandoffStream == "" {
		c.HandoffStream = "callcenter:handoffs"
	}
	if c.StreamMaxLen <= 0 {
		c.StreamMaxLen = 1000
	}
	if c.MirrorTimeout <= 0 {
		c.MirrorTimeout = 500 * time.Millisecond
	}
}

// Manager provides in-memory pub/sub for interaction events.
type Manager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan Event]struct{}
	// per-interaction ring buffer for replay
	history map[string]*ring
	cfg     Config

	redis  *redis.Client
	logger *zap.Logger
}

// NewManager creates a manager. A nil redis client disables the stream mirror.
func NewManager(cfg Config, client *redis.Client, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.applyDefaults()
	return &Manager{
		subscribers: make(map[string]map[chan Event]struct{}),
		history:     make(map[string]*ring),
		cfg:         cfg,
		redis:       client,
		logger:      logger,
	}
}

// Subscribe adds a subscriber channel for an interaction; caller must drain and call Unsubscribe.
func (m *Manager) Subscribe(interactionID string, buffer int) chan Event {
	ch := make(chan Event, buffer)
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := m.subscribers[interactionID]
	if subs == nil {
		subs = make(map[chan Event]struct{})
		m.subscribers[interactionID] = subs
	}
	subs[ch] = struct{}{}
	return ch
}

// Unsubscribe removes the subscriber channel and closes it.
func (m *Manager) Unsubscribe(interactionID string, ch chan Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if subs, ok := m.subscribers[interactionID]; ok {
		if _, ok := subs[ch]; !ok {
			return
		}
		delete(subs, ch)
		close(ch)
		if len(subs) == 0 {
			delete(m.subscribers, interactionID)
		}
	}
}

// Publish assigns the next sequence number and fans the event out without
// blocking. Slow subscribers miss events.
func (m *Manager) Publish(ctx context.Context, evt Event) Event {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	m.mu.Lock()
	rg := m.history[evt.InteractionID]
	if rg == nil {
		rg = newRing(m.cfg.Capacity)
		m.history[evt.InteractionID] = rg
	}
	rg.nextSeq++
	evt.Seq = rg.nextSeq
	rg.push(evt)
	m.mu.Unlock()

	// Hold the read lock while sending so Unsubscribe cannot close a channel mid-send.
	m.mu.RLock()
	for ch := range m.subscribers[evt.InteractionID] {
		select {
		case ch <- evt:
		default:
			metrics.StreamEventsDropped.Inc()
		}
	}
	m.mu.RUnlock()
	metrics.StreamEventsPublished.WithLabelValues(evt.Type).Inc()

	if m.cfg.MirrorEvents {
		m.mirror(ctx, m.cfg.StreamPrefix+evt.InteractionID, map[string]interface{}{
			"type":    evt.Type,
			"seq":     evt.Seq,
			"payload": string(evt.Marshal()),
		})
	}
	return evt
}

// ReplaySince returns events with Seq > since (best-effort within ring capacity).
func (m *Manager) ReplaySince(interactionID string, since uint64) []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rg := m.history[interactionID]
	if rg == nil {
		return nil
	}
	return rg.since(since)
}

// Forget drops the history of an ended interaction and closes its subscribers.
func (m *Manager) Forget(interactionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.history, interactionID)
	for ch := range m.subscribers[interactionID] {
		close(ch)
	}
	delete(m.subscribers, interactionID)
}

func (m *Manager) mirror(ctx context.Context, stream string, values map[string]interface{}) {
	if m.redis == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.MirrorTimeout)
	defer cancel()
	err := m.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: m.cfg.StreamMaxLen,
		Approx: true,
		Values: values,
	}).Err()
	if err != nil {
		m.logger.Warn("Failed to mirror event to Redis stream",
			zap.String("stream", stream),
			zap.Error(err))
	}
}

// HandoffTicket is what a human desk receives when an interaction is escalated.
type HandoffTicket struct {
	InteractionID   string    `json:"interaction_id"`
	CustomerID      string    `json:"customer_id,omitempty"`
	DecisionID      string    `json:"decision_id"`
	EscalationType  string    `json:"escalation_type"`
	Reason          string    `json:"reason"`
	Priority        int       `json:"priority"`
	TargetAgent     string    `json:"target_agent"`
	ResponseTime    string    `json:"response_time,omitempty"`
	ContextSummary  string    `json:"context_summary"`
	KeyIssues       []string  `json:"key_issues,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	StreamMessageID string    `json:"-"`
}

// PublishHandoff announces an escalation on the interaction's event bus and
// appends it to the handoff stream.
func (m *Manager) PublishHandoff(ctx context.Context, t HandoffTicket) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	m.Publish(ctx, Event{
		InteractionID: t.InteractionID,
		Type:          EventHandoff,
		Agent:         t.TargetAgent,
		Message:       t.ContextSummary,
		Data: map[string]interface{}{
			"escalation_type": t.EscalationType,
			"priority":        t.Priority,
			"reason":          t.Reason,
		},
		Timestamp: t.CreatedAt,
	})
	if m.redis == nil {
		return nil
	}

	payload, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to encode handoff: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.MirrorTimeout)
	defer cancel()
	err = m.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: m.cfg.HandoffStream,
		MaxLen: m.cfg.StreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"interaction_id": t.InteractionID,
			"priority":       t.Priority,
			"payload":        string(payload),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to append handoff for %s: %w", t.InteractionID, err)
	}
	return nil
}

// ReadHandoffs returns handoffs after lastID ("0" reads from the start). It
// waits up to block for new entries; a zero block returns immediately.
func (m *Manager) ReadHandoffs(ctx context.Context, lastID string, count int64, block time.Duration) ([]HandoffTicket, error) {
	if m.redis == nil {
		return nil, errors.New("handoff stream not configured")
	}
	if lastID == "" {
		lastID = "0"
	}
	if block <= 0 {
		block = -1
	}
	res, err := m.redis.XRead(ctx, &redis.XReadArgs{
		Streams: []string{m.cfg.HandoffStream, lastID},
		Count:   count,
		Block:   block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read handoffs: %w", err)
	}

	var out []HandoffTicket
	for _, stream := range res {
		for _, msg := range stream.Messages {
			raw, _ := msg.Values["payload"].(string)
			var t HandoffTicket
			if err := json.Unmarshal([]byte(raw), &t); err != nil {
				m.logger.Warn("Skipping malformed handoff entry",
					zap.String("id", msg.ID),
					zap.Error(err))
				continue
			}
			t.StreamMessageID = msg.ID
			out = append(out, t)
		}
	}
	return out, nil
}

// ring is a fixed-capacity ring buffer of events
type ring struct {
	buf     []Event
	start   int
	count   int
	nextSeq uint64
}

func newRing(capacity int) *ring { return &ring{buf: make([]Event, capacity)} }

func (r *ring) push(e Event) {
	if len(r.buf) == 0 {
		return
	}
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = e
		r.count++
		return
	}
	// overwrite oldest
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) since(seq uint64) []Event {
	if r.count == 0 {
		return nil
	}
	out := make([]Event, 0, r.count)
	for i := 0; i < r.count; i++ {
		ev := r.buf[(r.start+i)%len(r.buf)]
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out
}
