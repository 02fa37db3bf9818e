// Package orchestrator runs customer turns through the primary, supervisor and
// escalation agents and owns the lifecycle of each interaction.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/callcenter-orchestrator/internal/memory"
	"github.com/Kocoro-lab/callcenter-orchestrator/internal/metrics"
	"github.com/Kocoro-lab/callcenter-orchestrator/internal/streaming"
)

// Orchestrator coordinates the agent pipeline. The registry lock only guards
// the slot map; turns for one interaction serialize on that slot's lock.
type Orchestrator struct {
	cfg    Config
	deps   Dependencies
	memory *memory.Store
	logger *zap.Logger

	mu    sync.RWMutex
	slots map[string]*slot
}

// slot is one live interaction. lock has capacity one and is held for the
// whole of a turn; mu guards state against concurrent readers.
type slot struct {
	lock   chan struct{}
	mu     sync.Mutex
	state  *InteractionState
	closed bool
}

// New creates an orchestrator.
func New(cfg Config, deps Dependencies, logger *zap.Logger) (*Orchestrator, error) {
	if deps.Primary == nil || deps.Supervisor == nil || deps.Escalation == nil {
		return nil, errors.New("primary, supervisor and escalation agents are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Memory == nil {
		deps.Memory = memory.NewStore(memory.DefaultWindow, logger)
	}
	return &Orchestrator{
		cfg:    cfg.withDefaults(),
		deps:   deps,
		memory: deps.Memory,
		logger: logger,
		slots:  make(map[string]*slot),
	}, nil
}

// CreateInteraction registers a new interaction. A missing ID is generated
// and a missing channel defaults to chat. Open issues from the customer's
// previous interaction are carried over when an archiver is configured.
func (o *Orchestrator) CreateInteraction(ctx context.Context, in Interaction) (*InteractionState, error) {
	if in.ID == "" {
		in.ID = uuid.New().String()
	}
	if in.Channel == "" {
		in.Channel = ChannelChat
	}
	if !in.Channel.valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidChannel, in.Channel)
	}

	now := time.Now().UTC()
	if in.StartedAt.IsZero() {
		in.StartedAt = now
	}
	in.Status = StatusInitiated
	in.EndedAt = nil
	in.Resolution = ""

	s := &slot{
		lock: make(chan struct{}, 1),
		state: &InteractionState{
			InteractionID: in.ID,
			Interaction:   in,
			CurrentPhase:  PhaseInitialized,
			StartedAt:     in.StartedAt,
			UpdatedAt:     now,
		},
	}

	// The slot is registered with its turn lock held, so turns on the new ID
	// wait until setup below has finished.
	s.lock <- struct{}{}
	defer s.release()

	o.mu.Lock()
	if _, ok := o.slots[in.ID]; ok {
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrInteractionExists, in.ID)
	}
	o.slots[in.ID] = s
	o.mu.Unlock()

	if err := o.memory.CreateInteraction(in.ID, in.CustomerID); err != nil {
		o.mu.Lock()
		delete(o.slots, in.ID)
		o.mu.Unlock()
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		return nil, err
	}
	o.carryOver(ctx, in.ID, in.CustomerID)

	metrics.ActiveInteractions.Inc()
	o.saveInteraction(ctx, s.state)
	if o.deps.Audit != nil {
		o.deps.Audit.LogInteractionStart(ctx, in.ID, in.CustomerID, string(in.Channel))
	}
	if o.deps.Analytics != nil {
		o.deps.Analytics.StartInteraction(in.ID, string(in.Channel), in.StartedAt)
	}
	o.publish(ctx, streaming.Event{
		InteractionID: in.ID,
		Type:          streaming.EventInteractionStarted,
		Data: map[string]interface{}{
			"channel":     string(in.Channel),
			"customer_id": in.CustomerID,
		},
	})

	o.logger.Info("Interaction created",
		zap.String("interaction_id", in.ID),
		zap.String("customer_id", in.CustomerID),
		zap.String("channel", string(in.Channel)),
	)
	return s.snapshot(), nil
}

func (o *Orchestrator) carryOver(ctx context.Context, interactionID, customerID string) {
	if o.deps.Archiver == nil || customerID == "" {
		return
	}
	prior, err := o.deps.Archiver.LoadLatest(ctx, customerID)
	if err != nil {
		if !errors.Is(err, memory.ErrArchiveNotFound) {
			o.logger.Warn("Failed to load previous interaction",
				zap.String("interaction_id", interactionID),
				zap.String("customer_id", customerID),
				zap.Error(err))
		}
		return
	}
	if err := o.memory.CarryOver(interactionID, prior); err != nil {
		o.logger.Warn("Failed to carry over previous context",
			zap.String("interaction_id", interactionID),
			zap.Error(err))
		return
	}
	o.logger.Debug("Carried over previous interaction",
		zap.String("interaction_id", interactionID),
		zap.String("previous_interaction_id", prior.InteractionID),
		zap.Int("unresolved_issues", len(prior.Context.UnresolvedIssues)))
}

// GetState returns a copy of the interaction's state.
func (o *Orchestrator) GetState(interactionID string) (*InteractionState, bool) {
	s, ok := o.lookup(interactionID)
	if !ok {
		return nil, false
	}
	return s.snapshot(), true
}

// ActiveInteractions lists the live interaction IDs in sorted order.
func (o *Orchestrator) ActiveInteractions() []string {
	o.mu.RLock()
	ids := make([]string, 0, len(o.slots))
	for id := range o.slots {
		ids = append(ids, id)
	}
	o.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// EndInteraction closes an interaction. An empty resolution is inferred:
// escalated interactions end as human_escalated, completed ones as
// ai_resolved and everything else as abandoned. The memory entry is archived
// and the state dropped; the returned state is the final one.
func (o *Orchestrator) EndInteraction(ctx context.Context, interactionID, resolution string) (*InteractionState, error) {
	s, err := o.enter(ctx, interactionID)
	if err != nil {
		return nil, err
	}
	defer s.release()

	o.mu.Lock()
	delete(o.slots, interactionID)
	o.mu.Unlock()

	now := time.Now().UTC()
	s.mu.Lock()
	s.closed = true
	st := s.state
	if resolution == "" {
		resolution = inferResolution(st)
	}
	st.Interaction.Status = StatusCompleted
	if resolution == ResolutionAbandoned {
		st.Interaction.Status = StatusAbandoned
	}
	st.Interaction.Resolution = resolution
	st.Interaction.EndedAt = &now
	st.UpdatedAt = now
	final := st.clone()
	s.mu.Unlock()

	metrics.ActiveInteractions.Dec()

	archive, err := o.memory.EndInteraction(interactionID)
	if err != nil {
		o.logger.Warn("Memory entry already gone at end of interaction",
			zap.String("interaction_id", interactionID),
			zap.Error(err))
	} else if o.deps.Archiver != nil {
		if err := o.deps.Archiver.Save(ctx, archive); err != nil {
			o.logger.Warn("Failed to archive interaction",
				zap.String("interaction_id", interactionID),
				zap.Error(err))
		}
	}

	duration := now.Sub(final.StartedAt)
	if o.deps.Analytics != nil {
		if _, err := o.deps.Analytics.EndInteraction(interactionID, resolution); err != nil {
			o.logger.Warn("Failed to finalize interaction analytics",
				zap.String("interaction_id", interactionID),
				zap.Error(err))
		}
	}
	if o.deps.Audit != nil {
		o.deps.Audit.LogInteractionEnd(ctx, interactionID, resolution, final.TurnCount, duration)
	}
	o.updateStatus(ctx, final)
	o.publish(ctx, streaming.Event{
		InteractionID: interactionID,
		Type:          streaming.EventInteractionEnded,
		Data: map[string]interface{}{
			"resolution": resolution,
			"turns":      final.TurnCount,
		},
	})
	if o.deps.Events != nil {
		o.deps.Events.Forget(interactionID)
	}

	o.logger.Info("Interaction ended",
		zap.String("interaction_id", interactionID),
		zap.String("resolution", resolution),
		zap.Int("turns", final.TurnCount),
		zap.Duration("duration", duration),
	)
	return final, nil
}

func inferResolution(st *InteractionState) string {
	switch {
	case st.IsEscalated || st.Interaction.Status == StatusEscalated:
		return ResolutionHumanEscalated
	case st.IsCompleted:
		return ResolutionAIResolved
	default:
		return ResolutionAbandoned
	}
}

// ReturnToAI hands an escalated interaction back from a human agent. The
// open human escalation is marked as returned, which counts towards the
// retry limit of later escalation decisions.
func (o *Orchestrator) ReturnToAI(ctx context.Context, interactionID, humanAgentID, notes string) error {
	s, err := o.enter(ctx, interactionID)
	if err != nil {
		return err
	}
	defer s.release()

	now := time.Now().UTC()
	s.mu.Lock()
	st := s.state
	if !st.IsEscalated {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotEscalated, interactionID)
	}
	for i := len(st.EscalationHistory) - 1; i >= 0; i-- {
		h := &st.EscalationHistory[i]
		if h.EscalationType.HumanBound() && !h.ReturnedToAI {
			h.ReturnedToAI = true
			h.ResolvedAt = &now
			h.HumanAgentID = humanAgentID
			h.Notes = notes
			break
		}
	}
	st.IsEscalated = false
	st.RequiresHuman = false
	st.Interaction.Status = StatusInProgress
	st.UpdatedAt = now
	snap := st.clone()
	s.mu.Unlock()

	o.updateStatus(ctx, snap)
	if o.deps.Audit != nil {
		o.deps.Audit.LogReturnedToAI(ctx, interactionID, humanAgentID, notes)
	}
	o.publish(ctx, streaming.Event{
		InteractionID: interactionID,
		Type:          streaming.EventReturnedToAI,
		Agent:         humanAgentID,
		Message:       notes,
	})
	o.logger.Info("Interaction returned to AI",
		zap.String("interaction_id", interactionID),
		zap.String("human_agent_id", humanAgentID),
	)
	return nil
}

func (o *Orchestrator) lookup(interactionID string) (*slot, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	s, ok := o.slots[interactionID]
	return s, ok
}

// enter finds the interaction and takes its turn lock. The caller must
// release the slot.
func (o *Orchestrator) enter(ctx context.Context, interactionID string) (*slot, error) {
	s, ok := o.lookup(interactionID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInteractionNotFound, interactionID)
	}
	if err := o.acquire(ctx, s, interactionID); err != nil {
		return nil, err
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		s.release()
		return nil, fmt.Errorf("%w: %s", ErrInteractionClosed, interactionID)
	}
	return s, nil
}

func (o *Orchestrator) acquire(ctx context.Context, s *slot, interactionID string) error {
	start := time.Now()
	defer func() { metrics.TurnLockWait.Observe(time.Since(start).Seconds()) }()

	select {
	case s.lock <- struct{}{}:
		return nil
	default:
	}

	timer := time.NewTimer(o.cfg.TurnLockTimeout)
	defer timer.Stop()
	select {
	case s.lock <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %s: %w", ErrInteractionBusy, interactionID, ctx.Err())
	case <-timer.C:
		return fmt.Errorf("%w: %s: waited %s", ErrInteractionBusy, interactionID, o.cfg.TurnLockTimeout)
	}
}

func (s *slot) release() { <-s.lock }

func (s *slot) snapshot() *InteractionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// update applies fn to the state under the slot lock.
func (s *slot) update(fn func(st *InteractionState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.state)
	s.state.UpdatedAt = time.Now().UTC()
}

func (o *Orchestrator) publish(ctx context.Context, evt streaming.Event) {
	if o.deps.Events == nil {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	o.deps.Events.Publish(ctx, evt)
}
