package streaming

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestConfigDefaults(t *testing.T) {
	cfg := Config{HandoffStream: "desk:handoffs"}
	cfg.applyDefaults()
	assert.Equal(t, 256, cfg.Capacity)
	assert.Equal(t, "callcenter:events:", cfg.StreamPrefix)
	assert.Equal(t, "desk:handoffs", cfg.HandoffStream)
	assert.Equal(t, int64(1000), cfg.StreamMaxLen)
	assert.Equal(t, 500*time.Millisecond, cfg.MirrorTimeout)
	assert.False(t, cfg.MirrorEvents)
}

func TestRingReplaySince(t *testing.T) {
	r := newRing(3)
	// Push 4 events, which will overwrite the first
	for i := 0; i < 4; i++ {
		r.push(Event{Seq: uint64(i + 1)})
	}
	evs := r.since(0)
	require.Len(t, evs, 3)
	assert.Equal(t, uint64(2), evs[0].Seq)
	assert.Equal(t, uint64(4), evs[2].Seq)

	evs = r.since(2)
	require.Len(t, evs, 2)
	assert.Equal(t, uint64(3), evs[0].Seq)
}

func TestPublishAssignsSequenceAndFansOut(t *testing.T) {
	m := NewManager(Config{Capacity: 5}, nil, zaptest.NewLogger(t))
	ctx := context.Background()

	ch := m.Subscribe("int-1", 10)
	other := m.Subscribe("int-2", 10)

	for i := 0; i < 3; i++ {
		m.Publish(ctx, Event{InteractionID: "int-1", Type: EventPrimaryDecision})
	}

	for want := uint64(1); want <= 3; want++ {
		select {
		case e := <-ch:
			assert.Equal(t, want, e.Seq)
			assert.False(t, e.Timestamp.IsZero())
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for event")
		}
	}
	assert.Len(t, other, 0)

	m.Unsubscribe("int-1", ch)
	_, open := <-ch
	assert.False(t, open)
	// Double unsubscribe is a no-op.
	m.Unsubscribe("int-1", ch)
}

func TestReplaySinceKeepsLastCapacityEvents(t *testing.T) {
	m := NewManager(Config{Capacity: 5}, nil, nil)
	for i := 0; i < 8; i++ {
		m.Publish(context.Background(), Event{InteractionID: "int-1", Type: EventResponseDelivered})
	}
	evs := m.ReplaySince("int-1", 0)
	require.Len(t, evs, 5)
	assert.Equal(t, uint64(4), evs[0].Seq)
	assert.Equal(t, uint64(8), evs[4].Seq)

	evs = m.ReplaySince("int-1", 6)
	require.Len(t, evs, 2)
	assert.Nil(t, m.ReplaySince("unknown", 0))
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	m := NewManager(Config{}, nil, nil)
	ch := m.Subscribe("int-1", 1)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			m.Publish(context.Background(), Event{InteractionID: "int-1", Type: EventTurnFailed})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
	assert.Len(t, ch, 1)
}

func TestForgetClosesSubscribers(t *testing.T) {
	m := NewManager(Config{}, nil, nil)
	ch := m.Subscribe("int-1", 1)
	m.Publish(context.Background(), Event{InteractionID: "int-1", Type: EventInteractionEnded})

	m.Forget("int-1")
	<-ch
	_, open := <-ch
	assert.False(t, open)
	assert.Nil(t, m.ReplaySince("int-1", 0))
}

func TestConcurrentPublishAndUnsubscribe(t *testing.T) {
	m := NewManager(Config{}, nil, nil)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		ch := m.Subscribe("int-1", 4)
		go func() {
			defer wg.Done()
			m.Publish(context.Background(), Event{InteractionID: "int-1", Type: EventPrimaryDecision})
		}()
		go func() {
			defer wg.Done()
			m.Unsubscribe("int-1", ch)
		}()
	}
	wg.Wait()
	assert.Len(t, m.ReplaySince("int-1", 0), 20)
}

func newRedisManager(t *testing.T, cfg Config) (*Manager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewManager(cfg, client, zaptest.NewLogger(t)), mr
}

func TestHandoffRoundTripThroughRedisStream(t *testing.T) {
	m, _ := newRedisManager(t, Config{})
	ctx := context.Background()
	sub := m.Subscribe("int-9", 2)

	require.NoError(t, m.PublishHandoff(ctx, HandoffTicket{
		InteractionID:  "int-9",
		DecisionID:     "dec-1",
		EscalationType: "human_immediate",
		Reason:         "safety_concern",
		Priority:       1,
		TargetAgent:    "human",
		ContextSummary: "Intent: complaint | Emotion: angry",
		KeyIssues:      []string{"sensitive_topic"},
	}))
	require.NoError(t, m.PublishHandoff(ctx, HandoffTicket{
		InteractionID:  "int-10",
		EscalationType: "human_queue",
		Priority:       3,
	}))

	evt := <-sub
	assert.Equal(t, EventHandoff, evt.Type)
	assert.Equal(t, 1, evt.Data["priority"])

	tickets, err := m.ReadHandoffs(ctx, "0", 10, 0)
	require.NoError(t, err)
	require.Len(t, tickets, 2)
	assert.Equal(t, "int-9", tickets[0].InteractionID)
	assert.Equal(t, []string{"sensitive_topic"}, tickets[0].KeyIssues)
	assert.NotEmpty(t, tickets[0].StreamMessageID)

	rest, err := m.ReadHandoffs(ctx, tickets[0].StreamMessageID, 10, 0)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "int-10", rest[0].InteractionID)
}

func TestMirrorEventsToPerInteractionStream(t *testing.T) {
	m, mr := newRedisManager(t, Config{MirrorEvents: true})
	ctx := context.Background()

	m.Publish(ctx, Event{InteractionID: "int-1", Type: EventInteractionStarted})
	m.Publish(ctx, Event{InteractionID: "int-1", Type: EventPrimaryDecision})

	entries, err := mr.Stream("callcenter:events:int-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestMirrorFailureIsNotFatal(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	m := NewManager(Config{MirrorEvents: true, MirrorTimeout: 100 * time.Millisecond}, client, zaptest.NewLogger(t))
	mr.Close()

	evt := m.Publish(context.Background(), Event{InteractionID: "int-1", Type: EventPrimaryDecision})
	assert.Equal(t, uint64(1), evt.Seq)

	err = m.PublishHandoff(context.Background(), HandoffTicket{InteractionID: "int-1"})
	assert.Error(t, err)
}

func TestReadHandoffsWithoutRedis(t *testing.T) {
	m := NewManager(Config{}, nil, nil)
	assert.NoError(t, m.PublishHandoff(context.Background(), HandoffTicket{InteractionID: "int-1"}))
	_, err := m.ReadHandoffs(context.Background(), "", 1, 0)
	assert.Error(t, err)
}
