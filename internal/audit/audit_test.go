package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Kocoro-lab/callcenter-orchestrator/internal/agents"
	"github.com/Kocoro-lab/callcenter-orchestrator/internal/db"
)

type recordingSink struct {
	mu   sync.Mutex
	rows []*db.AuditLog
	err  error
}

func (s *recordingSink) SaveAuditLog(_ context.Context, rec *db.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, rec)
	return s.err
}

func TestLoggerForwardsEveryEvent(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	sink := &recordingSink{}
	l := NewLogger(zap.New(core), sink)
	ctx := context.Background()

	l.LogInteractionStart(ctx, "int-1", "cust-1", "voice")
	l.LogPrimaryDecision(ctx, &agents.AgentOutput{
		DecisionID:     "dec-1",
		InteractionID:  "int-1",
		DecisionType:   agents.DecisionRespond,
		DetectedIntent: agents.IntentBilling,
		AnalysisMethod: agents.MethodFallback,
	})
	l.LogSupervisorReview(ctx, &agents.SupervisorReview{
		InteractionID: "int-1",
		DecisionID:    "dec-1",
		RiskLevel:     agents.RiskHigh,
		Flags:         agents.FlagSet{agents.FlagSensitiveTopic},
	})
	l.LogEscalationDecision(ctx, &agents.EscalationDecision{
		InteractionID:  "int-1",
		ShouldEscalate: true,
		EscalationType: agents.EscalationHumanQueue,
		Priority:       2,
	})
	l.LogReturnedToAI(ctx, "int-1", "human-7", "refund issued")
	l.LogInteractionEnd(ctx, "int-1", "ai_resolved", 3, 2*time.Minute)

	require.Len(t, sink.rows, 6)
	types := make([]string, 0, len(sink.rows))
	for _, r := range sink.rows {
		assert.Equal(t, "int-1", r.InteractionID)
		types = append(types, r.EventType)
	}
	assert.Equal(t, []string{
		EventInteractionStart, EventPrimaryDecision, EventSupervisorReview,
		EventEscalationDecision, EventReturnedToAI, EventInteractionEnd,
	}, types)
	assert.Equal(t, []string{"sensitive_topic"}, sink.rows[2].Details["flags"])
	assert.Equal(t, "human-7", sink.rows[4].Actor)

	assert.Equal(t, 6, logs.Len())
	escalation := logs.FilterMessage("Escalation decision").All()
	require.Len(t, escalation, 1)
	assert.Equal(t, zapcore.WarnLevel, escalation[0].Level)
	assert.Equal(t, "audit", escalation[0].LoggerName)
}

func TestLoggerSwallowsSinkErrors(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	l := NewLogger(zap.New(core), &recordingSink{err: errors.New("queue closed")})

	l.LogInteractionStart(context.Background(), "int-2", "cust-2", "chat")

	failures := logs.FilterMessage("Failed to log audit event").All()
	require.Len(t, failures, 1)
	assert.Equal(t, EventInteractionStart, failures[0].ContextMap()["event_type"])
}

func TestLoggerIgnoresNilOutputsAndSink(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewLogger(zap.New(core), nil)
	ctx := context.Background()

	l.LogPrimaryDecision(ctx, nil)
	l.LogSupervisorReview(ctx, nil)
	l.LogEscalationDecision(ctx, nil)
	assert.Equal(t, 0, logs.Len())

	l.LogInteractionStart(ctx, "int-3", "", "email")
	assert.Equal(t, 1, logs.Len())
}
