package memory

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/callcenter-orchestrator/internal/circuitbreaker"
)

func TestArchiver_SaveAndLoad(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()
	logger := zaptest.NewLogger(t)
	arch := NewArchiver(circuitbreaker.NewRedisWrapper(client, "memory-archive-test", logger), time.Hour, logger)
	ctx := context.Background()

	store := NewStore(Window{}, logger)
	require.NoError(t, store.CreateInteraction("int-1", "cust-1"))
	require.NoError(t, store.AppendMessage("int-1", Message{Role: RoleCustomer, Content: "my refund is missing"}))
	require.NoError(t, store.AddUnresolvedIssue("int-1", "billing: refund missing"))
	archive, err := store.EndInteraction("int-1")
	require.NoError(t, err)

	require.NoError(t, arch.Save(ctx, archive))
	assert.Equal(t, time.Hour, s.TTL("callcenter:archive:int-1"))

	got, err := arch.LoadArchive(ctx, "int-1")
	require.NoError(t, err)
	assert.Equal(t, "cust-1", got.CustomerID)
	assert.Equal(t, []string{"billing: refund missing"}, got.Context.UnresolvedIssues)

	latest, err := arch.LoadLatest(ctx, "cust-1")
	require.NoError(t, err)
	assert.Equal(t, "int-1", latest.InteractionID)

	_, err = arch.LoadLatest(ctx, "cust-unknown")
	assert.ErrorIs(t, err, ErrArchiveNotFound)
	_, err = arch.LoadArchive(ctx, "int-unknown")
	assert.ErrorIs(t, err, ErrArchiveNotFound)
}
