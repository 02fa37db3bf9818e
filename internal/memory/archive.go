package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/callcenter-orchestrator/internal/circuitbreaker"
)

// ErrArchiveNotFound is returned when no archive exists for a key
var ErrArchiveNotFound = errors.New("archive not found")

// Archiver keeps ended interactions in Redis so a returning customer's
// context can be picked up again.
type Archiver struct {
	client *circuitbreaker.RedisWrapper
	ttl    time.Duration
	logger *zap.Logger
}

// NewArchiver creates an archiver. A zero ttl keeps archives for a week.
func NewArchiver(client *circuitbreaker.RedisWrapper, ttl time.Duration, logger *zap.Logger) *Archiver {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archiver{client: client, ttl: ttl, logger: logger}
}

func interactionKey(interactionID string) string {
	return fmt.Sprintf("callcenter:archive:%s", interactionID)
}

func customerKey(customerID string) string {
	return fmt.Sprintf("callcenter:customer:%s:last", customerID)
}

// Save stores the archive and points the customer's latest key at it.
func (a *Archiver) Save(ctx context.Context, archive *Archive) error {
	data, err := json.Marshal(archive)
	if err != nil {
		return fmt.Errorf("failed to marshal archive: %w", err)
	}
	if err := a.client.Set(ctx, interactionKey(archive.InteractionID), data, a.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save archive: %w", err)
	}
	if archive.CustomerID != "" {
		if err := a.client.Set(ctx, customerKey(archive.CustomerID), archive.InteractionID, a.ttl).Err(); err != nil {
			return fmt.Errorf("failed to index archive: %w", err)
		}
	}
	a.logger.Debug("Archived interaction",
		zap.String("interaction_id", archive.InteractionID),
		zap.String("customer_id", archive.CustomerID),
	)
	return nil
}

// LoadArchive returns the archive of one interaction.
func (a *Archiver) LoadArchive(ctx context.Context, interactionID string) (*Archive, error) {
	data, err := a.client.Get(ctx, interactionKey(interactionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrArchiveNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load archive: %w", err)
	}
	var out Archive
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal archive: %w", err)
	}
	return &out, nil
}

// LoadLatest returns the customer's most recent archive.
func (a *Archiver) LoadLatest(ctx context.Context, customerID string) (*Archive, error) {
	id, err := a.client.Get(ctx, customerKey(customerID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrArchiveNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load customer index: %w", err)
	}
	return a.LoadArchive(ctx, id)
}
