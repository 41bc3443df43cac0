package syncer

import (
	"context"
	"encoding/json"

	"pocketplan/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const defaultDeadLetterKey = "sync:deadletter"

// DeadLetter mirrors terminally failed actions into a redis list so
// operators can inspect rejected offline mutations without touching
// the device database. Best effort: a missing or unavailable redis
// never affects the sync cycle.
type DeadLetter struct {
	client *redis.Client
	key    string
	logger zerolog.Logger
}

func NewDeadLetter(client *redis.Client, logger zerolog.Logger) *DeadLetter {
	return &DeadLetter{client: client, key: defaultDeadLetterKey, logger: logger}
}

// Push appends the failed action to the dead-letter list.
func (d *DeadLetter) Push(ctx context.Context, action models.PendingAction) {
	if d == nil || d.client == nil {
		return
	}
	data, err := json.Marshal(action)
	if err != nil {
		d.logger.Error().Err(err).Int64("action_id", action.ID).Msg("encode deadletter entry")
		return
	}
	if err := d.client.LPush(ctx, d.key, data).Err(); err != nil {
		d.logger.Error().Err(err).Int64("action_id", action.ID).Msg("deadletter push failed")
	}
}

// Len returns the number of dead-lettered actions.
func (d *DeadLetter) Len(ctx context.Context) (int64, error) {
	if d == nil || d.client == nil {
		return 0, nil
	}
	return d.client.LLen(ctx, d.key).Result()
}
