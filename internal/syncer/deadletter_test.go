package syncer

import (
	"context"
	"encoding/json"
	"testing"

	"pocketplan/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeadLetter_Push(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	dl := NewDeadLetter(client, zerolog.Nop())
	ctx := context.Background()

	errMsg := "validation rejected"
	action := models.PendingAction{
		ID:         7,
		Kind:       models.ActionUpdate,
		EntityKind: models.KindTask,
		EntityID:   "srv-1",
		Status:     models.ActionStatusFailed,
		LastError:  &errMsg,
	}
	dl.Push(ctx, action)

	n, err := dl.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	raw, err := client.LPop(ctx, defaultDeadLetterKey).Result()
	require.NoError(t, err)

	var got models.PendingAction
	require.NoError(t, json.Unmarshal([]byte(raw), &got))
	assert.Equal(t, int64(7), got.ID)
	assert.Equal(t, "srv-1", got.EntityID)
}

func TestDeadLetter_NilClientIsNoop(t *testing.T) {
	dl := NewDeadLetter(nil, zerolog.Nop())
	dl.Push(context.Background(), models.PendingAction{ID: 1})

	n, err := dl.Len(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}
