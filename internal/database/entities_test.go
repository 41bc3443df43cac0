package database

import (
	"context"
	"testing"
	"time"

	"pocketplan/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntitiesCRUD(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	now := time.Now()
	due := now.Add(24 * time.Hour)
	task := models.Entity{
		ID:        "t1",
		Kind:      models.KindTask,
		UpdatedAt: now,
		Task:      &models.Task{Title: "buy milk", Notes: "2%", DueAt: &due, Labels: []string{"home"}},
	}
	event := models.Entity{
		ID:        "e1",
		Kind:      models.KindEvent,
		UpdatedAt: now.Add(time.Minute),
		Event:     &models.CalendarEvent{Title: "standup", StartsAt: now, EndsAt: now.Add(time.Hour)},
	}

	require.NoError(t, db.UpsertEntities(ctx, []models.Entity{task, event}))

	got, err := db.GetEntity(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.KindTask, got.Kind)
	assert.Equal(t, "buy milk", got.Task.Title)
	assert.Equal(t, []string{"home"}, got.Task.Labels)
	assert.Nil(t, got.Event)

	// List фильтрует по типу
	tasks, err := db.ListEntities(ctx, models.KindTask)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "t1", tasks[0].ID)

	events, err := db.ListEntities(ctx, models.KindEvent)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "standup", events[0].Event.Title)

	// Upsert overwrites the whole record
	task.Task.Title = "buy oat milk"
	task.Dirty = true
	require.NoError(t, db.UpsertEntities(ctx, []models.Entity{task}))

	got, err = db.GetEntity(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "buy oat milk", got.Task.Title)
	assert.True(t, got.Dirty)

	require.NoError(t, db.DeleteEntities(ctx, []string{"t1"}))
	got, err = db.GetEntity(ctx, "t1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGetEntity_Missing(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	got, err := db.GetEntity(context.Background(), "no-such-id")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestListEntities_OrderedByUpdatedAt(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	base := time.Now()
	require.NoError(t, db.UpsertEntities(ctx, []models.Entity{
		testTask("old", "old", base.Add(-time.Hour)),
		testTask("new", "new", base),
		testTask("mid", "mid", base.Add(-time.Minute)),
	}))

	got, err := db.ListEntities(ctx, models.KindTask)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "new", got[0].ID)
	assert.Equal(t, "mid", got[1].ID)
	assert.Equal(t, "old", got[2].ID)
}

func TestSaveEntityWithAction_Atomic(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	entity := testTask("t1", "offline task", time.Now())
	entity.Dirty = true
	snapshot, err := models.EncodeSnapshot(entity)
	require.NoError(t, err)

	action := &models.PendingAction{
		Kind:       models.ActionCreate,
		EntityKind: models.KindTask,
		EntityID:   "t1",
		Payload:    snapshot,
	}
	require.NoError(t, db.SaveEntityWithAction(ctx, entity, action))
	assert.NotZero(t, action.ID)

	got, err := db.GetEntity(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, got)

	pending, err := db.ListPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, models.ActionStatusPending, pending[0].Status)
}

func TestRemap(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	tentativeID := models.NewTentativeID()
	entity := testTask(tentativeID, "draft", time.Now())
	entity.Dirty = true
	snapshot, err := models.EncodeSnapshot(entity)
	require.NoError(t, err)

	create := &models.PendingAction{Kind: models.ActionCreate, EntityKind: models.KindTask, EntityID: tentativeID, Payload: snapshot}
	require.NoError(t, db.SaveEntityWithAction(ctx, entity, create))

	update := &models.PendingAction{Kind: models.ActionUpdate, EntityKind: models.KindTask, EntityID: tentativeID, Payload: snapshot}
	require.NoError(t, db.EnqueueAction(ctx, update))

	require.NoError(t, db.Remap(ctx, tentativeID, "srv-42", create.ID))

	// Строка сущности переписана на серверный идентификатор
	old, err := db.GetEntity(ctx, tentativeID)
	require.NoError(t, err)
	assert.Nil(t, old)

	got, err := db.GetEntity(ctx, "srv-42")
	require.NoError(t, err)
	require.NotNil(t, got)

	// The create action is gone, the queued update follows the new id
	pending, err := db.ListPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, models.ActionUpdate, pending[0].Kind)
	assert.Equal(t, "srv-42", pending[0].EntityID)
}

func TestRemap_RejectsBadIdentifiers(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	err := db.Remap(ctx, "srv-1", "srv-2", 1)
	assert.Error(t, err)

	err = db.Remap(ctx, models.NewTentativeID(), models.NewTentativeID(), 1)
	assert.Error(t, err)

	// Tentative id that no stored entity carries
	err = db.Remap(ctx, models.NewTentativeID(), "srv-2", 1)
	assert.Error(t, err)
}

func TestPurgeTombstones_OnlyDeletedRows(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	live := testTask("live", "keep me", time.Now())
	tombstone := testTask("dead", "remove me", time.Now())
	tombstone.Deleted = true
	require.NoError(t, db.UpsertEntities(ctx, []models.Entity{live, tombstone}))

	require.NoError(t, db.PurgeTombstones(ctx, []string{"live", "dead"}))

	got, err := db.GetEntity(ctx, "live")
	require.NoError(t, err)
	assert.NotNil(t, got)

	got, err = db.GetEntity(ctx, "dead")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestHasPendingActions(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	has, err := db.HasPendingActions(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, has)

	action := &models.PendingAction{Kind: models.ActionUpdate, EntityKind: models.KindTask, EntityID: "t1", Payload: "{}"}
	require.NoError(t, db.EnqueueAction(ctx, action))

	has, err = db.HasPendingActions(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, has)

	require.NoError(t, db.DequeueAction(ctx, action.ID))

	has, err = db.HasPendingActions(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, has)
}
