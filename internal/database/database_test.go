package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"pocketplan/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := NewDB(dbPath, zerolog.Nop())
	require.NoError(t, err)
	return db
}

func testTask(id, title string, updatedAt time.Time) models.Entity {
	return models.Entity{
		ID:        id,
		Kind:      models.KindTask,
		UpdatedAt: updatedAt,
		Task:      &models.Task{Title: title},
	}
}

func TestNewDB_CreatesFile(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "db_test_dir")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	dbPath := filepath.Join(tempDir, "test.db")
	db, err := NewDB(dbPath, zerolog.Nop())
	require.NoError(t, err)
	defer db.Close()

	assert.FileExists(t, dbPath)
}

func TestDB_ReopenKeepsData(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	db, err := NewDB(dbPath, zerolog.Nop())
	require.NoError(t, err)

	err = db.UpsertEntities(ctx, []models.Entity{testTask("t1", "buy milk", time.Now())})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	// Повторное открытие не должно терять данные
	db2, err := NewDB(dbPath, zerolog.Nop())
	require.NoError(t, err)
	defer db2.Close()

	got, err := db2.GetEntity(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "buy milk", got.Task.Title)
}

func TestDB_CheckIntegrity(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	assert.NoError(t, db.CheckIntegrity(context.Background()))
}

func TestDB_Reset(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	require.NoError(t, db.UpsertEntities(ctx, []models.Entity{testTask("t1", "a", time.Now())}))
	require.NoError(t, db.SetSyncValue(ctx, "cursor:task", "abc"))

	require.NoError(t, db.Reset(ctx))

	got, err := db.GetEntity(ctx, "t1")
	require.NoError(t, err)
	assert.Nil(t, got)

	cursor, err := db.GetSyncValue(ctx, "cursor:task")
	require.NoError(t, err)
	assert.Empty(t, cursor)
}

func TestDB_ClearAll(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	entity := testTask("t1", "a", time.Now())
	action := &models.PendingAction{Kind: models.ActionCreate, EntityKind: models.KindTask, EntityID: "t1", Payload: "{}"}
	require.NoError(t, db.SaveEntityWithAction(ctx, entity, action))
	require.NoError(t, db.SetLastSyncAt(ctx, time.Now()))

	require.NoError(t, db.ClearAll(ctx))

	got, err := db.GetEntity(ctx, "t1")
	require.NoError(t, err)
	assert.Nil(t, got)

	pending, err := db.ListPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	last, err := db.GetLastSyncAt(ctx)
	require.NoError(t, err)
	assert.Nil(t, last)
}
