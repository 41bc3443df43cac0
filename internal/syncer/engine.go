// Package syncer orchestrates reconciliation between the local store
// and the remote service: it drains the pending action log, pulls
// remote state, merges divergent records and commits the new cursor.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"pocketplan/internal/database"
	"pocketplan/internal/domain"
	"pocketplan/internal/events"
	"pocketplan/internal/metrics"
	"pocketplan/internal/models"

	"github.com/rs/zerolog"
)

// ErrNotFound is returned by offline mutations targeting an entity
// the local store does not hold.
var ErrNotFound = errors.New("syncer: entity not found")

// Options tunes the engine; zero values fall back to defaults.
type Options struct {
	FlushFanOut    int
	FlushBatchSize int
	Kinds          []models.EntityKind
}

// Engine is the sync coordinator. It is constructed once at the
// composition root and passed to whatever needs it; all mutable sync
// state lives here, not in package globals.
type Engine struct {
	store      domain.Store
	remote     domain.RemoteClient
	bus        domain.EventPublisher
	retry      RetryPolicy
	deadLetter *DeadLetter
	logger     zerolog.Logger
	fanOut     int
	batchSize  int
	kinds      []models.EntityKind

	mu       sync.Mutex
	inflight *cycle
	lastSync *time.Time
}

// cycle lets concurrent SyncAll callers attach to one network round.
// cancel aborts the round early; destructive account operations use it
// so a cycle in flight can never write into a wiped store.
type cycle struct {
	done   chan struct{}
	cancel context.CancelFunc
	result models.CycleResult
	err    error
}

func NewEngine(store domain.Store, remoteClient domain.RemoteClient, bus domain.EventPublisher, retry RetryPolicy, deadLetter *DeadLetter, opts Options, logger zerolog.Logger) *Engine {
	if opts.FlushFanOut <= 0 {
		opts.FlushFanOut = models.DefaultFlushFanOut
	}
	if opts.FlushBatchSize <= 0 {
		opts.FlushBatchSize = models.DefaultFlushBatchSize
	}
	if len(opts.Kinds) == 0 {
		opts.Kinds = models.Kinds()
	}
	if retry.MaxRetries == 0 {
		retry.MaxRetries = models.DefaultMaxRetries
	}

	e := &Engine{
		store:      store,
		remote:     remoteClient,
		bus:        bus,
		retry:      retry,
		deadLetter: deadLetter,
		logger:     logger,
		fanOut:     opts.FlushFanOut,
		batchSize:  opts.FlushBatchSize,
		kinds:      opts.Kinds,
	}

	if at, err := store.GetLastSyncAt(context.Background()); err == nil {
		e.lastSync = at
	}
	return e
}

// LoadCached returns the locally cached records of a kind, tombstones
// excluded. Never blocks on network.
func (e *Engine) LoadCached(ctx context.Context, kind models.EntityKind) ([]models.Entity, error) {
	entities, err := e.store.ListEntities(ctx, kind)
	if err != nil {
		return nil, err
	}
	visible := entities[:0]
	for _, entity := range entities {
		if !entity.Deleted {
			visible = append(visible, entity)
		}
	}
	return visible, nil
}

// CreateOffline stores a new entity under a tentative identifier and
// queues the create for the next sync cycle. Returns immediately with
// the tentative record.
func (e *Engine) CreateOffline(ctx context.Context, entity models.Entity) (models.Entity, error) {
	entity.ID = models.NewTentativeID()
	entity.UpdatedAt = time.Now()
	entity.Dirty = true
	entity.Deleted = false
	if err := entity.Validate(); err != nil {
		return models.Entity{}, err
	}

	action, err := newAction(models.ActionCreate, entity)
	if err != nil {
		return models.Entity{}, err
	}
	if err := e.store.SaveEntityWithAction(ctx, entity, action); err != nil {
		return models.Entity{}, fmt.Errorf("create offline: %w", err)
	}

	e.notifyUpdated(entity.Kind)
	return entity, nil
}

// UpdateOffline applies a local edit: the record is marked dirty and
// the update queued, preserving enqueue order for the entity.
func (e *Engine) UpdateOffline(ctx context.Context, entity models.Entity) (models.Entity, error) {
	existing, err := e.store.GetEntity(ctx, entity.ID)
	if err != nil {
		return models.Entity{}, err
	}
	if existing == nil || existing.Deleted {
		return models.Entity{}, fmt.Errorf("%w: %s", ErrNotFound, entity.ID)
	}

	entity.Kind = existing.Kind
	entity.UpdatedAt = time.Now()
	entity.Dirty = true
	entity.Deleted = false
	if err := entity.Validate(); err != nil {
		return models.Entity{}, err
	}

	action, err := newAction(models.ActionUpdate, entity)
	if err != nil {
		return models.Entity{}, err
	}
	if err := e.store.SaveEntityWithAction(ctx, entity, action); err != nil {
		return models.Entity{}, fmt.Errorf("update offline: %w", err)
	}

	e.notifyUpdated(entity.Kind)
	return entity, nil
}

// DeleteOffline tombstones the record and queues the delete. The row
// stays hidden locally until the server confirms, so a concurrent
// pull can never resurrect it.
func (e *Engine) DeleteOffline(ctx context.Context, id string) error {
	existing, err := e.store.GetEntity(ctx, id)
	if err != nil {
		return err
	}
	if existing == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if existing.Deleted {
		return nil
	}

	tombstone := *existing
	tombstone.Deleted = true
	tombstone.Dirty = true
	tombstone.UpdatedAt = time.Now()

	action := &models.PendingAction{
		Kind:       models.ActionDelete,
		EntityKind: tombstone.Kind,
		EntityID:   tombstone.ID,
	}
	if err := e.store.SaveEntityWithAction(ctx, tombstone, action); err != nil {
		return fmt.Errorf("delete offline: %w", err)
	}

	e.notifyUpdated(tombstone.Kind)
	return nil
}

// FailedActions lists terminally failed mutations awaiting user-level
// resolution.
func (e *Engine) FailedActions(ctx context.Context) ([]models.PendingAction, error) {
	return e.store.ListFailedActions(ctx)
}

// ClearCache empties the local store, the action log and the sync
// cursor. Used on logout and account deletion. A cycle in flight is
// cancelled and awaited first so it cannot write pulled records or a
// watermark into the wiped store.
func (e *Engine) ClearCache(ctx context.Context) error {
	e.mu.Lock()
	c := e.inflight
	e.mu.Unlock()
	if c != nil {
		c.cancel()
		select {
		case <-c.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := e.store.ClearAll(ctx); err != nil {
		return err
	}
	e.mu.Lock()
	e.lastSync = nil
	e.mu.Unlock()
	return nil
}

// Status reports the observable engine state for UI display.
func (e *Engine) Status() models.SyncStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return models.SyncStatus{
		Syncing:    e.inflight != nil,
		LastSyncAt: e.lastSync,
	}
}

func newAction(kind models.ActionKind, entity models.Entity) (*models.PendingAction, error) {
	snapshot, err := models.EncodeSnapshot(entity)
	if err != nil {
		return nil, err
	}
	return &models.PendingAction{
		Kind:       kind,
		EntityKind: entity.Kind,
		EntityID:   entity.ID,
		Payload:    snapshot,
	}, nil
}

func (e *Engine) notifyUpdated(kinds ...models.EntityKind) {
	_ = e.bus.PublishJSON(events.EventEntitiesUpdated, events.EntitiesUpdatedPayload{Kinds: kinds})
}

// SyncAll runs one reconciliation cycle, or joins the cycle already
// in flight so N concurrent callers share a single network round.
func (e *Engine) SyncAll(ctx context.Context) (models.CycleResult, error) {
	e.mu.Lock()
	if c := e.inflight; c != nil {
		e.mu.Unlock()
		select {
		case <-ctx.Done():
			return models.CycleFailed, ctx.Err()
		case <-c.done:
			return c.result, c.err
		}
	}
	cycleCtx, cancel := context.WithCancel(ctx)
	c := &cycle{done: make(chan struct{}), cancel: cancel}
	e.inflight = c
	e.mu.Unlock()
	defer cancel()

	metrics.SetInFlight(true)
	stats := models.CycleStats{StartedAt: time.Now()}
	_ = e.bus.PublishJSON(events.EventSyncStarted, events.SyncCyclePayload{StartedAt: stats.StartedAt})

	err := e.runCycle(cycleCtx, &stats)
	stats.Duration = time.Since(stats.StartedAt)
	switch {
	case err != nil:
		stats.Result = models.CycleFailed
	case stats.Failed > 0:
		// Only terminal failures make a cycle partial. Actions
		// scheduled for retry ride the next cycle.
		stats.Result = models.CyclePartial
	default:
		stats.Result = models.CycleSuccess
	}

	e.finish(c, stats, err)
	return c.result, c.err
}

func (e *Engine) finish(c *cycle, stats models.CycleStats, err error) {
	c.result = stats.Result
	c.err = err

	e.mu.Lock()
	e.inflight = nil
	if err == nil {
		completedAt := stats.StartedAt.Add(stats.Duration)
		e.lastSync = &completedAt
	}
	e.mu.Unlock()

	metrics.SetInFlight(false)
	metrics.IncCycle(string(stats.Result))

	payload := events.SyncCyclePayload{
		Result:     string(stats.Result),
		Flushed:    stats.Flushed,
		Failed:     stats.Failed,
		Retried:    stats.Retried,
		Pulled:     stats.Pulled,
		Conflicts:  stats.Conflicts,
		StartedAt:  stats.StartedAt,
		DurationMS: stats.Duration.Milliseconds(),
	}
	eventType := events.EventSyncCompleted
	if err != nil {
		payload.Error = err.Error()
		eventType = events.EventSyncFailed
		e.logger.Error().Err(err).Msg("sync cycle failed")
	} else {
		e.logger.Info().
			Str("result", string(stats.Result)).
			Int("flushed", stats.Flushed).
			Int("failed", stats.Failed).
			Int("retried", stats.Retried).
			Int("pulled", stats.Pulled).
			Dur("duration", stats.Duration).
			Msg("sync cycle finished")
	}
	_ = e.bus.PublishJSON(eventType, payload)

	close(c.done)
}

// runCycle executes the four ordered phases. A failure during flush
// that is isolated to one action does not abort the cycle; a pull
// failure aborts the remaining phases but keeps flush progress.
func (e *Engine) runCycle(ctx context.Context, stats *models.CycleStats) error {
	confirmedDeletes, err := e.flush(ctx, stats)
	if err != nil {
		return e.handleCycleError(ctx, err)
	}

	changedKinds, err := e.pullAndMerge(ctx, stats)
	if err != nil {
		return e.handleCycleError(ctx, err)
	}

	// Commit: purge confirmed tombstones and persist the watermark.
	if err := e.store.PurgeTombstones(ctx, confirmedDeletes); err != nil {
		return e.handleCycleError(ctx, err)
	}
	if err := e.store.SetLastSyncAt(ctx, time.Now()); err != nil {
		return e.handleCycleError(ctx, err)
	}

	if len(changedKinds) > 0 {
		e.notifyUpdated(changedKinds...)
	}
	return nil
}

// handleCycleError escalates storage corruption into a full local
// reset; the next successful cycle re-pulls everything.
func (e *Engine) handleCycleError(ctx context.Context, err error) error {
	if errors.Is(err, database.ErrCorrupt) {
		e.logger.Error().Err(err).Msg("local storage corrupt, resetting cache")
		if resetErr := e.store.Reset(ctx); resetErr != nil {
			e.logger.Error().Err(resetErr).Msg("local reset failed")
		}
		e.mu.Lock()
		e.lastSync = nil
		e.mu.Unlock()
	}
	return err
}
