package syncer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"pocketplan/internal/events"
	"pocketplan/internal/metrics"
	"pocketplan/internal/models"
	"pocketplan/internal/remote"
	"pocketplan/internal/resolver"
)

// flush drains the pending action log: per-entity chains stay strictly
// in enqueue order while distinct entities are submitted concurrently
// up to the configured fan-out. Returns the entity ids whose deletes
// the server confirmed.
func (e *Engine) flush(ctx context.Context, stats *models.CycleStats) ([]string, error) {
	actions, err := e.store.ListPending(ctx, e.batchSize)
	if err != nil {
		return nil, err
	}
	if len(actions) == 0 {
		return nil, nil
	}

	// Group by entity, preserving enqueue order inside each chain.
	order := make([]string, 0, len(actions))
	chains := make(map[string][]models.PendingAction)
	for _, a := range actions {
		if _, seen := chains[a.EntityID]; !seen {
			order = append(order, a.EntityID)
		}
		chains[a.EntityID] = append(chains[a.EntityID], a)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		confirmed []string
		authErr   error
	)
	sem := make(chan struct{}, e.fanOut)

	for _, entityID := range order {
		chain := chains[entityID]

		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			for i := range chain {
				mu.Lock()
				aborted := authErr != nil
				mu.Unlock()
				if aborted || ctx.Err() != nil {
					return
				}

				outcome := e.submit(ctx, &chain[i])

				// A confirmed create rewrote the queue rows to the
				// server identifier; the in-memory tail must follow.
				if outcome.remappedTo != "" {
					for j := i + 1; j < len(chain); j++ {
						chain[j].EntityID = outcome.remappedTo
					}
				}

				mu.Lock()
				stats.Flushed += outcome.flushed
				stats.Failed += outcome.failed
				stats.Retried += outcome.retried
				if outcome.deleteConfirmed != "" {
					confirmed = append(confirmed, outcome.deleteConfirmed)
				}
				if outcome.authErr != nil && authErr == nil {
					authErr = outcome.authErr
				}
				mu.Unlock()

				if outcome.stop {
					// Remaining actions for this entity must wait:
					// replaying them out of order is never allowed.
					return
				}
			}
		}()
	}
	wg.Wait()

	if authErr != nil {
		return confirmed, authErr
	}
	if err := ctx.Err(); err != nil {
		return confirmed, err
	}
	return confirmed, nil
}

type submitOutcome struct {
	flushed         int
	failed          int
	retried         int
	deleteConfirmed string
	remappedTo      string
	stop            bool
	authErr         error
}

// submit replays one action against the remote service and settles it
// in the log.
func (e *Engine) submit(ctx context.Context, action *models.PendingAction) submitOutcome {
	snapshot, err := action.Snapshot()
	if err != nil {
		// A snapshot that cannot be decoded will never succeed.
		e.failAction(ctx, action, err)
		return submitOutcome{failed: 1, stop: true}
	}

	switch action.Kind {
	case models.ActionCreate:
		created, err := e.remote.CreateEntity(ctx, snapshot)
		if err != nil {
			return e.settleFailure(ctx, action, err)
		}
		// Remap is atomic: the entity row, every queued action and the
		// originating create leave the tentative identifier together.
		if err := e.store.Remap(ctx, action.EntityID, created.ID, action.ID); err != nil {
			return e.settleFailure(ctx, action, err)
		}
		if err := e.writeCanonical(ctx, created); err != nil {
			return submitOutcome{flushed: 1, remappedTo: created.ID, stop: true}
		}
		metrics.IncFlushed(string(action.Kind))
		return submitOutcome{flushed: 1, remappedTo: created.ID}

	case models.ActionUpdate:
		updated, err := e.remote.UpdateEntity(ctx, snapshot)
		if err != nil {
			return e.settleFailure(ctx, action, err)
		}
		if err := e.store.DequeueAction(ctx, action.ID); err != nil {
			return submitOutcome{stop: true}
		}
		if err := e.writeCanonical(ctx, updated); err != nil {
			return submitOutcome{flushed: 1, stop: true}
		}
		metrics.IncFlushed(string(action.Kind))
		return submitOutcome{flushed: 1}

	case models.ActionDelete:
		if err := e.remote.DeleteEntity(ctx, action.EntityKind, action.EntityID); err != nil {
			return e.settleFailure(ctx, action, err)
		}
		if err := e.store.DequeueAction(ctx, action.ID); err != nil {
			return submitOutcome{stop: true}
		}
		metrics.IncFlushed(string(action.Kind))
		return submitOutcome{flushed: 1, deleteConfirmed: action.EntityID}

	default:
		e.failAction(ctx, action, fmt.Errorf("unknown action kind: %s", action.Kind))
		return submitOutcome{failed: 1, stop: true}
	}
}

// settleFailure classifies a submission error. Auth failures abort the
// cycle; terminal rejections and exhausted retries mark the action
// failed; transient errors schedule a backoff slot and count as
// retried, not failed. Either way the entity's chain stops to
// preserve ordering.
func (e *Engine) settleFailure(ctx context.Context, action *models.PendingAction, cause error) submitOutcome {
	if remote.IsUnauthorized(cause) {
		return submitOutcome{stop: true, authErr: cause}
	}

	attempt := action.RetryCount + 1
	if remote.IsTerminal(cause) || attempt >= e.retry.MaxRetries {
		e.failAction(ctx, action, cause)
		return submitOutcome{failed: 1, stop: true}
	}

	next := time.Now().Add(e.retry.NextDelay(attempt))
	if err := e.store.RecordActionFailure(ctx, action.ID, cause.Error(), &next, false); err != nil {
		e.logger.Error().Err(err).Int64("action_id", action.ID).Msg("record retry failed")
	}
	metrics.IncRetry()
	e.logger.Warn().
		Err(cause).
		Int64("action_id", action.ID).
		Str("entity_id", action.EntityID).
		Int("attempt", attempt).
		Time("next_retry_at", next).
		Msg("action submission failed, will retry")
	return submitOutcome{retried: 1, stop: true}
}

// failAction marks an action terminally failed and surfaces it for
// user resolution.
func (e *Engine) failAction(ctx context.Context, action *models.PendingAction, cause error) {
	if err := e.store.RecordActionFailure(ctx, action.ID, cause.Error(), nil, true); err != nil {
		e.logger.Error().Err(err).Int64("action_id", action.ID).Msg("mark action failed")
	}
	metrics.IncFailure()
	e.deadLetter.Push(ctx, *action)
	e.logger.Error().
		Err(cause).
		Int64("action_id", action.ID).
		Str("entity_id", action.EntityID).
		Str("kind", string(action.Kind)).
		Msg("action rejected permanently")
	_ = e.bus.PublishJSON(events.EventActionFailed, events.ActionFailedPayload{
		ActionID:   action.ID,
		Kind:       action.Kind,
		EntityKind: action.EntityKind,
		EntityID:   action.EntityID,
		Error:      cause.Error(),
	})
}

// writeCanonical stores a server-confirmed record. The dirty flag
// stays set while later actions for the entity are still queued, and
// a local tombstone is never overwritten before its delete confirms.
func (e *Engine) writeCanonical(ctx context.Context, entity models.Entity) error {
	existing, err := e.store.GetEntity(ctx, entity.ID)
	if err != nil {
		return err
	}
	if existing != nil && existing.Deleted {
		return nil
	}

	pending, err := e.store.HasPendingActions(ctx, entity.ID)
	if err != nil {
		e.logger.Error().Err(err).Str("entity_id", entity.ID).Msg("count pending actions")
		return err
	}
	entity.Dirty = pending
	entity.Deleted = false
	if err := e.store.UpsertEntities(ctx, []models.Entity{entity}); err != nil {
		e.logger.Error().Err(err).Str("entity_id", entity.ID).Msg("write canonical record")
		return err
	}
	return nil
}

// pullAndMerge fetches canonical remote state per kind and folds it
// into the local store. Returns the kinds that changed locally.
// Deletions are applied only from explicit remote tombstones; a
// record absent from the feed is left untouched.
func (e *Engine) pullAndMerge(ctx context.Context, stats *models.CycleStats) ([]models.EntityKind, error) {
	var changed []models.EntityKind

	for _, kind := range e.kinds {
		cursorKey := models.StateKeyCursorPrefix + string(kind)
		cursor, err := e.store.GetSyncValue(ctx, cursorKey)
		if err != nil {
			return changed, err
		}

		entities, nextCursor, err := e.remote.ListEntities(ctx, kind, cursor)
		if err != nil {
			// Flush progress stays; the cycle reports failed and the
			// next trigger retries from the same cursor.
			return changed, err
		}
		stats.Pulled += len(entities)

		kindChanged := false
		for _, remoteRec := range entities {
			wrote, err := e.merge(ctx, remoteRec, stats)
			if err != nil {
				return changed, err
			}
			kindChanged = kindChanged || wrote
		}
		if kindChanged {
			changed = append(changed, kind)
		}

		if nextCursor != "" && nextCursor != cursor {
			if err := e.store.SetSyncValue(ctx, cursorKey, nextCursor); err != nil {
				return changed, err
			}
		}
	}
	return changed, nil
}

// merge folds one pulled record into the local store. Reports whether
// the store changed.
func (e *Engine) merge(ctx context.Context, remoteRec models.Entity, stats *models.CycleStats) (bool, error) {
	local, err := e.store.GetEntity(ctx, remoteRec.ID)
	if err != nil {
		return false, err
	}

	switch {
	case local == nil:
		if remoteRec.Deleted {
			return false, nil
		}
		remoteRec.Dirty = false
		return true, e.store.UpsertEntities(ctx, []models.Entity{remoteRec})

	case local.Deleted:
		// Local tombstone awaiting delete confirmation: the pull must
		// not resurrect the record, whatever the server still shows.
		return false, nil

	case !local.Dirty:
		if remoteRec.Deleted {
			return true, e.store.DeleteEntities(ctx, []string{remoteRec.ID})
		}
		remoteRec.Dirty = false
		return true, e.store.UpsertEntities(ctx, []models.Entity{remoteRec})

	default:
		winner, outcome := resolver.Resolve(*local, remoteRec)
		stats.Conflicts++
		metrics.IncConflict(string(outcome))
		e.logger.Debug().
			Str("entity_id", remoteRec.ID).
			Str("outcome", string(outcome)).
			Msg("conflict resolved")

		switch outcome {
		case resolver.OutcomeLocalWins:
			// Local edits stand; the queued actions flush them later.
			return false, nil
		case resolver.OutcomeRemoteWins:
			if err := e.store.DiscardActions(ctx, remoteRec.ID); err != nil {
				return false, err
			}
			winner.Dirty = false
			return true, e.store.UpsertEntities(ctx, []models.Entity{winner})
		default: // delete wins
			if winner.Deleted && !local.Deleted {
				// Remote tombstone supersedes the local edits.
				if err := e.store.DiscardActions(ctx, remoteRec.ID); err != nil {
					return false, err
				}
				return true, e.store.DeleteEntities(ctx, []string{remoteRec.ID})
			}
			return false, nil
		}
	}
}
