// Package resolver decides the winning state when a locally edited
// record and its remote counterpart diverge. Resolution is
// whole-record: the winner replaces the loser entirely.
package resolver

import "pocketplan/internal/models"

// Outcome classifies a resolution for logging and metrics.
type Outcome string

const (
	// OutcomeLocalWins: the local copy is newer and keeps its edits.
	OutcomeLocalWins Outcome = "local_wins"
	// OutcomeRemoteWins: the remote copy is newer or tied; local
	// edits are superseded.
	OutcomeRemoteWins Outcome = "remote_wins"
	// OutcomeDeleteWins: one side is a tombstone; the delete stands
	// regardless of timestamps.
	OutcomeDeleteWins Outcome = "delete_wins"
)

// Resolve returns the winning record for a divergent local/remote
// pair. Policy, in priority order: a delete on either side wins, then
// the later updated_at wins, and a timestamp tie goes to the remote
// copy because the server arbitrates concurrent edits.
func Resolve(local, remote models.Entity) (models.Entity, Outcome) {
	if local.Deleted {
		return local, OutcomeDeleteWins
	}
	if remote.Deleted {
		return remote, OutcomeDeleteWins
	}

	if local.UpdatedAt.After(remote.UpdatedAt) {
		return local, OutcomeLocalWins
	}
	return remote, OutcomeRemoteWins
}
