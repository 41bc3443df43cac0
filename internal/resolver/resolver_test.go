package resolver

import (
	"testing"
	"time"

	"pocketplan/internal/models"

	"github.com/stretchr/testify/assert"
)

func taskAt(id string, at time.Time, deleted bool) models.Entity {
	return models.Entity{
		ID:        id,
		Kind:      models.KindTask,
		UpdatedAt: at,
		Deleted:   deleted,
		Task:      &models.Task{Title: id},
	}
}

func TestResolve(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		local       models.Entity
		remote      models.Entity
		wantOutcome Outcome
		wantLocal   bool
	}{
		{
			name:        "local newer wins",
			local:       taskAt("t1", base.Add(time.Minute), false),
			remote:      taskAt("t1", base, false),
			wantOutcome: OutcomeLocalWins,
			wantLocal:   true,
		},
		{
			name:        "remote newer wins",
			local:       taskAt("t1", base, false),
			remote:      taskAt("t1", base.Add(time.Minute), false),
			wantOutcome: OutcomeRemoteWins,
			wantLocal:   false,
		},
		{
			name:        "equal timestamps go to remote",
			local:       taskAt("t1", base, false),
			remote:      taskAt("t1", base, false),
			wantOutcome: OutcomeRemoteWins,
			wantLocal:   false,
		},
		{
			name:        "local tombstone beats newer remote edit",
			local:       taskAt("t1", base, true),
			remote:      taskAt("t1", base.Add(time.Hour), false),
			wantOutcome: OutcomeDeleteWins,
			wantLocal:   true,
		},
		{
			name:        "remote tombstone beats newer local edit",
			local:       taskAt("t1", base.Add(time.Hour), false),
			remote:      taskAt("t1", base, true),
			wantOutcome: OutcomeDeleteWins,
			wantLocal:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			winner, outcome := Resolve(tt.local, tt.remote)
			assert.Equal(t, tt.wantOutcome, outcome)
			if tt.wantLocal {
				assert.Equal(t, tt.local, winner)
			} else {
				assert.Equal(t, tt.remote, winner)
			}
		})
	}
}
