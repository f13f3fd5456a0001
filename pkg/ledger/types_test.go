package ledger

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestRunValidate(t *testing.T) {
	validRun := func() *Run {
		return &Run{
			ID:        uuid.New().String(),
			Namespace: "proj",
			TaskType:  TaskTypeSpec,
			Status:    StatusCreated,
		}
	}

	t.Run("valid run passes", func(t *testing.T) {
		assert.NoError(t, validRun().Validate())
	})

	t.Run("rejects bad UUID", func(t *testing.T) {
		run := validRun()
		run.ID = "not-a-uuid"
		assert.Error(t, run.Validate())
	})

	t.Run("rejects empty namespace", func(t *testing.T) {
		run := validRun()
		run.Namespace = ""
		assert.Error(t, run.Validate())
	})

	t.Run("rejects malformed parent reference", func(t *testing.T) {
		run := validRun()
		run.ParentRunID = "short"
		assert.Error(t, run.Validate())
	})
}

func TestStatusTransitions(t *testing.T) {
	t.Run("happy path is legal", func(t *testing.T) {
		path := []Status{
			StatusCreated, StatusDrafting, StatusCritiquing, StatusSynthesizing,
			StatusWaitingForApproval, StatusReadyToCommit, StatusCommitting, StatusCompleted,
		}
		for i := 0; i < len(path)-1; i++ {
			assert.True(t, path[i].CanTransitionTo(path[i+1]), "%s → %s", path[i], path[i+1])
		}
	})

	t.Run("failure reachable from every active stage", func(t *testing.T) {
		for _, s := range []Status{
			StatusCreated, StatusDrafting, StatusCritiquing, StatusSynthesizing,
			StatusWaitingForApproval, StatusReadyToCommit, StatusCommitting,
		} {
			assert.True(t, s.CanTransitionTo(StatusFailed), "%s → failed", s)
		}
	})

	t.Run("terminal states have no exits", func(t *testing.T) {
		for _, next := range []Status{
			StatusCreated, StatusDrafting, StatusWaitingForApproval, StatusCompleted,
		} {
			assert.False(t, StatusCompleted.CanTransitionTo(next))
			assert.False(t, StatusFailed.CanTransitionTo(next))
			assert.False(t, StatusValidationFailed.CanTransitionTo(next))
		}
	})

	t.Run("approval gate statuses", func(t *testing.T) {
		assert.True(t, StatusReadyToCommit.IsApproved())
		assert.True(t, StatusCompleted.IsApproved())
		assert.False(t, StatusWaitingForApproval.IsApproved())
		assert.False(t, StatusFailed.IsApproved())
	})
}

func TestEnumValidation(t *testing.T) {
	t.Run("all artifact kinds are valid", func(t *testing.T) {
		for _, k := range []Kind{
			KindPacket, KindDraft, KindCritique, KindSynthesis, KindSynthesisEdited,
			KindDecisionPacket, KindOutput, KindError, KindCommitLog, KindPlan,
		} {
			assert.NoError(t, k.Validate())
		}
	})

	t.Run("unknown values rejected", func(t *testing.T) {
		assert.Error(t, Kind("bogus").Validate())
		assert.Error(t, TaskType("bogus").Validate())
		assert.Error(t, Status("bogus").Validate())
		assert.Error(t, Decision("bogus").Validate())
	})
}

func TestSerializationRoundTrip(t *testing.T) {
	t.Run("artifact with usage survives hash round trip", func(t *testing.T) {
		artifact := &Artifact{
			ID:          uuid.New().String(),
			RunID:       uuid.New().String(),
			Kind:        KindSynthesis,
			Model:       "model-x",
			Content:     "## SYNTHESIS\nbody",
			Usage:       map[string]any{"prompt_tokens": float64(10)},
			CreatedAtMs: 1234,
		}

		hash, err := ArtifactToHash(artifact)
		assert.NoError(t, err)

		strHash := make(map[string]string, len(hash))
		for k, v := range hash {
			switch val := v.(type) {
			case string:
				strHash[k] = val
			case int64:
				strHash[k] = "1234"
			}
		}

		back, err := HashToArtifact(strHash)
		assert.NoError(t, err)
		assert.Equal(t, artifact, back)
	})
}
