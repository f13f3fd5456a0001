package ledger

import (
	"context"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestClient creates a test client connected to a miniredis instance
func setupTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	mr := miniredis.NewMiniRedis()
	err := mr.Start()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := NewClient(&redis.Options{Addr: mr.Addr()}, "test-project")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client, mr
}

func TestNewClient(t *testing.T) {
	t.Run("creates client successfully", func(t *testing.T) {
		client, _ := setupTestClient(t)
		assert.NotNil(t, client)
		assert.Equal(t, "test-project", client.Namespace())
	})

	t.Run("rejects empty namespace", func(t *testing.T) {
		_, err := NewClient(&redis.Options{Addr: "localhost:6379"}, "")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "namespace cannot be empty")
	})
}

func TestCreateRun(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	t.Run("creates run with created status", func(t *testing.T) {
		run, err := client.CreateRun(ctx, TaskTypePlan, "")
		require.NoError(t, err)

		assert.Equal(t, StatusCreated, run.Status)
		assert.Equal(t, TaskTypePlan, run.TaskType)
		assert.Equal(t, "test-project", run.Namespace)
		assert.Empty(t, run.ParentRunID)
		assert.NotZero(t, run.CreatedAtMs)

		stored, err := client.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, run.ID, stored.ID)
		assert.Equal(t, StatusCreated, stored.Status)
	})

	t.Run("records parent lineage", func(t *testing.T) {
		parent, err := client.CreateRun(ctx, TaskTypePlan, "")
		require.NoError(t, err)

		child, err := client.CreateRun(ctx, TaskTypeSpec, parent.ID)
		require.NoError(t, err)
		assert.Equal(t, parent.ID, child.ParentRunID)
	})

	t.Run("rejects unknown task type", func(t *testing.T) {
		_, err := client.CreateRun(ctx, TaskType("bogus"), "")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "unknown task type")
	})
}

func TestGetRun(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	t.Run("returns NotFoundError for missing run", func(t *testing.T) {
		_, err := client.GetRun(ctx, uuid.New().String())
		require.Error(t, err)
		assert.True(t, IsNotFound(err))
	})
}

func TestUpdateRunStatus(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	t.Run("allows forward transitions", func(t *testing.T) {
		run, err := client.CreateRun(ctx, TaskTypeSpec, "")
		require.NoError(t, err)

		for _, status := range []Status{
			StatusDrafting, StatusCritiquing, StatusSynthesizing,
			StatusWaitingForApproval, StatusReadyToCommit,
			StatusCommitting, StatusCompleted,
		} {
			require.NoError(t, client.UpdateRunStatus(ctx, run.ID, status))
		}

		stored, err := client.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, stored.Status)
	})

	t.Run("rejects backward transitions", func(t *testing.T) {
		run, err := client.CreateRun(ctx, TaskTypeSpec, "")
		require.NoError(t, err)

		require.NoError(t, client.UpdateRunStatus(ctx, run.ID, StatusDrafting))
		err = client.UpdateRunStatus(ctx, run.ID, StatusCreated)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "illegal status transition")
	})

	t.Run("failed is terminal", func(t *testing.T) {
		run, err := client.CreateRun(ctx, TaskTypeSpec, "")
		require.NoError(t, err)

		require.NoError(t, client.UpdateRunStatus(ctx, run.ID, StatusFailed))
		err = client.UpdateRunStatus(ctx, run.ID, StatusDrafting)
		assert.Error(t, err)
	})

	t.Run("allows failure from any active stage", func(t *testing.T) {
		run, err := client.CreateRun(ctx, TaskTypeSpec, "")
		require.NoError(t, err)

		require.NoError(t, client.UpdateRunStatus(ctx, run.ID, StatusDrafting))
		require.NoError(t, client.UpdateRunStatus(ctx, run.ID, StatusCritiquing))
		require.NoError(t, client.UpdateRunStatus(ctx, run.ID, StatusFailed))
	})
}

func TestWriteArtifact(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	t.Run("writes and reads back artifact", func(t *testing.T) {
		run, err := client.CreateRun(ctx, TaskTypePlan, "")
		require.NoError(t, err)

		artifact, err := client.WriteArtifact(ctx, run.ID, KindDraft, "draft body", "model-a", map[string]any{"tokens": float64(42)})
		require.NoError(t, err)

		stored, err := client.GetArtifact(ctx, artifact.ID)
		require.NoError(t, err)
		assert.Equal(t, KindDraft, stored.Kind)
		assert.Equal(t, "draft body", stored.Content)
		assert.Equal(t, "model-a", stored.Model)
		assert.Equal(t, map[string]any{"tokens": float64(42)}, stored.Usage)
	})

	t.Run("rejects artifact for missing run", func(t *testing.T) {
		_, err := client.WriteArtifact(ctx, uuid.New().String(), KindDraft, "orphan", "", nil)
		require.Error(t, err)
		assert.True(t, IsNotFound(err))
	})

	t.Run("rejects unknown kind", func(t *testing.T) {
		run, err := client.CreateRun(ctx, TaskTypePlan, "")
		require.NoError(t, err)

		_, err = client.WriteArtifact(ctx, run.ID, Kind("bogus"), "x", "", nil)
		assert.Error(t, err)
	})
}

func TestGetArtifacts(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	t.Run("returns empty slice when none exist", func(t *testing.T) {
		run, err := client.CreateRun(ctx, TaskTypePlan, "")
		require.NoError(t, err)

		artifacts, err := client.GetArtifacts(ctx, run.ID, "")
		require.NoError(t, err)
		assert.Empty(t, artifacts)
	})

	t.Run("preserves creation order and filters by kind", func(t *testing.T) {
		run, err := client.CreateRun(ctx, TaskTypePlan, "")
		require.NoError(t, err)

		_, err = client.WriteArtifact(ctx, run.ID, KindDraft, "first", "m1", nil)
		require.NoError(t, err)
		_, err = client.WriteArtifact(ctx, run.ID, KindCritique, "interleaved", "m1", nil)
		require.NoError(t, err)
		_, err = client.WriteArtifact(ctx, run.ID, KindDraft, "second", "m2", nil)
		require.NoError(t, err)

		drafts, err := client.GetArtifacts(ctx, run.ID, KindDraft)
		require.NoError(t, err)
		require.Len(t, drafts, 2)
		assert.Equal(t, "first", drafts[0].Content)
		assert.Equal(t, "second", drafts[1].Content)
	})

	t.Run("repeated reads return identical sequences", func(t *testing.T) {
		run, err := client.CreateRun(ctx, TaskTypePlan, "")
		require.NoError(t, err)

		for _, content := range []string{"a", "b", "c"} {
			_, err = client.WriteArtifact(ctx, run.ID, KindDraft, content, "", nil)
			require.NoError(t, err)
		}

		first, err := client.GetArtifacts(ctx, run.ID, KindDraft)
		require.NoError(t, err)
		second, err := client.GetArtifacts(ctx, run.ID, KindDraft)
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})

	t.Run("accepts concurrent sibling writes", func(t *testing.T) {
		run, err := client.CreateRun(ctx, TaskTypePlan, "")
		require.NoError(t, err)

		var wg sync.WaitGroup
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, werr := client.WriteArtifact(ctx, run.ID, KindDraft, "concurrent", "", nil)
				assert.NoError(t, werr)
			}()
		}
		wg.Wait()

		drafts, err := client.GetArtifacts(ctx, run.ID, KindDraft)
		require.NoError(t, err)
		assert.Len(t, drafts, 5)
	})
}

func TestFinalOutput(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	t.Run("prefers output over edited and raw synthesis", func(t *testing.T) {
		run, err := client.CreateRun(ctx, TaskTypeSpec, "")
		require.NoError(t, err)

		_, err = client.WriteArtifact(ctx, run.ID, KindSynthesis, "raw", "chair", nil)
		require.NoError(t, err)
		_, err = client.WriteArtifact(ctx, run.ID, KindSynthesisEdited, "edited", "", nil)
		require.NoError(t, err)
		_, err = client.WriteArtifact(ctx, run.ID, KindOutput, "validated", "chair", nil)
		require.NoError(t, err)

		final, err := client.FinalOutput(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, KindOutput, final.Kind)
		assert.Equal(t, "validated", final.Content)
	})

	t.Run("falls back to synthesis_edited then synthesis", func(t *testing.T) {
		run, err := client.CreateRun(ctx, TaskTypeSpec, "")
		require.NoError(t, err)

		_, err = client.WriteArtifact(ctx, run.ID, KindSynthesis, "raw", "chair", nil)
		require.NoError(t, err)

		final, err := client.FinalOutput(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, KindSynthesis, final.Kind)

		_, err = client.WriteArtifact(ctx, run.ID, KindSynthesisEdited, "edited", "", nil)
		require.NoError(t, err)

		final, err = client.FinalOutput(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, KindSynthesisEdited, final.Kind)
	})

	t.Run("not found when no candidate exists", func(t *testing.T) {
		run, err := client.CreateRun(ctx, TaskTypeSpec, "")
		require.NoError(t, err)

		_, err = client.FinalOutput(ctx, run.ID)
		require.Error(t, err)
		assert.True(t, IsNotFound(err))
	})
}

func TestApprovals(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	t.Run("latest approval wins", func(t *testing.T) {
		run, err := client.CreateRun(ctx, TaskTypeSpec, "")
		require.NoError(t, err)

		_, err = client.CreateApproval(ctx, run.ID, DecisionReject, "", "not good enough")
		require.NoError(t, err)
		_, err = client.CreateApproval(ctx, run.ID, DecisionApprove, "", "")
		require.NoError(t, err)

		latest, err := client.LatestApproval(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, DecisionApprove, latest.Decision)
	})

	t.Run("reject requires feedback", func(t *testing.T) {
		run, err := client.CreateRun(ctx, TaskTypeSpec, "")
		require.NoError(t, err)

		_, err = client.CreateApproval(ctx, run.ID, DecisionReject, "", "")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "feedback is required")
	})

	t.Run("not found when no approval recorded", func(t *testing.T) {
		run, err := client.CreateRun(ctx, TaskTypeSpec, "")
		require.NoError(t, err)

		_, err = client.LatestApproval(ctx, run.ID)
		require.Error(t, err)
		assert.True(t, IsNotFound(err))
	})
}

func TestLatestApprovedRunByTaskType(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	advance := func(t *testing.T, runID string, target Status) {
		t.Helper()
		path := map[Status][]Status{
			StatusWaitingForApproval: {StatusDrafting, StatusCritiquing, StatusSynthesizing, StatusWaitingForApproval},
			StatusReadyToCommit:      {StatusDrafting, StatusCritiquing, StatusSynthesizing, StatusWaitingForApproval, StatusReadyToCommit},
			StatusCompleted:          {StatusDrafting, StatusCritiquing, StatusSynthesizing, StatusWaitingForApproval, StatusReadyToCommit, StatusCommitting, StatusCompleted},
		}
		for _, s := range path[target] {
			require.NoError(t, client.UpdateRunStatus(ctx, runID, s))
		}
	}

	t.Run("returns newest approved run under parent", func(t *testing.T) {
		plan, err := client.CreateRun(ctx, TaskTypePlan, "")
		require.NoError(t, err)

		older, err := client.CreateRun(ctx, TaskTypeSpec, plan.ID)
		require.NoError(t, err)
		advance(t, older.ID, StatusCompleted)

		newer, err := client.CreateRun(ctx, TaskTypeSpec, plan.ID)
		require.NoError(t, err)
		advance(t, newer.ID, StatusReadyToCommit)

		// Not approved: still waiting.
		waiting, err := client.CreateRun(ctx, TaskTypeSpec, plan.ID)
		require.NoError(t, err)
		advance(t, waiting.ID, StatusWaitingForApproval)

		found, err := client.LatestApprovedRunByTaskType(ctx, TaskTypeSpec, plan.ID)
		require.NoError(t, err)
		assert.Equal(t, newer.ID, found.ID)
	})

	t.Run("not found when nothing approved", func(t *testing.T) {
		plan, err := client.CreateRun(ctx, TaskTypePlan, "")
		require.NoError(t, err)

		_, err = client.LatestApprovedRunByTaskType(ctx, TaskTypeTracker, plan.ID)
		require.Error(t, err)
		assert.True(t, IsNotFound(err))
	})
}
