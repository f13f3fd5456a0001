package council

import (
	"context"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kylenewm/mvp-buildkit/internal/participant"
	"github.com/kylenewm/mvp-buildkit/pkg/ledger"
)

func setupTestClient(t *testing.T) *ledger.Client {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := ledger.NewClient(&redis.Options{Addr: mr.Addr()}, "test")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client
}

// chairResponse builds a well-formed chair reply whose SYNTHESIS section
// carries the given envelope body.
func chairResponse(envelope string) string {
	return fmt.Sprintf("# SYNTHESIS\n\n```yaml\n%s```\n\n# DECISION_PACKET\n\n```yaml\ndecisions:\n  - merged draft 1 and 2\nnext_actions:\n  - review the result\n```\n", envelope)
}

// planChairResponse mimics a realistic plan chair reply: the synthesis is
// free-form markdown rather than a YAML envelope.
func planChairResponse() string {
	return "# SYNTHESIS\n\n## Scope\n\nBuild a minimal todo app with create, list, and complete.\n\n## Build Sequence\n\n1. Scaffold the repo\n2. Wire the data model\n\n# DECISION_PACKET\n\n```yaml\ndecisions:\n  - merged draft 1 and 2\nnext_actions:\n  - review the result\n```\n"
}

func specEnvelope() string {
	return "schema_version: \"0.1\"\nproject: demo\nupdated_at: \"2026-08-30\"\n"
}

func newCoordinator(t *testing.T, client *ledger.Client, roster []participant.Participant, chair participant.Participant) *Coordinator {
	t.Helper()
	c, err := New(client, roster, chair, nil)
	require.NoError(t, err)
	return c
}

// runApprovedPlan deliberates and approves a plan run so council runs can
// hang off it.
func runApprovedPlan(t *testing.T, client *ledger.Client) *ledger.Run {
	t.Helper()
	ctx := context.Background()

	roster := []participant.Participant{
		participant.NewScripted("drafter-1", "plan draft one"),
		participant.NewScripted("drafter-2", "plan draft two"),
	}
	chair := participant.NewScripted("chair", planChairResponse())
	coord := newCoordinator(t, client, roster, chair)

	run, err := coord.Run(ctx, ledger.TaskTypePlan, "", "Build a todo app MVP.")
	require.NoError(t, err)
	require.Equal(t, ledger.StatusWaitingForApproval, run.Status)

	_, result, err := Review(ctx, client, run.ID, ledger.DecisionApprove, "", "")
	require.NoError(t, err)
	require.True(t, result.Valid)

	run, err = client.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, ledger.StatusReadyToCommit, run.Status)
	return run
}

func TestNew(t *testing.T) {
	client := setupTestClient(t)
	chair := participant.NewScripted("chair", "x")

	t.Run("rejects a roster below the draft floor", func(t *testing.T) {
		_, err := New(client, []participant.Participant{chair}, chair, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "roster too small")
	})

	t.Run("rejects a missing chair", func(t *testing.T) {
		roster := []participant.Participant{
			participant.NewScripted("a", "x"),
			participant.NewScripted("b", "x"),
		}
		_, err := New(client, roster, nil, nil)
		require.Error(t, err)
	})
}

func TestRun_PlanHappyPath(t *testing.T) {
	ctx := context.Background()
	client := setupTestClient(t)

	roster := []participant.Participant{
		participant.NewScripted("drafter-1", "draft one", "critique one"),
		participant.NewScripted("drafter-2", "draft two", "critique two"),
		participant.NewScripted("drafter-3", "draft three", "critique three"),
	}
	chair := participant.NewScripted("chair", planChairResponse())
	coord := newCoordinator(t, client, roster, chair)

	run, err := coord.Run(ctx, ledger.TaskTypePlan, "", "Build a todo app MVP.")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusWaitingForApproval, run.Status)

	drafts, err := client.GetArtifacts(ctx, run.ID, ledger.KindDraft)
	require.NoError(t, err)
	assert.Len(t, drafts, 3)

	critiques, err := client.GetArtifacts(ctx, run.ID, ledger.KindCritique)
	require.NoError(t, err)
	assert.Len(t, critiques, 3)

	syntheses, err := client.GetArtifacts(ctx, run.ID, ledger.KindSynthesis)
	require.NoError(t, err)
	require.Len(t, syntheses, 1)
	assert.Equal(t, "chair", syntheses[0].Model)

	outputs, err := client.GetArtifacts(ctx, run.ID, ledger.KindOutput)
	require.NoError(t, err)
	require.Len(t, outputs, 1)
	assert.Contains(t, outputs[0].Content, "## Build Sequence")

	packets, err := client.GetArtifacts(ctx, run.ID, ledger.KindDecisionPacket)
	require.NoError(t, err)
	require.Len(t, packets, 1)
	assert.Contains(t, packets[0].Content, "next_actions")

	plans, err := client.GetArtifacts(ctx, run.ID, ledger.KindPlan)
	require.NoError(t, err)
	assert.Len(t, plans, 1)
}

func TestRun_PartialDraftFailure(t *testing.T) {
	ctx := context.Background()
	client := setupTestClient(t)

	failing := &participant.CallError{Kind: participant.ErrTimeout, Model: "drafter-3", Err: context.DeadlineExceeded}
	roster := []participant.Participant{
		participant.NewScripted("drafter-1", "draft one", "critique one"),
		participant.NewScripted("drafter-2", "draft two", "critique two"),
		participant.NewScripted("drafter-3", failing, failing),
	}
	chair := participant.NewScripted("chair", planChairResponse())
	coord := newCoordinator(t, client, roster, chair)

	run, err := coord.Run(ctx, ledger.TaskTypePlan, "", "Build it.")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusWaitingForApproval, run.Status)

	drafts, err := client.GetArtifacts(ctx, run.ID, ledger.KindDraft)
	require.NoError(t, err)
	assert.Len(t, drafts, 2)

	errs, err := client.GetArtifacts(ctx, run.ID, ledger.KindError)
	require.NoError(t, err)
	assert.NotEmpty(t, errs)
}

func TestRun_TooFewDrafts(t *testing.T) {
	ctx := context.Background()
	client := setupTestClient(t)

	failA := &participant.CallError{Kind: participant.ErrUpstream, Model: "drafter-2", Err: assert.AnError}
	failB := &participant.CallError{Kind: participant.ErrTransport, Model: "drafter-3", Err: assert.AnError}
	roster := []participant.Participant{
		participant.NewScripted("drafter-1", "draft one"),
		participant.NewScripted("drafter-2", failA),
		participant.NewScripted("drafter-3", failB),
	}
	chair := participant.NewScripted("chair", planChairResponse())
	coord := newCoordinator(t, client, roster, chair)

	run, err := coord.Run(ctx, ledger.TaskTypePlan, "", "Build it.")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 3 drafts")

	run, err = client.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusFailed, run.Status)

	// Chair never ran
	assert.Equal(t, 0, chair.Calls())
}

func TestRun_TotalCritiqueFailureStillSynthesizes(t *testing.T) {
	ctx := context.Background()
	client := setupTestClient(t)

	critFail := &participant.CallError{Kind: participant.ErrTimeout, Model: "x", Err: context.DeadlineExceeded}
	roster := []participant.Participant{
		participant.NewScripted("drafter-1", "draft one", critFail),
		participant.NewScripted("drafter-2", "draft two", critFail),
	}
	chair := participant.NewScripted("chair", planChairResponse())
	coord := newCoordinator(t, client, roster, chair)

	run, err := coord.Run(ctx, ledger.TaskTypePlan, "", "Build it.")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusWaitingForApproval, run.Status)

	critiques, err := client.GetArtifacts(ctx, run.ID, ledger.KindCritique)
	require.NoError(t, err)
	assert.Empty(t, critiques)

	syntheses, err := client.GetArtifacts(ctx, run.ID, ledger.KindSynthesis)
	require.NoError(t, err)
	assert.Len(t, syntheses, 1)
}

func TestRun_CouncilPreflight(t *testing.T) {
	ctx := context.Background()

	t.Run("requires a parent run", func(t *testing.T) {
		client := setupTestClient(t)
		roster := []participant.Participant{
			participant.NewScripted("a", "x"),
			participant.NewScripted("b", "x"),
		}
		coord := newCoordinator(t, client, roster, participant.NewScripted("chair", "x"))

		_, err := coord.Run(ctx, ledger.TaskTypeSpec, "", "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "approved plan run as parent")
	})

	t.Run("requires the parent to be approved", func(t *testing.T) {
		client := setupTestClient(t)
		plan, err := client.CreateRun(ctx, ledger.TaskTypePlan, "")
		require.NoError(t, err)

		roster := []participant.Participant{
			participant.NewScripted("a", "x"),
			participant.NewScripted("b", "x"),
		}
		coord := newCoordinator(t, client, roster, participant.NewScripted("chair", "x"))

		_, err = coord.Run(ctx, ledger.TaskTypeSpec, plan.ID, "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not approved")
	})

	t.Run("spec council consumes the approved plan output", func(t *testing.T) {
		client := setupTestClient(t)
		plan := runApprovedPlan(t, client)

		roster := []participant.Participant{
			participant.NewScripted("drafter-1", "spec draft", "spec critique"),
			participant.NewScripted("drafter-2", "spec draft two", "spec critique two"),
		}
		chair := participant.NewScripted("chair", chairResponse(specEnvelope()))
		coord := newCoordinator(t, client, roster, chair)

		run, err := coord.Run(ctx, ledger.TaskTypeSpec, plan.ID, "")
		require.NoError(t, err)
		assert.Equal(t, ledger.StatusWaitingForApproval, run.Status)
		assert.Equal(t, plan.ID, run.ParentRunID)

		packets, err := client.GetArtifacts(ctx, run.ID, ledger.KindPacket)
		require.NoError(t, err)
		require.Len(t, packets, 1)
		assert.Contains(t, packets[0].Content, plan.ID)

		outputs, err := client.GetArtifacts(ctx, run.ID, ledger.KindOutput)
		require.NoError(t, err)
		require.Len(t, outputs, 1)
	})
}

func TestRun_ChairEnvelopeRejected(t *testing.T) {
	ctx := context.Background()
	client := setupTestClient(t)
	plan := runApprovedPlan(t, client)

	roster := []participant.Participant{
		participant.NewScripted("drafter-1", "spec draft"),
		participant.NewScripted("drafter-2", "spec draft two"),
	}
	// Envelope lacks the required project key
	badEnvelope := "schema_version: \"0.1\"\nupdated_at: \"2026-08-30\"\n"
	chair := participant.NewScripted("chair", chairResponse(badEnvelope))
	coord := newCoordinator(t, client, roster, chair)

	run, err := coord.Run(ctx, ledger.TaskTypeSpec, plan.ID, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chair output rejected")

	run, err = client.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusFailed, run.Status)

	errs, err := client.GetArtifacts(ctx, run.ID, ledger.KindError)
	require.NoError(t, err)
	require.NotEmpty(t, errs)
	assert.Contains(t, errs[0].Content, "project")
	assert.Contains(t, errs[0].Content, "raw chair output")

	outputs, err := client.GetArtifacts(ctx, run.ID, ledger.KindOutput)
	require.NoError(t, err)
	assert.Empty(t, outputs)
}

func TestReview(t *testing.T) {
	ctx := context.Background()

	t.Run("approve moves a valid run to ready_to_commit", func(t *testing.T) {
		client := setupTestClient(t)
		run := runApprovedPlan(t, client)
		assert.Equal(t, ledger.StatusReadyToCommit, run.Status)
	})

	t.Run("rejects a run that is not awaiting approval", func(t *testing.T) {
		client := setupTestClient(t)
		run, err := client.CreateRun(ctx, ledger.TaskTypePlan, "")
		require.NoError(t, err)

		_, _, err = Review(ctx, client, run.ID, ledger.DecisionApprove, "", "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not awaiting approval")
	})

	t.Run("edit_approve persists the edited synthesis", func(t *testing.T) {
		client := setupTestClient(t)

		roster := []participant.Participant{
			participant.NewScripted("drafter-1", "draft one"),
			participant.NewScripted("drafter-2", "draft two"),
		}
		chair := participant.NewScripted("chair", planChairResponse())
		coord := newCoordinator(t, client, roster, chair)
		run, err := coord.Run(ctx, ledger.TaskTypePlan, "", "Build it.")
		require.NoError(t, err)

		edited := planChairResponse() + "\nreviewer note\n"
		_, result, err := Review(ctx, client, run.ID, ledger.DecisionEditApprove, edited, "")
		require.NoError(t, err)
		assert.True(t, result.Valid)

		arts, err := client.GetArtifacts(ctx, run.ID, ledger.KindSynthesisEdited)
		require.NoError(t, err)
		require.Len(t, arts, 1)
		assert.Contains(t, arts[0].Content, "reviewer note")
	})
}

func TestRespawnFromRejection(t *testing.T) {
	ctx := context.Background()
	client := setupTestClient(t)

	roster := []participant.Participant{
		participant.NewScripted("drafter-1", "draft one", "draft redo"),
		participant.NewScripted("drafter-2", "draft two", "draft redo two"),
	}
	chair := participant.NewScripted("chair", planChairResponse(), planChairResponse())
	coord := newCoordinator(t, client, roster, chair)

	run, err := coord.Run(ctx, ledger.TaskTypePlan, "", "Build a todo app MVP.")
	require.NoError(t, err)

	_, _, err = Review(ctx, client, run.ID, ledger.DecisionReject, "", "scope is far too broad")
	require.NoError(t, err)

	rejected, err := client.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusFailed, rejected.Status)

	child, err := coord.RespawnFromRejection(ctx, run.ID)
	require.NoError(t, err)
	assert.NotEqual(t, run.ID, child.ID)
	assert.Equal(t, run.ID, child.ParentRunID)
	assert.Equal(t, ledger.TaskTypePlan, child.TaskType)
	assert.Equal(t, ledger.StatusWaitingForApproval, child.Status)

	packets, err := client.GetArtifacts(ctx, child.ID, ledger.KindPacket)
	require.NoError(t, err)
	require.Len(t, packets, 1)
	assert.Contains(t, packets[0].Content, fmt.Sprintf("---\n\n## Human Feedback (from rejected run %s)", run.ID))
	assert.Contains(t, packets[0].Content, "scope is far too broad")
	assert.Contains(t, packets[0].Content, "Build a todo app MVP.")

	t.Run("cannot respawn a non-rejected run", func(t *testing.T) {
		_, err := coord.RespawnFromRejection(ctx, child.ID)
		require.Error(t, err)
	})
}

func TestRespawnFromRejection_CouncilRun(t *testing.T) {
	ctx := context.Background()
	client := setupTestClient(t)
	plan := runApprovedPlan(t, client)

	roster := []participant.Participant{
		participant.NewScripted("drafter-1", "spec draft", "spec redo"),
		participant.NewScripted("drafter-2", "spec draft two", "spec redo two"),
	}
	chair := participant.NewScripted("chair", chairResponse(specEnvelope()), chairResponse(specEnvelope()))
	coord := newCoordinator(t, client, roster, chair)

	run, err := coord.Run(ctx, ledger.TaskTypeSpec, plan.ID, "")
	require.NoError(t, err)

	_, _, err = Review(ctx, client, run.ID, ledger.DecisionReject, "", "missing the auth flows")
	require.NoError(t, err)

	child, err := coord.RespawnFromRejection(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, child.ParentRunID)
	assert.Equal(t, ledger.TaskTypeSpec, child.TaskType)
	assert.Equal(t, ledger.StatusWaitingForApproval, child.Status)

	// The governing plan is resolved through the rejected run.
	packets, err := client.GetArtifacts(ctx, child.ID, ledger.KindPacket)
	require.NoError(t, err)
	require.Len(t, packets, 1)
	assert.Contains(t, packets[0].Content, plan.ID)
	assert.Contains(t, packets[0].Content, "missing the auth flows")
}
