package council

import (
	"context"
	"fmt"
	"log"

	"github.com/kylenewm/mvp-buildkit/internal/validator"
	"github.com/kylenewm/mvp-buildkit/pkg/ledger"
)

// Review records a human decision on a run that is waiting for approval.
// Approvals trigger output validation: a passing run moves to
// ready_to_commit, a failing one to validation_failed. Rejections require
// feedback and move the run to failed; RespawnFromRejection can then
// start a successor.
func Review(ctx context.Context, client *ledger.Client, runID string, decision ledger.Decision, editedContent, feedback string) (*ledger.Approval, *validator.RunResult, error) {
	run, err := client.GetRun(ctx, runID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load run: %w", err)
	}
	if run.Status != ledger.StatusWaitingForApproval {
		return nil, nil, fmt.Errorf("run %s is not awaiting approval (status: %s)", runID, run.Status)
	}

	approval, err := client.CreateApproval(ctx, runID, decision, editedContent, feedback)
	if err != nil {
		return nil, nil, err
	}

	if decision == ledger.DecisionReject {
		if err := client.UpdateRunStatus(ctx, runID, ledger.StatusFailed); err != nil {
			return approval, nil, err
		}
		log.Printf("[Review] Run %s rejected", runID)
		return approval, nil, nil
	}

	if decision == ledger.DecisionEditApprove {
		if _, err := client.WriteArtifact(ctx, runID, ledger.KindSynthesisEdited, editedContent, "", nil); err != nil {
			return approval, nil, fmt.Errorf("failed to persist edited synthesis: %w", err)
		}
	}

	result, err := validator.ValidateRun(ctx, client, runID)
	if err != nil {
		return approval, nil, err
	}

	next := ledger.StatusReadyToCommit
	if !result.Valid {
		next = ledger.StatusValidationFailed
		log.Printf("[Review] Run %s failed validation: %s", runID, result.Details())
	}
	if err := client.UpdateRunStatus(ctx, runID, next); err != nil {
		return approval, &result, err
	}
	log.Printf("[Review] Run %s: %s → %s", runID, decision, next)
	return approval, &result, nil
}
