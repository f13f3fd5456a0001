// Package ledger defines the run, artifact, and approval model for council
// deliberations. See doc.go for the package overview.
package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// Run represents one instance of a deliberation workflow for a task type.
// Runs are created by a caller, mutated only via status transitions, and
// never deleted - rejection spawns a new child run instead of resurrecting
// the old one.
type Run struct {
	ID          string   `json:"id"`                      // UUID
	Namespace   string   `json:"namespace"`               // Project namespace
	TaskType    TaskType `json:"task_type"`               // What this council produces
	Status      Status   `json:"status"`                  // Current lifecycle state
	ParentRunID string   `json:"parent_run_id,omitempty"` // Weak reference to parent run, empty if none
	CreatedAtMs int64    `json:"created_at_ms"`           // Unix timestamp in milliseconds
	UpdatedAtMs int64    `json:"updated_at_ms"`           // Updated on every status transition
}

// TaskType identifies what a council run produces. Each task type has a
// fixed set of allowed upstream inputs (see internal/deps) and a fixed set
// of canonical destination paths (see internal/commit).
type TaskType string

const (
	// TaskTypePlan is the phase-1 planning council seeded from a packet file
	TaskTypePlan TaskType = "plan"

	// TaskTypeSpec generates the project specification from an approved plan
	TaskTypeSpec TaskType = "spec"

	// TaskTypeInvariants generates the invariants document from an approved spec
	TaskTypeInvariants TaskType = "invariants"

	// TaskTypeTracker generates the step tracker from spec + invariants
	TaskTypeTracker TaskType = "tracker"

	// TaskTypePrompts generates the prompt-template envelope from spec + invariants + tracker
	TaskTypePrompts TaskType = "prompts"

	// TaskTypeCursorRules generates the IDE rule envelope from spec + invariants
	TaskTypeCursorRules TaskType = "cursor_rules"

	// TaskTypeCommitPack records a whole-pack commit operation
	TaskTypeCommitPack TaskType = "commit_pack"
)

// Status defines the lifecycle state of a run.
// Runs progress: created → drafting → critiquing → synthesizing →
// waiting_for_approval → ready_to_commit → committing → completed,
// with failure exits to "failed" and an approval-time exit to
// "validation_failed".
type Status string

const (
	// StatusCreated indicates the run exists but deliberation has not started
	StatusCreated Status = "created"

	// StatusDrafting indicates the draft fan-out is in flight
	StatusDrafting Status = "drafting"

	// StatusCritiquing indicates the critique fan-out is in flight
	StatusCritiquing Status = "critiquing"

	// StatusSynthesizing indicates the chair synthesis call is in flight
	StatusSynthesizing Status = "synthesizing"

	// StatusWaitingForApproval indicates the run is paused at the human checkpoint
	StatusWaitingForApproval Status = "waiting_for_approval"

	// StatusValidationFailed indicates approval-time validation rejected the outputs
	StatusValidationFailed Status = "validation_failed"

	// StatusReadyToCommit indicates the run is approved and validated
	StatusReadyToCommit Status = "ready_to_commit"

	// StatusCommitting indicates a commit is writing files for this run
	StatusCommitting Status = "committing"

	// StatusCompleted indicates the run's outputs landed in the target repository
	StatusCompleted Status = "completed"

	// StatusFailed is the terminal failure state; a child run may be spawned from it
	StatusFailed Status = "failed"
)

// statusTransitions is the closed transition table enforcing monotonic
// run lifecycles. A status not present here is terminal.
var statusTransitions = map[Status][]Status{
	// Created moves to drafting for deliberated runs, or straight to
	// committing for commit_pack runs, which are never deliberated.
	StatusCreated:            {StatusDrafting, StatusCommitting, StatusFailed},
	StatusDrafting:           {StatusCritiquing, StatusFailed},
	StatusCritiquing:         {StatusSynthesizing, StatusFailed},
	StatusSynthesizing:       {StatusWaitingForApproval, StatusFailed},
	StatusWaitingForApproval: {StatusReadyToCommit, StatusValidationFailed, StatusFailed},
	StatusReadyToCommit:      {StatusCommitting, StatusFailed},
	StatusCommitting:         {StatusCompleted, StatusFailed},
}

// CanTransitionTo reports whether a run in the receiver status may move to next.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range statusTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsApproved reports whether a run in this status counts as approved input
// for downstream councils and for pack commits.
func (s Status) IsApproved() bool {
	return s == StatusReadyToCommit || s == StatusCompleted
}

// Artifact represents an immutable piece of content produced during a run.
// Artifacts are write-once; many artifacts of the same kind may exist per
// run, ordered by creation.
type Artifact struct {
	ID          string         `json:"id"`              // UUID
	RunID       string         `json:"run_id"`          // Owning run (always an existing run)
	Kind        Kind           `json:"kind"`            // Role of this artifact in the protocol
	Model       string         `json:"model,omitempty"` // Participant/model identifier, empty for human or system writes
	Content     string         `json:"content"`         // Artifact body, immutable
	Usage       map[string]any `json:"usage,omitempty"` // Token/cost metadata from the participant call
	CreatedAtMs int64          `json:"created_at_ms"`   // Unix timestamp in milliseconds
}

// Kind defines the role an artifact plays in the deliberation protocol.
// Dispatch on kind is exhaustive: new kinds must be added to the enum and
// to Validate.
type Kind string

const (
	// KindPacket is the input planning packet a run deliberates over
	KindPacket Kind = "packet"

	// KindDraft is one participant's draft
	KindDraft Kind = "draft"

	// KindCritique is one participant's critique of all drafts
	KindCritique Kind = "critique"

	// KindSynthesis is the chair's raw synthesis text
	KindSynthesis Kind = "synthesis"

	// KindSynthesisEdited is a human-edited synthesis recorded at approval time
	KindSynthesisEdited Kind = "synthesis_edited"

	// KindDecisionPacket is the compact decision summary split from a plan synthesis
	KindDecisionPacket Kind = "decision_packet"

	// KindOutput is the validated, cleaned final output of a run
	KindOutput Kind = "output"

	// KindError records a participant or validation failure
	KindError Kind = "error"

	// KindCommitLog is the commit manifest recorded after a successful commit
	KindCommitLog Kind = "commit_log"

	// KindPlan is the synthesis stored verbatim as the plan for downstream councils
	KindPlan Kind = "plan"
)

// Approval represents a human decision recorded against a run.
// Multiple approvals per run are permitted; the latest by creation time
// is authoritative.
type Approval struct {
	ID            string   `json:"id"`                       // UUID
	RunID         string   `json:"run_id"`                   // Run the decision applies to
	Decision      Decision `json:"decision"`                 // approve, edit_approve, or reject
	EditedContent string   `json:"edited_content,omitempty"` // Replacement synthesis for edit_approve
	Feedback      string   `json:"feedback,omitempty"`       // Required for reject
	CreatedAtMs   int64    `json:"created_at_ms"`            // Unix timestamp in milliseconds
}

// Decision defines the human approval verdict.
type Decision string

const (
	// DecisionApprove accepts the synthesis as-is
	DecisionApprove Decision = "approve"

	// DecisionEditApprove accepts a human-edited synthesis
	DecisionEditApprove Decision = "edit_approve"

	// DecisionReject refuses the synthesis; feedback is required and a child run is spawned
	DecisionReject Decision = "reject"
)

// Validate checks if the Run has valid field values.
// Returns an error if any validation fails.
func (r *Run) Validate() error {
	if !isValidUUID(r.ID) {
		return fmt.Errorf("invalid run ID: not a valid UUID")
	}

	if r.Namespace == "" {
		return fmt.Errorf("run namespace cannot be empty")
	}

	if err := r.TaskType.Validate(); err != nil {
		return fmt.Errorf("invalid task type: %w", err)
	}

	if err := r.Status.Validate(); err != nil {
		return fmt.Errorf("invalid status: %w", err)
	}

	if r.ParentRunID != "" && !isValidUUID(r.ParentRunID) {
		return fmt.Errorf("invalid parent run ID: not a valid UUID")
	}

	return nil
}

// Validate checks if the TaskType is a valid enum value.
func (t TaskType) Validate() error {
	switch t {
	case TaskTypePlan, TaskTypeSpec, TaskTypeInvariants, TaskTypeTracker,
		TaskTypePrompts, TaskTypeCursorRules, TaskTypeCommitPack:
		return nil
	default:
		return fmt.Errorf("unknown task type: %q", t)
	}
}

// Validate checks if the Status is a valid enum value.
func (s Status) Validate() error {
	switch s {
	case StatusCreated, StatusDrafting, StatusCritiquing, StatusSynthesizing,
		StatusWaitingForApproval, StatusValidationFailed, StatusReadyToCommit,
		StatusCommitting, StatusCompleted, StatusFailed:
		return nil
	default:
		return fmt.Errorf("unknown status: %q", s)
	}
}

// Validate checks if the Artifact has valid field values.
func (a *Artifact) Validate() error {
	if !isValidUUID(a.ID) {
		return fmt.Errorf("invalid artifact ID: not a valid UUID")
	}

	if !isValidUUID(a.RunID) {
		return fmt.Errorf("invalid run ID: not a valid UUID")
	}

	if err := a.Kind.Validate(); err != nil {
		return fmt.Errorf("invalid kind: %w", err)
	}

	return nil
}

// Validate checks if the Kind is a valid enum value.
func (k Kind) Validate() error {
	switch k {
	case KindPacket, KindDraft, KindCritique, KindSynthesis, KindSynthesisEdited,
		KindDecisionPacket, KindOutput, KindError, KindCommitLog, KindPlan:
		return nil
	default:
		return fmt.Errorf("unknown artifact kind: %q", k)
	}
}

// Validate checks if the Approval has valid field values.
// Rejections must carry feedback.
func (ap *Approval) Validate() error {
	if !isValidUUID(ap.ID) {
		return fmt.Errorf("invalid approval ID: not a valid UUID")
	}

	if !isValidUUID(ap.RunID) {
		return fmt.Errorf("invalid run ID: not a valid UUID")
	}

	if err := ap.Decision.Validate(); err != nil {
		return fmt.Errorf("invalid decision: %w", err)
	}

	if ap.Decision == DecisionReject && ap.Feedback == "" {
		return fmt.Errorf("feedback is required for reject decisions")
	}

	return nil
}

// Validate checks if the Decision is a valid enum value.
func (d Decision) Validate() error {
	switch d {
	case DecisionApprove, DecisionEditApprove, DecisionReject:
		return nil
	default:
		return fmt.Errorf("unknown decision: %q", d)
	}
}

// isValidUUID checks if a string is a valid UUID format.
func isValidUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
