package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Client provides namespace-scoped Redis operations for the ledger.
// All keys are automatically namespaced with the project namespace.
// The client is thread-safe and can be used concurrently from multiple
// goroutines; sibling artifact writers never contend.
type Client struct {
	rdb       *redis.Client
	namespace string
}

// NotFoundError indicates the requested entity does not exist in the ledger.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

// IsNotFound reports whether err indicates a missing ledger entity.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// NewClient creates a new ledger client for the specified namespace.
// Returns an error if namespace is empty.
func NewClient(redisOpts *redis.Options, namespace string) (*Client, error) {
	if namespace == "" {
		return nil, fmt.Errorf("namespace cannot be empty")
	}

	return &Client{
		rdb:       redis.NewClient(redisOpts),
		namespace: namespace,
	}, nil
}

// Namespace returns the project namespace this client is scoped to.
func (c *Client) Namespace() string {
	return c.namespace
}

// Close closes the Redis connection. Implements io.Closer.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping verifies Redis connectivity. Useful for health checks.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// CreateRun creates a new run with status "created" and appends it to the
// run index. The parent reference is a weak link; it is not required to
// resolve to an existing run.
func (c *Client) CreateRun(ctx context.Context, taskType TaskType, parentRunID string) (*Run, error) {
	now := time.Now().UnixMilli()
	run := &Run{
		ID:          uuid.New().String(),
		Namespace:   c.namespace,
		TaskType:    taskType,
		Status:      StatusCreated,
		ParentRunID: parentRunID,
		CreatedAtMs: now,
		UpdatedAtMs: now,
	}

	if err := run.Validate(); err != nil {
		return nil, fmt.Errorf("invalid run: %w", err)
	}

	key := RunKey(c.namespace, run.ID)
	if err := c.rdb.HSet(ctx, key, RunToHash(run)).Err(); err != nil {
		return nil, fmt.Errorf("failed to write run to Redis: %w", err)
	}

	if err := c.rdb.RPush(ctx, RunIndexKey(c.namespace), run.ID).Err(); err != nil {
		return nil, fmt.Errorf("failed to index run: %w", err)
	}

	return run, nil
}

// GetRun retrieves a run by ID. Returns a NotFoundError if it does not exist.
func (c *Client) GetRun(ctx context.Context, runID string) (*Run, error) {
	hash, err := c.rdb.HGetAll(ctx, RunKey(c.namespace, runID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read run from Redis: %w", err)
	}

	if len(hash) == 0 {
		return nil, &NotFoundError{Entity: "run", ID: runID}
	}

	return HashToRun(hash)
}

// UpdateRunStatus transitions a run to a new status and bumps updated_at.
// The transition must be legal per the status transition table; run
// lifecycles are monotonic.
func (c *Client) UpdateRunStatus(ctx context.Context, runID string, status Status) error {
	if err := status.Validate(); err != nil {
		return err
	}

	run, err := c.GetRun(ctx, runID)
	if err != nil {
		return err
	}

	if !run.Status.CanTransitionTo(status) {
		return fmt.Errorf("illegal status transition for run %s: %s → %s", runID, run.Status, status)
	}

	key := RunKey(c.namespace, runID)
	err = c.rdb.HSet(ctx, key, map[string]interface{}{
		"status":        string(status),
		"updated_at_ms": time.Now().UnixMilli(),
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to update run status: %w", err)
	}

	return nil
}

// RunFilter narrows ListRuns results. Zero values mean no filter.
type RunFilter struct {
	TaskType TaskType
	Status   Status
	Limit    int
}

// ListRuns returns runs in the namespace, newest first.
// Malformed index entries are skipped.
func (c *Client) ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error) {
	ids, err := c.rdb.LRange(ctx, RunIndexKey(c.namespace), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read run index: %w", err)
	}

	var runs []*Run
	// Index is append-ordered; walk backwards for newest-first output.
	for i := len(ids) - 1; i >= 0; i-- {
		run, err := c.GetRun(ctx, ids[i])
		if err != nil {
			if IsNotFound(err) {
				continue
			}
			return nil, err
		}

		if filter.TaskType != "" && run.TaskType != filter.TaskType {
			continue
		}
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}

		runs = append(runs, run)
		if filter.Limit > 0 && len(runs) >= filter.Limit {
			break
		}
	}

	return runs, nil
}

// WriteArtifact appends an immutable artifact to a run. The owning run must
// exist. Model may be empty for human or system writes; usage may be nil.
func (c *Client) WriteArtifact(ctx context.Context, runID string, kind Kind, content string, model string, usage map[string]any) (*Artifact, error) {
	// Every artifact must reference an existing run.
	if _, err := c.GetRun(ctx, runID); err != nil {
		return nil, err
	}

	artifact := &Artifact{
		ID:          uuid.New().String(),
		RunID:       runID,
		Kind:        kind,
		Model:       model,
		Content:     content,
		Usage:       usage,
		CreatedAtMs: time.Now().UnixMilli(),
	}

	if err := artifact.Validate(); err != nil {
		return nil, fmt.Errorf("invalid artifact: %w", err)
	}

	hash, err := ArtifactToHash(artifact)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize artifact: %w", err)
	}

	key := ArtifactKey(c.namespace, artifact.ID)
	if err := c.rdb.HSet(ctx, key, hash).Err(); err != nil {
		return nil, fmt.Errorf("failed to write artifact to Redis: %w", err)
	}

	if err := c.rdb.RPush(ctx, RunArtifactsKey(c.namespace, runID), artifact.ID).Err(); err != nil {
		return nil, fmt.Errorf("failed to index artifact: %w", err)
	}

	return artifact, nil
}

// GetArtifact retrieves a single artifact by ID.
func (c *Client) GetArtifact(ctx context.Context, artifactID string) (*Artifact, error) {
	hash, err := c.rdb.HGetAll(ctx, ArtifactKey(c.namespace, artifactID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact from Redis: %w", err)
	}

	if len(hash) == 0 {
		return nil, &NotFoundError{Entity: "artifact", ID: artifactID}
	}

	return HashToArtifact(hash)
}

// GetArtifacts returns a run's artifacts in creation order, optionally
// filtered by kind (empty kind returns all). Returns an empty slice when
// the run has no matching artifacts. Repeated calls with no intervening
// writes return identical sequences.
func (c *Client) GetArtifacts(ctx context.Context, runID string, kind Kind) ([]*Artifact, error) {
	ids, err := c.rdb.LRange(ctx, RunArtifactsKey(c.namespace, runID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact index: %w", err)
	}

	artifacts := make([]*Artifact, 0, len(ids))
	for _, id := range ids {
		artifact, err := c.GetArtifact(ctx, id)
		if err != nil {
			return nil, err
		}

		if kind != "" && artifact.Kind != kind {
			continue
		}
		artifacts = append(artifacts, artifact)
	}

	return artifacts, nil
}

// FinalOutput resolves the authoritative commit input for a run using the
// documented fallback chain: output → synthesis_edited → synthesis.
// Returns a NotFoundError when none of the three kinds exist.
func (c *Client) FinalOutput(ctx context.Context, runID string) (*Artifact, error) {
	for _, kind := range []Kind{KindOutput, KindSynthesisEdited, KindSynthesis} {
		artifacts, err := c.GetArtifacts(ctx, runID, kind)
		if err != nil {
			return nil, err
		}
		if len(artifacts) > 0 {
			return artifacts[0], nil
		}
	}

	return nil, &NotFoundError{Entity: "final output for run", ID: runID}
}

// CreateApproval records a human decision against a run.
func (c *Client) CreateApproval(ctx context.Context, runID string, decision Decision, editedContent, feedback string) (*Approval, error) {
	if _, err := c.GetRun(ctx, runID); err != nil {
		return nil, err
	}

	approval := &Approval{
		ID:            uuid.New().String(),
		RunID:         runID,
		Decision:      decision,
		EditedContent: editedContent,
		Feedback:      feedback,
		CreatedAtMs:   time.Now().UnixMilli(),
	}

	if err := approval.Validate(); err != nil {
		return nil, fmt.Errorf("invalid approval: %w", err)
	}

	key := ApprovalKey(c.namespace, approval.ID)
	if err := c.rdb.HSet(ctx, key, ApprovalToHash(approval)).Err(); err != nil {
		return nil, fmt.Errorf("failed to write approval to Redis: %w", err)
	}

	if err := c.rdb.RPush(ctx, RunApprovalsKey(c.namespace, runID), approval.ID).Err(); err != nil {
		return nil, fmt.Errorf("failed to index approval: %w", err)
	}

	return approval, nil
}

// LatestApproval returns the authoritative (most recent) approval for a
// run, or a NotFoundError when none has been recorded.
func (c *Client) LatestApproval(ctx context.Context, runID string) (*Approval, error) {
	ids, err := c.rdb.LRange(ctx, RunApprovalsKey(c.namespace, runID), -1, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read approval index: %w", err)
	}

	if len(ids) == 0 {
		return nil, &NotFoundError{Entity: "approval for run", ID: runID}
	}

	hash, err := c.rdb.HGetAll(ctx, ApprovalKey(c.namespace, ids[0])).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read approval from Redis: %w", err)
	}

	if len(hash) == 0 {
		return nil, &NotFoundError{Entity: "approval", ID: ids[0]}
	}

	return HashToApproval(hash)
}

// LatestApprovedRunByTaskType returns the most recent run of the given task
// type under parentRunID whose status counts as approved (ready_to_commit
// or completed), or a NotFoundError if there is none.
func (c *Client) LatestApprovedRunByTaskType(ctx context.Context, taskType TaskType, parentRunID string) (*Run, error) {
	runs, err := c.ListRuns(ctx, RunFilter{TaskType: taskType})
	if err != nil {
		return nil, err
	}

	for _, run := range runs {
		if run.ParentRunID == parentRunID && run.Status.IsApproved() {
			return run, nil
		}
	}

	return nil, &NotFoundError{Entity: fmt.Sprintf("approved %s run under parent", taskType), ID: parentRunID}
}
