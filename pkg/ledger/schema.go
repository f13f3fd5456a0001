package ledger

import "fmt"

// Redis key pattern helpers
//
// All Redis keys are namespaced by project so multiple projects can safely
// coexist on a single Redis server.
//
// Key pattern: council:{namespace}:{entity}:{uuid}

// RunKey returns the Redis key for a run hash.
// Pattern: council:{namespace}:run:{run_id}
func RunKey(namespace, runID string) string {
	return fmt.Sprintf("council:%s:run:%s", namespace, runID)
}

// RunIndexKey returns the Redis key for the ordered list of run IDs.
// Pattern: council:{namespace}:runs
func RunIndexKey(namespace string) string {
	return fmt.Sprintf("council:%s:runs", namespace)
}

// ArtifactKey returns the Redis key for an artifact hash.
// Pattern: council:{namespace}:artifact:{artifact_id}
func ArtifactKey(namespace, artifactID string) string {
	return fmt.Sprintf("council:%s:artifact:%s", namespace, artifactID)
}

// RunArtifactsKey returns the Redis key for the ordered list of a run's
// artifact IDs. Appends serialize at the Redis server, so concurrent
// sibling writers never contend and readers observe a stable order.
// Pattern: council:{namespace}:run:{run_id}:artifacts
func RunArtifactsKey(namespace, runID string) string {
	return fmt.Sprintf("council:%s:run:%s:artifacts", namespace, runID)
}

// ApprovalKey returns the Redis key for an approval hash.
// Pattern: council:{namespace}:approval:{approval_id}
func ApprovalKey(namespace, approvalID string) string {
	return fmt.Sprintf("council:%s:approval:%s", namespace, approvalID)
}

// RunApprovalsKey returns the Redis key for the ordered list of a run's
// approval IDs.
// Pattern: council:{namespace}:run:{run_id}:approvals
func RunApprovalsKey(namespace, runID string) string {
	return fmt.Sprintf("council:%s:run:%s:approvals", namespace, runID)
}
