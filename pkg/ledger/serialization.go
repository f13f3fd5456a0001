package ledger

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Serialization helpers for converting between Go structs and Redis hashes
//
// Redis stores data as string-to-string maps (hashes). Structured fields
// like usage metadata are JSON-encoded into single hash fields. This keeps
// individual fields queryable while allowing nested metadata.

// RunToHash converts a Run struct to a Redis hash format.
func RunToHash(r *Run) map[string]interface{} {
	return map[string]interface{}{
		"id":            r.ID,
		"namespace":     r.Namespace,
		"task_type":     string(r.TaskType),
		"status":        string(r.Status),
		"parent_run_id": r.ParentRunID,
		"created_at_ms": r.CreatedAtMs,
		"updated_at_ms": r.UpdatedAtMs,
	}
}

// HashToRun converts a Redis hash to a Run struct.
func HashToRun(hash map[string]string) (*Run, error) {
	createdAtMs, err := strconv.ParseInt(hash["created_at_ms"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid created_at_ms field: %w", err)
	}

	updatedAtMs, err := strconv.ParseInt(hash["updated_at_ms"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid updated_at_ms field: %w", err)
	}

	return &Run{
		ID:          hash["id"],
		Namespace:   hash["namespace"],
		TaskType:    TaskType(hash["task_type"]),
		Status:      Status(hash["status"]),
		ParentRunID: hash["parent_run_id"],
		CreatedAtMs: createdAtMs,
		UpdatedAtMs: updatedAtMs,
	}, nil
}

// ArtifactToHash converts an Artifact struct to a Redis hash format.
// Usage metadata is JSON-encoded into a single field.
func ArtifactToHash(a *Artifact) (map[string]interface{}, error) {
	usageJSON := ""
	if a.Usage != nil {
		data, err := json.Marshal(a.Usage)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal usage metadata: %w", err)
		}
		usageJSON = string(data)
	}

	return map[string]interface{}{
		"id":            a.ID,
		"run_id":        a.RunID,
		"kind":          string(a.Kind),
		"model":         a.Model,
		"content":       a.Content,
		"usage":         usageJSON,
		"created_at_ms": a.CreatedAtMs,
	}, nil
}

// HashToArtifact converts a Redis hash to an Artifact struct.
func HashToArtifact(hash map[string]string) (*Artifact, error) {
	var usage map[string]any
	if usageJSON := hash["usage"]; usageJSON != "" {
		if err := json.Unmarshal([]byte(usageJSON), &usage); err != nil {
			return nil, fmt.Errorf("failed to unmarshal usage metadata: %w", err)
		}
	}

	createdAtMs, err := strconv.ParseInt(hash["created_at_ms"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid created_at_ms field: %w", err)
	}

	return &Artifact{
		ID:          hash["id"],
		RunID:       hash["run_id"],
		Kind:        Kind(hash["kind"]),
		Model:       hash["model"],
		Content:     hash["content"],
		Usage:       usage,
		CreatedAtMs: createdAtMs,
	}, nil
}

// ApprovalToHash converts an Approval struct to a Redis hash format.
func ApprovalToHash(ap *Approval) map[string]interface{} {
	return map[string]interface{}{
		"id":             ap.ID,
		"run_id":         ap.RunID,
		"decision":       string(ap.Decision),
		"edited_content": ap.EditedContent,
		"feedback":       ap.Feedback,
		"created_at_ms":  ap.CreatedAtMs,
	}
}

// HashToApproval converts a Redis hash to an Approval struct.
func HashToApproval(hash map[string]string) (*Approval, error) {
	createdAtMs, err := strconv.ParseInt(hash["created_at_ms"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid created_at_ms field: %w", err)
	}

	return &Approval{
		ID:            hash["id"],
		RunID:         hash["run_id"],
		Decision:      Decision(hash["decision"]),
		EditedContent: hash["edited_content"],
		Feedback:      hash["feedback"],
		CreatedAtMs:   createdAtMs,
	}, nil
}
