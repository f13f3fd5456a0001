package commit

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"
)

// Manifest records exactly what a commit wrote: the stable paths, the
// snapshot directory mirroring them, and a sha256 per file.
type Manifest struct {
	RunID              string            `json:"run_id"`
	Timestamp          string            `json:"timestamp"`
	StablePathsWritten []string          `json:"stable_paths_written"`
	SnapshotPath       string            `json:"snapshot_path"`
	FileHashes         map[string]string `json:"file_hashes"`
}

func newManifest(runID, timestamp string) *Manifest {
	return &Manifest{
		RunID:      runID,
		Timestamp:  timestamp,
		FileHashes: make(map[string]string),
	}
}

func (m *Manifest) record(path, content string) {
	m.StablePathsWritten = append(m.StablePathsWritten, path)
	m.FileHashes[path] = contentSHA256(content)
}

// JSON renders the manifest for manifest.json and the commit_log artifact.
func (m *Manifest) JSON() (string, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode manifest: %w", err)
	}
	return string(data), nil
}

// Markdown renders the human-readable COMMIT_MANIFEST.md.
func (m *Manifest) Markdown() string {
	var b strings.Builder
	b.WriteString("# Commit Manifest\n\n")
	fmt.Fprintf(&b, "**Run ID:** %s\n", m.RunID)
	fmt.Fprintf(&b, "**Timestamp:** %s\n", m.Timestamp)
	fmt.Fprintf(&b, "**Snapshot Path:** %s\n", m.SnapshotPath)
	b.WriteString("\n## Files Written\n\n")
	for _, path := range m.StablePathsWritten {
		hash := m.FileHashes[path]
		if len(hash) > 16 {
			hash = hash[:16] + "..."
		}
		fmt.Fprintf(&b, "- `%s` (sha256: %s)\n", path, hash)
	}
	return b.String()
}

func contentSHA256(content string) string {
	sum := sha256.Sum256([]byte(content))
	return fmt.Sprintf("%x", sum)
}
