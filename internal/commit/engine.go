// Package commit writes approved run outputs into a target repository
// under the commit safety rails: registry allowlisting, additive-only
// writes, a clean git tree, and a lock file serializing commits.
package commit

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/kylenewm/mvp-buildkit/internal/gitcheck"
	"github.com/kylenewm/mvp-buildkit/internal/registry"
	"github.com/kylenewm/mvp-buildkit/internal/validator"
	"github.com/kylenewm/mvp-buildkit/pkg/ledger"
)

// LockFile is created in the target repository for the duration of a
// commit. Acquisition is non-blocking: a held lock fails the commit.
const LockFile = ".council-lock"

// Stable destinations for single-file task types.
var stablePaths = map[ledger.TaskType]string{
	ledger.TaskTypePlan:       "docs/build_plan.md",
	ledger.TaskTypeSpec:       "spec/spec.yaml",
	ledger.TaskTypeTracker:    "tracker/tracker.yaml",
	ledger.TaskTypeInvariants: "invariants/invariants.md",
}

// packTaskTypes are the artifact types a pack commit assembles.
var packTaskTypes = []ledger.TaskType{
	ledger.TaskTypeSpec,
	ledger.TaskTypeInvariants,
	ledger.TaskTypeTracker,
	ledger.TaskTypePrompts,
	ledger.TaskTypeCursorRules,
}

// Reason classifies why a commit was refused.
type Reason string

const (
	ReasonMissingRun    Reason = "missing_run"
	ReasonWrongStatus   Reason = "wrong_status"
	ReasonNonGit        Reason = "non_git"
	ReasonDirtyTree     Reason = "dirty_tree"
	ReasonForbiddenPath Reason = "forbidden_path"
	ReasonNonCanonical  Reason = "non_canonical"
	ReasonOverwrite     Reason = "overwrite"
	ReasonLocked        Reason = "locked"
)

// BlockedError is returned for every refused commit. Nothing has been
// written to the target when one is returned.
type BlockedError struct {
	Reason Reason
	Detail string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("commit blocked (%s): %s", e.Reason, e.Detail)
}

func blocked(reason Reason, format string, args ...any) error {
	return &BlockedError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// Engine performs commits against target repositories.
type Engine struct {
	ledger  *ledger.Client
	checker *gitcheck.Checker
}

func NewEngine(client *ledger.Client, checker *gitcheck.Checker) *Engine {
	return &Engine{ledger: client, checker: checker}
}

// CommitRun writes one approved run's output to the target repository,
// moving the run from ready_to_commit through committing to completed.
func (e *Engine) CommitRun(ctx context.Context, runID, repoDir string) (*Manifest, error) {
	run, err := e.ledger.GetRun(ctx, runID)
	if err != nil {
		if ledger.IsNotFound(err) {
			return nil, blocked(ReasonMissingRun, "run not found: %s", runID)
		}
		return nil, err
	}
	if run.Status != ledger.StatusReadyToCommit {
		return nil, blocked(ReasonWrongStatus, "run %s is not ready to commit (status: %s)", runID, run.Status)
	}

	files, err := e.writeSet(ctx, run)
	if err != nil {
		return nil, err
	}

	return e.execute(ctx, run, repoDir, files)
}

// CommitPack assembles the newest approved run of every pack task type
// under a plan and writes them in a single locked commit, recorded
// against a fresh commit_pack run.
func (e *Engine) CommitPack(ctx context.Context, planRunID, repoDir string) (*Manifest, error) {
	plan, err := e.ledger.GetRun(ctx, planRunID)
	if err != nil {
		if ledger.IsNotFound(err) {
			return nil, blocked(ReasonMissingRun, "plan run not found: %s", planRunID)
		}
		return nil, err
	}
	if plan.TaskType != ledger.TaskTypePlan {
		return nil, blocked(ReasonWrongStatus, "run %s is a %s run, not a plan run", planRunID, plan.TaskType)
	}

	files := make(map[string]string)
	var missing []string
	for _, taskType := range packTaskTypes {
		run, err := e.ledger.LatestApprovedRunByTaskType(ctx, taskType, planRunID)
		if err != nil {
			if ledger.IsNotFound(err) {
				missing = append(missing, string(taskType))
				continue
			}
			return nil, err
		}
		set, err := e.writeSetFor(ctx, run)
		if err != nil {
			return nil, fmt.Errorf("%s run %s: %w", taskType, run.ID, err)
		}
		for path, content := range set {
			files[path] = content
		}
	}
	if len(missing) > 0 {
		return nil, blocked(ReasonMissingRun,
			"no approved runs for: %v; run those councils under plan %s and approve them", missing, planRunID)
	}

	packRun, err := e.ledger.CreateRun(ctx, ledger.TaskTypeCommitPack, planRunID)
	if err != nil {
		return nil, fmt.Errorf("failed to create pack run: %w", err)
	}
	return e.execute(ctx, packRun, repoDir, files)
}

// writeSet builds the stable-path content map for one run.
func (e *Engine) writeSet(ctx context.Context, run *ledger.Run) (map[string]string, error) {
	if run.TaskType == ledger.TaskTypeCommitPack {
		return nil, fmt.Errorf("commit_pack runs are committed via CommitPack")
	}
	return e.writeSetFor(ctx, run)
}

func (e *Engine) writeSetFor(ctx context.Context, run *ledger.Run) (map[string]string, error) {
	output, err := e.ledger.FinalOutput(ctx, run.ID)
	if err != nil {
		return nil, fmt.Errorf("run %s has no committable output: %w", run.ID, err)
	}

	switch run.TaskType {
	case ledger.TaskTypePrompts, ledger.TaskTypeCursorRules:
		return validator.EnvelopeOutputs(run.TaskType, output.Content)
	default:
		path, ok := stablePaths[run.TaskType]
		if !ok {
			return nil, fmt.Errorf("task type %s has no stable path", run.TaskType)
		}
		return map[string]string{path: output.Content}, nil
	}
}

// execute runs the safety rails and then performs the locked write.
func (e *Engine) execute(ctx context.Context, run *ledger.Run, repoDir string, files map[string]string) (*Manifest, error) {
	if err := os.MkdirAll(repoDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create target directory: %w", err)
	}

	reg := registry.Load(repoDir)
	if reg.Source == registry.SourceFallback {
		log.Printf("[Commit] No registry in %s, using built-in fallback table", repoDir)
	}

	isRepo, err := e.checker.IsRepository(repoDir)
	if err != nil {
		return nil, err
	}
	if !isRepo {
		return nil, blocked(ReasonNonGit, "target %s is not a git repository; initialize with 'git init'", repoDir)
	}

	clean, err := e.checker.IsClean(repoDir)
	if err != nil {
		return nil, err
	}
	if !clean {
		summary, _ := e.checker.DirtySummary(repoDir)
		return nil, blocked(ReasonDirtyTree, "target %s has uncommitted changes:\n%s", repoDir, summary)
	}

	// Seed the registry into the target when absent.
	paths := make([]string, 0, len(files)+1)
	for path := range files {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	registryDest := filepath.Join(repoDir, filepath.FromSlash(registry.RegistryFile))
	seedRegistry := false
	if _, err := os.Stat(registryDest); os.IsNotExist(err) {
		seedRegistry = true
		paths = append(paths, registry.RegistryFile)
	}

	// Forbidden wins over the allowlist, checked path by path.
	for _, path := range paths {
		if reg.IsForbidden(path) {
			return nil, blocked(ReasonForbiddenPath, "refusing to write %s: %v", path, reg.Check(path))
		}
	}
	for _, path := range paths {
		if err := reg.Check(path); err != nil {
			return nil, blocked(ReasonNonCanonical, "%v", err)
		}
	}

	// Additive-only: destinations must not exist.
	var existing []string
	for path := range files {
		if _, err := os.Stat(filepath.Join(repoDir, filepath.FromSlash(path))); err == nil {
			existing = append(existing, path)
		}
	}
	if len(existing) > 0 {
		sort.Strings(existing)
		return nil, blocked(ReasonOverwrite, "destination files already exist (additive-only): %v", existing)
	}

	release, err := e.acquireLock(repoDir)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := e.ledger.UpdateRunStatus(ctx, run.ID, ledger.StatusCommitting); err != nil {
		return nil, err
	}

	manifest, err := e.write(repoDir, run.ID, files, seedRegistry, reg)
	if err != nil {
		if serr := e.ledger.UpdateRunStatus(ctx, run.ID, ledger.StatusFailed); serr != nil {
			log.Printf("[Commit] Run %s: could not mark failed: %v", run.ID, serr)
		}
		return nil, err
	}

	manifestJSON, err := manifest.JSON()
	if err != nil {
		return nil, err
	}
	if _, err := e.ledger.WriteArtifact(ctx, run.ID, ledger.KindCommitLog, manifestJSON, "", nil); err != nil {
		return nil, fmt.Errorf("failed to record commit log: %w", err)
	}
	if err := e.ledger.UpdateRunStatus(ctx, run.ID, ledger.StatusCompleted); err != nil {
		return nil, err
	}

	log.Printf("[Commit] Run %s committed %d files to %s (snapshot %s)",
		run.ID, len(manifest.StablePathsWritten), repoDir, manifest.SnapshotPath)
	return manifest, nil
}

// acquireLock creates the lock file exclusively; failure means another
// commit holds it.
func (e *Engine) acquireLock(repoDir string) (func(), error) {
	lockPath := filepath.Join(repoDir, LockFile)
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, blocked(ReasonLocked, "another commit holds %s", lockPath)
		}
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	fmt.Fprintf(f, "locked at %s\n", time.Now().Format(time.RFC3339))
	f.Close()

	return func() {
		if err := os.Remove(lockPath); err != nil {
			log.Printf("[Commit] Failed to release lock %s: %v", lockPath, err)
		}
	}, nil
}

// write performs the actual filesystem writes: stable paths plus a full
// mirror under versions/<timestamp>_<runid>/ with both manifest forms.
func (e *Engine) write(repoDir, runID string, files map[string]string, seedRegistry bool, reg *registry.Registry) (*Manifest, error) {
	timestamp := time.Now().Format("20060102_150405")
	manifest := newManifest(runID, timestamp)

	snapshotRel := filepath.ToSlash(filepath.Join("versions", timestamp+"_"+runID))
	snapshotDir := filepath.Join(repoDir, filepath.FromSlash(snapshotRel))
	if err := os.MkdirAll(snapshotDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	manifest.SnapshotPath = snapshotRel

	if seedRegistry {
		files[registry.RegistryFile] = reg.RenderMarkdown()
	}

	paths := make([]string, 0, len(files))
	for path := range files {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		content := files[path]
		for _, dest := range []string{
			filepath.Join(repoDir, filepath.FromSlash(path)),
			filepath.Join(snapshotDir, filepath.FromSlash(path)),
		} {
			if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				return nil, fmt.Errorf("failed to create %s: %w", filepath.Dir(dest), err)
			}
			if err := os.WriteFile(dest, []byte(content), 0o644); err != nil {
				return nil, fmt.Errorf("failed to write %s: %w", dest, err)
			}
		}
		manifest.record(path, content)
	}

	manifestJSON, err := manifest.JSON()
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(snapshotDir, "COMMIT_MANIFEST.md"), []byte(manifest.Markdown()), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write commit manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(snapshotDir, "manifest.json"), []byte(manifestJSON), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write manifest.json: %w", err)
	}
	return manifest, nil
}
