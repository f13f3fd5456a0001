// Package ledger provides type-safe Go definitions and Redis schema patterns
// for council runs, artifacts, and approvals.
//
// # Overview
//
// The ledger is the durable record of every deliberation run: its identity,
// task type, lineage, and lifecycle status, plus the append-only log of
// immutable artifacts each run produced and the human approval decisions
// recorded against it. All components (coordinator, commit engine, CLI)
// interact with state only through this package.
//
// # Core Concepts
//
// Runs are one instance of a deliberation workflow for a given task type.
// A run is never deleted; rejection spawns a child run referencing the
// rejected run as its parent.
//
// Artifacts are immutable pieces of content produced during a run (packet,
// draft, critique, synthesis, output, error, ...). Artifacts are write-once
// and ordered by creation: sibling writers may append concurrently without
// contention, and reads always observe a stable sequence.
//
// Approvals record human decisions (approve, edit_approve, reject). The
// schema permits multiple approvals per run; the latest by creation time is
// authoritative.
//
// # Multi-Namespace Support
//
// All Redis keys are namespaced by project so multiple projects can safely
// coexist on a single Redis server. Each namespace has complete isolation.
//
// # Redis Schema
//
// All Redis keys follow the pattern: council:{namespace}:{entity}:{uuid}
//
// Runs: council:{namespace}:run:{run_id}
// Run index: council:{namespace}:runs (list, append order)
// Artifacts: council:{namespace}:artifact:{artifact_id}
// Artifact index: council:{namespace}:run:{run_id}:artifacts (list, append order)
// Approvals: council:{namespace}:approval:{approval_id}
// Approval index: council:{namespace}:run:{run_id}:approvals (list, append order)
//
// # Design Principles
//
//   - Type Safety: closed enums for task type, status, kind, and decision
//   - Immutability: artifact content never mutates after the initial write
//   - Monotonic lifecycle: run status only moves forward through the
//     transition table; "failed" is terminal but may spawn a child run
//   - Isolation: namespace scoping prevents cross-project interference
package ledger
