// Package deps enforces the artifact dependency law: the fixed rule set
// constraining which upstream artifacts each council task type may consume.
//
// Dependency chain:
//
//	Plan → Spec → Invariants → Tracker → Prompts
//	                    ↘ Cursor-Rules
//
// Validation is a pure function with no side effects so the law can be
// tested standalone and applied by the coordinator before any participant
// call is issued.
package deps

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kylenewm/mvp-buildkit/pkg/ledger"
)

// Canonical input names.
const (
	InputPlan       = "plan"
	InputSpec       = "spec"
	InputInvariants = "invariants"
	InputTracker    = "tracker"
)

// allowedInputs maps each council task type to its fixed allow-set.
// The chain is deliberate: every type consumes only its immediate
// upstream artifacts, never the raw plan once spec exists.
var allowedInputs = map[ledger.TaskType]map[string]bool{
	ledger.TaskTypeSpec:        {InputPlan: true},
	ledger.TaskTypeInvariants:  {InputSpec: true},
	ledger.TaskTypeTracker:     {InputSpec: true, InputInvariants: true},
	ledger.TaskTypePrompts:     {InputSpec: true, InputInvariants: true, InputTracker: true},
	ledger.TaskTypeCursorRules: {InputSpec: true, InputInvariants: true},
}

// globalForbidden patterns are rejected for every task type: phase-0
// context packs are never council inputs, and generated outputs can never
// feed back in as inputs.
var globalForbidden = []string{
	"phase_0/",
	"context_pack",
	".cursor/rules/",
	"prompts/step_template",
	"prompts/review_template",
	"prompts/patch_template",
	"prompts/chair_synthesis",
}

// taskForbidden patterns block chain-skipping per task type, on top of the
// global patterns.
var taskForbidden = map[ledger.TaskType][]string{
	ledger.TaskTypeInvariants:  {"plan"},
	ledger.TaskTypeTracker:     {"plan", "phase_minus_1/"},
	ledger.TaskTypePrompts:     {"plan", "phase_minus_1/"},
	ledger.TaskTypeCursorRules: {"plan", "tracker", "phase_minus_1/"},
}

// ViolationError reports every disallowed input in a single error so the
// caller sees the full set of problems at once.
type ViolationError struct {
	TaskType   ledger.TaskType
	Violations []string
}

func (e *ViolationError) Error() string {
	lines := []string{
		fmt.Sprintf("artifact dependency violation in %s council:", e.TaskType),
		fmt.Sprintf("  found %d illegal input(s):", len(e.Violations)),
	}
	for _, v := range e.Violations {
		lines = append(lines, "    - "+v)
	}
	return strings.Join(lines, "\n")
}

// isForbidden reports whether a logical input name matches any global or
// task-specific forbidden pattern. Patterns match by substring, or exactly
// for task-specific names like "plan".
func isForbidden(name string, taskType ledger.TaskType) bool {
	for _, pattern := range globalForbidden {
		if strings.Contains(name, pattern) {
			return true
		}
	}
	for _, pattern := range taskForbidden[taskType] {
		if strings.Contains(name, pattern) || name == pattern {
			return true
		}
	}
	return false
}

// Validate checks every proposed input against the task type's allow-set
// and the forbidden patterns. inputs maps logical input name to a
// provenance description (e.g. "kind=output from run <id>") used in error
// messages. Returns a *ViolationError enumerating every offending input,
// or an error for unknown task types. Nil means all inputs are legal.
func Validate(taskType ledger.TaskType, inputs map[string]string) error {
	allowed, ok := allowedInputs[taskType]
	if !ok {
		return fmt.Errorf("unknown task type for dependency validation: %s", taskType)
	}

	// Stable iteration so repeated failures produce identical messages.
	names := make([]string, 0, len(inputs))
	for name := range inputs {
		names = append(names, name)
	}
	sort.Strings(names)

	var violations []string
	for _, name := range names {
		source := inputs[name]

		if isForbidden(name, taskType) {
			violations = append(violations,
				fmt.Sprintf("FORBIDDEN: %q violates dependency chain for %s (source: %s)", name, taskType, source))
			continue
		}

		if !allowed[name] {
			violations = append(violations,
				fmt.Sprintf("NOT ALLOWED for %s: %q (source: %s); allowed inputs: %s",
					taskType, name, source, strings.Join(AllowedInputs(taskType), ", ")))
		}
	}

	if len(violations) > 0 {
		return &ViolationError{TaskType: taskType, Violations: violations}
	}
	return nil
}

// AllowedInputs returns the sorted allow-set for a task type, or nil for
// task types outside the dependency law (plan, commit_pack).
func AllowedInputs(taskType ledger.TaskType) []string {
	allowed, ok := allowedInputs[taskType]
	if !ok {
		return nil
	}

	names := make([]string, 0, len(allowed))
	for name := range allowed {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
