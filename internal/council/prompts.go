package council

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kylenewm/mvp-buildkit/pkg/ledger"
)

// Per-task drafting instructions. Each council produces one artifact and
// the instructions pin its required shape so the chair has convergent
// drafts to merge.
var draftInstructions = map[ledger.TaskType]string{
	ledger.TaskTypePlan: `Produce a build plan for the described MVP. Structure it as markdown with
sections for scope, architecture, risks, and a step-by-step build sequence.`,
	ledger.TaskTypeSpec: `Produce the project specification as a YAML envelope with schema_version "0.1".
It must include project and updated_at keys, plus goals, non_goals, and interfaces.`,
	ledger.TaskTypeInvariants: `Produce the project invariants document. It must start with the header
"# Invariants (V0)", state that the canonical copy lives at invariants/invariants.md,
and list each invariant as a numbered bullet.`,
	ledger.TaskTypeTracker: `Produce the build tracker as a YAML envelope with schema_version "0.1" and a
non-empty steps list. Each step needs id, name, and status fields.`,
	ledger.TaskTypePrompts: `Produce the prompt templates as a YAML envelope with schema_version "0.1".
The outputs mapping must contain exactly these keys:
prompts/step_template.md, prompts/review_template.md,
prompts/patch_template.md, prompts/chair_synthesis.md.`,
	ledger.TaskTypeCursorRules: `Produce the editor rule files as a YAML envelope with schema_version "0.1".
The outputs mapping must contain exactly these keys:
.cursor/rules/00-invariants.mdc, .cursor/rules/10-process.mdc.`,
}

const draftDelimiter = "=== DRAFT %d (%s) ==="

func draftSystem(taskType ledger.TaskType) string {
	return fmt.Sprintf(`You are one drafter in a multi-model deliberation producing the %s artifact
for a software project. Write a complete, self-contained draft. Do not
address the other participants.

%s`, taskType, draftInstructions[taskType])
}

func draftUser(packet string, inputs map[string]string) string {
	var b strings.Builder
	b.WriteString("## Briefing\n\n")
	b.WriteString(packet)

	names := make([]string, 0, len(inputs))
	for name := range inputs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		fmt.Fprintf(&b, "\n\n## Approved upstream artifact: %s\n\n%s", name, inputs[name])
	}
	return b.String()
}

func critiqueSystem(taskType ledger.TaskType) string {
	return fmt.Sprintf(`You are one critic in a multi-model deliberation on the %s artifact.
Review every draft below. For each, identify concrete errors, gaps, and
disagreements between drafts. Do not produce a new draft.`, taskType)
}

func critiqueUser(packet string, drafts []draftEntry) string {
	var b strings.Builder
	b.WriteString("## Briefing\n\n")
	b.WriteString(packet)
	for i, d := range drafts {
		fmt.Fprintf(&b, "\n\n"+draftDelimiter+"\n\n%s", i+1, d.ParticipantName, d.Content)
	}
	return b.String()
}

func chairSystem(taskType ledger.TaskType) string {
	return fmt.Sprintf(`You are the chair of a multi-model deliberation on the %s artifact. Merge
the drafts, resolving conflicts using the critiques. Respond with two
sections: a SYNTHESIS section containing the final artifact, and a
DECISION_PACKET section with a fenced yaml block carrying decisions and
next_actions lists.

The artifact inside SYNTHESIS must satisfy:

%s`, taskType, draftInstructions[taskType])
}

func chairUser(packet string, drafts []draftEntry, critiques []draftEntry) string {
	var b strings.Builder
	b.WriteString(critiqueUser(packet, drafts))
	for i, c := range critiques {
		fmt.Fprintf(&b, "\n\n=== CRITIQUE %d (%s) ===\n\n%s", i+1, c.ParticipantName, c.Content)
	}
	return b.String()
}
