package participant

import "github.com/kylenewm/mvp-buildkit/pkg/ledger"

// Stage roles used by the budget policy.
const (
	RoleDraft    = "draft"
	RoleCritique = "critique"
	RoleChair    = "chair"
)

// MaxOutputTokens is the hard clamp applied to every derived budget.
const MaxOutputTokens = 60000

// Per-task base budgets for a single draft.
var draftBase = map[ledger.TaskType]int{
	ledger.TaskTypePlan:        20000,
	ledger.TaskTypeSpec:        10000,
	ledger.TaskTypeInvariants:  8000,
	ledger.TaskTypeTracker:     16000,
	ledger.TaskTypePrompts:     14000,
	ledger.TaskTypeCursorRules: 6000,
}

const defaultBase = 4000

// Budget derives the max output tokens for one call. Critique and chair
// calls scale with the number of drafters since their inputs grow with
// it; every result is clamped to MaxOutputTokens.
func Budget(taskType ledger.TaskType, role string, nParticipants int) int {
	base, ok := draftBase[taskType]
	if !ok {
		base = defaultBase
	}

	mult := 1
	switch role {
	case RoleCritique:
		switch {
		case nParticipants >= 3:
			mult = 3
		case nParticipants == 2:
			mult = 2
		}
	case RoleChair:
		switch {
		case nParticipants >= 3:
			mult = 4
		case nParticipants == 2:
			mult = 3
		}
	}

	budget := base * mult
	if budget > MaxOutputTokens {
		return MaxOutputTokens
	}
	return budget
}
