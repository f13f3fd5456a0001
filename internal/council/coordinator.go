// Package council runs the deliberation workflow: parallel drafting,
// parallel critique, and chair synthesis, with the run's status advanced
// through the ledger at each stage boundary.
package council

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/kylenewm/mvp-buildkit/internal/config"
	"github.com/kylenewm/mvp-buildkit/internal/deps"
	"github.com/kylenewm/mvp-buildkit/internal/participant"
	"github.com/kylenewm/mvp-buildkit/internal/validator"
	"github.com/kylenewm/mvp-buildkit/pkg/ledger"
)

// MinDrafts is the partial-failure floor: a deliberation with fewer
// surviving drafts is not a deliberation and the run fails. Critiques
// carry no such floor since the chair can synthesize from drafts alone.
const MinDrafts = 2

// Coordinator drives deliberation runs against a fixed roster.
type Coordinator struct {
	ledger       *ledger.Client
	participants []participant.Participant
	chair        participant.Participant
	timeouts     *config.TimeoutsConfig
}

// New creates a coordinator. The chair may be a roster member or a
// dedicated participant.
func New(client *ledger.Client, roster []participant.Participant, chair participant.Participant, timeouts *config.TimeoutsConfig) (*Coordinator, error) {
	if len(roster) < MinDrafts {
		return nil, fmt.Errorf("roster too small: %d participants (minimum %d)", len(roster), MinDrafts)
	}
	if chair == nil {
		return nil, fmt.Errorf("chair participant is required")
	}
	if timeouts == nil {
		timeouts = &config.TimeoutsConfig{DraftSeconds: 300, CritiqueSeconds: 300, ChairSeconds: 600}
	}
	return &Coordinator{
		ledger:       client,
		participants: roster,
		chair:        chair,
		timeouts:     timeouts,
	}, nil
}

type draftEntry struct {
	ParticipantName string
	Content         string
}

type stageResult struct {
	name    string
	content string
	usage   map[string]any
	err     error
}

// Run executes a full deliberation for one task type. For council types
// the parent must resolve, possibly through a chain of rejected runs, to
// an approved plan run; upstream inputs are resolved
// from the newest approved sibling runs and checked against the
// dependency law before any participant is called. The returned run ends
// in waiting_for_approval on success and failed otherwise.
func (c *Coordinator) Run(ctx context.Context, taskType ledger.TaskType, parentRunID, brief string) (*ledger.Run, error) {
	packet, inputs, err := c.preflight(ctx, taskType, parentRunID, brief)
	if err != nil {
		return nil, err
	}

	run, err := c.ledger.CreateRun(ctx, taskType, parentRunID)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	log.Printf("[Coordinator] Run %s created (task=%s, participants=%d)", run.ID, taskType, len(c.participants))

	if _, err := c.ledger.WriteArtifact(ctx, run.ID, ledger.KindPacket, packet, "", nil); err != nil {
		return run, c.fail(ctx, run, fmt.Errorf("failed to write packet: %w", err))
	}

	// Drafting
	if err := c.ledger.UpdateRunStatus(ctx, run.ID, ledger.StatusDrafting); err != nil {
		return run, err
	}
	drafts, err := c.draftStage(ctx, run, taskType, packet, inputs)
	if err != nil {
		return run, c.fail(ctx, run, err)
	}

	// Critiquing
	if err := c.ledger.UpdateRunStatus(ctx, run.ID, ledger.StatusCritiquing); err != nil {
		return run, err
	}
	critiques := c.critiqueStage(ctx, run, taskType, packet, drafts)

	// Synthesizing
	if err := c.ledger.UpdateRunStatus(ctx, run.ID, ledger.StatusSynthesizing); err != nil {
		return run, err
	}
	if err := c.chairStage(ctx, run, taskType, packet, drafts, critiques); err != nil {
		return run, c.fail(ctx, run, err)
	}

	if err := c.ledger.UpdateRunStatus(ctx, run.ID, ledger.StatusWaitingForApproval); err != nil {
		return run, err
	}
	log.Printf("[Coordinator] Run %s waiting for approval", run.ID)
	return c.ledger.GetRun(ctx, run.ID)
}

// preflight builds the briefing packet and resolves upstream inputs,
// rejecting the run before anything is persisted.
func (c *Coordinator) preflight(ctx context.Context, taskType ledger.TaskType, parentRunID, brief string) (string, map[string]string, error) {
	if taskType == ledger.TaskTypeCommitPack {
		return "", nil, fmt.Errorf("commit_pack runs are produced by the commit engine, not deliberated")
	}

	if taskType == ledger.TaskTypePlan {
		if brief == "" {
			return "", nil, fmt.Errorf("plan runs require a briefing")
		}
		return brief, nil, nil
	}

	if parentRunID == "" {
		return "", nil, fmt.Errorf("%s runs require an approved plan run as parent", taskType)
	}
	parent, err := c.ledger.GetRun(ctx, parentRunID)
	if err != nil {
		return "", nil, fmt.Errorf("failed to load parent run: %w", err)
	}

	// Respawned runs hang off the rejected run they replace, so the
	// governing plan may sit one or more hops up the ancestry.
	plan := parent
	for plan.TaskType != ledger.TaskTypePlan {
		if plan.ParentRunID == "" {
			return "", nil, fmt.Errorf("parent run %s has no plan run in its ancestry (task: %s)", parent.ID, parent.TaskType)
		}
		plan, err = c.ledger.GetRun(ctx, plan.ParentRunID)
		if err != nil {
			return "", nil, fmt.Errorf("failed to walk run ancestry: %w", err)
		}
	}
	if !plan.Status.IsApproved() {
		return "", nil, fmt.Errorf("parent plan run %s is not approved (status: %s)", plan.ID, plan.Status)
	}

	inputs, provenance, err := c.gatherInputs(ctx, taskType, plan)
	if err != nil {
		return "", nil, err
	}
	if err := deps.Validate(taskType, provenance); err != nil {
		return "", nil, err
	}

	packet := brief
	if packet == "" {
		packet = fmt.Sprintf("Deliberate the %s artifact for plan run %s.", taskType, plan.ID)
	}
	return packet, inputs, nil
}

// gatherInputs resolves the newest approved run for every input the
// dependency law allows, returning both the content map used in prompts
// and a provenance map used for validation and error messages.
func (c *Coordinator) gatherInputs(ctx context.Context, taskType ledger.TaskType, parent *ledger.Run) (map[string]string, map[string]string, error) {
	inputs := make(map[string]string)
	provenance := make(map[string]string)

	for _, name := range deps.AllowedInputs(taskType) {
		if name == deps.InputPlan {
			output, err := c.ledger.FinalOutput(ctx, parent.ID)
			if err != nil {
				return nil, nil, fmt.Errorf("plan run %s has no final output: %w", parent.ID, err)
			}
			inputs[name] = output.Content
			provenance[name] = fmt.Sprintf("kind=%s from run %s", output.Kind, parent.ID)
			continue
		}

		upstream, err := c.ledger.LatestApprovedRunByTaskType(ctx, ledger.TaskType(name), parent.ID)
		if err != nil {
			if ledger.IsNotFound(err) {
				return nil, nil, fmt.Errorf("no approved %s run found under plan %s; run it first", name, parent.ID)
			}
			return nil, nil, fmt.Errorf("failed to resolve %s input: %w", name, err)
		}
		output, err := c.ledger.FinalOutput(ctx, upstream.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("approved %s run %s has no final output: %w", name, upstream.ID, err)
		}
		inputs[name] = output.Content
		provenance[name] = fmt.Sprintf("kind=%s from run %s", output.Kind, upstream.ID)
	}

	return inputs, provenance, nil
}

// fanOut issues one call per participant and joins on all of them. Every
// failure is persisted as an error artifact; survivors are returned in
// roster order so artifact ordering is deterministic.
func (c *Coordinator) fanOut(ctx context.Context, run *ledger.Run, role string, kind ledger.Kind, system string, user string, maxTokens int, timeout time.Duration) []draftEntry {
	results := make([]stageResult, len(c.participants))
	done := make(chan int, len(c.participants))

	for i, p := range c.participants {
		go func(i int, p participant.Participant) {
			res, err := p.Complete(ctx, system, []participant.Message{{Role: "user", Content: user}}, maxTokens, timeout)
			if err != nil {
				results[i] = stageResult{name: p.Name(), err: err}
			} else {
				results[i] = stageResult{name: p.Name(), content: res.Content, usage: res.Usage()}
			}
			done <- i
		}(i, p)
	}
	for range c.participants {
		<-done
	}

	var survivors []draftEntry
	for _, r := range results {
		if r.err != nil {
			log.Printf("[Coordinator] Run %s: %s call to %s failed: %v", run.ID, role, r.name, r.err)
			if _, werr := c.ledger.WriteArtifact(ctx, run.ID, ledger.KindError, r.err.Error(), r.name, nil); werr != nil {
				log.Printf("[Coordinator] Run %s: failed to record error artifact: %v", run.ID, werr)
			}
			continue
		}
		if _, werr := c.ledger.WriteArtifact(ctx, run.ID, kind, r.content, r.name, r.usage); werr != nil {
			log.Printf("[Coordinator] Run %s: failed to persist %s from %s: %v", run.ID, kind, r.name, werr)
			continue
		}
		survivors = append(survivors, draftEntry{ParticipantName: r.name, Content: r.content})
	}
	return survivors
}

func (c *Coordinator) draftStage(ctx context.Context, run *ledger.Run, taskType ledger.TaskType, packet string, inputs map[string]string) ([]draftEntry, error) {
	budget := participant.Budget(taskType, participant.RoleDraft, len(c.participants))
	drafts := c.fanOut(ctx, run, participant.RoleDraft, ledger.KindDraft,
		draftSystem(taskType), draftUser(packet, inputs), budget, c.timeouts.Draft())

	log.Printf("[Coordinator] Run %s: %d/%d drafts survived", run.ID, len(drafts), len(c.participants))
	if len(drafts) < MinDrafts {
		return nil, fmt.Errorf("only %d of %d drafts survived (minimum %d)", len(drafts), len(c.participants), MinDrafts)
	}
	return drafts, nil
}

func (c *Coordinator) critiqueStage(ctx context.Context, run *ledger.Run, taskType ledger.TaskType, packet string, drafts []draftEntry) []draftEntry {
	budget := participant.Budget(taskType, participant.RoleCritique, len(c.participants))
	critiques := c.fanOut(ctx, run, participant.RoleCritique, ledger.KindCritique,
		critiqueSystem(taskType), critiqueUser(packet, drafts), budget, c.timeouts.Critique())

	// Zero critiques is acceptable; the chair falls back to drafts alone.
	log.Printf("[Coordinator] Run %s: %d/%d critiques survived", run.ID, len(critiques), len(c.participants))
	return critiques
}

func (c *Coordinator) chairStage(ctx context.Context, run *ledger.Run, taskType ledger.TaskType, packet string, drafts, critiques []draftEntry) error {
	budget := participant.Budget(taskType, participant.RoleChair, len(c.participants))
	res, err := c.chair.Complete(ctx, chairSystem(taskType),
		[]participant.Message{{Role: "user", Content: chairUser(packet, drafts, critiques)}},
		budget, c.timeouts.Chair())
	if err != nil {
		if _, werr := c.ledger.WriteArtifact(ctx, run.ID, ledger.KindError, err.Error(), c.chair.Name(), nil); werr != nil {
			log.Printf("[Coordinator] Run %s: failed to record chair error: %v", run.ID, werr)
		}
		return fmt.Errorf("chair synthesis failed: %w", err)
	}

	if _, err := c.ledger.WriteArtifact(ctx, run.ID, ledger.KindSynthesis, res.Content, res.Model, res.Usage()); err != nil {
		return fmt.Errorf("failed to persist synthesis: %w", err)
	}

	synthesis, packetSection := validator.ExtractSections(res.Content)
	if synthesis == "" {
		synthesis = res.Content
	}

	cleaned, err := validator.CheckEnvelope(taskType, synthesis)
	if err != nil {
		// Keep the raw chair text with the reason so the rejection can be
		// diagnosed without digging through the synthesis artifact.
		detail := fmt.Sprintf("%s\n\n--- raw chair output ---\n%s", err.Error(), res.Content)
		if _, werr := c.ledger.WriteArtifact(ctx, run.ID, ledger.KindError, detail, res.Model, nil); werr != nil {
			log.Printf("[Coordinator] Run %s: failed to record envelope error: %v", run.ID, werr)
		}
		return fmt.Errorf("chair output rejected: %w", err)
	}

	if _, err := c.ledger.WriteArtifact(ctx, run.ID, ledger.KindOutput, cleaned, res.Model, nil); err != nil {
		return fmt.Errorf("failed to persist output: %w", err)
	}

	if packetSection != "" {
		if _, err := c.ledger.WriteArtifact(ctx, run.ID, ledger.KindDecisionPacket, packetSection, res.Model, nil); err != nil {
			return fmt.Errorf("failed to persist decision packet: %w", err)
		}
	}
	if taskType == ledger.TaskTypePlan {
		if _, err := c.ledger.WriteArtifact(ctx, run.ID, ledger.KindPlan, cleaned, res.Model, nil); err != nil {
			return fmt.Errorf("failed to persist plan: %w", err)
		}
	}
	return nil
}

// fail moves the run to failed and returns the original error. The
// transition table allows failed from every non-terminal status.
func (c *Coordinator) fail(ctx context.Context, run *ledger.Run, cause error) error {
	if err := c.ledger.UpdateRunStatus(ctx, run.ID, ledger.StatusFailed); err != nil {
		log.Printf("[Coordinator] Run %s: could not mark failed: %v", run.ID, err)
	}
	log.Printf("[Coordinator] Run %s failed: %v", run.ID, cause)
	return cause
}

// RespawnFromRejection creates a fresh run for a rejected one, carrying
// the original briefing packet forward together with the reviewer's
// feedback so the next deliberation can act on it.
func (c *Coordinator) RespawnFromRejection(ctx context.Context, rejectedRunID string) (*ledger.Run, error) {
	rejected, err := c.ledger.GetRun(ctx, rejectedRunID)
	if err != nil {
		return nil, fmt.Errorf("failed to load rejected run: %w", err)
	}

	approval, err := c.ledger.LatestApproval(ctx, rejectedRunID)
	if err != nil {
		return nil, fmt.Errorf("run %s has no approval decision: %w", rejectedRunID, err)
	}
	if approval.Decision != ledger.DecisionReject {
		return nil, fmt.Errorf("run %s was not rejected (decision: %s)", rejectedRunID, approval.Decision)
	}

	packets, err := c.ledger.GetArtifacts(ctx, rejectedRunID, ledger.KindPacket)
	if err != nil {
		return nil, fmt.Errorf("failed to load packet from run %s: %w", rejectedRunID, err)
	}
	var packet string
	if len(packets) > 0 {
		packet = packets[0].Content
	}

	brief := fmt.Sprintf("%s\n\n---\n\n## Human Feedback (from rejected run %s)\n\n%s",
		packet, rejectedRunID, approval.Feedback)

	// The new run is parented on the rejected run, keeping the rejection
	// chain intact. Preflight walks the chain back to the governing plan.
	log.Printf("[Coordinator] Respawning %s run from rejected run %s", rejected.TaskType, rejectedRunID)
	return c.Run(ctx, rejected.TaskType, rejectedRunID, brief)
}
