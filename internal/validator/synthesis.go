// Package validator applies the structural acceptance checks that gate a
// run's outputs: the synthesis gate applied at approval time, and the
// per-task-type output-envelope gate applied at chair-synthesis time.
package validator

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kylenewm/mvp-buildkit/pkg/ledger"
)

// Required sections in a synthesis (markdown headings or labels).
var requiredSynthesisSections = []string{"SYNTHESIS", "DECISION_PACKET"}

// Required top-level keys when a decision packet carries a structured block.
var requiredDecisionKeys = []string{"decisions", "next_actions"}

var (
	yamlBlockRe = regexp.MustCompile("(?is)```ya?ml\\s*(.*?)```")
	jsonBlockRe = regexp.MustCompile("(?is)```json\\s*(.*?)```")
)

// sectionPatterns builds the label-style variants accepted for a section
// name: markdown heading, colon label, bold label, or a bare name at the
// start of a line.
func sectionPatterns(section string) []*regexp.Regexp {
	escaped := regexp.QuoteMeta(section)
	return []*regexp.Regexp{
		regexp.MustCompile(`(?im)^#{1,6}\s*` + escaped),
		regexp.MustCompile(`(?im)^` + escaped + `\s*:`),
		regexp.MustCompile(`(?i)\*\*` + escaped + `\*\*`),
		regexp.MustCompile(`(?im)^` + escaped + `\b`),
	}
}

func hasSection(content, section string) bool {
	for _, re := range sectionPatterns(section) {
		if re.MatchString(content) {
			return true
		}
	}
	return false
}

func extractBlocks(re *regexp.Regexp, content string) []string {
	var blocks []string
	for _, m := range re.FindAllStringSubmatch(content, -1) {
		blocks = append(blocks, m[1])
	}
	return blocks
}

// CheckSynthesis validates a stored synthesis: non-empty, both required
// sections discernible, and every fenced YAML/JSON block parses. All
// failures are collected rather than returned one at a time.
func CheckSynthesis(content string) []string {
	if strings.TrimSpace(content) == "" {
		return []string{"synthesis content is empty"}
	}

	var problems []string

	var missing []string
	for _, section := range requiredSynthesisSections {
		if !hasSection(content, section) {
			missing = append(missing, section)
		}
	}
	if len(missing) > 0 {
		problems = append(problems, fmt.Sprintf("missing required sections: %s", strings.Join(missing, ", ")))
	}

	for i, block := range extractBlocks(yamlBlockRe, content) {
		var parsed any
		if err := yaml.Unmarshal([]byte(block), &parsed); err != nil {
			problems = append(problems, fmt.Sprintf("YAML block %d parse error: %v", i+1, err))
		}
	}

	for i, block := range extractBlocks(jsonBlockRe, content) {
		var parsed any
		if err := json.Unmarshal([]byte(strings.TrimSpace(block)), &parsed); err != nil {
			problems = append(problems, fmt.Sprintf("JSON block %d parse error: %v", i+1, err))
		}
	}

	return problems
}

// CheckDecisionPacket validates a decision packet: non-empty, and any
// structured block that parses to a mapping must carry the required keys.
// Plain markdown packets without structured blocks are accepted.
func CheckDecisionPacket(content string) []string {
	if strings.TrimSpace(content) == "" {
		return []string{"decision packet content is empty"}
	}

	var problems []string

	checkMapping := func(data map[string]any, format string) {
		var missing []string
		for _, key := range requiredDecisionKeys {
			if _, ok := data[key]; !ok {
				missing = append(missing, key)
			}
		}
		if len(missing) > 0 {
			problems = append(problems, fmt.Sprintf("decision packet %s missing keys: %s", format, strings.Join(missing, ", ")))
		}
	}

	for _, block := range extractBlocks(yamlBlockRe, content) {
		var data map[string]any
		if err := yaml.Unmarshal([]byte(block), &data); err != nil {
			problems = append(problems, fmt.Sprintf("decision packet YAML parse error: %v", err))
			continue
		}
		if data != nil {
			checkMapping(data, "YAML")
		}
	}

	for _, block := range extractBlocks(jsonBlockRe, content) {
		var parsed any
		if err := json.Unmarshal([]byte(strings.TrimSpace(block)), &parsed); err != nil {
			problems = append(problems, fmt.Sprintf("decision packet JSON parse error: %v", err))
			continue
		}
		if data, ok := parsed.(map[string]any); ok {
			checkMapping(data, "JSON")
		}
	}

	return problems
}

// sectionBounds locates the named section label, returning the label's
// start and the offset just past it.
func sectionBounds(content, section string) (int, int) {
	for _, re := range sectionPatterns(section) {
		if loc := re.FindStringIndex(content); loc != nil {
			return loc[0], loc[1]
		}
	}
	return -1, -1
}

// ExtractSections splits a chair response into its SYNTHESIS and
// DECISION_PACKET bodies. Either may be empty when its section is absent
// or out of order.
func ExtractSections(content string) (synthesis, packet string) {
	_, synBody := sectionBounds(content, "SYNTHESIS")
	pktStart, pktBody := sectionBounds(content, "DECISION_PACKET")

	if synBody >= 0 {
		end := len(content)
		if pktStart > synBody {
			end = pktStart
		}
		synthesis = strings.TrimSpace(strings.TrimPrefix(content[synBody:end], ":"))
	}
	if pktBody >= 0 {
		packet = strings.TrimSpace(strings.TrimPrefix(content[pktBody:], ":"))
	}
	return synthesis, packet
}

// RunResult is the itemized verdict exposed to the approval surface.
type RunResult struct {
	Valid           bool
	Reasons         []string
	FailedArtifacts []string
}

// Details renders the reasons as a single human-readable string.
func (r RunResult) Details() string {
	if r.Valid {
		return "all outputs validated successfully"
	}
	return strings.Join(r.Reasons, "; ")
}

// ValidateRun applies the approval-time gate to a run: the synthesis must
// exist and pass CheckSynthesis; if a decision packet exists it must pass
// CheckDecisionPacket. Plan runs always carry a decision packet; council
// runs may not.
func ValidateRun(ctx context.Context, client *ledger.Client, runID string) (RunResult, error) {
	result := RunResult{Valid: true}

	syntheses, err := client.GetArtifacts(ctx, runID, ledger.KindSynthesis)
	if err != nil {
		return RunResult{}, fmt.Errorf("failed to load synthesis artifacts: %w", err)
	}

	if len(syntheses) == 0 {
		result.Valid = false
		result.Reasons = append(result.Reasons, "no synthesis artifact found")
		result.FailedArtifacts = append(result.FailedArtifacts, string(ledger.KindSynthesis))
	} else if problems := CheckSynthesis(syntheses[0].Content); len(problems) > 0 {
		result.Valid = false
		for _, p := range problems {
			result.Reasons = append(result.Reasons, "synthesis: "+p)
		}
		result.FailedArtifacts = append(result.FailedArtifacts, string(ledger.KindSynthesis))
	}

	packets, err := client.GetArtifacts(ctx, runID, ledger.KindDecisionPacket)
	if err != nil {
		return RunResult{}, fmt.Errorf("failed to load decision packet artifacts: %w", err)
	}

	if len(packets) > 0 {
		if problems := CheckDecisionPacket(packets[0].Content); len(problems) > 0 {
			result.Valid = false
			for _, p := range problems {
				result.Reasons = append(result.Reasons, "decision packet: "+p)
			}
			result.FailedArtifacts = append(result.FailedArtifacts, string(ledger.KindDecisionPacket))
		}
	}

	return result, nil
}
