package validator

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kylenewm/mvp-buildkit/pkg/ledger"
)

// EnvelopeVersion is the only accepted schema_version value.
const EnvelopeVersion = "0.1"

// Closed key sets: the envelope's outputs mapping must contain exactly
// these keys, no more and no fewer.
var requiredPromptKeys = []string{
	"prompts/step_template.md",
	"prompts/review_template.md",
	"prompts/patch_template.md",
	"prompts/chair_synthesis.md",
}

var requiredRulesKeys = []string{
	".cursor/rules/00-invariants.mdc",
	".cursor/rules/10-process.mdc",
}

const invariantsHeader = "# Invariants (V0)"

var fenceRe = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*\\n(.*?)\\n?```\\s*$")

// StripFences removes a single wrapping code fence, if present. Chair
// models frequently wrap the whole envelope in one.
func StripFences(text string) string {
	trimmed := strings.TrimSpace(text)
	if m := fenceRe.FindStringSubmatch(trimmed); m != nil {
		return strings.TrimSpace(m[1])
	}
	return trimmed
}

// EnvelopeError reports why an output envelope was rejected.
type EnvelopeError struct {
	TaskType ledger.TaskType
	Reason   string
}

func (e *EnvelopeError) Error() string {
	return fmt.Sprintf("invalid %s output envelope: %s", e.TaskType, e.Reason)
}

func envelopeErr(taskType ledger.TaskType, format string, args ...any) error {
	return &EnvelopeError{TaskType: taskType, Reason: fmt.Sprintf(format, args...)}
}

func schemaVersionOf(data map[string]any) (string, bool) {
	raw, ok := data["schema_version"]
	if !ok {
		return "", false
	}
	switch v := raw.(type) {
	case string:
		return v, true
	case float64:
		return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%g", v), "0"), "."), true
	default:
		return fmt.Sprintf("%v", v), true
	}
}

func outputsOf(taskType ledger.TaskType, data map[string]any) (map[string]any, error) {
	raw, ok := data["outputs"]
	if !ok {
		return nil, envelopeErr(taskType, "missing outputs key")
	}
	outputs, ok := raw.(map[string]any)
	if !ok {
		return nil, envelopeErr(taskType, "outputs must be a mapping")
	}
	return outputs, nil
}

// checkExactKeys enforces a closed key set: every required key present,
// and nothing else.
func checkExactKeys(taskType ledger.TaskType, outputs map[string]any, required []string) error {
	want := make(map[string]bool, len(required))
	for _, k := range required {
		want[k] = true
	}

	var missing, extra []string
	for _, k := range required {
		if _, ok := outputs[k]; !ok {
			missing = append(missing, k)
		}
	}
	for k := range outputs {
		if !want[k] {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)

	if len(missing) > 0 {
		return envelopeErr(taskType, "outputs missing required keys: %s", strings.Join(missing, ", "))
	}
	if len(extra) > 0 {
		return envelopeErr(taskType, "outputs contain unexpected keys: %s", strings.Join(extra, ", "))
	}
	return nil
}

// CheckEnvelope validates a chair output against the rules for its task
// type and returns the cleaned (fence-stripped) content. Plan outputs
// are free-form markdown and pass as-is; invariants outputs are markdown
// checked structurally; all other types must be a YAML envelope with
// schema_version 0.1.
func CheckEnvelope(taskType ledger.TaskType, text string) (string, error) {
	cleaned := StripFences(text)
	if cleaned == "" {
		return "", envelopeErr(taskType, "output is empty")
	}

	// The plan is a prose document for humans; it is stored verbatim and
	// gated only by the synthesis-structure check at approval time.
	if taskType == ledger.TaskTypePlan {
		return cleaned, nil
	}

	if taskType == ledger.TaskTypeInvariants {
		if !strings.Contains(cleaned, invariantsHeader) {
			return "", envelopeErr(taskType, "missing %q header", invariantsHeader)
		}
		if !strings.Contains(cleaned, "invariants/invariants.md") {
			return "", envelopeErr(taskType, "must reference invariants/invariants.md")
		}
		return cleaned, nil
	}

	var data map[string]any
	if err := yaml.Unmarshal([]byte(cleaned), &data); err != nil {
		return "", envelopeErr(taskType, "not valid YAML: %v", err)
	}
	if data == nil {
		return "", envelopeErr(taskType, "envelope is not a mapping")
	}

	version, ok := schemaVersionOf(data)
	if !ok {
		return "", envelopeErr(taskType, "missing schema_version")
	}
	if version != EnvelopeVersion {
		return "", envelopeErr(taskType, "unsupported schema_version %q (want %q)", version, EnvelopeVersion)
	}

	switch taskType {
	case ledger.TaskTypeSpec:
		if _, ok := data["project"]; !ok {
			return "", envelopeErr(taskType, "missing project key")
		}
		if _, ok := data["updated_at"]; !ok {
			return "", envelopeErr(taskType, "missing updated_at key")
		}

	case ledger.TaskTypeTracker:
		raw, ok := data["steps"]
		if !ok {
			return "", envelopeErr(taskType, "missing steps key")
		}
		steps, ok := raw.([]any)
		if !ok {
			return "", envelopeErr(taskType, "steps must be a list")
		}
		if len(steps) == 0 {
			return "", envelopeErr(taskType, "steps list is empty")
		}

	case ledger.TaskTypePrompts:
		outputs, err := outputsOf(taskType, data)
		if err != nil {
			return "", err
		}
		if err := checkExactKeys(taskType, outputs, requiredPromptKeys); err != nil {
			return "", err
		}

	case ledger.TaskTypeCursorRules:
		outputs, err := outputsOf(taskType, data)
		if err != nil {
			return "", err
		}
		if err := checkExactKeys(taskType, outputs, requiredRulesKeys); err != nil {
			return "", err
		}

	case ledger.TaskTypeCommitPack:
		// No additional structural requirements beyond the version check.

	default:
		return "", envelopeErr(taskType, "unknown task type")
	}

	return cleaned, nil
}

// EnvelopeOutputs parses a validated envelope and returns its outputs
// mapping as path to file content strings. Only meaningful for task
// types whose envelope carries an outputs key.
func EnvelopeOutputs(taskType ledger.TaskType, cleaned string) (map[string]string, error) {
	var data map[string]any
	if err := yaml.Unmarshal([]byte(cleaned), &data); err != nil {
		return nil, envelopeErr(taskType, "not valid YAML: %v", err)
	}
	outputs, err := outputsOf(taskType, data)
	if err != nil {
		return nil, err
	}
	files := make(map[string]string, len(outputs))
	for path, raw := range outputs {
		content, ok := raw.(string)
		if !ok {
			return nil, envelopeErr(taskType, "output %q is not a string", path)
		}
		files[path] = content
	}
	return files, nil
}
