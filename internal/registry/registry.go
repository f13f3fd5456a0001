// Package registry resolves which repository paths the commit engine may
// write. The authoritative source is docs/ARTIFACT_REGISTRY.md in the
// target repository; when absent or unparseable a built-in fallback table
// applies and the result is flagged so callers can surface it.
package registry

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// RegistryFile is the path of the registry inside a target repository.
const RegistryFile = "docs/ARTIFACT_REGISTRY.md"

// Source records where a registry's entries came from.
type Source string

const (
	SourceFile     Source = "file"
	SourceFallback Source = "fallback"
)

// Pattern matches either an exact path or, when Prefix is set, any path
// under a directory. Registry globs use a trailing "/**" to mean the
// whole subtree; no other glob syntax is supported.
type Pattern struct {
	Raw    string
	Prefix string
}

func parsePattern(raw string) Pattern {
	if rest, ok := strings.CutSuffix(raw, "/**"); ok {
		return Pattern{Raw: raw, Prefix: rest + "/"}
	}
	return Pattern{Raw: raw}
}

// Matches reports whether the given repo-relative path falls under the
// pattern.
func (p Pattern) Matches(path string) bool {
	if p.Prefix != "" {
		return strings.HasPrefix(path, p.Prefix)
	}
	return path == p.Raw
}

// Registry is the resolved path policy for a target repository.
type Registry struct {
	Canonical []Pattern
	Generated []Pattern
	Forbidden []Pattern
	Source    Source
}

// The fallback table, used when the target repository carries no registry.
var (
	fallbackCanonical = []string{
		"docs/ARTIFACT_REGISTRY.md",
		"docs/build_plan.md",
		"spec/spec.yaml",
		"invariants/invariants.md",
		"tracker/tracker.yaml",
		"prompts/step_template.md",
		"prompts/review_template.md",
		"prompts/patch_template.md",
		"prompts/chair_synthesis.md",
		".cursor/rules/00-invariants.mdc",
		".cursor/rules/10-process.mdc",
	}
	fallbackGenerated = []string{
		"versions/**",
	}
	fallbackForbidden = []string{
		"prompts/hotfix_sync.md",
		"docs/build_guide.md",
		"COMMIT_MANIFEST.md",
	}
)

func patterns(raws []string) []Pattern {
	out := make([]Pattern, 0, len(raws))
	for _, raw := range raws {
		out = append(out, parsePattern(raw))
	}
	return out
}

// Fallback returns the built-in registry.
func Fallback() *Registry {
	return &Registry{
		Canonical: patterns(fallbackCanonical),
		Generated: patterns(fallbackGenerated),
		Forbidden: patterns(fallbackForbidden),
		Source:    SourceFallback,
	}
}

// Load resolves the registry for a target repository. A missing or
// unreadable registry file yields the fallback table, never an error;
// callers check Source to tell the difference.
func Load(repoDir string) *Registry {
	f, err := os.Open(filepath.Join(repoDir, filepath.FromSlash(RegistryFile)))
	if err != nil {
		return Fallback()
	}
	defer f.Close()

	reg := parseMarkdown(f)
	if reg == nil {
		return Fallback()
	}
	return reg
}

// parseMarkdown reads "## Canonical", "## Generated" and "## Forbidden"
// sections of bulleted paths (optionally backtick-quoted). Returns nil
// when the canonical section yields no entry.
func parseMarkdown(f *os.File) *Registry {
	sections := map[string][]Pattern{}
	var current string

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if heading, ok := strings.CutPrefix(line, "## "); ok {
			current = strings.ToLower(strings.TrimSpace(heading))
			continue
		}

		bullet, ok := strings.CutPrefix(line, "- ")
		if !ok {
			bullet, ok = strings.CutPrefix(line, "* ")
		}
		if !ok || current == "" {
			continue
		}

		entry := strings.TrimSpace(bullet)
		entry = strings.Trim(entry, "`")
		// Bullets may carry a trailing description after the path.
		if idx := strings.IndexAny(entry, " \t"); idx > 0 {
			entry = entry[:idx]
		}
		entry = strings.Trim(entry, "`")
		if entry == "" {
			continue
		}
		sections[current] = append(sections[current], parsePattern(entry))
	}
	if scanner.Err() != nil {
		return nil
	}

	canonical := sections["canonical"]
	generated := sections["generated"]
	forbidden := sections["forbidden"]
	// A registry without canonical entries cannot allow anything; the
	// whole document is discarded in favor of the fallback table.
	if len(canonical) == 0 {
		return nil
	}

	return &Registry{
		Canonical: canonical,
		Generated: generated,
		Forbidden: forbidden,
		Source:    SourceFile,
	}
}

func matchAny(pats []Pattern, path string) (Pattern, bool) {
	for _, p := range pats {
		if p.Matches(path) {
			return p, true
		}
	}
	return Pattern{}, false
}

// IsForbidden reports whether a path is explicitly forbidden. Forbidden
// entries win over canonical and generated entries.
func (r *Registry) IsForbidden(path string) bool {
	_, ok := matchAny(r.Forbidden, path)
	return ok
}

// Check decides whether the commit engine may write a path. Forbidden
// always wins; a path must then be canonical or generated to be allowed.
func (r *Registry) Check(path string) error {
	path = filepath.ToSlash(path)
	if p, ok := matchAny(r.Forbidden, path); ok {
		return fmt.Errorf("path %q is forbidden by registry entry %q (source: %s)", path, p.Raw, r.Source)
	}
	if _, ok := matchAny(r.Canonical, path); ok {
		return nil
	}
	if _, ok := matchAny(r.Generated, path); ok {
		return nil
	}
	return fmt.Errorf("path %q is not a canonical or generated registry path (source: %s)", path, r.Source)
}

// CanonicalPaths returns the exact canonical paths, sorted. Subtree
// patterns are excluded since they name no single file.
func (r *Registry) CanonicalPaths() []string {
	var paths []string
	for _, p := range r.Canonical {
		if p.Prefix == "" {
			paths = append(paths, p.Raw)
		}
	}
	sort.Strings(paths)
	return paths
}

// RenderMarkdown serializes the registry back to its markdown form, used
// when seeding a target repository that has no registry yet.
func (r *Registry) RenderMarkdown() string {
	var b strings.Builder
	b.WriteString("# Artifact Registry\n")

	section := func(name string, pats []Pattern) {
		b.WriteString("\n## " + name + "\n\n")
		for _, p := range pats {
			b.WriteString("- `" + p.Raw + "`\n")
		}
	}
	section("Canonical", r.Canonical)
	section("Generated", r.Generated)
	section("Forbidden", r.Forbidden)
	return b.String()
}
