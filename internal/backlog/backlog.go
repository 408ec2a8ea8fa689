// Package backlog discovers and validates the spec files that feed the
// pipeline. Specs are markdown files named NNNN-*.md anywhere under the
// specs root, excluding the reserved state subtrees.
package backlog

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/specd/internal/state"
)

var (
	specNameRe = regexp.MustCompile(`^\d{4}-.*\.md$`)
	headingRe  = regexp.MustCompile(`(?m)^#{1,6}\s+\S`)
)

// ErrNoSpecs indicates the specs root holds no runnable spec files.
var ErrNoSpecs = errors.New("no specs found")

// Spec identifies one backlog entry and the path forms the rest of the
// pipeline needs: state files key off Rel, prompts reference
// WorkspaceRel, and run directories key off ID.
type Spec struct {
	// Path is the absolute spec file location.
	Path string
	// Rel is the path relative to the specs root, in slash form.
	Rel string
	// WorkspaceRel is the path relative to the workspace root, in
	// slash form, or the absolute path when the spec lives outside it.
	WorkspaceRel string
	// ID is the spec filename without its extension.
	ID string
}

// Discover walks the specs root and returns runnable specs in sorted
// path order. Reserved state subtrees and README.md/done.md files are
// skipped. An empty backlog is an error so a misconfigured home fails
// loudly instead of silently doing nothing.
func Discover(layout state.Layout, workspace string, logger *zap.Logger) ([]Spec, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	root := layout.SpecsRoot()
	if _, err := os.Stat(root); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("specs directory not found: %s", root)
		}
		return nil, err
	}

	reserved := layout.ReservedRoots()

	var specs []Spec
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root {
				return err
			}
			// Only an unreadable root is fatal; a single bad entry
			// should not take down the whole run.
			logger.Warn("skipping unreadable backlog entry", zap.String("path", p), zap.Error(err))
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			for _, r := range reserved {
				if p == r {
					return filepath.SkipDir
				}
			}
			return nil
		}
		name := d.Name()
		if name == "README.md" || name == "done.md" {
			return nil
		}
		if !specNameRe.MatchString(name) {
			return nil
		}
		rel, relErr := filepath.Rel(root, p)
		if relErr != nil {
			logger.Warn("skipping spec with unresolvable path", zap.String("path", p), zap.Error(relErr))
			return nil
		}
		specs = append(specs, newSpec(p, filepath.ToSlash(rel), workspace))
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(specs, func(i, j int) bool { return specs[i].Path < specs[j].Path })

	if len(specs) == 0 {
		return nil, fmt.Errorf("%w under %s (expected 0001-*.md files)", ErrNoSpecs, root)
	}
	return specs, nil
}

func newSpec(abs, rel, workspace string) Spec {
	wsRel := abs
	if r, err := filepath.Rel(workspace, abs); err == nil && !strings.HasPrefix(r, "..") {
		wsRel = filepath.ToSlash(r)
	}
	return Spec{
		Path:         abs,
		Rel:          rel,
		WorkspaceRel: wsRel,
		ID:           strings.TrimSuffix(path.Base(rel), path.Ext(rel)),
	}
}

// Validate checks every spec for the minimum authoring contract: the
// file is readable, non-empty, and contains at least one markdown
// heading. All violations are reported together.
func Validate(specs []Spec) error {
	var problems []string
	for _, s := range specs {
		if reason := validateOne(s.Path); reason != "" {
			problems = append(problems, fmt.Sprintf("- %s: %s", s.Rel, reason))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("spec validation failed:\n%s", strings.Join(problems, "\n"))
	}
	return nil
}

func validateOne(path string) string {
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "file does not exist"
		}
		return fmt.Sprintf("failed to read: %v", err)
	}
	if len(strings.TrimSpace(string(content))) == 0 {
		return "file is empty"
	}
	if !headingRe.Match(content) {
		return "no markdown heading found (expected at least one # heading)"
	}
	return ""
}
