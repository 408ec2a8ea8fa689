package state

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
)

// Layout computes every path under the specd home directory.
//
// Directory structure:
//
//	<home>/
//	├── specs/              ← backlog (*.md work items)
//	│   ├── plans/          ← plan bodies + metadata (mirrors spec paths)
//	│   ├── candidates/     ← candidate records (mirrors spec paths, .json)
//	│   ├── done/           ← done markers (mirrors spec paths)
//	│   ├── sessions/       ← agent session records (mirrors spec paths, .json)
//	│   └── failed/         ← failure markers (mirrors spec paths)
//	├── runs/               ← per-run agent logs
//	├── SCRATCHPAD.md
//	└── specd.log           ← event log
type Layout struct {
	Home string
}

// NewLayout creates a layout rooted at home.
func NewLayout(home string) Layout {
	return Layout{Home: home}
}

func (l Layout) SpecsRoot() string      { return filepath.Join(l.Home, "specs") }
func (l Layout) PlansRoot() string      { return filepath.Join(l.SpecsRoot(), "plans") }
func (l Layout) CandidatesRoot() string { return filepath.Join(l.SpecsRoot(), "candidates") }
func (l Layout) DoneRoot() string       { return filepath.Join(l.SpecsRoot(), "done") }
func (l Layout) SessionsRoot() string   { return filepath.Join(l.SpecsRoot(), "sessions") }
func (l Layout) FailedRoot() string     { return filepath.Join(l.SpecsRoot(), "failed") }
func (l Layout) RunsRoot() string       { return filepath.Join(l.Home, "runs") }
func (l Layout) Scratchpad() string     { return filepath.Join(l.Home, "SCRATCHPAD.md") }
func (l Layout) EventLog() string       { return filepath.Join(l.Home, "specd.log") }

// ReservedRoots returns the state directories excluded from spec discovery.
func (l Layout) ReservedRoots() []string {
	return []string{
		l.PlansRoot(),
		l.CandidatesRoot(),
		l.DoneRoot(),
		l.SessionsRoot(),
		l.FailedRoot(),
	}
}

// PlanBodyPath mirrors the spec path under plans/, forcing a .md suffix.
func (l Layout) PlanBodyPath(rel string) string {
	return filepath.Join(l.PlansRoot(), withSuffix(rel, ".md"))
}

// PlanMetaPath mirrors the spec path under plans/ with a .json suffix.
func (l Layout) PlanMetaPath(rel string) string {
	return filepath.Join(l.PlansRoot(), withSuffix(rel, ".json"))
}

// PlanArchivePath is where an invalidated plan body is moved:
// <stem>.attempt-<n><ext> next to the active body.
func (l Layout) PlanArchivePath(rel string, attempt int) string {
	body := l.PlanBodyPath(rel)
	ext := filepath.Ext(body)
	stem := body[:len(body)-len(ext)]
	return fmt.Sprintf("%s.attempt-%d%s", stem, attempt, ext)
}

// CandidatePath mirrors the spec path under candidates/ with a .json suffix.
func (l Layout) CandidatePath(rel string) string {
	return filepath.Join(l.CandidatesRoot(), withSuffix(rel, ".json"))
}

// DonePath mirrors the spec path under done/, keeping the spec extension.
func (l Layout) DonePath(rel string) string {
	return filepath.Join(l.DoneRoot(), rel)
}

// SessionPath mirrors the spec path under sessions/ with a .json suffix.
func (l Layout) SessionPath(rel string) string {
	return filepath.Join(l.SessionsRoot(), withSuffix(rel, ".json"))
}

// FailedPath mirrors the spec path under failed/, keeping the spec extension.
func (l Layout) FailedPath(rel string) string {
	return filepath.Join(l.FailedRoot(), rel)
}

// RunDir returns the per-run log directory for a spec: runs/<spec-id>/<stamp>.
func (l Layout) RunDir(specID, stamp string) string {
	return filepath.Join(l.RunsRoot(), specID, stamp)
}

// EnsureDirs creates the home tree and all state directories.
func (l Layout) EnsureDirs() error {
	dirs := append([]string{l.SpecsRoot(), l.RunsRoot()}, l.ReservedRoots()...)
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create state directory %s: %w", dir, err)
		}
	}
	return nil
}

// withSuffix replaces the extension of a slash-separated relative path.
func withSuffix(rel, suffix string) string {
	ext := path.Ext(rel)
	return rel[:len(rel)-len(ext)] + suffix
}
