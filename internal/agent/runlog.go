package agent

import (
	"os"
	"path/filepath"
	"time"

	"github.com/fyrsmithlabs/specd/internal/state"
)

// StampLayout names run directories by their UTC start time.
const StampLayout = "20060102-150405Z"

// Run log filenames, one per phase attempt. Verification logs are not
// attempt-numbered; each verify pass overwrites within its own run dir.
const (
	PlanLogPattern   = "plan-attempt-%d.log"
	ImplLogPattern   = "impl-attempt-%d.log"
	VerifyLogName    = "verify.log"
	ExceptionPattern = "%s-exception.log"
)

// MakeRunDir creates runs/<spec-id>/<utc-stamp>/ and returns its path.
func MakeRunDir(layout state.Layout, specID string, now time.Time) (string, error) {
	dir := layout.RunDir(specID, now.UTC().Format(StampLayout))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// WriteRunLog stores one attempt's captured output under the run dir
// and returns the file path.
func WriteRunLog(runDir, filename, text string) (string, error) {
	p := filepath.Join(runDir, filename)
	if err := os.WriteFile(p, []byte(text), 0o644); err != nil {
		return "", err
	}
	return p, nil
}
