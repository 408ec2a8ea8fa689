// Package state persists pipeline records under the specd home directory.
//
// Every record is keyed by the spec's path relative to the specs root and
// lives in its own file, mirroring the spec path under a reserved subtree.
// Records are reloaded from disk at point of use: the process can be killed
// between any two writes and a later run resumes from what survived.
//
// Loads are fail-soft: a malformed record is treated as absent (the file is
// left in place for inspection) so a corrupted artifact re-triggers the
// phase that produces it instead of wedging the pipeline.
package state

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Store reads and writes pipeline state. One orchestrator process owns a
// home directory at a time; there is no cross-process locking.
type Store struct {
	layout Layout
	logger *zap.Logger
}

// NewStore creates a store over the given layout.
func NewStore(layout Layout, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{layout: layout, logger: logger}
}

// Layout returns the store's path layout.
func (s *Store) Layout() Layout { return s.layout }

// -----------------------------
// Plan state
// -----------------------------

// LoadPlan returns the plan record for a spec, or nil when absent.
//
// A plan body without metadata (hand-written plan) is adopted as an active
// attempt-1 record. Metadata marked active whose body is missing or empty
// is surfaced as invalidated so the pipeline re-plans.
func (s *Store) LoadPlan(rel string) *Plan {
	metaPath := s.layout.PlanMetaPath(rel)
	data, err := os.ReadFile(metaPath)
	switch {
	case err == nil:
		var p Plan
		if err := json.Unmarshal(data, &p); err != nil {
			s.logger.Warn("corrupt plan metadata, treating as absent",
				zap.String("spec", rel), zap.Error(err))
			return nil
		}
		if p.Status == "" {
			p.Status = PlanActive
		}
		if p.Attempt == 0 {
			p.Attempt = 1
		}
		if p.Status == PlanActive && s.PlanBody(rel) == "" {
			p.Status = PlanInvalidated
			if p.InvalidationReason == nil {
				reason := "plan file missing"
				p.InvalidationReason = &reason
			}
		}
		return &p
	case !os.IsNotExist(err):
		s.logger.Warn("failed to read plan metadata, treating as absent",
			zap.String("spec", rel), zap.Error(err))
		return nil
	}

	// Hand-written plan: body exists but no metadata. Adopt it.
	if s.PlanBody(rel) == "" {
		return nil
	}
	adopted := &Plan{
		SpecRel:      rel,
		SpecID:       specIDFromRel(rel),
		Status:       PlanActive,
		CreatedAtUTC: utcNow(),
		Attempt:      1,
	}
	if err := s.SavePlan(adopted); err != nil {
		s.logger.Warn("failed to persist adopted plan metadata",
			zap.String("spec", rel), zap.Error(err))
	}
	return adopted
}

// SavePlan writes the plan metadata record.
func (s *Store) SavePlan(p *Plan) error {
	return s.writeJSON(s.layout.PlanMetaPath(p.SpecRel), p)
}

// WritePlanBody replaces the active plan body.
func (s *Store) WritePlanBody(rel, content string) error {
	return s.writeFile(s.layout.PlanBodyPath(rel), []byte(content))
}

// PlanBody returns the active plan body, or "" when missing or blank.
func (s *Store) PlanBody(rel string) string {
	data, err := os.ReadFile(s.layout.PlanBodyPath(rel))
	if err != nil || len(bytes.TrimSpace(data)) == 0 {
		return ""
	}
	return string(data)
}

// InvalidatePlan archives the current plan body as an attempt-numbered
// sibling and marks the metadata invalidated with the given reason. The
// attempt counter is preserved; it only advances when a new plan is
// produced afterwards.
func (s *Store) InvalidatePlan(rel, reason string) (*Plan, error) {
	prior := s.LoadPlan(rel)
	attempt := 1
	createdAt := utcNow()
	if prior != nil {
		attempt = prior.Attempt
		createdAt = prior.CreatedAtUTC
	}

	bodyPath := s.layout.PlanBodyPath(rel)
	if _, err := os.Stat(bodyPath); err == nil {
		archivePath := s.layout.PlanArchivePath(rel, attempt)
		if err := os.Rename(bodyPath, archivePath); err != nil {
			return nil, fmt.Errorf("failed to archive plan body: %w", err)
		}
	}

	invalidatedAt := utcNow()
	updated := &Plan{
		SpecRel:            rel,
		SpecID:             specIDFromRel(rel),
		Status:             PlanInvalidated,
		CreatedAtUTC:       createdAt,
		InvalidatedAtUTC:   &invalidatedAt,
		InvalidationReason: &reason,
		Attempt:            attempt,
	}
	if err := s.SavePlan(updated); err != nil {
		return nil, err
	}
	return updated, nil
}

// ArchivedPlanBody returns an archived plan body by attempt number, or ""
// when absent. Used to show the rejected plan when re-planning.
func (s *Store) ArchivedPlanBody(rel string, attempt int) string {
	data, err := os.ReadFile(s.layout.PlanArchivePath(rel, attempt))
	if err != nil {
		return ""
	}
	return string(data)
}

// -----------------------------
// Candidate state
// -----------------------------

// LoadCandidate returns the candidate record for a spec, or nil when absent.
func (s *Store) LoadCandidate(rel string) *Candidate {
	data, err := os.ReadFile(s.layout.CandidatePath(rel))
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("failed to read candidate record, treating as absent",
				zap.String("spec", rel), zap.Error(err))
		}
		return nil
	}
	var c Candidate
	if err := json.Unmarshal(data, &c); err != nil {
		s.logger.Warn("corrupt candidate record, treating as absent",
			zap.String("spec", rel), zap.Error(err))
		return nil
	}
	if c.Status == "" {
		c.Status = CandidatePending
	}
	return &c
}

// SaveCandidate writes the candidate record, superseding any prior one.
func (s *Store) SaveCandidate(c *Candidate) error {
	return s.writeJSON(s.layout.CandidatePath(c.SpecRel), c)
}

// DeleteCandidate removes the candidate record. Missing is not an error.
func (s *Store) DeleteCandidate(rel string) error {
	err := os.Remove(s.layout.CandidatePath(rel))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete candidate record: %w", err)
	}
	return nil
}

// -----------------------------
// Session state
// -----------------------------

// LoadSession returns the session record for a spec, or nil when absent.
func (s *Store) LoadSession(rel string) *Session {
	data, err := os.ReadFile(s.layout.SessionPath(rel))
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("failed to read session record, treating as absent",
				zap.String("spec", rel), zap.Error(err))
		}
		return nil
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		s.logger.Warn("corrupt session record, treating as absent",
			zap.String("spec", rel), zap.Error(err))
		return nil
	}
	return &sess
}

// UpdateSession records the session ID for one phase, preserving the others.
func (s *Store) UpdateSession(rel, specID string, phase Phase, sessionID string) (*Session, error) {
	sess := s.LoadSession(rel)
	if sess == nil {
		sess = &Session{SpecRel: rel, SpecID: specID}
	}
	switch phase {
	case PhasePlan:
		sess.PlanSessionID = &sessionID
	case PhaseImpl:
		sess.ImplSessionID = &sessionID
	case PhaseVerify:
		sess.VerifySessionID = &sessionID
	}
	sess.UpdatedAtUTC = utcNow()
	if err := s.writeJSON(s.layout.SessionPath(rel), sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// ResumeSessionID returns the stored session ID for a phase, or "".
func (s *Store) ResumeSessionID(rel string, phase Phase) string {
	sess := s.LoadSession(rel)
	if sess == nil {
		return ""
	}
	var id *string
	switch phase {
	case PhasePlan:
		id = sess.PlanSessionID
	case PhaseImpl:
		id = sess.ImplSessionID
	case PhaseVerify:
		id = sess.VerifySessionID
	}
	if id == nil {
		return ""
	}
	return *id
}

// -----------------------------
// Done markers
// -----------------------------

// Done reports whether the done marker exists for a spec.
func (s *Store) Done(rel string) bool {
	_, err := os.Stat(s.layout.DonePath(rel))
	return err == nil
}

// DoneSet returns the rel paths of every done marker.
func (s *Store) DoneSet() map[string]bool {
	done := make(map[string]bool)
	root := s.layout.DoneRoot()
	_ = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || filepath.Ext(p) != ".md" {
			return nil //nolint:nilerr
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return nil //nolint:nilerr
		}
		done[filepath.ToSlash(rel)] = true
		return nil
	})
	return done
}

// SaveDone writes the human-readable done marker. Written exactly once by
// a passing verification; the pipeline only ever checks its presence.
func (s *Store) SaveDone(d DoneFile) error {
	implRunDir := d.ImplRunDir
	if implRunDir == "" {
		implRunDir = "n/a"
	}
	content := fmt.Sprintf(
		"DONE: %s\n"+
			"Candidate commit: %s\n"+
			"Verified at (UTC): %s\n"+
			"Spec id: %s\n"+
			"Verify run logs: %s\n"+
			"Impl run logs: %s\n"+
			"\n"+
			"Verifier output (tail):\n"+
			"%s\n",
		d.SpecRel, d.CandidateCommit, d.VerifiedAtUTC, d.SpecID,
		d.VerifyRunDir, implRunDir, trimRight(d.VerifierTail),
	)
	return s.writeFile(s.layout.DonePath(d.SpecRel), []byte(content))
}

// -----------------------------
// Failure markers
// -----------------------------

// Failed reports whether the failure marker exists for a spec.
func (s *Store) Failed(rel string) bool {
	_, err := os.Stat(s.layout.FailedPath(rel))
	return err == nil
}

// SaveFailure writes the failure marker after the attempt budget is
// exhausted. A marked spec is skipped by later runs until forced.
func (s *Store) SaveFailure(f FailureFile) error {
	content := fmt.Sprintf(
		"FAILED: %s\n"+
			"Spec id: %s\n"+
			"Attempts consumed: %d\n"+
			"Last phase: %s\n"+
			"Failed at (UTC): %s\n"+
			"\n"+
			"Last output (tail):\n"+
			"%s\n",
		f.SpecRel, f.SpecID, f.Attempts, f.LastPhase, f.FailedAtUTC,
		trimRight(f.OutputTail),
	)
	return s.writeFile(s.layout.FailedPath(f.SpecRel), []byte(content))
}

// ClearFailure removes the failure marker. Missing is not an error.
func (s *Store) ClearFailure(rel string) error {
	err := os.Remove(s.layout.FailedPath(rel))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clear failure marker: %w", err)
	}
	return nil
}

// -----------------------------
// Helpers
// -----------------------------

func (s *Store) writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	return s.writeFile(path, append(data, '\n'))
}

// writeFile writes atomically: temp file in the target directory, then
// rename. Readers never observe a partial record.
func (s *Store) writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create record directory: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename record: %w", err)
	}
	return nil
}

func specIDFromRel(rel string) string {
	base := path.Base(rel)
	return base[:len(base)-len(path.Ext(base))]
}

func utcNow() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func trimRight(s string) string {
	return strings.TrimRight(s, " \t\r\n")
}
