package state

// PlanStatus is the lifecycle state of a plan record.
type PlanStatus string

const (
	PlanActive      PlanStatus = "active"
	PlanInvalidated PlanStatus = "invalidated"
)

// CandidateStatus is the lifecycle state of a candidate record.
type CandidateStatus string

const (
	CandidatePending  CandidateStatus = "candidate"
	CandidateVerified CandidateStatus = "verified"
)

// Phase identifies which pipeline stage produced an agent session.
type Phase string

const (
	PhasePlan   Phase = "plan"
	PhaseImpl   Phase = "impl"
	PhaseVerify Phase = "verify"
)

// Plan is the persisted metadata for a plan body. The body itself lives in
// a sibling .md file; this record tracks its lifecycle and attempt counter.
type Plan struct {
	SpecRel            string     `json:"spec_rel"`
	SpecID             string     `json:"spec_id"`
	Status             PlanStatus `json:"status"`
	CreatedAtUTC       string     `json:"created_at_utc"`
	InvalidatedAtUTC   *string    `json:"invalidated_at_utc"`
	InvalidationReason *string    `json:"invalidation_reason"`
	Attempt            int        `json:"attempt"`
}

// NextAttempt returns the attempt number a freshly produced plan should
// carry given the prior record: the counter moves only past an invalidated
// plan. Replacing an active plan keeps its number; no prior plan means 1.
func NextAttempt(prior *Plan) int {
	switch {
	case prior == nil:
		return 1
	case prior.Status == PlanInvalidated:
		return prior.Attempt + 1
	default:
		return prior.Attempt
	}
}

// Candidate records a commit the implementer claims is ready to verify.
// CandidateCommit is immutable; only Status and LastVerifyRunDir are
// updated in place.
type Candidate struct {
	SpecRel          string          `json:"spec_rel"`
	SpecID           string          `json:"spec_id"`
	CandidateCommit  string          `json:"candidate_commit"`
	CreatedAtUTC     string          `json:"created_at_utc"`
	LastImplRunDir   *string         `json:"last_impl_run_dir"`
	LastVerifyRunDir *string         `json:"last_verify_run_dir"`
	Status           CandidateStatus `json:"status"`
}

// Session stores per-phase agent session IDs so later runs can resume
// instead of starting cold. Purely an optimization: absence never blocks.
type Session struct {
	SpecRel         string  `json:"spec_rel"`
	SpecID          string  `json:"spec_id"`
	PlanSessionID   *string `json:"plan_session_id"`
	ImplSessionID   *string `json:"impl_session_id"`
	VerifySessionID *string `json:"verify_session_id"`
	UpdatedAtUTC    string  `json:"updated_at_utc"`
}

// DoneFile describes the human-readable marker written by a passing
// verification. Presence of the file is the done signal; the content is
// for operators.
type DoneFile struct {
	SpecRel         string
	SpecID          string
	CandidateCommit string
	VerifiedAtUTC   string
	VerifyRunDir    string
	ImplRunDir      string // empty when unknown
	VerifierTail    string
}

// FailureFile describes the marker written when a spec exhausts its
// attempt budget. A marked spec is skipped until explicitly forced.
type FailureFile struct {
	SpecRel     string
	SpecID      string
	Attempts    int
	LastPhase   Phase
	FailedAtUTC string
	OutputTail  string
}
