package scoringqueue

// ReconcileScoresArgs asks a worker to audit every participant and repair every drifted total.
type ReconcileScoresArgs struct {
	Reason string `json:"reason"`
}

// Kind returns the job type identifier for River
func (ReconcileScoresArgs) Kind() string { return "reconcile_scores" }

// Reasons recorded on reconcile jobs.
const (
	ReasonScheduled = "scheduled"
	ReasonManual    = "manual"
)

// JobInfo represents information about a reconcile job (for debugging/monitoring)
type JobInfo struct {
	ID          int64  `json:"id"`
	Kind        string `json:"kind"`
	Reason      string `json:"reason"`
	State       string `json:"state"`
	CreatedAt   string `json:"created_at"`
	FinalizedAt string `json:"finalized_at,omitempty"`
	Attempt     int    `json:"attempt"`
	MaxAttempts int    `json:"max_attempts"`
}
