package scoringevents

import "time"

// Scoring topics. Every topic names the participants whose stored total or log changed.
const (
	ActivityLoggedV1     = "scoring.activity.logged.v1"
	ActivityDeletedV1    = "scoring.activity.deleted.v1"
	ScoreRepairedV1      = "scoring.score.repaired.v1"
	ParticipantsMergedV1 = "scoring.participants.merged.v1"
	ParticipantDeletedV1 = "scoring.participant.deleted.v1"
)

// Topics lists every scoring topic.
var Topics = []string{
	ActivityLoggedV1,
	ActivityDeletedV1,
	ScoreRepairedV1,
	ParticipantsMergedV1,
	ParticipantDeletedV1,
}

// ActivityLoggedPayload is published after an activity (or admin adjustment) commits.
type ActivityLoggedPayload struct {
	ParticipantID string    `json:"participant_id"`
	RecordID      string    `json:"record_id"`
	ActivityID    string    `json:"activity_id"`
	Points        int       `json:"points"`
	LoggedAt      time.Time `json:"logged_at"`
}

// ActivityDeletedPayload is published after an activity record is removed from the live log.
type ActivityDeletedPayload struct {
	ParticipantID string `json:"participant_id"`
	RecordID      string `json:"record_id"`
	Points        int    `json:"points"`
}

// ScoreRepairedPayload is published after a stored total is overwritten by a repair.
type ScoreRepairedPayload struct {
	ParticipantID string    `json:"participant_id"`
	PreviousTotal int       `json:"previous_total"`
	NewTotal      int       `json:"new_total"`
	Reason        string    `json:"reason"`
	RepairedAt    time.Time `json:"repaired_at"`
}

// ParticipantsMergedPayload is published after a duplicate participant is folded into a survivor.
type ParticipantsMergedPayload struct {
	SurvivorID    string `json:"survivor_id"`
	DuplicateID   string `json:"duplicate_id"`
	RecordsMoved  int    `json:"records_moved"`
	SurvivorTotal int    `json:"survivor_total"`
}

// ParticipantDeletedPayload is published after a participant is tombstoned.
type ParticipantDeletedPayload struct {
	ParticipantID string `json:"participant_id"`
}

// AffectedParticipants is implemented by every payload so subscribers can invalidate caches
// without switching on the topic.
type AffectedParticipants interface {
	Participants() []string
}

func (p ActivityLoggedPayload) Participants() []string     { return []string{p.ParticipantID} }
func (p ActivityDeletedPayload) Participants() []string    { return []string{p.ParticipantID} }
func (p ScoreRepairedPayload) Participants() []string      { return []string{p.ParticipantID} }
func (p ParticipantDeletedPayload) Participants() []string { return []string{p.ParticipantID} }
func (p ParticipantsMergedPayload) Participants() []string {
	return []string{p.SurvivorID, p.DuplicateID}
}
