package scoringdb

import "errors"

var (
	// ErrParticipantNotFound is returned when no participant row matches.
	ErrParticipantNotFound = errors.New("participant not found")
	// ErrActivityNotFound is returned when no live activity record matches.
	ErrActivityNotFound = errors.New("activity record not found")
	// ErrNoRowsAffected is returned by writes that were expected to touch a row.
	ErrNoRowsAffected = errors.New("no rows affected")
)
