package scoringservice

import "errors"

// Domain failures. These are returned as the failure side of an operation result and surface to
// callers as errors that can be matched with errors.Is.
var (
	ErrUnknownActivity         = errors.New("unknown activity")
	ErrInvalidOptions          = errors.New("invalid situational options")
	ErrOneTimeAlreadyCompleted = errors.New("one-time activity already completed")
	ErrParticipantDeleted      = errors.New("participant is deleted")
	ErrDuplicateName           = errors.New("a participant with that name already exists")
	ErrInvalidMerge            = errors.New("invalid participant merge")
	ErrInvalidAdjustment       = errors.New("invalid score adjustment")
)
