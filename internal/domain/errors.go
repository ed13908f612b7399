package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors are pure, with no infrastructure dependency. An empty
// schedule is NOT an error: the scheduler returns an empty slice for
// "no work".

var (
	// Lookup errors
	ErrProjectNotFound = errors.New("project not found")
	ErrTaskNotFound    = errors.New("task not found")
	ErrTaskRunNotFound = errors.New("task run not found")
	ErrQuizNotFound    = errors.New("quiz not found")

	// Capability errors
	ErrForbidden           = errors.New("requester lacks permission for this operation")
	ErrAnonymousBlocked    = errors.New("project does not allow anonymous contributors")
	ErrTaskProjectMismatch = errors.New("task does not belong to this project")

	// Parameter errors, rejected before any mutation
	ErrInvalidRedundancy = errors.New("redundancy must be between 1 and 1000")
	ErrInvalidPriority   = errors.New("priority must be between 0.0 and 1.0")
	ErrInvalidPolicy     = errors.New("unknown scheduler policy")

	// Quiz errors
	ErrQuizFinalized = errors.New("quiz already finalized, result is immutable")

	// Store errors. A locking-policy request must fail rather than
	// silently fall back to an unlocked assignment.
	ErrStoreUnavailable = errors.New("lock store unavailable")

	// Submission errors
	ErrTaskNotPresented = errors.New("task was never presented to this contributor")
	ErrTaskCompleted    = errors.New("task already completed")
)
