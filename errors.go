package main

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyPaired is returned when pair() is attempted on a defect
	// that is not in the unpaired state. The caller must unpair first.
	ErrAlreadyPaired = errors.New("defect is already paired")

	// ErrNotPaired is returned by unpair/reassign on an unpaired defect.
	ErrNotPaired = errors.New("defect is not paired")

	// ErrPairedElsewhere is returned by reassign when the defect's current
	// concern does not match the expected one.
	ErrPairedElsewhere = errors.New("defect is paired to a different concern")

	ErrConcernNotFound = errors.New("concern not found")
	ErrDefectNotFound  = errors.New("defect not found")

	// ErrRunAlreadyApplied rejects a second apply of the same
	// reconciliation run.
	ErrRunAlreadyApplied = errors.New("apply run already recorded")

	// ErrRunAlreadyUndone rejects a second undo of the same run.
	ErrRunAlreadyUndone = errors.New("apply run already undone")

	ErrRunNotFound = errors.New("apply run not found")

	// ErrBadPurgeToken rejects a purge with a wrong or missing token.
	ErrBadPurgeToken = errors.New("invalid purge token")
)

// ValidationError marks one malformed input row. Rows failing validation
// are rejected individually; the batch continues.
type ValidationError struct {
	Row    int
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("row %d: %s: %s", e.Row, e.Field, e.Reason)
}

// Oracle error kinds. A failed semantic batch degrades to all-unmatched;
// the kind is surfaced so the caller can pick a retry policy. This core
// does not retry.
const (
	OracleUnavailable = "unavailable"
	OracleRateLimited = "rate_limited"
	OracleQuota       = "quota_exhausted"
)

// OracleError wraps a failure of the external match oracle.
type OracleError struct {
	Kind string
	Err  error
}

func (e *OracleError) Error() string {
	return fmt.Sprintf("match oracle %s: %v", e.Kind, e.Err)
}

func (e *OracleError) Unwrap() error { return e.Err }
