package main

import (
	"database/sql"
	"fmt"
	"log"
	"sort"
)

// ApplyOutcome describes what an apply (or undo) did to the matrix.
type ApplyOutcome struct {
	RunID   string
	Deltas  map[int64]int
	Changes []StatusChange
}

// ApplyMatches folds the accepted matches of one reconciliation run into
// the recurrence windows. Quantities are summed per concern first so each
// touched concern gets exactly one W-1 update regardless of how many
// defects point at it. The delta set is persisted under the run id: a
// second apply of the same run is rejected, and Undo subtracts exactly
// these deltas.
func ApplyMatches(db *sql.DB, runID string, matches []AcceptedMatch) (ApplyOutcome, error) {
	outcome := ApplyOutcome{RunID: runID, Deltas: make(map[int64]int)}
	if len(matches) == 0 {
		return outcome, nil
	}

	for _, m := range matches {
		outcome.Deltas[m.Serial] += m.Quantity
	}

	if err := InsertApplyRun(db, runID, outcome.Deltas); err != nil {
		return outcome, err
	}

	changes, err := applyDeltas(db, outcome.Deltas, +1)
	if err != nil {
		return outcome, fmt.Errorf("apply run %s: %w", runID, err)
	}
	outcome.Changes = changes

	log.Printf("apply run=%s concerns=%d changes=%d", runID, len(outcome.Deltas), len(changes))
	return outcome, nil
}

// UndoApply reverses a previously applied run by subtracting its stored
// delta set, restoring each touched weekly window to its pre-apply value.
// A run can be undone once.
func UndoApply(db *sql.DB, runID string) (ApplyOutcome, error) {
	outcome := ApplyOutcome{RunID: runID}

	deltas, undone, err := GetApplyRun(db, runID)
	if err != nil {
		return outcome, err
	}
	if undone {
		return outcome, ErrRunAlreadyUndone
	}
	if err := MarkRunUndone(db, runID); err != nil {
		return outcome, err
	}
	outcome.Deltas = deltas

	changes, err := applyDeltas(db, deltas, -1)
	if err != nil {
		return outcome, fmt.Errorf("undo run %s: %w", runID, err)
	}
	outcome.Changes = changes

	log.Printf("undo run=%s concerns=%d changes=%d", runID, len(deltas), len(changes))
	return outcome, nil
}

// applyDeltas adds sign*delta to W-1 of every listed concern and persists
// the recomputed derived fields, one targeted update per serial.
func applyDeltas(db *sql.DB, deltas map[int64]int, sign int) ([]StatusChange, error) {
	serials := make([]int64, 0, len(deltas))
	for serial := range deltas {
		serials = append(serials, serial)
	}
	sort.Slice(serials, func(i, j int) bool { return serials[i] < serials[j] })

	var before, after []Concern
	for _, serial := range serials {
		c, err := GetConcern(db, serial)
		if err != nil {
			return nil, fmt.Errorf("concern %d: %w", serial, err)
		}
		before = append(before, c)

		AddToLatest(&c, sign*deltas[serial])
		if err := UpsertConcern(db, &c); err != nil {
			return nil, fmt.Errorf("concern %d: %w", serial, err)
		}
		after = append(after, c)
	}
	return DetectStatusChanges(before, after), nil
}
