package main

import (
	"errors"
	"testing"
)

func TestApplyMatchesSumsPerConcern(t *testing.T) {
	db := newTestDB(t)

	c1 := Concern{Serial: 1, Description: "a", Severity: 1, Trim: TrimScores{T10: intp(1)}}
	c2 := Concern{Serial: 2, Description: "b", Severity: 1, Trim: TrimScores{T10: intp(1)}}
	mustUpsertConcern(t, db, &c1)
	mustUpsertConcern(t, db, &c2)

	matches := []AcceptedMatch{
		{DefectID: "d1", Serial: 1, Quantity: 2},
		{DefectID: "d2", Serial: 1, Quantity: 3},
		{DefectID: "d3", Serial: 2, Quantity: 1},
	}

	outcome, err := ApplyMatches(db, "run-1", matches)
	if err != nil {
		t.Fatalf("ApplyMatches failed: %v", err)
	}
	if outcome.Deltas[1] != 5 || outcome.Deltas[2] != 1 {
		t.Fatalf("deltas off: %v", outcome.Deltas)
	}

	got1, _ := GetConcern(db, 1)
	got2, _ := GetConcern(db, 2)
	if got1.Weekly[5] != 5 || got2.Weekly[5] != 1 {
		t.Fatalf("W-1 got %d and %d, want 5 and 1", got1.Weekly[5], got2.Weekly[5])
	}

	// Both concerns were quiet and covered; the new recurrence flips them.
	if len(outcome.Changes) != 2 {
		t.Fatalf("expected 2 status changes, got %v", outcome.Changes)
	}
	for _, ch := range outcome.Changes {
		if ch.Field != "workstation_status" || ch.Old != StatusOK || ch.New != StatusNG {
			t.Fatalf("unexpected change: %+v", ch)
		}
	}
}

func TestApplyMatchesIdempotencyGuard(t *testing.T) {
	db := newTestDB(t)

	c := Concern{Serial: 1, Description: "a", Severity: 1}
	mustUpsertConcern(t, db, &c)

	matches := []AcceptedMatch{{DefectID: "d1", Serial: 1, Quantity: 2}}
	if _, err := ApplyMatches(db, "run-1", matches); err != nil {
		t.Fatalf("first apply failed: %v", err)
	}
	if _, err := ApplyMatches(db, "run-1", matches); !errors.Is(err, ErrRunAlreadyApplied) {
		t.Fatalf("expected ErrRunAlreadyApplied, got %v", err)
	}

	got, _ := GetConcern(db, 1)
	if got.Weekly[5] != 2 {
		t.Fatalf("second apply must not double-count, W-1 = %d", got.Weekly[5])
	}
}

func TestApplyMatchesEmptyRunIsNoop(t *testing.T) {
	db := newTestDB(t)

	outcome, err := ApplyMatches(db, "run-1", nil)
	if err != nil {
		t.Fatalf("ApplyMatches failed: %v", err)
	}
	if len(outcome.Deltas) != 0 {
		t.Fatalf("expected no deltas, got %v", outcome.Deltas)
	}
	// An empty run records nothing, so the id stays free.
	if _, _, err := GetApplyRun(db, "run-1"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}

func TestUndoApplyRestoresWindow(t *testing.T) {
	db := newTestDB(t)

	c := Concern{Serial: 1, Description: "a", Severity: 1, Weekly: [6]int{0, 1, 0, 0, 0, 2}, Trim: TrimScores{T10: intp(1)}}
	mustUpsertConcern(t, db, &c)

	matches := []AcceptedMatch{{DefectID: "d1", Serial: 1, Quantity: 4}}
	if _, err := ApplyMatches(db, "run-1", matches); err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	mid, _ := GetConcern(db, 1)
	if mid.Weekly[5] != 6 {
		t.Fatalf("W-1 after apply = %d, want 6", mid.Weekly[5])
	}

	outcome, err := UndoApply(db, "run-1")
	if err != nil {
		t.Fatalf("UndoApply failed: %v", err)
	}
	if outcome.Deltas[1] != 4 {
		t.Fatalf("undo deltas off: %v", outcome.Deltas)
	}

	got, _ := GetConcern(db, 1)
	if got.Weekly != ([6]int{0, 1, 0, 0, 0, 2}) {
		t.Fatalf("window not restored: %v", got.Weekly)
	}
	if got.RecurrenceTotal != 3 {
		t.Fatalf("total not restored: %d", got.RecurrenceTotal)
	}
}

func TestUndoApplyOnlyOnce(t *testing.T) {
	db := newTestDB(t)

	c := Concern{Serial: 1, Description: "a", Severity: 1}
	mustUpsertConcern(t, db, &c)

	if _, err := ApplyMatches(db, "run-1", []AcceptedMatch{{DefectID: "d1", Serial: 1, Quantity: 1}}); err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if _, err := UndoApply(db, "run-1"); err != nil {
		t.Fatalf("first undo failed: %v", err)
	}
	if _, err := UndoApply(db, "run-1"); !errors.Is(err, ErrRunAlreadyUndone) {
		t.Fatalf("expected ErrRunAlreadyUndone, got %v", err)
	}

	got, _ := GetConcern(db, 1)
	if got.Weekly[5] != 0 {
		t.Fatalf("double undo must not subtract twice, W-1 = %d", got.Weekly[5])
	}
}

func TestUndoApplyUnknownRun(t *testing.T) {
	db := newTestDB(t)
	if _, err := UndoApply(db, "missing"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}
