package main

import "testing"

func TestSetBucketValidation(t *testing.T) {
	c := Concern{Severity: 1, Description: "x"}

	if err := SetBucket(&c, -1, 1); err == nil {
		t.Fatal("negative week index should fail")
	}
	if err := SetBucket(&c, 6, 1); err == nil {
		t.Fatal("week index 6 should fail")
	}
	if err := SetBucket(&c, 0, -2); err == nil {
		t.Fatal("negative value should fail")
	}

	if err := SetBucket(&c, 2, 4); err != nil {
		t.Fatalf("SetBucket failed: %v", err)
	}
	if c.Weekly[2] != 4 || c.RecurrenceTotal != 4 {
		t.Fatalf("weekly=%v total=%d", c.Weekly, c.RecurrenceTotal)
	}
}

func TestAddToLatest(t *testing.T) {
	c := Concern{Severity: 1, Weekly: [6]int{0, 0, 0, 0, 0, 2}}
	AddToLatest(&c, 3)
	if c.Weekly[5] != 5 {
		t.Fatalf("W-1 = %d, want 5", c.Weekly[5])
	}
	if c.RecurrenceTotal != 5 {
		t.Fatalf("total = %d, want 5", c.RecurrenceTotal)
	}

	AddToLatest(&c, -5)
	if c.Weekly[5] != 0 || c.RecurrenceTotal != 0 {
		t.Fatalf("negative delta should restore: weekly=%v total=%d", c.Weekly, c.RecurrenceTotal)
	}
}

func TestShiftWindow(t *testing.T) {
	c := Concern{Severity: 1, Weekly: [6]int{6, 5, 4, 3, 2, 1}}
	ShiftWindow(&c)

	want := [6]int{5, 4, 3, 2, 1, 0}
	if c.Weekly != want {
		t.Fatalf("weekly = %v, want %v", c.Weekly, want)
	}
	if c.RecurrenceTotal != 15 {
		t.Fatalf("total = %d, want 15", c.RecurrenceTotal)
	}
}

func TestShiftWindowStatusFlip(t *testing.T) {
	// Only recurrence in W-6: one shift drops it and the workstation
	// recovers, given a covering rating.
	c := Concern{Severity: 1, Weekly: [6]int{1, 0, 0, 0, 0, 0}, Trim: TrimScores{T10: intp(1)}}
	Recalculate(&c)
	if c.WorkstationStatus != StatusNG {
		t.Fatalf("expected NG before shift, got %s", c.WorkstationStatus)
	}

	ShiftWindow(&c)
	if c.WorkstationStatus != StatusOK {
		t.Fatalf("expected OK after shift, got %s", c.WorkstationStatus)
	}
}

func TestWeeklyTrend(t *testing.T) {
	cases := []struct {
		name   string
		weekly [6]int
		want   string
	}{
		{"all zero", [6]int{}, TrendInactive},
		{"only last week", [6]int{0, 0, 0, 0, 0, 3}, TrendNewSpike},
		{"ramping up", [6]int{1, 1, 1, 2, 4, 5}, TrendIncreasing},
		{"dying down", [6]int{4, 4, 4, 1, 1, 0}, TrendDecreasing},
		{"flat", [6]int{2, 2, 2, 2, 2, 2}, TrendStable},
		{"old only", [6]int{3, 0, 0, 0, 0, 0}, TrendDecreasing},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := WeeklyTrend(tc.weekly); got != tc.want {
				t.Fatalf("WeeklyTrend(%v) = %s, want %s", tc.weekly, got, tc.want)
			}
		})
	}
}
