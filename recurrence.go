package main

import "fmt"

// The recurrence window covers the six most recent weekly periods,
// Weekly[0] = W-6 (oldest) through Weekly[5] = W-1 (last week).
const weekBuckets = 6

// SetBucket writes a single weekly bucket and recomputes the derived
// fields. Used for manual corrections.
func SetBucket(c *Concern, weekIndex, value int) error {
	if weekIndex < 0 || weekIndex >= weekBuckets {
		return fmt.Errorf("week index %d out of range 0..%d", weekIndex, weekBuckets-1)
	}
	if value < 0 {
		return fmt.Errorf("bucket value must be non-negative, got %d", value)
	}
	c.Weekly[weekIndex] = value
	Recalculate(c)
	return nil
}

// AddToLatest folds a matched defect quantity into W-1, leaving the older
// buckets untouched, and recomputes the derived fields.
func AddToLatest(c *Concern, delta int) {
	c.Weekly[weekBuckets-1] += delta
	Recalculate(c)
}

// ShiftWindow advances the window by one week: W-6 is dropped, every
// bucket moves one position toward the past, and the new W-1 starts at
// zero. Nothing in this engine calls it on its own; the trigger cadence
// is decided externally (the shift subcommand or the watch scheduler).
func ShiftWindow(c *Concern) {
	copy(c.Weekly[:], c.Weekly[1:])
	c.Weekly[weekBuckets-1] = 0
	Recalculate(c)
}

// Weekly trend classifications.
const (
	TrendInactive   = "inactive"
	TrendNewSpike   = "new_spike"
	TrendIncreasing = "increasing"
	TrendDecreasing = "decreasing"
	TrendStable     = "stable"
)

// WeeklyTrend classifies the shape of a concern's recurrence window:
// a fresh spike in W-1, a worsening or improving drift, or a flat line.
func WeeklyTrend(weekly [6]int) string {
	total := 0
	for _, w := range weekly {
		total += w
	}
	if total == 0 {
		return TrendInactive
	}

	olderOnly := true
	for _, w := range weekly[:weekBuckets-1] {
		if w > 0 {
			olderOnly = false
			break
		}
	}
	if weekly[weekBuckets-1] > 0 && olderOnly {
		return TrendNewSpike
	}

	recent := float64(weekly[4]+weekly[5]) / 2
	older := float64(weekly[0]+weekly[1]+weekly[2]) / 3

	switch {
	case recent > older*1.5:
		return TrendIncreasing
	case recent < older*0.5:
		return TrendDecreasing
	default:
		return TrendStable
	}
}
