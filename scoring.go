package main

import "fmt"

func sumNonNil(values []*int) int {
	total := 0
	for _, v := range values {
		if v != nil {
			total += *v
		}
	}
	return total
}

// MfgRating sums every inspected checkpoint across the trim, chassis and
// final groups, excluding ResidualTorque. Uninspected (nil) checkpoints
// contribute nothing.
func MfgRating(c Concern) int {
	return sumNonNil(c.Trim.values()) + sumNonNil(c.Chassis.values()) + sumNonNil(c.Final.valuesWithoutResidual())
}

// QualityRating sums the inspected control-method checkpoints.
func QualityRating(c Concern) int {
	return sumNonNil(c.Control.values())
}

// PlantRating is ResidualTorque plus control-method plus control-detail.
func PlantRating(c Concern) int {
	residual := 0
	if c.Final.ResidualTorque != nil {
		residual = *c.Final.ResidualTorque
	}
	return residual + sumNonNil(c.Control.values()) + sumNonNil(c.ControlDetail.values())
}

// EvaluateStatuses derives the three OK/NG verdicts. Ties pass: a rating
// equal to the severity is OK. Any recurrence forces the workstation
// status to NG regardless of rating.
func EvaluateStatuses(mfgRating, plantRating, severity, recurrenceTotal int) (workstation, mfg, plant string) {
	mfg = StatusNG
	if mfgRating >= severity {
		mfg = StatusOK
	}
	plant = StatusNG
	if plantRating >= severity {
		plant = StatusOK
	}
	workstation = StatusNG
	if recurrenceTotal == 0 && mfgRating >= severity {
		workstation = StatusOK
	}
	return workstation, mfg, plant
}

// Recalculate recomputes every derived field of a concern from its current
// inputs. All callers that mutate a concern must run this before persisting
// so the stored view is never stale.
func Recalculate(c *Concern) {
	total := 0
	for _, w := range c.Weekly {
		total += w
	}
	c.RecurrenceTotal = total
	c.RecurrenceWithSeverity = total + c.Severity

	c.MfgRating = MfgRating(*c)
	c.QualityRating = QualityRating(*c)
	c.PlantRating = PlantRating(*c)

	c.WorkstationStatus, c.MfgStatus, c.PlantStatus = EvaluateStatuses(
		c.MfgRating, c.PlantRating, c.Severity, c.RecurrenceTotal)
}

// StatusChange records one status transition between two snapshots of a
// concern.
type StatusChange struct {
	Serial      int64
	Description string
	Field       string
	Old         string
	New         string
}

func (s StatusChange) String() string {
	return fmt.Sprintf("S.No %d %s: %s -> %s", s.Serial, s.Field, s.Old, s.New)
}

// DetectStatusChanges compares concerns by serial and reports every OK/NG
// flip. Concerns present in only one snapshot are ignored.
func DetectStatusChanges(old, updated []Concern) []StatusChange {
	prev := make(map[int64]Concern, len(old))
	for _, c := range old {
		prev[c.Serial] = c
	}

	var changes []StatusChange
	for _, c := range updated {
		o, ok := prev[c.Serial]
		if !ok {
			continue
		}
		fields := []struct {
			name     string
			old, new string
		}{
			{"workstation_status", o.WorkstationStatus, c.WorkstationStatus},
			{"mfg_status", o.MfgStatus, c.MfgStatus},
			{"plant_status", o.PlantStatus, c.PlantStatus},
		}
		for _, f := range fields {
			if f.old != f.new {
				changes = append(changes, StatusChange{
					Serial:      c.Serial,
					Description: c.Description,
					Field:       f.name,
					Old:         f.old,
					New:         f.new,
				})
			}
		}
	}
	return changes
}

// NGSummary aggregates NG counts across the matrix.
type NGSummary struct {
	Total         int
	WorkstationNG int
	MfgNG         int
	PlantNG       int
	// Critical counts plant-NG concerns carrying the highest severity.
	Critical int
	ByArea   map[string]int // plant-NG per area
}

// SummarizeNG walks the matrix and counts NG verdicts per level.
func SummarizeNG(concerns []Concern) NGSummary {
	s := NGSummary{ByArea: make(map[string]int)}
	for _, c := range concerns {
		s.Total++
		if c.WorkstationStatus == StatusNG {
			s.WorkstationNG++
		}
		if c.MfgStatus == StatusNG {
			s.MfgNG++
		}
		if c.PlantStatus == StatusNG {
			s.PlantNG++
			s.ByArea[c.Area]++
			if c.Severity == 5 {
				s.Critical++
			}
		}
	}
	return s
}
