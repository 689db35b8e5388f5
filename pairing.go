package main

import (
	"database/sql"
	"fmt"
	"log"
)

// Pair attributes an unpaired defect to a concern. The target concern must
// exist and the defect must still be unpaired; otherwise nothing changes.
func Pair(db *sql.DB, defectID string, serial int64, method string, score *float64) error {
	if _, err := GetConcern(db, serial); err != nil {
		return err
	}
	if err := pairDefect(db, defectID, serial, method, score); err != nil {
		return err
	}
	log.Printf("pair defect=%s serial=%d method=%s", defectID, serial, method)
	return nil
}

// ManualPair is a human-initiated pairing. No confidence is recorded:
// only the exact-code matcher asserts certainty by construction.
func ManualPair(db *sql.DB, defectID string, serial int64) error {
	return Pair(db, defectID, serial, MethodManual, nil)
}

// Unpair returns a paired defect to the unpaired state and clears its
// pairing fields. It deliberately does not touch any concern's recurrence
// buckets: recurrence is a historical record, pairing is attribution. A
// caller that wants the aggregation reversed must undo the apply run that
// folded this defect in.
func Unpair(db *sql.DB, defectID string) error {
	if err := unpairDefect(db, defectID); err != nil {
		return err
	}
	log.Printf("unpair defect=%s", defectID)
	return nil
}

// Reassign repoints a paired defect from one concern to another. The
// defect must currently be paired to fromSerial and the target concern
// must exist; on success the method becomes manual.
func Reassign(db *sql.DB, defectID string, fromSerial, toSerial int64) error {
	if _, err := GetConcern(db, toSerial); err != nil {
		return fmt.Errorf("reassign target %d: %w", toSerial, err)
	}
	if err := reassignDefect(db, defectID, fromSerial, toSerial); err != nil {
		return err
	}
	log.Printf("reassign defect=%s from=%d to=%d", defectID, fromSerial, toSerial)
	return nil
}

// CreateConcernFromDefect allocates a fresh concern seeded from a defect
// and pairs the defect to it. The defect's quantity lands directly in the
// W-1 bucket; all score groups start uninspected.
func CreateConcernFromDefect(db *sql.DB, defectID string, area string, severity int) (Concern, error) {
	if !validAreas[area] {
		return Concern{}, fmt.Errorf("unknown area %q", area)
	}
	if severity != 1 && severity != 3 && severity != 5 {
		return Concern{}, fmt.Errorf("severity must be 1, 3 or 5, got %d", severity)
	}

	d, err := GetDefect(db, defectID)
	if err != nil {
		return Concern{}, err
	}
	if d.Paired() {
		return Concern{}, ErrAlreadyPaired
	}

	serial, err := NextSerial(db)
	if err != nil {
		return Concern{}, err
	}

	c := Concern{
		Serial:       serial,
		Source:       d.Source,
		Station:      d.Location,
		Area:         area,
		Description:  d.Description,
		Severity:     severity,
		Weekly:       [6]int{0, 0, 0, 0, 0, d.Quantity},
		DefectCode:   d.DefectCode,
		LocationCode: d.Location,
	}
	if err := UpsertConcern(db, &c); err != nil {
		return Concern{}, err
	}
	if err := pairDefect(db, defectID, serial, MethodManual, nil); err != nil {
		return Concern{}, err
	}
	log.Printf("new concern serial=%d from defect=%s qty=%d", serial, defectID, d.Quantity)
	return c, nil
}
