package main

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS concerns (
		serial         INTEGER PRIMARY KEY,
		source         TEXT DEFAULT '',
		station        TEXT DEFAULT '',
		area           TEXT DEFAULT '',
		description    TEXT NOT NULL,
		severity       INTEGER NOT NULL DEFAULT 1,
		weekly         TEXT NOT NULL DEFAULT '[0,0,0,0,0,0]',
		trim_scores    TEXT NOT NULL DEFAULT '{}',
		chassis_scores TEXT NOT NULL DEFAULT '{}',
		final_scores   TEXT NOT NULL DEFAULT '{}',
		control_scores TEXT NOT NULL DEFAULT '{}',
		control_detail TEXT NOT NULL DEFAULT '{}',
		recurrence_total         INTEGER NOT NULL DEFAULT 0,
		recurrence_with_severity INTEGER NOT NULL DEFAULT 0,
		mfg_rating     INTEGER NOT NULL DEFAULT 0,
		quality_rating INTEGER NOT NULL DEFAULT 0,
		plant_rating   INTEGER NOT NULL DEFAULT 0,
		workstation_status TEXT NOT NULL DEFAULT 'NG',
		mfg_status         TEXT NOT NULL DEFAULT 'NG',
		plant_status       TEXT NOT NULL DEFAULT 'NG',
		defect_code   TEXT DEFAULT '',
		location_code TEXT DEFAULT '',
		owner       TEXT DEFAULT '',
		action      TEXT DEFAULT '',
		target_date TEXT DEFAULT '',
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_concerns_codes ON concerns(defect_code, location_code);

	CREATE TABLE IF NOT EXISTS defects (
		id          TEXT PRIMARY KEY,
		source      TEXT NOT NULL,
		location    TEXT DEFAULT '',
		defect_code TEXT DEFAULT '',
		description TEXT DEFAULT '',
		detail      TEXT DEFAULT '',
		gravity     TEXT DEFAULT '',
		quantity    INTEGER NOT NULL DEFAULT 1,
		responsible TEXT DEFAULT '',
		reported_at DATETIME NOT NULL,
		pairing_state  TEXT NOT NULL DEFAULT 'unpaired',
		pairing_method TEXT NOT NULL DEFAULT '',
		match_score    REAL,
		paired_serial  INTEGER,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_defects_state ON defects(pairing_state);
	CREATE INDEX IF NOT EXISTS idx_defects_serial ON defects(paired_serial);
	CREATE INDEX IF NOT EXISTS idx_defects_source ON defects(source);

	CREATE TABLE IF NOT EXISTS run_matches (
		run_id    TEXT NOT NULL,
		defect_id TEXT NOT NULL,
		serial    INTEGER NOT NULL,
		method    TEXT NOT NULL,
		score     REAL NOT NULL,
		quantity  INTEGER NOT NULL,
		PRIMARY KEY (run_id, defect_id)
	);

	CREATE TABLE IF NOT EXISTS apply_runs (
		run_id     TEXT PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		undone     INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS apply_deltas (
		run_id TEXT NOT NULL,
		serial INTEGER NOT NULL,
		delta  INTEGER NOT NULL,
		PRIMARY KEY (run_id, serial)
	);
	`
	_, err = db.Exec(schema)
	if err != nil {
		return nil, err
	}
	return db, nil
}

func marshalJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func concernFields(c *Concern) ([]any, error) {
	weekly, err := marshalJSON(c.Weekly[:])
	if err != nil {
		return nil, err
	}
	trim, err := marshalJSON(c.Trim)
	if err != nil {
		return nil, err
	}
	chassis, err := marshalJSON(c.Chassis)
	if err != nil {
		return nil, err
	}
	final, err := marshalJSON(c.Final)
	if err != nil {
		return nil, err
	}
	control, err := marshalJSON(c.Control)
	if err != nil {
		return nil, err
	}
	detail, err := marshalJSON(c.ControlDetail)
	if err != nil {
		return nil, err
	}
	return []any{
		c.Serial, c.Source, c.Station, c.Area, c.Description, c.Severity,
		weekly, trim, chassis, final, control, detail,
		c.RecurrenceTotal, c.RecurrenceWithSeverity,
		c.MfgRating, c.QualityRating, c.PlantRating,
		c.WorkstationStatus, c.MfgStatus, c.PlantStatus,
		c.DefectCode, c.LocationCode,
		c.Owner, c.Action, c.TargetDate,
	}, nil
}

const upsertConcernSQL = `INSERT INTO concerns
	(serial, source, station, area, description, severity,
	 weekly, trim_scores, chassis_scores, final_scores, control_scores, control_detail,
	 recurrence_total, recurrence_with_severity,
	 mfg_rating, quality_rating, plant_rating,
	 workstation_status, mfg_status, plant_status,
	 defect_code, location_code, owner, action, target_date, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	ON CONFLICT(serial) DO UPDATE SET
	 source=excluded.source, station=excluded.station, area=excluded.area,
	 description=excluded.description, severity=excluded.severity,
	 weekly=excluded.weekly, trim_scores=excluded.trim_scores,
	 chassis_scores=excluded.chassis_scores, final_scores=excluded.final_scores,
	 control_scores=excluded.control_scores, control_detail=excluded.control_detail,
	 recurrence_total=excluded.recurrence_total,
	 recurrence_with_severity=excluded.recurrence_with_severity,
	 mfg_rating=excluded.mfg_rating, quality_rating=excluded.quality_rating,
	 plant_rating=excluded.plant_rating,
	 workstation_status=excluded.workstation_status, mfg_status=excluded.mfg_status,
	 plant_status=excluded.plant_status,
	 defect_code=excluded.defect_code, location_code=excluded.location_code,
	 owner=excluded.owner, action=excluded.action, target_date=excluded.target_date,
	 updated_at=CURRENT_TIMESTAMP`

// UpsertConcern writes a concern keyed by serial. Last write wins per key;
// there is no version check on concurrent edits.
func UpsertConcern(db *sql.DB, c *Concern) error {
	Recalculate(c)
	args, err := concernFields(c)
	if err != nil {
		return fmt.Errorf("encoding concern %d: %w", c.Serial, err)
	}
	_, err = db.Exec(upsertConcernSQL, args...)
	return err
}

// UpsertConcerns writes a batch of concerns in one transaction.
func UpsertConcerns(db *sql.DB, concerns []Concern) (int, error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(upsertConcernSQL)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	written := 0
	for i := range concerns {
		Recalculate(&concerns[i])
		args, err := concernFields(&concerns[i])
		if err != nil {
			return written, fmt.Errorf("encoding concern %d: %w", concerns[i].Serial, err)
		}
		if _, err := stmt.Exec(args...); err != nil {
			return written, err
		}
		written++
	}
	return written, tx.Commit()
}

const selectConcernSQL = `SELECT serial, source, station, area, description, severity,
	 weekly, trim_scores, chassis_scores, final_scores, control_scores, control_detail,
	 recurrence_total, recurrence_with_severity,
	 mfg_rating, quality_rating, plant_rating,
	 workstation_status, mfg_status, plant_status,
	 defect_code, location_code, owner, action, target_date, created_at, updated_at
	 FROM concerns`

func scanConcern(scan func(...any) error) (Concern, error) {
	var c Concern
	var weekly, trim, chassis, final, control, detail string
	err := scan(
		&c.Serial, &c.Source, &c.Station, &c.Area, &c.Description, &c.Severity,
		&weekly, &trim, &chassis, &final, &control, &detail,
		&c.RecurrenceTotal, &c.RecurrenceWithSeverity,
		&c.MfgRating, &c.QualityRating, &c.PlantRating,
		&c.WorkstationStatus, &c.MfgStatus, &c.PlantStatus,
		&c.DefectCode, &c.LocationCode, &c.Owner, &c.Action, &c.TargetDate,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return c, err
	}

	var buckets []int
	if err := json.Unmarshal([]byte(weekly), &buckets); err != nil {
		return c, fmt.Errorf("decoding weekly for concern %d: %w", c.Serial, err)
	}
	copy(c.Weekly[:], buckets)

	for _, pair := range []struct {
		raw string
		dst any
	}{
		{trim, &c.Trim}, {chassis, &c.Chassis}, {final, &c.Final},
		{control, &c.Control}, {detail, &c.ControlDetail},
	} {
		if err := json.Unmarshal([]byte(pair.raw), pair.dst); err != nil {
			return c, fmt.Errorf("decoding scores for concern %d: %w", c.Serial, err)
		}
	}
	return c, nil
}

func GetConcern(db *sql.DB, serial int64) (Concern, error) {
	row := db.QueryRow(selectConcernSQL+" WHERE serial = ?", serial)
	c, err := scanConcern(row.Scan)
	if err == sql.ErrNoRows {
		return c, ErrConcernNotFound
	}
	return c, err
}

func ListConcerns(db *sql.DB) ([]Concern, error) {
	rows, err := db.Query(selectConcernSQL + " ORDER BY serial")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Concern
	for rows.Next() {
		c, err := scanConcern(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// NextSerial allocates the next unused concern key.
func NextSerial(db *sql.DB) (int64, error) {
	var max sql.NullInt64
	err := db.QueryRow(`SELECT MAX(serial) FROM concerns`).Scan(&max)
	if err != nil {
		return 0, err
	}
	return max.Int64 + 1, nil
}

// --- Defects ---

func InsertDefects(db *sql.DB, defects []DefectRecord) (int, error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO defects (id, source, location, defect_code, description, detail, gravity, quantity, responsible, reported_at, pairing_state)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'unpaired')`,
	)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	inserted := 0
	for _, d := range defects {
		_, err := stmt.Exec(
			d.ID, d.Source, d.Location, d.DefectCode, d.Description, d.Detail,
			d.Gravity, d.Quantity, d.Responsible, d.ReportedAt,
		)
		if err != nil {
			return inserted, err
		}
		inserted++
	}
	return inserted, tx.Commit()
}

const selectDefectSQL = `SELECT id, source, location, defect_code, description, detail, gravity, quantity, responsible, reported_at,
	 pairing_state, pairing_method, match_score, paired_serial, created_at FROM defects`

func scanDefect(scan func(...any) error) (DefectRecord, error) {
	var d DefectRecord
	var score sql.NullFloat64
	var serial sql.NullInt64
	err := scan(
		&d.ID, &d.Source, &d.Location, &d.DefectCode, &d.Description, &d.Detail,
		&d.Gravity, &d.Quantity, &d.Responsible, &d.ReportedAt,
		&d.PairingState, &d.PairingMethod, &score, &serial, &d.CreatedAt,
	)
	if err != nil {
		return d, err
	}
	if score.Valid {
		v := score.Float64
		d.MatchScore = &v
	}
	if serial.Valid {
		v := serial.Int64
		d.PairedSerial = &v
	}
	return d, nil
}

func GetDefect(db *sql.DB, id string) (DefectRecord, error) {
	row := db.QueryRow(selectDefectSQL+" WHERE id = ?", id)
	d, err := scanDefect(row.Scan)
	if err == sql.ErrNoRows {
		return d, ErrDefectNotFound
	}
	return d, err
}

func queryDefects(db *sql.DB, where string, args ...any) ([]DefectRecord, error) {
	rows, err := db.Query(selectDefectSQL+" "+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DefectRecord
	for rows.Next() {
		d, err := scanDefect(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func ListUnpairedDefects(db *sql.DB) ([]DefectRecord, error) {
	return queryDefects(db, "WHERE pairing_state = 'unpaired' ORDER BY reported_at, id")
}

func ListDefectsBySerial(db *sql.DB, serial int64) ([]DefectRecord, error) {
	return queryDefects(db, "WHERE paired_serial = ? ORDER BY reported_at, id", serial)
}

func GetDefectsByIDs(db *sql.DB, ids []string) ([]DefectRecord, error) {
	out := make([]DefectRecord, 0, len(ids))
	for _, id := range ids {
		d, err := GetDefect(db, id)
		if err != nil {
			return nil, fmt.Errorf("defect %s: %w", id, err)
		}
		out = append(out, d)
	}
	return out, nil
}

// pairDefect is the compare-and-set behind Pair: the transition only
// happens if the row is still unpaired, so two concurrent runs cannot
// both claim the same defect.
func pairDefect(db *sql.DB, id string, serial int64, method string, score *float64) error {
	res, err := db.Exec(
		`UPDATE defects SET pairing_state = 'paired', pairing_method = ?, match_score = ?, paired_serial = ?
		 WHERE id = ? AND pairing_state = 'unpaired'`,
		method, score, serial, id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	if _, err := GetDefect(db, id); err != nil {
		return err
	}
	return ErrAlreadyPaired
}

func unpairDefect(db *sql.DB, id string) error {
	res, err := db.Exec(
		`UPDATE defects SET pairing_state = 'unpaired', pairing_method = '', match_score = NULL, paired_serial = NULL
		 WHERE id = ? AND pairing_state = 'paired'`,
		id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	if _, err := GetDefect(db, id); err != nil {
		return err
	}
	return ErrNotPaired
}

func reassignDefect(db *sql.DB, id string, fromSerial, toSerial int64) error {
	res, err := db.Exec(
		`UPDATE defects SET paired_serial = ?, pairing_method = 'manual', match_score = NULL
		 WHERE id = ? AND pairing_state = 'paired' AND paired_serial = ?`,
		toSerial, id, fromSerial,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	d, err := GetDefect(db, id)
	if err != nil {
		return err
	}
	if !d.Paired() {
		return ErrNotPaired
	}
	return ErrPairedElsewhere
}

// --- Run matches ---

// InsertRunMatches records the accepted matches of a reconciliation run so
// the run can be applied (or audited) later.
func InsertRunMatches(db *sql.DB, runID string, matches []AcceptedMatch) error {
	if len(matches) == 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO run_matches (run_id, defect_id, serial, method, score, quantity) VALUES (?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, m := range matches {
		if _, err := stmt.Exec(runID, m.DefectID, m.Serial, m.Method, m.Score, m.Quantity); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetRunMatches returns the stored matches of a run, or ErrRunNotFound if
// the run recorded none.
func GetRunMatches(db *sql.DB, runID string) ([]AcceptedMatch, error) {
	rows, err := db.Query(
		`SELECT defect_id, serial, method, score, quantity FROM run_matches WHERE run_id = ? ORDER BY defect_id`,
		runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AcceptedMatch
	for rows.Next() {
		var m AcceptedMatch
		if err := rows.Scan(&m.DefectID, &m.Serial, &m.Method, &m.Score, &m.Quantity); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrRunNotFound
	}
	return out, nil
}

// --- Apply runs ---

// InsertApplyRun records a run and its per-concern deltas atomically. A
// duplicate run id is rejected so the same reconciliation batch cannot be
// folded in twice.
func InsertApplyRun(db *sql.DB, runID string, deltas map[int64]int) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM apply_runs WHERE run_id = ?`, runID).Scan(&exists); err != nil {
		return err
	}
	if exists > 0 {
		return ErrRunAlreadyApplied
	}

	if _, err := tx.Exec(`INSERT INTO apply_runs (run_id) VALUES (?)`, runID); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT INTO apply_deltas (run_id, serial, delta) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for serial, delta := range deltas {
		if _, err := stmt.Exec(runID, serial, delta); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetApplyRun returns the stored delta set and whether the run was undone.
func GetApplyRun(db *sql.DB, runID string) (map[int64]int, bool, error) {
	var undone int
	err := db.QueryRow(`SELECT undone FROM apply_runs WHERE run_id = ?`, runID).Scan(&undone)
	if err == sql.ErrNoRows {
		return nil, false, ErrRunNotFound
	}
	if err != nil {
		return nil, false, err
	}

	rows, err := db.Query(`SELECT serial, delta FROM apply_deltas WHERE run_id = ?`, runID)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	deltas := make(map[int64]int)
	for rows.Next() {
		var serial int64
		var delta int
		if err := rows.Scan(&serial, &delta); err != nil {
			return nil, false, err
		}
		deltas[serial] = delta
	}
	return deltas, undone != 0, rows.Err()
}

func MarkRunUndone(db *sql.DB, runID string) error {
	res, err := db.Exec(`UPDATE apply_runs SET undone = 1 WHERE run_id = ? AND undone = 0`, runID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRunAlreadyUndone
	}
	return nil
}

// --- Purge ---

func DeleteDefectsBySource(db *sql.DB, source string) (int64, error) {
	res, err := db.Exec(`DELETE FROM defects WHERE source = ?`, source)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func DeleteAllDefects(db *sql.DB) (int64, error) {
	res, err := db.Exec(`DELETE FROM defects`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func DeleteAllConcerns(db *sql.DB) (int64, error) {
	res, err := db.Exec(`DELETE FROM concerns`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
