package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Column order is the single source of truth shared by export and import:
// exporting a concern and importing the row back yields an identical
// concern. Uninspected checkpoints export as empty cells, scored zeros as
// "0"; the two must never collapse into each other.
var (
	concernBaseColumns = []string{
		"serial", "source", "station", "area", "description", "severity",
		"defect_code", "location_code", "owner", "action", "target_date",
	}
	weeklyColumns  = []string{"w6", "w5", "w4", "w3", "w2", "w1"}
	trimColumns    = []string{"T10", "T20", "T30", "T40", "T50", "T60", "T70", "T80", "T90", "T100", "TPQG"}
	chassisColumns = []string{"C10", "C20", "C30", "C40", "C45", "P10", "P20", "P30", "C50", "C60", "C70", "RSub", "TS", "C80", "CPQG"}
	finalColumns   = []string{"F10", "F20", "F30", "F40", "F50", "F60", "F70", "F80", "F90", "F100", "FPQG", "ResidualTorque"}
	controlColumns = []string{
		"freq_control_1_1", "visual_control_1_2", "periodic_audit_1_3", "human_control_1_4",
		"sae_alert_3_1", "freq_measure_3_2", "manual_tool_3_3", "human_tracking_3_4",
		"auto_control_5_1", "impossibility_5_2", "sae_prohibition_5_3",
	}
	controlDetailColumns = []string{"CVT", "SHOWER", "DynamicUB", "CC4"}
	concernDerivedColumns = []string{
		"recurrence_total", "recurrence_with_severity",
		"mfg_rating", "quality_rating", "plant_rating",
		"workstation_status", "mfg_status", "plant_status",
	}
)

// ConcernColumns returns the fixed export column order.
func ConcernColumns() []string {
	var cols []string
	cols = append(cols, concernBaseColumns...)
	cols = append(cols, weeklyColumns...)
	cols = append(cols, trimColumns...)
	cols = append(cols, chassisColumns...)
	cols = append(cols, finalColumns...)
	cols = append(cols, controlColumns...)
	cols = append(cols, controlDetailColumns...)
	cols = append(cols, concernDerivedColumns...)
	return cols
}

// groupToCells flattens a score group into cells following the given
// column order. The group's json tags are the column names.
func groupToCells(group any, columns []string) ([]string, error) {
	data, err := json.Marshal(group)
	if err != nil {
		return nil, err
	}
	var m map[string]*int
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	cells := make([]string, len(columns))
	for i, col := range columns {
		if v := m[col]; v != nil {
			cells[i] = strconv.Itoa(*v)
		}
	}
	return cells, nil
}

// cellsToGroup parses cells back into a score group, rejecting non-numeric
// values. Empty cells stay nil.
func cellsToGroup(cells, columns []string, group any) error {
	m := make(map[string]*int, len(columns))
	for i, col := range columns {
		cell := strings.TrimSpace(cells[i])
		if cell == "" {
			continue
		}
		v, err := strconv.Atoi(cell)
		if err != nil {
			return fmt.Errorf("column %s: non-numeric score %q", col, cell)
		}
		m[col] = &v
	}
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, group)
}

// ConcernToRow renders a concern in the fixed column order.
func ConcernToRow(c Concern) ([]string, error) {
	row := []string{
		strconv.FormatInt(c.Serial, 10), c.Source, c.Station, c.Area, c.Description,
		strconv.Itoa(c.Severity), c.DefectCode, c.LocationCode, c.Owner, c.Action, c.TargetDate,
	}
	for _, w := range c.Weekly {
		row = append(row, strconv.Itoa(w))
	}
	for _, g := range []struct {
		group   any
		columns []string
	}{
		{c.Trim, trimColumns}, {c.Chassis, chassisColumns}, {c.Final, finalColumns},
		{c.Control, controlColumns}, {c.ControlDetail, controlDetailColumns},
	} {
		cells, err := groupToCells(g.group, g.columns)
		if err != nil {
			return nil, err
		}
		row = append(row, cells...)
	}
	row = append(row,
		strconv.Itoa(c.RecurrenceTotal), strconv.Itoa(c.RecurrenceWithSeverity),
		strconv.Itoa(c.MfgRating), strconv.Itoa(c.QualityRating), strconv.Itoa(c.PlantRating),
		c.WorkstationStatus, c.MfgStatus, c.PlantStatus,
	)
	return row, nil
}

// ConcernFromRow parses a row in the fixed column order back into a
// concern. Derived cells are ignored; the concern is recalculated so the
// derived fields always agree with their inputs.
func ConcernFromRow(row []string) (Concern, error) {
	want := len(ConcernColumns())
	if len(row) != want {
		return Concern{}, fmt.Errorf("expected %d columns, got %d", want, len(row))
	}

	var c Concern
	var err error
	c.Serial, err = strconv.ParseInt(strings.TrimSpace(row[0]), 10, 64)
	if err != nil {
		return Concern{}, fmt.Errorf("column serial: %q is not an integer", row[0])
	}
	c.Source = row[1]
	c.Station = row[2]
	c.Area = row[3]
	c.Description = strings.TrimSpace(row[4])
	if c.Description == "" {
		return Concern{}, fmt.Errorf("column description: required")
	}
	c.Severity, err = strconv.Atoi(strings.TrimSpace(row[5]))
	if err != nil {
		return Concern{}, fmt.Errorf("column severity: %q is not an integer", row[5])
	}
	if c.Severity != 1 && c.Severity != 3 && c.Severity != 5 {
		return Concern{}, fmt.Errorf("column severity: must be 1, 3 or 5, got %d", c.Severity)
	}
	c.DefectCode = row[6]
	c.LocationCode = row[7]
	c.Owner = row[8]
	c.Action = row[9]
	c.TargetDate = row[10]

	pos := len(concernBaseColumns)
	for i := 0; i < weekBuckets; i++ {
		w, err := strconv.Atoi(strings.TrimSpace(row[pos+i]))
		if err != nil {
			return Concern{}, fmt.Errorf("column %s: %q is not an integer", weeklyColumns[i], row[pos+i])
		}
		if w < 0 {
			return Concern{}, fmt.Errorf("column %s: must be non-negative", weeklyColumns[i])
		}
		c.Weekly[i] = w
	}
	pos += weekBuckets

	for _, g := range []struct {
		group   any
		columns []string
	}{
		{&c.Trim, trimColumns}, {&c.Chassis, chassisColumns}, {&c.Final, finalColumns},
		{&c.Control, controlColumns}, {&c.ControlDetail, controlDetailColumns},
	} {
		if err := cellsToGroup(row[pos:pos+len(g.columns)], g.columns, g.group); err != nil {
			return Concern{}, err
		}
		pos += len(g.columns)
	}

	Recalculate(&c)
	return c, nil
}

// ExportConcernsCSV writes the full matrix in the fixed column order.
func ExportConcernsCSV(w io.Writer, concerns []Concern) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ConcernColumns()); err != nil {
		return err
	}
	for _, c := range concerns {
		row, err := ConcernToRow(c)
		if err != nil {
			return fmt.Errorf("concern %d: %w", c.Serial, err)
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ImportConcernsCSV parses an export back into concerns. Bad rows are
// collected as validation errors; good rows still come through.
func ImportConcernsCSV(r io.Reader) ([]Concern, []*ValidationError, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("reading header: %w", err)
	}
	want := ConcernColumns()
	if len(header) != len(want) {
		return nil, nil, fmt.Errorf("expected %d header columns, got %d", len(want), len(header))
	}
	for i, col := range want {
		if strings.TrimSpace(header[i]) != col {
			return nil, nil, fmt.Errorf("header column %d: expected %q, got %q", i, col, header[i])
		}
	}

	var concerns []Concern
	var rejected []*ValidationError
	for rowNum := 1; ; rowNum++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("reading row %d: %w", rowNum, err)
		}
		c, err := ConcernFromRow(row)
		if err != nil {
			rejected = append(rejected, &ValidationError{Row: rowNum, Field: "row", Reason: err.Error()})
			continue
		}
		concerns = append(concerns, c)
	}
	return concerns, rejected, nil
}

// Defect CSV input uses a small fixed layout; there is no header
// detection here, that belongs to whatever produced the file.
var defectColumns = []string{
	"source", "location", "defect_code", "description", "detail",
	"gravity", "quantity", "responsible", "reported_at",
}

// ReadDefectRowsCSV parses a fixed-layout defect file into raw rows for
// ingestion. Quantity and date problems are left to IngestDefects; this
// only deals in shape.
func ReadDefectRowsCSV(r io.Reader) ([]DefectRow, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	if len(header) != len(defectColumns) {
		return nil, fmt.Errorf("expected %d header columns, got %d", len(defectColumns), len(header))
	}

	var rows []DefectRow
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		qty := 0
		if s := strings.TrimSpace(rec[6]); s != "" {
			qty, _ = strconv.Atoi(s)
		}
		var reportedAt time.Time
		if s := strings.TrimSpace(rec[8]); s != "" {
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				reportedAt = t
			} else if t, err := time.Parse("2006-01-02", s); err == nil {
				reportedAt = t
			}
		}
		rows = append(rows, DefectRow{
			Source:      rec[0],
			Location:    rec[1],
			DefectCode:  rec[2],
			Description: rec[3],
			Detail:      rec[4],
			Gravity:     rec[5],
			Quantity:    qty,
			Responsible: rec[7],
			ReportedAt:  reportedAt,
		})
	}
	return rows, nil
}
