package main

import "time"

// Defect sources accepted at ingestion.
const (
	SourceDVX  = "DVX"
	SourceSCA  = "SCA"
	SourceYARD = "YARD"
)

// Pairing states of a DefectRecord.
const (
	PairingUnpaired = "unpaired"
	PairingPaired   = "paired"
)

// Pairing methods, set when a defect transitions to paired.
const (
	MethodExactCode = "exact-code"
	MethodSemantic  = "semantic"
	MethodManual    = "manual"
)

// OK/NG status values.
const (
	StatusOK = "OK"
	StatusNG = "NG"
)

// Areas a concern can belong to.
var validAreas = map[string]bool{
	"Trim":    true,
	"Chassis": true,
	"Final":   true,
	"Paint":   true,
}

var validSources = map[string]bool{
	SourceDVX:  true,
	SourceSCA:  true,
	SourceYARD: true,
}

// validGravities mirrors the values seen on inspection reports. Empty is
// allowed: not every source tags gravity.
var validGravities = map[string]bool{
	"1": true, "2": true, "3": true, "4": true, "5": true,
	"A": true, "B": true, "C": true, "D": true, "": true,
}

// TrimScores holds the trim-area checkpoint scores. A nil entry means the
// checkpoint was not inspected, which is different from a score of 0.
type TrimScores struct {
	T10  *int `json:"T10"`
	T20  *int `json:"T20"`
	T30  *int `json:"T30"`
	T40  *int `json:"T40"`
	T50  *int `json:"T50"`
	T60  *int `json:"T60"`
	T70  *int `json:"T70"`
	T80  *int `json:"T80"`
	T90  *int `json:"T90"`
	T100 *int `json:"T100"`
	TPQG *int `json:"TPQG"`
}

func (s TrimScores) values() []*int {
	return []*int{s.T10, s.T20, s.T30, s.T40, s.T50, s.T60, s.T70, s.T80, s.T90, s.T100, s.TPQG}
}

// ChassisScores holds the chassis-area checkpoint scores.
type ChassisScores struct {
	C10  *int `json:"C10"`
	C20  *int `json:"C20"`
	C30  *int `json:"C30"`
	C40  *int `json:"C40"`
	C45  *int `json:"C45"`
	P10  *int `json:"P10"`
	P20  *int `json:"P20"`
	P30  *int `json:"P30"`
	C50  *int `json:"C50"`
	C60  *int `json:"C60"`
	C70  *int `json:"C70"`
	RSub *int `json:"RSub"`
	TS   *int `json:"TS"`
	C80  *int `json:"C80"`
	CPQG *int `json:"CPQG"`
}

func (s ChassisScores) values() []*int {
	return []*int{s.C10, s.C20, s.C30, s.C40, s.C45, s.P10, s.P20, s.P30, s.C50, s.C60, s.C70, s.RSub, s.TS, s.C80, s.CPQG}
}

// FinalScores holds the final-assembly checkpoint scores. ResidualTorque is
// special: it belongs to the group but counts toward the plant rating, not
// the mfg rating.
type FinalScores struct {
	F10            *int `json:"F10"`
	F20            *int `json:"F20"`
	F30            *int `json:"F30"`
	F40            *int `json:"F40"`
	F50            *int `json:"F50"`
	F60            *int `json:"F60"`
	F70            *int `json:"F70"`
	F80            *int `json:"F80"`
	F90            *int `json:"F90"`
	F100           *int `json:"F100"`
	FPQG           *int `json:"FPQG"`
	ResidualTorque *int `json:"ResidualTorque"`
}

func (s FinalScores) valuesWithoutResidual() []*int {
	return []*int{s.F10, s.F20, s.F30, s.F40, s.F50, s.F60, s.F70, s.F80, s.F90, s.F100, s.FPQG}
}

// ControlScores holds the control-method checkpoints
// (1.x frequency, 3.x manual, 5.x automatic).
type ControlScores struct {
	FreqControl11    *int `json:"freq_control_1_1"`
	VisualControl12  *int `json:"visual_control_1_2"`
	PeriodicAudit13  *int `json:"periodic_audit_1_3"`
	HumanControl14   *int `json:"human_control_1_4"`
	SAEAlert31       *int `json:"sae_alert_3_1"`
	FreqMeasure32    *int `json:"freq_measure_3_2"`
	ManualTool33     *int `json:"manual_tool_3_3"`
	HumanTracking34  *int `json:"human_tracking_3_4"`
	AutoControl51    *int `json:"auto_control_5_1"`
	Impossibility52  *int `json:"impossibility_5_2"`
	SAEProhibition53 *int `json:"sae_prohibition_5_3"`
}

func (s ControlScores) values() []*int {
	return []*int{
		s.FreqControl11, s.VisualControl12, s.PeriodicAudit13, s.HumanControl14,
		s.SAEAlert31, s.FreqMeasure32, s.ManualTool33, s.HumanTracking34,
		s.AutoControl51, s.Impossibility52, s.SAEProhibition53,
	}
}

// ControlDetailScores holds the additional plant-level checkpoints.
type ControlDetailScores struct {
	CVT       *int `json:"CVT"`
	Shower    *int `json:"SHOWER"`
	DynamicUB *int `json:"DynamicUB"`
	CC4       *int `json:"CC4"`
}

func (s ControlDetailScores) values() []*int {
	return []*int{s.CVT, s.Shower, s.DynamicUB, s.CC4}
}

// Concern is one tracked quality issue on the matrix.
type Concern struct {
	Serial      int64
	Source      string
	Station     string
	Area        string
	Description string
	Severity    int // 1, 3 or 5

	Weekly [6]int // W-6 .. W-1, oldest first

	Trim          TrimScores
	Chassis       ChassisScores
	Final         FinalScores
	Control       ControlScores
	ControlDetail ControlDetailScores

	// Derived, recomputed on every mutation. Never hand-edited.
	RecurrenceTotal        int
	RecurrenceWithSeverity int
	MfgRating              int
	QualityRating          int
	PlantRating            int
	WorkstationStatus      string
	MfgStatus              string
	PlantStatus            string

	// Deterministic pairing keys, optional.
	DefectCode   string
	LocationCode string

	// Action tracking, data only.
	Owner      string
	Action     string
	TargetDate string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// DefectRecord is one ingested defect occurrence from an inspection source.
// The pairing fields are owned by the pairing store; nothing else mutates
// them.
type DefectRecord struct {
	ID          string
	Source      string
	Location    string
	DefectCode  string
	Description string
	Detail      string
	Gravity     string
	Quantity    int
	Responsible string
	ReportedAt  time.Time

	PairingState  string
	PairingMethod string
	MatchScore    *float64
	PairedSerial  *int64

	CreatedAt time.Time
}

// Paired reports whether the defect is currently attributed to a concern.
func (d DefectRecord) Paired() bool { return d.PairingState == PairingPaired }

// MatchCandidate is a proposed pairing between a defect and a concern. It is
// transient: produced by the exact matcher or the oracle, consumed once by
// the reconciler, never persisted.
type MatchCandidate struct {
	DefectID   string
	Serial     int64
	Confidence float64
	Rationale  string
}

// ConcernSummary is the slice of a concern sent to the match oracle.
type ConcernSummary struct {
	Serial      int64  `json:"key"`
	Description string `json:"description"`
	Station     string `json:"station"`
	Area        string `json:"area"`
}

// DefectSummary is the slice of a defect sent to the match oracle.
type DefectSummary struct {
	Index       int    `json:"index"`
	Location    string `json:"location"`
	Description string `json:"description"`
	Detail      string `json:"detail"`
	Gravity     string `json:"severity"`
	Quantity    int    `json:"quantity"`
}

func summarizeConcern(c Concern) ConcernSummary {
	return ConcernSummary{
		Serial:      c.Serial,
		Description: c.Description,
		Station:     c.Station,
		Area:        c.Area,
	}
}

func summarizeDefect(idx int, d DefectRecord) DefectSummary {
	return DefectSummary{
		Index:       idx,
		Location:    d.Location,
		Description: d.Description,
		Detail:      d.Detail,
		Gravity:     d.Gravity,
		Quantity:    d.Quantity,
	}
}
