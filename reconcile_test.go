package main

import (
	"context"
	"database/sql"
	"errors"
	"testing"
)

// stubOracle returns canned matches keyed by defect description, or a
// fixed error.
type stubOracle struct {
	byDescription map[string]OracleMatch
	err           error
	calls         int
}

func (o *stubOracle) MatchBatch(ctx context.Context, concerns []ConcernSummary, defects []DefectSummary) ([]OracleMatch, error) {
	o.calls++
	if o.err != nil {
		return nil, o.err
	}
	var out []OracleMatch
	for _, d := range defects {
		if m, ok := o.byDescription[d.Description]; ok {
			m.DefectIndex = d.Index
			out = append(out, m)
		}
	}
	return out, nil
}

func testReconcileConfig() Config {
	return Config{OracleBatchSize: 200, OracleTimeoutSec: 5, MatchConfidence: 0.30}
}

func seedConcern(t *testing.T, db *sql.DB, serial int64, defectCode, locationCode string) {
	t.Helper()
	c := Concern{
		Serial:       serial,
		Description:  "concern",
		Severity:     1,
		DefectCode:   defectCode,
		LocationCode: locationCode,
	}
	mustUpsertConcern(t, db, &c)
}

func TestReconcileExactMatch(t *testing.T) {
	db := newTestDB(t)
	seedConcern(t, db, 1, "D-102", "RH door")

	d := testDefect("d1") // carries code D-102, location "RH door"
	mustInsertDefect(t, db, d)

	oracle := &stubOracle{}
	result, err := Reconcile(context.Background(), db, oracle, testReconcileConfig())
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	if len(result.Exact) != 1 || len(result.Semantic) != 0 || len(result.Unmatched) != 0 {
		t.Fatalf("exact=%d semantic=%d unmatched=%d", len(result.Exact), len(result.Semantic), len(result.Unmatched))
	}
	m := result.Exact[0]
	if m.Serial != 1 || m.Method != MethodExactCode || m.Score != 1.0 || m.Quantity != 2 {
		t.Fatalf("unexpected match: %+v", m)
	}
	if oracle.calls != 0 {
		t.Fatalf("exact match must not reach the oracle, calls=%d", oracle.calls)
	}

	paired, err := GetDefect(db, "d1")
	if err != nil {
		t.Fatalf("GetDefect failed: %v", err)
	}
	if !paired.Paired() || paired.PairingMethod != MethodExactCode || *paired.MatchScore != 1.0 {
		t.Fatalf("defect not exact-paired: %+v", paired)
	}
}

func TestReconcileExactMatchCaseInsensitive(t *testing.T) {
	db := newTestDB(t)
	seedConcern(t, db, 1, "d-102", " rh DOOR ")

	mustInsertDefect(t, db, testDefect("d1"))

	result, err := Reconcile(context.Background(), db, &stubOracle{}, testReconcileConfig())
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if len(result.Exact) != 1 {
		t.Fatalf("expected case-insensitive exact match, got %+v", result)
	}
}

func TestReconcileExactDuplicateKeyPrefersLowestSerial(t *testing.T) {
	db := newTestDB(t)
	seedConcern(t, db, 9, "D-102", "RH door")
	seedConcern(t, db, 3, "D-102", "RH door")

	mustInsertDefect(t, db, testDefect("d1"))

	result, err := Reconcile(context.Background(), db, &stubOracle{}, testReconcileConfig())
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if len(result.Exact) != 1 || result.Exact[0].Serial != 3 {
		t.Fatalf("expected serial 3 to win, got %+v", result.Exact)
	}
}

func TestReconcileSemanticMatch(t *testing.T) {
	db := newTestDB(t)
	seedConcern(t, db, 1, "", "") // no pairing keys, exact phase skips it

	d := testDefect("d1")
	d.DefectCode = ""
	d.Description = "paint run on tailgate"
	mustInsertDefect(t, db, d)

	oracle := &stubOracle{byDescription: map[string]OracleMatch{
		"paint run on tailgate": {MatchedSerial: int64p(1), Confidence: 0.85, Rationale: "same defect"},
	}}

	result, err := Reconcile(context.Background(), db, oracle, testReconcileConfig())
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if len(result.Semantic) != 1 || len(result.Unmatched) != 0 {
		t.Fatalf("semantic=%d unmatched=%v", len(result.Semantic), result.Unmatched)
	}
	m := result.Semantic[0]
	if m.Serial != 1 || m.Method != MethodSemantic || m.Score != 0.85 {
		t.Fatalf("unexpected match: %+v", m)
	}

	paired, err := GetDefect(db, "d1")
	if err != nil {
		t.Fatalf("GetDefect failed: %v", err)
	}
	if paired.MatchScore == nil || *paired.MatchScore != 0.85 {
		t.Fatalf("confidence not stored: %+v", paired)
	}
}

func TestReconcileConfidenceThreshold(t *testing.T) {
	db := newTestDB(t)
	seedConcern(t, db, 1, "", "")

	d := testDefect("d1")
	d.DefectCode = ""
	d.Description = "vague noise"
	mustInsertDefect(t, db, d)

	oracle := &stubOracle{byDescription: map[string]OracleMatch{
		"vague noise": {MatchedSerial: int64p(1), Confidence: 0.2},
	}}

	result, err := Reconcile(context.Background(), db, oracle, testReconcileConfig())
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if len(result.Semantic) != 0 || len(result.Unmatched) != 1 {
		t.Fatalf("low confidence must not pair: %+v", result)
	}

	paired, err := GetDefect(db, "d1")
	if err != nil {
		t.Fatalf("GetDefect failed: %v", err)
	}
	if paired.Paired() {
		t.Fatal("defect below threshold must stay unpaired")
	}
}

func TestReconcileUnknownSerialFromOracle(t *testing.T) {
	db := newTestDB(t)
	seedConcern(t, db, 1, "", "")

	d := testDefect("d1")
	d.DefectCode = ""
	d.Description = "phantom"
	mustInsertDefect(t, db, d)

	oracle := &stubOracle{byDescription: map[string]OracleMatch{
		"phantom": {MatchedSerial: int64p(777), Confidence: 0.9},
	}}

	result, err := Reconcile(context.Background(), db, oracle, testReconcileConfig())
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if len(result.Unmatched) != 1 {
		t.Fatalf("expected 1 unmatched, got %+v", result)
	}
}

func TestReconcileOracleFailureDegradesBatch(t *testing.T) {
	db := newTestDB(t)
	seedConcern(t, db, 1, "", "")

	for _, id := range []string{"d1", "d2"} {
		d := testDefect(id)
		d.DefectCode = ""
		mustInsertDefect(t, db, d)
	}

	oracle := &stubOracle{err: &OracleError{Kind: OracleRateLimited, Err: errors.New("429")}}

	result, err := Reconcile(context.Background(), db, oracle, testReconcileConfig())
	if err != nil {
		t.Fatalf("oracle failure must not fail the run: %v", err)
	}
	if len(result.Unmatched) != 2 {
		t.Fatalf("expected both defects unmatched, got %+v", result.Unmatched)
	}
	if len(result.Batches) != 1 || result.Batches[0].Status != OracleRateLimited {
		t.Fatalf("batch status should carry the error kind: %+v", result.Batches)
	}

	unpaired, err := ListUnpairedDefects(db)
	if err != nil {
		t.Fatalf("ListUnpairedDefects failed: %v", err)
	}
	if len(unpaired) != 2 {
		t.Fatalf("failed batch must leave defects unpaired, got %d", len(unpaired))
	}
}

func TestReconcilePartialBatchFailure(t *testing.T) {
	db := newTestDB(t)
	seedConcern(t, db, 1, "", "")

	// Batch size 1 splits the two defects into separate batches; the stub
	// fails the one it has no answer for by erroring on the second call.
	var calls int
	oracle := matchFunc(func(ctx context.Context, concerns []ConcernSummary, defects []DefectSummary) ([]OracleMatch, error) {
		calls++
		if defects[0].Description == "bad batch" {
			return nil, &OracleError{Kind: OracleUnavailable, Err: errors.New("boom")}
		}
		return []OracleMatch{{DefectIndex: 0, MatchedSerial: int64p(1), Confidence: 0.9}}, nil
	})

	good := testDefect("good")
	good.DefectCode = ""
	good.Description = "good batch"
	bad := testDefect("bad")
	bad.DefectCode = ""
	bad.Description = "bad batch"
	mustInsertDefect(t, db, good)
	mustInsertDefect(t, db, bad)

	cfg := testReconcileConfig()
	cfg.OracleBatchSize = 1

	result, err := Reconcile(context.Background(), db, oracle, cfg)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 oracle calls, got %d", calls)
	}
	if len(result.Semantic) != 1 || len(result.Unmatched) != 1 {
		t.Fatalf("one batch should succeed, one degrade: %+v", result)
	}
}

func TestReconcileWithoutOracle(t *testing.T) {
	db := newTestDB(t)
	seedConcern(t, db, 1, "", "")

	d := testDefect("d1")
	d.DefectCode = ""
	mustInsertDefect(t, db, d)

	result, err := Reconcile(context.Background(), db, nil, testReconcileConfig())
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if len(result.Unmatched) != 1 {
		t.Fatalf("expected 1 unmatched, got %+v", result)
	}
}

// matchFunc adapts a function to the MatchOracle interface.
type matchFunc func(context.Context, []ConcernSummary, []DefectSummary) ([]OracleMatch, error)

func (f matchFunc) MatchBatch(ctx context.Context, c []ConcernSummary, d []DefectSummary) ([]OracleMatch, error) {
	return f(ctx, c, d)
}

func int64p(v int64) *int64 { return &v }
