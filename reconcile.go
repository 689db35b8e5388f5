package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// AcceptedMatch is one pairing accepted during a reconciliation run.
type AcceptedMatch struct {
	DefectID string
	Serial   int64
	Method   string
	Score    float64
	Quantity int
}

// UnmatchedDefect is a defect left unpaired by a run, with the reason it
// was passed over. Unmatched records are always enumerable, never dropped.
type UnmatchedDefect struct {
	DefectID string
	Reason   string
}

// OracleBatchStatus reports the outcome of one semantic batch.
type OracleBatchStatus struct {
	Batch   int
	Defects int
	Status  string // "ok" or an oracle error kind
}

// RunResult is the full outcome of one reconciliation run.
type RunResult struct {
	RunID     string
	Exact     []AcceptedMatch
	Semantic  []AcceptedMatch
	Unmatched []UnmatchedDefect
	Batches   []OracleBatchStatus
	StartedAt time.Time
}

// Accepted returns every match accepted by either phase.
func (r RunResult) Accepted() []AcceptedMatch {
	out := make([]AcceptedMatch, 0, len(r.Exact)+len(r.Semantic))
	out = append(out, r.Exact...)
	return append(out, r.Semantic...)
}

func pairingKey(defectCode, locationCode string) string {
	return strings.ToLower(strings.TrimSpace(defectCode)) + "|" + strings.ToLower(strings.TrimSpace(locationCode))
}

// Reconcile runs the two-phase matching process over every unpaired
// defect. The deterministic phase completes, and excludes its matches,
// before any oracle call is made: an exact-code match is never
// second-guessed by a lower-confidence semantic candidate.
func Reconcile(ctx context.Context, db *sql.DB, oracle MatchOracle, cfg Config) (RunResult, error) {
	result := RunResult{RunID: uuid.New().String(), StartedAt: time.Now()}

	defects, err := ListUnpairedDefects(db)
	if err != nil {
		return result, fmt.Errorf("loading unpaired defects: %w", err)
	}
	concerns, err := ListConcerns(db)
	if err != nil {
		return result, fmt.Errorf("loading concerns: %w", err)
	}
	if len(defects) == 0 {
		log.Printf("reconcile run=%s nothing to do", result.RunID)
		return result, nil
	}

	// Phase 1: deterministic key match on (defect code, location code).
	// Only concerns with both fields populated participate; on duplicate
	// keys the lowest serial wins.
	byKey := make(map[string]int64)
	for _, c := range concerns {
		if strings.TrimSpace(c.DefectCode) == "" || strings.TrimSpace(c.LocationCode) == "" {
			continue
		}
		key := pairingKey(c.DefectCode, c.LocationCode)
		if _, ok := byKey[key]; !ok {
			byKey[key] = c.Serial
		}
	}

	var remaining []DefectRecord
	exactScore := 1.0
	for _, d := range defects {
		if strings.TrimSpace(d.DefectCode) == "" || strings.TrimSpace(d.Location) == "" {
			remaining = append(remaining, d)
			continue
		}
		serial, ok := byKey[pairingKey(d.DefectCode, d.Location)]
		if !ok {
			remaining = append(remaining, d)
			continue
		}
		score := exactScore
		err := Pair(db, d.ID, serial, MethodExactCode, &score)
		switch {
		case err == nil:
			result.Exact = append(result.Exact, AcceptedMatch{
				DefectID: d.ID, Serial: serial, Method: MethodExactCode, Score: exactScore, Quantity: d.Quantity,
			})
		case errors.Is(err, ErrAlreadyPaired):
			// Claimed by a concurrent run; not ours, not unmatched.
			log.Printf("reconcile run=%s defect=%s claimed concurrently", result.RunID, d.ID)
		default:
			return result, fmt.Errorf("exact pair defect %s: %w", d.ID, err)
		}
	}
	log.Printf("reconcile run=%s exact matched=%d remaining=%d", result.RunID, len(result.Exact), len(remaining))

	if len(remaining) == 0 {
		return result, nil
	}

	if oracle == nil {
		for _, d := range remaining {
			result.Unmatched = append(result.Unmatched, UnmatchedDefect{DefectID: d.ID, Reason: "no oracle configured"})
		}
		log.Printf("reconcile run=%s no oracle configured, %d defects left unmatched", result.RunID, len(remaining))
		return result, nil
	}

	// Phase 2: semantic match for the leftovers. Batches go to the oracle
	// in parallel; a failed or timed-out batch degrades to all-unmatched
	// for its defects without touching the others. Pairing itself happens
	// after the fan-in, keyed by defect id.
	summaries := make([]ConcernSummary, 0, len(concerns))
	bySerial := make(map[int64]bool, len(concerns))
	for _, c := range concerns {
		summaries = append(summaries, summarizeConcern(c))
		bySerial[c.Serial] = true
	}

	var batches [][]DefectRecord
	for start := 0; start < len(remaining); start += cfg.OracleBatchSize {
		end := start + cfg.OracleBatchSize
		if end > len(remaining) {
			end = len(remaining)
		}
		batches = append(batches, remaining[start:end])
	}

	type batchResult struct {
		matches []OracleMatch
		err     error
	}
	results := make([]batchResult, len(batches))
	timeout := time.Duration(cfg.OracleTimeoutSec) * time.Second

	var wg sync.WaitGroup
	for i, batch := range batches {
		wg.Add(1)
		go func(idx int, batch []DefectRecord) {
			defer wg.Done()
			batchCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			defectSummaries := make([]DefectSummary, len(batch))
			for j, d := range batch {
				defectSummaries[j] = summarizeDefect(j, d)
			}
			matches, err := oracle.MatchBatch(batchCtx, summaries, defectSummaries)
			results[idx] = batchResult{matches: matches, err: err}
		}(i, batch)
	}
	wg.Wait()

	for i, batch := range batches {
		r := results[i]
		if r.err != nil {
			status := OracleUnavailable
			var oerr *OracleError
			if errors.As(r.err, &oerr) {
				status = oerr.Kind
			}
			log.Printf("reconcile run=%s batch=%d oracle error (%s): %v", result.RunID, i, status, r.err)
			result.Batches = append(result.Batches, OracleBatchStatus{Batch: i, Defects: len(batch), Status: status})
			for _, d := range batch {
				result.Unmatched = append(result.Unmatched, UnmatchedDefect{DefectID: d.ID, Reason: "oracle " + status})
			}
			continue
		}
		result.Batches = append(result.Batches, OracleBatchStatus{Batch: i, Defects: len(batch), Status: "ok"})

		byIndex := make(map[int]OracleMatch, len(r.matches))
		for _, m := range r.matches {
			byIndex[m.DefectIndex] = m
		}

		for j, d := range batch {
			m, ok := byIndex[j]
			switch {
			case !ok || m.MatchedSerial == nil:
				result.Unmatched = append(result.Unmatched, UnmatchedDefect{DefectID: d.ID, Reason: "no candidate"})
			case m.Confidence < cfg.MatchConfidence:
				result.Unmatched = append(result.Unmatched, UnmatchedDefect{
					DefectID: d.ID,
					Reason:   fmt.Sprintf("confidence %.2f below threshold %.2f", m.Confidence, cfg.MatchConfidence),
				})
			case !bySerial[*m.MatchedSerial]:
				result.Unmatched = append(result.Unmatched, UnmatchedDefect{
					DefectID: d.ID,
					Reason:   fmt.Sprintf("candidate concern %d does not exist", *m.MatchedSerial),
				})
			default:
				score := m.Confidence
				err := Pair(db, d.ID, *m.MatchedSerial, MethodSemantic, &score)
				switch {
				case err == nil:
					result.Semantic = append(result.Semantic, AcceptedMatch{
						DefectID: d.ID, Serial: *m.MatchedSerial, Method: MethodSemantic,
						Score: m.Confidence, Quantity: d.Quantity,
					})
				case errors.Is(err, ErrAlreadyPaired):
					log.Printf("reconcile run=%s defect=%s claimed concurrently", result.RunID, d.ID)
				default:
					return result, fmt.Errorf("semantic pair defect %s: %w", d.ID, err)
				}
			}
		}
	}

	log.Printf("reconcile run=%s exact=%d semantic=%d unmatched=%d batches=%d",
		result.RunID, len(result.Exact), len(result.Semantic), len(result.Unmatched), len(result.Batches))
	return result, nil
}
