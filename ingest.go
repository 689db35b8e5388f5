package main

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefectRow is one raw defect report row handed to ingestion. How the row
// was obtained (spreadsheet upload, API, fixture) is the caller's problem;
// the engine only validates and normalizes it.
type DefectRow struct {
	Source      string
	Location    string
	DefectCode  string
	Description string
	Detail      string
	Gravity     string
	Quantity    int
	Responsible string
	ReportedAt  time.Time
}

// IngestResult carries accepted records and per-row rejections side by
// side. Partial success is the normal case: bad rows never abort a batch.
type IngestResult struct {
	Accepted []DefectRecord
	Rejected []*ValidationError
	Warnings []string
	BySource map[string]int
}

// IngestDefects validates and normalizes a batch of raw rows into defect
// records ready for insertion. Each accepted record gets a fresh opaque id
// and starts unpaired.
func IngestDefects(rows []DefectRow, defaultSource string) IngestResult {
	result := IngestResult{BySource: make(map[string]int)}

	for i, row := range rows {
		desc := strings.TrimSpace(row.Description)
		detail := strings.TrimSpace(row.Detail)
		location := strings.TrimSpace(row.Location)

		if desc == "" && detail == "" && location == "" {
			result.Rejected = append(result.Rejected, &ValidationError{
				Row: i, Field: "description", Reason: "no defect description, details or location",
			})
			continue
		}

		source := strings.ToUpper(strings.TrimSpace(row.Source))
		if source == "" {
			source = strings.ToUpper(strings.TrimSpace(defaultSource))
		}
		if !validSources[source] {
			result.Rejected = append(result.Rejected, &ValidationError{
				Row: i, Field: "source", Reason: fmt.Sprintf("unknown source %q", row.Source),
			})
			continue
		}

		gravity := strings.ToUpper(strings.TrimSpace(row.Gravity))
		if !validGravities[gravity] {
			result.Warnings = append(result.Warnings, fmt.Sprintf("row %d: unusual gravity value %q", i, row.Gravity))
		}

		qty := row.Quantity
		if qty < 1 {
			result.Warnings = append(result.Warnings, fmt.Sprintf("row %d: quantity %d coerced to 1", i, row.Quantity))
			qty = 1
		}

		reportedAt := row.ReportedAt
		if reportedAt.IsZero() {
			reportedAt = time.Now().UTC()
		}

		result.Accepted = append(result.Accepted, DefectRecord{
			ID:           uuid.New().String(),
			Source:       source,
			Location:     location,
			DefectCode:   strings.TrimSpace(row.DefectCode),
			Description:  desc,
			Detail:       detail,
			Gravity:      gravity,
			Quantity:     qty,
			Responsible:  strings.TrimSpace(row.Responsible),
			ReportedAt:   reportedAt,
			PairingState: PairingUnpaired,
		})
		result.BySource[source]++
	}

	log.Printf("ingest accepted=%d rejected=%d warnings=%d", len(result.Accepted), len(result.Rejected), len(result.Warnings))
	return result
}

// DeduplicateDefects merges records with the same defect code, location
// and description by summing their quantities. The first occurrence keeps
// its id and attributes.
func DeduplicateDefects(records []DefectRecord) []DefectRecord {
	index := make(map[string]int)
	var out []DefectRecord

	for _, r := range records {
		key := strings.ToLower(r.DefectCode + "|" + r.Location + "|" + r.Description)
		if i, ok := index[key]; ok {
			out[i].Quantity += r.Quantity
			continue
		}
		index[key] = len(out)
		out = append(out, r)
	}

	if len(out) != len(records) {
		log.Printf("dedup %d -> %d unique defects", len(records), len(out))
	}
	return out
}
