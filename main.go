package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/slack-go/slack"
)

const usage = `Usage: qamatrix <command> [flags]

Commands:
  ingest       load defect rows from a CSV file
  reconcile    run exact + semantic matching and apply the results
  apply        fold a deferred reconciliation run into the matrix
  undo         revert a previously applied reconciliation run
  shift        advance every concern's weekly window by one bucket
  pair         manually pair a defect with a concern
  unpair       detach a defect from its concern
  reassign     move a defect from one concern to another
  new-concern  open a concern from an unpaired defect
  set-week     overwrite one weekly bucket of a concern
  recalc       recompute all derived fields from stored inputs
  export       write the full matrix as CSV
  import       load a matrix CSV, replacing concerns by serial
  summary      print NG counts and per-concern trend
  purge        delete stored records (requires the purge token)
  watch        run the cron-driven reconcile and shift schedulers
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg := LoadConfig()
	db, err := InitDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to init database: %v", err)
	}
	defer db.Close()

	switch os.Args[1] {
	case "ingest":
		cmdIngest(db, os.Args[2:])
	case "reconcile":
		cmdReconcile(cfg, db, os.Args[2:])
	case "apply":
		cmdApply(db, os.Args[2:])
	case "undo":
		cmdUndo(db, os.Args[2:])
	case "shift":
		cmdShift(db)
	case "pair":
		cmdPair(db, os.Args[2:])
	case "unpair":
		cmdUnpair(db, os.Args[2:])
	case "reassign":
		cmdReassign(db, os.Args[2:])
	case "new-concern":
		cmdNewConcern(db, os.Args[2:])
	case "set-week":
		cmdSetWeek(db, os.Args[2:])
	case "recalc":
		cmdRecalc(db)
	case "export":
		cmdExport(db, os.Args[2:])
	case "import":
		cmdImport(db, os.Args[2:])
	case "summary":
		cmdSummary(db)
	case "purge":
		cmdPurge(cfg, db, os.Args[2:])
	case "watch":
		cmdWatch(cfg, db)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}
}

func newSlackClient(cfg Config) *slack.Client {
	if !cfg.SlackConfigured() {
		return nil
	}
	return slack.New(cfg.SlackBotToken)
}

func newOracle(cfg Config) MatchOracle {
	if cfg.AnthropicAPIKey == "" {
		log.Println("anthropic_api_key not set, semantic matching disabled")
		return nil
	}
	return NewAnthropicOracle(cfg.AnthropicAPIKey, cfg.OracleModel)
}

func cmdIngest(db *sql.DB, args []string) {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	file := fs.String("file", "", "defect CSV file (required)")
	source := fs.String("source", "", "default source for rows with none (DVX, SCA, YARD)")
	dedupe := fs.Bool("dedupe", false, "merge duplicate rows before inserting")
	fs.Parse(args)
	if *file == "" {
		log.Fatal("ingest: -file is required")
	}

	f, err := os.Open(*file)
	if err != nil {
		log.Fatalf("ingest: %v", err)
	}
	defer f.Close()

	rows, err := ReadDefectRowsCSV(f)
	if err != nil {
		log.Fatalf("ingest: reading %s: %v", *file, err)
	}

	result := IngestDefects(rows, *source)
	for _, w := range result.Warnings {
		log.Printf("ingest warning: %s", w)
	}
	for _, rej := range result.Rejected {
		log.Printf("ingest rejected: %v", rej)
	}

	records := result.Accepted
	if *dedupe {
		before := len(records)
		records = DeduplicateDefects(records)
		log.Printf("ingest dedupe merged=%d", before-len(records))
	}

	n, err := InsertDefects(db, records)
	if err != nil {
		log.Fatalf("ingest: storing defects: %v", err)
	}
	log.Printf("ingest file=%s accepted=%d rejected=%d inserted=%d", *file, len(result.Accepted), len(result.Rejected), n)
}

func cmdReconcile(cfg Config, db *sql.DB, args []string) {
	fs := flag.NewFlagSet("reconcile", flag.ExitOnError)
	noApply := fs.Bool("no-apply", false, "pair defects but defer the recurrence update to the apply command")
	fs.Parse(args)

	result, outcome, err := RunReconcileOnce(context.Background(), cfg, db, newOracle(cfg), newSlackClient(cfg), !*noApply)
	if err != nil {
		log.Fatalf("reconcile: %v", err)
	}

	fmt.Printf("Run %s: %d exact, %d semantic, %d unmatched\n",
		result.RunID, len(result.Exact), len(result.Semantic), len(result.Unmatched))
	for _, u := range result.Unmatched {
		fmt.Printf("  unmatched %s: %s\n", u.DefectID, u.Reason)
	}
	if outcome != nil {
		fmt.Printf("Applied recurrence to %d concerns\n", len(outcome.Deltas))
		for _, ch := range outcome.Changes {
			fmt.Printf("  %s\n", ch)
		}
	}
}

func cmdApply(db *sql.DB, args []string) {
	fs := flag.NewFlagSet("apply", flag.ExitOnError)
	runID := fs.String("run", "", "reconciliation run id (required)")
	fs.Parse(args)
	if *runID == "" {
		log.Fatal("apply: -run is required")
	}

	matches, err := GetRunMatches(db, *runID)
	if err != nil {
		log.Fatalf("apply: %v", err)
	}
	outcome, err := ApplyMatches(db, *runID, matches)
	if err != nil {
		log.Fatalf("apply: %v", err)
	}
	fmt.Printf("Applied run %s to %d concerns\n", *runID, len(outcome.Deltas))
	for _, ch := range outcome.Changes {
		fmt.Printf("  %s\n", ch)
	}
}

func cmdUndo(db *sql.DB, args []string) {
	fs := flag.NewFlagSet("undo", flag.ExitOnError)
	runID := fs.String("run", "", "run id to revert (required)")
	fs.Parse(args)
	if *runID == "" {
		log.Fatal("undo: -run is required")
	}

	outcome, err := UndoApply(db, *runID)
	if err != nil {
		log.Fatalf("undo: %v", err)
	}
	fmt.Printf("Reverted run %s across %d concerns\n", *runID, len(outcome.Deltas))
	for _, ch := range outcome.Changes {
		fmt.Printf("  %s\n", ch)
	}
}

func cmdShift(db *sql.DB) {
	changes, n, err := RunShiftOnce(db)
	if err != nil {
		log.Fatalf("shift: %v", err)
	}
	fmt.Printf("Advanced weekly window on %d concerns\n", n)
	for _, ch := range changes {
		fmt.Printf("  %s\n", ch)
	}
}

func cmdPair(db *sql.DB, args []string) {
	fs := flag.NewFlagSet("pair", flag.ExitOnError)
	defectID := fs.String("defect", "", "defect id (required)")
	serial := fs.Int64("serial", 0, "concern serial (required)")
	fs.Parse(args)
	if *defectID == "" || *serial == 0 {
		log.Fatal("pair: -defect and -serial are required")
	}
	if err := ManualPair(db, *defectID, *serial); err != nil {
		log.Fatalf("pair: %v", err)
	}
	fmt.Printf("Paired defect %s with concern %d\n", *defectID, *serial)
}

func cmdUnpair(db *sql.DB, args []string) {
	fs := flag.NewFlagSet("unpair", flag.ExitOnError)
	defectID := fs.String("defect", "", "defect id (required)")
	fs.Parse(args)
	if *defectID == "" {
		log.Fatal("unpair: -defect is required")
	}
	if err := Unpair(db, *defectID); err != nil {
		log.Fatalf("unpair: %v", err)
	}
	fmt.Printf("Unpaired defect %s\n", *defectID)
}

func cmdReassign(db *sql.DB, args []string) {
	fs := flag.NewFlagSet("reassign", flag.ExitOnError)
	defectID := fs.String("defect", "", "defect id (required)")
	from := fs.Int64("from", 0, "current concern serial (required)")
	to := fs.Int64("to", 0, "target concern serial (required)")
	fs.Parse(args)
	if *defectID == "" || *from == 0 || *to == 0 {
		log.Fatal("reassign: -defect, -from and -to are required")
	}
	if err := Reassign(db, *defectID, *from, *to); err != nil {
		log.Fatalf("reassign: %v", err)
	}
	fmt.Printf("Reassigned defect %s from concern %d to %d\n", *defectID, *from, *to)
}

func cmdNewConcern(db *sql.DB, args []string) {
	fs := flag.NewFlagSet("new-concern", flag.ExitOnError)
	defectID := fs.String("defect", "", "unpaired defect id (required)")
	area := fs.String("area", "", "concern area: Trim, Chassis, Final or Paint (required)")
	severity := fs.Int("severity", 0, "severity: 1, 3 or 5 (required)")
	fs.Parse(args)
	if *defectID == "" || *area == "" || *severity == 0 {
		log.Fatal("new-concern: -defect, -area and -severity are required")
	}
	c, err := CreateConcernFromDefect(db, *defectID, *area, *severity)
	if err != nil {
		log.Fatalf("new-concern: %v", err)
	}
	fmt.Printf("Opened concern %d from defect %s\n", c.Serial, *defectID)
}

func cmdSetWeek(db *sql.DB, args []string) {
	fs := flag.NewFlagSet("set-week", flag.ExitOnError)
	serial := fs.Int64("serial", 0, "concern serial (required)")
	week := fs.Int("week", -1, "bucket index 0 (oldest, W-6) .. 5 (latest, W-1)")
	value := fs.Int("value", -1, "occurrence count for the bucket")
	fs.Parse(args)
	if *serial == 0 || *week < 0 || *value < 0 {
		log.Fatal("set-week: -serial, -week and -value are required")
	}

	c, err := GetConcern(db, *serial)
	if err != nil {
		log.Fatalf("set-week: %v", err)
	}
	if err := SetBucket(&c, *week, *value); err != nil {
		log.Fatalf("set-week: %v", err)
	}
	if err := UpsertConcern(db, &c); err != nil {
		log.Fatalf("set-week: %v", err)
	}
	fmt.Printf("Concern %d week %d = %d (total %d, workstation %s)\n",
		*serial, *week, *value, c.RecurrenceTotal, c.WorkstationStatus)
}

func cmdRecalc(db *sql.DB) {
	concerns, err := ListConcerns(db)
	if err != nil {
		log.Fatalf("recalc: %v", err)
	}
	n, err := UpsertConcerns(db, concerns)
	if err != nil {
		log.Fatalf("recalc: %v", err)
	}
	fmt.Printf("Recalculated %d concerns\n", n)
}

func cmdExport(db *sql.DB, args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	file := fs.String("file", "", "output CSV file (default stdout)")
	fs.Parse(args)

	concerns, err := ListConcerns(db)
	if err != nil {
		log.Fatalf("export: %v", err)
	}

	out := os.Stdout
	if *file != "" {
		f, err := os.Create(*file)
		if err != nil {
			log.Fatalf("export: %v", err)
		}
		defer f.Close()
		out = f
	}
	if err := ExportConcernsCSV(out, concerns); err != nil {
		log.Fatalf("export: %v", err)
	}
	if *file != "" {
		log.Printf("export file=%s concerns=%d", *file, len(concerns))
	}
}

func cmdImport(db *sql.DB, args []string) {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	file := fs.String("file", "", "matrix CSV file (required)")
	fs.Parse(args)
	if *file == "" {
		log.Fatal("import: -file is required")
	}

	f, err := os.Open(*file)
	if err != nil {
		log.Fatalf("import: %v", err)
	}
	defer f.Close()

	concerns, rejected, err := ImportConcernsCSV(f)
	if err != nil {
		log.Fatalf("import: %v", err)
	}
	for _, rej := range rejected {
		log.Printf("import rejected: %v", rej)
	}
	n, err := UpsertConcerns(db, concerns)
	if err != nil {
		log.Fatalf("import: storing concerns: %v", err)
	}
	log.Printf("import file=%s imported=%d rejected=%d", *file, n, len(rejected))
}

func cmdSummary(db *sql.DB) {
	concerns, err := ListConcerns(db)
	if err != nil {
		log.Fatalf("summary: %v", err)
	}

	s := SummarizeNG(concerns)
	fmt.Printf("Concerns: %d\n", s.Total)
	fmt.Printf("Workstation NG: %d | Mfg NG: %d | Plant NG: %d | Critical: %d\n",
		s.WorkstationNG, s.MfgNG, s.PlantNG, s.Critical)
	for area, n := range s.ByArea {
		fmt.Printf("  %s: %d plant NG\n", area, n)
	}

	fmt.Println("Trends:")
	for _, c := range concerns {
		fmt.Printf("  %6d  %-10s  %v  %s\n", c.Serial, WeeklyTrend(c.Weekly), c.Weekly, c.Description)
	}
}

func cmdPurge(cfg Config, db *sql.DB, args []string) {
	fs := flag.NewFlagSet("purge", flag.ExitOnError)
	scope := fs.String("scope", "", "defects, defects:<SOURCE>, concerns or all (required)")
	token := fs.String("token", "", "purge token (required)")
	fs.Parse(args)
	if *scope == "" {
		log.Fatal("purge: -scope is required")
	}

	n, err := Purge(db, cfg, *scope, *token)
	if err != nil {
		log.Fatalf("purge: %v", err)
	}
	fmt.Printf("Purged %d records (%s)\n", n, *scope)
}

func cmdWatch(cfg Config, db *sql.DB) {
	api := newSlackClient(cfg)
	StartReconcileScheduler(cfg, db, newOracle(cfg), api)
	StartShiftScheduler(cfg, db, api)
	log.Println("Watching...")
	select {}
}
