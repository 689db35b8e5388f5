package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/slack-go/slack"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// RunReconcileOnce runs a full reconciliation pass, records the accepted
// matches under the run id and, unless apply is deferred, folds them into
// the weekly recurrence buckets and posts a summary. It has no scheduling
// dependency so the subcommand and the watcher share it.
func RunReconcileOnce(ctx context.Context, cfg Config, db *sql.DB, oracle MatchOracle, api *slack.Client, apply bool) (RunResult, *ApplyOutcome, error) {
	result, err := Reconcile(ctx, db, oracle, cfg)
	if err != nil {
		return result, nil, err
	}

	accepted := result.Accepted()
	if err := InsertRunMatches(db, result.RunID, accepted); err != nil {
		return result, nil, fmt.Errorf("recording run %s: %w", result.RunID, err)
	}

	var outcome *ApplyOutcome
	if apply && len(accepted) > 0 {
		out, err := ApplyMatches(db, result.RunID, accepted)
		if err != nil {
			return result, nil, fmt.Errorf("applying run %s: %w", result.RunID, err)
		}
		outcome = &out
	}

	NotifyRun(api, cfg, &result, outcome)
	return result, outcome, nil
}

// RunShiftOnce advances every concern's weekly window by one bucket and
// reports the resulting status flips.
func RunShiftOnce(db *sql.DB) ([]StatusChange, int, error) {
	concerns, err := ListConcerns(db)
	if err != nil {
		return nil, 0, err
	}

	before := make([]Concern, len(concerns))
	copy(before, concerns)
	shifted := make([]Concern, len(concerns))
	for i := range concerns {
		c := concerns[i]
		ShiftWindow(&c)
		shifted[i] = c
	}

	n, err := UpsertConcerns(db, shifted)
	if err != nil {
		return nil, 0, err
	}

	updated := make([]Concern, 0, len(shifted))
	for _, c := range shifted {
		fresh, err := GetConcern(db, c.Serial)
		if err != nil {
			return nil, n, err
		}
		updated = append(updated, fresh)
	}
	changes := DetectStatusChanges(before, updated)
	log.Printf("shift advanced=%d status_changes=%d", n, len(changes))
	return changes, n, nil
}

// StartReconcileScheduler starts a cron-based loop running reconciliation.
// The schedule is a standard 5-field cron expression (minute hour
// day-of-month month day-of-week).
func StartReconcileScheduler(cfg Config, db *sql.DB, oracle MatchOracle, api *slack.Client) {
	schedule := strings.TrimSpace(cfg.ReconcileSchedule)
	if schedule == "" {
		log.Println("Scheduled reconciliation disabled (reconcile_schedule not set)")
		return
	}
	sched, err := cronParser.Parse(schedule)
	if err != nil {
		log.Printf("Invalid reconcile_schedule '%s': %v, scheduled reconciliation disabled", schedule, err)
		return
	}
	log.Printf("Reconciliation scheduled (cron: %s)", schedule)

	go func() {
		for {
			now := time.Now()
			next := sched.Next(now)
			wait := next.Sub(now)
			log.Printf("Next reconciliation at %s (in %s)", next.Format("Mon Jan 2 15:04"), wait.Round(time.Minute))

			time.Sleep(wait)

			result, outcome, err := RunReconcileOnce(context.Background(), cfg, db, oracle, api, true)
			if err != nil {
				log.Printf("Scheduled reconciliation error: %v", err)
				continue
			}
			applied := 0
			if outcome != nil {
				applied = len(outcome.Deltas)
			}
			log.Printf("Scheduled reconciliation complete run=%s exact=%d semantic=%d unmatched=%d applied=%d",
				result.RunID, len(result.Exact), len(result.Semantic), len(result.Unmatched), applied)
		}
	}()
}

// StartShiftScheduler starts a cron-based loop advancing the weekly window,
// typically once a week at the period boundary.
func StartShiftScheduler(cfg Config, db *sql.DB, api *slack.Client) {
	schedule := strings.TrimSpace(cfg.ShiftSchedule)
	if schedule == "" {
		log.Println("Scheduled window shift disabled (shift_schedule not set)")
		return
	}
	sched, err := cronParser.Parse(schedule)
	if err != nil {
		log.Printf("Invalid shift_schedule '%s': %v, scheduled window shift disabled", schedule, err)
		return
	}
	log.Printf("Window shift scheduled (cron: %s)", schedule)

	go func() {
		for {
			now := time.Now()
			next := sched.Next(now)
			wait := next.Sub(now)
			log.Printf("Next window shift at %s (in %s)", next.Format("Mon Jan 2 15:04"), wait.Round(time.Minute))

			time.Sleep(wait)

			changes, n, err := RunShiftOnce(db)
			if err != nil {
				log.Printf("Scheduled window shift error: %v", err)
				continue
			}
			log.Printf("Scheduled window shift complete advanced=%d", n)
			if len(changes) > 0 {
				concerns, err := ListConcerns(db)
				if err == nil {
					NotifyNGSummary(api, cfg, SummarizeNG(concerns))
				}
			}
		}
	}()
}
