package main

import (
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/slack-go/slack"
)

func buildRunMessage(result *RunResult, outcome *ApplyOutcome) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*Reconciliation run `%s`*\n", result.RunID)
	fmt.Fprintf(&b, "Exact matches: %d\nSemantic matches: %d\nUnmatched: %d\n",
		len(result.Exact), len(result.Semantic), len(result.Unmatched))

	failed := 0
	for _, batch := range result.Batches {
		if batch.Status != "ok" {
			failed++
		}
	}
	if failed > 0 {
		fmt.Fprintf(&b, ":warning: %d of %d oracle batches failed\n", failed, len(result.Batches))
	}

	if outcome != nil {
		fmt.Fprintf(&b, "Applied recurrence to %d concerns\n", len(outcome.Deltas))
		for _, ch := range outcome.Changes {
			fmt.Fprintf(&b, "• %s\n", ch)
		}
	}
	return b.String()
}

func buildNGSummaryMessage(summary NGSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*Matrix status* (%d concerns)\n", summary.Total)
	fmt.Fprintf(&b, "Workstation NG: %d | Mfg NG: %d | Plant NG: %d\n",
		summary.WorkstationNG, summary.MfgNG, summary.PlantNG)
	if summary.Critical > 0 {
		fmt.Fprintf(&b, ":rotating_light: %d critical (severity 5, plant NG)\n", summary.Critical)
	}
	areas := make([]string, 0, len(summary.ByArea))
	for area := range summary.ByArea {
		areas = append(areas, area)
	}
	sort.Strings(areas)
	for _, area := range areas {
		fmt.Fprintf(&b, "• %s: %d plant NG\n", area, summary.ByArea[area])
	}
	return b.String()
}

// NotifyRun posts the reconciliation outcome to the configured channel.
// Failures are logged and swallowed: a notification must never fail a run.
func NotifyRun(api *slack.Client, cfg Config, result *RunResult, outcome *ApplyOutcome) {
	if api == nil || !cfg.SlackConfigured() {
		return
	}
	msg := buildRunMessage(result, outcome)
	_, _, err := api.PostMessage(cfg.SlackChannelID, slack.MsgOptionText(msg, false))
	if err != nil {
		log.Printf("Error posting run summary to %s: %v", cfg.SlackChannelID, err)
		return
	}
	log.Printf("Posted run summary for %s to %s", result.RunID, cfg.SlackChannelID)
}

// NotifyNGSummary posts the current NG counts to the configured channel.
func NotifyNGSummary(api *slack.Client, cfg Config, summary NGSummary) {
	if api == nil || !cfg.SlackConfigured() {
		return
	}
	_, _, err := api.PostMessage(cfg.SlackChannelID, slack.MsgOptionText(buildNGSummaryMessage(summary), false))
	if err != nil {
		log.Printf("Error posting NG summary to %s: %v", cfg.SlackChannelID, err)
	}
}
