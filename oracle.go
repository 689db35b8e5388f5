package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultOracleModel = "claude-sonnet-4-5-20250929"

// OracleMatch is one entry of the oracle's response. A nil MatchedSerial
// means the oracle found no plausible concern for that defect.
type OracleMatch struct {
	DefectIndex   int     `json:"defectIndex"`
	MatchedSerial *int64  `json:"matchedConcernKey"`
	Confidence    float64 `json:"confidence"`
	Rationale     string  `json:"rationale"`
}

type oracleResponse struct {
	Matches []OracleMatch `json:"matches"`
}

// MatchOracle is the external semantic matcher. The engine treats it as a
// black box: concern and defect summaries in, scored candidates out.
// Implementations must honor the context deadline.
type MatchOracle interface {
	MatchBatch(ctx context.Context, concerns []ConcernSummary, defects []DefectSummary) ([]OracleMatch, error)
}

// AnthropicOracle implements MatchOracle against the Anthropic API.
type AnthropicOracle struct {
	client anthropic.Client
	model  string
}

func NewAnthropicOracle(apiKey, model string) *AnthropicOracle {
	if model == "" {
		model = defaultOracleModel
	}
	return &AnthropicOracle{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

func (o *AnthropicOracle) MatchBatch(ctx context.Context, concerns []ConcernSummary, defects []DefectSummary) ([]OracleMatch, error) {
	systemPrompt, userPrompt := buildMatchPrompts(concerns, defects)

	log.Printf("oracle match model=%s defects=%d concerns=%d", o.model, len(defects), len(concerns))
	message, err := o.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(o.model),
		MaxTokens: 8192,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt, CacheControl: anthropic.NewCacheControlEphemeralParam()},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return nil, classifyOracleErr(err)
	}

	for _, block := range message.Content {
		if block.Type == "text" {
			log.Printf("oracle response size=%d tokens_in=%d tokens_out=%d",
				len(block.Text), message.Usage.InputTokens, message.Usage.OutputTokens)
			return parseOracleResponse(block.Text)
		}
	}
	return nil, fmt.Errorf("no text content in oracle response")
}

func classifyOracleErr(err error) error {
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		switch apierr.StatusCode {
		case 429:
			return &OracleError{Kind: OracleRateLimited, Err: err}
		case 402:
			return &OracleError{Kind: OracleQuota, Err: err}
		}
	}
	return &OracleError{Kind: OracleUnavailable, Err: err}
}

func buildMatchPrompts(concerns []ConcernSummary, defects []DefectSummary) (string, string) {
	var concernLines strings.Builder
	for _, c := range concerns {
		concernLines.WriteString(fmt.Sprintf("[%d] %q (station: %s, area: %s)\n",
			c.Serial, c.Description, c.Station, c.Area))
	}

	var defectLines strings.Builder
	for _, d := range defects {
		defectLines.WriteString(fmt.Sprintf("[%d] Location: %q | Defect: %q | Details: %q | Gravity: %s | Qty: %d\n",
			d.Index, d.Location, d.Description, d.Detail, d.Gravity, d.Quantity))
	}

	systemPrompt := `You are an automotive quality assurance expert. Match defect reports to QA concerns based on semantic meaning, not just keywords. Consider the actual problem, the location, the component type and the manufacturing context. Use null for matchedConcernKey when no concern fits.
Set confidence between 0 and 1 and give a one-line rationale per match.

Respond with JSON only (no markdown):
{"matches": [{"defectIndex": 0, "matchedConcernKey": 12, "confidence": 0.82, "rationale": "..."}, ...]}`

	userPrompt := "QA Concerns:\n" + concernLines.String() +
		"\nDefects:\n" + defectLines.String() +
		"\nMatch each defect to the best QA concern."
	return systemPrompt, userPrompt
}

func parseOracleResponse(responseText string) ([]OracleMatch, error) {
	responseText = strings.TrimSpace(responseText)
	responseText = strings.TrimPrefix(responseText, "```json")
	responseText = strings.TrimPrefix(responseText, "```")
	responseText = strings.TrimSuffix(responseText, "```")
	responseText = strings.TrimSpace(responseText)

	var resp oracleResponse
	if err := json.Unmarshal([]byte(responseText), &resp); err != nil {
		truncated := responseText
		if len(truncated) > 512 {
			truncated = truncated[:512] + fmt.Sprintf("... [truncated, total_length=%d]", len(responseText))
		}
		return nil, fmt.Errorf("parsing oracle response: %w (truncated response: %s)", err, truncated)
	}
	return resp.Matches, nil
}
