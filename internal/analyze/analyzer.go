// Package analyze summarizes budgeted evidence with Claude.
package analyze

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/trendscope/evidence-cli/internal/cost"
	"github.com/trendscope/evidence-cli/internal/model"
)

// Client defines the model API operations the analyzer needs.
type Client interface {
	CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error)
}

// MessageRequest is a single-turn completion request.
type MessageRequest struct {
	Model     string
	MaxTokens int64
	System    string
	User      string
}

// MessageResponse carries the text and token usage of a completion.
type MessageResponse struct {
	Text         string
	InputTokens  int64
	OutputTokens int64
}

// Summary is the structured trend read produced from one evidence set.
type Summary struct {
	TrendScore float64  `json:"trend_score"` // 0-100
	Sentiment  string   `json:"sentiment"`   // positive|neutral|negative|mixed
	Themes     []string `json:"themes"`
	Risks      []string `json:"risks"`
	Summary    string   `json:"summary"`
}

const systemPrompt = `You are a market trend analyst. Given social media evidence (notes, comments) and competitor pages, produce a JSON object with fields: trend_score (0-100 number), sentiment (positive|neutral|negative|mixed), themes (string array), risks (string array), summary (one paragraph). Respond with JSON only.`

// Analyzer turns a budgeted evidence set into a Summary.
type Analyzer struct {
	client    Client
	costs     *cost.Calculator
	model     string
	maxTokens int64
}

// NewAnalyzer creates an analyzer for the given model.
func NewAnalyzer(client Client, costs *cost.Calculator, model string, maxTokens int64) *Analyzer {
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Analyzer{client: client, costs: costs, model: model, maxTokens: maxTokens}
}

// Analyze runs one completion over the evidence and parses the model's JSON
// answer, repairing truncated output when needed. Returns the summary and
// the estimated USD cost of the call.
func (a *Analyzer) Analyze(ctx context.Context, query string, ev model.BudgetedEvidence) (*Summary, float64, error) {
	resp, err := a.client.CreateMessage(ctx, MessageRequest{
		Model:     a.model,
		MaxTokens: a.maxTokens,
		System:    systemPrompt,
		User:      renderEvidence(query, ev),
	})
	if err != nil {
		return nil, 0, eris.Wrap(err, "analyze: create message")
	}

	callCost := a.costs.Claude(a.model, resp.InputTokens, resp.OutputTokens)
	zap.L().Info("evidence analysis completed",
		zap.String("model", a.model),
		zap.Int64("input_tokens", resp.InputTokens),
		zap.Int64("output_tokens", resp.OutputTokens),
		zap.Float64("estimated_cost_usd", callCost))

	var summary Summary
	if err := json.Unmarshal([]byte(RepairJSON(resp.Text)), &summary); err != nil {
		return nil, callCost, eris.Wrap(err, "analyze: parse summary")
	}
	return &summary, callCost, nil
}

// renderEvidence flattens the evidence set into the prompt body. Budgeting
// upstream keeps this bounded.
func renderEvidence(query string, ev model.BudgetedEvidence) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Query: %s\n\n", query)

	if len(ev.Notes) > 0 {
		b.WriteString("## Notes\n")
		for _, n := range ev.Notes {
			fmt.Fprintf(&b, "- [likes=%d comments=%d] %s: %s\n", n.Likes, n.Comments, n.Title, n.Content)
		}
		b.WriteString("\n")
	}
	if len(ev.Comments) > 0 {
		b.WriteString("## Comments\n")
		for _, c := range ev.Comments {
			fmt.Fprintf(&b, "- [likes=%d] %s\n", c.Likes, c.Content)
		}
		b.WriteString("\n")
	}
	if len(ev.Competitors) > 0 {
		b.WriteString("## Competitor pages\n")
		for _, p := range ev.Competitors {
			text := p.Snippet
			if p.Content != "" {
				text = p.Content
			}
			fmt.Fprintf(&b, "- %s (%s): %s\n", p.Title, p.URL, text)
		}
	}

	return b.String()
}
