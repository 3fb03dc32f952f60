package analyze

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trendscope/evidence-cli/internal/cost"
	"github.com/trendscope/evidence-cli/internal/model"
	"github.com/trendscope/evidence-cli/pkg/crawler"
)

type fakeClient struct {
	resp    *MessageResponse
	err     error
	lastReq MessageRequest
}

func (f *fakeClient) CreateMessage(_ context.Context, req MessageRequest) (*MessageResponse, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func testEvidence() model.BudgetedEvidence {
	return model.BudgetedEvidence{
		Notes: []crawler.RawNote{
			{ID: "n1", Title: "Matcha latte trend", Content: "Everyone is drinking it", Likes: 500, Comments: 40},
		},
		Comments: []crawler.RawComment{
			{ID: "c1", Content: "tried it yesterday, worth the hype", Likes: 12},
		},
		Competitors: []model.CompetitorResult{
			{Title: "Brand X launch", URL: "https://example.com/x", Snippet: "new matcha line"},
		},
	}
}

func TestAnalyzer_ParsesSummaryAndCost(t *testing.T) {
	client := &fakeClient{resp: &MessageResponse{
		Text: "Here is my analysis:\n" +
			`{"trend_score": 78, "sentiment": "positive", "themes": ["matcha"], "risks": [], "summary": "Strong upward interest."}`,
		InputTokens:  2000,
		OutputTokens: 500,
	}}
	costs := cost.NewCalculator(cost.DefaultRates())
	a := NewAnalyzer(client, costs, "claude-haiku-4-5-20251001", 0)

	summary, callCost, err := a.Analyze(context.Background(), "matcha latte", testEvidence())
	require.NoError(t, err)

	assert.Equal(t, 78.0, summary.TrendScore)
	assert.Equal(t, "positive", summary.Sentiment)
	assert.Equal(t, []string{"matcha"}, summary.Themes)
	assert.InDelta(t, (2000.0/1e6)*0.80+(500.0/1e6)*4.00, callCost, 1e-9)

	assert.Equal(t, int64(4096), client.lastReq.MaxTokens)
	assert.Contains(t, client.lastReq.User, "Query: matcha latte")
	assert.Contains(t, client.lastReq.User, "## Notes")
	assert.Contains(t, client.lastReq.User, "## Comments")
	assert.Contains(t, client.lastReq.User, "## Competitor pages")
	assert.Contains(t, client.lastReq.User, "Matcha latte trend")
}

func TestAnalyzer_RepairsTruncatedAnswer(t *testing.T) {
	client := &fakeClient{resp: &MessageResponse{
		Text: `{"trend_score": 42, "sentiment": "mixed", "themes": ["price", "avail`,
	}}
	a := NewAnalyzer(client, cost.NewCalculator(cost.DefaultRates()), "claude-haiku-4-5-20251001", 1024)

	summary, _, err := a.Analyze(context.Background(), "q", model.BudgetedEvidence{})
	require.NoError(t, err)
	assert.Equal(t, 42.0, summary.TrendScore)
	assert.Equal(t, []string{"price", "avail"}, summary.Themes)
}

func TestAnalyzer_ClientError(t *testing.T) {
	client := &fakeClient{err: eris.New("api unavailable")}
	a := NewAnalyzer(client, cost.NewCalculator(cost.DefaultRates()), "claude-haiku-4-5-20251001", 1024)

	_, _, err := a.Analyze(context.Background(), "q", model.BudgetedEvidence{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create message")
}

func TestAnalyzer_UnknownModelZeroCost(t *testing.T) {
	client := &fakeClient{resp: &MessageResponse{Text: `{"trend_score": 1}`, InputTokens: 100, OutputTokens: 10}}
	a := NewAnalyzer(client, cost.NewCalculator(cost.DefaultRates()), "some-unknown-model", 1024)

	_, callCost, err := a.Analyze(context.Background(), "q", model.BudgetedEvidence{})
	require.NoError(t, err)
	assert.Zero(t, callCost)
}
