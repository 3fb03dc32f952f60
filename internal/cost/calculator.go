// Package cost estimates USD spend for crawl jobs and analysis calls.
package cost

// Rates holds per-provider pricing configuration.
type Rates struct {
	APICallUSD   float64              `yaml:"api_call_usd" mapstructure:"api_call_usd"`
	ProxyCallUSD float64              `yaml:"proxy_call_usd" mapstructure:"proxy_call_usd"`
	Anthropic    map[string]ModelRate `yaml:"anthropic" mapstructure:"anthropic"`
}

// ModelRate holds per-model token pricing (USD per million tokens).
type ModelRate struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// Calculator computes estimated costs for API usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Crawl estimates the USD cost of a crawl job from its call counts. Used when
// the crawler reports counts but no estimate of its own.
func (c *Calculator) Crawl(apiCalls, proxyCalls int) float64 {
	return float64(apiCalls)*c.rates.APICallUSD + float64(proxyCalls)*c.rates.ProxyCallUSD
}

// Claude computes the cost for a single-message Claude call.
func (c *Calculator) Claude(model string, inputTokens, outputTokens int64) float64 {
	rate, ok := c.rates.Anthropic[model]
	if !ok {
		return 0
	}
	return (float64(inputTokens)/1e6)*rate.Input + (float64(outputTokens)/1e6)*rate.Output
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		APICallUSD:   0.003,
		ProxyCallUSD: 0.0008,
		Anthropic: map[string]ModelRate{
			"claude-haiku-4-5-20251001":  {Input: 0.80, Output: 4.00},
			"claude-sonnet-4-5-20250929": {Input: 3.00, Output: 15.00},
		},
	}
}
