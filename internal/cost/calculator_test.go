package cost

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCrawl(t *testing.T) {
	c := NewCalculator(DefaultRates())

	assert.InDelta(t, 4*0.003+2*0.0008, c.Crawl(4, 2), 1e-9)
	assert.Zero(t, c.Crawl(0, 0))
}

func TestClaude(t *testing.T) {
	c := NewCalculator(DefaultRates())

	got := c.Claude("claude-haiku-4-5-20251001", 1_000_000, 500_000)
	assert.InDelta(t, 0.80+2.00, got, 1e-9)

	got = c.Claude("claude-sonnet-4-5-20250929", 100_000, 10_000)
	assert.InDelta(t, 0.30+0.15, got, 1e-9)
}

func TestClaude_UnknownModel(t *testing.T) {
	c := NewCalculator(DefaultRates())
	assert.Zero(t, c.Claude("gpt-oss", 1_000_000, 1_000_000))
}

func TestCustomRates(t *testing.T) {
	c := NewCalculator(Rates{APICallUSD: 0.01, ProxyCallUSD: 0.001})
	assert.InDelta(t, 0.032, c.Crawl(3, 2), 1e-9)
}
