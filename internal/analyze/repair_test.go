package analyze

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepairJSON_ValidObjectUnchanged(t *testing.T) {
	in := `{"trend_score": 72, "sentiment": "positive"}`
	assert.Equal(t, in, RepairJSON(in))
}

func TestRepairJSON_StripsSurroundingProse(t *testing.T) {
	in := "Here is the analysis you asked for:\n\n" +
		`{"trend_score": 55, "themes": ["matcha"]}` +
		"\n\nLet me know if you need more detail."
	got := RepairJSON(in)
	assert.Equal(t, `{"trend_score": 55, "themes": ["matcha"]}`, got)
	assert.True(t, json.Valid([]byte(got)))
}

func TestRepairJSON_StripsMarkdownFence(t *testing.T) {
	in := "```json\n{\"sentiment\": \"mixed\", \"risks\": []}\n```"
	got := RepairJSON(in)
	assert.Equal(t, `{"sentiment": "mixed", "risks": []}`, got)
}

func TestRepairJSON_ClosesTruncatedString(t *testing.T) {
	in := `{"summary": "demand is climbing steadi`
	got := RepairJSON(in)
	require.True(t, json.Valid([]byte(got)), "repaired: %s", got)

	var out map[string]string
	require.NoError(t, json.Unmarshal([]byte(got), &out))
	assert.Equal(t, "demand is climbing steadi", out["summary"])
}

func TestRepairJSON_ClosesTruncatedNestedArray(t *testing.T) {
	in := `{"trend_score": 72, "themes": ["matcha", "latte`
	got := RepairJSON(in)
	require.True(t, json.Valid([]byte(got)), "repaired: %s", got)

	var out struct {
		TrendScore float64  `json:"trend_score"`
		Themes     []string `json:"themes"`
	}
	require.NoError(t, json.Unmarshal([]byte(got), &out))
	assert.Equal(t, 72.0, out.TrendScore)
	assert.Equal(t, []string{"matcha", "latte"}, out.Themes)
}

func TestRepairJSON_DropsDanglingComma(t *testing.T) {
	got := RepairJSON(`{"trend_score": 40,`)
	assert.Equal(t, `{"trend_score": 40}`, got)
	assert.True(t, json.Valid([]byte(got)))
}

func TestRepairJSON_FillsDanglingColon(t *testing.T) {
	got := RepairJSON(`{"trend_score": 40, "sentiment":`)
	assert.Equal(t, `{"trend_score": 40, "sentiment":null}`, got)
	assert.True(t, json.Valid([]byte(got)))
}

func TestRepairJSON_DropsDanglingEscape(t *testing.T) {
	got := RepairJSON(`{"summary": "line one\`)
	assert.True(t, json.Valid([]byte(got)), "repaired: %s", got)
}

func TestRepairJSON_MismatchedCloserStillCloses(t *testing.T) {
	got := RepairJSON(`{"themes": ["a"}`)
	assert.Equal(t, `{"themes": ["a"]}`, got)
	assert.True(t, json.Valid([]byte(got)))

	got = RepairJSON(`{]`)
	assert.Equal(t, `{}`, got)

	got = RepairJSON(`{"a": 1,]`)
	assert.Equal(t, `{"a": 1}`, got)
}

func TestRepairJSON_NoJSONPassthrough(t *testing.T) {
	in := "I could not produce a structured answer."
	assert.Equal(t, in, RepairJSON(in))
}
