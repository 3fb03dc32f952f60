package crawler

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestBuildLimits(t *testing.T) {
	assert.Equal(t, Limits{Notes: 6, CommentsPerNote: 3}, BuildLimits(ModeQuick))
	assert.Equal(t, Limits{Notes: 12, CommentsPerNote: 6}, BuildLimits(ModeDeep))
	// Unknown modes fall back to the quick profile.
	assert.Equal(t, Limits{Notes: 6, CommentsPerNote: 3}, BuildLimits(Mode("turbo")))
}

func TestNormalizePlatforms(t *testing.T) {
	assert.Empty(t, NormalizePlatforms(false, false))
	assert.Equal(t, []Platform{PlatformXiaohongshu}, NormalizePlatforms(true, false))
	assert.Equal(t, []Platform{PlatformDouyin}, NormalizePlatforms(false, true))
	assert.Equal(t, []Platform{PlatformXiaohongshu, PlatformDouyin}, NormalizePlatforms(true, true))
}

func TestIsTerminal(t *testing.T) {
	for _, s := range []JobStatus{StatusCompleted, StatusFailed, StatusCancelled, StatusTimeout} {
		assert.True(t, s.IsTerminal(), string(s))
	}
	for _, s := range []JobStatus{StatusQueued, StatusDispatched, StatusRunning} {
		assert.False(t, s.IsTerminal(), string(s))
	}
}

func TestFailureDetail(t *testing.T) {
	assert.Empty(t, FailureDetail(nil))
	assert.Empty(t, FailureDetail(&ResultPayload{
		PlatformResults: []PlatformResult{{Platform: PlatformDouyin, Success: true}},
	}))

	detail := FailureDetail(&ResultPayload{
		Errors: []string{"rate limited", ""},
		PlatformResults: []PlatformResult{
			{Platform: PlatformXiaohongshu, Success: false, Error: "login wall"},
			{Platform: PlatformDouyin, Success: true},
		},
	})
	assert.Equal(t, "rate limited; xiaohongshu: login wall", detail)
}

func TestFailureDetail_Truncated(t *testing.T) {
	detail := FailureDetail(&ResultPayload{
		Errors: []string{strings.Repeat("x", 600)},
	})
	assert.Len(t, detail, 500)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 10))
	assert.Equal(t, "ab", Truncate("abcd", 2))
}

func TestTruncate_RuneBoundary(t *testing.T) {
	long := strings.Repeat("登录失败", 60)

	got := Truncate(long, 500)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, 240, utf8.RuneCountInString(got))

	got = Truncate(long, 100)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, 100, utf8.RuneCountInString(got))
	assert.Equal(t, strings.Repeat("登录失败", 25), got)
}

func TestFailureDetail_ChineseErrorsStayValid(t *testing.T) {
	detail := FailureDetail(&ResultPayload{
		PlatformResults: []PlatformResult{
			{Platform: PlatformXiaohongshu, Success: false, Error: strings.Repeat("账号被风控，需要验证。", 60)},
		},
	})
	assert.True(t, utf8.ValidString(detail))
	assert.LessOrEqual(t, utf8.RuneCountInString(detail), 500)
}
