// Package budget selects the evidence subset forwarded to analysis.
// Everything here is pure: no I/O, no shared state, deterministic for a
// given input.
package budget

import (
	"sort"
	"strings"
	"time"

	"golang.org/x/text/width"

	"github.com/trendscope/evidence-cli/internal/model"
	"github.com/trendscope/evidence-cli/pkg/crawler"
)

// Caps is the per-mode evidence budget.
type Caps struct {
	Notes       int
	Comments    int
	Competitors int
}

// CapsFor returns the evidence budget for mode. Unknown modes get the
// quick budget.
func CapsFor(mode crawler.Mode) Caps {
	if mode == crawler.ModeDeep {
		return Caps{Notes: 12, Comments: 24, Competitors: 14}
	}
	return Caps{Notes: 6, Comments: 12, Competitors: 8}
}

const (
	noteKeyLen       = 160
	commentKeyLen    = 180
	competitorKeyLen = 120
	minCommentLen    = 6
)

// Apply deduplicates and rank-selects evidence under the budget for mode.
// Empty inputs produce empty outputs with zeroed stats.
func Apply(social model.SocialEvidence, competitors []model.CompetitorResult, mode crawler.Mode, now time.Time) model.BudgetedEvidence {
	caps := CapsFor(mode)

	out := model.BudgetedEvidence{
		Notes:       selectNotes(social.Notes, caps.Notes, now),
		Comments:    selectComments(social.Comments, caps.Comments, now),
		Competitors: selectCompetitors(competitors, caps.Competitors, now),
	}

	out.Stats = model.BudgetStats{
		NotesBefore:       len(social.Notes),
		NotesAfter:        len(out.Notes),
		CommentsBefore:    len(social.Comments),
		CommentsAfter:     len(out.Comments),
		CompetitorsBefore: len(competitors),
		CompetitorsAfter:  len(out.Competitors),
	}
	for _, n := range social.Notes {
		out.Stats.CharsBefore += len(n.Title) + len(n.Content)
	}
	for _, c := range social.Comments {
		out.Stats.CharsBefore += len(c.Content)
	}
	for _, n := range out.Notes {
		out.Stats.CharsAfter += len(n.Title) + len(n.Content)
	}
	for _, c := range out.Comments {
		out.Stats.CharsAfter += len(c.Content)
	}

	return out
}

func selectNotes(notes []crawler.RawNote, limit int, now time.Time) []crawler.RawNote {
	type scored struct {
		note  crawler.RawNote
		score float64
	}

	seen := make(map[string]struct{}, len(notes))
	kept := make([]scored, 0, len(notes))
	for _, n := range notes {
		key := Normalize(n.Title + prefix(n.Content, noteKeyLen))
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		kept = append(kept, scored{note: n, score: NoteScore(n, now)})
	}

	sort.SliceStable(kept, func(i, j int) bool { return kept[i].score > kept[j].score })
	if len(kept) > limit {
		kept = kept[:limit]
	}

	out := make([]crawler.RawNote, len(kept))
	for i, s := range kept {
		out[i] = s.note
	}
	return out
}

func selectComments(comments []crawler.RawComment, limit int, now time.Time) []crawler.RawComment {
	type scored struct {
		comment crawler.RawComment
		score   float64
	}

	seen := make(map[string]struct{}, len(comments))
	kept := make([]scored, 0, len(comments))
	for _, c := range comments {
		// Below the minimum there is no usable signal, engagement or not.
		if len([]rune(c.Content)) < minCommentLen {
			continue
		}
		key := Normalize(prefix(c.Content, commentKeyLen))
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		kept = append(kept, scored{comment: c, score: CommentScore(c, now)})
	}

	sort.SliceStable(kept, func(i, j int) bool { return kept[i].score > kept[j].score })
	if len(kept) > limit {
		kept = kept[:limit]
	}

	out := make([]crawler.RawComment, len(kept))
	for i, s := range kept {
		out[i] = s.comment
	}
	return out
}

func selectCompetitors(pages []model.CompetitorResult, limit int, now time.Time) []model.CompetitorResult {
	type scored struct {
		page  model.CompetitorResult
		score float64
	}

	seen := make(map[string]struct{}, len(pages))
	kept := make([]scored, 0, len(pages))
	for _, p := range pages {
		key := Normalize(p.URL + p.Title + prefix(p.Snippet, competitorKeyLen))
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		kept = append(kept, scored{page: p, score: CompetitorScore(p, now)})
	}

	sort.SliceStable(kept, func(i, j int) bool { return kept[i].score > kept[j].score })
	if len(kept) > limit {
		kept = kept[:limit]
	}

	out := make([]model.CompetitorResult, len(kept))
	for i, s := range kept {
		out[i] = s.page
	}
	return out
}

// NoteScore ranks a note by engagement, length, and freshness. Only
// relative order matters.
func NoteScore(n crawler.RawNote, now time.Time) float64 {
	textLen := float64(len([]rune(n.Title + n.Content)))
	score := float64(n.Likes) + 2*float64(n.Comments) + 1.5*float64(n.Collects)
	score += min(40.0, textLen/20)
	score += FreshnessBonus(n.PublishedAt, now)
	return score
}

// CommentScore ranks a comment by likes, length, and freshness.
func CommentScore(c crawler.RawComment, now time.Time) float64 {
	textLen := float64(len([]rune(c.Content)))
	score := 2 * float64(c.Likes)
	score += min(30.0, textLen/12)
	score += FreshnessBonus(c.PublishedAt, now)
	return score
}

// CompetitorScore ranks a competitor page. Cleaned full text and deep
// search provenance dominate the length term.
func CompetitorScore(p model.CompetitorResult, now time.Time) float64 {
	var score float64
	if p.Content != "" {
		score += 20
	}
	if p.FromDeep {
		score += 10
	}
	textLen := float64(len([]rune(p.Title + p.Snippet + p.Content)))
	score += min(50.0, textLen/20)
	score += FreshnessBonus(p.PublishedAt, now)
	return score
}

// FreshnessBonus rewards recently published evidence. Missing or
// unparseable timestamps score zero, never negative.
func FreshnessBonus(publishedAt string, now time.Time) float64 {
	if publishedAt == "" {
		return 0
	}
	t, ok := parseTimestamp(publishedAt)
	if !ok {
		return 0
	}
	age := now.Sub(t)
	switch {
	case age <= 2*24*time.Hour:
		return 20
	case age <= 7*24*time.Hour:
		return 14
	case age <= 14*24*time.Hour:
		return 9
	case age <= 30*24*time.Hour:
		return 4
	default:
		return 0
	}
}

func parseTimestamp(s string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Normalize folds fullwidth forms to narrow, lower-cases, collapses
// whitespace, and trims. Dedup keys from mixed CJK/Latin content need
// the width fold or visually identical strings hash apart.
func Normalize(s string) string {
	s = width.Narrow.String(s)
	s = strings.ToLower(s)
	s = strings.Join(strings.Fields(s), " ")
	return s
}

func prefix(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
