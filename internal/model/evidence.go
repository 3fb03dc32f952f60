package model

import "github.com/trendscope/evidence-cli/pkg/crawler"

// SocialEvidence is the raw crawled social data for one analysis run.
type SocialEvidence struct {
	Notes    []crawler.RawNote    `json:"notes"`
	Comments []crawler.RawComment `json:"comments"`
}

// CompetitorResult is one competitor web page from a search pass.
type CompetitorResult struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Snippet     string `json:"snippet"`
	Content     string `json:"content,omitempty"` // cleaned full text, when available
	FromDeep    bool   `json:"from_deep,omitempty"`
	PublishedAt string `json:"published_at,omitempty"`
}

// BudgetedEvidence is the size-bounded subset selected for the analysis step.
// Ephemeral: recomputed per run, never persisted.
type BudgetedEvidence struct {
	Notes       []crawler.RawNote    `json:"notes"`
	Comments    []crawler.RawComment `json:"comments"`
	Competitors []CompetitorResult   `json:"competitors"`
	Stats       BudgetStats          `json:"stats"`
}

// BudgetStats reports before/after counts and character totals for
// observability.
type BudgetStats struct {
	NotesBefore       int `json:"notes_before"`
	NotesAfter        int `json:"notes_after"`
	CommentsBefore    int `json:"comments_before"`
	CommentsAfter     int `json:"comments_after"`
	CompetitorsBefore int `json:"competitors_before"`
	CompetitorsAfter  int `json:"competitors_after"`
	CharsBefore       int `json:"chars_before"`
	CharsAfter        int `json:"chars_after"`
}
