package models

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// ReportRecord represents a row in the reports table
type ReportRecord struct {
	Fingerprint  string          `db:"fingerprint" json:"fingerprint"`
	ReportDate   string          `db:"report_date" json:"report_date"` // YYYY-MM-DD, day of ingestion
	Source       string          `db:"source" json:"source"`
	Title        string          `db:"title" json:"title"`
	URL          string          `db:"url" json:"url"`
	PublishedAt  sql.NullTime    `db:"published_at" json:"-"`
	Description  string          `db:"description" json:"description"`
	CommentsJSON string          `db:"comments_json" json:"-"`
	MediaJSON    string          `db:"media_json" json:"-"`
	SummaryJSON  string          `db:"summary_json" json:"-"`
	Score        sql.NullFloat64 `db:"score" json:"-"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
}

// PushRecord represents a row in the push_records table
type PushRecord struct {
	Channel         string    `db:"channel"`
	ItemFingerprint string    `db:"item_fingerprint"`
	PushedAt        time.Time `db:"pushed_at"`
}

// SeenItem represents a row in the seen_items table
type SeenItem struct {
	Fingerprint string    `db:"fingerprint"`
	URL         string    `db:"url"`
	Title       string    `db:"title"`
	CreatedAt   time.Time `db:"created_at"`
}

// DateCount is one entry of the per-day report index.
type DateCount struct {
	Date  string `db:"report_date" json:"date"`
	Count int    `db:"count" json:"count"`
}

// Comments decodes the stored comment list.
func (r ReportRecord) Comments() ([]string, error) {
	var out []string
	if err := decodeList(r.CommentsJSON, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Media decodes the stored media list.
func (r ReportRecord) Media() ([]MediaAsset, error) {
	var out []MediaAsset
	if err := decodeList(r.MediaJSON, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Summary decodes the stored summary segments.
func (r ReportRecord) Summary() (Summary, error) {
	var out Summary
	if err := decodeList(r.SummaryJSON, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Published returns the publish time or nil when it was not recorded.
func (r ReportRecord) Published() *time.Time {
	if !r.PublishedAt.Valid {
		return nil
	}
	t := r.PublishedAt.Time
	return &t
}

func decodeList(raw string, v any) error {
	if raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("decode stored list: %w", err)
	}
	return nil
}

// Pair rebuilds the delivered item and its summary from the stored row.
func (r ReportRecord) Pair() (Pair, error) {
	comments, err := r.Comments()
	if err != nil {
		return Pair{}, err
	}
	media, err := r.Media()
	if err != nil {
		return Pair{}, err
	}
	summary, err := r.Summary()
	if err != nil {
		return Pair{}, err
	}
	return Pair{
		Item: Item{
			Source:      r.Source,
			Title:       r.Title,
			URL:         r.URL,
			Description: r.Description,
			PublishedAt: r.Published(),
			Comments:    comments,
			Media:       media,
		},
		Summary: summary,
	}, nil
}
