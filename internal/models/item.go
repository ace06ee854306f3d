package models

import (
	"strings"
	"time"
)

// MediaAsset is a media link attached to a collected item.
type MediaAsset struct {
	URL       string `json:"url"`
	MediaType string `json:"media_type"`
	LocalPath string `json:"local_path,omitempty"`
}

// Item is one unit produced by the collector.
type Item struct {
	Source      string
	Title       string
	URL         string
	Description string
	PublishedAt *time.Time // nil when the source carried no usable timestamp
	Comments    []string
	Media       []MediaAsset
}

// Summary holds the generated segments for an item. It is never empty once produced.
type Summary []string

// Text joins the segments with blank lines.
func (s Summary) Text() string {
	return strings.Join(s, "\n\n")
}

// Pair couples an item with its generated summary for delivery.
type Pair struct {
	Item    Item
	Summary Summary
}

// Verdict is the parsed reply of the scoring collaborator.
type Verdict struct {
	Passed    bool
	Score     float64
	Rationale string
}
