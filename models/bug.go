// Package models defines data structures for the scraper.
package models

import (
	"net/http"
	"time"
)

// BugRow is one data row of a release listing table.
type BugRow struct {
	Summary string `json:"summary"`
	URL     string `json:"url"`
}

// AssetLink is a downloadable file referenced from a dashboard page.
type AssetLink struct {
	URL      string `json:"url"`
	Name     string `json:"name"`
	FileName string `json:"file_name"`
	Binary   bool   `json:"binary"`
}

// Response is a successful HTTP fetch. An empty Body is still a success.
type Response struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Text returns the body as a string.
func (r *Response) Text() string {
	if r == nil {
		return ""
	}
	return string(r.Body)
}

// Empty reports whether the server answered with no content.
func (r *Response) Empty() bool {
	return r == nil || len(r.Body) == 0
}

// PageResult summarises the asset pass over a single page.
type PageResult struct {
	URL        string
	Title      string
	OutputDir  string
	Discovered int
	Saved      int
	Failed     int
}

// RunResult records one scrape of a release listing and its bug pages.
type RunResult struct {
	RunID        string
	Release      string
	ListingURL   string
	StartTime    time.Time
	EndTime      time.Time
	Listing      *PageResult
	Bugs         []BugRow
	Pages        []*PageResult
	FailedPages  []string
	AssetsSaved  int
	AssetsFailed int
	ErrorsByType map[string]int
}
