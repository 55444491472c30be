// Package models defines data structures for the crawler.
package models

import "time"

// Rating is the five-level ordinal star rating used by the catalog.
type Rating string

// Catalog ratings, lowest to highest.
const (
	RatingOne   Rating = "One"
	RatingTwo   Rating = "Two"
	RatingThree Rating = "Three"
	RatingFour  Rating = "Four"
	RatingFive  Rating = "Five"
)

// ParseRating maps a raw rating token to a Rating. The second return
// value is false for anything outside the five known values.
func ParseRating(s string) (Rating, bool) {
	switch Rating(s) {
	case RatingOne, RatingTwo, RatingThree, RatingFour, RatingFive:
		return Rating(s), true
	}
	return "", false
}

// Level converts the rating to its numeric scale (1..5, 0 for unknown).
func (r Rating) Level() int {
	switch r {
	case RatingOne:
		return 1
	case RatingTwo:
		return 2
	case RatingThree:
		return 3
	case RatingFour:
		return 4
	case RatingFive:
		return 5
	default:
		return 0
	}
}

// Item is one catalog entry extracted from a detail page. Title is the
// only required field; pointer fields are nil when the source page does
// not carry the element, and serialize as explicit nulls.
type Item struct {
	Title        string            `json:"title"`
	Price        *string           `json:"price"`
	Rating       *Rating           `json:"rating"`
	Availability *string           `json:"availability"`
	Description  *string           `json:"description"`
	ProductInfo  map[string]string `json:"product_info"`
	URL          string            `json:"url"`
	ScrapedAt    time.Time         `json:"scraped_at"`
}

// FailureKind distinguishes how a detail page was lost.
type FailureKind string

const (
	// FailureFetch covers transport errors and non-2xx detail responses.
	FailureFetch FailureKind = "fetch"
	// FailureExtract covers detail documents that parsed but yielded no
	// usable record (missing title).
	FailureExtract FailureKind = "extract"
)

// Failure records one detail page that was skipped during a crawl.
type Failure struct {
	URL   string      `json:"url"`
	Kind  FailureKind `json:"kind"`
	Cause string      `json:"cause"`
}

// CrawlResult holds the outcome of one crawl: items in catalog traversal
// order plus the per-item failures that were absorbed along the way.
// Items may repeat titles if the source does; the crawl never dedupes.
type CrawlResult struct {
	Items     []*Item
	Failures  []Failure
	StartTime time.Time
	EndTime   time.Time
	PageCount int
}
