// Package view derives presentation slices from a collection snapshot:
// search-filtered, paginated views and per-status summaries. Everything here
// is a pure function of its arguments with no cache or network interaction,
// so callers get deterministic results and direct unit testability.
//
// No logging in this package; callers decide how and what to log.
package view

import (
	"golang.org/x/text/language"
	"golang.org/x/text/search"

	"github.com/tbourn/go-delivery-console/internal/domain"
)

// PageSize is the fixed number of records per page.
const PageSize = 10

// Projection is a filtered, paginated slice of the collection.
type Projection struct {
	Items     []domain.Delivery
	Page      int // 1-indexed; clamped into [1, PageCount]
	PageCount int // ceil(Total / PageSize), minimum 1
	Total     int // records matching the filter
}

// Summary counts records per status across the whole (unfiltered) snapshot.
type Summary struct {
	Pending      int `json:"pending"`
	InTransit    int `json:"in_transit"`
	Delivered    int `json:"delivered"`
	NotDelivered int `json:"not_delivered"`
}

// Filter returns the records whose recipient or address contains term,
// case-insensitively. An empty term matches everything. The input order is
// preserved; the result is a fresh slice.
func Filter(snapshot []domain.Delivery, term string) []domain.Delivery {
	if term == "" {
		return append([]domain.Delivery(nil), snapshot...)
	}
	pat := search.New(language.Und, search.IgnoreCase).CompileString(term)
	out := make([]domain.Delivery, 0, len(snapshot))
	for _, d := range snapshot {
		if contains(pat, d.Recipient) || contains(pat, d.Address) {
			out = append(out, d)
		}
	}
	return out
}

func contains(pat *search.Pattern, s string) bool {
	start, _ := pat.IndexString(s)
	return start >= 0
}

// Project filters the snapshot by term and returns the 1-indexed page.
// A page outside [1, PageCount] is clamped, so a stale page number left over
// from a previous search term is never silently served as an empty page;
// the clamped page is reported in Projection.Page.
func Project(snapshot []domain.Delivery, term string, page int) Projection {
	filtered := Filter(snapshot, term)
	total := len(filtered)

	pageCount := (total + PageSize - 1) / PageSize
	if pageCount < 1 {
		pageCount = 1
	}
	if page < 1 {
		page = 1
	}
	if page > pageCount {
		page = pageCount
	}

	start := (page - 1) * PageSize
	end := start + PageSize
	if start > total {
		start = total
	}
	if end > total {
		end = total
	}

	return Projection{
		Items:     filtered[start:end],
		Page:      page,
		PageCount: pageCount,
		Total:     total,
	}
}

// Summarize tallies the snapshot per status. Unknown statuses cannot occur
// in a well-formed collection and are ignored.
func Summarize(snapshot []domain.Delivery) Summary {
	var s Summary
	for _, d := range snapshot {
		switch d.Status {
		case domain.StatusPending:
			s.Pending++
		case domain.StatusInTransit:
			s.InTransit++
		case domain.StatusDelivered:
			s.Delivered++
		case domain.StatusNotDelivered:
			s.NotDelivered++
		}
	}
	return s
}
