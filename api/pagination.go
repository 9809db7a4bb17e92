package api

import (
	"net/http"
	"strconv"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

// Page describes the slice of a listing returned in a response.
type Page struct {
	Total   int  `json:"total"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
}

// pageParams reads "limit" and "offset" from the query string. Missing,
// malformed and non-positive values take the defaults; limit is capped at
// maxPageLimit.
func pageParams(r *http.Request) (limit, offset int) {
	q := r.URL.Query()
	limit = positiveInt(q.Get("limit"), defaultPageLimit)
	offset = positiveInt(q.Get("offset"), 0)
	return min(limit, maxPageLimit), offset
}

func positiveInt(raw string, fallback int) int {
	if n, err := strconv.Atoi(raw); err == nil && n > 0 {
		return n
	}
	return fallback
}

// paginate returns the requested window of items. An offset past the end
// yields an empty, non-nil slice.
func paginate[T any](items []T, limit, offset int) ([]T, Page) {
	start := min(offset, len(items))
	end := min(start+limit, len(items))
	return items[start:end:end], Page{
		Total:   len(items),
		Limit:   limit,
		Offset:  offset,
		HasMore: end < len(items),
	}
}
