package api

import (
	"strconv"
	"strings"
)

// DefaultLimit and MaxLimit bound the /jobs and /triggers listing endpoints.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// parsePagination extracts and validates limit/offset query parameters.
func parsePagination(query urlValues) (limit, offset int, err error) {
	limit = DefaultLimit
	offset = 0

	if limitStr := query.Get("limit"); limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil {
			return 0, 0, err
		}
		if limit < 0 {
			return 0, 0, strconv.ErrRange
		}
		if limit > MaxLimit {
			return 0, 0, &limitExceededError{max: MaxLimit}
		}
		if limit == 0 {
			limit = DefaultLimit
		}
	}

	if offsetStr := query.Get("offset"); offsetStr != "" {
		offset, err = strconv.Atoi(offsetStr)
		if err != nil {
			return 0, 0, err
		}
		if offset < 0 {
			return 0, 0, strconv.ErrRange
		}
	}

	return limit, offset, nil
}

type limitExceededError struct {
	max int
}

func (e *limitExceededError) Error() string {
	return "limit exceeds maximum of " + strconv.Itoa(e.max)
}

// urlValues is the subset of url.Values parsePagination needs, kept
// narrow so it can be exercised without constructing an *http.Request.
type urlValues interface {
	Get(string) string
}

// pathSegments splits a trimmed request path on "/".
func pathSegments(path string) []string {
	return strings.Split(strings.Trim(path, "/"), "/")
}
