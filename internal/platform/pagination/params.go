// Package pagination parses page/limit and limit/offset query parameters.
package pagination

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ErrInvalidParam reports a malformed or out-of-range query parameter.
var ErrInvalidParam = errors.New("pagination: invalid parameter")

// Bounds configures the default and maximum limit accepted for an endpoint.
type Bounds struct {
	DefaultLimit int
	MaxLimit     int
}

// Page is 1-based page navigation used by admin listings.
type Page struct {
	Page  int
	Limit int
}

// Offset is limit/offset navigation used by customer history.
type Offset struct {
	Limit  int
	Offset int
}

// ParsePage reads page and limit. Limits above the maximum are clamped; non-numeric or
// negative values are rejected.
func ParsePage(values url.Values, bounds Bounds) (Page, error) {
	page, err := intParam(values, "page", 1)
	if err != nil {
		return Page{}, err
	}
	if page < 1 {
		return Page{}, fmt.Errorf("%w: page must be >= 1", ErrInvalidParam)
	}
	limit, err := limitParam(values, bounds)
	if err != nil {
		return Page{}, err
	}
	return Page{Page: page, Limit: limit}, nil
}

// ParseOffset reads limit and offset.
func ParseOffset(values url.Values, bounds Bounds) (Offset, error) {
	limit, err := limitParam(values, bounds)
	if err != nil {
		return Offset{}, err
	}
	offset, err := intParam(values, "offset", 0)
	if err != nil {
		return Offset{}, err
	}
	if offset < 0 {
		return Offset{}, fmt.Errorf("%w: offset must be >= 0", ErrInvalidParam)
	}
	return Offset{Limit: limit, Offset: offset}, nil
}

func limitParam(values url.Values, bounds Bounds) (int, error) {
	limit, err := intParam(values, "limit", bounds.DefaultLimit)
	if err != nil {
		return 0, err
	}
	if limit < 1 {
		return 0, fmt.Errorf("%w: limit must be >= 1", ErrInvalidParam)
	}
	if bounds.MaxLimit > 0 && limit > bounds.MaxLimit {
		limit = bounds.MaxLimit
	}
	return limit, nil
}

func intParam(values url.Values, name string, fallback int) (int, error) {
	raw := strings.TrimSpace(values.Get(name))
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", ErrInvalidParam, name)
	}
	return n, nil
}
