package repository

import "strings"

const (
	DefaultPage     = 1
	DefaultPageSize = 20
	MaxPageSize     = 100
)

type PageRequest struct {
	Page     int
	PageSize int
}

// Normalize clamps the request into [1, MaxPageSize] and fills defaults.
func (p PageRequest) Normalize() PageRequest {
	if p.Page < 1 {
		p.Page = DefaultPage
	}
	if p.PageSize < 1 {
		p.PageSize = DefaultPageSize
	}
	if p.PageSize > MaxPageSize {
		p.PageSize = MaxPageSize
	}
	return p
}

func (p PageRequest) offset() int {
	return (p.Page - 1) * p.PageSize
}

type PageResult[T any] struct {
	Items      []T   `json:"items"`
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}

func newPageResult[T any](req PageRequest) PageResult[T] {
	return PageResult[T]{Page: req.Page, PageSize: req.PageSize}
}

func (r *PageResult[T]) setTotal(total int64) {
	r.Total = total
	r.TotalPages = pageCount(total, r.PageSize)
}

func pageCount(total int64, pageSize int) int {
	if total <= 0 || pageSize <= 0 {
		return 0
	}
	return int((total + int64(pageSize) - 1) / int64(pageSize))
}

// orderClause builds "<table>.<column> <dir>" for whitelisted columns only.
// Unknown columns yield "" so callers fall back to the id ordering.
func orderClause(table, column, direction string, allowed ...string) string {
	for _, a := range allowed {
		if a == column {
			return table + "." + column + " " + sortDirection(direction)
		}
	}
	return ""
}

func sortDirection(v string) string {
	if strings.EqualFold(v, "desc") {
		return "DESC"
	}
	return "ASC"
}
