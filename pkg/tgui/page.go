package tgui

import "fmt"

// Page is one window of a list. Index is 0-based.
type Page[T any] struct {
	Items   []T
	Index   int
	Pages   int
	Total   int
	From    int // 1-based position of Items[0], 0 when empty
	HasNext bool
}

// Paginate returns the requested window of items. size <= 0 means 10; an
// out-of-range index is clamped to the last page.
func Paginate[T any](items []T, index, size int) Page[T] {
	if size <= 0 {
		size = 10
	}
	total := len(items)
	pages := (total + size - 1) / size
	if pages == 0 {
		pages = 1
	}
	if index < 0 {
		index = 0
	}
	if index >= pages {
		index = pages - 1
	}
	start := index * size
	end := start + size
	if end > total {
		end = total
	}
	p := Page[T]{Items: items[start:end], Index: index, Pages: pages, Total: total, HasNext: end < total}
	if end > start {
		p.From = start + 1
	}
	return p
}

// Label renders "page 2/5 (11-20 of 47)".
func (p Page[T]) Label() string {
	if p.Total == 0 {
		return "page 1/1 (empty)"
	}
	return fmt.Sprintf("page %d/%d (%d-%d of %d)", p.Index+1, p.Pages, p.From, p.From+len(p.Items)-1, p.Total)
}
