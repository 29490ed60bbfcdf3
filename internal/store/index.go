package store

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	perrors "github.com/crawlkit/prodstore/internal/errors"
	"github.com/crawlkit/prodstore/pkg/model"
)

// indexEntry is the projection of a record kept in the engine's manifest.
// Listing is served entirely from these entries; only the requested page is
// hydrated into full records.
type indexEntry struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Brand        string    `json:"brand,omitempty"`
	SKU          string    `json:"sku,omitempty"`
	URL          string    `json:"url,omitempty"`
	Availability string    `json:"availability,omitempty"`
	Price        float64   `json:"price,omitempty"`
	Currency     string    `json:"currency,omitempty"`
	Fingerprint  string    `json:"fingerprint"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func newIndexEntry(rec *model.Record, now time.Time) indexEntry {
	e := indexEntry{
		ID:        rec.ID,
		CreatedAt: now,
	}
	e.refresh(rec, now)
	return e
}

// refresh re-projects the record's searchable fields; CreatedAt is preserved.
func (e *indexEntry) refresh(rec *model.Record, now time.Time) {
	e.Title = rec.Title
	e.Brand = rec.Brand
	e.SKU = rec.SKU
	e.URL = rec.URL
	e.Availability = rec.Availability
	e.Fingerprint = Fingerprint(rec)
	e.UpdatedAt = now
	if rec.Price != nil {
		e.Price = rec.Price.Amount
		e.Currency = rec.Price.Currency
	} else {
		e.Price = 0
		e.Currency = ""
	}
}

// matches reports whether the entry satisfies every filter exactly.
// A filter on a field the index does not carry matches nothing.
func (e indexEntry) matches(filters map[string]string) bool {
	for field, want := range filters {
		got, ok := e.field(field)
		if !ok || got != want {
			return false
		}
	}
	return true
}

func (e indexEntry) field(name string) (string, bool) {
	switch name {
	case "id":
		return e.ID, true
	case "title":
		return e.Title, true
	case "brand":
		return e.Brand, true
	case "sku":
		return e.SKU, true
	case "url":
		return e.URL, true
	case "availability":
		return e.Availability, true
	case "currency":
		return e.Currency, true
	case "price":
		return strconv.FormatFloat(e.Price, 'f', -1, 64), true
	default:
		return "", false
	}
}

// selectEntries applies filters, sorting and pagination to a set of index
// entries and returns the page plus the total count of matching entries.
func selectEntries(entries []indexEntry, opts ListOptions) ([]indexEntry, int, error) {
	less, err := sortFunc(opts.SortBy)
	if err != nil {
		return nil, 0, err
	}
	order := opts.SortOrder
	if order == "" {
		order = SortAsc
	}
	if order != SortAsc && order != SortDesc {
		return nil, 0, fmt.Errorf("%w: invalid sort order %q", perrors.ErrInvalidProduct, opts.SortOrder)
	}

	filtered := make([]indexEntry, 0, len(entries))
	for _, e := range entries {
		if e.matches(opts.Filters) {
			filtered = append(filtered, e)
		}
	}

	sort.Slice(filtered, func(i, j int) bool {
		a, b := filtered[i], filtered[j]
		if order == SortDesc {
			a, b = b, a
		}
		switch {
		case less(a, b):
			return true
		case less(b, a):
			return false
		default:
			// Ties are broken by ID ascending regardless of sort order so
			// that page boundaries are stable.
			return filtered[i].ID < filtered[j].ID
		}
	})

	total := len(filtered)
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return []indexEntry{}, total, nil
	}
	page := filtered[offset:]
	if opts.Limit > 0 && opts.Limit < len(page) {
		page = page[:opts.Limit]
	}
	return page, total, nil
}

func sortFunc(sortBy string) (func(a, b indexEntry) bool, error) {
	switch sortBy {
	case "", "id":
		return func(a, b indexEntry) bool { return a.ID < b.ID }, nil
	case "title":
		return func(a, b indexEntry) bool { return a.Title < b.Title }, nil
	case "brand":
		return func(a, b indexEntry) bool { return a.Brand < b.Brand }, nil
	case "price":
		return func(a, b indexEntry) bool { return a.Price < b.Price }, nil
	case "created_at":
		return func(a, b indexEntry) bool { return a.CreatedAt.Before(b.CreatedAt) }, nil
	case "updated_at":
		return func(a, b indexEntry) bool { return a.UpdatedAt.Before(b.UpdatedAt) }, nil
	default:
		return nil, fmt.Errorf("%w: unknown sort field %q", perrors.ErrInvalidProduct, sortBy)
	}
}
