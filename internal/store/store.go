// Package store provides an interface for product storage operations.
package store

import (
	"context"

	"github.com/crawlkit/prodstore/pkg/model"
)

// SortOrder selects the direction of a sorted listing.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// ListOptions describes filtering, sorting and pagination of a listing.
type ListOptions struct {
	// Filters maps an indexed field name (brand, title, sku, currency,
	// availability, url, id) to an expected value. Matching is exact.
	Filters map[string]string
	// Limit is the maximum page size. A non-positive limit disables paging.
	Limit int
	// Offset is the number of records skipped within the sorted result set.
	Offset int
	// SortBy selects the sort field: id (default), title, brand, price,
	// created_at or updated_at. An unknown field fails with ErrInvalidProduct.
	SortBy string
	// SortOrder is asc (default) or desc. Ties are always broken by ID
	// ascending so that pagination is deterministic.
	SortOrder SortOrder
}

// ProductStore is an interface for product storage operations.
// It abstracts the underlying data store, allowing for different
// implementations (e.g., in-memory, JSON files on disk).
//
// Implementations are safe for concurrent use. Every record handed out or
// taken in is deep-copied, so callers may mutate their copies freely.
type ProductStore interface {
	// Save persists a new record and returns its ID. A record without an ID
	// is assigned a fresh one; the ID is also written back to the record and
	// surfaced into its metadata under model.MetadataKey.
	// Returns ErrDuplicateProduct if the ID is already taken or the duplicate
	// fingerprint matches an existing record, and ErrInvalidProduct if the
	// record fails validation.
	Save(ctx context.Context, rec *model.Record) (string, error)

	// Get retrieves a single record by its ID.
	// Returns ErrProductNotFound if no record exists with the given ID.
	Get(ctx context.Context, id string) (*model.Record, error)

	// Update replaces the stored record for an existing ID.
	// Returns ErrProductNotFound if no record exists with the given ID.
	Update(ctx context.Context, id string, rec *model.Record) error

	// Delete removes the record with the given ID. A second delete of the
	// same ID fails with ErrProductNotFound.
	Delete(ctx context.Context, id string) error

	// List returns one page of the filtered and sorted record set together
	// with the total number of matching records independent of pagination.
	List(ctx context.Context, opts ListOptions) ([]model.Record, int, error)
}
