// Package service provides the implementation of product-related business logic.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	perrors "github.com/crawlkit/prodstore/internal/errors"
	"github.com/crawlkit/prodstore/internal/store"
	"github.com/crawlkit/prodstore/pkg/messaging"
	"github.com/crawlkit/prodstore/pkg/messaging/events"
	"github.com/crawlkit/prodstore/pkg/model"
)

// ProductService defines the methods for managing extracted product records.
// It abstracts the underlying business logic and data access.
type ProductService interface {
	// Save persists a new record and returns it with the assigned ID.
	// Returns ErrDuplicateProduct if the record matches an existing one and
	// ErrInvalidProduct if it fails validation.
	Save(ctx context.Context, rec model.Record) (*model.Record, error)

	// SaveBatch persists a group of records atomically: either every record
	// is stored or none is. Returns the assigned IDs in input order.
	SaveBatch(ctx context.Context, recs []model.Record) ([]string, error)

	// Get retrieves a single record by its unique identifier.
	// Returns ErrProductNotFound if no record exists with the given ID.
	Get(ctx context.Context, id string) (*model.Record, error)

	// GetBatch retrieves the records for every given ID, in input order.
	// Returns ErrProductNotFound if any ID is missing.
	GetBatch(ctx context.Context, ids []string) ([]model.Record, error)

	// Update replaces an existing record's fields.
	// Returns ErrProductNotFound if no record exists with the given ID.
	Update(ctx context.Context, id string, rec model.Record) (*model.Record, error)

	// UpdateBatch replaces a group of records atomically; each record names
	// its target through its ID field. Either every update applies or none.
	UpdateBatch(ctx context.Context, recs []model.Record) ([]model.Record, error)

	// Delete removes a record by its ID.
	// Returns ErrProductNotFound if no record exists with the given ID.
	Delete(ctx context.Context, id string) error

	// DeleteBatch removes a group of records atomically: either every ID is
	// deleted or none is.
	DeleteBatch(ctx context.Context, ids []string) error

	// List returns one page of the filtered and sorted record set and the
	// total number of matching records.
	List(ctx context.Context, opts store.ListOptions) ([]model.Record, int, error)
}

// Service implements ProductService and provides methods to manage products.
type Service struct {
	repository store.ProductStore
	publisher  messaging.Publisher
	logger     *slog.Logger
}

// NewService creates a new instance of ProductService with the provided
// repository and event publisher.
func NewService(repo store.ProductStore, publisher messaging.Publisher, logger *slog.Logger) *Service {
	return &Service{
		repository: repo,
		publisher:  publisher,
		logger:     logger.With("component", "service"),
	}
}

// Save persists a new record and publishes a products.created event.
func (s *Service) Save(ctx context.Context, rec model.Record) (*model.Record, error) {
	id, err := s.repository.Save(ctx, &rec)
	if err != nil {
		return nil, fmt.Errorf("failed to save product: %w", err)
	}

	s.publish(ctx, events.ProductCreatedEvent{
		ProductID: id,
		Title:     rec.Title,
		Brand:     rec.Brand,
		CreatedAt: time.Now().UTC(),
	})
	return &rec, nil
}

// SaveBatch persists a group of records within one transaction, so a failure
// on any record leaves the store unchanged.
func (s *Service) SaveBatch(ctx context.Context, recs []model.Record) ([]string, error) {
	ids := make([]string, 0, len(recs))
	err := store.WithinTransaction(ctx, s.repository, func(tx *store.Tx) error {
		for i := range recs {
			id, err := tx.Add(ctx, &recs[i])
			if err != nil {
				return fmt.Errorf("failed to stage product %d: %w", i, err)
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save product batch: %w", err)
	}

	for i, id := range ids {
		s.publish(ctx, events.ProductCreatedEvent{
			ProductID: id,
			Title:     recs[i].Title,
			Brand:     recs[i].Brand,
			CreatedAt: time.Now().UTC(),
		})
	}
	return ids, nil
}

// Get retrieves a record by its ID.
// Returns ErrProductNotFound if no record exists with the given ID.
func (s *Service) Get(ctx context.Context, id string) (*model.Record, error) {
	rec, err := s.repository.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch product by ID %s: %w", id, err)
	}
	return rec, nil
}

// GetBatch retrieves the records for the given IDs in input order. A single
// missing ID fails the whole call.
func (s *Service) GetBatch(ctx context.Context, ids []string) ([]model.Record, error) {
	records := make([]model.Record, 0, len(ids))
	for _, id := range ids {
		rec, err := s.repository.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch product by ID %s: %w", id, err)
		}
		records = append(records, *rec)
	}
	return records, nil
}

// Update replaces an existing record and publishes a products.updated event.
// Returns ErrProductNotFound if no record exists with the given ID.
func (s *Service) Update(ctx context.Context, id string, rec model.Record) (*model.Record, error) {
	if err := s.repository.Update(ctx, id, &rec); err != nil {
		return nil, fmt.Errorf("failed to update product with ID %s: %w", id, err)
	}

	s.publish(ctx, events.ProductUpdatedEvent{
		ProductID: id,
		Title:     rec.Title,
		UpdatedAt: time.Now().UTC(),
	})
	return &rec, nil
}

// UpdateBatch replaces a group of records within one transaction, so a
// failure on any record leaves the store unchanged. A products.updated event
// is published per record on success.
func (s *Service) UpdateBatch(ctx context.Context, recs []model.Record) ([]model.Record, error) {
	err := store.WithinTransaction(ctx, s.repository, func(tx *store.Tx) error {
		for i := range recs {
			if recs[i].ID == "" {
				return fmt.Errorf("product %d carries no ID: %w", i, perrors.ErrInvalidProduct)
			}
			if err := tx.Update(ctx, recs[i].ID, &recs[i]); err != nil {
				return fmt.Errorf("failed to stage update of product %s: %w", recs[i].ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update product batch: %w", err)
	}

	for i := range recs {
		s.publish(ctx, events.ProductUpdatedEvent{
			ProductID: recs[i].ID,
			Title:     recs[i].Title,
			UpdatedAt: time.Now().UTC(),
		})
	}
	return recs, nil
}

// Delete removes a record and publishes a products.deleted event.
// Returns ErrProductNotFound if no record exists with the given ID.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.repository.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete product with ID %s: %w", id, err)
	}

	s.publish(ctx, events.ProductDeletedEvent{
		ProductID: id,
		DeletedAt: time.Now().UTC(),
	})
	return nil
}

// DeleteBatch removes a group of records within one transaction, so a
// missing ID leaves every other record in place. A products.deleted event is
// published per ID on success.
func (s *Service) DeleteBatch(ctx context.Context, ids []string) error {
	err := store.WithinTransaction(ctx, s.repository, func(tx *store.Tx) error {
		for _, id := range ids {
			if err := tx.Delete(ctx, id); err != nil {
				return fmt.Errorf("failed to stage delete of product %s: %w", id, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete product batch: %w", err)
	}

	for _, id := range ids {
		s.publish(ctx, events.ProductDeletedEvent{
			ProductID: id,
			DeletedAt: time.Now().UTC(),
		})
	}
	return nil
}

// List returns one page of records and the total count of matching records.
func (s *Service) List(ctx context.Context, opts store.ListOptions) ([]model.Record, int, error) {
	records, total, err := s.repository.List(ctx, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to fetch products: %w", err)
	}
	return records, total, nil
}

// publish sends an event best-effort: a publish failure is logged and never
// fails the caller's operation.
func (s *Service) publish(ctx context.Context, event messaging.Event) {
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "Failed to publish event", "subject", event.Subject(), "error", err)
	}
}
