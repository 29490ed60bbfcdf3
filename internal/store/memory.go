package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	perrors "github.com/crawlkit/prodstore/internal/errors"
	"github.com/crawlkit/prodstore/pkg/model"
)

// Memory implements ProductStore using in-memory maps. It is used for tests
// and for deployments that do not need persistence across restarts.
type Memory struct {
	idGenerator

	mu           sync.RWMutex
	records      map[string]*model.Record
	entries      map[string]indexEntry
	fingerprints map[string]string   // fingerprint -> record ID
	issued       map[string]struct{} // every ID ever handed out, deletes included
}

// NewMemory creates a new in-memory product store. With useGeneratedIDs set,
// records are keyed by fresh UUIDs; otherwise IDs are derived from the
// record's natural identifiers.
func NewMemory(useGeneratedIDs bool) *Memory {
	return &Memory{
		idGenerator:  idGenerator{useGenerated: useGeneratedIDs},
		records:      make(map[string]*model.Record),
		entries:      make(map[string]indexEntry),
		fingerprints: make(map[string]string),
		issued:       make(map[string]struct{}),
	}
}

// freshID derives an ID that has never been issued by this store instance, so
// deleting a record never frees its ID for reuse.
func (s *Memory) freshID(rec *model.Record) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uniqueID(s.idGenerator, s.issued, rec)
}

// Save persists a new record and returns its ID.
// Returns ErrDuplicateProduct if the ID or duplicate fingerprint is taken.
func (s *Memory) Save(_ context.Context, rec *model.Record) (string, error) {
	if err := rec.Validate(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := rec.ID
	if id == "" {
		id = uniqueID(s.idGenerator, s.issued, rec)
	}
	if _, exists := s.records[id]; exists {
		return "", fmt.Errorf("product with ID %s already exists: %w", id, perrors.ErrDuplicateProduct)
	}
	fp := Fingerprint(rec)
	if other, exists := s.fingerprints[fp]; exists {
		return "", fmt.Errorf("product matches existing record %s: %w", other, perrors.ErrDuplicateProduct)
	}

	stamp(rec, id)
	s.records[id] = rec.Clone()
	s.entries[id] = newIndexEntry(rec, time.Now().UTC())
	s.fingerprints[fp] = id
	s.issued[id] = struct{}{}
	return id, nil
}

// Get retrieves a record by its ID.
// Returns ErrProductNotFound if no record exists with the given ID.
func (s *Memory) Get(_ context.Context, id string) (*model.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("product with ID %s: %w", id, perrors.ErrProductNotFound)
	}
	return rec.Clone(), nil
}

// Update replaces the stored record for an existing ID.
// Returns ErrProductNotFound if no record exists with the given ID.
func (s *Memory) Update(_ context.Context, id string, rec *model.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok {
		return fmt.Errorf("product with ID %s: %w", id, perrors.ErrProductNotFound)
	}

	fp := Fingerprint(rec)
	if other, exists := s.fingerprints[fp]; exists && other != id {
		return fmt.Errorf("product matches existing record %s: %w", other, perrors.ErrDuplicateProduct)
	}

	stamp(rec, id)
	delete(s.fingerprints, entry.Fingerprint)
	entry.refresh(rec, time.Now().UTC())
	s.records[id] = rec.Clone()
	s.entries[id] = entry
	s.fingerprints[fp] = id
	return nil
}

// Delete removes the record with the given ID. A second delete of the same ID
// fails with ErrProductNotFound.
func (s *Memory) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok {
		return fmt.Errorf("product with ID %s: %w", id, perrors.ErrProductNotFound)
	}
	delete(s.records, id)
	delete(s.entries, id)
	delete(s.fingerprints, entry.Fingerprint)
	return nil
}

// List returns one page of the filtered and sorted record set plus the total
// number of matching records.
func (s *Memory) List(_ context.Context, opts ListOptions) ([]model.Record, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]indexEntry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	page, total, err := selectEntries(entries, opts)
	if err != nil {
		return nil, 0, err
	}

	records := make([]model.Record, 0, len(page))
	for _, e := range page {
		records = append(records, *s.records[e.ID].Clone())
	}
	return records, total, nil
}

// stamp writes the assigned ID back onto the record and surfaces it into the
// metadata mapping for round-trip access.
func stamp(rec *model.Record, id string) {
	rec.ID = id
	if rec.Metadata == nil {
		rec.Metadata = model.Metadata{}
	}
	rec.Metadata[model.MetadataKey] = id
}
