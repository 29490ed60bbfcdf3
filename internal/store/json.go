package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	perrors "github.com/crawlkit/prodstore/internal/errors"
	"github.com/crawlkit/prodstore/pkg/config"
	"github.com/crawlkit/prodstore/pkg/model"
	"github.com/gofrs/flock"
)

const (
	indexFileName = "index.json"
	indexLockName = "index.lock"
	productsDir   = "products"

	lockRetryDelay     = 50 * time.Millisecond
	defaultLockTimeout = 30 * time.Second
)

// JSON implements ProductStore on top of a directory of JSON files: one file
// per record under products/<prefix>/<id>.json plus an index manifest that
// serves listings without scanning every record.
//
// Every write goes through a temp-file-and-rename cycle with an fsync before
// the rename, so a crash mid-write never corrupts an existing record or the
// manifest. The manifest is additionally guarded by a file lock so that
// multiple processes sharing the directory serialize their index updates.
type JSON struct {
	idGenerator

	dir         string
	indexPath   string
	flk         *flock.Flock
	lockTimeout time.Duration

	mu           sync.RWMutex
	index        map[string]indexEntry
	fingerprints map[string]string
	issued       map[string]struct{} // every ID handed out in this instance's lifetime
}

// NewJSON opens (or initializes) a JSON product store at cfg.Path.
func NewJSON(cfg config.StorageConfig) (*JSON, error) {
	dir, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve storage path %q: %w", cfg.Path, err)
	}
	if err := os.MkdirAll(filepath.Join(dir, productsDir), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directories: %w", err)
	}

	lockTimeout := cfg.LockTimeout
	if lockTimeout <= 0 {
		lockTimeout = defaultLockTimeout
	}

	s := &JSON{
		idGenerator:  idGenerator{useGenerated: cfg.UseGeneratedIDs},
		dir:          dir,
		indexPath:    filepath.Join(dir, indexFileName),
		flk:          flock.New(filepath.Join(dir, indexLockName)),
		lockTimeout:  lockTimeout,
		index:        make(map[string]indexEntry),
		fingerprints: make(map[string]string),
		issued:       make(map[string]struct{}),
	}
	if err := s.loadIndex(); err != nil {
		return nil, err
	}
	return s, nil
}

// freshID derives an ID that has never been issued by this store instance, so
// deleting a record never frees its ID for reuse.
func (s *JSON) freshID(rec *model.Record) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uniqueID(s.idGenerator, s.issued, rec)
}

func (s *JSON) loadIndex() error {
	data, err := os.ReadFile(s.indexPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read index file: %w", err)
	}
	if err := json.Unmarshal(data, &s.index); err != nil {
		return fmt.Errorf("failed to parse index file: %w", err)
	}
	for id, entry := range s.index {
		s.fingerprints[entry.Fingerprint] = id
		s.issued[id] = struct{}{}
	}
	return nil
}

// Save persists a new record and returns its ID.
// Returns ErrDuplicateProduct if the ID or duplicate fingerprint is taken.
func (s *JSON) Save(ctx context.Context, rec *model.Record) (string, error) {
	if err := rec.Validate(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := rec.ID
	if id == "" {
		id = uniqueID(s.idGenerator, s.issued, rec)
	}
	if _, exists := s.index[id]; exists {
		return "", fmt.Errorf("product with ID %s already exists: %w", id, perrors.ErrDuplicateProduct)
	}
	fp := Fingerprint(rec)
	if other, exists := s.fingerprints[fp]; exists {
		return "", fmt.Errorf("product matches existing record %s: %w", other, perrors.ErrDuplicateProduct)
	}

	stamp(rec, id)
	if err := s.writeRecord(rec); err != nil {
		return "", err
	}

	s.index[id] = newIndexEntry(rec, time.Now().UTC())
	s.fingerprints[fp] = id
	if err := s.persistIndex(ctx); err != nil {
		// Keep record set and manifest consistent: undo the record write.
		delete(s.index, id)
		delete(s.fingerprints, fp)
		_ = os.Remove(s.recordPath(id))
		return "", err
	}
	s.issued[id] = struct{}{}
	return id, nil
}

// Get retrieves a record by its ID.
// Returns ErrProductNotFound if no record exists with the given ID.
func (s *JSON) Get(_ context.Context, id string) (*model.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.index[id]; !ok {
		return nil, fmt.Errorf("product with ID %s: %w", id, perrors.ErrProductNotFound)
	}
	return s.readRecord(id)
}

// Update replaces the stored record for an existing ID.
// Returns ErrProductNotFound if no record exists with the given ID.
func (s *JSON) Update(ctx context.Context, id string, rec *model.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.index[id]
	if !ok {
		return fmt.Errorf("product with ID %s: %w", id, perrors.ErrProductNotFound)
	}
	fp := Fingerprint(rec)
	if other, exists := s.fingerprints[fp]; exists && other != id {
		return fmt.Errorf("product matches existing record %s: %w", other, perrors.ErrDuplicateProduct)
	}

	prev, err := os.ReadFile(s.recordPath(id))
	if err != nil {
		return fmt.Errorf("failed to read product file for ID %s: %w", id, err)
	}

	stamp(rec, id)
	if err := s.writeRecord(rec); err != nil {
		return err
	}

	prevEntry := entry
	delete(s.fingerprints, entry.Fingerprint)
	entry.refresh(rec, time.Now().UTC())
	s.index[id] = entry
	s.fingerprints[fp] = id
	if err := s.persistIndex(ctx); err != nil {
		// Keep record set and manifest consistent: restore the previous state.
		s.index[id] = prevEntry
		delete(s.fingerprints, fp)
		s.fingerprints[prevEntry.Fingerprint] = id
		_ = writeFileAtomic(s.recordPath(id), prev)
		return err
	}
	return nil
}

// Delete removes the record with the given ID. A second delete of the same ID
// fails with ErrProductNotFound.
func (s *JSON) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.index[id]
	if !ok {
		return fmt.Errorf("product with ID %s: %w", id, perrors.ErrProductNotFound)
	}
	prev, err := os.ReadFile(s.recordPath(id))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to read product file for ID %s: %w", id, err)
	}
	if err := os.Remove(s.recordPath(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete product file: %w", err)
	}
	delete(s.index, id)
	delete(s.fingerprints, entry.Fingerprint)
	if err := s.persistIndex(ctx); err != nil {
		// Keep record set and manifest consistent: restore the previous state.
		s.index[id] = entry
		s.fingerprints[entry.Fingerprint] = id
		if prev != nil {
			_ = writeFileAtomic(s.recordPath(id), prev)
		}
		return err
	}
	return nil
}

// List returns one page of the filtered and sorted record set plus the total
// number of matching records. The page is hydrated from the record files.
func (s *JSON) List(_ context.Context, opts ListOptions) ([]model.Record, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]indexEntry, 0, len(s.index))
	for _, e := range s.index {
		entries = append(entries, e)
	}
	page, total, err := selectEntries(entries, opts)
	if err != nil {
		return nil, 0, err
	}

	records := make([]model.Record, 0, len(page))
	for _, e := range page {
		rec, err := s.readRecord(e.ID)
		if err != nil {
			return nil, 0, err
		}
		records = append(records, *rec)
	}
	return records, total, nil
}

func (s *JSON) recordPath(id string) string {
	prefix := id
	if len(prefix) > 2 {
		prefix = prefix[:2]
	}
	return filepath.Join(s.dir, productsDir, prefix, id+".json")
}

func (s *JSON) readRecord(id string) (*model.Record, error) {
	data, err := os.ReadFile(s.recordPath(id))
	if err != nil {
		return nil, fmt.Errorf("failed to read product file for ID %s: %w", id, err)
	}
	var rec model.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse product file for ID %s: %w", id, err)
	}
	return &rec, nil
}

func (s *JSON) writeRecord(rec *model.Record) error {
	path := s.recordPath(rec.ID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create product directory: %w", err)
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode product %s: %w", rec.ID, err)
	}
	if err := writeFileAtomic(path, data); err != nil {
		return fmt.Errorf("failed to write product file: %w", err)
	}
	return nil
}

// persistIndex rewrites the manifest under the cross-process file lock.
// Callers hold s.mu.
func (s *JSON) persistIndex(ctx context.Context) error {
	lockCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()
	locked, err := s.flk.TryLockContext(lockCtx, lockRetryDelay)
	if err != nil || !locked {
		return fmt.Errorf("failed to acquire index lock: %w", err)
	}
	defer func() { _ = s.flk.Unlock() }()

	data, err := json.MarshalIndent(s.index, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode index: %w", err)
	}
	if err := writeFileAtomic(s.indexPath, data); err != nil {
		return fmt.Errorf("failed to write index file: %w", err)
	}
	return nil
}

// writeFileAtomic writes data to a temp file in the target directory, flushes
// it to disk and renames it over the destination so readers never observe a
// partial write.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}
