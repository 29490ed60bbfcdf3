package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	perrors "github.com/crawlkit/prodstore/internal/errors"
	"github.com/crawlkit/prodstore/pkg/config"
	"github.com/crawlkit/prodstore/pkg/model"
	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJSONStore(t *testing.T, dir string) *JSON {
	t.Helper()
	s, err := NewJSON(config.StorageConfig{Type: "json", Path: dir, UseGeneratedIDs: true})
	require.NoError(t, err)
	return s
}

func Test_JSON_SaveAndGet(t *testing.T) {
	// given
	dir := t.TempDir()
	s := newJSONStore(t, dir)
	rec := testRecord("Test Product", "Acme", "SKU-1")

	// when
	id, err := s.Save(context.Background(), rec)

	// then
	require.NoError(t, err)
	found, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Test Product", found.Title)
	assert.Equal(t, id, found.Metadata[model.MetadataKey])

	// record file lives under a two-character prefix directory
	_, statErr := os.Stat(filepath.Join(dir, "products", id[:2], id+".json"))
	assert.NoError(t, statErr)
	_, statErr = os.Stat(filepath.Join(dir, "index.json"))
	assert.NoError(t, statErr)
}

func Test_JSON_ReopenKeepsRecords(t *testing.T) {
	// given
	dir := t.TempDir()
	s := newJSONStore(t, dir)
	id, err := s.Save(context.Background(), testRecord("Test Product", "Acme", "SKU-1"))
	require.NoError(t, err)

	// when: a fresh store instance opens the same directory
	reopened := newJSONStore(t, dir)

	// then
	found, err := reopened.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Test Product", found.Title)

	// the duplicate fingerprint survives the reopen as well
	_, err = reopened.Save(context.Background(), testRecord("Test Product", "Acme", "SKU-1"))
	assert.ErrorIs(t, err, perrors.ErrDuplicateProduct)
}

func Test_JSON_Update(t *testing.T) {
	// given
	dir := t.TempDir()
	s := newJSONStore(t, dir)
	id, err := s.Save(context.Background(), testRecord("Test Product", "Acme", "SKU-1"))
	require.NoError(t, err)

	// when
	updated := testRecord("Test Product Renamed", "Acme", "SKU-1")
	err = s.Update(context.Background(), id, updated)

	// then
	require.NoError(t, err)
	found, err := newJSONStore(t, dir).Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Test Product Renamed", found.Title)
}

func Test_JSON_Delete(t *testing.T) {
	// given
	dir := t.TempDir()
	s := newJSONStore(t, dir)
	id, err := s.Save(context.Background(), testRecord("Test Product", "Acme", "SKU-1"))
	require.NoError(t, err)
	recordFile := filepath.Join(dir, "products", id[:2], id+".json")

	// when
	err = s.Delete(context.Background(), id)

	// then
	require.NoError(t, err)
	_, err = s.Get(context.Background(), id)
	assert.ErrorIs(t, err, perrors.ErrProductNotFound)
	_, statErr := os.Stat(recordFile)
	assert.True(t, os.IsNotExist(statErr))

	err = s.Delete(context.Background(), id)
	assert.ErrorIs(t, err, perrors.ErrProductNotFound)
}

// holdIndexLock grabs the store's manifest lock from a second file handle so
// that the next index write times out.
func holdIndexLock(t *testing.T, dir string) *flock.Flock {
	t.Helper()
	blocker := flock.New(filepath.Join(dir, indexLockName))
	require.NoError(t, blocker.Lock())
	t.Cleanup(func() { _ = blocker.Unlock() })
	return blocker
}

func Test_JSON_Update_ManifestWriteFailureRollsBack(t *testing.T) {
	// given
	dir := t.TempDir()
	s, err := NewJSON(config.StorageConfig{Type: "json", Path: dir, UseGeneratedIDs: true, LockTimeout: 100 * time.Millisecond})
	require.NoError(t, err)
	id, err := s.Save(context.Background(), testRecord("Test Product", "Acme", "SKU-1"))
	require.NoError(t, err)
	holdIndexLock(t, dir)

	// when: the manifest cannot be written
	err = s.Update(context.Background(), id, testRecord("Test Product Renamed", "Acme", "SKU-1"))

	// then: the failed update is fully undone, in memory and on disk
	require.Error(t, err)
	found, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Test Product", found.Title)

	reopened := newJSONStore(t, dir)
	found, err = reopened.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Test Product", found.Title)

	// the old fingerprint still guards against duplicates
	_, err = s.Save(context.Background(), testRecord("Test Product", "Acme", "SKU-1"))
	assert.ErrorIs(t, err, perrors.ErrDuplicateProduct)
}

func Test_JSON_Delete_ManifestWriteFailureRollsBack(t *testing.T) {
	// given
	dir := t.TempDir()
	s, err := NewJSON(config.StorageConfig{Type: "json", Path: dir, UseGeneratedIDs: true, LockTimeout: 100 * time.Millisecond})
	require.NoError(t, err)
	id, err := s.Save(context.Background(), testRecord("Test Product", "Acme", "SKU-1"))
	require.NoError(t, err)
	recordFile := filepath.Join(dir, "products", id[:2], id+".json")
	holdIndexLock(t, dir)

	// when: the manifest cannot be written
	err = s.Delete(context.Background(), id)

	// then: the record survives with its file restored
	require.Error(t, err)
	found, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Test Product", found.Title)
	_, statErr := os.Stat(recordFile)
	assert.NoError(t, statErr)

	records, total, err := s.List(context.Background(), ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, records, 1)
}

func Test_JSON_List(t *testing.T) {
	// given
	dir := t.TempDir()
	s := newJSONStore(t, dir)
	for _, rec := range []*model.Record{
		{Title: "Alpha Keyboard", Brand: "Acme", Price: &model.Price{Amount: 50, Currency: "USD"}},
		{Title: "Beta Mouse", Brand: "Acme", Price: &model.Price{Amount: 25, Currency: "USD"}},
		{Title: "Gamma Monitor", Brand: "Bravo", Price: &model.Price{Amount: 200, Currency: "USD"}},
	} {
		_, err := s.Save(context.Background(), rec)
		require.NoError(t, err)
	}

	// when
	records, total, err := s.List(context.Background(), ListOptions{
		Filters: map[string]string{"brand": "Acme"},
		SortBy:  "price",
	})

	// then
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, records, 2)
	assert.Equal(t, "Beta Mouse", records[0].Title)
	assert.Equal(t, "Alpha Keyboard", records[1].Title)
}

func Test_JSON_List_PageWalkRecoversFullSet(t *testing.T) {
	// given: a record set not divisible by the page size
	dir := t.TempDir()
	s := newJSONStore(t, dir)
	const count, limit = 5, 2
	for i := 0; i < count; i++ {
		_, err := s.Save(context.Background(), testRecord(fmt.Sprintf("Product %d", i), "Acme", fmt.Sprintf("SKU-%d", i)))
		require.NoError(t, err)
	}
	full, total, err := s.List(context.Background(), ListOptions{SortBy: "title"})
	require.NoError(t, err)
	require.Equal(t, count, total)

	// when: walking every page at a fixed limit
	var walked []model.Record
	for offset := 0; offset < total; offset += limit {
		page, pageTotal, err := s.List(context.Background(), ListOptions{SortBy: "title", Limit: limit, Offset: offset})
		require.NoError(t, err)
		assert.Equal(t, total, pageTotal)
		walked = append(walked, page...)
	}

	// then: concatenated pages equal the full sorted set, no gaps or repeats
	require.Len(t, walked, count)
	for i := range full {
		assert.Equal(t, full[i].ID, walked[i].ID)
	}
}

func Test_JSON_CorruptIndexFailsOpen(t *testing.T) {
	// given
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.json"), []byte("{not json"), 0o644))

	// when
	_, err := NewJSON(config.StorageConfig{Type: "json", Path: dir})

	// then
	assert.Error(t, err)
}

func Test_JSON_StaleTempFilesAreIgnored(t *testing.T) {
	// given: a leftover temp file from an interrupted write
	dir := t.TempDir()
	s := newJSONStore(t, dir)
	id, err := s.Save(context.Background(), testRecord("Test Product", "Acme", "SKU-1"))
	require.NoError(t, err)
	stale := filepath.Join(dir, "index.json.tmp-123")
	require.NoError(t, os.WriteFile(stale, []byte("partial"), 0o644))

	// when
	reopened := newJSONStore(t, dir)

	// then
	found, err := reopened.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Test Product", found.Title)
}
