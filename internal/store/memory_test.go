package store

import (
	"context"
	"fmt"
	"testing"

	perrors "github.com/crawlkit/prodstore/internal/errors"
	"github.com/crawlkit/prodstore/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func testRecord(title, brand, sku string) *model.Record {
	return &model.Record{
		Title: title,
		Brand: brand,
		SKU:   sku,
		URL:   "https://shop.example.com/p/" + sku,
		Price: &model.Price{Amount: 19.99, Currency: "USD"},
	}
}

func Test_Memory_SaveAndGet(t *testing.T) {
	// given
	s := NewMemory(true)
	rec := testRecord("Test Product", "Acme", "SKU-1")

	// when
	id, err := s.Save(context.Background(), rec)

	// then
	require.NoError(t, err)
	require.NotEmpty(t, id)
	assert.Equal(t, id, rec.ID)
	assert.Equal(t, id, rec.Metadata[model.MetadataKey])

	found, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Test Product", found.Title)
	assert.Equal(t, id, found.Metadata[model.MetadataKey])
}

func Test_Memory_Save_Duplicate(t *testing.T) {
	// given
	s := NewMemory(true)
	_, err := s.Save(context.Background(), testRecord("Test Product", "Acme", "SKU-1"))
	require.NoError(t, err)

	// when: same title and URL, different SKU field does not matter for the fingerprint
	dup := testRecord("Test Product", "Acme", "SKU-1")
	_, err = s.Save(context.Background(), dup)

	// then
	assert.ErrorIs(t, err, perrors.ErrDuplicateProduct)
}

func Test_Memory_Save_Invalid(t *testing.T) {
	// given
	s := NewMemory(true)

	// when
	_, err := s.Save(context.Background(), &model.Record{Brand: "Acme"})

	// then
	assert.ErrorIs(t, err, perrors.ErrInvalidProduct)
}

func Test_Memory_Get_NotFound(t *testing.T) {
	// given
	s := NewMemory(true)

	// when
	_, err := s.Get(context.Background(), "missing")

	// then
	assert.ErrorIs(t, err, perrors.ErrProductNotFound)
}

func Test_Memory_Update(t *testing.T) {
	// given
	s := NewMemory(true)
	rec := testRecord("Test Product", "Acme", "SKU-1")
	id, err := s.Save(context.Background(), rec)
	require.NoError(t, err)

	// when
	updated := testRecord("Test Product Renamed", "Acme", "SKU-1")
	err = s.Update(context.Background(), id, updated)

	// then
	require.NoError(t, err)
	found, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Test Product Renamed", found.Title)
	assert.Equal(t, id, found.ID)
}

func Test_Memory_Update_NotFound(t *testing.T) {
	// given
	s := NewMemory(true)

	// when
	err := s.Update(context.Background(), "missing", testRecord("Test Product", "Acme", "SKU-1"))

	// then
	assert.ErrorIs(t, err, perrors.ErrProductNotFound)
}

func Test_Memory_Update_DuplicateOfOtherRecord(t *testing.T) {
	// given
	s := NewMemory(true)
	first, err := s.Save(context.Background(), testRecord("Product One", "Acme", "SKU-1"))
	require.NoError(t, err)
	require.NotEmpty(t, first)
	second, err := s.Save(context.Background(), testRecord("Product Two", "Acme", "SKU-2"))
	require.NoError(t, err)

	// when: updating the second record to collide with the first
	err = s.Update(context.Background(), second, testRecord("Product One", "Acme", "SKU-1"))

	// then
	assert.ErrorIs(t, err, perrors.ErrDuplicateProduct)
}

func Test_Memory_Delete(t *testing.T) {
	// given
	s := NewMemory(true)
	id, err := s.Save(context.Background(), testRecord("Test Product", "Acme", "SKU-1"))
	require.NoError(t, err)

	// when
	err = s.Delete(context.Background(), id)

	// then
	require.NoError(t, err)
	_, err = s.Get(context.Background(), id)
	assert.ErrorIs(t, err, perrors.ErrProductNotFound)

	// a second delete of the same ID fails
	err = s.Delete(context.Background(), id)
	assert.ErrorIs(t, err, perrors.ErrProductNotFound)
}

func Test_Memory_Delete_FreesFingerprint(t *testing.T) {
	// given
	s := NewMemory(true)
	id, err := s.Save(context.Background(), testRecord("Test Product", "Acme", "SKU-1"))
	require.NoError(t, err)
	require.NoError(t, s.Delete(context.Background(), id))

	// when: the same item can be stored again after deletion
	_, err = s.Save(context.Background(), testRecord("Test Product", "Acme", "SKU-1"))

	// then
	assert.NoError(t, err)
}

func Test_Memory_List_PageWalkRecoversFullSet(t *testing.T) {
	// given: a record set not divisible by the page size
	s := NewMemory(true)
	const count, limit = 7, 3
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

func Test_Memory_Save_NeverReusesIDs(t *testing.T) {
	// given: natural IDs, so a re-saved item derives the same base ID
	s := NewMemory(false)
	first, err := s.Save(context.Background(), testRecord("Test Product", "Acme", "SKU-1"))
	require.NoError(t, err)
	require.Equal(t, "sku_sku-1", first)
	require.NoError(t, s.Delete(context.Background(), first))

	// when
	second, err := s.Save(context.Background(), testRecord("Test Product", "Acme", "SKU-1"))

	// then: the freed item is storable again but under a fresh ID
	require.NoError(t, err)
	assert.Equal(t, "sku_sku-1-2", second)
}

func Test_Memory_List(t *testing.T) {
	seed := func(t *testing.T) *Memory {
		t.Helper()
		s := NewMemory(false)
		records := []*model.Record{
			{Title: "Alpha Keyboard", Brand: "Acme", SKU: "KB-1", Price: &model.Price{Amount: 50, Currency: "USD"}},
			{Title: "Beta Mouse", Brand: "Acme", SKU: "MS-1", Price: &model.Price{Amount: 25, Currency: "USD"}},
			{Title: "Gamma Monitor", Brand: "Bravo", SKU: "MN-1", Price: &model.Price{Amount: 200, Currency: "USD"}},
			{Title: "Delta Cable", Brand: "Bravo", SKU: "CB-1", Price: &model.Price{Amount: 5, Currency: "USD"}},
		}
		for _, rec := range records {
			_, err := s.Save(context.Background(), rec)
			require.NoError(t, err)
		}
		return s
	}

	testCases := []struct {
		name           string
		opts           ListOptions
		expectedTitles []string
		expectedTotal  int
		expectError    error
	}{
		{
			name:           "Success - default sort by ID ascending",
			opts:           ListOptions{},
			expectedTitles: []string{"Delta Cable", "Alpha Keyboard", "Gamma Monitor", "Beta Mouse"},
			expectedTotal:  4,
		},
		{
			name:           "Success - sort by price descending",
			opts:           ListOptions{SortBy: "price", SortOrder: SortDesc},
			expectedTitles: []string{"Gamma Monitor", "Alpha Keyboard", "Beta Mouse", "Delta Cable"},
			expectedTotal:  4,
		},
		{
			name:           "Success - filter by brand",
			opts:           ListOptions{Filters: map[string]string{"brand": "Bravo"}, SortBy: "title"},
			expectedTitles: []string{"Delta Cable", "Gamma Monitor"},
			expectedTotal:  2,
		},
		{
			name:           "Success - filter matches nothing",
			opts:           ListOptions{Filters: map[string]string{"brand": "Nobody"}},
			expectedTitles: []string{},
			expectedTotal:  0,
		},
		{
			name:           "Success - unknown filter field matches nothing",
			opts:           ListOptions{Filters: map[string]string{"color": "red"}},
			expectedTitles: []string{},
			expectedTotal:  0,
		},
		{
			name:           "Success - pagination keeps total",
			opts:           ListOptions{SortBy: "title", Limit: 2, Offset: 1},
			expectedTitles: []string{"Beta Mouse", "Delta Cable"},
			expectedTotal:  4,
		},
		{
			name:           "Success - offset beyond the result set",
			opts:           ListOptions{Offset: 10},
			expectedTitles: []string{},
			expectedTotal:  4,
		},
		{
			name:        "Error - unknown sort field",
			opts:        ListOptions{SortBy: "popularity"},
			expectError: perrors.ErrInvalidProduct,
		},
		{
			name:        "Error - invalid sort order",
			opts:        ListOptions{SortOrder: "sideways"},
			expectError: perrors.ErrInvalidProduct,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// given
			s := seed(t)
			// when
			records, total, err := s.List(context.Background(), tc.opts)
			// then
			if tc.expectError != nil {
				assert.ErrorIs(t, err, tc.expectError)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expectedTotal, total)
			titles := make([]string, 0, len(records))
			for _, rec := range records {
				titles = append(titles, rec.Title)
			}
			assert.Equal(t, tc.expectedTitles, titles)
		})
	}
}

func Test_Memory_NaturalIDs(t *testing.T) {
	testCases := []struct {
		name       string
		record     *model.Record
		expectedID string
	}{
		{
			name:       "SKU wins",
			record:     &model.Record{Title: "Test Product", SKU: "AB 12/3", Brand: "Acme", MPN: "M-1"},
			expectedID: "sku_ab_12_3",
		},
		{
			name:       "brand and MPN",
			record:     &model.Record{Title: "Test Product", Brand: "Acme Co", MPN: "M-1"},
			expectedID: "acme_co_m-1",
		},
		{
			name:       "GTIN",
			record:     &model.Record{Title: "Test Product", GTIN: "00012345600012"},
			expectedID: "gtin_00012345600012",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// given
			s := NewMemory(false)
			// when
			id, err := s.Save(context.Background(), tc.record)
			// then
			require.NoError(t, err)
			assert.Equal(t, tc.expectedID, id)
		})
	}
}

func Test_Memory_CallerMutationDoesNotLeak(t *testing.T) {
	// given
	s := NewMemory(true)
	rec := testRecord("Test Product", "Acme", "SKU-1")
	id, err := s.Save(context.Background(), rec)
	require.NoError(t, err)

	// when: mutating both the saved record and a fetched copy
	rec.Title = "Mutated"
	fetched, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	fetched.Price.Amount = 999

	// then
	again, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Test Product", again.Title)
	assert.Equal(t, 19.99, again.Price.Amount)
}

func Test_Memory_ConcurrentSaves(t *testing.T) {
	// given
	s := NewMemory(true)
	const n = 50

	// when
	var g errgroup.Group
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			rec := testRecord(fmt.Sprintf("Product %d", i), "Acme", fmt.Sprintf("SKU-%d", i))
			_, err := s.Save(context.Background(), rec)
			return err
		})
	}

	// then
	require.NoError(t, g.Wait())
	_, total, err := s.List(context.Background(), ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, n, total)
}
