package record

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func saveReader(t *testing.T, r *Registry, name string) *Reader {
	t.Helper()
	rd := &Reader{Name: name}
	_, err := r.Mapper(readerEntity).Save(context.Background(), rd)
	require.NoError(t, err)
	return rd
}

func saveBook(t *testing.T, r *Registry, title string, a *Author) *Book {
	t.Helper()
	b := &Book{Title: title, Author: a}
	_, err := r.Mapper(bookEntity).Save(context.Background(), b)
	require.NoError(t, err)
	return b
}

func TestJunctionLinkIdempotent(t *testing.T) {
	r := testRegistry(t)
	j := r.Junction(readsJunction)
	ctx := context.Background()

	a := saveAuthor(t, r, "ada", "link@junction.org", nil)
	rd := saveReader(t, r, "sam")
	b := saveBook(t, r, "sketches", a)

	pair := map[string]int64{"reader": rd.ID, "book": b.ID}
	n, err := j.Link(ctx, pair)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// Re-linking the same pair affects no rows.
	n, err = j.Link(ctx, pair)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	n, err = j.Unlink(ctx, pair)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = j.Unlink(ctx, pair)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestJunctionFindAll(t *testing.T) {
	r := testRegistry(t)
	j := r.Junction(readsJunction)
	ctx := context.Background()

	a := saveAuthor(t, r, "mary", "find@junction.org", nil)
	sam := saveReader(t, r, "sam")
	kim := saveReader(t, r, "kim")
	b1 := saveBook(t, r, "first", a)
	b2 := saveBook(t, r, "second", a)

	for _, pair := range []map[string]int64{
		{"reader": sam.ID, "book": b1.ID},
		{"reader": sam.ID, "book": b2.ID},
		{"reader": kim.ID, "book": b2.ID},
	} {
		_, err := j.Link(ctx, pair)
		require.NoError(t, err)
	}

	books, err := j.FindAll(ctx, "book", map[string]any{"reader": sam.ID})
	require.NoError(t, err)
	require.Len(t, books, 2)
	titles := []string{books[0].(*Book).Title, books[1].(*Book).Title}
	assert.ElementsMatch(t, []string{"first", "second"}, titles)

	readers, err := j.FindAll(ctx, "reader", map[string]any{"book": b2.ID})
	require.NoError(t, err)
	assert.Len(t, readers, 2)

	readers, err = j.FindAll(ctx, "reader", map[string]any{"book": b1.ID})
	require.NoError(t, err)
	require.Len(t, readers, 1)
	assert.Equal(t, "sam", readers[0].(*Reader).Name)

	_, err = j.FindAll(ctx, "shelf", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no side")

	// A misspelled match key must fail rather than widen the result set.
	_, err = j.FindAll(ctx, "book", map[string]any{"raeder": sam.ID})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no match column")

	// The queried side cannot also be a match key.
	_, err = j.FindAll(ctx, "book", map[string]any{"book": b1.ID})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no match column")
}

func TestJunctionLinkValidation(t *testing.T) {
	r := testRegistry(t)
	j := r.Junction(readsJunction)
	ctx := context.Background()

	_, err := j.Link(ctx, map[string]int64{"reader": 1})
	require.Error(t, err)

	_, err = j.Link(ctx, map[string]int64{"reader": 1, "shelf": 2})
	require.Error(t, err)

	// Unpersisted entities have no id to link.
	_, err = j.Link(ctx, map[string]int64{"reader": 0, "book": 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "zero id")
}
