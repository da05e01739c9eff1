package record

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strata-orm/strata/dialect"
	"github.com/strata-orm/strata/schema/field"
)

func saveAuthor(t *testing.T, r *Registry, name, email string, meta Attributes) *Author {
	t.Helper()
	a := &Author{Name: name, Email: email, Meta: meta}
	_, err := r.Mapper(authorEntity).Save(context.Background(), a)
	require.NoError(t, err)
	return a
}

func TestAttributesThreeState(t *testing.T) {
	r := testRegistry(t)
	m := r.Mapper(authorEntity)
	ctx := context.Background()

	a := saveAuthor(t, r, "ada", "state@eav.org", Attributes{"tier": "gold", "region": "eu"})

	got, err := m.Load(ctx, a.ID)
	require.NoError(t, err)
	loaded := got.(*Author)
	assert.Equal(t, Attributes{"tier": "gold", "region": "eu"}, loaded.Meta)

	// A nil map means never-loaded: saving it must not touch stored attributes.
	loaded.Meta = nil
	_, err = m.Save(ctx, loaded)
	require.NoError(t, err)
	got, err = m.Load(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, Attributes{"tier": "gold", "region": "eu"}, got.(*Author).Meta)

	// A non-nil empty map means loaded-empty: saving it prunes everything.
	loaded = got.(*Author)
	loaded.Meta = Attributes{}
	_, err = m.Save(ctx, loaded)
	require.NoError(t, err)
	got, err = m.Load(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, got.(*Author).Meta)
	assert.Empty(t, got.(*Author).Meta)
}

func TestAttributesReconcile(t *testing.T) {
	r := testRegistry(t)
	a := saveAuthor(t, r, "ada", "recon@eav.org", Attributes{"tier": "gold", "region": "eu", "legacy": "y"})
	store := NewAttributeStore("author_meta", field.TypeString, r)
	ctx := context.Background()

	// Absent keys are pruned, explicit nils delete, the rest upsert.
	err := store.Save(ctx, a.ID, map[string]any{"tier": "silver", "region": nil})
	require.NoError(t, err)
	got, err := store.Load(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"tier": "silver"}, got)

	// Idempotent.
	require.NoError(t, store.Save(ctx, a.ID, map[string]any{"tier": "silver"}))
	got, err = store.Load(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"tier": "silver"}, got)
}

func TestAttributeStoreLoadMissing(t *testing.T) {
	r := testRegistry(t)
	a := saveAuthor(t, r, "ada", "missing@eav.org", nil)
	store := NewAttributeStore("author_meta", field.TypeString, r)

	got, err := store.Load(context.Background(), a.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Empty(t, got)
}

func TestAttributeStoreFind(t *testing.T) {
	r := testRegistry(t)
	ctx := context.Background()
	gold := saveAuthor(t, r, "g", "gold@eav.org", Attributes{"tier": "gold", "region": "eu"})
	saveAuthor(t, r, "s", "silver@eav.org", Attributes{"tier": "silver", "region": "eu"})
	saveAuthor(t, r, "us", "usgold@eav.org", Attributes{"tier": "gold", "region": "us"})
	store := NewAttributeStore("author_meta", field.TypeString, r)

	// Matching several attributes intersects via self-join.
	ids, err := store.Find(ctx, map[string]any{"tier": "gold", "region": "eu"})
	require.NoError(t, err)
	assert.Equal(t, []int64{gold.ID}, ids)

	ids, err = store.Find(ctx, map[string]any{"tier": "gold"})
	require.NoError(t, err)
	assert.Len(t, ids, 2)

	_, err = store.Find(ctx, map[string]any{})
	require.Error(t, err)
}

func TestFindWithAttributeCriteria(t *testing.T) {
	r := testRegistry(t)
	m := r.Mapper(authorEntity)
	ctx := context.Background()
	gold := saveAuthor(t, r, "ada", "crit1@eav.org", Attributes{"tier": "gold"})
	saveAuthor(t, r, "mary", "crit2@eav.org", Attributes{"tier": "silver"})

	got, err := m.Find(ctx, nil, map[string]any{"tier": "gold"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, gold.ID, got[0].(*Author).ID)

	// Column and attribute criteria combine.
	got, err = m.Find(ctx, map[string]any{"name": "mary"}, map[string]any{"tier": "gold"})
	require.NoError(t, err)
	assert.Empty(t, got)

	// Attribute criteria on an entity without overflow bindings is an error.
	_, err = r.Mapper(readerEntity).Find(ctx, nil, map[string]any{"tier": "gold"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overflow")
}

// countingDriver counts Query calls passing through the wrapped driver.
type countingDriver struct {
	dialect.Driver
	queries atomic.Int64
}

func (d *countingDriver) Query(ctx context.Context, query string, args, v any) error {
	d.queries.Add(1)
	return d.Driver.Query(ctx, query, args, v)
}

func TestAttributeLoadBatched(t *testing.T) {
	r := testRegistry(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		saveAuthor(t, r, "bulk", string(rune('a'+i))+"@batch.org", Attributes{"tier": "gold"})
	}

	counting := &countingDriver{Driver: r.drv}
	counted := NewRegistry(counting)
	got, err := counted.Mapper(authorEntity).Find(ctx, map[string]any{"name": "bulk"}, nil)
	require.NoError(t, err)
	require.Len(t, got, 5)
	for _, v := range got {
		assert.Equal(t, Attributes{"tier": "gold"}, v.(*Author).Meta)
	}
	// One query for the rows, one per overflow table for the whole batch.
	assert.Equal(t, int64(2), counting.queries.Load())
}
