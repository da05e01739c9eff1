package codec

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strata-orm/strata/schema"
	"github.com/strata-orm/strata/schema/field"
)

type codecAuthor struct {
	ID   int64
	Name string
}

var codecAuthorEntity = schema.MustEntity(&codecAuthor{}, "codec_authors",
	field.String("name"),
)

func col(t field.Type) *schema.Column {
	return &schema.Column{Name: "c", Type: t, Nullable: true}
}

func TestDehydrateScalars(t *testing.T) {
	c := New(nil)

	sv, err := c.Dehydrate(col(field.TypeBool), true)
	require.NoError(t, err)
	assert.Equal(t, KindBool, sv.Kind())
	assert.Equal(t, true, sv.SQL())

	sv, err = c.Dehydrate(col(field.TypeInt), 42)
	require.NoError(t, err)
	assert.Equal(t, int64(42), sv.SQL())

	sv, err = c.Dehydrate(col(field.TypeFloat), 2.5)
	require.NoError(t, err)
	assert.Equal(t, 2.5, sv.SQL())

	sv, err = c.Dehydrate(col(field.TypeString), "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", sv.SQL())

	sv, err = c.Dehydrate(col(field.TypeBytes), []byte{0xde, 0xad})
	require.NoError(t, err)
	assert.Equal(t, []byte{0xde, 0xad}, sv.SQL())
}

func TestDehydrateNull(t *testing.T) {
	c := New(nil)
	sv, err := c.Dehydrate(col(field.TypeString), nil)
	require.NoError(t, err)
	assert.True(t, sv.IsNull())
	assert.Nil(t, sv.SQL())

	var p *codecAuthor
	sv, err = c.Dehydrate(col(field.TypeRef), p)
	require.NoError(t, err)
	assert.True(t, sv.IsNull())
}

func TestDehydrateTypeMismatch(t *testing.T) {
	c := New(nil)
	_, err := c.Dehydrate(col(field.TypeInt), "not a number")
	var te *TypeError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, field.TypeInt, te.Type)

	_, err = c.Dehydrate(col(field.TypeBool), 1)
	require.Error(t, err)
}

func TestTimeRoundTrip(t *testing.T) {
	c := New(nil)
	loc := time.FixedZone("UTC+3", 3*3600)
	in := time.Date(2024, 5, 17, 12, 30, 45, 0, loc)

	sv, err := c.Dehydrate(col(field.TypeTime), in)
	require.NoError(t, err)
	// Stored as a fixed-format UTC string.
	assert.Equal(t, "2024-05-17 09:30:45", sv.SQL())

	out, err := c.Hydrate(context.Background(), col(field.TypeTime), reflect.TypeOf(time.Time{}), String("2024-05-17 09:30:45"))
	require.NoError(t, err)
	assert.True(t, in.UTC().Equal(out.(time.Time)))
}

func TestTimeHydrateBytes(t *testing.T) {
	c := New(nil)
	want := time.Date(2024, 5, 17, 9, 30, 45, 0, time.UTC)

	// mysql scans DATETIME columns as []byte unless the DSN sets parseTime.
	out, err := c.Hydrate(context.Background(), col(field.TypeTime), reflect.TypeOf(time.Time{}), Bytes([]byte("2024-05-17 09:30:45")))
	require.NoError(t, err)
	assert.True(t, want.Equal(out.(time.Time)))

	_, err = c.Hydrate(context.Background(), col(field.TypeTime), reflect.TypeOf(time.Time{}), Int(7))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a datetime")
}

func TestComplexRoundTrip(t *testing.T) {
	type payload struct {
		Tags  []string
		Score int
	}
	c := New(nil)
	in := payload{Tags: []string{"a", "b"}, Score: 7}

	sv, err := c.Dehydrate(col(field.TypeJSON), in)
	require.NoError(t, err)
	assert.Equal(t, KindBytes, sv.Kind())

	out, err := c.Hydrate(context.Background(), col(field.TypeJSON), reflect.TypeOf(payload{}), sv)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestComplexHydrateRejectsScalar(t *testing.T) {
	c := New(nil)
	sv, err := c.Dehydrate(col(field.TypeJSON), 42)
	require.NoError(t, err)
	_, err = c.Hydrate(context.Background(), col(field.TypeJSON), reflect.TypeOf(0), sv)
	var te *TypeError
	require.ErrorAs(t, err, &te)
	assert.Contains(t, te.Message, "not a structure")
}

func TestUUIDRoundTrip(t *testing.T) {
	c := New(nil)
	id := uuid.New()

	sv, err := c.Dehydrate(col(field.TypeUUID), id)
	require.NoError(t, err)
	assert.Equal(t, id.String(), sv.SQL())

	out, err := c.Hydrate(context.Background(), col(field.TypeUUID), reflect.TypeOf(uuid.UUID{}), sv)
	require.NoError(t, err)
	assert.Equal(t, id, out)

	// String-typed fields keep the canonical text form.
	out, err = c.Hydrate(context.Background(), col(field.TypeUUID), reflect.TypeOf(""), sv)
	require.NoError(t, err)
	assert.Equal(t, id.String(), out)

	_, err = c.Dehydrate(col(field.TypeUUID), "not-a-uuid")
	require.Error(t, err)
}

func TestRefDehydrate(t *testing.T) {
	c := New(nil)
	rc := &schema.Column{Name: "author", Type: field.TypeRef, RefType: codecAuthorEntity.Type()}

	sv, err := c.Dehydrate(rc, &codecAuthor{ID: 9})
	require.NoError(t, err)
	assert.Equal(t, int64(9), sv.SQL())

	// An unsaved reference has no id to point at.
	_, err = c.Dehydrate(rc, &codecAuthor{})
	var te *TypeError
	require.ErrorAs(t, err, &te)
	assert.Contains(t, te.Message, "not persisted")
}

func TestRefHydrate(t *testing.T) {
	want := &codecAuthor{ID: 9, Name: "ada"}
	c := New(func(ctx context.Context, target reflect.Type, id int64) (any, error) {
		assert.Equal(t, codecAuthorEntity.Type(), target)
		assert.Equal(t, int64(9), id)
		return want, nil
	})
	rc := &schema.Column{Name: "author", Type: field.TypeRef, RefType: codecAuthorEntity.Type()}
	out, err := c.Hydrate(context.Background(), rc, codecAuthorEntity.Type(), Int(9))
	require.NoError(t, err)
	assert.Same(t, want, out)
}

func TestHydrateNull(t *testing.T) {
	c := New(nil)
	out, err := c.Hydrate(context.Background(), col(field.TypeString), reflect.TypeOf(""), Null())
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestFromScan(t *testing.T) {
	sv, err := FromScan(nil)
	require.NoError(t, err)
	assert.True(t, sv.IsNull())

	sv, err = FromScan(int64(5))
	require.NoError(t, err)
	assert.Equal(t, KindInt, sv.Kind())

	sv, err = FromScan([]byte("raw"))
	require.NoError(t, err)
	assert.Equal(t, KindBytes, sv.Kind())

	_, err = FromScan(struct{}{})
	require.Error(t, err)
}

func TestCoerce(t *testing.T) {
	v, err := Coerce(field.TypeInt, String("17"))
	require.NoError(t, err)
	assert.Equal(t, int64(17), v)

	v, err = Coerce(field.TypeInt, Float(3))
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)

	// A fractional float is not silently truncated.
	_, err = Coerce(field.TypeInt, Float(3.5))
	require.Error(t, err)

	v, err = Coerce(field.TypeBool, Int(1))
	require.NoError(t, err)
	assert.Equal(t, true, v)

	v, err = Coerce(field.TypeString, Int(8))
	require.NoError(t, err)
	assert.Equal(t, "8", v)
}
