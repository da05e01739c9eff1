package schema

import (
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strata-orm/strata/schema/field"
)

type testUser struct {
	ID       int64
	Name     string
	Age      int
	Active   bool
	JoinedAt time.Time
	Extras   map[string]any
}

type testGroup struct {
	ID    int64
	Title string
	Owner *testUser
}

func userEntity(t *testing.T) *Entity {
	t.Helper()
	e, err := NewEntity(&testUser{}, "users",
		field.String("name").Size(64),
		field.Int("age").Optional(),
		field.Bool("active").Default(true),
		field.Time("joined_at").Optional(),
		field.Attributes("extras", "user_extras"),
	)
	require.NoError(t, err)
	return e
}

func TestNewEntity(t *testing.T) {
	e := userEntity(t)
	assert.Equal(t, "users", e.Table)
	assert.Equal(t, "users", e.Label())
	require.Len(t, e.Columns, 4)

	name := e.Column("name")
	require.NotNil(t, name)
	assert.Equal(t, field.TypeString, name.Type)
	assert.Equal(t, 64, name.Size)

	active := e.Column("active")
	require.NotNil(t, active)
	assert.Equal(t, true, active.Default)

	// The implicit id column is not part of the declared columns.
	assert.Nil(t, e.Column("id"))

	require.Contains(t, e.Attrs, "extras")
	assert.Equal(t, "user_extras", e.Attrs["extras"].Table)
}

func TestEntityCache(t *testing.T) {
	e1 := userEntity(t)
	// Same type, same table: the cached descriptor is reused.
	e2, err := NewEntity(&testUser{}, "users")
	require.NoError(t, err)
	assert.Same(t, e1, e2)

	// Same type, different table: declaration error.
	_, err = NewEntity(&testUser{}, "people")
	require.Error(t, err)

	got, ok := Lookup(&testUser{})
	require.True(t, ok)
	assert.Same(t, e1, got)
}

func TestEntityAccessors(t *testing.T) {
	e := userEntity(t)
	u := &testUser{Name: "ada"}

	e.SetID(u, 12)
	assert.Equal(t, int64(12), u.ID)
	assert.Equal(t, int64(12), e.ID(u))

	name := e.Column("name")
	assert.Equal(t, "ada", e.Value(u, name))
	require.NoError(t, e.SetValue(u, name, "grace"))
	assert.Equal(t, "grace", u.Name)

	// Convertible assignment: stored int64 lands in an int field.
	age := e.Column("age")
	require.NoError(t, e.SetValue(u, age, int64(44)))
	assert.Equal(t, 44, u.Age)

	// Nil resets to the zero value.
	require.NoError(t, e.SetValue(u, name, nil))
	assert.Equal(t, "", u.Name)

	require.Error(t, e.SetValue(u, age, "not a number"))
}

func TestEntityAttrMap(t *testing.T) {
	e := userEntity(t)
	u := &testUser{}
	extras := e.Attrs["extras"]

	// Never loaded: nil map.
	assert.Nil(t, e.AttrMap(u, extras))

	// Loaded but empty: non-nil map. The two states stay distinguishable.
	e.SetAttrMap(u, extras, map[string]any{})
	m := e.AttrMap(u, extras)
	require.NotNil(t, m)
	assert.Empty(t, m)
}

func TestUniqueGroups(t *testing.T) {
	type member struct {
		ID    int64
		Org   string
		Email string
	}
	e, err := NewEntity(&member{}, "members",
		field.String("org").UniqueGroup("org_email"),
		field.String("email").UniqueGroup("org_email"),
	)
	require.NoError(t, err)
	groups := e.UniqueGroups()
	require.Contains(t, groups, "org_email")
	assert.Equal(t, []string{"org", "email"}, groups["org_email"])
}

func TestTypeInference(t *testing.T) {
	type doc struct {
		ID    int64
		Draft bool
		Note  string
	}
	e, err := NewEntity(&doc{}, "docs",
		// Inferred from the literal default.
		field.Any("draft").Default(false),
		// No type, no default: nullable string fallback.
		field.Any("note"),
	)
	require.NoError(t, err)
	assert.Equal(t, field.TypeBool, e.Column("draft").Type)
	note := e.Column("note")
	assert.Equal(t, field.TypeString, note.Type)
	assert.True(t, note.Nullable)
}

func TestRefColumn(t *testing.T) {
	userEntity(t)
	e, err := NewEntity(&testGroup{}, "groups",
		field.String("title"),
		field.Ref("owner", &testUser{}),
	)
	require.NoError(t, err)
	owner := e.Column("owner")
	require.NotNil(t, owner)
	assert.Equal(t, field.TypeRef, owner.Type)
	assert.Equal(t, reflect.PointerTo(owner.RefType), e.FieldType(owner))
}

func TestDeclarationErrors(t *testing.T) {
	type noID struct{ Name string }
	_, err := NewEntity(&noID{}, "no_ids", field.String("name"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ID int64")

	type plain struct{ ID int64 }
	_, err = NewEntity(&plain{}, "")
	require.Error(t, err)

	type missing struct{ ID int64 }
	_, err = NewEntity(&missing{}, "missings", field.String("name"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no field")

	type mismatch struct {
		ID   int64
		Name int
	}
	_, err = NewEntity(&mismatch{}, "mismatches", field.String("name"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match")

	type badAttr struct {
		ID     int64
		Extras []string
	}
	_, err = NewEntity(&badAttr{}, "bad_attrs", field.Attributes("extras", "bad_attr_values"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "map[string]any")

	type dup struct {
		ID   int64
		Name string
	}
	_, err = NewEntity(&dup{}, "dups",
		field.String("name"),
		field.Text("name").StructField("Name"),
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate column")

	type reserved struct {
		ID    int64
		Other int64
	}
	_, err = NewEntity(&reserved{}, "reserveds", field.Int("id").StructField("Other"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid column name")
}

func TestNewJunction(t *testing.T) {
	j, err := NewJunction("memberships",
		Side{Column: "member", Prototype: &testUser{}},
		Side{Column: "group", Prototype: &testGroup{}},
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"member", "group"}, j.Columns)
	assert.Len(t, j.Targets, 2)

	_, err = NewJunction("halves", Side{Column: "only", Prototype: &testUser{}})
	require.Error(t, err)

	_, err = NewJunction("dupes",
		Side{Column: "x", Prototype: &testUser{}},
		Side{Column: "x", Prototype: &testGroup{}},
	)
	require.Error(t, err)
}
