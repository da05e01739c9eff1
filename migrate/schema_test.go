package migrate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strata-orm/strata/schema"
	"github.com/strata-orm/strata/schema/field"
)

type migUser struct {
	ID     int64
	Email  string
	Bio    string
	Avatar []byte
	Age    int64
	Extras map[string]any
}

type migTeam struct {
	ID    int64
	Name  string
	Owner *migUser
}

var (
	migUserEntity = schema.MustEntity(&migUser{}, "mig_users",
		field.String("email").Unique(),
		field.Text("bio").Optional(),
		field.Bytes("avatar").Optional(),
		field.Int("age").Optional(),
		field.Attributes("extras", "mig_user_extras"),
	)
	migTeamEntity = schema.MustEntity(&migTeam{}, "mig_teams",
		field.String("name"),
		field.Ref("owner", &migUser{}),
	)
	migMembership = schema.MustJunction("mig_memberships",
		schema.Side{Column: "member", Prototype: &migUser{}},
		schema.Side{Column: "team", Prototype: &migTeam{}},
	)
)

func TestSortColumns(t *testing.T) {
	cols := []*Column{
		{Name: "age", Type: field.TypeInt},
		{Name: "bio", Type: field.TypeText},
		{Name: "id", Type: field.TypeInt, Role: RolePrimaryAuto},
		{Name: "email", Type: field.TypeString, Role: RoleUnique},
		{Name: "avatar", Type: field.TypeBytes},
		{Name: "joined_at", Type: field.TypeTime},
	}
	SortColumns(cols)
	got := make([]string, len(cols))
	for i, c := range cols {
		got[i] = c.Name
	}
	// Keyed columns first, then by decreasing width class, then by name.
	assert.Equal(t, []string{"id", "email", "avatar", "bio", "joined_at", "age"}, got)

	// The order is a function of the set, not of declaration order.
	shuffled := []*Column{cols[3], cols[5], cols[0], cols[2], cols[4], cols[1]}
	SortColumns(shuffled)
	for i, c := range shuffled {
		assert.Equal(t, got[i], c.Name)
	}
}

func TestConstraintNames(t *testing.T) {
	// Column order never affects the generated name.
	assert.Equal(t, UniqueKeyName("members", "org", "email"), UniqueKeyName("members", "email", "org"))
	assert.Equal(t, "UQ_members__email__org", UniqueKeyName("members", "org", "email"))
	assert.Equal(t, "FK_mig_teams__owner", ForeignKeyName("mig_teams", "owner"))
	assert.Equal(t, "PK_mig_memberships__member__team", pkName("mig_memberships", []string{"team", "member"}))
}

func TestTableOf(t *testing.T) {
	tbl := TableOf(migUserEntity)
	assert.Equal(t, "mig_users", tbl.Name)
	assert.Equal(t, []string{"id"}, tbl.PrimaryKey)

	id := tbl.Column("id")
	require.NotNil(t, id)
	assert.Equal(t, RolePrimaryAuto, id.Role)

	email := tbl.Column("email")
	require.NotNil(t, email)
	assert.Equal(t, RoleUnique, email.Role)

	// The overflow binding is not a column of the owning table.
	assert.Nil(t, tbl.Column("extras"))

	require.Len(t, tbl.Indexes, 1)
	assert.Equal(t, UniqueKeyName("mig_users", "email"), tbl.Indexes[0].Name)
	assert.True(t, tbl.Indexes[0].Unique)
}

func TestTableOfRef(t *testing.T) {
	tbl := TableOf(migTeamEntity)
	require.Len(t, tbl.ForeignKeys, 1)
	fk := tbl.ForeignKeys[0]
	assert.Equal(t, []string{"owner"}, fk.Columns)
	assert.Equal(t, "mig_users", fk.RefTable)
	assert.Equal(t, []string{"id"}, fk.RefColumns)
}

func TestAttrTableOf(t *testing.T) {
	tbl := AttrTableOf("mig_user_extras", "mig_users", field.TypeString)
	assert.Equal(t, []string{"entity", "attribute"}, tbl.PrimaryKey)
	value := tbl.Column("value")
	require.NotNil(t, value)
	assert.True(t, value.Nullable)
	require.Len(t, tbl.ForeignKeys, 1)
	assert.Equal(t, "mig_users", tbl.ForeignKeys[0].RefTable)
}

func TestJunctionTableOf(t *testing.T) {
	tbl, err := JunctionTableOf(migMembership)
	require.NoError(t, err)
	assert.Equal(t, []string{"member", "team"}, tbl.PrimaryKey)
	require.Len(t, tbl.Columns, 2)
	for _, c := range tbl.Columns {
		assert.Equal(t, RolePrimary, c.Role)
		assert.False(t, c.Nullable)
	}
	require.Len(t, tbl.ForeignKeys, 2)
	assert.Equal(t, "mig_users", tbl.ForeignKeys[0].RefTable)
	assert.Equal(t, "mig_teams", tbl.ForeignKeys[1].RefTable)

	// A junction over an undescribed side cannot be lowered.
	type loner struct{ ID int64 }
	j, err := schema.NewJunction("mig_orphans",
		schema.Side{Column: "a", Prototype: &migUser{}},
		schema.Side{Column: "b", Prototype: &loner{}},
	)
	require.NoError(t, err)
	_, err = JunctionTableOf(j)
	require.Error(t, err)
}
