// Package field provides fluent builders for declaring entity columns.
//
// A column declares exactly one storage type. Builders exist for every
// supported type plus entity references and attribute-overflow bindings:
//
//	field.String("name").Unique()
//	field.Int("age").Optional()
//	field.Time("created_at").Default(time.Now)
//	field.Ref("author_id", Author{})
//	field.Attributes("attributes", "authors_eav")
package field

import "time"

// A Type is the declared type of a column.
type Type int

// List of declared column types.
const (
	TypeInvalid Type = iota
	TypeBool
	TypeInt
	TypeFloat
	TypeTime
	TypeString // short string, bounded length.
	TypeText
	TypeBytes
	TypeJSON // arbitrary serializable structure.
	TypeUUID
	TypeRef // reference to another entity, stored as its integer id.
	endTypes
)

var typeNames = [...]string{
	TypeInvalid: "invalid",
	TypeBool:    "bool",
	TypeInt:     "int",
	TypeFloat:   "float",
	TypeTime:    "datetime",
	TypeString:  "string",
	TypeText:    "text",
	TypeBytes:   "bytes",
	TypeJSON:    "json",
	TypeUUID:    "uuid",
	TypeRef:     "ref",
}

// String returns the string representation of the type.
func (t Type) String() string {
	if t < endTypes && t >= 0 {
		return typeNames[t]
	}
	return typeNames[TypeInvalid]
}

// Valid reports if the given type is a valid declared type.
func (t Type) Valid() bool { return t > TypeInvalid && t < endTypes }

// Storage returns the storage type a declared type maps to. Complex types
// collapse onto a small set of storage-safe scalars: JSON onto bytes, UUID
// onto a short string, references onto the referenced integer id.
func (t Type) Storage() Type {
	switch t {
	case TypeJSON:
		return TypeBytes
	case TypeUUID:
		return TypeString
	case TypeRef:
		return TypeInt
	default:
		return t
	}
}

// Numeric reports if the storage type is a numeric type.
func (t Type) Numeric() bool {
	s := t.Storage()
	return s == TypeInt || s == TypeFloat || s == TypeBool
}

// A Descriptor for a declared column. Descriptors are produced by the
// builders below and consumed by schema.NewEntity; they are not mutated
// after the owning entity descriptor is built.
type Descriptor struct {
	Name        string // column name.
	GoField     string // Go struct field; derived from the column name if empty.
	Info        Type   // declared type; TypeInvalid means "infer from Default".
	Nullable    bool
	Unique      bool
	UniqueGroup string // named multi-column unique group.
	Default     any    // default value, or a func() value.
	Size        int    // short-string size bound. 0 means the dialect default.
	Ref         any    // prototype of the referenced entity for TypeRef columns.

	// Attribute-overflow binding. When AttrTable is set the field is not a
	// column at all; it maps to an EAV overflow table.
	AttrTable string
	AttrType  Type
}

// A Field supplies a column descriptor to the schema builder.
type Field interface {
	Descriptor() *Descriptor
}

type builder struct {
	desc *Descriptor
}

// Descriptor implements the Field interface.
func (b builder) Descriptor() *Descriptor { return b.desc }

// Optional makes the column nullable.
func (b builder) Optional() builder {
	b.desc.Nullable = true
	return b
}

// Unique adds a standalone unique constraint on the column.
func (b builder) Unique() builder {
	b.desc.Unique = true
	return b
}

// UniqueGroup joins the column to a named multi-column unique constraint.
// All columns sharing a group name form one constraint.
func (b builder) UniqueGroup(name string) builder {
	b.desc.UniqueGroup = name
	return b
}

// Default sets the default value of the column. A func value is invoked on
// insert. The default applies when the bound struct field is unset: nil for
// pointer and slice fields, the zero time for time.Time fields.
func (b builder) Default(v any) builder {
	b.desc.Default = v
	return b
}

// StructField overrides the Go struct field the column binds to. By default
// the field name is derived from the column name (snake_case to PascalCase).
func (b builder) StructField(name string) builder {
	b.desc.GoField = name
	return b
}

// Size bounds a short-string column length.
func (b builder) Size(n int) builder {
	b.desc.Size = n
	return b
}

func newBuilder(name string, t Type) builder {
	return builder{desc: &Descriptor{Name: name, Info: t}}
}

// Bool returns a new boolean column.
func Bool(name string) builder { return newBuilder(name, TypeBool) }

// Int returns a new integer column.
func Int(name string) builder { return newBuilder(name, TypeInt) }

// Float returns a new float column.
func Float(name string) builder { return newBuilder(name, TypeFloat) }

// Time returns a new date/time column. Values are stored as a fixed-format
// UTC string and loaded back in UTC.
func Time(name string) builder { return newBuilder(name, TypeTime) }

// String returns a new short-string column.
func String(name string) builder { return newBuilder(name, TypeString) }

// Text returns a new unbounded text column.
func Text(name string) builder { return newBuilder(name, TypeText) }

// Bytes returns a new binary column.
func Bytes(name string) builder { return newBuilder(name, TypeBytes) }

// JSON returns a column holding an arbitrary serializable structure.
func JSON(name string) builder { return newBuilder(name, TypeJSON) }

// UUID returns a new UUID column, stored as a short string.
func UUID(name string) builder { return newBuilder(name, TypeUUID) }

// Ref returns a column referencing another entity. The prototype names the
// target entity type; the stored value is the referenced row's integer id.
func Ref(name string, prototype any) builder {
	b := newBuilder(name, TypeRef)
	b.desc.Ref = prototype
	return b
}

// Any returns a column with no explicit type. The type is inferred from a
// non-nil default value, or falls back to a nullable string.
func Any(name string) builder { return newBuilder(name, TypeInvalid) }

// Attributes binds a field to an attribute-overflow (EAV) table. Values
// default to strings unless elemType is given.
func Attributes(name, table string, elemType ...Type) builder {
	b := newBuilder(name, TypeInvalid)
	b.desc.AttrTable = table
	b.desc.AttrType = TypeString
	if len(elemType) == 1 {
		b.desc.AttrType = elemType[0]
	}
	return b
}

// Infer resolves the declared type of a default value. It returns
// TypeInvalid if the value has no mapping.
func Infer(v any) Type {
	switch v.(type) {
	case bool:
		return TypeBool
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return TypeInt
	case float32, float64:
		return TypeFloat
	case string:
		return TypeString
	case []byte:
		return TypeBytes
	case time.Time:
		return TypeTime
	default:
		return TypeInvalid
	}
}
