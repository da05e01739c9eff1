// Package schema builds typed descriptors from entity and junction
// declarations. A descriptor is built once, validated eagerly and cached for
// the process lifetime; malformed declarations fail at construction time,
// never at query time.
package schema

import (
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/go-openapi/inflect"

	"github.com/strata-orm/strata/schema/field"
)

// IDColumn is the implicit integer primary-key column every entity carries.
const IDColumn = "id"

// ValidationError reports a malformed entity or junction declaration.
type ValidationError struct {
	Table   string
	Column  string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("schema: %s.%s: %s", e.Table, e.Column, e.Message)
	}
	return fmt.Sprintf("schema: %s: %s", e.Table, e.Message)
}

// Column is one mapped column of an entity descriptor.
type Column struct {
	Name        string
	Type        field.Type // declared type, never TypeInvalid after resolution.
	Nullable    bool
	Unique      bool
	UniqueGroup string
	Default     any
	Size        int
	RefType     reflect.Type // target entity struct type for TypeRef columns.

	index []int // struct field index of the bound Go field.
}

// Attr is one attribute-overflow binding of an entity descriptor.
type Attr struct {
	GoField string
	Table   string
	Type    field.Type

	index []int
}

// Entity is the immutable descriptor of one entity type.
type Entity struct {
	Table   string
	Columns []*Column // declaration order, excluding the implicit id column.
	Attrs   map[string]*Attr

	typ     reflect.Type // underlying struct type of the prototype.
	byName  map[string]*Column
	idIndex []int
}

// Type returns the underlying struct type of the entity prototype.
func (e *Entity) Type() reflect.Type { return e.typ }

// Label returns the entity label used in errors and logs.
func (e *Entity) Label() string { return e.Table }

// Column returns the descriptor of the named column, or nil.
func (e *Entity) Column(name string) *Column { return e.byName[name] }

// UniqueGroups returns the named multi-column unique groups in column order.
func (e *Entity) UniqueGroups() map[string][]string {
	groups := make(map[string][]string)
	for _, c := range e.Columns {
		if c.UniqueGroup != "" {
			groups[c.UniqueGroup] = append(groups[c.UniqueGroup], c.Name)
		}
	}
	return groups
}

// ID returns the id of the given entity instance.
func (e *Entity) ID(v any) int64 {
	return reflect.Indirect(reflect.ValueOf(v)).FieldByIndex(e.idIndex).Int()
}

// SetID sets the id of the given entity instance.
func (e *Entity) SetID(v any, id int64) {
	reflect.Indirect(reflect.ValueOf(v)).FieldByIndex(e.idIndex).SetInt(id)
}

// FieldType returns the Go type of the struct field bound to the column.
func (e *Entity) FieldType(c *Column) reflect.Type {
	return e.typ.FieldByIndex(c.index).Type
}

// Value returns the Go value bound to the given column on an instance.
func (e *Entity) Value(v any, c *Column) any {
	fv := reflect.Indirect(reflect.ValueOf(v)).FieldByIndex(c.index)
	return fv.Interface()
}

// SetValue sets the Go value bound to the given column on an instance.
func (e *Entity) SetValue(v any, c *Column, value any) error {
	fv := reflect.Indirect(reflect.ValueOf(v)).FieldByIndex(c.index)
	if value == nil {
		fv.Set(reflect.Zero(fv.Type()))
		return nil
	}
	rv := reflect.ValueOf(value)
	if !rv.Type().AssignableTo(fv.Type()) {
		if rv.Type().ConvertibleTo(fv.Type()) {
			rv = rv.Convert(fv.Type())
		} else {
			return &ValidationError{Table: e.Table, Column: c.Name, Message: fmt.Sprintf("cannot assign %T to field %s", value, fv.Type())}
		}
	}
	fv.Set(rv)
	return nil
}

// AttrMap returns the attribute-overflow map bound to the given attr field.
// A nil map means the attributes were never loaded.
func (e *Entity) AttrMap(v any, a *Attr) map[string]any {
	fv := reflect.Indirect(reflect.ValueOf(v)).FieldByIndex(a.index)
	m, _ := fv.Interface().(map[string]any)
	return m
}

// SetAttrMap sets the attribute-overflow map on an instance.
func (e *Entity) SetAttrMap(v any, a *Attr, m map[string]any) {
	fv := reflect.Indirect(reflect.ValueOf(v)).FieldByIndex(a.index)
	fv.Set(reflect.ValueOf(m))
}

// New returns a new zero instance of the entity type.
func (e *Entity) New() any {
	return reflect.New(e.typ).Interface()
}

var (
	mu       sync.RWMutex
	entities = make(map[reflect.Type]*Entity)
)

// NewEntity builds, validates and caches the descriptor of the prototype's
// entity type. Calling it again for the same type returns the cached,
// immutable descriptor; a mismatching table name is a declaration error.
func NewEntity(prototype any, table string, fields ...field.Field) (*Entity, error) {
	typ := structType(prototype)
	if typ == nil {
		return nil, &ValidationError{Table: table, Message: fmt.Sprintf("prototype %T is not a struct", prototype)}
	}
	mu.Lock()
	defer mu.Unlock()
	if e, ok := entities[typ]; ok {
		if e.Table != table {
			return nil, &ValidationError{Table: table, Message: fmt.Sprintf("type %s already described with table %q", typ, e.Table)}
		}
		return e, nil
	}
	e, err := buildEntity(typ, table, fields)
	if err != nil {
		return nil, err
	}
	entities[typ] = e
	return e, nil
}

// MustEntity is like NewEntity but panics on a declaration error. Intended
// for package-level entity declarations validated at startup.
func MustEntity(prototype any, table string, fields ...field.Field) *Entity {
	e, err := NewEntity(prototype, table, fields...)
	if err != nil {
		panic(err)
	}
	return e
}

// Lookup returns the cached descriptor for the prototype's type.
func Lookup(prototype any) (*Entity, bool) {
	return LookupType(structType(prototype))
}

// LookupType returns the cached descriptor for the given struct type.
func LookupType(typ reflect.Type) (*Entity, bool) {
	mu.RLock()
	defer mu.RUnlock()
	e, ok := entities[typ]
	return e, ok
}

func structType(prototype any) reflect.Type {
	typ := reflect.TypeOf(prototype)
	for typ != nil && typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}
	if typ == nil || typ.Kind() != reflect.Struct {
		return nil
	}
	return typ
}

func buildEntity(typ reflect.Type, table string, fields []field.Field) (*Entity, error) {
	if table == "" {
		return nil, &ValidationError{Table: table, Message: "missing table name"}
	}
	idField, ok := typ.FieldByName("ID")
	if !ok || idField.Type.Kind() != reflect.Int64 {
		return nil, &ValidationError{Table: table, Message: fmt.Sprintf("type %s must carry an ID int64 field", typ)}
	}
	e := &Entity{
		Table:   table,
		Attrs:   make(map[string]*Attr),
		typ:     typ,
		byName:  make(map[string]*Column),
		idIndex: idField.Index,
	}
	for _, f := range fields {
		d := f.Descriptor()
		goField := d.GoField
		if goField == "" {
			goField = inflect.Camelize(d.Name)
		}
		sf, ok := typ.FieldByName(goField)
		if !ok {
			return nil, &ValidationError{Table: table, Column: d.Name, Message: fmt.Sprintf("type %s has no field %s", typ, goField)}
		}
		if d.AttrTable != "" {
			if sf.Type != reflect.TypeOf(map[string]any(nil)) {
				return nil, &ValidationError{Table: table, Column: d.Name, Message: fmt.Sprintf("attribute field %s must be map[string]any", goField)}
			}
			e.Attrs[d.Name] = &Attr{GoField: goField, Table: d.AttrTable, Type: d.AttrType, index: sf.Index}
			continue
		}
		c := &Column{
			Name:        d.Name,
			Type:        d.Info,
			Nullable:    d.Nullable,
			Unique:      d.Unique,
			UniqueGroup: d.UniqueGroup,
			Default:     d.Default,
			Size:        d.Size,
			index:       sf.Index,
		}
		// Resolution priority: explicit type, then inference from a non-nil
		// default, then the nullable string fallback.
		if !c.Type.Valid() {
			if dv := staticDefault(d.Default); dv != nil {
				c.Type = field.Infer(dv)
			}
			if !c.Type.Valid() {
				c.Type = field.TypeString
				c.Nullable = true
			}
		}
		if c.Name == "" || c.Name == IDColumn {
			return nil, &ValidationError{Table: table, Column: c.Name, Message: "invalid column name"}
		}
		if _, dup := e.byName[c.Name]; dup {
			return nil, &ValidationError{Table: table, Column: c.Name, Message: "duplicate column"}
		}
		if c.Type == field.TypeRef {
			rt := structType(d.Ref)
			if rt == nil {
				return nil, &ValidationError{Table: table, Column: c.Name, Message: "reference target is not a struct type"}
			}
			c.RefType = rt
			if sf.Type.Kind() != reflect.Ptr || sf.Type.Elem() != rt {
				return nil, &ValidationError{Table: table, Column: c.Name, Message: fmt.Sprintf("reference field %s must be *%s", goField, rt.Name())}
			}
		} else if err := checkFieldKind(table, c, sf.Type); err != nil {
			return nil, err
		}
		e.Columns = append(e.Columns, c)
		e.byName[c.Name] = c
	}
	return e, nil
}

// staticDefault unwraps a literal default. Function defaults carry no static
// type information usable for inference.
func staticDefault(v any) any {
	if v == nil {
		return nil
	}
	if reflect.TypeOf(v).Kind() == reflect.Func {
		return nil
	}
	return v
}

func checkFieldKind(table string, c *Column, t reflect.Type) error {
	ok := false
	switch c.Type {
	case field.TypeBool:
		ok = t.Kind() == reflect.Bool
	case field.TypeInt:
		switch t.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			ok = true
		}
	case field.TypeFloat:
		ok = t.Kind() == reflect.Float32 || t.Kind() == reflect.Float64
	case field.TypeTime:
		ok = t == reflect.TypeOf(time.Time{})
	case field.TypeString, field.TypeText:
		ok = t.Kind() == reflect.String
	case field.TypeUUID:
		ok = t.Kind() == reflect.String || (t.Kind() == reflect.Array && t.Len() == 16 && t.Elem().Kind() == reflect.Uint8)
	case field.TypeBytes:
		ok = t.Kind() == reflect.Slice && t.Elem().Kind() == reflect.Uint8
	case field.TypeJSON:
		switch t.Kind() {
		case reflect.Map, reflect.Slice, reflect.Struct, reflect.Ptr:
			ok = true
		}
	}
	if !ok {
		return &ValidationError{Table: table, Column: c.Name, Message: fmt.Sprintf("field type %s does not match declared type %s", t, c.Type)}
	}
	return nil
}

// Side declares one side of a junction: the link column and the entity it
// references.
type Side struct {
	Column    string
	Prototype any
}

// Junction is the immutable descriptor of a many-to-many link table. Every
// column is part of the primary key, a foreign key to its target entity, and
// not null.
type Junction struct {
	Table   string
	Columns []string // declaration order.
	Targets map[string]reflect.Type
}

// NewJunction builds and validates a junction descriptor.
func NewJunction(table string, sides ...Side) (*Junction, error) {
	if table == "" {
		return nil, &ValidationError{Table: table, Message: "missing table name"}
	}
	if len(sides) < 2 {
		return nil, &ValidationError{Table: table, Message: "junction needs at least two sides"}
	}
	j := &Junction{Table: table, Targets: make(map[string]reflect.Type)}
	for _, s := range sides {
		if s.Column == "" {
			return nil, &ValidationError{Table: table, Message: "missing junction column name"}
		}
		if _, dup := j.Targets[s.Column]; dup {
			return nil, &ValidationError{Table: table, Column: s.Column, Message: "duplicate junction column"}
		}
		rt := structType(s.Prototype)
		if rt == nil {
			return nil, &ValidationError{Table: table, Column: s.Column, Message: "junction target is not a struct type"}
		}
		j.Columns = append(j.Columns, s.Column)
		j.Targets[s.Column] = rt
	}
	return j, nil
}

// MustJunction is like NewJunction but panics on a declaration error.
func MustJunction(table string, sides ...Side) *Junction {
	j, err := NewJunction(table, sides...)
	if err != nil {
		panic(err)
	}
	return j
}
