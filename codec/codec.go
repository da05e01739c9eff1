// Package codec converts between native field values and the small set of
// storage-safe scalars sent to the database. Conversion is bidirectional:
// Dehydrate lowers a declared value to a StorageValue, Hydrate raises a
// stored scalar back to the declared type. Null passes through unchanged at
// both ends and never enters the complex-type path.
package codec

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/strata-orm/strata/schema"
	"github.com/strata-orm/strata/schema/field"
)

// TimeFormat is the fixed storage format for date/time values. Values are
// stored in UTC regardless of their original location and hydrate back
// assuming UTC.
const TimeFormat = "2006-01-02 15:04:05"

// TypeError reports a value that cannot be lowered to or raised from its
// declared type. Values are never silently nulled out or truncated.
type TypeError struct {
	Type    field.Type
	Value   any
	Message string
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("codec: %s value %v: %s", e.Type, e.Value, e.Message)
}

// Kind discriminates the StorageValue union.
type Kind int

// The closed set of storage-safe scalar kinds.
const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindBytes
	KindTime
)

// StorageValue is a closed tagged union holding exactly one storage-safe
// scalar. The zero value is Null.
type StorageValue struct {
	kind Kind
	v    any
}

// Null returns the null storage value.
func Null() StorageValue { return StorageValue{} }

// Bool returns a boolean storage value.
func Bool(v bool) StorageValue { return StorageValue{kind: KindBool, v: v} }

// Int returns an integer storage value.
func Int(v int64) StorageValue { return StorageValue{kind: KindInt, v: v} }

// Float returns a float storage value.
func Float(v float64) StorageValue { return StorageValue{kind: KindFloat, v: v} }

// String returns a string storage value.
func String(v string) StorageValue { return StorageValue{kind: KindString, v: v} }

// Bytes returns a binary storage value.
func Bytes(v []byte) StorageValue { return StorageValue{kind: KindBytes, v: v} }

// Time returns a date/time storage value.
func Time(v time.Time) StorageValue { return StorageValue{kind: KindTime, v: v} }

// Kind returns the union discriminator.
func (s StorageValue) Kind() Kind { return s.kind }

// IsNull reports whether the value is null.
func (s StorageValue) IsNull() bool { return s.kind == KindNull }

// SQL returns the value in the shape the database/sql driver expects. Time
// values are lowered to their fixed-format UTC string here, so both dialects
// store the identical representation.
func (s StorageValue) SQL() any {
	switch s.kind {
	case KindNull:
		return nil
	case KindTime:
		return s.v.(time.Time).UTC().Format(TimeFormat)
	default:
		return s.v
	}
}

// A RefLoader loads the referenced entity of the given type by id. The
// record package wires it to the target entity's mapper.
type RefLoader func(ctx context.Context, target reflect.Type, id int64) (any, error)

// Codec converts declared values for one entity descriptor.
type Codec struct {
	loader RefLoader
}

// New returns a codec. The loader may be nil if no reference columns are
// hydrated through it.
func New(loader RefLoader) *Codec {
	return &Codec{loader: loader}
}

// Dehydrate lowers a native value to its storage scalar per the column's
// declared type.
func (c *Codec) Dehydrate(col *schema.Column, v any) (StorageValue, error) {
	if v == nil {
		return Null(), nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Ptr && rv.IsNil() {
		return Null(), nil
	}
	switch col.Type {
	case field.TypeRef:
		target, ok := schema.Lookup(v)
		if !ok {
			return Null(), &TypeError{Type: col.Type, Value: v, Message: "referenced type has no descriptor"}
		}
		id := target.ID(v)
		if id == 0 {
			return Null(), &TypeError{Type: col.Type, Value: v, Message: "referenced entity is not persisted"}
		}
		return Int(id), nil
	case field.TypeTime:
		t, ok := v.(time.Time)
		if !ok {
			return Null(), &TypeError{Type: col.Type, Value: v, Message: "not a time.Time"}
		}
		return Time(t), nil
	case field.TypeJSON:
		data, err := msgpack.Marshal(v)
		if err != nil {
			return Null(), &TypeError{Type: col.Type, Value: v, Message: err.Error()}
		}
		return Bytes(data), nil
	case field.TypeUUID:
		switch u := v.(type) {
		case uuid.UUID:
			return String(u.String()), nil
		case string:
			if _, err := uuid.Parse(u); err != nil {
				return Null(), &TypeError{Type: col.Type, Value: v, Message: err.Error()}
			}
			return String(u), nil
		}
		return Null(), &TypeError{Type: col.Type, Value: v, Message: "not a UUID"}
	case field.TypeBool:
		if rv.Kind() != reflect.Bool {
			return Null(), &TypeError{Type: col.Type, Value: v, Message: "not a bool"}
		}
		return Bool(rv.Bool()), nil
	case field.TypeInt:
		if !rv.CanInt() {
			return Null(), &TypeError{Type: col.Type, Value: v, Message: "not an integer"}
		}
		return Int(rv.Int()), nil
	case field.TypeFloat:
		if !rv.CanFloat() {
			return Null(), &TypeError{Type: col.Type, Value: v, Message: "not a float"}
		}
		return Float(rv.Float()), nil
	case field.TypeString, field.TypeText:
		if rv.Kind() != reflect.String {
			return Null(), &TypeError{Type: col.Type, Value: v, Message: "not a string"}
		}
		return String(rv.String()), nil
	case field.TypeBytes:
		b, ok := v.([]byte)
		if !ok {
			return Null(), &TypeError{Type: col.Type, Value: v, Message: "not a byte slice"}
		}
		return Bytes(b), nil
	}
	return Null(), &TypeError{Type: col.Type, Value: v, Message: "no dehydration rule"}
}

// Hydrate raises a stored scalar back to the declared type. The into type is
// the Go type of the bound struct field; it drives complex-type decoding.
func (c *Codec) Hydrate(ctx context.Context, col *schema.Column, into reflect.Type, sv StorageValue) (any, error) {
	if sv.IsNull() {
		return nil, nil
	}
	switch col.Type {
	case field.TypeRef:
		id, err := coerceInt(sv)
		if err != nil {
			return nil, &TypeError{Type: col.Type, Value: sv.v, Message: err.Error()}
		}
		if c.loader == nil {
			return nil, &TypeError{Type: col.Type, Value: sv.v, Message: "no reference loader configured"}
		}
		return c.loader(ctx, col.RefType, id)
	case field.TypeTime:
		var s string
		switch v := sv.v.(type) {
		case time.Time:
			return v.UTC().Truncate(time.Second), nil
		case string:
			s = v
		case []byte:
			// mysql reports DATETIME columns as bytes unless the DSN
			// sets parseTime.
			s = string(v)
		default:
			return nil, &TypeError{Type: col.Type, Value: sv.v, Message: "stored value is not a datetime string"}
		}
		t, err := time.ParseInLocation(TimeFormat, s, time.UTC)
		if err != nil {
			return nil, &TypeError{Type: col.Type, Value: sv.v, Message: err.Error()}
		}
		return t, nil
	case field.TypeJSON:
		data, ok := sv.v.([]byte)
		if !ok {
			return nil, &TypeError{Type: col.Type, Value: sv.v, Message: "stored value is not binary"}
		}
		out := reflect.New(into)
		if err := msgpack.Unmarshal(data, out.Interface()); err != nil {
			return nil, &TypeError{Type: col.Type, Value: sv.v, Message: err.Error()}
		}
		v := out.Elem().Interface()
		// Guard against serialization corruption: a complex column never
		// hydrates to a bare scalar.
		switch reflect.Indirect(reflect.ValueOf(v)).Kind() {
		case reflect.Map, reflect.Slice, reflect.Struct:
		default:
			return nil, &TypeError{Type: col.Type, Value: v, Message: "hydrated value is not a structure"}
		}
		return v, nil
	case field.TypeUUID:
		s, ok := sv.v.(string)
		if !ok {
			return nil, &TypeError{Type: col.Type, Value: sv.v, Message: "stored value is not a string"}
		}
		if into == reflect.TypeOf(uuid.UUID{}) {
			u, err := uuid.Parse(s)
			if err != nil {
				return nil, &TypeError{Type: col.Type, Value: sv.v, Message: err.Error()}
			}
			return u, nil
		}
		return s, nil
	case field.TypeBool:
		return coerceBool(sv)
	case field.TypeInt:
		n, err := coerceInt(sv)
		if err != nil {
			return nil, &TypeError{Type: col.Type, Value: sv.v, Message: err.Error()}
		}
		return n, nil
	case field.TypeFloat:
		return coerceFloat(sv)
	case field.TypeString, field.TypeText:
		return coerceString(sv)
	case field.TypeBytes:
		if b, ok := sv.v.([]byte); ok {
			return b, nil
		}
		if s, ok := sv.v.(string); ok {
			return []byte(s), nil
		}
		return nil, &TypeError{Type: col.Type, Value: sv.v, Message: "stored value is not binary"}
	}
	return nil, &TypeError{Type: col.Type, Value: sv.v, Message: "no hydration rule"}
}
