package codec

import (
	"fmt"
	"strconv"
	"time"

	"github.com/strata-orm/strata/schema/field"
)

// FromScan builds a StorageValue from a value scanned off the driver.
// Drivers disagree on the exact Go type they hand back (SQLite returns
// int64 for booleans, MySQL returns []byte for text), so the mapping is by
// dynamic type, and per-column coercion happens later in Hydrate.
func FromScan(v any) (StorageValue, error) {
	switch v := v.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(v), nil
	case int64:
		return Int(v), nil
	case float64:
		return Float(v), nil
	case string:
		return String(v), nil
	case []byte:
		return Bytes(v), nil
	case time.Time:
		return Time(v), nil
	default:
		return Null(), fmt.Errorf("codec: unsupported scanned type %T", v)
	}
}

// Coerce raises a stored scalar to the given declared scalar type. It backs
// attribute-overflow values, which carry their element type on the binding
// rather than on a column.
func Coerce(t field.Type, sv StorageValue) (any, error) {
	if sv.IsNull() {
		return nil, nil
	}
	switch t.Storage() {
	case field.TypeBool:
		return coerceBool(sv)
	case field.TypeInt:
		return coerceInt(sv)
	case field.TypeFloat:
		return coerceFloat(sv)
	case field.TypeTime:
		s, err := coerceString(sv)
		if err != nil {
			return nil, err
		}
		return time.ParseInLocation(TimeFormat, s, time.UTC)
	case field.TypeBytes:
		if b, ok := sv.v.([]byte); ok {
			return b, nil
		}
		s, err := coerceString(sv)
		if err != nil {
			return nil, err
		}
		return []byte(s), nil
	default:
		return coerceString(sv)
	}
}

func coerceInt(sv StorageValue) (int64, error) {
	switch sv.kind {
	case KindInt:
		return sv.v.(int64), nil
	case KindFloat:
		f := sv.v.(float64)
		if f != float64(int64(f)) {
			return 0, fmt.Errorf("float %v is not an integer", f)
		}
		return int64(f), nil
	case KindBool:
		if sv.v.(bool) {
			return 1, nil
		}
		return 0, nil
	case KindString:
		return strconv.ParseInt(sv.v.(string), 10, 64)
	case KindBytes:
		return strconv.ParseInt(string(sv.v.([]byte)), 10, 64)
	}
	return 0, fmt.Errorf("cannot coerce %v to integer", sv.v)
}

func coerceFloat(sv StorageValue) (float64, error) {
	switch sv.kind {
	case KindFloat:
		return sv.v.(float64), nil
	case KindInt:
		return float64(sv.v.(int64)), nil
	case KindString:
		return strconv.ParseFloat(sv.v.(string), 64)
	case KindBytes:
		return strconv.ParseFloat(string(sv.v.([]byte)), 64)
	}
	return 0, fmt.Errorf("cannot coerce %v to float", sv.v)
}

func coerceBool(sv StorageValue) (bool, error) {
	switch sv.kind {
	case KindBool:
		return sv.v.(bool), nil
	case KindInt:
		return sv.v.(int64) != 0, nil
	case KindString:
		return strconv.ParseBool(sv.v.(string))
	case KindBytes:
		return strconv.ParseBool(string(sv.v.([]byte)))
	}
	return false, fmt.Errorf("cannot coerce %v to bool", sv.v)
}

func coerceString(sv StorageValue) (string, error) {
	switch sv.kind {
	case KindString:
		return sv.v.(string), nil
	case KindBytes:
		return string(sv.v.([]byte)), nil
	case KindInt:
		return strconv.FormatInt(sv.v.(int64), 10), nil
	case KindFloat:
		return strconv.FormatFloat(sv.v.(float64), 'g', -1, 64), nil
	case KindBool:
		return strconv.FormatBool(sv.v.(bool)), nil
	case KindTime:
		return sv.v.(time.Time).UTC().Format(TimeFormat), nil
	}
	return "", fmt.Errorf("cannot coerce %v to string", sv.v)
}
