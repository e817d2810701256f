// Package model defines the generic row type shared by stores and importers.
package model

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ErrNotFound is returned by stores when no row matches a query.
var ErrNotFound = errors.New("record not found")

// PrimaryKey is the numeric primary key column every table is expected to have.
const PrimaryKey = "id"

// Tracking columns written on every imported target row.
const (
	LegacyIDField    = "legacy_id"
	LegacyClassField = "legacy_class"
)

// Record is a single row of a model class.
// ID is the numeric primary key; zero means the record has not been saved.
type Record struct {
	Class  string         `json:"class"`
	ID     int64          `json:"id"`
	Fields map[string]any `json:"fields,omitempty"`
}

// New returns an unsaved record of the given class.
func New(class string) *Record {
	return &Record{
		Class:  class,
		Fields: map[string]any{},
	}
}

// IsNew reports whether the record still needs an insert.
func (r *Record) IsNew() bool {
	return r.ID == 0
}

// Get returns the value of a field, or nil when it is not set.
func (r *Record) Get(field string) any {
	if r.Fields == nil {
		return nil
	}
	return r.Fields[field]
}

// Set assigns a field value.
func (r *Record) Set(field string, value any) {
	if r.Fields == nil {
		r.Fields = map[string]any{}
	}
	r.Fields[field] = value
}

// FieldNames returns the set field names in sorted order, excluding the
// primary key.
func (r *Record) FieldNames() []string {
	names := make([]string, 0, len(r.Fields))
	for name := range r.Fields {
		if name == PrimaryKey {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Int64 returns a field coerced to int64. The second result is false when the
// field is missing, null, or not an integer.
func (r *Record) Int64(field string) (int64, bool) {
	v, err := ToInt64(r.Get(field))
	if err != nil {
		return 0, false
	}
	return v, true
}

// String implements fmt.Stringer.
func (r *Record) String() string {
	return fmt.Sprintf("%s#%d", r.Class, r.ID)
}

// ToInt64 converts the integer representations returned by database drivers.
func ToInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint8:
		return int64(n), nil
	case float64:
		if n != float64(int64(n)) {
			return 0, fmt.Errorf("non-integral value %v", n)
		}
		return int64(n), nil
	case []byte:
		return strconv.ParseInt(string(n), 10, 64)
	case string:
		return strconv.ParseInt(n, 10, 64)
	case nil:
		return 0, errors.New("nil value")
	default:
		return 0, fmt.Errorf("unsupported integer type %T", v)
	}
}

// Demodulize strips any namespace from a class name: "Legacy::User" -> "User".
func Demodulize(class string) string {
	if i := strings.LastIndex(class, "::"); i >= 0 {
		return class[i+2:]
	}
	return class
}
