package store

import (
	"maps"
	"reflect"
	"strconv"
	"strings"

	"gridstore/pkg/domain"
)

// Meta is the network-level record. Exported primitive fields are persisted
// as scalar attributes named by their attr tag; nested values are skipped.
// Extra carries scalars with no dedicated field.
type Meta struct {
	Name      string  `attr:"name"`
	SRID      float64 `attr:"srid"`
	Objective float64 `attr:"objective"`
	Comment   string  `attr:"comment"`

	Extra map[string]domain.Value

	// FormatVersion is the version marker read on the last import.
	FormatVersion string `attr:"-"`
}

var metaType = reflect.TypeFor[Meta]()

// Attributes flattens the record into scalar name/value pairs.
func (m Meta) Attributes() map[string]domain.Value {
	out := make(map[string]domain.Value, metaType.NumField()+len(m.Extra))
	maps.Copy(out, m.Extra)
	rv := reflect.ValueOf(m)
	for i := range metaType.NumField() {
		field := metaType.Field(i)
		name, ok := attrName(field)
		if !ok {
			continue
		}
		fv := rv.Field(i)
		switch fv.Kind() {
		case reflect.String:
			out[name] = domain.String(fv.String())
		case reflect.Float32, reflect.Float64:
			out[name] = domain.Float(fv.Float())
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			out[name] = domain.Float(float64(fv.Int()))
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			out[name] = domain.Float(float64(fv.Uint()))
		case reflect.Bool:
			out[name] = domain.Bool(fv.Bool())
		}
	}
	return out
}

// SetAttributes assigns scalars to their fields; unknown names land in
// Extra. The "version" key is recorded in FormatVersion.
func (m *Meta) SetAttributes(attrs map[string]domain.Value) {
	rv := reflect.ValueOf(m).Elem()
	fields := make(map[string]int, metaType.NumField())
	for i := range metaType.NumField() {
		if name, ok := attrName(metaType.Field(i)); ok {
			fields[name] = i
		}
	}
	for name, v := range attrs {
		if name == "version" {
			m.FormatVersion = v.String()
			continue
		}
		i, ok := fields[name]
		if !ok || !assign(rv.Field(i), v) {
			if m.Extra == nil {
				m.Extra = make(map[string]domain.Value)
			}
			m.Extra[name] = v
		}
	}
}

func attrName(f reflect.StructField) (string, bool) {
	if !f.IsExported() {
		return "", false
	}
	tag := f.Tag.Get("attr")
	if tag == "-" {
		return "", false
	}
	switch f.Type.Kind() {
	case reflect.Struct, reflect.Map, reflect.Slice, reflect.Array, reflect.Pointer, reflect.Interface, reflect.Func, reflect.Chan:
		return "", false
	}
	if tag == "" {
		tag = strings.ToLower(f.Name)
	}
	return tag, true
}

func assign(fv reflect.Value, v domain.Value) bool {
	switch fv.Kind() {
	case reflect.String:
		fv.SetString(v.String())
		return true
	case reflect.Float32, reflect.Float64:
		f, ok := numeric(v)
		if ok {
			fv.SetFloat(f)
		}
		return ok
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		f, ok := numeric(v)
		if ok {
			fv.SetInt(int64(f))
		}
		return ok
	case reflect.Bool:
		if b, ok := v.AsBool(); ok {
			fv.SetBool(b)
			return true
		}
		b, err := strconv.ParseBool(v.String())
		if err == nil {
			fv.SetBool(b)
		}
		return err == nil
	}
	return false
}

// numeric accepts floats and text backends' decimal strings.
func numeric(v domain.Value) (float64, bool) {
	if f, ok := v.AsFloat(); ok {
		return f, true
	}
	s, ok := v.AsString()
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f, err == nil
}
