// Package attrs converts typed session and user attributes to and from
// the loosely typed field maps that databases return.
//
// Field names are taken from json struct tags, so the same attribute
// types work for every storage backend.
package attrs

import (
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/jjeffery/errors"
)

const tagName = "json"

var timeType = reflect.TypeOf(time.Time{})

// Decode converts the fields in m into a value of type T. Fields in m that
// have no matching field in T are ignored. Additional decode hooks can be
// supplied for database-specific value types.
func Decode[T any](m map[string]any, hooks ...mapstructure.DecodeHookFunc) (T, error) {
	var v T
	if len(m) == 0 && isMap(reflect.TypeOf(v)) {
		// a non-nil empty map is friendlier to callers than a nil one
		reflect.ValueOf(&v).Elem().Set(reflect.MakeMap(reflect.TypeOf(v)))
		return v, nil
	}
	cfg := &mapstructure.DecoderConfig{
		TagName: tagName,
		Result:  &v,
	}
	if len(hooks) > 0 {
		cfg.DecodeHook = mapstructure.ComposeDecodeHookFunc(hooks...)
	}
	dec, err := mapstructure.NewDecoder(cfg)
	if err != nil {
		return v, errors.Wrap(err, "cannot create attribute decoder")
	}
	if err := dec.Decode(m); err != nil {
		return v, errors.Wrap(err, "cannot decode attributes")
	}
	return v, nil
}

// Encode converts v into a map of field name to value. A nil v
// results in an empty map.
func Encode[T any](v T) (map[string]any, error) {
	m := make(map[string]any)
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || (canBeNil(rv.Kind()) && rv.IsNil()) {
		return m, nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: tagName,
		Result:  &m,
	})
	if err != nil {
		return nil, errors.Wrap(err, "cannot create attribute encoder")
	}
	if err := dec.Decode(v); err != nil {
		return nil, errors.Wrap(err, "cannot encode attributes")
	}
	keepTimes(rv, m)
	return m, nil
}

// keepTimes replaces the time fields of struct rv in m with their values,
// because mapstructure converts them to empty maps.
func keepTimes(rv reflect.Value, m map[string]any) {
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return
	}
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		if !field.IsExported() || (field.Type != timeType && field.Type != reflect.PointerTo(timeType)) {
			continue
		}
		name, _, _ := strings.Cut(field.Tag.Get(tagName), ",")
		if name == "-" {
			continue
		}
		if name == "" {
			name = field.Name
		}
		if _, ok := m[name]; !ok {
			// omitted
			continue
		}
		fv := rv.Field(i)
		if fv.Kind() == reflect.Pointer {
			if fv.IsNil() {
				m[name] = nil
				continue
			}
			fv = fv.Elem()
		}
		m[name] = fv.Interface()
	}
}

// Clone returns a copy of v made by encoding and decoding it.
func Clone[T any](v T) (T, error) {
	m, err := Encode(v)
	if err != nil {
		var zero T
		return zero, err
	}
	return Decode[T](m)
}

// TimeHook returns a decode hook that converts values of the source type into
// time.Time using conv. It is used for database datetime wrappers.
func TimeHook[From any](conv func(From) time.Time) mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != timeType {
			return data, nil
		}
		switch v := data.(type) {
		case From:
			return conv(v), nil
		case *From:
			if v == nil {
				return time.Time{}, nil
			}
			return conv(*v), nil
		}
		return data, nil
	}
}

func isMap(t reflect.Type) bool {
	return t != nil && t.Kind() == reflect.Map
}

func canBeNil(k reflect.Kind) bool {
	switch k {
	case reflect.Map, reflect.Pointer, reflect.Interface, reflect.Slice:
		return true
	}
	return false
}
