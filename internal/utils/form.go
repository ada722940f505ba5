package utils

import (
	"fmt"
	"net/url"
	"reflect"
	"strings"
)

// decodeValues copies url.Values into string fields of a struct pointer,
// matched by the `form` tag (falling back to the lowercased field name).
// Only string fields are supported; form payloads here carry nothing else.
func decodeValues(values url.Values, body any) error {
	v := reflect.ValueOf(body)
	if v.Kind() != reflect.Ptr || v.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("decode target must be a struct pointer, got %T", body)
	}
	elem := v.Elem()
	t := elem.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.Type.Kind() != reflect.String || !elem.Field(i).CanSet() {
			continue
		}
		name := field.Tag.Get("form")
		if name == "-" {
			continue
		}
		if name == "" {
			name = strings.ToLower(field.Name)
		}
		if vals, ok := values[name]; ok && len(vals) > 0 {
			elem.Field(i).SetString(vals[0])
		}
	}
	return nil
}
