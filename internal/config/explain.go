package config

import (
	"fmt"
	"reflect"
	"strings"
)

// Explain returns the effective value at a dotted YAML path such as
// "socket_timeout" or "sensor.interval", and where it was set. Keys no file
// mentions report the defaults.
func Explain(res *LoadResult, path string) (any, Source, error) {
	if res == nil || res.Config == nil {
		return nil, Source{}, fmt.Errorf("no config loaded")
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, Source{}, fmt.Errorf("path is empty")
	}

	value, err := lookupValue(res.Config, path)
	if err != nil {
		return nil, Source{}, err
	}
	if src, ok := res.Sources[path]; ok {
		return value, src, nil
	}
	return value, Source{Kind: SourceDefault, Name: "defaults"}, nil
}

// lookupValue walks cfg by yaml tag, one struct level per path segment.
func lookupValue(cfg *Config, path string) (any, error) {
	v := reflect.ValueOf(cfg).Elem()
	for _, key := range strings.Split(path, ".") {
		if v.Kind() != reflect.Struct {
			return nil, fmt.Errorf("unknown path: %s", path)
		}
		field, ok := fieldByYAMLName(v, key)
		if !ok {
			return nil, fmt.Errorf("unknown path: %s", path)
		}
		v = field
	}
	return v.Interface(), nil
}

func fieldByYAMLName(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		tag, _, _ := strings.Cut(t.Field(i).Tag.Get("yaml"), ",")
		if tag == name && tag != "-" {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}
