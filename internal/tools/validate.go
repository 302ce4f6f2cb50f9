package tools

import (
	"fmt"
	"strings"
)

// validateArgs checks arguments against the subset of JSON Schema tools
// declare: required fields, top-level property types, and enum values.
// Full schema validation is deliberately out of scope; models produce flat
// argument objects and deeper nesting is passed through untouched.
func validateArgs(schema map[string]any, args map[string]any) error {
	if schema == nil {
		return nil
	}
	props, _ := schema["properties"].(map[string]any)

	if required, ok := schema["required"].([]any); ok {
		var missing []string
		for _, r := range required {
			name, _ := r.(string)
			if _, present := args[name]; !present {
				missing = append(missing, name)
			}
		}
		if len(missing) > 0 {
			return fmt.Errorf("missing required: %s", strings.Join(missing, ", "))
		}
	}

	for name, value := range args {
		spec, ok := props[name].(map[string]any)
		if !ok {
			continue
		}
		if err := checkType(name, spec, value); err != nil {
			return err
		}
	}
	return nil
}

func checkType(name string, spec map[string]any, value any) error {
	typ, _ := spec["type"].(string)
	switch typ {
	case "string":
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("%s must be a string", name)
		}
		if enum, ok := spec["enum"].([]any); ok {
			for _, e := range enum {
				if e == s {
					return nil
				}
			}
			return fmt.Errorf("%s must be one of %v", name, enum)
		}
	case "number", "integer":
		switch value.(type) {
		case float64, int, int64:
		default:
			return fmt.Errorf("%s must be a number", name)
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("%s must be a boolean", name)
		}
	case "array":
		if _, ok := value.([]any); !ok {
			return fmt.Errorf("%s must be an array", name)
		}
	case "object":
		if _, ok := value.(map[string]any); !ok {
			return fmt.Errorf("%s must be an object", name)
		}
	}
	return nil
}

// strArg reads a string argument with a default.
func strArg(args map[string]any, name, def string) string {
	if v, ok := args[name].(string); ok && v != "" {
		return v
	}
	return def
}

// intArg reads a numeric argument with a default.
func intArg(args map[string]any, name string, def int) int {
	switch v := args[name].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}

// floatArg reads a float argument with a default.
func floatArg(args map[string]any, name string, def float64) float64 {
	switch v := args[name].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return def
}

// boolArg reads a boolean argument with a default.
func boolArg(args map[string]any, name string, def bool) bool {
	if v, ok := args[name].(bool); ok {
		return v
	}
	return def
}

// obj is shorthand for building JSON Schema fragments.
func obj(kv ...any) map[string]any {
	m := make(map[string]any, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		m[kv[i].(string)] = kv[i+1]
	}
	return m
}

// schema builds a standard object schema from properties and required names.
func schema(props map[string]any, required ...string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		req := make([]any, len(required))
		for i, r := range required {
			req[i] = r
		}
		s["required"] = req
	}
	return s
}
