package generation

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strconv"
	"strings"
)

// ParseExercise decodes model output into an Artifact. Invalid JSON yields a
// *ParseError carrying the raw text. Leaf fields of the wrong JSON type are
// coerced where the value is unambiguous (5 for a string, "7" for an
// integer) and otherwise dropped with a warning that Validate reports.
// Missing or malformed visual_elements lists decode to nil and are left to
// Validate as hard failures.
func ParseExercise(raw string) (*Artifact, error) {
	var artifact Artifact
	warnings, err := decodeLenient(raw, &artifact)
	if err != nil {
		return nil, err
	}
	artifact.decodeWarnings = warnings
	return &artifact, nil
}

// ParseTutorial decodes model output into a Tutorial with the same coercion
// rules as ParseExercise.
func ParseTutorial(raw string) (*Tutorial, error) {
	var tutorial Tutorial
	warnings, err := decodeLenient(raw, &tutorial)
	if err != nil {
		return nil, err
	}
	tutorial.decodeWarnings = warnings
	return &tutorial, nil
}

func decodeLenient(raw string, v any) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, &ParseError{Raw: raw, Err: errors.New("empty response")}
	}

	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, &ParseError{Raw: raw, Err: err}
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, &ParseError{Raw: raw, Err: errors.New("trailing data after JSON value")}
	}

	root, ok := tree.(map[string]any)
	if !ok {
		return nil, &ContentValidationError{
			Reason:  "response must be an object",
			Details: []string{"response: got JSON " + jsonKind(tree)},
		}
	}

	c := coercer{}
	c.object(root, reflect.TypeOf(v).Elem(), "")

	data, err := json.Marshal(root)
	if err != nil {
		return nil, &ParseError{Raw: raw, Err: err}
	}
	if err := json.Unmarshal(data, v); err != nil {
		return nil, &ParseError{Raw: raw, Err: err}
	}
	return c.warnings, nil
}

// coercer rewrites a decoded JSON tree in place so that it fits a Go type.
type coercer struct {
	warnings []string
}

func (c *coercer) drop(path, want string, got any) {
	c.warnings = append(c.warnings, fmt.Sprintf("%s must be %s, got JSON %s; ignored", path, want, jsonKind(got)))
}

func (c *coercer) object(m map[string]any, t reflect.Type, path string) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			continue
		}
		val, ok := m[name]
		if !ok || val == nil {
			continue
		}
		fixed, keep := c.value(val, f.Type, joinPath(path, name))
		if keep {
			m[name] = fixed
		} else {
			delete(m, name)
		}
	}
}

func (c *coercer) value(v any, t reflect.Type, path string) (any, bool) {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	switch t.Kind() {
	case reflect.Struct:
		m, ok := v.(map[string]any)
		if !ok {
			c.drop(path, "an object", v)
			return nil, false
		}
		c.object(m, t, path)
		return m, true

	case reflect.Slice:
		list, ok := v.([]any)
		if !ok {
			c.drop(path, "a list", v)
			return nil, false
		}
		out := make([]any, 0, len(list))
		for i, item := range list {
			if item == nil {
				continue
			}
			if fixed, keep := c.value(item, t.Elem(), fmt.Sprintf("%s[%d]", path, i)); keep {
				out = append(out, fixed)
			}
		}
		return out, true

	case reflect.String:
		switch x := v.(type) {
		case string:
			return x, true
		case json.Number:
			return x.String(), true
		case bool:
			return strconv.FormatBool(x), true
		default:
			// Lists and objects keep their JSON text.
			data, err := json.Marshal(x)
			if err != nil {
				c.drop(path, "a string", v)
				return nil, false
			}
			return string(data), true
		}

	case reflect.Int, reflect.Int64, reflect.Int32:
		if n, ok := toInt(v); ok {
			return n, true
		}
		c.drop(path, "an integer", v)
		return nil, false

	case reflect.Bool:
		switch x := v.(type) {
		case bool:
			return x, true
		case string:
			if b, err := strconv.ParseBool(strings.TrimSpace(x)); err == nil {
				return b, true
			}
		}
		c.drop(path, "a boolean", v)
		return nil, false
	}
	return v, true
}

// toInt accepts JSON integers, integral floats and strings holding either,
// optionally wrapped as a [n] marker.
func toInt(v any) (int, bool) {
	var text string
	switch x := v.(type) {
	case json.Number:
		text = x.String()
	case string:
		text = strings.TrimSpace(x)
		text = strings.TrimSuffix(strings.TrimPrefix(text, "["), "]")
	default:
		return 0, false
	}
	if n, err := strconv.Atoi(text); err == nil {
		return n, true
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil || f != float64(int(f)) {
		return 0, false
	}
	return int(f), true
}

func joinPath(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}

func jsonKind(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "object"
	case []any:
		return "list"
	case string:
		return strconv.Quote(truncateText(x, 40))
	case json.Number:
		return "number " + x.String()
	case bool:
		return "boolean"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func truncateText(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
