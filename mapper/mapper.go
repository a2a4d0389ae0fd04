// Package mapper turns caller parameters into a vendor input according to
// a Configuration's declared input fields.
package mapper

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/mostlygeek/genstudio/schema"
)

// positionalImageKey is the caller parameter consumed by configurations
// using positional image indexing.
const positionalImageKey = "image"

// BuildInput maps params onto cfg.Inputs in declaration order. Missing
// required values fail with a *schema.ValidationError naming the field
// before any vendor work happens.
func BuildInput(cfg schema.Configuration, params map[string]any) (Payload, error) {
	if params == nil {
		params = map[string]any{}
	}

	payload := make(Payload, 0, len(cfg.Inputs))
	imageIndex := 0

	for _, field := range cfg.Inputs {
		if !field.Show {
			payload = append(payload, Entry{Key: field.Key, Value: field.Value})
			continue
		}

		var raw any
		if cfg.PositionalImages && field.Component == schema.ComponentImage {
			var found bool
			raw, found = positionalImage(params, imageIndex)
			imageIndex++
			if !found && field.Required {
				return nil, schema.NewValidationError(field.Key,
					"expected at least %d images, got %d", imageIndex, countImages(params))
			}
		} else {
			raw = lookup(params, field)
		}

		value, err := convert(field, raw)
		if err != nil {
			return nil, err
		}

		if isEmpty(value) {
			if field.Required {
				return nil, schema.NewValidationError(field.Key, "value is required")
			}
			if field.Value != nil {
				payload = append(payload, Entry{Key: field.Key, Value: field.Value})
			}
			continue
		}
		payload = append(payload, Entry{Key: field.Key, Value: value})
	}

	return payload, nil
}

// lookup finds a value by key, falling back to the component name.
func lookup(params map[string]any, field schema.FieldDescriptor) any {
	if v, ok := params[field.Key]; ok {
		return v
	}
	return params[string(field.Component)]
}

func positionalImage(params map[string]any, index int) (any, bool) {
	switch v := params[positionalImageKey].(type) {
	case nil:
		return nil, false
	case []any:
		if index < len(v) {
			return v[index], true
		}
	case []string:
		if index < len(v) {
			return v[index], true
		}
	case []*Media:
		if index < len(v) {
			return v[index], true
		}
	default:
		if index == 0 {
			return v, true
		}
	}
	return nil, false
}

func countImages(params map[string]any) int {
	switch v := params[positionalImageKey].(type) {
	case nil:
		return 0
	case []any:
		return len(v)
	case []string:
		return len(v)
	case []*Media:
		return len(v)
	default:
		return 1
	}
}

func convert(field schema.FieldDescriptor, raw any) (any, error) {
	if raw == nil {
		return nil, nil
	}

	switch field.Component {
	case schema.ComponentImage, schema.ComponentVideo, schema.ComponentAudio:
		return toMedia(field, raw)
	case schema.ComponentPrompt, schema.ComponentTextbox, schema.ComponentDropdown:
		return toString(field, raw)
	case schema.ComponentNumber, schema.ComponentSlider:
		return toNumber(field, raw)
	case schema.ComponentCheckbox:
		return toBool(field, raw)
	case schema.ComponentCheckboxGroup:
		return toStrings(field, raw)
	}
	return raw, nil
}

func toMedia(field schema.FieldDescriptor, raw any) (*Media, error) {
	var m *Media
	switch v := raw.(type) {
	case *Media:
		m = v
	case Media:
		m = &v
	case []byte:
		if len(v) == 0 {
			return nil, nil
		}
		m = NewBlob("", "", v)
	case string:
		v = strings.TrimSpace(v)
		switch {
		case v == "":
			return nil, nil
		case strings.HasPrefix(v, "data:"):
			parsed, err := ParseDataURI(v)
			if err != nil {
				return nil, schema.NewValidationError(field.Key, "%v", err)
			}
			m = parsed
		case isHTTPURL(v):
			return &Media{URL: v}, nil
		default:
			return nil, schema.NewValidationError(field.Key, "%v", errNotMedia)
		}
	default:
		return nil, schema.NewValidationError(field.Key, "%v", errNotMedia)
	}

	if m.empty() {
		return nil, nil
	}
	if m.URL == "" {
		family := string(field.Component) + "/"
		if !strings.HasPrefix(m.MIME, family) {
			return nil, schema.NewValidationError(field.Key, "expected %s* content, got %s", family, m.MIME)
		}
	}
	return m, nil
}

func toString(field schema.FieldDescriptor, raw any) (string, error) {
	switch v := raw.(type) {
	case string:
		return v, nil
	case json.Number:
		return v.String(), nil
	case bool:
		return strconv.FormatBool(v), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32), nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprint(v), nil
	}
	return "", schema.NewValidationError(field.Key, "expected a string, got %T", raw)
}

func toNumber(field schema.FieldDescriptor, raw any) (any, error) {
	var f float64
	switch v := raw.(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		return integerOrFloat(field, int64(v))
	case int8:
		return integerOrFloat(field, int64(v))
	case int16:
		return integerOrFloat(field, int64(v))
	case int32:
		return integerOrFloat(field, int64(v))
	case int64:
		return integerOrFloat(field, v)
	case uint:
		return unsignedOrFloat(field, uint64(v))
	case uint8:
		return integerOrFloat(field, int64(v))
	case uint16:
		return integerOrFloat(field, int64(v))
	case uint32:
		return integerOrFloat(field, int64(v))
	case uint64:
		return unsignedOrFloat(field, v)
	case json.Number:
		if field.Type == schema.TypeInteger {
			if i, err := v.Int64(); err == nil {
				return i, nil
			}
		}
		parsed, err := v.Float64()
		if err != nil {
			return nil, schema.NewValidationError(field.Key, "expected a number, got %q", v.String())
		}
		f = parsed
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return nil, nil
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, schema.NewValidationError(field.Key, "expected a number, got %q", v)
		}
		f = parsed
	default:
		return nil, schema.NewValidationError(field.Key, "expected a number, got %T", raw)
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, schema.NewValidationError(field.Key, "expected a finite number")
	}
	if field.Type == schema.TypeInteger {
		// float64(math.MaxInt64) rounds up to 2^63, which is out of range.
		if f < math.MinInt64 || f >= math.MaxInt64 {
			return nil, schema.NewValidationError(field.Key, "%v is out of range for an integer", f)
		}
		return int64(f), nil
	}
	return f, nil
}

func integerOrFloat(field schema.FieldDescriptor, i int64) (any, error) {
	if field.Type == schema.TypeInteger {
		return i, nil
	}
	return float64(i), nil
}

func unsignedOrFloat(field schema.FieldDescriptor, u uint64) (any, error) {
	if u > math.MaxInt64 {
		if field.Type == schema.TypeInteger {
			return nil, schema.NewValidationError(field.Key, "%d is out of range for an integer", u)
		}
		return float64(u), nil
	}
	return integerOrFloat(field, int64(u))
}

func toBool(field schema.FieldDescriptor, raw any) (bool, error) {
	switch v := raw.(type) {
	case bool:
		return v, nil
	case string:
		return Truthy(v), nil
	case json.Number:
		f, err := v.Float64()
		return err == nil && f != 0, nil
	case float64:
		return v != 0, nil
	case int:
		return v != 0, nil
	case int64:
		return v != 0, nil
	}
	return false, schema.NewValidationError(field.Key, "expected a boolean, got %T", raw)
}

func toStrings(field schema.FieldDescriptor, raw any) ([]string, error) {
	switch v := raw.(type) {
	case []string:
		return v, nil
	case string:
		if v == "" {
			return nil, nil
		}
		return []string{v}, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, err := toString(field, item)
			if err != nil {
				return nil, err
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, schema.NewValidationError(field.Key, "expected a list of strings, got %T", raw)
}

// Truthy reports whether s spells a true value: 1, true, yes or on.
func Truthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []string:
		return len(t) == 0
	case []any:
		return len(t) == 0
	case *Media:
		return t.empty()
	}
	return false
}
