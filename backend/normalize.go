package backend

import (
	"bytes"
	"fmt"

	"github.com/mostlygeek/genstudio/schema"
	"github.com/tidwall/gjson"
)

// Normalize maps raw vendor output onto the declared output fields:
//
//   - array output: array fields take the whole array, scalar fields take
//     the element at their position among scalar fields
//   - object output: output[key], else positional indexing into a wrapped
//     "data" array, else the whole object
//   - scalar output: first field only
//   - null output: empty mapping
//
// Shapes outside these rules return schema.ErrUnsupportedOutputShape.
func Normalize(outputs []schema.FieldDescriptor, raw []byte) (map[string]any, error) {
	result := make(map[string]any, len(outputs))

	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || len(outputs) == 0 {
		return result, nil
	}
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("%w: output is not valid JSON", schema.ErrUnsupportedOutputShape)
	}

	out := gjson.ParseBytes(raw)
	switch {
	case out.Type == gjson.Null:
		return result, nil
	case out.IsArray():
		return normalizeArray(outputs, out.Array(), result)
	case out.IsObject():
		return normalizeObject(outputs, out, result)
	default:
		result[outputs[0].Key] = out.Value()
		return result, nil
	}
}

func normalizeArray(outputs []schema.FieldDescriptor, items []gjson.Result, result map[string]any) (map[string]any, error) {
	scalar := 0
	for _, field := range outputs {
		if field.IsArray() {
			all := make([]any, len(items))
			for i, item := range items {
				all[i] = item.Value()
			}
			result[field.Key] = all
			continue
		}
		if scalar >= len(items) {
			return nil, fmt.Errorf("%w: no element %d for output %q (got %d)",
				schema.ErrUnsupportedOutputShape, scalar, field.Key, len(items))
		}
		result[field.Key] = items[scalar].Value()
		scalar++
	}
	return result, nil
}

func normalizeObject(outputs []schema.FieldDescriptor, out gjson.Result, result map[string]any) (map[string]any, error) {
	obj := out.Map()
	data, wrapped := obj["data"]
	wrapped = wrapped && data.IsArray()

	var positional map[string]any
	for _, field := range outputs {
		if v, ok := obj[field.Key]; ok {
			result[field.Key] = v.Value()
			continue
		}
		if !wrapped {
			result[field.Key] = out.Value()
			continue
		}
		if positional == nil {
			var err error
			positional, err = normalizeArray(outputs, data.Array(), make(map[string]any, len(outputs)))
			if err != nil {
				return nil, err
			}
		}
		result[field.Key] = positional[field.Key]
	}
	return result, nil
}
