package mapper

import (
	"bytes"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Entry is one key of a vendor input.
type Entry struct {
	Key   string
	Value any
}

// Payload is a vendor input in field declaration order.
type Payload []Entry

func (p Payload) Get(key string) (any, bool) {
	for _, e := range p {
		if e.Key == key {
			return e.Value, true
		}
	}
	return nil, false
}

func (p Payload) Keys() []string {
	keys := make([]string, len(p))
	for i, e := range p {
		keys[i] = e.Key
	}
	return keys
}

func (p Payload) Map() map[string]any {
	m := make(map[string]any, len(p))
	for _, e := range p {
		m[e.Key] = e.Value
	}
	return m
}

// Media returns the media values in order.
func (p Payload) Media() []*Media {
	var out []*Media
	for _, e := range p {
		if m, ok := e.Value.(*Media); ok {
			out = append(out, m)
		}
	}
	return out
}

// MediaFunc converts a media value into what the vendor expects in its
// JSON body.
type MediaFunc func(*Media) (any, error)

// Encode renders the payload as a JSON object, keys in order. Media values
// go through convert; a nil convert uses the media's JSON form.
func (p Payload) Encode(convert MediaFunc) ([]byte, error) {
	doc := []byte("{}")
	for _, e := range p {
		value := e.Value
		if m, ok := value.(*Media); ok && convert != nil {
			converted, err := convert(m)
			if err != nil {
				return nil, err
			}
			value = converted
		}
		var err error
		doc, err = sjson.SetBytes(doc, gjson.Escape(e.Key), value)
		if err != nil {
			return nil, err
		}
	}
	return doc, nil
}

func (p Payload) MarshalJSON() ([]byte, error) {
	doc, err := p.Encode(nil)
	if err != nil {
		return nil, err
	}
	return bytes.TrimSpace(doc), nil
}
