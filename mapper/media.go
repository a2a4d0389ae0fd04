package mapper

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

var errNotMedia = errors.New("expected an http(s) URL, a data URI or a file")

// Media is a file input in one of three forms: a remote URL, a decoded
// data URI, or a raw blob (multipart upload).
type Media struct {
	URL  string
	Data []byte
	MIME string
	Name string

	// dataURI keeps the caller's original data URI so it can be forwarded
	// as-is to vendors that accept them.
	dataURI string
}

// NewBlob wraps raw bytes, sniffing the mime type when none is declared.
func NewBlob(name, declared string, data []byte) *Media {
	return &Media{Name: name, Data: data, MIME: resolveMIME(declared, data)}
}

func (m *Media) IsURL() bool {
	return m != nil && m.URL != ""
}

// DataURI returns the media as a base64 data URI. URLs are returned as-is.
func (m *Media) DataURI() string {
	if m.URL != "" {
		return m.URL
	}
	if m.dataURI != "" {
		return m.dataURI
	}
	return "data:" + m.MIME + ";base64," + base64.StdEncoding.EncodeToString(m.Data)
}

// Extension returns the file extension for the media's mime type, dot included.
func (m *Media) Extension() string {
	if ext := mimetype.Lookup(m.MIME); ext != nil {
		return ext.Extension()
	}
	return ""
}

// FileName falls back to "upload" plus the mime extension.
func (m *Media) FileName() string {
	if m.Name != "" {
		return m.Name
	}
	return "upload" + m.Extension()
}

// MarshalJSON renders the URL, or the data URI when the media is inline.
func (m *Media) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.DataURI())
}

func (m *Media) empty() bool {
	return m == nil || (m.URL == "" && len(m.Data) == 0)
}

// ParseDataURI decodes a data: URI. Both base64 and percent-encoded
// payloads are supported.
func ParseDataURI(raw string) (*Media, error) {
	rest, ok := strings.CutPrefix(raw, "data:")
	if !ok {
		return nil, fmt.Errorf("not a data URI")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, fmt.Errorf("data URI has no payload")
	}

	declared := ""
	isBase64 := false
	for i, part := range strings.Split(meta, ";") {
		part = strings.TrimSpace(part)
		switch {
		case i == 0:
			declared = strings.ToLower(part)
		case part == "base64":
			isBase64 = true
		}
	}

	var data []byte
	var err error
	if isBase64 {
		data, err = base64.StdEncoding.DecodeString(payload)
		if err != nil {
			data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
		}
	} else {
		var s string
		s, err = url.PathUnescape(payload)
		data = []byte(s)
	}
	if err != nil {
		return nil, fmt.Errorf("decode data URI: %w", err)
	}

	return &Media{Data: data, MIME: resolveMIME(declared, data), dataURI: raw}, nil
}

// resolveMIME prefers a specific sniffed type over the declared one, since
// declared types come from callers and are often generic.
func resolveMIME(declared string, data []byte) string {
	if len(data) > 0 {
		sniffed := mimetype.Detect(data)
		if !sniffed.Is("application/octet-stream") && !sniffed.Is("text/plain") {
			return baseMIME(sniffed.String())
		}
	}
	if declared = baseMIME(declared); declared != "" {
		return declared
	}
	return "application/octet-stream"
}

func baseMIME(m string) string {
	m, _, _ = strings.Cut(m, ";")
	return strings.ToLower(strings.TrimSpace(m))
}

func isHTTPURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
