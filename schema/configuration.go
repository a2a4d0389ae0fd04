// Package schema holds the Configuration and FieldDescriptor documents that
// describe a callable inference backend, plus the shared error taxonomy.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Kind is the closed set of backend variants a Configuration can target.
type Kind string

const (
	KindReplicate Kind = "replicate"
	KindGradio    Kind = "gradio"
	KindFal       Kind = "fal"
)

func (k Kind) Valid() bool {
	switch k {
	case KindReplicate, KindGradio, KindFal:
		return true
	}
	return false
}

// Configuration describes one callable backend and its input/output fields.
type Configuration struct {
	Name        string `json:"name" yaml:"name"`
	Type        Kind   `json:"type" yaml:"type"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// replicate
	Model   string `json:"model,omitempty" yaml:"model,omitempty"`
	Version string `json:"version,omitempty" yaml:"version,omitempty"`

	// gradio
	Client   string `json:"client,omitempty" yaml:"client,omitempty"`
	Path     string `json:"path,omitempty" yaml:"path,omitempty"`
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`

	// fal
	EndpointID string `json:"endpoint_id,omitempty" yaml:"endpoint_id,omitempty"`

	// PositionalImages enables the legacy mode where the Nth image field
	// consumes the Nth element of the "image" parameter.
	PositionalImages bool `json:"positional_images,omitempty" yaml:"positional_images,omitempty"`

	Inputs  []FieldDescriptor `json:"inputs" yaml:"inputs"`
	Outputs []FieldDescriptor `json:"outputs" yaml:"outputs"`
}

var (
	ownerNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*/[A-Za-z0-9][A-Za-z0-9._-]*$`)
	versionPattern   = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)
)

// Validate checks the structural invariants of the configuration and the
// connection fields its backend needs before dispatch.
func (c Configuration) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return validationErrorf("name", "name is required")
	}
	if !c.Type.Valid() {
		return validationErrorf("type", "unknown backend type %q", c.Type)
	}

	switch c.Type {
	case KindReplicate:
		if c.Model == "" {
			return validationErrorf("model", "model is required for replicate")
		}
		if !ownerNamePattern.MatchString(c.Model) {
			return validationErrorf("model", "model %q must have the form owner/name", c.Model)
		}
		if c.Version == "" {
			return validationErrorf("version", "version is required for replicate")
		}
		if _, err := ParseReplicateVersion(c.Version); err != nil {
			return err
		}
	case KindGradio:
		if c.Client == "" {
			return validationErrorf("client", "client is required for gradio")
		}
		if c.Endpoint == "" && c.Path == "" {
			return validationErrorf("endpoint", "endpoint or path is required for gradio")
		}
	case KindFal:
		if c.EndpointID == "" {
			return validationErrorf("endpoint_id", "endpoint_id is required for fal")
		}
	}

	if err := validateFields("inputs", c.Inputs); err != nil {
		return err
	}
	return validateFields("outputs", c.Outputs)
}

// ParseReplicateVersion accepts a bare version id or an owner/name:version
// reference and returns the version id.
func ParseReplicateVersion(version string) (string, error) {
	ref := version
	if idx := strings.LastIndex(version, ":"); idx >= 0 {
		if !ownerNamePattern.MatchString(version[:idx]) {
			return "", validationErrorf("version", "version %q must have the form owner/name:version", version)
		}
		ref = version[idx+1:]
	}
	if !versionPattern.MatchString(ref) {
		return "", validationErrorf("version", "malformed version %q", version)
	}
	return ref, nil
}

// GradioRoute returns the API route called on the Space, preferring the
// named endpoint over the raw path.
func (c Configuration) GradioRoute() string {
	route := c.Endpoint
	if route == "" {
		route = c.Path
	}
	return "/" + strings.TrimLeft(route, "/")
}

// Input returns the input field with the given key.
func (c Configuration) Input(key string) (FieldDescriptor, bool) {
	for _, field := range c.Inputs {
		if field.Key == key {
			return field, true
		}
	}
	return FieldDescriptor{}, false
}

// Clone returns a deep enough copy for field lists to be modified safely.
func (c Configuration) Clone() Configuration {
	clone := c
	clone.Inputs = cloneFields(c.Inputs)
	clone.Outputs = cloneFields(c.Outputs)
	return clone
}

func cloneFields(fields []FieldDescriptor) []FieldDescriptor {
	if fields == nil {
		return nil
	}
	out := make([]FieldDescriptor, len(fields))
	for i, field := range fields {
		out[i] = field
		if field.Options != nil {
			out[i].Options = append([]string(nil), field.Options...)
		}
	}
	return out
}

// MarshalDocument renders the persisted document form.
func (c Configuration) MarshalDocument() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(c); err != nil {
		return nil, fmt.Errorf("encode configuration %s: %w", c.Name, err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// UnmarshalDocument parses the persisted document form.
func UnmarshalDocument(data []byte) (Configuration, error) {
	var c Configuration
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&c); err != nil {
		return Configuration{}, fmt.Errorf("decode configuration: %w", err)
	}
	return c, nil
}
