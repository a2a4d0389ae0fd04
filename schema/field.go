package schema

// Component is the semantic UI/extraction kind of a field.
type Component string

const (
	ComponentImage         Component = "image"
	ComponentVideo         Component = "video"
	ComponentAudio         Component = "audio"
	ComponentPrompt        Component = "prompt"
	ComponentTextbox       Component = "textbox"
	ComponentNumber        Component = "number"
	ComponentSlider        Component = "slider"
	ComponentCheckbox      Component = "checkbox"
	ComponentCheckboxGroup Component = "checkboxgroup"
	ComponentDropdown      Component = "dropdown"
)

func (c Component) Valid() bool {
	switch c {
	case ComponentImage, ComponentVideo, ComponentAudio,
		ComponentPrompt, ComponentTextbox,
		ComponentNumber, ComponentSlider,
		ComponentCheckbox, ComponentCheckboxGroup, ComponentDropdown:
		return true
	}
	return false
}

// IsMedia reports whether values of this component are files.
func (c Component) IsMedia() bool {
	return c == ComponentImage || c == ComponentVideo || c == ComponentAudio
}

// ValueType is the primitive kind of a field value.
type ValueType string

const (
	TypeString  ValueType = "string"
	TypeInteger ValueType = "integer"
	TypeNumber  ValueType = "number"
	TypeBoolean ValueType = "boolean"
	TypeArray   ValueType = "array"
)

func (t ValueType) Valid() bool {
	switch t {
	case TypeString, TypeInteger, TypeNumber, TypeBoolean, TypeArray:
		return true
	}
	return false
}

// FieldDescriptor describes one input or output value.
type FieldDescriptor struct {
	Key         string    `json:"key" yaml:"key"`
	Label       string    `json:"label,omitempty" yaml:"label,omitempty"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Component   Component `json:"component,omitempty" yaml:"component,omitempty"`
	Type        ValueType `json:"type,omitempty" yaml:"type,omitempty"`
	Value       any       `json:"value,omitempty" yaml:"value,omitempty"`
	Show        bool      `json:"show" yaml:"show"`
	Required    bool      `json:"required,omitempty" yaml:"required,omitempty"`

	Min     *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max     *float64 `json:"max,omitempty" yaml:"max,omitempty"`
	Step    *float64 `json:"step,omitempty" yaml:"step,omitempty"`
	Options []string `json:"options,omitempty" yaml:"options,omitempty"`

	// output only
	Format     string `json:"format,omitempty" yaml:"format,omitempty"`
	TypeItem   string `json:"typeItem,omitempty" yaml:"typeItem,omitempty"`
	FormatItem string `json:"formatItem,omitempty" yaml:"formatItem,omitempty"`
}

// IsArray reports whether the field holds a list of values.
func (f FieldDescriptor) IsArray() bool {
	return f.Type == TypeArray
}

// DisplayLabel falls back to the key when no label is set.
func (f FieldDescriptor) DisplayLabel() string {
	if f.Label != "" {
		return f.Label
	}
	return f.Key
}

func validateFields(list string, fields []FieldDescriptor) error {
	seen := make(map[string]struct{}, len(fields))
	for i, field := range fields {
		if field.Key == "" {
			return validationErrorf(list, "field %d has no key", i)
		}
		if _, dup := seen[field.Key]; dup {
			return validationErrorf(list, "duplicate key %q", field.Key)
		}
		seen[field.Key] = struct{}{}

		if field.Component != "" && !field.Component.Valid() {
			return validationErrorf(field.Key, "unknown component %q", field.Component)
		}
		if field.Type != "" && !field.Type.Valid() {
			return validationErrorf(field.Key, "unknown type %q", field.Type)
		}
		if list == "inputs" && field.Show && field.Component == "" {
			return validationErrorf(field.Key, "visible input needs a component")
		}
	}
	return nil
}
