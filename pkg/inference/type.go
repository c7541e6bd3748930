package inference

// SettingFieldType enumerates the primitive types a Backend Type's settings
// schema may declare.
type SettingFieldType string

const (
	FieldText    SettingFieldType = "text"
	FieldInteger SettingFieldType = "integer"
	FieldDecimal SettingFieldType = "decimal"
	FieldBool    SettingFieldType = "bool"
)

// SettingField describes one entry in a Backend Type's settings schema.
type SettingField struct {
	Name     string
	Type     SettingFieldType
	Required bool
	Default  any
}

// Type is the immutable descriptor for one kind of backend. It is shared by
// every Record that references it and never mutated after registration.
type Type struct {
	// ID is a stable identifier, persisted in the registry file.
	ID string
	// DisplayName is shown to admins and in logs.
	DisplayName string
	// SettingsSchema enumerates the configuration fields this backend type
	// accepts.
	SettingsSchema []SettingField
	// FastLoad is true when initialization is cheap enough to run inline on
	// the calling goroutine rather than through the init queue.
	FastLoad bool
	// NewDriver constructs a fresh Driver instance for one Record, given its
	// raw settings blob.
	NewDriver func(settingsRaw string) (Driver, error)
}

// ValidateSettings checks settingsRaw's decoded fields (as a generic map)
// against the schema's required fields. It does not interpret per-field
// semantics beyond presence; a driver's NewDriver is responsible for any
// deeper validation (range checks, path existence, etc.).
func (t *Type) ValidateSettings(fields map[string]any) error {
	for _, f := range t.SettingsSchema {
		if f.Required {
			if _, ok := fields[f.Name]; !ok {
				return &MissingSettingError{Type: t.ID, Field: f.Name}
			}
		}
	}
	return nil
}

// MissingSettingError reports a required settings field absent from a
// backend configuration.
type MissingSettingError struct {
	Type  string
	Field string
}

func (e *MissingSettingError) Error() string {
	return "backend type " + e.Type + ": missing required setting " + e.Field
}
