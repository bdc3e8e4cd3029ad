package index

import (
	"fmt"

	apperrors "github.com/forsc/docsearch/pkg/errors"
)

// Field names of the document schema.
const (
	FieldTitle    = "title"
	FieldPath     = "path"
	FieldContent  = "content"
	FieldTextData = "textdata"
)

// FieldType selects how a field value is turned into terms.
type FieldType string

const (
	// FieldText values are tokenized.
	FieldText FieldType = "text"
	// FieldID values are indexed verbatim as a single term.
	FieldID FieldType = "id"
)

// FieldDefinition describes one field of the schema.
type FieldDefinition struct {
	Name    string    `json:"name"`
	Type    FieldType `json:"type"`
	Stored  bool      `json:"stored"`
	Indexed bool      `json:"indexed"`
}

// Schema is the ordered list of fields an index was built with.
type Schema struct {
	Fields []FieldDefinition `json:"fields"`
}

// DefaultSchema returns the document schema: a stored title, a stored path
// identifier, indexed-only content and an indexed, stored copy of the text.
func DefaultSchema() Schema {
	return Schema{Fields: []FieldDefinition{
		{Name: FieldTitle, Type: FieldText, Stored: true, Indexed: true},
		{Name: FieldPath, Type: FieldID, Stored: true, Indexed: true},
		{Name: FieldContent, Type: FieldText, Stored: false, Indexed: true},
		{Name: FieldTextData, Type: FieldText, Stored: true, Indexed: true},
	}}
}

// Field looks up a field definition by name.
func (s Schema) Field(name string) (FieldDefinition, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldDefinition{}, false
}

// IndexedField returns the named field if it exists and is indexed, and
// ErrUnknownField otherwise.
func (s Schema) IndexedField(name string) (FieldDefinition, error) {
	f, ok := s.Field(name)
	if !ok || !f.Indexed {
		return FieldDefinition{}, fmt.Errorf("%w: %q", apperrors.ErrUnknownField, name)
	}
	return f, nil
}

// Validate checks that every field has a known name and type, names are
// unique, and the path field is stored so results can identify documents.
func (s Schema) Validate() error {
	if len(s.Fields) == 0 {
		return fmt.Errorf("%w: schema has no fields", apperrors.ErrInvalidInput)
	}
	seen := make(map[string]struct{}, len(s.Fields))
	for _, f := range s.Fields {
		switch f.Name {
		case FieldTitle, FieldPath, FieldContent, FieldTextData:
		default:
			return fmt.Errorf("%w: %q", apperrors.ErrUnknownField, f.Name)
		}
		if f.Type != FieldText && f.Type != FieldID {
			return fmt.Errorf("%w: field %q has type %q", apperrors.ErrInvalidInput, f.Name, f.Type)
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("%w: duplicate field %q", apperrors.ErrInvalidInput, f.Name)
		}
		seen[f.Name] = struct{}{}
	}
	if p, ok := s.Field(FieldPath); !ok || !p.Stored {
		return fmt.Errorf("%w: schema must store the %q field", apperrors.ErrInvalidInput, FieldPath)
	}
	return nil
}

// Document is one unit of indexing. Path doubles as the document ID.
type Document struct {
	Title      string
	Path       string
	Content    string
	StoredText string
}

// ID returns the stable document identifier.
func (d Document) ID() string {
	return d.Path
}

// Value returns the document text for the named schema field.
func (d Document) Value(field string) string {
	switch field {
	case FieldTitle:
		return d.Title
	case FieldPath:
		return d.Path
	case FieldContent:
		return d.Content
	case FieldTextData:
		return d.StoredText
	}
	return ""
}

// StoredDoc holds the retrievable fields of one document.
type StoredDoc struct {
	ID         string `json:"id"`
	Title      string `json:"title,omitempty"`
	Path       string `json:"path,omitempty"`
	StoredText string `json:"text,omitempty"`
}
