// Package parser turns a free-text query into the terms looked up in one
// field of the index. Every word is a term and terms are OR-combined; there
// is no operator, phrase or field:value syntax.
package parser

import (
	"fmt"
	"strings"

	"github.com/forsc/docsearch/internal/indexer/index"
	"github.com/forsc/docsearch/internal/indexer/tokenizer"
	apperrors "github.com/forsc/docsearch/pkg/errors"
)

// Query is a parsed search request against a single field.
type Query struct {
	Raw   string
	Field string
	Terms []string
}

// Empty reports whether the query has no terms and so matches nothing.
func (q *Query) Empty() bool {
	return len(q.Terms) == 0
}

// Parse tokenizes raw the way documents are tokenized for field. Repeated
// words yield a single term. An empty or all-punctuation query parses to a
// Query with no terms.
func Parse(raw, field string, schema index.Schema) (*Query, error) {
	def, err := schema.IndexedField(field)
	if err != nil {
		return nil, err
	}
	q := &Query{Raw: raw, Field: field, Terms: []string{}}

	var terms []string
	switch def.Type {
	case index.FieldID:
		if v := strings.TrimSpace(raw); v != "" {
			terms = []string{v}
		}
	case index.FieldText:
		terms = tokenizer.Terms(raw)
	default:
		return nil, fmt.Errorf("%w: field %q has unsupported type %q", apperrors.ErrUnknownField, field, def.Type)
	}

	seen := make(map[string]struct{}, len(terms))
	for _, term := range terms {
		if _, dup := seen[term]; dup {
			continue
		}
		seen[term] = struct{}{}
		q.Terms = append(q.Terms, term)
	}
	return q, nil
}
