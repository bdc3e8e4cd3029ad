// Package index holds the in-memory inverted index a rebuild accumulates
// before it is committed to a segment file, together with the schema and
// document types shared by the write and read paths.
package index

import (
	"sort"
	"sync"

	"github.com/forsc/docsearch/internal/indexer/tokenizer"
)

// MemoryIndex maps field-qualified terms to per-document postings and keeps
// the stored fields of every added document.
type MemoryIndex struct {
	mu       sync.RWMutex
	schema   Schema
	index    map[termKey]map[string]*Posting
	docTerms map[string][]termKey
	stored   map[string]StoredDoc
	size     int64
}

func NewMemoryIndex(schema Schema) *MemoryIndex {
	return &MemoryIndex{
		schema:   schema,
		index:    make(map[termKey]map[string]*Posting),
		docTerms: make(map[string][]termKey),
		stored:   make(map[string]StoredDoc),
	}
}

// AddDocument indexes every indexed field of doc and records its stored
// fields. Adding a document whose ID is already present replaces it.
func (m *MemoryIndex) AddDocument(doc Document) {
	docID := doc.ID()
	termData := make(map[termKey]*Posting)
	stored := StoredDoc{ID: docID}

	for _, field := range m.schema.Fields {
		value := doc.Value(field.Name)
		if field.Indexed {
			for _, token := range fieldTokens(field, value) {
				key := termKey{field: field.Name, term: token.Term}
				p, exists := termData[key]
				if !exists {
					p = &Posting{
						DocID:     docID,
						Positions: make([]int, 0, 4),
					}
					termData[key] = p
				}
				p.Frequency++
				p.Positions = append(p.Positions, token.Position)
			}
		}
		if field.Stored {
			switch field.Name {
			case FieldTitle:
				stored.Title = value
			case FieldPath:
				stored.Path = value
			case FieldTextData:
				stored.StoredText = value
			}
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.removeLocked(docID)
	keys := make([]termKey, 0, len(termData))
	for key, posting := range termData {
		docs, exists := m.index[key]
		if !exists {
			docs = make(map[string]*Posting)
			m.index[key] = docs
		}
		docs[docID] = posting
		keys = append(keys, key)
		m.size += int64(len(key.term) + len(docID) + len(posting.Positions)*8 + 64)
	}
	m.docTerms[docID] = keys
	m.stored[docID] = stored
	m.size += int64(len(stored.Title) + len(stored.Path) + len(stored.StoredText))
}

func (m *MemoryIndex) removeLocked(docID string) {
	keys, exists := m.docTerms[docID]
	if !exists {
		return
	}
	for _, key := range keys {
		docs := m.index[key]
		delete(docs, docID)
		if len(docs) == 0 {
			delete(m.index, key)
		}
	}
	delete(m.docTerms, docID)
	delete(m.stored, docID)
}

// Search returns the postings of a field-qualified term sorted by DocID.
func (m *MemoryIndex) Search(field, term string) PostingList {
	m.mu.RLock()
	defer m.mu.RUnlock()
	docs, exists := m.index[termKey{field: field, term: term}]
	if !exists {
		return nil
	}
	return sortedPostings(docs)
}

// Snapshot returns every term entry sorted by field then term, with postings
// sorted by DocID.
func (m *MemoryIndex) Snapshot() []TermEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := make([]TermEntry, 0, len(m.index))
	for key, docs := range m.index {
		entries = append(entries, TermEntry{
			Field:    key.field,
			Term:     key.term,
			Postings: sortedPostings(docs),
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Field != entries[j].Field {
			return entries[i].Field < entries[j].Field
		}
		return entries[i].Term < entries[j].Term
	})
	return entries
}

// StoredDocs returns the stored fields of every document sorted by ID.
func (m *MemoryIndex) StoredDocs() []StoredDoc {
	m.mu.RLock()
	defer m.mu.RUnlock()
	docs := make([]StoredDoc, 0, len(m.stored))
	for _, d := range m.stored {
		docs = append(docs, d)
	}
	sort.Slice(docs, func(i, j int) bool {
		return docs[i].ID < docs[j].ID
	})
	return docs
}

func (m *MemoryIndex) Schema() Schema {
	return m.schema
}

func (m *MemoryIndex) Size() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size
}

func (m *MemoryIndex) DocCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.stored)
}

func (m *MemoryIndex) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.index = make(map[termKey]map[string]*Posting)
	m.docTerms = make(map[string][]termKey)
	m.stored = make(map[string]StoredDoc)
	m.size = 0
}

func fieldTokens(field FieldDefinition, value string) []tokenizer.Token {
	if field.Type == FieldID {
		if value == "" {
			return nil
		}
		return []tokenizer.Token{{Term: value, Position: 0}}
	}
	return tokenizer.Tokenize(value)
}

func sortedPostings(docs map[string]*Posting) PostingList {
	result := make(PostingList, 0, len(docs))
	for _, posting := range docs {
		result = append(result, *posting)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].DocID < result[j].DocID
	})
	return result
}
