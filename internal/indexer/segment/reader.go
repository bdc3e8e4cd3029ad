package segment

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"sort"

	"github.com/forsc/docsearch/internal/indexer/index"
	apperrors "github.com/forsc/docsearch/pkg/errors"
)

// Reader serves postings and stored fields from one segment file. The
// dictionary and stored fields are loaded on open; postings are read on
// demand with ReadAt, so a Reader is safe for concurrent use.
type Reader struct {
	file       *os.File
	filePath   string
	header     SegmentHeader
	generation int64
	schema     index.Schema
	dict       []DictEntry
	stored     map[string]index.StoredDoc
}

func OpenReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening segment file: %w", err)
	}
	r, err := readSegment(f, path)
	if err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

func readSegment(f *os.File, path string) (*Reader, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat segment file: %w", err)
	}
	size := info.Size()
	if size < int64(HeaderSize+FooterSize) {
		return nil, fmt.Errorf("%w: segment %s truncated (%d bytes)", apperrors.ErrCorruptIndex, path, size)
	}
	headerBytes := make([]byte, HeaderSize)
	if _, err := f.ReadAt(headerBytes, 0); err != nil {
		return nil, fmt.Errorf("reading segment header: %w", err)
	}
	header := decodeHeader(headerBytes)
	if header.Magic != MagicBytes {
		return nil, fmt.Errorf("%w: bad magic bytes %x", apperrors.ErrCorruptIndex, header.Magic)
	}
	if header.Version != FormatVersion {
		return nil, fmt.Errorf("%w: unsupported segment version %d", apperrors.ErrCorruptIndex, header.Version)
	}
	if header.StoredOffset+header.StoredSize+int64(FooterSize) != size ||
		header.MetaOffset+header.MetaSize > header.StoredOffset {
		return nil, fmt.Errorf("%w: segment section bounds do not match file size", apperrors.ErrCorruptIndex)
	}

	footer := make([]byte, FooterSize)
	if _, err := f.ReadAt(footer, size-int64(FooterSize)); err != nil {
		return nil, fmt.Errorf("reading segment footer: %w", err)
	}

	metaBytes := make([]byte, header.MetaSize)
	if _, err := f.ReadAt(metaBytes, header.MetaOffset); err != nil {
		return nil, fmt.Errorf("reading dictionary: %w", err)
	}
	if crc32.ChecksumIEEE(metaBytes) != binary.LittleEndian.Uint32(footer[0:4]) {
		return nil, fmt.Errorf("%w: dictionary checksum mismatch", apperrors.ErrCorruptIndex)
	}
	var meta segmentMeta
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return nil, fmt.Errorf("%w: parsing dictionary: %v", apperrors.ErrCorruptIndex, err)
	}

	storedBytes := make([]byte, header.StoredSize)
	if _, err := f.ReadAt(storedBytes, header.StoredOffset); err != nil {
		return nil, fmt.Errorf("reading stored fields: %w", err)
	}
	if crc32.ChecksumIEEE(storedBytes) != binary.LittleEndian.Uint32(footer[4:8]) {
		return nil, fmt.Errorf("%w: stored fields checksum mismatch", apperrors.ErrCorruptIndex)
	}
	var docs []index.StoredDoc
	if err := json.Unmarshal(storedBytes, &docs); err != nil {
		return nil, fmt.Errorf("%w: parsing stored fields: %v", apperrors.ErrCorruptIndex, err)
	}
	stored := make(map[string]index.StoredDoc, len(docs))
	for _, d := range docs {
		stored[d.ID] = d
	}

	return &Reader{
		file:       f,
		filePath:   path,
		header:     header,
		generation: meta.Generation,
		schema:     meta.Schema,
		dict:       meta.Dict,
		stored:     stored,
	}, nil
}

// Search returns the postings of a field-qualified term, or nil when the
// term does not occur in the segment.
func (r *Reader) Search(field, term string) (index.PostingList, error) {
	idx := sort.Search(len(r.dict), func(i int) bool {
		if r.dict[i].Field != field {
			return r.dict[i].Field >= field
		}
		return r.dict[i].Term >= term
	})
	if idx >= len(r.dict) || r.dict[idx].Field != field || r.dict[idx].Term != term {
		return nil, nil
	}
	entry := r.dict[idx]
	postingsBytes := make([]byte, entry.PostLen)
	if _, err := r.file.ReadAt(postingsBytes, r.header.PostOffset+entry.PostOffset); err != nil {
		return nil, fmt.Errorf("reading postings: %w", err)
	}
	var postings index.PostingList
	if err := json.Unmarshal(postingsBytes, &postings); err != nil {
		return nil, fmt.Errorf("%w: parsing postings for %s:%s: %v", apperrors.ErrCorruptIndex, field, term, err)
	}
	return postings, nil
}

// Stored returns the stored fields of a document.
func (r *Reader) Stored(docID string) (index.StoredDoc, bool) {
	d, ok := r.stored[docID]
	return d, ok
}

func (r *Reader) Schema() index.Schema {
	return r.schema
}

func (r *Reader) Generation() int64 {
	return r.generation
}

func (r *Reader) Terms() int {
	return len(r.dict)
}

func (r *Reader) DocCount() uint32 {
	return r.header.DocCount
}

func (r *Reader) Path() string {
	return r.filePath
}

func (r *Reader) Close() error {
	return r.file.Close()
}
