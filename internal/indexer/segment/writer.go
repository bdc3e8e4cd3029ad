package segment

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"

	"github.com/forsc/docsearch/internal/indexer/index"
)

// MagicBytes identifies a valid .spdx segment file.
const (
	MagicBytes    uint32 = 0x53504458
	FormatVersion uint32 = 2
	HeaderSize    int    = 64
	FooterSize    int    = 16
	FileExt              = ".spdx"
)

// SegmentHeader is the 64-byte header written at the start of every segment.
// The file body is laid out as postings, then the metadata block (schema and
// term dictionary), then the stored-fields block, then a 16-byte footer
// holding the checksums of both blocks and the generation.
type SegmentHeader struct {
	Magic        uint32
	Version      uint32
	TermCount    uint32
	DocCount     uint32
	MetaOffset   int64
	MetaSize     int64
	PostOffset   int64
	PostSize     int64
	StoredOffset int64
	StoredSize   int64
}

// DictEntry maps a field-qualified term to its postings offset, length, and
// document frequency in the segment file.
type DictEntry struct {
	Field      string `json:"f"`
	Term       string `json:"t"`
	PostOffset int64  `json:"o"`
	PostLen    int    `json:"l"`
	DocFreq    int    `json:"d"`
}

type segmentMeta struct {
	Generation int64        `json:"generation"`
	Schema     index.Schema `json:"schema"`
	Dict       []DictEntry  `json:"dict"`
}

// FileName returns the segment file name for a generation.
func FileName(generation int64) string {
	return fmt.Sprintf("seg_%d%s", generation, FileExt)
}

// Writer serialises a complete index snapshot into a new segment file.
type Writer struct {
	dataDir string
}

// NewWriter creates a Writer that writes segments into the given directory.
func NewWriter(dataDir string) *Writer {
	return &Writer{dataDir: dataDir}
}

// Write atomically creates the segment file for generation containing the
// given term entries and stored documents. It writes to a .tmp file, syncs,
// and renames on success, so the final name only ever refers to a complete
// file. An empty snapshot is valid.
func (w *Writer) Write(generation int64, schema index.Schema, entries []index.TermEntry, docs []index.StoredDoc) (string, error) {
	segmentName := FileName(generation)
	finalPath := filepath.Join(w.dataDir, segmentName)
	tmpPath := finalPath + ".tmp"

	if err := os.MkdirAll(w.dataDir, 0755); err != nil {
		return "", fmt.Errorf("creating segment directory: %w", err)
	}
	f, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("creating temp segment file: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			f.Close()
			os.Remove(tmpPath)
		}
	}()

	bw := bufio.NewWriter(f)
	offset := int64(HeaderSize)
	if _, err := bw.Write(make([]byte, HeaderSize)); err != nil {
		return "", fmt.Errorf("writing header placeholder: %w", err)
	}

	postingsStart := offset
	dict := make([]DictEntry, 0, len(entries))
	for _, entry := range entries {
		postingsData, err := json.Marshal(entry.Postings)
		if err != nil {
			return "", fmt.Errorf("marshaling postings for term %q: %w", entry.Term, err)
		}
		if _, err := bw.Write(postingsData); err != nil {
			return "", fmt.Errorf("writing postings for term %q: %w", entry.Term, err)
		}
		dict = append(dict, DictEntry{
			Field:      entry.Field,
			Term:       entry.Term,
			PostOffset: offset - postingsStart,
			PostLen:    len(postingsData),
			DocFreq:    len(entry.Postings),
		})
		offset += int64(len(postingsData))
	}
	postingsSize := offset - postingsStart

	metaData, err := json.Marshal(segmentMeta{Generation: generation, Schema: schema, Dict: dict})
	if err != nil {
		return "", fmt.Errorf("marshaling dictionary: %w", err)
	}
	metaStart := offset
	if _, err := bw.Write(metaData); err != nil {
		return "", fmt.Errorf("writing dictionary: %w", err)
	}
	offset += int64(len(metaData))

	storedData, err := json.Marshal(docs)
	if err != nil {
		return "", fmt.Errorf("marshaling stored fields: %w", err)
	}
	storedStart := offset
	if _, err := bw.Write(storedData); err != nil {
		return "", fmt.Errorf("writing stored fields: %w", err)
	}

	footer := make([]byte, FooterSize)
	binary.LittleEndian.PutUint32(footer[0:4], crc32.ChecksumIEEE(metaData))
	binary.LittleEndian.PutUint32(footer[4:8], crc32.ChecksumIEEE(storedData))
	binary.LittleEndian.PutUint64(footer[8:16], uint64(generation))
	if _, err := bw.Write(footer); err != nil {
		return "", fmt.Errorf("writing footer: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return "", fmt.Errorf("flushing segment file: %w", err)
	}

	header := SegmentHeader{
		Magic:        MagicBytes,
		Version:      FormatVersion,
		TermCount:    uint32(len(dict)),
		DocCount:     uint32(len(docs)),
		MetaOffset:   metaStart,
		MetaSize:     int64(len(metaData)),
		PostOffset:   postingsStart,
		PostSize:     postingsSize,
		StoredOffset: storedStart,
		StoredSize:   int64(len(storedData)),
	}
	if _, err := f.WriteAt(encodeHeader(header), 0); err != nil {
		return "", fmt.Errorf("updating header: %w", err)
	}
	if err := f.Sync(); err != nil {
		return "", fmt.Errorf("syncing segment file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("closing segment file: %w", err)
	}
	committed = true
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("renaming segment file: %w", err)
	}
	return segmentName, nil
}

func encodeHeader(h SegmentHeader) []byte {
	b := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(b[0:4], h.Magic)
	binary.LittleEndian.PutUint32(b[4:8], h.Version)
	binary.LittleEndian.PutUint32(b[8:12], h.TermCount)
	binary.LittleEndian.PutUint32(b[12:16], h.DocCount)
	binary.LittleEndian.PutUint64(b[16:24], uint64(h.MetaOffset))
	binary.LittleEndian.PutUint64(b[24:32], uint64(h.MetaSize))
	binary.LittleEndian.PutUint64(b[32:40], uint64(h.PostOffset))
	binary.LittleEndian.PutUint64(b[40:48], uint64(h.PostSize))
	binary.LittleEndian.PutUint64(b[48:56], uint64(h.StoredOffset))
	binary.LittleEndian.PutUint64(b[56:64], uint64(h.StoredSize))
	return b
}

func decodeHeader(b []byte) SegmentHeader {
	return SegmentHeader{
		Magic:        binary.LittleEndian.Uint32(b[0:4]),
		Version:      binary.LittleEndian.Uint32(b[4:8]),
		TermCount:    binary.LittleEndian.Uint32(b[8:12]),
		DocCount:     binary.LittleEndian.Uint32(b[12:16]),
		MetaOffset:   int64(binary.LittleEndian.Uint64(b[16:24])),
		MetaSize:     int64(binary.LittleEndian.Uint64(b[24:32])),
		PostOffset:   int64(binary.LittleEndian.Uint64(b[32:40])),
		PostSize:     int64(binary.LittleEndian.Uint64(b[40:48])),
		StoredOffset: int64(binary.LittleEndian.Uint64(b[48:56])),
		StoredSize:   int64(binary.LittleEndian.Uint64(b[56:64])),
	}
}
