package source

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"code.sajari.com/docconv/v2"
)

// Reader extracts the text of one document. CanRead is decided by file
// extension only.
type Reader interface {
	CanRead(path string) bool
	ReadText(path string) (string, error)
}

// TextReader returns the raw bytes of plain-text files. Content that is not
// valid UTF-8 is rejected.
type TextReader struct{}

var textExtensions = map[string]bool{
	".txt": true,
	".md":  true,
	".csv": true,
	".log": true,
}

func (r *TextReader) CanRead(path string) bool {
	return textExtensions[strings.ToLower(filepath.Ext(path))]
}

func (r *TextReader) ReadText(path string) (string, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading text file: %w", err)
	}
	if !utf8.Valid(buf) {
		return "", fmt.Errorf("file is not valid UTF-8")
	}
	return string(buf), nil
}

// ConvertReader extracts text from office and markup formats via docconv.
type ConvertReader struct{}

var convertExtensions = map[string]bool{
	".pdf":  true,
	".doc":  true,
	".docx": true,
	".odt":  true,
	".rtf":  true,
	".html": true,
	".htm":  true,
	".xml":  true,
}

func (r *ConvertReader) CanRead(path string) bool {
	return convertExtensions[strings.ToLower(filepath.Ext(path))]
}

func (r *ConvertReader) ReadText(path string) (string, error) {
	res, err := docconv.ConvertPath(path)
	if err != nil {
		return "", fmt.Errorf("converting document: %w", err)
	}
	if !utf8.ValidString(res.Body) {
		return "", fmt.Errorf("converted text is not valid UTF-8")
	}
	return res.Body, nil
}

// DefaultReaders returns the readers used when a Directory names none.
func DefaultReaders() []Reader {
	return []Reader{&TextReader{}, &ConvertReader{}}
}
