// Package extract pulls plain text out of documents for the content and
// model classification tiers.
package extract

import (
	"archive/zip"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"sfo-go/internal/sfo"
)

// DefaultMaxLength caps extracted text when no limit is configured.
const DefaultMaxLength = 2000

// readSlack allows for multi-byte runes and decoding overhead when reading
// just enough of a plain text file.
const readSlack = 4

var plainTextExtensions = map[string]bool{
	".txt": true, ".md": true, ".markdown": true, ".rst": true, ".log": true,
	".csv": true, ".tsv": true, ".json": true, ".xml": true, ".html": true, ".htm": true,
	".yaml": true, ".yml": true, ".toml": true, ".ini": true, ".rtf": true, ".tex": true,
}

// Extractor reads text from plain text files and .docx documents.
type Extractor struct {
	maxLength int
}

var _ sfo.TextExtractor = (*Extractor)(nil)

// New creates an Extractor that returns at most maxLength runes.
func New(maxLength int) *Extractor {
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	return &Extractor{maxLength: maxLength}
}

// Supports reports whether path has an extension the extractor understands.
func (e *Extractor) Supports(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return plainTextExtensions[ext] || ext == ".docx"
}

// Extract returns the document text, truncated to the configured length.
// Unsupported formats yield an empty string and no error.
func (e *Extractor) Extract(path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	var (
		text string
		err  error
	)
	switch {
	case plainTextExtensions[ext]:
		text, err = e.plain(path)
	case ext == ".docx":
		text, err = e.docx(path)
	default:
		return "", nil
	}
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", sfo.ErrFileVanished, path)
		}
		return "", err
	}
	return truncate(strings.TrimSpace(text), e.maxLength), nil
}

// plain reads the head of a text file. A UTF-8 or UTF-16 byte order mark
// selects the decoding; otherwise the content is taken as UTF-8.
func (e *Extractor) plain(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	r := transform.NewReader(f, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
	data, err := io.ReadAll(io.LimitReader(r, int64(e.maxLength*readSlack)))
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	return string(data), nil
}

// docx concatenates the text runs of word/document.xml, one line per paragraph.
func (e *Extractor) docx(path string) (string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		return "", fmt.Errorf("opening docx %s: %w", path, err)
	}
	defer zr.Close()

	var doc *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			doc = f
			break
		}
	}
	if doc == nil {
		return "", fmt.Errorf("docx %s has no word/document.xml", path)
	}

	rc, err := doc.Open()
	if err != nil {
		return "", fmt.Errorf("opening document part: %w", err)
	}
	defer rc.Close()

	var b strings.Builder
	dec := xml.NewDecoder(rc)
	inText := false
	for b.Len() < e.maxLength*readSlack {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parsing document part: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				b.WriteByte('\t')
			case "br":
				b.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				b.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}
	return b.String(), nil
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
