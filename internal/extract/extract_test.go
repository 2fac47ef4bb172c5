package extract

import (
	"archive/zip"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"sfo-go/internal/sfo"
)

func writeDocx(t *testing.T, path string, parts map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	zw := zip.NewWriter(f)
	for name, body := range parts {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
}

const documentXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
<w:body>
<w:p><w:r><w:t>Invoice number 42</w:t></w:r></w:p>
<w:p><w:r><w:t xml:space="preserve">Amount due: </w:t></w:r><w:r><w:t>$120.00</w:t></w:r></w:p>
</w:body>
</w:document>`

func TestExtractor_Extract(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		file    string
		content []byte
		docx    map[string]string
		max     int
		want    string
		wantErr bool
	}{
		{
			name:    "plain text",
			file:    "notes.txt",
			content: []byte("  patient diagnosis  \n"),
			want:    "patient diagnosis",
		},
		{
			name:    "markdown is plain text",
			file:    "README.MD",
			content: []byte("# Title"),
			want:    "# Title",
		},
		{
			name:    "truncates to rune count",
			file:    "long.txt",
			content: []byte("héllo wörld"),
			max:     4,
			want:    "héll",
		},
		{
			name:    "utf-16 with byte order mark",
			file:    "wide.txt",
			content: []byte{0xFF, 0xFE, 'h', 0, 'i', 0},
			want:    "hi",
		},
		{
			name: "docx paragraphs",
			file: "letter.docx",
			docx: map[string]string{"word/document.xml": documentXML},
			want: "Invoice number 42\nAmount due: $120.00",
		},
		{
			name:    "docx without document part",
			file:    "broken.docx",
			docx:    map[string]string{"word/styles.xml": "<styles/>"},
			wantErr: true,
		},
		{
			name:    "docx that is not a zip",
			file:    "fake.docx",
			content: []byte("plain bytes"),
			wantErr: true,
		},
		{
			name:    "unsupported format",
			file:    "photo.jpg",
			content: []byte{0xFF, 0xD8, 0xFF},
			want:    "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.file)
			if tt.docx != nil {
				writeDocx(t, path, tt.docx)
			} else if err := os.WriteFile(path, tt.content, 0644); err != nil {
				t.Fatal(err)
			}

			got, err := New(tt.max).Extract(path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Extract() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("Extract() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractor_VanishedFile(t *testing.T) {
	for _, name := range []string{"gone.txt", "gone.docx"} {
		t.Run(name, func(t *testing.T) {
			_, err := New(0).Extract(filepath.Join(t.TempDir(), name))
			if !errors.Is(err, sfo.ErrFileVanished) {
				t.Errorf("Extract() error = %v, want ErrFileVanished", err)
			}
		})
	}
}

func TestExtractor_LargeFileReadsOnlyHead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.log")
	if err := os.WriteFile(path, []byte(strings.Repeat("a", 1<<20)), 0644); err != nil {
		t.Fatal(err)
	}
	got, err := New(100).Extract(path)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(got) != 100 {
		t.Errorf("len(Extract()) = %d, want 100", len(got))
	}
}

func TestExtractor_Supports(t *testing.T) {
	e := New(0)
	for path, want := range map[string]bool{
		"a.txt":  true,
		"a.DOCX": true,
		"a.csv":  true,
		"a.pdf":  false,
		"a":      false,
	} {
		if got := e.Supports(path); got != want {
			t.Errorf("Supports(%q) = %v, want %v", path, got, want)
		}
	}
}
