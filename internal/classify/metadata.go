package classify

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"sfo-go/internal/sfo"
)

type extEntry struct {
	category    string
	subcategory string
}

var extensionTable = map[string]extEntry{}

func register(category string, subcategories map[string]string) {
	for ext, sub := range subcategories {
		extensionTable[ext] = extEntry{category: category, subcategory: sub}
	}
}

func registerFlat(category string, exts ...string) {
	for _, ext := range exts {
		extensionTable[ext] = extEntry{category: category}
	}
}

func init() {
	register(sfo.CategoryDocuments, map[string]string{
		".pdf": "PDF", ".doc": "Word", ".docx": "Word", ".odt": "Word", ".rtf": "Word", ".pages": "Word",
		".txt": "Text", ".md": "Text", ".tex": "Text",
		".xls": "Excel", ".xlsx": "Excel", ".ods": "Excel", ".csv": "Excel", ".numbers": "Excel",
		".ppt": "PowerPoint", ".pptx": "PowerPoint", ".odp": "PowerPoint", ".keynote": "PowerPoint",
	})
	register(sfo.CategoryImages, map[string]string{
		".jpg": "Photos", ".jpeg": "Photos", ".tiff": "Photos", ".tif": "Photos", ".heic": "Photos", ".heif": "Photos",
		".png": "Image", ".gif": "Image", ".bmp": "Image", ".webp": "Image",
		".svg": "Diagrams", ".ico": "Icons",
		".raw": "RAW", ".cr2": "RAW", ".nef": "RAW", ".arw": "RAW", ".dng": "RAW",
		".psd": "Artwork", ".ai": "Artwork", ".xcf": "Artwork",
	})
	register(sfo.CategoryAudio, map[string]string{
		".mp3": "Music", ".m4a": "Music", ".aac": "Music", ".flac": "Music", ".wav": "Music",
		".ogg": "Music", ".wma": "Music", ".aiff": "Music",
		".opus": "Podcasts", ".m4b": "Audiobooks",
	})
	registerFlat(sfo.CategoryVideo, ".mp4", ".mov", ".avi", ".mkv", ".wmv", ".flv", ".webm", ".m4v", ".mpeg", ".mpg", ".3gp")
	registerFlat(sfo.CategoryArchives, ".zip", ".rar", ".7z", ".tar", ".gz", ".bz2", ".xz", ".tgz", ".tbz2", ".lz", ".lzma")
	registerFlat(sfo.CategoryInstallers, ".exe", ".msi", ".dmg", ".pkg", ".deb", ".rpm", ".appimage", ".snap", ".flatpak")
	register(sfo.CategoryCode, map[string]string{
		".py": "Python", ".js": "JavaScript", ".jsx": "JavaScript", ".ts": "TypeScript", ".tsx": "TypeScript",
		".java": "Java", ".c": "C", ".h": "C", ".cpp": "C++", ".hpp": "C++", ".cs": "C#",
		".go": "Go", ".rs": "Rust", ".rb": "Ruby", ".php": "PHP", ".swift": "Swift",
		".kt": "Kotlin", ".scala": "Scala", ".r": "R", ".sql": "SQL",
		".sh": "Shell", ".bash": "Shell", ".zsh": "Shell", ".ps1": "PowerShell",
		".html": "Web", ".css": "Web", ".scss": "Web", ".sass": "Web", ".less": "Web", ".vue": "Web", ".svelte": "Web",
	})
	register(sfo.CategoryData, map[string]string{
		".json": "JSON", ".xml": "XML", ".yaml": "YAML", ".yml": "YAML", ".toml": "TOML",
		".ini": "Config", ".conf": "Config", ".cfg": "Config", ".env": "Config",
		".db": "Database", ".sqlite": "Database", ".sqlite3": "Database",
		".parquet": "Data", ".feather": "Data", ".pickle": "Data", ".pkl": "Data",
	})
	registerFlat(sfo.CategoryEbooks, ".epub", ".mobi", ".azw", ".azw3", ".fb2", ".djvu")
	registerFlat(sfo.CategoryFonts, ".ttf", ".otf", ".woff", ".woff2", ".eot")
}

// LookupExtension maps a file extension (with dot, any case) to its category.
// Unrecognised extensions map to Unknown with no subcategory.
func LookupExtension(ext string) (category, subcategory string) {
	e, ok := extensionTable[strings.ToLower(ext)]
	if !ok {
		return sfo.CategoryUnknown, ""
	}
	return e.category, e.subcategory
}

var (
	// Extensions whose text is worth analysing in later tiers.
	needsContentAnalysis = setOf(".pdf", ".docx", ".doc", ".txt", ".md", ".rtf")

	// Document formats that may hold personal data.
	potentiallySensitive = setOf(".pdf", ".docx", ".doc", ".xlsx", ".xls", ".csv", ".pptx", ".ppt", ".odt", ".ods")

	// Formats stored as zip containers, which sniff as application/zip.
	zipContainers = setOf(".docx", ".xlsx", ".pptx", ".odt", ".ods", ".odp", ".epub", ".pages", ".numbers", ".keynote")
)

func setOf(items ...string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, it := range items {
		m[it] = true
	}
	return m
}

// sniffLen is how much of the file http.DetectContentType looks at.
const sniffLen = 512

// MetadataClassifier is tier 1: extension table plus a content-type sniff.
type MetadataClassifier struct {
	logger sfo.Logger
}

// NewMetadataClassifier creates the metadata tier.
func NewMetadataClassifier(logger sfo.Logger) *MetadataClassifier {
	return &MetadataClassifier{logger: sfo.With(logger, "component", "classify.metadata")}
}

// Classify never returns nil for an existing file.
func (c *MetadataClassifier) Classify(_ context.Context, path string) (*sfo.ClassificationResult, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", sfo.ErrFileVanished, path)
		}
		return nil, fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	category, subcategory := LookupExtension(ext)

	meta := map[string]string{
		"extension": ext,
		"file_size": strconv.FormatInt(info.Size(), 10),
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("reading file header: %w", err)
	}
	if n > 0 {
		mime := http.DetectContentType(head[:n])
		meta["mime_type"] = mime
		if !mimeAgrees(mime, category, ext) {
			meta["mime_mismatch"] = "true"
			c.logger.Debug("content type disagrees with extension",
				"path", path, "extension", ext, "mime_type", mime)
		}
	}

	if category == sfo.CategoryImages {
		if _, err := f.Seek(0, io.SeekStart); err == nil {
			if cfg, format, err := image.DecodeConfig(f); err == nil {
				meta["width"] = strconv.Itoa(cfg.Width)
				meta["height"] = strconv.Itoa(cfg.Height)
				meta["image_format"] = format
			}
		}
	}

	confidence := 1.0
	if category == sfo.CategoryUnknown {
		confidence = 0.5
	}

	return &sfo.ClassificationResult{
		Category:            category,
		Subcategory:         subcategory,
		Confidence:          confidence,
		Tier:                sfo.TierMetadata,
		IsSensitive:         potentiallySensitive[ext],
		NeedsDeeperAnalysis: category == sfo.CategoryUnknown || needsContentAnalysis[ext],
		Metadata:            meta,
	}, nil
}

// mimePrefixes maps sniffed content types to the category they imply.
var mimePrefixes = []struct {
	prefix   string
	category string
}{
	{"image/", sfo.CategoryImages},
	{"audio/", sfo.CategoryAudio},
	{"video/", sfo.CategoryVideo},
	{"application/pdf", sfo.CategoryDocuments},
	{"application/zip", sfo.CategoryArchives},
	{"application/x-rar", sfo.CategoryArchives},
	{"application/x-7z", sfo.CategoryArchives},
	{"application/x-gzip", sfo.CategoryArchives},
}

// mimeAgrees reports whether a sniffed content type is consistent with the
// category chosen from the extension. Unknown categories and unmapped or
// text content types always agree.
func mimeAgrees(mime, category, ext string) bool {
	if category == sfo.CategoryUnknown {
		return true
	}
	if strings.HasPrefix(mime, "application/zip") && zipContainers[ext] {
		return true
	}
	for _, m := range mimePrefixes {
		if strings.HasPrefix(mime, m.prefix) {
			return category == m.category
		}
	}
	return true
}
