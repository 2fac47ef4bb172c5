package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strconv"
)

// DefaultChunkSize is the chunk length used by PartialHash.
const DefaultChunkSize = 4096

// PartialHash hashes the first, middle and last chunk of the file plus its
// decimal size. Files no longer than three chunks are hashed in full.
func PartialHash(path string, size int64, chunk int) (string, error) {
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}
	if size <= int64(chunk)*3 {
		return FullHash(path)
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, chunk)
	for _, off := range []int64{0, size / 2, size - int64(chunk)} {
		n, err := f.ReadAt(buf, off)
		if err != nil && err != io.EOF {
			return "", fmt.Errorf("reading %s at %d: %w", path, off, err)
		}
		h.Write(buf[:n])
	}
	h.Write([]byte(strconv.FormatInt(size, 10)))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// FullHash streams the whole file through SHA-256.
func FullHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
