package helpers

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"go-civitai-companion/internal/models"

	log "github.com/sirupsen/logrus"
	"github.com/zeebo/blake3"
)

// ErrUnsafePath is returned by SafeJoin when the result would escape its root.
var ErrUnsafePath = errors.New("path escapes download root")

// HasHashes reports whether any hash the catalog publishes is present.
func HasHashes(hashes models.Hashes) bool {
	return hashes.SHA256 != "" || hashes.BLAKE3 != "" || hashes.CRC32 != ""
}

// CheckHash verifies a file against provided hashes (BLAKE3, CRC32, SHA256).
// It returns true if any of the hashes match. The file is streamed once.
func CheckHash(path string, hashes models.Hashes) bool {
	file, err := os.Open(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.WithError(err).Warnf("Error opening file %s for hash check", path)
		}
		return false
	}
	defer file.Close()

	b3 := blake3.New()
	c32 := crc32.NewIEEE()
	s256 := sha256.New()
	if _, err := io.Copy(io.MultiWriter(b3, c32, s256), file); err != nil {
		log.WithError(err).Errorf("Error reading file %s for hash check", path)
		return false
	}

	if want := strings.TrimSpace(hashes.BLAKE3); want != "" {
		if strings.EqualFold(hex.EncodeToString(b3.Sum(nil)), want) {
			log.WithField("hash", "BLAKE3").Debugf("Hash match for %s", path)
			return true
		}
	}
	if want := strings.TrimSpace(hashes.CRC32); want != "" {
		if strings.EqualFold(fmt.Sprintf("%08x", c32.Sum32()), want) {
			log.WithField("hash", "CRC32").Debugf("Hash match for %s", path)
			return true
		}
	}
	if want := strings.TrimSpace(hashes.SHA256); want != "" {
		if strings.EqualFold(hex.EncodeToString(s256.Sum(nil)), want) {
			log.WithField("hash", "SHA256").Debugf("Hash match for %s", path)
			return true
		}
	}
	return false
}

// CounterWriter tracks the number of bytes written to the underlying writer.
type CounterWriter struct {
	Total      uint64
	Writer     io.Writer
	OnProgress func(total uint64)
}

// Write implements the io.Writer interface for CounterWriter.
func (cw *CounterWriter) Write(p []byte) (int, error) {
	n, err := cw.Writer.Write(p)
	cw.Total += uint64(n)
	if cw.OnProgress != nil {
		cw.OnProgress(cw.Total)
	}
	return n, err
}

// BytesToSize converts a byte count into a human-readable string (KB, MB, GB, etc.).
func BytesToSize(bytes uint64) string {
	sizes := []string{"B", "KB", "MB", "GB", "TB"}
	if bytes == 0 {
		return "0B"
	}
	i := int(math.Floor(math.Log(float64(bytes)) / math.Log(1024)))
	if i >= len(sizes) {
		i = len(sizes) - 1
	}
	return fmt.Sprintf("%.2f%s", float64(bytes)/math.Pow(1024, float64(i)), sizes[i])
}

// SafeFileName strips any directory part and characters that are invalid on
// common filesystems. Falls back to "download".
func SafeFileName(name string) string {
	name = filepath.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	name = strings.Map(func(r rune) rune {
		switch r {
		case '<', '>', ':', '"', '|', '?', '*':
			return '-'
		}
		if r < 0x20 {
			return -1
		}
		return r
	}, name)
	name = strings.Trim(name, " .")
	if name == "" || name == "/" {
		return "download"
	}
	return name
}

// SafeJoin joins a user supplied relative path onto root and refuses results
// outside root. Leading separators in rel are ignored.
func SafeJoin(root, rel string) (string, error) {
	cleanRoot := filepath.Clean(root)
	rel = strings.ReplaceAll(rel, "\\", "/")
	joined := filepath.Join(cleanRoot, filepath.FromSlash(strings.TrimLeft(rel, "/")))
	if joined != cleanRoot && !strings.HasPrefix(joined, cleanRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, rel)
	}
	return joined, nil
}

// CheckAndMakeDir ensures a directory exists, creating it if necessary.
func CheckAndMakeDir(dir string) bool {
	if err := os.MkdirAll(dir, 0700); err != nil {
		log.WithError(err).Errorf("Error creating directory %s", dir)
		return false
	}
	return true
}
