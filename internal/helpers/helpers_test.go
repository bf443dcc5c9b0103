package helpers

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go-civitai-companion/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/blake3"
)

func TestBytesToSize(t *testing.T) {
	tests := []struct {
		bytes uint64
		want  string
	}{
		{0, "0B"},
		{500, "500.00B"},
		{1536, "1.50KB"},
		{1024 * 1024, "1.00MB"},
		{1536 * 1024 * 1024 * 1024, "1.50TB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, BytesToSize(tt.bytes), "bytes=%d", tt.bytes)
	}
}

func TestCheckHash(t *testing.T) {
	tempDir := t.TempDir()
	content := []byte("this is test content for hashing")
	path := filepath.Join(tempDir, "file.bin")
	require.NoError(t, os.WriteFile(path, content, 0644))

	b3 := blake3.Sum256(content)
	s256 := sha256.Sum256(content)
	expectedBlake3 := strings.ToUpper(hex.EncodeToString(b3[:]))
	expectedCRC32 := fmt.Sprintf("%08X", crc32.ChecksumIEEE(content))
	expectedSHA256 := hex.EncodeToString(s256[:])

	tests := []struct {
		name   string
		path   string
		hashes models.Hashes
		want   bool
	}{
		{"missing file", filepath.Join(tempDir, "nope"), models.Hashes{BLAKE3: expectedBlake3}, false},
		{"blake3 match", path, models.Hashes{BLAKE3: expectedBlake3}, true},
		{"crc32 match", path, models.Hashes{CRC32: expectedCRC32}, true},
		{"sha256 match uppercase", path, models.Hashes{SHA256: strings.ToUpper(expectedSHA256)}, true},
		{"one wrong one right", path, models.Hashes{BLAKE3: "bad", CRC32: expectedCRC32}, true},
		{"all wrong", path, models.Hashes{BLAKE3: "a", CRC32: "b", SHA256: "c"}, false},
		{"no hashes", path, models.Hashes{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CheckHash(tt.path, tt.hashes))
		})
	}
}

func TestCounterWriter(t *testing.T) {
	var sb strings.Builder
	var seen []uint64
	cw := &CounterWriter{Writer: &sb, OnProgress: func(total uint64) { seen = append(seen, total) }}

	_, err := cw.Write([]byte("abc"))
	require.NoError(t, err)
	_, err = cw.Write([]byte("de"))
	require.NoError(t, err)

	assert.Equal(t, uint64(5), cw.Total)
	assert.Equal(t, []uint64{3, 5}, seen)
	assert.Equal(t, "abcde", sb.String())
}

func TestSafeFileName(t *testing.T) {
	tests := []struct{ in, want string }{
		{"model.safetensors", "model.safetensors"},
		{"../../etc/passwd", "passwd"},
		{`dir\evil.bin`, "evil.bin"},
		{"what?.ckpt", "what-.ckpt"},
		{"", "download"},
		{"..", "download"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SafeFileName(tt.in), "input %q", tt.in)
	}
}

func TestSafeJoin(t *testing.T) {
	root := t.TempDir()

	got, err := SafeJoin(root, "/Lora/ACG/Style")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "Lora", "ACG", "Style"), got)

	got, err = SafeJoin(root, "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Clean(root), got)

	_, err = SafeJoin(root, "../outside")
	assert.True(t, errors.Is(err, ErrUnsafePath))
}

func TestCheckAndMakeDir(t *testing.T) {
	base := t.TempDir()

	nested := filepath.Join(base, "nested", "dir")
	assert.True(t, CheckAndMakeDir(nested))
	info, err := os.Stat(nested)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	file := filepath.Join(base, "existing_file.txt")
	require.NoError(t, os.WriteFile(file, nil, 0644))
	assert.False(t, CheckAndMakeDir(file))
}

func TestHasHashes(t *testing.T) {
	assert.False(t, HasHashes(models.Hashes{AutoV2: "x"}))
	assert.True(t, HasHashes(models.Hashes{CRC32: "x"}))
}
