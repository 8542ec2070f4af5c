package decompress

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"
)

func compressXZ(t *testing.T, content string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := xz.NewWriter(&buf)
	require.NoError(t, err)
	_, err = w.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func compressZstd(t *testing.T, content string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := zstd.NewWriter(&buf)
	require.NoError(t, err)
	_, err = w.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func compressGzip(t *testing.T, content string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, err := w.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func writeFile(t *testing.T, path string, data []byte, mode os.FileMode) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, data, mode))
	require.NoError(t, os.Chmod(path, mode))
}

func TestTree(t *testing.T) {
	root := t.TempDir()

	// Plain content for every file, several directory levels deep
	want := map[string]string{
		"tor":                                   "\x7fELF tor executable",
		"geoip":                                 strings.Repeat("1.0.0.0,1.0.0.255,AU\n", 200),
		"geoip6":                                "::1,::2,ZZ\n",
		"torrc-defaults":                        "ClientOnly 1\n",
		"PluggableTransports/lyrebird":          "lyrebird",
		"PluggableTransports/README":            "",
		"PluggableTransports/deep/er/still.txt": "four levels down",
	}
	for name, content := range want {
		writeFile(t, filepath.Join(root, filepath.FromSlash(name)), compressXZ(t, content), 0644)
	}
	emptyDir := filepath.Join(root, "PluggableTransports", "empty")
	require.NoError(t, os.MkdirAll(emptyDir, 0755))

	require.NoError(t, New(nil).Tree(context.Background(), root))

	for name, content := range want {
		got, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(name)))
		require.NoError(t, err, name)
		assert.Equal(t, content, string(got), name)
	}

	entries, err := os.ReadDir(emptyDir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	// No temporary files are left behind
	count := 0
	require.NoError(t, filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			count++
			assert.NotContains(t, path, ".decompressed")
		}
		return nil
	}))
	assert.Equal(t, len(want), count)
}

func TestTreePreservesMode(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits are not meaningful on Windows")
	}
	root := t.TempDir()
	path := filepath.Join(root, "tor")
	writeFile(t, path, compressXZ(t, "elf"), 0750)

	require.NoError(t, New(XZ).Tree(context.Background(), root))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0750), info.Mode().Perm())
}

func TestTreeSkipsSymlinks(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on Windows")
	}
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "geoip"), compressXZ(t, "v4"), 0644)
	require.NoError(t, os.Symlink("geoip", filepath.Join(root, "geoip.link")))

	require.NoError(t, New(nil).Tree(context.Background(), root))

	target, err := os.Readlink(filepath.Join(root, "geoip.link"))
	require.NoError(t, err)
	assert.Equal(t, "geoip", target)
}

func TestTreeCorruptFile(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 5; i++ {
		writeFile(t, filepath.Join(root, fmt.Sprintf("good%d", i)), compressXZ(t, "fine"), 0644)
	}
	bad := filepath.Join(root, "nested", "geoip6")
	writeFile(t, bad, []byte("this is not xz"), 0644)

	err := New(nil).Tree(context.Background(), root)

	var decErr *Error
	require.True(t, errors.As(err, &decErr), "got %v", err)
	assert.Equal(t, bad, decErr.Path)
	assert.Contains(t, err.Error(), "xz")

	// The broken file is left as it was
	got, err := os.ReadFile(bad)
	require.NoError(t, err)
	assert.Equal(t, "this is not xz", string(got))
	entries, err := os.ReadDir(filepath.Dir(bad))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestTreeTruncatedStream(t *testing.T) {
	root := t.TempDir()
	data := compressXZ(t, strings.Repeat("geoip line\n", 1000))
	writeFile(t, filepath.Join(root, "geoip"), data[:len(data)/2], 0644)

	err := New(nil).Tree(context.Background(), root)
	var decErr *Error
	require.True(t, errors.As(err, &decErr), "got %v", err)
}

func TestTreeMissingDirectory(t *testing.T) {
	err := New(nil).Tree(context.Background(), filepath.Join(t.TempDir(), "missing"))
	var decErr *Error
	require.True(t, errors.As(err, &decErr))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestTreeCancelled(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "geoip"), compressXZ(t, "v4"), 0644)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := New(nil).Tree(ctx, root)
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
}

func TestCodecs(t *testing.T) {
	const content = "torrc-defaults content"
	tests := []struct {
		name  string
		codec Codec
		data  []byte
	}{
		{name: "xz", codec: XZ, data: compressXZ(t, content)},
		{name: "zstd", codec: Zstd, data: compressZstd(t, content)},
		{name: "gzip", codec: Gzip, data: compressGzip(t, content)},
		{name: "auto xz", codec: Auto, data: compressXZ(t, content)},
		{name: "auto zstd", codec: Auto, data: compressZstd(t, content)},
		{name: "auto gzip", codec: Auto, data: compressGzip(t, content)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			path := filepath.Join(root, "torrc-defaults")
			writeFile(t, path, tt.data, 0644)

			require.NoError(t, New(tt.codec).File(context.Background(), path))

			got, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, content, string(got))
		})
	}
}

func TestAutoUnknownFormat(t *testing.T) {
	_, err := Auto.NewReader(strings.NewReader("PK\x03\x04"))
	assert.ErrorContains(t, err, "unrecognized compression format")
}

func TestCodecByName(t *testing.T) {
	for _, name := range []string{"xz", "zstd", "gzip", "auto"} {
		c, err := CodecByName(name)
		require.NoError(t, err)
		assert.Equal(t, name, c.Name())
	}
	_, err := CodecByName("lzma")
	assert.Error(t, err)
}
