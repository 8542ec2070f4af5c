package layout

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/binary-install/torfetch/pkg/release"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTree creates files (relative path -> content) under root
func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
}

// listTree returns every file under root as slash separated relative paths
func listTree(t *testing.T, root string) []string {
	t.Helper()
	var files []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	require.NoError(t, err)
	sort.Strings(files)
	return files
}

func dataFiles(prefix string) map[string]string {
	return map[string]string{
		prefix + "/torrc-defaults": "defaults",
		prefix + "/geoip":          "v4",
		prefix + "/geoip6":         "v6",
	}
}

func merge(maps ...map[string]string) map[string]string {
	out := map[string]string{}
	for _, m := range maps {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		platform release.Platform
		tree     map[string]string
		want     []string
		wantTor  string
	}{
		{
			name:     "macos bundle renames tor.real",
			platform: release.MacOS,
			tree: merge(map[string]string{
				"Contents/MacOS/Tor/tor.real":             "macho",
				"Contents/MacOS/Tor/libevent-2.1.7.dylib": "lib",
				"Contents/MacOS/firefox":                  "browser",
			}, dataFiles("Contents/Resources/TorBrowser/Tor")),
			want:    []string{"geoip", "geoip6", "libevent-2.1.7.dylib", "tor", "torrc-defaults"},
			wantTor: "macho",
		},
		{
			name:     "darwin alias",
			platform: release.Platform("darwin"),
			tree: merge(map[string]string{
				"Contents/MacOS/Tor/tor.real": "macho",
			}, dataFiles("Contents/Resources/TorBrowser/Tor")),
			want:    []string{"geoip", "geoip6", "tor", "torrc-defaults"},
			wantTor: "macho",
		},
		{
			name:     "linux bundle keeps names",
			platform: release.Linux,
			tree: merge(map[string]string{
				"TorBrowser/Tor/tor":                          "elf",
				"TorBrowser/Tor/libevent-2.1.so.7":            "lib",
				"TorBrowser/Tor/PluggableTransports/lyrebird": "pt",
				"Browser/firefox":                             "browser",
			}, dataFiles("TorBrowser/Data/Tor")),
			want:    []string{"PluggableTransports/lyrebird", "geoip", "geoip6", "libevent-2.1.so.7", "tor", "torrc-defaults"},
			wantTor: "elf",
		},
		{
			name:     "windows bundle",
			platform: release.Windows,
			tree: merge(map[string]string{
				"TorBrowser/Tor/tor.exe": "pe",
			}, dataFiles("TorBrowser/Data/Tor")),
			want: []string{"geoip", "geoip6", "tor.exe", "torrc-defaults"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := filepath.Join(t.TempDir(), "tor-browser")
			writeTree(t, root, tt.tree)
			dest := filepath.Join(t.TempDir(), "tor")

			require.NoError(t, Normalize(tt.platform, root, dest))

			if diff := cmp.Diff(tt.want, listTree(t, dest)); diff != "" {
				t.Errorf("layout mismatch (-want +got):\n%s", diff)
			}

			if tt.wantTor != "" {
				content, err := os.ReadFile(filepath.Join(dest, ExecutableName))
				require.NoError(t, err)
				assert.Equal(t, tt.wantTor, string(content))
			}

			content, err := os.ReadFile(filepath.Join(dest, "torrc-defaults"))
			require.NoError(t, err)
			assert.Equal(t, "defaults", string(content))
		})
	}
}

func TestNormalizeUnsupportedPlatform(t *testing.T) {
	root := filepath.Join(t.TempDir(), "tor-browser")
	tree := merge(map[string]string{"TorBrowser/Tor/tor": "elf"}, dataFiles("TorBrowser/Data/Tor"))
	writeTree(t, root, tree)
	before := listTree(t, root)

	dest := filepath.Join(t.TempDir(), "tor")
	err := Normalize(release.Platform("plan9"), root, dest)

	var unsupported *UnsupportedPlatformError
	require.True(t, errors.As(err, &unsupported), "got %v", err)
	assert.Equal(t, release.Platform("plan9"), unsupported.Platform)
	assert.EqualError(t, err, "unsupported platform: plan9")

	assert.Equal(t, before, listTree(t, root))
	assert.NoDirExists(t, dest)
}

func TestNormalizeIntoExistingDirectory(t *testing.T) {
	root := filepath.Join(t.TempDir(), "tor-browser")
	writeTree(t, root, merge(map[string]string{"TorBrowser/Tor/tor": "new"}, dataFiles("TorBrowser/Data/Tor")))

	dest := t.TempDir()
	writeTree(t, dest, map[string]string{"tor": "old", "geoip": "old", "notes.txt": "mine"})

	require.NoError(t, Normalize(release.Linux, root, dest))

	content, err := os.ReadFile(filepath.Join(dest, "tor"))
	require.NoError(t, err)
	assert.Equal(t, "new", string(content))
	content, err = os.ReadFile(filepath.Join(dest, "geoip"))
	require.NoError(t, err)
	assert.Equal(t, "v4", string(content))
	assert.FileExists(t, filepath.Join(dest, "notes.txt"))
}

func TestNormalizeMissingDataFile(t *testing.T) {
	root := filepath.Join(t.TempDir(), "tor-browser")
	writeTree(t, root, map[string]string{
		"TorBrowser/Tor/tor":                 "elf",
		"TorBrowser/Data/Tor/torrc-defaults": "defaults",
	})

	err := Normalize(release.Linux, root, t.TempDir())
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist), "got %v", err)
}

func TestNormalizeMissingExecutableDir(t *testing.T) {
	err := Normalize(release.MacOS, t.TempDir(), t.TempDir())
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist), "got %v", err)
}

func TestExecutableFilename(t *testing.T) {
	assert.Equal(t, "tor.exe", ExecutableFilename(release.Windows))
	assert.Equal(t, "tor.exe", ExecutableFilename("win32"))
	assert.Equal(t, "tor", ExecutableFilename(release.MacOS))
	assert.Equal(t, "tor", ExecutableFilename(release.Linux))
	assert.Equal(t, "tor", ExecutableFilename("freebsd"))
}
