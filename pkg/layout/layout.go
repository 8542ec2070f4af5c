// Package layout moves the tor files out of an unpacked Tor Browser tree into
// a flat directory that looks the same for every platform:
//
//	<dest>/
//	  tor[.exe]
//	  torrc-defaults
//	  geoip
//	  geoip6
//
// Libraries shipped next to the executable are moved along with it.
package layout

import (
	"os"
	"path/filepath"

	"github.com/apex/log"
	"github.com/binary-install/torfetch/pkg/install"
	"github.com/binary-install/torfetch/pkg/release"
	"github.com/pkg/errors"
)

// ExecutableName is the base name of the tor executable
const ExecutableName = "tor"

// DataFiles are the support files copied next to the executable
var DataFiles = []string{"torrc-defaults", "geoip", "geoip6"}

// UnsupportedPlatformError is returned for a platform with no known layout
type UnsupportedPlatformError = release.UnsupportedPlatformError

// Shape locates the tor files inside one platform's unpacked bundle
type Shape struct {
	// ExecutableDir holds the executable and its libraries
	ExecutableDir string
	// DataDir holds the DataFiles
	DataDir string
	// RenameFrom is the executable's name inside ExecutableDir when it is not ExecutableName
	RenameFrom string
}

var shapes = map[release.Platform]Shape{
	release.MacOS: {
		ExecutableDir: filepath.Join("Contents", "MacOS", "Tor"),
		DataDir:       filepath.Join("Contents", "Resources", "TorBrowser", "Tor"),
		RenameFrom:    "tor.real",
	},
	release.Linux: {
		ExecutableDir: filepath.Join("TorBrowser", "Tor"),
		DataDir:       filepath.Join("TorBrowser", "Data", "Tor"),
	},
	release.Windows: {
		ExecutableDir: filepath.Join("TorBrowser", "Tor"),
		DataDir:       filepath.Join("TorBrowser", "Data", "Tor"),
	},
}

// ShapeOf returns the bundle shape of platform
func ShapeOf(platform release.Platform) (Shape, error) {
	shape, ok := shapes[release.ParsePlatform(string(platform))]
	if !ok {
		return Shape{}, &UnsupportedPlatformError{Platform: platform}
	}
	return shape, nil
}

// ExecutableFilename returns the normalized name of the tor executable on platform
func ExecutableFilename(platform release.Platform) string {
	return ExecutableName + release.ParsePlatform(string(platform)).ExeSuffix()
}

// Normalize moves the tor executable, its libraries and the data files from
// the unpacked bundle at root into destDir. Files are moved, not copied, so
// root is left partially emptied.
func Normalize(platform release.Platform, root, destDir string) error {
	shape, err := ShapeOf(platform)
	if err != nil {
		return err
	}

	log.WithFields(log.Fields{"platform": platform, "dest": destDir}).Info("normalizing layout")

	if err := install.EnsureDir(destDir); err != nil {
		return err
	}

	exeDir := filepath.Join(root, shape.ExecutableDir)
	entries, err := os.ReadDir(exeDir)
	if err != nil {
		return errors.Wrap(err, "failed to read executable directory")
	}
	for _, entry := range entries {
		if err := install.Move(filepath.Join(exeDir, entry.Name()), filepath.Join(destDir, entry.Name())); err != nil {
			return err
		}
	}

	if shape.RenameFrom != "" {
		if err := install.Move(filepath.Join(destDir, shape.RenameFrom), filepath.Join(destDir, ExecutableName)); err != nil {
			return errors.Wrapf(err, "failed to rename %s", shape.RenameFrom)
		}
	}

	dataDir := filepath.Join(root, shape.DataDir)
	for _, name := range DataFiles {
		if err := install.Move(filepath.Join(dataDir, name), filepath.Join(destDir, name)); err != nil {
			return err
		}
	}

	return nil
}
