package release

import (
	"github.com/binary-install/torfetch/pkg/asset"
)

// Templates holds the filename templates of the two artifacts of a release
type Templates struct {
	Bundle string
	Tool   string
}

// DefaultTemplates match the naming used on dist.torproject.org
var DefaultTemplates = Templates{
	Bundle: asset.DefaultBundleTemplate,
	Tool:   asset.DefaultToolTemplate,
}

// BundleFilename derives the MAR bundle filename of r
func (t Templates) BundleFilename(r *Release) (string, error) {
	platform := ParsePlatform(string(r.Platform))
	if !platform.Known() {
		return "", &UnsupportedPlatformError{Platform: r.Platform}
	}
	bits, err := ParseArch(string(r.Arch)).Bits()
	if err != nil {
		return "", err
	}
	return asset.NewFilenameGenerator(t.Bundle).GenerateFilename(asset.Vars{
		OS:      string(platform),
		Bits:    bits,
		Version: string(r.Version),
		Locale:  r.locale(),
	})
}

// ToolFilename derives the mar-tools archive filename of r.
// The tool archives use "mac" where bundles use "osx".
func (t Templates) ToolFilename(r *Release) (string, error) {
	var osName string
	switch platform := ParsePlatform(string(r.Platform)); platform {
	case MacOS:
		osName = "mac"
	case Linux, Windows:
		osName = string(platform)
	default:
		return "", &UnsupportedPlatformError{Platform: r.Platform}
	}
	bits, err := ParseArch(string(r.Arch)).Bits()
	if err != nil {
		return "", err
	}
	return asset.NewFilenameGenerator(t.Tool).GenerateFilename(asset.Vars{
		OS:      osName,
		Bits:    bits,
		Version: string(r.Version),
		Locale:  r.locale(),
	})
}
