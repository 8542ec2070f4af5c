package asset

import (
	"fmt"
	"strings"

	"github.com/buildkite/interpolate"
)

const (
	// DefaultBundleTemplate names the MAR archive holding a full browser release
	DefaultBundleTemplate = "tor-browser-${OS}${BITS}-${VERSION}_${LOCALE}.mar"
	// DefaultToolTemplate names the zip archive holding signmar and its libraries
	DefaultToolTemplate = "mar-tools-${OS}${BITS}.zip"
	// DefaultLocale is the locale suffix of multi-locale bundles
	DefaultLocale = "ALL"
)

// Vars are the values substituted into a filename template
type Vars struct {
	OS      string
	Bits    string
	Version string
	Locale  string
}

// FilenameGenerator generates artifact filenames from a template
type FilenameGenerator struct {
	Template string
}

// NewFilenameGenerator creates a new filename generator
func NewFilenameGenerator(template string) *FilenameGenerator {
	return &FilenameGenerator{
		Template: template,
	}
}

// GenerateFilename creates a filename for the given values.
// Every variable referenced by the template must be non-empty.
func (g *FilenameGenerator) GenerateFilename(vars Vars) (string, error) {
	if strings.TrimSpace(g.Template) == "" {
		return "", fmt.Errorf("filename template not defined")
	}

	envMap := map[string]string{
		"OS":      vars.OS,
		"BITS":    vars.Bits,
		"VERSION": vars.Version,
		"LOCALE":  vars.Locale,
	}

	identifiers, err := interpolate.Identifiers(g.Template)
	if err != nil {
		return "", fmt.Errorf("failed to parse filename template %q: %w", g.Template, err)
	}
	for _, id := range identifiers {
		value, ok := envMap[id]
		if !ok {
			return "", fmt.Errorf("unknown variable ${%s} in filename template", id)
		}
		if value == "" {
			return "", fmt.Errorf("variable ${%s} is empty for template %q", id, g.Template)
		}
	}

	filename, err := interpolate.Interpolate(interpolate.NewMapEnv(envMap), g.Template)
	if err != nil {
		return "", fmt.Errorf("failed to interpolate filename template: %w", err)
	}

	return filename, nil
}
