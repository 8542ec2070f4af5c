// Package release describes a single Tor Browser release and derives the
// names of the artifacts published for it.
package release

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/binary-install/torfetch/pkg/asset"
	"github.com/pkg/errors"
)

// Platform is the operating system a release is built for
type Platform string

const (
	MacOS   Platform = "osx"
	Linux   Platform = "linux"
	Windows Platform = "win"
)

// ParsePlatform normalizes a platform name, accepting Go and Node style aliases.
// Unknown names are returned unchanged.
func ParsePlatform(s string) Platform {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "darwin", "osx", "macos", "mac":
		return MacOS
	case "linux":
		return Linux
	case "win32", "win", "windows":
		return Windows
	default:
		return Platform(s)
	}
}

// Known reports whether p is one of the supported platforms
func (p Platform) Known() bool {
	switch p {
	case MacOS, Linux, Windows:
		return true
	}
	return false
}

// UnsupportedPlatformError is returned for a platform with no known artifacts or layout
type UnsupportedPlatformError struct {
	Platform Platform
}

func (e *UnsupportedPlatformError) Error() string {
	return fmt.Sprintf("unsupported platform: %s", e.Platform)
}

// ExeSuffix returns the executable suffix used on the platform
func (p Platform) ExeSuffix() string {
	if p == Windows {
		return ".exe"
	}
	return ""
}

// Arch is the CPU architecture a release is built for
type Arch string

const (
	X64   Arch = "x64"
	IA32  Arch = "ia32"
	ARM64 Arch = "arm64"
)

// ParseArch normalizes an architecture name. Unknown names are returned unchanged.
func ParseArch(s string) Arch {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "x64", "amd64", "x86_64":
		return X64
	case "ia32", "386", "x86", "i686":
		return IA32
	case "arm64", "aarch64":
		return ARM64
	default:
		return Arch(s)
	}
}

// Bits returns the word size used in artifact filenames
func (a Arch) Bits() (string, error) {
	switch a {
	case X64, ARM64:
		return "64", nil
	case IA32:
		return "32", nil
	default:
		return "", fmt.Errorf("unsupported architecture: %s", a)
	}
}

// Branch is a release channel
type Branch string

const (
	Stable Branch = "stable"
	Alpha  Branch = "alpha"
)

// ParseBranch validates a branch name
func ParseBranch(s string) (Branch, error) {
	switch b := Branch(strings.ToLower(strings.TrimSpace(s))); b {
	case Stable, Alpha:
		return b, nil
	case "":
		return Stable, nil
	default:
		return "", fmt.Errorf("unknown branch %q (want %q or %q)", s, Stable, Alpha)
	}
}

// Accepts reports whether v is published on the branch.
// Alpha versions carry an "a" marker and belong to no other branch.
func (b Branch) Accepts(v Version) bool {
	switch b {
	case Stable:
		return !v.IsAlpha()
	case Alpha:
		return v.IsAlpha()
	}
	return false
}

// Version is a release version such as "13.0.1" or "14.0a2"
type Version string

// IsAlpha reports whether the version carries the alpha marker
func (v Version) IsAlpha() bool {
	return strings.Contains(string(v), "a")
}

// SortKey strips separators and the alpha marker and parses the remaining
// digits. "9.0" and "10.0" give 90 and 100; versions whose digit counts differ
// after stripping do not compare semantically.
func (v Version) SortKey() (int64, error) {
	digits := strings.NewReplacer(".", "", "a", "").Replace(string(v))
	key, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid version %q", v)
	}
	return key, nil
}

// ErrBranchMismatch is returned when a version does not belong to the requested branch
var ErrBranchMismatch = errors.New("version does not belong to branch")

// VersionResolver finds the newest version published on a branch
type VersionResolver interface {
	LatestVersion(ctx context.Context, branch Branch) (Version, error)
}

// Release identifies one distributable Tor Browser build
type Release struct {
	Version  Version
	Platform Platform
	Arch     Arch
	Branch   Branch

	// Locale is the bundle locale suffix, asset.DefaultLocale when empty
	Locale string
}

// New creates a release and checks that version and branch agree.
// Platform and arch aliases are normalized.
func New(version Version, platform Platform, arch Arch, branch Branch) (*Release, error) {
	if version == "" {
		return nil, fmt.Errorf("release version is required")
	}
	if branch == "" {
		branch = Stable
		if version.IsAlpha() {
			branch = Alpha
		}
	}
	if !branch.Accepts(version) {
		return nil, errors.Wrapf(ErrBranchMismatch, "%s is not a %s version", version, branch)
	}
	return &Release{
		Version:  version,
		Platform: ParsePlatform(string(platform)),
		Arch:     ParseArch(string(arch)),
		Branch:   branch,
	}, nil
}

// FromBranch resolves the latest version of branch and builds the release for it
func FromBranch(ctx context.Context, resolver VersionResolver, branch Branch, platform Platform, arch Arch) (*Release, error) {
	version, err := resolver.LatestVersion(ctx, branch)
	if err != nil {
		return nil, err
	}
	return New(version, platform, arch, branch)
}

// String implements fmt.Stringer
func (r *Release) String() string {
	return fmt.Sprintf("%s %s (%s/%s)", r.Branch, r.Version, r.Platform, r.Arch)
}

func (r *Release) locale() string {
	if r.Locale != "" {
		return r.Locale
	}
	return asset.DefaultLocale
}

// BundleFilename returns the filename of the release's MAR bundle
func (r *Release) BundleFilename() (string, error) {
	return DefaultTemplates.BundleFilename(r)
}

// ToolFilename returns the filename of the mar-tools archive for r's platform
func (r *Release) ToolFilename() (string, error) {
	return DefaultTemplates.ToolFilename(r)
}

// ToolRelease returns the mar-tools release usable on the host. mar-tools are
// published per host platform, so only the version is shared with r.
func (r *Release) ToolRelease(hostPlatform Platform, hostArch Arch) *Release {
	return &Release{
		Version:  r.Version,
		Platform: hostPlatform,
		Arch:     hostArch,
		Branch:   r.Branch,
	}
}
