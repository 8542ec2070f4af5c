// Package torfetch retrieves a Tor Browser release and leaves a runnable tor
// executable with its data files in an output directory.
//
// A retrieval downloads the release's MAR bundle and the host's mar-tools
// archive into a private scratch directory, unpacks the bundle with signmar,
// moves the tor files into the output directory and decompresses them in
// place. The scratch directory is removed whether or not the retrieval
// succeeds.
package torfetch

import (
	"context"
	"os"
	"path/filepath"

	"github.com/apex/log"
	"github.com/binary-install/torfetch/pkg/archive"
	"github.com/binary-install/torfetch/pkg/decompress"
	"github.com/binary-install/torfetch/pkg/fetch"
	"github.com/binary-install/torfetch/pkg/httpclient"
	"github.com/binary-install/torfetch/pkg/install"
	"github.com/binary-install/torfetch/pkg/layout"
	"github.com/binary-install/torfetch/pkg/release"
	"github.com/binary-install/torfetch/pkg/resolve"
	"github.com/binary-install/torfetch/pkg/signmar"
	"github.com/binary-install/torfetch/pkg/verify"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// unpackDirName is the scratch subdirectory the bundle is unpacked into
const unpackDirName = "tor-browser"

// ExtractorFunc returns the extractor for the signmar binary at path
type ExtractorFunc func(path string) signmar.Extractor

// Downloader runs retrievals. It is safe to use from several goroutines
// as long as each retrieval targets its own output directory.
type Downloader struct {
	fetcher          *fetch.Fetcher
	repo             *resolve.Repository
	hostPlatform     release.Platform
	hostArch         release.Arch
	locale           string
	verifier         verify.Verifier
	requireSignature bool
	checksums        bool
	scratchParent    string
	decompressor     *decompress.Decompressor
	newExtractor     ExtractorFunc
}

// Option configures a Downloader
type Option func(*Downloader)

// WithFetcher sets the HTTP fetcher used for every download
func WithFetcher(f *fetch.Fetcher) Option {
	return func(d *Downloader) {
		d.fetcher = f
	}
}

// WithRepository sets the release repository
func WithRepository(repo *resolve.Repository) Option {
	return func(d *Downloader) {
		d.repo = repo
	}
}

// WithLocale sets the bundle locale of releases that do not carry one
func WithLocale(locale string) Option {
	return func(d *Downloader) {
		d.locale = locale
	}
}

// WithVerifier checks the bundle's detached signature with v. When require
// is set an Unavailable outcome fails the retrieval too.
func WithVerifier(v verify.Verifier, require bool) Option {
	return func(d *Downloader) {
		d.verifier = v
		d.requireSignature = require
	}
}

// WithChecksums checks the bundle against the release's checksum list
func WithChecksums(enabled bool) Option {
	return func(d *Downloader) {
		d.checksums = enabled
	}
}

// WithScratchDir sets the parent of per-retrieval scratch directories.
// The system temp directory is used when dir is empty.
func WithScratchDir(dir string) Option {
	return func(d *Downloader) {
		d.scratchParent = dir
	}
}

// WithDecompressor sets how the output files are decompressed
func WithDecompressor(dec *decompress.Decompressor) Option {
	return func(d *Downloader) {
		d.decompressor = dec
	}
}

// WithExtractor replaces the signmar invocation
func WithExtractor(fn ExtractorFunc) Option {
	return func(d *Downloader) {
		d.newExtractor = fn
	}
}

// New creates a Downloader fetching mar-tools that run on hostPlatform and
// hostArch. Without options it reads the default repository and skips
// signature checks.
func New(hostPlatform release.Platform, hostArch release.Arch, opts ...Option) *Downloader {
	d := &Downloader{
		hostPlatform: hostPlatform,
		hostArch:     hostArch,
		verifier:     verify.Disabled,
		decompressor: decompress.New(nil),
		newExtractor: func(path string) signmar.Extractor {
			return &signmar.Tool{Path: path}
		},
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.fetcher == nil {
		d.fetcher = fetch.New(httpclient.NewClient(httpclient.DefaultUserAgent))
	}
	if d.repo == nil {
		d.repo = resolve.NewRepository(d.fetcher)
	}
	if d.verifier == nil {
		d.verifier = verify.Disabled
	}
	return d
}

// Repository returns the repository the downloader resolves against
func (d *Downloader) Repository() *resolve.Repository {
	return d.repo
}

// Host returns the platform and architecture mar-tools are fetched for
func (d *Downloader) Host() (release.Platform, release.Arch) {
	return d.hostPlatform, d.hostArch
}

// Resolve returns the latest release of branch for the host
func (d *Downloader) Resolve(ctx context.Context, branch release.Branch) (*release.Release, error) {
	rel, err := release.FromBranch(ctx, d.repo, branch, d.hostPlatform, d.hostArch)
	if err != nil {
		return nil, err
	}
	rel.Locale = d.locale
	return rel, nil
}

// Retrieve fetches rel and leaves the normalized tor files in outputDir.
// A nil rel means the latest stable release for the host.
func (d *Downloader) Retrieve(ctx context.Context, outputDir string, rel *release.Release) error {
	if rel == nil {
		var err error
		rel, err = d.Resolve(ctx, release.Stable)
		if err != nil {
			return err
		}
	} else if rel.Locale == "" && d.locale != "" {
		r := *rel
		r.Locale = d.locale
		rel = &r
	}

	bundleURL, err := d.repo.ReleaseURL(rel)
	if err != nil {
		return err
	}
	toolURL, err := d.repo.ToolURL(rel.ToolRelease(d.hostPlatform, d.hostArch))
	if err != nil {
		return err
	}

	logger := log.WithFields(log.Fields{
		"release": rel.String(),
		"output":  outputDir,
	})
	logger.Info("retrieving tor")

	scratch, err := os.MkdirTemp(d.scratchParent, "torfetch-")
	if err != nil {
		return errors.Wrap(err, "failed to create scratch directory")
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			logger.WithError(err).Warn("failed to remove scratch directory")
		}
	}()

	if err := install.EnsureDir(outputDir); err != nil {
		return err
	}

	var bundlePath string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("url", bundleURL).Info("downloading bundle")
		path, err := d.fetcher.FetchToDir(gctx, bundleURL, scratch)
		if err != nil {
			return err
		}
		bundlePath = path
		return d.verifyBundle(gctx, rel, path, scratch)
	})
	g.Go(func() error {
		logger.WithField("url", toolURL).Info("downloading mar-tools")
		zipPath, err := d.fetcher.FetchToDir(gctx, toolURL, scratch)
		if err != nil {
			return err
		}
		return archive.Unzip(gctx, zipPath, scratch)
	})
	if err := g.Wait(); err != nil {
		return err
	}

	unpacked := filepath.Join(scratch, unpackDirName)
	extractor := d.newExtractor(signmar.ToolPath(scratch, d.hostPlatform))
	if err := extractor.Extract(ctx, scratch, unpacked, bundlePath); err != nil {
		return err
	}

	if err := layout.Normalize(rel.Platform, unpacked, outputDir); err != nil {
		return err
	}

	if err := d.decompressor.Tree(ctx, outputDir); err != nil {
		return err
	}

	logger.Info("tor retrieved")
	return nil
}

func (d *Downloader) verifyBundle(ctx context.Context, rel *release.Release, bundlePath, dir string) error {
	filename := filepath.Base(bundlePath)

	if d.checksums {
		sumsPath, err := d.fetcher.FetchToDir(ctx, d.repo.ChecksumsURL(rel.Version), dir)
		if err != nil {
			return err
		}
		if err := verify.VerifyWithChecksumFile(bundlePath, sumsPath); err != nil {
			return err
		}
		log.WithField("file", filename).Info("checksum verified")
	}

	outcome := verify.Unavailable
	if d.verifier != verify.Disabled {
		sigURL, err := d.repo.SignatureURL(rel)
		if err != nil {
			return err
		}
		sigPath, err := d.fetcher.FetchToDir(ctx, sigURL, dir)
		if err != nil {
			return err
		}
		outcome, err = d.verifier.Verify(ctx, bundlePath, sigPath)
		if err != nil {
			return err
		}
	}

	log.WithFields(log.Fields{"file": filename, "signature": outcome.String()}).Debug("signature checked")
	if !outcome.Allows() || (outcome == verify.Unavailable && d.requireSignature) {
		return &verify.SignatureError{Filename: filename, Outcome: outcome}
	}
	return nil
}

// ExecutableFilename returns the name of the tor executable in an output
// directory for platform
func ExecutableFilename(platform release.Platform) string {
	return layout.ExecutableFilename(platform)
}

// MakeExecutable adds execute permission to the tor executable retrieved
// into outputDir
func MakeExecutable(outputDir string, platform release.Platform) error {
	return install.MakeExecutable(filepath.Join(outputDir, ExecutableFilename(platform)))
}
