package cmd

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/apex/log"
	"github.com/binary-install/torfetch/pkg/config"
	"github.com/binary-install/torfetch/pkg/decompress"
	"github.com/binary-install/torfetch/pkg/fetch"
	"github.com/binary-install/torfetch/pkg/httpclient"
	"github.com/binary-install/torfetch/pkg/release"
	"github.com/binary-install/torfetch/pkg/resolve"
	"github.com/binary-install/torfetch/pkg/torfetch"
	"github.com/binary-install/torfetch/pkg/verify"
)

// detectHost returns the platform and architecture torfetch runs on.
// It is the only place the process environment is consulted for them.
func detectHost() (release.Platform, release.Arch) {
	return release.ParsePlatform(runtime.GOOS), release.ParseArch(runtime.GOARCH)
}

// loadConfig loads the config file given with --config, or discovers one
func loadConfig(cfgFile string) (*config.Config, error) {
	cfg, path, err := config.LoadOrDiscover(cfgFile)
	if err != nil {
		log.WithError(err).Error("Failed to load config")
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if path == "" {
		log.Debug("No config file found, using defaults")
	} else {
		log.Debugf("Using config file: %s", path)
	}
	return cfg, nil
}

// newDownloader builds the retrieval pipeline described by cfg
func newDownloader(cfg *config.Config, hostPlatform release.Platform, hostArch release.Arch) (*torfetch.Downloader, error) {
	codec, err := decompress.CodecByName(cfg.Compression)
	if err != nil {
		return nil, err
	}

	fetcher := fetch.New(httpclient.NewClient(cfg.UserAgent))
	fetcher.Progress = newProgressLogger()

	var verifier verify.Verifier = verify.Disabled
	if cfg.Signature.Enabled {
		verifier = verify.NewPGPVerifier(fetcher,
			verify.WithFingerprint(cfg.Signature.Fingerprint),
			verify.WithKeyServer(cfg.Signature.KeyServer),
		)
	}

	return torfetch.New(hostPlatform, hostArch,
		torfetch.WithFetcher(fetcher),
		torfetch.WithRepository(resolve.NewRepository(fetcher, resolve.WithBaseURL(cfg.Repository))),
		torfetch.WithLocale(cfg.Locale),
		torfetch.WithVerifier(verifier, cfg.Signature.Require),
		torfetch.WithChecksums(cfg.Checksums),
		torfetch.WithDecompressor(decompress.New(codec)),
	), nil
}

// newProgressLogger returns a fetch.ProgressFunc logging each quarter of a
// download at debug level. Downloads run concurrently, so they are told
// apart by their size.
func newProgressLogger() fetch.ProgressFunc {
	var mu sync.Mutex
	reported := map[int64]int64{}
	return func(downloaded, total int64) {
		if total <= 0 {
			return
		}
		quarter := downloaded * 4 / total
		mu.Lock()
		defer mu.Unlock()
		if quarter <= reported[total] {
			return
		}
		reported[total] = quarter
		log.Debugf("Downloaded %d%% of %d bytes", quarter*25, total)
	}
}
