package config

import (
	"os"
	"path/filepath"

	"github.com/binary-install/torfetch/pkg/asset"
	"github.com/binary-install/torfetch/pkg/decompress"
	"github.com/binary-install/torfetch/pkg/release"
	"github.com/binary-install/torfetch/pkg/resolve"
	"github.com/binary-install/torfetch/pkg/verify"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// FileName is the config file looked up under .config/ by Discover.
const FileName = "torfetch.yml"

// ErrNotFound is returned by Discover when no config file exists in the
// working directory or any of its parents.
var ErrNotFound = errors.New("no torfetch config found")

// Config holds the settings a retrieval runs with.
type Config struct {
	Repository  string    `yaml:"repository,omitempty"`
	Branch      string    `yaml:"branch,omitempty"`
	Locale      string    `yaml:"locale,omitempty"`
	OutputDir   string    `yaml:"output_dir,omitempty"`
	Compression string    `yaml:"compression,omitempty"`
	UserAgent   string    `yaml:"user_agent,omitempty"`
	Checksums   bool      `yaml:"checksums,omitempty"`
	Signature   Signature `yaml:"signature,omitempty"`
}

// Signature configures detached signature checks on the bundle.
type Signature struct {
	Enabled     bool   `yaml:"enabled,omitempty"`
	Fingerprint string `yaml:"fingerprint,omitempty"`
	KeyServer   string `yaml:"keyserver,omitempty"`
	Require     bool   `yaml:"require,omitempty"`
}

// Default returns a config with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults fills in unset fields.
func (c *Config) SetDefaults() {
	if c.Repository == "" {
		c.Repository = resolve.DefaultRepositoryURL
	}
	if c.Branch == "" {
		c.Branch = string(release.Stable)
	}
	if c.Locale == "" {
		c.Locale = asset.DefaultLocale
	}
	if c.Compression == "" {
		c.Compression = decompress.XZ.Name()
	}
	if c.Signature.Fingerprint == "" {
		c.Signature.Fingerprint = verify.TorBrowserFingerprint
	}
	if c.Signature.KeyServer == "" {
		c.Signature.KeyServer = verify.DefaultKeyServer
	}
}

// Validate checks values that can only be known to be wrong once parsed.
func (c *Config) Validate() error {
	if _, err := release.ParseBranch(c.Branch); err != nil {
		return err
	}
	if _, err := decompress.CodecByName(c.Compression); err != nil {
		return err
	}
	return nil
}

// Load reads and parses a torfetch config file from the given path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read config file: %s", path)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrapf(err, "failed to parse config file: %s", path)
	}

	// Apply defaults
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid config file: %s", path)
	}

	return &cfg, nil
}

// Discover searches for .config/torfetch.yml in the current directory
// and parent directories
func Discover() (string, error) {
	// Start from current directory
	dir, err := os.Getwd()
	if err != nil {
		return "", errors.Wrap(err, "failed to get current directory")
	}

	for {
		configPath := filepath.Join(dir, ".config", FileName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath, nil
		}

		// Check if we've reached the root
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", ErrNotFound
}

// LoadOrDiscover loads a config from the given path, or discovers one if
// path is empty. A missing discovered config is not an error: the defaults
// are returned with an empty path.
func LoadOrDiscover(configPath string) (*Config, string, error) {
	path := configPath
	if path == "" {
		var err error
		path, err = Discover()
		if errors.Is(err, ErrNotFound) {
			return Default(), "", nil
		}
		if err != nil {
			return nil, "", err
		}
	}

	cfg, err := Load(path)
	if err != nil {
		return nil, "", err
	}

	return cfg, path, nil
}
