package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/binary-install/torfetch/pkg/config"
	"github.com/binary-install/torfetch/pkg/release"
	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
)

var (
	latestTarget targetFlags
	latestYAML   bool
)

// LatestCommand represents the latest command
var LatestCommand = &cobra.Command{
	Use:   "latest",
	Short: "Print the latest release of a branch",
	Long: `Print the latest Tor Browser version published on a branch.

With --yaml the full release is printed, including the URLs of every
artifact a retrieval would download.`,
	Example: `  # Latest stable version
  torfetch latest

  # Latest alpha for Windows with artifact URLs
  torfetch latest --branch alpha --platform win --yaml`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(configFile)
		if err != nil {
			return err
		}
		hostPlatform, hostArch := detectHost()
		return runLatest(cmd.Context(), cfg, latestTarget, latestYAML, hostPlatform, hostArch, cmd.OutOrStdout())
	},
}

func init() {
	latestTarget.register(LatestCommand)
	LatestCommand.Flags().BoolVar(&latestYAML, "yaml", false, "Print the release and its artifact URLs as YAML")
}

// releaseInfo is the YAML view of a resolved release
type releaseInfo struct {
	Version      string `yaml:"version"`
	Branch       string `yaml:"branch"`
	Platform     string `yaml:"platform"`
	Arch         string `yaml:"arch"`
	Locale       string `yaml:"locale"`
	BundleURL    string `yaml:"bundle_url"`
	ToolURL      string `yaml:"tool_url"`
	SignatureURL string `yaml:"signature_url"`
	ChecksumsURL string `yaml:"checksums_url"`
}

func runLatest(ctx context.Context, cfg *config.Config, target targetFlags, asYAML bool, hostPlatform release.Platform, hostArch release.Arch, out io.Writer) error {
	d, err := newDownloader(cfg, hostPlatform, hostArch)
	if err != nil {
		return err
	}

	rel, err := selectRelease(ctx, d, cfg, "", target)
	if err != nil {
		return err
	}

	if !asYAML {
		fmt.Fprintln(out, rel.Version)
		return nil
	}

	repo := d.Repository()
	bundleURL, err := repo.ReleaseURL(rel)
	if err != nil {
		return err
	}
	toolURL, err := repo.ToolURL(rel.ToolRelease(hostPlatform, hostArch))
	if err != nil {
		return err
	}
	sigURL, err := repo.SignatureURL(rel)
	if err != nil {
		return err
	}

	info := releaseInfo{
		Version:      string(rel.Version),
		Branch:       string(rel.Branch),
		Platform:     string(rel.Platform),
		Arch:         string(rel.Arch),
		Locale:       rel.Locale,
		BundleURL:    bundleURL,
		ToolURL:      toolURL,
		SignatureURL: sigURL,
		ChecksumsURL: repo.ChecksumsURL(rel.Version),
	}
	data, err := yaml.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to marshal release: %w", err)
	}
	_, err = out.Write(data)
	return err
}
