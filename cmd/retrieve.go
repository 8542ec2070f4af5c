package cmd

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/apex/log"
	"github.com/binary-install/torfetch/pkg/config"
	"github.com/binary-install/torfetch/pkg/install"
	"github.com/binary-install/torfetch/pkg/release"
	"github.com/binary-install/torfetch/pkg/torfetch"
	"github.com/spf13/cobra"
)

// targetFlags select the release a command works on
type targetFlags struct {
	Branch   string
	Platform string
	Arch     string
}

func (f *targetFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.Branch, "branch", "b", "", "Release branch: stable or alpha (default from config, or stable)")
	cmd.Flags().StringVar(&f.Platform, "platform", "", "Target platform: osx, linux or win (default: this machine)")
	cmd.Flags().StringVar(&f.Arch, "arch", "", "Target architecture: x64, ia32 or arm64 (default: this machine)")
}

// retrieveOptions holds everything runRetrieve needs besides the config
type retrieveOptions struct {
	Dir     string
	Version string
	Target  targetFlags
	NoChmod bool
}

var (
	retrieveOpts       retrieveOptions
	retrieveChecksums  bool
	retrieveSignature  bool
	retrieveRequireSig bool
)

// RetrieveCommand represents the retrieve command
var RetrieveCommand = &cobra.Command{
	Use:   "retrieve [VERSION]",
	Short: "Download a Tor Browser release and unpack tor into a directory",
	Long: `Download a Tor Browser release and unpack the tor executable, its
libraries and its data files into a directory.

Without VERSION the latest release of the branch is used. The release's
mar-tools are downloaded for this machine, while the bundle itself can target
another platform with --platform and --arch.`,
	Example: `  # Latest stable release for this machine
  torfetch retrieve

  # Specific version into a custom directory
  torfetch retrieve 13.0.1 --dir ./tor

  # Latest alpha, checking the bundle against the release checksums
  torfetch retrieve --branch alpha --checksums`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(configFile)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("checksums") {
			cfg.Checksums = retrieveChecksums
		}
		if cmd.Flags().Changed("verify-signature") {
			cfg.Signature.Enabled = retrieveSignature
		}
		if cmd.Flags().Changed("require-signature") {
			cfg.Signature.Require = retrieveRequireSig
			if retrieveRequireSig {
				cfg.Signature.Enabled = true
			}
		}

		opts := retrieveOpts
		if len(args) == 1 {
			opts.Version = args[0]
		}

		hostPlatform, hostArch := detectHost()
		return runRetrieve(cmd.Context(), cfg, opts, hostPlatform, hostArch, cmd.OutOrStdout())
	},
}

func init() {
	RetrieveCommand.Flags().StringVarP(&retrieveOpts.Dir, "dir", "d", "", "Output directory (default: $TORFETCH_DIR or ~/.local/share/torfetch/tor)")
	retrieveOpts.Target.register(RetrieveCommand)
	RetrieveCommand.Flags().BoolVar(&retrieveOpts.NoChmod, "no-chmod", false, "Do not mark the tor executable as executable")
	RetrieveCommand.Flags().BoolVar(&retrieveChecksums, "checksums", false, "Check the bundle against the release's sha256sums-signed-build.txt")
	RetrieveCommand.Flags().BoolVar(&retrieveSignature, "verify-signature", false, "Check the bundle's detached OpenPGP signature")
	RetrieveCommand.Flags().BoolVar(&retrieveRequireSig, "require-signature", false, "Fail unless the bundle's signature is verified")
}

// runRetrieve retrieves the selected release and prints the path of the
// tor executable to out
func runRetrieve(ctx context.Context, cfg *config.Config, opts retrieveOptions, hostPlatform release.Platform, hostArch release.Arch, out io.Writer) error {
	dir := opts.Dir
	if dir == "" {
		dir = cfg.OutputDir
	}
	outputDir, err := install.ResolveOutputDir(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve output directory: %w", err)
	}

	d, err := newDownloader(cfg, hostPlatform, hostArch)
	if err != nil {
		return err
	}

	rel, err := selectRelease(ctx, d, cfg, opts.Version, opts.Target)
	if err != nil {
		return err
	}
	log.Infof("Selected release: %s", rel)

	if err := d.Retrieve(ctx, outputDir, rel); err != nil {
		return fmt.Errorf("failed to retrieve %s: %w", rel.Version, err)
	}

	if !opts.NoChmod {
		if err := torfetch.MakeExecutable(outputDir, rel.Platform); err != nil {
			return fmt.Errorf("failed to make tor executable: %w", err)
		}
	}

	fmt.Fprintln(out, filepath.Join(outputDir, torfetch.ExecutableFilename(rel.Platform)))
	return nil
}

// selectRelease builds the release named by version, or resolves the
// latest one of the selected branch. The target platform and architecture
// default to the downloader's host.
func selectRelease(ctx context.Context, d *torfetch.Downloader, cfg *config.Config, version string, target targetFlags) (*release.Release, error) {
	platform, arch := d.Host()
	if target.Platform != "" {
		platform = release.ParsePlatform(target.Platform)
	}
	if target.Arch != "" {
		arch = release.ParseArch(target.Arch)
	}
	if !platform.Known() {
		return nil, fmt.Errorf("unsupported platform: %s", platform)
	}
	if _, err := arch.Bits(); err != nil {
		return nil, err
	}

	if version != "" {
		// An explicit version carries its own branch unless --branch says otherwise
		var branch release.Branch
		if target.Branch != "" {
			b, err := release.ParseBranch(target.Branch)
			if err != nil {
				return nil, err
			}
			branch = b
		}
		rel, err := release.New(release.Version(version), platform, arch, branch)
		if err != nil {
			return nil, err
		}
		rel.Locale = cfg.Locale
		return rel, nil
	}

	branchName := target.Branch
	if branchName == "" {
		branchName = cfg.Branch
	}
	branch, err := release.ParseBranch(branchName)
	if err != nil {
		return nil, err
	}
	rel, err := release.FromBranch(ctx, d.Repository(), branch, platform, arch)
	if err != nil {
		return nil, err
	}
	rel.Locale = cfg.Locale
	return rel, nil
}
