package cmd

import (
	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
	"github.com/binary-install/torfetch/pkg/config"
	"github.com/spf13/cobra"
)

// DefaultConfigPath is where the config is looked up when --config is not given
const DefaultConfigPath = ".config/" + config.FileName

var (
	// Global flags
	configFile string
	verbose    bool
	quiet      bool
)

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   "torfetch",
	Short: "Fetch the tor executable from official Tor Browser releases",
	Long: `torfetch downloads an official Tor Browser release, unpacks it with the
release's own mar-tools and lays out the tor executable with its data files
in a single directory:

  <dir>/tor[.exe]
  <dir>/torrc-defaults
  <dir>/geoip
  <dir>/geoip6

The layout is the same for macOS, Linux and Windows releases, so a host
application can start tor from it directly.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		log.SetHandler(cli.Default)
		if verbose {
			log.SetLevel(log.DebugLevel)
			log.Debugf("Verbose logging enabled")
		} else if quiet {
			log.SetLevel(log.ErrorLevel)
		} else {
			log.SetLevel(log.InfoLevel)
		}
		log.Debugf("Config file: %s", configFile)
	},
}

func init() {
	// Disable automatic command sorting to maintain semantic order
	cobra.EnableCommandSorting = false

	// Add global flags
	RootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to torfetch config file (default: "+DefaultConfigPath+" in this or a parent directory)")
	RootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Increase log verbosity")
	RootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "Suppress progress output")

	// Add command groups
	RootCmd.AddGroup(&cobra.Group{
		ID:    "release",
		Title: "Release Commands:",
	})
	RootCmd.AddGroup(&cobra.Group{
		ID:    "utility",
		Title: "Utility Commands:",
	})

	// Set group for built-in commands
	RootCmd.SetHelpCommandGroupID("utility")
	RootCmd.SetCompletionCommandGroupID("utility")

	RetrieveCommand.GroupID = "release"
	LatestCommand.GroupID = "release"

	RootCmd.AddCommand(RetrieveCommand)
	RootCmd.AddCommand(LatestCommand)
}
