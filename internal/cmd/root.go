package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"ghconf/internal/logging"
	"ghconf/pkg/reconcile"
)

// Exit codes
const (
	exitOK             = 0
	exitError          = 1
	exitPartialFailure = 2
)

var (
	configPath string
	orgFlag    string
	tokenFlag  string
	verbose    bool
	quiet      bool
	noColor    bool
)

var logger = zerolog.Nop()

// set with -ldflags "-X ghconf/internal/cmd.version=..."
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "ghconf",
	Short: "Declarative GitHub organization management",
	Long: `ghconf reconciles a GitHub organization with desired state declared in
module files: organization admins, the team hierarchy, team membership,
repository access and repository settings.

Every run observes the organization, computes the changes needed and shows
them before anything is modified.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, _ []string) {
		logger = logging.Init("ghconf", logging.Options{
			Verbose: verbose,
			Quiet:   quiet,
			NoColor: noColor,
			Out:     cmd.ErrOrStderr(),
		})
	},
}

// Execute runs the root command and exits with 1 on errors and 2 when some changes failed
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var partial *reconcile.PartialFailureError
	if errors.As(err, &partial) {
		return exitPartialFailure
	}
	return exitError
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "Path to the ghconf configuration file (default ~/.ghconf/config.yaml)")
	flags.StringVarP(&orgFlag, "org", "o", "", "GitHub organization (overrides organization in the config file)")
	flags.StringVar(&tokenFlag, "github-token", "", "GitHub token (overrides GITHUB_TOKEN and the config file)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging and list unchanged elements")
	flags.BoolVarP(&quiet, "quiet", "q", false, "Only log warnings and errors")
	flags.BoolVar(&noColor, "no-color", false, "Disable colored log output")

	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(unconfiguredCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(authCmd)
}
