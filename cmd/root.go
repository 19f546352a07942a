package cmd

import (
	"context"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mgflat/pkg/logging"
	"mgflat/pkg/version"
)

// app carries state shared by all commands of one invocation.
type app struct {
	runID   string
	verbose bool
	logger  *zap.Logger
}

// NewRootCmd builds the command tree. Flattening is the root action.
func NewRootCmd(runID string) (*cobra.Command, *app) {
	a := &app{runID: runID}
	flags := &flattenFlags{}

	rootCmd := &cobra.Command{
		Use:   "mgflat -s SOURCE -o OUTPUT",
		Short: "Flatten must-gather archives and directory trees",
		Long: `mgflat extracts a diagnostic bundle (a directory or a zip, tar, gzip, bzip2,
xz, zstd, 7z or rar archive) and rewrites every file into a single flat output
directory with collision-free names.

Each source directory gets a short identifier used as a filename prefix; the
mapping is written to .path_mappings.txt in the output directory. Files ending
in yaml, yml, list, log, descr, status or labels get ".txt" appended.`,
		Example: `  mgflat -s must-gather.tar.gz -o flat
  mgflat -s ./must-gather -o flat -c --split-size 10MiB
  mgflat --config mgflat.yaml -v`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.initLogger()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFlatten(cmd, flags, a)
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Enable debug logging")
	flags.register(rootCmd)

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newResolveCmd(a))
	return rootCmd, a
}

func (a *app) initLogger() error {
	logger, err := logging.New(logging.Options{
		Verbose:    a.verbose,
		AppName:    "mgflat",
		AppVersion: version.Get().Version,
		RunID:      a.runID,
	})
	if err != nil {
		return err
	}
	a.logger = logger
	return nil
}

// Execute runs the root command with fang and returns the logger it built, or
// nil when the command failed before logging was set up.
func Execute(ctx context.Context, runID string) (*zap.Logger, error) {
	rootCmd, a := NewRootCmd(runID)
	err := fang.Execute(ctx, rootCmd, fang.WithVersion(version.Get().Short()))
	return a.logger, err
}
