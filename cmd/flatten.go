package cmd

import (
	"fmt"
	"strings"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mgflat/pkg/config"
	"mgflat/pkg/flatten"
)

// flattenFlags holds the root command flags. Flags that were set explicitly
// override values from the config file.
type flattenFlags struct {
	configFile   string
	source       string
	output       string
	consolidate  bool
	splitSize    string
	splitMode    string
	workers      int
	idScheme     string
	noRootPrefix bool
	exclude      []string
	ignoreFile   string
	metricsFile  string
	tree         bool
	disable      []string
	maxDepth     int
}

func (f *flattenFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&f.configFile, "config", "", "Path to a YAML config file")
	flags.StringVarP(&f.source, "source", "s", "", "Source directory or archive file")
	flags.StringVarP(&f.output, "output", "o", "", "Output directory for flattened files (must be empty)")
	flags.BoolVarP(&f.consolidate, "consolidate", "c", false, "Consolidate .log and .previous.log files in each directory")
	flags.StringVar(&f.splitSize, "split-size", "", "Split files larger than this size, e.g. 512KiB or 10MiB (0 disables)")
	flags.StringVar(&f.splitMode, "split-mode", string(config.SplitLines), "Split on line boundaries (lines) or raw byte ranges (bytes)")
	flags.IntVar(&f.workers, "workers", 0, "Number of parallel copy workers (default: number of CPUs)")
	flags.StringVar(&f.idScheme, "id-scheme", string(config.SchemeRank), "Directory identifier scheme: rank or hash")
	flags.BoolVar(&f.noRootPrefix, "no-root-prefix", false, "Do not prefix files from the source root with the root identifier")
	flags.StringSliceVarP(&f.exclude, "exclude", "e", nil, "Exclude files matching these gitignore-style patterns")
	flags.StringVar(&f.ignoreFile, "ignore-file", "", "Read exclude patterns from this file")
	flags.StringVar(&f.metricsFile, "metrics-file", "", "Write run metrics in Prometheus text format to this file")
	flags.BoolVar(&f.tree, "tree", false, "Write an annotated source tree to "+flatten.TreeFileName)
	flags.StringSliceVar(&f.disable, "disable-format", nil, "Report these archive formats as unavailable, e.g. rar,7z")
	flags.IntVar(&f.maxDepth, "max-depth", config.DefaultMaxDepth, "Maximum depth for unpacking archives nested in compressed files")
}

// load builds the effective configuration: defaults, then the config file,
// then every flag the user set.
func (f *flattenFlags) load(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if f.configFile != "" {
		loaded, err := config.LoadFromFile(f.configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	changed := cmd.Flags().Changed
	if changed("source") {
		cfg.Source = f.source
	}
	if changed("output") {
		cfg.Output = f.output
	}
	if changed("consolidate") {
		cfg.Consolidate = f.consolidate
	}
	if changed("split-size") {
		cfg.Split.Size = f.splitSize
	}
	if changed("split-mode") {
		cfg.Split.Mode = config.SplitMode(f.splitMode)
	}
	if changed("workers") {
		cfg.Workers = f.workers
	}
	if changed("id-scheme") {
		cfg.Naming.Scheme = config.IDScheme(f.idScheme)
	}
	if changed("no-root-prefix") {
		rootPrefix := !f.noRootPrefix
		cfg.Naming.RootPrefix = &rootPrefix
	}
	if changed("exclude") {
		cfg.Filter.Exclude = append(cfg.Filter.Exclude, f.exclude...)
	}
	if changed("ignore-file") {
		cfg.Filter.IgnoreFile = f.ignoreFile
	}
	if changed("metrics-file") {
		cfg.MetricsFile = f.metricsFile
	}
	if changed("tree") {
		cfg.Tree = f.tree
	}
	if changed("disable-format") {
		cfg.Archive.Disable = append(cfg.Archive.Disable, f.disable...)
	}
	if changed("max-depth") {
		cfg.Archive.MaxDepth = f.maxDepth
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Source == "" {
		return nil, fmt.Errorf("%w: a source is required (--source or config source)", config.ErrInvalidConfig)
	}
	if cfg.Output == "" {
		return nil, fmt.Errorf("%w: an output directory is required (--output or config output)", config.ErrInvalidConfig)
	}
	return cfg, nil
}

func runFlatten(cmd *cobra.Command, f *flattenFlags, a *app) error {
	cfg, err := f.load(cmd)
	if err != nil {
		return err
	}

	logger := a.logger
	opts, err := flatten.OptionsFromConfig(cfg, logger)
	if err != nil {
		return err
	}
	opts.RunID = a.runID

	opts.Extractor.Registry().LogFormats(logger)
	logger.Debug("Effective configuration",
		zap.String("source", cfg.Source),
		zap.String("output", cfg.Output),
		zap.Bool("consolidate", cfg.Consolidate),
		zap.String("splitSize", cfg.Split.Size),
		zap.String("splitMode", string(cfg.Split.Mode)),
		zap.String("idScheme", string(cfg.Naming.Scheme)),
		zap.Int("workers", cfg.Workers))

	summary, err := flatten.New(opts, logger).Run(cmd.Context())
	if err != nil {
		return err
	}

	printSummary(cmd, summary)
	return nil
}

func printSummary(cmd *cobra.Command, s *flatten.Summary) {
	var b strings.Builder
	b.WriteString("\nSummary:\n")
	fmt.Fprintf(&b, "  Files processed: %d\n", s.Processed)
	fmt.Fprintf(&b, "  Files skipped: %d\n", s.Skipped)
	if s.Consolidated > 0 {
		fmt.Fprintf(&b, "  Files consolidated: %d\n", s.Consolidated)
	}
	if s.Parts > 0 {
		fmt.Fprintf(&b, "  Split parts written: %d\n", s.Parts)
	}
	fmt.Fprintf(&b, "  Bytes written: %s\n", units.HumanSize(float64(s.BytesWritten)))
	fmt.Fprintf(&b, "  Output directory: %s\n", s.Output)
	fmt.Fprint(cmd.OutOrStdout(), b.String())
}
