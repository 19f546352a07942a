package flatten

import (
	"fmt"
	"runtime"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"mgflat/pkg/archive"
	"mgflat/pkg/config"
	"mgflat/pkg/filter"
	"mgflat/pkg/naming"
)

// Options holds everything a Driver needs for one run.
type Options struct {
	Source      string           // Directory or archive to flatten
	Output      string           // Output directory; must be absent or empty
	Consolidate bool             // Merge same-directory log files
	SplitSize   int64            // Byte budget per part; 0 disables splitting
	SplitMode   config.SplitMode // Line-aligned or raw byte parts
	Naming      naming.Options   // Extension remapping and root prefix
	Scheme      naming.Scheme    // Directory identifier scheme
	HashWidth   int              // Hex digits for the hash scheme
	Workers     int              // Parallel copy workers
	Tree        bool             // Write the annotated source tree listing
	MetricsFile string           // Prometheus textfile target, if set
	RunID       string           // Identifies the run in logs and scratch names

	Filter    *filter.Filter     // Skip predicate; nil means built-in rules only
	Extractor *archive.Extractor // Archive adapter; nil means all formats, depth 2
	Fs        afero.Fs           // Filesystem for directory sources and output; nil means the OS
}

// OptionsFromConfig translates a validated Config into driver Options,
// compiling exclude patterns and setting up the archive registry.
func OptionsFromConfig(cfg *config.Config, logger *zap.Logger) (Options, error) {
	splitSize, err := cfg.SplitBytes()
	if err != nil {
		return Options{}, err
	}

	f := filter.New(logger)
	if len(cfg.Filter.Exclude) > 0 {
		f.CompileLines(cfg.Filter.Exclude...)
	}
	if cfg.Filter.IgnoreFile != "" {
		if err := f.CompileFile(cfg.Filter.IgnoreFile); err != nil {
			return Options{}, fmt.Errorf("failed to load ignore file: %w", err)
		}
	}

	registry := archive.NewRegistry()
	if err := registry.Disable(cfg.Archive.Disable...); err != nil {
		return Options{}, err
	}

	return Options{
		Source:      cfg.Source,
		Output:      cfg.Output,
		Consolidate: cfg.Consolidate,
		SplitSize:   splitSize,
		SplitMode:   cfg.Split.Mode,
		Naming: naming.Options{
			TxtExtensions: cfg.Naming.TxtExtensions,
			RootPrefix:    cfg.UseRootPrefix(),
		},
		Scheme:      naming.Scheme(cfg.Naming.Scheme),
		HashWidth:   cfg.Naming.HashWidth,
		Workers:     cfg.Workers,
		Tree:        cfg.Tree,
		MetricsFile: cfg.MetricsFile,
		Filter:      f,
		Extractor:   archive.NewExtractor(registry, cfg.Archive.MaxDepth, logger),
	}, nil
}

func (o *Options) applyDefaults(logger *zap.Logger) {
	if o.Fs == nil {
		o.Fs = afero.NewOsFs()
	}
	if o.Filter == nil {
		o.Filter = filter.New(logger)
	}
	if o.Extractor == nil {
		o.Extractor = archive.NewExtractor(nil, 2, logger)
	}
	if o.SplitMode == "" {
		o.SplitMode = config.SplitLines
	}
	if o.Scheme == "" {
		o.Scheme = naming.SchemeRank
	}
	if o.HashWidth <= 0 {
		o.HashWidth = 8
	}
	if o.Naming.TxtExtensions == nil {
		o.Naming.TxtExtensions = config.DefaultTxtExtensions
	}
	if o.Workers <= 0 {
		o.Workers = runtime.NumCPU()
		logger.Debug("Adjusted worker count", zap.Int("workers", o.Workers))
	}
	if o.RunID == "" {
		o.RunID = uuid.NewString()
	}
}
