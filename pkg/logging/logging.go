package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

// Options controls how the process logger is built.
type Options struct {
	Verbose    bool   // Debug level instead of Info
	AppName    string // Added as the appName field
	AppVersion string // Added as the appVersion field
	RunID      string // Added as the runID field when non-empty
}

// New builds a zap logger. A terminal on stderr gets the colored development
// console encoder; anything else gets production JSON.
func New(opts Options) (*zap.Logger, error) {
	var cfg zap.Config

	if StderrIsTerminal() {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cfg.DisableStacktrace = true
	} else {
		cfg = zap.NewProductionConfig()
	}

	if opts.Verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	} else {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	// Add default fields
	cfg.InitialFields = map[string]interface{}{
		"appName":    opts.AppName,
		"appVersion": opts.AppVersion,
	}
	if opts.RunID != "" {
		cfg.InitialFields["runID"] = opts.RunID
	}

	logger, err := cfg.Build()
	if err != nil {
		return zap.NewExample(), err
	}

	zap.ReplaceGlobals(logger)
	return logger, nil
}

// StderrIsTerminal reports whether stderr is attached to a terminal.
func StderrIsTerminal() bool {
	return term.IsTerminal(int(os.Stderr.Fd()))
}

// CanSync reports whether syncing a logger that writes to stderr is meaningful.
// Sync on pipes and character devices other than a TTY returns EINVAL.
func CanSync() bool {
	if StderrIsTerminal() {
		return true
	}
	fileInfo, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return fileInfo.Mode().IsRegular()
}
