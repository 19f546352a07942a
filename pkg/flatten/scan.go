package flatten

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"mgflat/pkg/filter"
	"mgflat/pkg/naming"
)

// SourceEntry is a discovered file that survived the filter.
type SourceEntry struct {
	AbsPath string    // Path on the source filesystem
	RelPath string    // Slash-separated path relative to the scan root
	Size    int64     // Size in bytes
	ModTime time.Time // Modification time, restored on plain copies
	DirKey  string    // Slash-separated parent directory, naming.RootKey for the root
}

// Name returns the base file name.
func (e SourceEntry) Name() string {
	return path.Base(e.RelPath)
}

// skipReasonSymlink and friends extend filter reasons with scan-level ones.
const (
	skipReasonSymlink   filter.Reason = "symlink"
	skipReasonIrregular filter.Reason = "irregular"
	skipReasonError     filter.Reason = "error"
)

// scan walks root and returns the surviving files in lexical walk order.
// Directories equal to exclude are not descended into. Skipped files are
// reported through onSkip.
func scan(ctx context.Context, fs afero.Fs, root, exclude string, f *filter.Filter, onSkip func(rel string, reason filter.Reason), logger *zap.Logger) ([]SourceEntry, error) {
	var entries []SourceEntry
	logger.Debug("Starting source scan", zap.String("root", root))

	err := afero.Walk(fs, root, func(p string, info os.FileInfo, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			logger.Warn("Error accessing path during scan", zap.String("path", p), zap.Error(err))
			if info != nil && !info.IsDir() {
				onSkip(relPath(root, p), skipReasonError)
			}
			return nil // Skip paths that cause errors
		}

		if info.IsDir() {
			if exclude != "" && p != root && filepath.Clean(p) == exclude {
				logger.Debug("Skipping output directory inside source", zap.String("directory", p))
				return filepath.SkipDir
			}
			return nil
		}

		rel := relPath(root, p)
		switch {
		case info.Mode()&os.ModeSymlink != 0:
			logger.Debug("Skipping symlink", zap.String("relPath", rel))
			onSkip(rel, skipReasonSymlink)
			return nil
		case !info.Mode().IsRegular():
			logger.Debug("Skipping irregular file", zap.String("relPath", rel), zap.Stringer("mode", info.Mode()))
			onSkip(rel, skipReasonIrregular)
			return nil
		}

		if reason, skip := f.ShouldSkip(rel, info.Size()); skip {
			logger.Debug("Skipping file", zap.String("relPath", rel), zap.String("reason", string(reason)))
			onSkip(rel, reason)
			return nil
		}

		entries = append(entries, SourceEntry{
			AbsPath: p,
			RelPath: rel,
			Size:    info.Size(),
			ModTime: info.ModTime(),
			DirKey:  naming.NormalizeKey(path.Dir(rel)),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Debug("Completed source scan", zap.Int("files", len(entries)))
	return entries, nil
}

func relPath(root, p string) string {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		rel = p
	}
	return strings.TrimPrefix(filepath.ToSlash(rel), "./")
}
