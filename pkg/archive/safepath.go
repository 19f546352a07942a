package archive

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// entryWriter materializes archive entries below dest.
type entryWriter struct {
	dest   string
	logger *zap.Logger
	files  int
}

// resolve maps an entry name onto a path below dest. It returns "" for
// entries that name the extraction root itself.
func (w *entryWriter) resolve(name string) (string, error) {
	slashed := strings.ReplaceAll(name, "\\", "/")
	if path.IsAbs(slashed) || filepath.VolumeName(name) != "" {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}
	clean := path.Clean(slashed)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}
	if clean == "." {
		return "", nil
	}
	return filepath.Join(w.dest, filepath.FromSlash(clean)), nil
}

func (w *entryWriter) mkdir(name string) error {
	target, err := w.resolve(name)
	if err != nil || target == "" {
		return err
	}
	return os.MkdirAll(target, 0o755)
}

// skip logs an entry that is deliberately not materialized.
func (w *entryWriter) skip(name, kind string) {
	w.logger.Debug("Skipping archive entry", zap.String("entry", name), zap.String("kind", kind))
}

// writeFile copies r into the entry's target path.
func (w *entryWriter) writeFile(ctx context.Context, name string, r io.Reader, modTime time.Time) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	target, err := w.resolve(name)
	if err != nil || target == "" {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer multierr.AppendInvoke(&err, multierr.Close(f))

	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if !modTime.IsZero() {
		// Best effort; a missing timestamp does not affect flattening.
		_ = os.Chtimes(target, modTime, modTime)
	}
	w.files++
	return nil
}

// entryKind classifies a mode for skip logging; "" means regular file.
func entryKind(mode fs.FileMode) string {
	switch {
	case mode&fs.ModeSymlink != 0:
		return "symlink"
	case mode&(fs.ModeDevice|fs.ModeCharDevice) != 0:
		return "device"
	case mode&fs.ModeNamedPipe != 0:
		return "pipe"
	case mode&fs.ModeSocket != 0:
		return "socket"
	case mode.IsDir():
		return "dir"
	}
	return ""
}
