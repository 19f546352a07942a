package archive

import (
	"context"
	"fmt"

	"github.com/bodgit/sevenzip"
	"go.uber.org/multierr"
)

type sevenZipHandler struct{}

func (sevenZipHandler) Format() Format   { return Format7z }
func (sevenZipHandler) Available() error { return nil }

func (sevenZipHandler) ExtractTree(ctx context.Context, src string, w *entryWriter) (err error) {
	r, err := sevenzip.OpenReader(src)
	if err != nil {
		return fmt.Errorf("failed to open 7z archive: %w", err)
	}
	defer multierr.AppendInvoke(&err, multierr.Close(r))

	for _, f := range r.File {
		info := f.FileInfo()
		if info.IsDir() {
			if err := w.mkdir(f.Name); err != nil {
				return err
			}
			continue
		}
		if kind := entryKind(info.Mode()); kind != "" {
			w.skip(f.Name, kind)
			continue
		}
		if err := extractSevenZipFile(ctx, f, w); err != nil {
			return err
		}
	}
	return nil
}

func extractSevenZipFile(ctx context.Context, f *sevenzip.File, w *entryWriter) (err error) {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("failed to open 7z entry %s: %w", f.Name, err)
	}
	defer multierr.AppendInvoke(&err, multierr.Close(rc))
	return w.writeFile(ctx, f.Name, rc, f.FileInfo().ModTime())
}
