package archive

import (
	"archive/zip"
	"context"
	"fmt"

	"go.uber.org/multierr"
)

type zipHandler struct{}

func (zipHandler) Format() Format   { return FormatZip }
func (zipHandler) Available() error { return nil }

func (zipHandler) ExtractTree(ctx context.Context, src string, w *entryWriter) (err error) {
	zr, err := zip.OpenReader(src)
	if err != nil {
		return fmt.Errorf("failed to open zip: %w", err)
	}
	defer multierr.AppendInvoke(&err, multierr.Close(zr))

	for _, f := range zr.File {
		mode := f.Mode()
		if mode.IsDir() {
			if err := w.mkdir(f.Name); err != nil {
				return err
			}
			continue
		}
		if kind := entryKind(mode); kind != "" {
			w.skip(f.Name, kind)
			continue
		}
		if err := extractZipFile(ctx, f, w); err != nil {
			return err
		}
	}
	return nil
}

func extractZipFile(ctx context.Context, f *zip.File, w *entryWriter) (err error) {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("failed to open zip entry %s: %w", f.Name, err)
	}
	defer multierr.AppendInvoke(&err, multierr.Close(rc))
	return w.writeFile(ctx, f.Name, rc, f.Modified)
}
