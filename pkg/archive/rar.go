package archive

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/nwaples/rardecode/v2"
	"go.uber.org/multierr"
)

type rarHandler struct{}

func (rarHandler) Format() Format   { return FormatRar }
func (rarHandler) Available() error { return nil }

func (rarHandler) ExtractTree(ctx context.Context, src string, w *entryWriter) (err error) {
	rc, err := rardecode.OpenReader(src)
	if err != nil {
		return fmt.Errorf("failed to open rar archive: %w", err)
	}
	defer multierr.AppendInvoke(&err, multierr.Close(rc))

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := rc.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read rar entry: %w", err)
		}
		if hdr.IsDir {
			if err := w.mkdir(hdr.Name); err != nil {
				return err
			}
			continue
		}
		if kind := entryKind(hdr.Mode()); kind != "" {
			w.skip(hdr.Name, kind)
			continue
		}
		if err := w.writeFile(ctx, hdr.Name, rc, hdr.ModificationTime); err != nil {
			return err
		}
	}
}
