package archive

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/multierr"
)

// tarHandler extracts plain tarballs, or tarballs wrapped in stream.
type tarHandler struct {
	format Format
	stream StreamHandler
}

func (h tarHandler) Format() Format { return h.format }

func (h tarHandler) Available() error {
	if h.stream != nil {
		return h.stream.Available()
	}
	return nil
}

func (h tarHandler) ExtractTree(ctx context.Context, src string, w *entryWriter) (err error) {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer multierr.AppendInvoke(&err, multierr.Close(f))

	var r io.Reader = f
	if h.stream != nil {
		var rc io.ReadCloser
		rc, err = h.stream.NewReader(f)
		if err != nil {
			return fmt.Errorf("failed to open %s stream: %w", h.stream.Format(), err)
		}
		defer multierr.AppendInvoke(&err, multierr.Close(rc))
		r = rc
	}
	return extractTar(ctx, tar.NewReader(r), w)
}

func extractTar(ctx context.Context, tr *tar.Reader, w *entryWriter) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read tar entry: %w", err)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := w.mkdir(hdr.Name); err != nil {
				return err
			}
		case tar.TypeReg, tar.TypeGNUSparse:
			if err := w.writeFile(ctx, hdr.Name, tr, hdr.ModTime); err != nil {
				return err
			}
		case tar.TypeXGlobalHeader, tar.TypeXHeader:
			// Consumed by archive/tar; nothing to materialize.
		case tar.TypeSymlink:
			w.skip(hdr.Name, "symlink")
		case tar.TypeLink:
			w.skip(hdr.Name, "hardlink")
		default:
			w.skip(hdr.Name, fmt.Sprintf("typeflag %q", hdr.Typeflag))
		}
	}
}
