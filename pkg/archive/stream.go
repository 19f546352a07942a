package archive

import (
	"compress/bzip2"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

type gzipHandler struct{}

func (gzipHandler) Format() Format   { return FormatGzip }
func (gzipHandler) Available() error { return nil }

func (gzipHandler) NewReader(r io.Reader) (io.ReadCloser, error) {
	return gzip.NewReader(r)
}

type bzip2Handler struct{}

func (bzip2Handler) Format() Format   { return FormatBzip2 }
func (bzip2Handler) Available() error { return nil }

func (bzip2Handler) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(bzip2.NewReader(r)), nil
}

type xzHandler struct{}

func (xzHandler) Format() Format   { return FormatXz }
func (xzHandler) Available() error { return nil }

func (xzHandler) NewReader(r io.Reader) (io.ReadCloser, error) {
	xr, err := xz.NewReader(r)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(xr), nil
}

type zstdHandler struct{}

func (zstdHandler) Format() Format   { return FormatZstd }
func (zstdHandler) Available() error { return nil }

func (zstdHandler) NewReader(r io.Reader) (io.ReadCloser, error) {
	d, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	return d.IOReadCloser(), nil
}
