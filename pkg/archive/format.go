package archive

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Format identifies an archive or compression format.
type Format string

const (
	FormatZip    Format = "zip"
	FormatTar    Format = "tar"
	FormatTarGz  Format = "tar.gz"
	FormatTarBz2 Format = "tar.bz2"
	FormatTarXz  Format = "tar.xz"
	FormatTarZst Format = "tar.zst"
	FormatGzip   Format = "gz"
	FormatBzip2  Format = "bz2"
	FormatXz     Format = "xz"
	FormatZstd   Format = "zst"
	Format7z     Format = "7z"
	FormatRar    Format = "rar"
)

// suffixes maps lower-case file name suffixes to formats. Longer suffixes
// are checked first so ".tar.gz" wins over ".gz".
var suffixes = []struct {
	suffix string
	format Format
}{
	{".tar.gz", FormatTarGz},
	{".tar.bz2", FormatTarBz2},
	{".tar.xz", FormatTarXz},
	{".tar.zst", FormatTarZst},
	{".tgz", FormatTarGz},
	{".tbz2", FormatTarBz2},
	{".tbz", FormatTarBz2},
	{".txz", FormatTarXz},
	{".tzst", FormatTarZst},
	{".tar", FormatTar},
	{".zip", FormatZip},
	{".gz", FormatGzip},
	{".bz2", FormatBzip2},
	{".xz", FormatXz},
	{".zst", FormatZstd},
	{".7z", Format7z},
	{".rar", FormatRar},
}

// Detect returns the format implied by the file name.
func Detect(path string) (Format, bool) {
	name := strings.ToLower(filepath.Base(path))
	for _, s := range suffixes {
		if strings.HasSuffix(name, s.suffix) && len(name) > len(s.suffix) {
			return s.format, true
		}
	}
	return "", false
}

// TrimExt strips a recognized archive suffix from a file name, keeping the
// original case of the remainder.
func TrimExt(name string) string {
	lower := strings.ToLower(name)
	for _, s := range suffixes {
		if strings.HasSuffix(lower, s.suffix) && len(name) > len(s.suffix) {
			return name[:len(name)-len(s.suffix)]
		}
	}
	return name
}

var magics = []struct {
	offset int
	magic  []byte
	format Format
}{
	{0, []byte("PK\x03\x04"), FormatZip},
	{0, []byte("PK\x05\x06"), FormatZip},
	{0, []byte{0x1f, 0x8b}, FormatGzip},
	{0, []byte("BZh"), FormatBzip2},
	{0, []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}, FormatXz},
	{0, []byte{0x28, 0xb5, 0x2f, 0xfd}, FormatZstd},
	{0, []byte{'7', 'z', 0xbc, 0xaf, 0x27, 0x1c}, Format7z},
	{0, []byte("Rar!\x1a\x07"), FormatRar},
	{257, []byte("ustar"), FormatTar},
}

// Sniff inspects the leading bytes of a file for a known magic number.
func Sniff(path string) (Format, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", false, err
	}
	defer f.Close()

	buf := make([]byte, 512)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", false, err
	}
	format, ok := SniffBytes(buf[:n])
	return format, ok, nil
}

// SniffBytes matches a header buffer against known magic numbers.
func SniffBytes(head []byte) (Format, bool) {
	for _, m := range magics {
		end := m.offset + len(m.magic)
		if len(head) >= end && bytes.Equal(head[m.offset:end], m.magic) {
			return m.format, true
		}
	}
	return "", false
}
