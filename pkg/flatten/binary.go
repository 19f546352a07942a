package flatten

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"unicode/utf8"

	"github.com/spf13/afero"
	"go.uber.org/multierr"
)

// sniffLen is how much of a file the binary heuristic looks at.
const sniffLen = 512

// isBinary checks the first bytes of a file for null bytes or a high ratio of
// non-printable characters.
func isBinary(head []byte) bool {
	if len(head) > sniffLen {
		head = head[:sniffLen]
	}
	if len(head) == 0 {
		return false // Empty content is considered text
	}
	if bytes.IndexByte(head, 0) >= 0 {
		return true
	}

	nonPrintable := 0
	for _, b := range head {
		if !isPrintable(b) {
			nonPrintable++
		}
	}
	// More than 30% non-printable is considered binary
	return float64(nonPrintable)/float64(len(head)) > 0.3
}

// isPrintable checks if a byte is printable ASCII, common whitespace, or part
// of a multi-byte UTF-8 sequence.
func isPrintable(b byte) bool {
	return (b >= 32 && b <= 126) || b == '\n' || b == '\r' || b == '\t' || b >= utf8.RuneSelf
}

// looksLikeText reports whether the file passes the binary heuristic and is
// valid UTF-8 throughout. The file is streamed, not loaded.
func looksLikeText(fs afero.Fs, name string) (ok bool, err error) {
	f, err := fs.Open(name)
	if err != nil {
		return false, err
	}
	defer multierr.AppendInvoke(&err, multierr.Close(f))

	br := bufio.NewReader(f)
	head, err := br.Peek(sniffLen)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return false, err
	}
	if isBinary(head) {
		return false, nil
	}

	for {
		r, size, err := br.ReadRune()
		if errors.Is(err, io.EOF) {
			return true, nil
		}
		if err != nil {
			return false, err
		}
		if r == utf8.RuneError && size == 1 {
			return false, nil
		}
	}
}
