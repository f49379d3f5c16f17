package extract

import (
	"bytes"
	"context"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/spf13/afero"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	xunicode "golang.org/x/text/encoding/unicode"

	dwerrors "github.com/Aman-CERP/dropwatch/internal/errors"
)

// maxControlRatio is the share of control characters above which decoded
// bytes are treated as binary.
const maxControlRatio = 0.05

// TextExtractor reads plain text. UTF-8 is expected; UTF-16 with a byte
// order mark and legacy Windows-1252 (a superset of Latin-1) are decoded.
type TextExtractor struct {
	fs afero.Fs
}

// NewTextExtractor creates a TextExtractor reading through fsys.
func NewTextExtractor(fsys afero.Fs) *TextExtractor {
	return &TextExtractor{fs: fsys}
}

// Extract reads path as text. Binary content is an ExtractionError.
func (e *TextExtractor) Extract(ctx context.Context, path string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	raw, err := afero.ReadFile(e.fs, path)
	if err != nil {
		return Result{}, dwerrors.ExtractionError(path, err)
	}
	text, charset, ok := decodeText(raw)
	if !ok {
		return Result{}, extractionFailed(path, "not a text file in a supported encoding")
	}

	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.TrimPrefix(text, "\ufeff")

	md := Metadata{
		"Content-Encoding": charset,
		"Content-Type":     "text/plain",
		"Line-Count":       strconv.Itoa(lineCount(text)),
		"Size":             strconv.Itoa(len(raw)),
	}
	return contentResult(path, text, md), nil
}

// decodeText returns raw as a UTF-8 string and the charset it was read as.
func decodeText(raw []byte) (text, charset string, ok bool) {
	switch {
	case bytes.HasPrefix(raw, []byte{0xff, 0xfe}):
		return decodeWith(raw, xunicode.UTF16(xunicode.LittleEndian, xunicode.ExpectBOM), "UTF-16LE")
	case bytes.HasPrefix(raw, []byte{0xfe, 0xff}):
		return decodeWith(raw, xunicode.UTF16(xunicode.BigEndian, xunicode.ExpectBOM), "UTF-16BE")
	case isText(raw):
		return string(raw), "UTF-8", true
	case bytes.IndexByte(raw, 0) >= 0:
		return "", "", false
	default:
		return decodeWith(raw, charmap.Windows1252, "windows-1252")
	}
}

func decodeWith(raw []byte, enc encoding.Encoding, charset string) (string, string, bool) {
	out, err := enc.NewDecoder().Bytes(raw)
	if err != nil || !mostlyPrintable(out) {
		return "", "", false
	}
	return string(out), charset, true
}

// mostlyPrintable rejects decoded output dominated by control characters
// or replacement runes.
func mostlyPrintable(b []byte) bool {
	var total, bad int
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		b = b[size:]
		total++
		switch {
		case r == utf8.RuneError, r == 0:
			bad++
		case unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' && r != '\f':
			bad++
		}
	}
	return total == 0 || float64(bad)/float64(total) <= maxControlRatio
}

// isText reports whether b is valid UTF-8 without NUL bytes.
func isText(b []byte) bool {
	return utf8.Valid(b) && bytes.IndexByte(b, 0) < 0
}

func lineCount(s string) int {
	if s == "" {
		return 0
	}
	n := strings.Count(s, "\n")
	if !strings.HasSuffix(s, "\n") {
		n++
	}
	return n
}
