package extract

import (
	"archive/tar"
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"path"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/spf13/afero"

	dwerrors "github.com/Aman-CERP/dropwatch/internal/errors"
)

// Archive formats recognised by their leading bytes.
const (
	FormatZip  = "zip"
	FormatTar  = "tar"
	FormatGzip = "gzip"
	FormatZstd = "zstd"
	FormatXLSX = "xlsx"
)

var contentTypes = map[string]string{
	FormatZip:  "application/zip",
	FormatTar:  "application/x-tar",
	FormatGzip: "application/gzip",
	FormatZstd: "application/zstd",
	FormatXLSX: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",

	"tar+" + FormatGzip: "application/x-tar",
	"tar+" + FormatZstd: "application/x-tar",
}

var (
	magicZip      = []byte("PK\x03\x04")
	magicZipEmpty = []byte("PK\x05\x06")
	magicGzip     = []byte{0x1f, 0x8b}
	magicZstd     = []byte{0x28, 0xb5, 0x2f, 0xfd}
	magicTar      = []byte("ustar")
)

const tarMagicOffset = 257

// ArchiveLimits bound the work done for a single archive.
type ArchiveLimits struct {
	// MaxEntries stops the walk after this many entries.
	MaxEntries int
	// MaxTotalBytes stops the walk once declared entry sizes exceed it.
	MaxTotalBytes int64
	// MaxEntryText is the largest entry whose text is included.
	MaxEntryText int64
}

// DefaultArchiveLimits are used unless WithArchiveLimits overrides them.
var DefaultArchiveLimits = ArchiveLimits{
	MaxEntries:    10000,
	MaxTotalBytes: 1 << 30,
	MaxEntryText:  4 << 20,
}

// ArchiveExtractor lists archive entries and extracts the text of the
// ones it can read: plain text, PDF and spreadsheets.
type ArchiveExtractor struct {
	fs     afero.Fs
	limits ArchiveLimits
}

// ArchiveOption configures an ArchiveExtractor.
type ArchiveOption func(*ArchiveExtractor)

// WithArchiveLimits overrides DefaultArchiveLimits.
func WithArchiveLimits(l ArchiveLimits) ArchiveOption {
	return func(e *ArchiveExtractor) {
		e.limits = l
	}
}

// NewArchiveExtractor creates an ArchiveExtractor reading through fsys.
func NewArchiveExtractor(fsys afero.Fs, opts ...ArchiveOption) *ArchiveExtractor {
	e := &ArchiveExtractor{fs: fsys, limits: DefaultArchiveLimits}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract detects the container format from the file's bytes and walks it.
func (e *ArchiveExtractor) Extract(ctx context.Context, p string) (Result, error) {
	f, err := e.fs.Open(p)
	if err != nil {
		return Result{}, dwerrors.ExtractionError(p, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Result{}, dwerrors.ExtractionError(p, err)
	}
	size := info.Size()

	head := make([]byte, 512)
	n, err := f.ReadAt(head, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return Result{}, dwerrors.ExtractionError(p, err)
	}
	head = head[:n]

	w := &archiveWalk{ctx: ctx, limits: e.limits}
	src := io.NewSectionReader(f, 0, size)

	format := sniffArchive(head)
	switch format {
	case FormatZip:
		format, err = w.zip(src, size)
	case FormatTar:
		err = w.tar(src)
	case FormatGzip:
		format, err = w.gzip(src, p)
	case FormatZstd:
		format, err = w.zstd(src, p)
	default:
		return Result{}, extractionFailed(p, "unrecognised archive format")
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		return Result{}, dwerrors.ExtractionError(p, err)
	}

	return contentResult(p, w.content(), w.metadata(format)), nil
}

func sniffArchive(head []byte) string {
	switch {
	case bytes.HasPrefix(head, magicZip), bytes.HasPrefix(head, magicZipEmpty):
		return FormatZip
	case bytes.HasPrefix(head, magicGzip):
		return FormatGzip
	case bytes.HasPrefix(head, magicZstd):
		return FormatZstd
	case isTarHeader(head):
		return FormatTar
	}
	return ""
}

func isTarHeader(head []byte) bool {
	return len(head) >= tarMagicOffset+len(magicTar) &&
		bytes.Equal(head[tarMagicOffset:tarMagicOffset+len(magicTar)], magicTar)
}

// archiveWalk accumulates entries while enforcing limits.
type archiveWalk struct {
	ctx        context.Context
	limits     ArchiveLimits
	entries    int
	total      int64
	unreadable int
	truncated  bool
	buf        strings.Builder
}

var errStopWalk = errors.New("archive limit reached")

// add records one entry. open is only called when the entry's text is
// wanted.
func (w *archiveWalk) add(name string, size int64, open func() (io.ReadCloser, error)) error {
	if err := w.ctx.Err(); err != nil {
		return err
	}
	if w.entries >= w.limits.MaxEntries || w.total+size > w.limits.MaxTotalBytes {
		w.truncated = true
		return errStopWalk
	}
	w.entries++
	w.total += size

	if w.buf.Len() > 0 {
		w.buf.WriteString("\n")
	}
	w.buf.WriteString(name)
	w.buf.WriteString("\n")

	if size > w.limits.MaxEntryText || !wantsText(name) {
		return nil
	}

	rc, err := open()
	if err != nil {
		w.unreadable++
		return nil
	}
	data, err := io.ReadAll(io.LimitReader(rc, w.limits.MaxEntryText))
	rc.Close()
	if err != nil {
		w.unreadable++
		return nil
	}

	text, ok := entryText(name, data)
	if !ok {
		w.unreadable++
		return nil
	}
	if text != "" {
		w.buf.WriteString(text)
		if !strings.HasSuffix(text, "\n") {
			w.buf.WriteString("\n")
		}
	}
	return nil
}

func (w *archiveWalk) content() string {
	return w.buf.String()
}

func (w *archiveWalk) metadata(format string) Metadata {
	md := Metadata{
		"Archive-Format":    format,
		"Content-Type":      contentTypes[format],
		"Entries":           strconv.Itoa(w.entries),
		"Uncompressed-Size": strconv.FormatInt(w.total, 10),
	}
	if w.truncated {
		md["Truncated"] = "true"
	}
	if w.unreadable > 0 {
		md["Unreadable-Entries"] = strconv.Itoa(w.unreadable)
	}
	return md
}

func (w *archiveWalk) zip(r io.ReaderAt, size int64) (string, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return FormatZip, err
	}

	for _, f := range zr.File {
		if f.Name == workbookPart {
			text, err := spreadsheetText(io.NewSectionReader(r, 0, size))
			if err != nil {
				return FormatXLSX, err
			}
			w.entries = len(zr.File)
			w.buf.WriteString(text)
			return FormatXLSX, nil
		}
	}

	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		err := w.add(f.Name, int64(f.UncompressedSize64), f.Open)
		if errors.Is(err, errStopWalk) {
			break
		}
		if err != nil {
			return FormatZip, err
		}
	}
	return FormatZip, nil
}

func (w *archiveWalk) tar(r io.Reader) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if !hdr.FileInfo().Mode().IsRegular() {
			continue
		}
		err = w.add(hdr.Name, hdr.Size, func() (io.ReadCloser, error) {
			return io.NopCloser(tr), nil
		})
		if errors.Is(err, errStopWalk) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (w *archiveWalk) gzip(r io.Reader, p string) (string, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return FormatGzip, err
	}
	defer gz.Close()

	name := gz.Name
	if name == "" {
		name = strings.TrimSuffix(path.Base(p), path.Ext(p))
	}
	return w.compressed(gz, FormatGzip, name)
}

func (w *archiveWalk) zstd(r io.Reader, p string) (string, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return FormatZstd, err
	}
	defer dec.Close()

	name := strings.TrimSuffix(path.Base(p), path.Ext(p))
	return w.compressed(dec, FormatZstd, name)
}

// compressed handles a single compressed stream, which is either a tar
// archive or one file.
func (w *archiveWalk) compressed(r io.Reader, format, name string) (string, error) {
	br := bufio.NewReaderSize(r, 1024)
	head, err := br.Peek(tarMagicOffset + len(magicTar))
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return format, err
	}
	if isTarHeader(head) {
		return "tar+" + format, w.tar(br)
	}

	data, err := io.ReadAll(io.LimitReader(br, w.limits.MaxTotalBytes+1))
	if err != nil {
		return format, err
	}
	if int64(len(data)) > w.limits.MaxTotalBytes {
		w.truncated = true
		return format, nil
	}
	err = w.add(name, int64(len(data)), func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	})
	if errors.Is(err, errStopWalk) {
		err = nil
	}
	return format, err
}
