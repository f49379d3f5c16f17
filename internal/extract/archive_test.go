package extract

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	dwerrors "github.com/Aman-CERP/dropwatch/internal/errors"
)

type archiveEntry struct {
	name string
	body []byte
}

func zipBytes(t *testing.T, entries ...archiveEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.Create(e.name)
		require.NoError(t, err)
		_, err = w.Write(e.body)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func tarBytes(t *testing.T, entries ...archiveEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, e := range entries {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     e.name,
			Mode:     0o644,
			Size:     int64(len(e.body)),
			Typeflag: tar.TypeReg,
		}))
		_, err := tw.Write(e.body)
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	return buf.Bytes()
}

func gzipBytes(t *testing.T, name string, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	gw.Name = name
	_, err := gw.Write(data)
	require.NoError(t, err)
	require.NoError(t, gw.Close())
	return buf.Bytes()
}

func zstdBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf)
	require.NoError(t, err)
	_, err = zw.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func extractArchive(t *testing.T, name string, data []byte, opts ...ArchiveOption) (Result, error) {
	t.Helper()
	fsys := afero.NewMemMapFs()
	p := "/processed/archive/" + name
	memFile(t, fsys, p, data)
	return NewArchiveExtractor(fsys, opts...).Extract(context.Background(), p)
}

func TestArchiveExtractor_Zip(t *testing.T) {
	// Given: a zip with a text file and a binary file
	data := zipBytes(t,
		archiveEntry{"docs/readme.txt", []byte("hello from zip")},
		archiveEntry{"bin/blob.dat", []byte{0x00, 0x01, 0x02}},
	)

	// When: extracting
	res, err := extractArchive(t, "bundle.zip", data)

	// Then: both entries are listed and the text is included
	require.NoError(t, err)
	assert.Equal(t, "archive/bundle.zip", res.Key)
	content := res.Fields[FieldContent]
	assert.Contains(t, content, "docs/readme.txt\nhello from zip\n")
	assert.Contains(t, content, "bin/blob.dat\n")
	assert.Equal(t,
		"Archive-Format=zip Content-Type=application/zip Entries=2 Uncompressed-Size=17",
		res.Fields[FieldMetadata])
}

func TestArchiveExtractor_IgnoresExtension(t *testing.T) {
	// Given: a tar archive named as if it were a zip
	data := tarBytes(t, archiveEntry{"a.txt", []byte("tarred")})

	// When: extracting
	res, err := extractArchive(t, "mislabelled.zip", data)

	// Then: the format is detected from the bytes
	require.NoError(t, err)
	assert.Contains(t, res.Fields[FieldMetadata], "Archive-Format=tar")
	assert.Contains(t, res.Fields[FieldContent], "a.txt\ntarred\n")
}

func TestArchiveExtractor_TarGz(t *testing.T) {
	// Given: a gzip-compressed tar
	data := gzipBytes(t, "", tarBytes(t,
		archiveEntry{"one.txt", []byte("1")},
		archiveEntry{"two.txt", []byte("22")},
	))

	// When: extracting
	res, err := extractArchive(t, "set.tgz", data)

	// Then: the inner tar is walked
	require.NoError(t, err)
	md := res.Fields[FieldMetadata]
	assert.Contains(t, md, "Archive-Format=tar+gzip")
	assert.Contains(t, md, "Entries=2")
	assert.Contains(t, md, "Uncompressed-Size=3")
}

func TestArchiveExtractor_SingleGzipStream(t *testing.T) {
	// Given: a gzip of one text file with a stored name
	data := gzipBytes(t, "log.txt", []byte("gzipped log"))

	// When: extracting
	res, err := extractArchive(t, "log.txt.gz", data)

	// Then: it is one entry named from the gzip header
	require.NoError(t, err)
	assert.Equal(t, "log.txt\ngzipped log\n", res.Fields[FieldContent])
	assert.Contains(t, res.Fields[FieldMetadata], "Archive-Format=gzip")
}

func TestArchiveExtractor_Zstd(t *testing.T) {
	// Given: a zstd stream of a tar
	data := zstdBytes(t, tarBytes(t, archiveEntry{"z.txt", []byte("zstd inside")}))

	// When: extracting
	res, err := extractArchive(t, "pack.tar.zst", data)

	// Then: the inner tar is walked
	require.NoError(t, err)
	assert.Contains(t, res.Fields[FieldMetadata], "Archive-Format=tar+zstd")
	assert.Contains(t, res.Fields[FieldContent], "z.txt\nzstd inside\n")
}

func TestArchiveExtractor_Spreadsheet(t *testing.T) {
	// Given: an xlsx workbook
	f := excelize.NewFile()
	require.NoError(t, f.SetCellValue("Sheet1", "A1", "name"))
	require.NoError(t, f.SetCellValue("Sheet1", "B1", "qty"))
	require.NoError(t, f.SetCellValue("Sheet1", "A2", "bolts"))
	require.NoError(t, f.SetCellValue("Sheet1", "B2", 12))
	var buf bytes.Buffer
	_, err := f.WriteTo(&buf)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	// When: extracting it as an archive
	res, err := extractArchive(t, "stock.xlsx", buf.Bytes())

	// Then: the cells are rendered per sheet
	require.NoError(t, err)
	assert.Contains(t, res.Fields[FieldMetadata], "Archive-Format=xlsx")
	assert.Contains(t, res.Fields[FieldContent], "Sheet1\nname\tqty\nbolts\t12\n")
}

func TestArchiveExtractor_EntryLimit(t *testing.T) {
	// Given: more entries than allowed
	data := zipBytes(t,
		archiveEntry{"a.txt", []byte("a")},
		archiveEntry{"b.txt", []byte("b")},
		archiveEntry{"c.txt", []byte("c")},
	)
	limits := DefaultArchiveLimits
	limits.MaxEntries = 2

	// When: extracting
	res, err := extractArchive(t, "many.zip", data, WithArchiveLimits(limits))

	// Then: the walk stops and is marked truncated
	require.NoError(t, err)
	md := res.Fields[FieldMetadata]
	assert.Contains(t, md, "Entries=2")
	assert.Contains(t, md, "Truncated=true")
	assert.NotContains(t, res.Fields[FieldContent], "c.txt")
}

func TestArchiveExtractor_LargeEntry_ListedOnly(t *testing.T) {
	// Given: an entry over the text limit
	big := strings.Repeat("x", 64)
	limits := DefaultArchiveLimits
	limits.MaxEntryText = 16

	// When: extracting
	res, err := extractArchive(t, "big.zip", zipBytes(t, archiveEntry{"big.txt", []byte(big)}), WithArchiveLimits(limits))

	// Then: only the name appears
	require.NoError(t, err)
	assert.Equal(t, "big.txt\n", res.Fields[FieldContent])
}

func TestArchiveExtractor_BrokenPDFEntry_CountedUnreadable(t *testing.T) {
	// Given: an entry that claims to be a PDF but is truncated
	data := zipBytes(t, archiveEntry{"paper.pdf", []byte("%PDF-1.4\ngarbage")})

	// When: extracting
	res, err := extractArchive(t, "papers.zip", data)

	// Then: the archive still succeeds and the entry is counted
	require.NoError(t, err)
	assert.Contains(t, res.Fields[FieldMetadata], "Unreadable-Entries=1")
	assert.Contains(t, res.Fields[FieldContent], "paper.pdf\n")
}

func TestArchiveExtractor_NotAnArchive(t *testing.T) {
	// Given: plain text in the archive inbox
	_, err := extractArchive(t, "notes.zip", []byte("not an archive"))

	// Then: it is an extraction error
	require.Error(t, err)
	assert.True(t, errors.Is(err, dwerrors.ErrExtraction))
}

func TestArchiveExtractor_CorruptZip(t *testing.T) {
	// Given: zip magic followed by junk
	_, err := extractArchive(t, "bad.zip", []byte("PK\x03\x04 this is not really a zip"))

	// Then: it is an extraction error
	require.Error(t, err)
	assert.True(t, errors.Is(err, dwerrors.ErrExtraction))
}

func TestSniffArchive(t *testing.T) {
	tarHead := make([]byte, 512)
	copy(tarHead[tarMagicOffset:], "ustar")

	tests := []struct {
		name string
		head []byte
		want string
	}{
		{"zip", []byte("PK\x03\x04rest"), FormatZip},
		{"empty zip", []byte("PK\x05\x06"), FormatZip},
		{"gzip", []byte{0x1f, 0x8b, 0x08}, FormatGzip},
		{"zstd", []byte{0x28, 0xb5, 0x2f, 0xfd, 0x00}, FormatZstd},
		{"tar", tarHead, FormatTar},
		{"text", []byte("hello"), ""},
		{"empty", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sniffArchive(tt.head))
		})
	}
}
