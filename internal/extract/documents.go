package extract

import (
	"bytes"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"
)

// workbookPart marks an OOXML zip as a spreadsheet.
const workbookPart = "xl/workbook.xml"

var magicPDF = []byte("%PDF-")

// skipText lists extensions whose entries are only listed by name.
var skipText = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".bmp": true,
	".tif": true, ".tiff": true, ".webp": true, ".mp3": true, ".mp4": true,
	".mov": true, ".avi": true, ".exe": true, ".dll": true, ".so": true,
	".class": true, ".jar": true, ".gz": true, ".zst": true, ".7z": true,
}

func wantsText(name string) bool {
	return !skipText[strings.ToLower(path.Ext(name))]
}

// entryText returns the readable text of an archive entry. ok is false when
// the entry claims a document format that could not be parsed. Binary
// entries of unknown format yield "" and ok.
func entryText(name string, data []byte) (text string, ok bool) {
	switch {
	case bytes.HasPrefix(data, magicPDF):
		t, err := pdfText(bytes.NewReader(data), int64(len(data)))
		return t, err == nil
	case bytes.HasPrefix(data, magicZip) && isSpreadsheetName(name):
		t, err := spreadsheetText(bytes.NewReader(data))
		return t, err == nil
	case isText(data):
		return strings.ReplaceAll(string(data), "\r\n", "\n"), true
	}
	return "", true
}

func isSpreadsheetName(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".xlsx", ".xlsm", ".xltx", ".xltm":
		return true
	}
	return false
}

// pdfText returns the plain text of every page that has any.
func pdfText(r io.ReaderAt, size int64) (text string, err error) {
	// The parser panics on some malformed inputs.
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("pdf: %v", rec)
		}
	}()

	rdr, err := pdf.NewReader(r, size)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for i := 1; i <= rdr.NumPage(); i++ {
		pg := rdr.Page(i)
		if pg.V.IsNull() {
			continue
		}
		t, err := pg.GetPlainText(nil)
		if err != nil {
			continue
		}
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(t)
		b.WriteString("\n")
	}
	return b.String(), nil
}

// spreadsheetText renders each sheet as its name followed by tab separated
// rows.
func spreadsheetText(r io.Reader) (string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var b strings.Builder
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", err
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(sheet)
		b.WriteString("\n")
		for _, row := range rows {
			b.WriteString(strings.Join(row, "\t"))
			b.WriteString("\n")
		}
	}
	return b.String(), nil
}
