//go:build ignore

// Package main drops a synthetic corpus into a dropwatch root for load testing.
// Usage: go run scripts/generate-drop-corpus.go -files 400 -root /tmp/drop
//
// Files are spread across all four inboxes. A share of them repeat earlier
// content byte for byte so the duplicate path is exercised too.
package main

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"flag"
	"fmt"
	"image/color"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/klauspost/compress/gzip"
)

var (
	numFiles = flag.Int("files", 400, "Number of files to drop")
	rootDir  = flag.String("root", "testdata/drop", "dropwatch root to drop into")
	dupRatio = flag.Float64("dups", 0.1, "Fraction of files that repeat earlier content")
	seed     = flag.Int64("seed", 42, "Random seed for reproducibility")
	interval = flag.Duration("interval", 0, "Pause between files, to simulate a trickle")
)

var words = []string{
	"invoice", "shipment", "ledger", "quarterly", "report", "customer",
	"warehouse", "pallet", "signature", "receipt", "contract", "audit",
	"delivery", "forecast", "budget", "payroll", "tender", "renewal",
}

var emailTemplate = `From: %s@example.com
To: inbox@example.com
Subject: %s
Date: %s
Message-ID: <%d@example.com>
MIME-Version: 1.0
Content-Type: text/plain; charset=utf-8

%s
`

type generator func(i int) (name string, data []byte, err error)

func main() {
	flag.Parse()
	rng := rand.New(rand.NewSource(*seed))

	gens := map[string]generator{
		"txt":     func(i int) (string, []byte, error) { return genText(rng, i) },
		"emails":  func(i int) (string, []byte, error) { return genEmail(rng, i) },
		"archive": func(i int) (string, []byte, error) { return genArchive(rng, i) },
		"images":  func(i int) (string, []byte, error) { return genImage(rng, i) },
	}
	inboxes := []string{"txt", "emails", "archive", "images"}

	for _, inbox := range inboxes {
		if err := os.MkdirAll(filepath.Join(*rootDir, inbox), 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "Error creating inbox %s: %v\n", inbox, err)
			os.Exit(1)
		}
	}

	fmt.Printf("Dropping %d files into %s...\n", *numFiles, *rootDir)

	previous := make(map[string][]byte)
	dropped, dups := 0, 0
	for i := 0; i < *numFiles; i++ {
		inbox := inboxes[i%len(inboxes)]

		var (
			name string
			data []byte
			err  error
		)
		if prev, ok := previous[inbox]; ok && rng.Float64() < *dupRatio {
			name, data = fmt.Sprintf("dup_%d%s", i, extOf(inbox)), prev
			dups++
		} else if name, data, err = gens[inbox](i); err != nil {
			fmt.Fprintf(os.Stderr, "Error generating %s file %d: %v\n", inbox, i, err)
			continue
		}
		previous[inbox] = data

		if err := drop(filepath.Join(*rootDir, inbox, name), data); err != nil {
			fmt.Fprintf(os.Stderr, "Error dropping %s: %v\n", name, err)
			continue
		}
		dropped++
		if *interval > 0 {
			time.Sleep(*interval)
		}
	}

	fmt.Printf("Dropped %d files (%d duplicates).\n", dropped, dups)
}

// drop writes under a dot-name and renames, so the watcher sees one
// complete file.
func drop(path string, data []byte) error {
	tmp := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".part")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func extOf(inbox string) string {
	switch inbox {
	case "emails":
		return ".eml"
	case "archive":
		return ".tar.gz"
	case "images":
		return ".png"
	default:
		return ".txt"
	}
}

func sentence(rng *rand.Rand, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = words[rng.Intn(len(words))]
	}
	return strings.Join(parts, " ")
}

func genText(rng *rand.Rand, i int) (string, []byte, error) {
	var b strings.Builder
	for line := 0; line < 5+rng.Intn(20); line++ {
		b.WriteString(sentence(rng, 8))
		b.WriteByte('\n')
	}
	return fmt.Sprintf("note_%d.txt", i), []byte(b.String()), nil
}

func genEmail(rng *rand.Rand, i int) (string, []byte, error) {
	body := fmt.Sprintf(emailTemplate,
		words[rng.Intn(len(words))],
		sentence(rng, 4),
		time.Unix(1700000000+int64(i)*60, 0).UTC().Format(time.RFC1123Z),
		i,
		sentence(rng, 30),
	)
	return fmt.Sprintf("msg_%d.eml", i), []byte(strings.ReplaceAll(body, "\n", "\r\n")), nil
}

func genArchive(rng *rand.Rand, i int) (string, []byte, error) {
	files := map[string]string{
		"README.txt": sentence(rng, 12) + "\n",
		"data/a.txt": sentence(rng, 20) + "\n",
		"data/b.csv": "id,name\n1," + words[rng.Intn(len(words))] + "\n",
	}

	if i%2 == 1 {
		var buf bytes.Buffer
		zw := zip.NewWriter(&buf)
		for name, content := range files {
			w, err := zw.Create(name)
			if err != nil {
				return "", nil, err
			}
			if _, err := w.Write([]byte(content)); err != nil {
				return "", nil, err
			}
		}
		if err := zw.Close(); err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("bundle_%d.zip", i), buf.Bytes(), nil
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range files {
		hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(content))}
		if err := tw.WriteHeader(hdr); err != nil {
			return "", nil, err
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			return "", nil, err
		}
	}
	if err := tw.Close(); err != nil {
		return "", nil, err
	}
	if err := gz.Close(); err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("bundle_%d.tar.gz", i), buf.Bytes(), nil
}

func genImage(rng *rand.Rand, i int) (string, []byte, error) {
	w, h := 64+rng.Intn(512), 64+rng.Intn(512)
	img := imaging.New(w, h, color.NRGBA{
		R: uint8(rng.Intn(256)), G: uint8(rng.Intn(256)), B: uint8(rng.Intn(256)), A: 255,
	})

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("scan_%d.png", i), buf.Bytes(), nil
}
