package index

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackend_PersistsAcrossReopen(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping on-disk backends in short mode")
	}

	for _, name := range Backends() {
		t.Run(name, func(t *testing.T) {
			// Given: a document written to an on-disk backend
			dataDir := t.TempDir()
			ctx := context.Background()

			b, err := Open(dataDir, name)
			require.NoError(t, err)
			require.NoError(t, b.Index(ctx, Document{Bucket: "images", Key: "images/cat.png", Fields: map[string]string{"content": "png image"}}))
			require.NoError(t, b.Close())

			// When: reopening
			b, err = Open(dataDir, name)
			require.NoError(t, err)
			defer b.Close()

			// Then: the document is still there and the backend is detected
			got, err := b.Get(ctx, "images", "images/cat.png")
			require.NoError(t, err)
			assert.Equal(t, "png image", got["content"])
			assert.Equal(t, name, DetectBackend(dataDir))
		})
	}
}

func TestSQLiteIndex_FileReadableByCgoDriver(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping cgo sqlite check in short mode")
	}

	// Given: an index written by the pure-Go driver
	dataDir := t.TempDir()
	b, err := Open(dataDir, BackendSQLite)
	require.NoError(t, err)
	require.NoError(t, b.Index(context.Background(), Document{
		Bucket: "failed",
		Key:    "emails/broken.eml",
		Fields: map[string]string{"content": "failed"},
	}))
	require.NoError(t, b.Close())

	// When: opening the file with the standard C library
	db, err := sql.Open("sqlite3", Path(dataDir, BackendSQLite)+"?_journal_mode=WAL")
	require.NoError(t, err)
	defer db.Close()

	// Then: rows are there in the documented schema
	var fields string
	err = db.QueryRow(`SELECT fields FROM documents WHERE bucket = ? AND doc_key = ?`,
		"failed", "emails/broken.eml").Scan(&fields)
	require.NoError(t, err)
	assert.JSONEq(t, `{"content":"failed"}`, fields)
}

func TestSQLiteIndex_CorruptFileMovedAside(t *testing.T) {
	// Given: garbage where the database should be
	dataDir := t.TempDir()
	path := Path(dataDir, BackendSQLite)
	require.NoError(t, os.WriteFile(path, []byte("this is not sqlite"), 0o644))

	// When: opening
	b, err := NewSQLiteIndex(path)
	require.NoError(t, err)
	defer b.Close()

	// Then: a fresh database is usable and the old file is preserved
	require.NoError(t, b.Index(context.Background(), Document{Bucket: "txt", Key: "txt/a", Fields: map[string]string{}}))
	matches, err := filepath.Glob(path + ".corrupt-*")
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestDetectBackend_Empty(t *testing.T) {
	assert.Equal(t, "", DetectBackend(t.TempDir()))
}
