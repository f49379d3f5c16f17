package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("/data")

	if cfg.Level != "info" {
		t.Errorf("expected level info, got %s", cfg.Level)
	}
	if cfg.FilePath != filepath.Join("/data", "logs", "dropwatch.log") {
		t.Errorf("unexpected file path: %s", cfg.FilePath)
	}
	if cfg.MaxSizeMB != 10 || cfg.MaxFiles != 5 || cfg.MaxAgeDays != 28 {
		t.Errorf("unexpected rotation defaults: %+v", cfg)
	}
	if !cfg.WriteToStderr {
		t.Error("WriteToStderr should default to true")
	}
}

func TestDefaultConfig_NoDataDir(t *testing.T) {
	cfg := DefaultConfig("")
	if cfg.FilePath != "" {
		t.Errorf("expected no file path, got %s", cfg.FilePath)
	}
}

func TestSetup_WritesJSONToFile(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		Level:    "debug",
		FilePath: filepath.Join(dir, "nested", "logs", "dropwatch.log"),
	}

	logger, cleanup, err := Setup(cfg)
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	logger.Debug("stored file", slog.String("category", "txt"))
	cleanup()

	data, err := os.ReadFile(cfg.FilePath)
	if err != nil {
		t.Fatalf("failed to read log: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, `"msg":"stored file"`) {
		t.Errorf("log missing message: %s", content)
	}
	if !strings.Contains(content, `"category":"txt"`) {
		t.Errorf("log missing attr: %s", content)
	}
}

func TestSetup_LevelFilters(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{Level: "warn", FilePath: filepath.Join(dir, "d.log")}

	logger, cleanup, err := Setup(cfg)
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	logger.Info("quiet")
	logger.Warn("loud")
	cleanup()

	data, _ := os.ReadFile(cfg.FilePath)
	if strings.Contains(string(data), "quiet") {
		t.Error("info line should be filtered at warn level")
	}
	if !strings.Contains(string(data), "loud") {
		t.Error("warn line should be written")
	}
}

func TestSetup_StderrOnly(t *testing.T) {
	logger, cleanup, err := Setup(Config{Level: "info"})
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	defer cleanup()
	if logger == nil {
		t.Fatal("expected logger")
	}
}

func TestSetup_BadDirectory(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, _, err := Setup(Config{FilePath: filepath.Join(blocker, "logs", "d.log")})
	if err == nil {
		t.Error("expected error when log dir cannot be created")
	}
}

func TestLevelFromString(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := LevelFromString(tt.input); got != tt.expected {
				t.Errorf("LevelFromString(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestValidLevel(t *testing.T) {
	for _, l := range []string{"debug", "INFO", "warn", "warning", "error"} {
		if !ValidLevel(l) {
			t.Errorf("%q should be valid", l)
		}
	}
	if ValidLevel("verbose") {
		t.Error("verbose should be invalid")
	}
}

func TestFindLogFile(t *testing.T) {
	dataDir := t.TempDir()

	if _, err := FindLogFile("", dataDir); err == nil {
		t.Error("expected error when no log exists")
	}

	path := LogPath(dataDir)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := FindLogFile("", dataDir)
	if err != nil {
		t.Fatalf("FindLogFile failed: %v", err)
	}
	if got != path {
		t.Errorf("expected %s, got %s", path, got)
	}
}

func TestFindLogFile_ExplicitPath(t *testing.T) {
	explicit := filepath.Join(t.TempDir(), "other.log")
	if _, err := FindLogFile(explicit, ""); err == nil {
		t.Error("expected error for missing explicit path")
	}

	if err := os.WriteFile(explicit, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := FindLogFile(explicit, "/nonexistent")
	if err != nil || got != explicit {
		t.Errorf("expected %s, got %s (%v)", explicit, got, err)
	}
}

// ============================================================================
// Viewer Tests
// ============================================================================

func TestViewer_ParseLine_ValidJSON(t *testing.T) {
	v := NewViewer(ViewerConfig{}, &strings.Builder{})

	line := `{"time":"2026-01-15T10:30:00Z","level":"INFO","msg":"stored","category":"image","key":"images/a.jpg"}`
	entry := v.parseLine(line)

	if !entry.IsValid {
		t.Fatal("entry should be valid")
	}
	if entry.Level != "INFO" || entry.Msg != "stored" {
		t.Errorf("unexpected entry: %+v", entry)
	}
	if entry.Category != "image" {
		t.Errorf("expected category image, got %s", entry.Category)
	}
	if entry.Attrs["key"] != "images/a.jpg" {
		t.Errorf("expected key attr, got %v", entry.Attrs["key"])
	}
	if _, ok := entry.Attrs["category"]; ok {
		t.Error("category should not be repeated in attrs")
	}
}

func TestViewer_ParseLine_InvalidJSON(t *testing.T) {
	v := NewViewer(ViewerConfig{}, &strings.Builder{})

	entry := v.parseLine("not valid json")
	if entry.IsValid {
		t.Error("entry should not be valid for invalid JSON")
	}
	if entry.Raw != "not valid json" {
		t.Errorf("Raw should contain original line, got %s", entry.Raw)
	}
}

func TestViewer_MatchesFilter(t *testing.T) {
	tests := []struct {
		name   string
		cfg    ViewerConfig
		entry  LogEntry
		expect bool
	}{
		{"no filter", ViewerConfig{}, LogEntry{Level: "DEBUG", IsValid: true}, true},
		{"below level", ViewerConfig{Level: "warn"}, LogEntry{Level: "INFO", IsValid: true}, false},
		{"at level", ViewerConfig{Level: "warn"}, LogEntry{Level: "WARN", IsValid: true}, true},
		{"above level", ViewerConfig{Level: "warn"}, LogEntry{Level: "ERROR", IsValid: true}, true},
		{"invalid passes level", ViewerConfig{Level: "error"}, LogEntry{Raw: "panic", IsValid: false}, true},
		{"category match", ViewerConfig{Category: "text"}, LogEntry{Category: "text", IsValid: true}, true},
		{"category mismatch", ViewerConfig{Category: "text"}, LogEntry{Category: "email", IsValid: true}, false},
		{"pattern match", ViewerConfig{Pattern: regexp.MustCompile("dup")}, LogEntry{Raw: "a dup line"}, true},
		{"pattern miss", ViewerConfig{Pattern: regexp.MustCompile("dup")}, LogEntry{Raw: "stored"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewViewer(tt.cfg, &strings.Builder{})
			if got := v.matchesFilter(tt.entry); got != tt.expect {
				t.Errorf("matchesFilter = %v, want %v", got, tt.expect)
			}
		})
	}
}

func TestViewer_FormatEntry(t *testing.T) {
	v := NewViewer(ViewerConfig{NoColor: true}, &strings.Builder{})

	entry := LogEntry{
		Time:     time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC),
		Level:    "INFO",
		Msg:      "indexed",
		Category: "text",
		Attrs:    map[string]any{"key": "txt/a.txt", "attempt": 1},
		IsValid:  true,
	}

	got := v.FormatEntry(entry)
	want := "10:30:00.000 INFO  [text] indexed attempt=1 key=txt/a.txt"
	if got != want {
		t.Errorf("FormatEntry = %q, want %q", got, want)
	}
}

func TestViewer_FormatEntry_InvalidEntry(t *testing.T) {
	v := NewViewer(ViewerConfig{NoColor: true}, &strings.Builder{})

	if got := v.FormatEntry(LogEntry{Raw: "raw text"}); got != "raw text" {
		t.Errorf("expected raw line, got %q", got)
	}
}

func writeLines(t *testing.T, path string, n int) {
	t.Helper()
	var b strings.Builder
	for i := 0; i < n; i++ {
		level := "INFO"
		if i%2 == 1 {
			level = "ERROR"
		}
		fmt.Fprintf(&b, `{"time":"2026-01-15T10:30:%02dZ","level":"%s","msg":"line %d"}`+"\n", i, level, i)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestViewer_Tail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dropwatch.log")
	writeLines(t, path, 10)

	v := NewViewer(ViewerConfig{}, &strings.Builder{})
	entries, err := v.Tail(path, 3)
	if err != nil {
		t.Fatalf("Tail failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for i, want := range []string{"line 7", "line 8", "line 9"} {
		if entries[i].Msg != want {
			t.Errorf("entry %d: got %q, want %q", i, entries[i].Msg, want)
		}
	}
}

func TestViewer_Tail_FewerLinesThanRequested(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dropwatch.log")
	writeLines(t, path, 2)

	v := NewViewer(ViewerConfig{}, &strings.Builder{})
	entries, err := v.Tail(path, 50)
	if err != nil {
		t.Fatalf("Tail failed: %v", err)
	}
	if len(entries) != 2 || entries[0].Msg != "line 0" {
		t.Errorf("unexpected entries: %+v", entries)
	}
}

func TestViewer_Tail_WithLevelFilter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dropwatch.log")
	writeLines(t, path, 10)

	v := NewViewer(ViewerConfig{Level: "error"}, &strings.Builder{})
	entries, err := v.Tail(path, 4)
	if err != nil {
		t.Fatalf("Tail failed: %v", err)
	}
	// last four lines are 6..9; errors are the odd ones
	if len(entries) != 2 || entries[0].Msg != "line 7" || entries[1].Msg != "line 9" {
		t.Errorf("unexpected entries: %+v", entries)
	}
}

func TestViewer_Tail_NonexistentFile(t *testing.T) {
	v := NewViewer(ViewerConfig{}, &strings.Builder{})
	if _, err := v.Tail("/nonexistent/dropwatch.log", 10); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestViewer_Print(t *testing.T) {
	var buf strings.Builder
	v := NewViewer(ViewerConfig{NoColor: true}, &buf)

	v.Print([]LogEntry{{Raw: "one"}, {Raw: "two"}})

	if buf.String() != "one\ntwo\n" {
		t.Errorf("unexpected output: %q", buf.String())
	}
}

func TestViewer_Follow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dropwatch.log")
	writeLines(t, path, 1)

	v := NewViewer(ViewerConfig{}, &strings.Builder{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	entries := make(chan LogEntry, 4)
	done := make(chan error, 1)
	go func() { done <- v.Follow(ctx, path, entries) }()

	// let Follow seek to the end before appending
	time.Sleep(150 * time.Millisecond)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = f.WriteString(`{"time":"2026-01-15T10:31:00Z","level":"INFO","msg":"appended"}` + "\n")
	_ = f.Close()

	select {
	case e := <-entries:
		if e.Msg != "appended" {
			t.Errorf("expected appended entry, got %q", e.Msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for followed entry")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Follow returned error: %v", err)
	}
}
