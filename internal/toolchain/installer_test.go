package toolchain

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"autocut-desktop/internal/domain"
)

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip create %s: %v", name, err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("zip write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

func serveBytes(t *testing.T, body []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/zip")
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// TestInstallDownloadsAndExtracts checks the returned directory and progress.
func TestInstallDownloadsAndExtracts(t *testing.T) {
	archive := buildZip(t, map[string]string{
		"autocut/autocut":   "#!/bin/sh\n",
		"autocut/lib/a.txt": "lib",
		"autocut/README.md": "readme",
	})
	srv := serveBytes(t, archive)
	target := t.TempDir()

	var log progressLog
	dir, err := NewInstaller(srv.Client(), srv.URL+"/autocut.zip").Install(context.Background(), target, log.report)
	if err != nil {
		t.Fatalf("Install() error = %v", err)
	}

	if dir != filepath.Join(target, "autocut") {
		t.Fatalf("dir = %q", dir)
	}
	if _, err := os.Stat(filepath.Join(dir, "lib", "a.txt")); err != nil {
		t.Fatalf("extracted file missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(target, archiveName)); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("archive should be removed, stat err = %v", err)
	}

	if len(log.values) == 0 || log.values[len(log.values)-1] != 100 {
		t.Fatalf("progress = %v, want to end at 100", log.values)
	}
	for i := 1; i < len(log.values); i++ {
		if log.values[i] < log.values[i-1] {
			t.Fatalf("progress regressed: %v", log.values)
		}
	}
}

// TestInstallRejectsHTTPErrors reports download failures as external.
func TestInstallRejectsHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := NewInstaller(srv.Client(), srv.URL).Install(context.Background(), t.TempDir(), nil)
	if !errors.Is(err, domain.ErrExternalProcess) {
		t.Fatalf("error = %v, want external process", err)
	}
}

// TestInstallWithoutExecutableFails catches archives with the wrong payload.
func TestInstallWithoutExecutableFails(t *testing.T) {
	srv := serveBytes(t, buildZip(t, map[string]string{"docs/readme.txt": "hi"}))

	_, err := NewInstaller(srv.Client(), srv.URL).Install(context.Background(), t.TempDir(), nil)
	if !errors.Is(err, domain.ErrExternalProcess) {
		t.Fatalf("error = %v, want external process", err)
	}
}

func TestInstallRequiresTargetAndURL(t *testing.T) {
	if _, err := NewInstaller(nil, "http://example.invalid").Install(context.Background(), " ", nil); !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("empty target error = %v", err)
	}
	if _, err := NewInstaller(nil, "").Install(context.Background(), t.TempDir(), nil); !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("empty url error = %v", err)
	}
}

// TestExtractZipRejectsTraversal refuses entries escaping the target.
func TestExtractZipRejectsTraversal(t *testing.T) {
	root := t.TempDir()
	zipPath := filepath.Join(root, "evil.zip")
	if err := os.WriteFile(zipPath, buildZip(t, map[string]string{"../evil.txt": "x"}), 0o644); err != nil {
		t.Fatalf("write zip: %v", err)
	}
	target := filepath.Join(root, "out")

	if err := extractZip(context.Background(), zipPath, target, nil); err == nil {
		t.Fatal("expected traversal error")
	}
	if _, err := os.Stat(filepath.Join(root, "evil.txt")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("traversal file written, stat err = %v", err)
	}
}

func TestIsWithinBaseDir(t *testing.T) {
	base := filepath.Join("tmp", "install")
	if !isWithinBaseDir(base, filepath.Join(base, "autocut", "autocut")) {
		t.Fatal("nested path should be inside")
	}
	cases := []struct {
		target string
		want   bool
	}{
		{target: base, want: true},
		{target: filepath.Join(base, "autocut", "autocut"), want: true},
		{target: filepath.Join(base, "..data", "x"), want: true},
		{target: filepath.Join(base, "...", "model.bin"), want: true},
		{target: filepath.Join(base, ".."), want: false},
		{target: filepath.Join(base, "..", "evil"), want: false},
		{target: filepath.Join(base, "autocut", "..", "..", "other"), want: false},
	}
	for _, tc := range cases {
		if got := isWithinBaseDir(base, tc.target); got != tc.want {
			t.Fatalf("isWithinBaseDir(%q, %q) = %v, want %v", base, tc.target, got, tc.want)
		}
	}
}

// TestExtractZipKeepsDotDotPrefixedNames writes entries whose names only start with "..".
func TestExtractZipKeepsDotDotPrefixedNames(t *testing.T) {
	root := t.TempDir()
	zipPath := filepath.Join(root, "bundle.zip")
	if err := os.WriteFile(zipPath, buildZip(t, map[string]string{"..data/x": "payload"}), 0o644); err != nil {
		t.Fatalf("write zip: %v", err)
	}
	target := filepath.Join(root, "out")

	if err := extractZip(context.Background(), zipPath, target, nil); err != nil {
		t.Fatalf("extractZip() error = %v", err)
	}
	got, err := os.ReadFile(filepath.Join(target, "..data", "x"))
	if err != nil || string(got) != "payload" {
		t.Fatalf("extracted = %q, %v", got, err)
	}
}
