package toolchain

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"autocut-desktop/internal/domain"
)

const (
	downloadShare = 80.0
	archiveName   = "autocut.zip"
)

// Installer fetches the packaged autocut release and unpacks it into a
// target directory.
type Installer struct {
	client *http.Client
	url    string
}

// NewInstaller builds an installer for the given archive URL.
func NewInstaller(client *http.Client, url string) *Installer {
	if client == nil {
		client = http.DefaultClient
	}
	return &Installer{client: client, url: url}
}

// Install downloads and extracts autocut into targetDir. Download progress
// covers 0-80, extraction 80-100. It returns the directory holding the
// autocut executable.
func (i *Installer) Install(ctx context.Context, targetDir string, progress ProgressFunc) (string, error) {
	dir := strings.TrimSpace(targetDir)
	if dir == "" {
		return "", fmt.Errorf("install: %w: target directory is required", domain.ErrConfiguration)
	}
	if strings.TrimSpace(i.url) == "" {
		return "", fmt.Errorf("install: %w: download url is not configured", domain.ErrConfiguration)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("install: %w: create target directory %s: %v", domain.ErrConfiguration, dir, err)
	}

	zipPath := filepath.Join(dir, archiveName)
	emit(progress, 0, "downloading autocut")
	if err := i.download(ctx, zipPath, progress); err != nil {
		return "", fmt.Errorf("install: %w", err)
	}
	defer os.Remove(zipPath)

	emit(progress, downloadShare, "extracting autocut")
	if err := extractZip(ctx, zipPath, dir, func(done, total int) {
		if total > 0 {
			emit(progress, downloadShare+float64(done)/float64(total)*(100-downloadShare), "extracting autocut")
		}
	}); err != nil {
		return "", fmt.Errorf("install: extract %s: %w", zipPath, err)
	}

	exe, err := findExecutable(dir)
	if err != nil {
		return "", fmt.Errorf("install: %w", err)
	}
	return filepath.Dir(exe), nil
}

func (i *Installer) download(ctx context.Context, destinationPath string, progress ProgressFunc) error {
	tmpPath := destinationPath + ".download"
	if err := os.Remove(tmpPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale temp file: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, i.url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "autocut-desktop")

	resp, err := i.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: request download: %v", domain.ErrExternalProcess, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: download %s: unexpected HTTP status %s", domain.ErrExternalProcess, i.url, resp.Status)
	}

	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create temporary file: %w", err)
	}

	counter := &progressWriter{total: resp.ContentLength, progress: progress}
	_, copyErr := io.Copy(file, io.TeeReader(resp.Body, counter))
	closeErr := file.Close()
	if copyErr != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: write download: %v", domain.ErrExternalProcess, copyErr)
	}
	if closeErr != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close downloaded file: %w", closeErr)
	}

	if err := os.Rename(tmpPath, destinationPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("move downloaded file into place: %w", err)
	}
	return nil
}

// progressWriter reports download progress in whole-percent steps.
type progressWriter struct {
	total    int64
	written  int64
	lastPct  int
	progress ProgressFunc
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.written += int64(len(p))
	if w.total <= 0 {
		return len(p), nil
	}
	pct := int(w.written * 100 / w.total)
	if pct > w.lastPct {
		w.lastPct = pct
		emit(w.progress, float64(pct)*downloadShare/100, fmt.Sprintf("downloading autocut %d%%", pct))
	}
	return len(p), nil
}

// extractZip unpacks every entry under extractDir, rejecting entries that
// would escape it.
func extractZip(ctx context.Context, zipPath, extractDir string, onFile func(done, total int)) error {
	reader, err := zip.OpenReader(zipPath)
	if err != nil {
		return err
	}
	defer reader.Close()

	total := len(reader.File)
	for n, file := range reader.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		if file == nil {
			continue
		}
		cleanName := filepath.Clean(file.Name)
		if cleanName == "." || cleanName == "" {
			continue
		}
		targetPath := filepath.Join(extractDir, cleanName)
		if !isWithinBaseDir(extractDir, targetPath) {
			return fmt.Errorf("zip contains invalid path: %s", file.Name)
		}

		if file.FileInfo().IsDir() {
			if err := os.MkdirAll(targetPath, 0o755); err != nil {
				return err
			}
		} else if err := extractFile(file, targetPath); err != nil {
			return err
		}
		if onFile != nil {
			onFile(n+1, total)
		}
	}
	return nil
}

func extractFile(file *zip.File, targetPath string) error {
	if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
		return err
	}

	src, err := file.Open()
	if err != nil {
		return err
	}

	mode := file.Mode().Perm()
	if mode == 0 {
		mode = 0o644
	}
	dst, err := os.OpenFile(targetPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		_ = src.Close()
		return err
	}

	_, copyErr := io.Copy(dst, src)
	srcCloseErr := src.Close()
	dstCloseErr := dst.Close()
	if copyErr != nil {
		return copyErr
	}
	if srcCloseErr != nil {
		return srcCloseErr
	}
	return dstCloseErr
}

// findExecutable walks dir for the first autocut executable.
func findExecutable(dir string) (string, error) {
	var found string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || found != "" {
			return nil
		}
		name := strings.ToLower(d.Name())
		for _, candidate := range autocutExecutables {
			if name == candidate {
				found = path
				return filepath.SkipAll
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if found == "" {
		return "", fmt.Errorf("%w: extracted archive does not contain an autocut executable", domain.ErrExternalProcess)
	}
	return found, nil
}

func isWithinBaseDir(baseDir string, targetPath string) bool {
	baseClean := filepath.Clean(baseDir)
	targetClean := filepath.Clean(targetPath)
	relative, err := filepath.Rel(baseClean, targetClean)
	if err != nil {
		return false
	}
	if relative == ".." || strings.HasPrefix(relative, ".."+string(filepath.Separator)) || filepath.IsAbs(relative) {
		return false
	}
	return relative != ""
}
