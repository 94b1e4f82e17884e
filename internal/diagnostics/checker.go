package diagnostics

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"strings"
	"time"

	"autocut-desktop/internal/domain"
	"autocut-desktop/internal/toolchain"
)

const probeTimeout = 15 * time.Second

// Checker validates external tools and the autocut installation.
type Checker struct {
	ffmpegPath  string
	ffprobePath string
	lookPath    func(string) (string, error)
	stat        func(string) (os.FileInfo, error)
	probe       func(ctx context.Context, name string, args ...string) error
}

// NewChecker builds a checker using real OS dependencies.
func NewChecker(settings domain.Settings) *Checker {
	return &Checker{
		ffmpegPath:  orDefault(settings.FFmpegPath, "ffmpeg"),
		ffprobePath: orDefault(settings.FFprobePath, "ffprobe"),
		lookPath:    exec.LookPath,
		stat:        os.Stat,
		probe:       runProbe,
	}
}

// FFmpegAvailable reports whether ffmpeg resolves and answers -version.
func (c *Checker) FFmpegAvailable(ctx context.Context) bool {
	return c.checkTool(ctx, "ffmpeg", c.ffmpegPath).Status == domain.DiagnosticStatusPass
}

// AutocutAvailable probes the autocut installation at path. The path may
// point at the executable or at the directory holding it.
func (c *Checker) AutocutAvailable(ctx context.Context, path string) bool {
	return c.checkAutocut(ctx, path).Status == domain.DiagnosticStatusPass
}

// Run executes all checks and returns a combined report.
func (c *Checker) Run(ctx context.Context, installPath string) domain.DiagnosticReport {
	items := []domain.DiagnosticItem{
		c.checkTool(ctx, "ffmpeg", c.ffmpegPath),
		c.checkTool(ctx, "ffprobe", c.ffprobePath),
		c.checkAutocut(ctx, installPath),
	}

	hasFailures := false
	for _, item := range items {
		if item.Status == domain.DiagnosticStatusFail {
			hasFailures = true
			break
		}
	}

	return domain.DiagnosticReport{
		GeneratedAt: time.Now().UTC(),
		HasFailures: hasFailures,
		Items:       items,
	}
}

// checkTool verifies a CLI executable resolves and runs.
func (c *Checker) checkTool(ctx context.Context, id, bin string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "tool_" + id,
		Name: id,
	}

	path, err := c.lookPath(bin)
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Tool not found: %s", bin)
		item.Hint = "Install it and ensure the binary is available on PATH, or set its path in settings."
		return item
	}

	if err := c.probe(ctx, path, "-version"); err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Tool at %s does not run: %v", path, err)
		item.Hint = "Reinstall the tool; the binary may be corrupt or built for another platform."
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Found at %s", path)
	return item
}

// checkAutocut resolves the autocut executable and runs its help screen.
func (c *Checker) checkAutocut(ctx context.Context, installPath string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "autocut",
		Name: "AutoCut",
	}

	if strings.TrimSpace(installPath) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "AutoCut installation path is empty."
		item.Hint = "Select the AutoCut directory or download it first."
		return item
	}

	exe, err := toolchain.ResolveAutocutExecutable(c.stat, installPath)
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		if IsNotExist(err) {
			item.Message = fmt.Sprintf("AutoCut path does not exist: %s", installPath)
		} else {
			item.Message = err.Error()
		}
		item.Hint = "Point to the directory that contains the autocut executable."
		return item
	}

	if err := c.probe(ctx, exe, "-h"); err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("AutoCut at %s does not run: %v", exe, err)
		item.Hint = "Download AutoCut again into an empty directory."
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("AutoCut found at %s", exe)
	return item
}

// runProbe runs a short smoke command and discards its output.
func runProbe(ctx context.Context, name string, args ...string) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		tail := strings.TrimSpace(string(out))
		if len(tail) > 200 {
			tail = tail[len(tail)-200:]
		}
		if tail == "" {
			return err
		}
		return fmt.Errorf("%w: %s", err, tail)
	}
	return nil
}

func orDefault(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

// NewCheckerForTests creates checker with injectable dependencies.
func NewCheckerForTests(
	lookPath func(string) (string, error),
	stat func(string) (os.FileInfo, error),
	probe func(ctx context.Context, name string, args ...string) error,
) *Checker {
	return &Checker{
		ffmpegPath:  "ffmpeg",
		ffprobePath: "ffprobe",
		lookPath:    lookPath,
		stat:        stat,
		probe:       probe,
	}
}

// IsNotExist reports whether error represents file-not-found.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
