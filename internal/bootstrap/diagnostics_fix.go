package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"time"

	"autocut-desktop/internal/bridge"
	"autocut-desktop/internal/domain"
)

const installCommandTimeout = 45 * time.Minute

type installOption struct {
	manager  string
	commands [][]string
}

// packageInstaller runs OS package managers. Fields are injectable for tests.
type packageInstaller struct {
	goos     string
	lookPath func(string) (string, error)
	run      func(ctx context.Context, name string, args ...string) error
}

func newPackageInstaller() *packageInstaller {
	return &packageInstaller{
		goos:     goruntime.GOOS,
		lookPath: exec.LookPath,
		run:      runCommand,
	}
}

// InstallOrFixDiagnostic applies a remediation for one failed diagnostic
// item and returns the refreshed report. ffmpeg is installed through the
// OS package manager; autocut is downloaded into the app data directory
// with the same task the download-autocut command runs.
func (a *App) InstallOrFixDiagnostic(itemID string) (domain.DiagnosticReport, error) {
	id := strings.TrimSpace(itemID)
	if id == "" {
		return domain.DiagnosticReport{}, fmt.Errorf("diagnostic item id is required")
	}

	ctx := a.contextOrBackground()
	var fixErr error
	switch id {
	case "tool_ffmpeg", "tool_ffprobe":
		fixErr = a.installer().installFFmpeg(ctx)
	case "autocut":
		fixErr = a.downloadAutocut(ctx)
	default:
		return domain.DiagnosticReport{}, fmt.Errorf("unsupported diagnostic item id: %s", id)
	}

	report := a.RefreshDiagnostics()
	if fixErr != nil {
		a.log.Warnw("diagnostic_fix_failed", "item", id, "error", fixErr)
		return report, fixErr
	}
	return report, nil
}

func (a *App) installer() *packageInstaller {
	if a.packages != nil {
		return a.packages
	}
	return newPackageInstaller()
}

// downloadAutocut dispatches download-autocut into the default location and
// waits for its terminal event. Progress is pushed to the frontend.
func (a *App) downloadAutocut(ctx context.Context) error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("resolve user home: %w", err)
	}
	target := filepath.Join(appDataDir(homeDir), "autocut")

	var last domain.ProgressEvent
	replier := bridge.ReplierFunc(func(channel string, payload any) {
		if ev, ok := payload.(domain.ProgressEvent); ok {
			last = ev
		}
		if rctx, err := a.runtimeContext(); err == nil {
			a.emit(rctx, channel, payload)
		}
	})

	done, err := a.Router.Dispatch(ctx, replier, bridge.CmdDownloadAutocut, target)
	if err != nil {
		return err
	}
	<-done
	if !last.Status {
		return errors.New(last.Msg)
	}
	return nil
}

func (p *packageInstaller) installFFmpeg(ctx context.Context) error {
	var options []installOption

	switch p.goos {
	case "windows":
		options = []installOption{
			{
				manager: "winget",
				commands: [][]string{
					{"winget", "install", "--id", "Gyan.FFmpeg", "--exact", "--accept-source-agreements", "--accept-package-agreements"},
				},
			},
			{
				manager:  "choco",
				commands: [][]string{{"choco", "install", "ffmpeg", "-y"}},
			},
			{
				manager:  "scoop",
				commands: [][]string{{"scoop", "install", "ffmpeg"}},
			},
		}
	case "darwin":
		options = []installOption{
			{
				manager:  "brew",
				commands: [][]string{{"brew", "install", "ffmpeg"}},
			},
		}
	default:
		options = []installOption{
			{
				manager: "apt-get",
				commands: [][]string{
					{"apt-get", "update"},
					{"apt-get", "install", "-y", "ffmpeg"},
				},
			},
			{
				manager:  "dnf",
				commands: [][]string{{"dnf", "install", "-y", "ffmpeg"}},
			},
			{
				manager:  "pacman",
				commands: [][]string{{"pacman", "-Sy", "--noconfirm", "ffmpeg"}},
			},
			{
				manager:  "zypper",
				commands: [][]string{{"zypper", "install", "-y", "ffmpeg"}},
			},
			{
				manager:  "brew",
				commands: [][]string{{"brew", "install", "ffmpeg"}},
			},
		}
	}

	if err := p.runFirstSuccessful(ctx, options); err != nil {
		return fmt.Errorf("install ffmpeg/ffprobe: %w", err)
	}
	if err := p.requireOnPath("ffmpeg", "ffprobe"); err != nil {
		return fmt.Errorf("verify ffmpeg/ffprobe on PATH: %w", err)
	}
	return nil
}

func (p *packageInstaller) runFirstSuccessful(ctx context.Context, options []installOption) error {
	if len(options) == 0 {
		return fmt.Errorf("no install commands configured for OS %s", p.goos)
	}

	errorsByManager := make([]string, 0, len(options))
	for _, option := range options {
		if !p.available(option.manager) {
			continue
		}
		err := p.runAll(ctx, option.commands)
		if err == nil {
			return nil
		}
		errorsByManager = append(errorsByManager, fmt.Sprintf("%s: %v", option.manager, err))
	}

	if len(errorsByManager) == 0 {
		return fmt.Errorf("no supported package manager found for %s", p.goos)
	}
	return errors.New(strings.Join(errorsByManager, " | "))
}

func (p *packageInstaller) runAll(ctx context.Context, commands [][]string) error {
	for _, command := range commands {
		if err := p.runWithPossibleElevation(ctx, command); err != nil {
			return err
		}
	}
	return nil
}

func (p *packageInstaller) runWithPossibleElevation(ctx context.Context, command []string) error {
	if len(command) == 0 {
		return fmt.Errorf("empty command")
	}

	candidates := [][]string{command}
	if p.goos == "linux" && requiresElevation(command[0]) {
		if p.available("pkexec") {
			candidates = append(candidates, append([]string{"pkexec"}, command...))
		}
		if p.available("sudo") {
			candidates = append(candidates, append([]string{"sudo", "-n"}, command...))
		}
	}

	attemptErrors := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		err := p.run(ctx, candidate[0], candidate[1:]...)
		if err == nil {
			return nil
		}
		attemptErrors = append(attemptErrors, err.Error())
	}
	return errors.New(strings.Join(attemptErrors, " | "))
}

func (p *packageInstaller) available(name string) bool {
	_, err := p.lookPath(name)
	return err == nil
}

func (p *packageInstaller) requireOnPath(names ...string) error {
	missing := make([]string, 0, len(names))
	for _, name := range names {
		if !p.available(name) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing tools on PATH: %s", strings.Join(missing, ", "))
	}
	return nil
}

func runCommand(ctx context.Context, name string, args ...string) error {
	ctx, cancel := context.WithTimeout(ctx, installCommandTimeout)
	defer cancel()

	output, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err == nil {
		return nil
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s timed out after %s", formatCommand(name, args), installCommandTimeout)
	}

	trimmed := strings.TrimSpace(string(output))
	if len(trimmed) > 500 {
		trimmed = trimmed[:500] + "..."
	}
	if trimmed == "" {
		return fmt.Errorf("%s failed: %w", formatCommand(name, args), err)
	}
	return fmt.Errorf("%s failed: %w (%s)", formatCommand(name, args), err, trimmed)
}

func formatCommand(name string, args []string) string {
	parts := append([]string{name}, args...)
	return strings.Join(parts, " ")
}

func requiresElevation(manager string) bool {
	switch manager {
	case "apt-get", "dnf", "pacman", "zypper":
		return true
	default:
		return false
	}
}

// ensureLocalBinOnPATH prepends the app's private bin directory to PATH so
// tools dropped there are found by exec.LookPath.
func ensureLocalBinOnPATH(homeDir string) error {
	binDir := localBinDir(homeDir)
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return err
	}

	current := os.Getenv("PATH")
	for _, entry := range filepath.SplitList(current) {
		if filepath.Clean(entry) == filepath.Clean(binDir) {
			return nil
		}
	}

	if current == "" {
		return os.Setenv("PATH", binDir)
	}
	return os.Setenv("PATH", binDir+string(os.PathListSeparator)+current)
}

func localBinDir(homeDir string) string {
	return filepath.Join(appDataDir(homeDir), "bin")
}
