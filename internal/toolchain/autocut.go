package toolchain

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	goruntime "runtime"
	"regexp"
	"strconv"
	"strings"

	"autocut-desktop/internal/domain"
)

// autocutExecutables lists the names probed inside an installation directory.
var autocutExecutables = []string{"autocut", "autocut.exe", "autocut.cmd"}

// percentPattern matches tqdm-style "42%|" or "42.5%" progress fragments.
var percentPattern = regexp.MustCompile(`(\d{1,3}(?:\.\d+)?)%`)

// autocut prints one tqdm bar per phase. Model downloads report byte rates
// and are skipped; the remaining bars are matched by unit or label and
// scaled into their share of the task.
var (
	transferBar = regexp.MustCompile(`[KMGT]?i?B/s`)

	transcribeStages = []progressStage{
		{match: regexp.MustCompile(`frames(/s)?\]`), from: 0, to: 100},
	}
	cutStages = []progressStage{
		{match: regexp.MustCompile(`^\s*chunk:`), from: 0, to: 20},
		{match: regexp.MustCompile(`^\s*(t|frame_index):`), from: 20, to: 100},
	}
)

// Autocut drives the autocut CLI for transcription and subtitle cutting.
type Autocut struct {
	runner commandRunner
	stat   func(name string) (os.FileInfo, error)
}

// NewAutocut constructs the production autocut driver.
func NewAutocut() *Autocut {
	return &Autocut{
		runner: &execRunner{},
		stat:   os.Stat,
	}
}

// Transcribe runs `autocut -t` on mediaPath and returns the generated
// subtitle path.
func (a *Autocut) Transcribe(ctx context.Context, installPath, mediaPath string, progress ProgressFunc) (string, error) {
	exe, err := a.prepare(installPath, mediaPath)
	if err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}

	args := []string{"-t", mediaPath}
	emit(progress, 0, "transcribing "+filepath.Base(mediaPath))
	res, runErr := a.runner.Stream(ctx, stagedForwarder(progress, transcribeStages), exe, args...)
	if runErr != nil {
		return "", newCommandError("transcribe", "autocut transcription failed", exe, args, res, runErr)
	}

	srtPath := siblingPath(mediaPath, "", ".srt")
	if _, err := a.stat(srtPath); err != nil {
		return "", newCommandError("transcribe", "autocut completed but subtitle file is missing", exe, args, res, err)
	}
	return srtPath, nil
}

// Cut runs `autocut -c` with the edited subtitle file and returns the path
// of the trimmed video.
func (a *Autocut) Cut(ctx context.Context, installPath, mediaPath, subtitlePath string, progress ProgressFunc) (string, error) {
	exe, err := a.prepare(installPath, mediaPath)
	if err != nil {
		return "", fmt.Errorf("cut: %w", err)
	}
	if _, err := a.stat(subtitlePath); err != nil {
		return "", fmt.Errorf("cut: %w: cannot access subtitle file %s: %v", domain.ErrConfiguration, subtitlePath, err)
	}

	args := []string{"-c", mediaPath, subtitlePath}
	emit(progress, 0, "cutting "+filepath.Base(mediaPath))
	res, runErr := a.runner.Stream(ctx, stagedForwarder(progress, cutStages), exe, args...)
	if runErr != nil {
		return "", newCommandError("cut", "autocut cut failed", exe, args, res, runErr)
	}

	out := siblingPath(mediaPath, "_cut", filepath.Ext(mediaPath))
	if _, err := a.stat(out); err != nil {
		return "", newCommandError("cut", "autocut completed but cut video is missing", exe, args, res, err)
	}
	return out, nil
}

func (a *Autocut) prepare(installPath, mediaPath string) (string, error) {
	if strings.TrimSpace(installPath) == "" {
		return "", fmt.Errorf("%w: autocut installation path is empty", domain.ErrConfiguration)
	}
	exe, err := ResolveAutocutExecutable(a.stat, installPath)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(mediaPath) == "" {
		return "", fmt.Errorf("%w: media file path is required", domain.ErrConfiguration)
	}
	if _, err := a.stat(mediaPath); err != nil {
		return "", fmt.Errorf("%w: cannot access media file %s: %v", domain.ErrConfiguration, mediaPath, err)
	}
	return exe, nil
}

// ResolveAutocutExecutable accepts either the executable itself or the
// installation directory containing it.
func ResolveAutocutExecutable(stat func(string) (os.FileInfo, error), installPath string) (string, error) {
	path := strings.TrimSpace(installPath)
	info, err := stat(path)
	if err != nil {
		return "", fmt.Errorf("%w: cannot access autocut installation %s: %w", domain.ErrConfiguration, path, err)
	}
	if !info.IsDir() {
		return path, nil
	}

	names := autocutExecutables
	if goruntime.GOOS == "windows" {
		names = []string{"autocut.exe", "autocut.cmd", "autocut"}
	}
	for _, name := range names {
		candidate := filepath.Join(path, name)
		if info, err := stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: no autocut executable found in %s (tried: %s)",
		domain.ErrConfiguration, path, strings.Join(names, ", "))
}

// progressStage maps the bar whose line matches into [from, to].
type progressStage struct {
	match    *regexp.Regexp
	from, to float64
}

// stagedForwarder reports percentages from the bars named by stages. Lines
// of any other bar are dropped and reported progress never moves backwards.
func stagedForwarder(progress ProgressFunc, stages []progressStage) func(string) {
	last := 0.0
	return func(line string) {
		pct, ok := parsePercent(line)
		if !ok || transferBar.MatchString(line) {
			return
		}
		for _, stage := range stages {
			if !stage.match.MatchString(line) {
				continue
			}
			value := stage.from + pct*(stage.to-stage.from)/100
			if value < last {
				return
			}
			last = value
			emit(progress, value, strings.TrimSpace(line))
			return
		}
	}
}

// parsePercent extracts the last percentage on a line.
func parsePercent(line string) (float64, bool) {
	matches := percentPattern.FindAllStringSubmatch(line, -1)
	if len(matches) == 0 {
		return 0, false
	}
	value, err := strconv.ParseFloat(matches[len(matches)-1][1], 64)
	if err != nil || value > 100 {
		return 0, false
	}
	return value, true
}

// newAutocutForTests constructs a driver with injectable dependencies.
func newAutocutForTests(runner commandRunner, stat func(string) (os.FileInfo, error)) *Autocut {
	return &Autocut{runner: runner, stat: stat}
}
