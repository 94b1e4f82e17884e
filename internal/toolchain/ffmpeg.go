package toolchain

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"autocut-desktop/internal/domain"
)

// FFmpeg is the self-contained converter used by convert-video and
// convert-audio. It needs no autocut installation.
type FFmpeg struct {
	ffmpegPath  string
	ffprobePath string
	runner      commandRunner
	stat        func(name string) (os.FileInfo, error)
}

// NewFFmpeg constructs a converter using binaries on PATH by default.
func NewFFmpeg(ffmpegPath, ffprobePath string) *FFmpeg {
	if strings.TrimSpace(ffmpegPath) == "" {
		ffmpegPath = "ffmpeg"
	}
	if strings.TrimSpace(ffprobePath) == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpeg{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		runner:      &execRunner{},
		stat:        os.Stat,
	}
}

// ConvertVideo re-encodes media into an H.264/AAC mp4 next to the input.
// It returns the output path.
func (f *FFmpeg) ConvertVideo(ctx context.Context, mediaPath string, progress ProgressFunc) (string, error) {
	out := siblingPath(mediaPath, "_converted", ".mp4")
	args := []string{
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-crf", "18",
		"-c:a", "aac",
		"-b:a", "192k",
	}
	return f.transcode(ctx, "convert video", mediaPath, out, args, progress)
}

// ExtractAudio writes a 16 kHz mono PCM wav track next to the input.
// It returns the output path.
func (f *FFmpeg) ExtractAudio(ctx context.Context, mediaPath string, progress ProgressFunc) (string, error) {
	out := siblingPath(mediaPath, "_audio", ".wav")
	args := []string{
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
	}
	return f.transcode(ctx, "extract audio", mediaPath, out, args, progress)
}

func (f *FFmpeg) transcode(ctx context.Context, op, in, out string, codecArgs []string, progress ProgressFunc) (string, error) {
	if strings.TrimSpace(in) == "" {
		return "", fmt.Errorf("%s: %w: input media path is required", op, domain.ErrConfiguration)
	}
	if _, err := f.stat(in); err != nil {
		return "", fmt.Errorf("%s: %w: cannot access input media %s: %v", op, domain.ErrConfiguration, in, err)
	}

	emit(progress, 0, "probing "+filepath.Base(in))
	total, err := f.ProbeDuration(ctx, in)
	if err != nil {
		// Unknown duration only makes progress indeterminate.
		total = 0
	}

	args := buildTranscodeArgs(in, out, codecArgs)
	res, runErr := f.runner.Stream(ctx, func(line string) {
		if pct, ok := parseFFmpegProgress(line, total); ok {
			emit(progress, pct, fmt.Sprintf("%s %.0f%%", op, pct))
		}
	}, f.ffmpegPath, args...)
	if runErr != nil {
		return "", newCommandError(op, "ffmpeg failed", f.ffmpegPath, args, res, runErr)
	}

	if _, err := f.stat(out); err != nil {
		return "", newCommandError(op, "ffmpeg completed but output file is missing", f.ffmpegPath, args, res, err)
	}
	return out, nil
}

// ProbeDuration asks ffprobe for the container duration.
func (f *FFmpeg) ProbeDuration(ctx context.Context, mediaPath string) (time.Duration, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		mediaPath,
	}
	res, err := f.runner.Run(ctx, f.ffprobePath, args...)
	if err != nil {
		return 0, newCommandError("probe duration", "ffprobe failed", f.ffprobePath, args, res, err)
	}

	secs, err := strconv.ParseFloat(strings.TrimSpace(res.Stdout), 64)
	if err != nil {
		return 0, fmt.Errorf("parse ffprobe duration %q: %w", strings.TrimSpace(res.Stdout), err)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// buildTranscodeArgs places machine-readable progress on stdout.
func buildTranscodeArgs(in, out string, codecArgs []string) []string {
	args := []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", in,
		"-progress", "pipe:1",
		"-nostats",
	}
	args = append(args, codecArgs...)
	return append(args, out)
}

// parseFFmpegProgress converts one "-progress" key=value line into a
// percentage of total. Only out_time_us/out_time_ms lines and the final
// progress=end marker produce a value.
func parseFFmpegProgress(line string, total time.Duration) (float64, bool) {
	key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
	if !ok {
		return 0, false
	}

	switch key {
	case "progress":
		if value == "end" {
			return 100, true
		}
		return 0, false
	case "out_time_us", "out_time_ms":
		// Both keys are reported in microseconds.
		if total <= 0 {
			return 0, false
		}
		us, err := strconv.ParseInt(value, 10, 64)
		if err != nil || us < 0 {
			return 0, false
		}
		pct := float64(time.Duration(us)*time.Microsecond) / float64(total) * 100
		if pct > 100 {
			pct = 100
		}
		return pct, true
	default:
		return 0, false
	}
}

// siblingPath derives an output path next to in with a suffix and extension.
func siblingPath(in, suffix, ext string) string {
	dir := filepath.Dir(in)
	base := filepath.Base(in)
	name := strings.TrimSpace(strings.TrimSuffix(base, filepath.Ext(base)))
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = "output"
	}
	return filepath.Join(dir, name+suffix+ext)
}

// newFFmpegForTests constructs a converter with injectable dependencies.
func newFFmpegForTests(runner commandRunner, stat func(string) (os.FileInfo, error)) *FFmpeg {
	return &FFmpeg{
		ffmpegPath:  "ffmpeg",
		ffprobePath: "ffprobe",
		runner:      runner,
		stat:        stat,
	}
}
