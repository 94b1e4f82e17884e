// Package toolchain drives the external binaries behind every task:
// ffmpeg/ffprobe for transcoding, autocut for transcription and cutting,
// and the HTTP installer that fetches autocut.
package toolchain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"autocut-desktop/internal/domain"
)

const (
	// waitDelay bounds how long output copying may outlive a killed command.
	waitDelay = 2 * time.Second
	// maxPendingLine forces out a line that never terminates.
	maxPendingLine = 1024 * 1024
)

// ProgressFunc receives intermediate progress (0-100) and a status line.
type ProgressFunc func(process float64, msg string)

// CommandLog captures one external command invocation result.
type CommandLog struct {
	Command  string   `json:"command"`
	Args     []string `json:"args"`
	ExitCode int      `json:"exitCode"`
	Stdout   string   `json:"stdout"`
	Stderr   string   `json:"stderr"`
}

// CommandError is an external tool failure with its command context.
// It matches domain.ErrExternalProcess under errors.Is.
type CommandError struct {
	Op         string     `json:"op"`
	Message    string     `json:"message"`
	CommandLog CommandLog `json:"commandLog"`
	Err        error      `json:"-"`
}

// Error formats tool failures for logs and UI, keeping the tool's own
// diagnostics at the end.
func (e *CommandError) Error() string {
	if e == nil {
		return ""
	}
	if e.CommandLog.Command == "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	msg := fmt.Sprintf(
		"%s: %s (cmd=%s exit=%d)",
		e.Op,
		e.Message,
		e.CommandLog.Command,
		e.CommandLog.ExitCode,
	)
	if detail := diagnosticTail(e.CommandLog); detail != "" {
		msg += ": " + detail
	}
	return msg
}

// Unwrap exposes underlying error for errors.Is / errors.As.
func (e *CommandError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is reports every CommandError as an external process failure.
func (e *CommandError) Is(target error) bool {
	return target == domain.ErrExternalProcess
}

const maxDiagnosticLen = 1000

// diagnosticTail returns the tail of stderr, or stdout when stderr is empty.
func diagnosticTail(log CommandLog) string {
	text := strings.TrimSpace(log.Stderr)
	if text == "" {
		text = strings.TrimSpace(log.Stdout)
	}
	if len(text) > maxDiagnosticLen {
		text = "..." + text[len(text)-maxDiagnosticLen:]
	}
	return text
}

// commandResult is an internal process execution response.
type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// commandRunner abstracts process execution for testability.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (commandResult, error)
	// Stream runs the command and calls onLine for every stdout/stderr line
	// as it is produced. Carriage returns also end a line.
	Stream(ctx context.Context, onLine func(line string), name string, args ...string) (commandResult, error)
}

// execRunner executes commands via os/exec.
type execRunner struct{}

// Run executes one command and captures stdout/stderr and exit code.
func (r *execRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	killProcessTree(cmd)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := commandResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: 0,
	}
	if err != nil {
		result.ExitCode = exitCode(err)
		return result, err
	}

	return result, nil
}

// Stream executes one command, forwarding output lines while capturing them.
// Output copying is owned by cmd.Wait, so a cancelled command returns within
// waitDelay even if a descendant still holds the pipes.
func (r *execRunner) Stream(ctx context.Context, onLine func(line string), name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	killProcessTree(cmd)

	var mu sync.Mutex
	stdout := &lineWriter{mu: &mu, onLine: onLine}
	stderr := &lineWriter{mu: &mu, onLine: onLine}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err := cmd.Run()
	stdout.flush()
	stderr.flush()

	mu.Lock()
	result := commandResult{
		Stdout: stdout.captured.String(),
		Stderr: stderr.captured.String(),
	}
	mu.Unlock()
	if err != nil {
		result.ExitCode = exitCode(err)
		return result, err
	}
	return result, nil
}

// lineWriter splits written output with scanLinesOrCR, records every line
// and forwards non-blank ones. Both streams of one command share mu.
type lineWriter struct {
	mu       *sync.Mutex
	onLine   func(line string)
	pending  []byte
	captured strings.Builder
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending = append(w.pending, p...)
	w.drain(false)
	if len(w.pending) > maxPendingLine {
		w.drain(true)
	}
	return len(p), nil
}

func (w *lineWriter) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.drain(true)
}

func (w *lineWriter) drain(atEOF bool) {
	for len(w.pending) > 0 {
		advance, token, _ := scanLinesOrCR(w.pending, atEOF)
		if advance == 0 {
			return
		}
		// A trailing '\r' may be the first half of "\r\n".
		if !atEOF && advance == len(w.pending) && w.pending[advance-1] == '\r' {
			return
		}
		line := string(token)
		w.pending = w.pending[advance:]
		w.captured.WriteString(line)
		w.captured.WriteByte('\n')
		if w.onLine != nil && strings.TrimSpace(line) != "" {
			w.onLine(line)
		}
	}
}

func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// scanLinesOrCR is bufio.ScanLines that also breaks on a bare '\r', which
// progress bars use to redraw in place.
func scanLinesOrCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		advance = i + 1
		if data[i] == '\r' && i+1 < len(data) && data[i+1] == '\n' {
			advance++
		}
		return advance, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// newCommandError builds a CommandError from one finished invocation.
func newCommandError(op, message, name string, args []string, res commandResult, err error) *CommandError {
	return &CommandError{
		Op:      op,
		Message: message,
		CommandLog: CommandLog{
			Command:  name,
			Args:     args,
			ExitCode: res.ExitCode,
			Stdout:   res.Stdout,
			Stderr:   res.Stderr,
		},
		Err: err,
	}
}

// emit forwards progress when a callback is configured.
func emit(cb ProgressFunc, process float64, msg string) {
	if cb != nil {
		cb(process, msg)
	}
}
