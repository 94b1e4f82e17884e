package toolchain

import (
	"bufio"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"autocut-desktop/internal/domain"
)

// fakeRunner simulates command execution order and outcomes.
type fakeRunner struct {
	run    func(ctx context.Context, name string, args ...string) (commandResult, error)
	stream func(ctx context.Context, onLine func(string), name string, args ...string) (commandResult, error)
	calls  []string
}

// Run delegates to injected behavior.
func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	f.calls = append(f.calls, name)
	if f.run == nil {
		return commandResult{}, nil
	}
	return f.run(ctx, name, args...)
}

// Stream delegates to injected behavior.
func (f *fakeRunner) Stream(ctx context.Context, onLine func(string), name string, args ...string) (commandResult, error) {
	f.calls = append(f.calls, name)
	if f.stream == nil {
		return commandResult{}, nil
	}
	return f.stream(ctx, onLine, name, args...)
}

// progressLog records every reported value.
type progressLog struct {
	values []float64
	msgs   []string
}

func (p *progressLog) report(process float64, msg string) {
	p.values = append(p.values, process)
	p.msgs = append(p.msgs, msg)
}

// TestCommandErrorCarriesToolDiagnostics checks the message and error kind.
func TestCommandErrorCarriesToolDiagnostics(t *testing.T) {
	err := newCommandError("cut", "autocut cut failed", "autocut", []string{"-c"}, commandResult{
		Stderr:   "Traceback: srt parse error\n",
		ExitCode: 2,
	}, errors.New("exit status 2"))

	if !errors.Is(err, domain.ErrExternalProcess) {
		t.Fatal("expected external process kind")
	}
	if got := err.Error(); !strings.HasSuffix(got, "Traceback: srt parse error") {
		t.Fatalf("Error() = %q, want stderr suffix", got)
	}
	if !strings.Contains(err.Error(), "exit=2") {
		t.Fatalf("Error() = %q, want exit code", err.Error())
	}
}

// TestDiagnosticTailTruncatesLongOutput keeps only the end of noisy output.
func TestDiagnosticTailTruncatesLongOutput(t *testing.T) {
	long := strings.Repeat("x", maxDiagnosticLen) + "END"
	got := diagnosticTail(CommandLog{Stdout: long})
	if !strings.HasPrefix(got, "...") || !strings.HasSuffix(got, "END") {
		t.Fatalf("tail = %q", got[:20])
	}
}

// TestScanLinesOrCR splits on carriage returns used by progress bars.
func TestScanLinesOrCR(t *testing.T) {
	scanner := bufio.NewScanner(strings.NewReader("10%\r20%\r\ndone\nlast"))
	scanner.Split(scanLinesOrCR)

	var got []string
	for scanner.Scan() {
		got = append(got, scanner.Text())
	}
	want := []string{"10%", "20%", "done", "last"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("tokens = %q, want %q", got, want)
	}
}

// TestLineWriterSplitsAcrossWrites keeps "\r\n" split over two writes as one break.
func TestLineWriterSplitsAcrossWrites(t *testing.T) {
	var mu sync.Mutex
	var forwarded []string
	w := &lineWriter{mu: &mu, onLine: func(line string) { forwarded = append(forwarded, line) }}

	for _, chunk := range []string{"10%\r", "\n20%", "\rdone\n", "  \n", "tail"} {
		if _, err := w.Write([]byte(chunk)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	w.flush()

	want := []string{"10%", "20%", "done", "tail"}
	if strings.Join(forwarded, "|") != strings.Join(want, "|") {
		t.Fatalf("forwarded = %q, want %q", forwarded, want)
	}
	if got := w.captured.String(); got != "10%\n20%\ndone\n  \ntail\n" {
		t.Fatalf("captured = %q", got)
	}
}

// mustWriteFile creates parent directory and writes file content.
func mustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir parent: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write file %s: %v", path, err)
	}
}

// argValue returns value for key-style CLI args.
func argValue(args []string, key string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == key {
			return args[i+1]
		}
	}
	return ""
}
