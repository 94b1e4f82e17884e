//go:build !windows

package toolchain

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

// TestStreamCancelKillsDescendants stops work started by a child process and
// returns promptly after cancellation.
func TestStreamCancelKillsDescendants(t *testing.T) {
	requireShell(t)
	marker := filepath.Join(t.TempDir(), "marker")

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(200*time.Millisecond, cancel)

	started := time.Now()
	_, err := (&execRunner{}).Stream(ctx, nil, "sh", "-c", "(sleep 2; touch '"+marker+"') & wait")
	elapsed := time.Since(started)

	if err == nil {
		t.Fatal("expected error from cancelled command")
	}
	if elapsed > 1500*time.Millisecond {
		t.Fatalf("Stream returned after %s, want prompt return", elapsed)
	}

	time.Sleep(2500 * time.Millisecond)
	if _, statErr := os.Stat(marker); !errors.Is(statErr, os.ErrNotExist) {
		t.Fatalf("descendant kept running after cancellation (stat err = %v)", statErr)
	}
}

// TestRunCancelKillsDescendants applies the same to buffered runs.
func TestRunCancelKillsDescendants(t *testing.T) {
	requireShell(t)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(200*time.Millisecond, cancel)

	started := time.Now()
	_, err := (&execRunner{}).Run(ctx, "sh", "-c", "sleep 5 & wait")
	if err == nil {
		t.Fatal("expected error from cancelled command")
	}
	if elapsed := time.Since(started); elapsed > 1500*time.Millisecond {
		t.Fatalf("Run returned after %s, want prompt return", elapsed)
	}
}

// TestStreamForwardsLiveOutput reads a real process through the line splitter.
func TestStreamForwardsLiveOutput(t *testing.T) {
	requireShell(t)

	var lines []string
	res, err := (&execRunner{}).Stream(context.Background(), func(line string) {
		lines = append(lines, line)
	}, "sh", "-c", `printf '5%%\r50%%\r100%%\n'; printf 'warn\n' >&2; exit 3`)

	if err == nil || res.ExitCode != 3 {
		t.Fatalf("err = %v, exit = %d, want exit 3", err, res.ExitCode)
	}
	if !strings.Contains(res.Stderr, "warn") {
		t.Fatalf("stderr = %q", res.Stderr)
	}
	joined := strings.Join(lines, "|")
	for _, want := range []string{"5%", "50%", "100%", "warn"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("lines = %q, missing %s", lines, want)
		}
	}
}
