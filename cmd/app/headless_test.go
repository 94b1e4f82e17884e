package main

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"autocut-desktop/internal/bridge"
	"autocut-desktop/internal/domain"
)

type scriptedDispatcher struct {
	command string
	args    []any
	replies []domain.ProgressEvent
	err     error
}

func (d *scriptedDispatcher) Dispatch(_ context.Context, replier bridge.Replier, command string, args ...any) (<-chan struct{}, error) {
	d.command = command
	d.args = args
	if d.err != nil {
		return nil, d.err
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, ev := range d.replies {
			replier.Reply(bridge.ReplyConvertAudio, ev)
		}
	}()
	return done, nil
}

// TestDispatchOncePrintsJSONLines writes one line per reply.
func TestDispatchOncePrintsJSONLines(t *testing.T) {
	d := &scriptedDispatcher{replies: []domain.ProgressEvent{
		{Status: true, Msg: "probing", Process: 0, State: domain.TaskStateRunning},
		{Status: true, Msg: "/tmp/a.mp3", Process: 100, State: domain.TaskStateSucceeded},
	}}
	var out bytes.Buffer

	if err := dispatchOnce(context.Background(), d, &out, bridge.CmdConvertAudio, []string{"/tmp/a.mp4"}); err != nil {
		t.Fatalf("dispatchOnce: %v", err)
	}
	if d.command != bridge.CmdConvertAudio || !reflect.DeepEqual(d.args, []any{"/tmp/a.mp4"}) {
		t.Fatalf("dispatched %s %v", d.command, d.args)
	}

	want := `{"channel":"report-convert-audio","payload":{"status":true,"msg":"probing","process":0}}` + "\n" +
		`{"channel":"report-convert-audio","payload":{"status":true,"msg":"/tmp/a.mp3","process":100}}` + "\n"
	if out.String() != want {
		t.Fatalf("output =\n%s\nwant\n%s", out.String(), want)
	}
}

// TestDispatchOnceReportsFailedTask turns a failed terminal event into an error.
func TestDispatchOnceReportsFailedTask(t *testing.T) {
	d := &scriptedDispatcher{replies: []domain.ProgressEvent{
		{Status: false, Msg: "No such file", Process: 0, State: domain.TaskStateFailed},
	}}
	var out bytes.Buffer

	err := dispatchOnce(context.Background(), d, &out, bridge.CmdConvertAudio, []string{"missing.mp4"})
	if !errors.Is(err, errTaskFailed) || !strings.Contains(err.Error(), "No such file") {
		t.Fatalf("error = %v, want task failure", err)
	}
}

// TestDispatchOnceReturnsRejection passes dispatch errors through.
func TestDispatchOnceReturnsRejection(t *testing.T) {
	perr := &bridge.ProtocolError{Command: "nope", Code: bridge.CodeUnknownCommand, Message: "no such command"}
	d := &scriptedDispatcher{err: perr}

	err := dispatchOnce(context.Background(), d, &bytes.Buffer{}, "nope", nil)
	if !errors.Is(err, perr) {
		t.Fatalf("error = %v, want %v", err, perr)
	}
}

// TestRootCommandRegistersSubcommands keeps the CLI surface stable.
func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := newRootCommand()
	for _, name := range []string{"serve", "run"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Fatalf("subcommand %s not found: %v", name, err)
		}
	}
	if root.PersistentFlags().Lookup("config") == nil {
		t.Fatal("missing --config flag")
	}
}
