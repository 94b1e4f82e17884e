package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"reflect"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v2"

	"autocut-desktop/internal/bridge"
	"autocut-desktop/internal/domain"
	"autocut-desktop/internal/logger"
)

// fakeDispatcher records calls and replies through the given replier.
type fakeDispatcher struct {
	command string
	args    []any
	reply   func(bridge.Replier)
	err     error
	invoke  func(command string) (string, error)
}

func (d *fakeDispatcher) Dispatch(_ context.Context, replier bridge.Replier, command string, args ...any) (<-chan struct{}, error) {
	d.command = command
	d.args = args
	if d.err != nil {
		return nil, d.err
	}
	done := make(chan struct{})
	if d.reply != nil {
		d.reply(replier)
	}
	close(done)
	return done, nil
}

func (d *fakeDispatcher) Invoke(_ context.Context, command string) (string, error) {
	if d.invoke == nil {
		return "", bridge.ErrDialogUnavailable
	}
	return d.invoke(command)
}

// fakeWriter captures written frames.
type fakeWriter struct {
	mu     sync.Mutex
	frames [][]byte
	err    error
}

func (w *fakeWriter) WriteMessage(_ int, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.frames = append(w.frames, data)
	return nil
}

type decodedFrame struct {
	Channel string          `json:"channel"`
	Payload json.RawMessage `json:"payload"`
}

func (w *fakeWriter) decoded(t *testing.T) []decodedFrame {
	t.Helper()
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]decodedFrame, 0, len(w.frames))
	for _, raw := range w.frames {
		var f decodedFrame
		if err := json.Unmarshal(raw, &f); err != nil {
			t.Fatalf("decode frame %s: %v", raw, err)
		}
		out = append(out, f)
	}
	return out
}

// TestParseFrame covers argument shapes a client may send.
func TestParseFrame(t *testing.T) {
	cases := []struct {
		name    string
		in      string
		want    Frame
		wantErr bool
	}{
		{name: "no args", in: `{"channel":"check-ffmpeg"}`, want: Frame{Channel: "check-ffmpeg"}},
		{name: "null args", in: `{"channel":"check-ffmpeg","args":null}`, want: Frame{Channel: "check-ffmpeg"}},
		{
			name: "string args",
			in:   `{"channel":"start-cut","args":["a.mp4","a.srt"]}`,
			want: Frame{Channel: "start-cut", Args: []any{"a.mp4", "a.srt"}},
		},
		{
			name: "nested list",
			in:   `{"channel":"export-to-pr","args":["/out","a.mp4","a.srt",["00:00:01-00:00:02"],"2024"]}`,
			want: Frame{Channel: "export-to-pr", Args: []any{"/out", "a.mp4", "a.srt", []any{"00:00:01-00:00:02"}, "2024"}},
		},
		{name: "scalar arg", in: `{"channel":"check-autocut","args":"/opt/autocut"}`, want: Frame{Channel: "check-autocut", Args: []any{"/opt/autocut"}}},
		{name: "number stays number", in: `{"channel":"convert-video","args":[7]}`, want: Frame{Channel: "convert-video", Args: []any{float64(7)}}},
		{name: "invalid json", in: `{"channel":`, wantErr: true},
		{name: "not an object", in: `["check-ffmpeg"]`, wantErr: true},
		{name: "missing channel", in: `{"args":[]}`, wantErr: true},
		{name: "non-string channel", in: `{"channel":3}`, wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseFrame([]byte(tc.in))
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseFrame: %v", err)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("frame = %#v, want %#v", got, tc.want)
			}
		})
	}
}

// TestHandleFrameRelaysReplies dispatches a command and forwards its replies.
func TestHandleFrameRelaysReplies(t *testing.T) {
	d := &fakeDispatcher{reply: func(r bridge.Replier) {
		r.Reply(bridge.ReplyTranscribe, domain.ProgressEvent{Status: true, Msg: "working", Process: 40, State: domain.TaskStateRunning})
		r.Reply(bridge.ReplyTranscribe, domain.ProgressEvent{Status: true, Msg: "/tmp/a.srt", Process: 100, State: domain.TaskStateSucceeded})
	}}
	s := New(d, logger.NewNop())
	w := &fakeWriter{}

	done := s.handleFrame(context.Background(), newConnReplier(w, logger.NewNop()),
		[]byte(`{"channel":"start-transcribe","args":["/tmp/a.mp4"]}`))
	if done == nil {
		t.Fatal("expected done channel")
	}
	<-done

	if d.command != bridge.CmdStartTranscribe || !reflect.DeepEqual(d.args, []any{"/tmp/a.mp4"}) {
		t.Fatalf("dispatched %s %v", d.command, d.args)
	}
	frames := w.decoded(t)
	if len(frames) != 2 {
		t.Fatalf("frames = %d, want 2", len(frames))
	}
	for _, f := range frames {
		if f.Channel != bridge.ReplyTranscribe {
			t.Fatalf("channel = %s, want %s", f.Channel, bridge.ReplyTranscribe)
		}
	}
	if got := string(frames[1].Payload); got != `{"status":true,"msg":"/tmp/a.srt","process":100}` {
		t.Fatalf("payload = %s", got)
	}
}

// TestHandleFrameRejectsMalformedFrame answers on the protocol error channel.
func TestHandleFrameRejectsMalformedFrame(t *testing.T) {
	d := &fakeDispatcher{}
	s := New(d, nil)
	w := &fakeWriter{}

	if done := s.handleFrame(context.Background(), newConnReplier(w, logger.NewNop()), []byte(`not json`)); done != nil {
		t.Fatal("expected no done channel")
	}
	if d.command != "" {
		t.Fatalf("dispatcher called with %s", d.command)
	}

	frames := w.decoded(t)
	if len(frames) != 1 || frames[0].Channel != bridge.ReplyProtocolError {
		t.Fatalf("frames = %+v, want one protocol error", frames)
	}
	var perr bridge.ProtocolError
	if err := json.Unmarshal(frames[0].Payload, &perr); err != nil {
		t.Fatalf("decode protocol error: %v", err)
	}
	if perr.Code != bridge.CodeMalformedArgument {
		t.Fatalf("code = %s, want %s", perr.Code, bridge.CodeMalformedArgument)
	}
}

// TestHandleFrameRejectedDispatchLeavesNothingPending returns nil on errors.
func TestHandleFrameRejectedDispatchLeavesNothingPending(t *testing.T) {
	d := &fakeDispatcher{err: errors.New("busy")}
	s := New(d, nil)

	if done := s.handleFrame(context.Background(), newConnReplier(&fakeWriter{}, logger.NewNop()),
		[]byte(`{"channel":"convert-audio","args":["a.mp4"]}`)); done != nil {
		t.Fatal("expected nil done channel")
	}
}

// TestHandleFrameInvokesDialogs answers request/response channels directly.
func TestHandleFrameInvokesDialogs(t *testing.T) {
	d := &fakeDispatcher{invoke: func(command string) (string, error) { return "/picked", nil }}
	s := New(d, nil)
	w := &fakeWriter{}
	replier := newConnReplier(w, logger.NewNop())

	<-s.handleFrame(context.Background(), replier, []byte(`{"channel":"select-prproj-save-directory"}`))
	<-s.handleFrame(context.Background(), replier, []byte(`{"channel":"select-autocut-save-directory"}`))

	frames := w.decoded(t)
	if len(frames) != 2 {
		t.Fatalf("frames = %d, want 2", len(frames))
	}
	if frames[0].Channel != bridge.InvokeSelectPrprojDir || string(frames[0].Payload) != `{"path":"/picked"}` {
		t.Fatalf("frame = %s %s", frames[0].Channel, frames[0].Payload)
	}
	if d.command != "" {
		t.Fatalf("dialog request must not dispatch, got %s", d.command)
	}

	headless := New(&fakeDispatcher{}, nil)
	w = &fakeWriter{}
	<-headless.handleFrame(context.Background(), newConnReplier(w, logger.NewNop()), []byte(`{"channel":"select-prproj-save-directory"}`))
	frames = w.decoded(t)
	var res invokeResult
	if err := json.Unmarshal(frames[0].Payload, &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Error == "" || res.Path != "" {
		t.Fatalf("result = %+v, want error only", res)
	}
}

// TestOpenDialogDoesNotBlockOtherFrames keeps reading while a picker is open.
func TestOpenDialogDoesNotBlockOtherFrames(t *testing.T) {
	release := make(chan struct{})
	d := &fakeDispatcher{
		invoke: func(string) (string, error) {
			<-release
			return "/picked", nil
		},
		reply: func(r bridge.Replier) { r.Reply(bridge.ReplyPrVersions, []string{"2024"}) },
	}
	s := New(d, nil)
	w := &fakeWriter{}
	replier := newConnReplier(w, logger.NewNop())

	dialogDone := s.handleFrame(context.Background(), replier, []byte(`{"channel":"select-autocut-save-directory"}`))
	if dialogDone == nil {
		t.Fatal("expected done channel for dialog request")
	}
	versionsDone := s.handleFrame(context.Background(), replier, []byte(`{"channel":"check-pr-versions"}`))
	<-versionsDone

	frames := w.decoded(t)
	if len(frames) != 1 || frames[0].Channel != bridge.ReplyPrVersions {
		t.Fatalf("frames = %+v, want only the versions reply while the dialog is open", frames)
	}

	close(release)
	<-dialogDone
	frames = w.decoded(t)
	if len(frames) != 2 || frames[1].Channel != bridge.InvokeSelectAutocutDir {
		t.Fatalf("frames = %+v, want dialog reply last", frames)
	}
}

// TestConnReplierStopsAfterWriteFailure drops writes once the peer is gone.
func TestConnReplierStopsAfterWriteFailure(t *testing.T) {
	w := &fakeWriter{err: errors.New("broken pipe")}
	r := newConnReplier(w, logger.NewNop())

	r.Reply("report-cut", true)
	w.err = nil
	r.Reply("report-cut", true)
	if len(w.frames) != 0 {
		t.Fatalf("frames = %d, want 0 after failure", len(w.frames))
	}

	w2 := &fakeWriter{}
	r2 := newConnReplier(w2, logger.NewNop())
	r2.close()
	r2.Reply("report-cut", true)
	if len(w2.frames) != 0 {
		t.Fatal("write after close")
	}
}

// TestHTTPRoutes covers the liveness probe and the upgrade guard.
func TestHTTPRoutes(t *testing.T) {
	s := New(&fakeDispatcher{}, nil)

	resp, err := s.app.Test(httptest.NewRequest("GET", "/healthz", nil))
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("healthz status = %d", resp.StatusCode)
	}

	resp, err = s.app.Test(httptest.NewRequest("GET", "/ws", nil))
	if err != nil {
		t.Fatalf("ws: %v", err)
	}
	if resp.StatusCode != fiber.StatusUpgradeRequired {
		t.Fatalf("ws status = %d, want %d", resp.StatusCode, fiber.StatusUpgradeRequired)
	}
}
