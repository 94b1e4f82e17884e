package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"autocut-desktop/internal/config"
	"autocut-desktop/internal/domain"
	"autocut-desktop/internal/logger"
	"autocut-desktop/internal/premiere"
	"autocut-desktop/internal/session"
	"autocut-desktop/internal/tasks"
	"autocut-desktop/internal/toolchain"
)

// ErrDialogUnavailable is returned by Invoke when no dialog collaborator is
// wired, e.g. in headless mode.
var ErrDialogUnavailable = errors.New("directory dialog is not available")

// Replier delivers one payload on a named channel. Implementations must be
// safe for concurrent use.
type Replier interface {
	Reply(channel string, payload any)
}

// ReplierFunc adapts a function to Replier.
type ReplierFunc func(channel string, payload any)

// Reply calls f.
func (f ReplierFunc) Reply(channel string, payload any) { f(channel, payload) }

// Checker probes tool availability.
type Checker interface {
	FFmpegAvailable(ctx context.Context) bool
	AutocutAvailable(ctx context.Context, path string) bool
}

// Installer downloads and unpacks autocut.
type Installer interface {
	Install(ctx context.Context, targetDir string, progress toolchain.ProgressFunc) (string, error)
}

// Converter is the self-contained media converter.
type Converter interface {
	ConvertVideo(ctx context.Context, mediaPath string, progress toolchain.ProgressFunc) (string, error)
	ExtractAudio(ctx context.Context, mediaPath string, progress toolchain.ProgressFunc) (string, error)
}

// Autocut transcribes and cuts media with an installed autocut.
type Autocut interface {
	Transcribe(ctx context.Context, installPath, mediaPath string, progress toolchain.ProgressFunc) (string, error)
	Cut(ctx context.Context, installPath, mediaPath, subtitlePath string, progress toolchain.ProgressFunc) (string, error)
}

// ProjectExporter writes editor projects.
type ProjectExporter interface {
	Export(ctx context.Context, req premiere.Request) (premiere.Result, error)
}

// Dialogs asks the user for a directory. An empty path means the user
// cancelled.
type Dialogs interface {
	SelectDirectory(ctx context.Context, title string) (string, error)
}

// Deps collects the Router collaborators. Store, Events, Dialogs, Log and
// OnEvent are optional.
type Deps struct {
	Runner    *tasks.Runner
	Session   *session.State
	Store     config.Store
	Events    *tasks.EventBus
	Log       *logger.Logger
	Checker   Checker
	Installer Installer
	Converter Converter
	Autocut   Autocut
	Exporter  ProjectExporter
	Dialogs   Dialogs
	Versions  func() []string
	// OnEvent observes every history entry after it is published.
	OnEvent func(tasks.Event)
}

// Router decodes commands, starts tasks and relays their events.
type Router struct {
	runner    *tasks.Runner
	session   *session.State
	store     config.Store
	events    *tasks.EventBus
	log       *logger.Logger
	checker   Checker
	installer Installer
	converter Converter
	autocut   Autocut
	exporter  ProjectExporter
	dialogs   Dialogs
	versions  func() []string
	onEvent   func(tasks.Event)

	// verifyMu serializes capability probes so the verify-capability lease
	// is never contended.
	verifyMu sync.Mutex
}

// NewRouter builds a router from deps.
func NewRouter(deps Deps) *Router {
	r := &Router{
		runner:    deps.Runner,
		session:   deps.Session,
		store:     deps.Store,
		events:    deps.Events,
		log:       deps.Log,
		checker:   deps.Checker,
		installer: deps.Installer,
		converter: deps.Converter,
		autocut:   deps.Autocut,
		exporter:  deps.Exporter,
		dialogs:   deps.Dialogs,
		versions:  deps.Versions,
		onEvent:   deps.OnEvent,
	}
	if r.runner == nil {
		r.runner = tasks.NewRunner(nil)
	}
	if r.session == nil {
		r.session = session.New()
	}
	if r.events == nil {
		r.events = tasks.NewEventBus(0)
	}
	if r.log == nil {
		r.log = logger.NewNop()
	}
	if r.versions == nil {
		r.versions = premiere.SupportedVersions
	}
	return r
}

// Session returns the session the router reads and updates.
func (r *Router) Session() *session.State { return r.session }

// Events returns the history buffer.
func (r *Router) Events() *tasks.EventBus { return r.events }

// Runner returns the task runner.
func (r *Router) Runner() *tasks.Runner { return r.runner }

// Dispatch handles one inbound command. Replies go to replier on the
// command's paired channel only. The returned channel is closed after the
// last reply for this command has been delivered.
//
// A command that cannot run is answered with a ProtocolError on
// ReplyProtocolError and the error is returned.
func (r *Router) Dispatch(ctx context.Context, replier Replier, command string, args ...any) (<-chan struct{}, error) {
	rt, ok := routes[command]
	if !ok {
		return nil, r.reject(replier, command, CodeUnknownCommand, "no such command")
	}
	cmd, err := rt.decode(args)
	if err != nil {
		return nil, r.reject(replier, command, CodeMalformedArgument, err.Error())
	}

	done := make(chan struct{})
	switch c := cmd.(type) {
	case checkFFmpeg:
		go r.answer(replier, rt.reply, done, func() any {
			return r.verify(ctx, command, func(ctx context.Context) bool {
				return r.checker != nil && r.checker.FFmpegAvailable(ctx)
			})
		})
	case checkAutocut:
		go r.answer(replier, rt.reply, done, func() any { return r.checkAutocut(ctx, c.Path) })
	case checkPrVersions:
		go r.answer(replier, rt.reply, done, func() any { return r.versions() })
	default:
		op, opErr := r.operation(cmd)
		if opErr != nil {
			return nil, r.reject(replier, command, CodeMalformedArgument, opErr.Error())
		}
		task, startErr := r.runner.Start(ctx, rt.kind, op)
		if startErr != nil {
			if errors.Is(startErr, tasks.ErrTaskBusy) {
				return nil, r.reject(replier, command, CodeBusy, startErr.Error())
			}
			return nil, r.reject(replier, command, CodeMalformedArgument, startErr.Error())
		}
		r.log.Infow("task_started", "command", command, "kind", rt.kind, "task_id", task.ID())
		if rt.mode == modeSilent {
			go r.drain(command, task, done)
		} else {
			go r.relay(replier, command, rt.reply, task, done)
		}
	}
	return done, nil
}

// Invoke answers request/response commands. A cancelled dialog yields "".
func (r *Router) Invoke(ctx context.Context, command string) (string, error) {
	var title string
	switch command {
	case InvokeSelectAutocutDir:
		title = "Select the AutoCut installation directory"
	case InvokeSelectPrprojDir:
		title = "Select the Premiere project directory"
	default:
		return "", &ProtocolError{Command: command, Code: CodeUnknownCommand, Message: "no such request"}
	}
	if r.dialogs == nil {
		return "", ErrDialogUnavailable
	}
	path, err := r.dialogs.SelectDirectory(ctx, title)
	if err != nil {
		return "", fmt.Errorf("%s: %w", command, err)
	}
	return strings.TrimSpace(path), nil
}

// Cancel requests cancellation of the running task started by command.
func (r *Router) Cancel(command string) error {
	rt, ok := routes[command]
	if !ok || rt.kind == "" || rt.mode == modeQuery {
		return &ProtocolError{Command: command, Code: CodeUnknownCommand, Message: "command does not start a cancellable task"}
	}
	return r.runner.Cancel(rt.kind)
}

func (r *Router) operation(cmd any) (tasks.Operation, error) {
	switch c := cmd.(type) {
	case downloadAutocut:
		return r.downloadOp(c), nil
	case startTranscribe:
		return func(ctx context.Context, report tasks.Reporter) (string, error) {
			install, err := r.session.RequireInstallPath()
			if err != nil {
				return "", err
			}
			return r.autocut.Transcribe(ctx, install, c.Media, toolchain.ProgressFunc(report))
		}, nil
	case startCut:
		return func(ctx context.Context, report tasks.Reporter) (string, error) {
			install, err := r.session.RequireInstallPath()
			if err != nil {
				return "", err
			}
			return r.autocut.Cut(ctx, install, c.Media, c.Subtitle, toolchain.ProgressFunc(report))
		}, nil
	case convertVideo:
		return func(ctx context.Context, report tasks.Reporter) (string, error) {
			return r.converter.ConvertVideo(ctx, c.Media, toolchain.ProgressFunc(report))
		}, nil
	case convertAudio:
		return func(ctx context.Context, report tasks.Reporter) (string, error) {
			return r.converter.ExtractAudio(ctx, c.Media, toolchain.ProgressFunc(report))
		}, nil
	case exportToPr:
		return func(ctx context.Context, report tasks.Reporter) (string, error) {
			res, err := r.exporter.Export(ctx, premiere.Request{
				TargetDir:    c.TargetDir,
				MediaPath:    c.Media,
				SubtitlePath: c.Subtitle,
				ClipPoints:   c.ClipPoints,
				Version:      c.Version,
			})
			if err != nil {
				return "", err
			}
			return res.ProjectPath, nil
		}, nil
	default:
		return nil, fmt.Errorf("unsupported command payload %T", cmd)
	}
}

// downloadOp installs autocut and adopts the result when it verifies.
func (r *Router) downloadOp(c downloadAutocut) tasks.Operation {
	return func(ctx context.Context, report tasks.Reporter) (string, error) {
		dir, err := r.installer.Install(ctx, c.TargetDir, toolchain.ProgressFunc(report))
		if err != nil {
			return "", err
		}
		if r.checker != nil && r.checker.AutocutAvailable(ctx, dir) {
			r.adoptInstallPath(dir)
			return dir, nil
		}
		r.log.Warnw("installed_autocut_unverified", "dir", dir)
		return dir, nil
	}
}

// checkAutocut verifies path and, on success, makes it the session's
// installation path. An empty path answers false without probing.
func (r *Router) checkAutocut(ctx context.Context, path string) bool {
	if strings.TrimSpace(path) == "" {
		return false
	}
	ok := r.verify(ctx, CmdCheckAutocut, func(ctx context.Context) bool {
		return r.checker != nil && r.checker.AutocutAvailable(ctx, path)
	})
	if ok {
		r.adoptInstallPath(path)
	}
	return ok
}

// verify runs probe as a verify-capability task and reports its result.
func (r *Router) verify(ctx context.Context, command string, probe func(context.Context) bool) bool {
	r.verifyMu.Lock()
	defer r.verifyMu.Unlock()

	var passed atomic.Bool
	task, err := r.runner.Start(ctx, domain.TaskKindVerifyCapability, func(ctx context.Context, _ tasks.Reporter) (string, error) {
		passed.Store(probe(ctx))
		if !passed.Load() {
			return "", fmt.Errorf("%w: %s probe failed", domain.ErrExternalProcess, command)
		}
		return "available", nil
	})
	if err != nil {
		r.log.Warnw("verify_not_started", "command", command, "error", err)
		return false
	}
	for ev := range task.Events() {
		r.record(command, "", task, ev)
	}
	return passed.Load() && task.Err() == nil
}

func (r *Router) adoptInstallPath(path string) {
	r.session.SetInstallPath(path)
	r.log.Infow("install_path_set", "path", path)
	if r.store == nil {
		return
	}
	settings, err := r.store.Load()
	if err != nil {
		r.log.Warnw("settings_load_failed", "error", err)
		return
	}
	settings.AutocutPath = path
	if err := r.store.Save(settings); err != nil {
		r.log.Warnw("settings_save_failed", "error", err)
	}
}

func (r *Router) answer(replier Replier, channel string, done chan<- struct{}, fn func() any) {
	defer close(done)
	payload := fn()
	replier.Reply(channel, payload)
	r.publish(tasks.Event{Channel: channel, Status: true, Message: fmt.Sprint(payload)})
}

// relay forwards every task event, in order, on the reply channel.
func (r *Router) relay(replier Replier, command, channel string, task *tasks.Task, done chan<- struct{}) {
	defer close(done)
	for ev := range task.Events() {
		replier.Reply(channel, ev)
		r.record(command, channel, task, ev)
	}
}

// drain consumes a task that has no reply channel and logs its outcome.
func (r *Router) drain(command string, task *tasks.Task, done chan<- struct{}) {
	defer close(done)
	for ev := range task.Events() {
		r.record(command, "", task, ev)
	}
}

func (r *Router) record(command, channel string, task *tasks.Task, ev domain.ProgressEvent) {
	entry := tasks.Event{
		TaskID:  task.ID(),
		Kind:    task.Kind(),
		Channel: channel,
		State:   ev.State,
		Status:  ev.Status,
		Message: ev.Msg,
		Process: ev.Process,
	}
	if ev.State == domain.TaskStateFailed {
		entry.ErrorKind = domain.ClassifyError(task.Err())
	}
	r.publish(entry)

	switch ev.State {
	case domain.TaskStateSucceeded:
		r.log.Infow("task_finished", "command", command, "kind", task.Kind(), "task_id", task.ID(), "result", ev.Msg)
	case domain.TaskStateFailed:
		r.log.Warnw("task_failed", "command", command, "kind", task.Kind(), "task_id", task.ID(),
			"error_kind", entry.ErrorKind, "error", ev.Msg)
	}
}

func (r *Router) reject(replier Replier, command, code, msg string) error {
	perr := &ProtocolError{Command: command, Code: code, Message: msg}
	r.log.Warnw("command_rejected", "command", command, "code", code, "reason", msg)
	if replier != nil {
		replier.Reply(ReplyProtocolError, perr)
	}
	r.publish(tasks.Event{Channel: ReplyProtocolError, Status: false, Message: perr.Error()})
	return perr
}

func (r *Router) publish(event tasks.Event) {
	published := r.events.Publish(event)
	if r.onEvent != nil {
		r.onEvent(published)
	}
}
