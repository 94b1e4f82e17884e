package bootstrap

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"

	"autocut-desktop/internal/bridge"
	"autocut-desktop/internal/config"
	"autocut-desktop/internal/diagnostics"
	"autocut-desktop/internal/domain"
	"autocut-desktop/internal/logger"
	"autocut-desktop/internal/premiere"
	"autocut-desktop/internal/session"
	"autocut-desktop/internal/tasks"
	"autocut-desktop/internal/toolchain"

	wailsruntime "github.com/wailsapp/wails/v2/pkg/runtime"
)

// TaskEventName is the push channel carrying every history entry.
const TaskEventName = "task:event"

// App wires configuration, the bridge, and UI runtime callbacks.
type App struct {
	Settings    domain.Settings
	Store       config.Store
	Router      *bridge.Router
	Diagnostics domain.DiagnosticReport
	assets      fs.FS
	checker     *diagnostics.Checker
	packages    *packageInstaller
	log         *logger.Logger

	// on and emit default to the Wails runtime.
	on   func(ctx context.Context, name string, cb func(optionalData ...interface{})) func()
	emit func(ctx context.Context, name string, data ...interface{})

	mu         sync.Mutex
	runtimeCtx context.Context
	offs       []func()
}

// New builds the application from persisted settings. The stored autocut
// path is adopted only if it still verifies.
func New(store config.Store, log *logger.Logger) (*App, error) {
	return NewWithAssets(store, log, nil)
}

// NewWithAssets builds the application and optionally configures embedded frontend assets.
func NewWithAssets(store config.Store, log *logger.Logger, assets fs.FS) (*App, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve user home: %w", err)
	}
	if err := ensureLocalBinOnPATH(homeDir); err != nil {
		return nil, fmt.Errorf("prepare local tool path: %w", err)
	}

	settings, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	if log == nil {
		log = logger.NewNop()
	}

	a := &App{
		Settings: settings,
		Store:    store,
		assets:   assets,
		checker:  diagnostics.NewChecker(settings),
		log:      log.Named("app"),
		on:       wailsruntime.EventsOn,
		emit:     wailsruntime.EventsEmit,
	}
	a.Router = NewRouter(settings, store, log, a.checker, &wailsDialogs{app: a}, a.pushEvent)
	a.restoreInstallPath(context.Background())
	a.Diagnostics = a.checker.Run(context.Background(), a.installPath())
	return a, nil
}

// NewRouter assembles the bridge with the concrete toolchain. Dialogs and
// onEvent may be nil.
func NewRouter(
	settings domain.Settings,
	store config.Store,
	log *logger.Logger,
	checker bridge.Checker,
	dialogs bridge.Dialogs,
	onEvent func(tasks.Event),
) *bridge.Router {
	runner := tasks.NewRunner(tasks.NewManager(), tasks.WithTimeout(settings.TaskTimeout))
	return bridge.NewRouter(bridge.Deps{
		Runner:    runner,
		Session:   session.New(),
		Store:     store,
		Events:    tasks.NewEventBus(settings.EventHistory),
		Log:       log.Named("bridge"),
		Checker:   checker,
		Installer: toolchain.NewInstaller(&http.Client{Timeout: 30 * time.Minute}, settings.DownloadURL),
		Converter: toolchain.NewFFmpeg(settings.FFmpegPath, settings.FFprobePath),
		Autocut:   toolchain.NewAutocut(),
		Exporter:  premiere.NewExporter(),
		Dialogs:   dialogs,
		Versions:  premiere.SupportedVersions,
		OnEvent:   onEvent,
	})
}

// Run starts the Wails desktop application and binds backend methods.
func (a *App) Run() error {
	assetOptions := &assetserver.Options{}
	if a.assets != nil {
		assetOptions.Assets = a.assets
	} else {
		assetOptions.Handler = http.FileServer(http.Dir("./frontend"))
	}

	return wails.Run(&options.App{
		Title:       "AutoCut",
		Width:       1180,
		Height:      780,
		AssetServer: assetOptions,
		OnStartup:   a.Startup,
		OnShutdown:  a.Shutdown,
		Bind:        []interface{}{a},
	})
}

// Startup stores the Wails runtime context and subscribes every bridge
// command.
func (a *App) Startup(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.runtimeCtx = ctx

	replier := bridge.ReplierFunc(func(channel string, payload any) {
		a.emit(ctx, channel, payload)
	})
	for _, command := range bridge.Commands() {
		command := command
		off := a.on(ctx, command, func(optionalData ...interface{}) {
			// Rejections are already reported on the protocol channel.
			_, _ = a.Router.Dispatch(ctx, replier, command, optionalData...)
		})
		a.offs = append(a.offs, off)
	}
	a.log.Infow("bridge_ready", "commands", len(a.offs))
}

// Shutdown unsubscribes commands and drops the runtime context.
func (a *App) Shutdown(context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, off := range a.offs {
		if off != nil {
			off()
		}
	}
	a.offs = nil
	a.runtimeCtx = nil
	_ = a.log.Sync()
}

// SelectAutocutSaveDirectory asks for the autocut installation directory.
// An empty result means the dialog was cancelled.
func (a *App) SelectAutocutSaveDirectory() (string, error) {
	return a.Router.Invoke(a.contextOrBackground(), bridge.InvokeSelectAutocutDir)
}

// SelectPrprojSaveDirectory asks for the Premiere project directory.
func (a *App) SelectPrprojSaveDirectory() (string, error) {
	return a.Router.Invoke(a.contextOrBackground(), bridge.InvokeSelectPrprojDir)
}

// GetDiagnostics returns the latest cached diagnostics report.
func (a *App) GetDiagnostics() domain.DiagnosticReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Diagnostics
}

// RefreshDiagnostics reruns dependency checks against the current session.
func (a *App) RefreshDiagnostics() domain.DiagnosticReport {
	report := a.checker.Run(a.contextOrBackground(), a.installPath())

	a.mu.Lock()
	a.Diagnostics = report
	a.mu.Unlock()
	return report
}

// GetSettings loads and returns the latest persisted settings.
func (a *App) GetSettings() (domain.Settings, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.Settings{}, fmt.Errorf("load settings: %w", err)
	}

	a.mu.Lock()
	a.Settings = settings
	a.mu.Unlock()

	return settings, nil
}

// SaveSettings normalizes and persists settings. Tool paths and timeouts
// apply on next start.
func (a *App) SaveSettings(settings domain.Settings) (domain.Settings, error) {
	normalized := normalizeSettings(settings)
	if err := a.Store.Save(normalized); err != nil {
		return domain.Settings{}, fmt.Errorf("save settings: %w", err)
	}

	a.mu.Lock()
	a.Settings = normalized
	a.mu.Unlock()

	return normalized, nil
}

// TaskEvents returns all history entries with sequence greater than sinceSeq.
func (a *App) TaskEvents(sinceSeq int64) []tasks.Event {
	return a.Router.Events().Since(sinceSeq)
}

// CurrentTasks returns the latest state of every task kind.
func (a *App) CurrentTasks() []domain.Task {
	return a.Router.Runner().Manager().Snapshot()
}

// CancelTask cancels the running task started by command, e.g. "start-transcribe".
func (a *App) CancelTask(command string) error {
	return a.Router.Cancel(command)
}

// InstallPath returns the verified autocut installation path, or "".
func (a *App) InstallPath() string {
	return a.installPath()
}

func (a *App) installPath() string {
	path, _ := a.Router.Session().InstallPath()
	return path
}

// restoreInstallPath re-verifies the persisted autocut path.
func (a *App) restoreInstallPath(ctx context.Context) {
	path := strings.TrimSpace(a.Settings.AutocutPath)
	if path == "" {
		return
	}
	if !a.checker.AutocutAvailable(ctx, path) {
		a.log.Warnw("stored_install_path_invalid", "path", path)
		return
	}
	a.Router.Session().SetInstallPath(path)
	a.log.Infow("install_path_restored", "path", path)
}

// pushEvent emits one history entry to the frontend.
func (a *App) pushEvent(event tasks.Event) {
	a.mu.Lock()
	ctx := a.runtimeCtx
	a.mu.Unlock()
	if ctx != nil {
		a.emit(ctx, TaskEventName, event)
	}
}

// runtimeContext returns current Wails runtime context for dialog APIs.
func (a *App) runtimeContext() (context.Context, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.runtimeCtx == nil {
		return nil, fmt.Errorf("runtime context is not initialized")
	}
	return a.runtimeCtx, nil
}

func (a *App) contextOrBackground() context.Context {
	if ctx, err := a.runtimeContext(); err == nil {
		return ctx
	}
	return context.Background()
}

// wailsDialogs shows native directory pickers.
type wailsDialogs struct {
	app *App
}

// SelectDirectory opens a native directory picker. Without a running
// window it returns bridge.ErrDialogUnavailable.
func (d *wailsDialogs) SelectDirectory(_ context.Context, title string) (string, error) {
	ctx, err := d.app.runtimeContext()
	if err != nil {
		return "", bridge.ErrDialogUnavailable
	}

	path, err := wailsruntime.OpenDirectoryDialog(ctx, wailsruntime.OpenDialogOptions{
		Title:                title,
		CanCreateDirectories: true,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(path), nil
}

// normalizeSettings trims user inputs and restores defaults for blanks.
func normalizeSettings(settings domain.Settings) domain.Settings {
	defaults := config.DefaultSettings()

	settings.AutocutPath = strings.TrimSpace(settings.AutocutPath)
	settings.FFmpegPath = orDefault(settings.FFmpegPath, defaults.FFmpegPath)
	settings.FFprobePath = orDefault(settings.FFprobePath, defaults.FFprobePath)
	settings.DownloadURL = orDefault(settings.DownloadURL, defaults.DownloadURL)
	settings.LogLevel = orDefault(settings.LogLevel, defaults.LogLevel)
	settings.ListenAddr = orDefault(settings.ListenAddr, defaults.ListenAddr)
	if settings.TaskTimeout < 0 {
		settings.TaskTimeout = 0
	}
	if settings.EventHistory <= 0 {
		settings.EventHistory = defaults.EventHistory
	}
	return settings
}

func orDefault(value, fallback string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return fallback
}

// appDataDir is where downloaded tools land by default.
func appDataDir(homeDir string) string {
	return filepath.Join(homeDir, ".autocut-desktop")
}
