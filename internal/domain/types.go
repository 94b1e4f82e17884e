package domain

import "time"

// TaskKind identifies one statically known long-running operation.
type TaskKind string

const (
	TaskKindVerifyCapability TaskKind = "verify-capability"
	TaskKindDownloadTool     TaskKind = "download-tool"
	TaskKindTranscribe       TaskKind = "transcribe"
	TaskKindConvertVideo     TaskKind = "convert-video"
	TaskKindConvertAudio     TaskKind = "convert-audio"
	TaskKindCutVideo         TaskKind = "cut-video"
	TaskKindExportProject    TaskKind = "export-project"
)

// TaskState tracks the lifecycle of a single task of one kind.
type TaskState string

const (
	TaskStateIdle      TaskState = "idle"
	TaskStateRunning   TaskState = "running"
	TaskStateSucceeded TaskState = "succeeded"
	TaskStateFailed    TaskState = "failed"
)

// Terminal reports whether no further events follow this state.
func (s TaskState) Terminal() bool {
	return s == TaskStateSucceeded || s == TaskStateFailed
}

// ProgressEvent is one message crossing the bridge for a streaming task.
// Only status, msg and process are serialized.
type ProgressEvent struct {
	Status  bool      `json:"status"`
	Msg     string    `json:"msg"`
	Process float64   `json:"process"`
	State   TaskState `json:"-"`
}

// Terminal reports whether the event ends its stream.
func (e ProgressEvent) Terminal() bool {
	return e.State.Terminal()
}

// Task is a snapshot of one task invocation.
type Task struct {
	ID        string    `json:"id"`
	Kind      TaskKind  `json:"kind"`
	State     TaskState `json:"state"`
	Progress  float64   `json:"progress"`
	Message   string    `json:"message,omitempty"`
	StartedAt time.Time `json:"startedAt,omitempty"`
}

// Settings contains user-selectable runtime configuration.
type Settings struct {
	AutocutPath  string        `json:"autocutPath" mapstructure:"autocut_path"`
	FFmpegPath   string        `json:"ffmpegPath" mapstructure:"ffmpeg_path"`
	FFprobePath  string        `json:"ffprobePath" mapstructure:"ffprobe_path"`
	DownloadURL  string        `json:"downloadUrl" mapstructure:"download_url"`
	LogLevel     string        `json:"logLevel" mapstructure:"log_level"`
	TaskTimeout  time.Duration `json:"taskTimeout" mapstructure:"task_timeout"`
	ListenAddr   string        `json:"listenAddr" mapstructure:"listen_addr"`
	EventHistory int           `json:"eventHistory" mapstructure:"event_history"`
}
