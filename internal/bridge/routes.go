// Package bridge routes named commands from the presentation layer to the
// task runner and relays every reply on the channel paired with the command.
package bridge

import (
	"fmt"
	"strings"

	"autocut-desktop/internal/domain"
)

// Inbound command channels.
const (
	CmdCheckFFmpeg     = "check-ffmpeg"
	CmdCheckAutocut    = "check-autocut"
	CmdDownloadAutocut = "download-autocut"
	CmdStartTranscribe = "start-transcribe"
	CmdConvertVideo    = "convert-video"
	CmdConvertAudio    = "convert-audio"
	CmdStartCut        = "start-cut"
	CmdCheckPrVersions = "check-pr-versions"
	CmdExportToPr      = "export-to-pr"
)

// Request/response channels answered through Router.Invoke.
const (
	InvokeSelectAutocutDir = "select-autocut-save-directory"
	InvokeSelectPrprojDir  = "select-prproj-save-directory"
)

// Reply channels.
const (
	ReplyFFmpegStatus  = "report-ffmpeg-status"
	ReplyAutocutStatus = "report-autocut-status"
	ReplyDownload      = "report-download"
	ReplyTranscribe    = "report-transcribe"
	ReplyConvertVideo  = "report-convert-video"
	ReplyConvertAudio  = "report-convert-audio"
	ReplyCut           = "report-cut"
	ReplyPrVersions    = "report-pr-versions"
	// ReplyProtocolError carries ProtocolError for rejected commands. It is
	// never one of the paired reply channels.
	ReplyProtocolError = "report-protocol-error"
)

type routeMode int

const (
	// modeQuery replies exactly once.
	modeQuery routeMode = iota
	// modeStream relays every progress event of one task.
	modeStream
	// modeSilent runs a task whose outcome is only logged.
	modeSilent
)

type route struct {
	reply  string
	mode   routeMode
	kind   domain.TaskKind
	decode func(args []any) (any, error)
}

// routes is the complete, static command table.
var routes = map[string]route{
	CmdCheckFFmpeg: {
		reply:  ReplyFFmpegStatus,
		mode:   modeQuery,
		kind:   domain.TaskKindVerifyCapability,
		decode: func([]any) (any, error) { return checkFFmpeg{}, nil },
	},
	CmdCheckAutocut: {
		reply: ReplyAutocutStatus,
		mode:  modeQuery,
		kind:  domain.TaskKindVerifyCapability,
		decode: func(args []any) (any, error) {
			path, err := optionalString(args, 0, "path")
			return checkAutocut{Path: path}, err
		},
	},
	CmdDownloadAutocut: {
		reply: ReplyDownload,
		mode:  modeStream,
		kind:  domain.TaskKindDownloadTool,
		decode: func(args []any) (any, error) {
			dir, err := requiredString(args, 0, "targetDir")
			return downloadAutocut{TargetDir: dir}, err
		},
	},
	CmdStartTranscribe: {
		reply: ReplyTranscribe,
		mode:  modeStream,
		kind:  domain.TaskKindTranscribe,
		decode: func(args []any) (any, error) {
			media, err := requiredString(args, 0, "mediaFile")
			return startTranscribe{Media: media}, err
		},
	},
	CmdConvertVideo: {
		reply: ReplyConvertVideo,
		mode:  modeStream,
		kind:  domain.TaskKindConvertVideo,
		decode: func(args []any) (any, error) {
			media, err := requiredString(args, 0, "mediaFile")
			return convertVideo{Media: media}, err
		},
	},
	CmdConvertAudio: {
		reply: ReplyConvertAudio,
		mode:  modeStream,
		kind:  domain.TaskKindConvertAudio,
		decode: func(args []any) (any, error) {
			media, err := requiredString(args, 0, "mediaFile")
			return convertAudio{Media: media}, err
		},
	},
	CmdStartCut: {
		reply: ReplyCut,
		mode:  modeStream,
		kind:  domain.TaskKindCutVideo,
		decode: func(args []any) (any, error) {
			media, err := requiredString(args, 0, "mediaFile")
			if err != nil {
				return nil, err
			}
			srt, err := requiredString(args, 1, "subtitleFile")
			return startCut{Media: media, Subtitle: srt}, err
		},
	},
	CmdCheckPrVersions: {
		reply:  ReplyPrVersions,
		mode:   modeQuery,
		decode: func([]any) (any, error) { return checkPrVersions{}, nil },
	},
	CmdExportToPr: {
		mode:   modeSilent,
		kind:   domain.TaskKindExportProject,
		decode: decodeExport,
	},
}

// ReplyChannel returns the reply channel paired with command, or "" for
// commands that never reply.
func ReplyChannel(command string) (string, bool) {
	r, ok := routes[command]
	return r.reply, ok
}

// Commands lists every routable command name.
func Commands() []string {
	out := make([]string, 0, len(routes))
	for name := range routes {
		out = append(out, name)
	}
	return out
}

type (
	checkFFmpeg     struct{}
	checkAutocut    struct{ Path string }
	downloadAutocut struct{ TargetDir string }
	startTranscribe struct{ Media string }
	convertVideo    struct{ Media string }
	convertAudio    struct{ Media string }
	startCut        struct{ Media, Subtitle string }
	checkPrVersions struct{}
	exportToPr      struct {
		TargetDir  string
		Media      string
		Subtitle   string
		ClipPoints []string
		Version    string
	}
)

func decodeExport(args []any) (any, error) {
	var cmd exportToPr
	var err error
	if cmd.TargetDir, err = requiredString(args, 0, "targetDir"); err != nil {
		return nil, err
	}
	if cmd.Media, err = requiredString(args, 1, "mediaFile"); err != nil {
		return nil, err
	}
	if cmd.Subtitle, err = requiredString(args, 2, "subtitleFile"); err != nil {
		return nil, err
	}
	if cmd.ClipPoints, err = stringList(args, 3, "clipPoints"); err != nil {
		return nil, err
	}
	if cmd.Version, err = requiredString(args, 4, "specVersion"); err != nil {
		return nil, err
	}
	return cmd, nil
}

// Protocol error codes.
const (
	CodeUnknownCommand    = "unknown-command"
	CodeMalformedArgument = "malformed-arguments"
	CodeBusy              = "busy"
)

// ProtocolError reports a command the bridge refused to run.
type ProtocolError struct {
	Command string `json:"command"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Command, e.Code, e.Message)
}

type argError struct {
	name string
	msg  string
}

func (e *argError) Error() string {
	return fmt.Sprintf("argument %s %s", e.name, e.msg)
}

func requiredString(args []any, i int, name string) (string, error) {
	if i >= len(args) || args[i] == nil {
		return "", &argError{name: name, msg: "is missing"}
	}
	s, ok := args[i].(string)
	if !ok {
		return "", &argError{name: name, msg: fmt.Sprintf("must be a string, got %T", args[i])}
	}
	return s, nil
}

func optionalString(args []any, i int, name string) (string, error) {
	if i >= len(args) || args[i] == nil {
		return "", nil
	}
	return requiredString(args, i, name)
}

// stringList accepts a JSON array of strings or a comma separated string.
func stringList(args []any, i int, name string) ([]string, error) {
	if i >= len(args) || args[i] == nil {
		return nil, &argError{name: name, msg: "is missing"}
	}
	switch v := args[i].(type) {
	case []string:
		return append([]string(nil), v...), nil
	case []any:
		out := make([]string, 0, len(v))
		for n, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, &argError{name: fmt.Sprintf("%s[%d]", name, n), msg: fmt.Sprintf("must be a string, got %T", item)}
			}
			out = append(out, s)
		}
		return out, nil
	case string:
		var out []string
		for _, part := range strings.Split(v, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
		return out, nil
	default:
		return nil, &argError{name: name, msg: fmt.Sprintf("must be a list of strings, got %T", v)}
	}
}
