package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"autocut-desktop/internal/bridge"
	"autocut-desktop/internal/domain"
	"autocut-desktop/internal/transport/ws"
)

func newServeCommand(flags *globalFlags) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the command bridge over a WebSocket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, log, err := buildApp(flags)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			if addr == "" {
				addr = app.Settings.ListenAddr
			}
			srv := ws.New(app.Router, log)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				_ = srv.Shutdown()
			}()
			return srv.Listen(addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from settings)")
	return cmd
}

func newRunCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run <command> [args...]",
		Short: "Dispatch one bridge command and print its replies as JSON lines",
		Long: "Dispatch one bridge command headless, e.g.\n" +
			"  autocut-desktop run check-autocut /opt/autocut\n" +
			"  autocut-desktop run export-to-pr ./out talk.mp4 talk.srt 00:00:01-00:00:05,00:01:00-00:01:30 2024",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, log, err := buildApp(flags)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return dispatchOnce(ctx, app.Router, cmd.OutOrStdout(), args[0], args[1:])
		},
	}
}

// errTaskFailed marks a command whose task ended in the failed state.
var errTaskFailed = errors.New("task failed")

// dispatcher is the part of bridge.Router the run command needs.
type dispatcher interface {
	Dispatch(ctx context.Context, replier bridge.Replier, command string, args ...any) (<-chan struct{}, error)
}

// dispatchOnce runs command, writes every reply to out and waits for the
// last one. A failed terminal event is returned as errTaskFailed.
func dispatchOnce(ctx context.Context, router dispatcher, out io.Writer, command string, args []string) error {
	printer := &linePrinter{enc: json.NewEncoder(out)}

	anyArgs := make([]any, len(args))
	for i, a := range args {
		anyArgs[i] = a
	}

	done, err := router.Dispatch(ctx, printer, command, anyArgs...)
	if err != nil {
		return err
	}
	<-done

	if msg, failed := printer.failure(); failed {
		return fmt.Errorf("%s: %w: %s", command, errTaskFailed, msg)
	}
	return nil
}

type replyLine struct {
	Channel string `json:"channel"`
	Payload any    `json:"payload"`
}

// linePrinter encodes each reply as one JSON line.
type linePrinter struct {
	mu      sync.Mutex
	enc     *json.Encoder
	failed  bool
	failMsg string
}

func (p *linePrinter) Reply(channel string, payload any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ev, ok := payload.(domain.ProgressEvent); ok && ev.State == domain.TaskStateFailed {
		p.failed = true
		p.failMsg = ev.Msg
	}
	_ = p.enc.Encode(replyLine{Channel: channel, Payload: payload})
}

func (p *linePrinter) failure() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failMsg, p.failed
}
