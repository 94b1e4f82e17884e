// Package ws exposes the bridge over a WebSocket for headless clients.
//
// Inbound frames are {"channel": "<command>", "args": [...]}. Every reply
// goes out as {"channel": "<reply channel>", "payload": ...}.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/tidwall/gjson"

	"autocut-desktop/internal/bridge"
	"autocut-desktop/internal/logger"
)

// Dispatcher is the part of bridge.Router the transport needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, replier bridge.Replier, command string, args ...any) (<-chan struct{}, error)
	Invoke(ctx context.Context, command string) (string, error)
}

// Server serves the bridge on /ws and a liveness probe on /healthz.
type Server struct {
	router Dispatcher
	log    *logger.Logger
	app    *fiber.App
}

// New builds the fiber app and registers routes.
func New(router Dispatcher, log *logger.Logger) *Server {
	if log == nil {
		log = logger.NewNop()
	}
	s := &Server{
		router: router,
		log:    log.Named("ws"),
		app:    fiber.New(fiber.Config{DisableStartupMessage: true}),
	}

	s.app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	s.app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return c.SendStatus(fiber.StatusUpgradeRequired)
	})
	s.app.Get("/ws", websocket.New(s.handle))
	return s
}

// Listen blocks serving on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	s.log.Infow("ws_listening", "addr", addr)
	return s.app.Listen(addr)
}

// Shutdown stops accepting connections and closes open ones.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// handle owns one connection. Tasks started by the client are cancelled
// when it disconnects, and the handler returns only after their last reply.
func (s *Server) handle(c *websocket.Conn) {
	remote := c.RemoteAddr().String()
	s.log.Infow("ws_connected", "remote", remote)

	ctx, cancel := context.WithCancel(context.Background())
	replier := newConnReplier(c, s.log)
	var pending sync.WaitGroup

	defer func() {
		cancel()
		pending.Wait()
		replier.close()
		s.log.Infow("ws_disconnected", "remote", remote)
	}()

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			return
		}
		done := s.handleFrame(ctx, replier, data)
		if done == nil {
			continue
		}
		pending.Add(1)
		go func() {
			defer pending.Done()
			<-done
		}()
	}
}

// handleFrame dispatches one inbound frame without blocking. It returns a
// channel closed after the frame's last reply, or nil when nothing is left
// running.
func (s *Server) handleFrame(ctx context.Context, replier bridge.Replier, data []byte) <-chan struct{} {
	frame, err := ParseFrame(data)
	if err != nil {
		s.log.Warnw("ws_bad_frame", "error", err)
		replier.Reply(bridge.ReplyProtocolError, &bridge.ProtocolError{
			Command: frame.Channel,
			Code:    bridge.CodeMalformedArgument,
			Message: err.Error(),
		})
		return nil
	}

	switch frame.Channel {
	case bridge.InvokeSelectAutocutDir, bridge.InvokeSelectPrprojDir:
		done := make(chan struct{})
		go s.invoke(ctx, replier, frame.Channel, done)
		return done
	}

	done, err := s.router.Dispatch(ctx, replier, frame.Channel, frame.Args...)
	if err != nil {
		// Already answered on the protocol error channel.
		return nil
	}
	return done
}

// invoke answers a dialog request off the read loop, since a picker stays
// open until the user closes it.
func (s *Server) invoke(ctx context.Context, replier bridge.Replier, channel string, done chan<- struct{}) {
	defer close(done)
	path, err := s.router.Invoke(ctx, channel)
	if err != nil {
		replier.Reply(channel, invokeResult{Error: err.Error()})
		return
	}
	replier.Reply(channel, invokeResult{Path: path})
}

type invokeResult struct {
	Path  string `json:"path"`
	Error string `json:"error,omitempty"`
}

// Frame is one decoded inbound message.
type Frame struct {
	Channel string
	Args    []any
}

// ParseFrame decodes {"channel": string, "args": [...]}. A non-array args
// value is treated as a single argument.
func ParseFrame(data []byte) (Frame, error) {
	if !gjson.ValidBytes(data) {
		return Frame{}, errors.New("frame is not valid JSON")
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return Frame{}, errors.New("frame must be a JSON object")
	}

	channel := root.Get("channel")
	if channel.Type != gjson.String || channel.Str == "" {
		return Frame{}, errors.New("frame channel must be a non-empty string")
	}
	frame := Frame{Channel: channel.Str}

	args := root.Get("args")
	switch {
	case !args.Exists() || args.Type == gjson.Null:
	case args.IsArray():
		for _, v := range args.Array() {
			frame.Args = append(frame.Args, v.Value())
		}
	default:
		frame.Args = []any{args.Value()}
	}
	return frame, nil
}

type outFrame struct {
	Channel string `json:"channel"`
	Payload any    `json:"payload"`
}

type messageWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// connReplier serializes writes to one connection. Writes after close are
// dropped.
type connReplier struct {
	mu     sync.Mutex
	conn   messageWriter
	log    *logger.Logger
	closed bool
}

func newConnReplier(conn messageWriter, log *logger.Logger) *connReplier {
	return &connReplier{conn: conn, log: log}
}

func (r *connReplier) Reply(channel string, payload any) {
	data, err := json.Marshal(outFrame{Channel: channel, Payload: payload})
	if err != nil {
		r.log.Errorw("ws_encode_failed", "channel", channel, "error", err)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if err := r.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		r.log.Warnw("ws_write_failed", "channel", channel, "error", err)
		r.closed = true
	}
}

func (r *connReplier) close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

