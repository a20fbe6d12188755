// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/bureau-foundation/homeserver/lib/codec"
	"github.com/bureau-foundation/homeserver/lib/matrixerr"
	"github.com/bureau-foundation/homeserver/lib/ref"
)

// ActionFunc handles one action. raw is the whole CBOR request,
// "action" and "access_token" included; the handler decodes its own
// fields from it.
//
// A nil result produces {ok: true}. Anything else is CBOR-encoded into
// the response's "data" field.
type ActionFunc func(ctx context.Context, raw []byte) (any, error)

// Caller is the authenticated identity behind a request.
type Caller struct {
	UserID      ref.UserID
	DeviceID    string
	AccessToken string
}

// AuthActionFunc is an ActionFunc for actions that require an access
// token. The server has already resolved the token to caller.
type AuthActionFunc func(ctx context.Context, caller Caller, raw []byte) (any, error)

// Authenticator resolves an access token. It returns a
// *matrixerr.Error (MissingToken, UnknownToken) when the token does
// not authenticate anyone.
type Authenticator func(ctx context.Context, accessToken string) (Caller, error)

// Response is the envelope of every reply on the socket.
type Response struct {
	OK    bool   `cbor:"ok"`
	Error string `cbor:"error,omitempty"`
	// ErrCode is the Matrix error code of a failure.
	ErrCode string           `cbor:"errcode,omitempty"`
	Data    codec.RawMessage `cbor:"data,omitempty"`
}

const (
	// readTimeout bounds how long a client may take to send its
	// request after connecting.
	readTimeout  = 30 * time.Second
	writeTimeout = 10 * time.Second

	maxRequestSize = 1 << 20
)

// SocketServer is the homeserver's client-facing transport: a Unix
// socket carrying one CBOR request and one CBOR Response per
// connection. Requests name an action; register handlers with Handle
// and HandleAuth before calling Serve.
type SocketServer struct {
	socketPath   string
	handlers     map[string]ActionFunc
	authenticate Authenticator
	logger       *slog.Logger

	// inflight lets Serve drain handlers on shutdown. A sync parked in
	// its long poll returns as soon as ctx is cancelled.
	inflight sync.WaitGroup
}

// NewSocketServer creates a server that will listen on socketPath.
// authenticate may be nil if no action uses HandleAuth.
func NewSocketServer(socketPath string, logger *slog.Logger, authenticate Authenticator) *SocketServer {
	return &SocketServer{
		socketPath:   socketPath,
		handlers:     make(map[string]ActionFunc),
		authenticate: authenticate,
		logger:       logger,
	}
}

// Handle registers handler for action. Registering an action twice
// panics.
func (s *SocketServer) Handle(action string, handler ActionFunc) {
	if _, exists := s.handlers[action]; exists {
		panic(fmt.Sprintf("service.SocketServer: duplicate handler for action %q", action))
	}
	s.handlers[action] = handler
}

// HandleAuth registers a handler that requires an "access_token"
// field. Requests without a valid token fail before the handler runs.
// Panics if the server has no Authenticator.
func (s *SocketServer) HandleAuth(action string, handler AuthActionFunc) {
	if s.authenticate == nil {
		panic(fmt.Sprintf("service.SocketServer: HandleAuth(%q) on a server without an Authenticator", action))
	}
	s.Handle(action, func(ctx context.Context, raw []byte) (any, error) {
		var credentials struct {
			AccessToken string `cbor:"access_token"`
		}
		if err := codec.Unmarshal(raw, &credentials); err != nil {
			return nil, matrixerr.Wrap(matrixerr.KindBadJSON, err, "access_token")
		}
		caller, err := s.authenticate(ctx, credentials.AccessToken)
		if err != nil {
			return nil, err
		}
		caller.AccessToken = credentials.AccessToken
		return handler(ctx, caller, raw)
	})
}

// Serve listens on the socket path, replacing any stale socket file,
// and handles connections until ctx is cancelled. It then waits for
// in-flight requests and removes the socket file.
func (s *SocketServer) Serve(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing stale socket %s: %w", s.socketPath, err)
	}
	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.socketPath, err)
	}
	stop := context.AfterFunc(ctx, func() { listener.Close() })
	defer func() {
		stop()
		listener.Close()
		os.Remove(s.socketPath)
	}()

	s.logger.Info("socket server listening", "path", s.socketPath)
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}
		s.inflight.Add(1)
		go func() {
			defer s.inflight.Done()
			defer conn.Close()
			s.respond(conn, s.serveOne(ctx, conn))
		}()
	}
	s.inflight.Wait()
	return nil
}

// outcome is what serveOne hands back for the wire.
type outcome struct {
	result any
	err    error
}

// serveOne reads the request on conn and runs its handler. A client
// that connects and closes without writing gets no response.
func (s *SocketServer) serveOne(ctx context.Context, conn net.Conn) *outcome {
	conn.SetReadDeadline(time.Now().Add(readTimeout))

	// CBOR values are self-delimiting, so no framing is needed.
	var raw codec.RawMessage
	if err := codec.NewDecoder(io.LimitReader(conn, maxRequestSize)).Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return &outcome{err: matrixerr.New(matrixerr.KindBadJSON, "invalid request: %v", err)}
	}

	var header struct {
		Action string `cbor:"action"`
	}
	if err := codec.Unmarshal(raw, &header); err != nil {
		return &outcome{err: matrixerr.New(matrixerr.KindBadJSON, "invalid request: %v", err)}
	}
	if header.Action == "" {
		return &outcome{err: matrixerr.New(matrixerr.KindBadJSON, "missing required field: action")}
	}
	handler, exists := s.handlers[header.Action]
	if !exists {
		return &outcome{err: matrixerr.New(matrixerr.KindUnimplemented, "unknown action %q", header.Action)}
	}

	result, err := s.invoke(ctx, header.Action, handler, raw)
	if err != nil {
		level := slog.LevelDebug
		if matrixerr.KindOf(err) == matrixerr.KindInternal {
			level = slog.LevelError
		}
		s.logger.Log(ctx, level, "action failed", "action", header.Action, "error", err)
	}
	return &outcome{result: result, err: err}
}

// invoke runs handler, turning a panic into an internal error so one
// bad request cannot take the daemon down.
func (s *SocketServer) invoke(ctx context.Context, action string, handler ActionFunc, raw []byte) (result any, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			result = nil
			err = matrixerr.New(matrixerr.KindInternal, "action %q panicked: %v", action, recovered)
		}
	}()
	return handler(ctx, raw)
}

// respond writes the Response for o. Errors that are not a
// *matrixerr.Error go out as M_INTERNAL_ERROR with their message intact.
func (s *SocketServer) respond(conn net.Conn, o *outcome) {
	if o == nil {
		return
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))

	response := Response{OK: true}
	if o.err == nil && o.result != nil {
		data, err := codec.Marshal(o.result)
		if err != nil {
			o.err = matrixerr.Wrap(matrixerr.KindInternal, err, "marshaling response")
		}
		response.Data = data
	}
	if o.err != nil {
		response = Response{Error: o.err.Error(), ErrCode: matrixerr.KindOf(o.err).Code()}
	}
	if err := codec.NewEncoder(conn).Encode(response); err != nil {
		s.logger.Debug("writing response failed", "error", err, "ok", response.OK)
	}
}
