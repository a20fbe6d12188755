// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/bureau-foundation/homeserver/lib/codec"
	"github.com/bureau-foundation/homeserver/lib/matrixerr"
)

// dialTimeout is the maximum time to wait for a connection to the
// service socket. This is separate from the server's read/write
// timeouts; it covers only the connect phase.
const dialTimeout = 5 * time.Second

// responseReadTimeout is how long the client waits for the server to
// send a response after writing the request, on top of any long-poll
// the action itself performs.
const responseReadTimeout = 45 * time.Second

// maxResponseSize is the maximum size of a single CBOR response.
const maxResponseSize = 16 * 1024 * 1024

// ServiceError is returned by Call when the server responds with
// ok=false. It wraps the server's error message, its Matrix error
// code, and the action that failed.
//
// ServiceError unwraps to a *matrixerr.Error of the matching kind, so
// errors.Is(err, matrixerr.ErrForbidden) and matrixerr.KindOf work on
// errors returned by Call.
type ServiceError struct {
	Action  string
	Message string
	Code    string
}

func (e *ServiceError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("service error on %q: %s", e.Action, e.Message)
	}
	return fmt.Sprintf("service error on %q: %s: %s", e.Action, e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error {
	if e.Code == "" {
		return nil
	}
	return &matrixerr.Error{Kind: matrixerr.KindForCode(e.Code), Detail: e.Message}
}

// ServiceClient sends CBOR requests to a homeserver socket. Each Call
// opens a new connection (matching the server's one-request-per-
// connection model), sends the request, reads the response, and
// closes the connection.
//
// If the client has an access token, it is included in every request
// as the "access_token" field.
type ServiceClient struct {
	socketPath  string
	accessToken string
}

// NewServiceClient creates a client for socketPath. An empty
// accessToken sends unauthenticated requests, which is what register,
// login and status need.
func NewServiceClient(socketPath, accessToken string) *ServiceClient {
	return &ServiceClient{socketPath: socketPath, accessToken: accessToken}
}

// WithAccessToken returns a client for the same socket that
// authenticates with accessToken.
func (c *ServiceClient) WithAccessToken(accessToken string) *ServiceClient {
	return &ServiceClient{socketPath: c.socketPath, accessToken: accessToken}
}

// Call sends a CBOR request to the service and decodes the response.
//
// The fields parameter may contain any handler-specific request
// fields; the client adds "action" and "access_token" automatically.
// Pass nil for actions that take no additional parameters.
//
// On success (response ok=true), if result is non-nil and the
// response contains data, the data is CBOR-decoded into result.
//
// On failure (response ok=false), returns a *ServiceError. Connection
// and encoding errors are returned as plain errors.
func (c *ServiceClient) Call(ctx context.Context, action string, fields map[string]any, result any) error {
	request := c.buildRequest(action, fields)

	response, err := c.send(ctx, request)
	if err != nil {
		return fmt.Errorf("calling %q on %s: %w", action, c.socketPath, err)
	}

	if !response.OK {
		return &ServiceError{
			Action:  action,
			Message: response.Error,
			Code:    response.ErrCode,
		}
	}

	if result != nil && len(response.Data) > 0 {
		if err := codec.Unmarshal(response.Data, result); err != nil {
			return fmt.Errorf("decoding response data for %q: %w", action, err)
		}
	}

	return nil
}

// buildRequest constructs the CBOR request map. Starts with the
// caller's fields (if any), then injects "action" and optionally
// "access_token".
func (c *ServiceClient) buildRequest(action string, fields map[string]any) map[string]any {
	request := make(map[string]any, len(fields)+2)
	for key, value := range fields {
		request[key] = value
	}
	request["action"] = action
	if c.accessToken != "" {
		request["access_token"] = c.accessToken
	}
	return request
}

// send connects to the socket, writes the request, and reads the
// response. Each call creates a new connection.
func (c *ServiceClient) send(ctx context.Context, request any) (*Response, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting: %w", err)
	}
	defer conn.Close()

	// Closing the connection aborts a long-poll the caller gave up on.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := codec.NewEncoder(conn).Encode(request); err != nil {
		return nil, fmt.Errorf("writing request: %w", err)
	}

	// Half-close the write side. CBOR is self-delimiting so this
	// isn't strictly necessary, but it lets the server's read side
	// see EOF cleanly.
	if unixConn, ok := conn.(*net.UnixConn); ok {
		unixConn.CloseWrite()
	}

	deadline := time.Now().Add(responseReadTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.After(deadline) {
		deadline = ctxDeadline
	}
	conn.SetReadDeadline(deadline)
	var response Response
	if err := codec.NewDecoder(io.LimitReader(conn, maxResponseSize)).Decode(&response); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("reading response: %w", err)
	}

	return &response, nil
}
