// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package service carries homeserver operations over a Unix socket.
//
// The protocol is one CBOR request and one CBOR response per
// connection. A request is a map with an "action" field naming the
// operation plus action-specific fields; authenticated actions also
// carry "access_token". A response is a [Response] envelope: ok, an
// error message and Matrix errcode on failure, and CBOR-encoded data
// on success.
//
// [SocketServer] dispatches actions to handlers registered with
// Handle or HandleAuth. [ServiceClient] is the matching client; a
// failed call returns a [ServiceError] that unwraps to a
// *matrixerr.Error, so callers classify remote failures with the same
// matrixerr helpers they use in-process.
//
// [RunSyncLoop] drives the sync long-poll over a client with
// exponential backoff on transient errors.
package service
