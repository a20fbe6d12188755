// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package matrixerr is the error taxonomy shared by every layer of the
// homeserver.
//
// A domain failure is an *Error carrying a Kind and a human-readable
// detail. Kinds group into classes (not-found, conflict, authorization,
// authentication, malformed-input, unimplemented, internal) that decide
// how a caller should react: an authentication failure means
// "re-authenticate", an authorization failure means "this write was
// rejected", and an unimplemented failure means "not supported yet"
// rather than "broken".
//
// Callers classify errors without string matching:
//
//	if errors.Is(err, matrixerr.ErrUserNotInvited) { ... }
//
//	var matrixErr *matrixerr.Error
//	if errors.As(err, &matrixErr) {
//	    log.Info("rejected", "errcode", matrixErr.Code())
//	}
//
// Wrapping with fmt.Errorf("...: %w", err) preserves both forms.
package matrixerr
