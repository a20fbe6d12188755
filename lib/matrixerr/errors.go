// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package matrixerr

import (
	"errors"
	"fmt"
)

// Kind identifies a failure independent of its detail message.
type Kind int

const (
	// KindUnknown is the zero Kind. It is also used for failures a
	// remote or unsupported code path reports without more precision.
	KindUnknown Kind = iota
	KindNotFound
	KindRoomNotFound
	KindUserNotFound
	KindUsernameTaken
	KindTxnIDExists
	KindUserNotInRoom
	KindUserBanned
	KindUserNotInvited
	KindInsufficientPowerLevel
	KindInvalidEvent
	KindMissingToken
	KindUnknownToken
	KindForbidden
	KindBadJSON
	KindUnimplemented
	KindInternal
)

var kindNames = map[Kind]string{
	KindUnknown:                "unknown",
	KindNotFound:               "not found",
	KindRoomNotFound:           "room not found",
	KindUserNotFound:           "user not found",
	KindUsernameTaken:          "username taken",
	KindTxnIDExists:            "transaction already handled",
	KindUserNotInRoom:          "user not in room",
	KindUserBanned:             "user banned",
	KindUserNotInvited:         "user not invited",
	KindInsufficientPowerLevel: "insufficient power level",
	KindInvalidEvent:           "invalid event",
	KindMissingToken:           "missing access token",
	KindUnknownToken:           "unknown access token",
	KindForbidden:              "forbidden",
	KindBadJSON:                "bad request",
	KindUnimplemented:          "unimplemented",
	KindInternal:               "internal error",
}

// String returns a short lowercase description of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Class groups kinds by how a caller should react to them.
type Class string

const (
	ClassNotFound       Class = "not-found"
	ClassConflict       Class = "conflict"
	ClassAuthorization  Class = "authorization"
	ClassAuthentication Class = "authentication"
	ClassMalformedInput Class = "malformed-input"
	ClassUnimplemented  Class = "unimplemented"
	ClassInternal       Class = "internal"
)

// Class returns the class the kind belongs to.
func (k Kind) Class() Class {
	switch k {
	case KindNotFound, KindRoomNotFound, KindUserNotFound:
		return ClassNotFound
	case KindUsernameTaken, KindTxnIDExists:
		return ClassConflict
	case KindUserNotInRoom, KindUserBanned, KindUserNotInvited,
		KindInsufficientPowerLevel, KindInvalidEvent:
		return ClassAuthorization
	case KindMissingToken, KindUnknownToken, KindForbidden:
		return ClassAuthentication
	case KindBadJSON:
		return ClassMalformedInput
	case KindUnimplemented:
		return ClassUnimplemented
	default:
		return ClassInternal
	}
}

// Standard Matrix error codes.
const (
	CodeForbidden     = "M_FORBIDDEN"
	CodeUnknownToken  = "M_UNKNOWN_TOKEN"
	CodeMissingToken  = "M_MISSING_TOKEN"
	CodeNotFound      = "M_NOT_FOUND"
	CodeUserInUse     = "M_USER_IN_USE"
	CodeBadJSON       = "M_BAD_JSON"
	CodeInvalidParam  = "M_INVALID_PARAM"
	CodeUnrecognized  = "M_UNRECOGNIZED"
	CodeUnknown       = "M_UNKNOWN"
	CodeTxnInUse      = "M_TXN_IN_USE"
	CodeInternalError = "M_INTERNAL_ERROR"
)

// Code returns the Matrix errcode a client sees for this kind.
func (k Kind) Code() string {
	switch k {
	case KindNotFound, KindRoomNotFound, KindUserNotFound:
		return CodeNotFound
	case KindUsernameTaken:
		return CodeUserInUse
	case KindTxnIDExists:
		return CodeTxnInUse
	case KindUserNotInRoom, KindUserBanned, KindUserNotInvited,
		KindInsufficientPowerLevel, KindForbidden:
		return CodeForbidden
	case KindInvalidEvent:
		return CodeInvalidParam
	case KindMissingToken:
		return CodeMissingToken
	case KindUnknownToken:
		return CodeUnknownToken
	case KindBadJSON:
		return CodeBadJSON
	case KindUnimplemented:
		return CodeUnrecognized
	case KindInternal:
		return CodeInternalError
	default:
		return CodeUnknown
	}
}

// KindForCode maps a Matrix errcode back to the most general kind that
// produces it. Used by clients to rebuild an *Error from a wire
// response; the precise kind (UserBanned vs Forbidden) is lost in
// transit and recovered only as its code's representative.
func KindForCode(code string) Kind {
	switch code {
	case CodeNotFound:
		return KindNotFound
	case CodeUserInUse:
		return KindUsernameTaken
	case CodeTxnInUse:
		return KindTxnIDExists
	case CodeForbidden:
		return KindForbidden
	case CodeInvalidParam:
		return KindInvalidEvent
	case CodeMissingToken:
		return KindMissingToken
	case CodeUnknownToken:
		return KindUnknownToken
	case CodeBadJSON:
		return KindBadJSON
	case CodeUnrecognized:
		return KindUnimplemented
	case CodeInternalError:
		return KindInternal
	default:
		return KindUnknown
	}
}

// Error is a classified homeserver failure.
type Error struct {
	Kind   Kind
	Detail string

	// cause is an optional underlying error exposed through Unwrap.
	cause error
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Detail
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error { return e.cause }

// Is matches another *Error of the same Kind, so the package sentinels
// work with errors.Is regardless of detail text.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind == e.Kind
}

// Code returns the Matrix errcode for the error's kind.
func (e *Error) Code() string { return e.Kind.Code() }

// Class returns the class of the error's kind.
func (e *Error) Class() Class { return e.Kind.Class() }

// New creates an *Error with a formatted detail message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error. The detail is the cause's
// message prefixed by context; errors.Is and errors.As still reach the
// cause through Unwrap.
func Wrap(kind Kind, cause error, context string) *Error {
	detail := cause.Error()
	if context != "" {
		detail = context + ": " + detail
	}
	return &Error{Kind: kind, Detail: detail, cause: cause}
}

// Sentinels for errors.Is. They carry no detail; never return them
// directly when a more specific message is available.
var (
	ErrUnknown                = &Error{Kind: KindUnknown}
	ErrNotFound               = &Error{Kind: KindNotFound}
	ErrRoomNotFound           = &Error{Kind: KindRoomNotFound}
	ErrUserNotFound           = &Error{Kind: KindUserNotFound}
	ErrUsernameTaken          = &Error{Kind: KindUsernameTaken}
	ErrTxnIDExists            = &Error{Kind: KindTxnIDExists}
	ErrUserNotInRoom          = &Error{Kind: KindUserNotInRoom}
	ErrUserBanned             = &Error{Kind: KindUserBanned}
	ErrUserNotInvited         = &Error{Kind: KindUserNotInvited}
	ErrInsufficientPowerLevel = &Error{Kind: KindInsufficientPowerLevel}
	ErrInvalidEvent           = &Error{Kind: KindInvalidEvent}
	ErrMissingToken           = &Error{Kind: KindMissingToken}
	ErrUnknownToken           = &Error{Kind: KindUnknownToken}
	ErrForbidden              = &Error{Kind: KindForbidden}
	ErrBadJSON                = &Error{Kind: KindBadJSON}
	ErrUnimplemented          = &Error{Kind: KindUnimplemented}
	ErrInternal               = &Error{Kind: KindInternal}
)

// KindOf returns the Kind of the first *Error in err's chain, or
// KindInternal when err is non-nil but unclassified. A nil error has
// KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var matrixErr *Error
	if errors.As(err, &matrixErr) {
		return matrixErr.Kind
	}
	return KindInternal
}

// IsClass reports whether err's kind belongs to class.
func IsClass(err error, class Class) bool {
	return err != nil && KindOf(err).Class() == class
}
