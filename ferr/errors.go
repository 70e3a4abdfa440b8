// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ferr

import "fmt"

// ErrKind identifies the class of failure of an Error, so callers can branch
// on errors.Is(err, fpgakit.Kind(fpgakit.ErrRecvTimeout)) without parsing
// message text.
type ErrKind int

// Error kinds, per the error handling design: transport, framing and engine
// failures are all discriminable by kind while still carrying a message.
const (
	ErrConnect ErrKind = iota + 1
	ErrSendTimeout
	ErrRecvTimeout
	ErrDmaTimeout
	ErrBufferBusy
	ErrMalformedFrame
	ErrMagicMismatch
	ErrSerialMismatch
	ErrCommand
	ErrSchema
	ErrIncompatibleTransport
	ErrChannelDesync
	ErrUnsupported
)

var kindNames = map[ErrKind]string{
	ErrConnect:               "ConnectError",
	ErrSendTimeout:           "SendTimeout",
	ErrRecvTimeout:           "RecvTimeout",
	ErrDmaTimeout:            "DmaTimeout",
	ErrBufferBusy:            "BufferBusy",
	ErrMalformedFrame:        "MalformedFrame",
	ErrMagicMismatch:         "MagicMismatch",
	ErrSerialMismatch:        "SerialMismatch",
	ErrCommand:               "CommandError",
	ErrSchema:                "SchemaError",
	ErrIncompatibleTransport: "IncompatibleTransport",
	ErrChannelDesync:         "ChannelDesyncError",
	ErrUnsupported:           "Unsupported",
}

func (k ErrKind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "UnknownError"
}

// Error is the error type returned by every exported fpgakit operation that
// can fail. Op names the failing operation (e.g. "tcpcmd.Accept"), Detail is
// a human readable message, and Err, when non-nil, is the underlying cause.
type Error struct {
	Kind   ErrKind
	Op     string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Op, e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Detail)
}

// Unwrap lets errors.Is/errors.As reach the wrapped cause.
func (e *Error) Unwrap() error { return e.Err }

// Timeout reports whether e represents one of the timeout kinds, mirroring
// net.Error so callers (and streamtransport.WaitRecv's poll loop) can use
// the same check regardless of transport.
func (e *Error) Timeout() bool {
	switch e.Kind {
	case ErrSendTimeout, ErrRecvTimeout, ErrDmaTimeout:
		return true
	default:
		return false
	}
}

// Is lets errors.Is(err, fpgakit.Kind(ErrRecvTimeout)) match by kind alone.
func (e *Error) Is(target error) bool {
	k, ok := target.(*Error)
	return ok && k.Err == nil && k.Op == "" && k.Kind == e.Kind
}

// Kind returns a sentinel *Error usable with errors.Is to check only the
// kind of a wrapped error, ignoring Op/Detail/Err.
func Kind(k ErrKind) error { return &Error{Kind: k} }

// Newf builds an *Error with a formatted detail message.
func Newf(kind ErrKind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Detail: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error that carries an underlying cause.
func Wrap(kind ErrKind, op string, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Detail: fmt.Sprintf(format, args...), Err: err}
}
