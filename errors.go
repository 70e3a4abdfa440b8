// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package fpgakit

import "fpgakit/ferr"

// Error, ErrKind and the error kind constants live in the leaf package
// fpgakit/ferr so that every internal package (cmdtransport, streamtransport,
// icd, vchnl, host/*) can construct and compare them without importing the
// root package and creating an import cycle. They are aliased here so
// callers of the facade keep writing fpgakit.Error / fpgakit.ErrRecvTimeout.
type Error = ferr.Error
type ErrKind = ferr.ErrKind

const (
	ErrConnect               = ferr.ErrConnect
	ErrSendTimeout           = ferr.ErrSendTimeout
	ErrRecvTimeout           = ferr.ErrRecvTimeout
	ErrDmaTimeout            = ferr.ErrDmaTimeout
	ErrBufferBusy            = ferr.ErrBufferBusy
	ErrMalformedFrame        = ferr.ErrMalformedFrame
	ErrMagicMismatch         = ferr.ErrMagicMismatch
	ErrSerialMismatch        = ferr.ErrSerialMismatch
	ErrCommand               = ferr.ErrCommand
	ErrSchema                = ferr.ErrSchema
	ErrIncompatibleTransport = ferr.ErrIncompatibleTransport
	ErrChannelDesync         = ferr.ErrChannelDesync
	ErrUnsupported           = ferr.ErrUnsupported
)

// Kind returns a sentinel error usable with errors.Is to check only the
// kind of a wrapped error.
func Kind(k ErrKind) error { return ferr.Kind(k) }
