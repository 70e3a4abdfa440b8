// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package streamtransport defines the data-plane transport contract: a
// handle to a pinned buffer plus start/wait/break operations on a DMA-style
// bulk transfer, shared by the PCIe (XDMA) and TCP stream transports.
package streamtransport

import (
	"time"

	"fpgakit/ferr"
)

// Backing identifies who owns the memory behind a Handle.
type Backing int

const (
	// BackingOwned means the handle's memory was allocated by the transport
	// itself (e.g. via the XDMA driver's pinned allocator) and must be freed
	// by FreeBuffer.
	BackingOwned Backing = iota
	// BackingCallerPointer means the caller supplied a raw pinned pointer;
	// FreeBuffer must not release it.
	BackingCallerPointer
	// BackingCallerWords means the caller supplied a []uint32 slice;
	// FreeBuffer must not release it.
	BackingCallerWords
)

// Handle is the opaque identifier for a pinned memory region used in DMA.
// The zero Handle is never valid; handles are minted by AllocBuffer.
type Handle uint64

// Direction of an open DMA.
type Direction int

const (
	DirRecv Direction = iota
	DirSend
)

// StreamTransport is the data-plane contract.
type StreamTransport interface {
	// AllocBuffer reserves a handle over byteLen bytes of pinned memory.
	// byteLen must be divisible by 4. If external is non-nil, the handle
	// wraps caller-provided memory instead of allocating new memory.
	AllocBuffer(byteLen int, external []byte) (Handle, error)
	// FreeBuffer releases the handle. It never deallocates caller-supplied
	// memory (Backing != BackingOwned).
	FreeBuffer(h Handle) error

	// GetBuffer returns a []uint32 view over byteLen bytes of the handle's
	// backing memory, starting at offset 0.
	GetBuffer(h Handle, byteLen int) ([]uint32, error)

	// OpenRecv begins a non-blocking DMA into the handle's buffer on
	// logical channel chnl. Only one DMA may be outstanding per handle.
	OpenRecv(chnl int, h Handle, byteLen, offset int) error
	// OpenSend begins a non-blocking DMA out of the handle's buffer.
	OpenSend(chnl int, h Handle, byteLen, offset int) error

	// WaitStream blocks until the outstanding DMA on h completes or
	// timeoutSec elapses, returning the high-water mark of bytes
	// transferred so far.
	WaitStream(h Handle, timeoutSec float64) (int, error)
	// BreakStream cancels an in-flight DMA on h. Always succeeds; the
	// caller should still call WaitStream to learn how much was delivered
	// before the break.
	BreakStream(h Handle) error
}

// StopFunc is a cooperatively-polled cancellation predicate.
type StopFunc func() bool

// DefaultTimeout bounds a stream wait when the caller passes a timeout of
// zero or less.
const DefaultTimeout = 15 * time.Second

// StreamRecv combines OpenRecv+WaitRecv with cooperative cancellation via
// stopFn, polled between wait attempts.
func StreamRecv(t StreamTransport, chnl int, h Handle, byteLen, offset int, stopFn StopFunc, timeoutSec float64) (int, error) {
	if err := t.OpenRecv(chnl, h, byteLen, offset); err != nil {
		return 0, err
	}
	return WaitRecv(t, h, stopFn, timeoutSec)
}

// WaitRecv waits for the transfer already outstanding on h, polling stopFn
// between wait attempts. A timeoutSec of zero or less falls back to
// DefaultTimeout.
func WaitRecv(t StreamTransport, h Handle, stopFn StopFunc, timeoutSec float64) (int, error) {
	if timeoutSec <= 0 {
		timeoutSec = DefaultTimeout.Seconds()
	}
	const pollInterval = 200 * time.Millisecond
	deadline := time.Now().Add(time.Duration(timeoutSec * float64(time.Second)))
	for {
		if stopFn != nil && stopFn() {
			_ = t.BreakStream(h)
			return t.WaitStream(h, 0)
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			_ = t.BreakStream(h)
			n, _ := t.WaitStream(h, 0)
			return n, ferr.Newf(ferr.ErrDmaTimeout, "streamtransport.WaitRecv", "%d bytes delivered before the %gs timeout", n, timeoutSec)
		}
		wait := pollInterval
		if remaining < wait {
			wait = remaining
		}
		n, err := t.WaitStream(h, wait.Seconds())
		if err == nil {
			return n, nil
		}
		if !isTimeout(err) {
			return n, err
		}
	}
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	if t, ok := err.(timeouter); ok {
		return t.Timeout()
	}
	return true
}
