// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package pciecmd implements the PCIe command transport: an MMIO scratchpad
// mailbox protocol rather than a byte stream, built on the board handle from
// host/xdma.
package pciecmd

import (
	"encoding/binary"
	"sync"
	"time"

	"fpgakit/conn/cmdtransport"
	"fpgakit/ferr"
	"fpgakit/host/xdma"
)

const (
	statusReady   = 0x8000
	irqResetHigh  = 0x80000000
	waitIRQNumber = 15
	pollInterval  = time.Millisecond
)

// Transport implements cmdtransport.CmdTransport over the PCIe MMIO
// scratchpad mailbox: sent_base/recv_base carry words, sent_down_base and
// irq_base are doorbell registers.
type Transport struct {
	board *xdma.Board

	sentBase     uint32
	recvBase     uint32
	irqBase      uint32
	sentDownBase uint32

	timeout time.Duration

	busy    sync.Mutex
	sentPtr uint32
	recvPtr uint32
}

// DefaultTimeout bounds the polled IRQ wait when AcceptParams.Timeout is
// unset.
const DefaultTimeout = 30 * time.Second

// Accept opens the underlying board and records the scratchpad layout.
func (t *Transport) Accept(p cmdtransport.AcceptParams) error {
	bd, err := xdma.Open(xdma.DefaultLibraryPath, p.Board)
	if err != nil {
		return err
	}
	t.board = bd
	t.sentBase = p.SentBase
	t.recvBase = p.RecvBase
	t.irqBase = p.IRQBase
	t.sentDownBase = p.SentDownBase
	t.timeout = p.Timeout
	if t.timeout <= 0 {
		t.timeout = DefaultTimeout
	}
	return nil
}

// Close releases the board reference. It is idempotent.
func (t *Transport) Close() error {
	if t.board == nil {
		return nil
	}
	err := t.board.Close()
	t.board = nil
	return err
}

// SendBytes writes data, zero-padded to a multiple of 4 bytes, sequentially
// into sent_base starting at the per-request sent_ptr, then pulses the
// send-done doorbell at sent_down_base.
func (t *Transport) SendBytes(data []byte) (int, error) {
	t.busy.Lock()
	defer t.busy.Unlock()

	padded := cmdtransport.PadToWidth(data, 4)
	t.sentPtr = 0
	for i := 0; i < len(padded); i += 4 {
		var w [4]byte
		copy(w[:], padded[i:i+4])
		if err := t.board.Write(t.sentBase+t.sentPtr, w); err != nil {
			return i, err
		}
		t.sentPtr += 4
	}
	if err := t.pulse(t.sentDownBase); err != nil {
		return len(data), err
	}
	return len(data), nil
}

// RecvBytes waits for the device's IRQ (polling irq_base, since wait_irq(15)
// is not reachable from user space without a native blocking call this
// package doesn't bind) then reads n bytes from recv_base and resets the
// IRQ latch.
func (t *Transport) RecvBytes(n int) ([]byte, error) {
	t.busy.Lock()
	defer t.busy.Unlock()

	if err := t.waitIRQ(); err != nil {
		return nil, err
	}
	out := make([]byte, 0, n)
	for len(out) < n {
		v, err := t.board.Read(t.recvBase + t.recvPtr)
		if err != nil {
			return nil, err
		}
		out = append(out, v[:]...)
		t.recvPtr += 4
	}
	if err := t.resetIRQ(); err != nil {
		return nil, err
	}
	t.recvPtr = 0
	return out[:n], nil
}

func (t *Transport) waitIRQ() error {
	deadline := time.Now().Add(t.timeout)
	for {
		v, err := t.board.Read(t.irqBase)
		if err != nil {
			return err
		}
		if binary.LittleEndian.Uint32(v[:]) == statusReady {
			return nil
		}
		if time.Now().After(deadline) {
			return ferr.Newf(ferr.ErrRecvTimeout, "pciecmd.waitIRQ", "irq %d not observed within deadline", waitIRQNumber)
		}
		time.Sleep(pollInterval)
	}
}

func (t *Transport) resetIRQ() error {
	if err := t.board.Write(t.irqBase, u32(irqResetHigh)); err != nil {
		return err
	}
	return t.board.Write(t.irqBase, u32(0))
}

func (t *Transport) pulse(addr uint32) error {
	if err := t.board.Write(addr, u32(0xFFFFFFFF)); err != nil {
		return err
	}
	time.Sleep(time.Microsecond)
	return t.board.Write(addr, u32(0))
}

func u32(v uint32) [4]byte {
	return [4]byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

// Write performs a single register write directly through the board's MMIO
// surface (alite_write).
func (t *Transport) Write(addr uint32, value [4]byte) error {
	return t.board.Write(addr, value)
}

// Read performs a single register read directly through the board's MMIO
// surface (alite_read).
func (t *Transport) Read(addr uint32) ([4]byte, error) {
	return t.board.Read(addr)
}

// MultiWrite is the default per-op loop; BatchWrite below overrides it
// whenever the caller wants a single mailbox exchange instead.
func (t *Transport) MultiWrite(addrs []uint32, values [][4]byte) error {
	for i, a := range addrs {
		if err := t.Write(a, values[i]); err != nil {
			return err
		}
	}
	return nil
}

// MultiRead is the default per-op loop.
func (t *Transport) MultiRead(addrs []uint32) ([][4]byte, error) {
	out := make([][4]byte, len(addrs))
	for i, a := range addrs {
		v, err := t.Read(a)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// IncrementWrite writes data starting at addr, one MMIO word per regWidth
// bytes, advancing the address each time.
func (t *Transport) IncrementWrite(addr uint32, data []byte, regWidth int) error {
	return t.bulkWrite(cmdtransport.Increment, addr, data, regWidth)
}

// LoopWrite writes every word to addr.
func (t *Transport) LoopWrite(addr uint32, data []byte, regWidth int) error {
	return t.bulkWrite(cmdtransport.Loop, addr, data, regWidth)
}

func (t *Transport) bulkWrite(mode cmdtransport.BulkMode, addr uint32, data []byte, regWidth int) error {
	padded := cmdtransport.PadToWidth(data, regWidth)
	n := len(padded) / regWidth
	for i := 0; i < n; i++ {
		a := addr
		if mode == cmdtransport.Increment {
			a = addr + uint32(i*regWidth)
		}
		var w [4]byte
		copy(w[:], padded[i*regWidth:(i+1)*regWidth])
		if err := t.Write(a, w); err != nil {
			return err
		}
	}
	return nil
}

// IncrementRead reads length bytes starting at addr, advancing by regWidth
// each word.
func (t *Transport) IncrementRead(addr uint32, length, regWidth int) ([]byte, error) {
	return t.bulkRead(cmdtransport.Increment, addr, length, regWidth)
}

// LoopRead reads length bytes, repeatedly from addr.
func (t *Transport) LoopRead(addr uint32, length, regWidth int) ([]byte, error) {
	return t.bulkRead(cmdtransport.Loop, addr, length, regWidth)
}

func (t *Transport) bulkRead(mode cmdtransport.BulkMode, addr uint32, length, regWidth int) ([]byte, error) {
	addrs := cmdtransport.IncrementAddrs(addr, length, regWidth)
	out := make([]byte, 0, len(addrs)*regWidth)
	for _, a := range addrs {
		if mode == cmdtransport.Loop {
			a = addr
		}
		v, err := t.Read(a)
		if err != nil {
			return nil, err
		}
		out = append(out, v[:regWidth]...)
	}
	if len(out) > length {
		out = out[:length]
	}
	return out, nil
}

// BatchWrite implements cmdtransport.BatchCapable: the mailbox protocol can
// already carry an arbitrary vector of (addr, value) pairs in one SendBytes
// exchange, so batch simply encodes all pairs into a single scratchpad
// write before pulsing the doorbell once.
func (t *Transport) BatchWrite(addrs []uint32, values [][4]byte) error {
	body := make([]byte, 0, len(addrs)*8)
	for i, a := range addrs {
		var hdr [4]byte
		binary.LittleEndian.PutUint32(hdr[:], a)
		body = append(body, hdr[:]...)
		body = append(body, values[i][:]...)
	}
	_, err := t.SendBytes(body)
	return err
}

// BatchRead mirrors BatchWrite: one RecvBytes covering every requested
// register's 4 byte value, in request order.
func (t *Transport) BatchRead(addrs []uint32) ([][4]byte, error) {
	reply, err := t.RecvBytes(len(addrs) * 4)
	if err != nil {
		return nil, err
	}
	out := make([][4]byte, len(addrs))
	for i := range addrs {
		copy(out[i][:], reply[i*4:i*4+4])
	}
	return out, nil
}

var (
	_ cmdtransport.CmdTransport = &Transport{}
	_ cmdtransport.BatchCapable = &Transport{}
)
