// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package pciestream implements the PCIe data-plane transport: it delegates
// every operation to host/xdma, which owns the native driver binding and the
// pinned buffer pool.
package pciestream

import (
	"fpgakit/conn/cmdtransport"
	"fpgakit/conn/streamtransport"
	"fpgakit/host/xdma"
)

// Transport is a streamtransport.StreamTransport backed by host/xdma.
type Transport struct {
	board  *xdma.Board
	stream *xdma.Stream
}

// Accept opens the board (sharing the refcounted handle with any pciecmd
// transport already bound to the same index) and wraps it in an
// xdma.Stream.
func (t *Transport) Accept(p cmdtransport.AcceptParams) error {
	bd, err := xdma.Open(xdma.DefaultLibraryPath, p.Board)
	if err != nil {
		return err
	}
	t.board = bd
	t.stream = xdma.NewStream(bd)
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

func (t *Transport) AllocBuffer(byteLen int, external []byte) (streamtransport.Handle, error) {
	return t.stream.AllocBuffer(byteLen, external)
}

func (t *Transport) FreeBuffer(h streamtransport.Handle) error {
	return t.stream.FreeBuffer(h)
}

func (t *Transport) GetBuffer(h streamtransport.Handle, byteLen int) ([]uint32, error) {
	return t.stream.GetBuffer(h, byteLen)
}

func (t *Transport) OpenRecv(chnl int, h streamtransport.Handle, byteLen, offset int) error {
	return t.stream.OpenRecv(chnl, h, byteLen, offset)
}

func (t *Transport) OpenSend(chnl int, h streamtransport.Handle, byteLen, offset int) error {
	return t.stream.OpenSend(chnl, h, byteLen, offset)
}

func (t *Transport) WaitStream(h streamtransport.Handle, timeoutSec float64) (int, error) {
	return t.stream.WaitStream(h, timeoutSec)
}

func (t *Transport) BreakStream(h streamtransport.Handle) error {
	return t.stream.BreakStream(h)
}

// Read and Write expose the board's MMIO registers directly, so a Transport
// satisfies vchnl.RegisterIO and can drive the virtual-channel multiplexer's
// PARAM_ADDR/PARAM_WR_ADDR/STATUS_ADDR handshake. TCP-stream has no such
// registers to expose, which is exactly the asymmetry Virtual mode's
// IncompatibleTransport check is meant to catch.
func (t *Transport) Read(addr uint32) ([4]byte, error) {
	return t.board.Read(addr)
}

func (t *Transport) Write(addr uint32, value [4]byte) error {
	return t.board.Write(addr, value)
}

var _ streamtransport.StreamTransport = &Transport{}
