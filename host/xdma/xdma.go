// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package xdma is a thin binding to the vendor XDMA shared library via
// dlopen, plus the process-wide board refcount table that lets several
// transports share one open board.
//
// host/pciecmd and host/pciestream are built on top of this package; it is
// the only place in the tree that talks to the native driver directly.
package xdma

import (
	"sync"

	"github.com/ebitengine/purego"

	"fpgakit/ferr"
)

// DefaultLibraryPath is where the vendor driver is installed by default;
// callers that ship a different layout pass their own path to Open.
const DefaultLibraryPath = "libxdma.so"

// board is one open handle to a physical FPGA board, shared by every
// CmdTransport/StreamTransport bound to the same board index.
type board struct {
	index    int
	handle   uintptr // native board handle returned by fpga_open
	refcount int
}

var (
	mu     sync.Mutex
	lib    *library
	boards = map[int]*board{}
)

// library holds the dlopen handle and bound function pointers for one load
// of the native shared object. It's loaded once per process and shared by
// every board, matching the "single driver handle per board index" policy.
// The symbol set is the driver's C ABI: fpga_open/fpga_close for the board
// handle, fpga_alloc_dma to register a pinned buffer with the DMA engine,
// fpga_send/fpga_recv to start a transfer on it, fpga_wait_dma and
// fpga_break_dma for completion, and fpga_wr_lite/fpga_rd_lite for 32-bit
// AXI-Lite register access. Lengths and offsets cross this boundary as
// 32-bit word counts.
type library struct {
	handle uintptr

	boardOpen  func(index int32) uintptr
	boardClose func(h uintptr)
	allocDMA   func(h uintptr, buf uintptr, lenWords int64) uintptr
	send       func(h uintptr, chnl int32, dma uintptr, lenWords, offsetWords int64) int32
	recv       func(h uintptr, chnl int32, dma uintptr, lenWords, offsetWords int64) int32
	waitDMA    func(h uintptr, dma uintptr, timeoutMs int64) int64
	breakDMA   func(h uintptr, dma uintptr) int32
	regRead    func(h uintptr, addr uint32) uint32
	regWrite   func(h uintptr, addr uint32, value uint32) int32
}

// loadLibrary dlopens path once per process; subsequent calls return the
// cached library regardless of path (the native driver is a process-wide
// singleton by design, like /dev/mem in host/pmem).
func loadLibrary(path string) (*library, error) {
	mu.Lock()
	defer mu.Unlock()
	if lib != nil {
		return lib, nil
	}
	h, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return nil, ferr.Wrap(ferr.ErrConnect, "xdma.loadLibrary", err, "dlopen %s", path)
	}
	l := &library{handle: h}
	purego.RegisterLibFunc(&l.boardOpen, h, "fpga_open")
	purego.RegisterLibFunc(&l.boardClose, h, "fpga_close")
	purego.RegisterLibFunc(&l.allocDMA, h, "fpga_alloc_dma")
	purego.RegisterLibFunc(&l.send, h, "fpga_send")
	purego.RegisterLibFunc(&l.recv, h, "fpga_recv")
	purego.RegisterLibFunc(&l.waitDMA, h, "fpga_wait_dma")
	purego.RegisterLibFunc(&l.breakDMA, h, "fpga_break_dma")
	purego.RegisterLibFunc(&l.regRead, h, "fpga_rd_lite")
	purego.RegisterLibFunc(&l.regWrite, h, "fpga_wr_lite")
	lib = l
	return l, nil
}

// Board is a refcounted handle to one physical FPGA board's native driver
// state, shared by every transport opened against the same board index.
type Board struct {
	lib *library
	b   *board
}

// Open returns the Board for index, dlopen-ing libraryPath on first use and
// opening the native board handle on first reference; subsequent Opens of
// the same index just bump the refcount.
func Open(libraryPath string, index int) (*Board, error) {
	if libraryPath == "" {
		libraryPath = DefaultLibraryPath
	}
	l, err := loadLibrary(libraryPath)
	if err != nil {
		return nil, err
	}
	mu.Lock()
	defer mu.Unlock()
	b, ok := boards[index]
	if !ok {
		h := l.boardOpen(int32(index))
		if h == 0 {
			return nil, ferr.Newf(ferr.ErrConnect, "xdma.Open", "board %d failed to open", index)
		}
		b = &board{index: index, handle: h}
		boards[index] = b
	}
	b.refcount++
	return &Board{lib: l, b: b}, nil
}

// Close releases one reference on the board, closing the native handle once
// the refcount reaches zero.
func (bd *Board) Close() error {
	mu.Lock()
	defer mu.Unlock()
	bd.b.refcount--
	if bd.b.refcount > 0 {
		return nil
	}
	bd.lib.boardClose(bd.b.handle)
	delete(boards, bd.b.index)
	return nil
}

// Read performs a single 32-bit MMIO register read, backing
// cmdtransport.CmdTransport.Read and vchnl.RegisterIO.Read for the PCIe
// transports.
func (bd *Board) Read(addr uint32) ([4]byte, error) {
	v := bd.lib.regRead(bd.b.handle, addr)
	return [4]byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}, nil
}

// Write performs a single 32-bit MMIO register write.
func (bd *Board) Write(addr uint32, value [4]byte) error {
	v := uint32(value[0]) | uint32(value[1])<<8 | uint32(value[2])<<16 | uint32(value[3])<<24
	if bd.lib.regWrite(bd.b.handle, addr, v) != 0 {
		return ferr.Newf(ferr.ErrCommand, "xdma.Write", "register write to 0x%x failed", addr)
	}
	return nil
}
