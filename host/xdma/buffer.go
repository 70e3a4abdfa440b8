// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package xdma

import (
	"sync"
	"unsafe"

	"fpgakit/conn/streamtransport"
	"fpgakit/ferr"
	"fpgakit/host/pmem"
)

// dmaBuffer is one allocated or wrapped handle's bookkeeping.
type dmaBuffer struct {
	backing  streamtransport.Backing
	pinned   *pmem.MemAlloc // set only when backing == BackingOwned
	dma      uintptr        // DMA token from fpga_alloc_dma, valid for every backing
	words    []uint32       // caller-supplied view, set for BackingCallerWords
	bytes    []byte         // caller-supplied view, set for BackingCallerPointer
	byteLen  int
	inUse    bool
	lastUsed int
}

// Stream implements streamtransport.StreamTransport against one Board's
// native DMA engine.
type Stream struct {
	board *Board

	mu   sync.Mutex
	next streamtransport.Handle
	bufs map[streamtransport.Handle]*dmaBuffer
}

// NewStream returns a Stream bound to board.
func NewStream(board *Board) *Stream {
	return &Stream{board: board, bufs: map[streamtransport.Handle]*dmaBuffer{}}
}

func (s *Stream) AllocBuffer(byteLen int, external []byte) (streamtransport.Handle, error) {
	if byteLen <= 0 || byteLen%4 != 0 {
		return 0, ferr.Newf(ferr.ErrSchema, "xdma.AllocBuffer", "byteLen %d not divisible by 4", byteLen)
	}
	b := &dmaBuffer{byteLen: byteLen}
	if external != nil {
		if len(external) < byteLen {
			return 0, ferr.Newf(ferr.ErrSchema, "xdma.AllocBuffer", "external buffer too small: %d < %d", len(external), byteLen)
		}
		b.backing = streamtransport.BackingCallerPointer
		b.bytes = external
	} else {
		rounded := (byteLen + 4095) &^ 4095
		m, err := pmem.Alloc(rounded)
		if err != nil {
			return 0, ferr.Wrap(ferr.ErrConnect, "xdma.AllocBuffer", err, "pinning %d bytes", rounded)
		}
		b.backing = streamtransport.BackingOwned
		b.pinned = m
	}
	if err := s.registerDMA(b); err != nil {
		if b.pinned != nil {
			_ = b.pinned.Close()
		}
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	h := s.next
	s.bufs[h] = b
	return h, nil
}

// AllocWordsBuffer wraps a caller-supplied []uint32 as a BackingCallerWords
// handle. It is not part of the StreamTransport interface since TCP-stream
// has no concept of a word-addressed backing; only the PCIe/XDMA path needs
// the third backing variant.
func (s *Stream) AllocWordsBuffer(words []uint32) (streamtransport.Handle, error) {
	if len(words) == 0 {
		return 0, ferr.Newf(ferr.ErrSchema, "xdma.AllocWordsBuffer", "words must be non-empty")
	}
	b := &dmaBuffer{backing: streamtransport.BackingCallerWords, words: words, byteLen: len(words) * 4}
	if err := s.registerDMA(b); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	h := s.next
	s.bufs[h] = b
	return h, nil
}

// registerDMA hands the buffer's memory to the driver's DMA engine via
// fpga_alloc_dma, recording the returned token used by every later
// fpga_send/fpga_recv/fpga_wait_dma/fpga_break_dma call.
func (s *Stream) registerDMA(b *dmaBuffer) error {
	dma := s.board.lib.allocDMA(s.board.b.handle, s.addrOf(b), int64(b.byteLen/4))
	if dma == 0 {
		return ferr.Newf(ferr.ErrConnect, "xdma.registerDMA", "driver refused a %d byte DMA buffer", b.byteLen)
	}
	b.dma = dma
	return nil
}

func (s *Stream) FreeBuffer(h streamtransport.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bufs[h]
	if !ok {
		return ferr.Newf(ferr.ErrSchema, "xdma.FreeBuffer", "unknown handle %d", h)
	}
	if b.inUse {
		return ferr.Newf(ferr.ErrBufferBusy, "xdma.FreeBuffer", "handle %d has an outstanding DMA", h)
	}
	if b.backing == streamtransport.BackingOwned && b.pinned != nil {
		if err := b.pinned.Close(); err != nil {
			return ferr.Wrap(ferr.ErrConnect, "xdma.FreeBuffer", err, "releasing pinned memory")
		}
	}
	delete(s.bufs, h)
	return nil
}

func (s *Stream) GetBuffer(h streamtransport.Handle, byteLen int) ([]uint32, error) {
	s.mu.Lock()
	b, ok := s.bufs[h]
	s.mu.Unlock()
	if !ok {
		return nil, ferr.Newf(ferr.ErrSchema, "xdma.GetBuffer", "unknown handle %d", h)
	}
	switch b.backing {
	case streamtransport.BackingCallerWords:
		return b.words, nil
	case streamtransport.BackingCallerPointer:
		return bytesToWords(b.bytes[:byteLen]), nil
	default:
		return bytesToWords(b.pinned.Bytes()[:byteLen]), nil
	}
}

func (s *Stream) addrOf(b *dmaBuffer) uintptr {
	switch b.backing {
	case streamtransport.BackingOwned:
		return uintptr(unsafe.Pointer(&b.pinned.Bytes()[0]))
	case streamtransport.BackingCallerPointer:
		return uintptr(unsafe.Pointer(&b.bytes[0]))
	default:
		return uintptr(unsafe.Pointer(&b.words[0]))
	}
}

func (s *Stream) open(chnl int, h streamtransport.Handle, byteLen, offset int, dir streamtransport.Direction) error {
	s.mu.Lock()
	b, ok := s.bufs[h]
	if !ok {
		s.mu.Unlock()
		return ferr.Newf(ferr.ErrSchema, "xdma.open", "unknown handle %d", h)
	}
	if b.inUse {
		s.mu.Unlock()
		return ferr.Newf(ferr.ErrBufferBusy, "xdma.open", "handle %d already has an outstanding DMA", h)
	}
	b.inUse = true
	b.lastUsed = byteLen
	s.mu.Unlock()

	start := s.board.lib.recv
	if dir == streamtransport.DirSend {
		start = s.board.lib.send
	}
	if rc := start(s.board.b.handle, int32(chnl), b.dma, int64(byteLen/4), int64(offset/4)); rc != 0 {
		s.mu.Lock()
		b.inUse = false
		s.mu.Unlock()
		return ferr.Newf(ferr.ErrConnect, "xdma.open", "dma start on channel %d failed with code %d", chnl, rc)
	}
	return nil
}

func (s *Stream) OpenRecv(chnl int, h streamtransport.Handle, byteLen, offset int) error {
	return s.open(chnl, h, byteLen, offset, streamtransport.DirRecv)
}

func (s *Stream) OpenSend(chnl int, h streamtransport.Handle, byteLen, offset int) error {
	return s.open(chnl, h, byteLen, offset, streamtransport.DirSend)
}

// WaitStream blocks in fpga_wait_dma, which reports progress in 32-bit
// words; the count converts back to bytes here, at the same boundary where
// byte lengths became word counts on the way in.
func (s *Stream) WaitStream(h streamtransport.Handle, timeoutSec float64) (int, error) {
	s.mu.Lock()
	b, ok := s.bufs[h]
	s.mu.Unlock()
	if !ok {
		return 0, ferr.Newf(ferr.ErrSchema, "xdma.WaitStream", "unknown handle %d", h)
	}
	n := s.board.lib.waitDMA(s.board.b.handle, b.dma, int64(timeoutSec*1000))
	s.mu.Lock()
	b.inUse = false
	s.mu.Unlock()
	if n < 0 {
		return 0, ferr.Newf(ferr.ErrDmaTimeout, "xdma.WaitStream", "dma wait on handle %d timed out", h)
	}
	return int(n) * 4, nil
}

func (s *Stream) BreakStream(h streamtransport.Handle) error {
	s.mu.Lock()
	b, ok := s.bufs[h]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	s.board.lib.breakDMA(s.board.b.handle, b.dma)
	s.mu.Lock()
	b.inUse = false
	s.mu.Unlock()
	return nil
}

func bytesToWords(b []byte) []uint32 {
	out := make([]uint32, len(b)/4)
	for i := range out {
		out[i] = uint32(b[i*4]) | uint32(b[i*4+1])<<8 | uint32(b[i*4+2])<<16 | uint32(b[i*4+3])<<24
	}
	return out
}

var _ streamtransport.StreamTransport = &Stream{}
