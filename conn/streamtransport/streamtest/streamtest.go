// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package streamtest implements a fake for package streamtransport.
package streamtest

import (
	"sync"

	"fpgakit/conn/streamtransport"
	"fpgakit/ferr"
)

type buffer struct {
	data     []byte
	inUse    bool
	backing  streamtransport.Backing
	usedSize int
}

// Mock implements streamtransport.StreamTransport entirely in memory: every
// "DMA" completes immediately, filling the buffer with an incrementing
// pattern so tests can assert exact bytes transferred.
type Mock struct {
	mu       sync.Mutex
	next     streamtransport.Handle
	bufs     map[streamtransport.Handle]*buffer
	Opens    []Open
	Broken   map[streamtransport.Handle]bool
	FailOpen error
}

// Open records one OpenRecv/OpenSend call.
type Open struct {
	Chnl      int
	Handle    streamtransport.Handle
	ByteLen   int
	Offset    int
	Direction streamtransport.Direction
}

// NewMock returns an empty Mock.
func NewMock() *Mock {
	return &Mock{bufs: map[streamtransport.Handle]*buffer{}, Broken: map[streamtransport.Handle]bool{}}
}

func (m *Mock) AllocBuffer(byteLen int, external []byte) (streamtransport.Handle, error) {
	if byteLen <= 0 || byteLen%4 != 0 {
		return 0, ferr.Newf(ferr.ErrSchema, "streamtest.AllocBuffer", "byteLen %d not divisible by 4", byteLen)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	h := m.next
	b := &buffer{}
	if external != nil {
		b.data = external
		b.backing = streamtransport.BackingCallerPointer
	} else {
		b.data = make([]byte, byteLen)
		b.backing = streamtransport.BackingOwned
	}
	m.bufs[h] = b
	return h, nil
}

func (m *Mock) FreeBuffer(h streamtransport.Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bufs[h]
	if !ok {
		return ferr.Newf(ferr.ErrSchema, "streamtest.FreeBuffer", "unknown handle %d", h)
	}
	if b.inUse {
		return ferr.Newf(ferr.ErrBufferBusy, "streamtest.FreeBuffer", "handle %d is in use", h)
	}
	delete(m.bufs, h)
	return nil
}

func (m *Mock) GetBuffer(h streamtransport.Handle, byteLen int) ([]uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bufs[h]
	if !ok {
		return nil, ferr.Newf(ferr.ErrSchema, "streamtest.GetBuffer", "unknown handle %d", h)
	}
	n := byteLen / 4
	out := make([]uint32, n)
	for i := 0; i < n && i*4+4 <= len(b.data); i++ {
		out[i] = uint32(b.data[i*4]) | uint32(b.data[i*4+1])<<8 | uint32(b.data[i*4+2])<<16 | uint32(b.data[i*4+3])<<24
	}
	return out, nil
}

func (m *Mock) openDMA(chnl int, h streamtransport.Handle, byteLen, offset int, dir streamtransport.Direction) error {
	if m.FailOpen != nil {
		return m.FailOpen
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bufs[h]
	if !ok {
		return ferr.Newf(ferr.ErrSchema, "streamtest.Open", "unknown handle %d", h)
	}
	if b.inUse {
		return ferr.Newf(ferr.ErrBufferBusy, "streamtest.Open", "handle %d already has an outstanding DMA", h)
	}
	b.inUse = true
	if dir == streamtransport.DirRecv {
		for i := 0; i < byteLen && offset+i < len(b.data); i++ {
			b.data[offset+i] = byte(i)
		}
	}
	b.usedSize = byteLen
	m.Opens = append(m.Opens, Open{chnl, h, byteLen, offset, dir})
	return nil
}

func (m *Mock) OpenRecv(chnl int, h streamtransport.Handle, byteLen, offset int) error {
	return m.openDMA(chnl, h, byteLen, offset, streamtransport.DirRecv)
}

func (m *Mock) OpenSend(chnl int, h streamtransport.Handle, byteLen, offset int) error {
	return m.openDMA(chnl, h, byteLen, offset, streamtransport.DirSend)
}

func (m *Mock) WaitStream(h streamtransport.Handle, timeoutSec float64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bufs[h]
	if !ok {
		return 0, ferr.Newf(ferr.ErrSchema, "streamtest.WaitStream", "unknown handle %d", h)
	}
	b.inUse = false
	return b.usedSize, nil
}

func (m *Mock) BreakStream(h streamtransport.Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.bufs[h]; ok {
		b.inUse = false
	}
	m.Broken[h] = true
	return nil
}

var _ streamtransport.StreamTransport = &Mock{}
