// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package cmdtest implements fakes for package cmdtransport.
package cmdtest

import (
	"sync"

	"fpgakit/conn/cmdtransport"
)

// RegBank is a fake register-addressed device: it records every write and
// serves reads from a backing map, so tests can assert on addressing
// patterns (e.g. that IncrementWrite hit consecutive addresses).
type RegBank struct {
	mu      sync.Mutex
	Regs    map[uint32][4]byte
	Writes  []Write
	StatusF func(addr uint32) uint32 // optional, defaults to always-OK
}

// Write records a single register write observed by the bank.
type Write struct {
	Addr  uint32
	Value [4]byte
}

// NewRegBank returns an empty RegBank.
func NewRegBank() *RegBank {
	return &RegBank{Regs: map[uint32][4]byte{}}
}

func (b *RegBank) write(addr uint32, v [4]byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Regs[addr] = v
	b.Writes = append(b.Writes, Write{addr, v})
}

func (b *RegBank) read(addr uint32) [4]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Regs[addr]
}

// Mock implements cmdtransport.CmdTransport directly against a RegBank,
// without any byte-stream framing, for tests that only care about the
// register-op semantics (bulk addressing, status propagation).
type Mock struct {
	Bank     *RegBank
	Accepted bool
	Closed   bool
}

// NewMock returns a Mock backed by a fresh RegBank.
func NewMock() *Mock { return &Mock{Bank: NewRegBank()} }

func (m *Mock) Accept(cmdtransport.AcceptParams) error { m.Accepted = true; return nil }
func (m *Mock) Close() error                           { m.Closed = true; return nil }

func (m *Mock) SendBytes(data []byte) (int, error) { return len(data), nil }
func (m *Mock) RecvBytes(n int) ([]byte, error)    { return make([]byte, n), nil }

func (m *Mock) Write(addr uint32, value [4]byte) error {
	m.Bank.write(addr, value)
	return nil
}

func (m *Mock) Read(addr uint32) ([4]byte, error) {
	return m.Bank.read(addr), nil
}

func (m *Mock) MultiWrite(addrs []uint32, values [][4]byte) error {
	for i, a := range addrs {
		m.Bank.write(a, values[i])
	}
	return nil
}

func (m *Mock) MultiRead(addrs []uint32) ([][4]byte, error) {
	out := make([][4]byte, len(addrs))
	for i, a := range addrs {
		out[i] = m.Bank.read(a)
	}
	return out, nil
}

func (m *Mock) IncrementWrite(addr uint32, data []byte, regWidth int) error {
	padded := cmdtransport.PadToWidth(data, regWidth)
	for i, a := range cmdtransport.IncrementAddrs(addr, len(padded), regWidth) {
		var v [4]byte
		copy(v[:], padded[i*regWidth:(i+1)*regWidth])
		m.Bank.write(a, v)
	}
	return nil
}

func (m *Mock) LoopWrite(addr uint32, data []byte, regWidth int) error {
	padded := cmdtransport.PadToWidth(data, regWidth)
	n := len(padded) / regWidth
	for i := 0; i < n; i++ {
		var v [4]byte
		copy(v[:], padded[i*regWidth:(i+1)*regWidth])
		m.Bank.write(addr, v)
	}
	return nil
}

func (m *Mock) IncrementRead(addr uint32, length, regWidth int) ([]byte, error) {
	out := make([]byte, 0, length)
	for _, a := range cmdtransport.IncrementAddrs(addr, length, regWidth) {
		v := m.Bank.read(a)
		out = append(out, v[:]...)
	}
	if len(out) > length {
		out = out[:length]
	}
	return out, nil
}

func (m *Mock) LoopRead(addr uint32, length, regWidth int) ([]byte, error) {
	n := (length + regWidth - 1) / regWidth
	out := make([]byte, 0, n*regWidth)
	for i := 0; i < n; i++ {
		v := m.Bank.read(addr)
		out = append(out, v[:]...)
	}
	if len(out) > length {
		out = out[:length]
	}
	return out, nil
}

var _ cmdtransport.CmdTransport = &Mock{}
