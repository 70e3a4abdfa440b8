// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package cmdtransport defines the command-plane transport contract shared
// by the TCP, serial and PCIe command transports, plus the framed
// virtual-register protocol that the byte-stream transports (TCP, serial)
// use to emulate register semantics over a stream that has no native
// concept of a register.
package cmdtransport

import (
	"encoding/binary"
	"time"
)

// Magic values for the 16 byte frame header, per the wire format.
const (
	MagicRequest = 0x5F5F5F5F
	MagicReply   = 0xCFCFCFCF
)

// HeaderLen is the size in bytes of a command frame header.
const HeaderLen = 16

// Reserved command ids implementing virtual-register semantics over a byte
// stream transport (TCP, serial). All other ids are defined by the ICD
// document and are opaque to this package.
const (
	CmdRegWrite          uint32 = 0x31001000
	CmdRegRead           uint32 = 0x31001001
	CmdRegIncrementWrite uint32 = 0x31001010
	CmdRegIncrementRead  uint32 = 0x31001011
	CmdRegLoopWrite      uint32 = 0x31001020
	CmdRegLoopRead       uint32 = 0x31001021
)

// BulkMode selects how a multi-word register operation addresses the
// device: Increment walks consecutive addresses, Loop hammers one address.
type BulkMode int

const (
	Increment BulkMode = iota
	Loop
)

// AcceptParams carries the transport-specific parameters needed to open a
// connection. Only the fields relevant to a given transport are read; the
// rest are ignored.
type AcceptParams struct {
	IP           string
	TCPPort      int
	SerialPort   string
	BaudRate     int
	Board        int
	SentBase     uint32
	RecvBase     uint32
	IRQBase      uint32
	SentDownBase uint32
	Timeout      time.Duration
}

// CmdTransport is the command-plane contract: a request/response byte
// channel plus typed register read/write built on top of it.
//
// Implementations must serialize concurrent callers: one request and its
// matching reply complete before the next request's bytes hit the wire.
type CmdTransport interface {
	// Accept opens the connection. It fails with a ConnectError-kind *Error
	// if the address is unreachable, the serial port can't be opened, or the
	// PCIe board index is invalid.
	Accept(p AcceptParams) error
	// Close releases the connection. It is idempotent.
	Close() error

	// SendBytes sends every byte of data or fails; partial sends are
	// retried internally until the per-call timeout expires.
	SendBytes(data []byte) (int, error)
	// RecvBytes returns exactly n bytes or fails with a RecvTimeout-kind
	// *Error.
	RecvBytes(n int) ([]byte, error)

	// Write performs a single 4 byte register write.
	Write(addr uint32, value [4]byte) error
	// Read performs a single 4 byte register read.
	Read(addr uint32) ([4]byte, error)

	// MultiWrite performs an ordered vector of single writes.
	MultiWrite(addrs []uint32, values [][4]byte) error
	// MultiRead performs an ordered vector of single reads.
	MultiRead(addrs []uint32) ([][4]byte, error)

	// IncrementWrite writes data starting at addr, advancing by regWidth
	// bytes per word (BulkMode Increment semantics).
	IncrementWrite(addr uint32, data []byte, regWidth int) error
	// IncrementRead reads length bytes starting at addr, advancing by
	// regWidth bytes per word, and returns exactly length bytes.
	IncrementRead(addr uint32, length, regWidth int) ([]byte, error)
	// LoopWrite writes data to addr repeatedly (BulkMode Loop semantics).
	LoopWrite(addr uint32, data []byte, regWidth int) error
	// LoopRead reads length bytes from addr repeatedly.
	LoopRead(addr uint32, length, regWidth int) ([]byte, error)
}

// BatchCapable is an optional interface a CmdTransport may implement to
// batch a MultiWrite/MultiRead into a single round trip instead of the
// default per-op loop. host/pciecmd implements this: its mailbox protocol
// can carry several register operations in one scratchpad exchange.
type BatchCapable interface {
	BatchWrite(addrs []uint32, values [][4]byte) error
	BatchRead(addrs []uint32) ([][4]byte, error)
}

// Header is the 16 byte command frame header.
type Header struct {
	Magic     uint32
	CommandID uint32
	Serial    uint32
	Length    uint32
}

// PutHeader encodes h little-endian into the first HeaderLen bytes of buf.
func PutHeader(buf []byte, h Header) {
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	binary.LittleEndian.PutUint32(buf[4:8], h.CommandID)
	binary.LittleEndian.PutUint32(buf[8:12], h.Serial)
	binary.LittleEndian.PutUint32(buf[12:16], h.Length)
}

// ParseHeader decodes the first HeaderLen bytes of buf as a Header.
func ParseHeader(buf []byte) Header {
	return Header{
		Magic:     binary.LittleEndian.Uint32(buf[0:4]),
		CommandID: binary.LittleEndian.Uint32(buf[4:8]),
		Serial:    binary.LittleEndian.Uint32(buf[8:12]),
		Length:    binary.LittleEndian.Uint32(buf[12:16]),
	}
}

// BuildFrame assembles a complete request frame: header followed by body,
// with Length set to HeaderLen+len(body).
func BuildFrame(commandID, serial uint32, body []byte) []byte {
	buf := make([]byte, HeaderLen+len(body))
	PutHeader(buf, Header{Magic: MagicRequest, CommandID: commandID, Serial: serial, Length: uint32(len(buf))})
	copy(buf[HeaderLen:], body)
	return buf
}

// ceilDiv returns ceil(a/b) for positive b.
func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

// IncrementAddrs returns the sequence of addresses a BulkMode Increment
// operation of the given byte length visits: B, B+W, ..., B+W*(ceil(N/W)-1).
func IncrementAddrs(base uint32, length, regWidth int) []uint32 {
	n := ceilDiv(length, regWidth)
	out := make([]uint32, n)
	for i := 0; i < n; i++ {
		out[i] = base + uint32(i*regWidth)
	}
	return out
}

// PadToWidth zero-pads data up to a multiple of regWidth bytes.
func PadToWidth(data []byte, regWidth int) []byte {
	rem := len(data) % regWidth
	if rem == 0 {
		return data
	}
	out := make([]byte, len(data)+regWidth-rem)
	copy(out, data)
	return out
}
