// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package cmdtransport

import (
	"encoding/binary"
	"sync"
	"sync/atomic"

	"fpgakit/ferr"
)

// ByteStream is the minimal surface Framed needs from an underlying
// connection: sending and receiving raw bytes, each allowed to block until
// the per-call timeout expires. Concrete transports (TCP, serial) implement
// this directly against net.Conn / go.bug.st/serial.Port.
type ByteStream interface {
	SendBytes(data []byte) (int, error)
	RecvBytes(n int) ([]byte, error)
}

// Framed implements the virtual-register-over-byte-stream mechanism on top
// of any ByteStream: it builds the reserved command
// frames, sends them, and parses the 16 byte reply header plus status word.
//
// It is embedded by host/tcpcmd and host/serialcmd, each of which only
// needs to supply SendBytes/RecvBytes (and its own Accept/Close).
type Framed struct {
	Stream ByteStream

	busy   sync.Mutex
	serial uint32
}

func (f *Framed) nextSerial() uint32 {
	return atomic.AddUint32(&f.serial, 1)
}

// roundTrip sends a single reserved-command frame and returns the decoded
// payload (the reply body with the 4 byte status word stripped), after
// validating magic, command id and serial number and checking the status
// word is zero.
func (f *Framed) roundTrip(op string, cmdID uint32, body []byte) ([]byte, error) {
	f.busy.Lock()
	defer f.busy.Unlock()

	serial := f.nextSerial()
	frame := BuildFrame(cmdID, serial, body)
	if _, err := f.Stream.SendBytes(frame); err != nil {
		return nil, err
	}

	hdr, err := f.Stream.RecvBytes(HeaderLen)
	if err != nil {
		return nil, err
	}
	if len(hdr) < HeaderLen {
		return nil, ferr.Newf(ferr.ErrMalformedFrame, op, "short header: %d bytes", len(hdr))
	}
	h := ParseHeader(hdr)
	if h.Magic != MagicReply {
		return nil, ferr.Newf(ferr.ErrMagicMismatch, op, "got 0x%08x, want 0x%08x", h.Magic, MagicReply)
	}
	if h.CommandID != cmdID {
		return nil, ferr.Newf(ferr.ErrMalformedFrame, op, "command id echo mismatch: got 0x%08x, want 0x%08x", h.CommandID, cmdID)
	}
	if h.Serial != serial {
		return nil, ferr.Newf(ferr.ErrSerialMismatch, op, "got %d, want %d", h.Serial, serial)
	}
	if h.Length < HeaderLen {
		return nil, ferr.Newf(ferr.ErrMalformedFrame, op, "total_length %d < %d", h.Length, HeaderLen)
	}
	bodyLen := int(h.Length) - HeaderLen
	replyBody, err := f.Stream.RecvBytes(bodyLen)
	if err != nil {
		return nil, err
	}
	if len(replyBody) < 4 {
		return nil, ferr.Newf(ferr.ErrMalformedFrame, op, "reply body too short for status word: %d bytes", len(replyBody))
	}
	status := binary.LittleEndian.Uint32(replyBody[:4])
	if status != 0 {
		return nil, ferr.Newf(ferr.ErrCommand, op, "device returned status %d", status)
	}
	return replyBody[4:], nil
}

// Write implements CmdTransport.Write.
func (f *Framed) Write(addr uint32, value [4]byte) error {
	body := make([]byte, 8)
	binary.LittleEndian.PutUint32(body[0:4], addr)
	copy(body[4:8], value[:])
	_, err := f.roundTrip("cmdtransport.Write", CmdRegWrite, body)
	return err
}

// Read implements CmdTransport.Read.
func (f *Framed) Read(addr uint32) ([4]byte, error) {
	var out [4]byte
	body := make([]byte, 4)
	binary.LittleEndian.PutUint32(body, addr)
	reply, err := f.roundTrip("cmdtransport.Read", CmdRegRead, body)
	if err != nil {
		return out, err
	}
	if len(reply) < 4 {
		return out, ferr.Newf(ferr.ErrMalformedFrame, "cmdtransport.Read", "short reply payload: %d bytes", len(reply))
	}
	copy(out[:], reply[:4])
	return out, nil
}

// MultiWrite implements CmdTransport.MultiWrite as a loop over Write.
func (f *Framed) MultiWrite(addrs []uint32, values [][4]byte) error {
	for i, a := range addrs {
		if err := f.Write(a, values[i]); err != nil {
			return err
		}
	}
	return nil
}

// MultiRead implements CmdTransport.MultiRead as a loop over Read.
func (f *Framed) MultiRead(addrs []uint32) ([][4]byte, error) {
	out := make([][4]byte, len(addrs))
	for i, a := range addrs {
		v, err := f.Read(a)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// IncrementWrite implements CmdTransport.IncrementWrite: one frame per
// regWidth-sized word, addressing B, B+W, B+2W, ...
func (f *Framed) IncrementWrite(addr uint32, data []byte, regWidth int) error {
	return f.bulkWrite(CmdRegIncrementWrite, Increment, addr, data, regWidth)
}

// LoopWrite implements CmdTransport.LoopWrite: every word targets addr.
func (f *Framed) LoopWrite(addr uint32, data []byte, regWidth int) error {
	return f.bulkWrite(CmdRegLoopWrite, Loop, addr, data, regWidth)
}

func (f *Framed) bulkWrite(cmdID uint32, mode BulkMode, addr uint32, data []byte, regWidth int) error {
	padded := PadToWidth(data, regWidth)
	n := len(padded) / regWidth
	for i := 0; i < n; i++ {
		a := addr
		if mode == Increment {
			a = addr + uint32(i*regWidth)
		}
		body := make([]byte, 4+regWidth)
		binary.LittleEndian.PutUint32(body[0:4], a)
		copy(body[4:], padded[i*regWidth:(i+1)*regWidth])
		if _, err := f.roundTrip("cmdtransport.bulkWrite", cmdID, body); err != nil {
			return err
		}
	}
	return nil
}

// IncrementRead implements CmdTransport.IncrementRead.
func (f *Framed) IncrementRead(addr uint32, length, regWidth int) ([]byte, error) {
	return f.bulkRead(CmdRegIncrementRead, Increment, addr, length, regWidth)
}

// LoopRead implements CmdTransport.LoopRead.
func (f *Framed) LoopRead(addr uint32, length, regWidth int) ([]byte, error) {
	return f.bulkRead(CmdRegLoopRead, Loop, addr, length, regWidth)
}

func (f *Framed) bulkRead(cmdID uint32, mode BulkMode, addr uint32, length, regWidth int) ([]byte, error) {
	n := ceilDiv(length, regWidth)
	out := make([]byte, 0, n*regWidth)
	for i := 0; i < n; i++ {
		a := addr
		if mode == Increment {
			a = addr + uint32(i*regWidth)
		}
		body := make([]byte, 4)
		binary.LittleEndian.PutUint32(body, a)
		reply, err := f.roundTrip("cmdtransport.bulkRead", cmdID, body)
		if err != nil {
			return nil, err
		}
		out = append(out, reply...)
	}
	if len(out) > length {
		out = out[:length]
	}
	return out, nil
}
