// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package serialcmd implements the serial command transport: the
// virtual-register mechanism in conn/cmdtransport.Framed, carried over a
// go.bug.st/serial port.
package serialcmd

import (
	"time"

	"go.bug.st/serial"

	"fpgakit/conn/cmdtransport"
	"fpgakit/ferr"
)

// DefaultTimeout bounds every send/recv call when AcceptParams.Timeout is
// unset.
const DefaultTimeout = 15 * time.Second

// Transport is a cmdtransport.CmdTransport over a serial port.
type Transport struct {
	cmdtransport.Framed

	port    serial.Port
	timeout time.Duration
}

// Accept opens p.SerialPort at p.BaudRate (default 115200 if unset).
func (t *Transport) Accept(p cmdtransport.AcceptParams) error {
	baud := p.BaudRate
	if baud == 0 {
		baud = 115200
	}
	port, err := serial.Open(p.SerialPort, &serial.Mode{BaudRate: baud})
	if err != nil {
		return ferr.Wrap(ferr.ErrConnect, "serialcmd.Accept", err, "open %s at %d baud", p.SerialPort, baud)
	}
	t.port = port
	t.timeout = p.Timeout
	if t.timeout <= 0 {
		t.timeout = DefaultTimeout
	}
	if err := port.SetReadTimeout(t.timeout); err != nil {
		_ = port.Close()
		return ferr.Wrap(ferr.ErrConnect, "serialcmd.Accept", err, "set read timeout")
	}
	t.Framed.Stream = t
	return nil
}

// Close closes the serial port. It is idempotent.
func (t *Transport) Close() error {
	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	return err
}

// SendBytes writes every byte of data, retrying partial writes.
func (t *Transport) SendBytes(data []byte) (int, error) {
	total := 0
	for total < len(data) {
		n, err := t.port.Write(data[total:])
		total += n
		if err != nil {
			return total, ferr.Wrap(ferr.ErrSendTimeout, "serialcmd.SendBytes", err, "wrote %d of %d bytes", total, len(data))
		}
		if n == 0 {
			break
		}
	}
	if total < len(data) {
		return total, ferr.Newf(ferr.ErrSendTimeout, "serialcmd.SendBytes", "wrote %d of %d bytes before the port stalled", total, len(data))
	}
	return total, nil
}

// RecvBytes reads exactly n bytes, or fails with a RecvTimeout-kind *Error.
// go.bug.st/serial returns 0 bytes with a nil error on a read timeout rather
// than a timeout-flavored error, so a zero-length read when more bytes are
// still wanted is itself treated as the timeout condition.
func (t *Transport) RecvBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	read := 0
	for read < n {
		k, err := t.port.Read(buf[read:])
		if err != nil {
			return buf[:read], ferr.Wrap(ferr.ErrConnect, "serialcmd.RecvBytes", err, "read %d of %d bytes", read, n)
		}
		if k == 0 {
			return buf[:read], ferr.Newf(ferr.ErrRecvTimeout, "serialcmd.RecvBytes", "read %d of %d bytes before timing out", read, n)
		}
		read += k
	}
	return buf, nil
}

var _ cmdtransport.CmdTransport = &Transport{}
