// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package tcpcmd implements the TCP command transport: the virtual-register
// mechanism in conn/cmdtransport.Framed, carried over a plain net.Conn.
package tcpcmd

import (
	"fmt"
	"net"
	"time"

	"fpgakit/conn/cmdtransport"
	"fpgakit/ferr"
)

// DefaultTimeout bounds every send/recv call when AcceptParams.Timeout is
// unset.
const DefaultTimeout = 15 * time.Second

// Transport is a cmdtransport.CmdTransport over a TCP connection.
type Transport struct {
	cmdtransport.Framed

	conn    net.Conn
	timeout time.Duration
}

// Accept dials p.IP:p.TCPPort.
func (t *Transport) Accept(p cmdtransport.AcceptParams) error {
	t.timeout = p.Timeout
	if t.timeout <= 0 {
		t.timeout = DefaultTimeout
	}
	addr := fmt.Sprintf("%s:%d", p.IP, p.TCPPort)
	conn, err := net.DialTimeout("tcp", addr, t.timeout)
	if err != nil {
		return ferr.Wrap(ferr.ErrConnect, "tcpcmd.Accept", err, "dial %s", addr)
	}
	t.conn = conn
	t.Framed.Stream = t
	return nil
}

// Close closes the underlying connection. It is idempotent.
func (t *Transport) Close() error {
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}

// SendBytes writes every byte of data, transparently retrying partial
// writes until the per-call timeout expires.
func (t *Transport) SendBytes(data []byte) (int, error) {
	if t.timeout > 0 {
		_ = t.conn.SetWriteDeadline(time.Now().Add(t.timeout))
	}
	total := 0
	for total < len(data) {
		n, err := t.conn.Write(data[total:])
		total += n
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return total, ferr.Wrap(ferr.ErrSendTimeout, "tcpcmd.SendBytes", err, "wrote %d of %d bytes", total, len(data))
			}
			return total, ferr.Wrap(ferr.ErrConnect, "tcpcmd.SendBytes", err, "wrote %d of %d bytes", total, len(data))
		}
	}
	return total, nil
}

// RecvBytes reads exactly n bytes, or fails with a RecvTimeout-kind *Error.
func (t *Transport) RecvBytes(n int) ([]byte, error) {
	if t.timeout > 0 {
		_ = t.conn.SetReadDeadline(time.Now().Add(t.timeout))
	}
	buf := make([]byte, n)
	read := 0
	for read < n {
		k, err := t.conn.Read(buf[read:])
		read += k
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return buf[:read], ferr.Wrap(ferr.ErrRecvTimeout, "tcpcmd.RecvBytes", err, "read %d of %d bytes", read, n)
			}
			return buf[:read], ferr.Wrap(ferr.ErrConnect, "tcpcmd.RecvBytes", err, "read %d of %d bytes", read, n)
		}
	}
	return buf, nil
}

var _ cmdtransport.CmdTransport = &Transport{}
