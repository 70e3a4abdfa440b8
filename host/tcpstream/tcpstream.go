// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package tcpstream implements the TCP data-plane transport: a host-side TCP
// server bound to a port derived from the device IP, accepting a single
// device connection and filling pinned buffers with a background receiver
// goroutine. Downstream transfer (open_send) is not supported.
package tcpstream

import (
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"fpgakit/conn/streamtransport"
	"fpgakit/ferr"
)

// DefaultPort is used when DerivePort can't make sense of the device IP.
const DefaultPort = 6001

// DerivePort computes the host-side listen port from the device IP's last
// octet: tens digit, then "00", then units digit, forming a 4 digit number;
// any non-IPv4 or malformed input falls back to DefaultPort.
func DerivePort(ip string) int {
	addr := net.ParseIP(ip)
	if addr == nil {
		return DefaultPort
	}
	v4 := addr.To4()
	if v4 == nil {
		return DefaultPort
	}
	last := int(v4[3])
	tens, units := (last/10)%10, last%10
	port, err := strconv.Atoi(fmt.Sprintf("%d00%d", tens, units))
	if err != nil {
		return DefaultPort
	}
	return port
}

type buffer struct {
	data     []byte
	inUse    bool
	stop     chan struct{}
	done     chan struct{}
	usedSize int
	err      error
}

// Transport implements streamtransport.StreamTransport over a TCP listener.
type Transport struct {
	listener net.Listener
	conn     net.Conn

	mu   sync.Mutex
	next streamtransport.Handle
	bufs map[streamtransport.Handle]*buffer
}

// Listen binds the server to the port derived from ip (or tcpPort, if
// non-zero) and accepts the single device connection. It blocks until the
// device dials in or the accept fails.
func (t *Transport) Listen(ip string, tcpPort int) error {
	port := tcpPort
	if port == 0 {
		port = DerivePort(ip)
	}
	l, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return ferr.Wrap(ferr.ErrConnect, "tcpstream.Listen", err, "listen on port %d", port)
	}
	t.listener = l
	t.bufs = map[streamtransport.Handle]*buffer{}
	conn, err := l.Accept()
	if err != nil {
		return ferr.Wrap(ferr.ErrConnect, "tcpstream.Listen", err, "accept device connection")
	}
	t.conn = conn
	return nil
}

// Close shuts down the listener and the accepted device connection.
func (t *Transport) Close() error {
	if t.conn != nil {
		_ = t.conn.Close()
	}
	if t.listener != nil {
		return t.listener.Close()
	}
	return nil
}

func (t *Transport) AllocBuffer(byteLen int, external []byte) (streamtransport.Handle, error) {
	if byteLen <= 0 || byteLen%4 != 0 {
		return 0, ferr.Newf(ferr.ErrSchema, "tcpstream.AllocBuffer", "byteLen %d not divisible by 4", byteLen)
	}
	b := &buffer{}
	if external != nil {
		b.data = external
	} else {
		b.data = make([]byte, byteLen)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.next++
	h := t.next
	t.bufs[h] = b
	return h, nil
}

func (t *Transport) FreeBuffer(h streamtransport.Handle) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.bufs[h]
	if !ok {
		return ferr.Newf(ferr.ErrSchema, "tcpstream.FreeBuffer", "unknown handle %d", h)
	}
	if b.inUse {
		return ferr.Newf(ferr.ErrBufferBusy, "tcpstream.FreeBuffer", "handle %d has an outstanding receive", h)
	}
	delete(t.bufs, h)
	return nil
}

func (t *Transport) GetBuffer(h streamtransport.Handle, byteLen int) ([]uint32, error) {
	t.mu.Lock()
	b, ok := t.bufs[h]
	t.mu.Unlock()
	if !ok {
		return nil, ferr.Newf(ferr.ErrSchema, "tcpstream.GetBuffer", "unknown handle %d", h)
	}
	n := byteLen / 4
	out := make([]uint32, n)
	for i := 0; i < n && i*4+4 <= len(b.data); i++ {
		out[i] = uint32(b.data[i*4]) | uint32(b.data[i*4+1])<<8 | uint32(b.data[i*4+2])<<16 | uint32(b.data[i*4+3])<<24
	}
	return out, nil
}

// OpenRecv spawns a background receiver goroutine that fills the buffer
// from the device connection, polling a stop flag between reads.
func (t *Transport) OpenRecv(chnl int, h streamtransport.Handle, byteLen, offset int) error {
	t.mu.Lock()
	b, ok := t.bufs[h]
	if !ok {
		t.mu.Unlock()
		return ferr.Newf(ferr.ErrSchema, "tcpstream.OpenRecv", "unknown handle %d", h)
	}
	if b.inUse {
		t.mu.Unlock()
		return ferr.Newf(ferr.ErrBufferBusy, "tcpstream.OpenRecv", "handle %d already has an outstanding receive", h)
	}
	b.inUse = true
	b.usedSize = 0
	b.err = nil
	b.stop = make(chan struct{})
	b.done = make(chan struct{})
	t.mu.Unlock()

	go t.receive(b, byteLen, offset)
	return nil
}

func (t *Transport) receive(b *buffer, byteLen, offset int) {
	defer close(b.done)
	used := 0
	for used < byteLen {
		select {
		case <-b.stop:
			return
		default:
		}
		_ = t.conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		n, err := t.conn.Read(b.data[offset+used : offset+byteLen])
		used += n
		t.mu.Lock()
		b.usedSize = used
		t.mu.Unlock()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			t.mu.Lock()
			b.err = ferr.Wrap(ferr.ErrConnect, "tcpstream.receive", err, "read from device connection")
			t.mu.Unlock()
			return
		}
	}
}

// OpenSend is not supported: TCP-stream is receive-only.
func (t *Transport) OpenSend(chnl int, h streamtransport.Handle, byteLen, offset int) error {
	return ferr.Newf(ferr.ErrUnsupported, "tcpstream.OpenSend", "TCP-stream does not support the send direction")
}

// WaitStream blocks until the background receiver finishes or timeoutSec
// elapses, returning the byte count delivered so far.
func (t *Transport) WaitStream(h streamtransport.Handle, timeoutSec float64) (int, error) {
	t.mu.Lock()
	b, ok := t.bufs[h]
	t.mu.Unlock()
	if !ok {
		return 0, ferr.Newf(ferr.ErrSchema, "tcpstream.WaitStream", "unknown handle %d", h)
	}
	var timer <-chan time.Time
	if timeoutSec > 0 {
		tm := time.NewTimer(time.Duration(timeoutSec * float64(time.Second)))
		defer tm.Stop()
		timer = tm.C
	}
	select {
	case <-b.done:
		t.mu.Lock()
		b.inUse = false
		n, err := b.usedSize, b.err
		t.mu.Unlock()
		return n, err
	case <-timer:
		t.mu.Lock()
		n := b.usedSize
		t.mu.Unlock()
		return n, ferr.Newf(ferr.ErrRecvTimeout, "tcpstream.WaitStream", "receive on handle %d timed out after %d of its byte target", h, n)
	}
}

// BreakStream signals the receiver's stop flag and waits for it to exit.
func (t *Transport) BreakStream(h streamtransport.Handle) error {
	t.mu.Lock()
	b, ok := t.bufs[h]
	t.mu.Unlock()
	if !ok {
		return nil
	}
	if b.stop != nil {
		close(b.stop)
	}
	if b.done != nil {
		<-b.done
	}
	t.mu.Lock()
	b.inUse = false
	t.mu.Unlock()
	return nil
}

var _ streamtransport.StreamTransport = &Transport{}
