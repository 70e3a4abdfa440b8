// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package cmdtest

import (
	"errors"
	"sync"
)

// Pipe implements cmdtransport.ByteStream without any real socket: it
// records every SendBytes call and serves RecvBytes from a queue of canned
// reply byte slices, letting tests drive cmdtransport.Framed with exact
// wire-level fixtures.
type Pipe struct {
	mu    sync.Mutex
	Sent  [][]byte
	Reply [][]byte // consumed FIFO by RecvBytes
	buf   []byte
}

// NewPipe returns a Pipe with no queued replies.
func NewPipe() *Pipe { return &Pipe{} }

// QueueReply appends a chunk of bytes to be returned by future RecvBytes
// calls, in order, regardless of how RecvBytes happens to split them.
func (p *Pipe) QueueReply(b []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Reply = append(p.Reply, b)
}

// SendBytes implements cmdtransport.ByteStream.
func (p *Pipe) SendBytes(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	p.Sent = append(p.Sent, cp)
	return len(data), nil
}

// RecvBytes implements cmdtransport.ByteStream, draining queued reply
// chunks into a single rolling buffer so boundary-insensitive reads work.
func (p *Pipe) RecvBytes(n int) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.buf) < n {
		if len(p.Reply) == 0 {
			return nil, errors.New("cmdtest: pipe starved: no more queued reply bytes")
		}
		p.buf = append(p.buf, p.Reply[0]...)
		p.Reply = p.Reply[1:]
	}
	out := p.buf[:n]
	p.buf = p.buf[n:]
	return out, nil
}
