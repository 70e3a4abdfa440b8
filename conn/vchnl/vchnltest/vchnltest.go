// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package vchnltest implements a fake vchnl.RegisterIO for scheduler tests.
package vchnltest

import (
	"sync"

	"fpgakit/ferr"
)

// Write records one RegisterIO.Write call.
type Write struct {
	Addr  uint32
	Value [4]byte
}

// Reg is an in-memory RegisterIO that always reports STATUS_ADDR as
// "no residue, source channel matches the last programmed channel", so
// tests can focus on scheduling order rather than device emulation.
type Reg struct {
	mu         sync.Mutex
	Writes     []Write
	StatusAddr uint32
	ParamAddr  uint32
	status     [4]byte
}

// NewReg returns a Reg wired to the given ParamAddr/StatusAddr.
func NewReg(paramAddr, statusAddr uint32) *Reg {
	return &Reg{ParamAddr: paramAddr, StatusAddr: statusAddr}
}

func (r *Reg) Write(addr uint32, value [4]byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Writes = append(r.Writes, Write{addr, value})
	if addr == r.ParamAddr {
		word := uint32(value[0]) | uint32(value[1])<<8 | uint32(value[2])<<16 | uint32(value[3])<<24
		srcChnl := (word >> 27) & 0x7
		status := srcChnl << 27
		r.status = [4]byte{byte(status), byte(status >> 8), byte(status >> 16), byte(status >> 24)}
	}
	return nil
}

func (r *Reg) Read(addr uint32) ([4]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if addr == r.StatusAddr {
		return r.status, nil
	}
	return [4]byte{}, ferr.Newf(ferr.ErrSchema, "vchnltest.Read", "unknown address 0x%x", addr)
}
