// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package cmdtransport_test

import (
	"testing"

	. "fpgakit/conn/cmdtransport"
	"fpgakit/conn/cmdtransport/cmdtest"
	"fpgakit/ferr"
)

// TestWriteOK exercises a plain register write whose reply carries
// status 0.
func TestWriteOK(t *testing.T) {
	p := cmdtest.NewPipe()
	// Reply: magic(CF..) | echoed cmd id | echoed serial | length=0x14 | status=0
	p.QueueReply([]byte{
		0xCF, 0xCF, 0xCF, 0xCF,
		0x00, 0x10, 0x00, 0x31,
		0x01, 0x00, 0x00, 0x00,
		0x14, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
	})
	f := &Framed{Stream: p}
	if err := f.Write(0x10, [4]byte{0, 0, 0, 0}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if len(p.Sent) != 1 {
		t.Fatalf("expected 1 frame sent, got %d", len(p.Sent))
	}
	want := []byte{
		0x5F, 0x5F, 0x5F, 0x5F,
		0x00, 0x10, 0x00, 0x31,
		0x01, 0x00, 0x00, 0x00,
		0x18, 0x00, 0x00, 0x00,
		0x10, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
	}
	if string(p.Sent[0]) != string(want) {
		t.Fatalf("frame mismatch:\ngot  % x\nwant % x", p.Sent[0], want)
	}
}

// TestReadStatusError checks that a non-zero status word surfaces as a
// CommandError.
func TestReadStatusError(t *testing.T) {
	p := cmdtest.NewPipe()
	p.QueueReply([]byte{
		0xCF, 0xCF, 0xCF, 0xCF,
		0x01, 0x10, 0x00, 0x31,
		0x01, 0x00, 0x00, 0x00,
		0x14, 0x00, 0x00, 0x00,
		0x01, 0x00, 0x00, 0x00,
	})
	f := &Framed{Stream: p}
	if _, err := f.Read(0x10); err == nil {
		t.Fatal("expected CommandError, got nil")
	} else if e, ok := err.(*ferr.Error); !ok || e.Kind != ferr.ErrCommand {
		t.Fatalf("expected ErrCommand, got %v", err)
	}
}

// TestIncrementRead reads 10 bytes at base 0x20 with reg width 4, expecting
// 3 frames at 0x20/0x24/0x28 and a result truncated to 10 bytes.
func TestIncrementRead(t *testing.T) {
	p := cmdtest.NewPipe()
	cmdID := CmdRegIncrementRead
	for i := 0; i < 3; i++ {
		hdr := []byte{
			0xCF, 0xCF, 0xCF, 0xCF,
			byte(cmdID), byte(cmdID >> 8), byte(cmdID >> 16), byte(cmdID >> 24),
			byte(i + 1), 0, 0, 0,
			0x18, 0x00, 0x00, 0x00,
			0x00, 0x00, 0x00, 0x00,
			byte(i), byte(i), byte(i), byte(i),
		}
		p.QueueReply(hdr)
	}
	f := &Framed{Stream: p}
	data, err := f.IncrementRead(0x20, 10, 4)
	if err != nil {
		t.Fatalf("IncrementRead: %v", err)
	}
	if len(data) != 10 {
		t.Fatalf("expected 10 bytes, got %d", len(data))
	}
	if len(p.Sent) != 3 {
		t.Fatalf("expected 3 frames sent, got %d", len(p.Sent))
	}
	for i, want := range []uint32{0x20, 0x24, 0x28} {
		got := ParseHeader(p.Sent[i][:HeaderLen])
		body := p.Sent[i][HeaderLen:]
		_ = got
		addr := uint32(body[0]) | uint32(body[1])<<8 | uint32(body[2])<<16 | uint32(body[3])<<24
		if addr != want {
			t.Fatalf("frame %d addressed 0x%x, want 0x%x", i, addr, want)
		}
	}
}
