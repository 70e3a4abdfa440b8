// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package fpgakit

import (
	"errors"
	"testing"

	"fpgakit/conn/cmdtransport"
	"fpgakit/ferr"
)

func TestNewRejectsUnknownKinds(t *testing.T) {
	if _, err := New(Config{CmdKind: CmdKind(99)}); err == nil {
		t.Fatal("expected an error for an unknown CmdKind")
	}
	if _, err := New(Config{StreamKind: StreamKind(99)}); err == nil {
		t.Fatal("expected an error for an unknown StreamKind")
	}
}

func TestBulkRegWidthChecked(t *testing.T) {
	f, err := New(Config{})
	if err != nil {
		t.Fatal(err)
	}
	if err := f.BulkWrite(0x10, []byte{1, 2, 3, 4}, 5, cmdtransport.Increment); err == nil {
		t.Fatal("expected an error for a 5 byte register width")
	}
	if _, err := f.BulkRead(0x10, 4, 0, cmdtransport.Loop); err == nil {
		t.Fatal("expected an error for a zero register width")
	}
}

func TestErrorKindMatching(t *testing.T) {
	err := ferr.Newf(ErrRecvTimeout, "tcpcmd.RecvBytes", "read 3 of 16 bytes")
	if !errors.Is(err, Kind(ErrRecvTimeout)) {
		t.Fatal("errors.Is should match by kind")
	}
	if errors.Is(err, Kind(ErrSendTimeout)) {
		t.Fatal("errors.Is must not match a different kind")
	}
	var e *Error
	if !errors.As(err, &e) || !e.Timeout() {
		t.Fatal("a RecvTimeout error should report Timeout() == true")
	}
}

func TestLinkCmdWithoutTransport(t *testing.T) {
	f, err := New(Config{})
	if err != nil {
		t.Fatal(err)
	}
	if err := f.LinkCmd(); err == nil {
		t.Fatal("expected an error when no command transport is configured")
	}
	// Unlink on a never-linked facade is a no-op, not a crash.
	if err := f.UnlinkCmd(); err != nil {
		t.Fatalf("UnlinkCmd: %v", err)
	}
	if err := f.UnlinkStream(); err != nil {
		t.Fatalf("UnlinkStream: %v", err)
	}
}
