// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ferr

import (
	"errors"
	"io"
	"testing"
)

func TestKindString(t *testing.T) {
	if got := ErrRecvTimeout.String(); got != "RecvTimeout" {
		t.Fatalf("got %q", got)
	}
	if got := ErrKind(0).String(); got != "UnknownError" {
		t.Fatalf("got %q", got)
	}
}

func TestWrapUnwrap(t *testing.T) {
	err := Wrap(ErrConnect, "tcpcmd.Accept", io.EOF, "dial 10.0.0.2:5001")
	if !errors.Is(err, io.EOF) {
		t.Fatal("wrapped cause should be reachable via errors.Is")
	}
	if !errors.Is(err, Kind(ErrConnect)) {
		t.Fatal("kind sentinel should match")
	}
	if errors.Is(err, Kind(ErrRecvTimeout)) {
		t.Fatal("kind sentinel must not match a different kind")
	}
}

func TestTimeout(t *testing.T) {
	for _, k := range []ErrKind{ErrSendTimeout, ErrRecvTimeout, ErrDmaTimeout} {
		if !Newf(k, "op", "x").Timeout() {
			t.Errorf("%v should report Timeout()", k)
		}
	}
	if Newf(ErrConnect, "op", "x").Timeout() {
		t.Error("ErrConnect must not report Timeout()")
	}
}
