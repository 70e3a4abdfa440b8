// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package xdma

import "testing"

// stubLibrary swaps the process-wide native binding for an in-memory fake
// so the refcount table can be exercised without the vendor driver
// installed.
func stubLibrary(t *testing.T, closed *int) {
	t.Helper()
	mu.Lock()
	orig := lib
	lib = &library{
		boardOpen:  func(index int32) uintptr { return uintptr(index) + 1 },
		boardClose: func(h uintptr) { *closed++ },
	}
	mu.Unlock()
	t.Cleanup(func() {
		mu.Lock()
		lib = orig
		mu.Unlock()
	})
}

func TestBoardRefcount(t *testing.T) {
	closed := 0
	stubLibrary(t, &closed)

	b1, err := Open("", 3)
	if err != nil {
		t.Fatal(err)
	}
	b2, err := Open("", 3)
	if err != nil {
		t.Fatal(err)
	}
	if b1.b != b2.b {
		t.Fatal("two Opens of the same index must share one board handle")
	}
	if err := b1.Close(); err != nil {
		t.Fatal(err)
	}
	if closed != 0 {
		t.Fatal("native close must wait for the last reference")
	}
	if err := b2.Close(); err != nil {
		t.Fatal(err)
	}
	if closed != 1 {
		t.Fatalf("native close called %d times, want exactly once", closed)
	}
	mu.Lock()
	_, still := boards[3]
	mu.Unlock()
	if still {
		t.Fatal("board table entry must be removed at refcount zero")
	}
}

func TestOpenDistinctBoards(t *testing.T) {
	closed := 0
	stubLibrary(t, &closed)

	b1, err := Open("", 0)
	if err != nil {
		t.Fatal(err)
	}
	b2, err := Open("", 1)
	if err != nil {
		t.Fatal(err)
	}
	if b1.b == b2.b {
		t.Fatal("distinct indices must not share a board handle")
	}
	_ = b1.Close()
	_ = b2.Close()
	if closed != 2 {
		t.Fatalf("closed %d boards, want 2", closed)
	}
}
