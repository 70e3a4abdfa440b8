// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package cmdtest

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

// TestIncrementWriteAddressing checks the bulk addressing contract: an
// increment write of 10 bytes at base 0x20 with a 4 byte register lands as
// 3 writes at consecutive addresses, the tail zero-padded.
func TestIncrementWriteAddressing(t *testing.T) {
	m := NewMock()
	data := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	if err := m.IncrementWrite(0x20, data, 4); err != nil {
		t.Fatal(err)
	}
	want := []Write{
		{0x20, [4]byte{1, 2, 3, 4}},
		{0x24, [4]byte{5, 6, 7, 8}},
		{0x28, [4]byte{9, 10, 0, 0}},
	}
	if diff := cmp.Diff(want, m.Bank.Writes); diff != "" {
		t.Fatalf("write pattern mismatch (-want +got):\n%s", diff)
	}
}

// TestLoopWriteAddressing checks that every word of a loop write hammers
// the base address.
func TestLoopWriteAddressing(t *testing.T) {
	m := NewMock()
	data := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	if err := m.LoopWrite(0x20, data, 4); err != nil {
		t.Fatal(err)
	}
	want := []Write{
		{0x20, [4]byte{1, 2, 3, 4}},
		{0x20, [4]byte{5, 6, 7, 8}},
	}
	if diff := cmp.Diff(want, m.Bank.Writes); diff != "" {
		t.Fatalf("write pattern mismatch (-want +got):\n%s", diff)
	}
}

func TestMultiWriteOrder(t *testing.T) {
	m := NewMock()
	addrs := []uint32{0x10, 0x30, 0x20}
	values := [][4]byte{{1}, {2}, {3}}
	if err := m.MultiWrite(addrs, values); err != nil {
		t.Fatal(err)
	}
	want := []Write{{0x10, [4]byte{1}}, {0x30, [4]byte{2}}, {0x20, [4]byte{3}}}
	if diff := cmp.Diff(want, m.Bank.Writes); diff != "" {
		t.Fatalf("ordered vector form not preserved (-want +got):\n%s", diff)
	}
}
