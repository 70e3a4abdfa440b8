// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package tcpstream

import (
	"net"
	"testing"

	"fpgakit/conn/streamtransport"
	"fpgakit/ferr"
)

func TestDerivePort(t *testing.T) {
	cases := []struct {
		ip   string
		want int
	}{
		{"10.0.0.23", 2003},
		{"192.168.1.7", 7},
		{"not-an-ip", DefaultPort},
		{"::1", DefaultPort},
		{"", DefaultPort}, // malformed/short input -> DefaultPort
	}
	for _, c := range cases {
		if got := DerivePort(c.ip); got != c.want {
			t.Errorf("DerivePort(%q) = %d, want %d", c.ip, got, c.want)
		}
	}
}

func TestReceiveFillsBuffer(t *testing.T) {
	device, host := net.Pipe()
	defer device.Close()
	tr := &Transport{conn: host, bufs: map[streamtransport.Handle]*buffer{}}
	defer tr.Close()

	h, err := tr.AllocBuffer(8, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := tr.OpenRecv(0, h, 8, 0); err != nil {
		t.Fatalf("OpenRecv: %v", err)
	}
	payload := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	go func() {
		_, _ = device.Write(payload)
	}()
	n, err := tr.WaitStream(h, 5)
	if err != nil {
		t.Fatalf("WaitStream: %v", err)
	}
	if n != 8 {
		t.Fatalf("n = %d, want 8", n)
	}
	words, err := tr.GetBuffer(h, 8)
	if err != nil {
		t.Fatal(err)
	}
	if words[0] != 0x04030201 || words[1] != 0x08070605 {
		t.Fatalf("buffer = %#x", words)
	}
	if err := tr.FreeBuffer(h); err != nil {
		t.Fatalf("FreeBuffer: %v", err)
	}
}

func TestBreakStreamReturnsPartial(t *testing.T) {
	device, host := net.Pipe()
	defer device.Close()
	tr := &Transport{conn: host, bufs: map[streamtransport.Handle]*buffer{}}
	defer tr.Close()

	h, err := tr.AllocBuffer(8, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := tr.OpenRecv(0, h, 8, 0); err != nil {
		t.Fatalf("OpenRecv: %v", err)
	}
	// Deliver half the requested bytes, then break.
	if _, err := device.Write([]byte{1, 2, 3, 4}); err != nil {
		t.Fatal(err)
	}
	if err := tr.BreakStream(h); err != nil {
		t.Fatalf("BreakStream: %v", err)
	}
	n, err := tr.WaitStream(h, 1)
	if err != nil {
		t.Fatalf("WaitStream after break: %v", err)
	}
	if n != 4 {
		t.Fatalf("partial byte count = %d, want 4", n)
	}
}

func TestOpenSendUnsupported(t *testing.T) {
	tr := &Transport{}
	err := tr.OpenSend(0, 1, 4, 0)
	if err == nil {
		t.Fatal("expected an Unsupported error")
	}
	fe, ok := err.(*ferr.Error)
	if !ok || fe.Kind != ferr.ErrUnsupported {
		t.Fatalf("got %v, want an Unsupported-kind error", err)
	}
}
