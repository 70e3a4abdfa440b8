// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package vchnl

import (
	"container/heap"
	"errors"
	"sync"
	"testing"
	"time"

	"fpgakit/conn/streamtransport"
	"fpgakit/conn/streamtransport/streamtest"
	"fpgakit/conn/vchnl/vchnltest"
)

func TestTieBreakFIFO(t *testing.T) {
	stream := streamtest.NewMock()
	reg := vchnltest.NewReg(0x10, 0x14)
	m, err := New(Config{Mode: Virtual, NumChannels: 8, ParamAddr: 0x10, ParamWrAddr: 0x18, StatusAddr: 0x14, Reg: reg, Stream: stream})
	if err != nil {
		t.Fatal(err)
	}
	defer m.Cancel()

	var wg sync.WaitGroup
	order := make(chan int, 2)
	// Enqueue channel 2 first, then channel 5, both at priority 0, before
	// the scheduler has a chance to run either: FIFO breaks the tie.
	m.mu.Lock()
	r2 := &request{chnl: 2, counter: 0, seq: m.nextSeq, ready: make(chan struct{}), done: make(chan struct{})}
	m.nextSeq++
	r5 := &request{chnl: 5, counter: 0, seq: m.nextSeq, ready: make(chan struct{}), done: make(chan struct{})}
	m.nextSeq++
	heap.Push(&m.queue, r2)
	heap.Push(&m.queue, r5)
	m.mu.Unlock()

	wg.Add(2)
	go func() {
		defer wg.Done()
		<-r2.ready
		order <- 2
		close(r2.done)
	}()
	go func() {
		defer wg.Done()
		<-r5.ready
		order <- 5
		close(r5.done)
	}()
	m.mu.Lock()
	m.cond.Broadcast()
	m.mu.Unlock()
	wg.Wait()
	close(order)

	first := <-order
	if first != 2 {
		t.Fatalf("expected channel 2 to win the FIFO tie-break, got %d", first)
	}
}

// TestCounterOrdering checks the priority key proper: a channel that has
// already run (counter 1) loses to one that hasn't (counter 0), regardless
// of enqueue order.
func TestCounterOrdering(t *testing.T) {
	var q chanQueue
	heap.Push(&q, &request{chnl: 2, counter: 1, seq: 0})
	heap.Push(&q, &request{chnl: 5, counter: 0, seq: 1})
	if got := heap.Pop(&q).(*request).chnl; got != 5 {
		t.Fatalf("expected channel 5 (lower counter) to be served first, got %d", got)
	}
	if got := heap.Pop(&q).(*request).chnl; got != 2 {
		t.Fatalf("expected channel 2 second, got %d", got)
	}
}

func TestStreamReadVirtualModeAdvancesCounter(t *testing.T) {
	stream := streamtest.NewMock()
	reg := vchnltest.NewReg(0x10, 0x14)
	m, err := New(Config{Mode: Virtual, NumChannels: 8, ParamAddr: 0x10, ParamWrAddr: 0x18, StatusAddr: 0x14, Reg: reg, Stream: stream})
	if err != nil {
		t.Fatal(err)
	}
	defer m.Cancel()

	h, err := stream.AllocBuffer(4, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.StreamRead(3, h, 4, 0, nil, 1); err != nil {
		t.Fatalf("StreamRead: %v", err)
	}
	m.mu.Lock()
	got := m.counters[3]
	m.mu.Unlock()
	if got != 1 {
		t.Fatalf("counter[3] = %d, want 1", got)
	}
}

// TestConcurrentStreamReads runs several channels at once: every one must
// complete and every counter must advance by exactly one per served request.
func TestConcurrentStreamReads(t *testing.T) {
	stream := streamtest.NewMock()
	reg := vchnltest.NewReg(0x10, 0x14)
	m, err := New(Config{Mode: Virtual, NumChannels: 8, ParamAddr: 0x10, ParamWrAddr: 0x18, StatusAddr: 0x14, Reg: reg, Stream: stream})
	if err != nil {
		t.Fatal(err)
	}
	defer m.Cancel()

	var wg sync.WaitGroup
	for chnl := 0; chnl < 4; chnl++ {
		h, err := stream.AllocBuffer(4, nil)
		if err != nil {
			t.Fatal(err)
		}
		wg.Add(1)
		go func(chnl int, h streamtransport.Handle) {
			defer wg.Done()
			if _, err := m.StreamRead(chnl, h, 4, 0, nil, 1); err != nil {
				t.Errorf("StreamRead(%d): %v", chnl, err)
			}
		}(chnl, h)
	}
	wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	for chnl := 0; chnl < 4; chnl++ {
		if m.counters[chnl] != 1 {
			t.Errorf("counter[%d] = %d, want 1", chnl, m.counters[chnl])
		}
	}
}

// TestOpenFailureSkipsDeviceProgramming checks the ordering contract: when
// the DMA open fails, the parameter registers must not be touched and the
// channel counter must not advance.
func TestOpenFailureSkipsDeviceProgramming(t *testing.T) {
	stream := streamtest.NewMock()
	stream.FailOpen = errors.New("injected open failure")
	reg := vchnltest.NewReg(0x10, 0x14)
	m, err := New(Config{Mode: Virtual, NumChannels: 8, ParamAddr: 0x10, ParamWrAddr: 0x18, StatusAddr: 0x14, Reg: reg, Stream: stream})
	if err != nil {
		t.Fatal(err)
	}
	defer m.Cancel()

	h, err := stream.AllocBuffer(4, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.StreamRead(3, h, 4, 0, nil, 1); err == nil {
		t.Fatal("expected the open failure to surface")
	}
	if len(reg.Writes) != 0 {
		t.Fatalf("device was programmed for a DMA that never started: %v", reg.Writes)
	}
	m.mu.Lock()
	got := m.counters[3]
	m.mu.Unlock()
	if got != 0 {
		t.Fatalf("counter[3] = %d, want 0", got)
	}
}

func TestRealModePassesThrough(t *testing.T) {
	stream := streamtest.NewMock()
	m, err := New(Config{Mode: Real, Stream: stream})
	if err != nil {
		t.Fatal(err)
	}
	h, err := stream.AllocBuffer(4, nil)
	if err != nil {
		t.Fatal(err)
	}
	n, err := m.StreamRead(0, h, 4, 0, nil, time.Second.Seconds())
	if err != nil {
		t.Fatalf("StreamRead: %v", err)
	}
	if n != 4 {
		t.Fatalf("n = %d, want 4", n)
	}
}

func TestVirtualModeRequiresRegisterIO(t *testing.T) {
	if _, err := New(Config{Mode: Virtual, Stream: streamtest.NewMock()}); err == nil {
		t.Fatal("expected IncompatibleTransport error when Reg is nil")
	}
}
