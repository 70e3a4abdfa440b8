// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package icd

import (
	"encoding/binary"
	"testing"

	"fpgakit/conn/cmdtransport"
	"fpgakit/conn/cmdtransport/cmdtest"
)

const testDoc = `{
  "param": {
    "freq": ["uint32", 1000000],
    "gain": ["uint16", 10, "x * 2"]
  },
  "command": {
    "setfreq": {
      "send": [["uint32", 1600085855, null], ["uint32", 49, null], ["uint32", 0, null], ["uint32", 0, null], "freq"],
      "recv": [["uint32", 3486502863, null], ["uint32", 49, null], ["uint32", 0, null], ["uint32", 0, null], "freq"]
    },
    "tooshort": {
      "send": [["uint32", 49, null]],
      "recv": []
    }
  },
  "sequence": {}
}`

func loadTestDoc(t *testing.T) *Document {
	t.Helper()
	doc, err := Parse([]byte(testDoc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return doc
}

// roundTripTransport is a cmdtransport.CmdTransport that records the sent
// frame and serves RecvBytes from a canned reply, letting a test check that
// decode(encode(cmd, params)) round-trips through a mock transport.
type roundTripTransport struct {
	*cmdtest.Mock
	sent  []byte
	reply []byte
}

func (r *roundTripTransport) SendBytes(data []byte) (int, error) {
	r.sent = append([]byte(nil), data...)
	return len(data), nil
}

func (r *roundTripTransport) RecvBytes(n int) ([]byte, error) {
	out := r.reply[:n]
	r.reply = r.reply[n:]
	return out, nil
}

func TestParamRoundTrip(t *testing.T) {
	doc := loadTestDoc(t)
	e := &Engine{Transport: nil, CheckRecvHead: true, doc: doc}
	if err := e.SetParam("freq", "0x100"); err != nil {
		t.Fatal(err)
	}
	v, err := e.GetParam("freq")
	if err != nil {
		t.Fatal(err)
	}
	if v.(float64) != 256 {
		t.Fatalf("got %v, want 256", v)
	}
}

// TestExecuteHeadChecked exercises the setfreq scenario: the send schema's
// four leading uint32 literals are the frame header, the engine overwrites
// serial and total-length, and the frame ends with freq's 4 packed bytes.
func TestExecuteHeadChecked(t *testing.T) {
	doc := loadTestDoc(t)
	rt := &roundTripTransport{Mock: cmdtest.NewMock()}
	e := &Engine{Transport: rt, CheckRecvHead: true, doc: doc}

	// Canned reply frame: header + freq(4 bytes) = 20 bytes total. Serial 1
	// echoes the engine's first assigned serial.
	reply := make([]byte, 20)
	binary.LittleEndian.PutUint32(reply[0:4], cmdtransport.MagicReply)
	binary.LittleEndian.PutUint32(reply[4:8], 49)
	binary.LittleEndian.PutUint32(reply[8:12], 1)
	binary.LittleEndian.PutUint32(reply[12:16], 20)
	binary.LittleEndian.PutUint32(reply[16:20], 999)
	rt.reply = reply

	if err := e.Execute("setfreq"); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	v, _ := e.GetParam("freq")
	if v.(float64) != 999 {
		t.Fatalf("freq not updated from reply: got %v", v)
	}
	if len(rt.sent) != 20 {
		t.Fatalf("expected 20 byte request frame, got %d", len(rt.sent))
	}
	h := cmdtransport.ParseHeader(rt.sent)
	if h.Magic != cmdtransport.MagicRequest || h.CommandID != 49 || h.Serial != 1 || h.Length != 20 {
		t.Fatalf("request header = %+v", h)
	}
	if got := binary.LittleEndian.Uint32(rt.sent[16:20]); got != 1000000 {
		t.Fatalf("freq packed as %d, want 1000000", got)
	}
}

func TestExecuteLengthSummed(t *testing.T) {
	doc := loadTestDoc(t)
	rt := &roundTripTransport{Mock: cmdtest.NewMock()}
	e := &Engine{Transport: rt, CheckRecvHead: false, doc: doc}

	// Unchecked mode reads the recv schema's summed size (20 bytes, header
	// literals included) with no header validation at all.
	reply := make([]byte, 20)
	binary.LittleEndian.PutUint32(reply[16:20], 777)
	rt.reply = reply

	if err := e.Execute("setfreq"); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	v, _ := e.GetParam("freq")
	if v.(float64) != 777 {
		t.Fatalf("freq = %v, want 777", v)
	}
}

func TestExecuteSerialMismatch(t *testing.T) {
	doc := loadTestDoc(t)
	rt := &roundTripTransport{Mock: cmdtest.NewMock()}
	e := &Engine{Transport: rt, CheckRecvHead: true, doc: doc}

	reply := make([]byte, 20)
	binary.LittleEndian.PutUint32(reply[0:4], cmdtransport.MagicReply)
	binary.LittleEndian.PutUint32(reply[4:8], 49)
	binary.LittleEndian.PutUint32(reply[8:12], 42) // wrong echo
	binary.LittleEndian.PutUint32(reply[12:16], 20)
	rt.reply = reply

	if err := e.Execute("setfreq"); err == nil {
		t.Fatal("expected SerialMismatch error")
	}
	// The failed execute must leave the parameter store untouched.
	v, _ := e.GetParam("freq")
	if v.(float64) != 1000000 {
		t.Fatalf("freq = %v, want the original 1000000", v)
	}
}

func TestExecuteShorterThanHeader(t *testing.T) {
	doc := loadTestDoc(t)
	rt := &roundTripTransport{Mock: cmdtest.NewMock()}
	e := &Engine{Transport: rt, CheckRecvHead: true, doc: doc}
	if err := e.Execute("tooshort"); err == nil {
		t.Fatal("expected a malformed-command error for a 4 byte frame")
	}
}

// TestPerCommandMode checks that a command flagged "mode": "sum" parses
// its reply length-summed even when the engine default is head-checked.
func TestPerCommandMode(t *testing.T) {
	doc, err := Parse([]byte(`{
  "param": {"freq": ["uint32", 0]},
  "command": {
    "poll": {
      "send": [["uint32", 1600085855, null], ["uint32", 7, null], ["uint32", 0, null], ["uint32", 0, null]],
      "recv": [["uint32", 0, null], ["uint32", 0, null], ["uint32", 0, null], ["uint32", 0, null], "freq"],
      "mode": "sum"
    }
  }
}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	rt := &roundTripTransport{Mock: cmdtest.NewMock()}
	e := &Engine{Transport: rt, CheckRecvHead: true, doc: doc}

	reply := make([]byte, 20)
	binary.LittleEndian.PutUint32(reply[16:20], 123)
	rt.reply = reply

	if err := e.Execute("poll"); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	v, _ := e.GetParam("freq")
	if v.(float64) != 123 {
		t.Fatalf("freq = %v, want 123", v)
	}
}

func TestBadCommandMode(t *testing.T) {
	_, err := Parse([]byte(`{
  "command": {"x": {"send": [], "recv": [], "mode": "sideways"}}
}`))
	if err == nil {
		t.Fatal("expected SchemaError for an unknown mode")
	}
}

func TestExprScaling(t *testing.T) {
	doc := loadTestDoc(t)
	e := &Engine{doc: doc}
	b, err := e.serializeElem(Elem{Kind: elemParamRef, Name: "gain"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	got := binary.LittleEndian.Uint16(b)
	if got != 20 {
		t.Fatalf("gain scaling: got %d, want 20", got)
	}
}

func TestDisallowedExpression(t *testing.T) {
	_, err := compileExpr(`x > 1 ? 1 : 0`)
	if err == nil {
		t.Fatal("expected SchemaError for disallowed ternary expression")
	}
}

func TestMalformedICD(t *testing.T) {
	if _, err := Parse([]byte(`{"param": {"x": ["uint32"]}}`)); err == nil {
		t.Fatal("expected SchemaError for a param missing its value")
	}
}
