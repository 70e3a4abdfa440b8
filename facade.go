// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package fpgakit is a host-side FPGA command and streaming toolkit.
//
// It exposes a single front-end, Facade, that holds one command transport,
// one stream transport, one ICD command engine and one virtual-channel
// multiplexer, and forwards typed calls to whichever of them the call
// belongs to.
//
// → conn/ contains the transport contracts (CmdTransport, StreamTransport),
// the ICD command engine and the virtual-channel multiplexer, plus their
// *test mock packages.
//
// → host/ contains the concrete transports: tcpcmd, serialcmd and pciecmd on
// the command plane, tcpstream and pciestream on the data plane, and xdma,
// the native driver binding they share.
//
// → cmd/ contains executables that drive a Facade directly from the command
// line.
//
// There is no driver registry and no runtime discovery: the transports are
// explicitly selected through Config.
package fpgakit

import (
	"io/ioutil"
	"log"
	"time"

	"fpgakit/conn/cmdtransport"
	"fpgakit/conn/icd"
	"fpgakit/conn/streamtransport"
	"fpgakit/conn/vchnl"
	"fpgakit/ferr"
	"fpgakit/host/pciecmd"
	"fpgakit/host/pciestream"
	"fpgakit/host/serialcmd"
	"fpgakit/host/tcpcmd"
	"fpgakit/host/tcpstream"
)

// CmdKind and StreamKind select which concrete transport a Config binds.
type CmdKind int

const (
	CmdNone CmdKind = iota
	CmdTCP
	CmdSerial
	CmdPCIe
)

type StreamKind int

const (
	StreamNone StreamKind = iota
	StreamTCP
	StreamPCIe
)

// Config carries every field the facade's Link* methods need to open the
// command and stream transports and configure the channel multiplexer.
type Config struct {
	CmdKind    CmdKind
	StreamKind StreamKind

	CmdIP         string
	CmdTCPPort    int
	CmdSerialPort string
	CmdBaudRate   int
	CmdBoard      int
	CmdSentBase   uint32
	CmdRecvBase   uint32
	CmdIRQBase    uint32
	CmdSentDown   uint32
	CmdTimeout    time.Duration

	StreamIP      string
	StreamTCPPort int
	StreamBoard   int

	// ICDPath points at the ICD JSON document; empty uses BundledICDPath.
	ICDPath string
	// DisableRecvHeadCheck selects length-summed reply parsing instead of
	// the default head-checked mode (check_recv_head off).
	DisableRecvHeadCheck bool

	// StreamMode selects Real or Virtual channel multiplexing.
	StreamMode vchnl.Mode
	// VChnl carries the Virtual-mode register addresses; ignored in Real
	// mode. Reg/Stream are filled in by LinkStream, not the caller.
	VChnl vchnl.Config

	// Logger receives connect/disconnect notices. A nil Logger discards
	// everything.
	Logger *log.Logger
}

func (c *Config) logger() *log.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return log.New(ioutil.Discard, "", 0)
}

// Facade is the single front-end object a caller uses: it holds one
// CmdTransport, one StreamTransport, one ICD engine and one channel
// multiplexer, sequences connect/disconnect, and forwards typed calls.
type Facade struct {
	cfg Config

	cmd    cmdtransport.CmdTransport
	stream streamtransport.StreamTransport
	mux    *vchnl.Multiplexer
	engine *icd.Engine
}

// New returns a Facade for cfg. Transports are constructed but not opened;
// call LinkCmd/LinkStream to accept connections.
func New(cfg Config) (*Facade, error) {
	f := &Facade{cfg: cfg}
	switch cfg.CmdKind {
	case CmdTCP:
		f.cmd = &tcpcmd.Transport{}
	case CmdSerial:
		f.cmd = &serialcmd.Transport{}
	case CmdPCIe:
		f.cmd = &pciecmd.Transport{}
	case CmdNone:
	default:
		return nil, ferr.Newf(ferr.ErrSchema, "fpgakit.New", "unknown CmdKind %d", cfg.CmdKind)
	}
	switch cfg.StreamKind {
	case StreamTCP:
		f.stream = &tcpstream.Transport{}
	case StreamPCIe:
		f.stream = &pciestream.Transport{}
	case StreamNone:
	default:
		return nil, ferr.Newf(ferr.ErrSchema, "fpgakit.New", "unknown StreamKind %d", cfg.StreamKind)
	}
	if f.cmd != nil {
		f.engine = icd.NewEngine(f.cmd)
		f.engine.CheckRecvHead = !cfg.DisableRecvHeadCheck
	}
	return f, nil
}

// LinkCmd opens the command transport, then loads the ICD document into the
// engine. On an ICD load failure the transport is closed again.
func (f *Facade) LinkCmd() error {
	if f.cmd == nil {
		return ferr.Newf(ferr.ErrSchema, "fpgakit.LinkCmd", "no command transport configured")
	}
	params := cmdtransport.AcceptParams{
		IP: f.cfg.CmdIP, TCPPort: f.cfg.CmdTCPPort,
		SerialPort: f.cfg.CmdSerialPort, BaudRate: f.cfg.CmdBaudRate,
		Board: f.cfg.CmdBoard, SentBase: f.cfg.CmdSentBase, RecvBase: f.cfg.CmdRecvBase,
		IRQBase: f.cfg.CmdIRQBase, SentDownBase: f.cfg.CmdSentDown, Timeout: f.cfg.CmdTimeout,
	}
	if err := f.cmd.Accept(params); err != nil {
		return err
	}
	path := f.cfg.ICDPath
	if path == "" {
		path = icd.BundledICDPath
	}
	if err := f.engine.Configure(path); err != nil {
		_ = f.cmd.Close()
		return err
	}
	f.cfg.logger().Printf("fpgakit: command transport connected (icd=%s)", path)
	return nil
}

// LinkStream opens the stream transport and wires the channel multiplexer,
// rejecting Virtual mode paired with a register-incapable transport
// (TCP-stream) with IncompatibleTransport.
func (f *Facade) LinkStream() error {
	if f.stream == nil {
		return ferr.Newf(ferr.ErrSchema, "fpgakit.LinkStream", "no stream transport configured")
	}
	switch t := f.stream.(type) {
	case *tcpstream.Transport:
		if err := t.Listen(f.cfg.StreamIP, f.cfg.StreamTCPPort); err != nil {
			return err
		}
	case *pciestream.Transport:
		if err := t.Accept(cmdtransport.AcceptParams{Board: f.cfg.StreamBoard}); err != nil {
			return err
		}
	}

	muxCfg := f.cfg.VChnl
	muxCfg.Mode = f.cfg.StreamMode
	muxCfg.Stream = f.stream
	if muxCfg.Mode == vchnl.Virtual {
		reg, ok := f.stream.(vchnl.RegisterIO)
		if !ok {
			return ferr.Newf(ferr.ErrIncompatibleTransport, "fpgakit.LinkStream", "virtual channel mode requires a register-capable stream transport")
		}
		muxCfg.Reg = reg
	}
	mux, err := vchnl.New(muxCfg)
	if err != nil {
		return err
	}
	f.mux = mux
	f.cfg.logger().Printf("fpgakit: stream transport connected (mode=%v)", f.cfg.StreamMode)
	return nil
}

// UnlinkCmd closes the command transport. Idempotent.
func (f *Facade) UnlinkCmd() error {
	if f.cmd == nil {
		return nil
	}
	return f.cmd.Close()
}

// UnlinkStream cancels the channel multiplexer and closes the stream
// transport. Idempotent.
func (f *Facade) UnlinkStream() error {
	if f.mux != nil {
		f.mux.Cancel()
	}
	if f.stream == nil {
		return nil
	}
	if closer, ok := f.stream.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

func checkRegWidth(regWidth int) error {
	if regWidth <= 0 || regWidth > 4 {
		return ferr.Newf(ferr.ErrSchema, "fpgakit.checkRegWidth", "register width %d must be between 1 and 4 bytes", regWidth)
	}
	return nil
}

// Write performs a single register write.
func (f *Facade) Write(addr uint32, value [4]byte) error {
	return f.cmd.Write(addr, value)
}

// Read performs a single register read.
func (f *Facade) Read(addr uint32) ([4]byte, error) {
	return f.cmd.Read(addr)
}

// BulkWrite performs a multi-word register write in the given BulkMode,
// schema-checking that regWidth fits a 4 byte register.
func (f *Facade) BulkWrite(addr uint32, data []byte, regWidth int, mode cmdtransport.BulkMode) error {
	if err := checkRegWidth(regWidth); err != nil {
		return err
	}
	if mode == cmdtransport.Loop {
		return f.cmd.LoopWrite(addr, data, regWidth)
	}
	return f.cmd.IncrementWrite(addr, data, regWidth)
}

// BulkRead performs a multi-word register read in the given BulkMode.
func (f *Facade) BulkRead(addr uint32, length, regWidth int, mode cmdtransport.BulkMode) ([]byte, error) {
	if err := checkRegWidth(regWidth); err != nil {
		return nil, err
	}
	if mode == cmdtransport.Loop {
		return f.cmd.LoopRead(addr, length, regWidth)
	}
	return f.cmd.IncrementRead(addr, length, regWidth)
}

// SetParam forwards to the ICD engine's parameter store.
func (f *Facade) SetParam(name string, value interface{}) error { return f.engine.SetParam(name, value) }

// GetParam forwards to the ICD engine's parameter store.
func (f *Facade) GetParam(name string) (interface{}, error) { return f.engine.GetParam(name) }

// Execute forwards to the ICD engine.
func (f *Facade) Execute(cmdName string, arrays ...[]byte) error {
	return f.engine.Execute(cmdName, arrays...)
}

// ExecuteFromPName executes every command whose send schema references
// paramName. The order in which those commands run is not the document
// order; see icd.Engine.ExecuteFromPName.
func (f *Facade) ExecuteFromPName(paramName string) error {
	return f.engine.ExecuteFromPName(paramName)
}

// AllocBuffer forwards through the channel multiplexer's underlying
// transport.
func (f *Facade) AllocBuffer(byteLen int, external []byte) (streamtransport.Handle, error) {
	return f.stream.AllocBuffer(byteLen, external)
}

// FreeBuffer forwards through the channel multiplexer's underlying
// transport. Never automatic: the caller must call it explicitly.
func (f *Facade) FreeBuffer(h streamtransport.Handle) error { return f.stream.FreeBuffer(h) }

// StreamRead forwards through the channel multiplexer.
func (f *Facade) StreamRead(chnl int, h streamtransport.Handle, byteLen, offset int, stopFn streamtransport.StopFunc, timeoutSec float64) (int, error) {
	return f.mux.StreamRead(chnl, h, byteLen, offset, stopFn, timeoutSec)
}

// GetBuffer returns a 32-bit word view over byteLen bytes of the handle's
// backing memory.
func (f *Facade) GetBuffer(h streamtransport.Handle, byteLen int) ([]uint32, error) {
	return f.stream.GetBuffer(h, byteLen)
}

// WaitStream blocks until the outstanding transfer on h completes or
// timeoutSec elapses, returning the bytes delivered so far.
func (f *Facade) WaitStream(h streamtransport.Handle, timeoutSec float64) (int, error) {
	return f.stream.WaitStream(h, timeoutSec)
}

// BreakStream always succeeds; the caller should still call WaitStream (via
// StreamRead's internal wait, or a fresh call) to learn how much was
// delivered before the break.
func (f *Facade) BreakStream(h streamtransport.Handle) error { return f.stream.BreakStream(h) }
