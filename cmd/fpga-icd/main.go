// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// fpga-icd loads an ICD document, sets parameters from the command line and
// executes one command against a device over any of the three command
// transports.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io/ioutil"
	"log"
	"os"
	"strings"
	"time"

	"fpgakit"
)

// paramSet is a repeatable -p name=value flag.
type paramSet map[string]string

func (p paramSet) String() string { return "" }
func (p paramSet) Set(s string) error {
	name, value, ok := strings.Cut(s, "=")
	if !ok {
		return fmt.Errorf("expected name=value, got %q", s)
	}
	p[name] = value
	return nil
}

func mainImpl() error {
	transport := flag.String("t", "tcp", "command transport: tcp, serial or pcie")
	ip := flag.String("ip", "", "device IP (tcp)")
	port := flag.Int("port", 0, "device TCP port (tcp)")
	serialPort := flag.String("serial", "", "serial port path (serial)")
	baud := flag.Int("baud", 115200, "baud rate (serial)")
	board := flag.Int("board", 0, "PCIe board index (pcie)")
	icdPath := flag.String("icd", "", "ICD JSON path; empty uses the bundled default")
	command := flag.String("c", "", "command name to execute")
	checkHead := flag.Bool("check-head", true, "head-checked vs length-summed reply parsing")
	timeout := flag.Duration("timeout", 5*time.Second, "per-call transport timeout")
	verbose := flag.Bool("v", false, "verbose mode")
	params := paramSet{}
	flag.Var(params, "p", "set a parameter before executing, as name=value; repeatable")
	flag.Parse()
	if !*verbose {
		log.SetOutput(ioutil.Discard)
	}
	log.SetFlags(log.Lmicroseconds)

	if *command == "" {
		return errors.New("-c is required")
	}

	var kind fpgakit.CmdKind
	switch *transport {
	case "tcp":
		kind = fpgakit.CmdTCP
	case "serial":
		kind = fpgakit.CmdSerial
	case "pcie":
		kind = fpgakit.CmdPCIe
	default:
		return fmt.Errorf("-t must be tcp, serial or pcie, got %q", *transport)
	}

	f, err := fpgakit.New(fpgakit.Config{
		CmdKind: kind, CmdIP: *ip, CmdTCPPort: *port,
		CmdSerialPort: *serialPort, CmdBaudRate: *baud, CmdBoard: *board,
		CmdTimeout: *timeout, ICDPath: *icdPath, DisableRecvHeadCheck: !*checkHead,
	})
	if err != nil {
		return err
	}
	if err := f.LinkCmd(); err != nil {
		return err
	}
	defer f.UnlinkCmd()

	for name, value := range params {
		if err := f.SetParam(name, value); err != nil {
			return err
		}
	}
	if err := f.Execute(*command); err != nil {
		return err
	}
	for name := range params {
		v, err := f.GetParam(name)
		if err != nil {
			continue
		}
		log.Printf("%s = %v", name, v)
	}
	return nil
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "fpga-icd: %s.\n", err)
		os.Exit(1)
	}
}
