// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// fpga-regrw reads or writes a device register over any of the three
// command transports.
package main

import (
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"io/ioutil"
	"log"
	"os"
	"strconv"
	"time"

	"fpgakit"
	"fpgakit/conn/cmdtransport"
)

func mainImpl() error {
	transport := flag.String("t", "tcp", "command transport: tcp, serial or pcie")
	ip := flag.String("ip", "", "device IP (tcp)")
	port := flag.Int("port", 0, "device TCP port (tcp)")
	serialPort := flag.String("serial", "", "serial port path (serial)")
	baud := flag.Int("baud", 115200, "baud rate (serial)")
	board := flag.Int("board", 0, "PCIe board index (pcie)")
	addr := flag.Uint("a", 0, "register address")
	write := flag.Bool("w", false, "write instead of reading")
	bulk := flag.Int("bulk", 0, "number of registers for a bulk op; 0 disables bulk")
	loop := flag.Bool("loop", false, "use Loop addressing instead of Increment for bulk ops")
	regWidth := flag.Int("width", 4, "register width in bytes")
	timeout := flag.Duration("timeout", 5*time.Second, "per-call transport timeout")
	verbose := flag.Bool("v", false, "verbose mode")
	flag.Parse()
	if !*verbose {
		log.SetOutput(ioutil.Discard)
	}
	log.SetFlags(log.Lmicroseconds)

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
		CmdTimeout: *timeout,
	})
	if err != nil {
		return err
	}
	if err := f.LinkCmd(); err != nil {
		return err
	}
	defer f.UnlinkCmd()

	if *bulk > 0 {
		mode := cmdtransport.Increment
		if *loop {
			mode = cmdtransport.Loop
		}
		if *write {
			if flag.NArg() != *bulk {
				return fmt.Errorf("expected %d hex words to write, got %d", *bulk, flag.NArg())
			}
			data := make([]byte, 0, *bulk*(*regWidth))
			for _, a := range flag.Args() {
				v, err := strconv.ParseUint(a, 0, 32)
				if err != nil {
					return err
				}
				word := make([]byte, 4)
				binary.LittleEndian.PutUint32(word, uint32(v))
				data = append(data, word[:*regWidth]...)
			}
			return f.BulkWrite(uint32(*addr), data, *regWidth, mode)
		}
		data, err := f.BulkRead(uint32(*addr), *bulk*(*regWidth), *regWidth, mode)
		if err != nil {
			return err
		}
		return printWords(data, *regWidth)
	}

	if *write {
		if flag.NArg() != 1 {
			return errors.New("specify exactly one hex encoded word to write")
		}
		v, err := strconv.ParseUint(flag.Arg(0), 0, 32)
		if err != nil {
			return err
		}
		var word [4]byte
		binary.LittleEndian.PutUint32(word[:], uint32(v))
		return f.Write(uint32(*addr), word)
	}
	v, err := f.Read(uint32(*addr))
	if err != nil {
		return err
	}
	return printWords(v[:], 4)
}

func printWords(data []byte, regWidth int) error {
	for i := 0; i+regWidth <= len(data); i += regWidth {
		word := make([]byte, 4)
		copy(word, data[i:i+regWidth])
		if i != 0 {
			fmt.Print(" ")
		}
		fmt.Printf("0x%08X", binary.LittleEndian.Uint32(word))
	}
	fmt.Println()
	return nil
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "fpga-regrw: %s.\n", err)
		os.Exit(1)
	}
}
