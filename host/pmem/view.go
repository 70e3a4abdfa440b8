// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package pmem

import (
	"errors"
	"fmt"
	"reflect"
	"syscall"
	"unsafe"
)

// Slice can be transparently viewed as []byte, []uint32 or a struct.
type Slice []byte

// Bytes returns the raw byte view of the memory mapped region.
func (s *Slice) Bytes() []byte {
	return []byte(*s)
}

func (s *Slice) Uint32() []uint32 {
	header := *(*reflect.SliceHeader)(unsafe.Pointer(s))
	header.Len /= 4
	header.Cap /= 4
	return *(*[]uint32)(unsafe.Pointer(&header))
}

// isPOD reports whether t is a plain-old-data type safe to overlay directly
// on raw memory: a base numeric type, or an array/struct composed entirely
// of such types.
func isPOD(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Float32, reflect.Float64:
		return true
	case reflect.Array:
		return isPOD(t.Elem())
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			if !isPOD(t.Field(i).Type) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// AsPOD initializes a pointer to a POD to point directly at the memory
// mapped region, per the contract documented on Mem.AsPOD.
//
// pp must be a pointer to: a pointer to a base type, struct or array of the
// above (and that pointer must be nil), or a pointer to a slice of the
// above (and that slice must be nil).
func (s *Slice) AsPOD(pp interface{}) error {
	val := reflect.ValueOf(pp)
	if val.Kind() != reflect.Ptr || val.IsNil() {
		return errors.New("pmem: require non-nil Ptr")
	}
	target := val.Elem()
	switch target.Kind() {
	case reflect.Ptr:
		if !target.IsNil() {
			return errors.New("pmem: require Ptr to Ptr to be nil")
		}
		// target.Elem() can't be used since it's a nil pointer. Use the type.
		t := target.Type().Elem()
		if !isPOD(t) {
			return fmt.Errorf("pmem: require Ptr to Ptr to a POD type, got Ptr to Ptr to %s", t.Kind())
		}
		if size := int(t.Size()); size == 0 || size > len(*s) {
			return fmt.Errorf("pmem: can't map %s (size %d) on [%d]byte", t, t.Size(), len(*s))
		}
		dest := unsafe.Pointer(((*reflect.SliceHeader)(unsafe.Pointer(s))).Data)
		target.Set(reflect.NewAt(t, dest))
		return nil
	case reflect.Slice:
		if !target.IsNil() {
			return errors.New("pmem: require Ptr to a nil slice")
		}
		elemType := target.Type().Elem()
		if !isPOD(elemType) {
			return fmt.Errorf("pmem: slice of non-POD %s is not supported", elemType)
		}
		elemSize := int(elemType.Size())
		if elemSize == 0 || elemSize > len(*s) {
			return fmt.Errorf("pmem: buffer of %d bytes is not large enough for %s", len(*s), elemType)
		}
		n := len(*s) / elemSize
		header := reflect.SliceHeader{
			Data: ((*reflect.SliceHeader)(unsafe.Pointer(s))).Data,
			Len:  n,
			Cap:  n,
		}
		target.Set(reflect.NewAt(target.Type(), unsafe.Pointer(&header)).Elem())
		return nil
	default:
		return fmt.Errorf("pmem: require Ptr to Ptr or Ptr to slice, got Ptr to %s", target.Kind())
	}
}

// View represents a view of physical memory mapped into user space.
//
// It is usually used to map a pinned DMA buffer so both the process and the
// board's DMA engine can address the same bytes.
//
// It is not required to call Close(), the kernel will clean up on process
// shutdown.
type View struct {
	Slice
	orig []uint8 // Reference rounded to the lowest 4Kb page containing Slice.
	phys uint64  // Physical address backing Slice, when known.
}

// Close unmaps the memory from the user address space.
//
// This is done naturally by the OS on process teardown (when the process
// exits) so this is not a hard requirement to call this function.
func (v *View) Close() error {
	if len(v.orig) == 0 {
		return nil
	}
	return syscall.Munmap(v.orig)
}

// PhysAddr returns the physical address backing this view, so a board's DMA
// engine can be programmed with it directly instead of the user space
// virtual address.
func (v *View) PhysAddr() uint64 {
	return v.phys
}
