// Copyright 2025 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package superblock defines the device descriptors ("superblocks") shared by
// every storage driver, the capability interfaces a driver may implement, the
// generic entry points that dispatch to them, and the registry that holds all
// active descriptors.
//
// Descriptors are values. They are copied into the registry on Register and
// copied out again on every lookup, so a caller never holds a reference into
// registry storage. Fields that change over the life of a device, such as
// FreeBlocks, are updated in place through a Handle with Registry.Update.
package superblock

import (
	"fmt"

	"rinx.dev/rinx/pkg/abi/rinx"
)

// Kind identifies the class of device a descriptor represents.
type Kind uint32

// Descriptor kinds.
const (
	// KindBlock is a sector-addressable drive (ATA/IDE, AHCI).
	KindBlock Kind = iota

	// KindRAM is a RAM-backed store.
	KindRAM

	// KindNet is a network-backed drive.
	KindNet

	// KindNull marks an unused registry slot. It is never a real device.
	KindNull
)

// String implements fmt.Stringer.String.
func (k Kind) String() string {
	switch k {
	case KindBlock:
		return "block"
	case KindRAM:
		return "ram"
	case KindNet:
		return "net"
	case KindNull:
		return "null"
	default:
		return fmt.Sprintf("Kind(%d)", uint32(k))
	}
}

// Operations is the capability set of a descriptor. The dynamic value may
// implement any subset of Reader, Writer, Flusher, Ioctler and ReadyChecker;
// a capability that is not implemented is unsupported. A nil Operations
// supports nothing.
type Operations interface{}

// Reader is implemented by devices that support reads.
type Reader interface {
	// Read fills dst with the bytes at byte offset off.
	Read(dst []byte, off uint64) error
}

// Writer is implemented by devices that support writes.
type Writer interface {
	// Write stores src at byte offset off.
	Write(src []byte, off uint64) error
}

// Flusher is implemented by devices that can commit buffered writes.
type Flusher interface {
	Flush() error
}

// Ioctler is implemented by devices that accept control commands.
type Ioctler interface {
	// Ioctl executes cmd. arg is a command-specific pointer that the
	// device may read from or write to.
	Ioctl(cmd uint32, arg any) error
}

// ReadyChecker is implemented by devices that can report readiness. A
// device without it is never ready.
type ReadyChecker interface {
	IsReady() bool
}

// Descriptor describes one registered device.
type Descriptor struct {
	// Kind is the class of the device.
	Kind Kind

	// Geometry, in bytes or units.
	SectorSize     uint64
	BlockSize      uint64
	DescriptorSize uint64
	TotalBlocks    uint64
	FreeBlocks     uint64

	// DeviceID and DeviceName identify the device. Both are intended to
	// be unique among active descriptors, but uniqueness is not enforced.
	DeviceID   uint32
	DeviceName string

	// Format metadata.
	Magic    uint32
	Version  uint32
	Features uint32

	// Ops is the capability set.
	Ops Operations

	// Private is driver-exclusive state. It is never inspected by this
	// package. The driver that created the descriptor owns it and releases
	// it after unregistering.
	Private any
}

// Null returns the descriptor stored in unused registry slots.
func Null() Descriptor {
	return Descriptor{
		Kind:       KindNull,
		DeviceID:   0,
		DeviceName: rinx.NullDeviceName,
		Magic:      rinx.NullSuperblockMagic,
	}
}

// IsNull returns true if d marks an unused slot.
func (d Descriptor) IsNull() bool {
	return d.Kind == KindNull
}

// Writable returns true if the descriptor advertises write support.
func (d Descriptor) Writable() bool {
	return d.Features&rinx.FeatureWrite != 0
}

// Capacity returns the device capacity in bytes.
func (d Descriptor) Capacity() uint64 {
	return d.TotalBlocks * d.BlockSize
}

// String implements fmt.Stringer.String.
func (d Descriptor) String() string {
	return fmt.Sprintf("superblock{kind: %v, id: %#x, name: %q, sector: %d, block: %d, blocks: %d/%d free, magic: %#x, version: %d, features: %#x}",
		d.Kind, d.DeviceID, d.DeviceName, d.SectorSize, d.BlockSize, d.FreeBlocks, d.TotalBlocks, d.Magic, d.Version, d.Features)
}

// Capabilities lists the capability names implemented by d.Ops, in the order
// read, write, flush, ioctl, ready.
func (d Descriptor) Capabilities() []string {
	var caps []string
	if _, ok := d.Ops.(Reader); ok {
		caps = append(caps, "read")
	}
	if _, ok := d.Ops.(Writer); ok {
		caps = append(caps, "write")
	}
	if _, ok := d.Ops.(Flusher); ok {
		caps = append(caps, "flush")
	}
	if _, ok := d.Ops.(Ioctler); ok {
		caps = append(caps, "ioctl")
	}
	if _, ok := d.Ops.(ReadyChecker); ok {
		caps = append(caps, "ready")
	}
	return caps
}
