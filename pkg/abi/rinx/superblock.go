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

// Package rinx contains the constants and types shared between storage
// drivers and their consumers: superblock magic numbers, device id ranges,
// ioctl commands and result codes.
package rinx

// DefaultSuperblockCount is the number of slots a fresh superblock registry
// starts with.
const DefaultSuperblockCount = 26

// DeviceNameMax is the maximum length in bytes of a device name, excluding
// the terminating NUL of the on-wire representation.
const DeviceNameMax = 31

// Superblock magic numbers.
const (
	// NullSuperblockMagic marks an unused registry slot.
	NullSuperblockMagic = 0xdeadbeef

	// BlockSuperblockMagic is used by ATA/IDE-style block drives.
	BlockSuperblockMagic = 0xdeadbeef

	// RAMFS_MAGIC is "ramf".
	RAMFS_MAGIC = 0x72616d66

	// NETDEV_MAGIC is "netd".
	NETDEV_MAGIC = 0x6e657464
)

// NullDeviceName is the device name carried by unused registry slots.
const NullDeviceName = "null"

// Device id ranges.
const (
	// IDEDeviceIDBase is the first device id of IDE drives; drive i gets
	// IDEDeviceIDBase+i.
	IDEDeviceIDBase = 0x1000

	// RAMDeviceID is the device id of the RAM-backed device.
	RAMDeviceID = 0x2000

	// NetDeviceIDBase is the first device id of network-backed devices.
	NetDeviceIDBase = 0x3000
)

// MaxIDEDrives is the number of drives on an IDE controller (two channels,
// master and slave).
const MaxIDEDrives = 4

// Geometry defaults.
const (
	SectorSize512  = 512
	BlockSize4K    = 4096
	DescriptorSize = 1024

	// ModelNameMax bounds the model string reported by a drive.
	ModelNameMax = 40
)

// Feature bits of a superblock.
const (
	// FeatureWrite is set when the device accepts writes.
	FeatureWrite = 1 << 0
)

// Ioctl commands understood by block drivers.
const (
	// IoctlGetDeviceInfo fills a driver-specific information structure.
	IoctlGetDeviceInfo = 0x1000

	// IoctlGetCapacity fills a *uint64 with the device capacity in bytes.
	IoctlGetCapacity = 0x1001
)

// Result is the status code of a superblock operation.
type Result uint32

// Superblock operation results.
const (
	Success Result = iota
	ErrorIO
	ErrorInvalidParam
	ErrorNoSpace
	ErrorNotSupported
	ErrorCorrupted
)

// String implements fmt.Stringer.String.
func (r Result) String() string {
	switch r {
	case Success:
		return "success"
	case ErrorIO:
		return "I/O error"
	case ErrorInvalidParam:
		return "invalid parameter"
	case ErrorNoSpace:
		return "no space"
	case ErrorNotSupported:
		return "not supported"
	case ErrorCorrupted:
		return "corrupted"
	default:
		return "unknown"
	}
}
