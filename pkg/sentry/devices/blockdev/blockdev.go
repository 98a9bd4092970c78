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

// Package blockdev implements byte-addressed reads and writes over
// sector-addressed media.
//
// A Device translates a request for size bytes at byte offset off into a
// single transfer of whole sectors:
//
//	start  = off / S
//	skip   = off % S
//	needed = ceil((size + skip) / S)
//
// Requests with start+needed beyond the end of the drive fail with
// sberr.ErrNoSpace before any transfer is issued. Writes that do not cover
// whole, aligned sectors are merged: the affected sectors are read into a
// scratch buffer, patched, and written back.
package blockdev

import (
	"fmt"
	"math"
	"time"

	"rinx.dev/rinx/pkg/abi/rinx"
	"rinx.dev/rinx/pkg/cleanup"
	"rinx.dev/rinx/pkg/errors/sberr"
	"rinx.dev/rinx/pkg/log"
	"rinx.dev/rinx/pkg/metric"
	"rinx.dev/rinx/pkg/sentry/superblock"
	"rinx.dev/rinx/pkg/sync"
)

// maxPooledScratch is the largest scratch buffer returned to scratchPool.
// Larger buffers are left to the garbage collector.
const maxPooledScratch = 16 * rinx.BlockSize4K

var (
	transfers      = metric.MustCreateNewUint64Metric("/blockdev/transfers", "Number of sector transfers issued.")
	mergeWrites    = metric.MustCreateNewUint64Metric("/blockdev/merge_writes", "Number of writes serviced by read-modify-write.")
	transferErrors = metric.MustCreateNewUint64Metric("/blockdev/transfer_errors", "Number of sector transfers that failed.")
)

// ioLog reports transfer failures. A failing drive fails every request, so
// the log is rate limited.
var ioLog = log.BasicRateLimitedLogger(time.Second)

// scratchPool holds *[]byte scratch buffers.
var scratchPool = sync.Pool{
	New: func() any {
		b := make([]byte, 0, rinx.BlockSize4K)
		return &b
	},
}

// getScratch returns a scratch buffer of n bytes.
func getScratch(n uint64) *[]byte {
	if n > maxPooledScratch {
		b := make([]byte, n)
		return &b
	}
	b := scratchPool.Get().(*[]byte)
	if uint64(cap(*b)) < n {
		*b = make([]byte, n, maxPooledScratch)
	}
	*b = (*b)[:n]
	return b
}

// pooled reports whether b may be returned to scratchPool.
func pooled(b *[]byte) bool {
	return cap(*b) <= maxPooledScratch
}

func putScratch(b *[]byte) {
	if pooled(b) {
		scratchPool.Put(b)
	}
}

// Info describes a drive. It is the device's private state and is returned
// by rinx.IoctlGetDeviceInfo.
type Info struct {
	// Drive is the drive number on its transport.
	Drive uint8

	// SectorSize is the transfer unit in bytes.
	SectorSize uint64

	// TotalSectors is the number of addressable sectors.
	TotalSectors uint64

	// ReadOnly is set for media that refuse writes, such as ATAPI drives.
	ReadOnly bool

	// Model is the model string reported by the drive, at most
	// rinx.ModelNameMax bytes.
	Model string
}

// Capacity returns the drive capacity in bytes.
func (i Info) Capacity() uint64 {
	return i.SectorSize * i.TotalSectors
}

// Device is a drive reached through a Transport. It implements every
// superblock capability.
type Device struct {
	transport Transport
	info      Info

	// present reports whether the drive is attached. nil means always.
	present func() bool
}

var (
	_ superblock.Reader       = (*Device)(nil)
	_ superblock.Writer       = (*Device)(nil)
	_ superblock.Flusher      = (*Device)(nil)
	_ superblock.Ioctler      = (*Device)(nil)
	_ superblock.ReadyChecker = (*Device)(nil)
)

// New returns a Device for the drive described by info. present may be nil.
func New(t Transport, info Info, present func() bool) (*Device, error) {
	if t == nil || info.SectorSize == 0 {
		return nil, sberr.ErrInvalidParameter
	}
	if len(info.Model) > rinx.ModelNameMax {
		info.Model = info.Model[:rinx.ModelNameMax]
	}
	return &Device{
		transport: t,
		info:      info,
		present:   present,
	}, nil
}

// Info returns the drive description.
func (d *Device) Info() Info {
	return d.info
}

// Descriptor returns a descriptor for d with the standard block geometry:
// 4 KiB blocks and a 1 KiB descriptor. Features advertise writes unless the
// media is read-only.
func (d *Device) Descriptor(kind superblock.Kind, id uint32, name string, magic uint32) superblock.Descriptor {
	blocks := d.info.Capacity() / rinx.BlockSize4K
	var features uint32
	if !d.info.ReadOnly {
		features |= rinx.FeatureWrite
	}
	return superblock.Descriptor{
		Kind:           kind,
		SectorSize:     d.info.SectorSize,
		BlockSize:      rinx.BlockSize4K,
		DescriptorSize: rinx.DescriptorSize,
		TotalBlocks:    blocks,
		FreeBlocks:     blocks,
		DeviceID:       id,
		DeviceName:     name,
		Magic:          magic,
		Version:        1,
		Features:       features,
		Ops:            d,
		Private:        d.info,
	}
}

// span is the sector range covering a byte request.
type span struct {
	start  uint64
	skip   uint64
	needed uint64
}

// bytes returns the size of the span in bytes.
func (s span) bytes(sectorSize uint64) uint64 {
	return s.needed * sectorSize
}

// spanFor computes the sector range for size bytes at off and checks it
// against the end of the drive.
func (d *Device) spanFor(size, off uint64) (span, error) {
	S := d.info.SectorSize
	s := span{
		start: off / S,
		skip:  off % S,
	}
	s.needed = (size + s.skip + S - 1) / S
	if s.needed > math.MaxUint32 || s.start+s.needed > d.info.TotalSectors || s.start+s.needed < s.start {
		return span{}, sberr.ErrNoSpace
	}
	return s, nil
}

// transfer issues one transfer and maps its failure to sberr.ErrIO.
func (d *Device) transfer(s span, buf []byte, dir Direction) error {
	transfers.Increment()
	if err := d.transport.Transfer(d.info.Drive, uint32(s.needed), s.start, buf, dir); err != nil {
		transferErrors.Increment()
		ioLog.Warningf("blockdev: drive %d %v of %d sectors at %d failed: %v", d.info.Drive, dir, s.needed, s.start, err)
		return fmt.Errorf("drive %d: %v sectors [%d, %d): %w", d.info.Drive, dir, s.start, s.start+s.needed, sberr.ErrIO)
	}
	return nil
}

// Read implements superblock.Reader.Read.
func (d *Device) Read(dst []byte, off uint64) error {
	if len(dst) == 0 {
		return sberr.ErrInvalidParameter
	}
	if !d.IsReady() {
		return sberr.ErrIO
	}
	s, err := d.spanFor(uint64(len(dst)), off)
	if err != nil {
		return err
	}

	scratch := getScratch(s.bytes(d.info.SectorSize))
	cu := cleanup.Make(func() { putScratch(scratch) })
	defer cu.Clean()

	if err := d.transfer(s, *scratch, DirRead); err != nil {
		return err
	}
	copySectors(dst, *scratch, s.skip, d.info.SectorSize, false)
	return nil
}

// Write implements superblock.Writer.Write.
func (d *Device) Write(src []byte, off uint64) error {
	if len(src) == 0 {
		return sberr.ErrInvalidParameter
	}
	if !d.IsReady() {
		return sberr.ErrIO
	}
	if d.info.ReadOnly {
		return sberr.ErrUnsupported
	}
	s, err := d.spanFor(uint64(len(src)), off)
	if err != nil {
		return err
	}

	// Whole, aligned sectors go straight from the caller's buffer.
	if s.skip == 0 && uint64(len(src))%d.info.SectorSize == 0 {
		return d.transfer(s, src, DirWrite)
	}

	scratch := getScratch(s.bytes(d.info.SectorSize))
	cu := cleanup.Make(func() { putScratch(scratch) })
	defer cu.Clean()

	mergeWrites.Increment()
	if err := d.transfer(s, *scratch, DirRead); err != nil {
		return err
	}
	copySectors(src, *scratch, s.skip, d.info.SectorSize, true)
	return d.transfer(s, *scratch, DirWrite)
}

// copySectors copies between a caller buffer and a sector-aligned scratch
// buffer, one sector at a time. Only the first sector is offset by skip.
// If toScratch is set, data flows from buf into scratch.
func copySectors(buf, scratch []byte, skip, sectorSize uint64, toScratch bool) {
	done := uint64(0)
	size := uint64(len(buf))
	for sector := uint64(0); done < size; sector++ {
		n := sectorSize - skip
		if n > size-done {
			n = size - done
		}
		at := sector*sectorSize + skip
		if toScratch {
			copy(scratch[at:at+n], buf[done:done+n])
		} else {
			copy(buf[done:done+n], scratch[at:at+n])
		}
		done += n
		skip = 0
	}
}

// Flush implements superblock.Flusher.Flush. Transports without a Syncer
// have nothing to commit.
func (d *Device) Flush() error {
	if !d.IsReady() {
		return sberr.ErrIO
	}
	s, ok := d.transport.(Syncer)
	if !ok {
		return nil
	}
	if err := s.Sync(d.info.Drive); err != nil {
		ioLog.Warningf("blockdev: drive %d sync failed: %v", d.info.Drive, err)
		return fmt.Errorf("drive %d: sync: %w", d.info.Drive, sberr.ErrIO)
	}
	return nil
}

// Ioctl implements superblock.Ioctler.Ioctl.
//
// rinx.IoctlGetDeviceInfo fills an *Info and rinx.IoctlGetCapacity fills a
// *uint64 with the capacity in bytes. A nil arg only checks that the
// command is supported.
func (d *Device) Ioctl(cmd uint32, arg any) error {
	switch cmd {
	case rinx.IoctlGetDeviceInfo:
		if arg == nil {
			return nil
		}
		p, ok := arg.(*Info)
		if !ok || p == nil {
			return sberr.ErrInvalidParameter
		}
		*p = d.info
		return nil
	case rinx.IoctlGetCapacity:
		if arg == nil {
			return nil
		}
		p, ok := arg.(*uint64)
		if !ok || p == nil {
			return sberr.ErrInvalidParameter
		}
		*p = d.info.Capacity()
		return nil
	default:
		return sberr.ErrUnsupported
	}
}

// IsReady implements superblock.ReadyChecker.IsReady.
func (d *Device) IsReady() bool {
	return d.present == nil || d.present()
}
