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

// Package ramdev provides a RAM-backed storage device.
//
// A Store is byte addressable, so it serves superblock reads and writes
// directly. It is also a single-drive blockdev.Controller, which lets it
// stand in for a disk under the block translation layer.
package ramdev

import (
	"fmt"

	"rinx.dev/rinx/pkg/abi/rinx"
	"rinx.dev/rinx/pkg/errors/sberr"
	"rinx.dev/rinx/pkg/log"
	"rinx.dev/rinx/pkg/sentry/devices/blockdev"
	"rinx.dev/rinx/pkg/sentry/superblock"
	"rinx.dev/rinx/pkg/sync"
)

// Name is the device name of the RAM-backed descriptor.
const Name = "ramfs"

// MaxSize is the largest store New will create.
const MaxSize = 4 << 30

// Store is a fixed-size in-memory store. All methods are safe for
// concurrent use.
type Store struct {
	// sectorSize is the transfer unit when the store is used as a
	// blockdev.Transport. Immutable.
	sectorSize uint64

	mu   sync.RWMutex
	data []byte
}

var (
	_ superblock.Reader       = (*Store)(nil)
	_ superblock.Writer       = (*Store)(nil)
	_ superblock.Flusher      = (*Store)(nil)
	_ superblock.Ioctler      = (*Store)(nil)
	_ superblock.ReadyChecker = (*Store)(nil)
	_ blockdev.Controller     = (*Store)(nil)
)

// New returns a zero-filled store of size bytes, rounded up to a whole
// number of 4 KiB blocks.
func New(size uint64) (*Store, error) {
	if size == 0 {
		return nil, sberr.ErrInvalidParameter
	}
	if size > MaxSize {
		return nil, sberr.ErrNoSpace
	}
	blocks := (size + rinx.BlockSize4K - 1) / rinx.BlockSize4K
	return &Store{
		sectorSize: rinx.BlockSize4K,
		data:       make([]byte, blocks*rinx.BlockSize4K),
	}, nil
}

// Size returns the store size in bytes.
func (s *Store) Size() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.data))
}

// rangeForLocked checks that [off, off+n) lies within the store.
//
// Preconditions: s.mu must be locked.
func (s *Store) rangeForLocked(n, off uint64) (uint64, uint64, error) {
	end := off + n
	if end < off || end > uint64(len(s.data)) {
		return 0, 0, sberr.ErrNoSpace
	}
	return off, end, nil
}

// Read implements superblock.Reader.Read.
func (s *Store) Read(dst []byte, off uint64) error {
	if len(dst) == 0 {
		return sberr.ErrInvalidParameter
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	start, end, err := s.rangeForLocked(uint64(len(dst)), off)
	if err != nil {
		return err
	}
	copy(dst, s.data[start:end])
	return nil
}

// Write implements superblock.Writer.Write.
func (s *Store) Write(src []byte, off uint64) error {
	if len(src) == 0 {
		return sberr.ErrInvalidParameter
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	start, end, err := s.rangeForLocked(uint64(len(src)), off)
	if err != nil {
		return err
	}
	copy(s.data[start:end], src)
	return nil
}

// Flush implements superblock.Flusher.Flush. Memory has nothing to commit.
func (s *Store) Flush() error {
	return nil
}

// Ioctl implements superblock.Ioctler.Ioctl. rinx.IoctlGetCapacity fills a
// *uint64 and rinx.IoctlGetDeviceInfo fills a *blockdev.Info describing the
// store as a single drive.
func (s *Store) Ioctl(cmd uint32, arg any) error {
	if arg == nil && (cmd == rinx.IoctlGetCapacity || cmd == rinx.IoctlGetDeviceInfo) {
		return nil
	}
	switch cmd {
	case rinx.IoctlGetCapacity:
		p, ok := arg.(*uint64)
		if !ok || p == nil {
			return sberr.ErrInvalidParameter
		}
		*p = s.Size()
		return nil
	case rinx.IoctlGetDeviceInfo:
		p, ok := arg.(*blockdev.Info)
		if !ok || p == nil {
			return sberr.ErrInvalidParameter
		}
		*p = blockdev.Info{
			SectorSize:   s.sectorSize,
			TotalSectors: s.Size() / s.sectorSize,
			Model:        Name,
		}
		return nil
	default:
		return sberr.ErrUnsupported
	}
}

// IsReady implements superblock.ReadyChecker.IsReady.
func (s *Store) IsReady() bool {
	return true
}

// Drive implements blockdev.Controller.Drive. The store is drive 0.
func (s *Store) Drive(n uint8) blockdev.DriveStatus {
	if n != 0 {
		return blockdev.DriveStatus{}
	}
	return blockdev.DriveStatus{
		Present:    true,
		SectorSize: s.sectorSize,
		Sectors:    s.Size() / s.sectorSize,
		Model:      Name,
	}
}

// Transfer implements blockdev.Transport.Transfer.
func (s *Store) Transfer(drive uint8, count uint32, start uint64, buf []byte, dir blockdev.Direction) error {
	if drive != 0 {
		return fmt.Errorf("ramdev has no drive %d: %w", drive, sberr.ErrIO)
	}
	n := uint64(count) * s.sectorSize
	if uint64(len(buf)) < n {
		return fmt.Errorf("buffer of %d bytes too small for %d sectors: %w", len(buf), count, sberr.ErrInvalidParameter)
	}
	if n == 0 {
		return nil
	}
	switch dir {
	case blockdev.DirRead:
		return s.Read(buf[:n], start*s.sectorSize)
	case blockdev.DirWrite:
		return s.Write(buf[:n], start*s.sectorSize)
	default:
		return fmt.Errorf("bad direction %v: %w", dir, sberr.ErrInvalidParameter)
	}
}

// Descriptor returns the RAM-backed descriptor for s.
func Descriptor(s *Store) superblock.Descriptor {
	blocks := s.Size() / rinx.BlockSize4K
	return superblock.Descriptor{
		Kind:           superblock.KindRAM,
		SectorSize:     rinx.BlockSize4K,
		BlockSize:      rinx.BlockSize4K,
		DescriptorSize: rinx.DescriptorSize,
		TotalBlocks:    blocks,
		FreeBlocks:     blocks,
		DeviceID:       rinx.RAMDeviceID,
		DeviceName:     Name,
		Magic:          rinx.RAMFS_MAGIC,
		Version:        1,
		Features:       rinx.FeatureWrite,
		Ops:            s,
	}
}

// Register creates a store of size bytes and registers its descriptor.
func Register(reg *superblock.Registry, size uint64) (*Store, superblock.Handle, error) {
	s, err := New(size)
	if err != nil {
		return nil, superblock.Handle{}, err
	}
	h, err := reg.Register(Descriptor(s))
	if err != nil {
		return nil, superblock.Handle{}, err
	}
	log.Infof("ramfs: Registered %d byte RAM device as superblock %s", s.Size(), Name)
	return s, h, nil
}
