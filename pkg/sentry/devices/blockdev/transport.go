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

package blockdev

import (
	"fmt"

	"rinx.dev/rinx/pkg/errors/sberr"
	"rinx.dev/rinx/pkg/sync"
)

// Direction is the direction of a sector transfer.
type Direction uint8

// Transfer directions.
const (
	// DirRead copies sectors from the media into the buffer.
	DirRead Direction = iota

	// DirWrite copies the buffer onto the media.
	DirWrite
)

// String implements fmt.Stringer.String.
func (d Direction) String() string {
	switch d {
	case DirRead:
		return "read"
	case DirWrite:
		return "write"
	default:
		return fmt.Sprintf("Direction(%d)", uint8(d))
	}
}

// Transport moves whole sectors between a drive and memory.
type Transport interface {
	// Transfer moves count sectors starting at sector start of the given
	// drive. len(buf) is at least count times the drive's sector size.
	// Transfer either completes or returns an error; a failed read leaves
	// the contents of buf unspecified, and a failed write may have stored
	// nothing.
	Transfer(drive uint8, count uint32, start uint64, buf []byte, dir Direction) error
}

// Syncer is implemented by transports that buffer writes.
type Syncer interface {
	// Sync commits buffered writes of the given drive to stable storage.
	Sync(drive uint8) error
}

// MemTransport is a Controller over in-memory drives. It is used for tests
// and for scratch media.
//
// All methods are safe for concurrent use.
type MemTransport struct {
	sectorSize uint64

	mu sync.Mutex

	// drives holds each attached drive, by drive number.
	drives map[uint8]*memDrive

	// failAfter, when non-negative, is the number of transfers that
	// succeed before every later transfer fails.
	failAfter int

	// transfers counts every call to Transfer, successful or not.
	transfers int

	syncs int
}

type memDrive struct {
	media []byte
	atapi bool
	model string
}

// NewMemTransport returns a MemTransport with no drives.
func NewMemTransport(sectorSize uint64) *MemTransport {
	return &MemTransport{
		sectorSize: sectorSize,
		drives:     make(map[uint8]*memDrive),
		failAfter:  -1,
	}
}

// AddDrive attaches a zero-filled drive of the given number of sectors.
func (m *MemTransport) AddDrive(drive uint8, sectors uint64, model string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drives[drive] = &memDrive{
		media: make([]byte, sectors*m.sectorSize),
		model: model,
	}
}

// AddATAPIDrive is like AddDrive, but the drive reports itself as ATAPI
// media, which is read-only.
func (m *MemTransport) AddATAPIDrive(drive uint8, sectors uint64, model string) {
	m.AddDrive(drive, sectors, model)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drives[drive].atapi = true
}

// RemoveDrive detaches a drive. Later transfers to it fail.
func (m *MemTransport) RemoveDrive(drive uint8) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.drives, drive)
}

// Drive implements Controller.Drive.
func (m *MemTransport) Drive(n uint8) DriveStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drives[n]
	if !ok {
		return DriveStatus{}
	}
	return DriveStatus{
		Present:    true,
		ATAPI:      d.atapi,
		SectorSize: m.sectorSize,
		Sectors:    uint64(len(d.media)) / m.sectorSize,
		Model:      d.model,
	}
}

// Contents returns a copy of the drive contents, or nil if no such drive
// exists.
func (m *MemTransport) Contents(drive uint8) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drives[drive]
	if !ok {
		return nil
	}
	return append([]byte(nil), d.media...)
}

// FailAfter makes every transfer after the next n fail with sberr.ErrIO. A
// negative n disables failure injection.
func (m *MemTransport) FailAfter(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAfter = n
}

// Transfers returns the number of Transfer calls so far.
func (m *MemTransport) Transfers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transfers
}

// Syncs returns the number of Sync calls so far.
func (m *MemTransport) Syncs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.syncs
}

// Transfer implements Transport.Transfer.
func (m *MemTransport) Transfer(drive uint8, count uint32, start uint64, buf []byte, dir Direction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transfers++
	if m.failAfter == 0 {
		return fmt.Errorf("injected failure on drive %d: %w", drive, sberr.ErrIO)
	}
	if m.failAfter > 0 {
		m.failAfter--
	}

	d, ok := m.drives[drive]
	if !ok {
		return fmt.Errorf("no drive %d: %w", drive, sberr.ErrIO)
	}
	n := uint64(count) * m.sectorSize
	off := start * m.sectorSize
	if uint64(len(buf)) < n || off+n > uint64(len(d.media)) {
		return fmt.Errorf("transfer of %d sectors at %d out of range: %w", count, start, sberr.ErrIO)
	}
	switch dir {
	case DirRead:
		copy(buf[:n], d.media[off:off+n])
	case DirWrite:
		copy(d.media[off:off+n], buf[:n])
	default:
		return fmt.Errorf("bad direction %v: %w", dir, sberr.ErrInvalidParameter)
	}
	return nil
}

// Sync implements Syncer.Sync.
func (m *MemTransport) Sync(drive uint8) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncs++
	if _, ok := m.drives[drive]; !ok {
		return fmt.Errorf("no drive %d: %w", drive, sberr.ErrIO)
	}
	return nil
}
