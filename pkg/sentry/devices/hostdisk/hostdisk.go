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

// Package hostdisk provides sector transports backed by disk image files on
// the host.
//
// An open image holds an advisory lock on its path: exclusive for writable
// images and shared for read-only ones, so two writers never share an image.
package hostdisk

import (
	"errors"
	"fmt"
	"os"

	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"
	"rinx.dev/rinx/pkg/abi/rinx"
	"rinx.dev/rinx/pkg/cleanup"
	"rinx.dev/rinx/pkg/errors/sberr"
	"rinx.dev/rinx/pkg/log"
	"rinx.dev/rinx/pkg/sentry/devices/blockdev"
)

// ErrLocked is returned by Open when another user holds a conflicting lock
// on the image.
var ErrLocked = errors.New("disk image is locked")

// Disk is an image file used as a single drive. Only drive 0 exists.
type Disk struct {
	path       string
	f          *os.File
	lock       *flock.Flock
	readOnly   bool
	sectorSize uint64
	sectors    uint64
}

var _ blockdev.Controller = (*Disk)(nil)

// Open opens the image at path with 512-byte sectors. Trailing bytes that do
// not fill a whole sector are not addressable.
func Open(path string, readOnly bool) (*Disk, error) {
	// Taking the lock creates a missing file.
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	lock := flock.New(path)
	var (
		locked bool
		err    error
	)
	if readOnly {
		locked, err = lock.TryRLock()
	} else {
		locked, err = lock.TryLock()
	}
	if err != nil {
		return nil, fmt.Errorf("locking %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("%s: %w", path, ErrLocked)
	}
	cu := cleanup.Make(func() { lock.Unlock() })
	defer cu.Clean()

	flags := os.O_RDWR
	if readOnly {
		flags = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flags, 0)
	if err != nil {
		return nil, err
	}
	cu.Add(func() { f.Close() })

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if !fi.Mode().IsRegular() {
		return nil, fmt.Errorf("%s is not a regular file: %w", path, sberr.ErrInvalidParameter)
	}

	cu.Release()
	d := &Disk{
		path:       path,
		f:          f,
		lock:       lock,
		readOnly:   readOnly,
		sectorSize: rinx.SectorSize512,
		sectors:    uint64(fi.Size()) / rinx.SectorSize512,
	}
	log.Infof("hostdisk: Opened %s (%d sectors, read-only %t)", path, d.sectors, readOnly)
	return d, nil
}

// Path returns the image path.
func (d *Disk) Path() string {
	return d.path
}

// Close releases the image and its lock.
func (d *Disk) Close() error {
	err := d.f.Close()
	if uerr := d.lock.Unlock(); err == nil {
		err = uerr
	}
	return err
}

// Drive implements blockdev.Controller.Drive. Read-only images are
// presented as ATAPI media.
func (d *Disk) Drive(n uint8) blockdev.DriveStatus {
	if n != 0 {
		return blockdev.DriveStatus{}
	}
	return blockdev.DriveStatus{
		Present:    true,
		ATAPI:      d.readOnly,
		SectorSize: d.sectorSize,
		Sectors:    d.sectors,
		Model:      "HOSTDISK",
	}
}

// Transfer implements blockdev.Transport.Transfer.
func (d *Disk) Transfer(drive uint8, count uint32, start uint64, buf []byte, dir blockdev.Direction) error {
	if drive != 0 {
		return fmt.Errorf("%s has no drive %d: %w", d.path, drive, sberr.ErrIO)
	}
	n := uint64(count) * d.sectorSize
	if uint64(len(buf)) < n {
		return fmt.Errorf("buffer of %d bytes too small for %d sectors: %w", len(buf), count, sberr.ErrInvalidParameter)
	}
	if start+uint64(count) > d.sectors {
		return fmt.Errorf("sectors [%d, %d) beyond end of %s: %w", start, start+uint64(count), d.path, sberr.ErrIO)
	}
	buf = buf[:n]
	off := int64(start * d.sectorSize)

	var (
		done int
		err  error
	)
	switch dir {
	case blockdev.DirRead:
		done, err = preadFull(int(d.f.Fd()), buf, off)
	case blockdev.DirWrite:
		if d.readOnly {
			return sberr.ErrUnsupported
		}
		done, err = pwriteFull(int(d.f.Fd()), buf, off)
	default:
		return fmt.Errorf("bad direction %v: %w", dir, sberr.ErrInvalidParameter)
	}
	if err != nil {
		return fmt.Errorf("%v of %s at %d: %v: %w", dir, d.path, off, err, sberr.ErrIO)
	}
	if uint64(done) != n {
		return fmt.Errorf("short %v of %s at %d: %d of %d bytes: %w", dir, d.path, off, done, n, sberr.ErrIO)
	}
	return nil
}

// Sync implements blockdev.Syncer.Sync.
func (d *Disk) Sync(drive uint8) error {
	if drive != 0 {
		return fmt.Errorf("%s has no drive %d: %w", d.path, drive, sberr.ErrIO)
	}
	if d.readOnly {
		return nil
	}
	if err := unix.Fsync(int(d.f.Fd())); err != nil {
		return fmt.Errorf("fsync %s: %v: %w", d.path, err, sberr.ErrIO)
	}
	return nil
}

// preadFull reads until buf is full, EOF or an error.
func preadFull(fd int, buf []byte, off int64) (int, error) {
	done := 0
	for done < len(buf) {
		n, err := unix.Pread(fd, buf[done:], off+int64(done))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return done, err
		}
		if n == 0 {
			break
		}
		done += n
	}
	return done, nil
}

// pwriteFull writes all of buf unless an error occurs.
func pwriteFull(fd int, buf []byte, off int64) (int, error) {
	done := 0
	for done < len(buf) {
		n, err := unix.Pwrite(fd, buf[done:], off+int64(done))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return done, err
		}
		if n == 0 {
			break
		}
		done += n
	}
	return done, nil
}
