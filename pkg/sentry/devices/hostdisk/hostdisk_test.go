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

package hostdisk

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sync/errgroup"
	"rinx.dev/rinx/pkg/abi/rinx"
	"rinx.dev/rinx/pkg/errors/sberr"
	"rinx.dev/rinx/pkg/sentry/devices/blockdev"
	"rinx.dev/rinx/pkg/sentry/superblock"
)

// newImage writes an image of the given number of sectors, plus a partial
// trailing sector, and returns its path.
func newImage(t *testing.T, sectors int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "disk.img")
	data := bytes.Repeat([]byte{0xee}, sectors*rinx.SectorSize512+100)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("writing image: %v", err)
	}
	return path
}

func TestTransferRoundTrip(t *testing.T) {
	path := newImage(t, 8)
	d, err := Open(path, false)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer d.Close()

	want := blockdev.DriveStatus{Present: true, SectorSize: 512, Sectors: 8, Model: "HOSTDISK"}
	if diff := cmp.Diff(want, d.Drive(0)); diff != "" {
		t.Errorf("Drive(0) mismatch (-want +got):\n%s", diff)
	}
	if d.Drive(1).Present {
		t.Errorf("Drive(1) is present on a single image")
	}

	data := bytes.Repeat([]byte{0x12, 0x34}, rinx.SectorSize512)
	if err := d.Transfer(0, 2, 3, data, blockdev.DirWrite); err != nil {
		t.Fatalf("write Transfer failed: %v", err)
	}
	if err := d.Sync(0); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	got := make([]byte, len(data))
	if err := d.Transfer(0, 2, 3, got, blockdev.DirRead); err != nil {
		t.Fatalf("read Transfer failed: %v", err)
	}
	if !bytes.Equal(data, got) {
		t.Errorf("read back different data")
	}

	// The partial trailing sector is not addressable.
	if err := d.Transfer(0, 1, 8, make([]byte, rinx.SectorSize512), blockdev.DirRead); !errors.Is(err, sberr.ErrIO) {
		t.Errorf("Transfer past the last whole sector = %v, want %v", err, sberr.ErrIO)
	}
	if err := d.Transfer(0, 2, 0, make([]byte, rinx.SectorSize512), blockdev.DirRead); !errors.Is(err, sberr.ErrInvalidParameter) {
		t.Errorf("Transfer with a short buffer = %v, want %v", err, sberr.ErrInvalidParameter)
	}

	onDisk, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading image: %v", err)
	}
	if !bytes.Equal(onDisk[3*rinx.SectorSize512:5*rinx.SectorSize512], data) {
		t.Errorf("image file does not hold the written sectors")
	}
}

func TestLocking(t *testing.T) {
	path := newImage(t, 4)
	d, err := Open(path, false)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := Open(path, false); !errors.Is(err, ErrLocked) {
		t.Errorf("second writable Open = %v, want %v", err, ErrLocked)
	}
	if _, err := Open(path, true); !errors.Is(err, ErrLocked) {
		t.Errorf("read-only Open of a writable image = %v, want %v", err, ErrLocked)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	r1, err := Open(path, true)
	if err != nil {
		t.Fatalf("read-only Open failed: %v", err)
	}
	defer r1.Close()
	r2, err := Open(path, true)
	if err != nil {
		t.Fatalf("second read-only Open failed: %v", err)
	}
	defer r2.Close()
	if _, err := Open(path, false); !errors.Is(err, ErrLocked) {
		t.Errorf("writable Open of a shared image = %v, want %v", err, ErrLocked)
	}
}

func TestOpenMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.img")
	if _, err := Open(path, false); !os.IsNotExist(err) {
		t.Errorf("Open(missing) = %v, want not-exist error", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("Open created %s", path)
	}
}

func TestReadOnlyImage(t *testing.T) {
	path := newImage(t, 8)
	d, err := Open(path, true)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer d.Close()

	if err := d.Transfer(0, 1, 0, make([]byte, rinx.SectorSize512), blockdev.DirWrite); err != sberr.ErrUnsupported {
		t.Errorf("write Transfer on read-only image = %v, want %v", err, sberr.ErrUnsupported)
	}

	reg := superblock.NewRegistry(superblock.Options{})
	probed := blockdev.Probe(d, reg)
	if len(probed) != 1 {
		t.Fatalf("Probe registered %d drives, want 1", len(probed))
	}
	desc := probed[0].Descriptor
	if desc.Writable() {
		t.Errorf("descriptor of a read-only image is writable")
	}
	if err := superblock.Write(desc, []byte{1}, 0); err != sberr.ErrUnsupported {
		t.Errorf("Write to read-only image = %v, want %v", err, sberr.ErrUnsupported)
	}
	got := make([]byte, 3)
	if err := superblock.Read(desc, got, 510); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !bytes.Equal(got, []byte{0xee, 0xee, 0xee}) {
		t.Errorf("Read = %x, want eeeeee", got)
	}
}

func TestController(t *testing.T) {
	d0, err := Open(newImage(t, 8), false)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	d2, err := Open(newImage(t, 16), false)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	c, err := NewController(d0, nil, d2)
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}
	defer c.Close()

	reg := superblock.NewRegistry(superblock.Options{})
	var names []string
	for _, p := range blockdev.Probe(c, reg) {
		names = append(names, p.Descriptor.DeviceName)
	}
	if diff := cmp.Diff([]string{"ide0", "ide2"}, names); diff != "" {
		t.Errorf("probed drives mismatch (-want +got):\n%s", diff)
	}

	desc := reg.FindByName("ide2")
	data := []byte("across a sector boundary")
	if err := superblock.Write(desc, data, 500); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := superblock.Flush(desc); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	got := make([]byte, len(data))
	if err := superblock.Read(desc, got, 500); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !bytes.Equal(data, got) {
		t.Errorf("Read = %q, want %q", got, data)
	}
	if err := c.Transfer(1, 1, 0, make([]byte, rinx.SectorSize512), blockdev.DirRead); !errors.Is(err, sberr.ErrIO) {
		t.Errorf("Transfer to empty position = %v, want %v", err, sberr.ErrIO)
	}

	if _, err := NewController(make([]*Disk, rinx.MaxIDEDrives+1)...); !errors.Is(err, sberr.ErrInvalidParameter) {
		t.Errorf("NewController with too many disks = %v, want %v", err, sberr.ErrInvalidParameter)
	}
}

func TestCloseDuringTransfers(t *testing.T) {
	d, err := Open(newImage(t, 8), false)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	c, err := NewController(d)
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}

	start := make(chan struct{})
	var g errgroup.Group
	for i := 0; i < 4; i++ {
		g.Go(func() error {
			<-start
			buf := make([]byte, rinx.SectorSize512)
			for j := 0; j < 200; j++ {
				if st := c.Drive(0); st.Present && st.Sectors != 8 {
					return fmt.Errorf("Drive(0) = %+v, want 8 sectors", st)
				}
				err := c.Transfer(0, 1, uint64(j%8), buf, blockdev.DirRead)
				if err != nil && !errors.Is(err, sberr.ErrIO) {
					return fmt.Errorf("Transfer = %v, want nil or %v", err, sberr.ErrIO)
				}
				if err := c.Sync(0); err != nil && !errors.Is(err, sberr.ErrIO) {
					return fmt.Errorf("Sync = %v, want nil or %v", err, sberr.ErrIO)
				}
			}
			return nil
		})
	}
	close(start)
	if err := c.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if err := g.Wait(); err != nil {
		t.Error(err)
	}

	if c.Drive(0).Present {
		t.Errorf("drive 0 still present after Close")
	}
	if err := c.Transfer(0, 1, 0, make([]byte, rinx.SectorSize512), blockdev.DirRead); !errors.Is(err, sberr.ErrIO) {
		t.Errorf("Transfer after Close = %v, want %v", err, sberr.ErrIO)
	}
}
