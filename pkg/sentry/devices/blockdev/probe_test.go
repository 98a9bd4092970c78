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
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"rinx.dev/rinx/pkg/abi/rinx"
	"rinx.dev/rinx/pkg/errors/sberr"
	"rinx.dev/rinx/pkg/sentry/superblock"
)

func TestProbe(t *testing.T) {
	mt := NewMemTransport(rinx.SectorSize512)
	mt.AddDrive(0, 64, "QEMU HARDDISK")
	mt.AddDrive(2, 128, "QEMU HARDDISK")
	mt.AddATAPIDrive(3, 32, "QEMU DVD-ROM")

	reg := superblock.NewRegistry(superblock.Options{})
	probed := Probe(mt, reg)
	if got := len(probed); got != 3 {
		t.Fatalf("Probe registered %d drives, want 3", got)
	}
	if got := reg.Count(); got != 3 {
		t.Errorf("registry Count() = %d, want 3", got)
	}

	want := []superblock.Descriptor{
		{
			Kind:           superblock.KindBlock,
			SectorSize:     512,
			BlockSize:      4096,
			DescriptorSize: 1024,
			TotalBlocks:    8,
			FreeBlocks:     8,
			DeviceID:       0x1000,
			DeviceName:     "ide0",
			Magic:          0xdeadbeef,
			Version:        1,
			Features:       rinx.FeatureWrite,
		},
		{
			Kind:           superblock.KindBlock,
			SectorSize:     512,
			BlockSize:      4096,
			DescriptorSize: 1024,
			TotalBlocks:    16,
			FreeBlocks:     16,
			DeviceID:       0x1002,
			DeviceName:     "ide2",
			Magic:          0xdeadbeef,
			Version:        1,
			Features:       rinx.FeatureWrite,
		},
		{
			Kind:           superblock.KindBlock,
			SectorSize:     512,
			BlockSize:      4096,
			DescriptorSize: 1024,
			TotalBlocks:    4,
			FreeBlocks:     4,
			DeviceID:       0x1003,
			DeviceName:     "ide3",
			Magic:          0xdeadbeef,
			Version:        1,
			Features:       0,
		},
	}
	opts := cmpopts.IgnoreFields(superblock.Descriptor{}, "Ops", "Private")
	if diff := cmp.Diff(want, reg.Snapshot(), opts); diff != "" {
		t.Errorf("registered descriptors mismatch (-want +got):\n%s", diff)
	}

	cd := reg.FindByName("ide3")
	if err := superblock.Write(cd, []byte{1}, 0); err != sberr.ErrUnsupported {
		t.Errorf("Write to ATAPI drive = %v, want %v", err, sberr.ErrUnsupported)
	}
	info, ok := cd.Private.(Info)
	if !ok {
		t.Fatalf("Private = %T, want Info", cd.Private)
	}
	if info.Model != "QEMU DVD-ROM" || !info.ReadOnly {
		t.Errorf("Private = %+v, want read-only QEMU DVD-ROM", info)
	}

	// Readiness follows the controller.
	hd := reg.FindByID(0x1002)
	if !superblock.IsReady(hd) {
		t.Errorf("ide2 not ready after probe")
	}
	mt.RemoveDrive(2)
	if superblock.IsReady(hd) {
		t.Errorf("ide2 ready after removal")
	}
	if err := superblock.Read(hd, make([]byte, 8), 0); err != sberr.ErrIO {
		t.Errorf("Read from removed drive = %v, want %v", err, sberr.ErrIO)
	}
}

func TestProbeSkipsUnregisterable(t *testing.T) {
	mt := NewMemTransport(rinx.SectorSize512)
	for i := uint8(0); i < rinx.MaxIDEDrives; i++ {
		mt.AddDrive(i, 8, "")
	}
	reg := superblock.NewRegistry(superblock.Options{InitialSlots: 2, MaxSlots: 2})
	probed := Probe(mt, reg)
	var names []string
	for _, p := range probed {
		names = append(names, p.Descriptor.DeviceName)
	}
	if diff := cmp.Diff([]string{"ide0", "ide1"}, names); diff != "" {
		t.Errorf("probed drives mismatch (-want +got):\n%s", diff)
	}
}
