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

	"rinx.dev/rinx/pkg/abi/rinx"
	"rinx.dev/rinx/pkg/log"
	"rinx.dev/rinx/pkg/sentry/superblock"
)

// DriveStatus is what a controller reports about one drive position.
type DriveStatus struct {
	// Present is set if a drive is attached.
	Present bool

	// ATAPI is set for packet-interface (optical) drives.
	ATAPI bool

	// SectorSize is the drive's transfer unit. Zero means
	// rinx.SectorSize512.
	SectorSize uint64

	// Sectors is the number of addressable sectors.
	Sectors uint64

	Model string
}

// Controller is a Transport with up to rinx.MaxIDEDrives drive positions.
type Controller interface {
	Transport

	// Drive reports the drive at position n.
	Drive(n uint8) DriveStatus
}

// Probed is a drive registered by Probe.
type Probed struct {
	Handle     superblock.Handle
	Descriptor superblock.Descriptor
	Device     *Device
}

// Probe registers a block descriptor for every drive present on ctrl. Drive
// i gets id rinx.IDEDeviceIDBase+i and name "ide<i>". A drive that cannot
// be registered is logged and skipped.
func Probe(ctrl Controller, reg *superblock.Registry) []Probed {
	var probed []Probed
	for i := uint8(0); i < rinx.MaxIDEDrives; i++ {
		st := ctrl.Drive(i)
		if !st.Present {
			continue
		}
		sectorSize := st.SectorSize
		if sectorSize == 0 {
			sectorSize = rinx.SectorSize512
		}
		n := i
		dev, err := New(ctrl, Info{
			Drive:        i,
			SectorSize:   sectorSize,
			TotalSectors: st.Sectors,
			ReadOnly:     st.ATAPI,
			Model:        st.Model,
		}, func() bool { return ctrl.Drive(n).Present })
		if err != nil {
			log.Warningf("ide_sb: Failed to set up drive %d: %v", i, err)
			continue
		}

		desc := dev.Descriptor(superblock.KindBlock, uint32(rinx.IDEDeviceIDBase)+uint32(i), fmt.Sprintf("ide%d", i), rinx.BlockSuperblockMagic)
		h, err := reg.Register(desc)
		if err != nil {
			log.Warningf("ide_sb: Failed to register drive %d: %v", i, err)
			continue
		}
		log.Infof("ide_sb: Registered drive %d as superblock %s (model %q, %d sectors)", i, desc.DeviceName, st.Model, st.Sectors)
		probed = append(probed, Probed{Handle: h, Descriptor: desc, Device: dev})
	}
	log.Infof("ide_sb: Probe completed, %d drives registered", len(probed))
	return probed
}
