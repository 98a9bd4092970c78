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

// Package netdev provides network-backed drives.
//
// A Server exports the drives of any blockdev.Controller over a stream
// connection, and a Client is a blockdev.Controller for the drives of a
// remote Server. Attach puts a remote drive behind the block translation
// layer and registers it as a KindNet descriptor.
package netdev

import (
	"fmt"

	"rinx.dev/rinx/pkg/abi/rinx"
	"rinx.dev/rinx/pkg/errors/sberr"
	"rinx.dev/rinx/pkg/log"
	"rinx.dev/rinx/pkg/metric"
	"rinx.dev/rinx/pkg/sentry/devices/blockdev"
	"rinx.dev/rinx/pkg/sentry/superblock"
)

var (
	requests      = metric.MustCreateNewUint64Metric("/netdev/requests", "Number of network drive requests sent or served.")
	requestErrors = metric.MustCreateNewUint64Metric("/netdev/request_errors", "Number of network drive requests that failed.")
	dialRetries   = metric.MustCreateNewUint64Metric("/netdev/dial_retries", "Number of redials while connecting to a server.")
)

// Attached is a remote drive registered by Attach.
type Attached struct {
	Handle     superblock.Handle
	Descriptor superblock.Descriptor
	Device     *blockdev.Device
}

// Attach registers remote drive number drive of c as network device index.
// The descriptor gets id rinx.NetDeviceIDBase+index and name "net<index>".
// It is ready while the connection is alive and the server reports the
// drive present.
func Attach(c *Client, reg *superblock.Registry, drive uint8, index int) (Attached, error) {
	st := c.Drive(drive)
	if !st.Present {
		return Attached{}, fmt.Errorf("%s has no drive %d: %w", c.Addr(), drive, sberr.ErrIO)
	}
	dev, err := blockdev.New(c, blockdev.Info{
		Drive:        drive,
		SectorSize:   st.SectorSize,
		TotalSectors: st.Sectors,
		ReadOnly:     st.ATAPI,
		Model:        st.Model,
	}, c.Alive)
	if err != nil {
		return Attached{}, err
	}
	desc := dev.Descriptor(superblock.KindNet, uint32(rinx.NetDeviceIDBase+index), fmt.Sprintf("net%d", index), rinx.NETDEV_MAGIC)
	h, err := reg.Register(desc)
	if err != nil {
		return Attached{}, err
	}
	log.Infof("netdev: Registered drive %d of %s as superblock %s", drive, c.Addr(), desc.DeviceName)
	return Attached{Handle: h, Descriptor: desc, Device: dev}, nil
}
