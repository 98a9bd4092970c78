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
	"fmt"

	"rinx.dev/rinx/pkg/abi/rinx"
	"rinx.dev/rinx/pkg/errors/sberr"
	"rinx.dev/rinx/pkg/sentry/devices/blockdev"
	"rinx.dev/rinx/pkg/sync"
)

// Controller attaches up to rinx.MaxIDEDrives images as the drives of one
// controller. Drive positions without an image are empty.
type Controller struct {
	// mu is held for reading across every operation on an attached disk,
	// and for writing by Close.
	mu sync.RWMutex

	// drives is protected by mu.
	drives [rinx.MaxIDEDrives]*Disk
}

var (
	_ blockdev.Controller = (*Controller)(nil)
	_ blockdev.Syncer     = (*Controller)(nil)
)

// NewController returns a controller with disks[i] attached at position i.
// nil entries leave the position empty.
func NewController(disks ...*Disk) (*Controller, error) {
	if len(disks) > rinx.MaxIDEDrives {
		return nil, fmt.Errorf("%d disks for %d drive positions: %w", len(disks), rinx.MaxIDEDrives, sberr.ErrInvalidParameter)
	}
	c := &Controller{}
	copy(c.drives[:], disks)
	return c, nil
}

// diskLocked returns the disk at position n, or nil.
//
// Preconditions: c.mu is locked.
func (c *Controller) diskLocked(n uint8) *Disk {
	if int(n) >= len(c.drives) {
		return nil
	}
	return c.drives[n]
}

// Drive implements blockdev.Controller.Drive.
func (c *Controller) Drive(n uint8) blockdev.DriveStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d := c.diskLocked(n)
	if d == nil {
		return blockdev.DriveStatus{}
	}
	return d.Drive(0)
}

// Transfer implements blockdev.Transport.Transfer.
func (c *Controller) Transfer(drive uint8, count uint32, start uint64, buf []byte, dir blockdev.Direction) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d := c.diskLocked(drive)
	if d == nil {
		return fmt.Errorf("no drive %d: %w", drive, sberr.ErrIO)
	}
	return d.Transfer(0, count, start, buf, dir)
}

// Sync implements blockdev.Syncer.Sync.
func (c *Controller) Sync(drive uint8) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d := c.diskLocked(drive)
	if d == nil {
		return fmt.Errorf("no drive %d: %w", drive, sberr.ErrIO)
	}
	return d.Sync(0)
}

// Close closes every attached image and returns the first error.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var first error
	for i, d := range c.drives {
		if d == nil {
			continue
		}
		if err := d.Close(); err != nil && first == nil {
			first = err
		}
		c.drives[i] = nil
	}
	return first
}
