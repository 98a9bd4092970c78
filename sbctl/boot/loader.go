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

// Package boot brings up the storage core described by a device table.
package boot

import (
	"context"
	"fmt"
	"strconv"

	"golang.org/x/sync/errgroup"
	"rinx.dev/rinx/pkg/cleanup"
	"rinx.dev/rinx/pkg/errors/sberr"
	"rinx.dev/rinx/pkg/log"
	"rinx.dev/rinx/pkg/sentry/devices/blockdev"
	"rinx.dev/rinx/pkg/sentry/devices/hostdisk"
	"rinx.dev/rinx/pkg/sentry/devices/netdev"
	"rinx.dev/rinx/pkg/sentry/devices/ramdev"
	"rinx.dev/rinx/pkg/sentry/superblock"
	"rinx.dev/rinx/pkg/sentry/vfs"
	"rinx.dev/rinx/sbctl/config"
)

// Loader holds the registries and the device backends behind them.
type Loader struct {
	// Superblocks holds every registered device.
	Superblocks *superblock.Registry

	// Filesystems holds the filesystems living on those devices.
	Filesystems *vfs.Registry

	// IDE is the host disk controller. It is nil if no images are
	// configured.
	IDE *hostdisk.Controller

	// RAM is the RAM device, or nil.
	RAM *ramdev.Store

	// Net holds one client per configured remote drive.
	Net []*netdev.Client
}

// New opens every device in devs and registers it. Remote servers are
// dialed concurrently. On error everything opened so far is closed.
func New(ctx context.Context, devs config.Devices) (*Loader, error) {
	if err := devs.Validate(); err != nil {
		return nil, err
	}
	l := &Loader{
		Superblocks: superblock.NewRegistry(superblock.Options{
			InitialSlots: devs.Registry.InitialSlots,
			MaxSlots:     devs.Registry.MaxSlots,
		}),
		Filesystems: vfs.NewRegistry(),
	}
	cu := cleanup.Make(func() { l.Close() })
	defer cu.Clean()

	if len(devs.IDE) > 0 {
		disks := make([]*hostdisk.Disk, len(devs.IDE))
		for i, ide := range devs.IDE {
			d, err := hostdisk.Open(ide.Image, ide.ReadOnly)
			if err != nil {
				for _, opened := range disks[:i] {
					opened.Close()
				}
				return nil, fmt.Errorf("ide drive %d: %w", i, err)
			}
			disks[i] = d
		}
		ctrl, err := hostdisk.NewController(disks...)
		if err != nil {
			for _, d := range disks {
				d.Close()
			}
			return nil, err
		}
		l.IDE = ctrl
		blockdev.Probe(ctrl, l.Superblocks)
	}

	if devs.RAM.Size > 0 {
		s, _, err := ramdev.Register(l.Superblocks, devs.RAM.Size)
		if err != nil {
			return nil, fmt.Errorf("ram device: %w", err)
		}
		l.RAM = s
		if err := l.Filesystems.RegisterFilesystem(ramdev.NewFilesystem(s)); err != nil {
			return nil, err
		}
	}

	if len(devs.Net) > 0 {
		l.Net = make([]*netdev.Client, len(devs.Net))
		g, gctx := errgroup.WithContext(ctx)
		for i, n := range devs.Net {
			i, n := i, n
			timeout, _ := n.DialTimeout()
			g.Go(func() error {
				c, err := netdev.Dial(gctx, n.Addr, netdev.DialOptions{
					MaxRetries: n.Retries,
					MaxElapsed: timeout,
				})
				if err != nil {
					return fmt.Errorf("net drive %d: %w", i, err)
				}
				l.Net[i] = c
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		for i, n := range devs.Net {
			if _, err := netdev.Attach(l.Net[i], l.Superblocks, n.Drive, i); err != nil {
				log.Warningf("boot: Skipping net drive %d: %v", i, err)
			}
		}
	}

	log.Infof("boot: %d superblocks registered", l.Superblocks.Count())
	cu.Release()
	return l, nil
}

// Close releases every device backend. Registered descriptors stay in the
// registry but stop being ready.
func (l *Loader) Close() error {
	var firstErr error
	for _, c := range l.Net {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if l.IDE != nil {
		if err := l.IDE.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Lookup finds a superblock by device id or, failing that, by name. An id
// may be given in any base strconv.ParseUint accepts with base 0, e.g.
// "0x1000".
func (l *Loader) Lookup(ref string) (superblock.Descriptor, error) {
	if id, err := strconv.ParseUint(ref, 0, 32); err == nil {
		if d := l.Superblocks.FindByID(uint32(id)); !d.IsNull() {
			return d, nil
		}
	}
	if d := l.Superblocks.FindByName(ref); !d.IsNull() {
		return d, nil
	}
	return superblock.Null(), fmt.Errorf("no superblock %q: %w", ref, sberr.ErrInvalidParameter)
}
