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

package cmd

import (
	"context"
	"flag"
	"fmt"
	"strings"

	"github.com/google/subcommands"
	"rinx.dev/rinx/pkg/abi/rinx"
	"rinx.dev/rinx/pkg/sentry/devices/blockdev"
	"rinx.dev/rinx/pkg/sentry/superblock"
	"rinx.dev/rinx/sbctl/config"
)

// Inspect implements subcommands.Command for the "inspect" command.
type Inspect struct{}

// Name implements subcommands.Command.Name.
func (*Inspect) Name() string {
	return "inspect"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Inspect) Synopsis() string {
	return "show the descriptor of a superblock"
}

// Usage implements subcommands.Command.Usage.
func (*Inspect) Usage() string {
	return `inspect <id|name> - show the descriptor of a superblock.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Inspect) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Inspect) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	l, err := load(ctx, conf)
	if err != nil {
		return Errorf("loading devices: %v", err)
	}
	defer l.Close()

	sb, err := l.Lookup(f.Arg(0))
	if err != nil {
		return Errorf("%v", err)
	}
	printDescriptor(sb)
	return subcommands.ExitSuccess
}

func printDescriptor(sb superblock.Descriptor) {
	fmt.Fprintf(output, "name:         %s\n", sb.DeviceName)
	fmt.Fprintf(output, "id:           %#x\n", sb.DeviceID)
	fmt.Fprintf(output, "kind:         %v\n", sb.Kind)
	fmt.Fprintf(output, "magic:        %#x\n", sb.Magic)
	fmt.Fprintf(output, "version:      %d\n", sb.Version)
	fmt.Fprintf(output, "features:     %#x (writable: %t)\n", sb.Features, sb.Writable())
	fmt.Fprintf(output, "sector size:  %d\n", sb.SectorSize)
	fmt.Fprintf(output, "block size:   %d\n", sb.BlockSize)
	fmt.Fprintf(output, "blocks:       %d (%d free)\n", sb.TotalBlocks, sb.FreeBlocks)
	fmt.Fprintf(output, "capacity:     %d\n", sb.Capacity())
	fmt.Fprintf(output, "ready:        %t\n", superblock.IsReady(sb))
	fmt.Fprintf(output, "capabilities: %s\n", strings.Join(sb.Capabilities(), ","))

	var info blockdev.Info
	if err := superblock.Ioctl(sb, rinx.IoctlGetDeviceInfo, &info); err == nil {
		fmt.Fprintf(output, "drive:        %d\n", info.Drive)
		fmt.Fprintf(output, "model:        %s\n", info.Model)
		fmt.Fprintf(output, "sectors:      %d\n", info.TotalSectors)
		fmt.Fprintf(output, "read-only:    %t\n", info.ReadOnly)
	}
}
