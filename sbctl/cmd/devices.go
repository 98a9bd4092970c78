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
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/google/subcommands"
	"rinx.dev/rinx/pkg/sentry/superblock"
	"rinx.dev/rinx/sbctl/config"
)

// output is where commands print their results.
var output io.Writer = os.Stdout

// Devices implements subcommands.Command for the "devices" command.
type Devices struct {
	filesystems bool
}

// Name implements subcommands.Command.Name.
func (*Devices) Name() string {
	return "devices"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Devices) Synopsis() string {
	return "list registered superblocks"
}

// Usage implements subcommands.Command.Usage.
func (*Devices) Usage() string {
	return `devices [flags] - list every superblock registered from the device table.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (d *Devices) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&d.filesystems, "fs", false, "also list registered filesystems.")
}

// Execute implements subcommands.Command.Execute.
func (d *Devices) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	l, err := load(ctx, conf)
	if err != nil {
		return Errorf("loading devices: %v", err)
	}
	defer l.Close()

	w := tabwriter.NewWriter(output, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tKIND\tBLOCKS\tBLOCK SIZE\tREADY\tCAPABILITIES")
	err = l.Superblocks.ForEach(func(sb superblock.Descriptor) bool {
		fmt.Fprintf(w, "%#x\t%s\t%v\t%d\t%d\t%t\t%s\n",
			sb.DeviceID, sb.DeviceName, sb.Kind, sb.TotalBlocks, sb.BlockSize,
			superblock.IsReady(sb), strings.Join(sb.Capabilities(), ","))
		return true
	})
	if err != nil {
		return Errorf("listing superblocks: %v", err)
	}
	if d.filesystems {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "FILESYSTEM\tDEVICE")
		for _, fs := range l.Filesystems.Filesystems() {
			fmt.Fprintf(w, "%s\t%s\n", fs.Name, fs.Superblock.DeviceName)
		}
	}
	w.Flush()
	return subcommands.ExitSuccess
}
