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
	"text/tabwriter"

	"github.com/google/subcommands"
	"rinx.dev/rinx/pkg/metric"
	"rinx.dev/rinx/sbctl/config"
)

// Stats implements subcommands.Command for the "stats" command.
type Stats struct {
	describe bool
}

// Name implements subcommands.Command.Name.
func (*Stats) Name() string {
	return "stats"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Stats) Synopsis() string {
	return "show registry occupancy and storage counters"
}

// Usage implements subcommands.Command.Usage.
func (*Stats) Usage() string {
	return `stats [flags] - bring up the device table and print registry occupancy and counters.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Stats) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&s.describe, "describe", false, "include metric descriptions.")
}

// Execute implements subcommands.Command.Execute.
func (s *Stats) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
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

	fmt.Fprintf(output, "superblocks: %d of %d slots\n", l.Superblocks.Count(), l.Superblocks.Len())
	fmt.Fprintf(output, "filesystems: %d\n", len(l.Filesystems.Filesystems()))

	metric.EmitSnapshot()
	w := tabwriter.NewWriter(output, 0, 8, 2, ' ', 0)
	for _, sample := range metric.Snapshot() {
		if s.describe {
			fmt.Fprintf(w, "%s\t%d\t%s\n", sample.Name, sample.Value, sample.Description)
		} else {
			fmt.Fprintf(w, "%s\t%d\n", sample.Name, sample.Value)
		}
	}
	w.Flush()
	return subcommands.ExitSuccess
}
