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
	"encoding/hex"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
	"rinx.dev/rinx/pkg/log"
	"rinx.dev/rinx/pkg/sentry/superblock"
	"rinx.dev/rinx/sbctl/config"
)

// maxReadBytes bounds a single read command.
const maxReadBytes = 64 << 20

// Read implements subcommands.Command for the "read" command.
type Read struct {
	outPath string
}

// Name implements subcommands.Command.Name.
func (*Read) Name() string {
	return "read"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Read) Synopsis() string {
	return "read bytes from a superblock"
}

// Usage implements subcommands.Command.Usage.
func (*Read) Usage() string {
	return `read [flags] <id|name> <offset> <length> - read bytes from a superblock and print a hex dump.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *Read) SetFlags(f *flag.FlagSet) {
	f.StringVar(&r.outPath, "out", "", "write the raw bytes to this file instead of printing a hex dump.")
}

// Execute implements subcommands.Command.Execute.
func (r *Read) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 3 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	off, err := parseOffset(f.Arg(1))
	if err != nil {
		return Errorf("%v", err)
	}
	n, err := parseOffset(f.Arg(2))
	if err != nil {
		return Errorf("%v", err)
	}
	if n > maxReadBytes {
		return Errorf("length %d is larger than %d", n, maxReadBytes)
	}

	l, err := load(ctx, conf)
	if err != nil {
		return Errorf("loading devices: %v", err)
	}
	defer l.Close()

	sb, err := l.Lookup(f.Arg(0))
	if err != nil {
		return Errorf("%v", err)
	}
	buf := make([]byte, n)
	if err := superblock.Read(sb, buf, off); err != nil {
		return Errorf("reading %d bytes at %d from %s: %v", n, off, sb.DeviceName, err)
	}
	if r.outPath != "" {
		if err := os.WriteFile(r.outPath, buf, 0644); err != nil {
			return Errorf("writing %q: %v", r.outPath, err)
		}
		return subcommands.ExitSuccess
	}
	dumper := hex.Dumper(output)
	dumper.Write(buf)
	dumper.Close()
	return subcommands.ExitSuccess
}

// Write implements subcommands.Command for the "write" command.
type Write struct {
	data   string
	inPath string
	flush  bool
}

// Name implements subcommands.Command.Name.
func (*Write) Name() string {
	return "write"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Write) Synopsis() string {
	return "write bytes to a superblock"
}

// Usage implements subcommands.Command.Usage.
func (*Write) Usage() string {
	return `write [flags] <id|name> <offset> - write -data or the contents of -in to a superblock.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (w *Write) SetFlags(f *flag.FlagSet) {
	f.StringVar(&w.data, "data", "", "bytes to write.")
	f.StringVar(&w.inPath, "in", "", "file whose contents are written.")
	f.BoolVar(&w.flush, "flush", true, "flush the superblock after writing.")
}

// Execute implements subcommands.Command.Execute.
func (w *Write) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 2 || (w.data == "") == (w.inPath == "") {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	off, err := parseOffset(f.Arg(1))
	if err != nil {
		return Errorf("%v", err)
	}
	data := []byte(w.data)
	if w.inPath != "" {
		if data, err = os.ReadFile(w.inPath); err != nil {
			return Errorf("reading %q: %v", w.inPath, err)
		}
	}

	l, err := load(ctx, conf)
	if err != nil {
		return Errorf("loading devices: %v", err)
	}
	defer l.Close()

	sb, err := l.Lookup(f.Arg(0))
	if err != nil {
		return Errorf("%v", err)
	}
	if err := superblock.Write(sb, data, off); err != nil {
		return Errorf("writing %d bytes at %d to %s: %v", len(data), off, sb.DeviceName, err)
	}
	if w.flush {
		if err := superblock.Flush(sb); err != nil {
			return Errorf("flushing %s: %v", sb.DeviceName, err)
		}
	}
	log.Infof("Wrote %d bytes at %d to %s", len(data), off, sb.DeviceName)
	fmt.Fprintf(output, "wrote %d bytes\n", len(data))
	return subcommands.ExitSuccess
}

// Flush implements subcommands.Command for the "flush" command.
type Flush struct{}

// Name implements subcommands.Command.Name.
func (*Flush) Name() string {
	return "flush"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Flush) Synopsis() string {
	return "flush a superblock to its backing store"
}

// Usage implements subcommands.Command.Usage.
func (*Flush) Usage() string {
	return `flush <id|name> - flush a superblock to its backing store.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Flush) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Flush) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
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
	if err := superblock.Flush(sb); err != nil {
		return Errorf("flushing %s: %v", sb.DeviceName, err)
	}
	return subcommands.ExitSuccess
}
