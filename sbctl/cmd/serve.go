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
	"net"
	"os/signal"

	"github.com/google/subcommands"
	"golang.org/x/sys/unix"
	"rinx.dev/rinx/pkg/log"
	"rinx.dev/rinx/pkg/sentry/devices/blockdev"
	"rinx.dev/rinx/pkg/sentry/devices/netdev"
	"rinx.dev/rinx/sbctl/config"
)

// Serve implements subcommands.Command for the "serve" command.
type Serve struct {
	addr   string
	source string
}

// Name implements subcommands.Command.Name.
func (*Serve) Name() string {
	return "serve"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Serve) Synopsis() string {
	return "export local drives to network clients"
}

// Usage implements subcommands.Command.Usage.
func (*Serve) Usage() string {
	return `serve [flags] - export the IDE images or the RAM device of the device table until interrupted.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Serve) SetFlags(f *flag.FlagSet) {
	f.StringVar(&s.addr, "addr", "127.0.0.1:7070", "address to listen on.")
	f.StringVar(&s.source, "source", "ide", "drives to export: ide or ram.")
}

// Execute implements subcommands.Command.Execute.
func (s *Serve) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
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

	var ctrl blockdev.Controller
	switch s.source {
	case "ide":
		if l.IDE == nil {
			return Errorf("no IDE images configured")
		}
		ctrl = l.IDE
	case "ram":
		if l.RAM == nil {
			return Errorf("no RAM device configured")
		}
		ctrl = l.RAM
	default:
		return Errorf("invalid source %q, must be 'ide' or 'ram'", s.source)
	}

	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return Errorf("listening on %s: %v", s.addr, err)
	}
	ctx, stop := signal.NotifyContext(ctx, unix.SIGINT, unix.SIGTERM)
	defer stop()

	log.Infof("Serving %s drives on %v", s.source, lis.Addr())
	if err := netdev.NewServer(ctrl).Serve(ctx, lis); err != nil {
		return Errorf("serving: %v", err)
	}
	log.Infof("Server on %v stopped", lis.Addr())
	return subcommands.ExitSuccess
}
