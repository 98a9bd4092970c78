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

// Package cli is the main entrypoint for sbctl.
package cli

import (
	"context"
	"flag"
	"io"
	"os"

	"github.com/google/subcommands"
	"rinx.dev/rinx/pkg/log"
	"rinx.dev/rinx/sbctl/cmd"
	"rinx.dev/rinx/sbctl/config"
)

// Main is the main entrypoint.
func Main() {
	// Register all commands.
	forEachCmd(subcommands.Register)

	// Register with the main command line.
	config.RegisterFlags(flag.CommandLine)

	// All subcommands must be registered before flag parsing.
	flag.Parse()

	// Create a new Config from the flags.
	conf, err := config.NewFromFlags(flag.CommandLine)
	if err != nil {
		cmd.Fatalf("%v", err)
	}

	var logFile io.Writer = os.Stderr
	if conf.LogFilename != "" {
		f, err := log.OpenFile(conf.LogFilename)
		if err != nil {
			cmd.Fatalf("%v", err)
		}
		logFile = f
		cmd.ErrorLogger = f
	}
	e, err := log.NewEmitter(conf.LogFormat, logFile)
	if err != nil {
		cmd.Fatalf("%v", err)
	}
	log.SetTarget(e)
	if conf.Debug {
		log.SetLevel(log.Debug)
	}

	log.Infof("***************************")
	log.Infof("Args: %s", os.Args)
	log.Infof("Config: %s", conf.ConfigFile)
	log.Infof("***************************")

	// Call the subcommand and pass in the configuration.
	os.Exit(int(subcommands.Execute(context.Background(), conf)))
}

// forEachCmd invokes the passed callback for each command supported by sbctl.
func forEachCmd(cb func(cmd subcommands.Command, group string)) {
	cb(subcommands.CommandsCommand(), "")
	cb(subcommands.FlagsCommand(), "")
	cb(subcommands.HelpCommand(), "")

	cb(new(cmd.Devices), "")
	cb(new(cmd.Inspect), "")
	cb(new(cmd.Read), "")
	cb(new(cmd.Write), "")
	cb(new(cmd.Flush), "")

	const serverGroup = "server"
	cb(new(cmd.Serve), serverGroup)

	const debugGroup = "debug"
	cb(new(cmd.Stats), debugGroup)
}
