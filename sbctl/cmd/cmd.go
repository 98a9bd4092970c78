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

// Package cmd holds implementations of the sbctl commands.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/google/subcommands"
	"rinx.dev/rinx/pkg/log"
	"rinx.dev/rinx/sbctl/boot"
	"rinx.dev/rinx/sbctl/config"
)

// ErrorLogger is where error messages go in addition to the log.
var ErrorLogger io.Writer

// Errorf logs an error to the log and to ErrorLogger, and returns
// subcommands.ExitFailure.
func Errorf(format string, args ...any) subcommands.ExitStatus {
	msg := fmt.Sprintf(format, args...)
	log.Warningf("FATAL ERROR: %s", msg)
	fmt.Fprintln(os.Stderr, msg)
	if ErrorLogger != nil {
		fmt.Fprintln(ErrorLogger, msg)
	}
	return subcommands.ExitFailure
}

// Fatalf logs the same way as Errorf() does, plus *exits* the process.
func Fatalf(format string, args ...any) {
	Errorf(format, args...)
	os.Exit(int(subcommands.ExitFailure))
}

// load brings up the devices in conf's device table.
func load(ctx context.Context, conf *config.Config) (*boot.Loader, error) {
	return boot.New(ctx, conf.Devices)
}

// parseOffset parses a byte offset or length. Any base accepted by
// strconv.ParseUint is allowed.
func parseOffset(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid offset %q: %v", s, err)
	}
	return v, nil
}
