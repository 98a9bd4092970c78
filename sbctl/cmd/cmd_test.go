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
	"bytes"
	"context"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/subcommands"
	"rinx.dev/rinx/sbctl/config"
)

// newConfig returns a config with a 1 MiB IDE image and a 64 KiB RAM device.
func newConfig(t *testing.T) (*config.Config, string) {
	t.Helper()
	img := filepath.Join(t.TempDir(), "disk0.img")
	if err := os.WriteFile(img, make([]byte, 1<<20), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return &config.Config{
		LogFormat: "text",
		Devices: config.Devices{
			IDE: []config.IDEDrive{{Image: img}},
			RAM: config.RAMDevice{Size: 64 << 10},
		},
	}, img
}

// run executes c with args and returns what it printed.
func run(t *testing.T, c subcommands.Command, conf *config.Config, args ...string) (string, subcommands.ExitStatus) {
	t.Helper()
	f := flag.NewFlagSet(c.Name(), flag.ContinueOnError)
	c.SetFlags(f)
	if err := f.Parse(args); err != nil {
		t.Fatalf("parsing %v: %v", args, err)
	}
	var buf bytes.Buffer
	saved := output
	output = &buf
	defer func() { output = saved }()
	status := c.Execute(context.Background(), f, conf)
	return buf.String(), status
}

func TestDevices(t *testing.T) {
	conf, _ := newConfig(t)
	out, status := run(t, &Devices{}, conf, "-fs")
	if status != subcommands.ExitSuccess {
		t.Fatalf("devices exited with %v", status)
	}
	for _, want := range []string{"ide0", "0x1000", "ramfs", "0x2000", "read,write,flush,ioctl,ready", "FILESYSTEM"} {
		if !strings.Contains(out, want) {
			t.Errorf("devices output missing %q:\n%s", want, out)
		}
	}
}

func TestInspect(t *testing.T) {
	conf, _ := newConfig(t)
	out, status := run(t, &Inspect{}, conf, "0x1000")
	if status != subcommands.ExitSuccess {
		t.Fatalf("inspect exited with %v", status)
	}
	for _, want := range []string{"name:         ide0", "model:        HOSTDISK", "sectors:      2048", "writable: true"} {
		if !strings.Contains(out, want) {
			t.Errorf("inspect output missing %q:\n%s", want, out)
		}
	}

	if _, status := run(t, &Inspect{}, conf, "nosuchdevice"); status != subcommands.ExitFailure {
		t.Errorf("inspect of an unknown device exited with %v, want %v", status, subcommands.ExitFailure)
	}
	if _, status := run(t, &Inspect{}, conf); status != subcommands.ExitUsageError {
		t.Errorf("inspect without arguments exited with %v, want %v", status, subcommands.ExitUsageError)
	}
}

func TestWriteRead(t *testing.T) {
	conf, img := newConfig(t)
	if _, status := run(t, &Write{}, conf, "-data", "persisted", "ide0", "1000"); status != subcommands.ExitSuccess {
		t.Fatalf("write exited with %v", status)
	}
	media, err := os.ReadFile(img)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if got := string(media[1000:1009]); got != "persisted" {
		t.Errorf("image holds %q at 1000, want %q", got, "persisted")
	}

	out, status := run(t, &Read{}, conf, "ide0", "1000", "9")
	if status != subcommands.ExitSuccess {
		t.Fatalf("read exited with %v", status)
	}
	if !strings.Contains(out, "|persisted|") {
		t.Errorf("read output does not show the written bytes:\n%s", out)
	}

	dst := filepath.Join(t.TempDir(), "out.bin")
	if _, status := run(t, &Read{}, conf, "-out", dst, "0x1000", "0x3e8", "9"); status != subcommands.ExitSuccess {
		t.Fatalf("read -out exited with %v", status)
	}
	if got, err := os.ReadFile(dst); err != nil || string(got) != "persisted" {
		t.Errorf("read -out wrote %q, %v, want %q", got, err, "persisted")
	}

	if _, status := run(t, &Write{}, conf, "ide0", "0"); status != subcommands.ExitUsageError {
		t.Errorf("write without data exited with %v, want %v", status, subcommands.ExitUsageError)
	}
	if _, status := run(t, &Read{}, conf, "ramfs", "65536", "1"); status != subcommands.ExitFailure {
		t.Errorf("read past the end exited with %v, want %v", status, subcommands.ExitFailure)
	}
}

func TestFlush(t *testing.T) {
	conf, _ := newConfig(t)
	for _, dev := range []string{"ide0", "ramfs"} {
		if _, status := run(t, &Flush{}, conf, dev); status != subcommands.ExitSuccess {
			t.Errorf("flush %s exited with %v", dev, status)
		}
	}
}

func TestStats(t *testing.T) {
	conf, _ := newConfig(t)
	out, status := run(t, &Stats{}, conf)
	if status != subcommands.ExitSuccess {
		t.Fatalf("stats exited with %v", status)
	}
	for _, want := range []string{"superblocks: 2 of 26 slots", "filesystems: 1", "/superblock/registrations", "/blockdev/transfers"} {
		if !strings.Contains(out, want) {
			t.Errorf("stats output missing %q:\n%s", want, out)
		}
	}
}

func TestServeRejectsMissingSource(t *testing.T) {
	conf := &config.Config{LogFormat: "text"}
	for _, source := range []string{"ide", "ram", "floppy"} {
		if _, status := run(t, &Serve{}, conf, "-source", source); status != subcommands.ExitFailure {
			t.Errorf("serve -source %s exited with %v, want %v", source, status, subcommands.ExitFailure)
		}
	}
}
