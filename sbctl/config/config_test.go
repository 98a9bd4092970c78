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

package config

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

const tomlTable = `
[registry]
initial_slots = 4
max_slots = 64

[[ide]]
image = "/var/lib/rinx/disk0.img"

[[ide]]
image = "/var/lib/rinx/cd.iso"
read_only = true

[ram]
size = 1048576

[[net]]
addr = "10.0.0.2:7070"
drive = 1
retries = 5
timeout = "3s"
`

const yamlTable = `
registry:
  initial_slots: 4
  max_slots: 64
ide:
  - image: /var/lib/rinx/disk0.img
  - image: /var/lib/rinx/cd.iso
    read_only: true
ram:
  size: 1048576
net:
  - addr: 10.0.0.2:7070
    drive: 1
    retries: 5
    timeout: 3s
`

var wantTable = &Devices{
	Registry: Registry{InitialSlots: 4, MaxSlots: 64},
	IDE: []IDEDrive{
		{Image: "/var/lib/rinx/disk0.img"},
		{Image: "/var/lib/rinx/cd.iso", ReadOnly: true},
	},
	RAM: RAMDevice{Size: 1 << 20},
	Net: []NetDrive{
		{Addr: "10.0.0.2:7070", Drive: 1, Retries: 5, Timeout: "3s"},
	},
}

func TestDecode(t *testing.T) {
	for _, tc := range []struct {
		format string
		data   string
	}{
		{format: "toml", data: tomlTable},
		{format: "yaml", data: yamlTable},
	} {
		t.Run(tc.format, func(t *testing.T) {
			got, err := Decode(tc.format, []byte(tc.data))
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if diff := cmp.Diff(wantTable, got); diff != "" {
				t.Errorf("table mismatch (-want +got):\n%s", diff)
			}
			d, err := got.Net[0].DialTimeout()
			if err != nil || d != 3*time.Second {
				t.Errorf("DialTimeout = %v, %v, want 3s, nil", d, err)
			}
		})
	}
}

func TestDecodeEmpty(t *testing.T) {
	for _, format := range []string{"toml", "yaml"} {
		got, err := Decode(format, nil)
		if err != nil {
			t.Fatalf("Decode(%s) of an empty table failed: %v", format, err)
		}
		if diff := cmp.Diff(&Devices{}, got); diff != "" {
			t.Errorf("Decode(%s) mismatch (-want +got):\n%s", format, diff)
		}
	}
}

func TestDecodeErrors(t *testing.T) {
	for _, tc := range []struct {
		name   string
		format string
		data   string
	}{
		{name: "unknown toml key", format: "toml", data: "[ram]\nbytes = 4096\n"},
		{name: "unknown yaml key", format: "yaml", data: "ram:\n  bytes: 4096\n"},
		{name: "bad syntax", format: "toml", data: "[ram\n"},
		{name: "too many ide drives", format: "yaml", data: "ide: [{image: a}, {image: b}, {image: c}, {image: d}, {image: e}]\n"},
		{name: "ide without image", format: "toml", data: "[[ide]]\nread_only = true\n"},
		{name: "ram too large", format: "toml", data: "[ram]\nsize = 8589934592\n"},
		{name: "net without address", format: "yaml", data: "net:\n  - drive: 0\n"},
		{name: "net drive out of range", format: "yaml", data: "net:\n  - addr: a:1\n    drive: 4\n"},
		{name: "bad timeout", format: "toml", data: "[[net]]\naddr = \"a:1\"\ntimeout = \"soon\"\n"},
		{name: "negative slots", format: "toml", data: "[registry]\nmax_slots = -1\n"},
		{name: "unknown format", format: "json", data: "{}"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Decode(tc.format, []byte(tc.data)); err == nil {
				t.Errorf("Decode succeeded, want error")
			}
		})
	}
}

func TestFromFlags(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "devices.yml")
	if err := os.WriteFile(path, []byte(yamlTable), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(testFlags)
	for name, value := range map[string]string{
		"config":     path,
		"debug":      "true",
		"log-format": "json",
	} {
		if err := testFlags.Lookup(name).Value.Set(value); err != nil {
			t.Errorf("Flag set: %v", err)
		}
	}
	c, err := NewFromFlags(testFlags)
	if err != nil {
		t.Fatal(err)
	}
	if !c.Debug {
		t.Errorf("Debug=%v, want: true", c.Debug)
	}
	if want := "json"; c.LogFormat != want {
		t.Errorf("LogFormat=%v, want: %v", c.LogFormat, want)
	}
	if diff := cmp.Diff(*wantTable, c.Devices); diff != "" {
		t.Errorf("Devices mismatch (-want +got):\n%s", diff)
	}
}

func TestDefault(t *testing.T) {
	testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(testFlags)
	c, err := NewFromFlags(testFlags)
	if err != nil {
		t.Fatal(err)
	}
	want := &Config{LogFormat: "text"}
	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("default config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	if _, err := Load(filepath.Join(dir, "missing.toml")); err == nil {
		t.Errorf("Load of a missing file succeeded")
	}
	path := filepath.Join(dir, "devices.ini")
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Errorf("Load of an unknown extension succeeded")
	}

	testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(testFlags)
	if err := testFlags.Lookup("log-format").Value.Set("xml"); err != nil {
		t.Fatalf("Flag set: %v", err)
	}
	if _, err := NewFromFlags(testFlags); err == nil {
		t.Errorf("NewFromFlags accepted log format xml")
	}
}
