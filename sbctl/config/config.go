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

// Package config provides basic infrastructure to set configuration settings
// for sbctl. Each flag is registered by RegisterFlags, and the device table
// named by --config is decoded from TOML or YAML.
package config

import (
	"bytes"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
	"rinx.dev/rinx/pkg/abi/rinx"
	"rinx.dev/rinx/pkg/sentry/devices/ramdev"
)

// Config holds configuration that is not part of the device table.
type Config struct {
	// ConfigFile is the path of the device table. Empty means no devices.
	ConfigFile string

	// LogFilename is the filename to log to, if not empty.
	LogFilename string

	// LogFormat is the log format: "text" or "json".
	LogFormat string

	// Debug indicates that debug logging should be enabled.
	Debug bool

	// Devices is the decoded device table.
	Devices Devices
}

// Devices is the device table.
type Devices struct {
	// Registry sizes the superblock registry.
	Registry Registry `toml:"registry" yaml:"registry"`

	// IDE lists host disk images attached as IDE drives, in drive order.
	IDE []IDEDrive `toml:"ide" yaml:"ide"`

	// RAM configures the RAM device. A zero size means no RAM device.
	RAM RAMDevice `toml:"ram" yaml:"ram"`

	// Net lists remote drives.
	Net []NetDrive `toml:"net" yaml:"net"`
}

// Registry sizes the superblock registry. Zero values mean the defaults.
type Registry struct {
	InitialSlots int `toml:"initial_slots" yaml:"initial_slots"`
	MaxSlots     int `toml:"max_slots" yaml:"max_slots"`
}

// IDEDrive is a host disk image.
type IDEDrive struct {
	Image    string `toml:"image" yaml:"image"`
	ReadOnly bool   `toml:"read_only" yaml:"read_only"`
}

// RAMDevice configures the RAM device.
type RAMDevice struct {
	// Size is in bytes and is rounded up to a whole block.
	Size uint64 `toml:"size" yaml:"size"`
}

// NetDrive is one drive of a remote server.
type NetDrive struct {
	Addr  string `toml:"addr" yaml:"addr"`
	Drive uint8  `toml:"drive" yaml:"drive"`

	// Retries is the number of redials before giving up.
	Retries uint64 `toml:"retries" yaml:"retries"`

	// Timeout bounds the time spent dialing, e.g. "5s". Empty means the
	// default.
	Timeout string `toml:"timeout" yaml:"timeout"`
}

// DialTimeout returns the parsed Timeout.
func (n NetDrive) DialTimeout() (time.Duration, error) {
	if n.Timeout == "" {
		return 0, nil
	}
	return time.ParseDuration(n.Timeout)
}

// RegisterFlags registers flags used to populate Config.
func RegisterFlags(flagSet *flag.FlagSet) {
	flagSet.String("config", "", "path of the device table, in TOML (.toml) or YAML (.yaml, .yml).")
	flagSet.String("log", "", "file path where internal debug information is written, default is stderr.")
	flagSet.String("log-format", "text", "log format: text (default) or json.")
	flagSet.Bool("debug", false, "enable debug logging.")
}

// NewFromFlags creates a new Config with values coming from the given flag
// set, and loads the device table it names.
func NewFromFlags(flagSet *flag.FlagSet) (*Config, error) {
	conf := &Config{
		ConfigFile:  flagSet.Lookup("config").Value.String(),
		LogFilename: flagSet.Lookup("log").Value.String(),
		LogFormat:   flagSet.Lookup("log-format").Value.String(),
		Debug:       flagSet.Lookup("debug").Value.String() == "true",
	}
	switch conf.LogFormat {
	case "text", "json":
	default:
		return nil, fmt.Errorf("invalid log format %q, must be 'text' or 'json'", conf.LogFormat)
	}
	if conf.ConfigFile != "" {
		devs, err := Load(conf.ConfigFile)
		if err != nil {
			return nil, err
		}
		conf.Devices = *devs
	}
	return conf, nil
}

// Load reads the device table at path. The format follows the file
// extension.
func Load(path string) (*Devices, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read config: %w", err)
	}
	var format string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		format = "toml"
	case ".yaml", ".yml":
		format = "yaml"
	default:
		return nil, fmt.Errorf("unknown config format for %q, want .toml, .yaml or .yml", path)
	}
	devs, err := Decode(format, data)
	if err != nil {
		return nil, fmt.Errorf("unable to decode %q: %w", path, err)
	}
	return devs, nil
}

// Decode decodes and validates a device table in format "toml" or "yaml".
// Unknown keys are errors.
func Decode(format string, data []byte) (*Devices, error) {
	var devs Devices
	switch format {
	case "toml":
		md, err := toml.Decode(string(data), &devs)
		if err != nil {
			return nil, err
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("unknown keys %v", undecoded)
		}
	case "yaml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		// An empty document decodes to the zero table.
		if err := dec.Decode(&devs); err != nil && len(bytes.TrimSpace(data)) > 0 {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}
	if err := devs.Validate(); err != nil {
		return nil, err
	}
	return &devs, nil
}

// Validate checks the table for values the loader cannot satisfy.
func (d *Devices) Validate() error {
	if d.Registry.InitialSlots < 0 || d.Registry.MaxSlots < 0 {
		return fmt.Errorf("registry sizes must not be negative")
	}
	if len(d.IDE) > rinx.MaxIDEDrives {
		return fmt.Errorf("%d IDE drives configured, at most %d are supported", len(d.IDE), rinx.MaxIDEDrives)
	}
	for i, ide := range d.IDE {
		if ide.Image == "" {
			return fmt.Errorf("ide drive %d has no image", i)
		}
	}
	if d.RAM.Size > ramdev.MaxSize {
		return fmt.Errorf("ram size %d is larger than %d", d.RAM.Size, uint64(ramdev.MaxSize))
	}
	for i, n := range d.Net {
		if n.Addr == "" {
			return fmt.Errorf("net drive %d has no address", i)
		}
		if n.Drive >= rinx.MaxIDEDrives {
			return fmt.Errorf("net drive %d: drive number %d out of range", i, n.Drive)
		}
		if _, err := n.DialTimeout(); err != nil {
			return fmt.Errorf("net drive %d: %w", i, err)
		}
	}
	return nil
}
