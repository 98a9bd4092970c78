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

package superblock

import (
	"rinx.dev/rinx/pkg/errors/sberr"
)

// Read reads len(dst) bytes at byte offset off from the device described by
// d. The driver's result is returned unchanged.
func Read(d Descriptor, dst []byte, off uint64) error {
	r, ok := d.Ops.(Reader)
	if len(dst) == 0 || !ok {
		return sberr.ErrInvalidParameter
	}
	if !IsReady(d) {
		return sberr.ErrIO
	}
	return r.Read(dst, off)
}

// Write writes src at byte offset off to the device described by d. The
// driver's result is returned unchanged.
func Write(d Descriptor, src []byte, off uint64) error {
	w, ok := d.Ops.(Writer)
	if len(src) == 0 || !ok {
		return sberr.ErrInvalidParameter
	}
	if !IsReady(d) {
		return sberr.ErrIO
	}
	return w.Write(src, off)
}

// Flush commits buffered writes of the device described by d.
func Flush(d Descriptor) error {
	f, ok := d.Ops.(Flusher)
	if !ok {
		return sberr.ErrInvalidParameter
	}
	if !IsReady(d) {
		return sberr.ErrIO
	}
	return f.Flush()
}

// Ioctl sends a control command to the device described by d.
func Ioctl(d Descriptor, cmd uint32, arg any) error {
	i, ok := d.Ops.(Ioctler)
	if !ok {
		return sberr.ErrInvalidParameter
	}
	if !IsReady(d) {
		return sberr.ErrIO
	}
	return i.Ioctl(cmd, arg)
}

// IsReady returns true if the device described by d reports itself ready.
// A device without a readiness capability is never ready.
func IsReady(d Descriptor) bool {
	rc, ok := d.Ops.(ReadyChecker)
	if !ok {
		return false
	}
	return rc.IsReady()
}
