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

// Package sberr contains the superblock error kinds exported as error
// interface pointers. This allows for fast comparison and return operations
// comparable to unix.Errno constants, while still supporting errors.Is on
// wrapped errors.
package sberr

import (
	goerrors "errors"

	"golang.org/x/sys/unix"
	"rinx.dev/rinx/pkg/abi/rinx"
	"rinx.dev/rinx/pkg/errors"
)

// The error kinds shared by every layer of the storage core.
var (
	noError *errors.Error = nil

	// ErrIO is returned when a transfer fails or a device is not ready.
	ErrIO = errors.New(rinx.ErrorIO, unix.EIO, "I/O error")

	// ErrInvalidParameter is returned for malformed requests: an empty
	// buffer, an absent capability or an unknown descriptor.
	ErrInvalidParameter = errors.New(rinx.ErrorInvalidParam, unix.EINVAL, "invalid parameter")

	// ErrNoSpace is returned when a request exceeds the device capacity or
	// a buffer needed to service it cannot be obtained.
	ErrNoSpace = errors.New(rinx.ErrorNoSpace, unix.ENOSPC, "no space left on device")

	// ErrUnsupported is returned for disallowed operations, such as writing
	// to read-only media.
	ErrUnsupported = errors.New(rinx.ErrorNotSupported, unix.EOPNOTSUPP, "operation not supported")

	// ErrCorrupted is returned when on-media or on-wire data fails
	// validation.
	ErrCorrupted = errors.New(rinx.ErrorCorrupted, unix.EBADMSG, "data corrupted")
)

var byCode = [...]*errors.Error{
	rinx.Success:           noError,
	rinx.ErrorIO:           ErrIO,
	rinx.ErrorInvalidParam: ErrInvalidParameter,
	rinx.ErrorNoSpace:      ErrNoSpace,
	rinx.ErrorNotSupported: ErrUnsupported,
	rinx.ErrorCorrupted:    ErrCorrupted,
}

// FromResult returns the error for a result code. It returns nil for
// rinx.Success and ErrCorrupted for unknown codes.
func FromResult(r rinx.Result) error {
	if int(r) >= len(byCode) {
		return ErrCorrupted
	}
	if e := byCode[r]; e != nil {
		return e
	}
	return nil
}

// ToResult converts err into a result code. Errors that do not wrap one of
// the kinds above are reported as rinx.ErrorIO.
func ToResult(err error) rinx.Result {
	if err == nil {
		return rinx.Success
	}
	var e *errors.Error
	if goerrors.As(err, &e) && e != nil {
		return e.Code()
	}
	return rinx.ErrorIO
}

// Translate returns the errno for err, and false if err does not wrap one of
// the kinds above.
func Translate(err error) (unix.Errno, bool) {
	if err == nil {
		return 0, true
	}
	var e *errors.Error
	if goerrors.As(err, &e) && e != nil {
		return e.Errno(), true
	}
	return 0, false
}

// Equals returns true if err and target carry the same result code.
func Equals(err error, target *errors.Error) bool {
	if err == nil {
		return target == nil
	}
	if target == nil {
		return false
	}
	return ToResult(err) == target.Code()
}
