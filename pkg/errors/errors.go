// Copyright 2021 The gVisor Authors.
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

// Package errors holds the standardized error definition for the storage
// core.
package errors

import (
	"golang.org/x/sys/unix"
	"rinx.dev/rinx/pkg/abi/rinx"
)

// Error represents a superblock result code with a descriptive message.
type Error struct {
	code    rinx.Result
	errno   unix.Errno
	message string
}

// New creates a new *Error.
func New(code rinx.Result, errno unix.Errno, message string) *Error {
	return &Error{
		code:    code,
		errno:   errno,
		message: message,
	}
}

// Error implements error.Error.
func (e *Error) Error() string { return e.message }

// Code returns the underlying rinx.Result value.
func (e *Error) Code() rinx.Result { return e.code }

// Errno returns the errno reported to callers crossing the syscall boundary.
func (e *Error) Errno() unix.Errno { return e.errno }
