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

package netdev

import (
	"encoding/binary"
	"fmt"
	"io"

	"rinx.dev/rinx/pkg/abi/rinx"
)

// Wire format. All integers are little endian.
//
// Request:
//
//	[1 byte: op]
//	[1 byte: drive]
//	[2 bytes: reserved, zero]
//	[4 bytes: sector count]
//	[8 bytes: start sector]
//	[count * sector size bytes: data, OpWrite only]
//
// Response:
//
//	[1 byte: status, a rinx.Result]
//	[count * sector size bytes: data, successful OpRead only]
//	[HelloSize bytes: geometry, successful OpHello only]

// Op is a request operation.
type Op uint8

// Request operations.
const (
	OpRead Op = iota + 1
	OpWrite
	OpSync
	OpHello
)

// String implements fmt.Stringer.String.
func (o Op) String() string {
	switch o {
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	case OpSync:
		return "sync"
	case OpHello:
		return "hello"
	default:
		return fmt.Sprintf("Op(%d)", uint8(o))
	}
}

// RequestHeaderSize is the size of an encoded Request.
const RequestHeaderSize = 16

// HelloSize is the size of an encoded Hello.
const HelloSize = 16

// MaxTransferBytes bounds the data carried by one request.
const MaxTransferBytes = 16 << 20

// Request is a request header.
type Request struct {
	Op    Op
	Drive uint8
	Count uint32
	Start uint64
}

// WriteTo writes the encoded header to w.
func (r Request) WriteTo(w io.Writer) (int64, error) {
	var buf [RequestHeaderSize]byte
	buf[0] = uint8(r.Op)
	buf[1] = r.Drive
	binary.LittleEndian.PutUint32(buf[4:8], r.Count)
	binary.LittleEndian.PutUint64(buf[8:16], r.Start)
	n, err := w.Write(buf[:])
	return int64(n), err
}

// ReadRequest reads a request header from r.
func ReadRequest(r io.Reader) (Request, error) {
	var buf [RequestHeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Request{}, err
	}
	return Request{
		Op:    Op(buf[0]),
		Drive: buf[1],
		Count: binary.LittleEndian.Uint32(buf[4:8]),
		Start: binary.LittleEndian.Uint64(buf[8:16]),
	}, nil
}

// Hello is the geometry of one drive, returned for OpHello.
type Hello struct {
	Present    bool
	ReadOnly   bool
	SectorSize uint32
	Sectors    uint64
}

const (
	helloPresent  = 1 << 0
	helloReadOnly = 1 << 1
)

// encode writes h into buf, which must be HelloSize bytes.
func (h Hello) encode(buf []byte) {
	var flags uint8
	if h.Present {
		flags |= helloPresent
	}
	if h.ReadOnly {
		flags |= helloReadOnly
	}
	buf[0] = flags
	buf[1], buf[2], buf[3] = 0, 0, 0
	binary.LittleEndian.PutUint32(buf[4:8], h.SectorSize)
	binary.LittleEndian.PutUint64(buf[8:16], h.Sectors)
}

func decodeHello(buf []byte) Hello {
	return Hello{
		Present:    buf[0]&helloPresent != 0,
		ReadOnly:   buf[0]&helloReadOnly != 0,
		SectorSize: binary.LittleEndian.Uint32(buf[4:8]),
		Sectors:    binary.LittleEndian.Uint64(buf[8:16]),
	}
}

// readStatus reads a response status byte.
func readStatus(r io.Reader) (rinx.Result, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return rinx.Result(b[0]), nil
}
