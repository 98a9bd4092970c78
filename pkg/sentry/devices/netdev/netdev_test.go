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
	"bytes"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"rinx.dev/rinx/pkg/abi/rinx"
	"rinx.dev/rinx/pkg/errors/sberr"
	"rinx.dev/rinx/pkg/sentry/devices/blockdev"
	"rinx.dev/rinx/pkg/sentry/superblock"
)

// startServer serves mt on a loopback listener and returns a connected
// client. The returned function stops the server and waits for Serve.
func startServer(t *testing.T, mt *blockdev.MemTransport) (*Client, func() error) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- NewServer(mt).Serve(ctx, l)
	}()

	c, err := Dial(context.Background(), l.Addr().String(), DialOptions{MaxRetries: 3, InitialInterval: time.Millisecond})
	if err != nil {
		cancel()
		t.Fatalf("Dial failed: %v", err)
	}
	stopped := false
	stop := func() error {
		if stopped {
			return nil
		}
		stopped = true
		cancel()
		return <-done
	}
	t.Cleanup(func() {
		c.Close()
		stop()
	})
	return c, stop
}

func newMem() *blockdev.MemTransport {
	mt := blockdev.NewMemTransport(rinx.SectorSize512)
	mt.AddDrive(0, 32, "REMOTE")
	mt.AddATAPIDrive(1, 8, "REMOTE CD")
	return mt
}

func TestRequestLayout(t *testing.T) {
	var buf bytes.Buffer
	req := Request{Op: OpWrite, Drive: 3, Count: 0x01020304, Start: 0x1122334455667788}
	if _, err := req.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo failed: %v", err)
	}
	want := []byte{
		0x02, 0x03, 0x00, 0x00,
		0x04, 0x03, 0x02, 0x01,
		0x88, 0x77, 0x66, 0x55, 0x44, 0x33, 0x22, 0x11,
	}
	if diff := cmp.Diff(want, buf.Bytes()); diff != "" {
		t.Errorf("encoded request mismatch (-want +got):\n%s", diff)
	}
	got, err := ReadRequest(&buf)
	if err != nil {
		t.Fatalf("ReadRequest failed: %v", err)
	}
	if got != req {
		t.Errorf("ReadRequest = %+v, want %+v", got, req)
	}
}

func TestHello(t *testing.T) {
	c, _ := startServer(t, newMem())
	for _, tc := range []struct {
		drive uint8
		want  Hello
	}{
		{drive: 0, want: Hello{Present: true, SectorSize: 512, Sectors: 32}},
		{drive: 1, want: Hello{Present: true, ReadOnly: true, SectorSize: 512, Sectors: 8}},
		{drive: 2, want: Hello{}},
	} {
		got, err := c.Hello(tc.drive)
		if err != nil {
			t.Fatalf("Hello(%d) failed: %v", tc.drive, err)
		}
		if got != tc.want {
			t.Errorf("Hello(%d) = %+v, want %+v", tc.drive, got, tc.want)
		}
	}
}

func TestAttachRoundTrip(t *testing.T) {
	mt := newMem()
	c, _ := startServer(t, mt)
	reg := superblock.NewRegistry(superblock.Options{})

	a, err := Attach(c, reg, 0, 0)
	if err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	d := reg.FindByName("net0")
	if d.IsNull() {
		t.Fatalf("net0 not registered")
	}
	if d.Kind != superblock.KindNet || d.DeviceID != rinx.NetDeviceIDBase || d.Magic != rinx.NETDEV_MAGIC {
		t.Errorf("descriptor = %v, want a net device with id %#x and magic %#x", d, rinx.NetDeviceIDBase, rinx.NETDEV_MAGIC)
	}
	if d.TotalBlocks != 32*512/4096 {
		t.Errorf("TotalBlocks = %d, want %d", d.TotalBlocks, 32*512/4096)
	}
	if !a.Handle.Valid() {
		t.Errorf("Attach returned an invalid handle")
	}

	data := []byte("remote bytes straddling sectors")
	if err := superblock.Write(d, data, 1020); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	got := make([]byte, len(data))
	if err := superblock.Read(d, got, 1020); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !bytes.Equal(data, got) {
		t.Errorf("Read = %q, want %q", got, data)
	}
	if !bytes.Equal(mt.Contents(0)[1020:1020+len(data)], data) {
		t.Errorf("server media does not hold the written bytes")
	}

	if err := superblock.Flush(d); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if mt.Syncs() != 1 {
		t.Errorf("server saw %d syncs, want 1", mt.Syncs())
	}

	if _, err := Attach(c, reg, 5, 1); !errors.Is(err, sberr.ErrIO) {
		t.Errorf("Attach of an absent drive = %v, want %v", err, sberr.ErrIO)
	}
}

func TestTransferLargerThanOneRequest(t *testing.T) {
	const driveBytes = 64 << 20
	mt := blockdev.NewMemTransport(rinx.SectorSize512)
	mt.AddDrive(0, driveBytes/rinx.SectorSize512, "REMOTE")
	c, _ := startServer(t, mt)
	reg := superblock.NewRegistry(superblock.Options{})
	if _, err := Attach(c, reg, 0, 0); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	d := reg.FindByName("net0")

	data := make([]byte, 20<<20)
	for i := range data {
		data[i] = byte(i * 13)
	}
	before := mt.Transfers()
	if err := superblock.Write(d, data, 0); err != nil {
		t.Fatalf("Write of %d bytes failed: %v", len(data), err)
	}
	// 20 MiB is one 16 MiB request and one 4 MiB request.
	if got := mt.Transfers() - before; got != 2 {
		t.Errorf("Write issued %d requests, want 2", got)
	}
	got := make([]byte, len(data))
	if err := superblock.Read(d, got, 0); err != nil {
		t.Fatalf("Read of %d bytes failed: %v", len(got), err)
	}
	if !bytes.Equal(data, got) {
		t.Errorf("Read after Write returned different bytes")
	}
	if !bytes.Equal(mt.Contents(0)[:len(data)], data) {
		t.Errorf("server media does not hold the written bytes")
	}
}

func TestServerErrors(t *testing.T) {
	mt := newMem()
	c, _ := startServer(t, mt)
	sector := make([]byte, rinx.SectorSize512)

	if err := c.Transfer(1, 1, 0, sector, blockdev.DirWrite); !errors.Is(err, sberr.ErrUnsupported) {
		t.Errorf("write to a read-only remote drive = %v, want %v", err, sberr.ErrUnsupported)
	}
	if err := c.Transfer(0, 1, 32, sector, blockdev.DirRead); !errors.Is(err, sberr.ErrNoSpace) {
		t.Errorf("read past the end = %v, want %v", err, sberr.ErrNoSpace)
	}

	mt.FailAfter(0)
	if err := c.Transfer(0, 1, 0, sector, blockdev.DirRead); !errors.Is(err, sberr.ErrIO) {
		t.Errorf("read with failing media = %v, want %v", err, sberr.ErrIO)
	}
	mt.FailAfter(-1)

	// Server-side failures keep the connection usable.
	if !c.Alive() {
		t.Fatalf("client broken after server-side errors")
	}
	if err := c.Transfer(0, 1, 0, sector, blockdev.DirRead); err != nil {
		t.Errorf("read after server-side errors failed: %v", err)
	}
}

func TestShutdown(t *testing.T) {
	c, stop := startServer(t, newMem())
	reg := superblock.NewRegistry(superblock.Options{})
	a, err := Attach(c, reg, 0, 0)
	if err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	if err := stop(); err != nil {
		t.Fatalf("Serve returned %v after shutdown, want nil", err)
	}

	if err := c.Transfer(0, 1, 0, make([]byte, rinx.SectorSize512), blockdev.DirRead); !errors.Is(err, sberr.ErrIO) {
		t.Errorf("Transfer after shutdown = %v, want %v", err, sberr.ErrIO)
	}
	if c.Alive() {
		t.Errorf("client alive after the server closed the connection")
	}
	if superblock.IsReady(a.Descriptor) {
		t.Errorf("net device ready after the connection dropped")
	}
	if err := superblock.Read(a.Descriptor, make([]byte, 4), 0); err != sberr.ErrIO {
		t.Errorf("Read after the connection dropped = %v, want %v", err, sberr.ErrIO)
	}
}

func TestDialFailure(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	addr := l.Addr().String()
	l.Close()

	start := dialRetries.Value()
	if _, err := Dial(context.Background(), addr, DialOptions{MaxRetries: 2, InitialInterval: time.Millisecond}); err == nil {
		t.Fatalf("Dial to a closed port succeeded")
	}
	if got := dialRetries.Value() - start; got != 2 {
		t.Errorf("Dial retried %d times, want 2", got)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Dial(ctx, addr, DialOptions{MaxRetries: 100}); err == nil {
		t.Errorf("Dial with a cancelled context succeeded")
	}
}
