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
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/cenkalti/backoff"
	"rinx.dev/rinx/pkg/abi/rinx"
	"rinx.dev/rinx/pkg/errors/sberr"
	"rinx.dev/rinx/pkg/log"
	"rinx.dev/rinx/pkg/sentry/devices/blockdev"
	"rinx.dev/rinx/pkg/sync"
)

// DialOptions configures Dial.
type DialOptions struct {
	// Network is the network passed to net.Dialer. Empty means "tcp".
	Network string

	// MaxRetries bounds the number of redials after the first attempt.
	MaxRetries uint64

	// InitialInterval is the first delay between attempts. Zero means the
	// backoff package default.
	InitialInterval time.Duration

	// MaxElapsed bounds the total time spent dialing. Zero means the
	// backoff package default.
	MaxElapsed time.Duration
}

// Client is a Controller whose drives live on a remote Server.
//
// Requests are serialized: one request is on the wire at a time. Each
// transfer is attempted exactly once; a connection error breaks the client
// and every later request fails with sberr.ErrIO.
type Client struct {
	addr string

	// mu serializes requests and protects the fields below.
	mu sync.Mutex

	conn   net.Conn
	broken bool

	// geometry caches the Hello of each drive.
	geometry map[uint8]Hello
}

var (
	_ blockdev.Controller = (*Client)(nil)
	_ blockdev.Syncer     = (*Client)(nil)
)

// Dial connects to the server at addr, retrying with exponential backoff
// until the connection succeeds, the retry budget is spent or ctx is done.
func Dial(ctx context.Context, addr string, opts DialOptions) (*Client, error) {
	network := opts.Network
	if network == "" {
		network = "tcp"
	}
	eb := backoff.NewExponentialBackOff()
	if opts.InitialInterval > 0 {
		eb.InitialInterval = opts.InitialInterval
	}
	if opts.MaxElapsed > 0 {
		eb.MaxElapsedTime = opts.MaxElapsed
	}
	b := backoff.WithContext(backoff.WithMaxRetries(eb, opts.MaxRetries), ctx)

	var (
		d    net.Dialer
		conn net.Conn
	)
	attempt := 0
	op := func() error {
		attempt++
		if attempt > 1 {
			dialRetries.Increment()
		}
		c, err := d.DialContext(ctx, network, addr)
		if err != nil {
			log.Debugf("netdev: Dial %s attempt %d failed: %v", addr, attempt, err)
			return err
		}
		conn = c
		return nil
	}
	if err := backoff.Retry(op, b); err != nil {
		return nil, fmt.Errorf("dialing %s after %d attempts: %w", addr, attempt, err)
	}
	log.Infof("netdev: Connected to %s", addr)
	return NewClient(conn, addr), nil
}

// NewClient returns a client using an established connection.
func NewClient(conn net.Conn, addr string) *Client {
	return &Client{
		addr:     addr,
		conn:     conn,
		geometry: make(map[uint8]Hello),
	}
}

// Addr returns the server address.
func (c *Client) Addr() string {
	return c.addr
}

// Alive returns false once the connection has failed or been closed.
func (c *Client) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.broken
}

// Close closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.broken = true
	return c.conn.Close()
}

// failLocked breaks the connection after a wire error.
//
// Preconditions: c.mu must be locked.
func (c *Client) failLocked(op Op, err error) error {
	requestErrors.Increment()
	if !c.broken {
		log.Warningf("netdev: %v request to %s failed, dropping connection: %v", op, c.addr, err)
		c.broken = true
		c.conn.Close()
	}
	return fmt.Errorf("%v request to %s: %v: %w", op, c.addr, err, sberr.ErrIO)
}

// roundTripLocked sends req with payload and reads the status. If the
// status is rinx.Success, resp is filled from the rest of the response.
//
// Preconditions: c.mu must be locked.
func (c *Client) roundTripLocked(req Request, payload, resp []byte) error {
	if c.broken {
		return fmt.Errorf("connection to %s is down: %w", c.addr, sberr.ErrIO)
	}
	requests.Increment()
	if _, err := req.WriteTo(c.conn); err != nil {
		return c.failLocked(req.Op, err)
	}
	if len(payload) > 0 {
		if _, err := c.conn.Write(payload); err != nil {
			return c.failLocked(req.Op, err)
		}
	}
	status, err := readStatus(c.conn)
	if err != nil {
		return c.failLocked(req.Op, err)
	}
	if status != rinx.Success {
		requestErrors.Increment()
		return fmt.Errorf("%v request to %s: server: %w", req.Op, c.addr, sberr.FromResult(status))
	}
	if len(resp) > 0 {
		if _, err := io.ReadFull(c.conn, resp); err != nil {
			return c.failLocked(req.Op, err)
		}
	}
	return nil
}

// helloLocked returns the geometry of drive, asking the server once.
//
// Preconditions: c.mu must be locked.
func (c *Client) helloLocked(drive uint8) (Hello, error) {
	if h, ok := c.geometry[drive]; ok {
		return h, nil
	}
	var buf [HelloSize]byte
	if err := c.roundTripLocked(Request{Op: OpHello, Drive: drive}, nil, buf[:]); err != nil {
		return Hello{}, err
	}
	h := decodeHello(buf[:])
	if h.Present {
		c.geometry[drive] = h
	}
	return h, nil
}

// Hello returns the geometry of a remote drive.
func (c *Client) Hello(drive uint8) (Hello, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.helloLocked(drive)
}

// Drive implements blockdev.Controller.Drive. A drive the server cannot
// describe is reported absent.
func (c *Client) Drive(n uint8) blockdev.DriveStatus {
	h, err := c.Hello(n)
	if err != nil || !h.Present {
		return blockdev.DriveStatus{}
	}
	return blockdev.DriveStatus{
		Present:    true,
		ATAPI:      h.ReadOnly,
		SectorSize: uint64(h.SectorSize),
		Sectors:    h.Sectors,
		Model:      "NETDEV " + c.addr,
	}
}

// Transfer implements blockdev.Transport.Transfer. Transfers larger than
// MaxTransferBytes are split into several requests, all issued under c.mu so
// no other request interleaves with them.
func (c *Client) Transfer(drive uint8, count uint32, start uint64, buf []byte, dir blockdev.Direction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, err := c.helloLocked(drive)
	if err != nil {
		return err
	}
	if !h.Present {
		return fmt.Errorf("%s has no drive %d: %w", c.addr, drive, sberr.ErrIO)
	}
	sectorSize := uint64(h.SectorSize)
	perRequest := uint64(MaxTransferBytes) / sectorSize
	if uint64(len(buf)) < uint64(count)*sectorSize || perRequest == 0 {
		return fmt.Errorf("transfer of %d sectors with %d byte buffer: %w", count, len(buf), sberr.ErrInvalidParameter)
	}
	var op Op
	switch dir {
	case blockdev.DirRead:
		op = OpRead
	case blockdev.DirWrite:
		op = OpWrite
	default:
		return fmt.Errorf("bad direction %v: %w", dir, sberr.ErrInvalidParameter)
	}

	for left := uint64(count); left > 0; {
		n := min(left, perRequest)
		chunk := buf[:n*sectorSize]
		req := Request{Op: op, Drive: drive, Count: uint32(n), Start: start}
		if op == OpRead {
			err = c.roundTripLocked(req, nil, chunk)
		} else {
			err = c.roundTripLocked(req, chunk, nil)
		}
		if err != nil {
			return err
		}
		buf = buf[len(chunk):]
		start += n
		left -= n
	}
	return nil
}

// Sync implements blockdev.Syncer.Sync.
func (c *Client) Sync(drive uint8) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roundTripLocked(Request{Op: OpSync, Drive: drive}, nil, nil)
}
