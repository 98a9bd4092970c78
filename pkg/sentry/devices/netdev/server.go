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
	"errors"
	"io"
	"net"

	"golang.org/x/sync/errgroup"
	"rinx.dev/rinx/pkg/abi/rinx"
	"rinx.dev/rinx/pkg/errors/sberr"
	"rinx.dev/rinx/pkg/log"
	"rinx.dev/rinx/pkg/sentry/devices/blockdev"
)

// Server exports the drives of a controller over the network.
type Server struct {
	ctrl blockdev.Controller
}

// NewServer returns a server for the drives of ctrl.
func NewServer(ctrl blockdev.Controller) *Server {
	return &Server{ctrl: ctrl}
}

// Serve accepts connections on l until ctx is done, then closes l and every
// open connection and waits for their handlers. It returns nil after a
// shutdown requested through ctx.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(gctx, func() { l.Close() })
	defer stop()

	g.Go(func() error {
		for {
			conn, err := l.Accept()
			if err != nil {
				if gctx.Err() != nil {
					return nil
				}
				return err
			}
			log.Debugf("netdev: Accepted connection from %v", conn.RemoteAddr())
			g.Go(func() error {
				s.serveConn(gctx, conn)
				return nil
			})
		}
	})
	return g.Wait()
}

// serveConn handles requests on conn until the peer hangs up, a protocol
// error occurs or ctx is done.
func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()

	var buf []byte
	for {
		req, err := ReadRequest(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				log.Warningf("netdev: Reading request from %v: %v", conn.RemoteAddr(), err)
			}
			return
		}
		requests.Increment()

		st := s.ctrl.Drive(req.Drive)
		var (
			status rinx.Result
			resp   []byte
		)
		switch req.Op {
		case OpHello:
			resp = make([]byte, HelloSize)
			Hello{
				Present:    st.Present,
				ReadOnly:   st.ATAPI,
				SectorSize: uint32(st.SectorSize),
				Sectors:    st.Sectors,
			}.encode(resp)

		case OpRead, OpWrite:
			n := uint64(req.Count) * st.SectorSize
			if n > MaxTransferBytes {
				// The payload of an oversized write cannot be skipped
				// safely, so the connection is dropped.
				writeStatus(conn, rinx.ErrorInvalidParam)
				log.Warningf("netdev: Dropping %v: %v of %d sectors is too large", conn.RemoteAddr(), req.Op, req.Count)
				return
			}
			if uint64(cap(buf)) < n {
				buf = make([]byte, n)
			}
			data := buf[:n]
			if req.Op == OpWrite {
				if _, err := io.ReadFull(conn, data); err != nil {
					log.Warningf("netdev: Reading write payload from %v: %v", conn.RemoteAddr(), err)
					return
				}
			}
			status = s.transfer(st, req, data)
			if req.Op == OpRead && status == rinx.Success {
				resp = data
			}

		case OpSync:
			status = s.sync(st, req.Drive)

		default:
			status = rinx.ErrorNotSupported
		}

		if status != rinx.Success {
			requestErrors.Increment()
			resp = nil
		}
		if err := writeResponse(conn, status, resp); err != nil {
			log.Warningf("netdev: Writing response to %v: %v", conn.RemoteAddr(), err)
			return
		}
	}
}

func (s *Server) transfer(st blockdev.DriveStatus, req Request, data []byte) rinx.Result {
	if !st.Present {
		return rinx.ErrorIO
	}
	if req.Op == OpWrite && st.ATAPI {
		return rinx.ErrorNotSupported
	}
	if req.Start+uint64(req.Count) > st.Sectors || req.Start+uint64(req.Count) < req.Start {
		return rinx.ErrorNoSpace
	}
	dir := blockdev.DirRead
	if req.Op == OpWrite {
		dir = blockdev.DirWrite
	}
	if err := s.ctrl.Transfer(req.Drive, req.Count, req.Start, data, dir); err != nil {
		log.Warningf("netdev: %v of drive %d failed: %v", req.Op, req.Drive, err)
		return sberr.ToResult(err)
	}
	return rinx.Success
}

func (s *Server) sync(st blockdev.DriveStatus, drive uint8) rinx.Result {
	if !st.Present {
		return rinx.ErrorIO
	}
	syncer, ok := s.ctrl.(blockdev.Syncer)
	if !ok {
		return rinx.Success
	}
	return sberr.ToResult(syncer.Sync(drive))
}

func writeStatus(w io.Writer, status rinx.Result) error {
	_, err := w.Write([]byte{byte(status)})
	return err
}

// writeResponse writes status and body with a single write.
func writeResponse(w io.Writer, status rinx.Result, body []byte) error {
	if len(body) == 0 {
		return writeStatus(w, status)
	}
	msg := make([]byte, 1+len(body))
	msg[0] = byte(status)
	copy(msg[1:], body)
	_, err := w.Write(msg)
	return err
}
