// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package reactor

import (
	"errors"
	"fmt"
	"net"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// Handlers are the callbacks invoked once per ready connection: accept,
// readable, writable, close. OnReadable reports whether the connection
// should stay open; returning false tears it down.
type Handlers struct {
	OnAccept   func(c *Conn)
	OnReadable func(c *Conn) (keepOpen bool)
	OnWritable func(c *Conn)
	OnClose    func(c *Conn)
}

// Reactor is the single-threaded epoll event loop that owns the
// listener and all accepted connections.
type Reactor struct {
	log      *zap.Logger
	handlers Handlers

	ln  *net.TCPListener
	sfd int
	efd int

	conns map[int]*Conn
	ready chan struct{}
}

// New builds a Reactor. A nil logger defaults to zap.NewNop(); the hot
// path never logs, only lifecycle events do.
func New(log *zap.Logger, h Handlers) *Reactor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reactor{log: log, handlers: h, conns: make(map[int]*Conn), ready: make(chan struct{})}
}

// Ready is closed once the listener is bound and Addr is safe to call.
func (r *Reactor) Ready() <-chan struct{} { return r.ready }

// Addr returns the bound listener address, valid only after Run has
// started (or returned an error). Useful for tests that bind port 0.
func (r *Reactor) Addr() net.Addr {
	if r.ln == nil {
		return nil
	}
	return r.ln.Addr()
}

// Close tears down the listener and epoll fd, causing a blocked Run to
// return. It exists for graceful shutdown and tests.
func (r *Reactor) Close() error {
	if r.ln != nil {
		r.ln.Close()
	}
	if r.efd != 0 {
		return unix.Close(r.efd)
	}
	return nil
}

// Run binds port with the given listen backlog and blocks, driving the
// epoll loop until Close is called or an unrecoverable error
// occurs. Accept/read/write errors on a single connection close that
// connection only; listener-level errors return.
func (r *Reactor) Run(port, backlog int) error {
	ln, sfd, err := listen(port, backlog)
	if err != nil {
		return fmt.Errorf("reactor: listen: %w", err)
	}
	r.ln = ln
	r.sfd = sfd
	defer r.ln.Close()

	efd, err := unix.EpollCreate1(0)
	if err != nil {
		return fmt.Errorf("reactor: epoll_create1: %w", err)
	}
	r.efd = efd
	defer unix.Close(efd)

	if err := unix.EpollCtl(efd, unix.EPOLL_CTL_ADD, sfd, &unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLET,
		Fd:     int32(sfd),
	}); err != nil {
		return fmt.Errorf("reactor: epoll_ctl add listener: %w", err)
	}

	r.log.Info("listening", zap.Int("port", port), zap.Int("backlog", backlog))
	close(r.ready)

	events := make([]unix.EpollEvent, 1024)
	for {
		n, err := unix.EpollWait(efd, events, -1)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("reactor: epoll_wait: %w", err)
		}
		for i := 0; i < n; i++ {
			r.handleEvent(events[i])
		}
	}
}

func (r *Reactor) handleEvent(ev unix.EpollEvent) {
	fd := int(ev.Fd)
	if fd == r.sfd {
		r.acceptLoop()
		return
	}

	c, ok := r.conns[fd]
	if !ok {
		r.log.Warn("epoll event for unknown fd", zap.Int("fd", fd))
		return
	}

	if ev.Events&unix.EPOLLIN != 0 {
		if !r.drainReadable(c) {
			r.closeConn(c)
			return
		}
	}
	if ev.Events&unix.EPOLLOUT != 0 {
		if r.handlers.OnWritable != nil {
			r.handlers.OnWritable(c)
		}
		if r.flushWrite(c) < 0 {
			r.closeConn(c)
			return
		}
	}
	if ev.Events&(unix.EPOLLRDHUP|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
		r.closeConn(c)
	}
}

// acceptLoop drains every pending connection off the edge-triggered
// listener fd in one pass: an edge-triggered fd only signals readiness
// once per arrival, so accept must loop until EAGAIN or a new
// connection could be missed.
func (r *Reactor) acceptLoop() {
	for {
		cfd, _, err := unix.Accept(r.sfd)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) {
				return
			}
			if errors.Is(err, unix.EINTR) {
				continue
			}
			r.log.Warn("accept failed", zap.Error(err))
			return
		}
		if err := setNonblocking(cfd); err != nil {
			r.log.Warn("setnonblocking failed", zap.Error(err), zap.Int("fd", cfd))
			unix.Close(cfd)
			continue
		}
		c := newConn(cfd)
		r.conns[cfd] = c
		if err := unix.EpollCtl(r.efd, unix.EPOLL_CTL_ADD, cfd, &unix.EpollEvent{
			Events: unix.EPOLLIN | unix.EPOLLET | unix.EPOLLRDHUP,
			Fd:     int32(cfd),
		}); err != nil {
			r.log.Warn("epoll_ctl add connection failed", zap.Error(err))
			unix.Close(cfd)
			delete(r.conns, cfd)
			continue
		}
		r.log.Info("accepted", zap.Int("fd", cfd))
		if r.handlers.OnAccept != nil {
			r.handlers.OnAccept(c)
		}
	}
}

// drainReadable reads until EAGAIN, growing the buffer as needed and
// calling OnReadable once the read buffer has been fully drained for
// this readiness notification, not once per chunk read.
func (r *Reactor) drainReadable(c *Conn) bool {
	for {
		c.compact()
		if len(c.freeSpace()) < len(c.readBuf)/2 {
			if !c.growRead() {
				r.log.Error("read buffer exceeded max size, closing", zap.Int("fd", c.fd))
				return false
			}
		}
		n, err := unix.Read(c.fd, c.freeSpace())
		if n > 0 {
			c.commitRead(n)
			continue
		}
		if n == 0 {
			r.log.Info("peer closed", zap.Int("fd", c.fd))
			return false
		}
		if errors.Is(err, unix.EAGAIN) {
			if r.handlers.OnReadable == nil {
				return true
			}
			if !r.handlers.OnReadable(c) {
				return false
			}
			c.compact()
			if r.flushWrite(c) < 0 {
				return false
			}
			return true
		}
		if errors.Is(err, unix.EINTR) {
			continue
		}
		r.log.Error("read failed, closing", zap.Error(err), zap.Int("fd", c.fd))
		return false
	}
}

// flushWrite sends as much of the pending write buffer as the kernel
// accepts without blocking, re-arming EPOLLOUT if the socket fills up
// before the buffer drains.
func (r *Reactor) flushWrite(c *Conn) int {
	for len(c.pendingWrite()) > 0 {
		n, err := unix.Write(c.fd, c.pendingWrite())
		if n > 0 {
			c.advanceWrite(n)
			continue
		}
		if errors.Is(err, unix.EAGAIN) {
			return r.armWritable(c)
		}
		if errors.Is(err, unix.EINTR) {
			continue
		}
		r.log.Warn("write failed, closing", zap.Error(err), zap.Int("fd", c.fd))
		return -1
	}
	return r.disarmWritable(c)
}

func (r *Reactor) armWritable(c *Conn) int {
	err := unix.EpollCtl(r.efd, unix.EPOLL_CTL_MOD, c.fd, &unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLET | unix.EPOLLRDHUP | unix.EPOLLOUT,
		Fd:     int32(c.fd),
	})
	if err != nil {
		r.log.Warn("epoll_ctl mod (arm writable) failed", zap.Error(err))
		return -1
	}
	return 0
}

func (r *Reactor) disarmWritable(c *Conn) int {
	err := unix.EpollCtl(r.efd, unix.EPOLL_CTL_MOD, c.fd, &unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLET | unix.EPOLLRDHUP,
		Fd:     int32(c.fd),
	})
	if err != nil {
		r.log.Warn("epoll_ctl mod (disarm writable) failed", zap.Error(err))
		return -1
	}
	return 0
}

func (r *Reactor) closeConn(c *Conn) {
	unix.EpollCtl(r.efd, unix.EPOLL_CTL_DEL, c.fd, nil)
	unix.Close(c.fd)
	delete(r.conns, c.fd)
	c.closed = true
	if c.UserDataClose != nil {
		c.UserDataClose(c.UserData)
	}
	if r.handlers.OnClose != nil {
		r.handlers.OnClose(c)
	}
	r.log.Info("closed", zap.Int("fd", c.fd))
}
