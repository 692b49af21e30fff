// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package reactor

import (
	"context"
	"fmt"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// listen creates a non-blocking, SO_REUSEADDR TCP listener on port:
// socket -> setsockopt(SO_REUSEADDR) -> bind -> listen, then set
// non-blocking. The backlog argument is not passed to the kernel (see
// below).
func listen(port, backlog int) (*net.TCPListener, int, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var ctrlErr error
			err := c.Control(func(fd uintptr) {
				ctrlErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			})
			if err != nil {
				return err
			}
			return ctrlErr
		},
	}
	ln, err := lc.Listen(context.Background(), "tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, -1, err
	}
	tln := ln.(*net.TCPListener)

	raw, err := tln.SyscallConn()
	if err != nil {
		tln.Close()
		return nil, -1, err
	}
	var sfd int
	err = raw.Control(func(fd uintptr) { sfd = int(fd) })
	if err != nil {
		tln.Close()
		return nil, -1, err
	}
	if err := unix.SetNonblock(sfd, true); err != nil {
		tln.Close()
		return nil, -1, err
	}
	// Go's net package does not expose listen(2)'s backlog argument; the
	// kernel's net.core.somaxconn effectively governs it. backlog is kept
	// as a parameter so callers and configuration still name the knob.
	_ = backlog
	return tln, sfd, nil
}

func setNonblocking(fd int) error {
	return unix.SetNonblock(fd, true)
}
