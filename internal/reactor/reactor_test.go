// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package reactor

import (
	"io"
	"net"
	"testing"
	"time"
)

// TestReactorEchoesThroughRealSocket drives the full epoll loop over an
// actual loopback TCP connection: accept, read-ready, queue a reply,
// write-ready drain. Binding port 0 lets the kernel pick a free port.
func TestReactorEchoesThroughRealSocket(t *testing.T) {
	r := New(nil, Handlers{
		OnReadable: func(c *Conn) bool {
			echoed := append([]byte(nil), c.Pending()...)
			c.Advance(len(echoed))
			c.Queue(echoed)
			return true
		},
	})

	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(0, 128) }()

	select {
	case <-r.Ready():
	case err := <-errCh:
		t.Fatalf("Run exited before becoming ready: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reactor to become ready")
	}
	defer r.Close()

	conn, err := net.DialTimeout("tcp", r.Addr().String(), 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("ping")); err != nil {
		t.Fatalf("write: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	buf := make([]byte, 4)
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Fatalf("read echo: %v", err)
	}
	if string(buf) != "ping" {
		t.Fatalf("echo = %q, want %q", buf, "ping")
	}
}

func TestReactorCloseUnblocksRun(t *testing.T) {
	r := New(nil, Handlers{})
	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(0, 128) }()

	select {
	case <-r.Ready():
	case err := <-errCh:
		t.Fatalf("Run exited before becoming ready: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reactor to become ready")
	}

	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("Run returned nil error after Close, expected epoll_wait failure")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Run to return after Close")
	}
}
