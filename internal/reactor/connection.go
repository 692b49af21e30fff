// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package reactor is a single-threaded, edge-triggered epoll loop that
// grows per-connection read/write buffers on demand and calls back into
// the core on readability, writability, and error.
//
// This package knows nothing about the wire protocol. Callbacks receive
// a *Conn and are free to stash parser state in its UserData slot; Go's
// GC retires the value once the connection closes, so UserDataClose
// exists purely so a close hook stays observable rather than to
// actually free memory.
package reactor

// bufferInitSize and bufferMaxSize bound per-connection buffer growth:
// the read buffer doubles whenever free space drops below half capacity,
// and a connection whose read buffer would have to grow past
// bufferMaxSize is closed rather than resized further. The write buffer
// doubles only when queued bytes do not fit, and has no upper bound.
const (
	bufferInitSize = 4 << 10
	bufferMaxSize  = 64 << 20
)

// Conn is one accepted, non-blocking TCP connection and its buffers.
// It is only ever touched from the single reactor goroutine that owns
// it: single-writer, single-reader by construction.
//
// rbSize is how much of readBuf holds data delivered by the kernel;
// rbConsumed is how much of that the core has already turned into
// frames.
type Conn struct {
	fd int

	readBuf    []byte
	rbSize     int
	rbConsumed int

	writeBuf   []byte
	wbSize     int
	wbConsumed int

	// UserData is the core's parser state for this connection (the
	// Aggregator in this repo's case). UserDataClose, if set, runs once
	// when the connection is torn down.
	UserData      any
	UserDataClose func(any)

	closed bool
}

func newConn(fd int) *Conn {
	return &Conn{
		fd:       fd,
		readBuf:  make([]byte, bufferInitSize),
		writeBuf: make([]byte, bufferInitSize),
	}
}

// Fd returns the underlying file descriptor, for logging only.
func (c *Conn) Fd() int { return c.fd }

// Pending returns the unconsumed portion of the read buffer: bytes the
// kernel has delivered that OnReadable has not yet advanced past.
func (c *Conn) Pending() []byte { return c.readBuf[c.rbConsumed:c.rbSize] }

// Advance tells the connection that n bytes of Pending were consumed by
// a completed frame/command. It must never exceed len(Pending()).
func (c *Conn) Advance(n int) {
	c.rbConsumed += n
}

// compact slides the unconsumed tail to the front of readBuf so the
// next kernel read has room, reclaiming the space already handed off.
func (c *Conn) compact() {
	if c.rbConsumed == 0 {
		return
	}
	n := copy(c.readBuf, c.readBuf[c.rbConsumed:c.rbSize])
	c.rbSize = n
	c.rbConsumed = 0
}

// freeSpace is how much of readBuf is available for the next kernel read.
func (c *Conn) freeSpace() []byte { return c.readBuf[c.rbSize:] }

// growRead doubles the read buffer, or reports false if that would
// exceed bufferMaxSize, the connection's "give up and close" signal.
func (c *Conn) growRead() bool {
	n := len(c.readBuf) << 1
	if n == 0 {
		n = bufferInitSize
	}
	if n > bufferMaxSize {
		return false
	}
	grown := make([]byte, n)
	copy(grown, c.readBuf[:c.rbSize])
	c.readBuf = grown
	return true
}

// commitRead records that n freshly-read bytes now occupy readBuf.
func (c *Conn) commitRead(n int) { c.rbSize += n }

// Queue appends b to the write buffer for the reactor to drain on the
// next writable event (and immediately, opportunistically, if the
// socket accepts it without blocking).
func (c *Conn) Queue(b []byte) {
	need := c.wbSize + len(b)
	if need > len(c.writeBuf) {
		n := len(c.writeBuf)
		if n == 0 {
			n = bufferInitSize
		}
		for n < need {
			n <<= 1
		}
		grown := make([]byte, n)
		copy(grown, c.writeBuf[:c.wbSize])
		c.writeBuf = grown
	}
	copy(c.writeBuf[c.wbSize:], b)
	c.wbSize += len(b)
}

func (c *Conn) pendingWrite() []byte { return c.writeBuf[c.wbConsumed:c.wbSize] }

func (c *Conn) advanceWrite(n int) {
	c.wbConsumed += n
	if c.wbConsumed >= c.wbSize {
		c.wbSize = 0
		c.wbConsumed = 0
	}
}
