// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package index implements an open-addressing hash table: linear
// probing, lazy TTL expiration, explicit tombstones with an ownership
// bit, and authorized (caller-driven) resize.
package index

import "unsafe"

// entry is one slot. Its in-memory layout is pinned at exactly 32 bytes
// with 8-byte alignment (entry_size_test.go asserts this at
// every build) so that a 64-byte cache line holds exactly two slots.
// Go's ownership model has no manual free, but the slot still needs a
// compact representation to keep the two-per-cache-line property, so
// key/value are addressed through unsafe.Pointer + a packed length
// rather than full slice headers (24 bytes each, which would blow the
// budget three times over).
type entry struct {
	hash      uint64         // cached key hash; fast-reject inequality check
	keyPtr    unsafe.Pointer // first byte of key, or nil
	valPtr    unsafe.Pointer // *valueBox, or nil
	flags     uint32         // bit0 tb, bit1 rm, bits[2:32) keylen (30 bits)
	expiresAt uint32         // absolute deadline in seconds; 0 = never
}

const (
	flagTombstone uint32 = 1 << 0
	flagRemoved   uint32 = 1 << 1
	keyLenShift          = 2
	keyLenMask    uint32 = 1<<30 - 1
)

func (e *entry) tombstone() bool { return e.flags&flagTombstone != 0 }
func (e *entry) removed() bool   { return e.flags&flagRemoved != 0 }
func (e *entry) keyLen() int     { return int(e.flags >> keyLenShift) }

func (e *entry) setKeyLen(n int) {
	e.flags = (e.flags &^ (keyLenMask << keyLenShift)) | (uint32(n)&keyLenMask)<<keyLenShift
}

func (e *entry) setTombstone(v bool) {
	if v {
		e.flags |= flagTombstone
	} else {
		e.flags &^= flagTombstone
	}
}

func (e *entry) setRemoved(v bool) {
	if v {
		e.flags |= flagRemoved
	} else {
		e.flags &^= flagRemoved
	}
}

// empty reports the "free, never used" slot state, distinct from a
// tombstoned (previously occupied) one.
func (e *entry) empty() bool { return e.keyPtr == nil && e.flags&flagTombstone == 0 }

// key reconstructs the key slice from the raw pointer. Valid only while
// the entry remains live/tombstoned-but-owned; callers must not retain
// it across a Take or resize of the table.
func (e *entry) key() []byte {
	if e.keyPtr == nil {
		return nil
	}
	return unsafe.Slice((*byte)(e.keyPtr), e.keyLen())
}

func keyPtrOf(k []byte) unsafe.Pointer {
	if len(k) == 0 {
		return unsafe.Pointer(&zeroLenSentinel)
	}
	return unsafe.Pointer(&k[0])
}

// zeroLenSentinel gives empty (but non-nil-ownership) keys a stable,
// non-nil address so entry.empty() can still distinguish "never used"
// from "a zero-length key is stored here" via keyPtr == nil. Keys
// accepted by the dispatcher always have length >= 1, so this path is
// defensive rather than reachable in practice.
var zeroLenSentinel byte

// valueBox is a length-prefixed value blob: a small heap object
// addressed by a single pointer so entry.valPtr stays one machine word.
type valueBox struct {
	len  uint64
	data unsafe.Pointer
}

func newValueBox(v []byte) *valueBox {
	vb := &valueBox{len: uint64(len(v))}
	if len(v) > 0 {
		vb.data = unsafe.Pointer(&v[0])
	}
	return vb
}

func (vb *valueBox) bytes() []byte {
	if vb == nil || vb.len == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(vb.data), int(vb.len))
}

func (e *entry) value() []byte {
	if e.valPtr == nil {
		return nil
	}
	return (*valueBox)(e.valPtr).bytes()
}
