// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package index

import (
	"errors"
	"time"
	"unsafe"

	"github.com/cespare/xxhash/v2"
)

// hashSeed is a fixed xxhash seed. It must never be randomized per
// process: tests depend on determinism, and no adversarial-input
// hardening is promised at this layer.
const hashSeed uint64 = 20231027

func hashKey(key []byte) uint64 {
	d := xxhash.NewWithSeed(hashSeed)
	_, _ = d.Write(key)
	return d.Sum64()
}

// loadFactorNum/Den fix the growth trigger at 0.7, not configurable.
const (
	loadFactorNum = 7
	loadFactorDen = 10
)

// Outcome reports which branch of the insert algorithm fired.
type Outcome uint8

const (
	// Inserted is a brand-new key placed into a free slot.
	Inserted Outcome = iota + 1
	// InsertedOverReleased placed a new key into a released-tombstone slot.
	InsertedOverReleased
	// InsertedOverExpired replaced an expired, table-owned tombstone; the
	// old key/value are returned via Insert's out-parameters for the
	// caller to release.
	InsertedOverExpired
	// Replaced overwrote a live entry with the same key; the old
	// key/value are returned via Insert's out-parameters.
	Replaced
)

// ErrFull means the load factor threshold would be exceeded; the caller
// must invoke Resize and retry.
var ErrFull = errors.New("index: full")

// ErrUnexpectedlyFull is a post-condition failure: the probe walk
// completed without placing despite the load-factor guard having
// passed. It signals a bug, not a capacity problem; callers should
// treat it as an internal error and close the connection.
var ErrUnexpectedlyFull = errors.New("index: unexpectedly full (post-condition failure)")

// Clock abstracts "now" in whole seconds so TTL tests can control time
// without sleeping.
type Clock func() int64

func systemClock() int64 { return time.Now().Unix() }

// Table is the open-addressing hash index. It is not safe for
// concurrent use: the data plane is single-writer, single-reader by
// construction.
type Table struct {
	slots []entry
	cap   uint64
	size  uint64
	clock Clock
}

// Option configures a Table at construction.
type Option func(*Table)

// WithClock overrides the wall-clock-seconds source used for TTL checks.
func WithClock(c Clock) Option {
	return func(t *Table) { t.clock = c }
}

// New builds a Table whose capacity is the next power of two >= capHint
// (capHint < 1 becomes 1).
func New(capHint uint64, opts ...Option) *Table {
	c := nextPow2(capHint)
	t := &Table{
		slots: make([]entry, c),
		cap:   c,
		clock: systemClock,
	}
	for _, fn := range opts {
		fn(t)
	}
	return t
}

func nextPow2(n uint64) uint64 {
	if n < 1 {
		return 1
	}
	if n&(n-1) == 0 {
		return n
	}
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}

// Cap returns the current capacity (always a power of two).
func (t *Table) Cap() uint64 { return t.cap }

// Len returns the current live-entry count. An entry lazily expired by a
// lookup still counts until an insert reuses its slot or Resize reclaims
// it.
func (t *Table) Len() uint64 { return t.size }

func (t *Table) mask() uint64 { return t.cap - 1 }

// Insert takes ownership of key and value on any non-error outcome.
// On Replaced or InsertedOverExpired, the previously table-owned key and
// value are returned via oldKey/oldValue for the caller to release; the
// caller must not retain the borrow past this call.
func (t *Table) Insert(key, value []byte, expiresAt int64) (outcome Outcome, oldKey, oldValue []byte, err error) {
	if (t.size+1)*loadFactorDen > t.cap*loadFactorNum {
		return 0, nil, nil, ErrFull
	}

	h := hashKey(key)
	idx := h & t.mask()

	for i := uint64(0); i < t.cap; i++ {
		e := &t.slots[idx]

		switch {
		case e.empty():
			t.place(e, h, key, value, expiresAt)
			t.size++
			return Inserted, nil, nil, nil

		case e.removed():
			t.place(e, h, key, value, expiresAt)
			t.size++
			return InsertedOverReleased, nil, nil, nil

		case e.tombstone():
			oldKey, oldValue = e.key(), e.value()
			t.place(e, h, key, value, expiresAt)
			return InsertedOverExpired, oldKey, oldValue, nil

		case h == e.hash && len(key) == e.keyLen() && bytesEqual(key, e.key()):
			oldKey, oldValue = e.key(), e.value()
			t.place(e, h, key, value, expiresAt)
			return Replaced, oldKey, oldValue, nil
		}

		idx = (idx + 1) & t.mask()
	}
	return 0, nil, nil, ErrUnexpectedlyFull
}

func (t *Table) place(e *entry, h uint64, key, value []byte, expiresAt int64) {
	e.hash = h
	e.keyPtr = keyPtrOf(key)
	e.setKeyLen(len(key))
	e.valPtr = unsafe.Pointer(newValueBox(value))
	e.expiresAt = uint32(expiresAt)
	e.setTombstone(false)
	e.setRemoved(false)
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Get returns a borrow of the stored value, valid only until the next
// Insert, Take, Touch, or Resize on this table. Expired entries
// encountered along the probe chain are lazily tombstoned, including
// the matching one on a hit-that-turns-out-expired.
func (t *Table) Get(key []byte) ([]byte, bool) {
	now := t.clock()
	h := hashKey(key)
	idx := h & t.mask()

	for i := uint64(0); i < t.cap; i++ {
		e := &t.slots[idx]

		if e.empty() {
			return nil, false
		}
		if e.tombstone() {
			idx = (idx + 1) & t.mask()
			continue
		}
		if h == e.hash && len(key) == e.keyLen() && bytesEqual(key, e.key()) {
			if e.expiresAt > 0 && now >= int64(e.expiresAt) {
				e.setTombstone(true)
				return nil, false
			}
			return e.value(), true
		}
		if e.expiresAt > 0 && now >= int64(e.expiresAt) {
			e.setTombstone(true)
		}
		idx = (idx + 1) & t.mask()
	}
	return nil, false
}

// Take returns ownership of the stored key and value to the caller and
// marks the slot a released tombstone (rm=1): the table will never
// dereference those pointers again.
func (t *Table) Take(key []byte) (gotKey, gotValue []byte, ok bool) {
	now := t.clock()
	h := hashKey(key)
	idx := h & t.mask()

	for i := uint64(0); i < t.cap; i++ {
		e := &t.slots[idx]

		if e.empty() {
			return nil, nil, false
		}
		if e.tombstone() {
			idx = (idx + 1) & t.mask()
			continue
		}
		if h == e.hash && len(key) == e.keyLen() && bytesEqual(key, e.key()) {
			gotKey, gotValue = e.key(), e.value()
			e.setRemoved(true)
			e.setTombstone(true)
			e.keyPtr = nil
			e.valPtr = nil
			t.size--
			return gotKey, gotValue, true
		}
		if e.expiresAt > 0 && now >= int64(e.expiresAt) {
			e.setTombstone(true)
		}
		idx = (idx + 1) & t.mask()
	}
	return nil, nil, false
}

// Touch updates a live entry's TTL in place with no ownership change.
func (t *Table) Touch(key []byte, newExpiresAt int64) bool {
	now := t.clock()
	h := hashKey(key)
	idx := h & t.mask()

	for i := uint64(0); i < t.cap; i++ {
		e := &t.slots[idx]

		if e.empty() {
			return false
		}
		if e.tombstone() {
			idx = (idx + 1) & t.mask()
			continue
		}
		if h == e.hash && len(key) == e.keyLen() && bytesEqual(key, e.key()) {
			e.expiresAt = uint32(newExpiresAt)
			return true
		}
		if e.expiresAt > 0 && now >= int64(e.expiresAt) {
			e.setTombstone(true)
		}
		idx = (idx + 1) & t.mask()
	}
	return false
}

// Resize is the authorized resize authority. The table never allocates
// on its own; the caller invokes Resize with two destructors that are
// called exactly once each for the key and value of every expired,
// still-table-owned tombstone encountered. Released tombstones (rm=1)
// are discarded without calling either destructor, and live entries are
// re-hashed into the fresh table without allocation (the 32-byte slot
// is copied as-is).
//
// Go's garbage collector reclaims key/value byte slices on its own once
// nothing references them; destroyKey/destroyValue exist so the
// ownership contract stays observable and testable even though the
// target language needs no manual free.
func (t *Table) Resize(destroyKey, destroyValue func([]byte)) error {
	newCap := t.cap << 1
	newSlots := make([]entry, newCap)
	newMask := newCap - 1
	var live uint64

	for i := range t.slots {
		e := &t.slots[i]

		if e.empty() {
			continue
		}

		if !e.tombstone() {
			// Live: re-map by already-cached hash; fresh table needs no
			// tombstone-aware probing, every slot here is truly empty.
			idx := e.hash & newMask
			for newSlots[idx].keyPtr != nil {
				idx = (idx + 1) & newMask
			}
			newSlots[idx] = *e
			live++
			continue
		}

		if !e.removed() {
			// Expired, still table-owned: free via caller-supplied destructors.
			if destroyKey != nil {
				destroyKey(e.key())
			}
			if destroyValue != nil {
				destroyValue(e.value())
			}
		}
		// Released (rm=1): discard without dereferencing.
	}

	t.slots = newSlots
	t.cap = newCap
	t.size = live
	return nil
}
