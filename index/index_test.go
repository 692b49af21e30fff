// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package index

import (
	"bytes"
	"testing"
)

func TestCapacityIsPowerOfTwo(t *testing.T) {
	for _, hint := range []uint64{0, 1, 2, 3, 5, 8, 9, 100} {
		tbl := New(hint)
		c := tbl.Cap()
		if c&(c-1) != 0 {
			t.Fatalf("New(%d).Cap() = %d, not a power of two", hint, c)
		}
	}
}

// SET then GET returns the same value.
func TestInsertGetRoundTrip(t *testing.T) {
	tbl := New(16)
	k, v := []byte("key"), []byte("hello")
	outcome, oldK, oldV, err := tbl.Insert(k, v, 0)
	if err != nil || outcome != Inserted {
		t.Fatalf("Insert: outcome=%v err=%v", outcome, err)
	}
	if oldK != nil || oldV != nil {
		t.Fatalf("Insert of a new key must not return an old key/value")
	}
	got, ok := tbl.Get(k)
	if !ok || !bytes.Equal(got, v) {
		t.Fatalf("Get = %q, %v; want %q, true", got, ok, v)
	}
}

// Replacing with a longer value calls the destructor on the old value
// exactly once.
func TestReplaceCallsDestructorOnce(t *testing.T) {
	tbl := New(16)
	k := []byte("k")
	v1 := []byte("aaaaa")
	v2 := []byte("bbbbbbbbbb")

	if _, _, _, err := tbl.Insert(k, v1, 0); err != nil {
		t.Fatal(err)
	}
	outcome, oldK, oldV, err := tbl.Insert(k, v2, 0)
	if err != nil || outcome != Replaced {
		t.Fatalf("outcome=%v err=%v", outcome, err)
	}
	if !bytes.Equal(oldK, k) || !bytes.Equal(oldV, v1) {
		t.Fatalf("old key/value = %q, %q; want %q, %q", oldK, oldV, k, v1)
	}

	destroyed := 0
	destroy := func(b []byte) { destroyed++ }
	destroy(oldK)
	destroy(oldV)
	if destroyed != 2 {
		t.Fatalf("destructor calls = %d, want 2 (one for key, one for value)", destroyed)
	}

	got, ok := tbl.Get(k)
	if !ok || !bytes.Equal(got, v2) {
		t.Fatalf("Get after replace = %q, %v; want %q, true", got, ok, v2)
	}
}

// SET k v; DEL k; GET k -> miss.
func TestTakeThenGetMisses(t *testing.T) {
	tbl := New(16)
	k, v := []byte("k"), []byte("v")
	if _, _, _, err := tbl.Insert(k, v, 0); err != nil {
		t.Fatal(err)
	}
	gotK, gotV, ok := tbl.Take(k)
	if !ok || !bytes.Equal(gotK, k) || !bytes.Equal(gotV, v) {
		t.Fatalf("Take = %q, %q, %v", gotK, gotV, ok)
	}
	if _, ok := tbl.Get(k); ok {
		t.Fatalf("Get after Take should miss")
	}
	if tbl.Len() != 0 {
		t.Fatalf("Len = %d, want 0", tbl.Len())
	}
}

// DEL on an absent key is a no-op.
func TestTakeAbsentKeyIsNoop(t *testing.T) {
	tbl := New(16)
	if _, _, ok := tbl.Take([]byte("nope")); ok {
		t.Fatalf("Take of absent key reported ok=true")
	}
}

// Lazy expiration. A fake clock lets the test move "now" forward
// without sleeping.
func TestLazyExpiration(t *testing.T) {
	now := int64(1000)
	tbl := New(16, WithClock(func() int64 { return now }))

	k, v := []byte("k"), []byte("v")
	if _, _, _, err := tbl.Insert(k, v, now+1); err != nil {
		t.Fatal(err)
	}
	if got, ok := tbl.Get(k); !ok || !bytes.Equal(got, v) {
		t.Fatalf("Get before expiry = %q, %v", got, ok)
	}

	now += 2 // advance past the deadline
	if _, ok := tbl.Get(k); ok {
		t.Fatalf("Get after expiry should miss")
	}

	// The slot is now an expired tombstone; re-inserting reports
	// InsertedOverExpired and returns the old value for release.
	v2 := []byte("v2")
	outcome, oldK, oldV, err := tbl.Insert(k, v2, 0)
	if err != nil || outcome != InsertedOverExpired {
		t.Fatalf("outcome=%v err=%v, want InsertedOverExpired", outcome, err)
	}
	if !bytes.Equal(oldK, k) || !bytes.Equal(oldV, v) {
		t.Fatalf("old key/value on InsertedOverExpired = %q, %q", oldK, oldV)
	}
}

// SET k v with an already-past deadline; GET k -> miss immediately.
func TestPastDeadlineMissesImmediately(t *testing.T) {
	now := int64(5000)
	tbl := New(16, WithClock(func() int64 { return now }))
	k, v := []byte("k"), []byte("v")
	if _, _, _, err := tbl.Insert(k, v, now-10); err != nil {
		t.Fatal(err)
	}
	if _, ok := tbl.Get(k); ok {
		t.Fatalf("Get of already-expired key should miss")
	}
}

func TestTouchUpdatesTTLWithoutOwnershipChange(t *testing.T) {
	now := int64(100)
	tbl := New(16, WithClock(func() int64 { return now }))
	k, v := []byte("k"), []byte("v")
	if _, _, _, err := tbl.Insert(k, v, now+1); err != nil {
		t.Fatal(err)
	}
	if ok := tbl.Touch(k, now+100); !ok {
		t.Fatalf("Touch reported false for a live key")
	}
	now += 2
	got, ok := tbl.Get(k)
	if !ok || !bytes.Equal(got, v) {
		t.Fatalf("Get after Touch extended TTL = %q, %v; want hit", got, ok)
	}
}

// S4: probing chain across a tombstone. k2's initial probe index must
// collide with k1's so that deleting k1 would orphan k2 if tombstones
// didn't keep the chain intact.
func TestProbingChainSurvivesTombstone(t *testing.T) {
	tbl := New(8)
	k1 := []byte("k1")
	h1 := hashKey(k1) & tbl.mask()

	var k2 []byte
	for i := 0; ; i++ {
		cand := []byte(string(rune('a'+i%26)) + string(rune('A'+(i/26)%26)))
		if hashKey(cand)&tbl.mask() == h1 && !bytes.Equal(cand, k1) {
			k2 = cand
			break
		}
		if i > 100000 {
			t.Fatal("could not find a colliding key for this table size")
		}
	}

	v1, v2 := []byte("v1"), []byte("v2")
	if _, _, _, err := tbl.Insert(k1, v1, 0); err != nil {
		t.Fatal(err)
	}
	if _, _, _, err := tbl.Insert(k2, v2, 0); err != nil {
		t.Fatal(err)
	}
	if _, _, ok := tbl.Take(k1); !ok {
		t.Fatal("Take(k1) failed")
	}
	got, ok := tbl.Get(k2)
	if !ok || !bytes.Equal(got, v2) {
		t.Fatalf("Get(k2) after deleting k1 = %q, %v; want %q, true", got, ok, v2)
	}
}

// S5: authorized resize. Capacity 8, six inserts trip the 0.7 load
// factor; the caller resizes and retries.
func TestAuthorizedResize(t *testing.T) {
	tbl := New(8)
	keys := make([][]byte, 6)
	for i := range keys {
		keys[i] = []byte{'k', byte('0' + i)}
	}

	var fullAt = -1
	for i, k := range keys {
		_, _, _, err := tbl.Insert(k, []byte{byte('0' + i)}, 0)
		if err == ErrFull {
			fullAt = i
			break
		}
		if err != nil {
			t.Fatalf("unexpected error inserting key %d: %v", i, err)
		}
	}
	if fullAt < 0 {
		t.Fatalf("expected ErrFull before inserting all 6 keys into capacity 8")
	}

	if err := tbl.Resize(nil, nil); err != nil {
		t.Fatalf("Resize: %v", err)
	}
	if tbl.Cap() != 16 {
		t.Fatalf("Cap after resize = %d, want 16", tbl.Cap())
	}

	if _, _, _, err := tbl.Insert(keys[fullAt], []byte{byte('0' + fullAt)}, 0); err != nil {
		t.Fatalf("retry insert after resize: %v", err)
	}

	for i, k := range keys {
		got, ok := tbl.Get(k)
		if !ok || len(got) != 1 || got[0] != byte('0'+i) {
			t.Fatalf("key %d missing or wrong after resize: %q, %v", i, got, ok)
		}
	}
}

// Resize calls the destructors exactly once per expired, table-owned
// entry and never for released (already-taken) entries.
func TestResizeDestroysOnlyExpiredOwnedEntries(t *testing.T) {
	now := int64(1)
	tbl := New(8, WithClock(func() int64 { return now }))

	live := []byte("live")
	expired := []byte("expired")
	released := []byte("released")

	if _, _, _, err := tbl.Insert(live, []byte("L"), 0); err != nil {
		t.Fatal(err)
	}
	if _, _, _, err := tbl.Insert(expired, []byte("E"), now+1); err != nil {
		t.Fatal(err)
	}
	if _, _, _, err := tbl.Insert(released, []byte("R"), 0); err != nil {
		t.Fatal(err)
	}
	if _, _, ok := tbl.Take(released); !ok {
		t.Fatal("Take(released) failed")
	}

	now += 5
	if _, ok := tbl.Get(expired); ok {
		t.Fatal("expired key unexpectedly still live")
	}

	var destroyedKeys, destroyedVals int
	destroyKey := func(b []byte) { destroyedKeys++ }
	destroyVal := func(b []byte) { destroyedVals++ }
	if err := tbl.Resize(destroyKey, destroyVal); err != nil {
		t.Fatal(err)
	}

	if destroyedKeys != 1 || destroyedVals != 1 {
		t.Fatalf("destroyed key/val calls = %d/%d, want 1/1", destroyedKeys, destroyedVals)
	}
	if got, ok := tbl.Get(live); !ok || string(got) != "L" {
		t.Fatalf("live key lost its value across resize: %q, %v", got, ok)
	}
}
