// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package proto

import "code.hybscloud.com/ssw/index"

// Verb is a recognized command verb.
type Verb uint8

const (
	VerbSET Verb = iota + 1
	VerbGET
	VerbDEL
	VerbEXPIRED
)

// recognizeVerb does case-sensitive, length-first dispatch: length picks
// the candidate group (SET/GET/DEL at 3 bytes, EXPIRED at 7), then a
// byte comparison picks the verb within it.
func recognizeVerb(b []byte) (Verb, bool) {
	switch len(b) {
	case 3:
		switch string(b) {
		case "SET":
			return VerbSET, true
		case "GET":
			return VerbGET, true
		case "DEL":
			return VerbDEL, true
		}
	case 7:
		if string(b) == "EXPIRED" {
			return VerbEXPIRED, true
		}
	}
	return 0, false
}

// Dispatcher recognizes a completed Command and drives the index.
//
// Frame slices inside a Command alias the connection's read buffer,
// which the I/O side is free to reuse as soon as the next read comes
// in. So the dispatcher, not the index, copies key and value into
// owned storage before calling Insert. The KindOutOfMemory reply
// exists as a hook a constrained embedding could wire to a bounded
// allocator; an ordinary Go allocation failure is unrecoverable
// (it panics), so this path is not reachable from normal operation.
type Dispatcher struct {
	idx *index.Table
}

// NewDispatcher wires a Dispatcher to the table it will mutate.
func NewDispatcher(idx *index.Table) *Dispatcher {
	return &Dispatcher{idx: idx}
}

// Dispatch executes one completed Command against the index and writes
// exactly one reply line. It returns a non-nil error only for faults
// that must close the connection; recoverable protocol errors are
// written as "-ERR <token>" replies and reported via a nil error so
// the session continues.
func (d *Dispatcher) Dispatch(cmd Command, reply ReplyWriter) error {
	if len(cmd.Elements) == 0 {
		reply.Error(KindBadShape)
		return nil
	}

	verb, ok := recognizeVerb(cmd.Elements[0])
	if !ok {
		reply.Error(KindUnknownCommand)
		return nil
	}
	args := cmd.Elements[1:]

	switch verb {
	case VerbSET:
		return d.dispatchSet(args, reply)
	case VerbGET:
		return d.dispatchGet(args, reply)
	case VerbDEL:
		return d.dispatchDel(args, reply)
	case VerbEXPIRED:
		return d.dispatchExpired(args, reply)
	}
	reply.Error(KindUnknownCommand)
	return nil
}

func (d *Dispatcher) dispatchSet(args [][]byte, reply ReplyWriter) error {
	if len(args) != 2 && len(args) != 3 {
		reply.Error(KindBadArity)
		return nil
	}
	key, value := args[0], args[1]
	if len(key) < 1 || len(key) > MaxKeyLen {
		reply.Error(KindInvalidKey)
		return nil
	}

	var expiresAt int64
	if len(args) == 3 {
		ttl, ok := parseUint63(args[2])
		if !ok {
			reply.Error(KindBadInteger)
			return nil
		}
		expiresAt = ttl
	}

	// Copy-in: the dispatcher owns the zero-copy handoff boundary, not
	// the index. Allocate exactly len(key)/len(value) bytes.
	ownedKey := append([]byte(nil), key...)
	ownedValue := append([]byte(nil), value...)

	outcome, oldKey, oldValue, err := d.idx.Insert(ownedKey, ownedValue, expiresAt)
	if err == index.ErrFull {
		if rerr := d.idx.Resize(discardDestructor, discardDestructor); rerr != nil {
			reply.Error(KindOutOfMemory)
			return nil
		}
		outcome, oldKey, oldValue, err = d.idx.Insert(ownedKey, ownedValue, expiresAt)
	}
	if err == index.ErrFull {
		// Retried immediately after a successful resize and still full:
		// a post-condition failure, not a capacity problem.
		reply.Error(KindInternal)
		return errKind(KindInternal)
	}
	if err == index.ErrUnexpectedlyFull {
		reply.Error(KindInternal)
		return errKind(KindInternal)
	}

	_ = outcome
	discardDestructor(oldKey)
	discardDestructor(oldValue)
	reply.OK()
	return nil
}

func (d *Dispatcher) dispatchGet(args [][]byte, reply ReplyWriter) error {
	if len(args) != 1 {
		reply.Error(KindBadArity)
		return nil
	}
	v, ok := d.idx.Get(args[0])
	if !ok {
		reply.Miss()
		return nil
	}
	reply.Value(v)
	return nil
}

func (d *Dispatcher) dispatchDel(args [][]byte, reply ReplyWriter) error {
	if len(args) != 1 {
		reply.Error(KindBadArity)
		return nil
	}
	gotKey, gotValue, _ := d.idx.Take(args[0])
	discardDestructor(gotKey)
	discardDestructor(gotValue)
	reply.OK()
	return nil
}

func (d *Dispatcher) dispatchExpired(args [][]byte, reply ReplyWriter) error {
	if len(args) != 2 {
		reply.Error(KindBadArity)
		return nil
	}
	ttl, ok := parseUint63(args[1])
	if !ok {
		reply.Error(KindBadInteger)
		return nil
	}
	d.idx.Touch(args[0], ttl)
	reply.OK()
	return nil
}

// discardDestructor is the default release hook for key/value bytes the
// index hands back: Go's GC reclaims them once unreferenced, so there is
// nothing to do beyond letting the slice fall out of scope. It exists as
// a named no-op (rather than inlined nothing) so the ownership-handoff
// points stay visible in the code.
func discardDestructor(_ []byte) {}
