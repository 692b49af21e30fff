// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package proto implements the wire protocol core: a zero-copy frame
// lexer, a command aggregator, a verb dispatcher, and a reply encoder.
//
// The lexer never copies payload bytes out of the buffer it is given;
// every returned frame slice aliases the caller's buffer. Callers must
// either act on a frame before the buffer is reused (e.g. grown or
// drained by the I/O collaborator) or copy out what they need.
package proto

import "errors"

// ErrNeedMore signals that buf did not contain a complete frame or
// command. The caller's consumed cursor must not advance past the n
// bytes reported with it (always 0 from Lexer.Next; only complete
// stand-alone frames from Aggregator.Feed); call again once more bytes
// are available, passing a buffer that starts at the new cursor and
// holds at least the bytes not yet consumed.
var ErrNeedMore = errors.New("proto: need more data")

// Kind enumerates the wire-visible protocol error tokens.
type Kind uint8

const (
	KindBadFraming Kind = iota + 1
	KindBadInteger
	KindTooLarge
	KindBadShape
	KindBadArity
	KindUnknownCommand
	KindInvalidKey
	KindOutOfMemory
	KindInternal
)

// Token returns the short ASCII token used in the "-ERR <token>" reply line.
func (k Kind) Token() string {
	switch k {
	case KindBadFraming:
		return "FRAMING"
	case KindBadInteger:
		return "NUMBER"
	case KindTooLarge:
		return "MSGSIZE"
	case KindBadShape:
		return "SHAPE"
	case KindBadArity:
		return "ARITY"
	case KindUnknownCommand:
		return "UNKNOWN"
	case KindInvalidKey:
		return "KEYLEN"
	case KindOutOfMemory:
		return "NOMEM"
	case KindInternal:
		return "INTERNAL"
	default:
		return "INTERNAL"
	}
}

// Error is a protocol-level fault. Framing/integer/shape/arity/unknown/
// key errors are recoverable: the session stays open and the bad region
// of the stream is skipped. OutOfMemory is also answered with a reply
// line and the session continues. Internal is not recoverable; the
// connection is closed on it (see Fatal).
type Error struct {
	Kind Kind
}

func (e *Error) Error() string { return "proto: " + e.Kind.Token() }

func errKind(k Kind) error { return &Error{Kind: k} }

// Fatal reports whether a protocol error must close the connection
// rather than just emit a reply line and continue.
func Fatal(err error) bool {
	var pe *Error
	if !errors.As(err, &pe) {
		return false
	}
	return pe.Kind == KindInternal
}
