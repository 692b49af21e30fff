// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package proto

// MaxArrayElements is the hard ceiling on command arity the aggregator's
// fixed-size element array can hold. A runtime-configured ArraySizeMax
// must not exceed it.
const MaxArrayElements = 50

// MaxKeyLen is the hard upper bound on key length: 2^30-1 bytes.
const MaxKeyLen = 1<<30 - 1

// Limits bounds the sizes the lexer and aggregator will accept.
// NewLexer/NewAggregator start from DefaultLimits and apply the options
// below on top of it; apart from WithArraySizeMax's clamp, option values
// are used as given and are not validated.
type Limits struct {
	// ValueSizeMax is the hard bulk-string payload cap in bytes.
	ValueSizeMax int64
	// ArraySizeMax is the hard command-arity cap. Must be <= MaxArrayElements.
	ArraySizeMax int64
}

// Option configures Limits via the functional-options pattern.
type Option func(*Limits)

// DefaultLimits is a generous bulk-string cap paired with an arity cap
// of 50.
var DefaultLimits = Limits{
	ValueSizeMax: 512 << 20, // 512 MiB
	ArraySizeMax: MaxArrayElements,
}

// WithValueSizeMax overrides the maximum accepted bulk-string length.
func WithValueSizeMax(n int64) Option {
	return func(l *Limits) { l.ValueSizeMax = n }
}

// WithArraySizeMax overrides the maximum accepted command arity.
// Values above MaxArrayElements are clamped.
func WithArraySizeMax(n int64) Option {
	return func(l *Limits) {
		if n > MaxArrayElements {
			n = MaxArrayElements
		}
		l.ArraySizeMax = n
	}
}

func resolveLimits(opts []Option) Limits {
	l := DefaultLimits
	for _, fn := range opts {
		fn(&l)
	}
	return l
}
