// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package proto

// Command is a completed logical request: an array header plus its N
// bulk-string elements, Elements[0] being the verb. Elements aliases the
// Aggregator's own fixed-size backing array; it is a borrow valid only
// until the next call to Feed on the same Aggregator. The caller (the
// dispatcher) must finish acting on it before calling Feed again, which
// it already does given the synchronous lex->aggregate->dispatch pipeline.
type Command struct {
	Elements [][]byte
}

// Aggregator groups a stream of frames from a Lexer into Commands. The
// protocol shape of a command is exactly one array-header frame of count
// N (1<=N<ArraySizeMax) followed by N bulk-string frames. Nested arrays
// and non-bulk elements inside an array are protocol errors. Top-level
// stand-alone non-array frames are tolerated and ignored.
//
// State fits in a few fields plus a fixed-size element array; Feed never
// allocates.
type Aggregator struct {
	lex Lexer

	inArray  bool
	expected int
	arrived  int
	elems    [MaxArrayElements][]byte
}

// NewAggregator constructs an Aggregator bounded by the given options.
func NewAggregator(opts ...Option) *Aggregator {
	limits := resolveLimits(opts)
	return &Aggregator{lex: Lexer{limits: limits}}
}

func (ag *Aggregator) resetArray() {
	ag.inArray = false
	ag.expected = 0
	ag.arrived = 0
}

// Feed drains as many frames as are available from the head of buf,
// stopping either when one Command completes, when more data is needed,
// or on a protocol error.
//
// Return contract mirrors Lexer.Next: (cmd, n, nil) on a completed
// command, (Command{}, n, ErrNeedMore) when more bytes are required (n
// reflects any stand-alone frames already consumed before running dry),
// and (Command{}, n, *Error) when the first n bytes must be skipped.
// An incomplete command is never consumed: the next call re-reads it
// from its array header.
func (ag *Aggregator) Feed(buf []byte) (Command, int, error) {
	total := 0
	arrayStart := 0
	for {
		fr, n, err := ag.lex.Next(buf[total:])
		if err != nil {
			if err == ErrNeedMore {
				if ag.inArray {
					// Elements seen so far alias buf, which the caller may
					// move before the next call; keep nothing of them.
					ag.resetArray()
					ag.lex.resetFrame()
					return Command{}, arrayStart, ErrNeedMore
				}
				return Command{}, total, ErrNeedMore
			}
			total += n
			ag.resetArray()
			return Command{}, total, err
		}
		total += n

		if !ag.inArray {
			if fr.Kind != KindArrayHeader {
				// Stand-alone frame outside a command: tolerated, ignored.
				continue
			}
			if fr.Int < 1 {
				return Command{}, total, errKind(KindBadShape)
			}
			arrayStart = total - n
			ag.inArray = true
			ag.expected = int(fr.Int)
			ag.arrived = 0
			continue
		}

		if fr.Kind != KindBulkString {
			ag.resetArray()
			return Command{}, total, errKind(KindBadShape)
		}
		ag.elems[ag.arrived] = fr.Bytes
		ag.arrived++
		if ag.arrived == ag.expected {
			cmd := Command{Elements: ag.elems[:ag.arrived]}
			ag.resetArray()
			return cmd, total, nil
		}
	}
}
