package core

import "burstlink/protocol"

// Per-call processing budget of LineReader.Process
const (
	MaxLinesPerCall = 8
	MaxMsPerCall    = 2
)

// LineHandler consumes one host line. It returns false when the line is not
// meant for it so the next handler can try.
type LineHandler interface {
	HandleHostLine(line []byte) bool
}

// LineHandlerFunc adapts a function to LineHandler
type LineHandlerFunc func(line []byte) bool

// HandleHostLine calls f(line)
func (f LineHandlerFunc) HandleHostLine(line []byte) bool {
	return f(line)
}

// RxSource is where received bytes come from. ByteTransport.ReadRx
// satisfies it.
type RxSource interface {
	ReadRx(dst []byte) int
}

// LineReader assembles CR/LF terminated host lines from the RX ring and
// dispatches them. Lines passed to handlers exclude the terminator and are
// only valid during the call.
type LineReader struct {
	rx       RxSource
	out      LineSender
	clock    Clock
	handlers []LineHandler
	fallback func(line []byte)

	line      [protocol.MaxLine]byte
	lineLen   int
	truncated bool

	pending    [64]byte
	pendingPos int
	pendingLen int

	tooLong   uint32
	unhandled uint32
	scratch   protocol.Scratch
}

// NewLineReader creates a reader pulling from rx. Over-long line NACKs are
// sent through out.
func NewLineReader(rx RxSource, out LineSender, clock Clock) *LineReader {
	return &LineReader{
		rx:    rx,
		out:   out,
		clock: clock,
	}
}

// AddHandler appends h to the handler chain. Call during setup only.
func (r *LineReader) AddHandler(h LineHandler) {
	r.handlers = append(r.handlers, h)
}

// SetFallback sets the function receiving lines no handler accepted
func (r *LineReader) SetFallback(f func(line []byte)) {
	r.fallback = f
}

// Process consumes received bytes until the RX ring is empty or the budget
// of MaxLinesPerCall lines or MaxMsPerCall milliseconds is spent. Bytes not
// consumed stay queued for the next call.
func (r *LineReader) Process() {
	start := r.clock.Millis()
	lines := 0

	for {
		if r.pendingPos >= r.pendingLen {
			r.pendingLen = r.rx.ReadRx(r.pending[:])
			r.pendingPos = 0
			if r.pendingLen == 0 {
				return
			}
		}

		c := r.pending[r.pendingPos]
		r.pendingPos++

		if c == '\r' || c == '\n' {
			if r.lineLen > 0 {
				r.dispatch(r.line[:r.lineLen])
				lines++
			} else if r.truncated {
				r.nackTooLong()
			}
			r.lineLen = 0
			r.truncated = false
		} else if !r.truncated {
			if r.lineLen < len(r.line)-1 {
				r.line[r.lineLen] = c
				r.lineLen++
			} else {
				r.truncated = true
				r.lineLen = 0
			}
		}

		if lines >= MaxLinesPerCall {
			return
		}
		if elapsed(r.clock.Millis(), start) >= MaxMsPerCall {
			return
		}
	}
}

func (r *LineReader) dispatch(line []byte) {
	for _, h := range r.handlers {
		if h.HandleHostLine(line) {
			return
		}
	}
	r.unhandled++
	if r.fallback != nil {
		r.fallback(line)
	}
}

func (r *LineReader) nackTooLong() {
	r.tooLong++
	s := &r.scratch
	s.Begin(protocol.MsgNack)
	s.Str("SUBJECT", "UNKNOWN")
	s.Str("reason", "line_too_long")
	s.Uint("code", protocol.LineTooLongCode)
	r.out.NonBlockingSend(s.End())
}

// TooLongCount returns the number of discarded over-long lines
func (r *LineReader) TooLongCount() uint32 {
	return r.tooLong
}

// UnhandledCount returns the number of lines no handler accepted
func (r *LineReader) UnhandledCount() uint32 {
	return r.unhandled
}
