package protocol

import "strconv"

// Ring is a fixed-capacity circular byte store.
//
// One slot is permanently reserved so head == tail always means "empty";
// a ring of size N holds at most N-1 bytes. Ring does no locking: owners
// that share it with interrupt context must wrap every call in their own
// critical section.
type Ring struct {
	buf  []byte
	head int // next write position
	tail int // next read position
	size int
}

// NewRing creates a Ring with the specified size (usable capacity size-1)
func NewRing(size int) *Ring {
	if size < 2 {
		size = 2
	}
	return &Ring{
		buf:  make([]byte, size),
		size: size,
	}
}

// Size returns the total number of slots, including the reserved one
func (r *Ring) Size() int {
	return r.size
}

// Capacity returns the maximum number of bytes the ring can hold
func (r *Ring) Capacity() int {
	return r.size - 1
}

// Used returns the number of bytes stored
func (r *Ring) Used() int {
	if r.head >= r.tail {
		return r.head - r.tail
	}
	return r.size - r.tail + r.head
}

// Free returns the number of bytes that can still be stored
func (r *Ring) Free() int {
	return r.size - 1 - r.Used()
}

// IsEmpty returns true if the ring holds no data
func (r *Ring) IsEmpty() bool {
	return r.head == r.tail
}

// Put stores all of data or nothing. It returns false without touching
// the ring when data does not fit. Wrapped writes are split into at most
// two linear copies.
func (r *Ring) Put(data []byte) bool {
	n := len(data)
	if n > r.Free() {
		return false
	}
	first := r.size - r.head
	if n < first {
		first = n
	}
	copy(r.buf[r.head:], data[:first])
	if rest := n - first; rest > 0 {
		copy(r.buf, data[first:])
		r.head = rest
	} else {
		r.head = (r.head + first) % r.size
	}
	return true
}

// Get copies up to len(dst) bytes out of the ring and consumes them
func (r *Ring) Get(dst []byte) int {
	n := r.Used()
	if n > len(dst) {
		n = len(dst)
	}
	first := r.size - r.tail
	if n < first {
		first = n
	}
	copy(dst, r.buf[r.tail:r.tail+first])
	if rest := n - first; rest > 0 {
		copy(dst[first:], r.buf[:rest])
	}
	r.tail = (r.tail + n) % r.size
	return n
}

// Contiguous returns the linear run of stored bytes starting at the tail,
// at most max long. The bytes stay in the ring until Advance.
func (r *Ring) Contiguous(max int) []byte {
	var n int
	if r.head >= r.tail {
		n = r.head - r.tail
	} else {
		n = r.size - r.tail
	}
	if n > max {
		n = max
	}
	return r.buf[r.tail : r.tail+n]
}

// Advance consumes n bytes from the tail
func (r *Ring) Advance(n int) {
	if used := r.Used(); n > used {
		n = used
	}
	r.tail = (r.tail + n) % r.size
}

// Reset clears the ring
func (r *Ring) Reset() {
	r.head = 0
	r.tail = 0
}

// Scratch is a fixed-size line builder used to format protocol lines
// without heap allocation. Appends past MaxLine are truncated and flagged.
type Scratch struct {
	buf      [MaxLine]byte
	num      [48]byte
	pos      int
	overflow bool
}

// Output appends raw bytes
func (s *Scratch) Output(data []byte) {
	n := copy(s.buf[s.pos:], data)
	if n < len(data) {
		s.overflow = true
	}
	s.pos += n
}

// OutputString appends a string
func (s *Scratch) OutputString(str string) {
	n := copy(s.buf[s.pos:], str)
	if n < len(str) {
		s.overflow = true
	}
	s.pos += n
}

func (s *Scratch) outputByte(b byte) {
	if s.pos >= len(s.buf) {
		s.overflow = true
		return
	}
	s.buf[s.pos] = b
	s.pos++
}

// Begin resets the builder and writes the message name
func (s *Scratch) Begin(name string) {
	s.Reset()
	s.OutputString(name)
}

// Uint appends ",key=v"
func (s *Scratch) Uint(key string, v uint64) {
	s.outputByte(FieldDelim)
	s.OutputString(key)
	s.outputByte(KVSep)
	s.Output(strconv.AppendUint(s.num[:0], v, 10))
}

// Str appends ",key=v"
func (s *Scratch) Str(key, v string) {
	s.outputByte(FieldDelim)
	s.OutputString(key)
	s.outputByte(KVSep)
	s.OutputString(v)
}

// PosUint appends a positional ",v" field
func (s *Scratch) PosUint(v uint64) {
	s.outputByte(FieldDelim)
	s.Output(strconv.AppendUint(s.num[:0], v, 10))
}

// PosFloat3 appends a positional ",v" field with three decimals
func (s *Scratch) PosFloat3(v float32) {
	s.outputByte(FieldDelim)
	s.Output(strconv.AppendFloat(s.num[:0], float64(v), 'f', 3, 32))
}

// End terminates the line with EOL and returns it. A truncated line still
// ends in EOL.
func (s *Scratch) End() []byte {
	if s.pos > len(s.buf)-EOLLen {
		s.pos = len(s.buf) - EOLLen
		s.overflow = true
	}
	s.OutputString(EOL)
	return s.Result()
}

// Result returns the accumulated line
func (s *Scratch) Result() []byte {
	return s.buf[:s.pos]
}

// Overflowed reports whether an append was truncated since the last Reset
func (s *Scratch) Overflowed() bool {
	return s.overflow
}

// Reset clears the buffer
func (s *Scratch) Reset() {
	s.pos = 0
	s.overflow = false
}
