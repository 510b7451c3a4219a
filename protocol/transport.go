package protocol

import "errors"

var (
	ErrNoDigits      = errors.New("no digits")
	ErrOutOfRange    = errors.New("value out of range")
	ErrTrailingChars = errors.New("unexpected characters after number")
)

// BlockReply is a host acknowledgment for one block
type BlockReply struct {
	Seq  uint16
	Nack bool
	Code uint32 // NACK_BLK code, 0 when absent
}

// BlockHeader formats the line that opens a block
func BlockHeader(s *Scratch, burstID uint32, seq, lines, crc uint16) []byte {
	s.Begin(MsgBlockHeader)
	s.Uint("burst_id", uint64(burstID))
	s.Uint("blk", uint64(seq))
	s.Uint("lines", uint64(lines))
	s.Uint("crc16", uint64(crc))
	return s.End()
}

// BlockEnd formats the line that closes a block
func BlockEnd(s *Scratch, seq, crc uint16) []byte {
	s.Begin(MsgBlockEnd)
	s.Uint("blk", uint64(seq))
	s.Uint("crc16", uint64(crc))
	return s.End()
}

// AckBlock formats a positive block acknowledgment
func AckBlock(s *Scratch, seq uint16) []byte {
	s.Begin(MsgAckBlock)
	s.Uint("blk", uint64(seq))
	return s.End()
}

// NackBlock formats a negative block acknowledgment. A zero code is omitted.
func NackBlock(s *Scratch, seq uint16, code uint32) []byte {
	s.Begin(MsgNackBlock)
	s.Uint("blk", uint64(seq))
	if code != 0 {
		s.Uint("code", uint64(code))
	}
	return s.End()
}

// ParseBlockReply recognizes ACK_BLK and NACK_BLK lines.
// It returns false for any other line, or when blk= is missing or invalid.
// An invalid code= on a NACK is treated as absent.
func ParseBlockReply(line []byte) (BlockReply, bool) {
	var r BlockReply
	switch {
	case IsMessage(line, MsgAckBlock):
	case IsMessage(line, MsgNackBlock):
		r.Nack = true
	default:
		return r, false
	}

	v, ok := Field(line, "blk")
	if !ok {
		return r, false
	}
	seq, err := ParseUint(v, 16)
	if err != nil {
		return r, false
	}
	r.Seq = uint16(seq)

	if r.Nack {
		if v, ok := Field(line, "code"); ok {
			if code, err := ParseUint(v, 32); err == nil {
				r.Code = uint32(code)
			}
		}
	}
	return r, true
}

// MessageName returns the first field of a line, without EOL
func MessageName(line []byte) []byte {
	for i, c := range line {
		if c == FieldDelim || c == '\r' || c == '\n' {
			return line[:i]
		}
	}
	return line
}

// IsMessage reports whether the line's first field is exactly name
func IsMessage(line []byte, name string) bool {
	return string(MessageName(line)) == name
}

// Field finds key=value among the line's comma-separated fields, skipping
// the message name. The returned value runs up to the next delimiter and
// may still carry EOL or blanks; ParseUint tolerates those.
func Field(line []byte, key string) ([]byte, bool) {
	start := len(MessageName(line))
	for start < len(line) {
		if line[start] != FieldDelim {
			return nil, false
		}
		start++
		end := start
		for end < len(line) && line[end] != FieldDelim {
			end++
		}
		f := skipBlanks(line[start:end])
		if len(f) > len(key) && string(f[:len(key)]) == key && f[len(key)] == KVSep {
			return f[len(key)+1:], true
		}
		start = end
	}
	return nil, false
}

// ParseUint is a strict unsigned decimal parser: optional leading blanks,
// at least one digit, optional trailing blanks, then end of input or one
// of ',', CR, LF. No sign, no overflow past bitSize.
func ParseUint(s []byte, bitSize int) (uint64, error) {
	s = skipBlanks(s)
	max := uint64(1)<<uint(bitSize) - 1
	if bitSize >= 64 {
		max = ^uint64(0)
	}

	var acc uint64
	nd := 0
	for nd < len(s) && s[nd] >= '0' && s[nd] <= '9' {
		d := uint64(s[nd] - '0')
		if acc > (max-d)/10 {
			return 0, ErrOutOfRange
		}
		acc = acc*10 + d
		nd++
	}
	if nd == 0 {
		return 0, ErrNoDigits
	}

	rest := skipBlanks(s[nd:])
	if len(rest) > 0 && !isTerminator(rest[0]) {
		return 0, ErrTrailingChars
	}
	return acc, nil
}

func skipBlanks(s []byte) []byte {
	for len(s) > 0 && (s[0] == ' ' || s[0] == '\t') {
		s = s[1:]
	}
	return s
}

func isTerminator(c byte) bool {
	return c == FieldDelim || c == '\r' || c == '\n'
}
