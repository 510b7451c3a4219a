package core

import "strconv"

// utoa converts an unsigned integer to a string without using fmt.
// Only used on diagnostic paths; block formatting goes through
// protocol.Scratch and never allocates.
func utoa(n uint32) string {
	var buf [10]byte
	return string(strconv.AppendUint(buf[:0], uint64(n), 10))
}
