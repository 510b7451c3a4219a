package core

// DebugWriter is a function type for writing debug messages
type DebugWriter func(string)

// Transport event codes recorded in the trace ring
const (
	EvtSend     = 1 // Block sent for the first time
	EvtResend   = 2 // Block retransmitted after timeout or NACK
	EvtAck      = 3 // ACK_BLK matched an inflight block
	EvtNack     = 4 // NACK_BLK matched an inflight block
	EvtTimeout  = 5 // Inflight block missed its deadline
	EvtAbort    = 6 // Burst aborted, Value1 carries the code
	EvtMismatch = 7 // Generator produced different bytes on the transmit pass
)

const (
	TraceRingSize = 32 // Keep last 32 events for post-mortem
)

var (
	// debugPrintln is the global debug print function (can be set by platform code)
	debugPrintln DebugWriter = func(s string) {} // No-op by default

	// debugEnabled controls whether debug output is active
	debugEnabled bool = false
)

// SetDebugWriter sets the platform-specific debug output function
// This allows platforms to redirect debug output to UART, glog, etc.
func SetDebugWriter(writer DebugWriter) {
	if writer == nil {
		writer = func(string) {}
	}
	debugPrintln = writer
}

// SetDebugEnabled enables or disables debug output
func SetDebugEnabled(enabled bool) {
	debugEnabled = enabled
}

// IsDebugEnabled returns whether debug output is enabled
func IsDebugEnabled() bool {
	return debugEnabled
}

// DebugPrintln writes a debug message using the platform-specific writer
func DebugPrintln(msg string) {
	if debugEnabled {
		debugPrintln(msg)
	}
}

// TraceEvent captures one transport event for post-mortem analysis
type TraceEvent struct {
	EventType uint8  // Event type code
	Seq       uint16 // Block sequence number
	Clock     uint32 // Milliseconds at event
	Value1    uint32 // Context-dependent value
	Value2    uint32 // Context-dependent value
}

// TraceRing keeps the most recent transport events. Recording is
// allocation-free and never blocks.
type TraceRing struct {
	events [TraceRingSize]TraceEvent
	head   uint8 // Next write position
}

// Record captures an event, overwriting the oldest
func (r *TraceRing) Record(eventType uint8, seq uint16, clock, value1, value2 uint32) {
	idx := r.head
	r.events[idx] = TraceEvent{
		EventType: eventType,
		Seq:       seq,
		Clock:     clock,
		Value1:    value1,
		Value2:    value2,
	}
	r.head = (idx + 1) % TraceRingSize
}

// Events appends the recorded events to dst, oldest first
func (r *TraceRing) Events(dst []TraceEvent) []TraceEvent {
	start := r.head
	for i := uint8(0); i < TraceRingSize; i++ {
		evt := r.events[(start+i)%TraceRingSize]
		if evt.EventType == 0 {
			continue // Empty slot
		}
		dst = append(dst, evt)
	}
	return dst
}

// Dump outputs the trace through the debug writer (call on abort or from a
// diagnostics command, never from interrupt context)
func (r *TraceRing) Dump() {
	debugPrintln("[TRACE] === Transport Trace Dump ===")
	start := r.head
	for i := uint8(0); i < TraceRingSize; i++ {
		evt := &r.events[(start+i)%TraceRingSize]
		if evt.EventType == 0 {
			continue
		}
		debugPrintln("[TRACE] " + eventName(evt.EventType) +
			" blk=" + utoa(uint32(evt.Seq)) +
			" clock=" + utoa(evt.Clock) +
			" v1=" + utoa(evt.Value1) +
			" v2=" + utoa(evt.Value2))
	}
	debugPrintln("[TRACE] === End Dump ===")
}

// Clear empties the trace
func (r *TraceRing) Clear() {
	for i := range r.events {
		r.events[i] = TraceEvent{}
	}
	r.head = 0
}

func eventName(t uint8) string {
	switch t {
	case EvtSend:
		return "SEND"
	case EvtResend:
		return "RESEND"
	case EvtAck:
		return "ACK"
	case EvtNack:
		return "NACK"
	case EvtTimeout:
		return "TIMEOUT"
	case EvtAbort:
		return "ABORT!"
	case EvtMismatch:
		return "MISMATCH!"
	default:
		return "UNKNOWN"
	}
}
