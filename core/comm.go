package core

import (
	"runtime"

	"burstlink/protocol"
)

// Default buffer sizes
const (
	TxRingSize  = 4096 // Holds several blocks' worth of framing under bursts
	TxChunkSize = 512  // Largest single hardware transfer
	RxRingSize  = 2048
)

// TxDMA starts hardware transfers for the byte transport.
//
// StartTransfer begins sending p and returns without waiting. p is owned by
// the transport and stays valid until the hardware signals completion by
// calling ByteTransport.OnTxComplete, usually from interrupt context.
// A non-nil error means the transfer did not start.
type TxDMA interface {
	StartTransfer(p []byte) error
}

// ByteTransportConfig sizes the transport's buffers. Zero values select
// the defaults.
type ByteTransportConfig struct {
	TxRingSize  int
	RxRingSize  int
	TxChunkSize int
}

// ByteTransport moves raw bytes between the wire and two rings.
//
// The cooperative context enqueues TX data and consumes RX data; interrupt
// context advances the TX tail on transfer completion and appends RX data.
// Every read-modify-write of ring indices, the busy flag and the staged
// transfer length happens inside one critical section.
type ByteTransport struct {
	cs  criticalSection
	dma TxDMA

	tx *protocol.Ring
	rx *protocol.Ring

	dmaBuf    []byte // transfer-owned linear copy of the ring tail
	busy      bool
	activeLen int

	txDrops     uint32
	rxOverflows uint32
}

// NewByteTransport creates a transport handing TX data to dma
func NewByteTransport(dma TxDMA, cfg ByteTransportConfig) *ByteTransport {
	if cfg.TxRingSize <= 0 {
		cfg.TxRingSize = TxRingSize
	}
	if cfg.RxRingSize <= 0 {
		cfg.RxRingSize = RxRingSize
	}
	if cfg.TxChunkSize <= 0 {
		cfg.TxChunkSize = TxChunkSize
	}
	if cfg.TxChunkSize > cfg.TxRingSize {
		cfg.TxChunkSize = cfg.TxRingSize
	}
	return &ByteTransport{
		dma:    dma,
		tx:     protocol.NewRing(cfg.TxRingSize),
		rx:     protocol.NewRing(cfg.RxRingSize),
		dmaBuf: make([]byte, cfg.TxChunkSize),
	}
}

// Reset drops all buffered data and clears the counters.
// Only call while no transfer is in progress.
func (t *ByteTransport) Reset() {
	state := t.cs.enter()
	t.tx.Reset()
	t.rx.Reset()
	t.busy = false
	t.activeLen = 0
	t.txDrops = 0
	t.rxOverflows = 0
	t.cs.exit(state)
}

// NonBlockingSend enqueues all of p or nothing. When the TX ring lacks room
// the payload is dropped, counted, and 0 is returned.
func (t *ByteTransport) NonBlockingSend(p []byte) int {
	if len(p) == 0 {
		return 0
	}

	// Free-space check and copy share one critical section so an interrupt
	// cannot consume the space in between.
	state := t.cs.enter()
	if !t.tx.Put(p) {
		t.txDrops = saturatingAdd(t.txDrops, uint32(len(p)))
		t.cs.exit(state)
		return 0
	}
	start := !t.busy
	t.cs.exit(state)

	if start {
		t.KickTransmit()
	}
	return len(p)
}

// BlockingSend enqueues all of p, waiting for the drain to free space.
//
// A payload that fits the ring is copied in one atomic step once enough
// space exists, so it is never interleaved with other senders. A larger
// payload is copied progressively as space frees up. The critical section
// is released between attempts.
//
// Must never be called from interrupt context: nothing else would drain
// the ring and it would spin forever.
func (t *ByteTransport) BlockingSend(p []byte) int {
	if len(p) == 0 {
		return 0
	}
	if len(p) > t.tx.Capacity() {
		return t.blockingSendChunked(p)
	}

	var state irqState
	for {
		state = t.cs.enter()
		if t.tx.Free() >= len(p) {
			break
		}
		stalled := !t.busy && !t.tx.IsEmpty()
		t.cs.exit(state)

		// A failed transfer start leaves data queued with no completion due
		if stalled {
			t.KickTransmit()
		}
		runtime.Gosched()
	}
	t.tx.Put(p)
	start := !t.busy
	t.cs.exit(state)

	if start {
		t.KickTransmit()
	}
	return len(p)
}

func (t *ByteTransport) blockingSendChunked(p []byte) int {
	sent := 0
	for sent < len(p) {
		state := t.cs.enter()
		n := t.tx.Free()
		if rest := len(p) - sent; n > rest {
			n = rest
		}
		if n > 0 {
			t.tx.Put(p[sent : sent+n])
			sent += n
		}
		start := !t.busy && !t.tx.IsEmpty()
		t.cs.exit(state)

		if start {
			t.KickTransmit()
		}
		if n == 0 {
			runtime.Gosched()
		}
	}
	return sent
}

// KickTransmit starts a hardware transfer when none is in progress and the
// TX ring holds data. Up to one chunk is copied from the ring tail into the
// transfer-owned buffer; the tail only advances on completion.
func (t *ByteTransport) KickTransmit() {
	state := t.cs.enter()
	if t.busy {
		t.cs.exit(state)
		return
	}
	if t.tx.IsEmpty() {
		t.activeLen = 0
		t.cs.exit(state)
		return
	}
	t.busy = true
	n := copy(t.dmaBuf, t.tx.Contiguous(len(t.dmaBuf)))
	t.activeLen = n
	t.cs.exit(state)

	if err := t.dma.StartTransfer(t.dmaBuf[:n]); err != nil {
		state = t.cs.enter()
		t.busy = false
		t.activeLen = 0
		t.cs.exit(state)
	}
}

// OnTxComplete is called from interrupt context when a transfer finishes.
// It releases the sent bytes and continues draining.
func (t *ByteTransport) OnTxComplete() {
	state := t.cs.enter()
	if t.activeLen > 0 {
		t.tx.Advance(t.activeLen)
	}
	t.activeLen = 0
	t.busy = false
	t.cs.exit(state)

	t.KickTransmit()
}

// OnRxEvent is called from interrupt context with newly received bytes.
// Bytes that do not fit are dropped and counted; buffered data is never
// overwritten.
func (t *ByteTransport) OnRxEvent(p []byte) {
	state := t.cs.enter()
	n := t.rx.Free()
	if n > len(p) {
		n = len(p)
	}
	t.rx.Put(p[:n])
	if lost := len(p) - n; lost > 0 {
		t.rxOverflows = saturatingAdd(t.rxOverflows, uint32(lost))
	}
	t.cs.exit(state)
}

// ReadRx moves up to len(dst) received bytes into dst
func (t *ByteTransport) ReadRx(dst []byte) int {
	state := t.cs.enter()
	n := t.rx.Get(dst)
	t.cs.exit(state)
	return n
}

// IsIdle reports whether no transfer is active and the TX ring is empty
func (t *ByteTransport) IsIdle() bool {
	state := t.cs.enter()
	idle := !t.busy && t.tx.IsEmpty()
	t.cs.exit(state)
	return idle
}

// FreeSpace returns the number of bytes the TX ring can accept
func (t *ByteTransport) FreeSpace() int {
	state := t.cs.enter()
	n := t.tx.Free()
	t.cs.exit(state)
	return n
}

// TxRingUsage returns the number of bytes waiting in the TX ring
func (t *ByteTransport) TxRingUsage() int {
	state := t.cs.enter()
	n := t.tx.Used()
	t.cs.exit(state)
	return n
}

// RxRingUsage returns the number of unread bytes in the RX ring
func (t *ByteTransport) RxRingUsage() int {
	state := t.cs.enter()
	n := t.rx.Used()
	t.cs.exit(state)
	return n
}

// DropCount returns the number of TX bytes dropped by NonBlockingSend
func (t *ByteTransport) DropCount() uint32 {
	state := t.cs.enter()
	n := t.txDrops
	t.cs.exit(state)
	return n
}

// OverflowCount returns the number of RX bytes lost to a full ring
func (t *ByteTransport) OverflowCount() uint32 {
	state := t.cs.enter()
	n := t.rxOverflows
	t.cs.exit(state)
	return n
}

func saturatingAdd(a, b uint32) uint32 {
	if a > ^uint32(0)-b {
		return ^uint32(0)
	}
	return a + b
}
