package core

import "burstlink/protocol"

// BurstType identifies the measurement a burst carries
type BurstType uint8

const (
	BurstWeight BurstType = iota
	BurstDampTrg
	BurstDampCD
)

// String returns the wire name of the burst type
func (b BurstType) String() string {
	switch b {
	case BurstWeight:
		return "WEIGHT"
	case BurstDampTrg:
		return "DAMP_TRG"
	case BurstDampCD:
		return "DAMP_CD"
	default:
		return "UNKNOWN"
	}
}

// LineSender queues diagnostic lines that may be dropped under pressure.
// ByteTransport.NonBlockingSend satisfies this.
type LineSender interface {
	NonBlockingSend(p []byte) int
}

// BurstManager frames a burst around the block engine: DATA_HEADER before
// the first block, COMPLETE once every block is acknowledged (or the burst
// aborted), and the host's ACK_COMPLETE to close it.
type BurstManager struct {
	engine *BlockTransport
	out    LineSender

	active      bool
	waitingAck  bool
	donePending bool
	aborted     bool
	abortCode   uint32

	burstType BurstType
	burstID   uint32
	samples   uint16
	odrHz     uint32

	scratch protocol.Scratch
}

// NewBurstManager creates a manager driving engine. It installs itself as
// the engine's abort handler.
func NewBurstManager(engine *BlockTransport, out LineSender) *BurstManager {
	m := &BurstManager{
		engine: engine,
		out:    out,
	}
	engine.SetAbortHandler(m.EndAborted)
	return m
}

// Engine returns the block engine driven by the manager
func (m *BurstManager) Engine() *BlockTransport {
	return m.engine
}

// Begin announces a burst with DATA_HEADER and opens it on the engine
func (m *BurstManager) Begin(typ BurstType, burstID, ts0Us uint32, samples uint16, odrHz uint32) {
	m.active = true
	m.waitingAck = false
	m.donePending = false
	m.aborted = false
	m.abortCode = 0
	m.burstType = typ
	m.burstID = burstID
	m.samples = samples
	m.odrHz = odrHz

	s := &m.scratch
	s.Begin(protocol.MsgDataHeader)
	s.Str("type", typ.String())
	s.Uint("burst_id", uint64(burstID))
	s.Uint("ts0_us", uint64(ts0Us))
	s.Uint("samples", uint64(samples))
	s.Str("mode", "CSV")
	m.out.NonBlockingSend(s.End())

	m.engine.BeginBurst(burstID)
}

// Enqueue hands a block to the engine
func (m *BurstManager) Enqueue(gen LineGenerator, lines uint16) error {
	return m.engine.EnqueueBlock(gen, lines)
}

// Pump advances the engine and, once content is finished and the engine is
// idle, emits COMPLETE. A COMPLETE that did not fit the TX ring is retried
// on the next call.
func (m *BurstManager) Pump() {
	if !m.active {
		return
	}
	m.engine.Pump()

	if !m.donePending || m.waitingAck || !m.engine.IsIdle() {
		return
	}
	if m.out.NonBlockingSend(m.completeLine()) == 0 {
		return
	}
	m.waitingAck = true
	m.donePending = false
}

func (m *BurstManager) completeLine() []byte {
	s := &m.scratch
	s.Begin(protocol.MsgComplete)
	s.Uint("burst_id", uint64(m.burstID))
	if m.aborted {
		s.Str("reason", "aborted")
		s.Uint("code", uint64(m.abortCode))
		return s.End()
	}
	s.Uint("samples", uint64(m.samples))
	s.Uint("dropped", 0)
	s.Uint("time_ms", uint64(BurstDurationMs(uint32(m.samples), m.odrHz)))
	return s.End()
}

// BurstDurationMs returns the capture time of samples at odrHz, rounded to
// the nearest millisecond. Zero when odrHz is zero.
func BurstDurationMs(samples, odrHz uint32) uint32 {
	if odrHz == 0 {
		return 0
	}
	return uint32((uint64(samples)*1000 + uint64(odrHz/2)) / uint64(odrHz))
}

// EndOk signals that all content has been enqueued
func (m *BurstManager) EndOk() {
	if !m.active {
		return
	}
	m.aborted = false
	m.donePending = true
}

// EndAborted signals that the burst failed with code. It is also the
// engine's abort handler.
func (m *BurstManager) EndAborted(code uint32) {
	if !m.active {
		return
	}
	m.aborted = true
	m.abortCode = code
	m.donePending = true
}

// Stop aborts the active burst immediately, discarding outstanding blocks
func (m *BurstManager) Stop(code uint32) {
	if !m.active || m.waitingAck {
		return
	}
	if m.engine.BurstActive() {
		m.engine.Abort(code) // reports back through EndAborted
		return
	}
	m.EndAborted(code)
}

// HandleHostLine offers line to the engine, then handles ACK_COMPLETE.
// An ACK_COMPLETE with a burst_id only closes the matching burst.
func (m *BurstManager) HandleHostLine(line []byte) bool {
	if m.engine.HandleHostLine(line) {
		return true
	}
	if !protocol.IsMessage(line, protocol.MsgAckComplete) {
		return false
	}
	if !m.active || !m.waitingAck {
		return false
	}
	if v, ok := protocol.Field(line, "burst_id"); ok {
		id, err := protocol.ParseUint(v, 32)
		if err != nil || uint32(id) != m.burstID {
			return false
		}
	}
	m.waitingAck = false
	m.active = false
	m.engine.EndBurst()
	return true
}

// IsActive reports whether a burst is in progress, including the wait for
// ACK_COMPLETE
func (m *BurstManager) IsActive() bool {
	return m.active
}

// IsWaitingAckComplete reports whether COMPLETE was sent and not yet
// acknowledged
func (m *BurstManager) IsWaitingAckComplete() bool {
	return m.waitingAck
}

// BurstID returns the current or last burst id
func (m *BurstManager) BurstID() uint32 {
	return m.burstID
}

// Aborted reports whether the current burst ended in an abort
func (m *BurstManager) Aborted() (bool, uint32) {
	return m.aborted, m.abortCode
}
