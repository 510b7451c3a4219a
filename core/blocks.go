package core

import (
	"errors"

	"burstlink/protocol"
)

// Engine capacities
const (
	MaxQueue    = 16 // Blocks waiting to be sent
	MaxInflight = 8  // Upper bound on the send window
)

var (
	ErrNoBurst       = errors.New("no active burst")
	ErrNilGenerator  = errors.New("nil line generator")
	ErrEmptyBlock    = errors.New("block has no lines")
	ErrBlockTooLarge = errors.New("block exceeds configured lines per block")
	ErrQueueFull     = errors.New("block queue full")
	ErrBurstActive   = errors.New("burst active")
)

// LineGenerator produces the lines of one block.
//
// GenerateLine writes line index (terminator included) into dst and returns
// its length; n <= 0 means there is no such line. The engine calls it twice
// for every line: once at enqueue to compute the block CRC and again on
// every transmission. It must return identical bytes each time.
type LineGenerator interface {
	GenerateLine(index uint16, dst []byte) int
}

// LineGeneratorFunc adapts a function to LineGenerator
type LineGeneratorFunc func(index uint16, dst []byte) int

// GenerateLine calls f(index, dst)
func (f LineGeneratorFunc) GenerateLine(index uint16, dst []byte) int {
	return f(index, dst)
}

// BlockWriter accepts the bytes of a block. Writes must not drop data;
// ByteTransport.BlockingSend satisfies this.
type BlockWriter interface {
	BlockingSend(p []byte) int
}

// AbortHandler is invoked once when a burst is aborted
type AbortHandler func(code uint32)

// Stats counts engine activity since Init
type Stats struct {
	Sent                uint32 // First transmissions
	Resent              uint32 // Retransmissions after timeout or NACK
	Acked               uint32
	Nacked              uint32
	Timeouts            uint32
	Aborts              uint32
	GeneratorMismatches uint32 // Transmit pass CRC differed from enqueue CRC
}

type blockEntry struct {
	gen        LineGenerator
	lines      uint16
	seq        uint16
	crc        uint16
	retries    uint8
	lastSendAt uint32
	inflight   bool
	done       bool
}

// BlockTransport is the windowed block delivery engine.
//
// It segments a burst into blocks, keeps at most window blocks
// unacknowledged, retransmits on timeout or NACK, and aborts the whole
// burst once a block runs out of retries. All state lives in fixed arrays;
// nothing is allocated per block. Not safe for concurrent use: every call
// comes from the cooperative loop.
type BlockTransport struct {
	out     BlockWriter
	clock   Clock
	onAbort AbortHandler

	window     uint8
	blockLines uint16
	maxRetries uint8

	burstID     uint32
	nextSeq     uint16
	burstActive bool

	queue  [MaxQueue]blockEntry
	qHead  uint8
	qTail  uint8
	qCount uint8

	inflight      [MaxInflight]blockEntry
	inflightCount uint8

	line    [protocol.MaxLine]byte
	scratch protocol.Scratch

	stats Stats
	trace TraceRing
}

// NewBlockTransport creates an engine writing to out with default settings
func NewBlockTransport(out BlockWriter, clock Clock) *BlockTransport {
	t := &BlockTransport{
		out:   out,
		clock: clock,
	}
	t.Init(protocol.DefaultWindow, protocol.DefaultBlockLines, protocol.DefaultMaxRetries)
	return t
}

// Init sets the window, block size and retry budget and resets all state.
// window is clamped to [1,8], blockLines above 512 to 512 (0 selects the
// default) and maxRetries to at least 1.
func (t *BlockTransport) Init(window uint8, blockLines uint16, maxRetries uint8) {
	t.setParams(window, blockLines, maxRetries)
	t.burstID = 0
	t.nextSeq = 0
	t.burstActive = false
	t.clearQueues()
	t.stats = Stats{}
	t.trace.Clear()
}

// Configure applies cfg after clamping it. Settings only change between
// bursts.
func (t *BlockTransport) Configure(cfg BlocksConfig) error {
	if t.burstActive {
		return ErrBurstActive
	}
	cfg = cfg.Clamped()
	t.setParams(cfg.Window, cfg.Lines, cfg.Retries)
	return nil
}

func (t *BlockTransport) setParams(window uint8, blockLines uint16, maxRetries uint8) {
	if window == 0 {
		window = 1
	} else if window > MaxInflight {
		window = MaxInflight
	}
	if blockLines == 0 {
		blockLines = protocol.DefaultBlockLines
	} else if blockLines > protocol.MaxBlockLines {
		blockLines = protocol.MaxBlockLines
	}
	if maxRetries == 0 {
		maxRetries = 1
	}
	t.window = window
	t.blockLines = blockLines
	t.maxRetries = maxRetries
}

// SetAbortHandler registers the hook invoked when a burst is aborted
func (t *BlockTransport) SetAbortHandler(h AbortHandler) {
	t.onAbort = h
}

// BeginBurst starts a new burst, discarding anything left from the previous
// one. Sequence numbers restart at 1.
func (t *BlockTransport) BeginBurst(burstID uint32) {
	t.burstID = burstID
	t.nextSeq = 1
	t.burstActive = true
	t.clearQueues()
}

// EndBurst marks the burst closed. Called after the completion handshake.
func (t *BlockTransport) EndBurst() {
	t.burstActive = false
}

// BurstActive reports whether a burst is open
func (t *BlockTransport) BurstActive() bool {
	return t.burstActive
}

// EnqueueBlock queues a block of lines produced by gen. On success the block
// gets the next sequence number and its CRC is computed by running gen over
// every line. On failure nothing changes.
func (t *BlockTransport) EnqueueBlock(gen LineGenerator, lines uint16) error {
	switch {
	case !t.burstActive:
		return ErrNoBurst
	case gen == nil || isNilFunc(gen):
		return ErrNilGenerator
	case lines == 0:
		return ErrEmptyBlock
	case lines > t.blockLines:
		return ErrBlockTooLarge
	case t.qCount >= MaxQueue:
		return ErrQueueFull
	}

	e := &t.queue[t.qTail]
	*e = blockEntry{
		gen:   gen,
		lines: lines,
		seq:   t.nextSeq,
		crc:   t.blockCRC(gen, lines),
	}
	t.nextSeq++
	t.qTail = (t.qTail + 1) % MaxQueue
	t.qCount++
	return nil
}

func isNilFunc(gen LineGenerator) bool {
	f, ok := gen.(LineGeneratorFunc)
	return ok && f == nil
}

func (t *BlockTransport) blockCRC(gen LineGenerator, lines uint16) uint16 {
	crc := protocol.NewCRC16()
	for i := uint16(0); i < lines; i++ {
		if n := t.generate(gen, i); n > 0 {
			crc.Update(t.line[:n])
		}
	}
	return crc.Sum16()
}

// generate runs gen into the line buffer and bounds its result
func (t *BlockTransport) generate(gen LineGenerator, index uint16) int {
	n := gen.GenerateLine(index, t.line[:])
	if n > len(t.line) {
		n = len(t.line)
	}
	return n
}

// Pump advances the engine: first fills the window from the queue, then
// retransmits or aborts overdue blocks. Does nothing without an active
// burst.
func (t *BlockTransport) Pump() {
	if !t.burstActive {
		return
	}
	t.pumpSend()
	t.pumpTimeouts()
}

func (t *BlockTransport) pumpSend() {
	for t.inflightCount < t.window && t.qCount > 0 {
		e := &t.inflight[t.inflightCount]
		*e = t.queue[t.qHead]
		t.queue[t.qHead] = blockEntry{}
		t.qHead = (t.qHead + 1) % MaxQueue
		t.qCount--

		t.sendBlock(e)
		e.inflight = true
		t.inflightCount++
		t.stats.Sent++
		t.trace.Record(EvtSend, e.seq, e.lastSendAt, uint32(e.lines), uint32(e.crc))
	}
}

func (t *BlockTransport) pumpTimeouts() {
	now := t.clock.Millis()
	for i := uint8(0); i < t.inflightCount; i++ {
		e := &t.inflight[i]
		if elapsed(now, e.lastSendAt) < protocol.BlockTimeoutMs {
			continue
		}
		t.stats.Timeouts++
		t.trace.Record(EvtTimeout, e.seq, now, uint32(e.retries), 0)
		if e.retries >= t.maxRetries {
			t.abort(protocol.DefaultAbortCode)
			return
		}
		e.retries++
		t.resend(e)
	}
}

// sendBlock writes header, lines and footer through the blocking path
func (t *BlockTransport) sendBlock(e *blockEntry) {
	t.out.BlockingSend(protocol.BlockHeader(&t.scratch, t.burstID, e.seq, e.lines, e.crc))

	crc := protocol.NewCRC16()
	for i := uint16(0); i < e.lines; i++ {
		if n := t.generate(e.gen, i); n > 0 {
			crc.Update(t.line[:n])
			t.out.BlockingSend(t.line[:n])
		}
	}

	t.out.BlockingSend(protocol.BlockEnd(&t.scratch, e.seq, e.crc))
	e.lastSendAt = t.clock.Millis()

	if got := crc.Sum16(); got != e.crc {
		t.stats.GeneratorMismatches++
		t.trace.Record(EvtMismatch, e.seq, e.lastSendAt, uint32(e.crc), uint32(got))
		DebugPrintln("[BLOCKS] generator mismatch blk=" + utoa(uint32(e.seq)) +
			" crc=" + utoa(uint32(e.crc)) + " got=" + utoa(uint32(got)))
	}
}

func (t *BlockTransport) resend(e *blockEntry) {
	t.sendBlock(e)
	t.stats.Resent++
	t.trace.Record(EvtResend, e.seq, e.lastSendAt, uint32(e.retries), 0)
}

// OnAck removes the matching inflight block. Unknown sequence numbers are
// ignored.
func (t *BlockTransport) OnAck(seq uint16) {
	idx, ok := t.findInflight(seq)
	if !ok {
		return
	}
	t.inflight[idx].done = true
	t.stats.Acked++
	t.trace.Record(EvtAck, seq, t.clock.Millis(), uint32(t.inflight[idx].retries), 0)
	t.removeInflight(idx)
}

// OnNack retransmits the matching inflight block while it has retries
// left, otherwise aborts the burst with code (or the default code when 0).
// Unknown sequence numbers are ignored.
func (t *BlockTransport) OnNack(seq uint16, code uint32) {
	idx, ok := t.findInflight(seq)
	if !ok {
		return
	}
	e := &t.inflight[idx]
	t.stats.Nacked++
	t.trace.Record(EvtNack, seq, t.clock.Millis(), code, uint32(e.retries))
	if e.retries >= t.maxRetries {
		if code == 0 {
			code = protocol.DefaultAbortCode
		}
		t.abort(code)
		return
	}
	e.retries++
	t.resend(e)
}

// HandleHostLine dispatches ACK_BLK and NACK_BLK lines. It returns false for
// any other line so the caller can try other handlers.
func (t *BlockTransport) HandleHostLine(line []byte) bool {
	r, ok := protocol.ParseBlockReply(line)
	if !ok {
		return false
	}
	if r.Nack {
		t.OnNack(r.Seq, r.Code)
	} else {
		t.OnAck(r.Seq)
	}
	return true
}

// IsIdle reports whether every enqueued block has been acknowledged (or the
// burst was aborted). It does not close the burst.
func (t *BlockTransport) IsIdle() bool {
	return t.qCount == 0 && t.inflightCount == 0
}

// QueueCount returns the number of blocks waiting to be sent
func (t *BlockTransport) QueueCount() int {
	return int(t.qCount)
}

// InflightCount returns the number of unacknowledged sent blocks
func (t *BlockTransport) InflightCount() int {
	return int(t.inflightCount)
}

// InflightSequences appends the inflight sequence numbers to dst in order
func (t *BlockTransport) InflightSequences(dst []uint16) []uint16 {
	for i := uint8(0); i < t.inflightCount; i++ {
		dst = append(dst, t.inflight[i].seq)
	}
	return dst
}

// NextSeq returns the sequence number the next enqueued block will get
func (t *BlockTransport) NextSeq() uint16 {
	return t.nextSeq
}

// Outstanding reports whether block seq is still queued or inflight
func (t *BlockTransport) Outstanding(seq uint16) bool {
	for i := uint8(0); i < t.qCount; i++ {
		if t.queue[(t.qHead+i)%MaxQueue].seq == seq {
			return true
		}
	}
	for i := uint8(0); i < t.inflightCount; i++ {
		if t.inflight[i].seq == seq {
			return true
		}
	}
	return false
}

// Window returns the effective send window
func (t *BlockTransport) Window() uint8 {
	return t.window
}

// BlockLines returns the maximum lines per block
func (t *BlockTransport) BlockLines() uint16 {
	return t.blockLines
}

// MaxRetries returns the retransmission budget per block
func (t *BlockTransport) MaxRetries() uint8 {
	return t.maxRetries
}

// Stats returns a snapshot of the engine counters
func (t *BlockTransport) Stats() Stats {
	return t.stats
}

// Trace returns the engine's event trace
func (t *BlockTransport) Trace() *TraceRing {
	return &t.trace
}

func (t *BlockTransport) findInflight(seq uint16) (uint8, bool) {
	for i := uint8(0); i < t.inflightCount; i++ {
		if t.inflight[i].seq == seq && t.inflight[i].inflight {
			return i, true
		}
	}
	return 0, false
}

// removeInflight compacts the inflight set, preserving survivor order
func (t *BlockTransport) removeInflight(idx uint8) {
	copy(t.inflight[idx:t.inflightCount], t.inflight[idx+1:t.inflightCount])
	t.inflightCount--
	t.inflight[t.inflightCount] = blockEntry{}
}

func (t *BlockTransport) clearQueues() {
	for i := range t.queue {
		t.queue[i] = blockEntry{}
	}
	for i := range t.inflight {
		t.inflight[i] = blockEntry{}
	}
	t.qHead, t.qTail, t.qCount = 0, 0, 0
	t.inflightCount = 0
}

// Abort ends the active burst at once, as if a block had run out of
// retries. Bytes already handed to the byte transport still go out.
func (t *BlockTransport) Abort(code uint32) {
	if !t.burstActive {
		return
	}
	t.abort(code)
}

// abort discards the whole burst and reports code to the abort handler
func (t *BlockTransport) abort(code uint32) {
	t.clearQueues()
	t.burstActive = false
	t.stats.Aborts++
	t.trace.Record(EvtAbort, 0, t.clock.Millis(), code, t.burstID)
	if IsDebugEnabled() {
		DebugPrintln("[BLOCKS] burst " + utoa(t.burstID) + " aborted code=" + utoa(code))
		t.trace.Dump()
	}
	if t.onAbort != nil {
		t.onAbort(code)
	}
}
