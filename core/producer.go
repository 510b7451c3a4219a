package core

import (
	"errors"

	"burstlink/protocol"
)

// MaxBurstSamples is the largest burst the DATA_HEADER can describe
const MaxBurstSamples = 0xFFFF

var ErrTooManySamples = errors.New("too many samples for one burst")

// Sample is one captured measurement
type Sample struct {
	TimestampUs uint32  `json:"ts_us"`
	X           float32 `json:"x"`
	Y           float32 `json:"y"`
	Z           float32 `json:"z"`
	W           float32 `json:"w"`
}

// sampleBlock generates the DATA lines of one block. A slot is reused only
// after the engine has released the block it described.
type sampleBlock struct {
	burst *SampleBurst
	base  int
	seq   uint16 // 0 when unused in this burst
}

func (g *sampleBlock) GenerateLine(index uint16, dst []byte) int {
	return g.burst.formatSample(g.base+int(index), dst)
}

// SampleBurst streams a captured sample buffer as one burst of blocks
type SampleBurst struct {
	mgr     *BurstManager
	samples []Sample

	blockLines  uint16
	nextBlock   int
	totalBlocks int
	started     bool
	ended       bool

	blocks  [MaxQueue + MaxInflight]sampleBlock
	scratch protocol.Scratch
}

// NewSampleBurst creates a producer feeding mgr
func NewSampleBurst(mgr *BurstManager) *SampleBurst {
	b := &SampleBurst{mgr: mgr}
	for i := range b.blocks {
		b.blocks[i].burst = b
	}
	return b
}

// Start announces a burst over samples. The slice is read while the burst
// is in progress and must not change until Done.
func (b *SampleBurst) Start(typ BurstType, burstID uint32, samples []Sample, odrHz uint32) error {
	if b.mgr.IsActive() {
		return ErrBurstActive
	}
	if len(samples) > MaxBurstSamples {
		return ErrTooManySamples
	}

	b.samples = samples
	b.blockLines = b.mgr.Engine().BlockLines()
	b.totalBlocks = (len(samples) + int(b.blockLines) - 1) / int(b.blockLines)
	b.nextBlock = 0
	for i := range b.blocks {
		b.blocks[i].seq = 0
	}
	b.started = true
	b.ended = false

	var ts0 uint32
	if len(samples) > 0 {
		ts0 = samples[0].TimestampUs
	}
	b.mgr.Begin(typ, burstID, ts0, uint16(len(samples)), odrHz)

	if len(samples) == 0 {
		b.mgr.EndOk()
		b.ended = true
	}
	return nil
}

// Pump enqueues as many blocks as the engine accepts, then advances the
// burst. After the last block it signals end of content.
func (b *SampleBurst) Pump() {
	if !b.started {
		return
	}
	for !b.ended && b.nextBlock < b.totalBlocks {
		base := b.nextBlock * int(b.blockLines)
		lines := len(b.samples) - base
		if lines > int(b.blockLines) {
			lines = int(b.blockLines)
		}

		gen := &b.blocks[b.nextBlock%len(b.blocks)]
		eng := b.mgr.Engine()
		if gen.seq != 0 && eng.Outstanding(gen.seq) {
			// An earlier block in this slot is still unacknowledged
			break
		}
		seq := eng.NextSeq()
		gen.base = base
		err := b.mgr.Enqueue(gen, uint16(lines))
		if errors.Is(err, ErrQueueFull) {
			break
		}
		if err != nil {
			// Burst aborted underneath us; COMPLETE reports it
			b.ended = true
			break
		}
		gen.seq = seq
		b.nextBlock++
	}
	if !b.ended && b.nextBlock >= b.totalBlocks {
		b.mgr.EndOk()
		b.ended = true
	}

	b.mgr.Pump()
}

// Done reports whether the burst was started and has been closed by the
// host's ACK_COMPLETE
func (b *SampleBurst) Done() bool {
	return b.started && b.ended && !b.mgr.IsActive()
}

// formatSample writes DATA,<ts_us>,<x>,<y>,<z>,<w> with CRLF into dst
func (b *SampleBurst) formatSample(i int, dst []byte) int {
	if i < 0 || i >= len(b.samples) {
		return 0
	}
	smp := &b.samples[i]
	s := &b.scratch
	s.Begin(protocol.MsgData)
	s.PosUint(uint64(smp.TimestampUs))
	s.PosFloat3(smp.X)
	s.PosFloat3(smp.Y)
	s.PosFloat3(smp.Z)
	s.PosFloat3(smp.W)
	return copy(dst, s.End())
}
