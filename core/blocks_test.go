package core

import (
	"bytes"
	"math/rand"
	"strconv"
	"testing"

	"github.com/sigurn/crc16"
	"github.com/stretchr/testify/require"

	"burstlink/protocol"
)

// captureWriter records everything the engine sends
type captureWriter struct {
	buf bytes.Buffer
}

func (w *captureWriter) BlockingSend(p []byte) int {
	w.buf.Write(p)
	return len(p)
}

func (w *captureWriter) headers() int {
	return bytes.Count(w.buf.Bytes(), []byte(protocol.MsgBlockHeader+","))
}

// testLines generates "L<tag>-<index>\r\n"
func testLines(tag int) LineGeneratorFunc {
	return func(index uint16, dst []byte) int {
		line := "L" + strconv.Itoa(tag) + "-" + strconv.Itoa(int(index)) + "\r\n"
		return copy(dst, line)
	}
}

func newTestEngine(window uint8, blockLines uint16, retries uint8) (*BlockTransport, *captureWriter, *ManualClock) {
	w := &captureWriter{}
	clock := &ManualClock{}
	bt := NewBlockTransport(w, clock)
	bt.Init(window, blockLines, retries)
	return bt, w, clock
}

func TestBlockTransportInitClamps(t *testing.T) {
	bt, _, _ := newTestEngine(0, 0, 0)
	require.EqualValues(t, 1, bt.Window())
	require.EqualValues(t, protocol.DefaultBlockLines, bt.BlockLines())
	require.EqualValues(t, 1, bt.MaxRetries())

	bt.Init(20, 1000, 5)
	require.EqualValues(t, MaxInflight, bt.Window())
	require.EqualValues(t, protocol.MaxBlockLines, bt.BlockLines())
	require.EqualValues(t, 5, bt.MaxRetries())
	require.False(t, bt.BurstActive())
	require.True(t, bt.IsIdle())
}

func TestBlockTransportConfigure(t *testing.T) {
	bt, _, _ := newTestEngine(4, 128, 3)

	require.NoError(t, bt.Configure(BlocksConfig{Window: 9, Lines: 10, Retries: 0}))
	require.EqualValues(t, 8, bt.Window())
	require.EqualValues(t, protocol.MinBlockLines, bt.BlockLines())
	require.EqualValues(t, 1, bt.MaxRetries())

	bt.BeginBurst(1)
	require.ErrorIs(t, bt.Configure(DefaultBlocksConfig()), ErrBurstActive)
	require.EqualValues(t, 8, bt.Window())
}

func TestEnqueueValidation(t *testing.T) {
	bt, _, _ := newTestEngine(4, 128, 3)

	require.ErrorIs(t, bt.EnqueueBlock(testLines(1), 10), ErrNoBurst)

	bt.BeginBurst(7)
	require.ErrorIs(t, bt.EnqueueBlock(nil, 10), ErrNilGenerator)
	var nilFunc LineGeneratorFunc
	require.ErrorIs(t, bt.EnqueueBlock(nilFunc, 10), ErrNilGenerator)
	require.ErrorIs(t, bt.EnqueueBlock(testLines(1), 0), ErrEmptyBlock)
	require.ErrorIs(t, bt.EnqueueBlock(testLines(1), 129), ErrBlockTooLarge)
	require.Equal(t, 0, bt.QueueCount())

	require.NoError(t, bt.EnqueueBlock(testLines(1), 128))
	require.Equal(t, 1, bt.QueueCount())
}

func TestEnqueueQueueFull(t *testing.T) {
	bt, w, _ := newTestEngine(2, 128, 3)
	bt.BeginBurst(1)

	// Two inflight, sixteen queued
	for i := 0; i < 2; i++ {
		require.NoError(t, bt.EnqueueBlock(testLines(i), 4))
	}
	bt.Pump()
	for i := 0; i < MaxQueue; i++ {
		require.NoError(t, bt.EnqueueBlock(testLines(i), 4))
	}

	sent := w.buf.Len()
	inflight := bt.InflightSequences(nil)

	require.ErrorIs(t, bt.EnqueueBlock(testLines(99), 4), ErrQueueFull)
	require.Equal(t, MaxQueue, bt.QueueCount())
	require.Equal(t, inflight, bt.InflightSequences(nil))
	require.Equal(t, sent, w.buf.Len())

	// The rejected block consumed no sequence number
	bt.OnAck(1)
	bt.Pump()
	require.NoError(t, bt.EnqueueBlock(testLines(100), 4))
	bt.OnAck(2)
	bt.OnAck(3)
	for bt.QueueCount() > 0 {
		for _, seq := range bt.InflightSequences(nil) {
			bt.OnAck(seq)
		}
		bt.Pump()
	}
	require.Contains(t, w.buf.String(), "BLOCK_HEADER,burst_id=1,blk=19,")
	require.NotContains(t, w.buf.String(), "blk=20,")
}

func TestBlockCRCMatchesReference(t *testing.T) {
	bt, w, _ := newTestEngine(1, 128, 3)
	bt.BeginBurst(3)

	gen := testLines(5)
	require.NoError(t, bt.EnqueueBlock(gen, 100))

	var payload bytes.Buffer
	line := make([]byte, protocol.MaxLine)
	for i := uint16(0); i < 100; i++ {
		n := gen(i, line)
		payload.Write(line[:n])
	}
	want := crc16.Checksum(payload.Bytes(), crc16.MakeTable(crc16.CRC16_CCITT_FALSE))

	bt.Pump()

	crc := strconv.Itoa(int(want))
	expected := "BLOCK_HEADER,burst_id=3,blk=1,lines=100,crc16=" + crc + "\r\n" +
		payload.String() +
		"BLOCK_END,blk=1,crc16=" + crc + "\r\n"
	require.Equal(t, expected, w.buf.String())
	require.Zero(t, bt.Stats().GeneratorMismatches)
}

func TestWindowNeverExceeded(t *testing.T) {
	bt, _, clock := newTestEngine(4, 128, 3)
	bt.BeginBurst(1)
	for i := 0; i < 10; i++ {
		require.NoError(t, bt.EnqueueBlock(testLines(i), 8))
	}

	rng := rand.New(rand.NewSource(1))
	for step := 0; step < 2000 && !bt.IsIdle(); step++ {
		switch rng.Intn(4) {
		case 0:
			bt.Pump()
		case 1:
			if seqs := bt.InflightSequences(nil); len(seqs) > 0 {
				bt.OnAck(seqs[rng.Intn(len(seqs))])
			}
		case 2:
			if seqs := bt.InflightSequences(nil); len(seqs) > 0 {
				bt.OnNack(seqs[rng.Intn(len(seqs))], 0)
			}
		case 3:
			clock.Advance(uint32(rng.Intn(700)))
		}
		require.LessOrEqual(t, bt.InflightCount(), 4, "step %d", step)
	}
}

func TestTimeoutRetransmitThenAbort(t *testing.T) {
	bt, w, clock := newTestEngine(1, 128, 3)

	var abortCode uint32
	aborts := 0
	bt.SetAbortHandler(func(code uint32) {
		aborts++
		abortCode = code
	})

	bt.BeginBurst(9)
	require.NoError(t, bt.EnqueueBlock(testLines(1), 3))
	require.NoError(t, bt.EnqueueBlock(testLines(2), 3))
	bt.Pump()
	require.Equal(t, 1, w.headers())

	for retry := 1; retry <= 3; retry++ {
		clock.Advance(protocol.BlockTimeoutMs - 1)
		bt.Pump()
		require.Equal(t, retry, w.headers(), "no resend before the deadline")

		clock.Advance(1)
		bt.Pump()
		require.Equal(t, retry+1, w.headers(), "resend %d at exactly 1000 ms", retry)
	}
	require.EqualValues(t, 3, bt.Stats().Resent)

	clock.Advance(protocol.BlockTimeoutMs)
	bt.Pump()

	require.Equal(t, 1, aborts)
	require.EqualValues(t, protocol.DefaultAbortCode, abortCode)
	require.True(t, bt.IsIdle())
	require.Zero(t, bt.QueueCount())
	require.Zero(t, bt.InflightCount())
	require.False(t, bt.BurstActive())
	require.Equal(t, 4, w.headers())

	// Further pumps do nothing
	clock.Advance(5000)
	bt.Pump()
	require.Equal(t, 1, aborts)
}

func TestTimeoutAcrossClockWrap(t *testing.T) {
	bt, w, clock := newTestEngine(1, 128, 3)
	clock.Set(0xFFFFFF00)

	bt.BeginBurst(1)
	require.NoError(t, bt.EnqueueBlock(testLines(1), 2))
	bt.Pump()

	clock.Advance(500) // wraps past zero
	bt.Pump()
	require.Equal(t, 1, w.headers())

	clock.Advance(500)
	bt.Pump()
	require.Equal(t, 2, w.headers())
}

func TestAckUnknownIsNoop(t *testing.T) {
	bt, _, _ := newTestEngine(4, 128, 3)
	bt.BeginBurst(1)
	for i := 0; i < 3; i++ {
		require.NoError(t, bt.EnqueueBlock(testLines(i), 2))
	}
	bt.Pump()
	require.Equal(t, []uint16{1, 2, 3}, bt.InflightSequences(nil))

	bt.OnAck(9)
	require.Equal(t, []uint16{1, 2, 3}, bt.InflightSequences(nil))

	bt.OnAck(2)
	require.Equal(t, []uint16{1, 3}, bt.InflightSequences(nil))

	bt.OnAck(2)
	require.Equal(t, []uint16{1, 3}, bt.InflightSequences(nil))
	require.EqualValues(t, 1, bt.Stats().Acked)
}

func TestBurstScenario(t *testing.T) {
	bt, w, _ := newTestEngine(2, 128, 3)
	bt.BeginBurst(42)

	require.NoError(t, bt.EnqueueBlock(testLines(0xA), 100))
	require.NoError(t, bt.EnqueueBlock(testLines(0xB), 50))

	bt.Pump()
	require.Equal(t, []uint16{1, 2}, bt.InflightSequences(nil))
	require.Contains(t, w.buf.String(), "BLOCK_HEADER,burst_id=42,blk=1,lines=100,")
	require.Contains(t, w.buf.String(), "BLOCK_HEADER,burst_id=42,blk=2,lines=50,")

	require.True(t, bt.HandleHostLine([]byte("ACK_BLK,blk=1")))
	require.True(t, bt.HandleHostLine([]byte("ACK_BLK,blk=2")))
	require.True(t, bt.IsIdle())
	require.Zero(t, bt.InflightCount())
	require.True(t, bt.BurstActive(), "idle does not close the burst")

	bt.EndBurst()
	require.False(t, bt.BurstActive())
}

func TestNackRetransmitAndAbort(t *testing.T) {
	bt, w, _ := newTestEngine(2, 128, 2)

	var codes []uint32
	bt.SetAbortHandler(func(code uint32) { codes = append(codes, code) })

	bt.BeginBurst(5)
	require.NoError(t, bt.EnqueueBlock(testLines(1), 2))
	bt.Pump()

	require.True(t, bt.HandleHostLine([]byte("NACK_BLK,blk=1,code=1\r\n")))
	require.True(t, bt.HandleHostLine([]byte("NACK_BLK,blk=1")))
	require.Equal(t, 3, w.headers())
	require.Empty(t, codes)

	require.True(t, bt.HandleHostLine([]byte("NACK_BLK,blk=1,code=17")))
	require.Equal(t, []uint32{17}, codes)
	require.True(t, bt.IsIdle())

	// A code of zero falls back to the default
	bt.BeginBurst(6)
	require.NoError(t, bt.EnqueueBlock(testLines(1), 2))
	bt.Pump()
	bt.OnNack(1, 0)
	bt.OnNack(1, 0)
	bt.OnNack(1, 0)
	require.Equal(t, []uint32{17, protocol.DefaultAbortCode}, codes)

	// NACK for an unknown block is ignored
	bt.BeginBurst(7)
	require.NoError(t, bt.EnqueueBlock(testLines(1), 2))
	bt.Pump()
	bt.OnNack(2, 5)
	require.Equal(t, []uint16{1}, bt.InflightSequences(nil))
	require.Len(t, codes, 2)
}

func TestHandleHostLineRejects(t *testing.T) {
	bt, _, _ := newTestEngine(4, 128, 3)
	bt.BeginBurst(1)
	require.NoError(t, bt.EnqueueBlock(testLines(1), 2))
	bt.Pump()

	for _, line := range []string{
		"ACK_COMPLETE,burst_id=1",
		"ACK_BLK,blk=abc",
		"ACK_BLK,blk=70000",
		"NACK_BLK",
		"HELLO",
		"",
	} {
		require.Falsef(t, bt.HandleHostLine([]byte(line)), "%q", line)
	}
	require.Equal(t, 1, bt.InflightCount())
}

func TestBeginBurstClearsRemnants(t *testing.T) {
	bt, w, _ := newTestEngine(1, 128, 3)
	bt.BeginBurst(1)
	require.NoError(t, bt.EnqueueBlock(testLines(1), 2))
	require.NoError(t, bt.EnqueueBlock(testLines(2), 2))
	bt.Pump()

	bt.BeginBurst(2)
	require.True(t, bt.IsIdle())

	w.buf.Reset()
	require.NoError(t, bt.EnqueueBlock(testLines(3), 2))
	bt.Pump()
	require.Contains(t, w.buf.String(), "BLOCK_HEADER,burst_id=2,blk=1,")
}

func TestGeneratorMismatchDetected(t *testing.T) {
	bt, _, _ := newTestEngine(1, 128, 3)
	bt.BeginBurst(1)

	calls := 0
	gen := LineGeneratorFunc(func(index uint16, dst []byte) int {
		calls++
		return copy(dst, "V"+strconv.Itoa(calls)+"\r\n")
	})
	require.NoError(t, bt.EnqueueBlock(gen, 1))
	bt.Pump()

	require.EqualValues(t, 1, bt.Stats().GeneratorMismatches)

	var events []TraceEvent
	events = bt.Trace().Events(events)
	found := false
	for _, evt := range events {
		if evt.EventType == EvtMismatch {
			found = true
			require.EqualValues(t, 1, evt.Seq)
		}
	}
	require.True(t, found, "mismatch recorded in trace")
}

func TestAbortExplicit(t *testing.T) {
	bt, _, _ := newTestEngine(2, 128, 3)
	var got []uint32
	bt.SetAbortHandler(func(code uint32) { got = append(got, code) })

	bt.Abort(0)
	require.Empty(t, got, "no burst, nothing to abort")

	bt.BeginBurst(1)
	require.NoError(t, bt.EnqueueBlock(testLines(1), 2))
	require.NoError(t, bt.EnqueueBlock(testLines(2), 2))
	bt.Pump()
	bt.Abort(0)

	require.Equal(t, []uint32{0}, got)
	require.True(t, bt.IsIdle())
	require.False(t, bt.BurstActive())
}
