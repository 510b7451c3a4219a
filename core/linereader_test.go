package core

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestReader() (*LineReader, *ByteTransport, *captureSender, *ManualClock) {
	bt := NewByteTransport(newStepDMA(), ByteTransportConfig{RxRingSize: 2048})
	out := &captureSender{}
	clock := &ManualClock{}
	return NewLineReader(bt, out, clock), bt, out, clock
}

func TestLineReaderDispatchOrder(t *testing.T) {
	r, bt, _, _ := newTestReader()

	var first, second, fallback []string
	r.AddHandler(LineHandlerFunc(func(line []byte) bool {
		first = append(first, string(line))
		return strings.HasPrefix(string(line), "A")
	}))
	r.AddHandler(LineHandlerFunc(func(line []byte) bool {
		second = append(second, string(line))
		return strings.HasPrefix(string(line), "B")
	}))
	r.SetFallback(func(line []byte) { fallback = append(fallback, string(line)) })

	bt.OnRxEvent([]byte("A1\r\nB2\nC3\r\n\r\n"))
	r.Process()

	require.Equal(t, []string{"A1", "B2", "C3"}, first)
	require.Equal(t, []string{"B2", "C3"}, second)
	require.Equal(t, []string{"C3"}, fallback)
	require.EqualValues(t, 1, r.UnhandledCount())
}

func TestLineReaderPartialLines(t *testing.T) {
	r, bt, _, _ := newTestReader()
	var got []string
	r.AddHandler(LineHandlerFunc(func(line []byte) bool {
		got = append(got, string(line))
		return true
	}))

	bt.OnRxEvent([]byte("ACK_B"))
	r.Process()
	require.Empty(t, got)

	bt.OnRxEvent([]byte("LK,blk=1\r"))
	r.Process()
	require.Equal(t, []string{"ACK_BLK,blk=1"}, got)
}

func TestLineReaderLineBudget(t *testing.T) {
	r, bt, _, _ := newTestReader()
	count := 0
	r.AddHandler(LineHandlerFunc(func([]byte) bool {
		count++
		return true
	}))

	bt.OnRxEvent([]byte(strings.Repeat("L\r\n", 10)))
	r.Process()
	require.Equal(t, MaxLinesPerCall, count)

	r.Process()
	require.Equal(t, 10, count)
}

func TestLineReaderTimeBudget(t *testing.T) {
	r, bt, _, clock := newTestReader()
	count := 0
	r.AddHandler(LineHandlerFunc(func([]byte) bool {
		count++
		clock.Advance(MaxMsPerCall)
		return true
	}))

	bt.OnRxEvent([]byte("a\nb\nc\n"))
	r.Process()
	require.Equal(t, 1, count)
	r.Process()
	require.Equal(t, 2, count)
}

func TestLineReaderTooLong(t *testing.T) {
	r, bt, out, _ := newTestReader()
	var got []string
	r.AddHandler(LineHandlerFunc(func(line []byte) bool {
		got = append(got, string(line))
		return true
	}))

	longest := strings.Repeat("y", 255)
	bt.OnRxEvent([]byte(strings.Repeat("x", 300) + "\r\nOK\r\n" + longest + "\n"))
	r.Process()

	require.Equal(t, []string{"OK", longest}, got)
	require.Equal(t, []string{"NACK,SUBJECT=UNKNOWN,reason=line_too_long,code=300\r\n"}, out.lines)
	require.EqualValues(t, 1, r.TooLongCount())
}

func TestLineReaderFeedsBurstManager(t *testing.T) {
	m, _, _, _ := newTestBurst(2)
	r, bt, _, _ := newTestReader()
	r.AddHandler(m)

	m.Begin(BurstWeight, 1, 0, 4, 1000)
	require.NoError(t, m.Enqueue(testLines(1), 2))
	require.NoError(t, m.Enqueue(testLines(2), 2))
	m.EndOk()
	m.Pump()

	bt.OnRxEvent([]byte("ACK_BLK,blk=2\r\nACK_BLK,blk=1\r\n"))
	r.Process()
	m.Pump()
	require.True(t, m.IsWaitingAckComplete())

	bt.OnRxEvent([]byte("ACK_COMPLETE,burst_id=1\r\n"))
	r.Process()
	require.False(t, m.IsActive())
}
