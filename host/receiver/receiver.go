// Package receiver is the host side of the block transport. It verifies
// each block, answers ACK_BLK or NACK_BLK, reassembles bursts and hands
// them to a Sink.
package receiver

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/sigurn/crc16"

	"burstlink/protocol"
)

var (
	ErrClosed  = errors.New("receiver closed")
	ErrTimeout = errors.New("reply timeout")
)

var ccittFalse = crc16.MakeTable(crc16.CRC16_CCITT_FALSE)

// Burst is one reassembled burst
type Burst struct {
	ID      uint32
	Type    string
	Ts0Us   uint32
	Samples int // as announced by DATA_HEADER
	TimeMs  uint32

	// Lines holds the payload lines of all accepted blocks in sequence
	// order, without EOL
	Lines []string
	// Blocks is the number of distinct blocks accepted
	Blocks int

	Aborted bool
	Code    uint32
}

// Sink consumes delivered bursts
type Sink interface {
	Deliver(b *Burst) error
}

// SinkFunc adapts a function to Sink
type SinkFunc func(b *Burst) error

func (f SinkFunc) Deliver(b *Burst) error { return f(b) }

// Stats counts block outcomes
type Stats struct {
	Acked      uint32
	Duplicates uint32
	CRCErrors  uint32
	CountErrs  uint32
	Framing    uint32
	Bursts     uint32
}

// block is the block currently being received
type block struct {
	seq     uint16
	lines   uint16
	crc     uint16
	payload bytes.Buffer
	count   int
}

// Receiver reads device lines from port in a background goroutine
type Receiver struct {
	port io.ReadWriter
	sink Sink

	writeMutex sync.Mutex
	scratch    protocol.Scratch

	// Reader goroutine state
	burst         *Burst
	blocks        map[uint16][]string
	cur           *block
	lastDelivered uint32
	delivered     bool

	statsMutex sync.Mutex
	stats      Stats

	// Lines that are not part of a burst (HELLO_ACK, ACK, NACK, ...)
	replyChan chan string

	stopChan chan struct{}
	doneChan chan struct{}
	stopOnce sync.Once
}

// New creates a receiver and starts its read loop
func New(port io.ReadWriter, sink Sink) *Receiver {
	r := &Receiver{
		port:      port,
		sink:      sink,
		replyChan: make(chan string, 16),
		stopChan:  make(chan struct{}),
		doneChan:  make(chan struct{}),
	}
	go r.readLoop()
	return r
}

// Send writes one command line; EOL is appended
func (r *Receiver) Send(cmd string) error {
	r.writeMutex.Lock()
	defer r.writeMutex.Unlock()
	if _, err := io.WriteString(r.port, cmd+protocol.EOL); err != nil {
		return fmt.Errorf("failed to send %q: %w", cmd, err)
	}
	return nil
}

// Request sends cmd and waits for the next reply line
func (r *Receiver) Request(cmd string, timeout time.Duration) (string, error) {
	// Drop stale replies
	for len(r.replyChan) > 0 {
		<-r.replyChan
	}
	if err := r.Send(cmd); err != nil {
		return "", err
	}
	return r.Reply(timeout)
}

// Reply waits for the next line that is not part of a burst
func (r *Receiver) Reply(timeout time.Duration) (string, error) {
	select {
	case line := <-r.replyChan:
		return line, nil
	case <-time.After(timeout):
		return "", ErrTimeout
	case <-r.doneChan:
		return "", ErrClosed
	}
}

// Stats returns a snapshot of the block counters
func (r *Receiver) Stats() Stats {
	r.statsMutex.Lock()
	defer r.statsMutex.Unlock()
	return r.stats
}

// Done is closed when the read loop exits
func (r *Receiver) Done() <-chan struct{} {
	return r.doneChan
}

// Close stops the read loop. The port is closed too when it is an
// io.Closer, which unblocks a pending read.
func (r *Receiver) Close() error {
	var err error
	r.stopOnce.Do(func() {
		close(r.stopChan)
		if c, ok := r.port.(io.Closer); ok {
			err = c.Close()
		}
	})
	<-r.doneChan
	return err
}

func (r *Receiver) readLoop() {
	defer close(r.doneChan)

	rd := bufio.NewReaderSize(r.port, protocol.MaxLine*2)
	var partial []byte
	for {
		select {
		case <-r.stopChan:
			return
		default:
		}

		chunk, err := rd.ReadSlice('\n')
		if len(chunk) > 0 {
			partial = append(partial, chunk...)
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		if err == nil {
			r.handleLine(partial)
			partial = partial[:0]
			continue
		}
		if err == io.EOF {
			return
		}
		select {
		case <-r.stopChan:
			return
		default:
		}
		glog.V(2).Infof("receiver read: %v", err)
		time.Sleep(10 * time.Millisecond)
	}
}

// handleLine processes one line including its EOL
func (r *Receiver) handleLine(line []byte) {
	if glog.V(4) {
		glog.Infof("<< %s", bytes.TrimRight(line, "\r\n"))
	}

	if r.cur != nil && !protocol.IsMessage(line, protocol.MsgBlockEnd) &&
		!protocol.IsMessage(line, protocol.MsgBlockHeader) {
		r.cur.payload.Write(line)
		r.cur.count++
		return
	}

	switch {
	case protocol.IsMessage(line, protocol.MsgBlockHeader):
		r.onBlockHeader(line)
	case protocol.IsMessage(line, protocol.MsgBlockEnd):
		r.onBlockEnd(line)
	case protocol.IsMessage(line, protocol.MsgDataHeader):
		r.onDataHeader(line)
	case protocol.IsMessage(line, protocol.MsgComplete):
		r.onComplete(line)
	case protocol.IsMessage(line, protocol.MsgData):
		glog.V(2).Info("DATA line outside a block ignored")
	default:
		r.reply(string(bytes.TrimRight(line, "\r\n")))
	}
}

func (r *Receiver) reply(line string) {
	select {
	case r.replyChan <- line:
	default:
		// Full; drop the oldest
		select {
		case <-r.replyChan:
		default:
		}
		r.replyChan <- line
	}
}

func (r *Receiver) onDataHeader(line []byte) {
	r.burst = &Burst{
		ID:      uint32(uintField(line, "burst_id", 32)),
		Type:    strField(line, "type"),
		Ts0Us:   uint32(uintField(line, "ts0_us", 32)),
		Samples: int(uintField(line, "samples", 16)),
	}
	r.blocks = make(map[uint16][]string)
	r.cur = nil
	glog.V(1).Infof("burst %d (%s) started, %d samples", r.burst.ID, r.burst.Type, r.burst.Samples)
}

func (r *Receiver) onBlockHeader(line []byte) {
	if r.cur != nil {
		// Previous block never ended
		r.nack(r.cur.seq, protocol.NackBadFraming)
		r.cur = nil
	}
	seq, ok1 := parseField(line, "blk", 16)
	lines, ok2 := parseField(line, "lines", 16)
	crc, ok3 := parseField(line, "crc16", 16)
	if !ok1 {
		glog.Warningf("malformed block header: %q", line)
		return
	}
	if !ok2 || !ok3 {
		r.nack(uint16(seq), protocol.NackBadFraming)
		return
	}
	r.cur = &block{seq: uint16(seq), lines: uint16(lines), crc: uint16(crc)}
}

func (r *Receiver) onBlockEnd(line []byte) {
	seq, ok := parseField(line, "blk", 16)
	if !ok {
		glog.Warningf("malformed block end: %q", line)
		r.cur = nil
		return
	}
	b := r.cur
	r.cur = nil
	if b == nil || b.seq != uint16(seq) {
		r.nack(uint16(seq), protocol.NackBadFraming)
		return
	}
	if b.count != int(b.lines) {
		r.nack(b.seq, protocol.NackLineCount)
		return
	}
	endCRC, ok := parseField(line, "crc16", 16)
	sum := crc16.Checksum(b.payload.Bytes(), ccittFalse)
	if !ok || uint16(endCRC) != b.crc || sum != b.crc {
		r.nack(b.seq, protocol.NackCRCMismatch)
		return
	}

	if r.blocks == nil {
		r.blocks = make(map[uint16][]string)
	}
	if _, dup := r.blocks[b.seq]; dup {
		r.count(func(s *Stats) { s.Duplicates++ })
	} else {
		r.blocks[b.seq] = splitLines(b.payload.Bytes())
		r.count(func(s *Stats) { s.Acked++ })
	}
	r.write(protocol.AckBlock(&r.scratch, b.seq))
}

func (r *Receiver) onComplete(line []byte) {
	id := uint32(uintField(line, "burst_id", 32))

	// A repeated COMPLETE only needs the acknowledgment
	if r.delivered && id == r.lastDelivered && (r.burst == nil || r.burst.ID != id) {
		r.ackComplete(id)
		return
	}

	b := r.burst
	if b == nil || b.ID != id {
		b = &Burst{ID: id}
	}
	if strField(line, "reason") == "aborted" {
		b.Aborted = true
		b.Code = uint32(uintField(line, "code", 32))
	} else {
		b.TimeMs = uint32(uintField(line, "time_ms", 32))
	}
	r.assemble(b)
	r.burst = nil
	r.blocks = nil
	r.cur = nil

	r.ackComplete(id)
	r.lastDelivered = id
	r.delivered = true
	r.count(func(s *Stats) { s.Bursts++ })

	if b.Aborted {
		glog.Warningf("burst %d aborted, code %d", b.ID, b.Code)
	} else {
		glog.V(1).Infof("burst %d complete: %d blocks, %d lines", b.ID, b.Blocks, len(b.Lines))
	}
	if r.sink != nil {
		if err := r.sink.Deliver(b); err != nil {
			glog.Errorf("deliver burst %d: %v", b.ID, err)
		}
	}
}

func (r *Receiver) assemble(b *Burst) {
	seqs := make([]int, 0, len(r.blocks))
	for seq := range r.blocks {
		seqs = append(seqs, int(seq))
	}
	sort.Ints(seqs)
	for _, seq := range seqs {
		b.Lines = append(b.Lines, r.blocks[uint16(seq)]...)
	}
	b.Blocks = len(seqs)
}

func (r *Receiver) ackComplete(id uint32) {
	s := &r.scratch
	s.Begin(protocol.MsgAckComplete)
	s.Uint("burst_id", uint64(id))
	r.write(s.End())
}

func (r *Receiver) nack(seq uint16, code uint32) {
	r.count(func(s *Stats) {
		switch code {
		case protocol.NackCRCMismatch:
			s.CRCErrors++
		case protocol.NackLineCount:
			s.CountErrs++
		default:
			s.Framing++
		}
	})
	glog.V(1).Infof("NACK block %d code %d", seq, code)
	r.write(protocol.NackBlock(&r.scratch, seq, code))
}

func (r *Receiver) write(line []byte) {
	r.writeMutex.Lock()
	defer r.writeMutex.Unlock()
	if _, err := r.port.Write(line); err != nil {
		glog.Errorf("receiver write: %v", err)
	}
}

func (r *Receiver) count(f func(s *Stats)) {
	r.statsMutex.Lock()
	f(&r.stats)
	r.statsMutex.Unlock()
}

func splitLines(payload []byte) []string {
	var out []string
	for _, l := range bytes.SplitAfter(payload, []byte("\n")) {
		if len(l) == 0 {
			continue
		}
		out = append(out, string(bytes.TrimRight(l, "\r\n")))
	}
	return out
}

func parseField(line []byte, key string, bits int) (uint64, bool) {
	v, ok := protocol.Field(line, key)
	if !ok {
		return 0, false
	}
	n, err := protocol.ParseUint(v, bits)
	return n, err == nil
}

func uintField(line []byte, key string, bits int) uint64 {
	n, _ := parseField(line, key, bits)
	return n
}

func strField(line []byte, key string) string {
	v, ok := protocol.Field(line, key)
	if !ok {
		return ""
	}
	return strings.TrimRight(string(v), " \t\r\n")
}
