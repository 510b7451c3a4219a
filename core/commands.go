package core

import "burstlink/protocol"

// Host command names
const (
	CmdHello      = "HELLO"
	CmdGetBlocks  = "GET_BLOCKS"
	CmdSetBlocks  = "SET_BLOCKS"
	CmdGetDiag    = "GET_DIAG"
	CmdStop       = "STOP"
	CmdStartBurst = "START_BURST"
)

// registerCommands installs the device's host commands
func (d *Device) registerCommands() {
	c := d.Commands
	c.Register(CmdHello, "", d.handleHello)
	c.Register(CmdGetBlocks, "", d.handleGetBlocks)
	c.Register(CmdSetBlocks, "window=%u,lines=%u,retries=%u", d.handleSetBlocks)
	c.Register(CmdGetDiag, "", d.handleGetDiag)
	c.Register(CmdStop, "", d.handleStop)
	c.Register(CmdStartBurst, "type=%s", d.handleStartBurst)
}

// handleHello reports firmware, protocol version and block settings
func (d *Device) handleHello(line []byte) error {
	d.Commands.Send(d.hello(d.Commands.Scratch()))
	return nil
}

func (d *Device) handleGetBlocks(line []byte) error {
	d.sendBlocksCfg()
	return nil
}

func (d *Device) sendBlocksCfg() {
	s := d.Commands.Scratch()
	s.Begin(protocol.MsgBlocksCfg)
	s.Uint("window", uint64(d.Engine.Window()))
	s.Uint("lines", uint64(d.Engine.BlockLines()))
	s.Uint("retries", uint64(d.Engine.MaxRetries()))
	d.Commands.Send(s.End())
}

// handleSetBlocks changes block settings between bursts. Omitted fields
// keep their value; out-of-range values are clamped.
func (d *Device) handleSetBlocks(line []byte) error {
	if d.Bursts.IsActive() {
		return ErrBadState
	}

	cfg := BlocksConfig{
		Window:  d.Engine.Window(),
		Lines:   d.Engine.BlockLines(),
		Retries: d.Engine.MaxRetries(),
	}
	if v, ok := protocol.Field(line, "window"); ok {
		n, err := protocol.ParseUint(v, 8)
		if err != nil {
			return ErrBadArg
		}
		cfg.Window = uint8(n)
	}
	if v, ok := protocol.Field(line, "lines"); ok {
		n, err := protocol.ParseUint(v, 16)
		if err != nil {
			return ErrBadArg
		}
		cfg.Lines = uint16(n)
	}
	if v, ok := protocol.Field(line, "retries"); ok {
		n, err := protocol.ParseUint(v, 8)
		if err != nil {
			return ErrBadArg
		}
		cfg.Retries = uint8(n)
	}

	if err := d.Engine.Configure(cfg); err != nil {
		return ErrBadState
	}
	d.Commands.Ack(CmdSetBlocks)
	d.sendBlocksCfg()
	return nil
}

// handleGetDiag reports transport counters
func (d *Device) handleGetDiag(line []byte) error {
	st := d.Engine.Stats()
	s := d.Commands.Scratch()
	s.Begin(protocol.MsgDiag)
	s.Uint("tx_drop", uint64(d.Transport.DropCount()))
	s.Uint("rx_ovf", uint64(d.Transport.OverflowCount()))
	s.Uint("tx_ring", uint64(d.Transport.TxRingUsage()))
	s.Uint("rx_ring", uint64(d.Transport.RxRingUsage()))
	s.Uint("queue", uint64(d.Engine.QueueCount()))
	s.Uint("inflight", uint64(d.Engine.InflightCount()))
	s.Uint("sent", uint64(st.Sent))
	s.Uint("resent", uint64(st.Resent))
	s.Uint("timeouts", uint64(st.Timeouts))
	s.Uint("aborts", uint64(st.Aborts))
	s.Uint("mismatch", uint64(st.GeneratorMismatches))
	s.Uint("too_long", uint64(d.Reader.TooLongCount()))
	d.Commands.Send(s.End())

	if IsDebugEnabled() {
		d.Engine.Trace().Dump()
	}
	return nil
}

// handleStop aborts the active burst; COMPLETE reports reason=aborted
func (d *Device) handleStop(line []byte) error {
	d.Commands.Ack(CmdStop)
	d.Bursts.Stop(0)
	return nil
}

// handleStartBurst captures and sends a burst of the requested type
func (d *Device) handleStartBurst(line []byte) error {
	if d.capture == nil || d.Bursts.IsActive() {
		return ErrBadState
	}
	v, ok := protocol.Field(line, "type")
	if !ok {
		return ErrBadArg
	}
	typ, ok := ParseBurstType(v)
	if !ok {
		return ErrParamRange
	}

	samples, odr, err := d.capture(typ)
	if err != nil {
		return err
	}
	if len(samples) > MaxBurstSamples {
		return ErrParamRange
	}

	// Acknowledge before DATA_HEADER goes out
	s := d.Commands.Scratch()
	s.Begin(protocol.MsgAck)
	s.Str("SUBJECT", CmdStartBurst)
	s.Uint("burst_id", uint64(d.nextBurstID+1))
	d.Commands.Send(s.End())

	if _, err := d.StartBurst(typ, samples, odr); err != nil {
		return ErrBadState
	}
	return nil
}

// ParseBurstType maps a wire name to its BurstType. Trailing blanks and
// EOL are ignored.
func ParseBurstType(name []byte) (BurstType, bool) {
	end := 0
	for end < len(name) && name[end] != ' ' && name[end] != '\t' &&
		name[end] != '\r' && name[end] != '\n' && name[end] != protocol.FieldDelim {
		end++
	}
	switch string(name[:end]) {
	case "WEIGHT":
		return BurstWeight, true
	case "DAMP_TRG":
		return BurstDampTrg, true
	case "DAMP_CD":
		return BurstDampCD, true
	}
	return 0, false
}
