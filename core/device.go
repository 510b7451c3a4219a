package core

import "burstlink/protocol"

// FirmwareVersion is reported in HELLO_ACK
const FirmwareVersion = "burstlink-1.0"

// CaptureFunc records a burst of samples for typ. It returns the samples and
// the output data rate they were captured at.
type CaptureFunc func(typ BurstType) (samples []Sample, odrHz uint32, err error)

// DeviceConfig configures a Device. Zero values select defaults.
type DeviceConfig struct {
	Transport ByteTransportConfig
	Blocks    BlocksConfig
	Firmware  string
}

// Device wires the byte transport, block engine, burst manager, sample
// producer, line reader and host commands into one cooperative loop.
// Poll is the only entry point from the main loop; OnTxComplete and
// OnRxEvent on Transport are the only entry points from interrupt context.
type Device struct {
	Transport *ByteTransport
	Engine    *BlockTransport
	Bursts    *BurstManager
	Producer  *SampleBurst
	Reader    *LineReader
	Commands  *CommandRegistry

	clock       Clock
	firmware    string
	capture     CaptureFunc
	nextBurstID uint32
}

// NewDevice builds a device transmitting through dma
func NewDevice(dma TxDMA, clock Clock, cfg DeviceConfig) *Device {
	d := &Device{
		clock:    clock,
		firmware: cfg.Firmware,
	}
	if d.firmware == "" {
		d.firmware = FirmwareVersion
	}
	if cfg.Blocks == (BlocksConfig{}) {
		cfg.Blocks = DefaultBlocksConfig()
	}

	d.Transport = NewByteTransport(dma, cfg.Transport)
	d.Engine = NewBlockTransport(d.Transport, clock)
	blk := cfg.Blocks.Clamped()
	d.Engine.Init(blk.Window, blk.Lines, blk.Retries)
	d.Bursts = NewBurstManager(d.Engine, d.Transport)
	d.Producer = NewSampleBurst(d.Bursts)
	d.Commands = NewCommandRegistry(d.Transport)
	d.Reader = NewLineReader(d.Transport, d.Transport, clock)

	// Block replies and ACK_COMPLETE first, then host commands
	d.Reader.AddHandler(d.Bursts)
	d.Reader.AddHandler(d.Commands)
	d.Reader.SetFallback(d.Commands.NackUnknown)

	d.registerCommands()
	return d
}

// SetCapture installs the sampler used by START_BURST
func (d *Device) SetCapture(f CaptureFunc) {
	d.capture = f
}

// StartBurst sends samples as a new burst with the next burst id
func (d *Device) StartBurst(typ BurstType, samples []Sample, odrHz uint32) (uint32, error) {
	if d.Bursts.IsActive() {
		return 0, ErrBurstActive
	}
	id := d.nextBurstID + 1
	if err := d.Producer.Start(typ, id, samples, odrHz); err != nil {
		return 0, err
	}
	d.nextBurstID = id
	return id, nil
}

// Poll runs one iteration of the cooperative loop
func (d *Device) Poll() {
	d.Reader.Process()
	if d.Producer.started {
		d.Producer.Pump()
	} else {
		d.Bursts.Pump()
	}
	d.Transport.KickTransmit()
}

// hello formats the HELLO_ACK line
func (d *Device) hello(s *protocol.Scratch) []byte {
	s.Begin(protocol.MsgHelloAck)
	s.Str("fw", "\""+d.firmware+"\"")
	s.Str("proto", protocol.Version)
	s.Uint("win", uint64(d.Engine.Window()))
	s.Uint("blk_lines", uint64(d.Engine.BlockLines()))
	return s.End()
}
