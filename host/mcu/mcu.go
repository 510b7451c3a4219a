package mcu

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"burstlink/core"
	"burstlink/host/receiver"
	"burstlink/host/serial"
	"burstlink/protocol"
)

// DefaultTimeout bounds the wait for a command reply
const DefaultTimeout = 2 * time.Second

// MCU is a connection to a burstlink device
type MCU struct {
	// Receiver owns the port's read side and acknowledges blocks
	receiver *receiver.Receiver

	// Serial port
	port serial.Port

	sink    receiver.Sink
	timeout time.Duration

	// Connection state
	connected bool
	info      *Info
}

// Info is the device identity reported by HELLO_ACK
type Info struct {
	Firmware   string
	Protocol   string
	Window     int
	BlockLines int
}

// NackError is a NACK reply to a host command
type NackError struct {
	Subject string
	Reason  string
	Code    uint32
}

func (e *NackError) Error() string {
	return fmt.Sprintf("%s rejected: %s (code %d)", e.Subject, e.Reason, e.Code)
}

// NewMCU creates a new MCU instance (not yet connected). Received bursts
// go to sink.
func NewMCU(sink receiver.Sink) *MCU {
	return &MCU{
		sink:    sink,
		timeout: DefaultTimeout,
	}
}

// SetTimeout changes the reply timeout
func (m *MCU) SetTimeout(d time.Duration) {
	m.timeout = d
}

// Connect connects to a device via serial port
func (m *MCU) Connect(device string) error {
	return m.ConnectWithConfig(serial.DefaultConfig(device))
}

// ConnectWithConfig connects with a custom serial config
func (m *MCU) ConnectWithConfig(cfg *serial.Config) error {
	port, err := serial.Open(cfg)
	if err != nil {
		return fmt.Errorf("failed to open serial port: %w", err)
	}
	m.ConnectPort(port)
	return nil
}

// ConnectPort uses an already open port
func (m *MCU) ConnectPort(port serial.Port) {
	m.port = port
	m.receiver = receiver.New(port, m.sink)
	m.connected = true
}

// Close closes the connection to the device
func (m *MCU) Close() error {
	if m.receiver != nil {
		if err := m.receiver.Close(); err != nil {
			return err
		}
	}
	m.connected = false
	return nil
}

// IsConnected returns whether the device is connected
func (m *MCU) IsConnected() bool {
	return m.connected
}

// Receiver returns the block receiver, for its statistics
func (m *MCU) Receiver() *receiver.Receiver {
	return m.receiver
}

// Info returns the identity from the last Hello
func (m *MCU) Info() *Info {
	return m.info
}

// SendCommand sends a raw command line and returns the reply line.
// A NACK reply is returned as *NackError.
func (m *MCU) SendCommand(cmd string) (string, error) {
	if !m.connected {
		return "", fmt.Errorf("not connected to device")
	}
	reply, err := m.receiver.Request(cmd, m.timeout)
	if err != nil {
		return "", fmt.Errorf("%s: %w", cmd, err)
	}
	return reply, replyError(reply)
}

// next waits for a follow-up reply line
func (m *MCU) next() (string, error) {
	reply, err := m.receiver.Reply(m.timeout)
	if err != nil {
		return "", err
	}
	return reply, replyError(reply)
}

// Hello identifies the device
func (m *MCU) Hello() (*Info, error) {
	reply, err := m.SendCommand(core.CmdHello)
	if err != nil {
		return nil, err
	}
	if name(reply) != protocol.MsgHelloAck {
		return nil, fmt.Errorf("unexpected reply to HELLO: %q", reply)
	}
	f := Fields(reply)
	info := &Info{
		Firmware: strings.Trim(f["fw"], "\""),
		Protocol: f["proto"],
	}
	info.Window, _ = strconv.Atoi(f["win"])
	info.BlockLines, _ = strconv.Atoi(f["blk_lines"])
	m.info = info
	return info, nil
}

// GetBlocks reads the block transport settings
func (m *MCU) GetBlocks() (core.BlocksConfig, error) {
	reply, err := m.SendCommand(core.CmdGetBlocks)
	if err != nil {
		return core.BlocksConfig{}, err
	}
	return parseBlocksCfg(reply)
}

// SetBlocks changes the block transport settings and returns what the
// device applied after clamping
func (m *MCU) SetBlocks(cfg core.BlocksConfig) (core.BlocksConfig, error) {
	cmd := fmt.Sprintf("%s,window=%d,lines=%d,retries=%d", core.CmdSetBlocks, cfg.Window, cfg.Lines, cfg.Retries)
	if _, err := m.SendCommand(cmd); err != nil {
		return core.BlocksConfig{}, err
	}
	reply, err := m.next()
	if err != nil {
		return core.BlocksConfig{}, err
	}
	return parseBlocksCfg(reply)
}

// Diag returns the device's DIAG counters
func (m *MCU) Diag() (map[string]uint64, error) {
	reply, err := m.SendCommand(core.CmdGetDiag)
	if err != nil {
		return nil, err
	}
	if name(reply) != protocol.MsgDiag {
		return nil, fmt.Errorf("unexpected reply to GET_DIAG: %q", reply)
	}
	out := make(map[string]uint64)
	for k, v := range Fields(reply) {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("DIAG field %s: %w", k, err)
		}
		out[k] = n
	}
	return out, nil
}

// StartBurst asks the device to capture and send a burst. The burst is
// delivered to the sink once COMPLETE arrives.
func (m *MCU) StartBurst(typ core.BurstType) (uint32, error) {
	reply, err := m.SendCommand(core.CmdStartBurst + ",type=" + typ.String())
	if err != nil {
		return 0, err
	}
	id, err := strconv.ParseUint(Fields(reply)["burst_id"], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("START_BURST reply %q: %w", reply, err)
	}
	return uint32(id), nil
}

// Stop aborts the burst in progress
func (m *MCU) Stop() error {
	_, err := m.SendCommand(core.CmdStop)
	return err
}

// Fields splits key=value fields after the message name
func Fields(line string) map[string]string {
	out := make(map[string]string)
	parts := strings.Split(line, ",")
	for _, p := range parts[1:] {
		if k, v, ok := strings.Cut(p, "="); ok {
			out[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
	}
	return out
}

func name(line string) string {
	n, _, _ := strings.Cut(line, ",")
	return n
}

func replyError(reply string) error {
	if name(reply) != protocol.MsgNack {
		return nil
	}
	f := Fields(reply)
	code, _ := strconv.ParseUint(f["code"], 10, 32)
	return &NackError{Subject: f["SUBJECT"], Reason: f["reason"], Code: uint32(code)}
}

func parseBlocksCfg(reply string) (core.BlocksConfig, error) {
	if name(reply) != protocol.MsgBlocksCfg {
		return core.BlocksConfig{}, fmt.Errorf("unexpected reply: %q", reply)
	}
	f := Fields(reply)
	w, err1 := strconv.ParseUint(f["window"], 10, 8)
	l, err2 := strconv.ParseUint(f["lines"], 10, 16)
	r, err3 := strconv.ParseUint(f["retries"], 10, 8)
	if err1 != nil || err2 != nil || err3 != nil {
		return core.BlocksConfig{}, fmt.Errorf("malformed BLOCKS_CFG: %q", reply)
	}
	return core.BlocksConfig{Window: uint8(w), Lines: uint16(l), Retries: uint8(r)}, nil
}
