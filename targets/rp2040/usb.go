//go:build rp2040 || rp2350

package main

import (
	"machine"
	"time"

	"burstlink/core"
)

// usbDMA implements core.TxDMA on USB CDC. TinyGo exposes no DMA for the
// CDC endpoint, so a goroutine performs each transfer and signals its
// completion like the transfer-complete interrupt would.
type usbDMA struct {
	transport *core.ByteTransport
	pending   chan []byte

	writeFailures uint32
}

func newUSBDMA() *usbDMA {
	return &usbDMA{pending: make(chan []byte, 1)}
}

// InitUSB initializes USB serial communication.
// On RP2040, machine.Serial is USB CDC, not UART.
func InitUSB() {
	err := machine.Serial.Configure(machine.UARTConfig{})
	if err != nil {
		return
	}
}

// StartTransfer implements core.TxDMA. The transport never starts a second
// transfer before completion, so the channel never blocks.
func (d *usbDMA) StartTransfer(p []byte) error {
	d.pending <- p
	return nil
}

// txLoop performs transfers
func (d *usbDMA) txLoop() {
	for p := range d.pending {
		written := 0
		for written < len(p) {
			n, err := machine.Serial.Write(p[written:])
			if err != nil || n == 0 {
				// Host not reading; drop the chunk, the host NACKs or times out
				d.writeFailures++
				break
			}
			written += n
		}
		d.transport.OnTxComplete()
	}
}

// rxLoop hands received bytes to the transport
func rxLoop(t *core.ByteTransport) {
	var buf [64]byte
	for {
		n := 0
		for n < len(buf) && machine.Serial.Buffered() > 0 {
			b, err := machine.Serial.ReadByte()
			if err != nil {
				break
			}
			buf[n] = b
			n++
		}
		if n > 0 {
			t.OnRxEvent(buf[:n])
			continue
		}
		time.Sleep(100 * time.Microsecond)
	}
}
