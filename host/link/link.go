// Package link runs a core.Device over a host byte stream. Goroutines stand
// in for the UART interrupts: one performs each TX transfer and signals its
// completion, another feeds received bytes to the transport.
package link

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
	"golang.org/x/sync/errgroup"

	"burstlink/core"
)

// DefaultPollInterval is the cooperative loop period
const DefaultPollInterval = time.Millisecond

var ErrNotAttached = errors.New("transfer started before Attach")

// PortDMA implements core.TxDMA by writing each transfer to an io.Writer
// on its own goroutine
type PortDMA struct {
	w         io.Writer
	transport *core.ByteTransport

	writeErrors uint32
	written     uint64
}

// NewPortDMA creates a transfer engine writing to w
func NewPortDMA(w io.Writer) *PortDMA {
	return &PortDMA{w: w}
}

// Attach sets the transport notified on completion
func (d *PortDMA) Attach(t *core.ByteTransport) {
	d.transport = t
}

// StartTransfer implements core.TxDMA
func (d *PortDMA) StartTransfer(p []byte) error {
	if d.transport == nil {
		return ErrNotAttached
	}
	go d.transfer(p)
	return nil
}

func (d *PortDMA) transfer(p []byte) {
	n, err := d.w.Write(p)
	atomic.AddUint64(&d.written, uint64(n))
	if err != nil {
		// Lost on the wire, like a UART error; the block engine retransmits
		atomic.AddUint32(&d.writeErrors, 1)
		glog.V(1).Infof("link write: %v", err)
	}
	d.transport.OnTxComplete()
}

// WriteErrors returns the number of failed transfers
func (d *PortDMA) WriteErrors() uint32 {
	return atomic.LoadUint32(&d.writeErrors)
}

// BytesWritten returns the number of bytes handed to the writer
func (d *PortDMA) BytesWritten() uint64 {
	return atomic.LoadUint64(&d.written)
}

// NewDevice builds a device transmitting on w
func NewDevice(w io.Writer, clock core.Clock, cfg core.DeviceConfig) (*core.Device, *PortDMA) {
	dma := NewPortDMA(w)
	dev := core.NewDevice(dma, clock, cfg)
	dma.Attach(dev.Transport)
	return dev, dma
}

// RxLoop feeds bytes read from r into t until r reports EOF, a read fails,
// or ctx is done. A blocked read only notices ctx on its next return, so
// readers should have a timeout or be closed by the caller.
func RxLoop(ctx context.Context, r io.Reader, t *core.ByteTransport) error {
	buf := make([]byte, 256)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := r.Read(buf)
		if n > 0 {
			t.OnRxEvent(buf[:n])
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("link read: %w", err)
		}
	}
}

// Run drives dev over port until ctx is done or the port fails
func Run(ctx context.Context, port io.Reader, dev *core.Device, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := RxLoop(ctx, port, dev.Transport)
		if err == nil {
			glog.V(1).Info("link closed by peer")
			return io.EOF
		}
		return err
	})

	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				dev.Poll()
			}
		}
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
