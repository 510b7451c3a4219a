// Command burst-sim runs the device firmware on a host serial port (or a
// pseudo terminal) with a synthetic accelerometer, for bench testing hosts.
package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang/glog"

	"burstlink/core"
	"burstlink/host/link"
	"burstlink/host/serial"
)

var (
	device     = flag.String("device", "", "Serial device to serve (e.g. one end of a socat pty pair)")
	baud       = flag.Int("baud", serial.DefaultBaud, "Baud rate")
	blocksFile = flag.String("blocks", "", "JSON file with initial block settings")
	samples    = flag.Int("samples", 2000, "Samples per burst")
	odr        = flag.Uint("odr", 1600, "Simulated output data rate in Hz")
	debug      = flag.Bool("debug", false, "Log firmware trace output")
)

func main() {
	flag.Parse()
	defer glog.Flush()

	if err := run(); err != nil {
		glog.Errorf("%v", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := core.DeviceConfig{Blocks: core.DefaultBlocksConfig()}
	if *blocksFile != "" {
		data, err := os.ReadFile(*blocksFile)
		if err != nil {
			return err
		}
		if cfg.Blocks, err = core.LoadBlocksConfig(data); err != nil {
			return err
		}
	}

	core.SetDebugWriter(func(msg string) { glog.Info(msg) })
	core.SetDebugEnabled(*debug)

	scfg := serial.DefaultConfig(*device)
	scfg.Baud = *baud
	port, err := serial.Open(scfg)
	if err != nil {
		return err
	}
	defer port.Close()

	dev, _ := link.NewDevice(port, core.NewSystemClock(), cfg)
	dev.SetCapture(syntheticCapture(*samples, uint32(*odr)))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	glog.Infof("serving %s: window %d, %d lines per block, %d retries",
		*device, dev.Engine.Window(), dev.Engine.BlockLines(), dev.Engine.MaxRetries())
	return link.Run(ctx, port, dev, link.DefaultPollInterval)
}

// syntheticCapture returns a damped oscillation on X, a slow drift on Y,
// and gravity on Z; W carries the magnitude
func syntheticCapture(n int, odrHz uint32) core.CaptureFunc {
	return func(typ core.BurstType) ([]core.Sample, uint32, error) {
		if n > core.MaxBurstSamples {
			n = core.MaxBurstSamples
		}
		freq := 12.0 + 4*float64(typ)
		out := make([]core.Sample, n)
		for i := range out {
			t := float64(i) / float64(odrHz)
			x := math.Exp(-3*t) * math.Sin(2*math.Pi*freq*t)
			y := 0.05 * t
			z := 9.81
			out[i] = core.Sample{
				TimestampUs: uint32(t * 1e6),
				X:           float32(x),
				Y:           float32(y),
				Z:           float32(z),
				W:           float32(math.Sqrt(x*x + y*y + z*z)),
			}
		}
		glog.V(1).Infof("captured %d %s samples", n, typ)
		return out, odrHz, nil
	}
}
