//go:build rp2040 || rp2350

package main

import (
	"machine"
	"time"

	"burstlink/core"
)

func main() {
	// Disable watchdog on boot to clear any previous state
	err := machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 0})
	if err != nil {
		return
	}

	InitUSB()

	dma := newUSBDMA()
	dev := core.NewDevice(dma, hwClock{}, core.DeviceConfig{})
	dma.transport = dev.Transport

	accel := newAccelerometer()
	dev.SetCapture(accel.Capture)

	go dma.txLoop()
	go rxLoop(dev.Transport)

	for {
		// Recover from panics in the main loop to prevent a firmware crash
		func() {
			defer func() {
				if r := recover(); r != nil {
					dev.Bursts.Stop(0)
				}
			}()
			dev.Poll()
		}()

		// Yield to the transfer goroutines
		time.Sleep(10 * time.Microsecond)
	}
}
