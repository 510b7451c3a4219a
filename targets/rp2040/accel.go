//go:build rp2040 || rp2350

package main

import (
	"machine"

	"tinygo.org/x/drivers/adxl345"

	"burstlink/core"
)

// ADXL345 wiring: I2C0, SDA=GPIO4, SCL=GPIO5, SDO low (address 0x53)
const (
	accelI2CFreq = 400000
	accelODR     = 800 // Hz, the fastest rate sustained over 400kHz I2C
	burstSamples = 2048

	// micro-g to m/s^2
	microGToMS2 = 9.80665e-6
)

// accelerometer captures bursts from an ADXL345
type accelerometer struct {
	sensor  adxl345.Device
	samples [burstSamples]core.Sample
	ready   bool
}

func newAccelerometer() *accelerometer {
	a := &accelerometer{}
	err := machine.I2C0.Configure(machine.I2CConfig{Frequency: accelI2CFreq})
	if err != nil {
		core.DebugPrintln("accel: i2c configure failed")
		return a
	}
	a.sensor = adxl345.New(machine.I2C0)
	a.sensor.Configure()
	a.sensor.SetRate(adxl345.RATE_800HZ)
	a.sensor.SetRange(adxl345.RANGE_16G)
	a.ready = true
	return a
}

// Capture implements core.CaptureFunc. It samples at accelODR, paced by
// the hardware timer. W is unused.
func (a *accelerometer) Capture(typ core.BurstType) ([]core.Sample, uint32, error) {
	if !a.ready {
		return nil, 0, core.ErrBadState
	}
	period := uint32(1000000 / accelODR)
	next := GetHardwareTime()
	for i := range a.samples {
		waitUntil(next)
		ts := GetHardwareTime()
		x, y, z, err := a.sensor.ReadAcceleration()
		if err != nil {
			return nil, 0, core.ErrBadState
		}
		a.samples[i] = core.Sample{
			TimestampUs: ts,
			X:           float32(x) * microGToMS2,
			Y:           float32(y) * microGToMS2,
			Z:           float32(z) * microGToMS2,
		}
		next += period
	}
	return a.samples[:], accelODR, nil
}

// Halt puts the sensor in standby
func (a *accelerometer) Halt() {
	if a.ready {
		a.sensor.Halt()
	}
}
