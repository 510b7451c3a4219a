package mcu

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"burstlink/core"
	"burstlink/host/link"
	"burstlink/host/receiver"
	"burstlink/host/serial"
)

func rampCapture(n int) core.CaptureFunc {
	return func(core.BurstType) ([]core.Sample, uint32, error) {
		samples := make([]core.Sample, n)
		for i := range samples {
			samples[i] = core.Sample{
				TimestampUs: uint32(i * 1000),
				X:           float32(i),
				Y:           0.25,
				Z:           -1,
				W:           9.81,
			}
		}
		return samples, 1000, nil
	}
}

// connect runs a device on one end of a pipe and an MCU client on the other
func connect(t *testing.T, capture core.CaptureFunc) (*MCU, chan *receiver.Burst) {
	host, devPort := serial.Pipe()
	dev, _ := link.NewDevice(devPort, core.NewSystemClock(), core.DeviceConfig{})
	dev.SetCapture(capture)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- link.Run(ctx, devPort, dev, time.Millisecond) }()

	bursts := make(chan *receiver.Burst, 2)
	m := NewMCU(receiver.SinkFunc(func(b *receiver.Burst) error {
		bursts <- b
		return nil
	}))
	m.ConnectPort(host)

	t.Cleanup(func() {
		cancel()
		m.Close()
		<-done
	})
	return m, bursts
}

func TestHelloAndBlocks(t *testing.T) {
	m, _ := connect(t, nil)

	info, err := m.Hello()
	require.NoError(t, err)
	require.Equal(t, &Info{Firmware: "burstlink-1.0", Protocol: "3.3.3", Window: 4, BlockLines: 128}, info)

	cfg, err := m.GetBlocks()
	require.NoError(t, err)
	require.Equal(t, core.DefaultBlocksConfig(), cfg)

	cfg, err = m.SetBlocks(core.BlocksConfig{Window: 2, Lines: 1000, Retries: 5})
	require.NoError(t, err)
	require.Equal(t, core.BlocksConfig{Window: 2, Lines: 512, Retries: 5}, cfg)

	_, err = m.SendCommand("FROB")
	var nack *NackError
	require.True(t, errors.As(err, &nack))
	require.Equal(t, "UNKNOWN", nack.Subject)
	require.Equal(t, uint32(100), nack.Code)

	_, err = m.StartBurst(core.BurstWeight)
	require.True(t, errors.As(err, &nack))
	require.Equal(t, "bad_state", nack.Reason)
}

func TestBurstEndToEnd(t *testing.T) {
	m, bursts := connect(t, rampCapture(700))

	_, err := m.SetBlocks(core.BlocksConfig{Window: 3, Lines: 64, Retries: 3})
	require.NoError(t, err)

	id, err := m.StartBurst(core.BurstDampTrg)
	require.NoError(t, err)
	require.Equal(t, uint32(1), id)

	var b *receiver.Burst
	select {
	case b = <-bursts:
	case <-time.After(10 * time.Second):
		t.Fatal("burst not delivered")
	}
	require.Equal(t, uint32(1), b.ID)
	require.Equal(t, "DAMP_TRG", b.Type)
	require.False(t, b.Aborted)
	require.Equal(t, 11, b.Blocks)
	require.Equal(t, uint32(700), b.TimeMs)

	recs, err := b.Records()
	require.NoError(t, err)
	require.Len(t, recs, 700)
	for i, r := range recs {
		require.Equal(t, uint32(i*1000), r.TimestampUs)
		require.InDelta(t, float32(i), r.X, 1e-3)
	}

	st := m.Receiver().Stats()
	require.Equal(t, uint32(11), st.Acked)
	require.Zero(t, st.CRCErrors)

	diag, err := m.Diag()
	require.NoError(t, err)
	require.Equal(t, uint64(11), diag["sent"])
	require.Equal(t, uint64(0), diag["aborts"])
}

func TestFields(t *testing.T) {
	f := Fields("NACK,SUBJECT=SET_BLOCKS,reason=bad_arg,code=101")
	require.Equal(t, map[string]string{"SUBJECT": "SET_BLOCKS", "reason": "bad_arg", "code": "101"}, f)
	require.NoError(t, replyError("ACK,SUBJECT=STOP"))
	require.Error(t, replyError("NACK,SUBJECT=STOP,reason=bad_state,code=103"))
}
