package receiver

import (
	"fmt"
	"strconv"
	"strings"

	"burstlink/core"
	"burstlink/protocol"
)

// ParseSample decodes a DATA,<ts_us>,<x>,<y>,<z>,<w> line
func ParseSample(line string) (core.Sample, error) {
	var s core.Sample
	f := strings.Split(strings.TrimRight(line, "\r\n"), ",")
	if len(f) != 6 || f[0] != protocol.MsgData {
		return s, fmt.Errorf("not a DATA line: %q", line)
	}
	ts, err := strconv.ParseUint(f[1], 10, 32)
	if err != nil {
		return s, fmt.Errorf("bad timestamp in %q: %w", line, err)
	}
	s.TimestampUs = uint32(ts)

	vals := [4]*float32{&s.X, &s.Y, &s.Z, &s.W}
	for i, dst := range vals {
		v, err := strconv.ParseFloat(f[2+i], 32)
		if err != nil {
			return s, fmt.Errorf("bad value in %q: %w", line, err)
		}
		*dst = float32(v)
	}
	return s, nil
}

// Records decodes every payload line of the burst
func (b *Burst) Records() ([]core.Sample, error) {
	out := make([]core.Sample, 0, len(b.Lines))
	for _, l := range b.Lines {
		s, err := ParseSample(l)
		if err != nil {
			return out, err
		}
		out = append(out, s)
	}
	return out, nil
}
