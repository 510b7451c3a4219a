package core

import (
	"encoding/json"
	"fmt"

	"burstlink/protocol"
)

// BlocksConfig holds the block transport settings negotiated with the host
type BlocksConfig struct {
	Window  uint8  `json:"window"`
	Lines   uint16 `json:"lines"`
	Retries uint8  `json:"retries"`
}

// DefaultBlocksConfig returns window 4, 128 lines per block, 3 retries
func DefaultBlocksConfig() BlocksConfig {
	return BlocksConfig{
		Window:  protocol.DefaultWindow,
		Lines:   protocol.DefaultBlockLines,
		Retries: protocol.DefaultMaxRetries,
	}
}

// Clamped returns c with window in [1,8], lines in [32,512] and retries >= 1
func (c BlocksConfig) Clamped() BlocksConfig {
	c.Window = uint8(clamp(int(c.Window), 1, protocol.MaxWindow))
	c.Lines = uint16(clamp(int(c.Lines), protocol.MinBlockLines, protocol.MaxBlockLines))
	if c.Retries < 1 {
		c.Retries = 1
	}
	return c
}

// blocksConfigJSON accepts out-of-range numbers so they can be clamped
// instead of rejected
type blocksConfigJSON struct {
	Window  *int `json:"window"`
	Lines   *int `json:"lines"`
	Retries *int `json:"retries"`
}

// LoadBlocksConfig parses a JSON object such as
// {"window":4,"lines":128,"retries":3}. Missing fields keep their defaults;
// values are clamped to the protocol ranges.
func LoadBlocksConfig(data []byte) (BlocksConfig, error) {
	var raw blocksConfigJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return BlocksConfig{}, fmt.Errorf("blocks config: %w", err)
	}

	cfg := DefaultBlocksConfig()
	if raw.Window != nil {
		cfg.Window = uint8(clamp(*raw.Window, 1, protocol.MaxWindow))
	}
	if raw.Lines != nil {
		cfg.Lines = uint16(clamp(*raw.Lines, protocol.MinBlockLines, protocol.MaxBlockLines))
	}
	if raw.Retries != nil {
		cfg.Retries = uint8(clamp(*raw.Retries, 1, 255))
	}
	return cfg, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
