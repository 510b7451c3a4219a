package protocol

// CRC16/CCITT-FALSE parameters used to fingerprint block payloads.
const (
	CRC16Poly = 0x1021
	CRC16Init = 0xFFFF
)

// CRC16 is an incremental CRC16/CCITT-FALSE accumulator
// (poly 0x1021, init 0xFFFF, no reflection, xor-out 0).
// It is table-free so it costs no flash on small targets.
type CRC16 struct {
	crc uint16
}

// NewCRC16 returns an accumulator in its initial state
func NewCRC16() CRC16 {
	return CRC16{crc: CRC16Init}
}

// Reset returns the accumulator to its initial state
func (c *CRC16) Reset() {
	c.crc = CRC16Init
}

// Update feeds data into the accumulator
func (c *CRC16) Update(data []byte) {
	crc := c.crc
	for _, b := range data {
		crc = crc16UpdateByte(crc, b)
	}
	c.crc = crc
}

// Sum16 returns the checksum of everything fed so far.
// The accumulator is not modified.
func (c *CRC16) Sum16() uint16 {
	return c.crc
}

// Checksum16 calculates the CRC16/CCITT-FALSE of data in one call
func Checksum16(data []byte) uint16 {
	c := NewCRC16()
	c.Update(data)
	return c.Sum16()
}

func crc16UpdateByte(crc uint16, b byte) uint16 {
	crc ^= uint16(b) << 8
	for i := 0; i < 8; i++ {
		if crc&0x8000 != 0 {
			crc = crc<<1 ^ CRC16Poly
		} else {
			crc <<= 1
		}
	}
	return crc
}
