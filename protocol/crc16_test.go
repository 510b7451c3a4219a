package protocol

import (
	"testing"

	"github.com/sigurn/crc16"
)

var ccittFalse = crc16.MakeTable(crc16.CRC16_CCITT_FALSE)

func TestCRC16(t *testing.T) {
	testCases := []struct {
		data     []byte
		expected uint16
	}{
		{data: []byte{}, expected: 0xFFFF},
		{data: []byte("123456789"), expected: 0x29B1},
		{data: []byte{0x00}, expected: 0xE1F0},
		{data: []byte("DATA,0,0.000,0.000,9.810,0.000\r\n"), expected: crc16.Checksum([]byte("DATA,0,0.000,0.000,9.810,0.000\r\n"), ccittFalse)},
	}

	for i, tc := range testCases {
		result := Checksum16(tc.data)
		if result != tc.expected {
			t.Errorf("Test case %d: Checksum16(%q) = 0x%04X, expected 0x%04X", i, tc.data, result, tc.expected)
		}
	}
}

func TestCRC16Incremental(t *testing.T) {
	lines := [][]byte{
		[]byte("DATA,1000,0.120,-0.330,9.806,0.000\r\n"),
		[]byte("DATA,2000,0.118,-0.329,9.807,0.000\r\n"),
		[]byte("DATA,3000,0.121,-0.331,9.805,0.000\r\n"),
	}

	c := NewCRC16()
	var all []byte
	for _, l := range lines {
		c.Update(l)
		all = append(all, l...)
	}

	if c.Sum16() != Checksum16(all) {
		t.Errorf("Incremental CRC 0x%04X differs from one-shot 0x%04X", c.Sum16(), Checksum16(all))
	}
	if want := crc16.Checksum(all, ccittFalse); c.Sum16() != want {
		t.Errorf("CRC 0x%04X differs from reference CCITT-FALSE 0x%04X", c.Sum16(), want)
	}

	c.Reset()
	if c.Sum16() != CRC16Init {
		t.Errorf("After reset expected 0x%04X, got 0x%04X", CRC16Init, c.Sum16())
	}
}

func TestCRC16Different(t *testing.T) {
	data1 := []byte{0x01, 0x02, 0x03}
	data2 := []byte{0x01, 0x02, 0x04}

	crc1 := Checksum16(data1)
	crc2 := Checksum16(data2)

	if crc1 == crc2 {
		t.Errorf("CRC16 collision: both inputs produced %04X", crc1)
	}
}
