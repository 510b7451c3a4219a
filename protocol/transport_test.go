package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlockLines(t *testing.T) {
	var s Scratch
	require.Equal(t, "BLOCK_HEADER,burst_id=42,blk=1,lines=100,crc16=4660\r\n",
		string(BlockHeader(&s, 42, 1, 100, 0x1234)))
	require.Equal(t, "BLOCK_END,blk=1,crc16=4660\r\n", string(BlockEnd(&s, 1, 0x1234)))
	require.Equal(t, "ACK_BLK,blk=7\r\n", string(AckBlock(&s, 7)))
	require.Equal(t, "NACK_BLK,blk=7,code=1\r\n", string(NackBlock(&s, 7, 1)))
	require.Equal(t, "NACK_BLK,blk=7\r\n", string(NackBlock(&s, 7, 0)))
}

func TestParseBlockReply(t *testing.T) {
	cases := []struct {
		line string
		ok   bool
		want BlockReply
	}{
		{"ACK_BLK,blk=1", true, BlockReply{Seq: 1}},
		{"ACK_BLK,blk=65535\r\n", true, BlockReply{Seq: 65535}},
		{"NACK_BLK,blk=3", true, BlockReply{Seq: 3, Nack: true}},
		{"NACK_BLK,blk=3,code=17", true, BlockReply{Seq: 3, Nack: true, Code: 17}},
		{"NACK_BLK,code=17,blk=3\r\n", true, BlockReply{Seq: 3, Nack: true, Code: 17}},
		{"NACK_BLK,blk=3,code=x", true, BlockReply{Seq: 3, Nack: true}},
		{"NACK_BLK,blk=3,code=4294967296", true, BlockReply{Seq: 3, Nack: true}},
		{"ACK_BLK, blk=9 ", true, BlockReply{Seq: 9}},
		{"ACK_BLK,blk=65536", false, BlockReply{}},
		{"ACK_BLK,blk=-1", false, BlockReply{}},
		{"ACK_BLK,blk=12abc", false, BlockReply{}},
		{"ACK_BLK,blk=", false, BlockReply{}},
		{"ACK_BLK", false, BlockReply{}},
		{"ACK_BLKX,blk=1", false, BlockReply{}},
		{"ACK_COMPLETE,burst_id=1", false, BlockReply{}},
		{"HELLO", false, BlockReply{}},
		{"", false, BlockReply{}},
	}

	for _, tc := range cases {
		got, ok := ParseBlockReply([]byte(tc.line))
		require.Equalf(t, tc.ok, ok, "%q handled", tc.line)
		if tc.ok {
			require.Equalf(t, tc.want, got, "%q reply", tc.line)
		}
	}
}

func TestParseUint(t *testing.T) {
	cases := []struct {
		in      string
		bits    int
		want    uint64
		wantErr error
	}{
		{"0", 16, 0, nil},
		{"65535", 16, 65535, nil},
		{"65536", 16, 0, ErrOutOfRange},
		{"4294967295", 32, 4294967295, nil},
		{"4294967296", 32, 0, ErrOutOfRange},
		{"  12 ,next", 32, 12, nil},
		{"12\r\n", 32, 12, nil},
		{"", 32, 0, ErrNoDigits},
		{"+1", 32, 0, ErrNoDigits},
		{"1.5", 32, 0, ErrTrailingChars},
		{"7 7", 32, 0, ErrTrailingChars},
	}

	for _, tc := range cases {
		got, err := ParseUint([]byte(tc.in), tc.bits)
		if tc.wantErr != nil {
			require.ErrorIsf(t, err, tc.wantErr, "ParseUint(%q)", tc.in)
			continue
		}
		require.NoErrorf(t, err, "ParseUint(%q)", tc.in)
		require.Equalf(t, tc.want, got, "ParseUint(%q)", tc.in)
	}
}

func TestField(t *testing.T) {
	line := []byte("COMPLETE,burst_id=9,reason=aborted,code=400\r\n")

	v, ok := Field(line, "reason")
	require.True(t, ok)
	require.Equal(t, "aborted", string(v))

	v, ok = Field(line, "code")
	require.True(t, ok)
	n, err := ParseUint(v, 32)
	require.NoError(t, err)
	require.EqualValues(t, 400, n)

	_, ok = Field(line, "burst")
	require.False(t, ok, "key prefix must not match a longer key")

	_, ok = Field([]byte("COMPLETE"), "burst_id")
	require.False(t, ok)

	require.Equal(t, "COMPLETE", string(MessageName(line)))
	require.True(t, IsMessage([]byte("ACK_COMPLETE\r\n"), MsgAckComplete))
}
