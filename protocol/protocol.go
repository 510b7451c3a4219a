// Package protocol implements the line-oriented block transport protocol
// spoken between the acquisition device and its host.
//
// Every message is one ASCII line terminated by CRLF. A burst of measurement
// lines is carried in CRC-checked blocks:
//
//	BLOCK_HEADER,burst_id=<u32>,blk=<u16>,lines=<u16>,crc16=<u16>
//	<lines>
//	BLOCK_END,blk=<u16>,crc16=<u16>
//
// and the host answers each block with ACK_BLK or NACK_BLK.
package protocol

// Version is the protocol version advertised by the firmware
const Version = "3.3.3"

// Line structure
const (
	EOL    = "\r\n"
	EOLLen = 2

	// MaxLine is the longest line, EOL included
	MaxLine = 256

	FieldDelim = ','
	KVSep      = '='
)

// Block transport defaults
const (
	BlockTimeoutMs    = 1000
	DefaultMaxRetries = 3
	DefaultWindow     = 4
	DefaultBlockLines = 128

	MaxWindow     = 8
	MinBlockLines = 32
	MaxBlockLines = 512

	// DefaultAbortCode is reported when a burst is aborted for retry
	// exhaustion and no host-supplied code is available.
	DefaultAbortCode = 400

	// LineTooLongCode is reported when a host line exceeds MaxLine
	LineTooLongCode = 300
)

// Message names
const (
	MsgBlockHeader = "BLOCK_HEADER"
	MsgBlockEnd    = "BLOCK_END"
	MsgAckBlock    = "ACK_BLK"
	MsgNackBlock   = "NACK_BLK"
	MsgDataHeader  = "DATA_HEADER"
	MsgData        = "DATA"
	MsgComplete    = "COMPLETE"
	MsgAckComplete = "ACK_COMPLETE"
	MsgNack        = "NACK"
	MsgAck         = "ACK"
	MsgHelloAck    = "HELLO_ACK"
	MsgBlocksCfg   = "BLOCKS_CFG"
	MsgDiag        = "DIAG"
)

// NACK codes for host commands
const (
	CodeUnknownCommand = 100
	CodeBadArg         = 101
	CodeParamRange     = 102
	CodeBadState       = 103
)

// NACK_BLK codes used by the host receiver
const (
	NackCRCMismatch = 1
	NackLineCount   = 2
	NackBadFraming  = 3
)
