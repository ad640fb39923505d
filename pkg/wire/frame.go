// Package wire implements the on-the-wire framing for the hybrid-reliability
// datagram transport: one data frame shape shared by all four channels, and
// one fixed-length ACK frame.
package wire

import (
	"encoding/binary"
	"errors"
)

// Channel is the 1-byte logical stream tag carried by every data frame.
type Channel uint8

const (
	ChannelReliable Channel = iota
	ChannelUnreliable
	ChannelRegister
	ChannelDeregister
)

func (c Channel) String() string {
	switch c {
	case ChannelReliable:
		return "RELIABLE"
	case ChannelUnreliable:
		return "UNRELIABLE"
	case ChannelRegister:
		return "REGISTER"
	case ChannelDeregister:
		return "DEREGISTER"
	default:
		return "UNKNOWN"
	}
}

// Valid reports whether c is one of the four protocol-defined channels.
func (c Channel) Valid() bool {
	return c <= ChannelDeregister
}

// AckFlag marks the second byte of an ACK frame. A data frame's second byte
// is the high byte of its sequence number and can legitimately equal this
// value, so AckFlag alone never disambiguates a datagram — see IsAck.
const AckFlag = 0xFF

// dataHeaderLen is channel(1) + seq(2) + timestamp(4).
const dataHeaderLen = 7

// AckLen is the exact, fixed length of an ACK frame: channel(1) + flag(1) +
// seq(2) + timestamp(4). A datagram is accepted as an ACK only when its
// length equals AckLen exactly, which separates ACKs from every data frame
// whose sequence number's high byte is 0xFF except one carrying exactly a
// 1-byte payload (also AckLen bytes long).
const AckLen = 8

var (
	// ErrTooShort is returned when a datagram is shorter than the minimum
	// header length for the frame shape being parsed.
	ErrTooShort = errors.New("wire: datagram too short")
	// ErrUnknownChannel is returned when a data frame's channel byte is not
	// one of the four defined channel values.
	ErrUnknownChannel = errors.New("wire: unknown channel")
	// ErrNotAck is returned by DecodeAck when the datagram is not a
	// well-formed ACK frame.
	ErrNotAck = errors.New("wire: not an ack frame")
)

// DataFrame is the common shape of RELIABLE, UNRELIABLE, REGISTER and
// DEREGISTER frames: channel:u8 | seq:u16 be | timestamp:u32 be | payload.
type DataFrame struct {
	Channel   Channel
	Seq       uint16
	Timestamp uint32
	Payload   []byte
}

// AckFrame is the fixed 8-byte acknowledgement frame:
// channel:u8(=0) | flag:u8(=0xFF) | seq:u16 be | timestamp:u32 be.
type AckFrame struct {
	Seq       uint16
	Timestamp uint32
}

// EncodeData packs f into a freshly allocated datagram.
func EncodeData(f DataFrame) []byte {
	buf := make([]byte, dataHeaderLen+len(f.Payload))
	buf[0] = byte(f.Channel)
	binary.BigEndian.PutUint16(buf[1:3], f.Seq)
	binary.BigEndian.PutUint32(buf[3:7], f.Timestamp)
	copy(buf[dataHeaderLen:], f.Payload)
	return buf
}

// DecodeData parses a data frame. The caller is expected to have already
// ruled out the ACK shape via IsAck/DecodeAck.
func DecodeData(b []byte) (DataFrame, error) {
	if len(b) < dataHeaderLen {
		return DataFrame{}, ErrTooShort
	}
	ch := Channel(b[0])
	if !ch.Valid() {
		return DataFrame{}, ErrUnknownChannel
	}
	f := DataFrame{
		Channel:   ch,
		Seq:       binary.BigEndian.Uint16(b[1:3]),
		Timestamp: binary.BigEndian.Uint32(b[3:7]),
	}
	if len(b) > dataHeaderLen {
		payload := make([]byte, len(b)-dataHeaderLen)
		copy(payload, b[dataHeaderLen:])
		f.Payload = payload
	}
	return f, nil
}

// EncodeAck packs f into a fresh 8-byte ACK datagram.
func EncodeAck(f AckFrame) []byte {
	buf := make([]byte, AckLen)
	buf[0] = byte(ChannelReliable)
	buf[1] = AckFlag
	binary.BigEndian.PutUint16(buf[2:4], f.Seq)
	binary.BigEndian.PutUint32(buf[4:8], f.Timestamp)
	return buf
}

// DecodeAck parses b as an ACK frame, returning ErrNotAck if it isn't one.
func DecodeAck(b []byte) (AckFrame, error) {
	if len(b) != AckLen || b[1] != AckFlag {
		return AckFrame{}, ErrNotAck
	}
	return AckFrame{
		Seq:       binary.BigEndian.Uint16(b[2:4]),
		Timestamp: binary.BigEndian.Uint32(b[4:8]),
	}, nil
}

// IsAck reports whether b has exactly the ACK frame's length and flag byte.
// A data frame whose sequence number's high byte happens to be 0xFF is
// rejected here on length, which is the disambiguation spec.md mandates:
// ACK-exact length (8 bytes) is required in addition to the flag byte,
// because the flag byte alone collides with legitimate data frames. The one
// such data frame this cannot reject is one with exactly a 1-byte payload,
// which is 8 bytes long and is reported as an ACK.
func IsAck(b []byte) bool {
	return len(b) == AckLen && b[1] == AckFlag
}
