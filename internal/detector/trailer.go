package detector

import (
	"encoding/binary"
	"errors"
)

// Wire-format constants shared with the FEM firmware.
const (
	// PrimaryPacketSize is the payload size in bytes of every primary packet.
	PrimaryPacketSize = 8184

	// MaxPrimaryPackets is the largest primary packet count across all
	// supported bit depths.
	MaxPrimaryPackets = 320

	// NumTailPackets is the number of tail packets per FEM per frame.
	NumTailPackets = 1

	// MaxNumFems is the maximum number of FEM stripes in a supermodule.
	MaxNumFems = 6

	// PacketTrailerSize is the fixed trailer appended to every UDP payload.
	PacketTrailerSize = 8
)

const (
	startOfFrameMask = 1 << 31
	endOfFrameMask   = 1 << 30
	packetNumberMask = 0x3FFFFFFF
)

// ErrShortPacket is returned for datagrams too small to carry a trailer.
var ErrShortPacket = errors.New("datagram shorter than packet trailer")

// ErrOversizedPacket is returned for datagrams whose payload exceeds the
// primary packet size.
var ErrOversizedPacket = errors.New("datagram payload exceeds primary packet size")

// PacketTrailer is the fixed-size metadata the hardware appends after every
// UDP packet's pixel payload. Both fields are little-endian on the wire:
//
//	offset 0: frame_number        uint32
//	offset 4: packet_number_flags uint32 (bit 31 SOF, bit 30 EOF,
//	                                      bits 0-29 packet number)
type PacketTrailer struct {
	FrameNumber       uint32
	PacketNumberFlags uint32
}

// ParseTrailer splits a received datagram into its payload and trailer.
// Undersized or oversized datagrams are rejected without touching any frame
// state; callers count them as ignored.
func ParseTrailer(datagram []byte) (PacketTrailer, []byte, error) {
	if len(datagram) < PacketTrailerSize {
		return PacketTrailer{}, nil, ErrShortPacket
	}
	payload := datagram[:len(datagram)-PacketTrailerSize]
	if len(payload) > PrimaryPacketSize {
		return PacketTrailer{}, nil, ErrOversizedPacket
	}
	trailer := datagram[len(payload):]
	return PacketTrailer{
		FrameNumber:       binary.LittleEndian.Uint32(trailer[0:4]),
		PacketNumberFlags: binary.LittleEndian.Uint32(trailer[4:8]),
	}, payload, nil
}

// PacketNumber returns the 30-bit packet sequence number within the frame.
func (t PacketTrailer) PacketNumber() uint32 {
	return t.PacketNumberFlags & packetNumberMask
}

// StartOfFrame reports whether the SOF marker bit is set.
func (t PacketTrailer) StartOfFrame() bool {
	return t.PacketNumberFlags&startOfFrameMask != 0
}

// EndOfFrame reports whether the EOF marker bit is set.
func (t PacketTrailer) EndOfFrame() bool {
	return t.PacketNumberFlags&endOfFrameMask != 0
}

// AppendTrailer appends a wire-format trailer to payload. Used by the
// simulator tooling and tests to synthesise FEM traffic.
func AppendTrailer(payload []byte, frameNumber, packetNumber uint32, sof, eof bool) []byte {
	flags := packetNumber & packetNumberMask
	if sof {
		flags |= startOfFrameMask
	}
	if eof {
		flags |= endOfFrameMask
	}
	var trailer [PacketTrailerSize]byte
	binary.LittleEndian.PutUint32(trailer[0:4], frameNumber)
	binary.LittleEndian.PutUint32(trailer[4:8], flags)
	return append(payload, trailer[:]...)
}
