package detector

import (
	"encoding/binary"
	"time"
)

// FrameState tracks the lifecycle of an in-flight frame buffer.
type FrameState uint32

const (
	// FrameStateEmpty marks a freshly acquired buffer before the first
	// successful packet write.
	FrameStateEmpty FrameState = iota

	// FrameStateReceiving marks a frame with at least one packet written and
	// packets still outstanding.
	FrameStateReceiving

	// FrameStateComplete marks a frame that received every expected packet
	// with EOF observed for every active FEM.
	FrameStateComplete

	// FrameStateCompleteWithLoss marks a frame force-flushed by timeout or by
	// the arrival of a newer frame; missing packet_state slots stay at the
	// sentinel.
	FrameStateCompleteWithLoss
)

func (s FrameState) String() string {
	switch s {
	case FrameStateEmpty:
		return "empty"
	case FrameStateReceiving:
		return "receiving"
	case FrameStateComplete:
		return "complete"
	case FrameStateCompleteWithLoss:
		return "complete_with_loss"
	}
	return "invalid"
}

// PacketSlotMissing is the packet_state sentinel meaning "never received".
const PacketSlotMissing uint16 = 0xFFFF

// Fixed byte layout of the per-FEM receive state embedded in the frame
// header. The layout is explicit rather than relying on native struct
// padding so the buffer contents stay wire-compatible:
//
//	offset 0: packets_received  uint32
//	offset 4: sof_marker_count  uint8 (saturating)
//	offset 5: eof_marker_count  uint8 (saturating)
//	offset 6: packet_state      [321]uint16 (logical packet index -> buffer
//	                            slot, PacketSlotMissing if never received)
const (
	femPacketStateEntries = MaxPrimaryPackets + NumTailPackets
	femStateSize          = 6 + 2*femPacketStateEntries
)

// Fixed byte layout of the frame header at the head of every frame buffer:
//
//	offset  0: frame_number            uint32
//	offset  4: frame_state             uint32
//	offset  8: frame_start_time_sec    int64
//	offset 16: frame_start_time_nsec   int64
//	offset 24: total_packets_received  uint32
//	offset 28: total_sof_marker_count  uint8
//	offset 29: total_eof_marker_count  uint8
//	offset 30: num_active_fems         uint8
//	offset 31: reserved                uint8
//	offset 32: active_fem_idx          [6]uint8
//	offset 38: reserved                [2]uint8
//	offset 40: fem_rx_state            [6]FemReceiveState
const (
	hdrOffFrameNumber   = 0
	hdrOffFrameState    = 4
	hdrOffStartTimeSec  = 8
	hdrOffStartTimeNsec = 16
	hdrOffTotalPackets  = 24
	hdrOffTotalSOF      = 28
	hdrOffTotalEOF      = 29
	hdrOffNumActiveFems = 30
	hdrOffActiveFemIdx  = 32
	hdrOffFemState      = 40

	// FrameHeaderSize is the total packed header size.
	FrameHeaderSize = hdrOffFemState + MaxNumFems*femStateSize
)

// FemFrameDataSize is the per-FEM payload region size within a frame buffer.
// Slots are strided by the primary packet size: slots are assigned in arrival
// order, so the (smaller) tail packet can land in any slot when packets
// arrive out of order, and every slot must be able to hold a primary packet.
const FemFrameDataSize = (MaxPrimaryPackets + NumTailPackets) * PrimaryPacketSize

// MaxFrameSize is the buffer size required for one frame header plus the
// maximum possible payload for all FEMs at the highest supported bit depth.
const MaxFrameSize = FrameHeaderSize + MaxNumFems*FemFrameDataSize

// FrameHeader is a view over the packed header at the head of a frame buffer.
type FrameHeader struct {
	b []byte
}

// HeaderView returns a FrameHeader over the first FrameHeaderSize bytes of buf.
func HeaderView(buf []byte) FrameHeader {
	return FrameHeader{b: buf[:FrameHeaderSize]}
}

// Init zero-fills the header, records the frame number and acquisition start
// time, and resets every packet_state entry to the missing sentinel.
func (h FrameHeader) Init(frameNumber uint32, start time.Time) {
	for i := range h.b {
		h.b[i] = 0
	}
	binary.LittleEndian.PutUint32(h.b[hdrOffFrameNumber:], frameNumber)
	binary.LittleEndian.PutUint64(h.b[hdrOffStartTimeSec:], uint64(start.Unix()))
	binary.LittleEndian.PutUint64(h.b[hdrOffStartTimeNsec:], uint64(start.Nanosecond()))
	for fem := 0; fem < MaxNumFems; fem++ {
		ps := h.femStateBytes(fem)[6:]
		for i := 0; i < femPacketStateEntries; i++ {
			binary.LittleEndian.PutUint16(ps[2*i:], PacketSlotMissing)
		}
	}
}

// FrameNumber returns the per-acquisition frame id.
func (h FrameHeader) FrameNumber() uint32 {
	return binary.LittleEndian.Uint32(h.b[hdrOffFrameNumber:])
}

// State returns the frame lifecycle state.
func (h FrameHeader) State() FrameState {
	return FrameState(binary.LittleEndian.Uint32(h.b[hdrOffFrameState:]))
}

// SetState records the frame lifecycle state.
func (h FrameHeader) SetState(s FrameState) {
	binary.LittleEndian.PutUint32(h.b[hdrOffFrameState:], uint32(s))
}

// StartTime returns the acquisition start timestamp recorded at buffer
// creation.
func (h FrameHeader) StartTime() time.Time {
	sec := int64(binary.LittleEndian.Uint64(h.b[hdrOffStartTimeSec:]))
	nsec := int64(binary.LittleEndian.Uint64(h.b[hdrOffStartTimeNsec:]))
	return time.Unix(sec, nsec)
}

// TotalPacketsReceived returns the aggregate packet count across all FEMs.
func (h FrameHeader) TotalPacketsReceived() uint32 {
	return binary.LittleEndian.Uint32(h.b[hdrOffTotalPackets:])
}

func (h FrameHeader) setTotalPacketsReceived(n uint32) {
	binary.LittleEndian.PutUint32(h.b[hdrOffTotalPackets:], n)
}

// TotalSOFMarkerCount returns the aggregate SOF marker count (saturating).
func (h FrameHeader) TotalSOFMarkerCount() uint8 { return h.b[hdrOffTotalSOF] }

// TotalEOFMarkerCount returns the aggregate EOF marker count (saturating).
func (h FrameHeader) TotalEOFMarkerCount() uint8 { return h.b[hdrOffTotalEOF] }

func (h FrameHeader) addTotalSOFMarker() {
	if h.b[hdrOffTotalSOF] < 0xFF {
		h.b[hdrOffTotalSOF]++
	}
}

func (h FrameHeader) addTotalEOFMarker() {
	if h.b[hdrOffTotalEOF] < 0xFF {
		h.b[hdrOffTotalEOF]++
	}
}

// NumActiveFems returns the number of FEMs that have contributed at least one
// packet to this frame.
func (h FrameHeader) NumActiveFems() int { return int(h.b[hdrOffNumActiveFems]) }

// ActiveFemIdx returns the physical FEM index occupying active slot i.
func (h FrameHeader) ActiveFemIdx(i int) int {
	return int(h.b[hdrOffActiveFemIdx+i])
}

// FemSlot returns the active slot occupied by physical FEM femIdx, or -1 if
// the FEM has not contributed to this frame.
func (h FrameHeader) FemSlot(femIdx int) int {
	for i := 0; i < h.NumActiveFems(); i++ {
		if h.ActiveFemIdx(i) == femIdx {
			return i
		}
	}
	return -1
}

// AddActiveFem registers a newly active physical FEM and returns its active
// slot. Returns -1 if the active FEM list is full.
func (h FrameHeader) AddActiveFem(femIdx int) int {
	n := h.NumActiveFems()
	if n >= MaxNumFems {
		return -1
	}
	h.b[hdrOffActiveFemIdx+n] = uint8(femIdx)
	h.b[hdrOffNumActiveFems] = uint8(n + 1)
	return n
}

func (h FrameHeader) femStateBytes(slot int) []byte {
	off := hdrOffFemState + slot*femStateSize
	return h.b[off : off+femStateSize]
}

// Fem returns the receive state view for an active FEM slot.
func (h FrameHeader) Fem(slot int) FemState {
	return FemState{b: h.femStateBytes(slot)}
}

// FemState is a view over one FEM's receive state within the frame header.
// Its packet_state table is the single source of truth the reconstruction
// stage uses to locate or zero-fill each pixel run.
type FemState struct {
	b []byte
}

// PacketsReceived returns the packet count for this FEM.
func (f FemState) PacketsReceived() uint32 {
	return binary.LittleEndian.Uint32(f.b[0:4])
}

func (f FemState) setPacketsReceived(n uint32) {
	binary.LittleEndian.PutUint32(f.b[0:4], n)
}

// SOFMarkerCount returns the saturating SOF marker count for this FEM.
func (f FemState) SOFMarkerCount() uint8 { return f.b[4] }

// EOFMarkerCount returns the saturating EOF marker count for this FEM.
func (f FemState) EOFMarkerCount() uint8 { return f.b[5] }

func (f FemState) addSOFMarker() {
	if f.b[4] < 0xFF {
		f.b[4]++
	}
}

func (f FemState) addEOFMarker() {
	if f.b[5] < 0xFF {
		f.b[5]++
	}
}

// PacketSlot returns the buffer slot recorded for a logical packet index, or
// PacketSlotMissing if the packet was never received.
func (f FemState) PacketSlot(packetNumber int) uint16 {
	return binary.LittleEndian.Uint16(f.b[6+2*packetNumber:])
}

func (f FemState) setPacketSlot(packetNumber int, slot uint16) {
	binary.LittleEndian.PutUint16(f.b[6+2*packetNumber:], slot)
}
