package detector

import "fmt"

// BitDepth selects the ASIC counter width for an acquisition. The depth
// determines the per-FEM packet count and packet sizes used to size frame
// buffers and drive the reordering stream cursor.
type BitDepth int

// Supported ASIC counter bit depths.
const (
	BitDepthUnknown BitDepth = iota - 1
	BitDepth1
	BitDepth6
	BitDepth12
	BitDepth24
)

// NumBitDepths is the number of supported counter depths.
const NumBitDepths = 4

var bitDepthNames = [NumBitDepths]string{"1", "6", "12", "24"}

// Per-depth packet geometry. The current detector generation streams the
// same packet layout at every depth; the tables are kept per-depth because
// the wire contract allows them to diverge.
var (
	numPrimaryPackets = [NumBitDepths]int{320, 320, 320, 320}
	tailPacketSizes   = [NumBitDepths]int{3464, 3464, 3464, 3464}
)

// ParseBitDepth converts a configuration string ("1", "6", "12", "24") to a
// BitDepth. Unrecognised values return BitDepthUnknown and an error.
func ParseBitDepth(s string) (BitDepth, error) {
	for i, name := range bitDepthNames {
		if s == name {
			return BitDepth(i), nil
		}
	}
	return BitDepthUnknown, fmt.Errorf("unknown bit depth %q (supported: 1, 6, 12, 24)", s)
}

// Valid reports whether b is one of the supported depths.
func (b BitDepth) Valid() bool {
	return b >= BitDepth1 && b < BitDepth(NumBitDepths)
}

func (b BitDepth) String() string {
	if !b.Valid() {
		return "unknown"
	}
	return bitDepthNames[b]
}

// NumPrimaryPackets returns the number of primary packets per FEM per frame.
func (b BitDepth) NumPrimaryPackets() int {
	if !b.Valid() {
		return 0
	}
	return numPrimaryPackets[b]
}

// TailPacketSize returns the payload size in bytes of the per-FEM tail packet.
func (b BitDepth) TailPacketSize() int {
	if !b.Valid() {
		return 0
	}
	return tailPacketSizes[b]
}

// PacketsPerFem returns the total expected packet count per FEM per frame.
func (b BitDepth) PacketsPerFem() int {
	if !b.Valid() {
		return 0
	}
	return b.NumPrimaryPackets() + NumTailPackets
}
