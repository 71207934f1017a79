package detector

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/arclight-data/frame.capture/internal/monitoring"
)

// Reconstructor consumes completed frame buffers and scatters their per-FEM
// packet data into reordered stripe images, one output image per sub-image
// index per active FEM stripe, substituting zero for any packet recorded as
// missing. It runs on the decoder's handoff worker; the frame buffer is
// read-only from its perspective.
type Reconstructor struct {
	cfg  Config
	sink FrameSink
	loss *LossCounter

	mu           sync.Mutex
	imageCounter int64
}

// NewReconstructor creates a Reconstructor emitting to sink and adding newly
// observed packet loss to loss.
func NewReconstructor(cfg Config, sink FrameSink, loss *LossCounter) *Reconstructor {
	return &Reconstructor{cfg: cfg, sink: sink, loss: loss}
}

// ProcessFrame reorders one completed frame. A failure aborts reconstruction
// of this frame only; the caller logs and continues with the next frame.
func (r *Reconstructor) ProcessFrame(f *Frame) error {
	hdr := f.Header()
	r.accountLostPackets(hdr)

	debugf("reordering frame %d: state=%s packets=%d sof=%d eof=%d",
		hdr.FrameNumber(), hdr.State(), hdr.TotalPacketsReceived(),
		hdr.TotalSOFMarkerCount(), hdr.TotalEOFMarkerCount())

	numActive := hdr.NumActiveFems()
	imagePixels := r.cfg.ImageWidth * r.cfg.ImageHeight
	dims := []int{r.cfg.ImageHeight, r.cfg.ImageWidth}

	for slot := 0; slot < numActive; slot++ {
		femIdx := hdr.ActiveFemIdx(slot)
		fem := hdr.Fem(slot)
		input := f.FemData(slot)

		orientation := "odd"
		if StripeIsEven(femIdx) {
			orientation = "even"
		}
		debugf("frame %d: FEM %d (slot %d) stripe orientation %s, supermodule row offset %d",
			hdr.FrameNumber(), femIdx, slot, orientation, StripeRowOffset(femIdx))

		cur := newStreamCursor(fem, input, r.cfg.BitDepth)

		for img := 0; img < r.cfg.NumImages; img++ {
			out := make([]byte, imagePixels*2)
			r.scatterImage(out, &cur)

			counter := r.nextImageCounter()
			if err := r.sink.Push("data", counter, dims, out); err != nil {
				return fmt.Errorf("pushing data for frame %d image %d: %w", hdr.FrameNumber(), img, err)
			}

			var imgNum [4]byte
			binary.LittleEndian.PutUint32(imgNum[:], uint32(img))
			if err := r.sink.Push("img_num", counter, []int{1}, imgNum[:]); err != nil {
				return fmt.Errorf("pushing img_num for frame %d image %d: %w", hdr.FrameNumber(), img, err)
			}

			var frameNum [4]byte
			binary.LittleEndian.PutUint32(frameNum[:], hdr.FrameNumber())
			if err := r.sink.Push("frame_num", counter, []int{1}, frameNum[:]); err != nil {
				return fmt.Errorf("pushing frame_num for frame %d image %d: %w", hdr.FrameNumber(), img, err)
			}
		}
	}
	return nil
}

// scatterImage writes one sub-image. Pixel rows within an ASIC and ASIC rows
// are traversed last-to-first while columns run first-to-last, recovering the
// physical top-to-bottom, left-to-right orientation from the detector's
// bottom-up readout order.
func (r *Reconstructor) scatterImage(out []byte, cur *streamCursor) {
	for pixelRow := NumPixelRowsPerAsic - 1; pixelRow >= 0; pixelRow-- {
		for pixelCol := 0; pixelCol < NumPixelColsPerAsic; pixelCol++ {
			for asicRow := NumAsicRows - 1; asicRow >= 0; asicRow-- {
				imageRow := asicRow*NumPixelRowsPerAsic + pixelRow
				rowBase := imageRow * StripeWidth
				for asicCol := 0; asicCol < NumAsicCols; asicCol++ {
					imageCol := asicCol*NumPixelColsPerAsic + pixelCol
					binary.LittleEndian.PutUint16(out[(rowBase+imageCol)*2:], cur.next())
				}
			}
		}
	}
}

// accountLostPackets compares the received total against the packet count
// every configured FEM owes and adds the difference to the running
// lost-packet total. A configured FEM that never sent a packet counts as a
// full complement lost.
func (r *Reconstructor) accountLostPackets(hdr FrameHeader) {
	expected := uint32(r.cfg.ExpectedPackets(r.cfg.NumFems()))
	received := hdr.TotalPacketsReceived()
	debugf("frame %d: packets received %d out of a maximum %d",
		hdr.FrameNumber(), received, expected)
	if received < expected {
		lost := uint64(expected - received)
		r.loss.Add(lost)
		monitoring.Logf("Frame %d has dropped %d packets (total lost since startup %d)",
			hdr.FrameNumber(), lost, r.loss.Total())
	}
}

func (r *Reconstructor) nextImageCounter() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.imageCounter
	r.imageCounter++
	return n
}

// streamCursor walks one FEM's logical pixel stream: the concatenation of
// its packets in packet-number order, with the image-data header at the head
// of packet 0 skipped. Each logical packet index resolves to a buffer slot
// through packet_state; a missing slot yields zero samples without reading
// input, so arrival order never affects output.
type streamCursor struct {
	fem      FemState
	input    []byte
	depth    BitDepth
	byteOff  int // position in the logical packet stream
	pktIdx   int
	pktStart int // logical offset where the current packet begins
	pktSize  int
	slotOff  int // byte offset of the resolved slot, -1 when missing
}

func newStreamCursor(fem FemState, input []byte, depth BitDepth) streamCursor {
	c := streamCursor{
		fem:     fem,
		input:   input,
		depth:   depth,
		byteOff: ImageDataHeaderSize,
		pktIdx:  -1,
	}
	c.advancePacket()
	return c
}

func (c *streamCursor) advancePacket() {
	c.pktIdx++
	if c.pktIdx > 0 {
		c.pktStart += c.pktSize
	}
	if c.pktIdx >= c.depth.NumPrimaryPackets() {
		c.pktSize = c.depth.TailPacketSize()
	} else {
		c.pktSize = PrimaryPacketSize
	}
	if c.pktIdx >= femPacketStateEntries {
		c.slotOff = -1
		return
	}
	slot := c.fem.PacketSlot(c.pktIdx)
	if slot == PacketSlotMissing {
		c.slotOff = -1
		debugf("packet %d missing, filling with 0", c.pktIdx)
		return
	}
	c.slotOff = int(slot) * PrimaryPacketSize
}

// next returns the 16-bit sample at the cursor and advances it.
func (c *streamCursor) next() uint16 {
	for c.byteOff >= c.pktStart+c.pktSize {
		c.advancePacket()
	}
	var v uint16
	if c.slotOff >= 0 {
		v = binary.LittleEndian.Uint16(c.input[c.slotOff+(c.byteOff-c.pktStart):])
	}
	c.byteOff += 2
	return v
}
