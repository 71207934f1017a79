package detector

// Frame is a completed frame buffer in flight between the decoder and the
// reconstruction stage. Ownership transfers exactly once: the decoder stops
// mutating the buffer the moment the frame reaches a terminal state, and the
// buffer returns to its pool only after reconstruction finishes.
type Frame struct {
	// BufferID identifies the underlying pool buffer.
	BufferID int

	// Data is the full frame buffer: packed header followed by per-FEM
	// payload regions.
	Data []byte
}

// Header returns the packed header view at the head of the buffer.
func (f *Frame) Header() FrameHeader {
	return HeaderView(f.Data)
}

// FemData returns the payload region for an active FEM slot. Slots within
// the region are strided by the primary packet size.
func (f *Frame) FemData(slot int) []byte {
	off := FrameHeaderSize + slot*FemFrameDataSize
	return f.Data[off : off+FemFrameDataSize]
}
