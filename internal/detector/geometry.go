package detector

// Detector geometry is fixed per detector generation: each FEM reads out one
// stripe of the supermodule, a rectangular grid of ASICs, each ASIC a
// rectangular grid of pixels. The readout order is bottom-up, so the
// reordering stage traverses pixel and ASIC rows in reverse to recover the
// physical top-to-bottom orientation.
const (
	// NumAsicRows and NumAsicCols describe the ASIC grid within one stripe.
	NumAsicRows = 8
	NumAsicCols = 16

	// NumPixelRowsPerAsic and NumPixelColsPerAsic describe the pixel grid
	// within one ASIC.
	NumPixelRowsPerAsic = 32
	NumPixelColsPerAsic = 16

	// StripeHeight and StripeWidth are the per-stripe sub-image dimensions
	// in pixels.
	StripeHeight = NumAsicRows * NumPixelRowsPerAsic
	StripeWidth  = NumAsicCols * NumPixelColsPerAsic

	// StripePixels is the number of 16-bit samples in one stripe sub-image.
	StripePixels = StripeHeight * StripeWidth

	// ImageDataHeaderSize is the fixed image-data header at the head of each
	// FEM's per-frame pixel stream (start of logical packet 0). It is skipped
	// when computing input offsets: the per-FEM payload of 320*8184+3464
	// bytes carries exactly this header plus NumImages*StripePixels 16-bit
	// samples.
	ImageDataHeaderSize = 904
)

// StripeIsEven reports the stripe orientation for a physical FEM index.
// Orientation is computed and logged for diagnostics; the reordering offsets
// do not currently apply a mirroring transform (supermodule placement travels
// with the emitted image instead).
func StripeIsEven(femIdx int) bool {
	return femIdx&1 == 0
}

// StripeRowOffset returns the row offset of a FEM's stripe within the full
// supermodule image.
func StripeRowOffset(femIdx int) int {
	return femIdx * StripeHeight
}
