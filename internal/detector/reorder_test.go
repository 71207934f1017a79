package detector

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arclight-data/frame.capture/internal/timeutil"
)

// runPipeline feeds datagrams through a decoder wired to a reconstructor and
// returns once every completed frame has been reordered into sink. Frames
// still incomplete after feed runs are flushed by the staleness sweep.
func runPipeline(t *testing.T, cfg Config, sink FrameSink, loss *LossCounter, feed func(d *Decoder)) {
	t.Helper()
	clock := timeutil.NewMockClock(time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC))
	pool := NewSlabPool(2, MaxFrameSize, false)
	recon := NewReconstructor(cfg, sink, loss)
	d := NewDecoder(DecoderConfig{
		Config: cfg,
		Pool:   pool,
		Clock:  clock,
		// Runs on the decoder's handoff goroutine, so no require here.
		Handler: func(f *Frame) {
			assert.NoError(t, recon.ProcessFrame(f))
		},
	})
	feed(d)
	clock.Advance(2 * cfg.FrameTimeout)
	d.SweepStaleFrames()
	d.Close()
}

func samplesOf(data []byte) []uint16 {
	out := make([]uint16, len(data)/2)
	for i := range out {
		out[i] = binary.LittleEndian.Uint16(data[2*i:])
	}
	return out
}

func TestReconstructor_EmitsAllDatasets(t *testing.T) {
	cfg := testConfig()
	sink := &CaptureSink{}
	loss := NewLossCounter(0)
	runPipeline(t, cfg, sink, loss, func(d *Decoder) {
		sendAll(t, d, femDatagrams(buildFemStream(1, 0, cfg.BitDepth), 1, cfg.BitDepth), testPortFem0)
	})

	data := sink.Dataset("data")
	imgNum := sink.Dataset("img_num")
	frameNum := sink.Dataset("frame_num")
	require.Len(t, data, cfg.NumImages)
	require.Len(t, imgNum, cfg.NumImages)
	require.Len(t, frameNum, cfg.NumImages)

	for i := 0; i < cfg.NumImages; i++ {
		assert.Equal(t, []int{StripeHeight, StripeWidth}, data[i].Dims)
		assert.Len(t, data[i].Data, StripePixels*2)
		assert.Equal(t, int64(i), data[i].FrameNumber, "image counter")

		assert.Equal(t, []int{1}, imgNum[i].Dims)
		assert.Equal(t, uint32(i), binary.LittleEndian.Uint32(imgNum[i].Data))
		assert.Equal(t, data[i].FrameNumber, imgNum[i].FrameNumber)

		assert.Equal(t, uint32(1), binary.LittleEndian.Uint32(frameNum[i].Data))
		assert.Equal(t, data[i].FrameNumber, frameNum[i].FrameNumber)
	}
	assert.Equal(t, uint64(0), loss.Total())
}

func TestReconstructor_PixelOrientation(t *testing.T) {
	cfg := testConfig()
	sink := &CaptureSink{}
	runPipeline(t, cfg, sink, NewLossCounter(0), func(d *Decoder) {
		sendAll(t, d, femDatagrams(buildFemStream(1, 0, cfg.BitDepth), 1, cfg.BitDepth), testPortFem0)
	})

	data := sink.Dataset("data")
	require.Len(t, data, cfg.NumImages)

	pixelAt := func(img SinkPush, row, col int) uint16 {
		return binary.LittleEndian.Uint16(img.Data[(row*StripeWidth+col)*2:])
	}

	// The readout stream is bottom-up: the first word of each image lands in
	// the bottom-left ASIC's top pixel row, which is image row 255, column 0.
	first := data[0]
	assert.Equal(t, testPixel(1, 0, 0), pixelAt(first, 255, 0))
	// The second word belongs to the next ASIC column over.
	assert.Equal(t, testPixel(1, 0, 1), pixelAt(first, 255, 16))
	// After all 16 ASIC columns the traversal steps up one ASIC row.
	assert.Equal(t, testPixel(1, 0, 16), pixelAt(first, 223, 0))

	// Each image consumes exactly one stripe's worth of stream words.
	for k := 0; k < cfg.NumImages; k++ {
		assert.Equal(t, testPixel(1, 0, k*StripePixels), pixelAt(data[k], 255, 0), "image %d", k)
	}
}

func TestReconstructor_ArrivalOrderInvariant(t *testing.T) {
	cfg := testConfig()
	datagrams := femDatagrams(buildFemStream(1, 0, cfg.BitDepth), 1, cfg.BitDepth)

	inOrder := &CaptureSink{}
	runPipeline(t, cfg, inOrder, NewLossCounter(0), func(d *Decoder) {
		sendAll(t, d, datagrams, testPortFem0)
	})

	reversed := &CaptureSink{}
	runPipeline(t, cfg, reversed, NewLossCounter(0), func(d *Decoder) {
		for i := len(datagrams) - 1; i >= 0; i-- {
			require.NoError(t, d.ProcessPacket(datagrams[i], testPortFem0))
		}
	})

	if diff := cmp.Diff(inOrder.Pushes(), reversed.Pushes()); diff != "" {
		t.Errorf("reversed delivery changed output (-in-order +reversed):\n%s", diff)
	}
}

func TestReconstructor_ReorderIsReadOnly(t *testing.T) {
	cfg := testConfig()
	first := &CaptureSink{}
	second := &CaptureSink{}
	clock := timeutil.NewMockClock(time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC))
	pool := NewSlabPool(2, MaxFrameSize, false)

	// Two independent reconstructors over the same frame buffer: the second
	// pass must see untouched input and produce identical output.
	reconA := NewReconstructor(cfg, first, NewLossCounter(0))
	reconB := NewReconstructor(cfg, second, NewLossCounter(0))
	d := NewDecoder(DecoderConfig{
		Config: cfg,
		Pool:   pool,
		Clock:  clock,
		Handler: func(f *Frame) {
			assert.NoError(t, reconA.ProcessFrame(f))
			assert.NoError(t, reconB.ProcessFrame(f))
		},
	})
	sendAll(t, d, femDatagrams(buildFemStream(1, 0, cfg.BitDepth), 1, cfg.BitDepth), testPortFem0)
	d.Close()

	if diff := cmp.Diff(first.Pushes(), second.Pushes()); diff != "" {
		t.Errorf("second reorder pass diverged (-first +second):\n%s", diff)
	}
	require.NotEmpty(t, first.Pushes())
}

func TestReconstructor_MissingPacketZeroFilled(t *testing.T) {
	cfg := testConfig()
	const droppedPacket = 5
	datagrams := femDatagrams(buildFemStream(1, 0, cfg.BitDepth), 1, cfg.BitDepth)

	full := &CaptureSink{}
	runPipeline(t, cfg, full, NewLossCounter(0), func(d *Decoder) {
		sendAll(t, d, datagrams, testPortFem0)
	})

	lossy := &CaptureSink{}
	loss := NewLossCounter(0)
	runPipeline(t, cfg, lossy, loss, func(d *Decoder) {
		for i, dg := range datagrams {
			if i == droppedPacket {
				continue
			}
			require.NoError(t, d.ProcessPacket(dg, testPortFem0))
		}
	})
	assert.Equal(t, uint64(1), loss.Total())

	var fullWords, lossyWords []uint16
	for _, p := range full.Dataset("data") {
		fullWords = append(fullWords, samplesOf(p.Data)...)
	}
	for _, p := range lossy.Dataset("data") {
		lossyWords = append(lossyWords, samplesOf(p.Data)...)
	}
	require.Equal(t, len(fullWords), len(lossyWords))

	// The dropped primary packet carries exactly PrimaryPacketSize/2 samples.
	// The pattern is never zero, so every one of them must show up as a
	// zeroed position, and nothing else may change.
	zeroed := 0
	for i := range fullWords {
		if lossyWords[i] == fullWords[i] {
			continue
		}
		require.Equal(t, uint16(0), lossyWords[i], "position %d rewritten, not zeroed", i)
		zeroed++
	}
	assert.Equal(t, PrimaryPacketSize/2, zeroed)
}

func TestReconstructor_TwoFemStripes(t *testing.T) {
	cfg := twoFemConfig()
	sink := &CaptureSink{}
	runPipeline(t, cfg, sink, NewLossCounter(0), func(d *Decoder) {
		sendAll(t, d, femDatagrams(buildFemStream(1, 0, cfg.BitDepth), 1, cfg.BitDepth), testPortFem0)
		sendAll(t, d, femDatagrams(buildFemStream(1, 1, cfg.BitDepth), 1, cfg.BitDepth), testPortFem1)
	})

	data := sink.Dataset("data")
	require.Len(t, data, 2*cfg.NumImages)

	// One monotonically increasing counter spans both stripes.
	for i, p := range data {
		assert.Equal(t, int64(i), p.FrameNumber)
	}

	// Stripes are emitted in FEM activation order: FEM 0's images first.
	fem0First := binary.LittleEndian.Uint16(data[0].Data[255*StripeWidth*2:])
	fem1First := binary.LittleEndian.Uint16(data[cfg.NumImages].Data[255*StripeWidth*2:])
	assert.Equal(t, testPixel(1, 0, 0), fem0First)
	assert.Equal(t, testPixel(1, 1, 0), fem1First)

	imgNum := sink.Dataset("img_num")
	require.Len(t, imgNum, 2*cfg.NumImages)
	for i, p := range imgNum {
		assert.Equal(t, uint32(i%cfg.NumImages), binary.LittleEndian.Uint32(p.Data))
	}
}

func TestReconstructor_SilentFemLossAccounted(t *testing.T) {
	cfg := twoFemConfig()
	sink := &CaptureSink{}
	loss := NewLossCounter(0)
	// Only FEM 0 delivers; the frame is flushed by the staleness sweep and
	// the silent FEM's full complement must show up in the loss total.
	runPipeline(t, cfg, sink, loss, func(d *Decoder) {
		sendAll(t, d, femDatagrams(buildFemStream(1, 0, cfg.BitDepth), 1, cfg.BitDepth), testPortFem0)
	})

	assert.Equal(t, uint64(321), loss.Total())
	assert.Len(t, sink.Dataset("data"), cfg.NumImages)
}
