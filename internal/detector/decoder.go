package detector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/arclight-data/frame.capture/internal/monitoring"
	"github.com/arclight-data/frame.capture/internal/timeutil"
)

// FrameHandler consumes completed frames. It runs on the decoder's
// serialised handoff worker; the frame buffer is released back to the pool
// when the handler returns.
type FrameHandler func(*Frame)

// Decoder turns an unordered, lossy stream of UDP packets into frame buffers
// whose completeness and loss statistics are precisely known. All packet
// processing happens on the caller's goroutine (the socket reader); the
// staleness sweep runs on its own timer and excludes packet writes per
// buffer through the decoder mutex.
type Decoder struct {
	cfg     Config
	pool    BufferPool
	stats   *DecoderStats
	clock   timeutil.Clock
	handler FrameHandler

	frameCh   chan *Frame
	frameDone chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	frames   map[uint32]*inflightFrame
	latest   uint32 // highest frame number seen so far
	anySeen  bool
	closed   bool
}

type inflightFrame struct {
	frame     *Frame
	firstSeen time.Time
}

// DecoderConfig wires a Decoder's collaborators.
type DecoderConfig struct {
	Config  Config
	Pool    BufferPool
	Stats   *DecoderStats  // optional; a fresh instance is created when nil
	Clock   timeutil.Clock // optional; defaults to the real clock
	Handler FrameHandler   // optional; completed frames are dropped when nil
}

// NewDecoder creates a Decoder and starts its serialised frame handoff
// worker. Close must be called to flush held buffers and stop the worker.
func NewDecoder(dc DecoderConfig) *Decoder {
	stats := dc.Stats
	if stats == nil {
		stats = NewDecoderStats()
	}
	var clock timeutil.Clock = timeutil.RealClock{}
	if dc.Clock != nil {
		clock = dc.Clock
	}

	d := &Decoder{
		cfg:       dc.Config,
		pool:      dc.Pool,
		stats:     stats,
		clock:     clock,
		handler:   dc.Handler,
		frameCh:   make(chan *Frame, 4),
		frameDone: make(chan struct{}),
		frames:    make(map[uint32]*inflightFrame),
	}
	go d.handoffWorker()
	return d
}

// Stats returns the decoder's statistics collector.
func (d *Decoder) Stats() *DecoderStats {
	return d.stats
}

// handoffWorker delivers completed frames one at a time and releases each
// buffer back to the pool afterwards. Serialising here keeps the
// reconstruction stage free of shared mutable state with the decoder.
func (d *Decoder) handoffWorker() {
	defer close(d.frameDone)
	for frame := range d.frameCh {
		if d.handler != nil {
			d.handler(frame)
		}
		d.pool.Release(frame.BufferID)
	}
}

// ProcessPacket classifies one received datagram (payload plus trailer) and
// writes it into the frame buffer it belongs to. port identifies the socket
// the datagram arrived on and resolves, via the configured port map, to a
// physical FEM index.
//
// Malformed datagrams and packets from unmapped ports are counted and
// dropped without touching frame state. The only error returned is buffer
// pool exhaustion, which is recoverable: the packet is dropped and decoding
// resumes with the next arrival once a buffer frees up.
func (d *Decoder) ProcessPacket(datagram []byte, port int) error {
	trailer, payload, err := ParseTrailer(datagram)
	if err != nil {
		d.stats.AddIgnored()
		debugf("ignoring malformed datagram on port %d: %v", port, err)
		return nil
	}

	femIdx, ok := d.cfg.FemPortMap[port]
	if !ok {
		d.stats.AddIgnored()
		monitoring.Logf("Ignoring packet from unmapped port %d", port)
		return nil
	}

	pktNum := int(trailer.PacketNumber())
	if pktNum >= femPacketStateEntries {
		d.stats.AddIgnored()
		monitoring.Logf("Ignoring packet %d outside frame range (frame %d, FEM %d)",
			pktNum, trailer.FrameNumber, femIdx)
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}

	inf, err := d.frameFor(trailer.FrameNumber)
	if err != nil {
		return err
	}
	if inf == nil {
		// Late packet for a frame already flushed.
		d.stats.AddIgnored()
		debugf("ignoring late packet %d for flushed frame %d", pktNum, trailer.FrameNumber)
		return nil
	}

	d.stats.AddPacket(len(datagram))
	hdr := inf.frame.Header()

	femSlot := hdr.FemSlot(femIdx)
	if femSlot < 0 {
		femSlot = hdr.AddActiveFem(femIdx)
		if femSlot < 0 {
			d.stats.AddIgnored()
			monitoring.Logf("Frame %d already has %d active FEMs, ignoring packet from FEM %d",
				trailer.FrameNumber, MaxNumFems, femIdx)
			return nil
		}
		debugf("frame %d: FEM %d active in slot %d", trailer.FrameNumber, femIdx, femSlot)
	}

	fem := hdr.Fem(femSlot)
	slot := fem.PacketSlot(pktNum)
	duplicate := slot != PacketSlotMissing
	if duplicate {
		d.stats.AddDuplicate()
	} else {
		// Payload slots are assigned in per-FEM arrival order; packet_state
		// records where each logical packet landed.
		slot = uint16(fem.PacketsReceived())
		fem.setPacketSlot(pktNum, slot)
	}

	dst := inf.frame.FemData(femSlot)[int(slot)*PrimaryPacketSize:]
	copy(dst[:len(payload)], payload)

	if !duplicate {
		fem.setPacketsReceived(fem.PacketsReceived() + 1)
		hdr.setTotalPacketsReceived(hdr.TotalPacketsReceived() + 1)
	}
	if trailer.StartOfFrame() {
		fem.addSOFMarker()
		hdr.addTotalSOFMarker()
	}
	if trailer.EndOfFrame() {
		fem.addEOFMarker()
		hdr.addTotalEOFMarker()
	}

	if hdr.State() == FrameStateEmpty {
		hdr.SetState(FrameStateReceiving)
	}

	if d.frameComplete(hdr) {
		d.finalizeLocked(inf, FrameStateComplete)
	}
	return nil
}

// frameFor locates or creates the in-flight frame for a frame number. A nil
// frame with nil error means the packet belongs to an already flushed frame
// and must be ignored. Creating a strictly newer frame force-flushes any
// older frame still receiving, before the new frame is started, so its
// buffer can be recycled under pool pressure.
func (d *Decoder) frameFor(frameNumber uint32) (*inflightFrame, error) {
	if inf, ok := d.frames[frameNumber]; ok {
		return inf, nil
	}
	if d.anySeen && frameNumber <= d.latest {
		// Not in flight and not newer than anything seen: the frame was
		// already flushed.
		return nil, nil
	}
	if d.anySeen {
		d.flushOlderLocked(frameNumber)
	}

	id, buf, err := d.pool.Acquire(MaxFrameSize)
	if err != nil {
		d.stats.AddDropped()
		return nil, fmt.Errorf("cannot start frame %d: %w", frameNumber, err)
	}
	inf := &inflightFrame{
		frame:     &Frame{BufferID: id, Data: buf[:MaxFrameSize]},
		firstSeen: d.clock.Now(),
	}
	hdr := inf.frame.Header()
	hdr.Init(frameNumber, d.clock.Now())
	hdr.SetState(FrameStateEmpty)
	d.frames[frameNumber] = inf
	if !d.anySeen || frameNumber > d.latest {
		d.latest = frameNumber
		d.anySeen = true
	}
	debugf("frame %d: buffer %d acquired", frameNumber, id)
	return inf, nil
}

// flushOlderLocked force-flushes every in-flight frame older than
// frameNumber as complete-with-loss.
func (d *Decoder) flushOlderLocked(frameNumber uint32) {
	for fn, inf := range d.frames {
		if fn < frameNumber {
			monitoring.Logf("Frame %d still receiving when frame %d started, flushing with loss",
				fn, frameNumber)
			d.finalizeLocked(inf, FrameStateCompleteWithLoss)
		}
	}
}

// frameComplete reports whether every configured FEM has delivered its full
// packet complement with the end-of-frame marker observed. Judging against
// the configured FEM count rather than the FEMs seen so far keeps a frame
// open when one FEM's stream runs ahead of another's.
func (d *Decoder) frameComplete(hdr FrameHeader) bool {
	if hdr.NumActiveFems() < d.cfg.NumFems() {
		return false
	}
	expectedPerFem := uint32(d.cfg.BitDepth.PacketsPerFem())
	for i := 0; i < hdr.NumActiveFems(); i++ {
		fem := hdr.Fem(i)
		if fem.PacketsReceived() < expectedPerFem || fem.EOFMarkerCount() == 0 {
			return false
		}
	}
	return true
}

// finalizeLocked moves a frame to a terminal state and hands it to the
// worker. The decoder performs no further writes to the buffer afterwards.
func (d *Decoder) finalizeLocked(inf *inflightFrame, state FrameState) {
	hdr := inf.frame.Header()
	hdr.SetState(state)
	delete(d.frames, hdr.FrameNumber())

	var femLost [MaxNumFems]uint64
	withLoss := state == FrameStateCompleteWithLoss
	if withLoss {
		// Every configured FEM owes a full complement; one that never sent a
		// packet lost all of them.
		expectedPerFem := uint64(d.cfg.BitDepth.PacketsPerFem())
		for _, femIdx := range d.cfg.FemIndices() {
			var received uint64
			if slot := hdr.FemSlot(femIdx); slot >= 0 {
				received = uint64(hdr.Fem(slot).PacketsReceived())
			}
			if received < expectedPerFem {
				femLost[femIdx] = expectedPerFem - received
			}
		}
	}
	d.stats.AddFrame(withLoss, femLost)

	debugf("frame %d finalized: state=%s packets=%d sof=%d eof=%d fems=%d",
		hdr.FrameNumber(), state, hdr.TotalPacketsReceived(),
		hdr.TotalSOFMarkerCount(), hdr.TotalEOFMarkerCount(), hdr.NumActiveFems())

	// Blocking send: a slow reconstruction stage backpressures the decoder
	// rather than leaking or dropping a held buffer.
	d.frameCh <- inf.frame
}

// SweepStaleFrames force-flushes any in-flight frame older than the
// configured frame timeout. It covers the case where a frame's final packets
// never arrive and no newer frame ever starts.
func (d *Decoder) SweepStaleFrames() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	for fn, inf := range d.frames {
		age := d.clock.Since(inf.firstSeen)
		if age >= d.cfg.FrameTimeout {
			monitoring.Logf("Frame %d stale after %v, flushing with loss", fn, age)
			d.finalizeLocked(inf, FrameStateCompleteWithLoss)
		}
	}
}

// StartSweeper runs the periodic staleness sweep until ctx is cancelled.
func (d *Decoder) StartSweeper(ctx context.Context) {
	interval := d.cfg.FrameTimeout / 2
	if interval <= 0 {
		interval = DefaultFrameTimeout / 2
	}
	ticker := d.clock.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C():
				d.SweepStaleFrames()
			}
		}
	}()
}

// InFlight returns the number of frames currently being assembled.
func (d *Decoder) InFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.frames)
}

// Close releases every buffer still held by the decoder back to the pool,
// stops the handoff worker, and waits for queued frames to drain. In-flight
// frames at shutdown are released without reconstruction.
func (d *Decoder) Close() {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		held := make([]*inflightFrame, 0, len(d.frames))
		for fn, inf := range d.frames {
			held = append(held, inf)
			delete(d.frames, fn)
		}
		d.mu.Unlock()

		for _, inf := range held {
			debugf("releasing in-flight frame %d at shutdown", inf.frame.Header().FrameNumber())
			d.pool.Release(inf.frame.BufferID)
		}
		close(d.frameCh)
		<-d.frameDone
	})
}
