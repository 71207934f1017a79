package detector

import (
	"sync"
	"time"

	"github.com/arclight-data/frame.capture/internal/monitoring"
)

// DecoderStats tracks packet and frame statistics with thread-safe
// operations. Cumulative totals feed the status API; interval counters feed
// the periodic rate log line.
type DecoderStats struct {
	mu sync.Mutex

	totalPackets   int64
	totalBytes     int64
	totalIgnored   int64
	totalDropped   int64
	totalDuplicate int64
	framesDone     int64
	framesLossy    int64
	femPacketsLost [MaxNumFems]uint64

	intervalPackets int64
	intervalBytes   int64
	intervalIgnored int64
	lastReset       time.Time
}

// StatsSnapshot is a point-in-time copy of the decoder counters.
// PacketsReceived counts raw datagrams accepted into frames, including
// duplicates; PacketsDuplicate tells them apart.
type StatsSnapshot struct {
	PacketsReceived  int64              `json:"packets_received"`
	BytesReceived    int64              `json:"bytes_received"`
	PacketsIgnored   int64              `json:"packets_ignored"`
	PacketsDropped   int64              `json:"packets_dropped"`
	PacketsDuplicate int64              `json:"packets_duplicate"`
	FramesCompleted  int64              `json:"frames_completed"`
	FramesWithLoss   int64              `json:"frames_with_loss"`
	FemPacketsLost   [MaxNumFems]uint64 `json:"fem_packets_lost"`
}

// NewDecoderStats creates a new DecoderStats instance.
func NewDecoderStats() *DecoderStats {
	return &DecoderStats{lastReset: time.Now()}
}

// AddPacket records a successfully classified packet.
func (s *DecoderStats) AddPacket(bytes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalPackets++
	s.totalBytes += int64(bytes)
	s.intervalPackets++
	s.intervalBytes += int64(bytes)
}

// AddIgnored records a malformed or unroutable packet that was dropped.
func (s *DecoderStats) AddIgnored() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalIgnored++
	s.intervalIgnored++
}

// AddDropped records a packet dropped because no frame buffer was available.
func (s *DecoderStats) AddDropped() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalDropped++
}

// AddDuplicate records a packet whose packet number already had a slot in
// its frame. The packet still counts in AddPacket's raw totals.
func (s *DecoderStats) AddDuplicate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalDuplicate++
}

// AddFrame records a frame reaching a terminal state, with any per-FEM
// packet loss observed at flush time.
func (s *DecoderStats) AddFrame(withLoss bool, femLost [MaxNumFems]uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.framesDone++
	if withLoss {
		s.framesLossy++
	}
	for i, n := range femLost {
		s.femPacketsLost[i] += n
	}
}

// Snapshot returns a copy of the cumulative counters.
func (s *DecoderStats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StatsSnapshot{
		PacketsReceived:  s.totalPackets,
		BytesReceived:    s.totalBytes,
		PacketsIgnored:   s.totalIgnored,
		PacketsDropped:   s.totalDropped,
		PacketsDuplicate: s.totalDuplicate,
		FramesCompleted:  s.framesDone,
		FramesWithLoss:   s.framesLossy,
		FemPacketsLost:   s.femPacketsLost,
	}
}

// LogStats emits a rate line covering the interval since the previous call
// and resets the interval counters. Quiet intervals log nothing.
func (s *DecoderStats) LogStats() {
	s.mu.Lock()
	packets := s.intervalPackets
	bytes := s.intervalBytes
	ignored := s.intervalIgnored
	duration := time.Since(s.lastReset)
	s.intervalPackets = 0
	s.intervalBytes = 0
	s.intervalIgnored = 0
	s.lastReset = time.Now()
	s.mu.Unlock()

	if packets == 0 && ignored == 0 {
		return
	}
	packetsPerSec := float64(packets) / duration.Seconds()
	mbPerSec := float64(bytes) / duration.Seconds() / (1024 * 1024)
	if ignored > 0 {
		monitoring.Logf("Decoder stats (/sec): %.2f MB, %.1f packets, %d ignored this interval",
			mbPerSec, packetsPerSec, ignored)
		return
	}
	monitoring.Logf("Decoder stats (/sec): %.2f MB, %.1f packets", mbPerSec, packetsPerSec)
}

// LossCounter is the cumulative lost-packet total exposed through status
// reporting. It is seeded from configuration so a restarted process can
// continue an acquisition's accounting.
type LossCounter struct {
	mu    sync.Mutex
	total uint64
}

// NewLossCounter creates a counter seeded with an initial total.
func NewLossCounter(initial uint64) *LossCounter {
	return &LossCounter{total: initial}
}

// Add increments the cumulative total.
func (c *LossCounter) Add(n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.total += n
}

// Total returns the cumulative lost-packet count.
func (c *LossCounter) Total() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}
