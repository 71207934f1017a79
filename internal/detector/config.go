package detector

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Defaults matching the single-FEM bench configuration.
const (
	DefaultFemPortMap   = "61649:0"
	DefaultImageWidth   = StripeWidth
	DefaultImageHeight  = StripeHeight
	DefaultNumImages    = 20
	DefaultFrameTimeout = time.Second
)

// Config carries the process-wide acquisition parameters. It is parsed and
// validated once at startup and passed immutably into both the decoder and
// the reconstructor.
type Config struct {
	// BitDepth selects packet sizing for the acquisition.
	BitDepth BitDepth

	// FemPortMap maps a UDP receive port to the physical FEM index streaming
	// on it.
	FemPortMap map[int]int

	// ImageWidth and ImageHeight are the output sub-image dimensions in
	// pixels. They must match the stripe geometry of the detector.
	ImageWidth  int
	ImageHeight int

	// NumImages is the number of sub-images carried per frame.
	NumImages int

	// InitialPacketsLost seeds the cumulative lost-packet counter, letting a
	// restarted process continue an acquisition's accounting.
	InitialPacketsLost uint64

	// FrameTimeout is the staleness threshold: a RECEIVING frame older than
	// this is force-flushed as complete-with-loss by the periodic sweep.
	FrameTimeout time.Duration

	// BlockOnPoolExhausted selects the buffer-pool acquisition policy: block
	// with backpressure when true, fail fast and drop the packet when false.
	BlockOnPoolExhausted bool
}

// ParseFemPortMap parses a "port:fem_index" pair list, e.g. "61649:0,61650:1".
func ParseFemPortMap(s string) (map[int]int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, fmt.Errorf("empty FEM port map")
	}
	m := make(map[int]int)
	for _, entry := range strings.Split(s, ",") {
		parts := strings.Split(strings.TrimSpace(entry), ":")
		if len(parts) != 2 {
			return nil, fmt.Errorf("malformed FEM port map entry %q", entry)
		}
		port, err := strconv.Atoi(parts[0])
		if err != nil || port <= 0 || port > 65535 {
			return nil, fmt.Errorf("invalid port in FEM port map entry %q", entry)
		}
		femIdx, err := strconv.Atoi(parts[1])
		if err != nil || femIdx < 0 || femIdx >= MaxNumFems {
			return nil, fmt.Errorf("invalid FEM index in map entry %q (must be 0-%d)", entry, MaxNumFems-1)
		}
		if _, dup := m[port]; dup {
			return nil, fmt.Errorf("duplicate port %d in FEM port map", port)
		}
		m[port] = femIdx
	}
	return m, nil
}

// Validate checks the configuration. Configuration errors are the only fatal
// errors in the system, so they are reported before any socket is opened.
func (c *Config) Validate() error {
	if !c.BitDepth.Valid() {
		return fmt.Errorf("invalid bit depth %d", c.BitDepth)
	}
	if len(c.FemPortMap) == 0 {
		return fmt.Errorf("empty FEM port map")
	}
	for port, femIdx := range c.FemPortMap {
		if femIdx < 0 || femIdx >= MaxNumFems {
			return fmt.Errorf("FEM index %d for port %d out of range 0-%d", femIdx, port, MaxNumFems-1)
		}
	}
	if c.ImageWidth != StripeWidth || c.ImageHeight != StripeHeight {
		return fmt.Errorf("image dimensions %dx%d do not match stripe geometry %dx%d",
			c.ImageWidth, c.ImageHeight, StripeWidth, StripeHeight)
	}
	if c.NumImages <= 0 {
		return fmt.Errorf("number of images per frame must be positive, got %d", c.NumImages)
	}
	if c.FrameTimeout <= 0 {
		return fmt.Errorf("frame timeout must be positive, got %v", c.FrameTimeout)
	}
	return nil
}

// Ports returns the UDP receive ports of the FEM port map in ascending order.
func (c *Config) Ports() []int {
	ports := make([]int, 0, len(c.FemPortMap))
	for port := range c.FemPortMap {
		ports = append(ports, port)
	}
	sort.Ints(ports)
	return ports
}

// FemIndices returns the distinct FEM indices of the port map in ascending
// order.
func (c *Config) FemIndices() []int {
	seen := make(map[int]bool, len(c.FemPortMap))
	fems := make([]int, 0, len(c.FemPortMap))
	for _, femIdx := range c.FemPortMap {
		if !seen[femIdx] {
			seen[femIdx] = true
			fems = append(fems, femIdx)
		}
	}
	sort.Ints(fems)
	return fems
}

// NumFems returns the number of distinct FEMs in the port map. Frame
// completion and loss accounting are judged against this count, not against
// the FEMs that happen to have contributed packets so far.
func (c *Config) NumFems() int {
	return len(c.FemIndices())
}

// ExpectedPackets returns the expected packet count for a frame covering the
// given number of FEMs at the configured bit depth.
func (c *Config) ExpectedPackets(numFems int) int {
	return c.BitDepth.PacketsPerFem() * numFems
}
