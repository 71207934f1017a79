// Command femsim synthesises FEM detector traffic for testing the receiver
// without hardware. It generates complete per-FEM packet streams with valid
// trailers and a deterministic pixel pattern, and can drop packets or send
// them in reverse order to exercise the loss and reordering paths.
package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net"
	"time"

	"github.com/arclight-data/frame.capture/internal/detector"
)

var (
	host       = flag.String("host", "127.0.0.1", "receiver host")
	femPortMap = flag.String("fem-port-map", detector.DefaultFemPortMap, "port:fem_index pairs, comma separated")
	bitDepth   = flag.String("bit-depth", "12", "ASIC counter bit depth (1, 6, 12, 24)")
	numImages  = flag.Int("num-images", detector.DefaultNumImages, "Sub-images per frame")
	frames     = flag.Int("n", 10, "Number of frames to send")
	firstFrame = flag.Int("first-frame", 1, "Frame number of the first frame")
	dropEvery  = flag.Int("drop-every", 0, "Randomly drop about one in N packets (0 disables)")
	reverse    = flag.Bool("reverse", false, "Send each FEM's packets in reverse order")
	interval   = flag.Duration("interval", 100*time.Millisecond, "Delay between frames")
	gap        = flag.Duration("gap", 0, "Delay between packets")
	seed       = flag.Int64("seed", 1, "Seed for the drop selector")
)

func main() {
	flag.Parse()

	depth, err := detector.ParseBitDepth(*bitDepth)
	if err != nil {
		log.Fatalf("Invalid bit depth: %v", err)
	}
	portMap, err := detector.ParseFemPortMap(*femPortMap)
	if err != nil {
		log.Fatalf("Invalid FEM port map: %v", err)
	}

	conns := make(map[int]*net.UDPConn, len(portMap))
	for port, femIdx := range portMap {
		addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", *host, port))
		if err != nil {
			log.Fatalf("Failed to resolve %s:%d: %v", *host, port, err)
		}
		conn, err := net.DialUDP("udp", nil, addr)
		if err != nil {
			log.Fatalf("Failed to dial FEM %d port %d: %v", femIdx, port, err)
		}
		defer conn.Close()
		conns[femIdx] = conn
	}

	wireLen := depth.NumPrimaryPackets()*detector.PrimaryPacketSize + detector.NumTailPackets*depth.TailPacketSize()
	streamLen := detector.ImageDataHeaderSize + *numImages*detector.StripePixels*2
	if streamLen != wireLen {
		log.Fatalf("%d images/frame does not fill the %d-byte packet stream (needs %d bytes)",
			*numImages, wireLen, streamLen)
	}

	rng := rand.New(rand.NewSource(*seed))
	sent, dropped := 0, 0

	log.Printf("Sending %d frames to %d FEM streams (bit depth %s, %d images/frame)",
		*frames, len(conns), depth, *numImages)

	for f := 0; f < *frames; f++ {
		frameNumber := uint32(*firstFrame + f)
		for femIdx, conn := range conns {
			packets := buildFemPackets(frameNumber, femIdx, depth, *numImages)
			if *reverse {
				for i, j := 0, len(packets)-1; i < j; i, j = i+1, j-1 {
					packets[i], packets[j] = packets[j], packets[i]
				}
			}
			for _, pkt := range packets {
				if *dropEvery > 0 && rng.Intn(*dropEvery) == 0 {
					dropped++
					continue
				}
				if _, err := conn.Write(pkt); err != nil {
					log.Fatalf("Failed to send packet for FEM %d: %v", femIdx, err)
				}
				sent++
				if *gap > 0 {
					time.Sleep(*gap)
				}
			}
		}
		if (f+1)%10 == 0 {
			log.Printf("%d/%d frames", f+1, *frames)
		}
		time.Sleep(*interval)
	}

	log.Printf("Done: %d packets sent, %d dropped", sent, dropped)
}

// buildFemPackets generates one FEM's complete packet sequence for a frame:
// the image-data header plus a deterministic pixel ramp, segmented into
// primary packets and the tail packet, each with a wire trailer. SOF is set
// on the first packet and EOF on the last.
func buildFemPackets(frameNumber uint32, femIdx int, depth detector.BitDepth, numImages int) [][]byte {
	streamLen := detector.ImageDataHeaderSize + numImages*detector.StripePixels*2
	stream := make([]byte, streamLen)
	for w := 0; w < (streamLen-detector.ImageDataHeaderSize)/2; w++ {
		v := pixelValue(frameNumber, femIdx, w)
		off := detector.ImageDataHeaderSize + 2*w
		stream[off] = byte(v)
		stream[off+1] = byte(v >> 8)
	}

	total := depth.PacketsPerFem()
	packets := make([][]byte, 0, total)
	off := 0
	for p := 0; p < total; p++ {
		size := detector.PrimaryPacketSize
		if p >= depth.NumPrimaryPackets() {
			size = depth.TailPacketSize()
		}
		payload := make([]byte, 0, size+detector.PacketTrailerSize)
		payload = append(payload, stream[off:off+size]...)
		off += size
		sof := p == 0
		eof := p == total-1
		packets = append(packets, detector.AppendTrailer(payload, frameNumber, uint32(p), sof, eof))
	}
	return packets
}

// pixelValue is the deterministic test pattern: a per-frame, per-FEM ramp
// that a receiver-side check can regenerate and compare against.
func pixelValue(frameNumber uint32, femIdx, wordIdx int) uint16 {
	return uint16(uint32(wordIdx)+frameNumber*7+uint32(femIdx)*13) & 0x0FFF
}
