//go:build pcap
// +build pcap

package network

import (
	"context"
	"fmt"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"github.com/arclight-data/frame.capture/internal/monitoring"
)

// ReplayPCAPFile reads detector packets from a capture file and feeds them
// to the handler, using each datagram's destination port to identify the FEM
// stream, exactly as the live listener would.
// This function is only available when building with the 'pcap' build tag.
func ReplayPCAPFile(ctx context.Context, pcapFile string, handler PacketHandler) error {
	handle, err := pcap.OpenOffline(pcapFile)
	if err != nil {
		return fmt.Errorf("failed to open PCAP file %s: %w", pcapFile, err)
	}
	defer handle.Close()

	if err := handle.SetBPFFilter("udp"); err != nil {
		return fmt.Errorf("failed to set BPF filter: %w", err)
	}

	packetSource := gopacket.NewPacketSource(handle, handle.LinkType())
	packetCount := 0
	startTime := time.Now()

	for {
		select {
		case <-ctx.Done():
			monitoring.Logf("PCAP replay stopping after %d packets", packetCount)
			return ctx.Err()
		case packet := <-packetSource.Packets():
			if packet == nil {
				monitoring.Logf("PCAP replay complete: %d packets in %v", packetCount, time.Since(startTime))
				return nil
			}

			udpLayer := packet.Layer(layers.LayerTypeUDP)
			if udpLayer == nil {
				continue
			}
			udp, ok := udpLayer.(*layers.UDP)
			if !ok || len(udp.Payload) == 0 {
				continue
			}

			packetCount++
			if err := handler.ProcessPacket(udp.Payload, int(udp.DstPort)); err != nil {
				monitoring.Logf("Error replaying packet %d: %v", packetCount, err)
			}
		}
	}
}
