//go:build !pcap
// +build !pcap

package network

import (
	"context"
	"fmt"
)

// ReplayPCAPFile is unavailable without the 'pcap' build tag.
func ReplayPCAPFile(ctx context.Context, pcapFile string, handler PacketHandler) error {
	return fmt.Errorf("PCAP support not compiled in; rebuild with -tags pcap")
}
