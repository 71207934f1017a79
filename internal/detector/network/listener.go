package network

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/arclight-data/frame.capture/internal/detector"
	"github.com/arclight-data/frame.capture/internal/monitoring"
)

// PacketHandler consumes raw datagrams from a receive socket. port is the
// local port the datagram arrived on, which identifies the sending FEM.
type PacketHandler interface {
	ProcessPacket(datagram []byte, port int) error
}

// StatsLogger emits a periodic statistics line.
type StatsLogger interface {
	LogStats()
}

// readBufferSize is the datagram read buffer: the largest legal datagram is
// a primary packet plus trailer, with margin for oversized packets that the
// decoder counts as malformed rather than truncates.
const readBufferSize = detector.PrimaryPacketSize + detector.PacketTrailerSize + 1024

// UDPListener receives detector packets on one socket per configured FEM
// port and feeds them to the handler. Each socket is owned by a single
// reader goroutine; one packet is processed to completion before the next is
// read from that socket.
type UDPListener struct {
	host        string
	ports       []int
	rcvBuf      int
	logInterval time.Duration
	handler     PacketHandler
	stats       StatsLogger

	mu         sync.Mutex
	conns      []*net.UDPConn
	localPorts []int
}

// UDPListenerConfig contains configuration options for the UDP listener.
type UDPListenerConfig struct {
	Host        string // listen host, defaults to all interfaces
	Ports       []int  // one receive port per FEM stream; 0 picks an ephemeral port
	RcvBuf      int    // socket receive buffer size in bytes
	LogInterval time.Duration
	Handler     PacketHandler
	Stats       StatsLogger
}

// NewUDPListener creates a new UDP listener with the provided configuration.
func NewUDPListener(config UDPListenerConfig) *UDPListener {
	logInterval := config.LogInterval
	if logInterval == 0 {
		logInterval = time.Minute
	}
	return &UDPListener{
		host:        config.Host,
		ports:       config.Ports,
		rcvBuf:      config.RcvBuf,
		logInterval: logInterval,
		handler:     config.Handler,
		stats:       config.Stats,
	}
}

// Start opens every configured socket and blocks until ctx is cancelled or a
// socket fails fatally.
func (l *UDPListener) Start(ctx context.Context) error {
	l.mu.Lock()
	for _, port := range l.ports {
		addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", l.host, port))
		if err != nil {
			l.mu.Unlock()
			l.closeConns()
			return fmt.Errorf("failed to resolve UDP address for port %d: %w", port, err)
		}
		conn, err := net.ListenUDP("udp", addr)
		if err != nil {
			l.mu.Unlock()
			l.closeConns()
			return fmt.Errorf("failed to listen on UDP port %d: %w", port, err)
		}
		if l.rcvBuf > 0 {
			if err := conn.SetReadBuffer(l.rcvBuf); err != nil {
				monitoring.Logf("Warning: failed to set UDP receive buffer to %d: %v", l.rcvBuf, err)
			}
		}
		l.conns = append(l.conns, conn)
		l.localPorts = append(l.localPorts, conn.LocalAddr().(*net.UDPAddr).Port)
	}
	conns := append([]*net.UDPConn(nil), l.conns...)
	localPorts := append([]int(nil), l.localPorts...)
	l.mu.Unlock()

	monitoring.Logf("UDP listener started on ports %v with receive buffer %d bytes", localPorts, l.rcvBuf)

	if l.stats != nil {
		go l.statsLoop(ctx)
	}

	var wg sync.WaitGroup
	for i, conn := range conns {
		wg.Add(1)
		go func(conn *net.UDPConn, port int) {
			defer wg.Done()
			l.readLoop(ctx, conn, port)
		}(conn, localPorts[i])
	}
	wg.Wait()
	l.closeConns()
	return ctx.Err()
}

// LocalPorts returns the bound receive ports after Start has opened the
// sockets. Useful when a port was configured as 0.
func (l *UDPListener) LocalPorts() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]int(nil), l.localPorts...)
}

// readLoop owns one socket: one packet is handled to completion before the
// next read. Read deadlines keep the loop responsive to cancellation.
func (l *UDPListener) readLoop(ctx context.Context, conn *net.UDPConn, port int) {
	buffer := make([]byte, readBufferSize)
	for {
		select {
		case <-ctx.Done():
			monitoring.Logf("UDP reader for port %d stopping", port)
			return
		default:
			conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
			n, addr, err := conn.ReadFromUDP(buffer)
			if err != nil {
				if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
					continue
				}
				if ctx.Err() != nil {
					return
				}
				monitoring.Logf("UDP read error on port %d: %v", port, err)
				continue
			}
			if err := l.handler.ProcessPacket(buffer[:n], port); err != nil {
				// Buffer pool exhaustion is recoverable: drop and keep
				// reading.
				monitoring.Logf("Error handling packet from %v on port %d: %v", addr, port, err)
			}
		}
	}
}

func (l *UDPListener) statsLoop(ctx context.Context) {
	// Report shortly after startup to avoid a long first-run silence, then
	// on the configured interval.
	select {
	case <-ctx.Done():
		return
	case <-time.After(2 * time.Second):
		l.stats.LogStats()
	}

	ticker := time.NewTicker(l.logInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.stats.LogStats()
		}
	}
}

func (l *UDPListener) closeConns() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, conn := range l.conns {
		conn.Close()
	}
	l.conns = nil
}

// Close closes all receive sockets.
func (l *UDPListener) Close() error {
	l.closeConns()
	return nil
}
