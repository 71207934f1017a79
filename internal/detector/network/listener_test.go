package network

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	mu      sync.Mutex
	packets [][]byte
	ports   []int
	got     chan struct{}
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{got: make(chan struct{}, 16)}
}

func (h *recordingHandler) ProcessPacket(datagram []byte, port int) error {
	h.mu.Lock()
	h.packets = append(h.packets, append([]byte(nil), datagram...))
	h.ports = append(h.ports, port)
	h.mu.Unlock()
	h.got <- struct{}{}
	return nil
}

func (h *recordingHandler) received() ([][]byte, []int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([][]byte(nil), h.packets...), append([]int(nil), h.ports...)
}

func startTestListener(t *testing.T, numPorts int, handler PacketHandler) (*UDPListener, []int, context.CancelFunc) {
	t.Helper()
	l := NewUDPListener(UDPListenerConfig{
		Host:    "127.0.0.1",
		Ports:   make([]int, numPorts), // ephemeral ports
		Handler: handler,
	})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- l.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("listener did not stop")
		}
	})

	var ports []int
	deadline := time.Now().Add(2 * time.Second)
	for {
		ports = l.LocalPorts()
		if len(ports) == numPorts {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("listener never bound its sockets")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return l, ports, cancel
}

func sendTo(t *testing.T, port int, payload []byte) {
	t.Helper()
	conn, err := net.Dial("udp", fmt.Sprintf("127.0.0.1:%d", port))
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write(payload)
	require.NoError(t, err)
}

func TestUDPListener_DeliversDatagramsWithPort(t *testing.T) {
	handler := newRecordingHandler()
	_, ports, _ := startTestListener(t, 2, handler)
	require.Len(t, ports, 2)
	assert.NotZero(t, ports[0])
	assert.NotZero(t, ports[1])

	sendTo(t, ports[0], []byte("first"))
	sendTo(t, ports[1], []byte("second"))

	for i := 0; i < 2; i++ {
		select {
		case <-handler.got:
		case <-time.After(2 * time.Second):
			t.Fatal("datagram not delivered")
		}
	}

	packets, gotPorts := handler.received()
	require.Len(t, packets, 2)
	byPort := map[int]string{}
	for i := range packets {
		byPort[gotPorts[i]] = string(packets[i])
	}
	assert.Equal(t, "first", byPort[ports[0]])
	assert.Equal(t, "second", byPort[ports[1]])
}

func TestUDPListener_StopsOnCancel(t *testing.T) {
	handler := newRecordingHandler()
	l, ports, cancel := startTestListener(t, 1, handler)
	cancel()

	// Give the readers a moment to observe cancellation, then confirm the
	// socket is gone.
	time.Sleep(300 * time.Millisecond)
	sendTo(t, ports[0], []byte("late"))
	select {
	case <-handler.got:
		t.Error("datagram delivered after shutdown")
	case <-time.After(300 * time.Millisecond):
	}
	require.NoError(t, l.Close())
}
