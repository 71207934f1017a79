package detector

import (
	"errors"
	"testing"
)

func TestParseTrailer_RoundTrip(t *testing.T) {
	payload := make([]byte, 64)
	for i := range payload {
		payload[i] = byte(i)
	}
	datagram := AppendTrailer(append([]byte(nil), payload...), 42, 17, true, false)

	trailer, got, err := ParseTrailer(datagram)
	if err != nil {
		t.Fatalf("ParseTrailer: %v", err)
	}
	if trailer.FrameNumber != 42 {
		t.Errorf("frame number = %d, want 42", trailer.FrameNumber)
	}
	if trailer.PacketNumber() != 17 {
		t.Errorf("packet number = %d, want 17", trailer.PacketNumber())
	}
	if !trailer.StartOfFrame() {
		t.Error("SOF not set")
	}
	if trailer.EndOfFrame() {
		t.Error("EOF unexpectedly set")
	}
	if len(got) != len(payload) {
		t.Fatalf("payload length = %d, want %d", len(got), len(payload))
	}
	for i := range got {
		if got[i] != payload[i] {
			t.Fatalf("payload byte %d = %d, want %d", i, got[i], payload[i])
		}
	}
}

func TestParseTrailer_FlagBitsDoNotLeakIntoPacketNumber(t *testing.T) {
	datagram := AppendTrailer(nil, 1, packetNumberMask, true, true)
	trailer, _, err := ParseTrailer(datagram)
	if err != nil {
		t.Fatalf("ParseTrailer: %v", err)
	}
	if trailer.PacketNumber() != packetNumberMask {
		t.Errorf("packet number = %#x, want %#x", trailer.PacketNumber(), uint32(packetNumberMask))
	}
	if !trailer.StartOfFrame() || !trailer.EndOfFrame() {
		t.Error("marker bits lost")
	}
}

func TestParseTrailer_ShortDatagram(t *testing.T) {
	_, _, err := ParseTrailer(make([]byte, PacketTrailerSize-1))
	if !errors.Is(err, ErrShortPacket) {
		t.Errorf("err = %v, want ErrShortPacket", err)
	}
}

func TestParseTrailer_TrailerOnlyDatagram(t *testing.T) {
	trailer, payload, err := ParseTrailer(AppendTrailer(nil, 7, 0, false, true))
	if err != nil {
		t.Fatalf("ParseTrailer: %v", err)
	}
	if len(payload) != 0 {
		t.Errorf("payload length = %d, want 0", len(payload))
	}
	if trailer.FrameNumber != 7 || !trailer.EndOfFrame() {
		t.Errorf("trailer = %+v, want frame 7 with EOF", trailer)
	}
}

func TestParseTrailer_OversizedPayload(t *testing.T) {
	datagram := make([]byte, PrimaryPacketSize+PacketTrailerSize+1)
	_, _, err := ParseTrailer(datagram)
	if !errors.Is(err, ErrOversizedPacket) {
		t.Errorf("err = %v, want ErrOversizedPacket", err)
	}

	// The largest legal datagram is a full primary packet plus trailer.
	if _, _, err := ParseTrailer(datagram[:PrimaryPacketSize+PacketTrailerSize]); err != nil {
		t.Errorf("full primary packet rejected: %v", err)
	}
}
