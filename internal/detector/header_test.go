package detector

import (
	"testing"
	"time"
)

func TestFrameHeader_Init(t *testing.T) {
	buf := make([]byte, FrameHeaderSize)
	// Dirty the buffer to prove Init resets everything.
	for i := range buf {
		buf[i] = 0xAA
	}

	hdr := HeaderView(buf)
	start := time.Date(2026, 8, 20, 9, 0, 0, 12345, time.UTC)
	hdr.Init(99, start)

	if hdr.FrameNumber() != 99 {
		t.Errorf("frame number = %d, want 99", hdr.FrameNumber())
	}
	if hdr.State() != FrameStateEmpty {
		t.Errorf("state = %v, want empty", hdr.State())
	}
	if !hdr.StartTime().Equal(start) {
		t.Errorf("start time = %v, want %v", hdr.StartTime(), start)
	}
	if hdr.TotalPacketsReceived() != 0 || hdr.NumActiveFems() != 0 {
		t.Error("counters not zeroed")
	}
	for fem := 0; fem < MaxNumFems; fem++ {
		state := hdr.Fem(fem)
		if state.PacketsReceived() != 0 {
			t.Fatalf("fem %d packets = %d, want 0", fem, state.PacketsReceived())
		}
		for p := 0; p < femPacketStateEntries; p++ {
			if state.PacketSlot(p) != PacketSlotMissing {
				t.Fatalf("fem %d packet %d slot = %d, want missing sentinel", fem, p, state.PacketSlot(p))
			}
		}
	}
}

func TestFrameHeader_ActiveFems(t *testing.T) {
	buf := make([]byte, FrameHeaderSize)
	hdr := HeaderView(buf)
	hdr.Init(1, time.Now())

	if got := hdr.FemSlot(3); got != -1 {
		t.Errorf("FemSlot before registration = %d, want -1", got)
	}
	if slot := hdr.AddActiveFem(3); slot != 0 {
		t.Errorf("first active slot = %d, want 0", slot)
	}
	if slot := hdr.AddActiveFem(0); slot != 1 {
		t.Errorf("second active slot = %d, want 1", slot)
	}
	if got := hdr.FemSlot(3); got != 0 {
		t.Errorf("FemSlot(3) = %d, want 0", got)
	}
	if got := hdr.ActiveFemIdx(1); got != 0 {
		t.Errorf("ActiveFemIdx(1) = %d, want 0", got)
	}
	if hdr.NumActiveFems() != 2 {
		t.Errorf("NumActiveFems = %d, want 2", hdr.NumActiveFems())
	}

	for fem := 2; fem < 2+MaxNumFems-2; fem++ {
		hdr.AddActiveFem(fem)
	}
	if slot := hdr.AddActiveFem(5); slot != -1 {
		t.Errorf("slot beyond capacity = %d, want -1", slot)
	}
}

func TestFemState_SaturatingMarkers(t *testing.T) {
	buf := make([]byte, FrameHeaderSize)
	hdr := HeaderView(buf)
	hdr.Init(1, time.Now())
	fem := hdr.Fem(0)

	for i := 0; i < 300; i++ {
		fem.addSOFMarker()
		hdr.addTotalEOFMarker()
	}
	if fem.SOFMarkerCount() != 0xFF {
		t.Errorf("SOF count = %d, want saturated at 255", fem.SOFMarkerCount())
	}
	if hdr.TotalEOFMarkerCount() != 0xFF {
		t.Errorf("total EOF count = %d, want saturated at 255", hdr.TotalEOFMarkerCount())
	}
	if fem.EOFMarkerCount() != 0 {
		t.Errorf("EOF count = %d, want 0", fem.EOFMarkerCount())
	}
}

func TestFemState_PacketSlots(t *testing.T) {
	buf := make([]byte, FrameHeaderSize)
	hdr := HeaderView(buf)
	hdr.Init(1, time.Now())
	fem := hdr.Fem(2)

	fem.setPacketSlot(320, 0)
	fem.setPacketSlot(0, 1)
	if got := fem.PacketSlot(320); got != 0 {
		t.Errorf("tail packet slot = %d, want 0", got)
	}
	if got := fem.PacketSlot(0); got != 1 {
		t.Errorf("packet 0 slot = %d, want 1", got)
	}
	if got := fem.PacketSlot(1); got != PacketSlotMissing {
		t.Errorf("untouched packet slot = %d, want missing sentinel", got)
	}
	// Neighbouring FEM state must be unaffected.
	if got := hdr.Fem(1).PacketSlot(320); got != PacketSlotMissing {
		t.Errorf("fem 1 slot mutated to %d", got)
	}
}

func TestFrameStateString(t *testing.T) {
	cases := map[FrameState]string{
		FrameStateEmpty:            "empty",
		FrameStateReceiving:        "receiving",
		FrameStateComplete:         "complete",
		FrameStateCompleteWithLoss: "complete_with_loss",
		FrameState(42):             "invalid",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("FrameState(%d).String() = %q, want %q", state, got, want)
		}
	}
}
