package slotaddr

import "testing"

func TestSlotID_S2(t *testing.T) {
	slave, offset := SplitID(21)
	ch, stream, ok := LookupOffset(offset)
	if !ok || ch != CH1 || stream != StreamStatus {
		t.Fatalf("LookupOffset(%d) = (%v, %v, %v)", offset, ch, stream, ok)
	}
	if got := SlotID(slave, ch); got != 3 {
		t.Fatalf("SlotID(%d, CH1) = %d, want 3", slave, got)
	}

	slave, offset = SplitID(26)
	ch, stream, ok = LookupOffset(offset)
	if !ok || ch != CH2 || stream != StreamStatus {
		t.Fatalf("LookupOffset(%d) = (%v, %v, %v)", offset, ch, stream, ok)
	}
	if got := SlotID(slave, ch); got != 4 {
		t.Fatalf("SlotID(%d, CH2) = %d, want 4", slave, got)
	}
}

func TestShellSlot_S2_ChannelRemap(t *testing.T) {
	if got := ShellSlot(3, true); got != 4 {
		t.Fatalf("ShellSlot(3, remap) = %d, want 4", got)
	}
	if got := ShellSlot(4, true); got != 3 {
		t.Fatalf("ShellSlot(4, remap) = %d, want 3", got)
	}
	if got := ShellSlot(3, false); got != 3 {
		t.Fatalf("ShellSlot(3, no remap) = %d, want 3", got)
	}
}

func TestPhyAddr_S3(t *testing.T) {
	addr, tx, rx := PhyAddr(7)
	if addr != 71 || tx != 73 || rx != 72 {
		t.Fatalf("PhyAddr(7) = (%d, %d, %d), want (71, 73, 72)", addr, tx, rx)
	}

	addr, tx, rx = PhyAddr(8)
	if addr != 76 || tx != 78 || rx != 77 {
		t.Fatalf("PhyAddr(8) = (%d, %d, %d), want (76, 78, 77)", addr, tx, rx)
	}
}

func TestBaseStationAndMCUChannel(t *testing.T) {
	if BaseStation(7) != 7 {
		t.Fatalf("BaseStation(7) should be 7 (odd slot is its own base)")
	}
	if BaseStation(8) != 7 {
		t.Fatalf("BaseStation(8) should be 7")
	}
	if MCUChannel(7) != CH1 {
		t.Fatalf("MCUChannel(7) should be CH1")
	}
	if MCUChannel(8) != CH2 {
		t.Fatalf("MCUChannel(8) should be CH2")
	}
}

func TestLookupOffsetUnknown(t *testing.T) {
	if _, _, ok := LookupOffset(0); ok {
		t.Fatalf("LookupOffset(0) should be unknown")
	}
	if _, _, ok := LookupOffset(11); ok {
		t.Fatalf("LookupOffset(11) should be unknown")
	}
}
