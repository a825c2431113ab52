// Package slotaddr implements the slot-identity arithmetic shared by the
// receive dispatcher (C3) and the UDS/ISO-TP engine (C6): CAN-ID ↔ slot
// mapping, MCU/shell channel derivation, and ISO-TP physical addressing
// (spec §3).
package slotaddr

// Channel identifies which of a board's two channels a slot occupies.
type Channel uint8

const (
	CH1 Channel = 1
	CH2 Channel = 2
)

// Stream is one of the ten logical per-slot CAN streams (spec §3 table),
// independent of channel prefix; the channel is carried separately.
type Stream uint8

const (
	StreamStatus Stream = iota + 1
	StreamDiagRX
	StreamDiagTX
	StreamAppRX1
	StreamAppRX2
)

func (s Stream) String() string {
	switch s {
	case StreamStatus:
		return "STATUS"
	case StreamDiagRX:
		return "DIAG_RX"
	case StreamDiagTX:
		return "DIAG_TX"
	case StreamAppRX1:
		return "APP_RX1"
	case StreamAppRX2:
		return "APP_RX2"
	default:
		return "UNKNOWN"
	}
}

// offsetTable maps a CAN-ID offset (id mod 10) to its channel and stream,
// per spec §3. Offsets 0 and outside [1,10] are not in this table and
// must be treated as reserved/unknown by the caller.
var offsetTable = map[uint32]struct {
	Channel Channel
	Stream  Stream
}{
	1:  {CH1, StreamStatus},
	2:  {CH1, StreamDiagRX},
	3:  {CH1, StreamDiagTX},
	4:  {CH1, StreamAppRX1},
	5:  {CH1, StreamAppRX2},
	6:  {CH2, StreamStatus},
	7:  {CH2, StreamDiagRX},
	8:  {CH2, StreamDiagTX},
	9:  {CH2, StreamAppRX1},
	10: {CH2, StreamAppRX2},
}

// SplitID decodes an arbitration ID into its slave number and offset.
func SplitID(id uint32) (slave uint32, offset uint32) {
	return id / 10, id % 10
}

// LookupOffset resolves the MCU channel and stream for an offset. ok is
// false for any offset outside the ten device streams (reserved IDs 0-10
// and anything else must already have been filtered by the caller).
func LookupOffset(offset uint32) (ch Channel, stream Stream, ok bool) {
	entry, ok := offsetTable[offset]
	return entry.Channel, entry.Stream, ok
}

// BaseStation returns the largest odd integer ≤ slot: the physical board
// number shared by a CH1/CH2 slot pair.
func BaseStation(slot int) int {
	if slot%2 == 1 {
		return slot
	}
	return slot - 1
}

// MCUChannel returns the MCU-side channel of slot: CH1 if slot equals its
// base station, CH2 otherwise.
func MCUChannel(slot int) Channel {
	if BaseStation(slot) == slot {
		return CH1
	}
	return CH2
}

// SlotID computes the slot number for a given slave and MCU channel,
// i.e. the inverse of SplitID+LookupOffset: base = 2*slave-1, slot =
// base for CH1, base+1 for CH2.
func SlotID(slave uint32, ch Channel) int {
	base := 2*int(slave) - 1
	if ch == CH1 {
		return base
	}
	return base + 1
}

// ShellChannel returns the operator-visible channel for slot, honoring
// channelRemap (spec §3: "a configuration flag channel_remap may swap the
// shell view of CH1/CH2 without changing MCU-side addressing").
func ShellChannel(mcu Channel, channelRemap bool) Channel {
	if !channelRemap {
		return mcu
	}
	if mcu == CH1 {
		return CH2
	}
	return CH1
}

// ShellSlot returns the shell-visible slot index for a frame's MCU-derived
// slot, honoring channelRemap. Swapping shell channel swaps which of the
// base/base+1 pair the frame is stored under (spec §8 S2).
func ShellSlot(mcuSlot int, channelRemap bool) int {
	if !channelRemap {
		return mcuSlot
	}
	base := BaseStation(mcuSlot)
	if mcuSlot == base {
		return base + 1
	}
	return base
}

// PhyAddr computes the ISO-TP physical addressing triple for slot (spec
// §3): phy_addr = base*10 + (CH1 ? 1 : 6), phy_tx = phy_addr+2, phy_rx =
// phy_addr+1.
func PhyAddr(slot int) (addr, tx, rx int) {
	base := BaseStation(slot)
	ch := MCUChannel(slot)
	if ch == CH1 {
		addr = base*10 + 1
	} else {
		addr = base*10 + 6
	}
	tx = addr + 2
	rx = addr + 1
	return addr, tx, rx
}
