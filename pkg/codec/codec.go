// Package codec defines the read-only signal-database abstraction (C2).
// The core never parses a vendor database file itself: an implementer
// supplies a Codec loaded from whatever DBC-like format the project uses.
// This package also ships MapCodec, an in-memory implementation used by
// tests and by deployments that build their signal table programmatically.
package codec

import (
	"encoding/binary"
	"fmt"
)

// SignalValues maps a signal name to its physical (scaled) value.
type SignalValues map[string]float64

// Signal describes one bit-packed field inside a message.
type Signal struct {
	Name      string
	StartBit  uint8 // LSB-first bit offset within the payload
	Length    uint8 // number of bits
	BigEndian bool
	Signed    bool
	Scale     float64
	Offset    float64
	Min       float64
	Max       float64
}

// Message describes one CAN-FD message: its arbitration ID and the
// signals packed into its payload.
type Message struct {
	Name     string
	ID       uint32
	Extended bool
	Signals  []Signal
}

// Codec resolves messages by name or numeric ID and encodes/decodes their
// payloads against the signal table. It is a pure value shared read-only
// across groups.
type Codec interface {
	// Lookup returns the Message definition for a name (string) or
	// numeric ID (uint32/int), or ok=false if unknown.
	Lookup(nameOrID any) (Message, bool)
	// Encode packs signals into bytes for the named/identified message.
	// Missing signals default to zero; names not present in the
	// message's signal table are rejected with an error.
	Encode(nameOrID any, signals SignalValues) (id uint32, data []byte, err error)
	// Decode unpacks a payload into a signal value map.
	Decode(nameOrID any, data []byte) (SignalValues, error)
}

// MapCodec is a simple in-memory Codec backed by a name→Message and
// id→Message index, analogous to how the teacher's od.ObjectDictionary
// indexes entries by both name and numeric index.
type MapCodec struct {
	byName map[string]Message
	byID   map[uint32]Message
}

func NewMapCodec(messages ...Message) *MapCodec {
	c := &MapCodec{byName: make(map[string]Message), byID: make(map[uint32]Message)}
	for _, msg := range messages {
		c.byName[msg.Name] = msg
		c.byID[msg.ID] = msg
	}
	return c
}

func (c *MapCodec) Lookup(nameOrID any) (Message, bool) {
	switch v := nameOrID.(type) {
	case string:
		msg, ok := c.byName[v]
		return msg, ok
	case uint32:
		msg, ok := c.byID[v]
		return msg, ok
	case int:
		msg, ok := c.byID[uint32(v)]
		return msg, ok
	default:
		return Message{}, false
	}
}

func (c *MapCodec) Encode(nameOrID any, signals SignalValues) (uint32, []byte, error) {
	msg, ok := c.Lookup(nameOrID)
	if !ok {
		return 0, nil, fmt.Errorf("codec: unknown message %v", nameOrID)
	}
	known := make(map[string]struct{}, len(msg.Signals))
	for _, s := range msg.Signals {
		known[s.Name] = struct{}{}
	}
	for name := range signals {
		if _, ok := known[name]; !ok {
			return 0, nil, fmt.Errorf("codec: message %s has no signal %q", msg.Name, name)
		}
	}

	maxBit := uint16(0)
	for _, s := range msg.Signals {
		end := uint16(s.StartBit) + uint16(s.Length)
		if end > maxBit {
			maxBit = end
		}
	}
	data := make([]byte, (maxBit+7)/8)
	for _, s := range msg.Signals {
		value, ok := signals[s.Name]
		if !ok {
			value = 0
		}
		raw := int64((value - s.Offset) / nonZero(s.Scale))
		putBits(data, s, uint64(raw))
	}
	return msg.ID, data, nil
}

func (c *MapCodec) Decode(nameOrID any, data []byte) (SignalValues, error) {
	msg, ok := c.Lookup(nameOrID)
	if !ok {
		return nil, fmt.Errorf("codec: unknown message %v", nameOrID)
	}
	out := make(SignalValues, len(msg.Signals))
	for _, s := range msg.Signals {
		raw := getBits(data, s)
		out[s.Name] = float64(raw)*s.Scale + s.Offset
	}
	return out, nil
}

func nonZero(v float64) float64 {
	if v == 0 {
		return 1
	}
	return v
}

// putBits/getBits implement little-endian (Intel) bit packing, the
// layout used by every signal in this module's configured databases.
// Big-endian (Motorola) signals are out of scope for MapCodec; a real
// DBC-backed Codec handles both.

func putBits(data []byte, s Signal, value uint64) {
	for i := uint8(0); i < s.Length; i++ {
		bit := uint16(s.StartBit) + uint16(i)
		byteIdx := bit / 8
		bitIdx := bit % 8
		if int(byteIdx) >= len(data) {
			break
		}
		if value&(1<<i) != 0 {
			data[byteIdx] |= 1 << bitIdx
		}
	}
}

func getBits(data []byte, s Signal) int64 {
	var value uint64
	for i := uint8(0); i < s.Length; i++ {
		bit := uint16(s.StartBit) + uint16(i)
		byteIdx := bit / 8
		bitIdx := bit % 8
		if int(byteIdx) >= len(data) {
			continue
		}
		if data[byteIdx]&(1<<bitIdx) != 0 {
			value |= 1 << i
		}
	}
	if s.Signed && s.Length < 64 && value&(1<<(s.Length-1)) != 0 {
		value |= ^uint64(0) << s.Length
	}
	return int64(value)
}

// BigEndianU24 decodes a 3-byte big-endian unsigned integer, the layout
// the slot-status frame uses for its current field (spec §4.4).
func BigEndianU24(b []byte) uint32 {
	var buf [4]byte
	copy(buf[1:], b[:3])
	return binary.BigEndian.Uint32(buf[:])
}
