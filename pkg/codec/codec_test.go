package codec

import "testing"

func testMessage() Message {
	return Message{
		Name: "TestMsg",
		ID:   0x123,
		Signals: []Signal{
			{Name: "temp", StartBit: 0, Length: 8, Scale: 0.5, Offset: -40},
			{Name: "flag", StartBit: 8, Length: 1, Scale: 1},
			{Name: "count", StartBit: 16, Length: 16, Scale: 1, BigEndian: false},
		},
	}
}

func TestMapCodecLookupByNameAndID(t *testing.T) {
	c := NewMapCodec(testMessage())

	msg, ok := c.Lookup("TestMsg")
	if !ok || msg.ID != 0x123 {
		t.Fatalf("Lookup(name) = %+v, %v", msg, ok)
	}
	msg, ok = c.Lookup(uint32(0x123))
	if !ok || msg.Name != "TestMsg" {
		t.Fatalf("Lookup(uint32 id) = %+v, %v", msg, ok)
	}
	msg, ok = c.Lookup(0x123)
	if !ok || msg.Name != "TestMsg" {
		t.Fatalf("Lookup(int id) = %+v, %v", msg, ok)
	}
	if _, ok := c.Lookup("nope"); ok {
		t.Fatalf("Lookup(unknown name) should fail")
	}
}

func TestMapCodecEncodeDecodeRoundTrip(t *testing.T) {
	c := NewMapCodec(testMessage())

	id, data, err := c.Encode("TestMsg", SignalValues{"temp": -39.5, "flag": 1, "count": 300})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if id != 0x123 {
		t.Fatalf("Encode id = %#x, want 0x123", id)
	}

	out, err := c.Decode("TestMsg", data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out["temp"] != -39.5 {
		t.Fatalf("Decode temp = %v, want -39.5", out["temp"])
	}
	if out["flag"] != 1 {
		t.Fatalf("Decode flag = %v, want 1", out["flag"])
	}
	if out["count"] != 300 {
		t.Fatalf("Decode count = %v, want 300", out["count"])
	}
}

func TestMapCodecEncodeMissingSignalDefaultsToZero(t *testing.T) {
	c := NewMapCodec(testMessage())
	_, data, err := c.Encode("TestMsg", SignalValues{"temp": 0})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out, err := c.Decode("TestMsg", data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out["flag"] != 0 || out["count"] != 0 {
		t.Fatalf("missing signals should default to zero, got %+v", out)
	}
}

func TestMapCodecEncodeUnknownSignalErrors(t *testing.T) {
	c := NewMapCodec(testMessage())
	if _, _, err := c.Encode("TestMsg", SignalValues{"bogus": 1}); err == nil {
		t.Fatalf("Encode with unknown signal name should error")
	}
}

func TestMapCodecEncodeUnknownMessageErrors(t *testing.T) {
	c := NewMapCodec(testMessage())
	if _, _, err := c.Encode("nope", SignalValues{}); err == nil {
		t.Fatalf("Encode with unknown message should error")
	}
	if _, err := c.Decode("nope", []byte{0}); err == nil {
		t.Fatalf("Decode with unknown message should error")
	}
}

func TestBigEndianU24(t *testing.T) {
	if got := BigEndianU24([]byte{0x00, 0x01, 0xF4}); got != 500 {
		t.Fatalf("BigEndianU24 = %d, want 500", got)
	}
}
