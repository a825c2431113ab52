package virtual

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/agingbench/core/pkg/can"
)

func TestSerializeDeserializeFrameRoundTrip(t *testing.T) {
	frame := can.Frame{ID: 0x123, Flags: can.FDFlag, DLC: 4, Data: []byte{1, 2, 3, 4}}

	raw, err := serializeFrame(frame)
	if err != nil {
		t.Fatalf("serializeFrame: %v", err)
	}

	// First 4 bytes are the length-prefix header, consumed by recv()
	// before deserializeFrame ever sees the payload.
	got, err := deserializeFrame(raw[4:])
	if err != nil {
		t.Fatalf("deserializeFrame: %v", err)
	}
	if got.ID != frame.ID || got.Flags != frame.Flags || got.DLC != frame.DLC {
		t.Fatalf("round trip = %+v, want %+v", got, frame)
	}
	if string(got.Data) != string(frame.Data) {
		t.Fatalf("round trip data = %x, want %x", got.Data, frame.Data)
	}
}

func TestDeserializeFrameRejectsShortPayload(t *testing.T) {
	if _, err := deserializeFrame([]byte{1, 2, 3}); err == nil {
		t.Fatalf("deserializeFrame(short) should error")
	}
}

// echoBroker accepts one connection and relays every frame it receives
// back out unmodified, standing in for the real virtualcan broker this
// bus normally talks to.
func echoBroker(t *testing.T, ln net.Listener) {
	t.Helper()
	conn, err := ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()
	for {
		header := make([]byte, 4)
		if _, err := fullRead(conn, header); err != nil {
			return
		}
		length := binary.BigEndian.Uint32(header)
		payload := make([]byte, length)
		if _, err := fullRead(conn, payload); err != nil {
			return
		}
		if _, err := conn.Write(append(header, payload...)); err != nil {
			return
		}
	}
}

func TestBusConnectSendReceiveRoundTrip(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()
	go echoBroker(t, ln)

	bus, err := NewBus(ln.Addr().String())
	if err != nil {
		t.Fatalf("NewBus: %v", err)
	}
	if err := bus.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer bus.Disconnect()

	received := make(chan can.Frame, 1)
	if err := bus.Subscribe(can.FrameListenerFunc(func(f can.Frame) {
		received <- f
	})); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	frame := can.Frame{ID: 0x42, DLC: 3, Data: []byte{9, 8, 7}}
	if err := bus.Send(frame); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case got := <-received:
		if got.ID != frame.ID || string(got.Data) != string(frame.Data) {
			t.Fatalf("received = %+v, want %+v", got, frame)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for echoed frame")
	}
}
