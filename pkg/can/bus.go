// Package can defines the CAN-FD transport abstraction shared by every
// slot-facing component of the core. It deliberately mirrors the shape of
// a socketcan frame so that real and virtual backends stay interchangeable.
package can

import "fmt"

const (
	// Standard 11-bit arbitration ID mask.
	SffMask uint32 = 0x000007FF
	// Remote transmission request flag, set on Frame.Flags.
	RtrFlag uint8 = 0x01
	// CAN-FD bit-rate-switch flag.
	FDFlag uint8 = 0x02
)

// Frame is a single CAN-FD frame. Data is always allocated to DLC length;
// FD frames may carry up to 64 bytes, classic frames up to 8.
type Frame struct {
	ID    uint32
	Flags uint8
	DLC   uint8
	Data  []byte
	// Timestamp is the driver-reported frame time in seconds, either
	// absolute (unix epoch) or relative to bus-open, per spec §4.4. Zero
	// means the backend does not provide one.
	Timestamp float64
}

func NewFrame(id uint32, dlc uint8) Frame {
	return Frame{ID: id, DLC: dlc, Data: make([]byte, dlc)}
}

// FrameListener receives every frame the bus dispatches. Handle must not
// block longer than the inter-frame arrival time: it runs on the bus's
// single inbound dispatch goroutine.
type FrameListener interface {
	Handle(frame Frame)
}

// FrameListenerFunc adapts a plain function to FrameListener.
type FrameListenerFunc func(frame Frame)

func (f FrameListenerFunc) Handle(frame Frame) { f(frame) }

// Bus is one physical or virtual CAN-FD interface.
type Bus interface {
	Connect(...any) error
	Disconnect() error
	Send(frame Frame) error
	Subscribe(listener FrameListener) error
}

// NewInterfaceFunc constructs a Bus for a given channel name (e.g. "can0").
type NewInterfaceFunc func(channel string) (Bus, error)

var interfaceRegistry = make(map[string]NewInterfaceFunc)

// RegisterInterface registers a new backend under interfaceType. Backend
// packages call this from an init() function, mirroring the teacher's
// plugin-registration pattern.
func RegisterInterface(interfaceType string, newInterface NewInterfaceFunc) {
	interfaceRegistry[interfaceType] = newInterface
}

// AvailableInterfaces lists every backend registered so far.
func AvailableInterfaces() []string {
	names := make([]string, 0, len(interfaceRegistry))
	for name := range interfaceRegistry {
		names = append(names, name)
	}
	return names
}

// NewBus instantiates a backend by name. Currently shipped backends:
// "socketcan" (SocketCAN via brutella/can, classic frames carrying at
// most 8 data bytes; CAN-FD payloads are not supported) and "virtual" (TCP-based, for
// tests and benches without hardware).
func NewBus(interfaceType string, channel string) (Bus, error) {
	newInterface, ok := interfaceRegistry[interfaceType]
	if !ok {
		return nil, fmt.Errorf("can: unsupported interface %q", interfaceType)
	}
	return newInterface(channel)
}
