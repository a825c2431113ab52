// Package socketcan wraps github.com/brutella/can to implement the
// can.Bus interface over a real Linux SocketCAN interface.
package socketcan

import (
	sockcan "github.com/brutella/can"

	"github.com/agingbench/core/pkg/can"
)

func init() {
	can.RegisterInterface("socketcan", NewBus)
}

type Bus struct {
	bus      *sockcan.Bus
	listener can.FrameListener
}

func NewBus(channel string) (can.Bus, error) {
	bus, err := sockcan.NewBusForInterfaceWithName(channel)
	if err != nil {
		return nil, err
	}
	return &Bus{bus: bus}, nil
}

func (b *Bus) Connect(...any) error {
	go b.bus.ConnectAndPublish()
	return nil
}

func (b *Bus) Disconnect() error {
	return b.bus.Disconnect()
}

func (b *Bus) Send(frame can.Frame) error {
	var data [8]byte
	copy(data[:], frame.Data)
	return b.bus.Publish(sockcan.Frame{
		ID:     frame.ID,
		Length: frame.DLC,
		Flags:  frame.Flags,
		Data:   data,
	})
}

func (b *Bus) Subscribe(listener can.FrameListener) error {
	b.listener = listener
	b.bus.Subscribe(b)
	return nil
}

// Handle implements brutella/can's Handler interface, translating its
// frame type into ours.
func (b *Bus) Handle(frame sockcan.Frame) {
	if b.listener == nil {
		return
	}
	b.listener.Handle(can.Frame{
		ID:    frame.ID,
		DLC:   frame.Length,
		Flags: frame.Flags,
		Data:  append([]byte(nil), frame.Data[:frame.Length]...),
	})
}
