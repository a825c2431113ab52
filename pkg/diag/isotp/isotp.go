// Package isotp implements a minimal ISO 15765-2 (ISO-TP) transport layer
// over CAN-FD, scoped to what the UDS/ISO-TP multi-slot engine (C6) needs:
// single/multi-frame segmentation, flow control, and a blocking
// request/response call. One Stack exists per slot for the lifetime of a
// group run (spec §3 invariant 5).
package isotp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/agingbench/core/pkg/can"
)

// PCI (protocol control information) frame types, ISO 15765-2 §9.4.
const (
	pciSingleFrame   = 0x0
	pciFirstFrame    = 0x1
	pciConsecutive   = 0x2
	pciFlowControl   = 0x3
	fcContinueToSend = 0x0
	fcWait           = 0x1
	fcOverflowAbort  = 0x2
)

var (
	ErrTimeout      = errors.New("isotp: timeout waiting for response")
	ErrFlowControl  = errors.New("isotp: flow control aborted transfer")
	ErrFrameTooLong = errors.New("isotp: payload exceeds configured max frame size")
)

// Params are the ISO-TP tuning parameters, project-configured (spec §4.6,
// §6).
type Params struct {
	BlockSize    uint8         // 0 = no block limit
	STmin        time.Duration // separation time between consecutive frames
	FCTimeout    time.Duration // time to wait for a flow-control frame
	PaddingByte  byte          // CAN-FD padding byte for frames shorter than DLC
	MaxFrameSize int           // max reassembled payload size
}

// DefaultParams matches common automotive defaults.
var DefaultParams = Params{
	BlockSize:    0,
	STmin:        1 * time.Millisecond,
	FCTimeout:    200 * time.Millisecond,
	PaddingByte:  0xCC,
	MaxFrameSize: 4095,
}

// Bus abstracts busmgr.Manager so this package has no upward import; any
// type exposing Send + RegisterListener with these signatures (which
// busmgr.Manager does) satisfies it.
type Bus interface {
	Send(frame can.Frame) error
	RegisterListener(id uint32, rtr bool, listener can.FrameListener) (cancel func(), err error)
}

// Stack is one slot's ISO-TP transport, bound to a (txID, rxID) pair.
type Stack struct {
	bus    Bus
	params Params

	mu     sync.Mutex
	txID   uint32
	rxID   uint32
	cancel func()

	mailbox chan []byte
	fcBox   chan fcFrame
	reasm   *reassembly
}

type fcFrame struct {
	status    uint8
	blockSize uint8
	stMin     time.Duration
}

// New creates a Stack bound to the given (txID, rxID) pair and subscribes
// it to rxID on bus.
func New(bus Bus, txID, rxID uint32, params Params) (*Stack, error) {
	s := &Stack{
		bus:     bus,
		params:  params,
		mailbox: make(chan []byte, 4),
		fcBox:   make(chan fcFrame, 4),
	}
	if err := s.SetAddress(txID, rxID); err != nil {
		return nil, err
	}
	return s, nil
}

// SetAddress rebinds the stack to a new (txID, rxID) pair. This is called
// immediately before every transaction (spec §4.6 "address update before
// every request") because a single hardware relay multiplexes all slot
// traffic through shared wiring.
func (s *Stack) SetAddress(txID, rxID uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil && s.rxID == rxID && s.txID == txID {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	cancel, err := s.bus.RegisterListener(rxID, false, can.FrameListenerFunc(s.handle))
	if err != nil {
		return fmt.Errorf("isotp: subscribe rxid %#x: %w", rxID, err)
	}
	s.txID = txID
	s.rxID = rxID
	s.cancel = cancel
	return nil
}

// Close detaches the stack's listener.
func (s *Stack) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *Stack) handle(frame can.Frame) {
	if len(frame.Data) == 0 {
		return
	}
	pci := frame.Data[0] >> 4
	switch pci {
	case pciSingleFrame:
		length := int(frame.Data[0] & 0x0F)
		if length == 0 || length+1 > len(frame.Data) {
			return
		}
		s.deliver(append([]byte(nil), frame.Data[1:1+length]...))
	case pciFirstFrame:
		if len(frame.Data) < 2 {
			return
		}
		length := int(frame.Data[0]&0x0F)<<8 | int(frame.Data[1])
		s.beginMultiFrame(length, frame.Data[2:])
	case pciConsecutive:
		s.continueMultiFrame(frame.Data[0]&0x0F, frame.Data[1:])
	case pciFlowControl:
		status := frame.Data[0] & 0x0F
		bs := byte(0)
		stmin := time.Duration(0)
		if len(frame.Data) >= 3 {
			bs = frame.Data[1]
			stmin = decodeSTmin(frame.Data[2])
		}
		select {
		case s.fcBox <- fcFrame{status: status, blockSize: bs, stMin: stmin}:
		default:
		}
	}
}

// multi-frame reassembly state, single in-flight reception per stack
// (matches the single in-flight transaction the engine's mutex enforces).
type reassembly struct {
	total   int
	buf     []byte
	nextSeq byte
}

func (s *Stack) beginMultiFrame(total int, firstBytes []byte) {
	s.mu.Lock()
	s.reasm = &reassembly{total: total, buf: append([]byte(nil), firstBytes...), nextSeq: 1}
	s.mu.Unlock()
	s.sendFlowControl()
}

func (s *Stack) continueMultiFrame(seq byte, data []byte) {
	s.mu.Lock()
	r := s.reasm
	if r == nil {
		s.mu.Unlock()
		return
	}
	if seq != r.nextSeq&0x0F {
		s.mu.Unlock()
		return
	}
	r.buf = append(r.buf, data...)
	r.nextSeq++
	done := len(r.buf) >= r.total
	var out []byte
	if done {
		out = append([]byte(nil), r.buf[:r.total]...)
		s.reasm = nil
	}
	s.mu.Unlock()
	if done {
		s.deliver(out)
	}
}

func (s *Stack) deliver(payload []byte) {
	select {
	case s.mailbox <- payload:
	default:
		// Drop oldest, keep latest: a stalled consumer should not wedge
		// the single inbound dispatch path.
		select {
		case <-s.mailbox:
		default:
		}
		s.mailbox <- payload
	}
}

func (s *Stack) sendFlowControl() {
	frame := can.NewFrame(s.txID, 8)
	frame.Data[0] = pciFlowControl<<4 | fcContinueToSend
	frame.Data[1] = s.params.BlockSize
	frame.Data[2] = encodeSTmin(s.params.STmin)
	s.pad(frame.Data[3:])
	_ = s.bus.Send(frame)
}

func (s *Stack) pad(b []byte) {
	for i := range b {
		b[i] = s.params.PaddingByte
	}
}

// Request sends payload and blocks for the complete reassembled response,
// honoring ctx's deadline as the ISO-TP receive timeout (spec §5
// "suspension points": an ISO-TP receive with timeout).
func (s *Stack) Request(ctx context.Context, payload []byte) ([]byte, error) {
	if err := s.send(ctx, payload); err != nil {
		return nil, err
	}
	select {
	case resp := <-s.mailbox:
		return resp, nil
	case <-ctx.Done():
		return nil, ErrTimeout
	}
}

func (s *Stack) send(ctx context.Context, payload []byte) error {
	if len(payload) > s.params.MaxFrameSize {
		return ErrFrameTooLong
	}
	if len(payload) <= 7 {
		frame := can.NewFrame(s.txID, 8)
		frame.Data[0] = pciSingleFrame<<4 | byte(len(payload))
		copy(frame.Data[1:], payload)
		s.pad(frame.Data[1+len(payload):])
		return s.bus.Send(frame)
	}
	return s.sendMultiFrame(ctx, payload)
}

func (s *Stack) sendMultiFrame(ctx context.Context, payload []byte) error {
	first := can.NewFrame(s.txID, 8)
	first.Data[0] = pciFirstFrame<<4 | byte((len(payload)>>8)&0x0F)
	first.Data[1] = byte(len(payload) & 0xFF)
	copy(first.Data[2:], payload[:6])
	if err := s.bus.Send(first); err != nil {
		return err
	}
	remaining := payload[6:]

	fcCtx, cancel := context.WithTimeout(ctx, s.params.FCTimeout)
	defer cancel()
	select {
	case fc := <-s.fcBox:
		if fc.status == fcOverflowAbort {
			return ErrFlowControl
		}
	case <-fcCtx.Done():
		return ErrTimeout
	}

	seq := byte(1)
	sent := 0
	for len(remaining) > 0 {
		chunk := remaining
		if len(chunk) > 7 {
			chunk = chunk[:7]
		}
		frame := can.NewFrame(s.txID, 8)
		frame.Data[0] = pciConsecutive<<4 | (seq & 0x0F)
		copy(frame.Data[1:], chunk)
		s.pad(frame.Data[1+len(chunk):])
		if err := s.bus.Send(frame); err != nil {
			return err
		}
		remaining = remaining[len(chunk):]
		seq++
		sent++
		if s.params.BlockSize != 0 && sent%int(s.params.BlockSize) == 0 && len(remaining) > 0 {
			select {
			case fc := <-s.fcBox:
				if fc.status == fcOverflowAbort {
					return ErrFlowControl
				}
			case <-fcCtx.Done():
				return ErrTimeout
			}
		}
		if s.params.STmin > 0 {
			time.Sleep(s.params.STmin)
		}
	}
	return nil
}

func encodeSTmin(d time.Duration) byte {
	ms := d.Milliseconds()
	if ms <= 127 {
		return byte(ms)
	}
	return 0x7F
}

func decodeSTmin(b byte) time.Duration {
	if b <= 0x7F {
		return time.Duration(b) * time.Millisecond
	}
	if b >= 0xF1 && b <= 0xF9 {
		return time.Duration(b-0xF0) * 100 * time.Microsecond
	}
	return 0
}
