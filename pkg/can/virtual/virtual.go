// Package virtual implements a TCP-backed can.Bus used in tests and on
// benches without real CAN-FD hardware. A broker process (not part of this
// module) fans frames out to every connected client, mirroring
// https://github.com/windelbouwman/virtualcan.
package virtual

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/agingbench/core/pkg/can"
)

func init() {
	can.RegisterInterface("virtual", NewBus)
	can.RegisterInterface("virtualcan", NewBus)
}

type Bus struct {
	mu         sync.Mutex
	channel    string
	conn       net.Conn
	receiveOwn bool
	listener   can.FrameListener
	stopChan   chan struct{}
	wg         sync.WaitGroup
	running    bool
}

func NewBus(channel string) (can.Bus, error) {
	return &Bus{channel: channel, stopChan: make(chan struct{})}, nil
}

func (b *Bus) SetReceiveOwn(receiveOwn bool) { b.receiveOwn = receiveOwn }

func (b *Bus) Connect(...any) error {
	conn, err := net.Dial("tcp", b.channel)
	if err != nil {
		return err
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
	}
	b.conn = conn
	return nil
}

func (b *Bus) Disconnect() error {
	b.mu.Lock()
	running := b.running
	b.mu.Unlock()
	if running {
		close(b.stopChan)
		b.wg.Wait()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}

func (b *Bus) Send(frame can.Frame) error {
	if b.receiveOwn && b.listener != nil {
		b.listener.Handle(frame)
	}
	if b.conn == nil {
		return errors.New("virtual: no active connection")
	}
	raw, err := serializeFrame(frame)
	if err != nil {
		return err
	}
	_ = b.conn.SetWriteDeadline(time.Now().Add(10 * time.Millisecond))
	_, err = b.conn.Write(raw)
	return err
}

func (b *Bus) Subscribe(listener can.FrameListener) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listener = listener
	if b.running {
		return nil
	}
	b.running = true
	b.wg.Add(1)
	go b.receiveLoop()
	return nil
}

func (b *Bus) receiveLoop() {
	defer b.wg.Done()
	for {
		select {
		case <-b.stopChan:
			return
		default:
		}
		frame, err := b.recv()
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			log.WithError(err).Warn("virtual: receive loop closing")
			return
		}
		if b.listener != nil {
			b.listener.Handle(*frame)
		}
	}
}

func (b *Bus) recv() (*can.Frame, error) {
	if b.conn == nil {
		return nil, errors.New("virtual: no active connection")
	}
	_ = b.conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	header := make([]byte, 4)
	if _, err := fullRead(b.conn, header); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(header)
	payload := make([]byte, length)
	_ = b.conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, err := fullRead(b.conn, payload); err != nil {
		return nil, err
	}
	return deserializeFrame(payload)
}

func fullRead(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func serializeFrame(frame can.Frame) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.BigEndian, frame.ID); err != nil {
		return nil, err
	}
	buf.WriteByte(frame.Flags)
	buf.WriteByte(frame.DLC)
	buf.Write(frame.Data)
	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(buf.Len()))
	return append(header, buf.Bytes()...), nil
}

func deserializeFrame(raw []byte) (*can.Frame, error) {
	if len(raw) < 6 {
		return nil, fmt.Errorf("virtual: short frame (%d bytes)", len(raw))
	}
	id := binary.BigEndian.Uint32(raw[0:4])
	flags := raw[4]
	dlc := raw[5]
	data := append([]byte(nil), raw[6:]...)
	return &can.Frame{ID: id, Flags: flags, DLC: dlc, Data: data}, nil
}
