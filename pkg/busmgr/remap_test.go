package busmgr

import (
	"testing"

	"github.com/agingbench/core/pkg/codec"
)

func TestModifyPeriodicTX_S6(t *testing.T) {
	msg := codec.Message{Name: "Msg1", ID: 0x200, Signals: []codec.Signal{
		{Name: "a", StartBit: 0, Length: 8, Scale: 1},
	}}
	c := codec.NewMapCodec(msg)
	m := New(nil, c, nil)

	t1 := &Task{mgr: m, stop: make(chan struct{}), done: make(chan struct{})}
	t2 := &Task{mgr: m, stop: make(chan struct{}), done: make(chan struct{})}
	close(t1.done)
	close(t2.done)

	remap := TxRemapConfig{IDOfTxMsg1: 0x200, IDOfTxMsg2: 0x300}

	if err := m.ModifyPeriodicTX(remap, [2]*Task{t1, t2}, 0x200, codec.SignalValues{"a": 5}); err != nil {
		t.Fatalf("ModifyPeriodicTX: %v", err)
	}

	if t1.ID() != EchoMsg1CH1 {
		t.Fatalf("t1 ID = %d, want %d (EchoMsg1CH1)", t1.ID(), EchoMsg1CH1)
	}
	if t2.ID() != EchoMsg1CH2 {
		t.Fatalf("t2 ID = %d, want %d (EchoMsg1CH2)", t2.ID(), EchoMsg1CH2)
	}
	if string(t1.frame.Data) != string(t2.frame.Data) {
		t.Fatalf("t1 and t2 payloads differ: %v vs %v", t1.frame.Data, t2.frame.Data)
	}
}

func TestModifyPeriodicTX_UnmappedIDAppliesToBoth(t *testing.T) {
	msg := codec.Message{Name: "Other", ID: 0x400, Signals: []codec.Signal{
		{Name: "a", StartBit: 0, Length: 8, Scale: 1},
	}}
	c := codec.NewMapCodec(msg)
	m := New(nil, c, nil)

	t1 := &Task{mgr: m, stop: make(chan struct{}), done: make(chan struct{})}
	t2 := &Task{mgr: m, stop: make(chan struct{}), done: make(chan struct{})}
	close(t1.done)
	close(t2.done)

	remap := TxRemapConfig{IDOfTxMsg1: 0x200, IDOfTxMsg2: 0x300}
	if err := m.ModifyPeriodicTX(remap, [2]*Task{t1, t2}, 0x400, codec.SignalValues{"a": 1}); err != nil {
		t.Fatalf("ModifyPeriodicTX: %v", err)
	}
	if t1.ID() != 0x400 || t2.ID() != 0x400 {
		t.Fatalf("unmapped ID should pass through unchanged on both tasks, got t1=%d t2=%d", t1.ID(), t2.ID())
	}
}
