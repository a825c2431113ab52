package busmgr

import (
	"github.com/agingbench/core/pkg/can"
	"github.com/agingbench/core/pkg/codec"
)

// Echo arbitration IDs for the four broadcast TX frames (spec §3: IDs 0-10
// reserved for broadcast/control). Msg1 CH1/CH2 echo on 7/8, Msg2 CH1/CH2
// echo on 9/10.
const (
	EchoMsg1CH1 uint32 = 7
	EchoMsg1CH2 uint32 = 8
	EchoMsg2CH1 uint32 = 9
	EchoMsg2CH2 uint32 = 10
)

// TxRemapConfig names the two "logical" TX message IDs that get rewritten
// to their per-channel echo ID when their periodic task is modified.
type TxRemapConfig struct {
	IDOfTxMsg1 uint32
	IDOfTxMsg2 uint32
}

// ModifyPeriodicTX updates the pair of periodic tasks [ch1Task, ch2Task]
// carrying one logical TX message. If msgID matches one of the two
// configured logical TX IDs, the arbitration ID is rewritten to the
// channel-specific echo ID before the task payload is swapped; otherwise
// the same payload is applied to both tasks under the original ID
// (backwards compatibility with messages that never had echo IDs).
func (m *Manager) ModifyPeriodicTX(remap TxRemapConfig, tasks [2]*Task, msgID uint32, signals codec.SignalValues) error {
	_, data, err := m.codec.Encode(msgID, signals)
	if err != nil {
		return err
	}
	dlc := uint8(len(data))

	switch msgID {
	case remap.IDOfTxMsg1:
		tasks[0].Modify(frameWith(EchoMsg1CH1, dlc, data))
		tasks[1].Modify(frameWith(EchoMsg1CH2, dlc, data))
	case remap.IDOfTxMsg2:
		tasks[0].Modify(frameWith(EchoMsg2CH1, dlc, data))
		tasks[1].Modify(frameWith(EchoMsg2CH2, dlc, data))
	default:
		tasks[0].Modify(frameWith(msgID, dlc, data))
		tasks[1].Modify(frameWith(msgID, dlc, data))
	}
	return nil
}

func frameWith(id uint32, dlc uint8, data []byte) can.Frame {
	return can.Frame{ID: id, DLC: dlc, Data: data}
}
