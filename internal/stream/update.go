package stream

import (
	"fmt"
	"time"

	"chain-stream-sol/internal/types"
)

// AccountUpdate 解析后的账户更新，监听器只读
type AccountUpdate struct {
	Pubkey       types.Pubkey
	Slot         uint64
	Lamports     uint64
	Owner        types.Pubkey
	Data         []byte
	Executable   bool
	RentEpoch    uint64
	WriteVersion uint64
	ReceivedAt   time.Time
}

// ParseRawMessage pubkey/owner 长度非法时返回错误
func ParseRawMessage(msg *RawMessage, receivedAt time.Time) (*AccountUpdate, error) {
	if msg == nil {
		return nil, fmt.Errorf("nil message")
	}
	pubkey, err := types.PubkeyFromBytes(msg.Pubkey)
	if err != nil {
		return nil, fmt.Errorf("pubkey: %w", err)
	}
	owner, err := types.PubkeyFromBytes(msg.Owner)
	if err != nil {
		return nil, fmt.Errorf("owner: %w", err)
	}
	return &AccountUpdate{
		Pubkey:       pubkey,
		Slot:         msg.Slot,
		Lamports:     msg.Lamports,
		Owner:        owner,
		Data:         msg.Data,
		Executable:   msg.Executable,
		RentEpoch:    msg.RentEpoch,
		WriteVersion: msg.WriteVersion,
		ReceivedAt:   receivedAt,
	}, nil
}
