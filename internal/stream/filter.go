package stream

import (
	"errors"
	"fmt"

	"chain-stream-sol/internal/types"
)

type Commitment string

const (
	CommitmentProcessed Commitment = "processed"
	CommitmentConfirmed Commitment = "confirmed"
	CommitmentFinalized Commitment = "finalized"
)

type FilterKind uint8

const (
	FilterAccounts FilterKind = iota + 1
	FilterProgram
)

// DataSlice 只拉取账户数据的一段
type DataSlice struct {
	Offset uint64 `json:"offset"`
	Length uint64 `json:"length"`
}

// SubscriptionFilter Accounts{keys} 或 Program{owner}
type SubscriptionFilter struct {
	Kind       FilterKind
	Accounts   []types.Pubkey
	Program    types.Pubkey
	DataSlice  *DataSlice
	DataSize   uint64     // 仅 Program 过滤：只推送数据长度等于该值的账户，0 表示不限
	Commitment Commitment // 为空时使用客户端默认值
}

func AccountsFilter(keys ...types.Pubkey) SubscriptionFilter {
	cp := make([]types.Pubkey, len(keys))
	copy(cp, keys)
	return SubscriptionFilter{Kind: FilterAccounts, Accounts: cp}
}

func ProgramFilter(program types.Pubkey) SubscriptionFilter {
	return SubscriptionFilter{Kind: FilterProgram, Program: program}
}

func (f SubscriptionFilter) Validate() error {
	switch f.Kind {
	case FilterAccounts:
		if len(f.Accounts) == 0 {
			return errors.New("accounts filter requires at least one key")
		}
	case FilterProgram:
		if f.Program.IsZero() {
			return errors.New("program filter requires a program id")
		}
	default:
		return fmt.Errorf("unknown filter kind %d", f.Kind)
	}
	return nil
}

func (f SubscriptionFilter) String() string {
	switch f.Kind {
	case FilterAccounts:
		if len(f.Accounts) == 1 {
			return "accounts[" + f.Accounts[0].String() + "]"
		}
		return fmt.Sprintf("accounts[%d]", len(f.Accounts))
	case FilterProgram:
		return "program[" + f.Program.String() + "]"
	default:
		return "invalid"
	}
}
