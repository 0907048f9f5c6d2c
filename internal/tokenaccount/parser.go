// Package tokenaccount 解析 SPL Token / Token-2022 账户数据
package tokenaccount

import (
	"encoding/binary"
	"errors"
	"fmt"

	"chain-stream-sol/internal/types"
)

// SPL token account 布局
const (
	AccountLen = 165

	offsetMint   = 0
	offsetOwner  = 32
	offsetAmount = 64
	offsetState  = 108
)

var (
	ErrDataTooShort  = errors.New("token account data too short")
	ErrUninitialized = errors.New("token account uninitialized")
)

type DecodeError struct {
	Account types.Pubkey
	Len     int
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode token account %s (len=%d): %v", e.Account, e.Len, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// TokenAccount 只保留余额追踪需要的字段
type TokenAccount struct {
	Mint   types.Pubkey
	Owner  types.Pubkey
	Amount uint64
	State  uint8
}

// Frozen state == 2
func (a *TokenAccount) Frozen() bool {
	return a.State == 2
}

// Parse Token-2022 账户在 165 字节之后带扩展，前缀布局一致
func Parse(account types.Pubkey, data []byte) (*TokenAccount, error) {
	if len(data) < AccountLen {
		return nil, &DecodeError{Account: account, Len: len(data), Err: ErrDataTooShort}
	}
	state := data[offsetState]
	if state == 0 {
		return nil, &DecodeError{Account: account, Len: len(data), Err: ErrUninitialized}
	}

	ta := &TokenAccount{
		Amount: binary.LittleEndian.Uint64(data[offsetAmount : offsetAmount+8]),
		State:  state,
	}
	copy(ta.Mint[:], data[offsetMint:offsetMint+32])
	copy(ta.Owner[:], data[offsetOwner:offsetOwner+32])
	return ta, nil
}

// Encode 构造最小的已初始化账户数据，测试与回放工具使用
func Encode(mint, owner types.Pubkey, amount uint64) []byte {
	data := make([]byte, AccountLen)
	copy(data[offsetMint:], mint[:])
	copy(data[offsetOwner:], owner[:])
	binary.LittleEndian.PutUint64(data[offsetAmount:], amount)
	data[offsetState] = 1
	return data
}
