package poolmonitor

import (
	"errors"
	"fmt"

	"chain-stream-sol/internal/types"
)

var (
	ErrDataTooShort     = errors.New("pool account data too short")
	ErrBadDiscriminator = errors.New("account discriminator mismatch")
	ErrUnexpectedSize   = errors.New("pool account data size mismatch")
)

// DecodeError 池子账户解析失败，只记录日志，不向外传播
type DecodeError struct {
	Dex     DexType
	Account types.Pubkey
	Len     int
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s pool %s (len=%d): %v", e.Dex, e.Account, e.Len, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
