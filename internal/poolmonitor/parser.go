package poolmonitor

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"math"

	"chain-stream-sol/internal/types"
)

// Parser 把池子账户数据解码为 PoolState，纯函数，不修改输入
type Parser interface {
	Dex() DexType
	Parse(address types.Pubkey, data []byte) (*PoolState, error)
}

func NewParser(d DexType) Parser {
	switch d {
	case DexRaydiumAmmV4:
		return RaydiumAmmV4Parser{}
	case DexRaydiumCpmm:
		return RaydiumCpmmParser{}
	case DexOrcaWhirlpool:
		return OrcaWhirlpoolParser{}
	case DexPumpFun:
		return PumpFunParser{}
	default:
		return nil
	}
}

// anchorDiscriminator sha256("account:<Name>")[:8]
func anchorDiscriminator(name string) [8]byte {
	sum := sha256.Sum256([]byte("account:" + name))
	var d [8]byte
	copy(d[:], sum[:8])
	return d
}

func checkDiscriminator(data []byte, want [8]byte) bool {
	return len(data) >= 8 && bytes.Equal(data[:8], want[:])
}

func readPubkey(data []byte, offset int) types.Pubkey {
	var pk types.Pubkey
	copy(pk[:], data[offset:offset+32])
	return pk
}

func readU64(data []byte, offset int) uint64 {
	return binary.LittleEndian.Uint64(data[offset : offset+8])
}

func readU16(data []byte, offset int) uint16 {
	return binary.LittleEndian.Uint16(data[offset : offset+2])
}

func readU128Float(data []byte, offset int) float64 {
	lo := binary.LittleEndian.Uint64(data[offset : offset+8])
	hi := binary.LittleEndian.Uint64(data[offset+8 : offset+16])
	return float64(hi)*q64 + float64(lo)
}

// readU128Saturating 超出 uint64 范围时饱和
func readU128Saturating(data []byte, offset int) uint64 {
	lo := binary.LittleEndian.Uint64(data[offset : offset+8])
	hi := binary.LittleEndian.Uint64(data[offset+8 : offset+16])
	if hi != 0 {
		return math.MaxUint64
	}
	return lo
}

func tooShort(d DexType, address types.Pubkey, data []byte) error {
	return &DecodeError{Dex: d, Account: address, Len: len(data), Err: ErrDataTooShort}
}

func badDiscriminator(d DexType, address types.Pubkey, data []byte) error {
	return &DecodeError{Dex: d, Account: address, Len: len(data), Err: ErrBadDiscriminator}
}
