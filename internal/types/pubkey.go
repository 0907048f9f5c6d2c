package types

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/mr-tron/base58"
)

type Pubkey [32]byte

func (p Pubkey) String() string {
	return base58.Encode(p[:])
}

func (p Pubkey) IsZero() bool {
	return p == Pubkey{}
}

// Hash 用于排序 tie-break 与分区
func (p Pubkey) Hash() uint64 {
	return xxhash.Sum64(p[:])
}

// Short 日志/展示用前缀
func (p Pubkey) Short() string {
	s := p.String()
	if len(s) <= 8 {
		return s
	}
	return s[:8] + "..."
}

func (p Pubkey) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Pubkey) UnmarshalText(text []byte) error {
	pk, err := TryPubkeyFromString(string(text))
	if err != nil {
		return err
	}
	*p = pk
	return nil
}

func PubkeyFromBytes(b []byte) (Pubkey, error) {
	if len(b) != 32 {
		return Pubkey{}, fmt.Errorf("invalid pubkey: length = %d, want 32", len(b))
	}
	var pk Pubkey
	copy(pk[:], b)
	return pk, nil
}

func TryPubkeyFromString(s string) (Pubkey, error) {
	data, err := base58.Decode(s)
	if err != nil {
		return Pubkey{}, fmt.Errorf("failed to decode base58 pubkey %q: %w", s, err)
	}
	if len(data) != 32 {
		return Pubkey{}, fmt.Errorf("invalid pubkey length: got %d, want 32, input=%q", len(data), s)
	}
	var p Pubkey
	copy(p[:], data)
	return p, nil
}

// PubkeyFromString 仅用于常量初始化，非法输入直接 panic
func PubkeyFromString(s string) Pubkey {
	p, err := TryPubkeyFromString(s)
	if err != nil {
		panic(err)
	}
	return p
}

// PubkeysFromStrings 批量解析，遇到第一个非法地址即返回错误
func PubkeysFromStrings(list []string) ([]Pubkey, error) {
	out := make([]Pubkey, 0, len(list))
	for _, s := range list {
		p, err := TryPubkeyFromString(s)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
