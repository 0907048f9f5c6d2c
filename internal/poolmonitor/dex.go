package poolmonitor

import (
	"fmt"
	"strings"

	"chain-stream-sol/internal/consts"
	"chain-stream-sol/internal/types"
)

type DexType uint8

const (
	DexUnknown DexType = iota
	DexRaydiumAmmV4
	DexRaydiumCpmm
	DexOrcaWhirlpool
	DexPumpFun
)

var AllDexTypes = []DexType{DexRaydiumAmmV4, DexRaydiumCpmm, DexOrcaWhirlpool, DexPumpFun}

func (d DexType) String() string {
	switch d {
	case DexRaydiumAmmV4:
		return "raydium_amm_v4"
	case DexRaydiumCpmm:
		return "raydium_cpmm"
	case DexOrcaWhirlpool:
		return "orca_whirlpool"
	case DexPumpFun:
		return "pump_fun"
	default:
		return "unknown"
	}
}

func (d DexType) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *DexType) UnmarshalText(text []byte) error {
	v, err := ParseDexType(string(text))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// ProgramID DEX 对应的链上程序
func (d DexType) ProgramID() types.Pubkey {
	switch d {
	case DexRaydiumAmmV4:
		return consts.RaydiumAmmV4Program
	case DexRaydiumCpmm:
		return consts.RaydiumCpmmProgram
	case DexOrcaWhirlpool:
		return consts.OrcaWhirlpoolProgram
	case DexPumpFun:
		return consts.PumpFunProgram
	default:
		return types.Pubkey{}
	}
}

func ParseDexType(s string) (DexType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "raydium_amm_v4", "raydium_amm", "raydium":
		return DexRaydiumAmmV4, nil
	case "raydium_cpmm", "cpmm":
		return DexRaydiumCpmm, nil
	case "orca_whirlpool", "orca", "whirlpool":
		return DexOrcaWhirlpool, nil
	case "pump_fun", "pumpfun", "pump":
		return DexPumpFun, nil
	default:
		return DexUnknown, fmt.Errorf("unknown dex type %q", s)
	}
}

// DexTypeForProgram 按账户 owner 识别 DEX
func DexTypeForProgram(owner types.Pubkey) DexType {
	for _, d := range AllDexTypes {
		if d.ProgramID() == owner {
			return d
		}
	}
	return DexUnknown
}
