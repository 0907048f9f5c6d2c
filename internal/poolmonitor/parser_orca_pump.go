package poolmonitor

import (
	"chain-stream-sol/internal/consts"
	"chain-stream-sol/internal/types"
)

// Orca Whirlpool（Anchor）
const (
	WhirlpoolLen = 653

	whirlpoolOffsetFeeRate        = 45
	whirlpoolOffsetLiquidity      = 49
	whirlpoolOffsetSqrtPrice      = 65
	whirlpoolOffsetProtocolOwedA  = 85
	whirlpoolOffsetProtocolOwedB  = 93
	whirlpoolOffsetTokenMintA     = 101
	whirlpoolOffsetTokenVaultA    = 133
	whirlpoolOffsetTokenMintB     = 181
	whirlpoolOffsetTokenVaultB    = 213
	whirlpoolFeeRateHundredthsBps = 100
)

var whirlpoolDiscriminator = anchorDiscriminator("Whirlpool")

type OrcaWhirlpoolParser struct{}

func (OrcaWhirlpoolParser) Dex() DexType {
	return DexOrcaWhirlpool
}

// Parse 集中流动性没有 LP mint，用 liquidity 作为 lp_supply
func (OrcaWhirlpoolParser) Parse(address types.Pubkey, data []byte) (*PoolState, error) {
	if len(data) < WhirlpoolLen {
		return nil, tooShort(DexOrcaWhirlpool, address, data)
	}
	if !checkDiscriminator(data, whirlpoolDiscriminator) {
		return nil, badDiscriminator(DexOrcaWhirlpool, address, data)
	}

	return &PoolState{
		Address:           address,
		DexType:           DexOrcaWhirlpool,
		TokenAMint:        readPubkey(data, whirlpoolOffsetTokenMintA),
		TokenBMint:        readPubkey(data, whirlpoolOffsetTokenMintB),
		TokenAVault:       readPubkey(data, whirlpoolOffsetTokenVaultA),
		TokenBVault:       readPubkey(data, whirlpoolOffsetTokenVaultB),
		LpSupply:          readU128Saturating(data, whirlpoolOffsetLiquidity),
		SqrtPriceX64:      readU128Float(data, whirlpoolOffsetSqrtPrice),
		FeeRateBps:        float64(readU16(data, whirlpoolOffsetFeeRate)) / whirlpoolFeeRateHundredthsBps,
		ReserveADeduction: readU64(data, whirlpoolOffsetProtocolOwedA),
		ReserveBDeduction: readU64(data, whirlpoolOffsetProtocolOwedB),
	}, nil
}

// Pump.fun BondingCurve（Anchor）
const (
	PumpFunMinLen = 49

	pumpOffsetVirtualToken = 8
	pumpOffsetVirtualSol   = 16
	pumpOffsetRealSol      = 32
	pumpOffsetComplete     = 48
	pumpFeeBps             = 100
)

var pumpFunDiscriminator = anchorDiscriminator("BondingCurve")

type PumpFunParser struct{}

func (PumpFunParser) Dex() DexType {
	return DexPumpFun
}

// Parse 储备内联：A 为虚拟 token 储备，B 为虚拟 SOL 储备。
// 曲线账户不记录 mint，A 留空；complete 后迁移，视为关闭
func (PumpFunParser) Parse(address types.Pubkey, data []byte) (*PoolState, error) {
	if len(data) < PumpFunMinLen {
		return nil, tooShort(DexPumpFun, address, data)
	}
	if !checkDiscriminator(data, pumpFunDiscriminator) {
		return nil, badDiscriminator(DexPumpFun, address, data)
	}

	return &PoolState{
		Address:       address,
		DexType:       DexPumpFun,
		TokenBMint:    consts.WSOLMint,
		TokenAReserve: readU64(data, pumpOffsetVirtualToken),
		TokenBReserve: readU64(data, pumpOffsetVirtualSol),
		LpSupply:      readU64(data, pumpOffsetRealSol),
		FeeRateBps:    pumpFeeBps,
		Closed:        data[pumpOffsetComplete] != 0,
	}, nil
}
