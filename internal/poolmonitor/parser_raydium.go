package poolmonitor

import (
	"chain-stream-sol/internal/types"
)

// Raydium AMM v4 LiquidityStateV4，无 discriminator
const (
	RaydiumAmmV4Len = 752

	ammV4OffsetStatus          = 0
	ammV4OffsetSwapFeeNum      = 176
	ammV4OffsetSwapFeeDen      = 184
	ammV4OffsetBaseNeedTakePnl = 192
	ammV4OffsetQuoteNeedTake   = 200
	ammV4OffsetBaseVault       = 336
	ammV4OffsetQuoteVault      = 368
	ammV4OffsetBaseMint        = 400
	ammV4OffsetQuoteMint       = 432
	ammV4OffsetLpReserve       = 720
)

type RaydiumAmmV4Parser struct{}

func (RaydiumAmmV4Parser) Dex() DexType {
	return DexRaydiumAmmV4
}

// Parse 储备在 base/quote 金库中，扣除待提取 PnL 后才是 LP 储备
func (RaydiumAmmV4Parser) Parse(address types.Pubkey, data []byte) (*PoolState, error) {
	// 同一程序下还有 OpenOrders 等其他账户，只认精确长度
	if len(data) < RaydiumAmmV4Len {
		return nil, tooShort(DexRaydiumAmmV4, address, data)
	}
	if len(data) != RaydiumAmmV4Len {
		return nil, &DecodeError{Dex: DexRaydiumAmmV4, Account: address, Len: len(data), Err: ErrUnexpectedSize}
	}

	var feeBps float64
	if den := readU64(data, ammV4OffsetSwapFeeDen); den > 0 {
		feeBps = float64(readU64(data, ammV4OffsetSwapFeeNum)) / float64(den) * 10_000
	}

	return &PoolState{
		Address:           address,
		DexType:           DexRaydiumAmmV4,
		TokenAMint:        readPubkey(data, ammV4OffsetBaseMint),
		TokenBMint:        readPubkey(data, ammV4OffsetQuoteMint),
		TokenAVault:       readPubkey(data, ammV4OffsetBaseVault),
		TokenBVault:       readPubkey(data, ammV4OffsetQuoteVault),
		LpSupply:          readU64(data, ammV4OffsetLpReserve),
		FeeRateBps:        feeBps,
		ReserveADeduction: readU64(data, ammV4OffsetBaseNeedTakePnl),
		ReserveBDeduction: readU64(data, ammV4OffsetQuoteNeedTake),
		Closed:            readU64(data, ammV4OffsetStatus) == 0,
	}, nil
}

// Raydium CPMM PoolState（Anchor）
const (
	RaydiumCpmmLen = 637

	cpmmOffsetToken0Vault  = 72
	cpmmOffsetToken1Vault  = 104
	cpmmOffsetToken0Mint   = 168
	cpmmOffsetToken1Mint   = 200
	cpmmOffsetLpSupply     = 333
	cpmmOffsetProtocolFee0 = 341
	cpmmOffsetProtocolFee1 = 349
	cpmmOffsetFundFee0     = 357
	cpmmOffsetFundFee1     = 365
)

var cpmmDiscriminator = anchorDiscriminator("PoolState")

type RaydiumCpmmParser struct{}

func (RaydiumCpmmParser) Dex() DexType {
	return DexRaydiumCpmm
}

// Parse 手续费率在 AmmConfig 账户中，这里不解析
func (RaydiumCpmmParser) Parse(address types.Pubkey, data []byte) (*PoolState, error) {
	if len(data) < RaydiumCpmmLen {
		return nil, tooShort(DexRaydiumCpmm, address, data)
	}
	if !checkDiscriminator(data, cpmmDiscriminator) {
		return nil, badDiscriminator(DexRaydiumCpmm, address, data)
	}

	return &PoolState{
		Address:           address,
		DexType:           DexRaydiumCpmm,
		TokenAMint:        readPubkey(data, cpmmOffsetToken0Mint),
		TokenBMint:        readPubkey(data, cpmmOffsetToken1Mint),
		TokenAVault:       readPubkey(data, cpmmOffsetToken0Vault),
		TokenBVault:       readPubkey(data, cpmmOffsetToken1Vault),
		LpSupply:          readU64(data, cpmmOffsetLpSupply),
		ReserveADeduction: readU64(data, cpmmOffsetProtocolFee0) + readU64(data, cpmmOffsetFundFee0),
		ReserveBDeduction: readU64(data, cpmmOffsetProtocolFee1) + readU64(data, cpmmOffsetFundFee1),
	}, nil
}
