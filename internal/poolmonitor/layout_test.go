package poolmonitor

import (
	"encoding/binary"

	"chain-stream-sol/internal/consts"
	"chain-stream-sol/internal/stream"
	"chain-stream-sol/internal/tokenaccount"
	"chain-stream-sol/internal/types"
)

func testKey(b byte) types.Pubkey {
	var k types.Pubkey
	k[0] = b
	k[31] = b
	return k
}

func putU64(data []byte, offset int, v uint64) {
	binary.LittleEndian.PutUint64(data[offset:], v)
}

func putKey(data []byte, offset int, k types.Pubkey) {
	copy(data[offset:], k[:])
}

type pumpCurve struct {
	virtualToken uint64
	virtualSol   uint64
	realToken    uint64
	realSol      uint64
	totalSupply  uint64
	complete     bool
}

func (c pumpCurve) encode() []byte {
	data := make([]byte, 81)
	copy(data, pumpFunDiscriminator[:])
	putU64(data, 8, c.virtualToken)
	putU64(data, 16, c.virtualSol)
	putU64(data, 24, c.realToken)
	putU64(data, 32, c.realSol)
	putU64(data, 40, c.totalSupply)
	if c.complete {
		data[48] = 1
	}
	return data
}

type cpmmPool struct {
	vault0, vault1   types.Pubkey
	mint0, mint1     types.Pubkey
	lpSupply         uint64
	protocol0, fund0 uint64
	protocol1, fund1 uint64
}

func (p cpmmPool) encode() []byte {
	data := make([]byte, RaydiumCpmmLen)
	copy(data, cpmmDiscriminator[:])
	putKey(data, 72, p.vault0)
	putKey(data, 104, p.vault1)
	putKey(data, 168, p.mint0)
	putKey(data, 200, p.mint1)
	data[331] = 9
	data[332] = 6
	putU64(data, 333, p.lpSupply)
	putU64(data, 341, p.protocol0)
	putU64(data, 349, p.protocol1)
	putU64(data, 357, p.fund0)
	putU64(data, 365, p.fund1)
	return data
}

type ammV4Pool struct {
	status                uint64
	feeNum, feeDen        uint64
	basePnl, quotePnl     uint64
	baseVault, quoteVault types.Pubkey
	baseMint, quoteMint   types.Pubkey
	lpReserve             uint64
}

func (p ammV4Pool) encode() []byte {
	data := make([]byte, RaydiumAmmV4Len)
	putU64(data, 0, p.status)
	putU64(data, 176, p.feeNum)
	putU64(data, 184, p.feeDen)
	putU64(data, 192, p.basePnl)
	putU64(data, 200, p.quotePnl)
	putKey(data, 336, p.baseVault)
	putKey(data, 368, p.quoteVault)
	putKey(data, 400, p.baseMint)
	putKey(data, 432, p.quoteMint)
	putU64(data, 720, p.lpReserve)
	return data
}

type whirlpoolState struct {
	feeRate       uint16
	liquidityLo   uint64
	liquidityHi   uint64
	sqrtPriceLo   uint64
	sqrtPriceHi   uint64
	owedA, owedB  uint64
	mintA, vaultA types.Pubkey
	mintB, vaultB types.Pubkey
}

func (w whirlpoolState) encode() []byte {
	data := make([]byte, WhirlpoolLen)
	copy(data, whirlpoolDiscriminator[:])
	binary.LittleEndian.PutUint16(data[45:], w.feeRate)
	putU64(data, 49, w.liquidityLo)
	putU64(data, 57, w.liquidityHi)
	putU64(data, 65, w.sqrtPriceLo)
	putU64(data, 73, w.sqrtPriceHi)
	putU64(data, 85, w.owedA)
	putU64(data, 93, w.owedB)
	putKey(data, 101, w.mintA)
	putKey(data, 133, w.vaultA)
	putKey(data, 181, w.mintB)
	putKey(data, 213, w.vaultB)
	return data
}

func poolUpdate(addr, owner types.Pubkey, slot uint64, data []byte) *stream.AccountUpdate {
	return &stream.AccountUpdate{
		Pubkey:   addr,
		Owner:    owner,
		Slot:     slot,
		Lamports: 2_039_280,
		Data:     data,
	}
}

func pumpUpdate(addr types.Pubkey, slot uint64, c pumpCurve) *stream.AccountUpdate {
	return poolUpdate(addr, consts.PumpFunProgram, slot, c.encode())
}

func vaultUpdate(vault, mint types.Pubkey, slot, amount uint64) *stream.AccountUpdate {
	return poolUpdate(vault, consts.TokenProgram, slot, tokenaccount.Encode(mint, testKey(0xEE), amount))
}
