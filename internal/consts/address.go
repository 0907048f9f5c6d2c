package consts

import "chain-stream-sol/internal/types"

// 常用 mint
const (
	WSOLMintStr = "So11111111111111111111111111111111111111112"
	USDCMintStr = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	USDTMintStr = "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB"
)

// 程序 ID
const (
	TokenProgramStr     = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	Token2022ProgramStr = "TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb"

	RaydiumAmmV4ProgramStr  = "675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8"
	RaydiumCpmmProgramStr   = "CPMMoo8L3F4NbTegBCKVNunggL7H1ZpdTHKxQB5qKP1C"
	OrcaWhirlpoolProgramStr = "whirLbMiicVdio4qvUfM5KAg6Ct8VwpYzGff3uctyCc"
	PumpFunProgramStr       = "6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P"
)

var (
	WSOLMint = types.PubkeyFromString(WSOLMintStr)
	USDCMint = types.PubkeyFromString(USDCMintStr)
	USDTMint = types.PubkeyFromString(USDTMintStr)

	TokenProgram     = types.PubkeyFromString(TokenProgramStr)
	Token2022Program = types.PubkeyFromString(Token2022ProgramStr)

	RaydiumAmmV4Program  = types.PubkeyFromString(RaydiumAmmV4ProgramStr)
	RaydiumCpmmProgram   = types.PubkeyFromString(RaydiumCpmmProgramStr)
	OrcaWhirlpoolProgram = types.PubkeyFromString(OrcaWhirlpoolProgramStr)
	PumpFunProgram       = types.PubkeyFromString(PumpFunProgramStr)
)

// KnownSymbols 常见 mint 的展示符号
var KnownSymbols = map[types.Pubkey]string{
	WSOLMint: "SOL",
	USDCMint: "USDC",
	USDTMint: "USDT",
}

func IsTokenProgram(owner types.Pubkey) bool {
	return owner == TokenProgram || owner == Token2022Program
}

// TokenSymbol 未知 mint 返回地址前 8 位
func TokenSymbol(mint types.Pubkey) string {
	if s, ok := KnownSymbols[mint]; ok {
		return s
	}
	return mint.Short()
}
