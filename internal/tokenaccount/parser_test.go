package tokenaccount

import (
	"testing"

	"chain-stream-sol/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	acct  = types.PubkeyFromString("Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB")
	mint  = types.PubkeyFromString("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
	owner = types.PubkeyFromString("So11111111111111111111111111111111111111112")
)

func TestParse(t *testing.T) {
	data := Encode(mint, owner, 1_234_567_890)

	ta, err := Parse(acct, data)
	require.NoError(t, err)
	assert.Equal(t, mint, ta.Mint)
	assert.Equal(t, owner, ta.Owner)
	assert.Equal(t, uint64(1_234_567_890), ta.Amount)
	assert.False(t, ta.Frozen())
}

func TestParse_Token2022Extensions(t *testing.T) {
	data := append(Encode(mint, owner, 7), make([]byte, 40)...)
	data[108] = 2

	ta, err := Parse(acct, data)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), ta.Amount)
	assert.True(t, ta.Frozen())
}

func TestParse_Errors(t *testing.T) {
	data := Encode(mint, owner, 1)

	_, err := Parse(acct, data[:164])
	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.ErrorIs(t, err, ErrDataTooShort)
	assert.Equal(t, 164, decodeErr.Len)

	_, err = Parse(acct, nil)
	assert.ErrorIs(t, err, ErrDataTooShort)

	data[108] = 0
	_, err = Parse(acct, data)
	assert.ErrorIs(t, err, ErrUninitialized)
}
