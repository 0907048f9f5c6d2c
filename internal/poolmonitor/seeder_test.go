package poolmonitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"chain-stream-sol/internal/consts"
	"github.com/blocto/solana-go-sdk/client"
	"github.com/blocto/solana-go-sdk/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	accounts map[string]client.AccountInfo
	err      error
	batches  [][]string
}

func (f *fakeFetcher) GetMultipleAccounts(_ context.Context, addrs []string) ([]client.AccountInfo, error) {
	f.batches = append(f.batches, addrs)
	if f.err != nil {
		return nil, f.err
	}
	out := make([]client.AccountInfo, len(addrs))
	for i, a := range addrs {
		out[i] = f.accounts[a]
	}
	return out, nil
}

func TestSeedFromRPC(t *testing.T) {
	pump, cpmm, missing, foreign := testKey(1), testKey(2), testKey(3), testKey(4)
	cfg := DefaultConfig()
	cfg.PoolAllowlist = []string{pump.String(), cpmm.String(), missing.String(), foreign.String()}
	m, sc, rec := startMonitor(t, cfg)

	fetcher := &fakeFetcher{accounts: map[string]client.AccountInfo{
		pump.String(): {
			Lamports: 1_000_000,
			Owner:    common.PublicKeyFromBytes(consts.PumpFunProgram[:]),
			Data:     pumpCurve{virtualToken: 1000, virtualSol: 500, realSol: 1}.encode(),
		},
		cpmm.String(): {
			Lamports: 1_000_000,
			Owner:    common.PublicKeyFromBytes(consts.RaydiumCpmmProgram[:]),
			Data:     cpmmPool{vault0: testKey(11), vault1: testKey(12), lpSupply: 10}.encode(),
		},
		foreign.String(): {
			Lamports: 1_000_000,
			Owner:    common.PublicKeyFromBytes(consts.TokenProgram[:]),
			Data:     make([]byte, 165),
		},
	}}

	n, err := m.SeedFromRPC(context.Background(), fetcher, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, fetcher.batches, 1)
	assert.Len(t, fetcher.batches[0], 4)

	assert.Len(t, rec.ofType(EventNewPool), 2)
	s := m.GetPoolState(pump)
	require.NotNil(t, s)
	assert.Equal(t, uint64(0), s.Slot)
	assert.Nil(t, m.GetPoolState(missing))
	assert.Nil(t, m.GetPoolState(foreign))

	// 任何流式更新都会覆盖种子状态
	sc.deliver(pumpUpdate(pump, 1, pumpCurve{virtualToken: 2000, virtualSol: 500, realSol: 1}))
	assert.Equal(t, uint64(2000), m.GetPoolState(pump).TokenAReserve)
}

func TestSeedFromRPC_Errors(t *testing.T) {
	cfg := DefaultConfig()
	m, err := NewMonitor(cfg, newFakeClient())
	require.NoError(t, err)

	// 没有白名单时不请求
	fetcher := &fakeFetcher{err: errors.New("unreachable")}
	n, err := m.SeedFromRPC(context.Background(), fetcher, time.Second)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, fetcher.batches)

	cfg.PoolAllowlist = []string{testKey(1).String()}
	m, err = NewMonitor(cfg, newFakeClient())
	require.NoError(t, err)
	_, err = m.SeedFromRPC(context.Background(), fetcher, time.Second)
	assert.ErrorContains(t, err, "unreachable")
}
