package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"chain-stream-sol/internal/core"
	"chain-stream-sol/internal/poolmonitor"
	"chain-stream-sol/internal/types"
	"chain-stream-sol/internal/whale"
)

const (
	defaultTopWallets    = 20
	defaultActivityLimit = 50
	maxQueryLimit        = 1000
)

type PoolQuerier interface {
	GetPoolState(addr types.Pubkey) *poolmonitor.PoolState
	GetTrackedPools() []*poolmonitor.PoolState
}

type WalletQuerier interface {
	GetTopWallets(n int) []whale.WalletScore
	GetWalletActivity(addr types.Pubkey, limit int) []whale.WalletActivity
	Wallets() []whale.WalletConfig
}

// Pools /pools 返回全部跟踪中的池子，?address= 查询单个池子
func Pools(app *core.App) http.HandlerFunc {
	if m := app.Monitor(); m != nil {
		return poolsHandler(m)
	}
	return disabled("pool monitor")
}

// TopWallets /wallets/top?n=
func TopWallets(app *core.App) http.HandlerFunc {
	if t := app.Tracker(); t != nil {
		return topWalletsHandler(t)
	}
	return disabled("whale tracker")
}

// WalletActivity /wallets/activity?address=&limit=
func WalletActivity(app *core.App) http.HandlerFunc {
	if t := app.Tracker(); t != nil {
		return walletActivityHandler(t)
	}
	return disabled("whale tracker")
}

// Wallets /wallets 当前跟踪的钱包配置
func Wallets(app *core.App) http.HandlerFunc {
	if t := app.Tracker(); t != nil {
		return walletsHandler(t)
	}
	return disabled("whale tracker")
}

func poolsHandler(q PoolQuerier) http.HandlerFunc {
	return guarded(func(w http.ResponseWriter, r *http.Request) {
		raw := r.URL.Query().Get("address")
		if raw == "" {
			pools := q.GetTrackedPools()
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"count": len(pools),
				"pools": pools,
			})
			return
		}

		addr, err := types.TryPubkeyFromString(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		state := q.GetPoolState(addr)
		if state == nil {
			writeError(w, http.StatusNotFound, "pool not tracked")
			return
		}
		writeJSON(w, http.StatusOK, state)
	})
}

func topWalletsHandler(q WalletQuerier) http.HandlerFunc {
	return guarded(func(w http.ResponseWriter, r *http.Request) {
		n, err := parseLimit(r.URL.Query().Get("n"), defaultTopWallets)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		scores := q.GetTopWallets(n)
		type rankedWallet struct {
			whale.WalletScore
			RankingScore float64 `json:"ranking_score"`
		}
		out := make([]rankedWallet, 0, len(scores))
		for _, s := range scores {
			out = append(out, rankedWallet{WalletScore: s, RankingScore: s.RankingScore()})
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"wallets": out})
	})
}

func walletActivityHandler(q WalletQuerier) http.HandlerFunc {
	return guarded(func(w http.ResponseWriter, r *http.Request) {
		addr, err := types.TryPubkeyFromString(r.URL.Query().Get("address"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		limit, err := parseLimit(r.URL.Query().Get("limit"), defaultActivityLimit)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		activity := q.GetWalletActivity(addr, limit)
		if activity == nil {
			activity = []whale.WalletActivity{}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"address":  addr,
			"activity": activity,
		})
	})
}

func walletsHandler(q WalletQuerier) http.HandlerFunc {
	return guarded(func(w http.ResponseWriter, r *http.Request) {
		wallets := q.Wallets()
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"count":   len(wallets),
			"wallets": wallets,
		})
	})
}

func parseLimit(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid limit %q", raw)
	}
	return min(n, maxQueryLimit), nil
}

func disabled(module string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, module+" is disabled")
	}
}

func guarded(fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// 使用 defer 和 recover 捕获 panic 错误
		defer func() {
			if r := recover(); r != nil {
				http.Error(w, fmt.Sprintf("Internal server error: %v", r), http.StatusInternalServerError)
			}
		}()
		fn(w, r)
	}
}
