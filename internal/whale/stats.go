package whale

import "chain-stream-sol/internal/pkg/utils"

type Stats struct {
	Running          bool                 `json:"running"`
	WalletsTracked   int                  `json:"wallets_tracked"`
	Subscriptions    int                  `json:"subscriptions"`
	BalancesTracked  int                  `json:"balances_tracked"`
	ScoredWallets    int                  `json:"scored_wallets"`
	UpdatesProcessed uint64               `json:"updates_processed"`
	DecodeErrors     uint64               `json:"decode_errors"`
	StaleDropped     uint64               `json:"stale_dropped"`
	BelowMinimum     uint64               `json:"below_minimum"`
	EventsEmitted    uint64               `json:"events_emitted"`
	EventsByType     map[EventType]uint64 `json:"events_by_type"`
	CopyTradeSignals uint64               `json:"copy_trade_signals"`
	TrackedVolumeUSD float64              `json:"tracked_volume_usd"`
}

func (t *Tracker) GetStats() Stats {
	t.walletsMu.RLock()
	wallets, subs := len(t.wallets), len(t.subIDs)
	t.walletsMu.RUnlock()

	t.balMu.Lock()
	balances := len(t.balances)
	t.balMu.Unlock()

	t.scoresMu.RLock()
	scored := len(t.scores)
	t.scoresMu.RUnlock()

	t.countsMu.Lock()
	byType := make(map[EventType]uint64, len(t.eventCounts))
	for k, v := range t.eventCounts {
		byType[k] = v
	}
	t.countsMu.Unlock()

	return Stats{
		Running:          t.running.Load(),
		WalletsTracked:   wallets,
		Subscriptions:    subs,
		BalancesTracked:  balances,
		ScoredWallets:    scored,
		UpdatesProcessed: t.updatesProcessed.Load(),
		DecodeErrors:     t.decodeErrors.Load(),
		StaleDropped:     t.staleDropped.Load(),
		BelowMinimum:     t.belowMinimum.Load(),
		EventsEmitted:    t.eventsEmitted.Load(),
		EventsByType:     byType,
		CopyTradeSignals: t.copySignals.Load(),
		TrackedVolumeUSD: utils.Float64Round2(t.volumeUSD.Load()),
	}
}
