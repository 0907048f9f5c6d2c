package poolmonitor

type Stats struct {
	Running            bool                     `json:"running"`
	EnabledDexes       []string                 `json:"enabled_dexes"`
	TrackedPools       int                      `json:"tracked_pools"`
	MaxPoolsTracked    int                      `json:"max_pools_tracked"`
	Subscriptions      int                      `json:"subscriptions"`
	VaultSubscriptions int                      `json:"vault_subscriptions"`
	PendingVaults      int                      `json:"pending_vaults"`
	UpdatesProcessed   uint64                   `json:"updates_processed"`
	DecodeErrors       uint64                   `json:"decode_errors"`
	StaleDropped       uint64                   `json:"stale_dropped"`
	EventsEmitted      uint64                   `json:"events_emitted"`
	EventsByType       map[PoolEventType]uint64 `json:"events_by_type"`
	PoolsClosed        uint64                   `json:"pools_closed"`
	PoolsEvicted       uint64                   `json:"pools_evicted"`
}

func (m *Monitor) GetStats() Stats {
	dexes := make([]string, 0, len(m.dexes))
	for _, d := range m.dexes {
		dexes = append(dexes, d.String())
	}

	m.lifecycleMu.Lock()
	subs := len(m.subIDs)
	m.lifecycleMu.Unlock()

	var vaultSubs, pending int
	if w := m.vaults.Load(); w != nil {
		vaultSubs = w.Subscribed()
		pending = w.Pending()
	}

	m.countsMu.Lock()
	byType := make(map[PoolEventType]uint64, len(m.eventCounts))
	for k, v := range m.eventCounts {
		byType[k] = v
	}
	m.countsMu.Unlock()

	return Stats{
		Running:            m.running.Load(),
		EnabledDexes:       dexes,
		TrackedPools:       m.pools.Len(),
		MaxPoolsTracked:    m.cfg.MaxPoolsTracked,
		Subscriptions:      subs,
		VaultSubscriptions: vaultSubs,
		PendingVaults:      pending,
		UpdatesProcessed:   m.updatesProcessed.Load(),
		DecodeErrors:       m.decodeErrors.Load(),
		StaleDropped:       m.staleDropped.Load(),
		EventsEmitted:      m.eventsEmitted.Load(),
		EventsByType:       byType,
		PoolsClosed:        m.poolsClosed.Load(),
		PoolsEvicted:       m.poolsEvicted.Load(),
	}
}
