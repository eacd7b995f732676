package alarm

import (
	"context"
	"sync"

	"hubalert/internal/types"
)

// PlaceResolver resolves the place attributes that select a strategy.
type PlaceResolver interface {
	PlaceFor(ctx context.Context, placeID string) (types.PlaceInfo, error)
}

// StrategyRegistry resolves the notification strategy for a place, keyed by
// its service tier. Resolved strategies are cached per place; the cache must
// be invalidated when a place is reconfigured (tier change), or the old
// strategy keeps serving it.
type StrategyRegistry struct {
	tiers    map[types.ServiceTier]StrategyConfig
	callTree CallTree
	sender   NotificationSender
	clock    types.Clock
	logger   types.Logger

	mu    sync.Mutex
	cache map[string]NotificationStrategy

	// tierStrategies are shared per tier: strategy state is keyed by
	// incident address, so places on the same tier can share one instance.
	tierStrategies map[types.ServiceTier]NotificationStrategy
}

// DefaultTierStrategies is the standard tier-to-strategy mapping: premium and
// professionally monitored places notify the full call tree at high priority,
// everything else notifies the owner only via push.
func DefaultTierStrategies() map[types.ServiceTier]StrategyConfig {
	return map[types.ServiceTier]StrategyConfig{
		types.TierBasic: {
			NotifyFullTree:  false,
			TriggerPriority: types.PriorityMedium,
		},
		types.TierPremium: {
			NotifyFullTree:  true,
			TriggerPriority: types.PriorityHigh,
		},
		types.TierProMon: {
			NotifyFullTree:  true,
			TriggerPriority: types.PriorityHigh,
		},
	}
}

// NewStrategyRegistry creates a registry with the given tier-to-strategy
// mapping. A nil map selects DefaultTierStrategies. Tiers absent from the map
// fall back to the basic tier's configuration.
func NewStrategyRegistry(tiers map[types.ServiceTier]StrategyConfig, callTree CallTree, sender NotificationSender, clock types.Clock, logger types.Logger) *StrategyRegistry {
	if tiers == nil {
		tiers = DefaultTierStrategies()
	}
	return &StrategyRegistry{
		tiers:          tiers,
		callTree:       callTree,
		sender:         sender,
		clock:          clock,
		logger:         logger,
		cache:          make(map[string]NotificationStrategy),
		tierStrategies: make(map[types.ServiceTier]NotificationStrategy),
	}
}

// ForPlace returns the strategy governing the place's alerts.
func (r *StrategyRegistry) ForPlace(place types.PlaceInfo) NotificationStrategy {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.cache[place.ID]; ok {
		return s
	}
	s := r.strategyForTier(place.Tier)
	r.cache[place.ID] = s
	return s
}

// Invalidate drops the cached strategy for a place. Called when the place's
// configuration changes.
func (r *StrategyRegistry) Invalidate(placeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, placeID)
}

// strategyForTier returns the shared strategy instance for a tier, creating it
// on first use. Callers hold r.mu.
func (r *StrategyRegistry) strategyForTier(tier types.ServiceTier) NotificationStrategy {
	if s, ok := r.tierStrategies[tier]; ok {
		return s
	}

	cfg, ok := r.tiers[tier]
	if !ok {
		cfg = r.tiers[types.TierBasic]
	}

	s := NewStrategy(cfg, r.callTree, r.sender, r.clock, r.logger)
	r.tierStrategies[tier] = s
	return s
}
