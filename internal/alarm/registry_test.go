package alarm

import (
	"context"
	"testing"

	"hubalert/internal/types"
)

func premiumPlace(id string) types.PlaceInfo {
	return types.PlaceInfo{ID: id, Tier: types.TierPremium}
}

func basicPlace(id string) types.PlaceInfo {
	return types.PlaceInfo{ID: id, Tier: types.TierBasic}
}

func newTestRegistry(sender NotificationSender) *StrategyRegistry {
	return NewStrategyRegistry(nil, standardTree(), sender, testClock(), &mockLogger{})
}

func TestRegistry_SamePlaceSameStrategy(t *testing.T) {
	r := newTestRegistry(&spySender{})

	first := r.ForPlace(premiumPlace("place-1"))
	second := r.ForPlace(premiumPlace("place-1"))
	if first != second {
		t.Error("repeated lookups for a place must return the cached strategy")
	}
}

func TestRegistry_SameTierSharesInstance(t *testing.T) {
	r := newTestRegistry(&spySender{})

	a := r.ForPlace(premiumPlace("place-1"))
	b := r.ForPlace(premiumPlace("place-2"))
	if a != b {
		t.Error("places on the same tier share one strategy instance")
	}
}

func TestRegistry_TiersSelectDifferentReach(t *testing.T) {
	sender := &spySender{}
	r := newTestRegistry(sender)
	ctx := context.Background()
	trig := []types.Trigger{smokeTrigger("d1")}

	premium := r.ForPlace(premiumPlace("place-1"))
	if err := premium.Execute(ctx, types.Address("SERV:incident:a"), "place-1", trig); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	premiumSent := sender.all()
	if len(premiumSent) != 2 {
		t.Fatalf("premium must notify the full enabled tree, got %d", len(premiumSent))
	}
	for _, n := range premiumSent {
		if n.Priority != types.PriorityHigh {
			t.Errorf("premium alerts escalate to IVR via HIGH priority, got %s", n.Priority)
		}
	}

	basic := r.ForPlace(basicPlace("place-2"))
	if basic == premium {
		t.Fatal("basic and premium tiers must use different strategies")
	}
	if err := basic.Execute(ctx, types.Address("SERV:incident:b"), "place-2", trig); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	basicSent := sender.all()[len(premiumSent):]
	if len(basicSent) != 1 {
		t.Fatalf("basic must notify the owner only, got %d", len(basicSent))
	}
	if basicSent[0].Priority != types.PriorityMedium {
		t.Errorf("basic alerts go out as push via MEDIUM priority, got %s", basicSent[0].Priority)
	}
}

func TestRegistry_CustomTierMapOverridesDefaults(t *testing.T) {
	sender := &spySender{}
	tiers := map[types.ServiceTier]StrategyConfig{
		types.TierBasic: {NotifyFullTree: true, TriggerPriority: types.PriorityHigh},
	}
	r := NewStrategyRegistry(tiers, standardTree(), sender, testClock(), &mockLogger{})
	ctx := context.Background()

	basic := r.ForPlace(basicPlace("place-1"))
	if err := basic.Execute(ctx, types.Address("SERV:incident:a"), "place-1", []types.Trigger{smokeTrigger("d1")}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := len(sender.all()); got != 2 {
		t.Errorf("custom basic config must notify the full enabled tree, got %d", got)
	}

	// A tier absent from the map falls back to the basic configuration.
	premium := r.ForPlace(premiumPlace("place-2"))
	before := len(sender.all())
	if err := premium.Execute(ctx, types.Address("SERV:incident:b"), "place-2", []types.Trigger{smokeTrigger("d2")}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := len(sender.all()) - before; got != 2 {
		t.Errorf("unmapped tier must fall back to the basic config, got %d notifications", got)
	}
}

func TestRegistry_InvalidateRebindsAfterTierChange(t *testing.T) {
	r := newTestRegistry(&spySender{})

	before := r.ForPlace(premiumPlace("place-1"))
	r.Invalidate("place-1")

	// The place downgraded; the next lookup must bind the basic strategy.
	after := r.ForPlace(basicPlace("place-1"))
	if before == after {
		t.Error("invalidated place must re-resolve its strategy from the new tier")
	}
}
