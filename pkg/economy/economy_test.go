package economy

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestDefaultBoostTable(t *testing.T) {
	t.Parallel()
	economy := Default()
	cases := []struct {
		level       int
		cost        string
		multiplier  string
		days        int
		purchasable bool
	}{
		{level: 0, cost: "0", multiplier: "1", days: 0, purchasable: false},
		{level: 1, cost: "0.3", multiplier: "1.25", days: 7, purchasable: true},
		{level: 2, cost: "0.7", multiplier: "1.5", days: 14, purchasable: true},
		{level: 3, cost: "1.5", multiplier: "2", days: 30, purchasable: true},
		{level: 4, cost: "3.5", multiplier: "3", days: 60, purchasable: true},
	}
	for _, tc := range cases {
		boost, ok := economy.Boost(tc.level)
		if !ok {
			t.Fatalf("level %d missing", tc.level)
		}
		if !boost.CostTON.Equal(decimal.RequireFromString(tc.cost)) || !boost.Multiplier.Equal(decimal.RequireFromString(tc.multiplier)) {
			t.Fatalf("level %d: unexpected boost %+v", tc.level, boost)
		}
		if boost.DurationDays != tc.days || boost.Purchasable() != tc.purchasable {
			t.Fatalf("level %d: unexpected duration/purchasable %+v", tc.level, boost)
		}
	}
	if _, ok := economy.Boost(9); ok {
		t.Fatalf("expected unknown level")
	}
}

func TestMultiplierIgnoresExpiredBoost(t *testing.T) {
	t.Parallel()
	economy := Default()
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	past := now.Add(-time.Second)
	future := now.Add(time.Hour)
	if !economy.Multiplier(3, &future, now).Equal(decimal.NewFromInt(2)) {
		t.Fatalf("expected active gold multiplier")
	}
	if !economy.Multiplier(3, &past, now).Equal(decimal.NewFromInt(1)) {
		t.Fatalf("expected expired boost to fall back to base")
	}
	if economy.EffectiveLevel(2, nil, now) != 2 {
		t.Fatalf("expected boost without expiry to stay active")
	}
}

func TestAdBaseReward(t *testing.T) {
	t.Parallel()
	rules := DefaultAdRules()
	rules.Kinds["promo-video"] = AdKindVideo
	if !rules.BaseReward("promo-video").Equal(decimal.NewFromInt(20)) {
		t.Fatalf("expected long reward for video")
	}
	if !rules.BaseReward("unknown").Equal(decimal.NewFromInt(10)) {
		t.Fatalf("expected short reward for unknown ad")
	}
}

func TestPartnersLookupSkipsInactive(t *testing.T) {
	t.Parallel()
	rules := Default()
	if len(rules.ActivePartners()) != 4 {
		t.Fatalf("expected 4 launch partners, got %d", len(rules.ActivePartners()))
	}
	partner, ok := rules.Partner("telegram_cladhunter_official")
	if !ok || !partner.Reward.Equal(decimal.NewFromInt(1000)) || partner.Platform != "telegram" {
		t.Fatalf("unexpected partner %+v", partner)
	}
	if _, ok := rules.Partner("missing"); ok {
		t.Fatalf("expected unknown partner to be absent")
	}

	partners := DefaultPartners()
	partners[0].Active = false
	limited := New(DefaultBoosts(), DefaultAdRules()).WithPartners(partners)
	if _, ok := limited.Partner(partners[0].ID); ok {
		t.Fatalf("expected inactive partner to be hidden")
	}
	if len(limited.ActivePartners()) != 3 {
		t.Fatalf("expected 3 active partners, got %d", len(limited.ActivePartners()))
	}
	if _, ok := rules.Partner(partners[0].ID); !ok {
		t.Fatalf("WithPartners must not change the source economy")
	}
}
