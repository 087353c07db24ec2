// Package economy holds the static boost table, ad reward rules and partner
// rewards.
package economy

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	defaultAdCooldown    = 30 * time.Second
	defaultDailyAdLimit  = 200
	defaultShortAdReward = 10
	defaultLongAdReward  = 20

	// AdKindVideo marks long-form creatives.
	AdKindVideo = "video"
)

// Boost is one purchasable multiplier level.
type Boost struct {
	Level        int
	Name         string
	Multiplier   decimal.Decimal
	CostTON      decimal.Decimal
	DurationDays int
}

// Purchasable reports whether the boost can be ordered.
func (boost Boost) Purchasable() bool {
	return boost.CostTON.IsPositive()
}

// Duration returns the boost lifetime.
func (boost Boost) Duration() time.Duration {
	return time.Duration(boost.DurationDays) * 24 * time.Hour
}

// DefaultBoosts returns levels 0 (Base) through 4 (Diamond).
func DefaultBoosts() []Boost {
	return []Boost{
		{Level: 0, Name: "Base", Multiplier: decimal.NewFromInt(1), CostTON: decimal.Zero},
		{Level: 1, Name: "Bronze", Multiplier: decimal.RequireFromString("1.25"), CostTON: decimal.RequireFromString("0.3"), DurationDays: 7},
		{Level: 2, Name: "Silver", Multiplier: decimal.RequireFromString("1.5"), CostTON: decimal.RequireFromString("0.7"), DurationDays: 14},
		{Level: 3, Name: "Gold", Multiplier: decimal.NewFromInt(2), CostTON: decimal.RequireFromString("1.5"), DurationDays: 30},
		{Level: 4, Name: "Diamond", Multiplier: decimal.NewFromInt(3), CostTON: decimal.RequireFromString("3.5"), DurationDays: 60},
	}
}

// AdRules govern ad-watch rewards.
type AdRules struct {
	Cooldown    time.Duration
	DailyLimit  int
	ShortReward decimal.Decimal
	LongReward  decimal.Decimal
	// Kinds maps ad ids to creative kinds; unknown ids are short ads.
	Kinds map[string]string
}

// DefaultAdRules returns a 30s cooldown, 200 daily watches and 10/20 energy rewards.
func DefaultAdRules() AdRules {
	return AdRules{
		Cooldown:    defaultAdCooldown,
		DailyLimit:  defaultDailyAdLimit,
		ShortReward: decimal.NewFromInt(defaultShortAdReward),
		LongReward:  decimal.NewFromInt(defaultLongAdReward),
		Kinds:       map[string]string{},
	}
}

// BaseReward returns the unboosted reward for adID.
func (rules AdRules) BaseReward(adID string) decimal.Decimal {
	if rules.Kinds[adID] == AdKindVideo {
		return rules.LongReward
	}
	return rules.ShortReward
}

// Partner is a one-time reward for following a partner channel.
type Partner struct {
	ID       string
	Platform string
	Name     string
	Reward   decimal.Decimal
	Active   bool
}

// DefaultPartners returns the launch partner channels.
func DefaultPartners() []Partner {
	return []Partner{
		{ID: "telegram_cladhunter_official", Platform: "telegram", Name: "Cladhunter Official", Reward: decimal.NewFromInt(1000), Active: true},
		{ID: "telegram_crypto_insights", Platform: "telegram", Name: "Crypto Insights", Reward: decimal.NewFromInt(750), Active: true},
		{ID: "x_cladhunter", Platform: "x", Name: "Cladhunter X", Reward: decimal.NewFromInt(800), Active: true},
		{ID: "youtube_crypto_tutorials", Platform: "youtube", Name: "Crypto Tutorials", Reward: decimal.NewFromInt(500), Active: true},
	}
}

// Economy is the boost table plus ad rules and partner rewards.
type Economy struct {
	boosts   map[int]Boost
	ads      AdRules
	partners []Partner
}

// New builds an economy from boosts and ad rules.
func New(boosts []Boost, ads AdRules) Economy {
	table := make(map[int]Boost, len(boosts))
	for _, boost := range boosts {
		table[boost.Level] = boost
	}
	return Economy{boosts: table, ads: ads}
}

// Default returns the standard economy.
func Default() Economy {
	return New(DefaultBoosts(), DefaultAdRules()).WithPartners(DefaultPartners())
}

// WithPartners returns a copy of the economy offering partners.
func (economy Economy) WithPartners(partners []Partner) Economy {
	economy.partners = append([]Partner(nil), partners...)
	return economy
}

// Partner looks up an active partner.
func (economy Economy) Partner(id string) (Partner, bool) {
	for _, partner := range economy.partners {
		if partner.ID == id && partner.Active {
			return partner, true
		}
	}
	return Partner{}, false
}

// ActivePartners lists the partners that can be claimed.
func (economy Economy) ActivePartners() []Partner {
	active := make([]Partner, 0, len(economy.partners))
	for _, partner := range economy.partners {
		if partner.Active {
			active = append(active, partner)
		}
	}
	return active
}

// Boost looks up a level.
func (economy Economy) Boost(level int) (Boost, bool) {
	boost, ok := economy.boosts[level]
	return boost, ok
}

// Ads returns the ad rules.
func (economy Economy) Ads() AdRules {
	return economy.ads
}

// EffectiveLevel treats an expired boost as level 0.
func (economy Economy) EffectiveLevel(level int, expiresAt *time.Time, now time.Time) int {
	if level <= 0 {
		return 0
	}
	if expiresAt != nil && !now.Before(*expiresAt) {
		return 0
	}
	return level
}

// Multiplier returns the reward multiplier of the effective level.
func (economy Economy) Multiplier(level int, expiresAt *time.Time, now time.Time) decimal.Decimal {
	boost, ok := economy.boosts[economy.EffectiveLevel(level, expiresAt, now)]
	if !ok {
		return decimal.NewFromInt(1)
	}
	return boost.Multiplier
}
