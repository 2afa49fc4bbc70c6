package wallet

const (
	// Recharges of at least RechargeBonusThreshold coins earn RechargeBonusPercent extra.
	RechargeBonusThreshold = 100
	RechargeBonusPercent   = 15

	// MaxRecharge is the largest single recharge accepted.
	MaxRecharge = 1_000_000
)

// RechargeAmount returns the coins credited for a paid recharge, bonus included.
func RechargeAmount(paid int) int {
	if paid < RechargeBonusThreshold {
		return paid
	}
	bonus := paid/100*RechargeBonusPercent + paid%100*RechargeBonusPercent/100
	return paid + bonus
}

// Bundle is a reference session size on the pricing card.
type Bundle struct {
	Name     string `json:"name"`
	Messages int    `json:"messages"`
	Coins    int    `json:"coins"`
}

// Pricing is what the pricing card displays.
type Pricing struct {
	PerMessage     int      `json:"per_message"`
	Bundles        []Bundle `json:"bundles"`
	BonusThreshold int      `json:"bonus_threshold"`
	BonusPercent   int      `json:"bonus_percent"`
}

// NewPricing derives the card from the per-message cost.
func NewPricing(perMessage int) Pricing {
	return Pricing{
		PerMessage: perMessage,
		Bundles: []Bundle{
			{Name: "Average Session", Messages: 10, Coins: 10 * perMessage},
			{Name: "Long Session", Messages: 25, Coins: 25 * perMessage},
		},
		BonusThreshold: RechargeBonusThreshold,
		BonusPercent:   RechargeBonusPercent,
	}
}
