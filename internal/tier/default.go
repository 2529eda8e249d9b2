package tier

import (
	"github.com/shopspring/decimal"

	"github.com/autogrowth/growth-engine/internal/model"
)

// DefaultTiers is the catalog seeded on first boot when the tiers table is
// empty. Administrators edit the live table afterwards; the engine never
// writes to it again.
func DefaultTiers() []model.Tier {
	pct := func(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

	return []model.Tier{
		{
			ID:        1,
			Name:      "Starter",
			MinAmount: decimal.Zero,
			MaxAmount: decimal.NewFromInt(1000),
			Days:      30,
			DailyROI:  pct(0.003),
			AllocationMix: map[string]decimal.Decimal{
				"USDT": pct(70),
				"BTC":  pct(20),
				"ETH":  pct(10),
			},
		},
		{
			ID:        2,
			Name:      "Growth",
			MinAmount: decimal.NewFromInt(1000),
			MaxAmount: decimal.NewFromInt(5000),
			Days:      60,
			DailyROI:  pct(0.005),
			AllocationMix: map[string]decimal.Decimal{
				"USDT": pct(50),
				"BTC":  pct(30),
				"ETH":  pct(20),
			},
		},
		{
			ID:        3,
			Name:      "Advanced",
			MinAmount: decimal.NewFromInt(5000),
			MaxAmount: decimal.NewFromInt(25000),
			Days:      90,
			DailyROI:  pct(0.007),
			AllocationMix: map[string]decimal.Decimal{
				"USDT": pct(40),
				"BTC":  pct(35),
				"ETH":  pct(25),
			},
		},
		{
			ID:        4,
			Name:      "Elite",
			MinAmount: decimal.NewFromInt(25000),
			MaxAmount: decimal.Zero, // unbounded top tier
			Days:      120,
			DailyROI:  pct(0.01),
			AllocationMix: map[string]decimal.Decimal{
				"USDT": pct(30),
				"BTC":  pct(40),
				"ETH":  pct(30),
			},
		},
	}
}
