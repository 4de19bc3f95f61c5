package bot

import (
	"github.com/shopspring/decimal"
)

// Tier is one row of the static mainnet fee table.
type Tier struct {
	Emoji string
	Label string
	Gwei  decimal.Decimal
}

// MainnetTiers is the fixed tier table quoted by /mainnet.
var MainnetTiers = []Tier{
	{Emoji: "📉", Label: "Low", Gwei: decimal.RequireFromString("2.4")},
	{Emoji: "📊", Label: "Average", Gwei: decimal.RequireFromString("2.6")},
	{Emoji: "📈", Label: "High", Gwei: decimal.RequireFromString("2.8")},
}

// DefaultGasUnits is the gas used by a plain transfer.
const DefaultGasUnits = 21000

var gweiPerEther = decimal.New(1, 9)

// EstimateUSD prices gasUnits at gwei, converted with the ether/fiat rate, to cents.
func EstimateUSD(gwei, etherUSD decimal.Decimal, gasUnits int64) decimal.Decimal {
	return gwei.Mul(decimal.NewFromInt(gasUnits)).Mul(etherUSD).Div(gweiPerEther).Round(2)
}
