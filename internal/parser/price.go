package parser

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultUnit is assumed whenever an offer omits or garbles its unit token.
const DefaultUnit = "g"

var (
	priceWithUnitRe = regexp.MustCompile(`(\d+[,.]\d+)\s*zł\s*/\s*(\w+)`)
	priceOnlyRe     = regexp.MustCompile(`(\d+[,.]\d+)`)
	unitScaleRe     = regexp.MustCompile(`^(\d+)\s*(g|ml)$`)
)

// ParsePriceUnit converts raw offer text such as "43,98 zł / 10g" into a
// normalized (amount, unit) pair. Unparsable text yields a zero price and
// the default unit; a single bad listing must never abort a whole page, so
// this function does not return an error. Callers discard zero offers.
func ParsePriceUnit(text string) (decimal.Decimal, string) {
	unit := DefaultUnit
	if text == "" {
		return decimal.Zero, unit
	}

	normalized := strings.ToLower(text)
	normalized = strings.ReplaceAll(normalized, " ", "")
	normalized = strings.ReplaceAll(normalized, "zl", "zł")

	var amountText string
	if m := priceWithUnitRe.FindStringSubmatch(normalized); m != nil {
		amountText = m[1]
		unit = m[2]
	} else if m := priceOnlyRe.FindStringSubmatch(normalized); m != nil {
		amountText = m[1]
	} else {
		return decimal.Zero, unit
	}

	amount, err := decimal.NewFromString(strings.ReplaceAll(amountText, ",", "."))
	if err != nil || amount.IsNegative() {
		return decimal.Zero, DefaultUnit
	}

	return amount, NormalizeUnit(unit)
}

// NormalizeUnit lower-cases and strips whitespace, e.g. "10 G" -> "10g".
// An empty unit falls back to the default.
func NormalizeUnit(unit string) string {
	if unit == "" {
		return DefaultUnit
	}
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(unit)), " ", "")
}

// PerUnit rescales a price quoted for a multi-gram or multi-milliliter
// package to the single-unit price, e.g. (439.80, "10g") -> (43.98, "1g").
// Units without a leading quantity pass through unchanged.
func PerUnit(price decimal.Decimal, unit string) (decimal.Decimal, string) {
	m := unitScaleRe.FindStringSubmatch(NormalizeUnit(unit))
	if m == nil {
		return price, NormalizeUnit(unit)
	}
	qty, err := decimal.NewFromString(m[1])
	if err != nil || qty.IsZero() {
		return price, NormalizeUnit(unit)
	}
	return price.DivRound(qty, 2), "1" + m[2]
}

// PriceBand labels how a per-gram price compares to typical market levels.
type PriceBand string

const (
	BandBargain   PriceBand = "bargain"
	BandGood      PriceBand = "good"
	BandNormal    PriceBand = "normal"
	BandExpensive PriceBand = "expensive"
)

var (
	bargainCeiling = decimal.NewFromInt(20)
	goodCeiling    = decimal.NewFromInt(35)
	normalCeiling  = decimal.NewFromInt(40)
)

// Classify maps a per-gram price into a band, used for run logging only.
func Classify(perGram decimal.Decimal) PriceBand {
	switch {
	case perGram.LessThan(bargainCeiling):
		return BandBargain
	case perGram.LessThan(goodCeiling):
		return BandGood
	case perGram.LessThan(normalCeiling):
		return BandNormal
	default:
		return BandExpensive
	}
}
