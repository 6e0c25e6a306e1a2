package multiplier

import (
	"fmt"
	"regexp"

	"tycoon/internal/num"
)

type Rule string

const (
	RuleMultiplicative Rule = "multiplicative"
	RuleAdditive       Rule = "additive"
)

func (r Rule) valid() bool {
	return r == RuleMultiplicative || r == RuleAdditive
}

type Category struct {
	Name string `json:"name" yaml:"name"`
	Rule Rule   `json:"rule" yaml:"rule"`
	// Floor clamps the folded multiplier from below when positive.
	Floor num.Decimal `json:"floor" yaml:"floor"`
}

var categoryRE = regexp.MustCompile(`^[a-z][a-z0-9_]{1,47}$`)

func (c Category) validate() error {
	if !categoryRE.MatchString(c.Name) {
		return fmt.Errorf("%w: %q", ErrInvalidCategory, c.Name)
	}
	if c.Rule != "" && !c.Rule.valid() {
		return fmt.Errorf("%w: category %s has rule %q", ErrInvalidRule, c.Name, c.Rule)
	}
	if c.Floor.Sign() < 0 {
		return fmt.Errorf("%w: category %s floor %s is negative", ErrInvalidCategory, c.Name, c.Floor)
	}
	return nil
}

func (c Category) rule() Rule {
	if c.Rule == "" {
		return RuleMultiplicative
	}
	return c.Rule
}

const (
	AllIncome          = "all_income"
	BusinessRevenue    = "business_revenue"
	CustomerAttraction = "customer_attraction"
	JobEfficiency      = "job_efficiency"
	CostReduction      = "cost_reduction"
	StockReturns       = "stock_returns"
	CryptoReturns      = "crypto_returns"
	RealEstateRent     = "real_estate_rent"
	GamblingLuck       = "gambling_luck"
	OfflineEfficiency  = "offline_efficiency"
	XPGain             = "xp_gain"
	PrestigeGain       = "prestige_gain"
	LoanRate           = "loan_rate"
	DepositRate        = "deposit_rate"
	DividendIncome     = "dividend_income"
)

// DefaultCategories is the registry every economic store folds against.
// Reduction categories carry negative contribution values and a floor so
// stacked discounts never reach zero.
func DefaultCategories() []Category {
	reductionFloor := num.MustParse("0.01")
	names := []string{
		AllIncome, BusinessRevenue, CustomerAttraction, JobEfficiency,
		StockReturns, CryptoReturns, RealEstateRent, GamblingLuck,
		OfflineEfficiency, XPGain, PrestigeGain, DepositRate, DividendIncome,
	}
	out := make([]Category, 0, len(names)+2)
	for _, n := range names {
		out = append(out, Category{Name: n, Rule: RuleMultiplicative})
	}
	out = append(out,
		Category{Name: CostReduction, Rule: RuleMultiplicative, Floor: reductionFloor},
		Category{Name: LoanRate, Rule: RuleMultiplicative, Floor: reductionFloor},
	)
	return out
}
