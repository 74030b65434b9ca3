package compound

import (
	"fmt"

	"github.com/holiman/uint256"

	"mmlink/native/fixedpoint"
)

// BlocksPerYear converts annual rates into per-block rates.
const BlocksPerYear = 2_102_400

// InterestModel is a kinked borrow-rate curve. All fields are per-block
// 18-decimal mantissas except Kink, which is a utilisation mantissa.
type InterestModel struct {
	// BaseRate is the borrow rate applied when utilisation is zero.
	BaseRate *uint256.Int
	// Slope1 is the rate increase per unit of utilisation up to the kink.
	Slope1 *uint256.Int
	// Slope2 is the steeper increase applied beyond the kink.
	Slope2 *uint256.Int
	// Kink is the utilisation where the curve switches to Slope2.
	Kink *uint256.Int
}

// NewInterestModel builds a model from annual decimals, e.g. a 2% base rate is
// "0.02" and an 80% kink is "0.8".
func NewInterestModel(baseRate, slope1, slope2, kink string) (*InterestModel, error) {
	perBlock := func(name, annual string) (*uint256.Int, error) {
		v, err := fixedpoint.ParseDecimal(annual, fixedpoint.Decimals)
		if err != nil {
			return nil, fmt.Errorf("interest model %s: %w", name, err)
		}
		return new(uint256.Int).Div(v, uint256.NewInt(BlocksPerYear)), nil
	}
	model := &InterestModel{}
	var err error
	if model.BaseRate, err = perBlock("base rate", baseRate); err != nil {
		return nil, err
	}
	if model.Slope1, err = perBlock("slope1", slope1); err != nil {
		return nil, err
	}
	if model.Slope2, err = perBlock("slope2", slope2); err != nil {
		return nil, err
	}
	if model.Kink, err = fixedpoint.ParseDecimal(kink, fixedpoint.Decimals); err != nil {
		return nil, fmt.Errorf("interest model kink: %w", err)
	}
	if model.Kink.Gt(fixedpoint.Scale) {
		return nil, fmt.Errorf("interest model kink %s above 1", kink)
	}
	return model, nil
}

// MustInterestModel is NewInterestModel for constants.
func MustInterestModel(baseRate, slope1, slope2, kink string) *InterestModel {
	model, err := NewInterestModel(baseRate, slope1, slope2, kink)
	if err != nil {
		panic(err)
	}
	return model
}

// DefaultInterestModel is a modest curve with a steep region above 80%
// utilisation.
var DefaultInterestModel = MustInterestModel("0.02", "0.15", "0.6", "0.8")

// Utilisation returns borrows / (cash + borrows - reserves). An empty market
// has zero utilisation.
func (m *InterestModel) Utilisation(cash, borrows, reserves *uint256.Int) *uint256.Int {
	if borrows.IsZero() {
		return fixedpoint.Zero()
	}
	total := new(uint256.Int).Add(cash, borrows)
	total = fixedpoint.SaturatingSub(total, reserves)
	if total.IsZero() {
		return fixedpoint.Zero()
	}
	u, err := fixedpoint.MulDiv(borrows, fixedpoint.Scale, total)
	if err != nil {
		return fixedpoint.Zero()
	}
	return u
}

// BorrowRate returns the per-block borrow rate for the market balances.
func (m *InterestModel) BorrowRate(cash, borrows, reserves *uint256.Int) (*uint256.Int, error) {
	if m == nil {
		return fixedpoint.Zero(), nil
	}
	util := m.Utilisation(cash, borrows, reserves)
	rate := new(uint256.Int).Set(m.BaseRate)
	if m.Kink.IsZero() || !util.Gt(m.Kink) {
		linear, err := fixedpoint.MulExp(util, m.Slope1)
		if err != nil {
			return nil, fmt.Errorf("borrow rate: %w", err)
		}
		return rate.Add(rate, linear), nil
	}
	atKink, err := fixedpoint.MulExp(m.Kink, m.Slope1)
	if err != nil {
		return nil, fmt.Errorf("borrow rate: %w", err)
	}
	excess, err := fixedpoint.MulExp(new(uint256.Int).Sub(util, m.Kink), m.Slope2)
	if err != nil {
		return nil, fmt.Errorf("borrow rate: %w", err)
	}
	rate.Add(rate, atKink)
	return rate.Add(rate, excess), nil
}

// SupplyRate returns the per-block rate earned by suppliers after the
// reserve factor is withheld.
func (m *InterestModel) SupplyRate(cash, borrows, reserves, reserveFactor *uint256.Int) (*uint256.Int, error) {
	if m == nil {
		return fixedpoint.Zero(), nil
	}
	borrowRate, err := m.BorrowRate(cash, borrows, reserves)
	if err != nil {
		return nil, err
	}
	kept := fixedpoint.SaturatingSub(fixedpoint.Scale, reserveFactor)
	net, err := fixedpoint.MulExp(borrowRate, kept)
	if err != nil {
		return nil, fmt.Errorf("supply rate: %w", err)
	}
	rate, err := fixedpoint.MulExp(m.Utilisation(cash, borrows, reserves), net)
	if err != nil {
		return nil, fmt.Errorf("supply rate: %w", err)
	}
	return rate, nil
}
