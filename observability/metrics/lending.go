package metrics

import (
	"errors"
	"math/big"
	"sync"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"

	"mmlink/native/lending"
)

// LendingMetrics implements lending.Observer on top of Prometheus collectors.
type LendingMetrics struct {
	operations   *prometheus.CounterVec
	liquidations *prometheus.CounterVec
	repaid       *prometheus.CounterVec
	seized       *prometheus.CounterVec
}

var (
	lendingOnce     sync.Once
	lendingRegistry *LendingMetrics
)

var _ lending.Observer = (*LendingMetrics)(nil)

func Lending() *LendingMetrics {
	lendingOnce.Do(func() {
		lendingRegistry = newLendingMetrics()
		prometheus.MustRegister(
			lendingRegistry.operations,
			lendingRegistry.liquidations,
			lendingRegistry.repaid,
			lendingRegistry.seized,
		)
	})
	return lendingRegistry
}

func newLendingMetrics() *LendingMetrics {
	return &LendingMetrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lending_operations_total",
			Help: "Count of engine operations by name and outcome.",
		}, []string{"op", "outcome"}),
		liquidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lending_liquidations_total",
			Help: "Count of completed liquidations by repay and seize market.",
		}, []string{"repay_market", "seize_market"}),
		repaid: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lending_liquidation_repaid_units_total",
			Help: "Raw underlying units repaid through liquidations per market.",
		}, []string{"market"}),
		seized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lending_liquidation_seized_shares_total",
			Help: "Market shares seized through liquidations per market.",
		}, []string{"market"}),
	}
}

func (m *LendingMetrics) ObserveOperation(op string, err error) {
	if m == nil {
		return
	}
	if op == "" {
		op = "unknown"
	}
	m.operations.WithLabelValues(op, Outcome(err)).Inc()
}

// ObserveLiquidation adds the raw amounts as float counters; precision loss
// above 2^53 units is acceptable for dashboards.
func (m *LendingMetrics) ObserveLiquidation(result lending.LiquidationResult) {
	if m == nil {
		return
	}
	repay := result.RepayMarket.Hex()
	seize := result.SeizeMarket.Hex()
	m.liquidations.WithLabelValues(repay, seize).Inc()
	m.repaid.WithLabelValues(repay).Add(toFloat(result.Repaid))
	m.seized.WithLabelValues(seize).Add(toFloat(result.SeizedShares))
}

var outcomes = []struct {
	err   error
	label string
}{
	{lending.ErrUnauthorized, "unauthorized"},
	{lending.ErrInvalidAmount, "invalid_amount"},
	{lending.ErrUnknownAsset, "unknown_asset"},
	{lending.ErrAlreadyRegistered, "already_registered"},
	{lending.ErrInsufficientLiquidity, "insufficient_liquidity"},
	{lending.ErrExceedsCloseFactor, "exceeds_close_factor"},
	{lending.ErrNotLiquidatable, "not_liquidatable"},
	{lending.ErrPriceUnavailable, "price_unavailable"},
	{lending.ErrTransferFailed, "transfer_failed"},
	{lending.ErrLedgerRejected, "ledger_rejected"},
}

// Outcome maps an engine error onto a bounded label value.
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	for _, o := range outcomes {
		if errors.Is(err, o.err) {
			return o.label
		}
	}
	return "error"
}

func toFloat(v *uint256.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v.ToBig()).Float64()
	return f
}
