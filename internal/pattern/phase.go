package pattern

import (
	"fmt"

	"github.com/alanyoungcy/tokenflow/internal/domain"
)

// PhaseSpec is one row of a phase table: a sub-interval of the run with its
// own price behavior, participant bias, and sizing.
type PhaseSpec struct {
	Name string
	// Fraction of the total tick budget this phase consumes. Fractions in a
	// table sum to 1; the last phase absorbs rounding.
	Fraction float64
	// Drift is the deterministic per-tick price change (fraction of price).
	Drift float64
	// Volatility is the symmetric random per-tick price change bound.
	Volatility float64
	// LargeSenderProb biases which role sends (the receiver takes the
	// opposite role).
	LargeSenderProb float64
	// SizeMult scales the nominal trade size for this phase.
	SizeMult float64
	// HighPriorityProb is the chance a tick's intent dispatches at high
	// priority; the rest go out at medium.
	HighPriorityProb float64
	// CapWhaleAllocation enforces the aggregate large-role allocation bound
	// during this phase (distribution behavior).
	CapWhaleAllocation bool
}

// phasePattern is the generic phase-table state machine. All phase-based
// patterns are this engine plus a table.
type phasePattern struct {
	name   string
	table  []PhaseSpec
	params Params
	price  *priceState

	// phase boundaries in ticks, cumulative.
	bounds []int

	// receiver-role allocation totals for the whale cap.
	totalOut uint64
	largeOut uint64
}

// newPhasePattern builds a pattern from its table. The table is validated at
// registration time so a bad row fails fast.
func newPhasePattern(name string, table []PhaseSpec) *phasePattern {
	return &phasePattern{name: name, table: table}
}

func (pp *phasePattern) Name() string { return pp.name }

func (pp *phasePattern) Init(p Params) error {
	if err := p.validate(); err != nil {
		return err
	}
	if len(pp.table) == 0 {
		return fmt.Errorf("pattern %s: empty phase table", pp.name)
	}
	pp.params = p
	pp.price = newPriceState(p.BasePrice, p.Rand)
	pp.totalOut = 0
	pp.largeOut = 0

	pp.bounds = make([]int, len(pp.table))
	acc := 0.0
	for i, spec := range pp.table {
		acc += spec.Fraction
		pp.bounds[i] = int(acc * float64(p.TotalTicks))
	}
	// The last phase absorbs rounding so every tick lands in a phase.
	pp.bounds[len(pp.bounds)-1] = p.TotalTicks
	return nil
}

// phaseAt returns the spec covering the given tick.
func (pp *phasePattern) phaseAt(tick int) PhaseSpec {
	for i, b := range pp.bounds {
		if tick < b {
			return pp.table[i]
		}
	}
	return pp.table[len(pp.table)-1]
}

func (pp *phasePattern) Tick(tick int) (*domain.TradeIntent, error) {
	spec := pp.phaseAt(tick)
	pp.price.step(spec.Drift, spec.Volatility)

	sel := selection{largeSenderProb: spec.LargeSenderProb}
	if spec.CapWhaleAllocation && pp.totalOut > 0 {
		share := float64(pp.largeOut) / float64(pp.totalOut)
		if share >= pp.params.WhaleAllocationPct {
			// Large receivers are over target; route this tick small-side by
			// making the large role the sender.
			sel.largeSenderProb = 1.0
		}
	}

	priority := domain.PriorityMedium
	if pp.params.Rand.Float64() < spec.HighPriorityProb {
		priority = domain.PriorityHigh
	}

	size := pp.params.BaseSize * intensityScale(pp.params.Intensity) * spec.SizeMult
	intent, err := buildIntent(pp.params, pp.name, spec.Name, sel, size, priority)
	if err != nil {
		return nil, err
	}

	pp.totalOut += intent.Amount
	if to, lookErr := pp.params.Wallets.Get(intent.ToAddress); lookErr == nil && to.Role == domain.RoleLarge {
		pp.largeOut += intent.Amount
	}
	return intent, nil
}

func (pp *phasePattern) Price() float64 {
	if pp.price == nil {
		return pp.params.BasePrice
	}
	return pp.price.current()
}

// ---------------------------------------------------------------------------
// Phase tables
// ---------------------------------------------------------------------------

// squeezeBreakoutTable compresses volatility through the squeeze, then
// releases it upward: small wallets accumulate through the squeeze and large
// wallets chase the breakout.
func squeezeBreakoutTable() []PhaseSpec {
	return []PhaseSpec{
		{Name: "squeeze", Fraction: 1.0 / 3, Drift: 0.000, Volatility: 0.002, LargeSenderProb: 0.5, SizeMult: 0.6, HighPriorityProb: 0.05},
		{Name: "tension", Fraction: 1.0 / 3, Drift: 0.001, Volatility: 0.001, LargeSenderProb: 0.3, SizeMult: 0.8, HighPriorityProb: 0.15},
		{Name: "breakout", Fraction: 1.0 / 3, Drift: 0.012, Volatility: 0.008, LargeSenderProb: 0.2, SizeMult: 1.8, HighPriorityProb: 0.60},
	}
}

// accumulationTable drifts quietly sideways while large wallets soak up
// supply from small ones, then marks up.
func accumulationTable() []PhaseSpec {
	return []PhaseSpec{
		{Name: "setup", Fraction: 1.0 / 3, Drift: -0.001, Volatility: 0.003, LargeSenderProb: 0.2, SizeMult: 0.7, HighPriorityProb: 0.05},
		{Name: "absorb", Fraction: 1.0 / 3, Drift: 0.000, Volatility: 0.002, LargeSenderProb: 0.15, SizeMult: 1.0, HighPriorityProb: 0.10},
		{Name: "markup", Fraction: 1.0 / 3, Drift: 0.008, Volatility: 0.005, LargeSenderProb: 0.3, SizeMult: 1.4, HighPriorityProb: 0.40},
	}
}

// distributionTable is the mirror image: large wallets feed supply out to
// small ones under the whale allocation cap, then the price fades.
func distributionTable() []PhaseSpec {
	return []PhaseSpec{
		{Name: "markup", Fraction: 1.0 / 3, Drift: 0.006, Volatility: 0.004, LargeSenderProb: 0.3, SizeMult: 1.2, HighPriorityProb: 0.30},
		{Name: "distribute", Fraction: 1.0 / 3, Drift: 0.000, Volatility: 0.003, LargeSenderProb: 0.8, SizeMult: 1.0, HighPriorityProb: 0.10, CapWhaleAllocation: true},
		{Name: "fade", Fraction: 1.0 / 3, Drift: -0.006, Volatility: 0.005, LargeSenderProb: 0.6, SizeMult: 0.8, HighPriorityProb: 0.05},
	}
}
