package pattern

import (
	"github.com/alanyoungcy/tokenflow/internal/domain"
)

// rsi is a bounded [0,100] oscillator over the recent price path, computed
// from smoothed average gain and loss.
type rsi struct {
	alpha    float64
	avgGain  float64
	avgLoss  float64
	prev     float64
	primed   bool
}

func newRSI(alpha float64) *rsi {
	return &rsi{alpha: alpha}
}

// update feeds one price and returns the oscillator value.
func (r *rsi) update(price float64) float64 {
	if !r.primed {
		r.prev = price
		r.primed = true
		return 50
	}
	delta := price - r.prev
	r.prev = price

	gain, loss := 0.0, 0.0
	if delta > 0 {
		gain = delta
	} else {
		loss = -delta
	}
	r.avgGain += r.alpha * (gain - r.avgGain)
	r.avgLoss += r.alpha * (loss - r.avgLoss)

	return r.value()
}

// value returns the current oscillator reading without feeding a price.
func (r *rsi) value() float64 {
	if r.avgGain+r.avgLoss == 0 {
		return 50
	}
	return 100 * r.avgGain / (r.avgGain + r.avgLoss)
}

// divergencePattern runs three phases: a setup trend, a divergence phase
// where the published oscillator is deliberately decoupled from the raw
// price path, and a resolution phase that reconciles them.
type divergencePattern struct {
	params Params
	price  *priceState
	osc    *rsi

	bounds    [3]int
	oscValue  float64 // published (possibly decoupled) oscillator value
	oscOffset float64 // decoupling applied during the divergence phase
}

func newDivergencePattern() *divergencePattern { return &divergencePattern{} }

func (dp *divergencePattern) Name() string { return "rsi_divergence" }

func (dp *divergencePattern) Init(p Params) error {
	if err := p.validate(); err != nil {
		return err
	}
	dp.params = p
	dp.price = newPriceState(p.BasePrice, p.Rand)
	dp.osc = newRSI(1.0 / 14)
	dp.oscValue = 50
	dp.oscOffset = 0
	third := p.TotalTicks / 3
	dp.bounds = [3]int{third, 2 * third, p.TotalTicks}
	return nil
}

// Oscillator returns the published oscillator value, always within [0,100].
func (dp *divergencePattern) Oscillator() float64 { return dp.oscValue }

func (dp *divergencePattern) Tick(tick int) (*domain.TradeIntent, error) {
	var (
		phase           string
		drift, vol      float64
		largeSenderProb float64
		sizeMult        float64
		highProb        float64
	)

	switch {
	case tick < dp.bounds[0]:
		// Setup: steady uptrend, oscillator follows the price.
		phase, drift, vol = "setup", 0.005, 0.003
		largeSenderProb, sizeMult, highProb = 0.3, 1.0, 0.10
		dp.oscOffset = 0
	case tick < dp.bounds[1]:
		// Divergence: price keeps grinding up while the published oscillator
		// is dragged lower each tick to simulate a bearish divergence.
		phase, drift, vol = "divergence", 0.003, 0.004
		largeSenderProb, sizeMult, highProb = 0.6, 1.2, 0.25
		dp.oscOffset -= 0.8
	default:
		// Resolution: the price confirms the signal and the oscillator is
		// reconciled with the raw path.
		phase, drift, vol = "resolution", -0.008, 0.006
		largeSenderProb, sizeMult, highProb = 0.8, 1.5, 0.45
		dp.oscOffset *= 0.8
	}

	px := dp.price.step(drift, vol)
	dp.oscValue = clamp(dp.osc.update(px)+dp.oscOffset, 0, 100)

	priority := domain.PriorityMedium
	if dp.params.Rand.Float64() < highProb {
		priority = domain.PriorityHigh
	}

	size := dp.params.BaseSize * intensityScale(dp.params.Intensity) * sizeMult
	return buildIntent(dp.params, dp.Name(), phase, selection{largeSenderProb: largeSenderProb}, size, priority)
}

func (dp *divergencePattern) Price() float64 {
	if dp.price == nil {
		return dp.params.BasePrice
	}
	return dp.price.current()
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
