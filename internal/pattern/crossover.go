package pattern

import (
	"github.com/alanyoungcy/tokenflow/internal/domain"
)

// indicator consumes the simulated price tick by tick and reports trend
// flips. up is the trend direction after the update.
type indicator interface {
	Update(price float64) (flip bool, up bool)
}

// ewma is a single exponentially-weighted running value.
type ewma struct {
	alpha  float64
	value  float64
	primed bool
}

func (e *ewma) update(x float64) float64 {
	if !e.primed {
		e.value = x
		e.primed = true
		return e.value
	}
	e.value += e.alpha * (x - e.value)
	return e.value
}

// maCross flips when the fast EWMA crosses the slow EWMA.
type maCross struct {
	fast, slow ewma
	prevSign   int
	up         bool
}

func newMACross(fastAlpha, slowAlpha float64) *maCross {
	return &maCross{
		fast: ewma{alpha: fastAlpha},
		slow: ewma{alpha: slowAlpha},
	}
}

func (c *maCross) Update(price float64) (bool, bool) {
	diff := c.fast.update(price) - c.slow.update(price)
	return c.resolve(diff)
}

func (c *maCross) resolve(diff float64) (bool, bool) {
	sign := 0
	switch {
	case diff > 0:
		sign = 1
	case diff < 0:
		sign = -1
	}
	if sign == 0 || sign == c.prevSign {
		return false, c.up
	}
	c.prevSign = sign
	c.up = sign > 0
	return true, c.up
}

// macdCross flips when the MACD line crosses its signal line.
type macdCross struct {
	fast, slow, signal ewma
	prevSign           int
	up                 bool
}

func newMACDCross(fastAlpha, slowAlpha, signalAlpha float64) *macdCross {
	return &macdCross{
		fast:   ewma{alpha: fastAlpha},
		slow:   ewma{alpha: slowAlpha},
		signal: ewma{alpha: signalAlpha},
	}
}

func (c *macdCross) Update(price float64) (bool, bool) {
	macd := c.fast.update(price) - c.slow.update(price)
	diff := macd - c.signal.update(macd)

	sign := 0
	switch {
	case diff > 0:
		sign = 1
	case diff < 0:
		sign = -1
	}
	if sign == 0 || sign == c.prevSign {
		return false, c.up
	}
	c.prevSign = sign
	c.up = sign > 0
	return true, c.up
}

// spikeDuration is how many ticks a crossover's size/priority spike lasts.
const spikeDuration = 5

// crossoverPattern drives the price with trend momentum and lets an indicator
// flip the trend; each flip triggers a transient spike in trade size and a
// counterparty-role bias swing.
type crossoverPattern struct {
	name       string
	makeInd    func() indicator
	ind        indicator
	params     Params
	price      *priceState
	trendUp    bool
	flips      int
	spikeLeft  int
}

func newCrossoverPattern(name string, makeInd func() indicator) *crossoverPattern {
	return &crossoverPattern{name: name, makeInd: makeInd}
}

func (cp *crossoverPattern) Name() string { return cp.name }

func (cp *crossoverPattern) Init(p Params) error {
	if err := p.validate(); err != nil {
		return err
	}
	cp.params = p
	cp.price = newPriceState(p.BasePrice, p.Rand)
	cp.ind = cp.makeInd()
	cp.trendUp = true
	cp.flips = 0
	cp.spikeLeft = 0
	return nil
}

// Flips returns the number of trend-flip events so far in the run.
func (cp *crossoverPattern) Flips() int { return cp.flips }

func (cp *crossoverPattern) Tick(tick int) (*domain.TradeIntent, error) {
	drift := 0.004
	if !cp.trendUp {
		drift = -0.004
	}
	px := cp.price.step(drift, 0.004)

	if flip, up := cp.ind.Update(px); flip {
		cp.trendUp = up
		cp.flips++
		cp.spikeLeft = spikeDuration
	}

	sizeMult := 1.0
	highProb := 0.15
	// Uptrend routes supply toward large receivers; downtrend unwinds it.
	largeSenderProb := 0.25
	if !cp.trendUp {
		largeSenderProb = 0.75
	}
	if cp.spikeLeft > 0 {
		cp.spikeLeft--
		sizeMult = 2.0
		highProb = 0.70
		if cp.trendUp {
			largeSenderProb = 0.10
		} else {
			largeSenderProb = 0.90
		}
	}

	priority := domain.PriorityMedium
	if cp.params.Rand.Float64() < highProb {
		priority = domain.PriorityHigh
	}

	phase := "trend_down"
	if cp.trendUp {
		phase = "trend_up"
	}
	size := cp.params.BaseSize * intensityScale(cp.params.Intensity) * sizeMult
	return buildIntent(cp.params, cp.name, phase, selection{largeSenderProb: largeSenderProb}, size, priority)
}

func (cp *crossoverPattern) Price() float64 {
	if cp.price == nil {
		return cp.params.BasePrice
	}
	return cp.price.current()
}
