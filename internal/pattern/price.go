package pattern

import "math/rand"

// priceFloorFraction keeps the simulated price strictly positive: no step may
// push it below this fraction of the seed price.
const priceFloorFraction = 0.01

// priceState is a clamped random walk shared by every pattern. drift and
// volatility are per-tick fractions of the current price.
type priceState struct {
	price float64
	floor float64
	rng   *rand.Rand
}

func newPriceState(seed float64, rng *rand.Rand) *priceState {
	return &priceState{
		price: seed,
		floor: seed * priceFloorFraction,
		rng:   rng,
	}
}

// step advances the walk by drift plus a symmetric volatility draw and
// returns the new price, clamped to the floor.
func (s *priceState) step(drift, volatility float64) float64 {
	delta := drift + volatility*(2*s.rng.Float64()-1)
	s.price *= 1 + delta
	if s.price < s.floor {
		s.price = s.floor
	}
	return s.price
}

// current returns the price without advancing the walk.
func (s *priceState) current() float64 {
	return s.price
}
