package orchestrator

import (
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/tokenflow/internal/domain"
)

// CounterPolicy decides the counter-trade issued when a participant is
// flagged as bot-like. The sizing heuristics here are placeholder policy,
// not a tuned model; implementations are expected to be swapped out.
type CounterPolicy interface {
	// CounterIntent returns the intent to dispatch against the flagged
	// address, or nil to take no action this time.
	CounterIntent(flagged domain.ParticipantMetrics, wallets domain.WalletRegistry, token domain.TokenInfo) *domain.TradeIntent
}

// fixedFractionPolicy counters a flagged participant with a high-priority
// transfer between large-role wallets sized as a fixed fraction of the
// nominal trade size, scaled up mildly with the flag's pattern score.
type fixedFractionPolicy struct {
	baseSize float64
	rng      *rand.Rand
}

// NewFixedFractionPolicy returns the default CounterPolicy.
func NewFixedFractionPolicy(baseSize float64) CounterPolicy {
	return &fixedFractionPolicy{
		baseSize: baseSize,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (p *fixedFractionPolicy) CounterIntent(flagged domain.ParticipantMetrics, wallets domain.WalletRegistry, token domain.TokenInfo) *domain.TradeIntent {
	large := wallets.ByRole(domain.RoleLarge)
	if len(large) < 2 {
		return nil
	}
	from := large[p.rng.Intn(len(large))]
	to := large[p.rng.Intn(len(large))]
	for to.Address == from.Address {
		to = large[p.rng.Intn(len(large))]
	}

	size := p.baseSize * (0.5 + 0.5*flagged.PatternScore)
	amount := token.BaseUnits(size)
	if amount == 0 {
		amount = 1
	}

	return &domain.TradeIntent{
		ID:          uuid.New().String(),
		FromAddress: from.Address,
		ToAddress:   to.Address,
		Amount:      amount,
		Priority:    domain.PriorityHigh,
		Pattern:     "counter_trade",
		Phase:       "counter",
		CreatedAt:   time.Now().UTC(),
	}
}
