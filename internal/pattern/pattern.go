// Package pattern synthesizes streams of transfer intents from simulated
// market phases. Each pattern is a finite-state generator advanced on a fixed
// tick interval over a fixed duration; a Runner owns the ticker and the run
// lifecycle.
package pattern

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/tokenflow/internal/domain"
)

// Params configures one pattern run. TotalTicks is derived by the Runner from
// duration and tick interval before Init is called.
type Params struct {
	Wallets    domain.WalletRegistry
	Token      domain.TokenInfo
	TotalTicks int
	Intensity  int     // 1..10
	BasePrice  float64 // simulated price seed, display units
	BaseSize   float64 // nominal per-tick trade size, display units
	// WhaleAllocationPct bounds the aggregate share routed to large-role
	// receivers during distribution-style phases.
	WhaleAllocationPct float64
	// Rand drives all stochastic choices. The Runner seeds it per run; tests
	// inject a fixed seed.
	Rand *rand.Rand
}

// validate rejects parameter sets no pattern can run with.
func (p Params) validate() error {
	if p.Wallets == nil || p.Wallets.Len() < 2 {
		return fmt.Errorf("pattern: at least two wallets are required")
	}
	if p.TotalTicks < 1 {
		return fmt.Errorf("pattern: total ticks must be >= 1, got %d", p.TotalTicks)
	}
	if p.Intensity < 1 || p.Intensity > 10 {
		return fmt.Errorf("pattern: intensity must be 1-10, got %d", p.Intensity)
	}
	if p.BasePrice <= 0 {
		return fmt.Errorf("pattern: base price must be > 0")
	}
	if p.BaseSize <= 0 {
		return fmt.Errorf("pattern: base size must be > 0")
	}
	if p.Rand == nil {
		return fmt.Errorf("pattern: rand source must be set")
	}
	return nil
}

// Pattern is one finite-state intent generator. Implementations own their
// mutable state exclusively; a fresh instance is built for every run and
// discarded afterwards.
type Pattern interface {
	// Name returns the registry name, e.g. "squeeze_breakout".
	Name() string
	// Init resets the pattern state for a run with the given parameters.
	Init(p Params) error
	// Tick advances the state machine by one tick (0-based) and returns the
	// intent for that tick. A nil intent with a nil error skips the tick
	// (e.g. a required wallet role is empty); the run continues.
	Tick(tick int) (*domain.TradeIntent, error)
	// Price returns the current simulated price. Always > 0.
	Price() float64
}

// intensityScale maps intensity 1..10 onto a trade-size multiplier of
// roughly 0.6x..2.0x around the nominal size at intensity 5.
func intensityScale(intensity int) float64 {
	return 0.5 + 0.15*float64(intensity)
}

// selection describes how a tick picks its participants.
type selection struct {
	// largeSenderProb is the probability the sender is drawn from the large
	// role; the receiver is biased to the opposite role.
	largeSenderProb float64
}

// pick draws a sender/receiver pair by role bias, never returning the same
// wallet twice. It returns domain.ErrEmptyRole when no distinct pair exists.
func (s selection) pick(wallets domain.WalletRegistry, rng *rand.Rand) (from, to domain.Wallet, err error) {
	senderRole := domain.RoleSmall
	if rng.Float64() < s.largeSenderProb {
		senderRole = domain.RoleLarge
	}
	receiverRole := opposite(senderRole)

	from, ok := draw(wallets.ByRole(senderRole), rng, "")
	if !ok {
		// Fall back to the other role rather than skipping outright.
		from, ok = draw(wallets.ByRole(receiverRole), rng, "")
		if !ok {
			return domain.Wallet{}, domain.Wallet{}, domain.ErrEmptyRole
		}
	}

	to, ok = draw(wallets.ByRole(receiverRole), rng, from.Address)
	if !ok {
		to, ok = draw(wallets.ByRole(opposite(receiverRole)), rng, from.Address)
		if !ok {
			return domain.Wallet{}, domain.Wallet{}, domain.ErrEmptyRole
		}
	}
	return from, to, nil
}

func opposite(role domain.WalletRole) domain.WalletRole {
	if role == domain.RoleLarge {
		return domain.RoleSmall
	}
	return domain.RoleLarge
}

// draw picks uniformly from pool, excluding one address. ok is false when no
// eligible wallet exists.
func draw(pool []domain.Wallet, rng *rand.Rand, exclude string) (domain.Wallet, bool) {
	if len(pool) == 0 {
		return domain.Wallet{}, false
	}
	// Uniform draw with a bounded number of rejection retries, then a linear
	// scan so a single-entry pool still resolves.
	for i := 0; i < 4; i++ {
		w := pool[rng.Intn(len(pool))]
		if w.Address != exclude {
			return w, true
		}
	}
	for _, w := range pool {
		if w.Address != exclude {
			return w, true
		}
	}
	return domain.Wallet{}, false
}

// buildIntent assembles the TradeIntent for one tick. Amount is jittered
// +-20% around size and floored at one base unit so the amount > 0 invariant
// holds for any token scale.
func buildIntent(p Params, patternName, phase string, sel selection, size float64, priority domain.Priority) (*domain.TradeIntent, error) {
	from, to, err := sel.pick(p.Wallets, p.Rand)
	if err != nil {
		return nil, err
	}

	jitter := 0.8 + 0.4*p.Rand.Float64()
	amount := p.Token.BaseUnits(size * jitter)
	if amount == 0 {
		amount = 1
	}

	return &domain.TradeIntent{
		ID:          uuid.New().String(),
		FromAddress: from.Address,
		ToAddress:   to.Address,
		Amount:      amount,
		Priority:    priority,
		Pattern:     patternName,
		Phase:       phase,
		CreatedAt:   time.Now().UTC(),
	}, nil
}
