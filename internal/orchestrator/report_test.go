package orchestrator

import (
	"testing"
	"time"

	"github.com/alanyoungcy/tokenflow/internal/domain"
	"github.com/alanyoungcy/tokenflow/internal/pattern"
)

func TestReportBuilderCounters(t *testing.T) {
	started := time.Now().UTC().Add(-time.Minute)
	b := newReportBuilder("run-1", "accumulation", 5, started)

	b.addOutcome(domain.OperationOutcome{
		Intent:   domain.TradeIntent{ID: "a", Amount: 100},
		Kind:     domain.OutcomeSubmitted,
		Attempts: 1,
		Fee:      5000,
	})
	b.addOutcome(domain.OperationOutcome{
		Intent:   domain.TradeIntent{ID: "b", Amount: 250},
		Kind:     domain.OutcomeSubmitted,
		Attempts: 3, // two retries before acceptance
		Fee:      7500,
	})
	b.addOutcome(domain.OperationOutcome{
		Intent:   domain.TradeIntent{ID: "c", Amount: 400},
		Kind:     domain.OutcomeDropped,
		Attempts: 3,
	})

	b.addConfirmation(domain.ConfirmationRecord{OperationID: "op-a", Status: domain.StatusFinalized})
	b.addConfirmation(domain.ConfirmationRecord{OperationID: "op-b", Status: domain.StatusFailed})
	// Non-terminal confirmations must not count.
	b.addConfirmation(domain.ConfirmationRecord{OperationID: "op-b", Status: domain.StatusConfirmed})

	finished := started.Add(time.Minute)
	report := b.finalize(pattern.Summary{
		RunID:      "run-1",
		Pattern:    "accumulation",
		StartedAt:  started,
		FinishedAt: finished,
		Ticks:      18,
		Skipped:    2,
	})

	if report.Submitted != 2 || report.Dropped != 1 {
		t.Fatalf("outcome counters wrong: %+v", report)
	}
	if report.Retried != 4 {
		t.Fatalf("expected 4 retries (2 + 2), got %d", report.Retried)
	}
	if report.TotalAmount != 350 {
		t.Fatalf("dropped amounts must not count, got %d", report.TotalAmount)
	}
	if report.TotalFees != 12500 {
		t.Fatalf("expected summed fees of accepted operations, got %d", report.TotalFees)
	}
	if report.Finalized != 1 || report.Failed != 1 {
		t.Fatalf("confirmation counters wrong: %+v", report)
	}
	if report.Ticks != 18 || report.Skipped != 2 {
		t.Fatalf("generation counters wrong: %+v", report)
	}
	if report.Duration != time.Minute {
		t.Fatalf("expected a one-minute duration, got %s", report.Duration)
	}
	if report.RunID != "run-1" || report.Pattern != "accumulation" || report.Intensity != 5 {
		t.Fatalf("identity fields wrong: %+v", report)
	}
}

func TestReportBuilderSnapshotDoesNotFinalize(t *testing.T) {
	b := newReportBuilder("run-2", "macd", 7, time.Now().UTC())
	b.addOutcome(domain.OperationOutcome{
		Intent: domain.TradeIntent{ID: "a", Amount: 10},
		Kind:   domain.OutcomeSubmitted,
	})

	snap := b.snapshot()
	if snap.Submitted != 1 {
		t.Fatalf("snapshot missing counters: %+v", snap)
	}
	if !snap.FinishedAt.IsZero() {
		t.Fatal("a snapshot of a live run must not carry a finish time")
	}

	// The snapshot is a copy; later outcomes must not mutate it.
	b.addOutcome(domain.OperationOutcome{
		Intent: domain.TradeIntent{ID: "b", Amount: 10},
		Kind:   domain.OutcomeSubmitted,
	})
	if snap.Submitted != 1 {
		t.Fatal("snapshot must be detached from the builder")
	}
}

type policyRegistry struct {
	wallets []domain.Wallet
}

func (r *policyRegistry) Get(address string) (domain.Wallet, error) {
	for _, w := range r.wallets {
		if w.Address == address {
			return w, nil
		}
	}
	return domain.Wallet{}, domain.ErrNotFound
}

func (r *policyRegistry) ByRole(role domain.WalletRole) []domain.Wallet {
	var out []domain.Wallet
	for _, w := range r.wallets {
		if w.Role == role {
			out = append(out, w)
		}
	}
	return out
}

func (r *policyRegistry) All() []domain.Wallet { return r.wallets }
func (r *policyRegistry) Len() int             { return len(r.wallets) }

func TestFixedFractionPolicy(t *testing.T) {
	token := domain.TokenInfo{Mint: "mint-1", Decimals: 6}
	metrics := domain.ParticipantMetrics{Address: "bot", PatternScore: 1.0}

	t.Run("needs two large wallets", func(t *testing.T) {
		p := NewFixedFractionPolicy(100)
		reg := &policyRegistry{wallets: []domain.Wallet{
			{Address: "w1", Role: domain.RoleLarge},
			{Address: "s1", Role: domain.RoleSmall},
		}}
		if intent := p.CounterIntent(metrics, reg, token); intent != nil {
			t.Fatalf("expected no counter-trade, got %+v", intent)
		}
	})

	t.Run("routes between large wallets", func(t *testing.T) {
		p := NewFixedFractionPolicy(100)
		reg := &policyRegistry{wallets: []domain.Wallet{
			{Address: "w1", Role: domain.RoleLarge},
			{Address: "w2", Role: domain.RoleLarge},
			{Address: "s1", Role: domain.RoleSmall},
		}}

		intent := p.CounterIntent(metrics, reg, token)
		if intent == nil {
			t.Fatal("expected a counter-trade")
		}
		if intent.FromAddress == intent.ToAddress {
			t.Fatal("counter-trade must not self-transfer")
		}
		for _, addr := range []string{intent.FromAddress, intent.ToAddress} {
			w, err := reg.Get(addr)
			if err != nil || w.Role != domain.RoleLarge {
				t.Fatalf("counter-trade must stay between large wallets, got %s", addr)
			}
		}
		if intent.Priority != domain.PriorityHigh {
			t.Fatalf("expected high priority, got %s", intent.Priority)
		}
		// base 100 x (0.5 + 0.5 x 1.0) at 6 decimals.
		if intent.Amount != 100_000_000 {
			t.Fatalf("unexpected counter size %d", intent.Amount)
		}
		if intent.Pattern != "counter_trade" {
			t.Fatalf("unexpected pattern tag %q", intent.Pattern)
		}
	})
}
