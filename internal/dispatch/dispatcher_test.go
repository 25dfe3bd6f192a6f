package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/tokenflow/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeLedger records submissions and delegates the result to submitFn.
type fakeLedger struct {
	mu       sync.Mutex
	order    []string // intent ids in submission order
	attempts map[string]int
	submitFn func(op domain.SignedOperation, attempt int) (string, error)
}

func newFakeLedger(fn func(op domain.SignedOperation, attempt int) (string, error)) *fakeLedger {
	return &fakeLedger{attempts: make(map[string]int), submitFn: fn}
}

func (f *fakeLedger) Submit(_ context.Context, op domain.SignedOperation) (string, error) {
	f.mu.Lock()
	f.attempts[op.Intent.ID]++
	attempt := f.attempts[op.Intent.ID]
	f.order = append(f.order, op.Intent.ID)
	fn := f.submitFn
	f.mu.Unlock()
	return fn(op, attempt)
}

func (f *fakeLedger) Status(context.Context, string) (domain.StatusReply, error) {
	return domain.StatusReply{}, nil
}

func (f *fakeLedger) RecentFeeSamples(context.Context) ([]domain.FeeSample, error) {
	return nil, nil
}

func (f *fakeLedger) Balance(context.Context, string) (uint64, error) {
	return 0, nil
}

func (f *fakeLedger) submitOrder() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.order...)
}

func (f *fakeLedger) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.order)
}

type fakeEstimator struct{ fee uint64 }

func (f fakeEstimator) Estimate(context.Context, domain.Priority) uint64 { return f.fee }

type fakeRegistrar struct {
	mu  sync.Mutex
	ids []string
}

func (f *fakeRegistrar) Track(_ context.Context, id string) {
	f.mu.Lock()
	f.ids = append(f.ids, id)
	f.mu.Unlock()
}

func (f *fakeRegistrar) tracked() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ids...)
}

type stubSigner struct{}

func (stubSigner) Sign([]byte) ([]byte, error) { return []byte("sig"), nil }

// stubRegistry is a fixed two-wallet pool for enqueue validation.
type stubRegistry struct {
	wallets map[string]domain.Wallet
}

func newStubRegistry(addrs ...string) *stubRegistry {
	r := &stubRegistry{wallets: make(map[string]domain.Wallet)}
	for _, a := range addrs {
		r.wallets[a] = domain.Wallet{Address: a, Role: domain.RoleSmall, Signer: stubSigner{}}
	}
	return r
}

func (r *stubRegistry) Get(address string) (domain.Wallet, error) {
	w, ok := r.wallets[address]
	if !ok {
		return domain.Wallet{}, domain.ErrNotFound
	}
	return w, nil
}

func (r *stubRegistry) ByRole(role domain.WalletRole) []domain.Wallet {
	var out []domain.Wallet
	for _, w := range r.wallets {
		if w.Role == role {
			out = append(out, w)
		}
	}
	return out
}

func (r *stubRegistry) All() []domain.Wallet {
	var out []domain.Wallet
	for _, w := range r.wallets {
		out = append(out, w)
	}
	return out
}

func (r *stubRegistry) Len() int { return len(r.wallets) }

func testIntent(id string, priority domain.Priority) domain.TradeIntent {
	return domain.TradeIntent{
		ID:          id,
		FromAddress: "alpha",
		ToAddress:   "beta",
		Amount:      100,
		Priority:    priority,
		Pattern:     "accumulation",
		Phase:       "absorb",
		CreatedAt:   time.Now().UTC(),
	}
}

func newTestDispatcher(t *testing.T, ledger domain.LedgerClient, cfg Config) (*Dispatcher, *fakeRegistrar, context.CancelFunc) {
	t.Helper()
	registrar := &fakeRegistrar{}
	d := NewDispatcher(
		ledger,
		fakeEstimator{fee: 5000},
		registrar,
		nil,
		newStubRegistry("alpha", "beta", "gamma"),
		domain.TokenInfo{Mint: "mint-1", Symbol: "TOK", Decimals: 9},
		cfg,
		testLogger(),
	)
	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)
	return d, registrar, cancel
}

func waitOutcome(t *testing.T, d *Dispatcher) domain.OperationOutcome {
	t.Helper()
	select {
	case out := <-d.Results():
		return out
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for an outcome")
		return domain.OperationOutcome{}
	}
}

func waitStatus(t *testing.T, d *Dispatcher, ok func(domain.QueueStatus) bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if ok(d.Status()) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("queue never reached expected state, last: %+v", d.Status())
}

func TestEnqueueValidation(t *testing.T) {
	ledger := newFakeLedger(func(op domain.SignedOperation, _ int) (string, error) {
		return "op-" + op.Intent.ID, nil
	})
	d, _, cancel := newTestDispatcher(t, ledger, Config{Concurrency: 1})
	defer cancel()

	cases := []struct {
		name   string
		mutate func(*domain.TradeIntent)
	}{
		{"zero amount", func(i *domain.TradeIntent) { i.Amount = 0 }},
		{"self transfer", func(i *domain.TradeIntent) { i.ToAddress = i.FromAddress }},
		{"unknown sender", func(i *domain.TradeIntent) { i.FromAddress = "nobody" }},
		{"unknown receiver", func(i *domain.TradeIntent) { i.ToAddress = "nobody" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			intent := testIntent("bad", domain.PriorityMedium)
			tc.mutate(&intent)
			if err := d.Enqueue(intent); err == nil {
				t.Fatal("expected an enqueue error")
			}
		})
	}

	if st := d.Status(); st.QueueLength != 0 || st.InFlight != 0 {
		t.Fatalf("rejected intents must not reach the queue, got %+v", st)
	}
}

func TestDrainPriorityOrder(t *testing.T) {
	gate := make(chan struct{})
	ledger := newFakeLedger(func(op domain.SignedOperation, _ int) (string, error) {
		if op.Intent.ID == "blocker" {
			<-gate
		}
		return "op-" + op.Intent.ID, nil
	})
	d, _, cancel := newTestDispatcher(t, ledger, Config{Concurrency: 1})
	defer cancel()

	// Occupy the single slot, then stack the queue while it is held.
	if err := d.Enqueue(testIntent("blocker", domain.PriorityHigh)); err != nil {
		t.Fatal(err)
	}
	waitStatus(t, d, func(st domain.QueueStatus) bool { return st.InFlight == 1 })

	for _, spec := range []struct {
		id       string
		priority domain.Priority
	}{
		{"low-1", domain.PriorityLow},
		{"med-1", domain.PriorityMedium},
		{"high-1", domain.PriorityHigh},
		{"low-2", domain.PriorityLow},
		{"med-2", domain.PriorityMedium},
	} {
		if err := d.Enqueue(testIntent(spec.id, spec.priority)); err != nil {
			t.Fatal(err)
		}
	}
	close(gate)

	for i := 0; i < 6; i++ {
		out := waitOutcome(t, d)
		if out.Kind != domain.OutcomeSubmitted {
			t.Fatalf("outcome %d: expected submitted, got %s (%v)", i, out.Kind, out.Err)
		}
	}

	want := []string{"blocker", "high-1", "med-1", "med-2", "low-1", "low-2"}
	got := ledger.submitOrder()
	if len(got) != len(want) {
		t.Fatalf("expected %d submissions, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("submission order mismatch at %d: got %v, want %v", i, got, want)
		}
	}
}

func TestConcurrencyBound(t *testing.T) {
	const bound = 2

	gate := make(chan struct{})
	ledger := newFakeLedger(func(op domain.SignedOperation, _ int) (string, error) {
		<-gate
		return "op-" + op.Intent.ID, nil
	})
	d, _, cancel := newTestDispatcher(t, ledger, Config{Concurrency: bound})
	defer cancel()

	for i := 0; i < 5; i++ {
		if err := d.Enqueue(testIntent(fmt.Sprintf("i-%d", i), domain.PriorityMedium)); err != nil {
			t.Fatal(err)
		}
	}
	waitStatus(t, d, func(st domain.QueueStatus) bool { return st.InFlight == bound })

	// Give the loop a chance to overshoot; it must not.
	time.Sleep(50 * time.Millisecond)
	if st := d.Status(); st.InFlight != bound || st.QueueLength != 3 {
		t.Fatalf("expected %d in flight and 3 queued, got %+v", bound, st)
	}

	close(gate)
	for i := 0; i < 5; i++ {
		waitOutcome(t, d)
	}
	waitStatus(t, d, func(st domain.QueueStatus) bool { return st.InFlight == 0 && st.QueueLength == 0 })
}

func TestTransientRetryThenSubmit(t *testing.T) {
	ledger := newFakeLedger(func(op domain.SignedOperation, attempt int) (string, error) {
		if attempt < 3 {
			return "", fmt.Errorf("submit: %w", domain.ErrStaleReference)
		}
		return "op-" + op.Intent.ID, nil
	})
	d, registrar, cancel := newTestDispatcher(t, ledger, Config{
		Concurrency: 1,
		RetryLimit:  5,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  4 * time.Millisecond,
	})
	defer cancel()

	if err := d.Enqueue(testIntent("flaky", domain.PriorityMedium)); err != nil {
		t.Fatal(err)
	}

	out := waitOutcome(t, d)
	if out.Kind != domain.OutcomeSubmitted {
		t.Fatalf("expected submitted, got %s (%v)", out.Kind, out.Err)
	}
	if out.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", out.Attempts)
	}
	if out.OperationID != "op-flaky" {
		t.Fatalf("unexpected operation id %q", out.OperationID)
	}
	if got := registrar.tracked(); len(got) != 1 || got[0] != "op-flaky" {
		t.Fatalf("expected the accepted id to be tracked, got %v", got)
	}
	if n := d.RetriedCount(); n != 2 {
		t.Fatalf("expected 2 retries, got %d", n)
	}
}

func TestRetryBudgetExhaustedDrops(t *testing.T) {
	ledger := newFakeLedger(func(domain.SignedOperation, int) (string, error) {
		return "", fmt.Errorf("submit: %w", domain.ErrRateLimited)
	})
	d, registrar, cancel := newTestDispatcher(t, ledger, Config{
		Concurrency: 1,
		RetryLimit:  3,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  4 * time.Millisecond,
	})
	defer cancel()

	if err := d.Enqueue(testIntent("doomed", domain.PriorityHigh)); err != nil {
		t.Fatal(err)
	}

	out := waitOutcome(t, d)
	if out.Kind != domain.OutcomeDropped {
		t.Fatalf("expected dropped, got %s", out.Kind)
	}
	if out.Attempts != 3 {
		t.Fatalf("expected attempts to equal the retry limit, got %d", out.Attempts)
	}
	if !errors.Is(out.Err, domain.ErrRateLimited) {
		t.Fatalf("expected the outcome to carry the ledger error, got %v", out.Err)
	}
	if got := registrar.tracked(); len(got) != 0 {
		t.Fatalf("dropped operations must not be tracked, got %v", got)
	}
}

func TestTerminalErrorDropsImmediately(t *testing.T) {
	ledger := newFakeLedger(func(domain.SignedOperation, int) (string, error) {
		return "", fmt.Errorf("submit: %w", domain.ErrInvalidSignature)
	})
	d, _, cancel := newTestDispatcher(t, ledger, Config{
		Concurrency: 1,
		RetryLimit:  5,
		BaseBackoff: time.Millisecond,
	})
	defer cancel()

	if err := d.Enqueue(testIntent("rejected", domain.PriorityMedium)); err != nil {
		t.Fatal(err)
	}

	out := waitOutcome(t, d)
	if out.Kind != domain.OutcomeDropped {
		t.Fatalf("expected dropped, got %s", out.Kind)
	}
	if out.Attempts != 1 {
		t.Fatalf("terminal errors must not be retried, got %d attempts", out.Attempts)
	}
	if n := d.RetriedCount(); n != 0 {
		t.Fatalf("expected no retries, got %d", n)
	}
}

func TestExactlyOneOutcomePerIntent(t *testing.T) {
	const total = 12

	ledger := newFakeLedger(func(op domain.SignedOperation, attempt int) (string, error) {
		// Every third intent needs one retry before it lands.
		if op.Intent.ID[len(op.Intent.ID)-1]%3 == 0 && attempt == 1 {
			return "", fmt.Errorf("submit: %w", domain.ErrRateLimited)
		}
		return "op-" + op.Intent.ID, nil
	})
	d, _, cancel := newTestDispatcher(t, ledger, Config{
		Concurrency: 3,
		RetryLimit:  3,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  4 * time.Millisecond,
	})
	defer cancel()

	for i := 0; i < total; i++ {
		if err := d.Enqueue(testIntent(fmt.Sprintf("i-%d", i), domain.Priority(i%3))); err != nil {
			t.Fatal(err)
		}
	}

	seen := make(map[string]int)
	for i := 0; i < total; i++ {
		out := waitOutcome(t, d)
		seen[out.Intent.ID]++
	}
	if len(seen) != total {
		t.Fatalf("expected %d distinct intents, got %d", total, len(seen))
	}
	for id, n := range seen {
		if n != 1 {
			t.Fatalf("intent %s produced %d outcomes", id, n)
		}
	}

	select {
	case out := <-d.Results():
		t.Fatalf("unexpected extra outcome for %s", out.Intent.ID)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestClearDiscardsQueuedWithoutOutcomes(t *testing.T) {
	gate := make(chan struct{})
	ledger := newFakeLedger(func(op domain.SignedOperation, _ int) (string, error) {
		if op.Intent.ID == "blocker" {
			<-gate
		}
		return "op-" + op.Intent.ID, nil
	})
	d, _, cancel := newTestDispatcher(t, ledger, Config{Concurrency: 1})
	defer cancel()

	if err := d.Enqueue(testIntent("blocker", domain.PriorityHigh)); err != nil {
		t.Fatal(err)
	}
	waitStatus(t, d, func(st domain.QueueStatus) bool { return st.InFlight == 1 })

	for i := 0; i < 3; i++ {
		if err := d.Enqueue(testIntent(fmt.Sprintf("stale-%d", i), domain.PriorityMedium)); err != nil {
			t.Fatal(err)
		}
	}

	if n := d.Clear(); n != 3 {
		t.Fatalf("expected 3 discarded, got %d", n)
	}
	close(gate)

	// The in-flight blocker still completes; the cleared items vanish.
	out := waitOutcome(t, d)
	if out.Intent.ID != "blocker" || out.Kind != domain.OutcomeSubmitted {
		t.Fatalf("unexpected outcome %s/%s", out.Intent.ID, out.Kind)
	}
	select {
	case out := <-d.Results():
		t.Fatalf("cleared intent %s must not produce an outcome", out.Intent.ID)
	case <-time.After(50 * time.Millisecond):
	}
	if st := d.Status(); st.QueueLength != 0 {
		t.Fatalf("expected an empty queue, got %+v", st)
	}
}

func TestClearInvalidatesPendingRetries(t *testing.T) {
	ledger := newFakeLedger(func(domain.SignedOperation, int) (string, error) {
		return "", fmt.Errorf("submit: %w", domain.ErrRateLimited)
	})
	d, _, cancel := newTestDispatcher(t, ledger, Config{
		Concurrency: 1,
		RetryLimit:  5,
		BaseBackoff: 100 * time.Millisecond,
		MaxBackoff:  time.Second,
	})
	defer cancel()

	if err := d.Enqueue(testIntent("retrying", domain.PriorityMedium)); err != nil {
		t.Fatal(err)
	}

	// Wait for the first failed attempt, then clear before the backoff fires.
	deadline := time.Now().Add(5 * time.Second)
	for ledger.submitCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("first attempt never happened")
		}
		time.Sleep(time.Millisecond)
	}
	d.Clear()

	time.Sleep(250 * time.Millisecond)
	if n := ledger.submitCount(); n != 1 {
		t.Fatalf("expected the retry to be discarded, got %d attempts", n)
	}
	if n := d.RetriedCount(); n != 0 {
		t.Fatalf("expected no re-enqueues after clear, got %d", n)
	}
	select {
	case out := <-d.Results():
		t.Fatalf("cleared retry must not produce an outcome, got %s", out.Kind)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	d := NewDispatcher(
		newFakeLedger(nil),
		fakeEstimator{},
		&fakeRegistrar{},
		nil,
		newStubRegistry("alpha", "beta"),
		domain.TokenInfo{},
		Config{BaseBackoff: 100 * time.Millisecond, MaxBackoff: 800 * time.Millisecond},
		testLogger(),
	)

	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		800 * time.Millisecond,
		800 * time.Millisecond,
	}
	for retryCount, expected := range want {
		if got := d.backoff(retryCount); got != expected {
			t.Fatalf("backoff(%d) = %s, want %s", retryCount, got, expected)
		}
	}
}
