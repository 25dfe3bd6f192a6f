package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alanyoungcy/tokenflow/internal/domain"
)

// rpcHandler answers JSON-RPC calls from a method -> response map. A string
// value is written verbatim as the result; an *rpcError becomes the error
// member.
func rpcHandler(t *testing.T, results map[string]any) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		resp := rpcResponse{JSONRPC: "2.0", ID: req.ID}
		switch v := results[req.Method].(type) {
		case nil:
			resp.Error = &rpcError{Code: -32601, Message: "method not found"}
		case *rpcError:
			resp.Error = v
		default:
			raw, err := json.Marshal(v)
			if err != nil {
				t.Errorf("marshal result: %v", err)
			}
			resp.Result = raw
		}
		json.NewEncoder(w).Encode(resp)
	}
}

func testOperation() domain.SignedOperation {
	return domain.SignedOperation{
		Intent: domain.TradeIntent{
			ID:          "intent-1",
			FromAddress: "alpha",
			ToAddress:   "beta",
			Amount:      100,
			Priority:    domain.PriorityMedium,
		},
		Payload:    []byte(`{"from":"alpha"}`),
		Signature:  []byte("sig"),
		Fee:        5000,
		Commitment: domain.CommitmentConfirmed,
	}
}

func TestSubmitReturnsOperationID(t *testing.T) {
	srv := httptest.NewServer(rpcHandler(t, map[string]any{
		"sendOperation": "op-abc",
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "mint-1", time.Second)
	id, err := c.Submit(context.Background(), testOperation())
	if err != nil {
		t.Fatal(err)
	}
	if id != "op-abc" {
		t.Fatalf("unexpected operation id %q", id)
	}
}

func TestSubmitRejectsEmptyID(t *testing.T) {
	srv := httptest.NewServer(rpcHandler(t, map[string]any{
		"sendOperation": "",
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "mint-1", time.Second)
	if _, err := c.Submit(context.Background(), testOperation()); err == nil {
		t.Fatal("expected an error for an empty operation id")
	}
}

func TestStatusMapsLedgerPhases(t *testing.T) {
	cases := []struct {
		name  string
		value *statusValue
		want  domain.StatusReply
	}{
		{
			"null entry means unseen",
			nil,
			domain.StatusReply{Found: false},
		},
		{
			"confirmed",
			&statusValue{Status: "confirmed", Confirmations: 3, Slot: 42},
			domain.StatusReply{Found: true, Status: domain.StatusConfirmed, Confirmations: 3, Slot: 42},
		},
		{
			"finalized",
			&statusValue{Status: "finalized", Confirmations: 32, Slot: 42},
			domain.StatusReply{Found: true, Status: domain.StatusFinalized, Confirmations: 32, Slot: 42},
		},
		{
			"unknown phase stays pending",
			&statusValue{Status: "processing"},
			domain.StatusReply{Found: true, Status: domain.StatusPending},
		},
		{
			"error field forces failed",
			&statusValue{Status: "confirmed", Err: "account in use"},
			domain.StatusReply{Found: true, Status: domain.StatusFailed, Err: "account in use"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(rpcHandler(t, map[string]any{
				"getOperationStatuses": statusResult{Value: []*statusValue{tc.value}},
			}))
			defer srv.Close()

			c := NewClient(srv.URL, "mint-1", time.Second)
			got, err := c.Status(context.Background(), "op-1")
			if err != nil {
				t.Fatal(err)
			}
			if got != tc.want {
				t.Fatalf("Status() = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestHTTP429MapsToRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "mint-1", time.Second)
	_, err := c.Submit(context.Background(), testOperation())
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if !domain.Transient(err) {
		t.Fatal("rate limiting must be classified transient")
	}
}

func TestRPCErrorCodeMapping(t *testing.T) {
	cases := []struct {
		name      string
		code      int
		want      error
		transient bool
	}{
		{"rate limited", codeRateLimited, domain.ErrRateLimited, true},
		{"stale reference", codeStaleReference, domain.ErrStaleReference, true},
		{"invalid signature", codeInvalidSig, domain.ErrInvalidSignature, false},
		{"insufficient balance", codeInsufficientBal, domain.ErrInsufficientBalance, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(rpcHandler(t, map[string]any{
				"sendOperation": &rpcError{Code: tc.code, Message: tc.name},
			}))
			defer srv.Close()

			c := NewClient(srv.URL, "mint-1", time.Second)
			_, err := c.Submit(context.Background(), testOperation())
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if domain.Transient(err) != tc.transient {
				t.Fatalf("transient classification for %s should be %v", tc.name, tc.transient)
			}
		})
	}
}

func TestUnknownRPCCodeIsTerminal(t *testing.T) {
	srv := httptest.NewServer(rpcHandler(t, map[string]any{
		"sendOperation": &rpcError{Code: -99999, Message: "novel failure"},
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "mint-1", time.Second)
	_, err := c.Submit(context.Background(), testOperation())
	if err == nil {
		t.Fatal("expected an error")
	}
	if domain.Transient(err) {
		t.Fatal("unknown codes must not be retried")
	}
	if errors.Is(err, domain.ErrNotFound) {
		t.Fatal("unknown codes must not map onto unrelated domain errors")
	}
}

func TestRecentFeeSamples(t *testing.T) {
	srv := httptest.NewServer(rpcHandler(t, map[string]any{
		"getRecentFeeSamples": []feeSampleValue{
			{Slot: 100, Fee: 5000},
			{Slot: 101, Fee: 6000},
			{Slot: 102, Fee: 5500},
		},
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "mint-1", time.Second)
	samples, err := c.RecentFeeSamples(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(samples) != 3 {
		t.Fatalf("expected 3 samples, got %d", len(samples))
	}
	if samples[0].Fee != 5000 || samples[2].Fee != 5500 {
		t.Fatalf("unexpected fees: %+v", samples)
	}
}

func TestBalanceParsesBaseUnits(t *testing.T) {
	result := balanceResult{}
	result.Value.Amount = "123456789"
	srv := httptest.NewServer(rpcHandler(t, map[string]any{
		"getTokenBalance": result,
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "mint-1", time.Second)
	bal, err := c.Balance(context.Background(), "alpha")
	if err != nil {
		t.Fatal(err)
	}
	if bal != 123456789 {
		t.Fatalf("unexpected balance %d", bal)
	}
}

func TestBalanceRejectsMalformedAmount(t *testing.T) {
	result := balanceResult{}
	result.Value.Amount = "lots"
	srv := httptest.NewServer(rpcHandler(t, map[string]any{
		"getTokenBalance": result,
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "mint-1", time.Second)
	if _, err := c.Balance(context.Background(), "alpha"); err == nil {
		t.Fatal("expected a parse error")
	}
}
