package domain

import (
	"context"
	"time"
)

// StatusReply is the ledger's answer to a status query for one operation.
// Found == false means the ledger has not seen the operation yet; the tracker
// treats that as still pending, never as failure.
type StatusReply struct {
	Found         bool
	Status        OperationStatus
	Confirmations int
	Slot          uint64
	Err           string // explicit ledger-side failure, empty otherwise
}

// FeeSample is one recent network fee observation in base units.
type FeeSample struct {
	Slot time.Time
	Fee  uint64
}

// LedgerClient is the RPC surface the engine depends on. Implementations
// live under internal/platform.
type LedgerClient interface {
	// Submit sends a signed operation and returns the ledger-assigned
	// operation identifier. Transient failures are reported as errors
	// wrapping ErrRateLimited or ErrStaleReference.
	Submit(ctx context.Context, op SignedOperation) (string, error)
	// Status queries the finality state of a previously submitted operation.
	Status(ctx context.Context, operationID string) (StatusReply, error)
	// RecentFeeSamples returns the latest fee observations, newest last.
	RecentFeeSamples(ctx context.Context) ([]FeeSample, error)
	// Balance returns an address's token balance in base units.
	Balance(ctx context.Context, address string) (uint64, error)
}
