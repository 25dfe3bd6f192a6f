package domain

import "time"

// Commitment is the confirmation depth requested for a submitted operation.
type Commitment string

const (
	CommitmentProcessed Commitment = "processed"
	CommitmentConfirmed Commitment = "confirmed"
	CommitmentFinalized Commitment = "finalized"
)

// SignedOperation is a transfer instruction serialized and signed by the
// sending wallet, ready for submission to the ledger.
type SignedOperation struct {
	Intent     TradeIntent
	Payload    []byte
	Signature  []byte
	Fee        uint64 // base-unit fee chosen by the estimator
	Commitment Commitment
}

// OperationStatus is the tracked finality state of a submitted operation.
type OperationStatus string

const (
	StatusPending   OperationStatus = "pending"
	StatusConfirmed OperationStatus = "confirmed"
	StatusFinalized OperationStatus = "finalized"
	StatusFailed    OperationStatus = "failed"
)

// Terminal reports whether the status can no longer change.
func (s OperationStatus) Terminal() bool {
	return s == StatusFinalized || s == StatusFailed
}

// ConfirmationRecord is the tracker's last-known view of one operation.
// Terminal records are immutable.
type ConfirmationRecord struct {
	OperationID   string
	Status        OperationStatus
	Confirmations int
	Slot          uint64
	Err           string // set only when Status == StatusFailed
	SubmittedAt   time.Time
	UpdatedAt     time.Time
}

// OutcomeKind tags the terminal result of one enqueued intent.
type OutcomeKind string

const (
	OutcomeSubmitted OutcomeKind = "submitted" // accepted by the ledger
	OutcomeDropped   OutcomeKind = "dropped"   // retry budget exhausted or terminal error
)

// OperationOutcome is emitted by the dispatcher exactly once per accepted
// intent. Items discarded by Clear are the one exception: they vanish
// without an outcome so stale runs cannot leak retries into fresh ones.
type OperationOutcome struct {
	Intent      TradeIntent
	Kind        OutcomeKind
	OperationID string // set when Kind == OutcomeSubmitted
	Attempts    int    // submission attempts made, retries included
	Fee         uint64
	Err         error // set when Kind == OutcomeDropped
	At          time.Time
}

// OperationRecord is the persisted form of a terminal operation, written to
// the history store and later archived.
type OperationRecord struct {
	ID            string
	RunID         string
	OperationID   string
	FromAddress   string
	ToAddress     string
	Amount        uint64
	Fee           uint64
	Priority      string
	Pattern       string
	Phase         string
	Outcome       string
	Attempts      int
	Slot          uint64
	Error         string
	SubmittedAt   time.Time
	FinalizedAt   *time.Time
}
