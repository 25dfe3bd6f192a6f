package domain

import "time"

// Priority is the dispatch scheduling class for an intent. Higher priorities
// drain first; FIFO order is kept within a tier.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
)

// String returns the lowercase name used in logs and the API.
func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	default:
		return "low"
	}
}

// FeeMultiplier scales the median network fee for this priority tier.
func (p Priority) FeeMultiplier() float64 {
	switch p {
	case PriorityHigh:
		return 1.5
	case PriorityLow:
		return 0.8
	default:
		return 1.0
	}
}

// TradeIntent is one transfer instruction produced by a pattern. It is
// consumed exactly once by the dispatcher and never mutated after creation.
type TradeIntent struct {
	ID          string // UUID
	FromAddress string
	ToAddress   string
	Amount      uint64 // token base units, always > 0
	Priority    Priority
	Pattern     string // pattern tag, e.g. "squeeze_breakout"
	Phase       string // pattern phase at emission time, for reporting
	CreatedAt   time.Time
}
