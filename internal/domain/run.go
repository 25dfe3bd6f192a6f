package domain

import "time"

// RunPhase is the lifecycle of a pattern run. Transitions are
// Idle -> Running -> Stopping -> Idle; Stop requests move Running to Stopping,
// and the runner moves Stopping to Idle once the final tick has been skipped.
type RunPhase string

const (
	RunIdle     RunPhase = "idle"
	RunRunning  RunPhase = "running"
	RunStopping RunPhase = "stopping"
)

// RunStatus is the externally visible snapshot of the current run.
type RunStatus struct {
	Running        bool          `json:"running"`
	RunID          string        `json:"run_id,omitempty"`
	CurrentPattern string        `json:"current_pattern,omitempty"`
	Phase          RunPhase      `json:"phase"`
	Intensity      int           `json:"intensity,omitempty"`
	StartedAt      time.Time     `json:"started_at,omitzero"`
	Remaining      time.Duration `json:"remaining_ms"`
}

// QueueStatus is the dispatcher's externally visible load snapshot.
type QueueStatus struct {
	QueueLength int `json:"queue_length"`
	InFlight    int `json:"in_flight"`
}

// RunReport aggregates one finished run. A single operation failure never
// terminates a run; it only increments these counters.
type RunReport struct {
	RunID       string        `json:"run_id"`
	Pattern     string        `json:"pattern"`
	Intensity   int           `json:"intensity"`
	StartedAt   time.Time     `json:"started_at"`
	FinishedAt  time.Time     `json:"finished_at"`
	Ticks       int           `json:"ticks"`
	Skipped     int           `json:"skipped_ticks"`
	Submitted   int           `json:"submitted"`
	Retried     int           `json:"retried"`
	Dropped     int           `json:"dropped"`
	Finalized   int           `json:"finalized"`
	Failed      int           `json:"failed"`
	TotalAmount uint64        `json:"total_amount"`
	TotalFees   uint64        `json:"total_fees"`
	Duration    time.Duration `json:"duration_ms"`
}

// TokenInfo carries the metadata needed to scale human-readable amounts to
// base units.
type TokenInfo struct {
	Mint     string
	Symbol   string
	Decimals int
}

// BaseUnits converts a display amount to base units for this token.
func (t TokenInfo) BaseUnits(display float64) uint64 {
	scale := 1.0
	for i := 0; i < t.Decimals; i++ {
		scale *= 10
	}
	if display <= 0 {
		return 0
	}
	return uint64(display * scale)
}
