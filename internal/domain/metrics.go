package domain

import "time"

// ParticipantMetrics are the scorer's per-address cadence statistics. One
// record exists per observed address; records age out of a sliding window.
type ParticipantMetrics struct {
	Address          string
	OperationCount   int
	MeanIntervalMs   float64
	IntervalVariance float64
	PatternScore     float64 // timing regularity, 0..1
	VolumeScore      float64 // throughput, 0..1
	FirstSeen        time.Time
	LastSeen         time.Time
}

// BotLike applies the configured thresholds to a metrics snapshot.
func (m ParticipantMetrics) BotLike(minOps int, maxMeanInterval time.Duration, minPatternScore, minVolumeScore float64) bool {
	if m.OperationCount < minOps {
		return false
	}
	if m.MeanIntervalMs > float64(maxMeanInterval.Milliseconds()) {
		return false
	}
	return m.PatternScore >= minPatternScore && m.VolumeScore >= minVolumeScore
}
