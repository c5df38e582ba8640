package events

import "time"

// Summary aggregates the events of one run.
type Summary struct {
	RunID       string
	TotalEvents int
	ErrorCount  int
	FinalState  string
	Failed      bool
	Duration    time.Duration
	StateCounts map[string]int // state → number of events entering it
}

// Summarize computes aggregate statistics from a run's events.
// Safe for nil or empty input (returns zero-value fields).
func Summarize(evs []Event) *Summary {
	summary := &Summary{
		StateCounts: make(map[string]int),
	}
	if len(evs) == 0 {
		return summary
	}

	summary.RunID = evs[0].RunID
	summary.TotalEvents = len(evs)
	first, last := evs[0].Timestamp, evs[0].Timestamp
	lastSeq := evs[0].Seq
	summary.FinalState = evs[0].State
	for _, e := range evs {
		summary.StateCounts[e.State]++
		if e.Level == LevelError {
			summary.ErrorCount++
		}
		if e.Timestamp.Before(first) {
			first = e.Timestamp
		}
		if e.Timestamp.After(last) {
			last = e.Timestamp
		}
		if e.Seq >= lastSeq {
			lastSeq = e.Seq
			summary.FinalState = e.State
		}
	}
	summary.Duration = last.Sub(first)
	summary.Failed = summary.ErrorCount > 0

	return summary
}
