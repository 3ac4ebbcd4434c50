package job

import "time"

// MaxRunningProgress is the highest progress a job reports before success is confirmed.
const MaxRunningProgress = 99

// progressBand is the range a state's progress moves through as time passes.
type progressBand struct {
	floor, ceil int
}

var progressBands = map[State]progressBand{
	StateCreated:    {0, 0},
	StateSubmitting: {5, 5},
	StateQueued:     {10, 49},
	StateProcessing: {50, 95},
}

// ComputeProgress returns the progress percentage for a job in state that has been
// running for elapsed out of timeout. The result is never below prev, stays at or
// below MaxRunningProgress until success and is 100 on success. Failure states keep prev.
func ComputeProgress(state State, elapsed, timeout time.Duration, prev int) int {
	if state == StateSucceeded {
		return 100
	}

	band, ok := progressBands[state]
	if !ok {
		return prev
	}

	frac := 0.0
	if timeout > 0 {
		frac = float64(elapsed) / float64(timeout)
	}
	frac = min(max(frac, 0), 1)

	p := band.floor + int(frac*float64(band.ceil-band.floor))
	return min(max(p, prev), MaxRunningProgress)
}
