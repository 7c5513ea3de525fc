package transfer

import "time"

// reporter forwards snapshots to the caller's sink on the estimator's cadence.
type reporter struct {
	sink      func(State)
	estimator *RateEstimator
}

func newReporter(sink func(State), interval time.Duration) *reporter {
	return &reporter{
		sink:      sink,
		estimator: NewRateEstimator(interval, time.Now()),
	}
}

func (r *reporter) observe(now time.Time, downloaded, total uint64) {
	speed, sampled := r.estimator.Observe(now, downloaded)
	if !sampled {
		return
	}
	r.emit(State{Downloaded: downloaded, Total: total, Speed: speed})
}

func (r *reporter) rebase(now time.Time, downloaded uint64) {
	r.estimator.Reset(now, downloaded)
}

// final reports zero speed to mark the end of the transfer.
func (r *reporter) final(downloaded, total uint64) {
	r.emit(State{Downloaded: downloaded, Total: total})
}

func (r *reporter) emit(s State) {
	if r.sink != nil {
		r.sink(s)
	}
}
