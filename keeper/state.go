package keeper

import (
	"time"
)

// FinalityConfirmations is how many consecutive caged blocks must be observed
// before the shutdown flag is considered final with respect to reorgs.
const FinalityConfirmations = 12

// Phase is the keeper's view of where the shutdown sequence stands.
type Phase int

const (
	// PhaseNormal: the protocol is live, nothing to do.
	PhaseNormal Phase = iota
	// PhaseAwaitingFinality: cage observed, confirmations still accumulating.
	PhaseAwaitingFinality
	// PhaseFinalUnprocessed: cage is final and facilitation has not run.
	PhaseFinalUnprocessed
	// PhaseProcessing: facilitation done, the processing window is open.
	PhaseProcessing
	// PhaseReadyToThaw: the processing window has elapsed.
	PhaseReadyToThaw
	// PhaseThawed: terminal.
	PhaseThawed
)

// String names the phase for logs and metrics.
func (p Phase) String() string {
	switch p {
	case PhaseNormal:
		return "normal"
	case PhaseAwaitingFinality:
		return "awaiting-finality"
	case PhaseFinalUnprocessed:
		return "final-unprocessed"
	case PhaseProcessing:
		return "processing"
	case PhaseReadyToThaw:
		return "ready-to-thaw"
	case PhaseThawed:
		return "thawed"
	default:
		return "unknown"
	}
}

// Observation is the chain state a single block evaluation derives from. All
// fields are freshly read; nothing is carried over from earlier blocks.
type Observation struct {
	// Live is the shutdown flag: false once the cage has been triggered.
	Live bool
	// Now is the current block timestamp.
	Now time.Time
	// CagedAt is the timestamp the cage was triggered at.
	CagedAt time.Time
	// ProcessingWindow is how long processing must run before thaw.
	ProcessingWindow time.Duration
}

// ThawTime returns the earliest moment the thaw sequence may be submitted.
func (o Observation) ThawTime() time.Time {
	return o.CagedAt.Add(o.ProcessingWindow)
}

// CageState is the keeper's entire mutable run state. One instance exists per
// run; the only external seed is the boot-time already-facilitated flag,
// which makes a restart mid-sequence idempotent with respect to the
// facilitation phase.
type CageState struct {
	// Confirmations counts consecutive caged blocks, frozen at
	// FinalityConfirmations.
	Confirmations int
	// Facilitated latches true once the facilitation phase has been
	// triggered. Set exactly once per run.
	Facilitated bool
	// Thawed latches true once the thaw sequence completed.
	Thawed bool
}

// Evaluate advances the state machine for one block and returns the phase the
// keeper should act on. It is pure state derivation over freshly read chain
// values: a transient read failure upstream simply defers the decision to the
// next block.
//
// The protocol guarantees live never reverts to true once the cage has been
// triggered, so no reset path exists here; the driver logs if it ever
// observes that anomaly.
func (s *CageState) Evaluate(obs Observation) Phase {
	if obs.Live {
		return PhaseNormal
	}
	if s.Confirmations < FinalityConfirmations {
		s.Confirmations++
		return PhaseAwaitingFinality
	}
	if !s.Facilitated {
		return PhaseFinalUnprocessed
	}
	if s.Thawed {
		return PhaseThawed
	}
	if obs.Now.Before(obs.ThawTime()) {
		return PhaseProcessing
	}
	return PhaseReadyToThaw
}
