package keeper

import (
	"testing"
	"time"
)

func cagedObservation(now time.Time) Observation {
	return Observation{
		Live:             false,
		Now:              now,
		CagedAt:          now.Add(-time.Hour),
		ProcessingWindow: 72 * time.Hour,
	}
}

func TestEvaluateLiveIsNormal(t *testing.T) {
	var state CageState
	obs := Observation{Live: true, Now: time.Now()}
	if phase := state.Evaluate(obs); phase != PhaseNormal {
		t.Fatalf("live protocol must be normal, got %s", phase)
	}
	if state.Confirmations != 0 {
		t.Fatalf("live blocks must not accumulate confirmations, got %d", state.Confirmations)
	}
}

func TestEvaluateConfirmationsAccumulate(t *testing.T) {
	var state CageState
	obs := cagedObservation(time.Now())

	for i := 1; i <= FinalityConfirmations; i++ {
		phase := state.Evaluate(obs)
		if phase != PhaseAwaitingFinality {
			t.Fatalf("block %d: expected awaiting-finality, got %s", i, phase)
		}
		if state.Confirmations != i {
			t.Fatalf("block %d: expected %d confirmations, got %d", i, i, state.Confirmations)
		}
	}

	// Confirmations freeze at the finality threshold.
	for i := 0; i < 3; i++ {
		state.Evaluate(obs)
		if state.Confirmations != FinalityConfirmations {
			t.Fatalf("confirmations exceeded threshold: %d", state.Confirmations)
		}
	}
}

func TestEvaluateFinalUnprocessedUntilFacilitated(t *testing.T) {
	state := CageState{Confirmations: FinalityConfirmations}
	obs := cagedObservation(time.Now())

	if phase := state.Evaluate(obs); phase != PhaseFinalUnprocessed {
		t.Fatalf("expected final-unprocessed, got %s", phase)
	}
	if phase := state.Evaluate(obs); phase != PhaseFinalUnprocessed {
		t.Fatalf("phase must hold until facilitation latches, got %s", phase)
	}

	state.Facilitated = true
	if phase := state.Evaluate(obs); phase != PhaseProcessing {
		t.Fatalf("expected processing inside the window, got %s", phase)
	}
}

func TestEvaluateProcessingWindow(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	state := CageState{Confirmations: FinalityConfirmations, Facilitated: true}

	obs := Observation{
		Live:             false,
		Now:              now,
		CagedAt:          now.Add(-time.Hour),
		ProcessingWindow: 2 * time.Hour,
	}
	if phase := state.Evaluate(obs); phase != PhaseProcessing {
		t.Fatalf("window open: expected processing, got %s", phase)
	}

	// Exactly at the thaw boundary the window has elapsed.
	obs.Now = obs.ThawTime()
	if phase := state.Evaluate(obs); phase != PhaseReadyToThaw {
		t.Fatalf("window elapsed: expected ready-to-thaw, got %s", phase)
	}

	state.Thawed = true
	if phase := state.Evaluate(obs); phase != PhaseThawed {
		t.Fatalf("expected terminal thawed phase, got %s", phase)
	}
}

// A restart seeded with the already-facilitated flag must skip straight past
// the facilitation phase once finality is re-established.
func TestEvaluateRestartAfterFacilitation(t *testing.T) {
	state := CageState{Facilitated: true}
	obs := cagedObservation(time.Now())

	for i := 0; i < FinalityConfirmations; i++ {
		if phase := state.Evaluate(obs); phase != PhaseAwaitingFinality {
			t.Fatalf("restart must re-count confirmations, got %s", phase)
		}
	}
	if phase := state.Evaluate(obs); phase != PhaseProcessing {
		t.Fatalf("seeded restart must not repeat facilitation, got %s", phase)
	}
}

func TestPhaseString(t *testing.T) {
	cases := map[Phase]string{
		PhaseNormal:           "normal",
		PhaseAwaitingFinality: "awaiting-finality",
		PhaseFinalUnprocessed: "final-unprocessed",
		PhaseProcessing:       "processing",
		PhaseReadyToThaw:      "ready-to-thaw",
		PhaseThawed:           "thawed",
		Phase(42):             "unknown",
	}
	for phase, want := range cases {
		if got := phase.String(); got != want {
			t.Fatalf("phase %d: got %q, want %q", phase, got, want)
		}
	}
}
