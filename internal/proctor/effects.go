package proctor

import "github.com/stemsi/exstem-proctor/internal/model"

// EffectKind names a side effect the Controller asks its runner to perform.
type EffectKind string

const (
	// EffectRequestFullscreen asks the client to enter fullscreen (best-effort).
	EffectRequestFullscreen EffectKind = "request_fullscreen"
	// EffectExitFullscreen asks the client to leave fullscreen (best-effort).
	EffectExitFullscreen EffectKind = "exit_fullscreen"
	// EffectConfirmLeave asks the client to show the leave-page confirmation.
	EffectConfirmLeave EffectKind = "confirm_leave"
	// EffectTick carries the new remaining time after a countdown tick.
	EffectTick EffectKind = "tick"
	// EffectWarning carries the seconds left in the violation grace window.
	EffectWarning EffectKind = "warning"
	// EffectViolation reports a raised IntegrityViolation for auditing.
	EffectViolation EffectKind = "violation"
	// EffectSubmit asks the runner to call the Submission Gateway once.
	EffectSubmit EffectKind = "submit"
	// EffectSubmitted reports the Submitted terminal state.
	EffectSubmitted EffectKind = "submitted"
	// EffectFailed reports the Failed terminal state.
	EffectFailed EffectKind = "failed"
	// EffectLoadFailed reports that the question set could not be loaded.
	EffectLoadFailed EffectKind = "load_failed"
	// EffectStateChanged tells the runner the snapshot changed.
	EffectStateChanged EffectKind = "state"
)

// Effect is one instruction produced by a Controller transition. Only the
// fields relevant to Kind are set.
type Effect struct {
	Kind       EffectKind
	Seconds    int
	Signal     Signal
	Suppressed bool
	Reason     model.SubmitReason
	Submission *model.Submission
	Message    string
}

// Has reports whether effects contains an effect of the given kind.
func Has(effects []Effect, kind EffectKind) bool {
	for _, e := range effects {
		if e.Kind == kind {
			return true
		}
	}
	return false
}

// Count returns how many effects of the given kind are present.
func Count(effects []Effect, kind EffectKind) int {
	n := 0
	for _, e := range effects {
		if e.Kind == kind {
			n++
		}
	}
	return n
}
