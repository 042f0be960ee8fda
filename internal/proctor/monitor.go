package proctor

// Signal is a raw environment event reported by the browser.
type Signal string

const (
	SignalHidden            Signal = "visibility_hidden"
	SignalVisible           Signal = "visibility_visible"
	SignalFullscreenEntered Signal = "fullscreen_entered"
	SignalFullscreenExited  Signal = "fullscreen_exited"
	SignalBeforeUnload      Signal = "before_unload"
)

// Valid reports whether s is a known signal.
func (s Signal) Valid() bool {
	switch s {
	case SignalHidden, SignalVisible, SignalFullscreenEntered, SignalFullscreenExited, SignalBeforeUnload:
		return true
	}
	return false
}

// Observation is the Monitor's verdict on one signal.
type Observation struct {
	// Violation is set when the signal raised an IntegrityViolation.
	Violation bool
	// ConfirmLeave is set for navigation-away attempts: the client must ask
	// the user to confirm synchronously, since the page may not survive.
	ConfirmLeave bool
	Signal       Signal
}

// Monitor normalizes tab visibility, fullscreen presence and navigation-away
// attempts into a single IntegrityViolation. It raises at most one violation
// per continuous abnormal condition: a tab that stays hidden, or fullscreen
// that stays exited, does not raise again until it recovers.
type Monitor struct {
	armed      bool
	hidden     bool
	fullscreen bool
}

// Arm starts reacting to signals.
func (m *Monitor) Arm() {
	m.armed = true
	m.hidden = false
}

// Disarm stops reacting to signals. Idempotent.
func (m *Monitor) Disarm() {
	m.armed = false
}

// Armed reports whether signals are being observed.
func (m *Monitor) Armed() bool { return m.armed }

// Fullscreen reports whether fullscreen is known to be in effect.
func (m *Monitor) Fullscreen() bool { return m.fullscreen }

// SetFullscreen records the outcome of a fullscreen request. Exiting
// fullscreen only counts as a violation once it was actually granted.
func (m *Monitor) SetFullscreen(on bool) {
	m.fullscreen = on
}

// Observe classifies one signal. While disarmed every signal is ignored,
// except that fullscreen presence is still tracked.
func (m *Monitor) Observe(sig Signal) Observation {
	obs := Observation{Signal: sig}

	switch sig {
	case SignalFullscreenEntered:
		m.fullscreen = true
		return obs
	case SignalVisible:
		m.hidden = false
		return obs
	}

	if !m.armed {
		if sig == SignalFullscreenExited {
			m.fullscreen = false
		}
		return obs
	}

	switch sig {
	case SignalHidden:
		if !m.hidden {
			m.hidden = true
			obs.Violation = true
		}
	case SignalFullscreenExited:
		if m.fullscreen {
			m.fullscreen = false
			obs.Violation = true
		}
	case SignalBeforeUnload:
		obs.Violation = true
		obs.ConfirmLeave = true
	}
	return obs
}
