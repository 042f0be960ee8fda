package proctor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMonitorIgnoresSignalsWhileDisarmed(t *testing.T) {
	var m Monitor
	for _, sig := range []Signal{SignalHidden, SignalFullscreenExited, SignalBeforeUnload} {
		assert.False(t, m.Observe(sig).Violation, sig)
	}
}

func TestMonitorHiddenRaisesOncePerCondition(t *testing.T) {
	var m Monitor
	m.Arm()

	assert.True(t, m.Observe(SignalHidden).Violation)
	assert.False(t, m.Observe(SignalHidden).Violation)

	m.Observe(SignalVisible)
	assert.True(t, m.Observe(SignalHidden).Violation)
}

func TestMonitorFullscreenExitNeedsFullscreen(t *testing.T) {
	var m Monitor
	m.Arm()

	assert.False(t, m.Observe(SignalFullscreenExited).Violation, "fullscreen was never granted")

	m.SetFullscreen(true)
	assert.True(t, m.Observe(SignalFullscreenExited).Violation)
	assert.False(t, m.Observe(SignalFullscreenExited).Violation)

	m.Observe(SignalFullscreenEntered)
	assert.True(t, m.Observe(SignalFullscreenExited).Violation)
}

func TestMonitorBeforeUnloadRequestsConfirmation(t *testing.T) {
	var m Monitor
	m.Arm()

	obs := m.Observe(SignalBeforeUnload)
	assert.True(t, obs.Violation)
	assert.True(t, obs.ConfirmLeave)
}

func TestMonitorDisarmIsIdempotent(t *testing.T) {
	var m Monitor
	m.Arm()
	m.Disarm()
	m.Disarm()

	assert.False(t, m.Armed())
	assert.False(t, m.Observe(SignalBeforeUnload).Violation)
}

func TestSignalValid(t *testing.T) {
	assert.True(t, SignalHidden.Valid())
	assert.False(t, Signal("blur").Valid())
}
