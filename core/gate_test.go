package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGateFiresWhenAllInputsArrive(t *testing.T) {
	g := NewGate[int]("right", "left")
	require.False(t, g.Root(), "gate with inputs reported as root")

	in, ready, err := g.Offer("left", 1)
	require.NoError(t, err)
	assert.False(t, ready)
	assert.Nil(t, in)
	assert.Equal(t, GatePartial, g.State())
	assert.Equal(t, []string{"right"}, g.Missing())

	in, ready, err = g.Offer("right", 2)
	require.NoError(t, err)
	require.True(t, ready)
	assert.Equal(t, 1, in["left"])
	assert.Equal(t, 2, in["right"])
	assert.True(t, g.Fired())
	assert.Nil(t, g.Missing())
}

func TestGateRejectsLateDuplicateAndUnknownInputs(t *testing.T) {
	g := NewGate[int]("a", "b")
	_, _, err := g.Offer("c", 0)
	assert.ErrorIs(t, err, ErrUnexpectedInput)

	_, _, err = g.Offer("a", 0)
	require.NoError(t, err)
	_, _, err = g.Offer("a", 0)
	assert.ErrorIs(t, err, ErrDuplicateInput)

	_, _, err = g.Offer("b", 0)
	require.NoError(t, err)
	_, _, err = g.Offer("b", 0)
	assert.ErrorIs(t, err, ErrGateFired)
}

func TestGateResetStartsNewPhase(t *testing.T) {
	g := NewGate[string]("in")
	_, ready, _ := g.Offer("in", "x")
	require.True(t, ready, "single-input gate did not fire")

	g.Reset()
	assert.Equal(t, GateEmpty, g.State())

	in, ready, err := g.Offer("in", "y")
	require.NoError(t, err)
	assert.True(t, ready)
	assert.Equal(t, "y", in["in"])
}

func TestRootGateTriggersOncePerPhase(t *testing.T) {
	g := NewGate[int]()
	require.True(t, g.Root(), "gate without inputs should be root")
	assert.True(t, g.Trigger(), "first Trigger should fire")
	assert.False(t, g.Trigger(), "second Trigger in the same phase should not fire")
	g.Reset()
	assert.True(t, g.Trigger(), "Trigger after Reset should fire")

	assert.False(t, NewGate[int]("in").Trigger(), "non-root gate must not fire through Trigger")
}

func TestGateStateString(t *testing.T) {
	for state, want := range map[GateState]string{GateEmpty: "empty", GatePartial: "partial", GateFired: "fired"} {
		assert.Equal(t, want, state.String())
	}
}
