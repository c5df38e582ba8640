package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestState_String(t *testing.T) {
	assert.Equal(t, "BootstrapPending", BootstrapPending.String())
	assert.Equal(t, "Done", Done.String())
	assert.Equal(t, "State(42)", State(42).String())
}

func TestState_CanEnter_LinearPlusFailed(t *testing.T) {
	for s := BootstrapPending; s < Done; s++ {
		assert.True(t, s.canEnter(s+1), "%s -> %s", s, s+1)
		assert.True(t, s.canEnter(Failed), "%s -> Failed", s)
		assert.False(t, s.canEnter(s), "%s -> %s", s, s)
	}
	assert.False(t, Bootstrapped.canEnter(SceneReady))
	assert.False(t, Done.canEnter(Failed))
	assert.False(t, Failed.canEnter(Done))
}
