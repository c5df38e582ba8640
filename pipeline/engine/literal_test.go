package engine

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordLiteral_SimConfig_RendersStruct(t *testing.T) {
	// GIVEN the default simulation configuration
	cfg := SimConfig{ScenePath: `C:\proj\data\output\FourWaySignal.xodr`, NumSteps: 400}

	// WHEN rendered
	lit, err := cfg.Record().Literal()

	// THEN keys keep their order and the path is quoted verbatim
	require.NoError(t, err)
	assert.Equal(t, `struct('scene_path', 'C:\proj\data\output\FourWaySignal.xodr', 'num_steps', 400)`, lit)
}

func TestRecordLiteral_EscapesSingleQuotes(t *testing.T) {
	lit, err := Record{{Key: "name", Value: "O'Hare"}}.Literal()

	require.NoError(t, err)
	assert.Equal(t, `struct('name', 'O''Hare')`, lit)
}

func TestRecordLiteral_ScalarKinds(t *testing.T) {
	lit, err := Record{
		{Key: "on", Value: true},
		{Key: "off", Value: false},
		{Key: "big", Value: int64(1) << 40},
		{Key: "dt", Value: 0.05},
	}.Literal()

	require.NoError(t, err)
	assert.Equal(t, `struct('on', true, 'off', false, 'big', 1099511627776, 'dt', 0.05)`, lit)
}

func TestRecordLiteral_RejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		rec  Record
	}{
		{"bad key", Record{{Key: "1x", Value: 1}}},
		{"nan", Record{{Key: "x", Value: math.NaN()}}},
		{"unsupported type", Record{{Key: "x", Value: []int{1}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.rec.Literal()
			assert.Error(t, err)
		})
	}
}

func TestIsFunctionName(t *testing.T) {
	assert.True(t, IsFunctionName("run_sim"))
	assert.True(t, IsFunctionName("utils.plotXYTrajectories"))
	assert.False(t, IsFunctionName("run_sim; system('rm')"))
	assert.False(t, IsFunctionName(""))
}
