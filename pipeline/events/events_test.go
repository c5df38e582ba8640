package events

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingSink struct {
	emitted int
	closed  int
	err     error
}

func (f *failingSink) Emit(Event) error { f.emitted++; return f.err }
func (f *failingSink) Close() error     { f.closed++; return f.err }

func TestRecorder_Events_ReturnsCopyInOrder(t *testing.T) {
	r := &Recorder{}
	require.NoError(t, r.Emit(Event{Seq: 1, State: "Bootstrapped"}))
	require.NoError(t, r.Emit(Event{Seq: 2, State: "AppLaunched"}))

	got := r.Events()
	got[0].State = "mutated"

	assert.Equal(t, "Bootstrapped", r.Events()[0].State)
	assert.Equal(t, 2, r.Events()[1].Seq)
}

func TestMultiSink_OneFails_OthersStillReceive(t *testing.T) {
	// GIVEN a fan-out where the first sink is broken
	bad := &failingSink{err: errors.New("broker down")}
	rec := &Recorder{}
	m := MultiSink{bad, rec, LogSink{}}

	// WHEN an event is emitted and the sinks closed
	err := m.Emit(Event{RunID: "r", State: "Done"})
	closeErr := m.Close()

	// THEN the error surfaces but delivery continued
	assert.ErrorContains(t, err, "broker down")
	assert.ErrorContains(t, closeErr, "broker down")
	assert.Len(t, rec.Events(), 1)
	assert.Equal(t, 1, bad.closed)
}

func TestMultiSink_Empty_NoError(t *testing.T) {
	assert.NoError(t, MultiSink{}.Emit(Event{}))
	assert.NoError(t, MultiSink{}.Close())
}

func TestPayload_UsesWireFieldNames(t *testing.T) {
	ts := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	b, err := Payload(Event{RunID: "abc", Seq: 3, State: "Exported", Level: LevelInfo,
		Fields: map[string]any{"path": "/out/x.xodr"}, Timestamp: ts})
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Equal(t, "abc", m["run_id"])
	assert.Equal(t, "Exported", m["state"])
	assert.Equal(t, float64(3), m["seq"])
	assert.Equal(t, "2025-03-01T10:00:00Z", m["ts"])
	assert.NotContains(t, m, "msg")
}

func TestTopic_IncludesRunID(t *testing.T) {
	assert.Equal(t, "indiasim/runs/42/events", Topic("42"))
}
