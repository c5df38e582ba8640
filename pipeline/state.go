package pipeline

import "fmt"

// State is a step of the run. States advance strictly in declaration order;
// Failed can be entered from any of them.
type State int

const (
	BootstrapPending State = iota
	Bootstrapped
	AppLaunched
	SceneReady
	Exported
	EngineStarted
	SimulationRun
	Plotted
	Done
	Failed
)

var stateNames = map[State]string{
	BootstrapPending: "BootstrapPending",
	Bootstrapped:     "Bootstrapped",
	AppLaunched:      "AppLaunched",
	SceneReady:       "SceneReady",
	Exported:         "Exported",
	EngineStarted:    "EngineStarted",
	SimulationRun:    "SimulationRun",
	Plotted:          "Plotted",
	Done:             "Done",
	Failed:           "Failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == Done || s == Failed
}

// canEnter reports whether next is a legal successor of s.
func (s State) canEnter(next State) bool {
	if s.Terminal() {
		return false
	}
	return next == Failed || next == s+1
}
