package session

import "time"

// State is a step of the session lifecycle.
type State int

const (
	StateStart State = iota
	StatePlatformsEnumerated
	StateDevicesEnumerated
	StateDeviceSelected
	StateContextCreated
	StateSourceLoaded
	StateProgramBuilt
	StateKernelReady
	StateQueueReady
	StateBuffersAllocated
	StateInputsTransferred
	StateArgsBound
	StateDispatched
	StateFinished
	StateReadBack
	StateReported
	StateTornDown
	StateExit
)

var stateNames = [...]string{
	StateStart:               "Start",
	StatePlatformsEnumerated: "PlatformsEnumerated",
	StateDevicesEnumerated:   "DevicesEnumerated",
	StateDeviceSelected:      "DeviceSelected",
	StateContextCreated:      "ContextCreated",
	StateSourceLoaded:        "SourceLoaded",
	StateProgramBuilt:        "ProgramBuilt",
	StateKernelReady:         "KernelReady",
	StateQueueReady:          "QueueReady",
	StateBuffersAllocated:    "BuffersAllocated",
	StateInputsTransferred:   "InputsTransferred",
	StateArgsBound:           "ArgsBound",
	StateDispatched:          "Dispatched",
	StateFinished:            "Finished",
	StateReadBack:            "ReadBack",
	StateReported:            "Reported",
	StateTornDown:            "TornDown",
	StateExit:                "Exit",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "Unknown"
}

// Transition is delivered to the session observer whenever a state is entered.
type Transition struct {
	State State
	At    time.Time
}
