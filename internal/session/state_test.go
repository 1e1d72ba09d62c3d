package session

import (
	"errors"
	"testing"

	"github.com/cwbudde/clvecadd/internal/compute"
)

func TestStateString(t *testing.T) {
	tests := map[State]string{
		StateStart:             "Start",
		StateBuffersAllocated:  "BuffersAllocated",
		StateInputsTransferred: "InputsTransferred",
		StateTornDown:          "TornDown",
		StateExit:              "Exit",
		State(99):              "Unknown",
	}
	for state, want := range tests {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(state), got, want)
		}
	}
}

func TestReportFinal(t *testing.T) {
	r := &Report{States: []State{StateStart, StatePlatformsEnumerated, StateExit}}
	if r.Final() != StatePlatformsEnumerated {
		t.Errorf("Final = %s, want PlatformsEnumerated", r.Final())
	}
	if (&Report{}).Final() != StateStart {
		t.Error("Final of empty report should be Start")
	}
}

func TestStepErrorCode(t *testing.T) {
	err := &StepError{Op: "clFinish", Err: &compute.StatusError{Op: "clFinish", Status: compute.OutOfResources}}
	if err.Code() != "CL_OUT_OF_RESOURCES" {
		t.Errorf("Code = %q, want CL_OUT_OF_RESOURCES", err.Code())
	}
	if compute.StatusOf(err) != compute.OutOfResources {
		t.Errorf("StatusOf = %v, want OutOfResources", compute.StatusOf(err))
	}

	plain := &StepError{Op: "clFinish", Err: errors.New("boom")}
	if plain.Code() != "boom" {
		t.Errorf("Code = %q, want boom", plain.Code())
	}
}

func TestTypedErrorsUnwrap(t *testing.T) {
	if !errors.Is(&SourceError{Path: "/x"}, ErrSourceNotFound) {
		t.Error("SourceError should match ErrSourceNotFound")
	}
	if !errors.Is(&BuildError{Status: compute.BuildError}, ErrBuildFailed) {
		t.Error("BuildError should match ErrBuildFailed")
	}
}
