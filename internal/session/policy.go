package session

import (
	"fmt"
	"strings"
)

// Action decides what a failed driver call does to the session.
type Action int

const (
	// ActionLog prints the failure and continues.
	ActionLog Action = iota
	// ActionAbort prints the failure and ends the session.
	ActionAbort
)

func (a Action) String() string {
	if a == ActionAbort {
		return "abort"
	}
	return "log"
}

// ParseAction accepts "log"/"continue" and "abort"/"fatal".
func ParseAction(s string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "log", "continue":
		return ActionLog, nil
	case "abort", "fatal":
		return ActionAbort, nil
	default:
		return ActionLog, fmt.Errorf("unknown error action %q", s)
	}
}

// Policy maps driver call names (e.g. "clFinish") to the action taken when the
// call fails. Calls that create resources always abort on failure, and releases
// never do, regardless of policy.
type Policy struct {
	Default   Action
	Overrides map[string]Action
}

// ActionFor returns the action for op.
func (p Policy) ActionFor(op string) Action {
	if a, ok := p.Overrides[op]; ok {
		return a
	}
	return p.Default
}

// With returns a copy of p with op mapped to a.
func (p Policy) With(op string, a Action) Policy {
	overrides := make(map[string]Action, len(p.Overrides)+1)
	for k, v := range p.Overrides {
		overrides[k] = v
	}
	overrides[op] = a
	return Policy{Default: p.Default, Overrides: overrides}
}

// DefaultPolicy logs query failures and aborts when a transfer, argument
// binding, launch or finish fails.
func DefaultPolicy() Policy {
	return Policy{
		Default: ActionLog,
		Overrides: map[string]Action{
			"clEnqueueWriteBuffer":   ActionAbort,
			"clSetKernelArg":         ActionAbort,
			"clEnqueueNDRangeKernel": ActionAbort,
			"clFinish":               ActionAbort,
			"clEnqueueReadBuffer":    ActionAbort,
		},
	}
}

// LenientPolicy logs every failure and keeps going.
func LenientPolicy() Policy {
	return Policy{Default: ActionLog}
}

// StrictPolicy aborts on the first failure.
func StrictPolicy() Policy {
	return Policy{Default: ActionAbort}
}
