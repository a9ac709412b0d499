// Copyright (C) 2017 Librato, Inc. All rights reserved.

package emitter

import "fmt"

// State is the state of an emission session:
//
//	Idle -> Configuring -> Running -> (Flushing -> Sleeping)* -> ShuttingDown -> Terminated
type State int32

// The states of a session. Configuring covers the construction of the sink.
const (
	Idle State = iota
	Configuring
	Running
	Flushing
	Sleeping
	ShuttingDown
	Terminated
)

var stateNames = []string{
	Idle:         "Idle",
	Configuring:  "Configuring",
	Running:      "Running",
	Flushing:     "Flushing",
	Sleeping:     "Sleeping",
	ShuttingDown: "ShuttingDown",
	Terminated:   "Terminated",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int32(s))
}
