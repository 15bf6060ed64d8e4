// Copyright 2023-2026 The Analyzer Authors. SPDX-License-Identifier: Apache-2.0

package session

import "fmt"

// State of a Session.
type State int

const (
	Idle State = iota
	TrainingPass
	ValidationPass
	EpochComplete
	Done
)

var stateNames = [...]string{"Idle", "TrainingPass", "ValidationPass", "EpochComplete", "Done"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// Pass identifies which dataset a pass iterates over.
type Pass int

const (
	Training Pass = iota
	Validation
	Test
)

func (p Pass) String() string {
	switch p {
	case Training:
		return "train"
	case Validation:
		return "validation"
	case Test:
		return "test"
	}
	return fmt.Sprintf("Pass(%d)", int(p))
}
