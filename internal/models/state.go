// Package models defines state management structures for PayPipe flows.
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

const confirmationStep = "confirmation"

// Step is the position of a user inside a flow: either collecting the field
// at Index or waiting for confirmation of everything collected.
type Step struct {
	confirming bool
	index      int
}

// InProgress returns the step collecting the field at index i.
func InProgress(i int) Step {
	return Step{index: i}
}

// Confirming returns the confirmation step.
func Confirming() Step {
	return Step{confirming: true}
}

// IsConfirming reports whether all fields are collected.
func (s Step) IsConfirming() bool {
	return s.confirming
}

// Index returns the field index; it is meaningless while confirming.
func (s Step) Index() int {
	return s.index
}

func (s Step) String() string {
	if s.confirming {
		return confirmationStep
	}
	return fmt.Sprintf("step %d", s.index)
}

// MarshalJSON encodes the step as an integer index or "confirmation".
func (s Step) MarshalJSON() ([]byte, error) {
	if s.confirming {
		return json.Marshal(confirmationStep)
	}
	return json.Marshal(s.index)
}

// UnmarshalJSON accepts either form produced by MarshalJSON.
func (s *Step) UnmarshalJSON(data []byte) error {
	var idx int
	if err := json.Unmarshal(data, &idx); err == nil {
		if idx < 0 {
			return fmt.Errorf("negative step index %d", idx)
		}
		*s = InProgress(idx)
		return nil
	}
	var label string
	if err := json.Unmarshal(data, &label); err != nil {
		return fmt.Errorf("invalid step: %w", err)
	}
	if label != confirmationStep {
		return fmt.Errorf("invalid step %q", label)
	}
	*s = Confirming()
	return nil
}

// FlowState represents the progress of one user in one flow.
type FlowState struct {
	OwnerID   string            `json:"owner_id"`
	FlowType  FlowType          `json:"flow_type"`
	Step      Step              `json:"step"`
	Data      map[string]string `json:"collected_data"`
	StartedAt time.Time         `json:"started_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// NewFlowState returns a state positioned at the first field.
func NewFlowState(owner string, ft FlowType) *FlowState {
	now := time.Now()
	return &FlowState{
		OwnerID:   owner,
		FlowType:  ft,
		Step:      InProgress(0),
		Data:      map[string]string{},
		StartedAt: now,
		UpdatedAt: now,
	}
}

// Nested returns the collected data with grouped fields folded into sub-maps,
// e.g. address fields under "address".
func (s *FlowState) Nested(groups map[string]string) map[string]any {
	out := make(map[string]any, len(s.Data))
	for k, v := range s.Data {
		group := groups[k]
		if group == "" {
			out[k] = v
			continue
		}
		sub, ok := out[group].(map[string]any)
		if !ok {
			sub = map[string]any{}
			out[group] = sub
		}
		sub[k] = v
	}
	return out
}
