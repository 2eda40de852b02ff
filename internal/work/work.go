// Package work defines the dispatchable work unit, its processing result,
// and the status state machine the coordinator enforces.
package work

import (
	"errors"
	"fmt"

	"github.com/geoforge/chunkplane/internal/model"
)

// ErrTransition is returned when an illegal status transition is attempted.
// The state is left unchanged in that case.
var ErrTransition = errors.New("illegal status transition")

// Status of a work unit as tracked by the coordinator.
type Status string

const (
	StatusPending    Status = "pending"
	StatusAssigned   Status = "assigned"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// transitions is the full legality table. Completed and Failed are terminal.
var transitions = map[Status][]Status{
	StatusPending:    {StatusAssigned},
	StatusAssigned:   {StatusInProgress},
	StatusInProgress: {StatusCompleted, StatusFailed},
	StatusCompleted:  {},
	StatusFailed:     {},
}

func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s Status) CanTransition(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition returns the target status if the move is legal, or the current
// status together with ErrTransition if it is not.
func (s Status) Transition(to Status) (Status, error) {
	if !to.Valid() {
		return s, fmt.Errorf("%w: unknown status %q", ErrTransition, to)
	}
	if !s.CanTransition(to) {
		return s, fmt.Errorf("%w: %s -> %s", ErrTransition, s, to)
	}
	return to, nil
}

// Settings for processing a work unit. Copied by value into each unit.
type Settings struct {
	// Scale is the world scale in blocks per meter.
	Scale float64 `json:"scale"`

	// Terrain enables elevation-based terrain generation.
	Terrain bool `json:"terrain"`

	// Interior enables building interiors.
	Interior bool `json:"interior"`

	// Roof enables building roofs.
	Roof bool `json:"roof"`

	// GroundLevel is the base ground level of the generated world.
	GroundLevel int `json:"ground_level"`
}

func DefaultSettings() Settings {
	return Settings{
		Scale:       1.0,
		Terrain:     false,
		Interior:    true,
		Roof:        true,
		GroundLevel: -62,
	}
}

// Unit is one dispatchable chunk of a partition run. Units are created once
// by the planner and never mutated afterwards.
type Unit struct {
	ChunkID  string     `json:"chunk_id"`
	BBox     model.BBox `json:"bbox"`
	Settings Settings   `json:"settings"`
}

// Result is the terminal outcome a worker reports for one unit.
// Exactly one of ResultLocation/Error is set, matching Status.
type Result struct {
	ChunkID        string  `json:"chunk_id"`
	Status         Status  `json:"status"`
	ResultLocation string  `json:"result_location,omitempty"`
	Error          string  `json:"error,omitempty"`
	ProcessingTime float64 `json:"processing_time"`
}

func (r Result) Validate() error {
	if r.ChunkID == "" {
		return errors.New("result: chunk_id is required")
	}
	if r.ProcessingTime < 0 {
		return fmt.Errorf("result: processing_time must be >= 0, got %v", r.ProcessingTime)
	}
	switch r.Status {
	case StatusCompleted:
		if r.ResultLocation == "" {
			return errors.New("result: completed requires result_location")
		}
		if r.Error != "" {
			return errors.New("result: completed must not carry an error")
		}
	case StatusFailed:
		if r.Error == "" {
			return errors.New("result: failed requires error")
		}
		if r.ResultLocation != "" {
			return errors.New("result: failed must not carry a result_location")
		}
	default:
		return fmt.Errorf("result: status must be terminal, got %q", r.Status)
	}
	return nil
}
