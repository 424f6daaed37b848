package unit

import (
	"errors"
	"fmt"

	"github.com/g960059/brigadeboard/internal/model"
)

var ErrIllegalTransition = errors.New("illegal status transition")

// transitions lists the statuses reachable from each status. Progression
// steps may be skipped forward (a unit can go straight from DISPATCHED to
// ARRIVED) but never backward except through CLEARED.
var transitions = map[model.UnitStatus][]model.UnitStatus{
	model.StatusAvailable:    {model.StatusDispatched, model.StatusOOS},
	model.StatusDispatched:   {model.StatusEnroute, model.StatusArrived, model.StatusCleared},
	model.StatusEnroute:      {model.StatusArrived, model.StatusCleared},
	model.StatusArrived:      {model.StatusTransporting, model.StatusCleared},
	model.StatusTransporting: {model.StatusAtMedical, model.StatusCleared},
	model.StatusAtMedical:    {model.StatusCleared},
	model.StatusCleared:      {model.StatusAvailable, model.StatusDispatched, model.StatusOOS},
	model.StatusOOS:          {model.StatusAvailable},
}

// CanTransition reports whether a unit in from may be moved to to. The
// backend is authoritative for units whose status the client cannot read,
// so UNKNOWN accepts every target.
func CanTransition(from, to model.UnitStatus) bool {
	if to == model.StatusUnknown {
		return false
	}
	if from == model.StatusUnknown || from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func checkTransition(unitID string, from, to model.UnitStatus) error {
	if CanTransition(from, to) {
		return nil
	}
	return fmt.Errorf("%w: unit %s %s -> %s", ErrIllegalTransition, unitID, from, to)
}
