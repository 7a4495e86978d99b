package statemachine

import (
	"fmt"

	"k8s.io/klog/v2"
)

// SheetStatus is the in-process lifecycle of one sheet run. The external
// spreadsheet only ever sees the two durable checkpoints (processing with a
// document URL, then done); the finer states exist for logging and to reject
// out-of-order work.
type SheetStatus string

const (
	SheetStatusUnprocessed SheetStatus = "unprocessed"
	SheetStatusGenerating  SheetStatus = "generating"
	SheetStatusAssembling  SheetStatus = "assembling"
	SheetStatusImaging     SheetStatus = "imaging"
	SheetStatusProcessed   SheetStatus = "processed"
	SheetStatusFailed      SheetStatus = "failed"
)

type SheetTransition struct {
	From SheetStatus
	To   SheetStatus
}

// SheetStateMachine validates sheet lifecycle transitions.
type SheetStateMachine struct {
	allowedTransitions map[SheetTransition]bool
}

func NewSheetStateMachine() *SheetStateMachine {
	sm := &SheetStateMachine{
		allowedTransitions: make(map[SheetTransition]bool),
	}

	// unprocessed -> generating -> assembling -> imaging -> processed
	// any working state -> failed
	// failed/processed -> unprocessed (force rerun)
	transitions := []SheetTransition{
		{SheetStatusUnprocessed, SheetStatusGenerating},
		{SheetStatusGenerating, SheetStatusAssembling},
		{SheetStatusAssembling, SheetStatusImaging},
		{SheetStatusImaging, SheetStatusProcessed},

		{SheetStatusGenerating, SheetStatusFailed},
		{SheetStatusAssembling, SheetStatusFailed},
		{SheetStatusImaging, SheetStatusFailed},

		{SheetStatusFailed, SheetStatusUnprocessed},
		{SheetStatusProcessed, SheetStatusUnprocessed},
	}
	for _, t := range transitions {
		sm.allowedTransitions[t] = true
	}
	return sm
}

func (sm *SheetStateMachine) CanTransition(from, to SheetStatus) bool {
	if from == to {
		return false
	}
	return sm.allowedTransitions[SheetTransition{From: from, To: to}]
}

func (sm *SheetStateMachine) ValidateTransition(from, to SheetStatus) error {
	if !sm.CanTransition(from, to) {
		return &InvalidStateTransitionError{
			From: string(from),
			To:   string(to),
		}
	}
	return nil
}

// Transition validates and logs one transition for a named sheet.
func (sm *SheetStateMachine) Transition(from, to SheetStatus, sheet string) error {
	if err := sm.ValidateTransition(from, to); err != nil {
		klog.V(6).Infof("sheet transition rejected: sheet=%s, %s -> %s, error=%v", sheet, from, to, err)
		return err
	}

	klog.V(6).Infof("sheet transition: sheet=%s, %s -> %s", sheet, from, to)
	return nil
}

type InvalidStateTransitionError struct {
	From string
	To   string
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("invalid sheet state transition: %s -> %s", e.From, e.To)
}

// IsTerminal reports whether a status allows no further work.
func IsTerminal(status SheetStatus) bool {
	return status == SheetStatusProcessed || status == SheetStatusFailed
}

// IsWorking reports whether a sheet run is currently in flight.
func IsWorking(status SheetStatus) bool {
	return status == SheetStatusGenerating || status == SheetStatusAssembling || status == SheetStatusImaging
}
