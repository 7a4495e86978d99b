package statemachine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSheetLifecycle(t *testing.T) {
	sm := NewSheetStateMachine()

	path := []SheetStatus{
		SheetStatusUnprocessed,
		SheetStatusGenerating,
		SheetStatusAssembling,
		SheetStatusImaging,
		SheetStatusProcessed,
	}
	for i := 0; i < len(path)-1; i++ {
		assert.NoError(t, sm.Transition(path[i], path[i+1], "Sheet1"))
	}
}

func TestSheetTransitionRejected(t *testing.T) {
	sm := NewSheetStateMachine()

	// no backward moves, no self moves, no skipping into processed
	assert.Error(t, sm.ValidateTransition(SheetStatusAssembling, SheetStatusGenerating))
	assert.Error(t, sm.ValidateTransition(SheetStatusGenerating, SheetStatusGenerating))
	assert.Error(t, sm.ValidateTransition(SheetStatusUnprocessed, SheetStatusProcessed))

	err := sm.ValidateTransition(SheetStatusUnprocessed, SheetStatusProcessed)
	var tErr *InvalidStateTransitionError
	assert.ErrorAs(t, err, &tErr)
}

func TestSheetFailureAndForceRerun(t *testing.T) {
	sm := NewSheetStateMachine()

	assert.NoError(t, sm.ValidateTransition(SheetStatusImaging, SheetStatusFailed))
	assert.NoError(t, sm.ValidateTransition(SheetStatusFailed, SheetStatusUnprocessed))
	assert.NoError(t, sm.ValidateTransition(SheetStatusProcessed, SheetStatusUnprocessed))
}

func TestSheetStatusPredicates(t *testing.T) {
	assert.True(t, IsTerminal(SheetStatusProcessed))
	assert.True(t, IsTerminal(SheetStatusFailed))
	assert.False(t, IsTerminal(SheetStatusImaging))

	assert.True(t, IsWorking(SheetStatusGenerating))
	assert.False(t, IsWorking(SheetStatusUnprocessed))
}
