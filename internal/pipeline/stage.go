package pipeline

import (
	"fmt"

	"k8s.io/klog/v2"
)

// Stage identifies one step of the generation pipeline.
type Stage string

const (
	StageDesign Stage = "design"
	StageDraft  Stage = "draft"
	StageAudit  Stage = "audit"
	StageRefine Stage = "refine"
	StageAppend Stage = "append"
	StageFinal  Stage = "final"
)

type stageTransition struct {
	From Stage
	To   Stage
}

// StageMachine enforces the forward-only stage order. Degraded runs skip
// stages but never move backward.
type StageMachine struct {
	allowedTransitions map[stageTransition]bool
	current            Stage
}

func NewStageMachine() *StageMachine {
	sm := &StageMachine{
		allowedTransitions: make(map[stageTransition]bool),
		current:            StageDesign,
	}

	// design -> draft -> audit -> refine -> append -> final
	// audit failure skips refine; short output may loop within append;
	// overlength never re-enters append
	transitions := []stageTransition{
		{StageDesign, StageDraft},
		{StageDraft, StageAudit},
		{StageAudit, StageRefine},
		{StageAudit, StageAppend},
		{StageAudit, StageFinal},
		{StageRefine, StageAppend},
		{StageRefine, StageFinal},
		{StageAppend, StageAppend},
		{StageAppend, StageFinal},
	}
	for _, t := range transitions {
		sm.allowedTransitions[t] = true
	}
	return sm
}

// Current returns the stage the machine sits in.
func (sm *StageMachine) Current() Stage {
	return sm.current
}

// Advance moves to the target stage, rejecting anything outside the forward
// transition table.
func (sm *StageMachine) Advance(to Stage) error {
	t := stageTransition{From: sm.current, To: to}
	if !sm.allowedTransitions[t] {
		return &InvalidStageTransitionError{From: string(sm.current), To: string(to)}
	}
	klog.V(6).Infof("[StageMachine.Advance] %s -> %s", sm.current, to)
	sm.current = to
	return nil
}

type InvalidStageTransitionError struct {
	From string
	To   string
}

func (e *InvalidStageTransitionError) Error() string {
	return fmt.Sprintf("invalid pipeline stage transition: %s -> %s", e.From, e.To)
}
