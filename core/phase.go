package core

// Phase identifies the observable stage of an orchestrated dispatch round.
type Phase string

const (
	PhasePlanning          Phase = "planning"
	PhaseDispatching       Phase = "dispatching"
	PhaseWaitingForWorkers Phase = "waiting_for_workers"
	PhaseSynthesizing      Phase = "synthesizing"
	PhaseEvaluating        Phase = "evaluating"
	PhaseComplete          Phase = "complete"
)
