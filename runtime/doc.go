// Package runtime adapts model.Model backends to the core.Runtime contract
// driven by the session manager.
//
// Each runtime session keeps its own conversation and model. Send streams
// one turn as TurnStart, text and reasoning deltas, TurnEnd and Idle.
// Handles unknown to the runtime, for example after a process restart,
// fail with core.ErrTransportFault so the manager resumes them.
package runtime
