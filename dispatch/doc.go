// Package dispatch routes a prompt sent to a group to its members.
//
// The group's mode decides the route:
//
//	broadcast              every member, concurrently
//	sequential             one member at a time, in membership order
//	orchestrator           plan -> delegate to workers -> synthesize
//	orchestrator_reflect   orchestrator rounds repeated by a reflection
//	                       cycle until the goal is met, stalls or the
//	                       iteration budget runs out
//
// Busy recipients get the prompt queued instead of interrupted. Failures
// of single recipients are isolated into the returned Report.
package dispatch
