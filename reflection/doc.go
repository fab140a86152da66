// Package reflection holds the state of an iterative plan, dispatch,
// evaluate and replan loop together with the scoring, stall detection and
// auto-adjustment rules that drive it.
//
// A Cycle is single-use. It ends with exactly one outcome: the goal was
// met, the loop stalled, or it was cancelled (including running out of
// iterations). The driver lives in the dispatch package.
package reflection
