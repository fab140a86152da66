package core

import "errors"

var (
	// ErrAlreadyProcessing is returned when a turn is started on a session
	// that already has one in flight. Callers should queue instead.
	ErrAlreadyProcessing = errors.New("session is already processing a turn")

	// ErrTransportFault marks a runtime send failure that may be recovered
	// by resuming the session and retrying.
	ErrTransportFault = errors.New("transport fault")

	// ErrStuckTurn is recorded when the watchdog force-completes a turn.
	ErrStuckTurn = errors.New("session appears stuck")

	// ErrParseEmpty signals that no delegatable task assignments were found.
	ErrParseEmpty = errors.New("no task assignments found")

	// ErrEvaluatorTimeout is returned when the dedicated evaluator did not answer in time.
	ErrEvaluatorTimeout = errors.New("evaluator timed out")

	// ErrEvaluatorFault is returned when the dedicated evaluator failed.
	ErrEvaluatorFault = errors.New("evaluator failed")

	// ErrConsecutiveFailureLimit terminates a reflection cycle.
	ErrConsecutiveFailureLimit = errors.New("consecutive failure limit reached")

	// ErrCancelled fails the pending result of an aborted turn.
	ErrCancelled = errors.New("turn cancelled")

	// ErrUnknownSession is returned for lookups of sessions that do not exist.
	ErrUnknownSession = errors.New("unknown session")

	// ErrUnknownGroup is returned for lookups of groups that do not exist.
	ErrUnknownGroup = errors.New("unknown group")

	// ErrSessionExists is returned when creating a session whose name is taken.
	ErrSessionExists = errors.New("session already exists")
)
