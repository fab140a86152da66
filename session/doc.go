// Package session drives the turns of named runtime sessions.
//
// A Manager keeps a registry of sessions and enforces that at most one turn
// is in progress per session. Each turn is stamped with a generation from a
// per-session fence; completions and stream events that carry a superseded
// generation are ignored, and text they produced is kept as stale history.
//
// Turn lifecycle:
//
//	Idle --BeginTurn--> Sending --stream accepted--> Active --idle event--> Idle
//	                       |                            |
//	                       +--send failed---------------+--watchdog/abort--> Idle
//
// A watchdog force-completes turns that stop producing events. Messages that
// arrive while a session is busy are queued and started after the current
// turn settles.
package session
