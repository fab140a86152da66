// Package testutil contains helpers used across tests to reduce boilerplate
// when exercising the session machinery: a scripted in-memory Runtime whose
// streams can run automatically or be driven by hand, and a manual clock.
// They are not intended for production usage.
package testutil
