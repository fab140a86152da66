// Package group maintains the registry of session groups: which sessions
// belong together, the role each plays, the model each should run and how
// prompts sent to the group are dispatched.
package group
