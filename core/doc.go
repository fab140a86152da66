// Package core provides the foundational domain types and interfaces shared by
// the agentsquad packages. It defines the core abstractions for:
//
//   - Sessions (named conversational containers with message history)
//   - Runtime events (text deltas, tool calls, reasoning, idle signals)
//   - The Runtime capability that actually executes prompts
//   - Turn state and the generation Fence guarding turn completion
//   - Dispatch phases and sentinel errors
//
// The package intentionally keeps orchestration concerns (turn machinery,
// dispatch policies, reflection) out of scope, exposing small interfaces so
// that runtimes and observers can be swapped freely.
package core
