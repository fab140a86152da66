// Package model defines the provider‑agnostic abstractions for driving
// language models behind agent sessions.
//
// Core goals:
//   - Unify streaming + non‑streaming generation behind a single interface
//   - Keep request/response shapes minimal and transport independent
//   - Facilitate lightweight mocking for tests (MockModel, MockFactory)
//
// Providers (OpenAI, Anthropic) implement Model in sub-packages so the
// runtime adapter stays decoupled from vendor SDKs.
package model
