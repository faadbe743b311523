// Package enhance is the optional language-model capability used by the
// pipeline stages.
//
// Every stage works without it: a Guard in front of the Service turns
// absence, contention, timeouts, rate limiting and unparseable output into
// sentinel errors, and callers fall back to their rule path on any error.
//
// Providers:
//   - anthropic: Messages API (https://api.anthropic.com/v1/messages)
//   - openai: Chat Completions API, or any compatible endpoint via BaseURL
//   - disabled: NoOp, always unavailable
package enhance
