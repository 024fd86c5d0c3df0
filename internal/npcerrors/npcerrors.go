// Package npcerrors holds the sentinel errors the engine's error
// handling design names: the kinds a caller can distinguish with
// errors.Is without depending on any component's internal types.
package npcerrors

import "errors"

var (
	// ErrInputInvalid means the request was refused at the boundary
	// (missing speaker or empty text) and never reached engine state.
	ErrInputInvalid = errors.New("npcerrors: input invalid")

	// ErrRateLimited means the external rate limiter refused the
	// request before ingest; engine state was never touched.
	ErrRateLimited = errors.New("npcerrors: rate limited")

	// ErrLLMTransport means the provider call failed. The caller has
	// already rolled back the pending user turn and notified the state
	// machine by the time this error surfaces.
	ErrLLMTransport = errors.New("npcerrors: llm transport failure")
)
