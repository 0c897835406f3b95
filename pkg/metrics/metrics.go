// Package metrics provides instrumentation hooks for middleware chain execution.
package metrics

import (
	"time"
)

// HaltReason describes why a chain stopped before reaching the final handler.
type HaltReason string

const (
	// HaltShortCircuit means a middleware wrote a response and did not call next.
	HaltShortCircuit HaltReason = "short_circuit"
	// HaltError means a middleware returned an error or panicked.
	HaltError HaltReason = "error"
	// HaltStall means a middleware neither advanced nor responded, or exceeded the stall timeout.
	HaltStall HaltReason = "stall"
	// HaltAbandoned means the request context ended before the chain finished.
	HaltAbandoned HaltReason = "abandoned"
)

// Recorder receives chain execution events. Implementations must be safe for concurrent use.
type Recorder interface {
	// ChainStarted is called once per request with the number of resolved middleware.
	ChainStarted(stages int)
	// StageCompleted is called when a middleware's Use returns, with its total time
	// including everything it waited on downstream.
	StageCompleted(middleware string, duration time.Duration)
	// ChainHalted is called when the chain stops early. middleware is the stage that halted it,
	// empty when the final handler failed.
	ChainHalted(reason HaltReason, middleware string)
	// ChainCompleted is called once per request after the chain finished or halted.
	ChainCompleted(duration time.Duration)
}

// NopRecorder discards all events.
type NopRecorder struct{}

// ChainStarted implements Recorder.
func (NopRecorder) ChainStarted(int) {}

// StageCompleted implements Recorder.
func (NopRecorder) StageCompleted(string, time.Duration) {}

// ChainHalted implements Recorder.
func (NopRecorder) ChainHalted(HaltReason, string) {}

// ChainCompleted implements Recorder.
func (NopRecorder) ChainCompleted(time.Duration) {}
