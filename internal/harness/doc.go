// Package harness provides a conformance testing framework for the run
// engine.
//
// Scenarios are YAML files that declare simulated devices, an inline CUE
// plan, the expected terminal outcome, and assertions over the emitted
// document stream. Each scenario runs against the real engine with a
// fresh device set; nothing is stubbed between the plan and the
// documents it produces.
//
// Determinism comes from three substitutions:
//   - sequential document IDs instead of UUIDv7
//   - a frozen, fixed-step wall clock for document timestamps
//   - a fresh logical clock per engine, so seq always starts at 1
//
// With those in place the full document trace of a scenario is
// byte-stable, and golden files capture it for regression comparison.
package harness
