// Package msg defines the instruction record exchanged between plans and
// the run engine.
//
// A Msg is one instruction: a command tag, an optional target device, and
// positional/keyword arguments. Msgs are immutable - the constructors are
// the only way to create one, and the With* helpers return modified copies
// rather than mutating in place. This makes it safe for the engine to
// buffer dispatched Msgs for checkpoint replay and for diagnostic hooks to
// retain them without copying first.
//
// Identity is content-addressed: Fingerprint() hashes the canonical JSON
// form of the Msg (see canonical.go), so two Msgs with equal fields always
// produce the same fingerprint regardless of construction order.
package msg
