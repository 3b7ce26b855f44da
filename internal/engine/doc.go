// Package engine implements the run engine: the interpreter that drives
// a plan's instructions against devices while producing run documents.
//
// ARCHITECTURE:
//
// Single control flow:
// One plan runs at a time, driven by a single logical control flow inside
// Run(). No two instructions from the same plan are ever dispatched
// concurrently, so the engine itself is the mutual-exclusion point for
// the devices it drives. An individual instruction's handler may fan out
// concurrent device work (several motors moving in one wait group) before
// returning its single aggregate result.
//
// Instruction processing flow:
//  1. Run() pulls the next Msg from the plan, pushing back the previous
//     instruction's result or injecting its error.
//  2. The dispatch table maps the command tag to a handler; unknown tags
//     are fatal to the run.
//  3. The handler executes, possibly suspending (device motion, timers).
//  4. Lifecycle and reading instructions are forwarded to the document
//     bundler synchronously in dispatch order; emitted documents fan out
//     to subscribers in subscription order before the next instruction.
//
// Pause, checkpoint, resume:
// Pause requests are cooperative: they are honored at dispatch
// boundaries, never by interrupting an in-flight handler. The plan
// declares safe resume points with checkpoint instructions; the engine
// buffers every instruction dispatched since the last checkpoint and
// re-dispatches that buffer on resume. Instructions before the last
// checkpoint are never re-dispatched.
//
// Abort:
// Abort injects a cooperative cancellation error into the plan so that
// cleanup logic (the Finally combinator) can run hardware-safety
// unwinding. Cleanup is bounded by both a grace period and an
// instruction budget; if the plan does not cooperate the run is forced
// to aborted anyway. Whatever the outcome, an open run always receives
// its run-stop document and the engine returns to idle before Run()
// returns - no run ever leaves the system silently running or paused.
package engine
