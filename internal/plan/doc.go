// Package plan defines the resumable instruction producer driven by the
// run engine.
//
// A Plan is a two-way sequence: each Next() pull yields the next
// instruction or reports exhaustion, and the Input passed into Next()
// carries the outcome of the previously yielded instruction - either its
// result value or an error to be raised at the plan's suspension point.
// The engine owns no plan state beyond the Plan handle itself.
//
// Go has no native resumable generators, so the package offers two
// authoring surfaces over the same interface:
//
//   - FromMsgs: a static, finite list of instructions, treated identically
//     to a computed plan.
//   - Func: a generator backed by a goroutine. Plan code calls
//     Yielder.Emit to suspend, and receives the pushed result when the
//     engine resumes it. Ordinary Go control flow (loops, defer,
//     error returns) provides the plan logic.
//
// Combinators compose plans: Chain flattens a plan-of-plans, and Finally
// guarantees a cleanup plan executes however its body terminates -
// normally, by an injected handler error, or by external abort.
package plan
