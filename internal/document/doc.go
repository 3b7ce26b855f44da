// Package document assembles and types the documents that describe one
// data-collection run.
//
// Every run is narrated by a fixed, append-only sequence of documents:
//
//	run-start  -> descriptor -> event* -> run-stop
//
// The Bundler (the document assembler) owns the structural invariants:
// exactly one run open at a time, exactly one run-start and one run-stop
// per run, every descriptor referencing its run-start, every event
// referencing a descriptor whose declared field set matches the event's
// readings. Violations are ordering errors, fatal to the run.
//
// Identity and ordering:
//
// Document IDs are opaque UUIDv7 tokens, assigned at creation and never
// reused. In addition to wall-clock time, every document is stamped with
// a monotonic Seq from a logical clock, so archived traces order
// deterministically without trusting wall clocks.
package document
