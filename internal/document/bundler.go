package document

import (
	"fmt"
	"sort"
	"time"

	"github.com/danielballan/bluesky-talk/internal/msg"
)

// OrderingError reports a violation of the document sequencing rules.
// Ordering errors are fatal to the run: the engine never emits a
// structurally invalid document sequence.
type OrderingError struct {
	Op     string // "open_run", "commit", "close_run"
	Reason string
}

func (e *OrderingError) Error() string {
	return fmt.Sprintf("document ordering: %s: %s", e.Op, e.Reason)
}

// Bundler assembles run documents in emission order.
//
// At most one run is open at a time; opening a second run while one is
// open is an OrderingError. The Bundler is not safe for concurrent use -
// the engine's single control flow is its only caller.
type Bundler struct {
	gen       IDGenerator
	clock     *Clock
	now       func() time.Time
	defaultMD map[string]any

	open *openRun
}

type openRun struct {
	runID       string
	descriptors map[string]*Descriptor // field hash -> descriptor
	eventNums   map[string]int64       // descriptor ID -> events emitted
	numEvents   int64
}

// BundlerOption configures a Bundler.
type BundlerOption func(*Bundler)

// WithIDGenerator overrides the UUIDv7 default (tests use a fixed one).
func WithIDGenerator(gen IDGenerator) BundlerOption {
	return func(b *Bundler) { b.gen = gen }
}

// WithClock shares a logical clock with other stampers.
func WithClock(clock *Clock) BundlerOption {
	return func(b *Bundler) { b.clock = clock }
}

// WithNow overrides the wall-clock source for deterministic timestamps.
func WithNow(now func() time.Time) BundlerOption {
	return func(b *Bundler) { b.now = now }
}

// WithDefaultMetadata sets process-wide metadata merged under every
// run-start's caller-supplied metadata. Per-call keys override defaults;
// defaults are never silently dropped otherwise.
func WithDefaultMetadata(md map[string]any) BundlerOption {
	return func(b *Bundler) {
		b.defaultMD = make(map[string]any, len(md))
		for k, v := range md {
			b.defaultMD[k] = v
		}
	}
}

// NewBundler creates a document assembler.
func NewBundler(opts ...BundlerOption) *Bundler {
	b := &Bundler{
		gen:   UUIDv7Generator{},
		clock: NewClock(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Active returns the open run's ID, if any.
func (b *Bundler) Active() (string, bool) {
	if b.open == nil {
		return "", false
	}
	return b.open.runID, true
}

// Open starts a new run and returns its run-start document.
// metadata is merged over the bundler's default metadata (per-call keys
// win). Fails with OrderingError if a run is already open.
func (b *Bundler) Open(metadata map[string]any) (Document, error) {
	if b.open != nil {
		return Document{}, &OrderingError{
			Op:     "open_run",
			Reason: fmt.Sprintf("run %s is already open", b.open.runID),
		}
	}

	merged := make(map[string]any, len(b.defaultMD)+len(metadata))
	for k, v := range b.defaultMD {
		merged[k] = v
	}
	for k, v := range metadata {
		merged[k] = v
	}

	start := &RunStart{
		ID:       b.gen.Generate(),
		Time:     b.now(),
		Seq:      b.clock.Next(),
		Metadata: merged,
	}
	b.open = &openRun{
		runID:       start.ID,
		descriptors: make(map[string]*Descriptor),
		eventNums:   make(map[string]int64),
	}
	return Document{Type: TypeRunStart, RunStart: start}, nil
}

// Commit turns one group of readings into documents: a descriptor first
// if this field set has not been declared in the open run, then one event
// carrying the readings. Documents are returned in emission order.
//
// An identical field set reuses its descriptor; a changed field set mints
// a new one. Fails with OrderingError when no run is open or the group
// is empty.
func (b *Bundler) Commit(readings map[string]Reading) ([]Document, error) {
	if b.open == nil {
		return nil, &OrderingError{Op: "commit", Reason: "no open run"}
	}
	if len(readings) == 0 {
		return nil, &OrderingError{Op: "commit", Reason: "empty reading group"}
	}

	fields := make([]string, 0, len(readings))
	for f := range readings {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	hash := msg.FieldSetHash(fields)

	var out []Document

	desc, ok := b.open.descriptors[hash]
	if !ok {
		desc = &Descriptor{
			ID:        b.gen.Generate(),
			RunID:     b.open.runID,
			Time:      b.now(),
			Seq:       b.clock.Next(),
			Fields:    fields,
			FieldHash: hash,
		}
		b.open.descriptors[hash] = desc
		out = append(out, Document{Type: TypeDescriptor, Descriptor: desc})
	}

	b.open.eventNums[desc.ID]++
	b.open.numEvents++

	copied := make(map[string]Reading, len(readings))
	for f, r := range readings {
		copied[f] = r
	}
	ev := &Event{
		ID:           b.gen.Generate(),
		DescriptorID: desc.ID,
		RunID:        b.open.runID,
		Time:         b.now(),
		Seq:          b.clock.Next(),
		EventNum:     b.open.eventNums[desc.ID],
		Readings:     copied,
	}
	out = append(out, Document{Type: TypeEvent, Event: ev})

	return out, nil
}

// Close ends the open run, returning its run-stop document and clearing
// the active run context. Fails with OrderingError if no run is open.
func (b *Bundler) Close(status ExitStatus, reason string) (Document, error) {
	if b.open == nil {
		return Document{}, &OrderingError{Op: "close_run", Reason: "no open run"}
	}

	stop := &RunStop{
		ID:         b.gen.Generate(),
		RunID:      b.open.runID,
		Time:       b.now(),
		Seq:        b.clock.Next(),
		ExitStatus: status,
		Reason:     reason,
		NumEvents:  b.open.numEvents,
	}
	b.open = nil
	return Document{Type: TypeRunStop, RunStop: stop}, nil
}
