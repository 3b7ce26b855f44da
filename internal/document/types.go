package document

import "time"

// Type distinguishes document kinds.
type Type string

const (
	TypeRunStart   Type = "run_start"
	TypeDescriptor Type = "descriptor"
	TypeEvent      Type = "event"
	TypeRunStop    Type = "run_stop"
)

// ExitStatus records how a run ended.
type ExitStatus string

const (
	ExitSuccess ExitStatus = "success"
	ExitAbort   ExitStatus = "abort"
	ExitFail    ExitStatus = "fail"
)

// Reading is one measured value with its acquisition timestamp.
type Reading struct {
	Value     any       `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// RunStart opens a run. Metadata is the caller-supplied mapping merged
// over the engine's default metadata.
type RunStart struct {
	ID       string         `json:"id"`
	Time     time.Time      `json:"time"`
	Seq      int64          `json:"seq"`
	Metadata map[string]any `json:"metadata"`
}

// Descriptor declares the field set shared by a group of events.
// FieldHash is the content hash of Fields; events reuse a descriptor only
// while their field set hashes identically.
type Descriptor struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id"`
	Time      time.Time `json:"time"`
	Seq       int64     `json:"seq"`
	Fields    []string  `json:"fields"`
	FieldHash string    `json:"field_hash"`
}

// Event carries one group of readings, one per declared field.
// EventNum counts events per descriptor, starting at 1.
type Event struct {
	ID           string             `json:"id"`
	DescriptorID string             `json:"descriptor_id"`
	RunID        string             `json:"run_id"`
	Time         time.Time          `json:"time"`
	Seq          int64              `json:"seq"`
	EventNum     int64              `json:"event_num"`
	Readings     map[string]Reading `json:"readings"`
}

// RunStop closes a run with an outcome. Reason is empty on success.
type RunStop struct {
	ID         string     `json:"id"`
	RunID      string     `json:"run_id"`
	Time       time.Time  `json:"time"`
	Seq        int64      `json:"seq"`
	ExitStatus ExitStatus `json:"exit_status"`
	Reason     string     `json:"reason,omitempty"`
	NumEvents  int64      `json:"num_events"`
}

// Document wraps the four document kinds for uniform delivery to
// subscribers. Exactly one of the pointers is non-nil, matching Type.
type Document struct {
	Type       Type        `json:"type"`
	RunStart   *RunStart   `json:"run_start,omitempty"`
	Descriptor *Descriptor `json:"descriptor,omitempty"`
	Event      *Event      `json:"event,omitempty"`
	RunStop    *RunStop    `json:"run_stop,omitempty"`
}

// ID returns the wrapped document's identifier.
func (d Document) ID() string {
	switch d.Type {
	case TypeRunStart:
		return d.RunStart.ID
	case TypeDescriptor:
		return d.Descriptor.ID
	case TypeEvent:
		return d.Event.ID
	case TypeRunStop:
		return d.RunStop.ID
	}
	return ""
}

// RunID returns the run the wrapped document belongs to.
func (d Document) RunID() string {
	switch d.Type {
	case TypeRunStart:
		return d.RunStart.ID
	case TypeDescriptor:
		return d.Descriptor.RunID
	case TypeEvent:
		return d.Event.RunID
	case TypeRunStop:
		return d.RunStop.RunID
	}
	return ""
}

// Seq returns the wrapped document's logical sequence number.
func (d Document) Seq() int64 {
	switch d.Type {
	case TypeRunStart:
		return d.RunStart.Seq
	case TypeDescriptor:
		return d.Descriptor.Seq
	case TypeEvent:
		return d.Event.Seq
	case TypeRunStop:
		return d.RunStop.Seq
	}
	return 0
}
