package types

import "time"

// LineageEventType classifies a record mutation.
type LineageEventType string

const (
	LineageCreated   LineageEventType = "Created"
	LineageUpdated   LineageEventType = "Updated"
	LineageDeleted   LineageEventType = "Deleted"
	LineageUndeleted LineageEventType = "Undeleted"
)

// LineageEvent is one append-only record mutation event. Exactly one is
// written per changed record per ingested row, in source-row order.
type LineageEvent struct {
	RecordID       string            `msgpack:"record_id" json:"record_id"`
	Collection     string            `msgpack:"collection" json:"collection"`
	EventType      LineageEventType  `msgpack:"event_type" json:"event_type"`
	ImportID       string            `msgpack:"import_id" json:"import_id"`
	FileKey        string            `msgpack:"file_key" json:"file_key"`
	ChangeType     string            `msgpack:"change_type" json:"change_type"`
	PreviousValues map[string]string `msgpack:"previous_values,omitempty" json:"previous_values,omitempty"`
	NewValues      map[string]string `msgpack:"new_values,omitempty" json:"new_values,omitempty"`
	EventDate      time.Time         `msgpack:"event_date" json:"event_date"`

	// EventSeq is assigned by the lineage store on append.
	EventSeq string `msgpack:"event_seq,omitempty" json:"event_seq,omitempty"`
}
