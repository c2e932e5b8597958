package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/randalmurphal/eventcore/pkg/eventcore"
)

// Record is one stored event. Immutable once written.
type Record struct {
	EntityID   string                 `json:"entity_id"`
	EntityType string                 `json:"entity_type,omitempty"`
	Class      eventcore.MessageClass `json:"class"`
	Payload    []byte                 `json:"payload"`
	Context    eventcore.Context      `json:"context"`
	Version    int64                  `json:"version"`
}

// Snapshot is a materialized entity state at Version.
type Snapshot struct {
	EntityID  string    `json:"entity_id"`
	State     []byte    `json:"state"`
	Version   int64     `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}

// NewRecord encodes evt's payload with codec.
func NewRecord(codec eventcore.Codec, evt eventcore.Event) (Record, error) {
	payload, err := codec.Encode(evt.Message)
	if err != nil {
		return Record{}, err
	}
	return Record{
		EntityID:   evt.Context.EntityID,
		EntityType: evt.Context.EntityType,
		Class:      evt.Class(),
		Payload:    payload,
		Context:    evt.Context,
		Version:    evt.Context.Version,
	}, nil
}

// Event decodes the record back into an event.
func (r Record) Event(codec eventcore.Codec) (eventcore.Event, error) {
	msg, err := codec.Decode(r.Class, r.Payload)
	if err != nil {
		return eventcore.Event{}, err
	}
	return eventcore.Event{Message: msg, Context: r.Context}, nil
}

func (r Record) clone() Record {
	r.Payload = append([]byte(nil), r.Payload...)
	return r
}

func encodeRecord(r Record) ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return data, nil
}

func decodeRecord(data []byte) (Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return Record{}, fmt.Errorf("%w: decode record: %v", ErrCorruptLog, err)
	}
	return r, nil
}

func encodeSnapshot(s Snapshot) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return data, nil
}

func decodeSnapshot(data []byte) (Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return s, nil
}

// sliceIterator iterates records already in memory.
type sliceIterator struct {
	records []Record
	pos     int
	cur     Record
}

func newSliceIterator(records []Record) *sliceIterator {
	return &sliceIterator{records: records, pos: -1}
}

func (it *sliceIterator) Next() bool {
	if it.pos+1 >= len(it.records) {
		return false
	}
	it.pos++
	it.cur = it.records[it.pos]
	return true
}

func (it *sliceIterator) Record() Record { return it.cur }
func (it *sliceIterator) Err() error     { return nil }
func (it *sliceIterator) Close() error   { return nil }
