package crdt

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Region names of the replicated studio document.
const (
	RegionTracks = "tracks"
	RegionMixer  = "mixer"
	RegionMaster = "master"
)

// MasterKey is the single key used inside the master region.
const MasterKey = "master"

// Entry is one last-writer-wins register: a single field of a single record
// in one region, tagged with the Lamport clock and actor that wrote it.
type Entry struct {
	Region string          `json:"region"`
	Key    string          `json:"key"`
	Field  string          `json:"field"`
	Value  json.RawMessage `json:"value"`
	Clock  uint64          `json:"clock"`
	Actor  string          `json:"actor"`
}

// Delta is the wire encoding of one or more register writes. A snapshot is a
// delta that happens to carry every register, so a new joiner bootstraps by
// merging the snapshot like any other delta.
type Delta struct {
	Entries []Entry `json:"entries"`
}

type registerKey struct {
	region, key, field string
}

type register struct {
	value json.RawMessage
	clock uint64
	actor string
}

// Document is a conflict-free replicated studio document. Each field is an
// LWW register ordered by (clock, actor), which makes the merge commutative,
// associative, and idempotent: replicas converge no matter how deltas are
// reordered or duplicated in flight.
type Document struct {
	mu    sync.RWMutex
	actor string
	clock uint64
	regs  map[registerKey]register
}

// New creates an empty document owned by the given actor id. The actor id
// breaks ties between writes that carry the same clock, so it must be unique
// per replica.
func New(actor string) *Document {
	return &Document{
		actor: actor,
		regs:  make(map[registerKey]register),
	}
}

// Set records a local write and returns the encoded delta to broadcast.
func (d *Document) Set(region, key, field string, value interface{}) ([]byte, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.clock++
	entry := Entry{
		Region: region,
		Key:    key,
		Field:  field,
		Value:  raw,
		Clock:  d.clock,
		Actor:  d.actor,
	}
	d.merge(entry)

	return json.Marshal(Delta{Entries: []Entry{entry}})
}

// SetFields records several field writes on one record as a single delta.
func (d *Document) SetFields(region, key string, fields map[string]interface{}) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delta := Delta{Entries: make([]Entry, 0, len(fields))}
	for field, value := range fields {
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("encode field %s: %w", field, err)
		}
		d.clock++
		entry := Entry{
			Region: region,
			Key:    key,
			Field:  field,
			Value:  raw,
			Clock:  d.clock,
			Actor:  d.actor,
		}
		d.merge(entry)
		delta.Entries = append(delta.Entries, entry)
	}
	return json.Marshal(delta)
}

// ApplyDelta merges a remote delta (or snapshot) into the document.
func (d *Document) ApplyDelta(data []byte) error {
	var delta Delta
	if err := json.Unmarshal(data, &delta); err != nil {
		return fmt.Errorf("decode delta: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, entry := range delta.Entries {
		if entry.Region == "" || entry.Key == "" || entry.Field == "" {
			return fmt.Errorf("delta entry missing region, key, or field")
		}
		d.merge(entry)
		if entry.Clock > d.clock {
			d.clock = entry.Clock
		}
	}
	return nil
}

// merge applies one register write. The caller holds d.mu.
func (d *Document) merge(entry Entry) {
	k := registerKey{entry.Region, entry.Key, entry.Field}
	cur, ok := d.regs[k]
	if ok && !wins(entry.Clock, entry.Actor, cur.clock, cur.actor) {
		return
	}
	d.regs[k] = register{value: entry.Value, clock: entry.Clock, actor: entry.Actor}
}

// wins reports whether write (clock, actor) supersedes (curClock, curActor).
func wins(clock uint64, actor string, curClock uint64, curActor string) bool {
	if clock != curClock {
		return clock > curClock
	}
	return actor > curActor
}

// Snapshot encodes the full current state in delta form, suitable for
// bootstrapping a brand-new joiner.
func (d *Document) Snapshot() ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	delta := Delta{Entries: make([]Entry, 0, len(d.regs))}
	for k, reg := range d.regs {
		delta.Entries = append(delta.Entries, Entry{
			Region: k.region,
			Key:    k.key,
			Field:  k.field,
			Value:  reg.value,
			Clock:  reg.clock,
			Actor:  reg.actor,
		})
	}
	return json.Marshal(delta)
}

// Region materializes one region as key -> field -> decoded value.
func (d *Document) Region(region string) map[string]map[string]interface{} {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make(map[string]map[string]interface{})
	for k, reg := range d.regs {
		if k.region != region {
			continue
		}
		record, ok := out[k.key]
		if !ok {
			record = make(map[string]interface{})
			out[k.key] = record
		}
		var value interface{}
		if err := json.Unmarshal(reg.value, &value); err != nil {
			continue
		}
		record[k.field] = value
	}
	return out
}

// State materializes all three regions.
func (d *Document) State() map[string]map[string]map[string]interface{} {
	return map[string]map[string]map[string]interface{}{
		RegionTracks: d.Region(RegionTracks),
		RegionMixer:  d.Region(RegionMixer),
		RegionMaster: d.Region(RegionMaster),
	}
}

// Len returns the number of registers held, used by stats reporting.
func (d *Document) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.regs)
}
