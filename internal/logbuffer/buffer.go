/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package logbuffer keeps the most recent log lines in memory so operators
// can read a station's engine decisions without shipping logs anywhere.
package logbuffer

import (
	"encoding/json"
	"strings"
	"sync"
	"time"
)

// DefaultCapacity is the number of entries kept when none is given.
const DefaultCapacity = 5000

// Entry is one parsed zerolog line.
type Entry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Component string         `json:"component,omitempty"`
	StationID string         `json:"station_id,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Buffer is a fixed-size ring of entries, safe for concurrent use.
type Buffer struct {
	mu       sync.RWMutex
	entries  []Entry
	capacity int
	head     int
	count    int
}

// New creates a buffer holding up to capacity entries.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		entries:  make([]Entry, capacity),
		capacity: capacity,
	}
}

// Add appends an entry, overwriting the oldest when full.
func (b *Buffer) Add(entry Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries[b.head] = entry
	b.head = (b.head + 1) % b.capacity
	if b.count < b.capacity {
		b.count++
	}
}

// all returns entries oldest first.
func (b *Buffer) all() []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Entry, b.count)
	start := 0
	if b.count == b.capacity {
		start = b.head
	}
	for i := 0; i < b.count; i++ {
		out[i] = b.entries[(start+i)%b.capacity]
	}
	return out
}

// Query filters entries. Zero fields match everything.
type Query struct {
	StationID string
	Component string
	Level     string
	Search    string
	Since     time.Time
	Limit     int
}

// Find returns matching entries, newest first.
func (b *Buffer) Find(q Query) []Entry {
	all := b.all()
	search := strings.ToLower(q.Search)

	var out []Entry
	for i := len(all) - 1; i >= 0; i-- {
		e := all[i]
		if q.StationID != "" && e.StationID != q.StationID {
			continue
		}
		if q.Component != "" && e.Component != q.Component {
			continue
		}
		if q.Level != "" && e.Level != q.Level {
			continue
		}
		if !q.Since.IsZero() && e.Timestamp.Before(q.Since) {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(e.Message), search) {
			continue
		}
		out = append(out, e)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out
}

// Write parses one zerolog JSON line into the buffer. Lines that are not
// JSON objects are dropped. It never fails so it can sit in a multi-writer.
func (b *Buffer) Write(p []byte) (int, error) {
	var raw map[string]any
	if err := json.Unmarshal(p, &raw); err != nil {
		return len(p), nil
	}

	entry := Entry{Timestamp: time.Now().UTC()}
	entry.Level, _ = raw["level"].(string)
	entry.Message, _ = raw["message"].(string)
	entry.Component, _ = raw["component"].(string)
	switch ts := raw["time"].(type) {
	case float64:
		entry.Timestamp = time.Unix(int64(ts), 0).UTC()
	case string:
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			entry.Timestamp = t.UTC()
		}
	}
	// Components disagree on the key; accept both.
	if id, ok := raw["station_id"].(string); ok {
		entry.StationID = id
	} else if id, ok := raw["station"].(string); ok {
		entry.StationID = id
	}

	for _, k := range []string{"level", "message", "component", "time", "station_id", "station"} {
		delete(raw, k)
	}
	if len(raw) > 0 {
		entry.Fields = raw
	}

	b.Add(entry)
	return len(p), nil
}
